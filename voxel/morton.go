package voxel

func mortonSplit(x uint32) uint64 {
	v := uint64(x) & 0x1f_ffff
	v = (v | v<<32) & 0x001f_0000_0000_ffff
	v = (v | v<<16) & 0x001f_0000_ff00_00ff
	v = (v | v<<8) & 0x100f_00f0_0f00_f00f
	v = (v | v<<4) & 0x10c3_0c30_c30c_30c3
	v = (v | v<<2) & 0x1249_2492_4924_9249
	return v
}

func mortonCompact(v uint64) uint32 {
	v &= 0x1249_2492_4924_9249
	v = (v | v>>2) & 0x10c3_0c30_c30c_30c3
	v = (v | v>>4) & 0x100f_00f0_0f00_f00f
	v = (v | v>>8) & 0x001f_0000_ff00_00ff
	v = (v | v>>16) & 0x001f_0000_0000_ffff
	v = (v | v>>32) & 0x1f_ffff
	return uint32(v)
}

// MortonEncode interleaves three 21-bit coordinates, x in the lowest bit.
func MortonEncode(x, y, z uint32) uint64 {
	return mortonSplit(x) | mortonSplit(y)<<1 | mortonSplit(z)<<2
}

func MortonDecode(m uint64) (x, y, z uint32) {
	return mortonCompact(m), mortonCompact(m >> 1), mortonCompact(m >> 2)
}

// MortonTraversal reverses the low `height` octal digits of a Morton
// code so the root-level digit comes first during tree descent.
func MortonTraversal(morton uint64, height int) uint64 {
	var reverse uint64
	for i := 0; i < height; i++ {
		reverse = reverse<<3 | morton&7
		morton >>= 3
	}
	return reverse
}

// MortonTraversalTHC is the 64-ary variant: one 6-bit digit per 4x4x4
// tree level, root digit first.
func MortonTraversalTHC(morton uint64, height int) uint64 {
	var reverse uint64
	for i := 0; i < height; i++ {
		reverse = reverse<<6 | morton&63
		morton >>= 6
	}
	return reverse
}
