package voxel

import "math/bits"

// Bitset is a fixed-length bit array packed into 32-bit words, the word
// size shared with the GPU-side presence buffers.
type Bitset struct {
	words []uint32
	bits  int
}

func NewBitset(bits int) *Bitset {
	return &Bitset{
		words: make([]uint32, (bits+31)/32),
		bits:  bits,
	}
}

func (b *Bitset) Bits() int { return b.bits }

func (b *Bitset) Set(bit int, value bool) {
	mask := uint32(1) << (bit % 32)
	if value {
		b.words[bit/32] |= mask
	} else {
		b.words[bit/32] &^= mask
	}
}

func (b *Bitset) Get(bit int) bool {
	return b.words[bit/32]&(1<<(bit%32)) != 0
}

func (b *Bitset) Ones() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// Words exposes the backing storage for upload and serialization.
func (b *Bitset) Words() []uint32 { return b.words }

func (b *Bitset) Clone() *Bitset {
	c := &Bitset{words: make([]uint32, len(b.words)), bits: b.bits}
	copy(c.words, b.words)
	return c
}

func (b *Bitset) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}
