package asset

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/gekko3d/voxelcore/world"
)

const (
	// TagRegion heads a chunk-region file.
	TagRegion = "vcr "

	regionFileVersion = 1

	regionInternalDwords = 8
	regionPreleafDwords  = 8 * 4
)

// EncodeRegion serializes a region as a depth-first packed octree.
// Internal nodes are 8 child dword offsets (0 = absent); preleaves are
// 8 UUIDs of 16 bytes each (all zero = absent). Only Existing leaves
// persist.
func EncodeRegion(r *world.ChunkRegion) []byte {
	leaves := map[uint64]uuid.UUID{}
	r.ForEachLeaf(func(local [3]int, leaf *world.ChunkLeaf) bool {
		if leaf.Kind != world.ChunkLeafExisting {
			return true
		}
		m := mortonOfLocal(local)
		leaves[m] = leaf.UUID
		return true
	})

	var nodes []uint32
	var emit func(depth int, prefix uint64) uint32
	emit = func(depth int, prefix uint64) uint32 {
		self := uint32(len(nodes))
		if depth == world.RegionTreeHeight-1 {
			nodes = append(nodes, make([]uint32, regionPreleafDwords)...)
			for i := uint64(0); i < 8; i++ {
				id, ok := leaves[prefix<<3|i]
				if !ok {
					continue
				}
				for w := 0; w < 4; w++ {
					nodes[int(self)+int(i)*4+w] = binary.LittleEndian.Uint32(id[w*4 : w*4+4])
				}
			}
			return self
		}
		nodes = append(nodes, make([]uint32, regionInternalDwords)...)
		for i := uint64(0); i < 8; i++ {
			if !subtreeOccupied(leaves, prefix<<3|i, depth+1) {
				continue
			}
			nodes[int(self)+int(i)] = emit(depth+1, prefix<<3|i)
		}
		return self
	}
	emit(0, 0)

	w := &byteBuf{}
	w.tag(TagRegion)
	w.u32(regionFileVersion)
	w.i32(int32(r.Pos[0]))
	w.i32(int32(r.Pos[1]))
	w.i32(int32(r.Pos[2]))
	w.u32(uint32(len(nodes)))
	for _, v := range nodes {
		w.u32(v)
	}
	return w.b
}

// subtreeOccupied reports whether any persisted leaf sits under the
// morton prefix of the given depth.
func subtreeOccupied(leaves map[uint64]uuid.UUID, prefix uint64, depth int) bool {
	shift := uint(3 * (world.RegionTreeHeight - depth))
	for m := range leaves {
		if m>>shift == prefix {
			return true
		}
	}
	return false
}

func mortonOfLocal(local [3]int) uint64 {
	m := uint64(0)
	// Interleave manually so the package does not reach into the tree
	// internals: digit d of the morton code selects the child at depth
	// d from the root.
	for level := world.RegionTreeHeight - 1; level >= 0; level-- {
		digit := uint64(0)
		digit |= uint64(local[0]>>uint(level)) & 1
		digit |= (uint64(local[1]>>uint(level)) & 1) << 1
		digit |= (uint64(local[2]>>uint(level)) & 1) << 2
		m = m<<3 | digit
	}
	return m
}

func localOfMorton(m uint64) [3]int {
	var local [3]int
	for level := 0; level < world.RegionTreeHeight; level++ {
		digit := (m >> uint(3*level)) & 7
		local[0] |= int(digit&1) << uint(level)
		local[1] |= int((digit>>1)&1) << uint(level)
		local[2] |= int((digit>>2)&1) << uint(level)
	}
	return local
}

func SaveRegion(path string, r *world.ChunkRegion) error {
	return os.WriteFile(path, EncodeRegion(r), 0o644)
}

// DecodeRegion rebuilds a region from its packed tree.
func DecodeRegion(data []byte) (*world.ChunkRegion, error) {
	c := &cursor{data: data}
	tag, err := c.tag()
	if err != nil {
		return nil, err
	}
	if tag != TagRegion {
		return nil, fmt.Errorf("unknown region tag %q: %w", tag, ErrMalformedAsset)
	}
	version, err := c.u32()
	if err != nil {
		return nil, err
	}
	if version != regionFileVersion {
		return nil, fmt.Errorf("region file version %d: %w", version, ErrMalformedAsset)
	}
	var pos [3]int
	for a := 0; a < 3; a++ {
		v, err := c.i32()
		if err != nil {
			return nil, err
		}
		pos[a] = int(v)
	}
	nodeDwords, err := c.u32()
	if err != nil {
		return nil, err
	}
	nodes := make([]uint32, nodeDwords)
	for i := range nodes {
		if nodes[i], err = c.u32(); err != nil {
			return nil, err
		}
	}

	r := world.NewChunkRegion(pos)
	if len(nodes) == 0 {
		return r, nil
	}
	if err := decodeRegionNode(r, nodes, 0, 0, 0); err != nil {
		return nil, err
	}
	r.ClearDirty()
	return r, nil
}

func decodeRegionNode(r *world.ChunkRegion, nodes []uint32, off uint32, depth int, prefix uint64) error {
	if depth == world.RegionTreeHeight-1 {
		if int(off)+regionPreleafDwords > len(nodes) {
			return fmt.Errorf("preleaf at %d overruns the tree: %w", off, ErrMalformedAsset)
		}
		for i := uint64(0); i < 8; i++ {
			var id uuid.UUID
			zero := true
			for w := 0; w < 4; w++ {
				v := nodes[int(off)+int(i)*4+w]
				if v != 0 {
					zero = false
				}
				binary.LittleEndian.PutUint32(id[w*4:w*4+4], v)
			}
			if zero {
				continue
			}
			r.SetLeaf(localOfMorton(prefix<<3|i), &world.ChunkLeaf{
				Kind:  world.ChunkLeafExisting,
				UUID:  id,
				Model: world.NullModelId,
			})
		}
		return nil
	}
	if int(off)+regionInternalDwords > len(nodes) {
		return fmt.Errorf("internal node at %d overruns the tree: %w", off, ErrMalformedAsset)
	}
	for i := uint64(0); i < 8; i++ {
		child := nodes[int(off)+int(i)]
		if child == 0 {
			continue
		}
		if err := decodeRegionNode(r, nodes, child, depth+1, prefix<<3|i); err != nil {
			return err
		}
	}
	return nil
}

func LoadRegion(path string) (*world.ChunkRegion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRegion(data)
}
