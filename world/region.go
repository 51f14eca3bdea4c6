package world

import (
	"github.com/google/uuid"

	"github.com/gekko3d/voxelcore"
	"github.com/gekko3d/voxelcore/voxel"
)

const (
	// RegionChunkLength is the side of a region in chunks.
	RegionChunkLength = 16
	// RegionTreeHeight is the octree depth covering RegionChunkLength^3
	// chunk leaves.
	RegionTreeHeight = 4
)

type ChunkLeafKind uint8

const (
	// ChunkLeafEmpty marks a chunk known to contain no voxels.
	ChunkLeafEmpty ChunkLeafKind = iota
	// ChunkLeafExisting marks a chunk with model data, addressed on
	// disk by its UUID.
	ChunkLeafExisting
)

// ChunkLeaf is the per-chunk record inside a region tree. Model is the
// runtime registry handle and is never persisted.
type ChunkLeaf struct {
	Kind  ChunkLeafKind
	UUID  uuid.UUID
	Model VoxelModelId
}

// regionNode is either an internal node (children populated) or, at
// the last level, a preleaf holding up to 8 chunk leaves.
type regionNode struct {
	children [8]*regionNode
	leaves   [8]*ChunkLeaf
}

// ChunkRegion is a sparse octree of RegionChunkLength^3 chunk slots.
// Nodes exist only along paths to created leaves.
type ChunkRegion struct {
	Pos   [3]int
	root  *regionNode
	dirty bool
}

func NewChunkRegion(pos [3]int) *ChunkRegion {
	return &ChunkRegion{Pos: pos, root: &regionNode{}}
}

func (r *ChunkRegion) Dirty() bool { return r.dirty }
func (r *ChunkRegion) MarkDirty()  { r.dirty = true }
func (r *ChunkRegion) ClearDirty() { r.dirty = false }

func regionLocalInBounds(local [3]int) bool {
	for a := 0; a < 3; a++ {
		if local[a] < 0 || local[a] >= RegionChunkLength {
			return false
		}
	}
	return true
}

// regionTraversal reverses the morton digits so the root digit comes
// out of the low bits first.
func regionTraversal(local [3]int) uint64 {
	m := voxel.MortonEncode(uint32(local[0]), uint32(local[1]), uint32(local[2]))
	return voxel.MortonTraversal(m, RegionTreeHeight)
}

// Leaf looks up the chunk leaf at a region-local position.
func (r *ChunkRegion) Leaf(local [3]int) (*ChunkLeaf, bool) {
	if !regionLocalInBounds(local) {
		return nil, false
	}
	trav := regionTraversal(local)
	node := r.root
	for depth := 0; depth < RegionTreeHeight-1; depth++ {
		node = node.children[trav&7]
		if node == nil {
			return nil, false
		}
		trav >>= 3
	}
	leaf := node.leaves[trav&7]
	if leaf == nil {
		return nil, false
	}
	return leaf, true
}

// GetOrCreateLeaf returns the leaf at a region-local position,
// creating an Existing leaf with a fresh UUID when absent.
func (r *ChunkRegion) GetOrCreateLeaf(local [3]int) *ChunkLeaf {
	if !regionLocalInBounds(local) {
		return nil
	}
	trav := regionTraversal(local)
	node := r.root
	for depth := 0; depth < RegionTreeHeight-1; depth++ {
		idx := trav & 7
		if node.children[idx] == nil {
			node.children[idx] = &regionNode{}
		}
		node = node.children[idx]
		trav >>= 3
	}
	idx := trav & 7
	if node.leaves[idx] == nil {
		node.leaves[idx] = &ChunkLeaf{
			Kind:  ChunkLeafExisting,
			UUID:  uuid.New(),
			Model: NullModelId,
		}
		r.dirty = true
	}
	return node.leaves[idx]
}

// SetLeaf installs a leaf at a region-local position, used when
// rebuilding a region from disk.
func (r *ChunkRegion) SetLeaf(local [3]int, leaf *ChunkLeaf) {
	if !regionLocalInBounds(local) || leaf == nil {
		return
	}
	trav := regionTraversal(local)
	node := r.root
	for depth := 0; depth < RegionTreeHeight-1; depth++ {
		idx := trav & 7
		if node.children[idx] == nil {
			node.children[idx] = &regionNode{}
		}
		node = node.children[idx]
		trav >>= 3
	}
	node.leaves[trav&7] = leaf
}

// ForEachLeaf visits every created leaf with its region-local
// position. Returning false stops the walk.
func (r *ChunkRegion) ForEachLeaf(fn func(local [3]int, leaf *ChunkLeaf) bool) {
	r.walkLeaves(r.root, 0, 0, fn)
}

func (r *ChunkRegion) walkLeaves(node *regionNode, depth int, prefix uint64, fn func(local [3]int, leaf *ChunkLeaf) bool) bool {
	if depth == RegionTreeHeight-1 {
		for i := uint64(0); i < 8; i++ {
			leaf := node.leaves[i]
			if leaf == nil {
				continue
			}
			x, y, z := voxel.MortonDecode(prefix<<3 | i)
			if !fn([3]int{int(x), int(y), int(z)}, leaf) {
				return false
			}
		}
		return true
	}
	for i := uint64(0); i < 8; i++ {
		child := node.children[i]
		if child == nil {
			continue
		}
		if !r.walkLeaves(child, depth+1, prefix<<3|i, fn) {
			return false
		}
	}
	return true
}

// RegionStore maps region positions to their chunk trees and resolves
// world chunk coordinates into them.
type RegionStore struct {
	log     voxelcore.Logger
	regions map[[3]int]*ChunkRegion
}

func NewRegionStore(log voxelcore.Logger) *RegionStore {
	if log == nil {
		log = voxelcore.NewNopLogger()
	}
	return &RegionStore{
		log:     log,
		regions: map[[3]int]*ChunkRegion{},
	}
}

// ChunkToRegionPos splits a world chunk position into the owning
// region position and the chunk's region-local position.
func ChunkToRegionPos(worldChunkPos [3]int) (regionPos, local [3]int) {
	for a := 0; a < 3; a++ {
		regionPos[a] = divEuclid(worldChunkPos[a], RegionChunkLength)
		local[a] = remEuclid(worldChunkPos[a], RegionChunkLength)
	}
	return regionPos, local
}

func (s *RegionStore) Region(pos [3]int) (*ChunkRegion, bool) {
	r, ok := s.regions[pos]
	return r, ok
}

func (s *RegionStore) GetOrCreateRegion(pos [3]int) *ChunkRegion {
	r, ok := s.regions[pos]
	if !ok {
		r = NewChunkRegion(pos)
		s.regions[pos] = r
		s.log.Debugf("created region %v", pos)
	}
	return r
}

// InsertRegion installs a region loaded from disk, replacing any
// in-memory one at the same position.
func (s *RegionStore) InsertRegion(r *ChunkRegion) {
	s.regions[r.Pos] = r
}

// GetChunkNode looks up the leaf for a world chunk position.
func (s *RegionStore) GetChunkNode(worldChunkPos [3]int) (*ChunkLeaf, bool) {
	regionPos, local := ChunkToRegionPos(worldChunkPos)
	r, ok := s.regions[regionPos]
	if !ok {
		return nil, false
	}
	return r.Leaf(local)
}

// GetOrCreateChunk returns the leaf for a world chunk position,
// creating the region and leaf as needed.
func (s *RegionStore) GetOrCreateChunk(worldChunkPos [3]int) *ChunkLeaf {
	regionPos, local := ChunkToRegionPos(worldChunkPos)
	return s.GetOrCreateRegion(regionPos).GetOrCreateLeaf(local)
}

// IterExisting visits every Existing leaf with its world chunk
// position.
func (s *RegionStore) IterExisting(fn func(worldChunkPos [3]int, leaf *ChunkLeaf) bool) {
	for pos, region := range s.regions {
		stop := false
		region.ForEachLeaf(func(local [3]int, leaf *ChunkLeaf) bool {
			if leaf.Kind != ChunkLeafExisting {
				return true
			}
			world := [3]int{
				pos[0]*RegionChunkLength + local[0],
				pos[1]*RegionChunkLength + local[1],
				pos[2]*RegionChunkLength + local[2],
			}
			if !fn(world, leaf) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// ForEachRegion visits every region.
func (s *RegionStore) ForEachRegion(fn func(r *ChunkRegion) bool) {
	for _, r := range s.regions {
		if !fn(r) {
			return
		}
	}
}
