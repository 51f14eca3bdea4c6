package voxel

import (
	"fmt"
	"math/bits"
)

// THC is the mutable 4x4x4-branching tree. Internal nodes hold up to 64
// child subtrees; preleaf nodes hold up to 64 leaf voxels with packed
// attachment payloads. All leaves sit at the same depth.
type THC struct {
	sideLength  int
	attachments *AttachmentMap
	root        *thcNode

	updateTracker
	aabbCache   AABBi
	aabbTracker uint64
	aabbValid   bool
}

type thcNode struct {
	// Internal node state; nil for preleafs.
	children *[64]*thcNode

	// Preleaf state.
	leafMask       uint64
	attachmentMask map[uint8]uint64
	attachmentData map[uint8][]uint32
}

func newInternalNode() *thcNode {
	return &thcNode{children: new([64]*thcNode)}
}

func newPreleafNode() *thcNode {
	return &thcNode{
		attachmentMask: map[uint8]uint64{},
		attachmentData: map[uint8][]uint32{},
	}
}

func (n *thcNode) isPreleaf() bool { return n.children == nil }

// setAttachment writes a leaf payload, keeping the packed array in cell
// order.
func (n *thcNode) setAttachment(cell uint, id uint8, dwords int, data []uint32) {
	mask := n.attachmentMask[id]
	bit := uint64(1) << cell
	offset := bits.OnesCount64(mask&(bit-1)) * dwords
	arr := n.attachmentData[id]
	if mask&bit != 0 {
		copy(arr[offset:], data)
		return
	}
	arr = append(arr, make([]uint32, dwords)...)
	copy(arr[offset+dwords:], arr[offset:])
	copy(arr[offset:], data)
	n.attachmentData[id] = arr
	n.attachmentMask[id] = mask | bit
}

func (n *thcNode) clearAttachment(cell uint, id uint8, dwords int) {
	mask := n.attachmentMask[id]
	bit := uint64(1) << cell
	if mask&bit == 0 {
		return
	}
	offset := bits.OnesCount64(mask&(bit-1)) * dwords
	arr := n.attachmentData[id]
	arr = append(arr[:offset], arr[offset+dwords:]...)
	n.attachmentData[id] = arr
	n.attachmentMask[id] = mask &^ bit
}

func (n *thcNode) attachmentAt(cell uint, id uint8, dwords int) ([]uint32, bool) {
	mask := n.attachmentMask[id]
	bit := uint64(1) << cell
	if mask&bit == 0 {
		return nil, false
	}
	offset := bits.OnesCount64(mask&(bit-1)) * dwords
	return n.attachmentData[id][offset : offset+dwords], true
}

// NewTHC creates an empty tree covering sideLength, rounded up to the
// next power of four (minimum 4).
func NewTHC(sideLength int, attachments *AttachmentMap) *THC {
	side := int(NextPowerOf4(uint32(maxInt(sideLength, 4))))
	return &THC{
		sideLength:  side,
		attachments: attachments,
	}
}

// NewTHCFromFlat builds a tree over the smallest 4^k cube containing
// the flat model's dimensions.
func NewTHCFromFlat(f *Flat) (*THC, error) {
	dims := f.Dimensions()
	t := NewTHC(maxInt(dims[0], maxInt(dims[1], dims[2])), f.Attachments().Clone())
	var err error
	f.IterVoxels(func(p [3]int, v VoxelView) bool {
		if !v.Present {
			return true
		}
		if err = t.SetPresence(p, true); err != nil {
			return false
		}
		for _, a := range v.Attachments {
			if err = t.SetAttachment(p, a.Id, a.Data); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *THC) Dimensions() [3]int {
	return [3]int{t.sideLength, t.sideLength, t.sideLength}
}

func (t *THC) SideLength() int { return t.sideLength }
func (t *THC) Attachments() *AttachmentMap { return t.attachments }
func (t *THC) Schema() Schema { return SchemaTHC }

// height is the number of 4x4x4 levels.
func (t *THC) height() int {
	return bits.TrailingZeros32(uint32(t.sideLength)) / 2
}

// descend walks to the preleaf holding p, creating the path when create
// is set. Returns the preleaf and the leaf cell index.
func (t *THC) descend(p [3]int, create bool) (*thcNode, uint) {
	height := t.height()
	trav := MortonTraversalTHC(MortonEncode(uint32(p[0]), uint32(p[1]), uint32(p[2])), height)
	if t.root == nil {
		if !create {
			return nil, 0
		}
		if height == 1 {
			t.root = newPreleafNode()
		} else {
			t.root = newInternalNode()
		}
	}
	node := t.root
	for level := 0; level < height-1; level++ {
		idx := uint(trav & 63)
		trav >>= 6
		child := node.children[idx]
		if child == nil {
			if !create {
				return nil, 0
			}
			if level == height-2 {
				child = newPreleafNode()
			} else {
				child = newInternalNode()
			}
			node.children[idx] = child
		}
		node = child
	}
	return node, uint(trav & 63)
}

func (t *THC) SetPresence(p [3]int, present bool) error {
	if !inBounds(p, t.Dimensions()) {
		return fmt.Errorf("position %v in %v: %w", p, t.Dimensions(), ErrOutOfBounds)
	}
	node, cell := t.descend(p, present)
	if node == nil {
		// Clearing an already absent voxel.
		return nil
	}
	bit := uint64(1) << cell
	if present {
		node.leafMask |= bit
	} else {
		node.leafMask &^= bit
		for id := range node.attachmentMask {
			info, _ := t.attachments.Get(id)
			node.clearAttachment(cell, id, int(info.DwordsPerVoxel))
		}
	}
	t.bump()
	return nil
}

func (t *THC) SetAttachment(p [3]int, id uint8, data []uint32) error {
	if !inBounds(p, t.Dimensions()) {
		return fmt.Errorf("position %v in %v: %w", p, t.Dimensions(), ErrOutOfBounds)
	}
	info, ok := t.attachments.Get(id)
	if !ok {
		return fmt.Errorf("attachment %d: %w", id, ErrAttachmentUnregistered)
	}
	if data == nil {
		node, cell := t.descend(p, false)
		if node != nil {
			node.clearAttachment(cell, id, int(info.DwordsPerVoxel))
			t.bump()
		}
		return nil
	}
	if len(data) != int(info.DwordsPerVoxel) {
		return fmt.Errorf("attachment %d payload is %d dwords, want %d", id, len(data), info.DwordsPerVoxel)
	}
	node, cell := t.descend(p, true)
	node.leafMask |= 1 << cell
	node.setAttachment(cell, id, int(info.DwordsPerVoxel), data)
	t.bump()
	return nil
}

func (t *THC) viewAt(node *thcNode, cell uint) VoxelView {
	v := VoxelView{Present: node.leafMask&(1<<cell) != 0}
	if !v.Present {
		return v
	}
	for _, id := range t.attachments.Ids() {
		info, _ := t.attachments.Get(id)
		if data, ok := node.attachmentAt(cell, id, int(info.DwordsPerVoxel)); ok {
			v.Attachments = append(v.Attachments, AttachmentSample{Id: id, Data: data})
		}
	}
	return v
}

func (t *THC) VoxelAt(p [3]int) (VoxelView, bool) {
	if !inBounds(p, t.Dimensions()) {
		return VoxelView{}, false
	}
	node, cell := t.descend(p, false)
	if node == nil {
		return VoxelView{Present: false}, true
	}
	return t.viewAt(node, cell), true
}

func (t *THC) IterVoxels(fn func(p [3]int, v VoxelView) bool) {
	if t.root == nil {
		return
	}
	t.iterNode(t.root, 0, fn)
}

func (t *THC) iterNode(node *thcNode, mortonPrefix uint64, fn func(p [3]int, v VoxelView) bool) bool {
	if node.isPreleaf() {
		for cell := uint(0); cell < 64; cell++ {
			if node.leafMask&(1<<cell) == 0 {
				continue
			}
			x, y, z := MortonDecode(mortonPrefix<<6 | uint64(cell))
			if !fn([3]int{int(x), int(y), int(z)}, t.viewAt(node, cell)) {
				return false
			}
		}
		return true
	}
	for cell := uint(0); cell < 64; cell++ {
		child := node.children[cell]
		if child == nil {
			continue
		}
		if !t.iterNode(child, mortonPrefix<<6|uint64(cell), fn) {
			return false
		}
	}
	return true
}

func (t *THC) AABBVoxel() AABBi {
	if t.aabbValid && t.aabbTracker == t.tracker {
		return t.aabbCache
	}
	aabb := AABBi{
		Min: [3]int{t.sideLength, t.sideLength, t.sideLength},
		Max: [3]int{0, 0, 0},
	}
	any := false
	t.IterVoxels(func(p [3]int, v VoxelView) bool {
		any = true
		for a := 0; a < 3; a++ {
			if p[a] < aabb.Min[a] {
				aabb.Min[a] = p[a]
			}
			if p[a]+1 > aabb.Max[a] {
				aabb.Max[a] = p[a] + 1
			}
		}
		return true
	})
	if !any {
		aabb = AABBi{}
	}
	t.aabbCache = aabb
	t.aabbTracker = t.tracker
	t.aabbValid = true
	return aabb
}

// regionAt resolves p to a present leaf or the largest empty cell
// containing it.
func (t *THC) regionAt(p [3]int) (AABBi, bool) {
	side := t.sideLength
	if t.root == nil {
		return AABBi{Max: [3]int{side, side, side}}, false
	}
	height := t.height()
	trav := MortonTraversalTHC(MortonEncode(uint32(p[0]), uint32(p[1]), uint32(p[2])), height)
	node := t.root
	anchor := [3]int{}
	for level := 0; ; level++ {
		cellSide := side >> uint(2*(level+1))
		idx := uint(trav & 63)
		trav >>= 6
		cx, cy, cz := MortonDecode(uint64(idx))
		cellAnchor := [3]int{
			anchor[0] + int(cx)*cellSide,
			anchor[1] + int(cy)*cellSide,
			anchor[2] + int(cz)*cellSide,
		}
		if node.isPreleaf() {
			present := node.leafMask&(1<<idx) != 0
			return AABBi{
				Min: cellAnchor,
				Max: [3]int{cellAnchor[0] + 1, cellAnchor[1] + 1, cellAnchor[2] + 1},
			}, present
		}
		child := node.children[idx]
		if child == nil {
			return AABBi{
				Min: cellAnchor,
				Max: [3]int{cellAnchor[0] + cellSide, cellAnchor[1] + cellSide, cellAnchor[2] + cellSide},
			}, false
		}
		node = child
		anchor = cellAnchor
	}
}

func (t *THC) Raycast(ray Ray, maxDistance float32) (Hit, bool) {
	return treeRaycast(ray, maxDistance, t.sideLength, t.regionAt)
}

// Compact prunes empty subtrees and preleafs left behind by clears.
func (t *THC) Compact() {
	if t.root == nil {
		return
	}
	if compactNode(t.root) {
		t.root = nil
	}
}

func compactNode(n *thcNode) (empty bool) {
	if n.isPreleaf() {
		return n.leafMask == 0
	}
	empty = true
	for i, child := range n.children {
		if child == nil {
			continue
		}
		if compactNode(child) {
			n.children[i] = nil
		} else {
			empty = false
		}
	}
	return empty
}
