package voxel

import (
	"fmt"
	"math/bits"
	"sort"
)

// TreeNodeLeafFlag marks a packed node as a preleaf in its ChildPtr.
const TreeNodeLeafFlag uint32 = 0x8000_0000

// TreeNode is the packed node shared by THCCompressed and
// SFTCompressed, five dwords on the wire.
type TreeNode struct {
	// Index of the first child in the node array, or TreeNodeLeafFlag
	// for a preleaf. Children are contiguous; the child for cell i sits
	// at ChildPtr + popcount(ChildMask & ((1<<i)-1)).
	ChildPtr  uint32
	ChildMask uint64
	LeafMask  uint64
}

func (n TreeNode) IsPreleaf() bool { return n.ChildPtr&TreeNodeLeafFlag != 0 }

func (n TreeNode) HasChild(cell uint) bool { return n.ChildMask&(1<<cell) != 0 }

func (n TreeNode) HasLeaf(cell uint) bool { return n.LeafMask&(1<<cell) != 0 }

// AttachmentLookupNode pairs a node with the attachment payloads of its
// leaf cells, three dwords on the wire.
type AttachmentLookupNode struct {
	// Dword offset into the attachment's raw array.
	DataPtr uint32
	Mask    uint64
}

// compressedTree is the packed array form shared by both compressed
// schemas. Node 0 is the root.
type compressedTree struct {
	treeSide    int
	attachments *AttachmentMap

	nodes  []TreeNode
	lookup map[uint8][]AttachmentLookupNode
	raw    map[uint8][]uint32
}

func newCompressedTree(sideLength int, attachments *AttachmentMap) compressedTree {
	side := int(NextPowerOf4(uint32(maxInt(sideLength, 4))))
	return compressedTree{
		treeSide:    side,
		attachments: attachments,
		nodes:       []TreeNode{{}},
		lookup:      map[uint8][]AttachmentLookupNode{},
		raw:         map[uint8][]uint32{},
	}
}

func (c *compressedTree) height() int {
	return bits.TrailingZeros32(uint32(c.treeSide)) / 2
}

func (c *compressedTree) Nodes() []TreeNode { return c.nodes }

func (c *compressedTree) LookupNodes(id uint8) []AttachmentLookupNode { return c.lookup[id] }

func (c *compressedTree) RawData(id uint8) []uint32 { return c.raw[id] }

func (c *compressedTree) Attachments() *AttachmentMap { return c.attachments }

func (c *compressedTree) attachmentAt(nodeIdx int, cell uint, id uint8) ([]uint32, bool) {
	nodes := c.lookup[id]
	if nodeIdx >= len(nodes) {
		return nil, false
	}
	ln := nodes[nodeIdx]
	bit := uint64(1) << cell
	if ln.Mask&bit == 0 {
		return nil, false
	}
	info, _ := c.attachments.Get(id)
	d := int(info.DwordsPerVoxel)
	offset := int(ln.DataPtr) + bits.OnesCount64(ln.Mask&(bit-1))*d
	return c.raw[id][offset : offset+d], true
}

func (c *compressedTree) viewAt(nodeIdx int, cell uint) VoxelView {
	v := VoxelView{Present: c.nodes[nodeIdx].HasLeaf(cell)}
	if !v.Present {
		return v
	}
	for _, id := range c.attachments.Ids() {
		if data, ok := c.attachmentAt(nodeIdx, cell, id); ok {
			v.Attachments = append(v.Attachments, AttachmentSample{Id: id, Data: data})
		}
	}
	return v
}

func (c *compressedTree) voxelAt(p [3]int) VoxelView {
	height := c.height()
	trav := MortonTraversalTHC(MortonEncode(uint32(p[0]), uint32(p[1]), uint32(p[2])), height)
	nodeIdx := 0
	for {
		node := c.nodes[nodeIdx]
		cell := uint(trav & 63)
		trav >>= 6
		if node.IsPreleaf() {
			return c.viewAt(nodeIdx, cell)
		}
		if !node.HasChild(cell) {
			return VoxelView{Present: false}
		}
		nodeIdx = int(node.ChildPtr) + bits.OnesCount64(node.ChildMask&(1<<cell-1))
	}
}

func (c *compressedTree) iterVoxels(clip [3]int, fn func(p [3]int, v VoxelView) bool) {
	type frame struct {
		nodeIdx int
		morton  uint64
	}
	stack := []frame{{0, 0}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := c.nodes[fr.nodeIdx]
		if node.IsPreleaf() {
			for cell := uint(0); cell < 64; cell++ {
				if !node.HasLeaf(cell) {
					continue
				}
				x, y, z := MortonDecode(fr.morton<<6 | uint64(cell))
				p := [3]int{int(x), int(y), int(z)}
				if !inBounds(p, clip) {
					continue
				}
				if !fn(p, c.viewAt(fr.nodeIdx, cell)) {
					return
				}
			}
			continue
		}
		// Push in reverse so lower cells pop first.
		for cell := 63; cell >= 0; cell-- {
			if !node.HasChild(uint(cell)) {
				continue
			}
			child := int(node.ChildPtr) + bits.OnesCount64(node.ChildMask&(1<<uint(cell)-1))
			stack = append(stack, frame{child, fr.morton<<6 | uint64(cell)})
		}
	}
}

func (c *compressedTree) computeAABB(clip [3]int) AABBi {
	aabb := AABBi{
		Min: clip,
		Max: [3]int{0, 0, 0},
	}
	any := false
	c.iterVoxels(clip, func(p [3]int, v VoxelView) bool {
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
		return AABBi{}
	}
	return aabb
}

func (c *compressedTree) regionAt(p [3]int) (AABBi, bool) {
	height := c.height()
	trav := MortonTraversalTHC(MortonEncode(uint32(p[0]), uint32(p[1]), uint32(p[2])), height)
	nodeIdx := 0
	anchor := [3]int{}
	for level := 0; ; level++ {
		node := c.nodes[nodeIdx]
		cellSide := c.treeSide >> uint(2*(level+1))
		cell := uint(trav & 63)
		trav >>= 6
		cx, cy, cz := MortonDecode(uint64(cell))
		cellAnchor := [3]int{
			anchor[0] + int(cx)*cellSide,
			anchor[1] + int(cy)*cellSide,
			anchor[2] + int(cz)*cellSide,
		}
		if node.IsPreleaf() {
			return AABBi{
				Min: cellAnchor,
				Max: [3]int{cellAnchor[0] + 1, cellAnchor[1] + 1, cellAnchor[2] + 1},
			}, node.HasLeaf(cell)
		}
		if !node.HasChild(cell) {
			return AABBi{
				Min: cellAnchor,
				Max: [3]int{cellAnchor[0] + cellSide, cellAnchor[1] + cellSide, cellAnchor[2] + cellSide},
			}, false
		}
		nodeIdx = int(node.ChildPtr) + bits.OnesCount64(node.ChildMask&(1<<cell-1))
		anchor = cellAnchor
	}
}

// compressTHC packs a pointer tree into contiguous arrays. Children of
// a node are emitted as one block so popcount addressing works.
func compressTHC(t *THC) compressedTree {
	c := newCompressedTree(t.SideLength(), t.Attachments().Clone())
	if t.root == nil {
		c.nodes[0] = TreeNode{ChildPtr: TreeNodeLeafFlag}
		return c
	}
	c.emitNode(t, t.root, 0)
	return c
}

func (c *compressedTree) emitNode(t *THC, n *thcNode, idx int) {
	if n.isPreleaf() {
		c.nodes[idx] = TreeNode{
			ChildPtr:  TreeNodeLeafFlag,
			ChildMask: n.leafMask,
			LeafMask:  n.leafMask,
		}
		ids := make([]uint8, 0, len(n.attachmentMask))
		for id := range n.attachmentMask {
			if n.attachmentMask[id] != 0 {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			c.ensureLookup(id)
			c.lookup[id][idx] = AttachmentLookupNode{
				DataPtr: uint32(len(c.raw[id])),
				Mask:    n.attachmentMask[id],
			}
			c.raw[id] = append(c.raw[id], n.attachmentData[id]...)
		}
		return
	}

	var childMask uint64
	count := 0
	for cell := uint(0); cell < 64; cell++ {
		if n.children[cell] != nil {
			childMask |= 1 << cell
			count++
		}
	}
	base := len(c.nodes)
	c.nodes[idx] = TreeNode{ChildPtr: uint32(base), ChildMask: childMask}
	c.nodes = append(c.nodes, make([]TreeNode, count)...)
	for id := range c.lookup {
		c.lookup[id] = append(c.lookup[id], make([]AttachmentLookupNode, count)...)
	}
	ci := 0
	for cell := uint(0); cell < 64; cell++ {
		if n.children[cell] == nil {
			continue
		}
		c.emitNode(t, n.children[cell], base+ci)
		ci++
	}
}

func (c *compressedTree) ensureLookup(id uint8) {
	if _, ok := c.lookup[id]; !ok {
		c.lookup[id] = make([]AttachmentLookupNode, len(c.nodes))
	}
}

// THCCompressed is the packed, read-only form of THC. Mutation goes
// through decompression to THC or Flat.
type THCCompressed struct {
	compressedTree
	updateTracker
}

func NewTHCCompressed(t *THC) *THCCompressed {
	return &THCCompressed{compressedTree: compressTHC(t)}
}

// NewTHCCompressedFromParts assembles a model from deserialized arrays.
func NewTHCCompressedFromParts(sideLength int, attachments *AttachmentMap, nodes []TreeNode, lookup map[uint8][]AttachmentLookupNode, raw map[uint8][]uint32) *THCCompressed {
	c := newCompressedTree(sideLength, attachments)
	if len(nodes) > 0 {
		c.nodes = nodes
	}
	c.lookup = lookup
	c.raw = raw
	return &THCCompressed{compressedTree: c}
}

func (t *THCCompressed) Dimensions() [3]int {
	return [3]int{t.treeSide, t.treeSide, t.treeSide}
}

func (t *THCCompressed) SideLength() int { return t.treeSide }

func (t *THCCompressed) Schema() Schema { return SchemaTHCCompressed }

func (t *THCCompressed) VoxelAt(p [3]int) (VoxelView, bool) {
	if !inBounds(p, t.Dimensions()) {
		return VoxelView{}, false
	}
	return t.voxelAt(p), true
}

func (t *THCCompressed) IterVoxels(fn func(p [3]int, v VoxelView) bool) {
	t.iterVoxels(t.Dimensions(), fn)
}

func (t *THCCompressed) AABBVoxel() AABBi {
	return t.computeAABB(t.Dimensions())
}

func (t *THCCompressed) Raycast(ray Ray, maxDistance float32) (Hit, bool) {
	return treeRaycast(ray, maxDistance, t.treeSide, t.regionAt)
}

// Decompress rebuilds the mutable pointer tree.
func (t *THCCompressed) Decompress() (*THC, error) {
	out := NewTHC(t.treeSide, t.attachments.Clone())
	var err error
	t.IterVoxels(func(p [3]int, v VoxelView) bool {
		if err = out.SetPresence(p, true); err != nil {
			return false
		}
		for _, a := range v.Attachments {
			if err = out.SetAttachment(p, a.Id, a.Data); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SFTCompressed shares the packed layout with THCCompressed but keeps
// an explicit side length, which need not be a power of four; the tree
// covers the next power of four and bounds are clipped to SideLength.
type SFTCompressed struct {
	compressedTree
	sideLength int
	updateTracker
}

func NewSFTCompressed(sideLength int, attachments *AttachmentMap) (*SFTCompressed, error) {
	if sideLength < 1 {
		return nil, fmt.Errorf("sft side length %d: %w", sideLength, ErrOutOfBounds)
	}
	return &SFTCompressed{
		compressedTree: newCompressedTree(sideLength, attachments),
		sideLength:     sideLength,
	}, nil
}

// NewSFTCompressedFromFlat packs a flat model, keeping the flat's
// longest dimension as the stated side length.
func NewSFTCompressedFromFlat(f *Flat) (*SFTCompressed, error) {
	t, err := NewTHCFromFlat(f)
	if err != nil {
		return nil, err
	}
	dims := f.Dimensions()
	side := maxInt(dims[0], maxInt(dims[1], dims[2]))
	return &SFTCompressed{
		compressedTree: compressTHC(t),
		sideLength:     side,
	}, nil
}

// NewSFTCompressedFromParts assembles a model from deserialized arrays.
func NewSFTCompressedFromParts(sideLength int, attachments *AttachmentMap, nodes []TreeNode, lookup map[uint8][]AttachmentLookupNode, raw map[uint8][]uint32) *SFTCompressed {
	c := newCompressedTree(sideLength, attachments)
	if len(nodes) > 0 {
		c.nodes = nodes
	}
	c.lookup = lookup
	c.raw = raw
	return &SFTCompressed{compressedTree: c, sideLength: sideLength}
}

func (s *SFTCompressed) Dimensions() [3]int {
	return [3]int{s.sideLength, s.sideLength, s.sideLength}
}

func (s *SFTCompressed) SideLength() int { return s.sideLength }

func (s *SFTCompressed) Schema() Schema { return SchemaSFTCompressed }

func (s *SFTCompressed) VoxelAt(p [3]int) (VoxelView, bool) {
	if !inBounds(p, s.Dimensions()) {
		return VoxelView{}, false
	}
	return s.voxelAt(p), true
}

func (s *SFTCompressed) IterVoxels(fn func(p [3]int, v VoxelView) bool) {
	s.iterVoxels(s.Dimensions(), fn)
}

func (s *SFTCompressed) AABBVoxel() AABBi {
	return s.computeAABB(s.Dimensions())
}

func (s *SFTCompressed) Raycast(ray Ray, maxDistance float32) (Hit, bool) {
	hit, ok := treeRaycast(ray, maxDistance, s.treeSide, s.regionAt)
	if !ok || !inBounds(hit.Voxel, s.Dimensions()) {
		return Hit{}, false
	}
	return hit, true
}

// Decompress expands into a flat model of the stated dimensions.
func (s *SFTCompressed) Decompress() (*Flat, error) {
	out, err := NewFlat(s.Dimensions(), s.attachments.Clone())
	if err != nil {
		return nil, err
	}
	s.IterVoxels(func(p [3]int, v VoxelView) bool {
		if err = out.SetPresence(p, true); err != nil {
			return false
		}
		for _, a := range v.Attachments {
			if err = out.SetAttachment(p, a.Id, a.Data); err != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
