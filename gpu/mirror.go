package gpu

import (
	"fmt"

	"github.com/gekko3d/voxelcore/voxel"
)

// Mirror owns a model's allocations in the voxel heap and keeps their
// contents in sync with the CPU-side model.
//
// UpdateGPUObjects reshapes allocations when the model changed and
// reports whether any allocation moved, which obsoletes the model's
// info directory. WriteGPUUpdates uploads the bytes afterwards; the
// split keeps all allocation churn ahead of all writes within a frame.
type Mirror interface {
	UpdateGPUObjects(heap *HeapAllocator, m voxel.Model) (bool, error)
	WriteGPUUpdates(heap *HeapAllocator, m voxel.Model) error
	// ModelInfo returns the directory dwords, nil until allocations
	// exist. Layout: schema, dims xyz, primary and secondary data
	// offsets, attachment count, then (id, lookup, raw) per attachment.
	ModelInfo(m voxel.Model) []uint32
	Dealloc(heap *HeapAllocator)
}

// NewMirror picks the mirror matching the model's schema.
func NewMirror(m voxel.Model) (Mirror, error) {
	switch m.Schema() {
	case voxel.SchemaFlat:
		return &FlatMirror{}, nil
	case voxel.SchemaTHC, voxel.SchemaTHCCompressed, voxel.SchemaSFTCompressed:
		return &TreeMirror{}, nil
	}
	return nil, fmt.Errorf("no gpu mirror for schema %v: %w", m.Schema(), voxel.ErrSchemaMismatch)
}

func modelInfoHeader(m voxel.Model, primary, secondary uint32) []uint32 {
	dims := m.Dimensions()
	return []uint32{
		uint32(m.Schema()),
		uint32(dims[0]), uint32(dims[1]), uint32(dims[2]),
		primary,
		secondary,
	}
}

// FlatMirror uploads the dense form: the presence bitset, then one
// presence bitset and one raw array per attachment in use.
type FlatMirror struct {
	presenceAlloc Allocation
	attachments   map[uint8]flatAttachmentAllocs

	initialized  bool
	pendingWrite bool
	lastTracker  uint64
}

type flatAttachmentAllocs struct {
	presence Allocation
	data     Allocation
}

func (fm *FlatMirror) UpdateGPUObjects(heap *HeapAllocator, m voxel.Model) (bool, error) {
	f, ok := m.(*voxel.Flat)
	if !ok {
		return false, fmt.Errorf("flat mirror fed %v: %w", m.Schema(), voxel.ErrSchemaMismatch)
	}
	if fm.initialized && fm.lastTracker == f.UpdateTracker() {
		return false, nil
	}
	fm.pendingWrite = true
	if fm.initialized && !fm.shapeChanged(f) {
		return false, nil
	}

	presenceBytes := uint64(len(f.Presence().Words()) * 4)
	newPresence, err := heap.Allocate(presenceBytes)
	if err != nil {
		return false, err
	}
	newAtt := map[uint8]flatAttachmentAllocs{}
	freeNew := func() {
		heap.Free(newPresence)
		for _, a := range newAtt {
			heap.Free(a.presence)
			heap.Free(a.data)
		}
	}
	for _, id := range f.Attachments().Ids() {
		ap := f.AttachmentPresence(id)
		if ap == nil {
			continue
		}
		pa, err := heap.Allocate(uint64(len(ap.Words()) * 4))
		if err != nil {
			freeNew()
			return false, err
		}
		da, err := heap.Allocate(uint64(len(f.AttachmentData(id)) * 4))
		if err != nil {
			heap.Free(pa)
			freeNew()
			return false, err
		}
		newAtt[id] = flatAttachmentAllocs{presence: pa, data: da}
	}

	fm.Dealloc(heap)
	fm.presenceAlloc = newPresence
	fm.attachments = newAtt
	fm.initialized = true
	fm.pendingWrite = true
	return true, nil
}

func (fm *FlatMirror) shapeChanged(f *voxel.Flat) bool {
	count := 0
	for _, id := range f.Attachments().Ids() {
		if f.AttachmentPresence(id) == nil {
			continue
		}
		count++
		if _, ok := fm.attachments[id]; !ok {
			return true
		}
	}
	return count != len(fm.attachments)
}

func (fm *FlatMirror) WriteGPUUpdates(heap *HeapAllocator, m voxel.Model) error {
	f, ok := m.(*voxel.Flat)
	if !ok {
		return fmt.Errorf("flat mirror fed %v: %w", m.Schema(), voxel.ErrSchemaMismatch)
	}
	if !fm.initialized || !fm.pendingWrite {
		return nil
	}
	heap.WriteDwords(fm.presenceAlloc, f.Presence().Words())
	for id, allocs := range fm.attachments {
		heap.WriteDwords(allocs.presence, f.AttachmentPresence(id).Words())
		heap.WriteDwords(allocs.data, f.AttachmentData(id))
	}
	fm.pendingWrite = false
	fm.lastTracker = f.UpdateTracker()
	return nil
}

func (fm *FlatMirror) ModelInfo(m voxel.Model) []uint32 {
	if !fm.initialized {
		return nil
	}
	info := modelInfoHeader(m, fm.presenceAlloc.OffsetDwords(), 0)
	ids := make([]uint8, 0, len(fm.attachments))
	for _, id := range m.Attachments().Ids() {
		if _, ok := fm.attachments[id]; ok {
			ids = append(ids, id)
		}
	}
	info = append(info, uint32(len(ids)))
	for _, id := range ids {
		allocs := fm.attachments[id]
		info = append(info, uint32(id), allocs.presence.OffsetDwords(), allocs.data.OffsetDwords())
	}
	return info
}

func (fm *FlatMirror) Dealloc(heap *HeapAllocator) {
	if !fm.initialized {
		return
	}
	heap.Free(fm.presenceAlloc)
	for _, a := range fm.attachments {
		heap.Free(a.presence)
		heap.Free(a.data)
	}
	fm.presenceAlloc = Allocation{}
	fm.attachments = nil
	fm.initialized = false
	fm.pendingWrite = false
}

// packedTreeModel is satisfied by the compressed tree schemas.
type packedTreeModel interface {
	voxel.Model
	Nodes() []voxel.TreeNode
	LookupNodes(id uint8) []voxel.AttachmentLookupNode
	RawData(id uint8) []uint32
}

const (
	treeNodeDwords   = 5
	lookupNodeDwords = 3
)

// TreeMirror uploads the packed node array plus per-attachment lookup
// and raw arrays. A mutable THC is packed on demand when its tracker
// moves.
type TreeMirror struct {
	nodesAlloc  Allocation
	attachments map[uint8]treeAttachmentAllocs

	packed       *voxel.THCCompressed
	packedFor    uint64
	initialized  bool
	pendingWrite bool
	lastTracker  uint64
}

type treeAttachmentAllocs struct {
	lookup Allocation
	raw    Allocation
}

func (tm *TreeMirror) resolve(m voxel.Model) (packedTreeModel, error) {
	if pm, ok := m.(packedTreeModel); ok {
		return pm, nil
	}
	thc, ok := m.(*voxel.THC)
	if !ok {
		return nil, fmt.Errorf("tree mirror fed %v: %w", m.Schema(), voxel.ErrSchemaMismatch)
	}
	if tm.packed == nil || tm.packedFor != thc.UpdateTracker() {
		tm.packed = voxel.NewTHCCompressed(thc)
		tm.packedFor = thc.UpdateTracker()
	}
	return tm.packed, nil
}

func (tm *TreeMirror) UpdateGPUObjects(heap *HeapAllocator, m voxel.Model) (bool, error) {
	if tm.initialized && tm.lastTracker == m.UpdateTracker() {
		return false, nil
	}
	pm, err := tm.resolve(m)
	if err != nil {
		return false, err
	}

	nodesBytes := uint64(len(pm.Nodes()) * treeNodeDwords * 4)
	newNodes, err := heap.Allocate(nodesBytes)
	if err != nil {
		return false, err
	}
	newAtt := map[uint8]treeAttachmentAllocs{}
	freeNew := func() {
		heap.Free(newNodes)
		for _, a := range newAtt {
			heap.Free(a.lookup)
			heap.Free(a.raw)
		}
	}
	for _, id := range pm.Attachments().Ids() {
		lookup := pm.LookupNodes(id)
		raw := pm.RawData(id)
		if len(lookup) == 0 || len(raw) == 0 {
			continue
		}
		la, err := heap.Allocate(uint64(len(lookup) * lookupNodeDwords * 4))
		if err != nil {
			freeNew()
			return false, err
		}
		ra, err := heap.Allocate(uint64(len(raw) * 4))
		if err != nil {
			heap.Free(la)
			freeNew()
			return false, err
		}
		newAtt[id] = treeAttachmentAllocs{lookup: la, raw: ra}
	}

	tm.Dealloc(heap)
	tm.nodesAlloc = newNodes
	tm.attachments = newAtt
	tm.initialized = true
	tm.pendingWrite = true
	return true, nil
}

func encodeTreeNodes(nodes []voxel.TreeNode) []uint32 {
	out := make([]uint32, 0, len(nodes)*treeNodeDwords)
	for _, n := range nodes {
		out = append(out,
			n.ChildPtr,
			uint32(n.ChildMask), uint32(n.ChildMask>>32),
			uint32(n.LeafMask), uint32(n.LeafMask>>32),
		)
	}
	return out
}

func encodeLookupNodes(nodes []voxel.AttachmentLookupNode) []uint32 {
	out := make([]uint32, 0, len(nodes)*lookupNodeDwords)
	for _, n := range nodes {
		out = append(out, n.DataPtr, uint32(n.Mask), uint32(n.Mask>>32))
	}
	return out
}

func (tm *TreeMirror) WriteGPUUpdates(heap *HeapAllocator, m voxel.Model) error {
	if !tm.initialized || !tm.pendingWrite {
		return nil
	}
	pm, err := tm.resolve(m)
	if err != nil {
		return err
	}
	heap.WriteDwords(tm.nodesAlloc, encodeTreeNodes(pm.Nodes()))
	for id, allocs := range tm.attachments {
		heap.WriteDwords(allocs.lookup, encodeLookupNodes(pm.LookupNodes(id)))
		heap.WriteDwords(allocs.raw, pm.RawData(id))
	}
	tm.pendingWrite = false
	tm.lastTracker = m.UpdateTracker()
	return nil
}

func (tm *TreeMirror) ModelInfo(m voxel.Model) []uint32 {
	if !tm.initialized {
		return nil
	}
	info := modelInfoHeader(m, tm.nodesAlloc.OffsetDwords(), 0)
	ids := make([]uint8, 0, len(tm.attachments))
	for _, id := range m.Attachments().Ids() {
		if _, ok := tm.attachments[id]; ok {
			ids = append(ids, id)
		}
	}
	info = append(info, uint32(len(ids)))
	for _, id := range ids {
		allocs := tm.attachments[id]
		info = append(info, uint32(id), allocs.lookup.OffsetDwords(), allocs.raw.OffsetDwords())
	}
	return info
}

func (tm *TreeMirror) Dealloc(heap *HeapAllocator) {
	if !tm.initialized {
		return
	}
	heap.Free(tm.nodesAlloc)
	for _, a := range tm.attachments {
		heap.Free(a.lookup)
		heap.Free(a.raw)
	}
	tm.nodesAlloc = Allocation{}
	tm.attachments = nil
	tm.initialized = false
	tm.pendingWrite = false
}
