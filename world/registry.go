package world

import (
	"fmt"
	"math"
	"sort"

	"github.com/gekko3d/voxelcore"
	"github.com/gekko3d/voxelcore/gpu"
	"github.com/gekko3d/voxelcore/voxel"
)

// VoxelModelId is a stable handle into the registry. Ids are never
// reused within a registry's lifetime.
type VoxelModelId uint64

const (
	// NullModelId marks an empty slot.
	NullModelId VoxelModelId = math.MaxUint64
	// AirModelId marks a chunk known to contain nothing, without
	// spending a model on it.
	AirModelId VoxelModelId = math.MaxUint64 - 1
)

func (id VoxelModelId) IsNull() bool { return id == NullModelId }
func (id VoxelModelId) IsAir() bool { return id == AirModelId }

type ModelEntry struct {
	Id        VoxelModelId
	Name      string
	Model     voxel.AnyModel
	Mirror    gpu.Mirror
	AssetPath string
}

// ModelRegistry owns the CPU-side models and their GPU mirrors.
type ModelRegistry struct {
	log     voxelcore.Logger
	nextId  VoxelModelId
	entries map[VoxelModelId]*ModelEntry

	// Deregistered models, freed on the next frame flush.
	pendingCleanup []CleanupEntry
}

// CleanupEntry is a deregistered model awaiting GPU cleanup.
type CleanupEntry struct {
	Id     VoxelModelId
	Mirror gpu.Mirror
}

func NewModelRegistry(log voxelcore.Logger) *ModelRegistry {
	if log == nil {
		log = voxelcore.NewNopLogger()
	}
	return &ModelRegistry{
		log:     log,
		entries: map[VoxelModelId]*ModelEntry{},
	}
}

// Register stores the model together with a freshly built GPU mirror.
func (r *ModelRegistry) Register(name string, m voxel.Model) (VoxelModelId, error) {
	any, err := voxel.WrapModel(m)
	if err != nil {
		return NullModelId, err
	}
	return r.RegisterAny(name, any)
}

func (r *ModelRegistry) RegisterAny(name string, any voxel.AnyModel) (VoxelModelId, error) {
	m := any.Model()
	if m == nil {
		return NullModelId, fmt.Errorf("empty model variant: %w", voxel.ErrSchemaMismatch)
	}
	mirror, err := gpu.NewMirror(m)
	if err != nil {
		return NullModelId, err
	}
	id := r.nextId
	r.nextId++
	r.entries[id] = &ModelEntry{
		Id:     id,
		Name:   name,
		Model:  any,
		Mirror: mirror,
	}
	r.log.Debugf("registered model %d (%s, %v)", id, name, m.Schema())
	return id, nil
}

func (r *ModelRegistry) Entry(id VoxelModelId) (*ModelEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Model returns the dynamic view for collision and raycast callers.
func (r *ModelRegistry) Model(id VoxelModelId) (voxel.Model, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Model.Model(), true
}

func (r *ModelRegistry) Flat(id VoxelModelId) (*voxel.Flat, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("model %d not registered", id)
	}
	if e.Model.Flat == nil {
		return nil, fmt.Errorf("model %d is %v: %w", id, e.Model.Schema(), voxel.ErrSchemaMismatch)
	}
	return e.Model.Flat, nil
}

func (r *ModelRegistry) THC(id VoxelModelId) (*voxel.THC, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("model %d not registered", id)
	}
	if e.Model.THC == nil {
		return nil, fmt.Errorf("model %d is %v: %w", id, e.Model.Schema(), voxel.ErrSchemaMismatch)
	}
	return e.Model.THC, nil
}

func (r *ModelRegistry) THCCompressed(id VoxelModelId) (*voxel.THCCompressed, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("model %d not registered", id)
	}
	if e.Model.THCCompressed == nil {
		return nil, fmt.Errorf("model %d is %v: %w", id, e.Model.Schema(), voxel.ErrSchemaMismatch)
	}
	return e.Model.THCCompressed, nil
}

func (r *ModelRegistry) SFTCompressed(id VoxelModelId) (*voxel.SFTCompressed, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("model %d not registered", id)
	}
	if e.Model.SFTCompressed == nil {
		return nil, fmt.Errorf("model %d is %v: %w", id, e.Model.Schema(), voxel.ErrSchemaMismatch)
	}
	return e.Model.SFTCompressed, nil
}

func (r *ModelRegistry) SetAssetPath(id VoxelModelId, path string) error {
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("model %d not registered", id)
	}
	e.AssetPath = path
	return nil
}

// Deregister removes the entry and parks its mirror for cleanup on the
// next frame flush.
func (r *ModelRegistry) Deregister(id VoxelModelId) {
	e, ok := r.entries[id]
	if !ok {
		return
	}
	r.pendingCleanup = append(r.pendingCleanup, CleanupEntry{Id: id, Mirror: e.Mirror})
	delete(r.entries, id)
	r.log.Debugf("deregistered model %d (%s)", id, e.Name)
}

// DrainCleanup hands out the deregistered entries exactly once.
func (r *ModelRegistry) DrainCleanup() []CleanupEntry {
	out := r.pendingCleanup
	r.pendingCleanup = nil
	return out
}

func (r *ModelRegistry) Len() int { return len(r.entries) }

// ForEach visits entries in ascending id order so per-frame GPU work is
// deterministic.
func (r *ModelRegistry) ForEach(fn func(e *ModelEntry) bool) {
	ids := make([]VoxelModelId, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(r.entries[id]) {
			return
		}
	}
}
