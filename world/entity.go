package world

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// VoxelEntityId identifies a placed model instance.
type VoxelEntityId uint64

// VoxelEntity places a registered model in the world. Positions and
// scale are in voxel units; Rotation is the world-from-model basis.
type VoxelEntity struct {
	Model    VoxelModelId
	Position mgl32.Vec3
	Rotation mgl32.Mat3
	Scale    mgl32.Vec3
}

// SpawnVoxelEntity places a model instance at position with identity
// rotation and unit scale.
func (w *VoxelWorld) SpawnVoxelEntity(model VoxelModelId, position mgl32.Vec3) VoxelEntityId {
	w.nextEntity++
	id := w.nextEntity
	w.entities[id] = &VoxelEntity{
		Model:    model,
		Position: position,
		Rotation: mgl32.Ident3(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
	return id
}

func (w *VoxelWorld) Entity(id VoxelEntityId) (*VoxelEntity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

func (w *VoxelWorld) DespawnVoxelEntity(id VoxelEntityId) {
	delete(w.entities, id)
}

func (w *VoxelWorld) EntityCount() int { return len(w.entities) }

// ForEachVoxelEntity visits entities in ascending id order, the order
// the entity acceleration buffer is packed in.
func (w *VoxelWorld) ForEachVoxelEntity(fn func(id VoxelEntityId, e *VoxelEntity) bool) {
	ids := make([]VoxelEntityId, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !fn(id, w.entities[id]) {
			return
		}
	}
}
