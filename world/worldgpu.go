package world

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxelcore"
	"github.com/gekko3d/voxelcore/gpu"
)

// ModelInfoBufferSize is the heap backing the ModelInfo directories.
const ModelInfoBufferSize = 1 << 20

// Entity acceleration entries: aabb min xyz + pad, aabb max xyz + pad,
// three rotation rows of xyz + pad, with the model info offset in the
// final pad slot.
const (
	entityAccelStrideDwords = 20
	entityAccelMinCapacity  = 10
)

// ModelGpuInfo locates a model's ModelInfo directory inside the info
// heap.
type ModelGpuInfo struct {
	InfoAllocation gpu.Allocation
	Dims           [3]int
}

// VoxelWorldGpu drives the per-frame upload pipeline: mirror
// reallocation, byte uploads, ModelInfo registration and the window
// acceleration buffer, strictly in that order.
type VoxelWorldGpu struct {
	log    voxelcore.Logger
	device gpu.Device

	Heap     *gpu.HeapAllocator
	InfoHeap *gpu.HeapAllocator

	WindowGpu RenderableChunksGpu

	entityBuffer    gpu.BufferID
	hasEntityBuffer bool
	renderedCount   int

	infoMap    map[VoxelModelId]ModelGpuInfo
	toRegister []VoxelModelId
}

func NewVoxelWorldGpu(log voxelcore.Logger, device gpu.Device, heapSize uint64) *VoxelWorldGpu {
	if log == nil {
		log = voxelcore.NewNopLogger()
	}
	return &VoxelWorldGpu{
		log:      log,
		device:   device,
		Heap:     gpu.NewHeapAllocator(device, log, "voxel_data_allocator", heapSize),
		InfoHeap: gpu.NewHeapAllocator(device, log, "voxel_model_info_allocator", ModelInfoBufferSize),
		infoMap:  map[VoxelModelId]ModelGpuInfo{},
	}
}

// ProcessFrame runs one frame of the world pipeline:
//  1. retire deregistered models
//  2. update mirror allocations
//  3. upload mirror bytes
//  4. integrate generation results, drop off-window chunks
//  5. register ModelInfo directories, rewrite acceleration buffer
//  6. service pending edits (uploaded next frame)
func (g *VoxelWorldGpu) ProcessFrame(w *VoxelWorld) {
	for _, c := range w.Registry.DrainCleanup() {
		c.Mirror.Dealloc(g.Heap)
		if info, ok := g.infoMap[c.Id]; ok {
			g.InfoHeap.Free(info.InfoAllocation)
			delete(g.infoMap, c.Id)
		}
	}

	w.Registry.ForEach(func(e *ModelEntry) bool {
		didAlloc, err := e.Mirror.UpdateGPUObjects(g.Heap, e.Model.Model())
		if err != nil {
			if errors.Is(err, gpu.ErrOutOfHeap) {
				g.log.Warnf("model %d (%s) skipped this frame: %v", e.Id, e.Name, err)
			} else {
				g.log.Errorf("updating model %d (%s): %v", e.Id, e.Name, err)
			}
			return true
		}
		if didAlloc {
			g.toRegister = append(g.toRegister, e.Id)
		}
		return true
	})

	w.Registry.ForEach(func(e *ModelEntry) bool {
		if err := e.Mirror.WriteGPUUpdates(g.Heap, e.Model.Model()); err != nil {
			g.log.Errorf("uploading model %d (%s): %v", e.Id, e.Name, err)
		}
		return true
	})

	w.drainGenerationResults()
	w.deregisterUnloaded()

	didRegister := false
	for _, id := range g.toRegister {
		if g.registerModelInfo(w, id) {
			didRegister = true
		}
	}
	g.toRegister = g.toRegister[:0]

	g.WindowGpu.UpdateGPUObjects(g.device, w.Window)
	g.WindowGpu.WriteRenderData(g.device, w.Window, g.InfoOffsets(), didRegister)
	g.writeEntityAccelerationData(w)

	w.servicePendingEdits()
}

// writeEntityAccelerationData packs every placed entity whose model
// info is resident: world-space AABB, inverse rotation basis and the
// info offset. Entities with unregistered models wait for a later
// frame.
func (g *VoxelWorldGpu) writeEntityAccelerationData(w *VoxelWorld) {
	capacity := w.EntityCount()
	if capacity < entityAccelMinCapacity {
		capacity = entityAccelMinCapacity
	}
	reqSize := uint64(capacity) * entityAccelStrideDwords * 4
	if !g.hasEntityBuffer || g.device.BufferSize(g.entityBuffer) < reqSize {
		if g.hasEntityBuffer {
			g.device.DestroyBuffer(g.entityBuffer)
		}
		g.entityBuffer = g.device.CreateBuffer("world_entity_acceleration_buffer", reqSize)
		g.hasEntityBuffer = true
	}

	data := make([]uint32, 0, w.EntityCount()*entityAccelStrideDwords)
	g.renderedCount = 0
	w.ForEachVoxelEntity(func(id VoxelEntityId, e *VoxelEntity) bool {
		info, ok := g.infoMap[e.Model]
		if !ok {
			g.log.Debugf("entity %d waits for model %d info", id, e.Model)
			return true
		}
		g.renderedCount++

		var half mgl32.Vec3
		for a := 0; a < 3; a++ {
			half[a] = float32(info.Dims[a]) * e.Scale[a] * 0.5
		}
		min := e.Position.Sub(half)
		max := e.Position.Add(half)
		data = appendVec3(data, min)
		data = append(data, 0)
		data = appendVec3(data, max)
		data = append(data, 0)
		// The shader wants model-from-world, the transpose of the
		// entity basis.
		rot := e.Rotation.Transpose()
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				data = append(data, math.Float32bits(rot.At(row, col)))
			}
			if row < 2 {
				data = append(data, 0)
			}
		}
		data = append(data, uint32(info.InfoAllocation.OffsetDwords()))
		return true
	})
	if len(data) > 0 {
		g.device.WriteBuffer(g.entityBuffer, 0, gpu.DwordBytes(data))
	}
}

func appendVec3(data []uint32, v mgl32.Vec3) []uint32 {
	return append(data,
		math.Float32bits(v.X()),
		math.Float32bits(v.Y()),
		math.Float32bits(v.Z()))
}

// EntityAccelerationBuffer holds the packed entity table; zero until
// the first frame.
func (g *VoxelWorldGpu) EntityAccelerationBuffer() gpu.BufferID {
	return g.entityBuffer
}

// RenderedEntityCount is the number of entries the last frame packed.
func (g *VoxelWorldGpu) RenderedEntityCount() int { return g.renderedCount }

// registerModelInfo uploads the model's ModelInfo directory, replacing
// any previous allocation.
func (g *VoxelWorldGpu) registerModelInfo(w *VoxelWorld, id VoxelModelId) bool {
	e, ok := w.Registry.Entry(id)
	if !ok {
		return false
	}
	m := e.Model.Model()
	info := e.Mirror.ModelInfo(m)
	if info == nil {
		return false
	}
	if old, ok := g.infoMap[id]; ok {
		g.InfoHeap.Free(old.InfoAllocation)
		delete(g.infoMap, id)
	}
	alloc, err := g.InfoHeap.Allocate(uint64(nextPow2(len(info))) * 4)
	if err != nil {
		g.log.Errorf("model info for %d (%s): %v", id, e.Name, err)
		return false
	}
	g.InfoHeap.WriteDwords(alloc, info)
	g.infoMap[id] = ModelGpuInfo{
		InfoAllocation: alloc,
		Dims:           m.Dimensions(),
	}
	return true
}

// InfoOffsets maps registered models to the dword offset of their
// ModelInfo directory, the value the acceleration buffer stores.
func (g *VoxelWorldGpu) InfoOffsets() map[VoxelModelId]uint32 {
	out := make(map[VoxelModelId]uint32, len(g.infoMap))
	for id, info := range g.infoMap {
		out[id] = uint32(info.InfoAllocation.OffsetDwords())
	}
	return out
}

// AccelerationBuffer is the window's chunk-to-info-offset buffer the
// renderer binds; zero until the first frame.
func (g *VoxelWorldGpu) AccelerationBuffer() gpu.BufferID {
	return g.WindowGpu.AccelerationBuffer
}

// VoxelHeapBuffer backs every model's node and attachment data.
func (g *VoxelWorldGpu) VoxelHeapBuffer() gpu.BufferID {
	return g.Heap.Buffer()
}

func (g *VoxelWorldGpu) ModelGpuInfo(id VoxelModelId) (ModelGpuInfo, bool) {
	info, ok := g.infoMap[id]
	return info, ok
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
