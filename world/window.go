package world

import (
	"github.com/gekko3d/voxelcore/gpu"
)

// MaxRenderDistance bounds the window so the acceleration buffer stays
// within 128^3 dwords.
const MaxRenderDistance = 64

// RenderableChunks is the cubic sliding window of chunk model slots the
// renderer reads. Slots are indexed torus-style: a world chunk keeps
// its slot while it stays inside the window, so translating the window
// only touches the rings that fell off.
type RenderableChunks struct {
	SideLength   int
	ChunkAnchor  [3]int
	WindowOffset [3]int

	slots   []VoxelModelId
	IsDirty bool

	// Models whose chunks left the window, drained by the world.
	ToUnloadModels []VoxelModelId
}

func NewRenderableChunks(renderDistance int) *RenderableChunks {
	side := windowSideLength(renderDistance)
	rc := &RenderableChunks{SideLength: side}
	rc.slots = newSlotArray(side)
	return rc
}

// windowSideLength is 2*renderDistance, floored at a single chunk.
func windowSideLength(renderDistance int) int {
	side := clampRenderDistance(renderDistance) * 2
	if side == 0 {
		side = 1
	}
	return side
}

func clampRenderDistance(d int) int {
	if d < 0 {
		return 0
	}
	if d > MaxRenderDistance {
		return MaxRenderDistance
	}
	return d
}

func newSlotArray(side int) []VoxelModelId {
	slots := make([]VoxelModelId, side*side*side)
	for i := range slots {
		slots[i] = NullModelId
	}
	return slots
}

func remEuclid(x, m int) int {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}

func divEuclid(x, m int) int {
	q := x / m
	if x%m < 0 {
		q--
	}
	return q
}

func (rc *RenderableChunks) InBounds(worldChunkPos [3]int) bool {
	for a := 0; a < 3; a++ {
		local := worldChunkPos[a] - rc.ChunkAnchor[a]
		if local < 0 || local >= rc.SideLength {
			return false
		}
	}
	return true
}

func (rc *RenderableChunks) slotIndex(windowPos [3]int) int {
	return windowPos[0] + windowPos[1]*rc.SideLength + windowPos[2]*rc.SideLength*rc.SideLength
}

func (rc *RenderableChunks) windowPos(localChunkPos [3]int) [3]int {
	return [3]int{
		(localChunkPos[0] + rc.WindowOffset[0]) % rc.SideLength,
		(localChunkPos[1] + rc.WindowOffset[1]) % rc.SideLength,
		(localChunkPos[2] + rc.WindowOffset[2]) % rc.SideLength,
	}
}

// TryLoadChunk writes the slot iff the chunk is in bounds and the value
// changes.
func (rc *RenderableChunks) TryLoadChunk(worldChunkPos [3]int, id VoxelModelId) bool {
	if !rc.InBounds(worldChunkPos) {
		return false
	}
	local := [3]int{
		worldChunkPos[0] - rc.ChunkAnchor[0],
		worldChunkPos[1] - rc.ChunkAnchor[1],
		worldChunkPos[2] - rc.ChunkAnchor[2],
	}
	idx := rc.slotIndex(rc.windowPos(local))
	if rc.slots[idx] != id {
		rc.slots[idx] = id
		rc.IsDirty = true
		return true
	}
	return false
}

// GetChunkModel looks up a slot by anchor-relative position, hiding the
// null and air sentinels.
func (rc *RenderableChunks) GetChunkModel(localChunkPos [3]int) (VoxelModelId, bool) {
	if localChunkPos[0] < 0 || localChunkPos[0] >= rc.SideLength ||
		localChunkPos[1] < 0 || localChunkPos[1] >= rc.SideLength ||
		localChunkPos[2] < 0 || localChunkPos[2] >= rc.SideLength {
		return NullModelId, false
	}
	id := rc.slots[rc.slotIndex(rc.windowPos(localChunkPos))]
	if id.IsNull() || id.IsAir() {
		return NullModelId, false
	}
	return id, true
}

// SlotAt reads the raw slot value, sentinels included.
func (rc *RenderableChunks) SlotAt(localChunkPos [3]int) VoxelModelId {
	return rc.slots[rc.slotIndex(rc.windowPos(localChunkPos))]
}

func (rc *RenderableChunks) unloadSlot(windowPos [3]int) {
	rc.unloadSlotIndex(rc.slotIndex(windowPos))
}

// UpdatePlayerPosition recenters the window on the player chunk and
// invalidates the torus rings that left the window on each translated
// axis.
func (rc *RenderableChunks) UpdatePlayerPosition(playerChunkPos [3]int) {
	newAnchor := [3]int{
		playerChunkPos[0] - rc.SideLength/2,
		playerChunkPos[1] - rc.SideLength/2,
		playerChunkPos[2] - rc.SideLength/2,
	}
	if newAnchor == rc.ChunkAnchor {
		return
	}
	side := rc.SideLength
	var newOffset [3]int
	for a := 0; a < 3; a++ {
		newOffset[a] = remEuclid(newAnchor[a], side)
	}

	invalidated := false
	for axis := 0; axis < 3; axis++ {
		translation := newAnchor[axis] - rc.ChunkAnchor[axis]
		if translation == 0 {
			continue
		}
		if translation > side {
			translation = side
		} else if translation < -side {
			translation = -side
		}
		// The trailing ring in window space: for a positive move the
		// slots just behind the new offset, for a negative move the
		// slots just behind the old one.
		var lo, hi int
		if translation > 0 {
			lo, hi = newOffset[axis]-translation, newOffset[axis]
		} else {
			lo, hi = rc.WindowOffset[axis]+translation, rc.WindowOffset[axis]
		}
		for v := lo; v < hi; v++ {
			w := remEuclid(v, side)
			for u := 0; u < side; u++ {
				for t := 0; t < side; t++ {
					var windowPos [3]int
					windowPos[axis] = w
					windowPos[(axis+1)%3] = u
					windowPos[(axis+2)%3] = t
					rc.unloadSlot(windowPos)
				}
			}
		}
		if lo < hi {
			invalidated = true
		}
	}

	if invalidated {
		rc.IsDirty = true
	}
	rc.ChunkAnchor = newAnchor
	rc.WindowOffset = newOffset
}

// UpdateRenderDistance clears and resizes the window in place.
func (rc *RenderableChunks) UpdateRenderDistance(renderDistance int) {
	for i := range rc.slots {
		rc.unloadSlotIndex(i)
	}
	rc.SideLength = windowSideLength(renderDistance)
	rc.slots = newSlotArray(rc.SideLength)
	for a := 0; a < 3; a++ {
		rc.WindowOffset[a] = remEuclid(rc.ChunkAnchor[a], rc.SideLength)
	}
	rc.IsDirty = true
}

// Air slots clear silently: there is no model to retire.
func (rc *RenderableChunks) unloadSlotIndex(i int) {
	id := rc.slots[i]
	rc.slots[i] = NullModelId
	if !id.IsNull() && !id.IsAir() {
		rc.ToUnloadModels = append(rc.ToUnloadModels, id)
	}
}

// DrainUnloadedModels hands out the unloaded model ids exactly once.
func (rc *RenderableChunks) DrainUnloadedModels() []VoxelModelId {
	out := rc.ToUnloadModels
	rc.ToUnloadModels = nil
	return out
}

// RenderableChunksGpu mirrors the window into one acceleration buffer
// of side^3 dwords: each slot holds the model's info directory offset,
// or 0xFFFFFFFF when the slot is null or air.
type RenderableChunksGpu struct {
	AccelerationBuffer gpu.BufferID
	hasBuffer          bool

	TerrainSideLength   int
	TerrainAnchor       [3]int
	TerrainWindowOffset [3]int
}

const emptyChunkSentinel = uint32(0xFFFF_FFFF)

func (g *RenderableChunksGpu) UpdateGPUObjects(device gpu.Device, rc *RenderableChunks) {
	reqSize := uint64(4 * rc.SideLength * rc.SideLength * rc.SideLength)
	if reqSize == 0 {
		reqSize = 4
	}
	if !g.hasBuffer || device.BufferSize(g.AccelerationBuffer) < reqSize {
		if g.hasBuffer {
			device.DestroyBuffer(g.AccelerationBuffer)
		}
		g.AccelerationBuffer = device.CreateBuffer("world_terrain_acceleration_buffer", reqSize)
		g.hasBuffer = true
	}
}

// WriteRenderData rewrites the acceleration buffer when the window is
// dirty or any model info moved.
func (g *RenderableChunksGpu) WriteRenderData(device gpu.Device, rc *RenderableChunks, infoOffsets map[VoxelModelId]uint32, force bool) {
	g.TerrainSideLength = rc.SideLength
	g.TerrainAnchor = rc.ChunkAnchor
	g.TerrainWindowOffset = rc.WindowOffset

	if !rc.IsDirty && !force {
		return
	}
	buf := make([]uint32, len(rc.slots))
	for i, id := range rc.slots {
		buf[i] = emptyChunkSentinel
		if id.IsNull() || id.IsAir() {
			continue
		}
		if off, ok := infoOffsets[id]; ok {
			buf[i] = off
		}
	}
	device.WriteBuffer(g.AccelerationBuffer, 0, gpu.DwordBytes(buf))
	rc.IsDirty = false
}
