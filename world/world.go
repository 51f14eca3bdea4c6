package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxelcore"
	"github.com/gekko3d/voxelcore/voxel"
)

// ChunkVoxelLength is the side of a terrain chunk in voxels.
const ChunkVoxelLength = 32

// Generation requests issued per window refresh, so a long teleport
// does not stall a frame.
const maxGenerationRequests = 64

// ChunkGenerator produces terrain chunk content. Returning nil marks
// the chunk as known empty.
type ChunkGenerator interface {
	GenerateChunk(chunkPos [3]int, attachments *voxel.AttachmentMap) *voxel.Flat
}

// GeneratedChunk is a finished generation job, drained at the frame
// boundary.
type GeneratedChunk struct {
	ChunkPos [3]int
	Model    *voxel.Flat
}

// VoxelEdit covers a world-space voxel box. Write is invoked once per
// covered voxel that lands in a chunk inside the render window,
// generating the chunk first when needed.
type VoxelEdit struct {
	WorldVoxelMin    [3]int
	WorldVoxelLength [3]int
	Write            func(m voxel.MutableModel, modelPos, worldPos [3]int)
}

// VoxelWorld is the top-level façade over the registry, the region
// store and the renderable window. All mutation happens on the frame
// thread; background generation reports back through genResults.
type VoxelWorld struct {
	log voxelcore.Logger

	Registry    *ModelRegistry
	Regions     *RegionStore
	Window      *RenderableChunks
	Attachments *voxel.AttachmentMap

	generator  ChunkGenerator
	genResults chan GeneratedChunk
	inFlight   map[[3]int]bool

	entities   map[VoxelEntityId]*VoxelEntity
	nextEntity VoxelEntityId

	pendingEdits []VoxelEdit
}

func NewVoxelWorld(log voxelcore.Logger, attachments *voxel.AttachmentMap, renderDistance int) *VoxelWorld {
	if log == nil {
		log = voxelcore.NewNopLogger()
	}
	if attachments == nil {
		attachments = voxel.NewAttachmentMap()
	}
	return &VoxelWorld{
		log:         log,
		Registry:    NewModelRegistry(log),
		Regions:     NewRegionStore(log),
		Window:      NewRenderableChunks(renderDistance),
		Attachments: attachments,
		genResults:  make(chan GeneratedChunk, 256),
		inFlight:    map[[3]int]bool{},
		entities:    map[VoxelEntityId]*VoxelEntity{},
	}
}

func (w *VoxelWorld) SetGenerator(g ChunkGenerator) { w.generator = g }

// RegisterRenderableVoxelModel places a model under GPU management and
// returns its id.
func (w *VoxelWorld) RegisterRenderableVoxelModel(name string, m voxel.Model) (VoxelModelId, error) {
	return w.Registry.Register(name, m)
}

// SetVoxelModelAssetPath records the disk path a model was loaded
// from; empty clears it.
func (w *VoxelWorld) SetVoxelModelAssetPath(id VoxelModelId, path string) error {
	return w.Registry.SetAssetPath(id, path)
}

// EnqueueEdit defers the edit to step 6 of the next frame.
func (w *VoxelWorld) EnqueueEdit(e VoxelEdit) {
	w.pendingEdits = append(w.pendingEdits, e)
}

// WorldVoxelToChunk maps a world voxel position to its chunk.
func WorldVoxelToChunk(worldVoxelPos [3]int) [3]int {
	return [3]int{
		divEuclid(worldVoxelPos[0], ChunkVoxelLength),
		divEuclid(worldVoxelPos[1], ChunkVoxelLength),
		divEuclid(worldVoxelPos[2], ChunkVoxelLength),
	}
}

// OnPlayerChunkChanged recenters the window and tops up generation
// requests for chunks that became visible.
func (w *VoxelWorld) OnPlayerChunkChanged(playerChunkPos [3]int) {
	w.Window.UpdatePlayerPosition(playerChunkPos)
	w.requestMissingChunks()
}

// UpdateRenderDistance resizes the window; all slots reload.
func (w *VoxelWorld) UpdateRenderDistance(renderDistance int) {
	w.Window.UpdateRenderDistance(renderDistance)
	w.requestMissingChunks()
}

// requestMissingChunks walks the window and kicks off generation for
// slots with no backing chunk yet, up to the per-call budget.
func (w *VoxelWorld) requestMissingChunks() {
	budget := maxGenerationRequests
	side := w.Window.SideLength
	for z := 0; z < side && budget > 0; z++ {
		for y := 0; y < side && budget > 0; y++ {
			for x := 0; x < side && budget > 0; x++ {
				chunkPos := [3]int{
					w.Window.ChunkAnchor[0] + x,
					w.Window.ChunkAnchor[1] + y,
					w.Window.ChunkAnchor[2] + z,
				}
				if !w.Window.SlotAt([3]int{x, y, z}).IsNull() {
					continue
				}
				if w.EnsureChunkLoaded(chunkPos) {
					budget--
				}
			}
		}
	}
}

// EnsureChunkLoaded makes the chunk renderable: loads its slot when a
// model exists, marks air for known-empty chunks, or requests
// generation. Reports whether a generation request was issued.
func (w *VoxelWorld) EnsureChunkLoaded(chunkPos [3]int) bool {
	if !w.Window.InBounds(chunkPos) {
		return false
	}
	leaf, ok := w.Regions.GetChunkNode(chunkPos)
	if !ok {
		return w.requestGeneration(chunkPos)
	}
	switch leaf.Kind {
	case ChunkLeafEmpty:
		w.Window.TryLoadChunk(chunkPos, AirModelId)
	case ChunkLeafExisting:
		if leaf.Model.IsNull() {
			return w.requestGeneration(chunkPos)
		}
		w.Window.TryLoadChunk(chunkPos, leaf.Model)
	}
	return false
}

func (w *VoxelWorld) requestGeneration(chunkPos [3]int) bool {
	if w.generator == nil || w.inFlight[chunkPos] {
		return false
	}
	w.inFlight[chunkPos] = true
	gen := w.generator
	attachments := w.Attachments.Clone()
	go func() {
		w.genResults <- GeneratedChunk{
			ChunkPos: chunkPos,
			Model:    gen.GenerateChunk(chunkPos, attachments),
		}
	}()
	return true
}

// drainGenerationResults integrates finished jobs. Results for chunks
// that left the window are dropped.
func (w *VoxelWorld) drainGenerationResults() {
	for {
		select {
		case g := <-w.genResults:
			delete(w.inFlight, g.ChunkPos)
			if !w.Window.InBounds(g.ChunkPos) {
				continue
			}
			w.installGeneratedChunk(g)
		default:
			return
		}
	}
}

func (w *VoxelWorld) installGeneratedChunk(g GeneratedChunk) {
	leaf := w.Regions.GetOrCreateChunk(g.ChunkPos)
	if !leaf.Model.IsNull() {
		// An edit materialized this chunk while generation was in
		// flight; the late result is stale.
		return
	}
	if g.Model == nil {
		leaf.Kind = ChunkLeafEmpty
		leaf.Model = NullModelId
		w.Window.TryLoadChunk(g.ChunkPos, AirModelId)
		return
	}
	name := fmt.Sprintf("chunk_%d_%d_%d", g.ChunkPos[0], g.ChunkPos[1], g.ChunkPos[2])
	id, err := w.Registry.Register(name, g.Model)
	if err != nil {
		w.log.Errorf("registering generated chunk %v: %v", g.ChunkPos, err)
		return
	}
	leaf.Kind = ChunkLeafExisting
	leaf.Model = id
	w.Window.TryLoadChunk(g.ChunkPos, id)
}

// deregisterUnloaded retires the models of chunks that left the
// window. Their region leaves stay so the chunks can come back.
func (w *VoxelWorld) deregisterUnloaded() {
	for _, id := range w.Window.DrainUnloadedModels() {
		if id.IsAir() {
			continue
		}
		w.clearLeafModel(id)
		w.Registry.Deregister(id)
	}
}

func (w *VoxelWorld) clearLeafModel(id VoxelModelId) {
	w.Regions.IterExisting(func(_ [3]int, leaf *ChunkLeaf) bool {
		if leaf.Model == id {
			leaf.Model = NullModelId
			return false
		}
		return true
	})
}

func (w *VoxelWorld) servicePendingEdits() {
	edits := w.pendingEdits
	w.pendingEdits = nil
	for _, e := range edits {
		w.applyEdit(e)
	}
}

func (w *VoxelWorld) applyEdit(e VoxelEdit) {
	if e.Write == nil {
		return
	}
	min := e.WorldVoxelMin
	var max [3]int
	for a := 0; a < 3; a++ {
		if e.WorldVoxelLength[a] <= 0 {
			return
		}
		max[a] = min[a] + e.WorldVoxelLength[a]
	}
	chunkMin := WorldVoxelToChunk(min)
	chunkMax := WorldVoxelToChunk([3]int{max[0] - 1, max[1] - 1, max[2] - 1})

	for cz := chunkMin[2]; cz <= chunkMax[2]; cz++ {
		for cy := chunkMin[1]; cy <= chunkMax[1]; cy++ {
			for cx := chunkMin[0]; cx <= chunkMax[0]; cx++ {
				chunkPos := [3]int{cx, cy, cz}
				m, err := w.editableChunk(chunkPos)
				if err != nil {
					w.log.Warnf("edit skipped chunk %v: %v", chunkPos, err)
					continue
				}
				if m == nil {
					continue
				}
				w.writeEditIntoChunk(e, m, chunkPos, min, max)
			}
		}
	}
}

func (w *VoxelWorld) writeEditIntoChunk(e VoxelEdit, m voxel.MutableModel, chunkPos, min, max [3]int) {
	var base, lo, hi [3]int
	for a := 0; a < 3; a++ {
		base[a] = chunkPos[a] * ChunkVoxelLength
		lo[a] = maxOf(min[a], base[a])
		hi[a] = minOf(max[a], base[a]+ChunkVoxelLength)
	}
	for z := lo[2]; z < hi[2]; z++ {
		for y := lo[1]; y < hi[1]; y++ {
			for x := lo[0]; x < hi[0]; x++ {
				world := [3]int{x, y, z}
				local := [3]int{x - base[0], y - base[1], z - base[2]}
				e.Write(m, local, world)
			}
		}
	}
}

// editableChunk resolves the chunk into a mutable model, generating it
// synchronously when the edit reaches an unloaded in-window chunk and
// decompressing read-only chunk models in place. Returns nil for
// chunks outside the window.
func (w *VoxelWorld) editableChunk(chunkPos [3]int) (voxel.MutableModel, error) {
	if !w.Window.InBounds(chunkPos) {
		return nil, nil
	}
	leaf := w.Regions.GetOrCreateChunk(chunkPos)
	if leaf.Kind == ChunkLeafExisting && !leaf.Model.IsNull() {
		entry, ok := w.Registry.Entry(leaf.Model)
		if !ok {
			leaf.Model = NullModelId
		} else {
			switch {
			case entry.Model.Flat != nil:
				return entry.Model.Flat, nil
			case entry.Model.THC != nil:
				return entry.Model.THC, nil
			case entry.Model.THCCompressed != nil:
				thc, err := entry.Model.THCCompressed.Decompress()
				if err != nil {
					return nil, err
				}
				return w.swapChunkModel(leaf, chunkPos, thc)
			case entry.Model.SFTCompressed != nil:
				flat, err := entry.Model.SFTCompressed.Decompress()
				if err != nil {
					return nil, err
				}
				return w.swapChunkModel(leaf, chunkPos, flat)
			}
		}
	}

	var flat *voxel.Flat
	if w.generator != nil {
		flat = w.generator.GenerateChunk(chunkPos, w.Attachments.Clone())
	}
	if flat == nil {
		var err error
		flat, err = voxel.NewFlat([3]int{ChunkVoxelLength, ChunkVoxelLength, ChunkVoxelLength}, w.Attachments.Clone())
		if err != nil {
			return nil, err
		}
	}
	return w.swapChunkModel(leaf, chunkPos, flat)
}

// swapChunkModel replaces the chunk's registry entry with a mutable
// model, deregistering the old one.
func (w *VoxelWorld) swapChunkModel(leaf *ChunkLeaf, chunkPos [3]int, m voxel.MutableModel) (voxel.MutableModel, error) {
	name := fmt.Sprintf("chunk_%d_%d_%d", chunkPos[0], chunkPos[1], chunkPos[2])
	id, err := w.Registry.Register(name, m)
	if err != nil {
		return nil, err
	}
	if !leaf.Model.IsNull() {
		w.Registry.Deregister(leaf.Model)
	}
	leaf.Kind = ChunkLeafExisting
	leaf.Model = id
	w.Window.TryLoadChunk(chunkPos, id)
	return m, nil
}

// TraceTerrain walks the chunk window in DDA order and defers to the
// hit chunk's model raycast. Positions are world voxel coordinates.
func (w *VoxelWorld) TraceTerrain(ray voxel.Ray, maxDistance float32) ([3]int, mgl32.Vec3, bool) {
	var chunkPos, step [3]int
	var tMax, tDelta [3]float32
	inf := float32(math.Inf(1))
	for a := 0; a < 3; a++ {
		chunkPos[a] = divEuclid(int(floor32(ray.Origin[a])), ChunkVoxelLength)
		if ray.Dir[a] > 0 {
			step[a] = 1
			next := float32(chunkPos[a]+1) * ChunkVoxelLength
			tMax[a] = (next - ray.Origin[a]) / ray.Dir[a]
			tDelta[a] = ChunkVoxelLength / ray.Dir[a]
		} else if ray.Dir[a] < 0 {
			step[a] = -1
			prev := float32(chunkPos[a]) * ChunkVoxelLength
			tMax[a] = (prev - ray.Origin[a]) / ray.Dir[a]
			tDelta[a] = -ChunkVoxelLength / ray.Dir[a]
		} else {
			tMax[a] = inf
			tDelta[a] = inf
		}
	}

	t := float32(0)
	for t <= maxDistance {
		if hitVoxel, normal, ok := w.traceChunk(chunkPos, ray, maxDistance); ok {
			return hitVoxel, normal, true
		}
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		chunkPos[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
	return [3]int{}, mgl32.Vec3{}, false
}

func (w *VoxelWorld) traceChunk(chunkPos [3]int, ray voxel.Ray, maxDistance float32) ([3]int, mgl32.Vec3, bool) {
	local := [3]int{
		chunkPos[0] - w.Window.ChunkAnchor[0],
		chunkPos[1] - w.Window.ChunkAnchor[1],
		chunkPos[2] - w.Window.ChunkAnchor[2],
	}
	id, ok := w.Window.GetChunkModel(local)
	if !ok {
		return [3]int{}, mgl32.Vec3{}, false
	}
	m, ok := w.Registry.Model(id)
	if !ok {
		return [3]int{}, mgl32.Vec3{}, false
	}
	chunkRay := voxel.Ray{
		Origin: mgl32.Vec3{
			ray.Origin[0] - float32(chunkPos[0]*ChunkVoxelLength),
			ray.Origin[1] - float32(chunkPos[1]*ChunkVoxelLength),
			ray.Origin[2] - float32(chunkPos[2]*ChunkVoxelLength),
		},
		Dir: ray.Dir,
	}
	hit, ok := m.Raycast(chunkRay, maxDistance)
	if !ok {
		return [3]int{}, mgl32.Vec3{}, false
	}
	worldVoxel := [3]int{
		chunkPos[0]*ChunkVoxelLength + hit.Voxel[0],
		chunkPos[1]*ChunkVoxelLength + hit.Voxel[1],
		chunkPos[2]*ChunkVoxelLength + hit.Voxel[2],
	}
	return worldVoxel, hit.Normal, true
}

func floor32(v float32) float32 { return float32(math.Floor(float64(v))) }

func minOf(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}
