package world

import (
	"testing"
)

func loadAllSlots(t *testing.T, rc *RenderableChunks) map[[3]int]VoxelModelId {
	t.Helper()
	byWorld := map[[3]int]VoxelModelId{}
	side := rc.SideLength
	for z := 0; z < side; z++ {
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				world := [3]int{
					rc.ChunkAnchor[0] + x,
					rc.ChunkAnchor[1] + y,
					rc.ChunkAnchor[2] + z,
				}
				id := VoxelModelId(x + y*side + z*side*side)
				if !rc.TryLoadChunk(world, id) {
					t.Fatalf("failed to load chunk %v", world)
				}
				byWorld[world] = id
			}
		}
	}
	return byWorld
}

func TestWindowTranslationUnloadsTrailingPlane(t *testing.T) {
	rc := NewRenderableChunks(2)
	if rc.SideLength != 4 {
		t.Fatalf("side = %d, want 4", rc.SideLength)
	}
	rc.UpdatePlayerPosition([3]int{0, 0, 0})
	if rc.ChunkAnchor != [3]int{-2, -2, -2} {
		t.Fatalf("anchor = %v, want (-2,-2,-2)", rc.ChunkAnchor)
	}

	byWorld := loadAllSlots(t, rc)
	if got := rc.DrainUnloadedModels(); len(got) != 0 {
		t.Fatalf("unexpected unloads before the move: %v", got)
	}

	rc.UpdatePlayerPosition([3]int{1, 0, 0})
	if rc.ChunkAnchor != [3]int{-1, -2, -2} {
		t.Fatalf("anchor = %v, want (-1,-2,-2)", rc.ChunkAnchor)
	}

	// The trailing world plane x=-2 must be enqueued for unload.
	wantUnloaded := map[VoxelModelId]bool{}
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			wantUnloaded[byWorld[[3]int{-2, -2 + y, -2 + z}]] = true
		}
	}
	unloaded := rc.DrainUnloadedModels()
	if len(unloaded) != len(wantUnloaded) {
		t.Fatalf("unloaded %d models, want %d", len(unloaded), len(wantUnloaded))
	}
	for _, id := range unloaded {
		if !wantUnloaded[id] {
			t.Errorf("model %d unloaded but was not on the trailing plane", id)
		}
	}

	// Surviving chunks keep their ids under the new local coordinates.
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 3; x++ {
				world := [3]int{-1 + x, -2 + y, -2 + z}
				id, ok := rc.GetChunkModel([3]int{x, y, z})
				if !ok {
					t.Fatalf("chunk %v lost its slot", world)
				}
				if id != byWorld[world] {
					t.Errorf("chunk %v id = %d, want %d", world, id, byWorld[world])
				}
			}
			// The newly exposed plane is clear.
			if _, ok := rc.GetChunkModel([3]int{3, y, z}); ok {
				t.Errorf("fresh slot (3,%d,%d) should be empty", y, z)
			}
		}
	}
	if !rc.IsDirty {
		t.Error("translation must dirty the window")
	}
}

func TestWindowDiagonalTranslation(t *testing.T) {
	rc := NewRenderableChunks(1)
	rc.UpdatePlayerPosition([3]int{0, 0, 0})
	byWorld := loadAllSlots(t, rc)
	rc.DrainUnloadedModels()

	rc.UpdatePlayerPosition([3]int{1, 1, 0})
	if rc.ChunkAnchor != [3]int{0, 0, -1} {
		t.Fatalf("anchor = %v", rc.ChunkAnchor)
	}
	// Only the chunk at world (0,0,*) survives both axis moves.
	for z := 0; z < 2; z++ {
		world := [3]int{0, 0, -1 + z}
		id, ok := rc.GetChunkModel([3]int{0, 0, z})
		if !ok || id != byWorld[world] {
			t.Errorf("chunk %v: got (%d,%v), want %d", world, id, ok, byWorld[world])
		}
	}
	unloaded := rc.DrainUnloadedModels()
	if len(unloaded) != 6 {
		t.Errorf("unloaded %d models, want 6", len(unloaded))
	}
}

func TestWindowRenderDistanceZeroIsSingleChunk(t *testing.T) {
	rc := NewRenderableChunks(0)
	if rc.SideLength != 1 {
		t.Fatalf("side = %d, want 1", rc.SideLength)
	}
	rc.UpdatePlayerPosition([3]int{5, 7, -3})
	if !rc.TryLoadChunk([3]int{5, 7, -3}, 9) {
		t.Fatal("load into the single slot failed")
	}
	if id, ok := rc.GetChunkModel([3]int{0, 0, 0}); !ok || id != 9 {
		t.Fatalf("got (%d,%v)", id, ok)
	}
	rc.UpdatePlayerPosition([3]int{6, 7, -3})
	unloaded := rc.DrainUnloadedModels()
	if len(unloaded) != 1 || unloaded[0] != 9 {
		t.Errorf("unloaded = %v, want [9]", unloaded)
	}
}

func TestWindowAirIsHiddenButOccupiesSlot(t *testing.T) {
	rc := NewRenderableChunks(1)
	rc.UpdatePlayerPosition([3]int{0, 0, 0})
	rc.TryLoadChunk([3]int{0, 0, 0}, AirModelId)
	if _, ok := rc.GetChunkModel([3]int{1, 1, 1}); ok {
		t.Error("air chunks must not resolve to a model")
	}
	if rc.SlotAt([3]int{1, 1, 1}) != AirModelId {
		t.Error("slot should hold the air sentinel")
	}
	// Air never lands on the unload queue.
	rc.UpdateRenderDistance(2)
	for _, id := range rc.DrainUnloadedModels() {
		if id.IsAir() {
			t.Error("air sentinel enqueued for unload")
		}
	}
}

func TestUpdateRenderDistanceClearsSlots(t *testing.T) {
	rc := NewRenderableChunks(2)
	rc.UpdatePlayerPosition([3]int{0, 0, 0})
	byWorld := loadAllSlots(t, rc)

	rc.UpdateRenderDistance(1)
	if rc.SideLength != 2 {
		t.Fatalf("side = %d", rc.SideLength)
	}
	unloaded := rc.DrainUnloadedModels()
	if len(unloaded) != len(byWorld) {
		t.Errorf("unloaded %d models, want %d", len(unloaded), len(byWorld))
	}
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				if _, ok := rc.GetChunkModel([3]int{x, y, z}); ok {
					t.Errorf("slot (%d,%d,%d) survived the resize", x, y, z)
				}
			}
		}
	}
}
