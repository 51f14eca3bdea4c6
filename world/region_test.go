package world

import (
	"testing"

	"github.com/google/uuid"
)

func TestChunkToRegionPos(t *testing.T) {
	cases := []struct {
		world, region, local [3]int
	}{
		{[3]int{0, 0, 0}, [3]int{0, 0, 0}, [3]int{0, 0, 0}},
		{[3]int{15, 15, 15}, [3]int{0, 0, 0}, [3]int{15, 15, 15}},
		{[3]int{16, 0, 0}, [3]int{1, 0, 0}, [3]int{0, 0, 0}},
		{[3]int{-1, -1, -1}, [3]int{-1, -1, -1}, [3]int{15, 15, 15}},
		{[3]int{-16, 5, 33}, [3]int{-1, 0, 2}, [3]int{0, 5, 1}},
	}
	for _, c := range cases {
		region, local := ChunkToRegionPos(c.world)
		if region != c.region || local != c.local {
			t.Errorf("ChunkToRegionPos(%v) = %v,%v want %v,%v",
				c.world, region, local, c.region, c.local)
		}
	}
}

func TestRegionLeafCreateAndLookup(t *testing.T) {
	r := NewChunkRegion([3]int{0, 0, 0})
	if _, ok := r.Leaf([3]int{3, 7, 11}); ok {
		t.Fatal("leaf should not exist yet")
	}
	leaf := r.GetOrCreateLeaf([3]int{3, 7, 11})
	if leaf == nil {
		t.Fatal("creation failed")
	}
	if leaf.Kind != ChunkLeafExisting {
		t.Errorf("kind = %d", leaf.Kind)
	}
	if leaf.UUID == uuid.Nil {
		t.Error("fresh leaf must carry a UUID")
	}
	if !leaf.Model.IsNull() {
		t.Error("fresh leaf must have no model")
	}
	if !r.Dirty() {
		t.Error("creating a leaf must dirty the region")
	}

	again := r.GetOrCreateLeaf([3]int{3, 7, 11})
	if again != leaf {
		t.Error("second create must return the same leaf")
	}
	got, ok := r.Leaf([3]int{3, 7, 11})
	if !ok || got != leaf {
		t.Error("lookup disagrees with creation")
	}
	if _, ok := r.Leaf([3]int{16, 0, 0}); ok {
		t.Error("out-of-bounds local position must miss")
	}
}

func TestRegionForEachLeafPositions(t *testing.T) {
	r := NewChunkRegion([3]int{2, -1, 0})
	positions := [][3]int{{0, 0, 0}, {15, 15, 15}, {5, 0, 9}}
	for _, p := range positions {
		r.GetOrCreateLeaf(p)
	}
	seen := map[[3]int]bool{}
	r.ForEachLeaf(func(local [3]int, leaf *ChunkLeaf) bool {
		if leaf == nil {
			t.Fatalf("nil leaf at %v", local)
		}
		seen[local] = true
		return true
	})
	if len(seen) != len(positions) {
		t.Fatalf("visited %d leaves, want %d", len(seen), len(positions))
	}
	for _, p := range positions {
		if !seen[p] {
			t.Errorf("leaf at %v not visited", p)
		}
	}
}

func TestRegionStoreWorldLookups(t *testing.T) {
	s := NewRegionStore(nil)
	a := s.GetOrCreateChunk([3]int{-1, 0, 17})
	b := s.GetOrCreateChunk([3]int{4, 4, 4})
	if a == nil || b == nil {
		t.Fatal("chunk creation failed")
	}
	if a.UUID == b.UUID {
		t.Error("distinct chunks must get distinct UUIDs")
	}

	got, ok := s.GetChunkNode([3]int{-1, 0, 17})
	if !ok || got != a {
		t.Error("world lookup disagrees with creation")
	}
	if _, ok := s.GetChunkNode([3]int{99, 99, 99}); ok {
		t.Error("unknown chunk must miss")
	}

	// Straddles two regions: (-1,0,17) is in region (-1,0,1).
	if _, ok := s.Region([3]int{-1, 0, 1}); !ok {
		t.Error("region (-1,0,1) should exist")
	}
	if _, ok := s.Region([3]int{0, 0, 0}); !ok {
		t.Error("region (0,0,0) should exist")
	}

	seen := map[[3]int]uuid.UUID{}
	s.IterExisting(func(worldChunkPos [3]int, leaf *ChunkLeaf) bool {
		seen[worldChunkPos] = leaf.UUID
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("iterated %d chunks, want 2", len(seen))
	}
	if seen[[3]int{-1, 0, 17}] != a.UUID || seen[[3]int{4, 4, 4}] != b.UUID {
		t.Error("IterExisting positions or UUIDs wrong")
	}
}

func TestRegionIterSkipsEmptyLeaves(t *testing.T) {
	s := NewRegionStore(nil)
	leaf := s.GetOrCreateChunk([3]int{1, 2, 3})
	leaf.Kind = ChunkLeafEmpty
	s.GetOrCreateChunk([3]int{2, 2, 3})
	count := 0
	s.IterExisting(func(_ [3]int, _ *ChunkLeaf) bool {
		count++
		return true
	})
	if count != 1 {
		t.Errorf("iterated %d existing chunks, want 1", count)
	}
}
