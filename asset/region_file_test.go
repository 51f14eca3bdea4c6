package asset

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxelcore/world"
)

func TestRegionFileRoundTrip(t *testing.T) {
	r := world.NewChunkRegion([3]int{3, -2, 1})
	a := r.GetOrCreateLeaf([3]int{0, 0, 0})
	b := r.GetOrCreateLeaf([3]int{15, 15, 15})
	require.NotEqual(t, a.UUID, b.UUID)

	path := filepath.Join(t.TempDir(), "3_-2_1.vcr")
	require.NoError(t, SaveRegion(path, r))
	back, err := LoadRegion(path)
	require.NoError(t, err)

	require.Equal(t, [3]int{3, -2, 1}, back.Pos)
	require.False(t, back.Dirty())

	leaves := map[[3]int]uuid.UUID{}
	back.ForEachLeaf(func(local [3]int, leaf *world.ChunkLeaf) bool {
		require.Equal(t, world.ChunkLeafExisting, leaf.Kind)
		require.Equal(t, world.NullModelId, leaf.Model)
		leaves[local] = leaf.UUID
		return true
	})
	require.Equal(t, map[[3]int]uuid.UUID{
		{0, 0, 0}:    a.UUID,
		{15, 15, 15}: b.UUID,
	}, leaves)
	_, ok := back.Leaf([3]int{1, 0, 0})
	require.False(t, ok)
}

func TestRegionFileDropsEmptyLeaves(t *testing.T) {
	r := world.NewChunkRegion([3]int{0, 0, 0})
	kept := r.GetOrCreateLeaf([3]int{4, 9, 2})
	hole := r.GetOrCreateLeaf([3]int{7, 7, 7})
	hole.Kind = world.ChunkLeafEmpty

	back, err := DecodeRegion(EncodeRegion(r))
	require.NoError(t, err)

	count := 0
	back.ForEachLeaf(func(local [3]int, leaf *world.ChunkLeaf) bool {
		count++
		require.Equal(t, [3]int{4, 9, 2}, local)
		require.Equal(t, kept.UUID, leaf.UUID)
		return true
	})
	require.Equal(t, 1, count)
	_, ok := back.Leaf([3]int{7, 7, 7})
	require.False(t, ok)
}

func TestRegionFileEmptyRegion(t *testing.T) {
	r := world.NewChunkRegion([3]int{-4, 0, 9})
	back, err := DecodeRegion(EncodeRegion(r))
	require.NoError(t, err)
	require.Equal(t, r.Pos, back.Pos)
	back.ForEachLeaf(func(local [3]int, leaf *world.ChunkLeaf) bool {
		t.Errorf("unexpected leaf at %v", local)
		return true
	})
}

func TestDecodeRegionRejectsMalformed(t *testing.T) {
	r := world.NewChunkRegion([3]int{0, 0, 0})
	r.GetOrCreateLeaf([3]int{1, 2, 3})
	data := EncodeRegion(r)

	bad := append([]byte("nope"), data[4:]...)
	if _, err := DecodeRegion(bad); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("bad tag = %v, want ErrMalformedAsset", err)
	}
	if _, err := DecodeRegion(data[:16]); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("truncated header = %v, want ErrMalformedAsset", err)
	}

	// A child offset pointing past the packed tree must not crash.
	broken := append([]byte{}, data...)
	// First internal node starts right after the 24 byte header; point
	// child 0 far out of range.
	broken[24] = 0xff
	broken[25] = 0xff
	if _, err := DecodeRegion(broken); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("wild child offset = %v, want ErrMalformedAsset", err)
	}
}
