package asset

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxelcore/voxel"
)

func materialOnly(t *testing.T) *voxel.AttachmentMap {
	t.Helper()
	m := voxel.NewAttachmentMap()
	require.NoError(t, m.Register(voxel.AttachmentPTMaterial))
	return m
}

func TestCuboidSFTRoundTrip(t *testing.T) {
	f, err := voxel.NewFlat([3]int{4, 4, 4}, materialOnly(t))
	require.NoError(t, err)
	red := voxel.EncodePTMaterialDiffuse(1, 0, 0)
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				require.NoError(t, f.SetAttachment([3]int{x, y, z}, voxel.AttachmentIdPTMaterial, []uint32{red}))
			}
		}
	}
	sft, err := voxel.NewSFTCompressedFromFlat(f)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cuboid.sft")
	require.NoError(t, SaveModel(path, sft))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.SFTCompressed, "SFT file must load as SFTCompressed")
	m := loaded.Model()

	aabb := m.AABBVoxel()
	require.Equal(t, voxel.AABBi{Min: [3]int{0, 0, 0}, Max: [3]int{4, 4, 4}}, aabb)

	count := 0
	m.IterVoxels(func(p [3]int, v voxel.VoxelView) bool {
		count++
		data, ok := v.Attachment(voxel.AttachmentIdPTMaterial)
		require.True(t, ok, "voxel %v lost its material", p)
		r, g, b := voxel.DecodePTMaterialDiffuse(data[0])
		require.InDelta(t, 1.0, r, 1.0/255)
		require.InDelta(t, 0.0, g, 1.0/255)
		require.InDelta(t, 0.0, b, 1.0/255)
		return true
	})
	require.Equal(t, 64, count)
}

func TestTHCFileRoundTrip(t *testing.T) {
	attachments := voxel.NewAttachmentMap()
	require.NoError(t, attachments.Register(voxel.AttachmentEmissive))
	thc := voxel.NewTHC(16, attachments)
	voxels := map[[3]int]uint32{
		{0, 0, 0}:    7,
		{9, 4, 14}:   11,
		{15, 15, 15}: 13,
	}
	for p, c := range voxels {
		require.NoError(t, thc.SetAttachment(p, voxel.AttachmentIdEmissive, []uint32{c}))
	}

	path := filepath.Join(t.TempDir(), "tree.thc")
	require.NoError(t, SaveModel(path, thc))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.THCCompressed)
	m := loaded.Model()
	require.Equal(t, [3]int{16, 16, 16}, m.Dimensions())

	seen := map[[3]int]uint32{}
	m.IterVoxels(func(p [3]int, v voxel.VoxelView) bool {
		data, ok := v.Attachment(voxel.AttachmentIdEmissive)
		require.True(t, ok)
		seen[p] = data[0]
		return true
	})
	require.Equal(t, voxels, seen)
	require.Equal(t, thc.AABBVoxel(), m.AABBVoxel())
}

func TestFlatFileRoundTrip(t *testing.T) {
	attachments := voxel.NewAttachmentMap()
	require.NoError(t, attachments.Register(voxel.AttachmentPTMaterial))
	require.NoError(t, attachments.Register(voxel.AttachmentNormal))
	f, err := voxel.NewFlat([3]int{5, 1, 3}, attachments)
	require.NoError(t, err)
	require.NoError(t, f.SetAttachment([3]int{0, 0, 0}, voxel.AttachmentIdPTMaterial,
		[]uint32{voxel.EncodePTMaterialDiffuse(0.25, 0.5, 1)}))
	require.NoError(t, f.SetAttachment([3]int{4, 0, 2}, voxel.AttachmentIdNormal,
		[]uint32{voxel.EncodeNormal(mgl32.Vec3{0, 1, 0})}))
	require.NoError(t, f.SetPresence([3]int{2, 0, 1}, true))

	path := filepath.Join(t.TempDir(), "strip.flat")
	require.NoError(t, SaveModel(path, f))
	loaded, err := LoadModel(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Flat)
	g := loaded.Flat
	require.Equal(t, f.Dimensions(), g.Dimensions())

	f.IterVoxels(func(p [3]int, want voxel.VoxelView) bool {
		got, ok := g.VoxelAt(p)
		require.True(t, ok)
		require.Equal(t, want.Present, got.Present, "voxel %v", p)
		require.Equal(t, len(want.Attachments), len(got.Attachments), "voxel %v", p)
		for i := range want.Attachments {
			require.Equal(t, want.Attachments[i].Id, got.Attachments[i].Id)
			require.Equal(t, want.Attachments[i].Data, got.Attachments[i].Data)
		}
		return true
	})
	require.Equal(t, f.AABBVoxel(), g.AABBVoxel())
}

func TestNonPowerOfFourSFTKeepsStatedSide(t *testing.T) {
	f, err := voxel.NewFlat([3]int{10, 10, 10}, materialOnly(t))
	require.NoError(t, err)
	require.NoError(t, f.SetPresence([3]int{9, 9, 9}, true))
	sft, err := voxel.NewSFTCompressedFromFlat(f)
	require.NoError(t, err)

	data, err := EncodeModel(sft)
	require.NoError(t, err)
	loaded, err := DecodeModel(data)
	require.NoError(t, err)
	require.Equal(t, [3]int{10, 10, 10}, loaded.Model().Dimensions())
	v, ok := loaded.Model().VoxelAt([3]int{9, 9, 9})
	require.True(t, ok)
	require.True(t, v.Present)
}

func TestDecodeRejectsMalformedFiles(t *testing.T) {
	f, err := voxel.NewFlat([3]int{2, 2, 2}, materialOnly(t))
	require.NoError(t, err)
	data, err := EncodeModel(f)
	require.NoError(t, err)

	bad := append([]byte("BOGU"), data[4:]...)
	if _, err := DecodeModel(bad); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("bad tag = %v, want ErrMalformedAsset", err)
	}
	if _, err := DecodeModel(data[:10]); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("truncated file = %v, want ErrMalformedAsset", err)
	}

	wrongVersion := append([]byte{}, data...)
	wrongVersion[4] = 9
	if _, err := DecodeModel(wrongVersion); !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("wrong version = %v, want ErrMalformedAsset", err)
	}
}

func TestNormalSurvivesFlatFile(t *testing.T) {
	attachments := voxel.NewAttachmentMap()
	require.NoError(t, attachments.Register(voxel.AttachmentNormal))
	f, err := voxel.NewFlat([3]int{1, 1, 1}, attachments)
	require.NoError(t, err)
	inv := float32(1 / math.Sqrt(3))
	require.NoError(t, f.SetAttachment([3]int{0, 0, 0}, voxel.AttachmentIdNormal,
		[]uint32{voxel.EncodeNormal(mgl32.Vec3{inv, inv, inv})}))

	data, err := EncodeModel(f)
	require.NoError(t, err)
	loaded, err := DecodeModel(data)
	require.NoError(t, err)
	v, ok := loaded.Model().VoxelAt([3]int{0, 0, 0})
	require.True(t, ok)
	payload, ok := v.Attachment(voxel.AttachmentIdNormal)
	require.True(t, ok)
	n := voxel.DecodeNormal(payload[0])
	require.InDelta(t, inv, n.X(), 2.0/255)
	require.InDelta(t, inv, n.Y(), 2.0/255)
	require.InDelta(t, inv, n.Z(), 2.0/255)
}
