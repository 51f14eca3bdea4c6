package asset

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxelcore/voxel"
)

func voxChunk(id string, data []byte) []byte {
	out := []byte(id)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = binary.LittleEndian.AppendUint32(out, 0)
	return append(out, data...)
}

func writeTestVox(t *testing.T) string {
	t.Helper()
	size := make([]byte, 12)
	binary.LittleEndian.PutUint32(size[0:4], 2)  // x
	binary.LittleEndian.PutUint32(size[4:8], 3)  // y
	binary.LittleEndian.PutUint32(size[8:12], 2) // z

	xyzi := binary.LittleEndian.AppendUint32(nil, 2)
	xyzi = append(xyzi, 1, 2, 0, 1) // x y z colorIndex
	xyzi = append(xyzi, 0, 0, 1, 2)

	rgba := make([]byte, 256*4)
	copy(rgba[0:4], []byte{255, 0, 0, 255}) // palette index 1
	copy(rgba[4:8], []byte{0, 255, 0, 255}) // palette index 2

	data := []byte(voxMagic)
	data = binary.LittleEndian.AppendUint32(data, 150)
	data = append(data, voxChunk("MAIN", nil)...)
	data = append(data, voxChunk("SIZE", size)...)
	data = append(data, voxChunk("XYZI", xyzi)...)
	data = append(data, voxChunk("RGBA", rgba)...)

	path := filepath.Join(t.TempDir(), "model.vox")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadVoxMapsZUpToYUp(t *testing.T) {
	flat, err := LoadVox(writeTestVox(t))
	require.NoError(t, err)
	// SizeX=2, SizeY=3, SizeZ=2 comes out as dims (x, z, y).
	require.Equal(t, [3]int{2, 2, 3}, flat.Dimensions())

	red, ok := flat.VoxelAt([3]int{1, 0, 2})
	require.True(t, ok)
	require.True(t, red.Present)
	data, ok := red.Attachment(voxel.AttachmentIdPTMaterial)
	require.True(t, ok)
	r, g, b := voxel.DecodePTMaterialDiffuse(data[0])
	require.InDelta(t, 1.0, r, 1.0/255)
	require.InDelta(t, 0.0, g, 1.0/255)
	require.InDelta(t, 0.0, b, 1.0/255)

	green, ok := flat.VoxelAt([3]int{0, 1, 0})
	require.True(t, ok)
	require.True(t, green.Present)
	data, ok = green.Attachment(voxel.AttachmentIdPTMaterial)
	require.True(t, ok)
	r, g, b = voxel.DecodePTMaterialDiffuse(data[0])
	require.InDelta(t, 0.0, r, 1.0/255)
	require.InDelta(t, 1.0, g, 1.0/255)
	require.InDelta(t, 0.0, b, 1.0/255)

	count := 0
	flat.IterVoxels(func(p [3]int, v voxel.VoxelView) bool {
		if v.Present {
			count++
		}
		return true
	})
	require.Equal(t, 2, count)
}

func TestLoadVoxRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.vox")
	require.NoError(t, os.WriteFile(path, []byte("NOPE0000"), 0o644))
	_, err := LoadVox(path)
	require.True(t, errors.Is(err, ErrMalformedAsset))
}

func TestLoadVoxRejectsEmptyModel(t *testing.T) {
	size := make([]byte, 12)
	binary.LittleEndian.PutUint32(size[0:4], 1)
	binary.LittleEndian.PutUint32(size[4:8], 1)
	binary.LittleEndian.PutUint32(size[8:12], 1)
	data := []byte(voxMagic)
	data = binary.LittleEndian.AppendUint32(data, 150)
	data = append(data, voxChunk("MAIN", nil)...)
	data = append(data, voxChunk("SIZE", size)...)

	path := filepath.Join(t.TempDir(), "empty.vox")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err := LoadVox(path)
	require.True(t, errors.Is(err, ErrMalformedAsset))
}
