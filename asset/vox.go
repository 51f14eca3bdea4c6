package asset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gekko3d/voxelcore/voxel"
)

const voxMagic = "VOX "

type voxVoxel struct {
	X, Y, Z, ColorIndex byte
}

type voxModel struct {
	SizeX, SizeY, SizeZ uint32
	Voxels              []voxVoxel
}

type voxPalette [256][4]byte

type voxFile struct {
	Version int
	Models  []voxModel
	Palette voxPalette
}

// LoadVox imports the first model of a MagicaVoxel file as a Flat
// model carrying PTMATERIAL diffuse colors. MagicaVoxel is z-up; the
// model comes out y-up.
func LoadVox(path string) (*voxel.Flat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vf, err := parseVox(f)
	if err != nil {
		return nil, err
	}
	if len(vf.Models) == 0 || len(vf.Models[0].Voxels) == 0 {
		return nil, fmt.Errorf("vox file holds no voxels: %w", ErrMalformedAsset)
	}
	return voxToFlat(&vf.Models[0], &vf.Palette)
}

func voxToFlat(m *voxModel, palette *voxPalette) (*voxel.Flat, error) {
	attachments := voxel.NewAttachmentMap()
	if err := attachments.Register(voxel.AttachmentPTMaterial); err != nil {
		return nil, err
	}
	dims := [3]int{int(m.SizeX), int(m.SizeZ), int(m.SizeY)}
	flat, err := voxel.NewFlat(dims, attachments)
	if err != nil {
		return nil, err
	}
	for _, v := range m.Voxels {
		c := palette[v.ColorIndex]
		encoded := voxel.EncodePTMaterialDiffuse(
			float32(c[0])/255,
			float32(c[1])/255,
			float32(c[2])/255,
		)
		p := [3]int{int(v.X), int(v.Z), int(v.Y)}
		if err := flat.SetAttachment(p, voxel.AttachmentIdPTMaterial, []uint32{encoded}); err != nil {
			return nil, fmt.Errorf("voxel %v: %w", p, err)
		}
	}
	return flat, nil
}

func parseVox(r io.Reader) (*voxFile, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading vox magic: %w", ErrMalformedAsset)
	}
	if string(magic[:]) != voxMagic {
		return nil, fmt.Errorf("bad vox magic %q: %w", magic, ErrMalformedAsset)
	}
	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading vox version: %w", ErrMalformedAsset)
	}

	vf := &voxFile{
		Version: int(version),
		Palette: defaultVoxPalette(),
	}

	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(r, chunkID[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		var chunkSize, childrenSize int32
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &childrenSize); err != nil {
			return nil, err
		}
		chunkData := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, err
		}

		switch string(chunkID[:]) {
		case "MAIN":
			continue
		case "PACK":
			if len(chunkData) < 4 {
				return nil, fmt.Errorf("short PACK chunk: %w", ErrMalformedAsset)
			}
			if n := binary.LittleEndian.Uint32(chunkData[:4]); n > 0 {
				vf.Models = make([]voxModel, 0, n)
			}
		case "SIZE":
			if len(chunkData) < 12 {
				return nil, fmt.Errorf("short SIZE chunk: %w", ErrMalformedAsset)
			}
			vf.Models = append(vf.Models, voxModel{
				SizeX: binary.LittleEndian.Uint32(chunkData[0:4]),
				SizeY: binary.LittleEndian.Uint32(chunkData[4:8]),
				SizeZ: binary.LittleEndian.Uint32(chunkData[8:12]),
			})
		case "XYZI":
			if len(vf.Models) == 0 {
				return nil, fmt.Errorf("XYZI before SIZE: %w", ErrMalformedAsset)
			}
			if len(chunkData) < 4 {
				return nil, fmt.Errorf("short XYZI chunk: %w", ErrMalformedAsset)
			}
			model := &vf.Models[len(vf.Models)-1]
			numVoxels := int(binary.LittleEndian.Uint32(chunkData[:4]))
			if 4+numVoxels*4 > len(chunkData) {
				return nil, fmt.Errorf("XYZI declares %d voxels: %w", numVoxels, ErrMalformedAsset)
			}
			model.Voxels = make([]voxVoxel, numVoxels)
			for i := 0; i < numVoxels; i++ {
				off := 4 + i*4
				model.Voxels[i] = voxVoxel{
					X:          chunkData[off],
					Y:          chunkData[off+1],
					Z:          chunkData[off+2],
					ColorIndex: chunkData[off+3],
				}
			}
		case "RGBA":
			for i := 0; i < 255; i++ {
				off := i * 4
				if off+3 >= len(chunkData) {
					break
				}
				vf.Palette[i+1] = [4]byte{
					chunkData[off], chunkData[off+1], chunkData[off+2], chunkData[off+3],
				}
			}
		}
	}
	return vf, nil
}

func defaultVoxPalette() voxPalette {
	var palette voxPalette
	for i := range palette {
		palette[i] = [4]byte{255, 255, 255, 255}
	}
	return palette
}
