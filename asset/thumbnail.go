package asset

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/gekko3d/voxelcore/voxel"
)

// ModelThumbnail renders a top-down view of the model: for each (x,z)
// column, the highest present voxel's diffuse color. Voxels without a
// material render grey.
func ModelThumbnail(m voxel.Model) *image.RGBA {
	dims := m.Dimensions()
	img := image.NewRGBA(image.Rect(0, 0, dims[0], dims[2]))
	top := make([]int, dims[0]*dims[2])
	for i := range top {
		top[i] = -1
	}
	colors := make([]color.RGBA, dims[0]*dims[2])
	m.IterVoxels(func(p [3]int, v voxel.VoxelView) bool {
		if !v.Present {
			return true
		}
		i := p[0] + p[2]*dims[0]
		if p[1] <= top[i] {
			return true
		}
		top[i] = p[1]
		c := color.RGBA{128, 128, 128, 255}
		if data, ok := v.Attachment(voxel.AttachmentIdPTMaterial); ok {
			r, g, b := voxel.DecodePTMaterialDiffuse(data[0])
			c = color.RGBA{uint8(r*255 + 0.5), uint8(g*255 + 0.5), uint8(b*255 + 0.5), 255}
		}
		colors[i] = c
		return true
	})
	for z := 0; z < dims[2]; z++ {
		for x := 0; x < dims[0]; x++ {
			i := x + z*dims[0]
			if top[i] < 0 {
				continue
			}
			img.SetRGBA(x, z, colors[i])
		}
	}
	return img
}

// SaveThumbnailPNG downscales the image to fit size x size and writes
// it as PNG.
func SaveThumbnailPNG(path string, src image.Image, size int) error {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > size || h > size {
		if w >= h {
			h = h * size / w
			w = size
		} else {
			w = w * size / h
			h = size
		}
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, src)
}
