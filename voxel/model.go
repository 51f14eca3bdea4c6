package voxel

import (
	"fmt"
	"math/bits"

	"github.com/go-gl/mathgl/mgl32"
)

// Schema identifies an in-memory and on-wire voxel model layout. The
// values are stable and shared with the disk formats and shaders.
type Schema uint32

const (
	SchemaESVO          Schema = 1
	SchemaFlat          Schema = 2
	SchemaTHC           Schema = 3
	SchemaTHCCompressed Schema = 4
	SchemaSFT           Schema = 5
	SchemaSFTCompressed Schema = 6
)

func (s Schema) String() string {
	switch s {
	case SchemaESVO:
		return "esvo"
	case SchemaFlat:
		return "flat"
	case SchemaTHC:
		return "thc"
	case SchemaTHCCompressed:
		return "thc_compressed"
	case SchemaSFT:
		return "sft"
	case SchemaSFTCompressed:
		return "sft_compressed"
	}
	return fmt.Sprintf("schema(%d)", uint32(s))
}

// AttachmentSample is one attachment payload of a voxel view.
type AttachmentSample struct {
	Id   uint8
	Data []uint32
}

// VoxelView is a read-only snapshot of a single voxel.
type VoxelView struct {
	Present     bool
	Attachments []AttachmentSample
}

func (v VoxelView) Attachment(id uint8) ([]uint32, bool) {
	for _, a := range v.Attachments {
		if a.Id == id {
			return a.Data, true
		}
	}
	return nil, false
}

// AABBi is a voxel-space axis-aligned box, min inclusive, max exclusive.
type AABBi struct {
	Min [3]int
	Max [3]int
}

func (a AABBi) Empty() bool {
	return a.Max[0] <= a.Min[0] || a.Max[1] <= a.Min[1] || a.Max[2] <= a.Min[2]
}

type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

// Hit reports the nearest present voxel a ray enters.
type Hit struct {
	Voxel    [3]int
	Normal   mgl32.Vec3
	Distance float32
}

// Model is the uniform read contract every variant satisfies.
type Model interface {
	Dimensions() [3]int
	Attachments() *AttachmentMap
	Schema() Schema
	// VoxelAt reports false for out-of-bounds positions; presence of
	// an in-bounds voxel is read from the view.
	VoxelAt(p [3]int) (VoxelView, bool)
	// IterVoxels stops early when fn returns false. Sparse formats
	// visit only present voxels; Flat visits every position.
	IterVoxels(fn func(p [3]int, v VoxelView) bool)
	// AABBVoxel is the tight bounds of present voxels.
	AABBVoxel() AABBi
	Raycast(ray Ray, maxDistance float32) (Hit, bool)
	// UpdateTracker increases monotonically on every mutation.
	UpdateTracker() uint64
}

// MutableModel adds the write half of the contract.
type MutableModel interface {
	Model
	SetPresence(p [3]int, present bool) error
	// SetAttachment writes the payload dwords for id, marking the voxel
	// present; nil data clears the payload.
	SetAttachment(p [3]int, id uint8, data []uint32) error
}

type updateTracker struct {
	tracker uint64
}

func (t *updateTracker) bump() { t.tracker++ }

func (t *updateTracker) UpdateTracker() uint64 { return t.tracker }

// AnyModel is the closed variant the registry stores; exactly one field
// is non-nil.
type AnyModel struct {
	Flat          *Flat
	THC           *THC
	THCCompressed *THCCompressed
	SFTCompressed *SFTCompressed
}

func (a AnyModel) Model() Model {
	switch {
	case a.Flat != nil:
		return a.Flat
	case a.THC != nil:
		return a.THC
	case a.THCCompressed != nil:
		return a.THCCompressed
	case a.SFTCompressed != nil:
		return a.SFTCompressed
	}
	return nil
}

func (a AnyModel) Schema() Schema {
	m := a.Model()
	if m == nil {
		return 0
	}
	return m.Schema()
}

// WrapModel places a concrete model into the variant.
func WrapModel(m Model) (AnyModel, error) {
	switch v := m.(type) {
	case *Flat:
		return AnyModel{Flat: v}, nil
	case *THC:
		return AnyModel{THC: v}, nil
	case *THCCompressed:
		return AnyModel{THCCompressed: v}, nil
	case *SFTCompressed:
		return AnyModel{SFTCompressed: v}, nil
	}
	return AnyModel{}, fmt.Errorf("unsupported model type %T: %w", m, ErrSchemaMismatch)
}

// NextPowerOf4 rounds up to the next power of four, minimum 1.
func NextPowerOf4(x uint32) uint32 {
	if x <= 1 {
		return 1
	}
	p := uint32(1) << (32 - bits.LeadingZeros32(x-1))
	if bits.TrailingZeros32(p)%2 == 0 {
		return p
	}
	return p << 1
}

func inBounds(p, dims [3]int) bool {
	return p[0] >= 0 && p[1] >= 0 && p[2] >= 0 &&
		p[0] < dims[0] && p[1] < dims[1] && p[2] < dims[2]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
