package voxel

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Attachment ids are stable across disk formats and GPU layouts.
const (
	AttachmentIdPTMaterial uint8 = 0
	AttachmentIdNormal     uint8 = 1
	AttachmentIdEmissive   uint8 = 2
)

type Attachment struct {
	Id             uint8
	Name           string
	DwordsPerVoxel uint32
}

var (
	AttachmentPTMaterial = Attachment{Id: AttachmentIdPTMaterial, Name: "ptmaterial", DwordsPerVoxel: 1}
	AttachmentNormal     = Attachment{Id: AttachmentIdNormal, Name: "normal", DwordsPerVoxel: 1}
	AttachmentEmissive   = Attachment{Id: AttachmentIdEmissive, Name: "emissive", DwordsPerVoxel: 1}
)

// AttachmentMap is the per-model catalog of registered attachments.
type AttachmentMap struct {
	entries map[uint8]Attachment
}

func NewAttachmentMap() *AttachmentMap {
	return &AttachmentMap{entries: map[uint8]Attachment{}}
}

// Register is idempotent for an identical (id, name, size) triple and
// fails when the id is already bound to a different name or size.
func (m *AttachmentMap) Register(a Attachment) error {
	if existing, ok := m.entries[a.Id]; ok {
		if existing.Name != a.Name || existing.DwordsPerVoxel != a.DwordsPerVoxel {
			return fmt.Errorf("id %d already bound to %q: %w", a.Id, existing.Name, ErrConflictingAttachment)
		}
		return nil
	}
	m.entries[a.Id] = a
	return nil
}

func (m *AttachmentMap) Get(id uint8) (Attachment, bool) {
	a, ok := m.entries[id]
	return a, ok
}

func (m *AttachmentMap) Contains(id uint8) bool {
	_, ok := m.entries[id]
	return ok
}

func (m *AttachmentMap) Len() int {
	return len(m.entries)
}

// Inherit unions other into m.
func (m *AttachmentMap) Inherit(other *AttachmentMap) error {
	for _, a := range other.entries {
		if err := m.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Ids returns the registered attachment ids in ascending order, which is
// the canonical iteration order for GPU and disk layouts.
func (m *AttachmentMap) Ids() []uint8 {
	ids := make([]uint8, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *AttachmentMap) Clone() *AttachmentMap {
	c := NewAttachmentMap()
	for id, a := range m.entries {
		c.entries[id] = a
	}
	return c
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// EncodePTMaterialDiffuse packs a diffuse RGB color into one dword. The
// top two bits are the material-kind tag, zero for diffuse.
func EncodePTMaterialDiffuse(r, g, b float32) uint32 {
	cr := uint32(clamp01(r)*255 + 0.5)
	cg := uint32(clamp01(g)*255 + 0.5)
	cb := uint32(clamp01(b)*255 + 0.5)
	return cr<<16 | cg<<8 | cb
}

func DecodePTMaterialDiffuse(d uint32) (r, g, b float32) {
	r = float32((d>>16)&0xff) / 255
	g = float32((d>>8)&0xff) / 255
	b = float32(d&0xff) / 255
	return
}

// EncodeNormal quantizes a unit vector to 8 bits per component, mapping
// [-1,1] linearly onto [0,255].
func EncodeNormal(n mgl32.Vec3) uint32 {
	q := func(c float32) uint32 {
		return uint32(math.Round(float64(clamp01(c*0.5+0.5)) * 255))
	}
	return q(n.X())<<16 | q(n.Y())<<8 | q(n.Z())
}

// DecodeNormal is symmetric about the midpoint 128 so the axis vectors
// survive the round trip exactly.
func DecodeNormal(d uint32) mgl32.Vec3 {
	u := func(bits uint32) float32 {
		c := (float32(bits) - 128) / 127
		if c < -1 {
			return -1
		}
		return c
	}
	return mgl32.Vec3{u((d >> 16) & 0xff), u((d >> 8) & 0xff), u(d & 0xff)}
}

func EncodeEmissive(candela uint32) uint32 { return candela }

func DecodeEmissive(d uint32) uint32 { return d }
