package voxel

import "fmt"

// Flat is the dense model: a presence bitset over X*Y*Z positions plus
// one dense dword array per registered attachment. The linear index of
// (x,y,z) is x + y*X + z*X*Y.
type Flat struct {
	dims        [3]int
	attachments *AttachmentMap

	presence *Bitset
	// Per attachment: which voxels carry it, and the payload dwords.
	// Payload dwords of absent voxels are unobserved.
	attachmentPresence map[uint8]*Bitset
	attachmentData     map[uint8][]uint32

	updateTracker
	aabbCache   AABBi
	aabbTracker uint64
	aabbValid   bool
}

func NewFlat(dims [3]int, attachments *AttachmentMap) (*Flat, error) {
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 {
		return nil, fmt.Errorf("flat dimensions %v: %w", dims, ErrOutOfBounds)
	}
	return &Flat{
		dims:               dims,
		attachments:        attachments,
		presence:           NewBitset(dims[0] * dims[1] * dims[2]),
		attachmentPresence: map[uint8]*Bitset{},
		attachmentData:     map[uint8][]uint32{},
	}, nil
}

func (f *Flat) Dimensions() [3]int { return f.dims }
func (f *Flat) Attachments() *AttachmentMap { return f.attachments }
func (f *Flat) Schema() Schema { return SchemaFlat }

func (f *Flat) VolumeLength() int { return f.dims[0] * f.dims[1] * f.dims[2] }

func (f *Flat) index(p [3]int) int {
	return p[0] + p[1]*f.dims[0] + p[2]*f.dims[0]*f.dims[1]
}

func (f *Flat) position(i int) [3]int {
	x := i % f.dims[0]
	y := (i / f.dims[0]) % f.dims[1]
	z := i / (f.dims[0] * f.dims[1])
	return [3]int{x, y, z}
}

// Presence exposes the backing bitset for upload and serialization.
func (f *Flat) Presence() *Bitset { return f.presence }

func (f *Flat) ensureAttachment(id uint8) (Attachment, error) {
	info, ok := f.attachments.Get(id)
	if !ok {
		return Attachment{}, fmt.Errorf("attachment %d: %w", id, ErrAttachmentUnregistered)
	}
	if _, ok := f.attachmentPresence[id]; !ok {
		f.attachmentPresence[id] = NewBitset(f.VolumeLength())
		f.attachmentData[id] = make([]uint32, f.VolumeLength()*int(info.DwordsPerVoxel))
	}
	return info, nil
}

// AttachmentPresence returns nil when no voxel carries the attachment.
func (f *Flat) AttachmentPresence(id uint8) *Bitset { return f.attachmentPresence[id] }

func (f *Flat) AttachmentData(id uint8) []uint32 { return f.attachmentData[id] }

func (f *Flat) SetPresence(p [3]int, present bool) error {
	if !inBounds(p, f.dims) {
		return fmt.Errorf("position %v in %v: %w", p, f.dims, ErrOutOfBounds)
	}
	i := f.index(p)
	f.presence.Set(i, present)
	if !present {
		for _, ap := range f.attachmentPresence {
			ap.Set(i, false)
		}
	}
	f.bump()
	return nil
}

func (f *Flat) SetAttachment(p [3]int, id uint8, data []uint32) error {
	if !inBounds(p, f.dims) {
		return fmt.Errorf("position %v in %v: %w", p, f.dims, ErrOutOfBounds)
	}
	info, err := f.ensureAttachment(id)
	if err != nil {
		return err
	}
	i := f.index(p)
	if data == nil {
		f.attachmentPresence[id].Set(i, false)
		f.bump()
		return nil
	}
	if len(data) != int(info.DwordsPerVoxel) {
		return fmt.Errorf("attachment %d payload is %d dwords, want %d", id, len(data), info.DwordsPerVoxel)
	}
	f.presence.Set(i, true)
	f.attachmentPresence[id].Set(i, true)
	copy(f.attachmentData[id][i*int(info.DwordsPerVoxel):], data)
	f.bump()
	return nil
}

// RestoreAttachment installs deserialized presence words and payload
// dwords for id, replacing the current contents wholesale.
func (f *Flat) RestoreAttachment(id uint8, presenceWords, data []uint32) error {
	if _, err := f.ensureAttachment(id); err != nil {
		return err
	}
	bs := f.attachmentPresence[id]
	if len(presenceWords) != len(bs.Words()) {
		return fmt.Errorf("attachment %d presence holds %d words, want %d",
			id, len(presenceWords), len(bs.Words()))
	}
	if len(data) != len(f.attachmentData[id]) {
		return fmt.Errorf("attachment %d payload holds %d dwords, want %d",
			id, len(data), len(f.attachmentData[id]))
	}
	copy(bs.Words(), presenceWords)
	copy(f.attachmentData[id], data)
	f.bump()
	return nil
}

func (f *Flat) viewAt(i int) VoxelView {
	v := VoxelView{Present: f.presence.Get(i)}
	if !v.Present {
		return v
	}
	for _, id := range f.attachments.Ids() {
		ap := f.attachmentPresence[id]
		if ap == nil || !ap.Get(i) {
			continue
		}
		info, _ := f.attachments.Get(id)
		d := int(info.DwordsPerVoxel)
		v.Attachments = append(v.Attachments, AttachmentSample{
			Id:   id,
			Data: f.attachmentData[id][i*d : i*d+d],
		})
	}
	return v
}

func (f *Flat) VoxelAt(p [3]int) (VoxelView, bool) {
	if !inBounds(p, f.dims) {
		return VoxelView{}, false
	}
	return f.viewAt(f.index(p)), true
}

func (f *Flat) IterVoxels(fn func(p [3]int, v VoxelView) bool) {
	n := f.VolumeLength()
	for i := 0; i < n; i++ {
		if !fn(f.position(i), f.viewAt(i)) {
			return
		}
	}
}

func (f *Flat) AABBVoxel() AABBi {
	if f.aabbValid && f.aabbTracker == f.tracker {
		return f.aabbCache
	}
	aabb := AABBi{
		Min: [3]int{f.dims[0], f.dims[1], f.dims[2]},
		Max: [3]int{0, 0, 0},
	}
	n := f.VolumeLength()
	for i := 0; i < n; i++ {
		if !f.presence.Get(i) {
			continue
		}
		p := f.position(i)
		for a := 0; a < 3; a++ {
			if p[a] < aabb.Min[a] {
				aabb.Min[a] = p[a]
			}
			if p[a]+1 > aabb.Max[a] {
				aabb.Max[a] = p[a] + 1
			}
		}
	}
	if aabb.Empty() {
		aabb = AABBi{}
	}
	f.aabbCache = aabb
	f.aabbTracker = f.tracker
	f.aabbValid = true
	return aabb
}

func (f *Flat) Raycast(ray Ray, maxDistance float32) (Hit, bool) {
	return gridRaycast(ray, maxDistance, f.dims, func(p [3]int) bool {
		return f.presence.Get(f.index(p))
	})
}
