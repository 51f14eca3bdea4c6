package voxel

import (
	"errors"
	"testing"
)

func defaultAttachments() *AttachmentMap {
	m := NewAttachmentMap()
	m.Register(AttachmentPTMaterial)
	m.Register(AttachmentNormal)
	m.Register(AttachmentEmissive)
	return m
}

func TestFlatSetGetRoundTrip(t *testing.T) {
	f, err := NewFlat([3]int{4, 3, 2}, defaultAttachments())
	if err != nil {
		t.Fatal(err)
	}
	red := EncodePTMaterialDiffuse(1, 0, 0)
	if err := f.SetAttachment([3]int{3, 2, 1}, AttachmentIdPTMaterial, []uint32{red}); err != nil {
		t.Fatal(err)
	}
	v, ok := f.VoxelAt([3]int{3, 2, 1})
	if !ok || !v.Present {
		t.Fatal("voxel should be present after attachment write")
	}
	got, ok := v.Attachment(AttachmentIdPTMaterial)
	if !ok || got[0] != red {
		t.Errorf("ptmaterial = %v, want [%d]", got, red)
	}

	if err := f.SetPresence([3]int{3, 2, 1}, false); err != nil {
		t.Fatal(err)
	}
	v, _ = f.VoxelAt([3]int{3, 2, 1})
	if v.Present {
		t.Error("voxel should be absent after presence clear")
	}
	if _, ok := v.Attachment(AttachmentIdPTMaterial); ok {
		t.Error("cleared voxel should not expose attachments")
	}
}

func TestFlatOutOfBounds(t *testing.T) {
	f, _ := NewFlat([3]int{2, 2, 2}, defaultAttachments())
	if _, ok := f.VoxelAt([3]int{2, 0, 0}); ok {
		t.Error("read out of bounds should report missing")
	}
	if err := f.SetPresence([3]int{0, -1, 0}, true); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("write out of bounds = %v, want ErrOutOfBounds", err)
	}
}

func TestFlatUnregisteredAttachment(t *testing.T) {
	m := NewAttachmentMap()
	m.Register(AttachmentPTMaterial)
	f, _ := NewFlat([3]int{2, 2, 2}, m)
	err := f.SetAttachment([3]int{0, 0, 0}, AttachmentIdNormal, []uint32{0})
	if !errors.Is(err, ErrAttachmentUnregistered) {
		t.Errorf("got %v, want ErrAttachmentUnregistered", err)
	}
}

func TestFlatIterationOrderAndCount(t *testing.T) {
	f, _ := NewFlat([3]int{2, 2, 2}, defaultAttachments())
	f.SetPresence([3]int{1, 0, 0}, true)
	var positions [][3]int
	f.IterVoxels(func(p [3]int, v VoxelView) bool {
		positions = append(positions, p)
		return true
	})
	if len(positions) != 8 {
		t.Fatalf("flat iteration visits every position, got %d", len(positions))
	}
	// Row-major: x varies fastest.
	if positions[0] != [3]int{0, 0, 0} || positions[1] != [3]int{1, 0, 0} || positions[2] != [3]int{0, 1, 0} {
		t.Errorf("unexpected order %v", positions[:3])
	}
}

func TestFlatAABB(t *testing.T) {
	f, _ := NewFlat([3]int{8, 8, 8}, defaultAttachments())
	if !f.AABBVoxel().Empty() {
		t.Error("empty model should have empty aabb")
	}
	f.SetPresence([3]int{2, 3, 4}, true)
	f.SetPresence([3]int{5, 3, 4}, true)
	aabb := f.AABBVoxel()
	if aabb.Min != [3]int{2, 3, 4} || aabb.Max != [3]int{6, 4, 5} {
		t.Errorf("aabb = %+v", aabb)
	}
	// Cache invalidates on mutation.
	f.SetPresence([3]int{0, 0, 0}, true)
	if aabb = f.AABBVoxel(); aabb.Min != [3]int{0, 0, 0} {
		t.Errorf("aabb after mutation = %+v", aabb)
	}
}

func TestFlatUpdateTracker(t *testing.T) {
	f, _ := NewFlat([3]int{2, 2, 2}, defaultAttachments())
	before := f.UpdateTracker()
	f.SetPresence([3]int{0, 0, 0}, true)
	f.SetAttachment([3]int{0, 0, 0}, AttachmentIdEmissive, []uint32{7})
	if f.UpdateTracker() != before+2 {
		t.Errorf("tracker advanced by %d, want 2", f.UpdateTracker()-before)
	}
}

func TestFlatRaycast(t *testing.T) {
	f, _ := NewFlat([3]int{8, 8, 8}, defaultAttachments())
	f.SetPresence([3]int{4, 3, 3}, true)
	hit, ok := f.Raycast(Ray{
		Origin: [3]float32{0, 3.5, 3.5},
		Dir:    [3]float32{1, 0, 0},
	}, 100)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Voxel != [3]int{4, 3, 3} {
		t.Errorf("hit voxel = %v", hit.Voxel)
	}
	if hit.Normal != ([3]float32{-1, 0, 0}) {
		t.Errorf("hit normal = %v", hit.Normal)
	}
	if hit.Distance < 3.9 || hit.Distance > 4.1 {
		t.Errorf("hit distance = %v, want about 4", hit.Distance)
	}

	if _, ok := f.Raycast(Ray{Origin: [3]float32{0, 3.5, 3.5}, Dir: [3]float32{1, 0, 0}}, 2); ok {
		t.Error("hit beyond max distance should miss")
	}
}
