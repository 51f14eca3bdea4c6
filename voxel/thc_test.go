package voxel

import (
	"math"
	"testing"
)

func TestNextPowerOf4(t *testing.T) {
	cases := map[uint32]uint32{1: 1, 2: 4, 4: 4, 5: 16, 16: 16, 17: 64, 64: 64, 100: 256, 256: 256}
	for in, want := range cases {
		if got := NextPowerOf4(in); got != want {
			t.Errorf("NextPowerOf4(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTHCSetGet(t *testing.T) {
	thc := NewTHC(16, defaultAttachments())
	red := EncodePTMaterialDiffuse(1, 0, 0)
	if err := thc.SetAttachment([3]int{9, 2, 14}, AttachmentIdPTMaterial, []uint32{red}); err != nil {
		t.Fatal(err)
	}
	v, ok := thc.VoxelAt([3]int{9, 2, 14})
	if !ok || !v.Present {
		t.Fatal("voxel should be present")
	}
	if d, ok := v.Attachment(AttachmentIdPTMaterial); !ok || d[0] != red {
		t.Errorf("ptmaterial = %v", d)
	}
	if v, _ := thc.VoxelAt([3]int{9, 2, 13}); v.Present {
		t.Error("neighbor should be absent")
	}

	thc.SetPresence([3]int{9, 2, 14}, false)
	if v, _ := thc.VoxelAt([3]int{9, 2, 14}); v.Present {
		t.Error("voxel should clear")
	}
}

func TestTHCPackedAttachmentOrder(t *testing.T) {
	// Two voxels in the same preleaf exercise the popcount-packed
	// payload insertion in both directions.
	thc := NewTHC(4, defaultAttachments())
	a := EncodePTMaterialDiffuse(1, 0, 0)
	b := EncodePTMaterialDiffuse(0, 1, 0)
	thc.SetAttachment([3]int{3, 3, 3}, AttachmentIdPTMaterial, []uint32{b})
	thc.SetAttachment([3]int{0, 0, 0}, AttachmentIdPTMaterial, []uint32{a})
	if d, _ := mustVoxel(t, thc, [3]int{0, 0, 0}).Attachment(AttachmentIdPTMaterial); d[0] != a {
		t.Errorf("voxel (0,0,0) = %v, want %d", d, a)
	}
	if d, _ := mustVoxel(t, thc, [3]int{3, 3, 3}).Attachment(AttachmentIdPTMaterial); d[0] != b {
		t.Errorf("voxel (3,3,3) = %v, want %d", d, b)
	}

	thc.SetAttachment([3]int{0, 0, 0}, AttachmentIdPTMaterial, nil)
	if d, _ := mustVoxel(t, thc, [3]int{3, 3, 3}).Attachment(AttachmentIdPTMaterial); d[0] != b {
		t.Errorf("voxel (3,3,3) after removal = %v, want %d", d, b)
	}
}

func mustVoxel(t *testing.T, m Model, p [3]int) VoxelView {
	t.Helper()
	v, ok := m.VoxelAt(p)
	if !ok || !v.Present {
		t.Fatalf("voxel %v should be present", p)
	}
	return v
}

func TestTHCIterSparse(t *testing.T) {
	thc := NewTHC(64, defaultAttachments())
	want := map[[3]int]uint32{
		{0, 0, 0}:    EncodeEmissive(1),
		{63, 63, 63}: EncodeEmissive(2),
		{17, 33, 5}:  EncodeEmissive(3),
	}
	for p, e := range want {
		if err := thc.SetAttachment(p, AttachmentIdEmissive, []uint32{e}); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[[3]int]uint32{}
	thc.IterVoxels(func(p [3]int, v VoxelView) bool {
		if !v.Present {
			t.Fatalf("sparse iteration yielded absent voxel %v", p)
		}
		d, _ := v.Attachment(AttachmentIdEmissive)
		seen[p] = d[0]
		return true
	})
	if len(seen) != len(want) {
		t.Fatalf("saw %d voxels, want %d", len(seen), len(want))
	}
	for p, e := range want {
		if seen[p] != e {
			t.Errorf("voxel %v = %d, want %d", p, seen[p], e)
		}
	}
}

func TestTHCFromFlatAndCompressRoundTrip(t *testing.T) {
	flat, _ := NewFlat([3]int{6, 3, 9}, defaultAttachments())
	fill := func(p [3]int) uint32 {
		return EncodePTMaterialDiffuse(float32(p[0])/8, float32(p[1])/8, float32(p[2])/8)
	}
	points := [][3]int{{0, 0, 0}, {5, 2, 8}, {3, 1, 4}, {5, 0, 0}}
	for _, p := range points {
		flat.SetAttachment(p, AttachmentIdPTMaterial, []uint32{fill(p)})
	}

	thc, err := NewTHCFromFlat(flat)
	if err != nil {
		t.Fatal(err)
	}
	if thc.SideLength() != 16 {
		t.Errorf("side length = %d, want 16", thc.SideLength())
	}

	compressed := NewTHCCompressed(thc)
	count := 0
	compressed.IterVoxels(func(p [3]int, v VoxelView) bool {
		count++
		d, ok := v.Attachment(AttachmentIdPTMaterial)
		if !ok || d[0] != fill(p) {
			t.Errorf("voxel %v = %v, want %d", p, d, fill(p))
		}
		return true
	})
	if count != len(points) {
		t.Errorf("compressed iteration saw %d voxels, want %d", count, len(points))
	}

	if compressed.AABBVoxel() != thc.AABBVoxel() {
		t.Errorf("aabb drift: %+v vs %+v", compressed.AABBVoxel(), thc.AABBVoxel())
	}

	// And back out to the mutable form.
	back, err := compressed.Decompress()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range points {
		if d, _ := mustVoxel(t, back, p).Attachment(AttachmentIdPTMaterial); d[0] != fill(p) {
			t.Errorf("decompressed voxel %v = %v", p, d)
		}
	}
}

func TestTHCRaycastSingleVoxel(t *testing.T) {
	thc := NewTHC(16, defaultAttachments())
	if err := thc.SetPresence([3]int{8, 8, 8}, true); err != nil {
		t.Fatal(err)
	}
	inv := float32(1 / math.Sqrt(3))
	hit, ok := thc.Raycast(Ray{
		Origin: [3]float32{0, 0, 0},
		Dir:    [3]float32{inv, inv, inv},
	}, 100)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Voxel != [3]int{8, 8, 8} {
		t.Errorf("hit voxel = %v", hit.Voxel)
	}
	if hit.Normal[0] != -1 || hit.Normal[1] != 0 || hit.Normal[2] != 0 {
		t.Errorf("hit normal = %v", hit.Normal)
	}
	want := float32(8 * math.Sqrt(3))
	if hit.Distance < want-0.01 || hit.Distance > want+0.01 {
		t.Errorf("hit distance = %v, want about %v", hit.Distance, want)
	}

	if _, ok := thc.Raycast(Ray{Origin: [3]float32{0, 0, 0}, Dir: [3]float32{inv, inv, inv}}, 5); ok {
		t.Error("capped ray should miss")
	}
}

func TestSFTCompressedNonPowerOfFour(t *testing.T) {
	flat, _ := NewFlat([3]int{10, 10, 10}, defaultAttachments())
	red := EncodePTMaterialDiffuse(1, 0, 0)
	flat.SetAttachment([3]int{9, 9, 9}, AttachmentIdPTMaterial, []uint32{red})
	flat.SetAttachment([3]int{0, 5, 2}, AttachmentIdPTMaterial, []uint32{red})

	sft, err := NewSFTCompressedFromFlat(flat)
	if err != nil {
		t.Fatal(err)
	}
	if sft.SideLength() != 10 {
		t.Errorf("stated side length = %d, want 10", sft.SideLength())
	}
	if sft.Dimensions() != ([3]int{10, 10, 10}) {
		t.Errorf("dimensions = %v", sft.Dimensions())
	}
	if _, ok := sft.VoxelAt([3]int{12, 0, 0}); ok {
		t.Error("reads beyond the stated side length should report missing")
	}
	if d, _ := mustVoxel(t, sft, [3]int{9, 9, 9}).Attachment(AttachmentIdPTMaterial); d[0] != red {
		t.Errorf("voxel (9,9,9) = %v", d)
	}
	count := 0
	sft.IterVoxels(func(p [3]int, v VoxelView) bool {
		count++
		return true
	})
	if count != 2 {
		t.Errorf("iteration saw %d voxels, want 2", count)
	}
}

func TestCompressedTreeSharesWireShape(t *testing.T) {
	thc := NewTHC(16, defaultAttachments())
	thc.SetAttachment([3]int{1, 1, 1}, AttachmentIdEmissive, []uint32{9})
	c := NewTHCCompressed(thc)

	nodes := c.Nodes()
	if len(nodes) < 2 {
		t.Fatalf("expected root plus a preleaf, got %d nodes", len(nodes))
	}
	if nodes[0].IsPreleaf() {
		t.Error("root of a 16^3 tree is internal")
	}
	preleaf := nodes[int(nodes[0].ChildPtr)]
	if !preleaf.IsPreleaf() {
		t.Error("child of root should be a preleaf")
	}
	if preleaf.ChildMask != preleaf.LeafMask {
		t.Error("preleaf child and leaf masks agree")
	}
	lookups := c.LookupNodes(AttachmentIdEmissive)
	if len(lookups) != len(nodes) {
		t.Fatalf("lookup array length %d parallels nodes %d", len(lookups), len(nodes))
	}
	if c.RawData(AttachmentIdEmissive)[0] != 9 {
		t.Error("raw payload should hold the emissive dword")
	}
}
