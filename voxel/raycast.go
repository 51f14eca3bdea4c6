package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const rayAdvanceEpsilon = 0.0001

// rayBoxIntersect runs the slab test against [min,max). The returned
// axis is the one whose slab was entered last, which is the face the
// ray crosses first.
func rayBoxIntersect(ray Ray, min, max [3]float32) (tEnter, tExit float32, axis int, ok bool) {
	tEnter = float32(math.Inf(-1))
	tExit = float32(math.Inf(1))
	axis = 0
	for a := 0; a < 3; a++ {
		o := ray.Origin[a]
		d := ray.Dir[a]
		if d == 0 {
			if o < min[a] || o >= max[a] {
				return 0, 0, 0, false
			}
			continue
		}
		t0 := (min[a] - o) / d
		t1 := (max[a] - o) / d
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tEnter {
			tEnter = t0
			axis = a
		}
		if t1 < tExit {
			tExit = t1
		}
	}
	if tEnter > tExit || tExit < 0 {
		return 0, 0, 0, false
	}
	return tEnter, tExit, axis, true
}

func faceNormal(axis int, dir mgl32.Vec3) mgl32.Vec3 {
	var n mgl32.Vec3
	if dir[axis] > 0 {
		n[axis] = -1
	} else {
		n[axis] = 1
	}
	return n
}

func floorToVoxel(p mgl32.Vec3) [3]int {
	return [3]int{
		int(math.Floor(float64(p.X()))),
		int(math.Floor(float64(p.Y()))),
		int(math.Floor(float64(p.Z()))),
	}
}

// gridRaycast is the dense DDA: step voxel by voxel along the ray,
// crossing the nearest axis boundary each iteration.
func gridRaycast(ray Ray, maxDistance float32, dims [3]int, present func(p [3]int) bool) (Hit, bool) {
	boxMin := [3]float32{0, 0, 0}
	boxMax := [3]float32{float32(dims[0]), float32(dims[1]), float32(dims[2])}
	tEnter, _, axis, ok := rayBoxIntersect(ray, boxMin, boxMax)
	if !ok || tEnter > maxDistance {
		return Hit{}, false
	}
	t := tEnter
	if t < 0 {
		t = 0
	}

	start := ray.Origin.Add(ray.Dir.Mul(t + rayAdvanceEpsilon))
	voxel := floorToVoxel(start)

	var step [3]int
	var tMax, tDelta [3]float32
	inf := float32(math.Inf(1))
	for a := 0; a < 3; a++ {
		d := ray.Dir[a]
		switch {
		case d > 0:
			step[a] = 1
			tMax[a] = t + (float32(voxel[a]+1)-ray.Origin[a]-ray.Dir[a]*t)/d
			tDelta[a] = 1 / d
		case d < 0:
			step[a] = -1
			tMax[a] = t + (float32(voxel[a])-ray.Origin[a]-ray.Dir[a]*t)/d
			tDelta[a] = -1 / d
		default:
			step[a] = 0
			tMax[a] = inf
			tDelta[a] = inf
		}
	}

	for t <= maxDistance {
		if !inBounds(voxel, dims) {
			return Hit{}, false
		}
		if present(voxel) {
			return Hit{Voxel: voxel, Normal: faceNormal(axis, ray.Dir), Distance: t}, true
		}
		axis = 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		t = tMax[axis]
		tMax[axis] += tDelta[axis]
		voxel[axis] += step[axis]
	}
	return Hit{}, false
}

// regionQuery resolves a voxel position to either a present leaf or the
// largest empty cell containing it, letting the caster skip the whole
// cell in one step.
type regionQuery func(p [3]int) (cell AABBi, present bool)

// treeRaycast restarts the descent from the root after every skip. Each
// iteration advances past an empty cell, so the loop runs O(hits along
// the ray) times with an O(log side) descent each.
func treeRaycast(ray Ray, maxDistance float32, side int, query regionQuery) (Hit, bool) {
	boxMin := [3]float32{0, 0, 0}
	boxMax := [3]float32{float32(side), float32(side), float32(side)}
	tEnter, tExit, _, ok := rayBoxIntersect(ray, boxMin, boxMax)
	if !ok || tEnter > maxDistance {
		return Hit{}, false
	}
	t := tEnter
	if t < 0 {
		t = 0
	}

	for t <= maxDistance && t <= tExit {
		pos := ray.Origin.Add(ray.Dir.Mul(t + rayAdvanceEpsilon))
		voxel := floorToVoxel(pos)
		if voxel[0] < 0 || voxel[1] < 0 || voxel[2] < 0 ||
			voxel[0] >= side || voxel[1] >= side || voxel[2] >= side {
			return Hit{}, false
		}
		cell, present := query(voxel)
		if present {
			cellMin := [3]float32{float32(voxel[0]), float32(voxel[1]), float32(voxel[2])}
			cellMax := [3]float32{float32(voxel[0] + 1), float32(voxel[1] + 1), float32(voxel[2] + 1)}
			hitT, _, axis, hitOk := rayBoxIntersect(ray, cellMin, cellMax)
			if !hitOk || hitT < 0 {
				hitT = t
				axis = dominantAxis(ray.Dir)
			}
			if hitT > maxDistance {
				return Hit{}, false
			}
			return Hit{Voxel: voxel, Normal: faceNormal(axis, ray.Dir), Distance: hitT}, true
		}
		cellMin := [3]float32{float32(cell.Min[0]), float32(cell.Min[1]), float32(cell.Min[2])}
		cellMax := [3]float32{float32(cell.Max[0]), float32(cell.Max[1]), float32(cell.Max[2])}
		_, cellExit, _, cellOk := rayBoxIntersect(ray, cellMin, cellMax)
		if !cellOk || cellExit <= t {
			// Degenerate skip, fall back to a single-voxel advance.
			cellExit = t + 1
		}
		t = cellExit + rayAdvanceEpsilon
	}
	return Hit{}, false
}

func dominantAxis(d mgl32.Vec3) int {
	axis := 0
	if abs32(d[1]) > abs32(d[axis]) {
		axis = 1
	}
	if abs32(d[2]) > abs32(d[axis]) {
		axis = 2
	}
	return axis
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
