// Package reintegrate implements mass-conserving advection: each
// source cell's mass is redistributed onto a destination square
// footprint, and the area of rectangular intersection between that
// footprint and every grid cell it overlaps determines each cell's
// share. Two equivalent formulations are provided: scatter (the CPU
// backend reads each source once and writes narrowly) and gather (the
// GPU backend's one-invocation-per-destination read pattern, safe
// under parallelism without atomics).
package reintegrate

import "math"

// Contribution is one source's deposit onto a destination cell,
// collected so embedded-mode parameter mixing can weight by mass
// after the fact. Mass is always >= 0 by construction: overlap areas
// are nonnegative and source mass is nonnegative by induction.
type Contribution struct {
	SourceX, SourceY int
	Mass             float32
}

// destination returns the unwrapped (not yet modulo-W/H) destination
// center for a source cell under flow (fx, fy) over a step of size dt:
// the center (x+0.5, y+0.5) of the cell's unit square [x, x+1) ×
// [y, y+1), displaced by dt·(fx, fy).
func destination(x, y int, fx, fy float32, dt float64) (float64, float64) {
	return float64(x) + 0.5 + dt*float64(fx), float64(y) + 0.5 + dt*float64(fy)
}

// footprintRange returns the inclusive range of integer cell indices
// along one axis whose unit interval can overlap a footprint centered
// at center with half-side halfSide.
func footprintRange(center, halfSide float64) (lo, hi int) {
	lo = int(math.Floor(center - halfSide))
	hi = int(math.Floor(center + halfSide))
	return
}

// overlap1D returns the length of intersection between the unit
// interval [cell, cell+1) and [center-halfSide, center+halfSide).
func overlap1D(cell int, center, halfSide float64) float64 {
	lo := math.Max(float64(cell), center-halfSide)
	hi := math.Min(float64(cell+1), center+halfSide)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// visit enumerates every (wrapped destination cell, weight) pair for
// one source cell's footprint and invokes fn with its mass share.
// weight sums to 1 across the full footprint because the footprint's
// area (2·halfSide)² is exactly tiled by its intersections with unit
// cells under periodic wrap.
func visit(x, y int, fx, fy float32, w, h int, dt, halfSide float64, fn func(cx, cy int, weight float64)) {
	dx, dy := destination(x, y, fx, fy, dt)
	xlo, xhi := footprintRange(dx, halfSide)
	ylo, yhi := footprintRange(dy, halfSide)
	area := 4 * halfSide * halfSide

	for cy := ylo; cy <= yhi; cy++ {
		h1 := overlap1D(cy, dy, halfSide)
		if h1 <= 0 {
			continue
		}
		wy := wrap(cy, h)
		for cx := xlo; cx <= xhi; cx++ {
			w1 := overlap1D(cx, dx, halfSide)
			if w1 <= 0 {
				continue
			}
			weight := (w1 * h1) / area
			fn(wrap(cx, w), wy, weight)
		}
	}
}

// Scatter distributes every source cell's mass onto dst according to
// the flow field (fx, fy), a step size dt, and distribution half-side
// halfSide. dst is not zeroed by Scatter; callers zero the write
// buffer once per step, matching the propagator's buffer-ownership
// contract.
func Scatter(src []float32, fx, fy []float32, w, h int, dt, halfSide float64, dst []float32) {
	ScatterRange(src, fx, fy, w, h, dt, halfSide, 0, len(src), dst)
}

// ScatterRange is Scatter restricted to source indices [lo, hi). It
// lets the propagator shard source cells across worker goroutines,
// each writing into its own full-size dst buffer, summed afterward —
// the "per-thread destination shards merged at the end" strategy the
// spec requires in place of unsynchronized shared writes.
func ScatterRange(src []float32, fx, fy []float32, w, h int, dt, halfSide float64, lo, hi int, dst []float32) {
	for i := lo; i < hi; i++ {
		m := src[i]
		if m == 0 {
			continue
		}
		x := i % w
		y := i / w
		visit(x, y, fx[i], fy[i], w, h, dt, halfSide, func(cx, cy int, weight float64) {
			dst[cy*w+cx] += m * float32(weight)
		})
	}
}

// SumInto adds every shard in shards elementwise into out. Used after
// ScatterRange has filled one shard per worker.
func SumInto(shards [][]float32, out []float32) {
	for _, shard := range shards {
		for i, v := range shard {
			out[i] += v
		}
	}
}

// ScatterWithContributions is Scatter's enumeration exposed to callers
// that need to know which source deposited how much mass onto which
// destination cell, not just the summed mass — the embedded-parameter
// mixer uses this to weight each destination's parameter blend by the
// mass each source actually contributed. fn is called once per nonzero
// (source, destination) overlap; it is the caller's responsibility to
// accumulate mass into its own destination buffer, since this variant
// is run single-threaded and does not write dst itself.
func ScatterWithContributions(src []float32, fx, fy []float32, w, h int, dt, halfSide float64, fn func(srcIdx, dstIdx int, mass float32)) {
	for i, m := range src {
		if m == 0 {
			continue
		}
		x := i % w
		y := i / w
		visit(x, y, fx[i], fy[i], w, h, dt, halfSide, func(cx, cy int, weight float64) {
			fn(i, cy*w+cx, m*float32(weight))
		})
	}
}

// SearchRadius returns the minimum window half-width (in cells) a
// gather-formulation scan must cover to see every source that could
// deposit onto a destination cell, given a velocity upper bound and
// the distribution half-side.
func SearchRadius(dt, vMax, halfSide float64) int {
	return int(math.Ceil(math.Abs(dt)*vMax + halfSide + 1))
}

// Gather computes, for each destination cell, the sum of
// overlap-weighted contributions from every source within radius
// cells — the formulation the GPU backend uses to avoid atomic
// scatter writes. Produces the same result as Scatter up to
// floating-point reassociation.
func Gather(src []float32, fx, fy []float32, w, h int, dt, halfSide float64, radius int, dst []float32) {
	GatherRows(src, fx, fy, w, h, dt, halfSide, radius, 0, h, dst)
}

// GatherRows is Gather restricted to destination rows [y0, y1). Each
// row only ever writes its own destination cells and only reads
// source cells, so distinct row ranges may run concurrently with no
// shared mutable state — the CPU-side mirror of the GPU's
// one-invocation-per-destination-cell dispatch.
func GatherRows(src []float32, fx, fy []float32, w, h int, dt, halfSide float64, radius, y0, y1 int, dst []float32) {
	area := 4 * halfSide * halfSide
	for dy := y0; dy < y1; dy++ {
		for dxCell := 0; dxCell < w; dxCell++ {
			var sum float32
			for sy := dy - radius; sy <= dy+radius; sy++ {
				wy := wrap(sy, h)
				for sx := dxCell - radius; sx <= dxCell+radius; sx++ {
					wx := wrap(sx, w)
					si := wy*w + wx
					m := src[si]
					if m == 0 {
						continue
					}
					cx, cy := destination(wx, wy, fx[si], fy[si], dt)
					// Consider the unwrapped source position nearest
					// this destination cell so footprints that cross
					// the periodic seam are measured correctly.
					cx = nearestImage(cx, float64(dxCell), float64(w))
					cy = nearestImage(cy, float64(dy), float64(h))
					w1 := overlap1D(dxCell, cx, halfSide)
					h1 := overlap1D(dy, cy, halfSide)
					if w1 <= 0 || h1 <= 0 {
						continue
					}
					sum += m * float32((w1*h1)/area)
				}
			}
			dst[dy*w+dxCell] = sum
		}
	}
}

// nearestImage picks the periodic image of v (adding/subtracting
// multiples of period) closest to reference, so overlap1D compares
// coordinates in the same unwrapped frame.
func nearestImage(v, reference, period float64) float64 {
	for v-reference > period/2 {
		v -= period
	}
	for reference-v > period/2 {
		v += period
	}
	return v
}
