package reintegrate

import (
	"math"
	"math/rand"
	"testing"
)

func TestScatterConservesMass(t *testing.T) {
	const w, h = 16, 16
	rng := rand.New(rand.NewSource(3))
	src := make([]float32, w*h)
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)
	for i := range src {
		src[i] = rng.Float32()
		fx[i] = rng.Float32()*4 - 2
		fy[i] = rng.Float32()*4 - 2
	}

	var before float64
	for _, v := range src {
		before += float64(v)
	}

	dst := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, 0.1, 1.0, dst)

	var after float64
	for _, v := range dst {
		after += float64(v)
	}

	tol := 1e-4 * float64(w*h)
	if diff := math.Abs(after - before); diff > tol {
		t.Errorf("mass not conserved: before=%v after=%v diff=%v tol=%v", before, after, diff, tol)
	}
}

func TestScatterNonnegative(t *testing.T) {
	const w, h = 10, 10
	rng := rand.New(rand.NewSource(4))
	src := make([]float32, w*h)
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)
	for i := range src {
		src[i] = rng.Float32() * 5
		fx[i] = rng.Float32()*6 - 3
		fy[i] = rng.Float32()*6 - 3
	}

	dst := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, 0.2, 1.5, dst)

	for i, v := range dst {
		if v < -1e-5 {
			t.Fatalf("dst[%d] = %v, expected >= 0", i, v)
		}
	}
}

func TestScatterZeroFieldFixedPoint(t *testing.T) {
	const w, h = 8, 8
	src := make([]float32, w*h)
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)
	for i := range fx {
		fx[i] = 1
		fy[i] = -1
	}

	dst := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, 0.1, 1.0, dst)

	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %v, want exactly 0 for all-zero source", i, v)
		}
	}
}

func TestScatterRangeShardingMatchesFullScatter(t *testing.T) {
	const w, h = 12, 12
	rng := rand.New(rand.NewSource(5))
	src := make([]float32, w*h)
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)
	for i := range src {
		src[i] = rng.Float32()
		fx[i] = rng.Float32()*2 - 1
		fy[i] = rng.Float32()*2 - 1
	}

	full := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, 0.1, 1.0, full)

	mid := len(src) / 2
	shardA := make([]float32, w*h)
	shardB := make([]float32, w*h)
	ScatterRange(src, fx, fy, w, h, 0.1, 1.0, 0, mid, shardA)
	ScatterRange(src, fx, fy, w, h, 0.1, 1.0, mid, len(src), shardB)

	merged := make([]float32, w*h)
	SumInto([][]float32{shardA, shardB}, merged)

	for i := range full {
		if diff := math.Abs(float64(full[i] - merged[i])); diff > 1e-6 {
			t.Fatalf("sharded scatter mismatch at %d: full=%v merged=%v", i, full[i], merged[i])
		}
	}
}

func TestGatherAgreesWithScatter(t *testing.T) {
	const w, h = 16, 16
	rng := rand.New(rand.NewSource(6))
	src := make([]float32, w*h)
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)
	var vMax float64
	for i := range src {
		src[i] = rng.Float32()
		fx[i] = rng.Float32()*2 - 1
		fy[i] = rng.Float32()*2 - 1
		speed := math.Hypot(float64(fx[i]), float64(fy[i]))
		if speed > vMax {
			vMax = speed
		}
	}

	const dt, halfSide = 0.1, 1.0
	scattered := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, dt, halfSide, scattered)

	radius := SearchRadius(dt, vMax, halfSide)
	gathered := make([]float32, w*h)
	Gather(src, fx, fy, w, h, dt, halfSide, radius, gathered)

	var maxDiff float64
	for i := range scattered {
		if diff := math.Abs(float64(scattered[i] - gathered[i])); diff > maxDiff {
			maxDiff = diff
		}
	}
	if maxDiff > 1e-3 {
		t.Errorf("scatter/gather max abs diff = %v, want <= 1e-3", maxDiff)
	}
}

func TestSmallDistributionStaysWithin2x2(t *testing.T) {
	const w, h = 8, 8
	src := make([]float32, w*h)
	src[3*w+3] = 1
	fx := make([]float32, w*h)
	fy := make([]float32, w*h)

	dst := make([]float32, w*h)
	Scatter(src, fx, fy, w, h, 0, 0.3, dst) // s < 0.5, no flow

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if dst[y*w+x] == 0 {
				continue
			}
			if (x != 3 && x != 2 && x != 4) || (y != 3 && y != 2 && y != 4) {
				t.Fatalf("mass leaked outside the 2x2-ish neighborhood at (%d,%d)", x, y)
			}
		}
	}
}
