package gradient

import "testing"

func TestSobelZeroOnConstantField(t *testing.T) {
	const w, h = 5, 5
	src := make([]float32, w*h)
	for i := range src {
		src[i] = 3.5
	}
	gx := make([]float32, w*h)
	gy := make([]float32, w*h)
	Sobel(src, w, h, gx, gy)

	for i := range gx {
		if gx[i] != 0 || gy[i] != 0 {
			t.Fatalf("expected zero gradient on constant field at %d, got gx=%v gy=%v", i, gx[i], gy[i])
		}
	}
}

func TestSobelDetectsHorizontalRamp(t *testing.T) {
	const w, h = 6, 6
	src := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src[y*w+x] = float32(x)
		}
	}
	gx := make([]float32, w*h)
	gy := make([]float32, w*h)
	Sobel(src, w, h, gx, gy)

	// Interior cells (away from the periodic wrap seam) should show a
	// positive x-gradient and ~zero y-gradient.
	i := 3*w + 3
	if gx[i] <= 0 {
		t.Errorf("gx at interior ramp cell = %v, want > 0", gx[i])
	}
	if gy[i] != 0 {
		t.Errorf("gy at interior ramp cell = %v, want 0", gy[i])
	}
}

func TestSobelWrapsPeriodically(t *testing.T) {
	const w, h = 4, 4
	src := make([]float32, w*h)
	src[0] = 1 // single hot cell at origin
	gx := make([]float32, w*h)
	gy := make([]float32, w*h)
	// Must not panic indexing out of range when the stencil wraps
	// around row/column 0.
	Sobel(src, w, h, gx, gy)

	if gx[(h-1)*w+(w-1)] == 0 && gy[(h-1)*w+(w-1)] == 0 {
		t.Errorf("expected the wrapped neighbor of the hot cell to see a nonzero gradient")
	}
}
