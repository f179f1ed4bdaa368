package kernel

import (
	"math"
	"testing"

	"github.com/pthm-cable/flowlenia/convolve"
)

func testPlan(t *testing.T, w, h int) *convolve.Plan {
	t.Helper()
	p, err := convolve.NewPlan(w, h)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return p
}

func TestSynthesizeNormalizesToOne(t *testing.T) {
	plan := testPlan(t, 64, 64)
	spec := Spec{
		R:     1,
		Rings: []Ring{{Amplitude: 1, Distance: 0.5, Width: 0.15}},
	}
	tensor, err := Synthesize(spec, 13, 64, 64, plan)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if diff := math.Abs(tensor.NormalizationSum() - 1); diff > 1e-6 {
		t.Errorf("normalization sum = %v, want 1 ± 1e-6", tensor.NormalizationSum())
	}
}

func TestSynthesizeRejectsZeroRadius(t *testing.T) {
	plan := testPlan(t, 32, 32)
	spec := Spec{R: 1, Rings: []Ring{{Amplitude: 1, Distance: 0.5, Width: 0.15}}}
	if _, err := Synthesize(spec, 0, 32, 32, plan); err == nil {
		t.Error("expected ConfigError for R=0, got nil")
	}
}

func TestSynthesizeRejectsNonpositiveWidth(t *testing.T) {
	plan := testPlan(t, 32, 32)
	spec := Spec{R: 1, Rings: []Ring{{Amplitude: 1, Distance: 0.5, Width: 0}}}
	if _, err := Synthesize(spec, 5, 32, 32, plan); err == nil {
		t.Error("expected ConfigError for nonpositive ring width, got nil")
	}
}

func TestSynthesizeRejectsZeroRelativeRadius(t *testing.T) {
	plan := testPlan(t, 32, 32)
	spec := Spec{R: 0, Rings: []Ring{{Amplitude: 1, Distance: 0.5, Width: 0.15}}}
	if _, err := Synthesize(spec, 5, 32, 32, plan); err == nil {
		t.Error("expected ConfigError for r=0, got nil")
	}
}

func TestSynthesizeRejectsDegenerateKernel(t *testing.T) {
	plan := testPlan(t, 32, 32)
	// A ring whose amplitude is zero produces an all-zero kernel, even
	// though its distance lies inside u<=1.
	spec := Spec{R: 1, Rings: []Ring{{Amplitude: 0, Distance: 0.5, Width: 0.15}}}
	if _, err := Synthesize(spec, 5, 32, 32, plan); err == nil {
		t.Error("expected ConfigError for degenerate (zero-sum) kernel, got nil")
	}
}

func TestFrequencyFormMatchesPlanShape(t *testing.T) {
	plan := testPlan(t, 64, 48)
	spec := Spec{R: 1, Rings: []Ring{{Amplitude: 1, Distance: 0.5, Width: 0.15}}}
	tensor, err := Synthesize(spec, 13, 64, 48, plan)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if tensor.Freq.Rows != 48 || tensor.Freq.Cols != 64/2+1 {
		t.Errorf("Freq shape = %dx%d, want 48x33", tensor.Freq.Rows, tensor.Freq.Cols)
	}
}
