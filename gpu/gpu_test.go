package gpu

import (
	"math"
	"testing"

	"github.com/pthm-cable/flowlenia/config"
)

// discreteKernelSum is the only part of this package that is pure Go;
// everything else requires a live raylib GPU context (window, shader
// compiler, render targets) that a unit test cannot provide.

func TestDiscreteKernelSumIsPositiveForASingleRing(t *testing.T) {
	kc := config.KernelConfig{
		R:     1,
		Rings: []config.RingConfig{{Amplitude: 1, Distance: 0.5, Width: 0.15}},
	}
	sum := discreteKernelSum(kc, 13)
	if sum <= 0 {
		t.Fatalf("discreteKernelSum = %v, want > 0", sum)
	}
}

func TestDiscreteKernelSumScalesWithRadius(t *testing.T) {
	kc := config.KernelConfig{
		R:     1,
		Rings: []config.RingConfig{{Amplitude: 1, Distance: 0.5, Width: 0.15}},
	}
	small := discreteKernelSum(kc, 13)
	large := discreteKernelSum(kc, 26)
	if large <= small {
		t.Errorf("discreteKernelSum(r=26) = %v, want > discreteKernelSum(r=13) = %v", large, small)
	}
}

func TestDiscreteKernelSumCombinesMultipleRings(t *testing.T) {
	oneRing := config.KernelConfig{
		R:     1,
		Rings: []config.RingConfig{{Amplitude: 1, Distance: 0.5, Width: 0.15}},
	}
	twoRings := config.KernelConfig{
		R: 1,
		Rings: []config.RingConfig{
			{Amplitude: 1, Distance: 0.5, Width: 0.15},
			{Amplitude: 1, Distance: 0.8, Width: 0.1},
		},
	}
	sum1 := discreteKernelSum(oneRing, 13)
	sum2 := discreteKernelSum(twoRings, 13)
	if sum2 <= sum1 {
		t.Errorf("two-ring sum = %v, want > one-ring sum = %v", sum2, sum1)
	}
}

func TestDiscreteKernelSumGuardsAgainstZero(t *testing.T) {
	kc := config.KernelConfig{
		R:     1,
		Rings: []config.RingConfig{{Amplitude: 1, Distance: 5, Width: 0.01}},
	}
	sum := discreteKernelSum(kc, 2)
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		t.Fatalf("discreteKernelSum = %v, want finite", sum)
	}
	if sum == 0 {
		t.Fatalf("discreteKernelSum = 0, want the zero guard to keep this out of a later division")
	}
}
