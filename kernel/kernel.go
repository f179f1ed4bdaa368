// Package kernel synthesizes Gaussian-ring convolution kernels from a
// declarative spec and precomputes their frequency-domain form for the
// lifetime of a simulation. Kernel tensors are built once at
// propagator construction and never mutated afterward.
package kernel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/convolve"
)

// Ring is one concentric Gaussian shell of a kernel: amplitude b,
// relative distance a ∈ (0,1], and width w > 0.
type Ring struct {
	Amplitude float64
	Distance  float64
	Width     float64
}

// Spec fully describes one kernel: its neighborhood shape, growth
// response, and source/target channel wiring. Multiple kernels may
// share any of these fields.
type Spec struct {
	R      float64 // relative neighborhood radius, (0,1]
	Rings  []Ring
	Weight float64 // h
	Mu     float64 // growth center
	Sigma  float64 // growth width, > 0

	SourceChannel int
	TargetChannel int
}

// Tensor is the normalized real kernel of side 2R+1, plus its cached
// frequency form once embedded in a W×H field.
type Tensor struct {
	Side int
	Real []float32 // Side×Side, row-major

	Freq *convolve.Spectrum // cached frequency form, W×H-shaped
}

// core evaluates one ring's contribution at relative distance u (the
// spec's b_j · exp(−((u − a_j)²)/(2w_j²)) term, before summing rings).
func core(u float64, ring Ring) float64 {
	d := u - ring.Distance
	return ring.Amplitude * math.Exp(-(d*d)/(2*ring.Width*ring.Width))
}

// Synthesize builds the normalized real kernel for spec at global
// radius R, then embeds it fftshifted into a W×H zero buffer and takes
// its real-to-complex FFT using plan. Returns a ConfigError for any
// degenerate kernel: R=0, a nonpositive ring width, r=0, or a
// normalization sum of zero.
func Synthesize(spec Spec, r int, w, h int, plan *convolve.Plan) (*Tensor, error) {
	if r <= 0 {
		return nil, &config.ConfigError{Field: "kernel_radius", Err: fmt.Errorf("must be >= 1, got %d", r)}
	}
	if spec.R <= 0 {
		return nil, &config.ConfigError{Field: "kernels.r", Err: fmt.Errorf("relative radius must be > 0, got %v", spec.R)}
	}
	for i, ring := range spec.Rings {
		if ring.Width <= 0 {
			return nil, &config.ConfigError{Field: "kernels.rings", Err: fmt.Errorf("ring %d has nonpositive width %v", i, ring.Width)}
		}
	}

	side := 2*r + 1
	real := make([]float32, side*side)
	scaledR := float64(r) * spec.R

	for i := -r; i <= r; i++ {
		for j := -r; j <= r; j++ {
			dist := math.Sqrt(float64(i*i + j*j))
			u := dist / scaledR
			if u > 1 {
				continue
			}
			var v float64
			for _, ring := range spec.Rings {
				v += core(u, ring)
			}
			real[(i+r)*side+(j+r)] = float32(v)
		}
	}

	sum := floats.Sum(toFloat64(real))
	if sum == 0 {
		return nil, &config.ConfigError{Field: "kernels", Err: fmt.Errorf("degenerate kernel, normalization sum is zero")}
	}
	invSum := float32(1 / sum)
	for i := range real {
		real[i] *= invSum
	}

	padded := make([]float32, w*h)
	fftShiftInto(real, side, r, padded, w, h)

	freq := plan.Forward(padded, nil)
	// Detach from the plan's scratch: this frequency form is cached
	// for the simulation's lifetime, so it must not alias the
	// propagator's reusable scratch spectrum.
	freq = plan.CloneSpectrum(freq)

	return &Tensor{Side: side, Real: real, Freq: freq}, nil
}

// fftShiftInto places a (2r+1)×(2r+1) kernel into a zeroed w×h buffer
// such that the kernel's center lands at the logical origin, wrapping
// modulo w/h — the step `other_examples`' go-lenia reference calls
// FFTShift.
func fftShiftInto(kernel []float32, side, r int, dst []float32, w, h int) {
	for i := range dst {
		dst[i] = 0
	}
	for di := -r; di <= r; di++ {
		for dj := -r; dj <= r; dj++ {
			v := kernel[(di+r)*side+(dj+r)]
			x := mod(dj, w)
			y := mod(di, h)
			dst[y*w+x] = v
		}
	}
}

func mod(a, b int) int {
	a %= b
	if a < 0 {
		a += b
	}
	return a
}

func toFloat64(xs []float32) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}

// NormalizationSum returns the discrete sum of the real kernel, used
// by tests to check the "sums to 1 ± 1e-6" invariant.
func (t *Tensor) NormalizationSum() float64 {
	var s float64
	for _, v := range t.Real {
		s += float64(v)
	}
	return s
}
