// Package growth evaluates the bell-shaped growth function on a
// kernel's convolution result and accumulates weighted contributions
// into the affinity field. It retains no state across steps: the
// caller zeroes the affinity field before the first kernel of a step.
package growth

import "math"

// Eval computes g(x) = 2·exp(−(u(x) − μ)²/(2σ²)) − 1 for every cell of
// u, writing into dst (which may alias u). Result lies in [−1, 1].
func Eval(u []float32, mu, sigma float64, dst []float32) {
	s := 2 * sigma * sigma
	for i, v := range u {
		d := float64(v) - mu
		dst[i] = float32(2*math.Exp(-(d*d)/s) - 1)
	}
}

// EvalPerCell is the embedded-mode variant: μ and σ are read per cell
// from parameter fields instead of from a shared kernel spec.
func EvalPerCell(u []float32, mu, sigma []float32, dst []float32) {
	for i, v := range u {
		s := 2 * float64(sigma[i]) * float64(sigma[i])
		d := float64(v) - float64(mu[i])
		dst[i] = float32(2*math.Exp(-(d*d)/s) - 1)
	}
}

// Accumulate adds weight·g(x) into the affinity field U for every
// cell: U[i] += h · g[i].
func Accumulate(g []float32, weight float64, u []float32) {
	w := float32(weight)
	for i, v := range g {
		u[i] += w * v
	}
}

// AccumulatePerCell is the embedded-mode variant: h is read per cell.
func AccumulatePerCell(g []float32, weight []float32, u []float32) {
	for i, v := range g {
		u[i] += weight[i] * v
	}
}
