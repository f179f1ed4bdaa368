// Package flow combines the affinity gradient and the channel-sum
// gradient into a velocity field via a local mass-dependent blend
// factor: where mass is far below the critical threshold β_A, flow
// follows the affinity gradient (concentration); as mass approaches
// β_A, flow follows the negative mass gradient (diffusion).
package flow

import "math"

// Params are the scalar flow parameters shared by every cell in
// non-embedded mode.
type Params struct {
	BetaA float64 // critical mass threshold, > 0
	N     float64 // transition sharpness, >= 0
}

// alpha computes clamp((A_sum/betaA)^n, 0, 1) for one cell.
func alpha(aSum float32, betaA, n float64) float32 {
	if betaA <= 0 {
		return 1
	}
	ratio := float64(aSum) / betaA
	if ratio < 0 {
		ratio = 0
	}
	a := math.Pow(ratio, n)
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}
	return float32(a)
}

// Synthesize computes Fx, Fy for a target channel from its affinity
// gradient (gradUx, gradUy), the shared channel-sum gradient
// (gradAx, gradAy), and the channel sum Asum, using scalar Params
// shared by every cell.
func Synthesize(gradUx, gradUy, gradAx, gradAy, aSum []float32, p Params, fx, fy []float32) {
	for i := range aSum {
		a := alpha(aSum[i], p.BetaA, p.N)
		fx[i] = (1-a)*gradUx[i] - a*gradAx[i]
		fy[i] = (1-a)*gradUy[i] - a*gradAy[i]
	}
}

// SynthesizePerCell is the embedded-mode variant: β_A and n are read
// per cell from parameter fields instead of a shared Params value.
func SynthesizePerCell(gradUx, gradUy, gradAx, gradAy, aSum, betaA, n []float32, fx, fy []float32) {
	for i := range aSum {
		a := alpha(aSum[i], float64(betaA[i]), float64(n[i]))
		fx[i] = (1-a)*gradUx[i] - a*gradAx[i]
		fy[i] = (1-a)*gradUy[i] - a*gradAy[i]
	}
}
