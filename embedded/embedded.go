// Package embedded implements the embedded-parameter extension: each
// grid cell can carry its own reaction parameters (μ, σ, h, β_A, n),
// advected together with its mass. When several sources deposit mass
// onto one destination cell, its new parameter vector is a weighted
// combination of the sources' vectors, chosen by a configurable mixing
// policy.
package embedded

import "math"

// SourceBudget is the GPU backend's cap on tracked sources per
// destination cell: a pragmatic ceiling (design value 64) because only
// close, large contributors materially affect the mix. The CPU
// backend does not need to enforce this.
const SourceBudget = 64

// Vector is one cell's reaction parameter set.
type Vector struct {
	Mu, Sigma, H, BetaA, N float32
}

// Contribution is one source's mass delivery and parameter vector
// toward a single destination cell.
type Contribution struct {
	Mass   float32
	Params Vector
}

// Policy selects how multiple sources' parameters are combined.
type Policy int

const (
	// Linear mixing weights contributions proportional to mass.
	Linear Policy = iota
	// Softmax mixing weights w_i ∝ exp((m_i − m_max)/T).
	Softmax
)

// BoundedCollector accumulates contributions toward one destination
// cell, capping at SourceBudget entries and keeping the first ones
// encountered on overflow — mirroring the GPU backend's fixed-size
// per-destination source list.
type BoundedCollector struct {
	items []Contribution
	limit int
}

// NewBoundedCollector returns a collector capped at limit entries. A
// limit <= 0 means unbounded, the CPU backend's default.
func NewBoundedCollector(limit int) *BoundedCollector {
	return &BoundedCollector{limit: limit}
}

// Add records one contribution, dropping it silently if the collector
// is already at its limit.
func (c *BoundedCollector) Add(contrib Contribution) {
	if c.limit > 0 && len(c.items) >= c.limit {
		return
	}
	c.items = append(c.items, contrib)
}

// Reset clears the collector for reuse without reallocating.
func (c *BoundedCollector) Reset() {
	c.items = c.items[:0]
}

// Items returns the recorded contributions.
func (c *BoundedCollector) Items() []Contribution {
	return c.items
}

// Mix combines contributions under the given policy and temperature
// (used only by Softmax). It returns ok=false when total incoming mass
// is ~0, signaling the caller to leave the destination's parameters at
// their previous value. When exactly one source contributed, that
// source's parameters are copied directly regardless of policy.
func Mix(contribs []Contribution, policy Policy, temperature float64) (Vector, bool) {
	var totalMass float32
	for _, c := range contribs {
		totalMass += c.Mass
	}
	if totalMass <= 1e-12 {
		return Vector{}, false
	}
	if len(contribs) == 1 {
		return contribs[0].Params, true
	}

	switch policy {
	case Softmax:
		return mixSoftmax(contribs, temperature), true
	default:
		return mixLinear(contribs, totalMass), true
	}
}

func mixLinear(contribs []Contribution, totalMass float32) Vector {
	var out Vector
	for _, c := range contribs {
		w := c.Mass / totalMass
		out = addScaled(out, c.Params, w)
	}
	return out
}

// mixSoftmax weights by w_i ∝ exp((m_i − m_max)/T). Subtracting m_max
// is for numerical stability only; it does not change the weights.
func mixSoftmax(contribs []Contribution, temperature float64) Vector {
	var mMax float32
	for i, c := range contribs {
		if i == 0 || c.Mass > mMax {
			mMax = c.Mass
		}
	}

	weights := make([]float64, len(contribs))
	var sum float64
	for i, c := range contribs {
		w := math.Exp((float64(c.Mass) - float64(mMax)) / temperature)
		weights[i] = w
		sum += w
	}

	var out Vector
	for i, c := range contribs {
		out = addScaled(out, c.Params, float32(weights[i]/sum))
	}
	return out
}

func addScaled(acc, v Vector, w float32) Vector {
	acc.Mu += v.Mu * w
	acc.Sigma += v.Sigma * w
	acc.H += v.H * w
	acc.BetaA += v.BetaA * w
	acc.N += v.N * w
	return acc
}

// Fields holds the five parallel W×H parameter grids, double-buffered
// alongside the channel-0 activation field they ride with.
type Fields struct {
	W, H  int
	Mu    []float32
	Sigma []float32
	H_    []float32 // named H_ to avoid colliding with the W,H dims
	BetaA []float32
	N     []float32
}

// NewFields allocates a parameter-field set initialized from a single
// default vector.
func NewFields(w, h int, def Vector) *Fields {
	f := &Fields{
		W: w, H: h,
		Mu:    make([]float32, w*h),
		Sigma: make([]float32, w*h),
		H_:    make([]float32, w*h),
		BetaA: make([]float32, w*h),
		N:     make([]float32, w*h),
	}
	for i := 0; i < w*h; i++ {
		f.At(i, def)
	}
	return f
}

// At writes vector v into cell i of every parameter grid.
func (f *Fields) At(i int, v Vector) {
	f.Mu[i] = v.Mu
	f.Sigma[i] = v.Sigma
	f.H_[i] = v.H
	f.BetaA[i] = v.BetaA
	f.N[i] = v.N
}

// Get reads cell i's vector out of the parameter grids.
func (f *Fields) Get(i int) Vector {
	return Vector{Mu: f.Mu[i], Sigma: f.Sigma[i], H: f.H_[i], BetaA: f.BetaA[i], N: f.N[i]}
}
