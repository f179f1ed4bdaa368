// Package seed builds initial activation states from declarative seed
// specs, matching spec.md §6's Seed variants. Each variant writes into
// an already-zeroed field; none allocate beyond their own construction.
package seed

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Seed is anything that can paint an initial value onto a W×H grid
// for a given channel set. channels is row-major per-channel data,
// each sized w*h and pre-zeroed by the caller.
type Seed interface {
	Apply(channels [][]float32, w, h int)
}

// Blob is one component of a GaussianBlob or MultiBlob seed.
type Blob struct {
	CenterFracX, CenterFracY float64
	RadiusFrac               float64
	Amplitude                float64
	Channel                  int
}

// GaussianBlob fills one channel with amplitude·exp(−d²/(2·(radius·min(W,H))²))
// at distance d from the scaled center, wrapping toroidally so a blob
// near an edge still reads as one connected region.
type GaussianBlob Blob

// Apply implements Seed.
func (b GaussianBlob) Apply(channels [][]float32, w, h int) {
	paintGaussian(channels, w, h, Blob(b))
}

func paintGaussian(channels [][]float32, w, h int, b Blob) {
	cx := b.CenterFracX * float64(w)
	cy := b.CenterFracY * float64(h)
	radius := b.RadiusFrac * float64(minInt(w, h))
	if radius <= 0 {
		return
	}
	denom := 2 * radius * radius
	ch := channels[b.Channel]
	for y := 0; y < h; y++ {
		dy := toroidalDelta(float64(y), cy, float64(h))
		for x := 0; x < w; x++ {
			dx := toroidalDelta(float64(x), cx, float64(w))
			d2 := dx*dx + dy*dy
			v := b.Amplitude * math.Exp(-d2/denom)
			ch[y*w+x] += float32(v)
		}
	}
}

// Ring fills the annulus between innerFrac and outerFrac (relative to
// min(W,H)) around a fractional center with amplitude, zero elsewhere,
// with a narrow smooth transition band at each edge of the annulus.
type Ring struct {
	CenterFracX, CenterFracY float64
	InnerFrac, OuterFrac     float64
	Amplitude                float64
	Channel                  int
}

// transitionFrac is the half-width of the smooth ramp at each annulus
// edge (the ramp spans twice this), relative to min(W,H); a
// design-free choice per spec.md §6.
const transitionFrac = 0.02

// Apply implements Seed.
func (r Ring) Apply(channels [][]float32, w, h int) {
	cx := r.CenterFracX * float64(w)
	cy := r.CenterFracY * float64(h)
	scale := float64(minInt(w, h))
	inner := r.InnerFrac * scale
	outer := r.OuterFrac * scale
	band := transitionFrac * scale
	ch := channels[r.Channel]

	for y := 0; y < h; y++ {
		dy := toroidalDelta(float64(y), cy, float64(h))
		for x := 0; x < w; x++ {
			dx := toroidalDelta(float64(x), cx, float64(w))
			d := math.Hypot(dx, dy)
			ch[y*w+x] += float32(r.Amplitude * ringProfile(d, inner, outer, band))
		}
	}
}

// ringProfile is 1 on [inner+band, outer-band], 0 outside
// [inner-band, outer+band], and ramps smoothly across the 2·band-wide
// zone centered on each edge.
func ringProfile(d, inner, outer, band float64) float64 {
	if d < inner-band || d > outer+band {
		return 0
	}
	if d >= inner+band && d <= outer-band {
		return 1
	}
	if d < inner+band {
		return smoothstep((d - (inner - band)) / (2 * band))
	}
	return 1 - smoothstep((d-(outer-band))/(2*band))
}

func smoothstep(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// MultiBlob additively sums a list of component blobs. The design
// fixes this to summation (not pointwise max) so results are
// deterministic under reordering of the component list.
type MultiBlob []Blob

// Apply implements Seed.
func (m MultiBlob) Apply(channels [][]float32, w, h int) {
	for _, b := range m {
		paintGaussian(channels, w, h, b)
	}
}

// Noise fills one channel with deterministic PRNG values uniform in
// [0, amplitude], seeded by seedU64 so identical seeds always produce
// identical fields.
type Noise struct {
	SeedU64   uint64
	Amplitude float64
	Channel   int
}

// Apply implements Seed.
func (n Noise) Apply(channels [][]float32, w, h int) {
	rng := rand.New(rand.NewSource(int64(n.SeedU64)))
	ch := channels[n.Channel]
	for i := range ch {
		ch[i] += float32(rng.Float64() * n.Amplitude)
	}
}

// StructuredNoise fills one channel with 2D OpenSimplex noise remapped
// to [0, amplitude] — a deterministic structured alternative to
// Noise's white PRNG, useful for seeding spatially-correlated initial
// conditions (grounded in the potential-field noise technique used to
// animate resource capacity fields).
type StructuredNoise struct {
	SeedU64   uint64
	Scale     float64
	Amplitude float64
	Channel   int
}

// Apply implements Seed.
func (n StructuredNoise) Apply(channels [][]float32, w, h int) {
	gen := opensimplex.New(int64(n.SeedU64))
	ch := channels[n.Channel]
	scale := n.Scale
	if scale <= 0 {
		scale = 0.05
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := gen.Eval2(float64(x)*scale, float64(y)*scale) // in [-1,1]
			ch[y*w+x] += float32((v + 1) / 2 * n.Amplitude)
		}
	}
}

// Cell is one sparse (x, y, channel, value) write for a Custom seed.
type Cell struct {
	X, Y    int
	Channel int
	Value   float32
}

// Custom writes sparse values literally; unlisted cells are zero. An
// empty Custom leaves the field all zeros (the S3 fixed-point test).
type Custom []Cell

// Apply implements Seed.
func (c Custom) Apply(channels [][]float32, w, h int) {
	for _, cell := range c {
		x := wrap(cell.X, w)
		y := wrap(cell.Y, h)
		channels[cell.Channel][y*w+x] = cell.Value
	}
}

func toroidalDelta(v, center, period float64) float64 {
	d := v - center
	if d > period/2 {
		d -= period
	} else if d < -period/2 {
		d += period
	}
	return d
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
