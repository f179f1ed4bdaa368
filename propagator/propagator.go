// Package propagator implements the CPU backend: it owns every buffer
// a Flow Lenia simulation needs for the lifetime of a run, synthesizes
// its kernels once at construction, and orchestrates one time step as
// convolution → growth → gradient → flow → reintegration, parallelizing the
// reintegration scatter across a worker pool the way the teacher's
// game loop shards entity updates across goroutines.
package propagator

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/convolve"
	"github.com/pthm-cable/flowlenia/embedded"
	"github.com/pthm-cable/flowlenia/field"
	"github.com/pthm-cable/flowlenia/flow"
	"github.com/pthm-cable/flowlenia/gradient"
	"github.com/pthm-cable/flowlenia/growth"
	"github.com/pthm-cable/flowlenia/kernel"
	"github.com/pthm-cable/flowlenia/reintegrate"
	"github.com/pthm-cable/flowlenia/seed"
	"github.com/pthm-cable/flowlenia/telemetry"
)

// Per-step phase names, sampled by the embedded PerfCollector.
const (
	PhaseConvolve     = "convolve_growth"
	PhaseGradient     = "gradient"
	PhaseFlow         = "flow"
	PhaseReintegrate  = "reintegrate"
	perfWindowSamples = 64
)

// ParamKind selects one of the five embedded-mode parameter fields.
type ParamKind int

const (
	ParamMu ParamKind = iota
	ParamSigma
	ParamH
	ParamBetaA
	ParamN
)

// FieldView is a read-only snapshot of one W×H scalar field. Data is a
// caller-owned copy; mutating it never affects the simulation.
type FieldView struct {
	W, H int
	Data []float32
}

// StateView is a read-only snapshot of every activation channel plus
// the step counter and simulation time. Channels are caller-owned
// copies.
type StateView struct {
	W, H, C  int
	Step     uint64
	Time     float64
	Channels [][]float32
}

// kernelRuntime pairs one kernel's config (for scalar μ, σ, h lookup
// in non-embedded mode) with its precomputed tensor.
type kernelRuntime struct {
	spec   config.KernelConfig
	tensor *kernel.Tensor
}

// Propagator is the CPU backend. It is a value with no shared mutable
// state beyond its own fields; multiple Propagators may coexist.
type Propagator struct {
	cfg   *config.SimulationConfig
	state *field.State
	plan  *convolve.Plan

	kernels []kernelRuntime

	convScratch  *convolve.Spectrum
	convResult   []float32
	growthResult []float32

	affinity   []*field.Grid
	channelSum *field.Grid
	gradSumX   *field.Grid
	gradSumY   *field.Grid
	gradUX     []*field.Grid
	gradUY     []*field.Grid
	flowX      []*field.Grid
	flowY      []*field.Grid

	numWorkers int
	shards     [][]float32

	embedEnabled     bool
	embedPolicy      embedded.Policy
	embedTemperature float64
	paramsRead       *embedded.Fields
	paramsWrite      *embedded.Fields
	contribs         [][]embedded.Contribution

	currentSeed seed.Seed
	initialMass float64

	perf *telemetry.PerfCollector
}

// New constructs a Propagator from an already-validated config and an
// initial seed. cfg is assumed valid (config.Load validates); any
// error returned here reflects a kernel-synthesis failure the config
// layer could not have caught in isolation (e.g. a zero-sum kernel
// from ring cancellation).
func New(cfg *config.SimulationConfig, sd seed.Seed) (*Propagator, error) {
	plan, err := convolve.NewPlan(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("propagator: %w", err)
	}

	kernels := make([]kernelRuntime, 0, len(cfg.Kernels))
	for _, kc := range cfg.Kernels {
		spec := kernel.Spec{
			R:             kc.R,
			Rings:         ringsFromConfig(kc.Rings),
			Weight:        kc.H,
			Mu:            kc.Mu,
			Sigma:         kc.Sigma,
			SourceChannel: kc.SourceChannel,
			TargetChannel: kc.TargetChannel,
		}
		tensor, err := kernel.Synthesize(spec, cfg.KernelRadius, cfg.Width, cfg.Height, plan)
		if err != nil {
			return nil, fmt.Errorf("propagator: %w", err)
		}
		kernels = append(kernels, kernelRuntime{spec: kc, tensor: tensor})
	}

	w, h, c := cfg.Width, cfg.Height, cfg.Channels
	p := &Propagator{
		cfg:     cfg,
		state:   field.NewState(w, h, c, cfg.Dt),
		plan:    plan,
		kernels: kernels,

		convResult:   make([]float32, w*h),
		growthResult: make([]float32, w*h),

		channelSum: field.NewGrid(w, h),
		gradSumX:   field.NewGrid(w, h),
		gradSumY:   field.NewGrid(w, h),

		numWorkers: runtime.GOMAXPROCS(0),

		currentSeed: sd,
		perf:        telemetry.NewPerfCollector(perfWindowSamples, w*h),
	}

	p.affinity = make([]*field.Grid, c)
	p.gradUX = make([]*field.Grid, c)
	p.gradUY = make([]*field.Grid, c)
	p.flowX = make([]*field.Grid, c)
	p.flowY = make([]*field.Grid, c)
	for i := 0; i < c; i++ {
		p.affinity[i] = field.NewGrid(w, h)
		p.gradUX[i] = field.NewGrid(w, h)
		p.gradUY[i] = field.NewGrid(w, h)
		p.flowX[i] = field.NewGrid(w, h)
		p.flowY[i] = field.NewGrid(w, h)
	}

	p.shards = make([][]float32, p.numWorkers)
	for i := range p.shards {
		p.shards[i] = make([]float32, w*h)
	}

	if cfg.Embedding.Enabled {
		p.embedEnabled = true
		p.embedTemperature = cfg.Embedding.MixingTemperature
		if cfg.Embedding.LinearMixing {
			p.embedPolicy = embedded.Linear
		} else {
			p.embedPolicy = embedded.Softmax
		}
		def := embedded.Vector{BetaA: float32(cfg.Flow.BetaA), N: float32(cfg.Flow.N)}
		if len(kernels) > 0 {
			def.Mu = float32(kernels[0].spec.Mu)
			def.Sigma = float32(kernels[0].spec.Sigma)
			def.H = float32(kernels[0].spec.H)
		}
		p.paramsRead = embedded.NewFields(w, h, def)
		p.paramsWrite = embedded.NewFields(w, h, def)
		p.contribs = make([][]embedded.Contribution, w*h)
	}

	if err := p.applySeed(sd); err != nil {
		return nil, err
	}

	return p, nil
}

func ringsFromConfig(rc []config.RingConfig) []kernel.Ring {
	out := make([]kernel.Ring, len(rc))
	for i, r := range rc {
		out[i] = kernel.Ring{Amplitude: r.Amplitude, Distance: r.Distance, Width: r.Width}
	}
	return out
}

func (p *Propagator) applySeed(sd seed.Seed) error {
	channels := make([][]float32, p.cfg.Channels)
	for i, g := range p.state.Read {
		channels[i] = g.Data
	}
	sd.Apply(channels, p.cfg.Width, p.cfg.Height)
	p.currentSeed = sd
	p.initialMass = p.state.TotalMass()
	return nil
}

// Step advances the simulation by one dt, per spec.md §4.8: zero
// affinity, convolve+grow+accumulate per kernel, compute the
// channel-sum and its gradient, compute per-channel affinity
// gradients and flow, reintegrate each channel's mass, then swap
// buffers and advance the step counter. Field buffers are sized at
// construction and reused; the convolution scratch spectrum is
// allocated on the first call, and embedded mode allocates while it
// collects and mixes per-destination contributions. When
// cfg.Debug.CheckMassDrift is set, a drift beyond
// cfg.Debug.MassDriftTol is logged as a warning; the step still
// succeeds.
func (p *Propagator) Step() error {
	p.perf.StartTick()
	w, h := p.cfg.Width, p.cfg.Height

	for _, a := range p.affinity {
		a.Zero()
	}

	p.perf.StartPhase(PhaseConvolve)
	for _, kr := range p.kernels {
		src := p.state.Read[kr.spec.SourceChannel].Data
		p.convScratch = p.plan.Forward(src, p.convScratch)
		for i, k := range kr.tensor.Freq.Data {
			p.convScratch.Data[i] *= k
		}
		p.plan.Inverse(p.convScratch, p.convResult)

		target := p.affinity[kr.spec.TargetChannel].Data
		if p.embedEnabled && kr.spec.TargetChannel == 0 {
			growth.EvalPerCell(p.convResult, p.paramsRead.Mu, p.paramsRead.Sigma, p.growthResult)
			growth.AccumulatePerCell(p.growthResult, p.paramsRead.H_, target)
		} else {
			growth.Eval(p.convResult, kr.spec.Mu, kr.spec.Sigma, p.growthResult)
			growth.Accumulate(p.growthResult, kr.spec.H, target)
		}
	}

	p.computeChannelSum()

	p.perf.StartPhase(PhaseGradient)
	gradient.Sobel(p.channelSum.Data, w, h, p.gradSumX.Data, p.gradSumY.Data)
	for c := 0; c < p.cfg.Channels; c++ {
		gradient.Sobel(p.affinity[c].Data, w, h, p.gradUX[c].Data, p.gradUY[c].Data)
	}

	p.perf.StartPhase(PhaseFlow)
	for c := 0; c < p.cfg.Channels; c++ {
		if p.embedEnabled && c == 0 {
			flow.SynthesizePerCell(
				p.gradUX[c].Data, p.gradUY[c].Data,
				p.gradSumX.Data, p.gradSumY.Data,
				p.channelSum.Data,
				p.paramsRead.BetaA, p.paramsRead.N,
				p.flowX[c].Data, p.flowY[c].Data,
			)
			continue
		}
		params := flow.Params{BetaA: p.cfg.Flow.BetaA, N: p.cfg.Flow.N}
		flow.Synthesize(
			p.gradUX[c].Data, p.gradUY[c].Data,
			p.gradSumX.Data, p.gradSumY.Data,
			p.channelSum.Data, params,
			p.flowX[c].Data, p.flowY[c].Data,
		)
	}

	p.perf.StartPhase(PhaseReintegrate)
	halfSide := p.cfg.Flow.DistributionSize
	for c := 0; c < p.cfg.Channels; c++ {
		p.state.Write[c].Zero()
		if p.embedEnabled && c == 0 {
			p.reintegrateChannelWithParams(c, halfSide)
		} else {
			p.reintegrateChannelParallel(c, halfSide)
		}
	}

	p.state.Swap()
	if p.embedEnabled {
		p.paramsRead, p.paramsWrite = p.paramsWrite, p.paramsRead
	}

	drift := math.NaN()
	if p.initialMass != 0 {
		drift = (p.state.TotalMass() - p.initialMass) / p.initialMass
	}
	if p.cfg.Debug.CheckMassDrift && math.Abs(drift) > p.cfg.Debug.MassDriftTol {
		slog.Warn("propagator: mass drift beyond tolerance", "step", p.state.Step, "drift", drift, "tolerance", p.cfg.Debug.MassDriftTol)
	}
	p.perf.EndTick(drift)
	return nil
}

// computeChannelSum sums every activation channel into A_sum.
func (p *Propagator) computeChannelSum() {
	cs := p.channelSum.Data
	for i := range cs {
		cs[i] = 0
	}
	for _, g := range p.state.Read {
		for i, v := range g.Data {
			cs[i] += v
		}
	}
}

// reintegrateChannelParallel shards source cells of channel c across
// p.numWorkers goroutines, each scattering into its own shard, merged
// afterward — the teacher's snapshot/chunk worker-pool pattern
// (game/parallel.go), applied to reintegration instead of entity
// physics, satisfying spec.md §5's "never unsynchronized shared
// writes" requirement.
func (p *Propagator) reintegrateChannelParallel(c int, halfSide float64) {
	src := p.state.Read[c].Data
	fx := p.flowX[c].Data
	fy := p.flowY[c].Data
	dst := p.state.Write[c].Data
	w, h, dt := p.cfg.Width, p.cfg.Height, p.cfg.Dt

	for _, shard := range p.shards {
		for i := range shard {
			shard[i] = 0
		}
	}

	n := len(src)
	chunk := (n + p.numWorkers - 1) / p.numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < p.numWorkers; worker++ {
		lo := worker * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int, shard []float32) {
			defer wg.Done()
			reintegrate.ScatterRange(src, fx, fy, w, h, dt, halfSide, lo, hi, shard)
		}(lo, hi, p.shards[worker])
	}
	wg.Wait()

	reintegrate.SumInto(p.shards, dst)
}

// reintegrateChannelWithParams reintegrates channel 0's mass
// sequentially while also collecting, per destination cell, the
// (mass, parameter vector) contribution of every source that landed
// there — then mixes each destination's new parameter vector under
// the configured policy. Run single-threaded because the mixer needs
// every contribution to a destination collected before it can mix,
// unlike the embarrassingly-parallel mass-only scatter.
func (p *Propagator) reintegrateChannelWithParams(c int, halfSide float64) {
	src := p.state.Read[c].Data
	fx := p.flowX[c].Data
	fy := p.flowY[c].Data
	dst := p.state.Write[c].Data
	w, h, dt := p.cfg.Width, p.cfg.Height, p.cfg.Dt

	for i := range p.contribs {
		p.contribs[i] = p.contribs[i][:0]
	}

	reintegrate.ScatterWithContributions(src, fx, fy, w, h, dt, halfSide, func(srcIdx, dstIdx int, mass float32) {
		dst[dstIdx] += mass
		p.contribs[dstIdx] = append(p.contribs[dstIdx], embedded.Contribution{
			Mass:   mass,
			Params: p.paramsRead.Get(srcIdx),
		})
	})

	for i := 0; i < w*h; i++ {
		if v, ok := embedded.Mix(p.contribs[i], p.embedPolicy, p.embedTemperature); ok {
			p.paramsWrite.At(i, v)
		} else {
			p.paramsWrite.At(i, p.paramsRead.Get(i))
		}
	}
}

// Run performs n steps in sequence, stopping at the first error.
func (p *Propagator) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := p.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Reset recomputes the initial activation from sd and zeros the step
// counter. It never changes W, H, or C: the propagator's shape is
// fixed for its lifetime, per spec.md §5's memory discipline.
func (p *Propagator) Reset(sd seed.Seed) error {
	if err := p.state.ResetShape(p.cfg.Width, p.cfg.Height, p.cfg.Channels); err != nil {
		return err
	}
	if p.embedEnabled {
		def := p.paramsRead.Get(0)
		for i := 0; i < p.cfg.Width*p.cfg.Height; i++ {
			p.paramsRead.At(i, def)
			p.paramsWrite.At(i, def)
		}
	}
	return p.applySeed(sd)
}

// UpdateKernelGrowth overwrites kernel i's scalar growth parameters
// (μ, σ, h) in place, for interactive tools that let an operator tune
// growth response on a live simulation without reconstructing the
// propagator. It leaves the kernel's neighborhood shape (R, rings)
// untouched, since changing those would require resynthesizing the
// kernel tensor.
func (p *Propagator) UpdateKernelGrowth(i int, mu, sigma, h float64) {
	if i < 0 || i >= len(p.kernels) {
		return
	}
	p.kernels[i].spec.Mu = mu
	p.kernels[i].spec.Sigma = sigma
	p.kernels[i].spec.H = h
}

// TotalMass returns the sum of every activation channel in the
// current read buffer.
func (p *Propagator) TotalMass() float64 {
	return p.state.TotalMass()
}

// CurrentTime returns step · dt.
func (p *Propagator) CurrentTime() float64 {
	return p.state.Time()
}

// CurrentStep returns the number of completed steps.
func (p *Propagator) CurrentStep() uint64 {
	return p.state.Step
}

// ReadState returns a caller-owned snapshot of every activation
// channel.
func (p *Propagator) ReadState() StateView {
	channels := make([][]float32, p.cfg.Channels)
	for i, g := range p.state.Read {
		data := make([]float32, len(g.Data))
		copy(data, g.Data)
		channels[i] = data
	}
	return StateView{
		W: p.cfg.Width, H: p.cfg.Height, C: p.cfg.Channels,
		Step: p.state.Step, Time: p.state.Time(),
		Channels: channels,
	}
}

// ReadParameterField returns a caller-owned snapshot of one embedded
// parameter field. channel is accepted for interface symmetry with
// multi-channel configs but is currently unused: embedded parameters
// only ride with channel 0's mass (spec.md §4.8 step 6). Returns a
// zero-value FieldView when embedding is disabled.
func (p *Propagator) ReadParameterField(kind ParamKind, channel int) FieldView {
	if !p.embedEnabled {
		return FieldView{}
	}
	var src []float32
	switch kind {
	case ParamMu:
		src = p.paramsRead.Mu
	case ParamSigma:
		src = p.paramsRead.Sigma
	case ParamH:
		src = p.paramsRead.H_
	case ParamBetaA:
		src = p.paramsRead.BetaA
	case ParamN:
		src = p.paramsRead.N
	default:
		return FieldView{}
	}
	data := make([]float32, len(src))
	copy(data, src)
	return FieldView{W: p.cfg.Width, H: p.cfg.Height, Data: data}
}

// PerfStats returns the rolling per-phase timing statistics collected
// over the last window of steps.
func (p *Propagator) PerfStats() telemetry.PerfStats {
	return p.perf.Stats()
}
