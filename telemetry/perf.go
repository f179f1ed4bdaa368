package telemetry

import (
	"log/slog"
	"math"
	"sort"
	"time"
)

// Phase names for the simulation step. Mirrors propagator's exported
// Phase* constants; duplicated here rather than imported to keep
// telemetry free of a dependency on propagator.
const (
	PhaseConvolve    = "convolve_growth"
	PhaseGradient    = "gradient"
	PhaseFlow        = "flow"
	PhaseReintegrate = "reintegrate"
)

// tickSample is one step's phase breakdown plus the fractional mass
// drift observed at the end of that step (NaN if the caller isn't
// tracking drift that tick).
type tickSample struct {
	duration time.Duration
	phases   map[string]time.Duration
	drift    float64
}

// PerfCollector accumulates per-phase timing and mass-drift history
// over a rolling window of steps. It reports in units a field
// simulation cares about — cells processed per second, which phase is
// the current bottleneck, how much mass is drifting per tick — rather
// than a generic tick timer, the way `game.PerfStats` ranks per-system
// cost by `SortedNames` instead of just reporting a flat average.
type PerfCollector struct {
	windowSize int
	cells      int // width*height, for throughput reporting

	samples     []tickSample
	writeIndex  int
	sampleCount int

	phases     map[string]time.Duration
	tickStart  time.Time
	phaseStart time.Time
	lastPhase  string

	lastFrameTime time.Time
	frameDuration time.Duration
}

// NewPerfCollector creates a collector averaging over windowSize
// steps, reporting throughput against a grid of the given cell count
// (width*height; pass 0 if unknown to disable CellsPerSecond).
func NewPerfCollector(windowSize, cells int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 64
	}
	return &PerfCollector{
		windowSize: windowSize,
		cells:      cells,
		samples:    make([]tickSample, windowSize),
		phases:     make(map[string]time.Duration),
	}
}

// StartTick begins timing a new simulation step.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.phases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific pipeline stage, closing out
// whichever stage was previously open.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.phases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndTick closes the final phase and records the step, tagging it
// with the fractional mass drift observed this step. Pass
// math.NaN() for massDrift when the caller isn't tracking it.
func (p *PerfCollector) EndTick(massDrift float64) {
	now := time.Now()
	if p.lastPhase != "" {
		p.phases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = tickSample{
		duration: now.Sub(p.tickStart),
		phases:   p.phases,
		drift:    massDrift,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// RecordFrame records frame timing, for a graphics-mode caller
// reporting display FPS alongside simulation throughput.
func (p *PerfCollector) RecordFrame() {
	now := time.Now()
	if !p.lastFrameTime.IsZero() {
		p.frameDuration = now.Sub(p.lastFrameTime)
	}
	p.lastFrameTime = now
}

// PerfStats holds the rolling-window aggregate of a PerfCollector.
type PerfStats struct {
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration

	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	// BottleneckPhase is the phase consuming the largest average
	// share of step time this window, ranked the way game.PerfStats
	// ranks per-system cost for its SortedNames view.
	BottleneckPhase string

	TicksPerSecond float64
	CellsPerSecond float64

	// AvgMassDriftPPM is the mean absolute fractional mass drift
	// across tracked steps, in parts per million. NaN if no step in
	// the window reported a drift value.
	AvgMassDriftPPM float64

	FrameDuration time.Duration
	FPS           float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	var fps float64
	if p.frameDuration > 0 {
		fps = float64(time.Second) / float64(p.frameDuration)
	}

	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg:        make(map[string]time.Duration),
			PhasePct:        make(map[string]float64),
			AvgMassDriftPPM: math.NaN(),
			FrameDuration:   p.frameDuration,
			FPS:             fps,
		}
	}

	var totalTick time.Duration
	var minTick, maxTick time.Duration
	phaseSum := make(map[string]time.Duration)
	var driftSum float64
	var driftSamples int

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		totalTick += s.duration

		if i == 0 || s.duration < minTick {
			minTick = s.duration
		}
		if s.duration > maxTick {
			maxTick = s.duration
		}

		for phase, dur := range s.phases {
			phaseSum[phase] += dur
		}

		if !math.IsNaN(s.drift) {
			driftSum += math.Abs(s.drift)
			driftSamples++
		}
	}

	avgTick := totalTick / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration, len(phaseSum))
	phasePct := make(map[string]float64, len(phaseSum))
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avgTick > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avgTick) * 100
		}
	}

	var bottleneck string
	if ranked := rankByCost(phaseAvg); len(ranked) > 0 {
		bottleneck = ranked[0]
	}

	var ticksPerSec, cellsPerSec float64
	if avgTick > 0 {
		ticksPerSec = float64(time.Second) / float64(avgTick)
		cellsPerSec = ticksPerSec * float64(p.cells)
	}

	driftPPM := math.NaN()
	if driftSamples > 0 {
		driftPPM = (driftSum / float64(driftSamples)) * 1e6
	}

	return PerfStats{
		AvgTickDuration: avgTick,
		MinTickDuration: minTick,
		MaxTickDuration: maxTick,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		BottleneckPhase: bottleneck,
		TicksPerSecond:  ticksPerSec,
		CellsPerSecond:  cellsPerSec,
		AvgMassDriftPPM: driftPPM,
		FrameDuration:   p.frameDuration,
		FPS:             fps,
	}
}

// rankByCost orders phase names by average duration, descending — the
// same ranking game.PerfStats.SortedNames applies to per-system cost,
// adapted to the fixed convolve/gradient/flow/reintegrate phase set.
func rankByCost(avg map[string]time.Duration) []string {
	names := make([]string, 0, len(avg))
	for name := range avg {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return avg[names[i]] > avg[names[j]]
	})
	return names
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"avg_tick_us", s.AvgTickDuration.Microseconds(),
		"min_tick_us", s.MinTickDuration.Microseconds(),
		"max_tick_us", s.MaxTickDuration.Microseconds(),
		"ticks_per_sec", int(s.TicksPerSecond),
	}

	if s.CellsPerSecond > 0 {
		attrs = append(attrs, "cells_per_sec", int64(s.CellsPerSecond))
	}
	if s.BottleneckPhase != "" {
		attrs = append(attrs, "bottleneck_phase", s.BottleneckPhase)
	}
	if !math.IsNaN(s.AvgMassDriftPPM) {
		attrs = append(attrs, "avg_mass_drift_ppm", s.AvgMassDriftPPM)
	}
	if s.FPS > 0 {
		attrs = append(attrs, "fps", int(s.FPS))
	}

	for _, phase := range []string{PhaseConvolve, PhaseGradient, PhaseFlow, PhaseReintegrate} {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", int(pct*10)/10.0)
		}
	}

	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("min_tick_us", s.MinTickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
		slog.Float64("cells_per_sec", s.CellsPerSecond),
	}

	if s.BottleneckPhase != "" {
		attrs = append(attrs, slog.String("bottleneck_phase", s.BottleneckPhase))
	}
	if !math.IsNaN(s.AvgMassDriftPPM) {
		attrs = append(attrs, slog.Float64("avg_mass_drift_ppm", s.AvgMassDriftPPM))
	}
	if s.FPS > 0 {
		attrs = append(attrs, slog.Float64("fps", s.FPS))
	}

	for phase, pct := range s.PhasePct {
		attrs = append(attrs, slog.Float64(phase+"_pct", pct))
	}

	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WindowEnd       int32   `csv:"window_end"`
	AvgTickUS       int64   `csv:"avg_tick_us"`
	MinTickUS       int64   `csv:"min_tick_us"`
	MaxTickUS       int64   `csv:"max_tick_us"`
	TicksPerSec     float64 `csv:"ticks_per_sec"`
	CellsPerSec     float64 `csv:"cells_per_sec"`
	BottleneckPhase string  `csv:"bottleneck_phase"`
	AvgMassDriftPPM float64 `csv:"avg_mass_drift_ppm"`
	ConvolvePct     float64 `csv:"convolve_growth_pct"`
	GradientPct     float64 `csv:"gradient_pct"`
	FlowPct         float64 `csv:"flow_pct"`
	ReintegratePct  float64 `csv:"reintegrate_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd int32) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:       windowEnd,
		AvgTickUS:       s.AvgTickDuration.Microseconds(),
		MinTickUS:       s.MinTickDuration.Microseconds(),
		MaxTickUS:       s.MaxTickDuration.Microseconds(),
		TicksPerSec:     s.TicksPerSecond,
		CellsPerSec:     s.CellsPerSecond,
		BottleneckPhase: s.BottleneckPhase,
		AvgMassDriftPPM: s.AvgMassDriftPPM,
		ConvolvePct:     s.PhasePct[PhaseConvolve],
		GradientPct:     s.PhasePct[PhaseGradient],
		FlowPct:         s.PhasePct[PhaseFlow],
		ReintegratePct:  s.PhasePct[PhaseReintegrate],
	}
}
