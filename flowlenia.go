// Package flowlenia is the public entry point for the Flow Lenia
// continuous cellular automaton: it selects a CPU or GPU backend from
// a validated config and exposes both through one Simulation interface,
// the way the teacher's game package sits above its systems and picks
// a concrete renderer without callers needing to know which one.
package flowlenia

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/gpu"
	"github.com/pthm-cable/flowlenia/propagator"
	"github.com/pthm-cable/flowlenia/seed"
)

// Simulation is the external interface spec.md §6 and SPEC_FULL.md §8
// name: every backend advances the lattice by dt, reports scalar
// summaries, and exposes a read-only state snapshot.
type Simulation interface {
	Step() error
	Run(n int) error
	Reset(sd seed.Seed) error
	TotalMass() float64
	CurrentTime() float64
	CurrentStep() uint64
	ReadState() StateView
}

// EmbeddedSimulation additionally exposes the per-cell reaction
// parameter fields of the embedded-parameter extension (spec.md §5).
// Only the CPU backend implements it; see New.
type EmbeddedSimulation interface {
	Simulation
	ReadParameterField(kind ParamKind, channel int) FieldView
}

// StateView, FieldView, and ParamKind are defined once in propagator
// and re-exported here so callers never need to import it directly.
type (
	StateView = propagator.StateView
	FieldView = propagator.FieldView
	ParamKind = propagator.ParamKind
)

const (
	ParamMu     = propagator.ParamMu
	ParamSigma  = propagator.ParamSigma
	ParamH      = propagator.ParamH
	ParamBetaA  = propagator.ParamBetaA
	ParamN      = propagator.ParamN
)

// BackendUnavailable and DeviceLostError are re-exported from gpu so
// callers can type-switch on them without importing gpu directly.
type (
	BackendUnavailable = gpu.BackendUnavailable
	DeviceLostError    = gpu.DeviceLostError
)

// New constructs a Simulation for cfg, applying sd as the initial
// state. When cfg.GPU.Enabled is set it first attempts the GPU
// backend; on BackendUnavailable it falls back to the CPU propagator
// if cfg.GPU.FallbackToCPU allows it, otherwise returns the GPU error
// wrapped with %w, so errors.As still finds BackendUnavailable or
// DeviceLostError and the caller can decide.
func New(cfg *config.SimulationConfig, sd seed.Seed) (Simulation, error) {
	if !cfg.GPU.Enabled {
		return propagator.New(cfg, sd)
	}

	backend, err := gpu.New(cfg, sd)
	if err == nil {
		return backend, nil
	}

	var unavailable *gpu.BackendUnavailable
	if errors.As(err, &unavailable) && cfg.GPU.FallbackToCPU {
		return propagator.New(cfg, sd)
	}
	return nil, fmt.Errorf("flowlenia: gpu backend: %w", err)
}

// NewEmbedded is New's counterpart for callers that need
// ReadParameterField. It never attempts the GPU backend, since
// embedded-parameter mixing has no GPU shader variant (see gpu.New).
func NewEmbedded(cfg *config.SimulationConfig, sd seed.Seed) (EmbeddedSimulation, error) {
	return propagator.New(cfg, sd)
}
