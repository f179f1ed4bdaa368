// Package config loads and validates Flow Lenia simulation
// configuration. Parsing a document and validating its constraints are
// both ambient, non-core concerns: the core pipeline only ever
// consumes an already-validated *SimulationConfig value, never a raw
// document.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ConfigError reports a validation failure at construction or reset.
// It is always user-facing and never occurs once a SimulationConfig
// has been accepted and a propagator built from it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(field string, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// KernelConfig is one kernel's declarative spec, matching spec.md §3's
// kernel spec fields.
type KernelConfig struct {
	R     float64      `yaml:"r"`
	Rings []RingConfig `yaml:"rings"`
	H     float64      `yaml:"h"`
	Mu    float64      `yaml:"mu"`
	Sigma float64      `yaml:"sigma"`

	SourceChannel int `yaml:"source_channel"`
	TargetChannel int `yaml:"target_channel"`
}

// RingConfig is one concentric Gaussian shell of a kernel.
type RingConfig struct {
	Amplitude float64 `yaml:"amplitude"`
	Distance  float64 `yaml:"distance"`
	Width     float64 `yaml:"width"`
}

// FlowConfig holds the shared (non-embedded) flow parameters.
type FlowConfig struct {
	BetaA            float64 `yaml:"beta_a"`
	N                float64 `yaml:"n"`
	DistributionSize float64 `yaml:"distribution_size"`
}

// EmbeddingConfig toggles and configures the embedded-parameter
// extension.
type EmbeddingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	MixingTemperature float64 `yaml:"mixing_temperature"`
	LinearMixing      bool    `yaml:"linear_mixing"`
}

// GPUConfig controls GPU backend selection and its device-loss
// fallback behavior.
type GPUConfig struct {
	Enabled       bool `yaml:"enabled"`
	FallbackToCPU bool `yaml:"fallback_to_cpu"`
}

// DebugConfig controls optional, off-by-default runtime checks that
// never abort a step by default (spec.md §7).
type DebugConfig struct {
	CheckMassDrift bool    `yaml:"check_mass_drift"`
	MassDriftTol   float64 `yaml:"mass_drift_tolerance"`
}

// SimulationConfig is the full, validated document the core consumes.
type SimulationConfig struct {
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	Channels      int     `yaml:"channels"`
	Dt            float64 `yaml:"dt"`
	KernelRadius  int     `yaml:"kernel_radius"`

	Kernels   []KernelConfig  `yaml:"kernels"`
	Flow      FlowConfig      `yaml:"flow"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	GPU       GPUConfig       `yaml:"gpu"`
	Debug     DebugConfig     `yaml:"debug"`
}

// maxCells bounds width*height to keep FFT plans and scratch buffers
// within a sane memory budget for this implementation.
const maxCells = 1 << 24 // 16M cells

// Load parses the embedded defaults, merges an optional override
// document over them, and validates the result.
func Load(overrideYAML []byte) (*SimulationConfig, error) {
	var cfg SimulationConfig
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded defaults: %w", err)
	}
	if len(overrideYAML) > 0 {
		if err := yaml.Unmarshal(overrideYAML, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing override document: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteYAML serializes the config to path, letting a run log capture
// the exact parameters that produced it alongside telemetry output.
func (c *SimulationConfig) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// MustLoad is a convenience wrapper for call sites (tests, demo
// binaries) that choose to treat a ConfigError as fatal; library code
// should prefer Load and handle the error.
func MustLoad(overrideYAML []byte) *SimulationConfig {
	cfg, err := Load(overrideYAML)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks every constraint in spec.md §6, returning the first
// violation found as a ConfigError.
func (c *SimulationConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return configErr("width/height", "must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Width*c.Height > maxCells {
		return configErr("width/height", "product %d exceeds implementation limit %d", c.Width*c.Height, maxCells)
	}
	if c.Channels < 1 {
		return configErr("channels", "must be >= 1, got %d", c.Channels)
	}
	if math.IsNaN(c.Dt) || math.IsInf(c.Dt, 0) {
		return configErr("dt", "must be finite, got %v", c.Dt)
	}
	if c.KernelRadius < 1 {
		return configErr("kernel_radius", "must be >= 1, got %d", c.KernelRadius)
	}
	if 2*c.KernelRadius+1 > minInt(c.Width, c.Height) {
		return configErr("kernel_radius", "2R+1 (%d) exceeds min(width,height) (%d)", 2*c.KernelRadius+1, minInt(c.Width, c.Height))
	}
	if len(c.Kernels) == 0 {
		return configErr("kernels", "must be a nonempty list")
	}
	for i, k := range c.Kernels {
		if k.SourceChannel < 0 || k.SourceChannel >= c.Channels {
			return configErr("kernels", "kernel %d source_channel %d out of [0,%d)", i, k.SourceChannel, c.Channels)
		}
		if k.TargetChannel < 0 || k.TargetChannel >= c.Channels {
			return configErr("kernels", "kernel %d target_channel %d out of [0,%d)", i, k.TargetChannel, c.Channels)
		}
	}
	if c.Flow.BetaA <= 0 {
		return configErr("flow.beta_a", "must be > 0, got %v", c.Flow.BetaA)
	}
	if c.Flow.N < 0 {
		return configErr("flow.n", "must be >= 0, got %v", c.Flow.N)
	}
	if c.Flow.DistributionSize <= 0 {
		return configErr("flow.distribution_size", "must be > 0, got %v", c.Flow.DistributionSize)
	}
	if c.Embedding.Enabled && !c.Embedding.LinearMixing && c.Embedding.MixingTemperature <= 0 {
		return configErr("embedding.mixing_temperature", "must be > 0 when softmax mixing is selected")
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
