// fixturerun constructs the S1 canonical single-blob fixture, runs it
// for a configurable number of steps, and prints the running
// mass/drift/step summary — the Flow Lenia analogue of the teacher's
// standalone shaderdebug harness: one flag-driven binary that exercises
// the pipeline outside any graphics loop.
//
// Usage: go run ./cmd/fixturerun -steps 100 -out ./run-out
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pthm-cable/flowlenia/config"
	"github.com/pthm-cable/flowlenia/propagator"
	"github.com/pthm-cable/flowlenia/seed"
	"github.com/pthm-cable/flowlenia/telemetry"
)

func main() {
	steps := flag.Int("steps", 100, "number of steps to run")
	outDir := flag.String("out", "", "output directory for run.csv/perf.csv/config.yaml (empty disables logging)")
	configPath := flag.String("config", "", "optional YAML override document")
	perfWindow := flag.Int("perf-window", 64, "steps between perf-stat reports (the stats always cover the propagator's fixed 64-step window)")
	flag.Parse()

	var overrideYAML []byte
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading config override: %v\n", err)
			os.Exit(1)
		}
		overrideYAML = data
	}

	cfg, err := config.Load(overrideYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	sd := seed.GaussianBlob{CenterFracX: 0.5, CenterFracY: 0.5, RadiusFrac: 0.1, Amplitude: 1, Channel: 0}

	p, err := propagator.New(cfg, sd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "constructing propagator: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewRunLogger(*outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if logger != nil {
		if err := cfg.WriteYAML(filepath.Join(logger.Dir(), "config.yaml")); err != nil {
			slog.Warn("writing config.yaml", "err", err)
		}
	}

	initialMass := p.TotalMass()
	slog.Info("fixturerun start", "width", cfg.Width, "height", cfg.Height, "steps", *steps, "initial_mass", initialMass)

	for i := 0; i < *steps; i++ {
		stepStart := time.Now()
		if err := p.Step(); err != nil {
			fmt.Fprintf(os.Stderr, "step %d: %v\n", i, err)
			os.Exit(1)
		}
		wall := time.Since(stepStart)

		mass := p.TotalMass()
		drift := (mass - initialMass) / initialMass

		if logger != nil {
			_ = logger.WriteRun(telemetry.RunStats{
				Step:     p.CurrentStep(),
				Time:     p.CurrentTime(),
				Mass:     mass,
				Drift:    drift,
				WallTime: wall.Microseconds(),
			})
		}

		if (i+1)%(*perfWindow) == 0 || i == *steps-1 {
			stats := p.PerfStats()
			if logger != nil {
				_ = logger.WritePerf(stats, int32(p.CurrentStep()))
			}
			stats.LogStats()
		}
	}

	final := p.ReadState()
	slog.Info("fixturerun done",
		"step", final.Step,
		"time", final.Time,
		"mass", p.TotalMass(),
		"drift", (p.TotalMass()-initialMass)/initialMass,
	)
}
