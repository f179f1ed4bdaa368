package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// RunStats is one row of the run log: the scalar summary of a single
// step, matching spec.md §7's mass/drift/step/wall-time reporting.
type RunStats struct {
	Step     uint64  `csv:"step"`
	Time     float64 `csv:"time"`
	Mass     float64 `csv:"mass"`
	Drift    float64 `csv:"mass_drift"`
	WallTime int64   `csv:"wall_us"`
}

// RunLogger writes a run's step-by-step scalar summary and perf
// samples to CSV under Dir(); it does not write the run's config
// itself (cmd/fixturerun does that with SimulationConfig.WriteYAML) —
// the Flow Lenia analogue of the teacher's OutputManager, trimmed to
// this domain's scalar fields (mass/drift/step) instead of
// population/event telemetry.
type RunLogger struct {
	dir      string
	runFile  *os.File
	perfFile *os.File

	runHeaderWritten  bool
	perfHeaderWritten bool
}

// NewRunLogger creates run.csv and perf.csv under dir. Returns nil,
// nil if dir is empty (logging disabled).
func NewRunLogger(dir string) (*RunLogger, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	rl := &RunLogger{dir: dir}

	runPath := filepath.Join(dir, "run.csv")
	f, err := os.Create(runPath)
	if err != nil {
		return nil, fmt.Errorf("creating run.csv: %w", err)
	}
	rl.runFile = f

	perfPath := filepath.Join(dir, "perf.csv")
	f, err = os.Create(perfPath)
	if err != nil {
		rl.runFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	rl.perfFile = f

	return rl, nil
}

// WriteRun appends one row to run.csv.
func (rl *RunLogger) WriteRun(stats RunStats) error {
	if rl == nil {
		return nil
	}
	records := []RunStats{stats}
	if !rl.runHeaderWritten {
		if err := gocsv.Marshal(records, rl.runFile); err != nil {
			return fmt.Errorf("writing run stats: %w", err)
		}
		rl.runHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, rl.runFile); err != nil {
		return fmt.Errorf("writing run stats: %w", err)
	}
	return nil
}

// WritePerf appends one row to perf.csv.
func (rl *RunLogger) WritePerf(stats PerfStats, windowEnd int32) error {
	if rl == nil {
		return nil
	}
	records := []PerfStatsCSV{stats.ToCSV(windowEnd)}
	if !rl.perfHeaderWritten {
		if err := gocsv.Marshal(records, rl.perfFile); err != nil {
			return fmt.Errorf("writing perf stats: %w", err)
		}
		rl.perfHeaderWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, rl.perfFile); err != nil {
		return fmt.Errorf("writing perf stats: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (rl *RunLogger) Dir() string {
	if rl == nil {
		return ""
	}
	return rl.dir
}

// Close flushes and closes both CSV files.
func (rl *RunLogger) Close() error {
	if rl == nil {
		return nil
	}
	var firstErr error
	if rl.runFile != nil {
		if err := rl.runFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rl.perfFile != nil {
		if err := rl.perfFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
