package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check when the caller sets none.
const DefaultTimeout = 5 * time.Second

// CheckFunc is a function that performs a health check.
// It returns nil if the check passes, or an error if it fails.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup or on-demand check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool   // If true, a failure here should prevent application startup.
	Hint     string // Shown next to a failure, e.g. "is `ollama serve` running?"
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Status is the JSON form of a Result.
type Status struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Critical   bool   `json:"critical"`
	Error      string `json:"error,omitempty"`
	Hint       string `json:"hint,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Run executes the probes concurrently and returns their results in input order.
// Each check gets its own timeout so one hung backend cannot stall the rest.
func Run(ctx context.Context, probes []Probe, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	results := make([]Result, len(probes))

	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			start := time.Now()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := p.Check(checkCtx)
			results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
		}(i, p)
	}
	wg.Wait()

	return results
}

// AnalyzeResults logs a summary and returns a combined error if critical probes failed.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		if r.Error == nil {
			slog.Info(msg)
			continue
		}

		args := []any{"error", r.Error}
		if r.Probe.Hint != "" {
			args = append(args, "hint", r.Probe.Hint)
		}
		if r.Probe.Critical {
			slog.Error(msg, args...)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		} else {
			slog.Warn(msg, args...)
		}
	}

	return errors.Join(criticalErrors...)
}

// Statuses converts results for the API.
func Statuses(results []Result) []Status {
	out := make([]Status, len(results))
	for i, r := range results {
		out[i] = Status{
			Name:       r.Probe.Name,
			OK:         r.Error == nil,
			Critical:   r.Probe.Critical,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			out[i].Error = r.Error.Error()
			out[i].Hint = r.Probe.Hint
		}
	}
	return out
}
