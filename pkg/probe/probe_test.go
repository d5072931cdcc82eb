package probe

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	probes := []Probe{
		{
			Name: "Success Probe",
			Check: func(ctx context.Context) error {
				return nil
			},
			Critical: true,
		},
		{
			Name: "Failure Probe (Non-Critical)",
			Check: func(ctx context.Context) error {
				return errors.New("minor issue")
			},
			Critical: false,
		},
	}

	results := Run(context.Background(), probes, 0)

	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}

	if results[0].Error != nil {
		t.Errorf("Expected success probe to pass, got error: %v", results[0].Error)
	}

	if results[1].Error == nil {
		t.Error("Expected failure probe to fail, got nil")
	}
}

func TestAnalyzeResults(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantErr bool
	}{
		{
			name: "All Pass",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: true}, Error: nil},
			},
			wantErr: false,
		},
		{
			name: "Critical Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: true}, Error: errors.New("fail")},
			},
			wantErr: true,
		},
		{
			name: "Non-Critical Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: false}, Error: errors.New("fail")},
			},
			wantErr: false,
		},
		{
			name: "Mixed Failure",
			results: []Result{
				{Probe: Probe{Name: "P1", Critical: false}, Error: errors.New("fail")},
				{Probe: Probe{Name: "P2", Critical: true}, Error: errors.New("fail")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AnalyzeResults(tt.results)
			if (err != nil) != tt.wantErr {
				t.Errorf("AnalyzeResults() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_TimeoutPerProbe(t *testing.T) {
	probes := []Probe{
		{
			Name: "Hung Backend",
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		{
			Name:  "Fast",
			Check: func(ctx context.Context) error { return nil },
		},
	}

	start := time.Now()
	results := Run(context.Background(), probes, 30*time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatal("Run did not honour the per-probe timeout")
	}
	if !errors.Is(results[0].Error, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", results[0].Error)
	}
	if results[1].Error != nil || results[1].Probe.Name != "Fast" {
		t.Errorf("results out of order or failed: %+v", results[1])
	}
}

func TestStatuses(t *testing.T) {
	statuses := Statuses([]Result{
		{Probe: Probe{Name: "sd", Hint: "start the webui with --api"}, Error: errors.New("connection refused"), Duration: 12 * time.Millisecond},
		{Probe: Probe{Name: "tts", Hint: "unused"}, Duration: time.Millisecond},
	})

	if statuses[0].OK || statuses[0].Hint == "" || statuses[0].DurationMS != 12 {
		t.Errorf("unexpected failure status: %+v", statuses[0])
	}
	if !statuses[1].OK || statuses[1].Hint != "" {
		t.Errorf("passing probe should not carry a hint: %+v", statuses[1])
	}
}
