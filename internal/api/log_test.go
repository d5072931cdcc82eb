package api

import (
	"testing"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Worker line",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Worker: Job finished" state=completed succeeded=3 job_id=6f1c0d2a-8d51-4c0e-9a51-0e4c3c9b7f11 failed=0`,
			want:  "06:50:46 Worker: Job finished (failed=0, state=completed, succeeded=3)",
		},
		{
			name:  "No params",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Worker: Started"`,
			want:  "06:50:46 Worker: Started",
		},
		{
			name:  "Unparseable",
			input: "plain text",
			want:  "plain text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLogLine(tt.input); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}
