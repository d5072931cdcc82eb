package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storyforge/pkg/store"
)

// InterruptedMessage is recorded on jobs a previous run left unfinished.
const InterruptedMessage = "interrupted: storyforge stopped before the job finished"

// Run closes out stale jobs and prunes history older than retention.
// A zero retention keeps history forever. It blocks until completion.
func Run(ctx context.Context, s store.JobStore, retention time.Duration) error {
	slog.Info("Starting database maintenance...")

	var errs []error

	n, err := s.MarkInterrupted(ctx, InterruptedMessage)
	if err != nil {
		errs = append(errs, fmt.Errorf("mark interrupted: %w", err))
	} else if n > 0 {
		slog.Warn("Maintenance: Closed jobs left over from previous run", "count", n)
	}

	if retention > 0 {
		pruned, err := s.PruneJobs(ctx, time.Now().Add(-retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune jobs: %w", err))
		} else {
			slog.Info("Maintenance: Job history pruned", "removed", pruned, "retention", retention)
		}
	}

	return errors.Join(errs...)
}
