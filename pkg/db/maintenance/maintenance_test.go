package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"storyforge/pkg/db"
	"storyforge/pkg/model"
	"storyforge/pkg/store"
)

func TestMaintenance(t *testing.T) {
	tempDir := t.TempDir()
	d, err := db.Init(filepath.Join(tempDir, "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	now := time.Now()
	seed := []model.JobStatus{
		{ID: "ancient", State: model.JobCompleted, CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{ID: "stale", State: model.JobRunning, CreatedAt: now.Add(-time.Hour)},
		{ID: "fresh", State: model.JobCompleted, CreatedAt: now},
	}
	for _, st := range seed {
		if err := s.SaveJob(ctx, st); err != nil {
			t.Fatal(err)
		}
	}

	if err := Run(ctx, s, 30*24*time.Hour); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := s.GetJob(ctx, "ancient"); err == nil {
		t.Error("expected ancient job to be pruned")
	}

	stale, err := s.GetJob(ctx, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if stale.State != model.JobCancelled || stale.Message != InterruptedMessage {
		t.Errorf("stale job not closed out: %+v", stale)
	}

	fresh, err := s.GetJob(ctx, "fresh")
	if err != nil || fresh.State != model.JobCompleted {
		t.Errorf("fresh job should be untouched: %+v, %v", fresh, err)
	}
}

func TestMaintenance_ZeroRetentionKeepsHistory(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "keep.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()
	if err := s.SaveJob(ctx, model.JobStatus{ID: "old", State: model.JobFailed, CreatedAt: time.Now().AddDate(-2, 0, 0)}); err != nil {
		t.Fatal(err)
	}

	if err := Run(ctx, s, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := s.GetJob(ctx, "old"); err != nil {
		t.Errorf("zero retention must keep history: %v", err)
	}
}
