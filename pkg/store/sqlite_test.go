package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/pkg/db"
	"storyforge/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewSQLiteStore(d)
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	testJobs(t, ctx, store)
	testMarkInterrupted(t, ctx, store)
	testPrune(t, ctx, store)
	testState(t, ctx, store)
}

func testJobs(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Jobs", func(t *testing.T) {
		created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		st := model.JobStatus{
			ID: "job-1",
			Request: model.JobRequest{
				Prompt: "a lighthouse keeper's cat", Count: 2, Speaker: "anna.wav",
				Mode: model.ModeStory, Model: "llama3.1",
			},
			State:      model.JobQueued,
			ItemsTotal: 2,
			CreatedAt:  created,
		}
		require.NoError(t, store.SaveJob(ctx, st))

		// Update in place
		started := created.Add(time.Second)
		finished := created.Add(time.Minute)
		st.State = model.JobCompletedWithWarnings
		st.ItemsDone = 2
		st.Warnings = 1
		st.BaseNames = []string{"cat_1", "cat_2"}
		st.StartedAt = &started
		st.FinishedAt = &finished
		require.NoError(t, store.SaveJob(ctx, st))

		got, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.JobCompletedWithWarnings, got.State)
		assert.Equal(t, 2, got.ItemsDone)
		assert.Equal(t, 1, got.Warnings)
		assert.Equal(t, []string{"cat_1", "cat_2"}, got.BaseNames)
		assert.Equal(t, "a lighthouse keeper's cat", got.Request.Prompt)
		assert.True(t, got.CreatedAt.Equal(created))
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(finished))

		_, err = store.GetJob(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, store.SaveJob(ctx, model.JobStatus{ID: "job-2", State: model.JobRunning, CreatedAt: created.Add(time.Hour)}))
		list, err := store.ListJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "job-2", list[0].ID, "newest first")

		list, err = store.ListJobs(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func testMarkInterrupted(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("MarkInterrupted", func(t *testing.T) {
		n, err := store.MarkInterrupted(ctx, "interrupted by restart")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "only job-2 was unfinished")

		got, err := store.GetJob(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, model.JobCancelled, got.State)
		assert.Equal(t, "interrupted by restart", got.Message)
		assert.NotNil(t, got.FinishedAt)

		done, err := store.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, model.JobCompletedWithWarnings, done.State)
	})
}

func testPrune(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("Prune", func(t *testing.T) {
		cutoff := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
		n, err := store.PruneJobs(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		list, err := store.ListJobs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "job-2", list[0].ID)
	})
}

func testState(t *testing.T, ctx context.Context, store *SQLiteStore) {
	t.Run("State", func(t *testing.T) {
		if err := store.SetState(ctx, "last_model", "mistral"); err != nil {
			t.Errorf("SetState failed: %v", err)
		}
		sVal, sHit := store.GetState(ctx, "last_model")
		if !sHit {
			t.Error("Expected state hit")
		}
		if sVal != "mistral" {
			t.Errorf("Expected 'mistral', got '%s'", sVal)
		}

		if err := store.DeleteState(ctx, "last_model"); err != nil {
			t.Errorf("DeleteState failed: %v", err)
		}
		if _, hit := store.GetState(ctx, "last_model"); hit {
			t.Error("Expected state miss after delete")
		}
	})
}
