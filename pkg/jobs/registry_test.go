package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/pkg/model"
)

type memRecorder struct {
	mu    sync.Mutex
	saved []model.JobStatus
	err   error
}

func (m *memRecorder) SaveJob(_ context.Context, s model.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return m.err
}

func (m *memRecorder) states(id string) []model.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.JobState
	for _, s := range m.saved {
		if s.ID == id {
			out = append(out, s.State)
		}
	}
	return out
}

func TestRegistry_Lifecycle(t *testing.T) {
	rec := &memRecorder{}
	r := NewRegistry(NewEventBus(0), rec, 0)

	st := r.Register("job-1", model.JobRequest{Count: 2})
	assert.Equal(t, model.JobQueued, st.State)
	assert.Equal(t, 2, st.ItemsTotal)

	token, err := r.Start(context.Background(), "job-1")
	require.NoError(t, err)
	require.NoError(t, token.Err())

	_, err = r.Update("job-1", func(s *model.JobStatus) { s.ItemsDone++ })
	require.NoError(t, err)

	st, err = r.Finish("job-1", model.JobCompleted, "done")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, st.State)
	assert.NotNil(t, st.FinishedAt)
	assert.Error(t, token.Err(), "finish releases the token")

	assert.Equal(t, []model.JobState{
		model.JobQueued, model.JobRunning, model.JobRunning, model.JobCompleted,
	}, rec.states("job-1"))
}

func TestRegistry_Cancel(t *testing.T) {
	r := NewRegistry(nil, nil, 0)

	r.Register("queued", model.JobRequest{Count: 1})
	st, err := r.Cancel("queued")
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, st.State)

	_, err = r.Start(context.Background(), "queued")
	assert.Error(t, err, "cancelled jobs never start")

	r.Register("running", model.JobRequest{Count: 1})
	token, err := r.Start(context.Background(), "running")
	require.NoError(t, err)

	st, err = r.Cancel("running")
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelling, st.State)
	assert.ErrorIs(t, token.Err(), context.Canceled)

	st, err = r.Cancel("running")
	require.NoError(t, err, "cancelling twice is a no-op")
	assert.Equal(t, model.JobCancelling, st.State)

	_, err = r.Finish("running", model.JobCancelled, "stopped")
	require.NoError(t, err)
	_, err = r.Cancel("running")
	assert.ErrorIs(t, err, ErrNotCancellable)

	_, err = r.Cancel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Update("nope", func(*model.JobStatus) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ReadersGetCopies(t *testing.T) {
	r := NewRegistry(nil, nil, 0)
	r.Register("job", model.JobRequest{Count: 1, Styles: []string{"noir"}})
	_, err := r.Update("job", func(s *model.JobStatus) { s.BaseNames = append(s.BaseNames, "a") })
	require.NoError(t, err)

	got, ok := r.Get("job")
	require.True(t, ok)
	got.BaseNames[0] = "mutated"
	got.Request.Styles[0] = "mutated"

	again, _ := r.Get("job")
	assert.Equal(t, "a", again.BaseNames[0])
	assert.Equal(t, "noir", again.Request.Styles[0])
}

func TestRegistry_PrunesFinished(t *testing.T) {
	r := NewRegistry(nil, nil, 2)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := range 4 {
		id := fmt.Sprintf("job-%d", i)
		r.Register(id, model.JobRequest{Count: 1})
		_, err := r.Finish(id, model.JobCompleted, "ok")
		require.NoError(t, err)
	}
	r.Register("active", model.JobRequest{Count: 1})

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "active", list[0].ID)
	assert.Equal(t, "job-3", list[1].ID)
	assert.Equal(t, "job-2", list[2].ID)
	assert.Equal(t, 1, r.Active())
}

func TestRegistry_RecorderErrorIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	r := NewRegistry(nil, rec, 0)
	st := r.Register("job", model.JobRequest{Count: 1})
	assert.Equal(t, model.JobQueued, st.State)
	_, ok := r.Get("job")
	assert.True(t, ok)
}
