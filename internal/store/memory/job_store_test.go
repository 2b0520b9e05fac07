package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
)

func newTestStore(t *testing.T) *JobStore {
	st := NewJobStore()
	require.NoError(t, st.Start())
	t.Cleanup(func() { _ = st.Stop() })
	return st
}

func TestJobStoreCreateJob(t *testing.T) {
	ctx := context.Background()
	key := models.JobKey{GenerationID: "gen-1", JobType: "character", TargetID: "char-1"}

	t.Run("upsert keeps a single row per key", func(t *testing.T) {
		st := newTestStore(t)

		first, err := st.CreateJob(ctx, key)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusGenerating, first.Status)

		require.NoError(t, st.CompleteJob(ctx, first.ID, json.RawMessage(`{"ok":true}`)))

		second, err := st.CreateJob(ctx, key)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, models.JobStatusGenerating, second.Status)
		require.Nil(t, second.Result)

		jobs, err := st.ListJobs(ctx, "gen-1")
		require.NoError(t, err)
		require.Len(t, jobs, 1)
	})

	t.Run("empty target is its own key", func(t *testing.T) {
		st := newTestStore(t)

		a, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "script"})
		require.NoError(t, err)
		b, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "script", TargetID: "x"})
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
	})

	t.Run("invalid key", func(t *testing.T) {
		st := newTestStore(t)

		_, err := st.CreateJob(ctx, models.JobKey{JobType: "script"})
		require.ErrorIs(t, err, store.ErrInvalidKey)
	})

	t.Run("closed store", func(t *testing.T) {
		st := NewJobStore()
		require.NoError(t, st.Stop())

		_, err := st.CreateJob(ctx, key)
		require.ErrorIs(t, err, store.ErrStoreClosed)

		_, err = st.WatchJobs(ctx, "gen-1")
		require.ErrorIs(t, err, store.ErrStoreClosed)
	})
}

func TestJobStoreTerminalWrites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "location", TargetID: "loc-1"})
	require.NoError(t, err)

	require.NoError(t, st.FailJob(ctx, job.ID, "quota exceeded"))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)
	require.Equal(t, "quota exceeded", got.ErrorMessage)
	require.Nil(t, got.Result)

	require.NoError(t, st.CompleteJob(ctx, job.ID, json.RawMessage(`{"image_url":"u"}`)))

	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.JSONEq(t, `{"image_url":"u"}`, string(got.Result))

	require.ErrorIs(t, st.CompleteJob(ctx, "missing", nil), store.ErrJobNotFound)
	require.ErrorIs(t, st.FailJob(ctx, "missing", "x"), store.ErrJobNotFound)
	require.ErrorIs(t, st.TouchJob(ctx, "missing"), store.ErrJobNotFound)

	_, err = st.GetJob(ctx, "missing")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStoreFindGenerating(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	key := models.JobKey{GenerationID: "gen-1", JobType: "protagonist"}

	_, err := st.FindGenerating(ctx, key)
	require.ErrorIs(t, err, store.ErrJobNotFound)

	job, err := st.CreateJob(ctx, key)
	require.NoError(t, err)

	found, err := st.FindGenerating(ctx, key)
	require.NoError(t, err)
	require.Equal(t, job.ID, found.ID)

	require.NoError(t, st.CompleteJob(ctx, job.ID, json.RawMessage(`{}`)))

	_, err = st.FindGenerating(ctx, key)
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestJobStoreListJobsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var ids []string
	for _, target := range []string{"c", "a", "b"} {
		job, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "character", TargetID: target})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-2", JobType: "character"})
	require.NoError(t, err)

	jobs, err := st.ListJobs(ctx, "gen-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		require.Equal(t, ids[i], job.ID)
	}

	empty, err := st.ListJobs(ctx, "unknown")
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestJobStoreFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	stale, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "film", TargetID: "1"})
	require.NoError(t, err)
	done, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "film", TargetID: "2"})
	require.NoError(t, err)
	require.NoError(t, st.CompleteJob(ctx, done.ID, json.RawMessage(`{}`)))

	now = now.Add(10 * time.Minute)
	fresh, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "film", TargetID: "3"})
	require.NoError(t, err)

	failed, err := st.FailStaleJobs(ctx, now.Add(-5*time.Minute), store.StaleJobMessage)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, stale.ID, failed[0].ID)

	got, err := st.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusFailed, got.Status)
	require.Equal(t, store.StaleJobMessage, got.ErrorMessage)

	got, err = st.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusGenerating, got.Status)

	got, err = st.GetJob(ctx, done.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestJobStoreTouchJobKeepsJobAlive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	job, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "film"})
	require.NoError(t, err)

	now = now.Add(4 * time.Minute)
	require.NoError(t, st.TouchJob(ctx, job.ID))

	now = now.Add(4 * time.Minute)
	failed, err := st.FailStaleJobs(ctx, now.Add(-5*time.Minute), store.StaleJobMessage)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestJobStoreWatchJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newTestStore(t)

	changes, err := st.WatchJobs(ctx, "gen-1")
	require.NoError(t, err)

	job, err := st.CreateJob(ctx, models.JobKey{GenerationID: "gen-1", JobType: "script"})
	require.NoError(t, err)
	require.NoError(t, st.TouchJob(ctx, job.ID))
	require.NoError(t, st.CompleteJob(ctx, job.ID, json.RawMessage(`{"title":"t"}`)))

	_, err = st.CreateJob(ctx, models.JobKey{GenerationID: "gen-2", JobType: "script"})
	require.NoError(t, err)

	first := receive(t, changes)
	require.Equal(t, models.ChangeOpInsert, first.Op)
	require.Equal(t, models.JobStatusGenerating, first.Job.Status)

	second := receive(t, changes)
	require.Equal(t, models.ChangeOpUpdate, second.Op)
	require.Equal(t, models.JobStatusCompleted, second.Job.Status)
	require.JSONEq(t, `{"title":"t"}`, string(second.Job.Result))

	select {
	case extra := <-changes:
		t.Fatalf("unexpected change: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func receive(t *testing.T, ch <-chan models.JobChange) models.JobChange {
	t.Helper()
	select {
	case change, ok := <-ch:
		require.True(t, ok, "channel closed")
		return change
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return models.JobChange{}
}
