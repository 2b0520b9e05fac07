package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/genjobs/internal/models"
)

func change(generationID, jobID string, status models.JobStatus) models.JobChange {
	return models.JobChange{
		Op: models.ChangeOpUpdate,
		Job: models.GenerationJob{
			ID:           jobID,
			GenerationID: generationID,
			JobType:      "character",
			Status:       status,
		},
	}
}

func TestHubDeliversToGenerationSubscribers(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	genA := hub.Subscribe(ctx, "gen-a")
	genA2 := hub.Subscribe(ctx, "gen-a")
	genB := hub.Subscribe(ctx, "gen-b")

	hub.Publish(change("gen-a", "job-1", models.JobStatusCompleted))

	for _, ch := range []<-chan models.JobChange{genA, genA2} {
		select {
		case got := <-ch:
			require.Equal(t, "job-1", got.Job.ID)
			require.Equal(t, models.JobStatusCompleted, got.Job.Status)
		case <-time.After(time.Second):
			t.Fatal("expected change")
		}
	}

	select {
	case got := <-genB:
		t.Fatalf("unexpected change for other generation: %+v", got)
	default:
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub(1)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "gen-a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Publish(change("gen-a", "job-1", models.JobStatusGenerating))
		hub.Publish(change("gen-a", "job-1", models.JobStatusCompleted))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	got := <-ch
	require.Equal(t, models.JobStatusGenerating, got.Job.Status)

	select {
	case extra := <-ch:
		t.Fatalf("expected second change to be dropped, got %+v", extra)
	default:
	}
}

func TestHubUnsubscribesOnContextDone(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "gen-a")
	require.Equal(t, 1, hub.Subscribers("gen-a"))

	cancel()

	require.Eventually(t, func() bool {
		return hub.Subscribers("gen-a") == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestHubClose(t *testing.T) {
	hub := NewHub(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := hub.Subscribe(ctx, "gen-a")
	hub.Close()

	_, ok := <-ch
	require.False(t, ok)

	late := hub.Subscribe(ctx, "gen-a")
	_, ok = <-late
	require.False(t, ok)

	// publishing after close is a no-op
	hub.Publish(change("gen-a", "job-1", models.JobStatusCompleted))
}
