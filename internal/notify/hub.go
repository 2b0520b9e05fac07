package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Hub fans job changes out to subscribers of a generation.
//
// Publish never blocks: a subscriber whose buffer is full misses the change,
// which clients recover from by re-fetching.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string][]chan models.JobChange // generation ID -> subscriber channels
	bufferSize int
	closed     bool
}

// NewHub creates a hub whose subscriber channels hold bufferSize changes.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[string][]chan models.JobChange),
		bufferSize: bufferSize,
	}
}

// Subscribe registers for changes to a generation. The returned channel is
// closed once ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, generationID string) <-chan models.JobChange {
	ch := make(chan models.JobChange, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.subs[generationID] = append(h.subs[generationID], ch)
	count := len(h.subs[generationID])
	h.mu.Unlock()

	telemetry.GetMetrics().ActiveSubscriptions.Add(context.Background(), 1)
	log.Debug().Str("generation_id", generationID).Int("subscriber_count", count).Msg("Registered job change subscriber")

	go func() {
		<-ctx.Done()
		h.unsubscribe(generationID, ch)
	}()

	return ch
}

// Publish delivers a change to every subscriber of the job's generation.
func (h *Hub) Publish(change models.JobChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	streams := h.subs[change.Job.GenerationID]
	if len(streams) == 0 {
		return
	}

	m := telemetry.GetMetrics()
	for _, ch := range streams {
		select {
		case ch <- change:
			m.ChangesPublishedTotal.Add(context.Background(), 1)
		default:
			m.ChangesDroppedTotal.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("op", string(change.Op))))
			log.Warn().
				Str("generation_id", change.Job.GenerationID).
				Str("job_id", change.Job.ID).
				Msg("Subscriber channel full, dropping job change")
		}
	}
}

// Subscribers returns the number of active subscribers for a generation.
func (h *Hub) Subscribers(generationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[generationID])
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for generationID, streams := range h.subs {
		for _, ch := range streams {
			close(ch)
			telemetry.GetMetrics().ActiveSubscriptions.Add(context.Background(), -1)
		}
		delete(h.subs, generationID)
	}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(generationID string, ch chan models.JobChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streams := h.subs[generationID]
	for i, stream := range streams {
		if stream == ch {
			h.subs[generationID] = append(streams[:i], streams[i+1:]...)
			close(ch)
			telemetry.GetMetrics().ActiveSubscriptions.Add(context.Background(), -1)
			break
		}
	}

	if len(h.subs[generationID]) == 0 {
		delete(h.subs, generationID)
	}

	log.Debug().Str("generation_id", generationID).Msg("Deregistered job change subscriber")
}
