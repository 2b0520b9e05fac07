package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
	"github.com/wolfeidau/genjobs/internal/telemetry"
)

// changeNotification is the payload written by notify_gen_job_change().
type changeNotification struct {
	Op           models.ChangeOp `json:"op"`
	ID           string          `json:"id"`
	GenerationID string          `json:"generation_id"`
}

// listen holds a dedicated connection on the notify channel and republishes
// row changes to the hub, reconnecting with exponential backoff.
func (s *JobStore) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = s.cfg.ReconnectMaxInterval

	for {
		err := s.listenOnce(ctx, bo)
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		telemetry.GetMetrics().ListenerReconnectsTotal.Add(ctx, 1)
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Job change listener disconnected")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (s *JobStore) listenOnce(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}

	// a listening connection must never go back to the pool
	conn := pooled.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.cfg.NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.NotifyChannel, err)
	}

	bo.Reset()
	s.listeningOnce.Do(func() { close(s.listening) })
	log.Info().Str("channel", s.cfg.NotifyChannel).Msg("Listening for job changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		s.handleNotification(ctx, n.Payload)
	}
}

func (s *JobStore) handleNotification(ctx context.Context, payload string) {
	var note changeNotification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		log.Warn().Err(err).Str("payload", payload).Msg("Ignoring malformed job change notification")
		return
	}

	// no local subscribers, skip the reload
	if s.hub.Subscribers(note.GenerationID) == 0 {
		return
	}

	job, err := s.GetJob(ctx, note.ID)
	if err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			log.Error().Err(err).Str("job_id", note.ID).Msg("Failed to reload changed job")
		}
		return
	}

	s.hub.Publish(models.JobChange{Op: note.Op, Job: *job})
}
