package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
	"github.com/wolfeidau/genjobs/internal/telemetry"
)

// Store is the subset of store.JobStore the sweeper needs.
type Store interface {
	FailStaleJobs(ctx context.Context, olderThan time.Time, message string) ([]*models.GenerationJob, error)
}

// Config for the stale job sweeper.
type Config struct {
	// Interval between sweeps after the startup sweep.
	Interval time.Duration
	// StaleAfter is how long a generating row may go without a heartbeat.
	StaleAfter time.Duration
	// HeartbeatInterval of the gateway, it must stay below StaleAfter.
	HeartbeatInterval time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 5 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.StaleAfter <= 0 {
		return errors.New("stale after must be positive")
	}
	if c.HeartbeatInterval >= c.StaleAfter {
		return fmt.Errorf("heartbeat interval %s must be less than stale after %s", c.HeartbeatInterval, c.StaleAfter)
	}
	return nil
}

// Sweeper fails generating rows whose run was lost, such as by a restart.
type Sweeper struct {
	store Store
	cfg   Config
	now   func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(st Store, cfg Config) (*Sweeper, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweeper configuration: %w", err)
	}

	return &Sweeper{
		store:  st,
		cfg:    cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Sweep fails every stale generating row once and returns them.
func (s *Sweeper) Sweep(ctx context.Context) ([]*models.GenerationJob, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)

	failed, err := s.store.FailStaleJobs(ctx, cutoff, store.StaleJobMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	if len(failed) > 0 {
		telemetry.GetMetrics().StaleJobsFailedTotal.Add(ctx, int64(len(failed)))
		for _, job := range failed {
			log.Warn().
				Str("job_id", job.ID).
				Str("key", job.Key().String()).
				Msg("Failed stale generating job")
		}
	}

	return failed, nil
}

// Start sweeps immediately and then on every interval until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop ends the loop and waits for an in-progress sweep.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)

	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("Stale job sweeper started")

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAndLog(ctx)
		case <-s.stopCh:
			log.Debug().Msg("Stale job sweeper stopping")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	failed, err := s.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Stale job sweep failed")
		return
	}
	if len(failed) > 0 {
		log.Info().Int("count", len(failed)).Msg("Stale job sweep finished")
	}
}
