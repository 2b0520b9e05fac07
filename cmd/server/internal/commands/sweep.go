package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/genjobs/internal/logger"
	postgresstore "github.com/wolfeidau/genjobs/internal/store/postgres"
	"github.com/wolfeidau/genjobs/internal/sweeper"
)

type SweepCmd struct {
	StaleAfter    time.Duration      `help:"fail generating jobs without a heartbeat for this long" default:"5m" env:"GENJOBS_STALE_AFTER"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *SweepCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Dev)

	pool, err := c.PostgresStore.openPool(ctx)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// the listener is not started, a sweep only writes
	jobStore, err := postgresstore.NewJobStore(pool, &postgresstore.JobStoreConfig{QueryTimeout: c.PostgresStore.QueryTimeout})
	if err != nil {
		return fmt.Errorf("failed to create postgres job store: %w", err)
	}

	sw, err := sweeper.New(jobStore, sweeper.Config{StaleAfter: c.StaleAfter})
	if err != nil {
		return err
	}

	failed, err := sw.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	for _, job := range failed {
		log.Info().Str("job_id", job.ID).Str("generation_id", job.GenerationID).Str("job_type", job.JobType).Msg("Failed stale job")
	}
	log.Info().Int("count", len(failed)).Msg("Sweep finished")
	return nil
}
