package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/notify"
	"github.com/wolfeidau/genjobs/internal/store"
)

// DefaultNotifyChannel is the channel used by the gen_jobs trigger.
const DefaultNotifyChannel = "gen_jobs_changes"

const jobColumns = `id::text, generation_id, job_type, target_id, status, result, error_message, created_at, updated_at`

var _ store.JobStore = (*JobStore)(nil)

// JobStore implements the store.JobStore interface using PostgreSQL as the backend.
// Row changes are observed through LISTEN/NOTIFY and fanned out in-process.
type JobStore struct {
	pool *pgxpool.Pool
	cfg  *JobStoreConfig
	hub  *notify.Hub

	listening     chan struct{}
	listeningOnce sync.Once

	// Lifecycle
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJobStore creates a new PostgreSQL-backed job store on a shared pool.
// The pool is owned by the caller and is not closed by Stop.
func NewJobStore(pool *pgxpool.Pool, cfg *JobStoreConfig) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg == nil {
		cfg = &JobStoreConfig{}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &JobStore{
		pool:      pool,
		cfg:       cfg,
		hub:       notify.NewHub(cfg.SubscriberBuffer),
		listening: make(chan struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the change listener and pool monitoring.
func (s *JobStore) Start() error {
	log.Info().Str("channel", s.cfg.NotifyChannel).Msg("Starting PostgreSQL job store")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitorConnectionPool()
	}()
	go func() {
		defer s.wg.Done()
		s.listen()
	}()

	return nil
}

// Stop shuts down background tasks and closes change subscriptions.
func (s *JobStore) Stop() error {
	s.stopOnce.Do(func() {
		log.Info().Msg("Stopping PostgreSQL job store")
		close(s.stopCh)
		s.wg.Wait()
		s.hub.Close()
		log.Info().Msg("PostgreSQL job store stopped")
	})
	return nil
}

// WaitListening blocks until the change listener has issued LISTEN once.
func (s *JobStore) WaitListening(ctx context.Context) error {
	select {
	case <-s.listening:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *JobStore) monitorConnectionPool() {
	ticker := time.NewTicker(s.cfg.PoolStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := s.pool.Stat()
			log.Debug().
				Int32("total_conns", stats.TotalConns()).
				Int32("idle_conns", stats.IdleConns()).
				Int32("acquired_conns", stats.AcquiredConns()).
				Int64("acquire_count", stats.AcquireCount()).
				Dur("acquire_duration", stats.AcquireDuration()).
				Msg("Connection pool stats")
		case <-s.stopCh:
			return
		}
	}
}

func (s *JobStore) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func (s *JobStore) CreateJob(ctx context.Context, key models.JobKey) (*models.GenerationJob, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	// the id is only used when the key is new, conflicts keep the existing row id
	query := `
		INSERT INTO gen_jobs (id, generation_id, job_type, target_id, status, result, error_message, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, 'generating', NULL, NULL, NOW(), NOW())
		ON CONFLICT ON CONSTRAINT gen_jobs_key DO UPDATE
		SET status = 'generating',
		    result = NULL,
		    error_message = NULL,
		    updated_at = NOW()
		RETURNING ` + jobColumns

	job, err := scanJob(s.pool.QueryRow(ctx, query,
		uuid.Must(uuid.NewV7()).String(),
		key.GenerationID,
		key.JobType,
		key.TargetID,
	))
	if err != nil {
		return nil, mapPostgresError(err)
	}

	log.Debug().Str("job_id", job.ID).Str("key", key.String()).Msg("Created generating job")

	return job, nil
}

func (s *JobStore) FindGenerating(ctx context.Context, key models.JobKey) (*models.GenerationJob, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	query := `
		SELECT ` + jobColumns + `
		FROM gen_jobs
		WHERE generation_id = $1
		  AND job_type = $2
		  AND target_id = $3
		  AND status = 'generating'
	`

	job, err := scanJob(s.pool.QueryRow(ctx, query, key.GenerationID, key.JobType, key.TargetID))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return job, nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM gen_jobs WHERE id = $1::uuid`, jobID))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return job, nil
}

func (s *JobStore) ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM gen_jobs
		WHERE generation_id = $1
		ORDER BY created_at ASC, id ASC
	`, generationID)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	return collectJobs(rows)
}

func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}

	return s.exec(ctx, jobID, "completed", `
		UPDATE gen_jobs
		SET status = 'completed',
		    result = $2::jsonb,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE id = $1::uuid
	`, jobID, []byte(result))
}

func (s *JobStore) FailJob(ctx context.Context, jobID string, message string) error {
	return s.exec(ctx, jobID, "failed", `
		UPDATE gen_jobs
		SET status = 'failed',
		    result = NULL,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $1::uuid
	`, jobID, message)
}

func (s *JobStore) TouchJob(ctx context.Context, jobID string) error {
	return s.exec(ctx, jobID, "touched", `UPDATE gen_jobs SET updated_at = NOW() WHERE id = $1::uuid`, jobID)
}

func (s *JobStore) FailStaleJobs(ctx context.Context, olderThan time.Time, message string) ([]*models.GenerationJob, error) {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		UPDATE gen_jobs
		SET status = 'failed',
		    result = NULL,
		    error_message = $2,
		    updated_at = NOW()
		WHERE status = 'generating'
		  AND updated_at < $1
		RETURNING `+jobColumns,
		olderThan, message)
	if err != nil {
		return nil, mapPostgresError(err)
	}

	return collectJobs(rows)
}

func (s *JobStore) WatchJobs(ctx context.Context, generationID string) (<-chan models.JobChange, error) {
	select {
	case <-s.stopCh:
		return nil, store.ErrStoreClosed
	default:
	}
	return s.hub.Subscribe(ctx, generationID), nil
}

func (s *JobStore) exec(ctx context.Context, jobID, action, query string, args ...any) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}

	log.Debug().Str("job_id", jobID).Str("action", action).Msg("Updated job")

	return nil
}

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var (
		job          models.GenerationJob
		status       string
		result       []byte
		errorMessage *string
	)

	err := row.Scan(
		&job.ID,
		&job.GenerationID,
		&job.JobType,
		&job.TargetID,
		&status,
		&result,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if result != nil {
		job.Result = json.RawMessage(result)
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}

	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*models.GenerationJob, error) {
	defer rows.Close()

	jobs := make([]*models.GenerationJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, mapPostgresError(err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	return jobs, nil
}
