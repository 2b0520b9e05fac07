package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/backend"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/store"
	"github.com/wolfeidau/genjobs/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Backend runs a generation. A *backend.Error carries a non-success response.
type Backend interface {
	Call(ctx context.Context, path string, payload json.RawMessage) (json.RawMessage, error)
}

// Uploader rewrites inline images in a completed result.
type Uploader interface {
	Rewrite(ctx context.Context, key models.JobKey, result json.RawMessage) json.RawMessage
}

// Outcome is the HTTP response for a synchronous submission.
type Outcome struct {
	JobID      string
	StatusCode int
	Body       json.RawMessage
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithUploader moves result images into object storage before completion.
func WithUploader(u Uploader) Option {
	return func(g *Gateway) {
		g.uploader = u
	}
}

// Gateway tracks generation submissions in the job store around a backend call.
//
// Every run happens on a context detached from the caller so the terminal
// write lands even when the caller goes away.
type Gateway struct {
	store    store.JobStore
	backend  Backend
	uploader Uploader
	cfg      Config
	allowed  map[string]struct{}

	// held across the generating check and create of async submissions
	startMu sync.Mutex

	wg sync.WaitGroup
}

func New(st store.JobStore, be Backend, cfg Config, opts ...Option) (*Gateway, error) {
	if st == nil {
		return nil, errors.New("job store is required")
	}
	if be == nil {
		return nil, errors.New("backend is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}

	g := &Gateway{
		store:   st,
		backend: be,
		cfg:     cfg,
		allowed: make(map[string]struct{}, len(cfg.AllowedRoutes)),
	}
	for _, route := range cfg.AllowedRoutes {
		g.allowed[route] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Validate checks a request against the gateway's route policy.
func (g *Gateway) Validate(req *Request) error {
	return req.Validate(g.allowed)
}

// Submit records the job as generating, calls the backend and records the
// terminal state before returning the response to relay to the caller.
func (g *Gateway) Submit(ctx context.Context, req Request) *Outcome {
	if err := g.Validate(&req); err != nil {
		return errorOutcome("", http.StatusBadRequest, ValidationMessage(err))
	}

	ctx = context.WithoutCancel(ctx)
	key := req.Key()

	telemetry.GetMetrics().JobsSubmittedTotal.Add(ctx, 1, jobTypeAttr(key))

	var jobID string
	job, err := g.createJob(ctx, key)
	if err != nil {
		// tracking must never block the generation itself
		log.Error().Err(err).Str("key", key.String()).Msg("Failed to record generating job, continuing untracked")
		telemetry.GetMetrics().TrackingWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("write", "create")))
	} else {
		jobID = job.ID
	}

	return g.run(ctx, jobID, req)
}

// SubmitAsync records the job and runs it in the background. A key that is
// already generating is returned as-is without starting a second run.
//
// The check is serialized within this gateway only. Gateways sharing a store
// can still race on one key, the later run then overwrites the row.
func (g *Gateway) SubmitAsync(ctx context.Context, req Request) (*models.GenerationJob, error) {
	if err := g.Validate(&req); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	key := req.Key()

	job, started, err := g.startOnce(ctx, key)
	if err != nil {
		telemetry.GetMetrics().TrackingWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("write", "create")))
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if !started {
		return job, nil
	}

	telemetry.GetMetrics().JobsSubmittedTotal.Add(ctx, 1, jobTypeAttr(key))
	telemetry.GetMetrics().BackgroundJobsInFlight.Add(ctx, 1)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer telemetry.GetMetrics().BackgroundJobsInFlight.Add(ctx, -1)

		g.run(ctx, job.ID, req)
	}()

	return job, nil
}

// startOnce returns the generating row for key, creating it when none is
// running. started reports whether the caller owns a new run.
func (g *Gateway) startOnce(ctx context.Context, key models.JobKey) (*models.GenerationJob, bool, error) {
	g.startMu.Lock()
	defer g.startMu.Unlock()

	existing, err := g.store.FindGenerating(ctx, key)
	switch {
	case err == nil:
		log.Info().Str("job_id", existing.ID).Str("key", key.String()).Msg("Job already generating, not starting another run")
		return existing, false, nil
	case !errors.Is(err, store.ErrJobNotFound):
		log.Warn().Err(err).Str("key", key.String()).Msg("Failed to check for a running job")
	}

	job, err := g.createJob(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Wait blocks until background runs finish or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) run(ctx context.Context, jobID string, req Request) *Outcome {
	key := req.Key()
	logger := log.With().Str("job_id", jobID).Str("key", key.String()).Str("backend_path", req.BackendPath).Logger()

	stopHeartbeat := g.heartbeat(ctx, jobID)
	started := time.Now()
	result, err := g.backend.Call(ctx, req.BackendPath, req.Payload)
	stopHeartbeat()

	telemetry.GetMetrics().BackendCallDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
		metric.WithAttributes(attribute.String("job_type", key.JobType), attribute.Bool("success", err == nil)))

	if err != nil {
		status := http.StatusInternalServerError
		var backendErr *backend.Error
		if errors.As(err, &backendErr) {
			status = backendErr.StatusCode
		}

		logger.Warn().Err(err).Int("status", status).Msg("Generation failed")
		g.fail(ctx, logger, jobID, key, err.Error())

		return errorOutcome(jobID, status, err.Error())
	}

	if g.uploader != nil {
		result = g.uploader.Rewrite(ctx, key, result)
	}

	g.complete(ctx, logger, jobID, key, result)
	logger.Info().Dur("duration", time.Since(started)).Msg("Generation completed")

	return &Outcome{JobID: jobID, StatusCode: http.StatusOK, Body: result}
}

// heartbeat touches the row until the returned stop func is called.
func (g *Gateway) heartbeat(ctx context.Context, jobID string) func() {
	if jobID == "" {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(g.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := g.store.TouchJob(ctx, jobID); err != nil {
					log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to heartbeat job")
					continue
				}
				telemetry.GetMetrics().HeartbeatsTotal.Add(ctx, 1)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (g *Gateway) complete(ctx context.Context, logger zerolog.Logger, jobID string, key models.JobKey, result json.RawMessage) {
	if jobID == "" {
		return
	}

	err := g.retryWrite(ctx, func() error {
		return g.store.CompleteJob(ctx, jobID, result)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record completed job")
		telemetry.GetMetrics().TrackingWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("write", "complete")))
		return
	}

	telemetry.GetMetrics().JobsCompletedTotal.Add(ctx, 1, jobTypeAttr(key))
}

func (g *Gateway) fail(ctx context.Context, logger zerolog.Logger, jobID string, key models.JobKey, message string) {
	if jobID == "" {
		return
	}

	err := g.retryWrite(ctx, func() error {
		return g.store.FailJob(ctx, jobID, message)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record failed job")
		telemetry.GetMetrics().TrackingWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("write", "fail")))
		return
	}

	telemetry.GetMetrics().JobsFailedTotal.Add(ctx, 1, jobTypeAttr(key))
}

func (g *Gateway) createJob(ctx context.Context, key models.JobKey) (*models.GenerationJob, error) {
	return backoff.Retry(ctx, func() (*models.GenerationJob, error) {
		job, err := g.store.CreateJob(ctx, key)
		if errors.Is(err, store.ErrInvalidKey) {
			return nil, backoff.Permanent(err)
		}
		return job, err
	}, g.retryOptions(key.String())...)
}

func (g *Gateway) retryWrite(ctx context.Context, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := write()
		if errors.Is(err, store.ErrJobNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, g.retryOptions("")...)
	return err
}

func (g *Gateway) retryOptions(key string) []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.WriteInitialInterval
	bo.Multiplier = 2

	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(g.cfg.WriteMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("key", key).Dur("retry_in", next).Msg("Job store write failed, retrying")
		}),
	}
}

func errorOutcome(jobID string, status int, message string) *Outcome {
	body, _ := json.Marshal(map[string]string{"error": message})
	return &Outcome{JobID: jobID, StatusCode: status, Body: body}
}

func jobTypeAttr(key models.JobKey) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", key.JobType))
}
