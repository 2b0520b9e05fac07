package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/genjobs/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidKey  = errors.New("invalid job key")
	ErrStoreClosed = errors.New("store closed")
)

// StaleJobMessage is the error recorded on jobs failed by a stale sweep.
const StaleJobMessage = "Interrupted by server restart"

// JobStore defines the interface for generation job storage operations.
type JobStore interface {
	// CreateJob upserts the row for key with status generating, clearing any
	// previous result or error. The surrogate id of an existing row is kept.
	CreateJob(ctx context.Context, key models.JobKey) (*models.GenerationJob, error)

	// FindGenerating returns the row for key if it is currently generating,
	// ErrJobNotFound otherwise.
	FindGenerating(ctx context.Context, key models.JobKey) (*models.GenerationJob, error)

	GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error)

	// ListJobs returns all jobs of a generation in arrival order.
	ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error)

	// Terminal writes
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error
	FailJob(ctx context.Context, jobID string, message string) error

	// TouchJob bumps updated_at only, marking the job as still alive.
	TouchJob(ctx context.Context, jobID string) error

	// FailStaleJobs fails generating jobs not updated since olderThan and
	// returns the rows it changed.
	FailStaleJobs(ctx context.Context, olderThan time.Time, message string) ([]*models.GenerationJob, error)

	// WatchJobs streams inserts and updates for a generation until ctx is done.
	WatchJobs(ctx context.Context, generationID string) (<-chan models.JobChange, error)

	// Lifecycle
	Start() error
	Stop() error
}

// ValidateKey checks the required parts of a job key.
func ValidateKey(key models.JobKey) error {
	if key.GenerationID == "" {
		return fmt.Errorf("%w: generation_id is required", ErrInvalidKey)
	}
	if key.JobType == "" {
		return fmt.Errorf("%w: job_type is required", ErrInvalidKey)
	}
	return nil
}
