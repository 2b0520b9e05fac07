package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
	"github.com/wolfeidau/genjobs/internal/notify"
	"github.com/wolfeidau/genjobs/internal/store"
)

var _ store.JobStore = (*JobStore)(nil)

// JobStore implements store.JobStore using in-memory storage.
type JobStore struct {
	mu sync.RWMutex

	jobs  map[string]*models.GenerationJob // job ID -> job
	keys  map[models.JobKey]string         // key -> job ID
	order []string                         // job IDs in arrival order

	hub    *notify.Hub // published to while holding mu so changes stay ordered
	now    func() time.Time
	closed bool
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.GenerationJob),
		keys: make(map[models.JobKey]string),
		hub:  notify.NewHub(notify.DefaultBufferSize),
		now:  time.Now,
	}
}

// Start is a no-op, the memory store has no background work.
func (s *JobStore) Start() error {
	return nil
}

// Stop closes all change subscriptions.
func (s *JobStore) Stop() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()
	return nil
}

func (s *JobStore) CreateJob(ctx context.Context, key models.JobKey) (*models.GenerationJob, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrStoreClosed
	}

	now := s.now()
	op := models.ChangeOpUpdate

	job, exists := s.jobs[s.keys[key]]
	if !exists {
		op = models.ChangeOpInsert
		job = &models.GenerationJob{
			ID:           uuid.Must(uuid.NewV7()).String(),
			GenerationID: key.GenerationID,
			JobType:      key.JobType,
			TargetID:     key.TargetID,
			CreatedAt:    now,
		}
		s.jobs[job.ID] = job
		s.keys[key] = job.ID
		s.order = append(s.order, job.ID)
	}

	job.Status = models.JobStatusGenerating
	job.Result = nil
	job.ErrorMessage = ""
	job.UpdatedAt = now

	snapshot := job.Clone()
	s.hub.Publish(models.JobChange{Op: op, Job: *snapshot})
	s.mu.Unlock()

	log.Debug().Str("job_id", snapshot.ID).Str("key", key.String()).Msg("Created generating job")

	return snapshot, nil
}

func (s *JobStore) FindGenerating(ctx context.Context, key models.JobKey) (*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[s.keys[key]]
	if !exists || job.Status != models.JobStatusGenerating {
		return nil, store.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.GenerationJob, 0)
	for _, id := range s.order {
		if job := s.jobs[id]; job.GenerationID == generationID {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs, nil
}

func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	return s.update(jobID, func(job *models.GenerationJob) {
		job.Status = models.JobStatusCompleted
		job.Result = append(json.RawMessage(nil), result...)
		job.ErrorMessage = ""
	})
}

func (s *JobStore) FailJob(ctx context.Context, jobID string, message string) error {
	return s.update(jobID, func(job *models.GenerationJob) {
		job.Status = models.JobStatusFailed
		job.Result = nil
		job.ErrorMessage = message
	})
}

func (s *JobStore) TouchJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	job.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) FailStaleJobs(ctx context.Context, olderThan time.Time, message string) ([]*models.GenerationJob, error) {
	s.mu.Lock()
	now := s.now()
	var failed []*models.GenerationJob
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != models.JobStatusGenerating || !job.UpdatedAt.Before(olderThan) {
			continue
		}
		job.Status = models.JobStatusFailed
		job.Result = nil
		job.ErrorMessage = message
		job.UpdatedAt = now
		snapshot := job.Clone()
		s.hub.Publish(models.JobChange{Op: models.ChangeOpUpdate, Job: *snapshot})
		failed = append(failed, snapshot)
	}
	s.mu.Unlock()

	return failed, nil
}

func (s *JobStore) WatchJobs(ctx context.Context, generationID string) (<-chan models.JobChange, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, store.ErrStoreClosed
	}
	return s.hub.Subscribe(ctx, generationID), nil
}

// update applies fn to a job under the lock and publishes the new row.
func (s *JobStore) update(jobID string, fn func(job *models.GenerationJob)) error {
	s.mu.Lock()
	job, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	fn(job)
	job.UpdatedAt = s.now()
	snapshot := job.Clone()
	s.hub.Publish(models.JobChange{Op: models.ChangeOpUpdate, Job: *snapshot})
	s.mu.Unlock()

	log.Debug().Str("job_id", jobID).Str("status", string(snapshot.Status)).Msg("Updated job")

	return nil
}
