package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/genjobs/internal/models"
)

// DefaultInterval is the reconciliation poll interval.
const DefaultInterval = 5 * time.Second

// Fetcher loads the full job list of a generation.
type Fetcher interface {
	ListJobs(ctx context.Context, generationID string) ([]*models.GenerationJob, error)
}

// Subscriber opens a push stream of job changes for a generation. The
// channel closes when the stream ends.
type Subscriber interface {
	WatchJobs(ctx context.Context, generationID string) (<-chan models.JobChange, error)
}

// Options for a Watcher.
type Options struct {
	// Interval between reconciliation polls while any job is non-terminal.
	Interval time.Duration
	// RefetchOnFocus makes Focus trigger a fetch.
	RefetchOnFocus bool
	Clock          Clock
}

func (o *Options) ApplyDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// Watcher mirrors the jobs of one bound generation from a push stream plus
// a polling fallback that only runs while some job is still in flight.
//
// Each binding runs one session goroutine owning the ticker and push channel.
// Fetches run on their own goroutines and are applied only while the binding
// that issued them is current.
type Watcher struct {
	fetcher    Fetcher
	subscriber Subscriber
	opts       Options

	mu           sync.Mutex
	generationID string
	epoch        uint64
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	jobs         []*models.GenerationJob
	closed       bool

	// fetchSeq orders fetches, appliedFetch is the newest applied.
	fetchSeq     uint64
	appliedFetch uint64
	// inFlight counts outstanding fetches, ticks are skipped while non-zero.
	inFlight int
	// pushSeq counts applied pushes, pushed holds the last push per job id.
	pushSeq uint64
	pushed  map[string]uint64

	subs map[chan []models.GenerationJob]struct{}
}

// New creates an idle watcher. subscriber may be nil for polling only.
func New(fetcher Fetcher, subscriber Subscriber, opts Options) *Watcher {
	opts.ApplyDefaults()
	return &Watcher{
		fetcher:    fetcher,
		subscriber: subscriber,
		opts:       opts,
		pushed:     make(map[string]uint64),
		subs:       make(map[chan []models.GenerationJob]struct{}),
	}
}

// Bind switches the watcher to generationID, tearing down any previous
// binding. An empty id returns the watcher to idle.
func (w *Watcher) Bind(generationID string) {
	w.mu.Lock()
	if w.closed || generationID == w.generationID {
		w.mu.Unlock()
		return
	}

	done := w.teardownLocked()
	w.generationID = generationID

	if generationID != "" {
		ctx, cancel := context.WithCancel(context.Background())
		w.ctx, w.cancel = ctx, cancel
		w.done = make(chan struct{})
		go w.session(ctx, w.epoch, generationID, w.done)
	}

	w.notifyLocked()
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close tears down the binding and closes all snapshot subscriptions.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	done := w.teardownLocked()
	w.generationID = ""
	w.closed = true

	for ch := range w.subs {
		close(ch)
		delete(w.subs, ch)
	}
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

// GenerationID returns the bound generation, empty when idle.
func (w *Watcher) GenerationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generationID
}

// Jobs returns a copy of the current list in arrival order.
func (w *Watcher) Jobs() []models.GenerationJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Refresh issues a full fetch for the bound generation, even while a polled
// fetch is outstanding.
func (w *Watcher) Refresh() {
	w.mu.Lock()
	if w.generationID == "" {
		w.mu.Unlock()
		return
	}
	ctx, epoch, generationID := w.ctx, w.epoch, w.generationID
	w.mu.Unlock()

	w.fetch(ctx, epoch, generationID)
}

// Focus refreshes when RefetchOnFocus is set.
func (w *Watcher) Focus() {
	if w.opts.RefetchOnFocus {
		w.Refresh()
	}
}

// Subscribe returns a channel receiving the job list after every change,
// starting with the current one. Slow readers only see the latest list.
func (w *Watcher) Subscribe(ctx context.Context) <-chan []models.GenerationJob {
	ch := make(chan []models.GenerationJob, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch
	}
	w.subs[ch] = struct{}{}
	ch <- w.snapshotLocked()
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
	}()

	return ch
}

func (w *Watcher) session(ctx context.Context, epoch uint64, generationID string, done chan struct{}) {
	defer close(done)

	logger := log.With().Str("generation_id", generationID).Logger()
	logger.Debug().Msg("Watching generation jobs")

	w.fetch(ctx, epoch, generationID)

	ticker := w.opts.Clock.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	// subscribing may block until the first change, polling runs meanwhile
	subscribed := make(chan (<-chan models.JobChange), 1)
	if w.subscriber != nil {
		go func() {
			ch, err := w.subscriber.WatchJobs(ctx, generationID)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("Failed to subscribe to job changes, polling only")
				}
				return
			}
			subscribed <- ch
		}()
	}

	var changes <-chan models.JobChange
	for {
		select {
		case <-ctx.Done():
			return
		case changes = <-subscribed:
		case change, ok := <-changes:
			if !ok {
				// not reopened, polling reconciles from here
				logger.Debug().Msg("Job change stream closed")
				changes = nil
				continue
			}
			w.applyChange(epoch, change)
		case <-ticker.C():
			if w.pollDue(epoch) {
				w.fetch(ctx, epoch, generationID)
			}
		}
	}
}

// fetch issues a ListJobs call unless the binding changed.
func (w *Watcher) fetch(ctx context.Context, epoch uint64, generationID string) {
	w.mu.Lock()
	if w.closed || epoch != w.epoch {
		w.mu.Unlock()
		return
	}
	w.fetchSeq++
	w.inFlight++
	seq, pushMark := w.fetchSeq, w.pushSeq
	w.mu.Unlock()

	go func() {
		jobs, err := w.fetcher.ListJobs(ctx, generationID)
		if err != nil {
			w.fetchDone(epoch)
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("generation_id", generationID).Msg("Failed to fetch generation jobs")
			}
			return
		}
		w.applyFetch(epoch, seq, pushMark, jobs)
	}()
}

// applyFetch replaces the list with a fetch result. Rows the local copy
// holds newer versions of are kept, as are rows pushed after the fetch was
// issued that the result could not contain yet.
func (w *Watcher) applyFetch(epoch, seq, pushMark uint64, fetched []*models.GenerationJob) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if epoch != w.epoch {
		return
	}
	w.inFlight--
	if seq < w.appliedFetch {
		return
	}
	w.appliedFetch = seq

	held := make(map[string]*models.GenerationJob, len(w.jobs))
	for _, job := range w.jobs {
		held[job.ID] = job
	}

	next := make([]*models.GenerationJob, 0, len(fetched))
	seen := make(map[string]struct{}, len(fetched))
	for _, job := range fetched {
		if job == nil || job.GenerationID != w.generationID {
			continue
		}
		if local, ok := held[job.ID]; ok && local.UpdatedAt.After(job.UpdatedAt) {
			next = append(next, local)
		} else {
			next = append(next, job.Clone())
		}
		seen[job.ID] = struct{}{}
	}

	for _, job := range w.jobs {
		if _, ok := seen[job.ID]; !ok && w.pushed[job.ID] > pushMark {
			next = append(next, job)
		}
	}

	w.jobs = next
	w.notifyLocked()
}

// applyChange upserts a pushed row by id.
func (w *Watcher) applyChange(epoch uint64, change models.JobChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if epoch != w.epoch || change.Job.GenerationID != w.generationID {
		return
	}

	job := change.Job.Clone()

	for i, held := range w.jobs {
		if held.ID != job.ID {
			continue
		}
		if held.UpdatedAt.After(job.UpdatedAt) {
			// stale push, keep the newer local row
			return
		}
		w.jobs[i] = job
		w.markPushedLocked(job.ID)
		w.notifyLocked()
		return
	}

	w.jobs = append(w.jobs, job)
	w.markPushedLocked(job.ID)
	w.notifyLocked()
}

func (w *Watcher) fetchDone(epoch uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if epoch == w.epoch {
		w.inFlight--
	}
}

// pollDue reports whether a tick should fetch: some job is still in flight
// and no earlier fetch of this binding is outstanding.
func (w *Watcher) pollDue(epoch uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if epoch != w.epoch || w.inFlight > 0 {
		return false
	}
	for _, job := range w.jobs {
		if job.Status == models.JobStatusGenerating || job.Status == models.JobStatusQueued {
			return true
		}
	}
	return false
}

func (w *Watcher) markPushedLocked(jobID string) {
	w.pushSeq++
	w.pushed[jobID] = w.pushSeq
}

// teardownLocked cancels the current session and resets state. The returned
// channel closes once the session goroutine has exited.
func (w *Watcher) teardownLocked() chan struct{} {
	done := w.done
	if w.cancel != nil {
		w.cancel()
	}

	w.epoch++
	w.ctx, w.cancel, w.done = nil, nil, nil
	w.jobs = nil
	w.fetchSeq, w.appliedFetch, w.pushSeq = 0, 0, 0
	w.inFlight = 0
	w.pushed = make(map[string]uint64)

	return done
}

func (w *Watcher) snapshotLocked() []models.GenerationJob {
	out := make([]models.GenerationJob, len(w.jobs))
	for i, job := range w.jobs {
		out[i] = *job.Clone()
	}
	return out
}

func (w *Watcher) notifyLocked() {
	if len(w.subs) == 0 {
		return
	}

	snapshot := w.snapshotLocked()
	for ch := range w.subs {
		// drop the unread snapshot, only the latest matters
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
