package usecase

import (
	"context"
	"errors"
	"reviewq/internal/domain"
	"reviewq/internal/ports"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrJobNotFound = errors.New("job not found")

type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxJitter        time.Duration
	AttemptTimeout   time.Duration
	SubscriberBuffer int
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:      5,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         30 * time.Second,
		MaxJitter:        250 * time.Millisecond,
		AttemptTimeout:   10 * time.Second,
		SubscriberBuffer: 64,
	}
}

// Queue runs review status mutations asynchronously against a ReviewStore,
// retrying failed attempts with exponential backoff. Jobs live in memory for
// the life of the Queue.
type Queue struct {
	store ports.ReviewStore
	opts  Options

	mu     sync.Mutex
	jobs   map[string]*domain.Job
	byKey  map[string]string
	timers map[string]*time.Timer
	closed bool

	events *broker
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	now   func() time.Time
	newID func() string
}

var _ ports.JobQueue = (*Queue)(nil)

func NewQueue(store ports.ReviewStore, opts Options) *Queue {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = def.SubscriberBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		store:  store,
		opts:   opts,
		jobs:   make(map[string]*domain.Job),
		byKey:  make(map[string]string),
		timers: make(map[string]*time.Timer),
		events: newBroker(opts.SubscriberBuffer),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Enqueue records a new job and starts processing it in the background. When
// idempotencyKey already belongs to a job, that job is returned as is and no
// new work is started. maxAttempts <= 0 selects the queue default.
func (q *Queue) Enqueue(payload domain.Payload, idempotencyKey string, maxAttempts int) domain.Job {
	q.mu.Lock()
	if idempotencyKey != "" {
		if id, ok := q.byKey[idempotencyKey]; ok {
			if existing, ok := q.jobs[id]; ok {
				snap := existing.Clone()
				q.mu.Unlock()
				log.Debug().Str("job_id", id).Str("idempotency_key", idempotencyKey).Msg("idempotent enqueue hit")
				return snap
			}
		}
	}

	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	now := q.now()
	job := domain.Job{
		ID:             q.newID(),
		State:          domain.JobQueued,
		Payload:        payload,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}.Clone()
	q.jobs[job.ID] = &job
	if idempotencyKey != "" {
		q.byKey[idempotencyKey] = job.ID
	}
	snap := job.Clone()
	closed := q.closed
	if !closed {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	log.Info().Str("job_id", snap.ID).Str("kind", string(payload.Kind())).Int("max_attempts", maxAttempts).Msg("job enqueued")
	q.events.publish(snap)

	if closed {
		log.Warn().Str("job_id", snap.ID).Msg("queue closed, job will not be processed")
		return snap
	}
	go q.process(snap.ID)
	return snap
}

// Get returns a snapshot of the job, or ErrJobNotFound.
func (q *Queue) Get(id string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Subscribe registers a listener for every subsequent job transition.
func (q *Queue) Subscribe() ports.Subscription {
	return q.events.subscribe()
}

func (q *Queue) Stats() map[domain.JobState]int {
	stats := map[domain.JobState]int{
		domain.JobQueued:     0,
		domain.JobProcessing: 0,
		domain.JobSucceeded:  0,
		domain.JobFailed:     0,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		stats[j.State]++
	}
	return stats
}

// Evict drops terminal jobs last updated before cutoff, along with their
// idempotency keys, and returns how many were removed.
func (q *Queue) Evict(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, j := range q.jobs {
		if !j.State.Terminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, id)
		if j.IdempotencyKey != "" && q.byKey[j.IdempotencyKey] == id {
			delete(q.byKey, j.IdempotencyKey)
		}
		n++
	}
	return n
}

// Close stops pending retries and waits for in-flight attempts. If ctx ends
// first the attempts are cancelled and Close returns without waiting further.
// Jobs waiting on a retry stay queued.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for id, t := range q.timers {
		if t.Stop() {
			q.wg.Done()
		}
		delete(q.timers, id)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.cancel()
	q.events.close()
	return err
}
