package usecase

import (
	"context"
	"fmt"
	"reviewq/internal/domain"
	"reviewq/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
)

// process runs one attempt of a job. It is started once per enqueue and once
// per scheduled retry; the caller has already added to q.wg.
func (q *Queue) process(id string) {
	defer q.wg.Done()

	q.mu.Lock()
	delete(q.timers, id)
	job, ok := q.jobs[id]
	if !ok || !retryable(job) {
		q.mu.Unlock()
		return
	}
	job.State = domain.JobProcessing
	job.UpdatedAt = q.now()
	snap := job.Clone()
	job.Attempts++
	attempt, payload := job.Attempts, job.Payload
	// publishing under q.mu keeps per-job events ordered against retry timers
	q.events.publish(snap)
	q.mu.Unlock()

	err := q.attempt(payload)

	q.mu.Lock()
	job.UpdatedAt = q.now()
	switch {
	case err == nil:
		job.State = domain.JobSucceeded
		job.LastError = ""
	case job.Attempts >= job.MaxAttempts:
		job.State = domain.JobFailed
		job.LastError = err.Error()
	default:
		job.State = domain.JobQueued
		job.LastError = err.Error()
	}
	snap = job.Clone()
	var delay time.Duration
	if snap.State == domain.JobQueued {
		delay = q.scheduleLocked(id, attempt)
	}
	q.events.publish(snap)
	q.mu.Unlock()

	l := log.With().Str("job_id", id).Int("attempt", attempt).Int("max_attempts", snap.MaxAttempts).Logger()
	switch snap.State {
	case domain.JobSucceeded:
		l.Info().Msg("job succeeded")
	case domain.JobFailed:
		l.Error().Err(err).Msg("job failed permanently")
	default:
		l.Warn().Err(err).Dur("retry_in", delay).Msg("job attempt failed")
	}
}

// retryable reports whether a job may start another attempt.
func retryable(j *domain.Job) bool {
	switch j.State {
	case domain.JobQueued:
		return true
	case domain.JobFailed:
		return j.Attempts < j.MaxAttempts
	}
	return false
}

// scheduleLocked arms a retry timer for the job. q.mu must be held.
func (q *Queue) scheduleLocked(id string, attempt int) time.Duration {
	if q.closed {
		return 0
	}
	delay := backoff.ExponentialJitter(q.opts.BaseDelay, q.opts.MaxDelay, q.opts.MaxJitter, attempt)
	q.wg.Add(1)
	q.timers[id] = time.AfterFunc(delay, func() { q.process(id) })
	return delay
}

func (q *Queue) attempt(payload domain.Payload) (err error) {
	ctx := q.ctx
	if q.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("review store panic: %v", r)
		}
	}()

	switch p := payload.(type) {
	case domain.UpdateStatus:
		return q.store.UpdateStatus(ctx, p.TargetID, p.NewStatus)
	case domain.BulkUpdateStatus:
		return q.store.BulkUpdateStatus(ctx, p.TargetIDs, p.NewStatus)
	default:
		return fmt.Errorf("unsupported payload %T", payload)
	}
}
