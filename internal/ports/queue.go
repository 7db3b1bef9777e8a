package ports

import (
	"context"
	"errors"
	"reviewq/internal/domain"
)

var ErrReviewNotFound = errors.New("review not found")

// ReviewStore persists review moderation status.
type ReviewStore interface {
	UpdateStatus(ctx context.Context, id string, status domain.ReviewStatus) error
	BulkUpdateStatus(ctx context.Context, ids []string, status domain.ReviewStatus) error
}

// Subscription delivers job snapshots for every state transition until
// Unsubscribe is called.
type Subscription interface {
	C() <-chan domain.Job
	Unsubscribe()
}

type JobQueue interface {
	Enqueue(payload domain.Payload, idempotencyKey string, maxAttempts int) domain.Job
	Get(id string) (domain.Job, error)
	Subscribe() Subscription
	Stats() map[domain.JobState]int
}

type Janitor interface {
	// evicts terminal jobs until ctx is done
	Run(ctx context.Context) error
}
