package usecase

import (
	"context"
	"reviewq/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Janitor = (*Janitor)(nil)

// Janitor periodically evicts terminal jobs older than Retention.
type Janitor struct {
	Q         *Queue
	Retention time.Duration
	Interval  time.Duration
}

func NewJanitor(q *Queue, retention, interval time.Duration) *Janitor {
	return &Janitor{Q: q, Retention: retention, Interval: interval}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) int {
	n := j.Q.Evict(j.Q.now().Add(-j.Retention))
	if n > 0 {
		log.Ctx(ctx).Info().Int("evicted", n).Dur("retention", j.Retention).Msg("evicted terminal jobs")
	}
	return n
}
