package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"reviewq/internal/domain"
	"reviewq/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeadLetter appends permanently failed jobs to a Redis stream so operators
// can inspect and replay them after the process is gone.
type DeadLetter struct {
	C      *Client
	Stream string
}

func NewDeadLetter(c *Client) *DeadLetter {
	return &DeadLetter{C: c, Stream: c.Cfg.DLQStreamKey}
}

// Run forwards failed jobs from sub until ctx is done or sub is closed.
func (d *DeadLetter) Run(ctx context.Context, sub ports.Subscription) error {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-sub.C():
			if !ok {
				return nil
			}
			if j.State != domain.JobFailed {
				continue
			}
			if err := d.Forward(ctx, j); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("job_id", j.ID).Msg("dead letter forward failed")
			}
		}
	}
}

func (d *DeadLetter) Forward(ctx context.Context, j domain.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	id, err := d.C.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.Stream,
		Values: map[string]any{
			"job_id": j.ID,
			"job":    b,
			"reason": j.LastError,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", d.Stream, err)
	}
	log.Ctx(ctx).Warn().Str("job_id", j.ID).Str("stream_id", id).Msg("job moved to dead letter stream")
	return nil
}
