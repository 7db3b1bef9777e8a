package redisq

import (
	"context"
	"fmt"
	"reviewq/internal/domain"
	"reviewq/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.ReviewStore = (*ReviewStore)(nil)

// setStatus updates a review hash only if it exists. Returns 1 on update.
var setStatus = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'is_public', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// ReviewStore keeps one hash per review under Cfg.ReviewPrefix.
type ReviewStore struct {
	C *Client
}

func NewReviewStore(c *Client) *ReviewStore {
	return &ReviewStore{C: c}
}

func (s *ReviewStore) key(id string) string { return s.C.Cfg.ReviewPrefix + id }

func publicFlag(status domain.ReviewStatus) string {
	if status.Public() {
		return "1"
	}
	return "0"
}

func statusArgs(status domain.ReviewStatus) []any {
	return []any{string(status), publicFlag(status), time.Now().UnixMilli()}
}

func (s *ReviewStore) UpdateStatus(ctx context.Context, id string, status domain.ReviewStatus) error {
	n, err := setStatus.Run(ctx, s.C.Rdb, []string{s.key(id)}, statusArgs(status)...).Int()
	if err != nil {
		return fmt.Errorf("update review %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update review %s: %w", id, ports.ErrReviewNotFound)
	}
	return nil
}

// BulkUpdateStatus updates every existing review in ids; unknown ids are
// skipped.
func (s *ReviewStore) BulkUpdateStatus(ctx context.Context, ids []string, status domain.ReviewStatus) error {
	if len(ids) == 0 {
		return nil
	}
	if err := setStatus.Load(ctx, s.C.Rdb).Err(); err != nil {
		return fmt.Errorf("load status script: %w", err)
	}
	args := statusArgs(status)
	_, err := s.C.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			setStatus.EvalSha(ctx, pipe, []string{s.key(id)}, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk update %d reviews: %w", len(ids), err)
	}
	return nil
}

// Put writes a full review record.
func (s *ReviewStore) Put(ctx context.Context, r domain.Review) error {
	return s.C.Rdb.HSet(ctx, s.key(r.ID), map[string]any{
		"property_name": r.PropertyName,
		"guest_name":    r.GuestName,
		"channel":       r.Channel,
		"rating":        r.Rating,
		"review_text":   r.Text,
		"status":        string(r.Status),
		"is_public":     publicFlag(r.Status),
		"submitted_at":  r.SubmittedAt.UnixMilli(),
		"updated_at":    time.Now().UnixMilli(),
	}).Err()
}

func (s *ReviewStore) Status(ctx context.Context, id string) (domain.ReviewStatus, error) {
	v, err := s.C.Rdb.HGet(ctx, s.key(id), "status").Result()
	if err == redis.Nil {
		return "", ports.ErrReviewNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.ReviewStatus(v), nil
}
