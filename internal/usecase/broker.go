package usecase

import (
	"reviewq/internal/domain"
	"reviewq/internal/ports"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// broker fans job snapshots out to subscribers in registration order. A full
// subscriber buffer drops the event for that subscriber only.
type broker struct {
	mu     sync.Mutex
	subs   []*subscription
	buffer int
	closed bool
}

type subscription struct {
	b       *broker
	ch      chan domain.Job
	once    sync.Once
	dropped atomic.Int64
}

var _ ports.Subscription = (*subscription)(nil)

func newBroker(buffer int) *broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &broker{buffer: buffer}
}

func (b *broker) subscribe() *subscription {
	s := &subscription{b: b, ch: make(chan domain.Job, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

func (b *broker) publish(j domain.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- j.Clone():
		default:
			n := s.dropped.Add(1)
			log.Warn().Str("job_id", j.ID).Str("state", string(j.State)).Int64("dropped", n).
				Msg("subscriber buffer full, dropping job event")
		}
	}
}

func (b *broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.ch) })
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, s := range b.subs {
		s.once.Do(func() { close(s.ch) })
	}
	b.subs = nil
}

func (s *subscription) C() <-chan domain.Job { return s.ch }

func (s *subscription) Unsubscribe() { s.b.remove(s) }

// Dropped is the number of events this subscriber missed because its buffer
// was full.
func (s *subscription) Dropped() int64 { return s.dropped.Load() }
