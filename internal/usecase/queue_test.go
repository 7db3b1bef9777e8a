package usecase

import (
	"context"
	"errors"
	"reviewq/internal/domain"
	"reviewq/internal/ports"
	"slices"
	"sync"
	"testing"
	"time"
)

type storeCall struct {
	ids    []string
	status domain.ReviewStatus
	bulk   bool
}

// fakeStore fails the first failures calls (all calls when failures < 0).
type fakeStore struct {
	mu       sync.Mutex
	failures int
	err      error
	panicMsg string
	block    chan struct{}
	calls    []storeCall
}

func (f *fakeStore) record(c storeCall) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.failures < 0 || len(f.calls) <= f.failures {
		return f.err
	}
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status domain.ReviewStatus) error {
	return f.record(storeCall{ids: []string{id}, status: status})
}

func (f *fakeStore) BulkUpdateStatus(_ context.Context, ids []string, status domain.ReviewStatus) error {
	return f.record(storeCall{ids: ids, status: status, bulk: true})
}

func (f *fakeStore) Calls() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func testOptions() Options {
	return Options{
		MaxAttempts:      5,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		AttemptTimeout:   time.Second,
		SubscriberBuffer: 64,
	}
}

func newTestQueue(t *testing.T, store ports.ReviewStore) *Queue {
	t.Helper()
	q := NewQueue(store, testOptions())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q
}

// collect reads events for job id until it reaches a terminal state.
func collect(t *testing.T, sub ports.Subscription, id string) []domain.Job {
	t.Helper()
	var out []domain.Job
	timeout := time.After(5 * time.Second)
	for {
		select {
		case j, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed after %d events", len(out))
			}
			if j.ID != id {
				continue
			}
			out = append(out, j)
			if j.State.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for job %s, got %d events", id, len(out))
		}
	}
}

func states(jobs []domain.Job) []domain.JobState {
	out := make([]domain.JobState, len(jobs))
	for i, j := range jobs {
		out[i] = j.State
	}
	return out
}

func TestEnqueueSucceeds(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 0)
	if job.State != domain.JobQueued || job.Attempts != 0 {
		t.Fatalf("initial snapshot = %s/%d, want queued/0", job.State, job.Attempts)
	}
	if job.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", job.MaxAttempts)
	}

	events := collect(t, sub, job.ID)
	want := []domain.JobState{domain.JobQueued, domain.JobProcessing, domain.JobSucceeded}
	if got := states(events); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	final, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Attempts != 1 || final.LastError != "" {
		t.Fatalf("final = attempts %d lastError %q", final.Attempts, final.LastError)
	}
	if final.UpdatedAt.Before(final.CreatedAt) {
		t.Fatalf("updatedAt %v before createdAt %v", final.UpdatedAt, final.CreatedAt)
	}

	calls := store.Calls()
	if len(calls) != 1 || calls[0].bulk || calls[0].ids[0] != "rev_1" || calls[0].status != domain.ReviewApproved {
		t.Fatalf("store calls = %+v", calls)
	}
}

func TestEnqueueIdempotencyKey(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	q := newTestQueue(t, store)
	sub := q.Subscribe()
	payload := domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewRejected}

	first := q.Enqueue(payload, "key-1", 0)
	second := q.Enqueue(payload, "key-1", 0)
	if first.ID != second.ID {
		t.Fatalf("ids differ before completion: %s vs %s", first.ID, second.ID)
	}

	close(store.block)
	collect(t, sub, first.ID)

	third := q.Enqueue(domain.UpdateStatus{TargetID: "rev_2", NewStatus: domain.ReviewPending}, "key-1", 0)
	if third.ID != first.ID || third.State != domain.JobSucceeded {
		t.Fatalf("after completion got %s/%s, want %s/succeeded", third.ID, third.State, first.ID)
	}
	if p, ok := third.Payload.(domain.UpdateStatus); !ok || p.TargetID != "rev_1" {
		t.Fatalf("existing job payload replaced: %+v", third.Payload)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(store.Calls()); n != 1 {
		t.Fatalf("store called %d times, want 1", n)
	}
}

func TestEnqueueWithoutKeyCreatesDistinctJobs(t *testing.T) {
	q := newTestQueue(t, &fakeStore{})
	payload := domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}

	a := q.Enqueue(payload, "", 0)
	b := q.Enqueue(payload, "", 0)
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %s", a.ID)
	}
}

func TestRetryExhaustion(t *testing.T) {
	store := &fakeStore{failures: -1, err: errors.New("db unavailable")}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	job := q.Enqueue(domain.BulkUpdateStatus{TargetIDs: []string{"rev_1", "rev_2"}, NewStatus: domain.ReviewRejected}, "", 0)
	events := collect(t, sub, job.ID)

	want := []domain.JobState{domain.JobQueued}
	for i := 1; i <= 5; i++ {
		want = append(want, domain.JobProcessing)
		if i < 5 {
			want = append(want, domain.JobQueued)
		}
	}
	want = append(want, domain.JobFailed)
	if got := states(events); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	// every post-attempt event advances attempts by exactly one
	attempt := 0
	for _, e := range events[1:] {
		if e.State == domain.JobProcessing {
			continue
		}
		attempt++
		if e.Attempts != attempt {
			t.Fatalf("event %s has attempts %d, want %d", e.State, e.Attempts, attempt)
		}
		if e.LastError != "db unavailable" {
			t.Fatalf("lastError = %q", e.LastError)
		}
	}

	final, _ := q.Get(job.ID)
	if final.State != domain.JobFailed || final.Attempts != 5 || final.LastError != "db unavailable" {
		t.Fatalf("final = %+v", final)
	}
	calls := store.Calls()
	if len(calls) != 5 {
		t.Fatalf("store called %d times, want 5", len(calls))
	}
	for _, c := range calls {
		if !c.bulk || !slices.Equal(c.ids, []string{"rev_1", "rev_2"}) {
			t.Fatalf("unexpected call %+v", c)
		}
	}
}

func TestRetryThenSucceed(t *testing.T) {
	store := &fakeStore{failures: 2, err: errors.New("deadlock detected")}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_9", NewStatus: domain.ReviewApproved}, "", 0)
	events := collect(t, sub, job.ID)

	final := events[len(events)-1]
	if final.State != domain.JobSucceeded || final.Attempts != 3 || final.LastError != "" {
		t.Fatalf("final = %s attempts %d lastError %q", final.State, final.Attempts, final.LastError)
	}
}

func TestMaxAttemptsOverride(t *testing.T) {
	store := &fakeStore{failures: -1, err: errors.New("boom")}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 2)
	events := collect(t, sub, job.ID)
	final := events[len(events)-1]
	if final.State != domain.JobFailed || final.Attempts != 2 || final.MaxAttempts != 2 {
		t.Fatalf("final = %+v", final)
	}
}

func TestStorePanicCountsAsFailure(t *testing.T) {
	store := &fakeStore{panicMsg: "nil map"}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 1)
	events := collect(t, sub, job.ID)
	final := events[len(events)-1]
	if final.State != domain.JobFailed || final.LastError == "" {
		t.Fatalf("final = %+v", final)
	}
}

func TestGetUnknownJob(t *testing.T) {
	q := newTestQueue(t, &fakeStore{})
	if _, err := q.Get("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestLateSubscriberGetsNothing(t *testing.T) {
	q := newTestQueue(t, &fakeStore{})
	early := q.Subscribe()
	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 0)
	collect(t, early, job.ID)

	late := q.Subscribe()
	select {
	case j := <-late.C():
		t.Fatalf("late subscriber got %+v", j)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store := &fakeStore{block: make(chan struct{})}
	q := newTestQueue(t, store)
	ids := []string{"rev_1", "rev_2"}

	job := q.Enqueue(domain.BulkUpdateStatus{TargetIDs: ids, NewStatus: domain.ReviewApproved}, "", 0)
	ids[0] = "mutated"
	job.Payload.(domain.BulkUpdateStatus).TargetIDs[1] = "mutated"
	close(store.block)

	got, _ := q.Get(job.ID)
	if p := got.Payload.(domain.BulkUpdateStatus); !slices.Equal(p.TargetIDs, []string{"rev_1", "rev_2"}) {
		t.Fatalf("stored payload changed: %v", p.TargetIDs)
	}
}

func TestStats(t *testing.T) {
	store := &fakeStore{failures: 1, err: errors.New("boom")}
	q := newTestQueue(t, store)
	sub := q.Subscribe()

	a := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 1)
	b := q.Enqueue(domain.UpdateStatus{TargetID: "rev_2", NewStatus: domain.ReviewApproved}, "", 1)
	collect(t, sub, a.ID)
	collect(t, sub, b.ID)

	stats := q.Stats()
	if stats[domain.JobFailed] != 1 || stats[domain.JobSucceeded] != 1 || stats[domain.JobQueued] != 0 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestCloseStopsPendingRetries(t *testing.T) {
	store := &fakeStore{failures: -1, err: errors.New("boom")}
	opts := testOptions()
	opts.BaseDelay, opts.MaxDelay = time.Hour, time.Hour
	q := NewQueue(store, opts)
	sub := q.Subscribe()

	job := q.Enqueue(domain.UpdateStatus{TargetID: "rev_1", NewStatus: domain.ReviewApproved}, "", 0)
	for e := range sub.C() {
		if e.ID == job.ID && e.State == domain.JobQueued && e.Attempts == 1 {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := q.Get(job.ID)
	if got.State != domain.JobQueued || len(store.Calls()) != 1 {
		t.Fatalf("after close: state %s, calls %d", got.State, len(store.Calls()))
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("subscription still open after Close")
	}

	after := q.Enqueue(domain.UpdateStatus{TargetID: "rev_2", NewStatus: domain.ReviewApproved}, "", 0)
	if after.State != domain.JobQueued {
		t.Fatalf("enqueue after close = %s", after.State)
	}
}
