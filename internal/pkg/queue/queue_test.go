package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	redisc "github.com/publora/core/internal/pkg/redis"
)

func newTestQueue(t *testing.T, handler Handler, opts Options) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redisc.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return New("test", rc, handler, opts, nil)
}

type testPayload struct {
	PublicationID string `json:"publicationId"`
}

func TestEnqueueDelayComputation(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	ctx := context.Background()

	cases := []struct {
		name  string
		delay time.Duration
		want  time.Duration // expected ReadyAt - CreatedAt
	}{
		{"immediate", 0, 0},
		{"negative clamps to zero", -time.Hour, 0},
		{"one hour", time.Hour, time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job, err := q.Enqueue(ctx, testPayload{PublicationID: "p1"}, tc.delay)
			if err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			got := job.ReadyAt.Sub(job.CreatedAt)
			if diff := got - tc.want; diff < -time.Second || diff > time.Second {
				t.Errorf("ReadyAt offset = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClaimRespectsReadyTime(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testPayload{PublicationID: "p1"}, 80*time.Millisecond); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	job, err := q.claim(ctx)
	if err != nil {
		t.Fatalf("claim() error = %v", err)
	}
	if job != nil {
		t.Fatalf("claimed job before its ready time")
	}

	time.Sleep(100 * time.Millisecond)

	job, err = q.claim(ctx)
	if err != nil {
		t.Fatalf("claim() error = %v", err)
	}
	if job == nil {
		t.Fatalf("due job was not claimable")
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}

	var p testPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if p.PublicationID != "p1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testPayload{}, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first, err := q.claim(ctx)
	if err != nil || first == nil {
		t.Fatalf("first claim = (%v, %v)", first, err)
	}
	second, err := q.claim(ctx)
	if err != nil {
		t.Fatalf("second claim error = %v", err)
	}
	if second != nil {
		t.Fatalf("job claimed twice")
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	handlerErr := errors.New("rate limited")
	q := newTestQueue(t, func(ctx context.Context, job *Job) error {
		return handlerErr
	}, Options{Backoff: 5 * time.Second, MaxAttempts: 3})
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, testPayload{}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	for i, want := range wantDelays {
		job, err := q.claim(ctx)
		if err != nil || job == nil {
			t.Fatalf("attempt %d: claim = (%v, %v)", i+1, job, err)
		}
		before := time.Now()
		q.process(ctx, job)

		stored, err := q.GetJob(ctx, enq.ID)
		if err != nil || stored == nil {
			t.Fatalf("GetJob() = (%v, %v)", stored, err)
		}
		if stored.Status != JobWaiting {
			t.Fatalf("attempt %d: status = %q, want waiting", i+1, stored.Status)
		}
		got := stored.ReadyAt.Sub(before)
		if got < want-time.Second || got > want+time.Second {
			t.Errorf("attempt %d: backoff = %v, want ~%v", i+1, got, want)
		}

		// Make the retry due immediately for the next iteration.
		q.rc.Raw().ZAdd(ctx, q.delayedKey(), goredis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: enq.ID,
		})
	}

	// Third attempt exhausts the cap.
	job, err := q.claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("final claim = (%v, %v)", job, err)
	}
	q.process(ctx, job)

	stored, _ := q.GetJob(ctx, enq.ID)
	if stored.Status != JobFailed {
		t.Errorf("status after exhausted retries = %q, want failed", stored.Status)
	}
	if stored.LastError != handlerErr.Error() {
		t.Errorf("LastError = %q, want %q", stored.LastError, handlerErr.Error())
	}
}

func TestNoRetrySkipsRemainingAttempts(t *testing.T) {
	q := newTestQueue(t, func(ctx context.Context, job *Job) error {
		return NoRetry(errors.New("policy violation"))
	}, Options{MaxAttempts: 3})
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, testPayload{}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	job, err := q.claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim = (%v, %v)", job, err)
	}
	q.process(ctx, job)

	stored, _ := q.GetJob(ctx, enq.ID)
	if stored.Status != JobFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", stored.Attempts)
	}
}

func TestRemoveWaitingJob(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testPayload{}, time.Hour)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ok, err := q.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !ok {
		t.Fatalf("Remove() = false for a waiting job")
	}

	// Second removal races with nothing, reports not-removed.
	ok, err = q.Remove(ctx, job.ID)
	if err != nil || ok {
		t.Errorf("second Remove() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRemoveClaimedJobFails(t *testing.T) {
	q := newTestQueue(t, nil, Options{})
	ctx := context.Background()

	job, err := q.Enqueue(ctx, testPayload{}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if claimed, err := q.claim(ctx); err != nil || claimed == nil {
		t.Fatalf("claim = (%v, %v)", claimed, err)
	}

	ok, err := q.Remove(ctx, job.ID)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ok {
		t.Fatalf("Remove() = true for an already claimed job")
	}
}

func TestReapReturnsStalledJobs(t *testing.T) {
	q := newTestQueue(t, nil, Options{Visibility: time.Millisecond})
	ctx := context.Background()

	enq, err := q.Enqueue(ctx, testPayload{}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job, err := q.claim(ctx); err != nil || job == nil {
		t.Fatalf("claim = (%v, %v)", job, err)
	}

	time.Sleep(5 * time.Millisecond)

	n, err := q.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}

	stored, _ := q.GetJob(ctx, enq.ID)
	if stored.Status != JobWaiting {
		t.Errorf("status after reap = %q, want waiting", stored.Status)
	}
	// Repickup keeps the attempt count so the cap still holds.
	if stored.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", stored.Attempts)
	}
}
