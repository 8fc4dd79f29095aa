// Package queue implements a Redis-backed delayed job queue with bounded
// retries. Jobs become eligible no earlier than their ready time, are
// delivered at least once, and are returned to the pool when a consumer
// dies mid-job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	redisc "github.com/publora/core/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a unit of background work stored in Redis.
type Job struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Status    JobStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ReadyAt   time.Time       `json:"ready_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Handler processes one job. A nil return acknowledges the job; an error
// schedules a retry unless it is marked NoRetry or attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

// Options tune a queue. Zero values fall back to defaults.
type Options struct {
	Concurrency    int           // parallel consumers, default 4
	MaxAttempts    int           // delivery attempts per job, default 3
	Backoff        time.Duration // first retry delay, doubles per attempt, default 5s
	Visibility     time.Duration // active-job deadline before repickup, default 2m
	JobTimeout     time.Duration // per-attempt handler deadline, default 90s
	PollInterval   time.Duration // idle poll cadence, default 500ms
	KeepCompleted  int           // completed records kept, default 100
	CompletedTTL   time.Duration // completed records age cap, default 24h
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 90 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = 100
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = 24 * time.Hour
	}
	return o
}

var errNoRetry = errors.New("no retry")

// NoRetry marks err as permanent: the job fails immediately without
// consuming the remaining attempts.
func NoRetry(err error) error {
	return fmt.Errorf("%w: %w", errNoRetry, err)
}

// IsNoRetry reports whether err was marked with NoRetry.
func IsNoRetry(err error) bool { return errors.Is(err, errNoRetry) }

// Queue is a named Redis-backed job queue.
type Queue struct {
	name    string
	rc      *redisc.Client
	opts    Options
	logger  *zap.Logger
	handler Handler
}

// New creates a queue. The handler is registered once; Run starts the
// consumer pool.
func New(name string, rc *redisc.Client, handler Handler, opts Options, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		rc:      rc,
		opts:    opts.withDefaults(),
		logger:  logger.Named("queue." + name),
		handler: handler,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) jobKey(id string) string { return "pq:" + q.name + ":job:" + id }
func (q *Queue) delayedKey() string      { return "pq:" + q.name + ":delayed" }
func (q *Queue) activeKey() string       { return "pq:" + q.name + ":active" }
func (q *Queue) doneKey() string         { return "pq:" + q.name + ":done" }
func (q *Queue) deadKey() string         { return "pq:" + q.name + ":dead" }

// Enqueue stores a job and schedules it after the given delay (0 = now).
func (q *Queue) Enqueue(ctx context.Context, payload interface{}, delay time.Duration) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		delay = 0
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Queue:     q.name,
		Payload:   body,
		Status:    JobWaiting,
		CreatedAt: now,
		ReadyAt:   now.Add(delay),
		UpdatedAt: now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	pipe := q.rc.Raw().TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(job.ReadyAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob retrieves a job record. Returns (nil, nil) when unknown.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rc.Raw().Get(ctx, q.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	return &job, json.Unmarshal(data, &job)
}

// Remove deletes a waiting job, best effort. Returns false when the job
// was already claimed by a consumer or does not exist; the caller's own
// terminal-state check must then make the delivery a no-op.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := q.rc.Raw().ZRem(ctx, q.delayedKey(), id).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	_ = q.rc.Del(ctx, q.jobKey(id))
	return true, nil
}

// Run starts the consumer pool and the repickup loop, blocking until ctx
// is cancelled. In-flight handlers finish their current attempt.
func (q *Queue) Run(ctx context.Context) {
	for i := 0; i < q.opts.Concurrency; i++ {
		go q.consumeLoop(ctx)
	}
	go q.reapLoop(ctx)
	<-ctx.Done()
}

func (q *Queue) consumeLoop(ctx context.Context) {
	for {
		job, err := q.claim(ctx)
		if err != nil && ctx.Err() == nil {
			q.logger.Warn("claim failed", zap.Error(err))
		}
		if job != nil {
			q.process(ctx, job)
			continue
		}

		// Idle: wait one poll interval with jitter so consumers spread out.
		wait := q.opts.PollInterval + time.Duration(rand.Int64N(int64(q.opts.PollInterval/2+1)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// claim pops one due job. ZRem acts as the claim: of all racing
// consumers only the one whose ZRem returns 1 owns the job.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	ids, err := q.rc.Raw().ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 8,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	for _, id := range ids {
		won, err := q.rc.Raw().ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return nil, err
		}
		if won == 0 {
			continue
		}

		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Record expired or was cancelled between ZRem and Get.
			continue
		}

		job.Status = JobActive
		job.Attempts++
		job.UpdatedAt = time.Now()
		deadline := time.Now().Add(q.opts.Visibility)

		data, _ := json.Marshal(job)
		pipe := q.rc.Raw().TxPipeline()
		pipe.Set(ctx, q.jobKey(id), data, 0)
		pipe.ZAdd(ctx, q.activeKey(), redis.Z{Score: float64(deadline.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return job, nil
	}
	return nil, nil
}

func (q *Queue) process(ctx context.Context, job *Job) {
	attemptCtx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
	err := q.runHandler(attemptCtx, job)
	cancel()

	if err == nil {
		q.finish(ctx, job, JobCompleted, "")
		return
	}

	job.LastError = err.Error()
	if IsNoRetry(err) || job.Attempts >= q.opts.MaxAttempts {
		q.logger.Warn("job failed terminally",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(err))
		q.finish(ctx, job, JobFailed, err.Error())
		return
	}

	// Exponential backoff: 5s, 10s, 20s with the defaults.
	delay := q.opts.Backoff << (job.Attempts - 1)
	q.logger.Info("job retry scheduled",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("delay", delay))

	job.Status = JobWaiting
	job.ReadyAt = time.Now().Add(delay)
	job.UpdatedAt = time.Now()
	data, _ := json.Marshal(job)

	pipe := q.rc.Raw().TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	pipe.Set(ctx, q.jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(job.ReadyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("retry reschedule failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *Queue) runHandler(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue) finish(ctx context.Context, job *Job, status JobStatus, errMsg string) {
	job.Status = status
	job.LastError = errMsg
	job.UpdatedAt = time.Now()
	data, _ := json.Marshal(job)

	resultKey := q.doneKey()
	ttl := q.opts.CompletedTTL
	if status == JobFailed {
		// Failed jobs are kept until explicitly inspected and cleared.
		resultKey = q.deadKey()
		ttl = 0
	}

	pipe := q.rc.Raw().TxPipeline()
	pipe.ZRem(ctx, q.activeKey(), job.ID)
	pipe.Set(ctx, q.jobKey(job.ID), data, ttl)
	pipe.ZAdd(ctx, resultKey, redis.Z{Score: float64(job.UpdatedAt.UnixMilli()), Member: job.ID})
	if status == JobCompleted {
		pipe.ZRemRangeByRank(ctx, resultKey, 0, int64(-q.opts.KeepCompleted-1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("finish update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// reapLoop returns jobs whose visibility deadline passed (crashed or
// stalled consumer) to the delayed set for repickup.
func (q *Queue) reapLoop(ctx context.Context) {
	interval := q.opts.Visibility / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.Reap(ctx); err != nil {
				q.logger.Warn("reap failed", zap.Error(err))
			} else if n > 0 {
				q.logger.Info("requeued stalled jobs", zap.Int("count", n))
			}
		}
	}
}

// Reap moves all active jobs past their visibility deadline back to the
// delayed set. Exposed for the reconciliation cron and tests.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	now := time.Now()
	ids, err := q.rc.Raw().ZRangeByScore(ctx, q.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		won, err := q.rc.Raw().ZRem(ctx, q.activeKey(), id).Result()
		if err != nil {
			return requeued, err
		}
		if won == 0 {
			continue
		}
		job, err := q.GetJob(ctx, id)
		if err != nil || job == nil {
			continue
		}
		job.Status = JobWaiting
		job.ReadyAt = now
		job.UpdatedAt = now
		data, _ := json.Marshal(job)

		pipe := q.rc.Raw().TxPipeline()
		pipe.Set(ctx, q.jobKey(id), data, 0)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// TrimCompleted drops completed job records older than the retention
// window. Rank-based trimming already runs on every completion; this
// covers the age cap.
func (q *Queue) TrimCompleted(ctx context.Context) error {
	cutoff := time.Now().Add(-q.opts.CompletedTTL)
	ids, err := q.rc.Raw().ZRangeByScore(ctx, q.doneKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := q.rc.Raw().TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.jobKey(id))
		pipe.ZRem(ctx, q.doneKey(), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
