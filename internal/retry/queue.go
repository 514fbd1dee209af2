// Package retry holds mutating operations that failed for transient reasons
// and replays them until they succeed or run out of attempts.
package retry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/metrics"
)

const (
	DefaultMaxRetries    = 3
	DefaultDrainInterval = 30 * time.Second
)

// Operation is a deferred call. It must be safe to invoke more than once.
// Returning an error wrapped with Permanent drops the task without further
// attempts.
type Operation func(ctx context.Context) error

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Connectivity reports whether attempting an operation makes sense.
type Connectivity interface {
	Online() bool
}

// Task is one queued operation.
type Task struct {
	Key        string
	Operation  Operation
	RetryCount int
	MaxRetries int
	LastError  error
}

// Queue is keyed by operation identity: enqueueing an existing key replaces
// the previous task, so the last write wins.
type Queue struct {
	mu    sync.Mutex
	tasks map[string]*Task

	// drainMu keeps drains from overlapping; a second caller returns immediately.
	drainMu sync.Mutex
	kick    chan struct{}

	net         Connectivity
	onExhausted func(key string, err error)
	metrics     *metrics.Metrics
}

type Option func(*Queue)

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// OnExhausted is called once for every task dropped without succeeding,
// either after its last attempt or on a permanent failure.
func OnExhausted(fn func(key string, err error)) Option {
	return func(q *Queue) { q.onExhausted = fn }
}

// New creates a queue. A nil Connectivity means always online.
func New(net Connectivity, opts ...Option) *Queue {
	q := &Queue{
		tasks: make(map[string]*Task),
		kick:  make(chan struct{}, 1),
		net:   net,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue registers op under key, replacing any task already queued there.
func (q *Queue) Enqueue(key string, op Operation, maxRetries int) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	q.mu.Lock()
	q.tasks[key] = &Task{Key: key, Operation: op, MaxRetries: maxRetries}
	n := len(q.tasks)
	q.mu.Unlock()

	q.metrics.RetryQueued(n)
	log.Debug().Str("key", key).Int("max_retries", maxRetries).Msg("operation queued for retry")
}

// Drain attempts every queued task once, in key order. It returns the number
// of tasks that succeeded. Nothing runs while offline or while another drain
// is in progress.
func (q *Queue) Drain(ctx context.Context) int {
	if q.net != nil && !q.net.Online() {
		return 0
	}
	if !q.drainMu.TryLock() {
		return 0
	}
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		batch = append(batch, t)
	}
	q.mu.Unlock()
	sort.Slice(batch, func(i, j int) bool { return batch[i].Key < batch[j].Key })

	succeeded := 0
	for _, task := range batch {
		if ctx.Err() != nil {
			break
		}
		if q.net != nil && !q.net.Online() {
			break
		}
		err := task.Operation(ctx)
		if q.settle(task, err) {
			succeeded++
		}
	}

	q.mu.Lock()
	n := len(q.tasks)
	q.mu.Unlock()
	q.metrics.RetryQueued(n)
	return succeeded
}

// settle records the outcome of one attempt. A task replaced by Enqueue while
// it was running is left alone; the newer registration is authoritative.
func (q *Queue) settle(task *Task, err error) bool {
	q.mu.Lock()
	current, ok := q.tasks[task.Key]
	if !ok || current != task {
		q.mu.Unlock()
		return err == nil
	}

	if err == nil {
		delete(q.tasks, task.Key)
		q.mu.Unlock()
		q.metrics.RetryAttempt(metrics.RetrySuccess)
		log.Info().Str("key", task.Key).Int("retry_count", task.RetryCount).Msg("queued operation succeeded")
		return true
	}

	task.RetryCount++
	var perm *backoff.PermanentError
	permanent := errors.As(err, &perm)
	if permanent {
		err = perm.Unwrap()
	}
	task.LastError = err
	exhausted := task.RetryCount >= task.MaxRetries
	if exhausted || permanent {
		delete(q.tasks, task.Key)
	}
	q.mu.Unlock()

	if permanent {
		q.metrics.RetryAttempt(metrics.RetryDropped)
		log.Error().Err(err).Str("key", task.Key).Int("attempts", task.RetryCount).
			Msg("queued operation failed permanently, dropping")
		if q.onExhausted != nil {
			q.onExhausted(task.Key, err)
		}
		return false
	}

	if !exhausted {
		q.metrics.RetryAttempt(metrics.RetryFailure)
		log.Warn().Err(err).Str("key", task.Key).
			Int("retry_count", task.RetryCount).Int("max_retries", task.MaxRetries).
			Msg("queued operation failed, will retry")
		return false
	}

	q.metrics.RetryAttempt(metrics.RetryExhausted)
	log.Error().Err(err).Str("key", task.Key).Int("attempts", task.RetryCount).
		Msg("queued operation exhausted its retries, dropping")
	if q.onExhausted != nil {
		q.onExhausted(task.Key, err)
	}
	return false
}

// Kick requests a drain from Run without waiting for the next tick.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run drains every interval and whenever Kick is called, until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-q.kick:
		case <-ctx.Done():
			return
		}
		if q.Len() > 0 {
			q.Drain(ctx)
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Pending lists the queued keys in order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	keys := make([]string, 0, len(q.tasks))
	for k := range q.tasks {
		keys = append(keys, k)
	}
	q.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Task returns a copy of the task queued under key.
func (q *Queue) Task(key string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[key]
	if !ok {
		return Task{}, false
	}
	return *t, true
}
