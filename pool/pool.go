package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	secerr "sandboxexec/errors"
	"sandboxexec/metrics"
)

// Status is a point-in-time view of the pool for introspection. The
// protocol handler's HealthCheck reply does not include it.
type Status struct {
	ActiveTasks         int64
	MaxConcurrentStreams int64
	CircuitState        CircuitState
	ConsecutiveFailures uint64
}

// task tracks one in-flight submission for cancellation and drop-oldest
// eviction.
type task struct {
	id        string
	streamID  string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Pool bounds concurrent task execution, applies a backpressure strategy
// when full, and trips a circuit breaker after repeated failures.
type Pool struct {
	config  Config
	sem     *semaphore.Weighted
	breaker *circuitBreaker
	metrics *metrics.Streaming

	mu     sync.Mutex
	active int64
	tasks  []*task

	shuttingDown bool
}

// New builds a Pool under config, recording admission/rejection events on
// m.
func New(config Config, m *metrics.Streaming) *Pool {
	return &Pool{
		config:  config,
		sem:     semaphore.NewWeighted(config.MaxConcurrentStreams),
		breaker: newCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerRecovery),
		metrics: m,
	}
}

// Submit runs fn under the pool's concurrency cap and circuit breaker,
// applying the configured BackpressureStrategy if a permit is not
// immediately available. taskID and streamID are used for CancelTask and
// CancelStreamTasks bookkeeping.
func (p *Pool) Submit(ctx context.Context, taskID, streamID string, fn func(context.Context) error) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return secerr.New(secerr.SystemError, "POOL_SHUTTING_DOWN", "worker pool is shutting down")
	}
	p.mu.Unlock()

	if !p.breaker.allow() {
		p.metrics.StreamRejected()
		return secerr.New(secerr.ResourceLimit, "CIRCUIT_OPEN", "circuit breaker is open")
	}

	if err := p.acquirePermit(ctx); err != nil {
		p.metrics.StreamRejected()
		return err
	}
	defer p.sem.Release(1)

	taskCtx, cancel := context.WithCancel(ctx)
	if p.config.DefaultTaskTimeout > 0 {
		var timeoutCancel context.CancelFunc
		taskCtx, timeoutCancel = context.WithTimeout(taskCtx, p.config.DefaultTaskTimeout)
		defer timeoutCancel()
	}

	t := &task{id: taskID, streamID: streamID, startedAt: time.Now(), cancel: cancel}
	p.addTask(t)
	defer p.removeTask(taskID)

	err := fn(taskCtx)
	p.recordOutcome(err)
	return err
}

// acquirePermit applies the configured BackpressureStrategy: it tries a
// non-blocking acquire first and, if that fails, handles overflow
// according to p.config.Backpressure.
func (p *Pool) acquirePermit(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	p.metrics.BackpressureActivated()

	switch p.config.Backpressure {
	case Reject:
		return secerr.New(secerr.ResourceLimit, "POOL_FULL", "worker pool at capacity")
	case DropOldest:
		if p.dropOldest() {
			if p.sem.TryAcquire(1) {
				return nil
			}
		}
		return p.waitWithTimeout(ctx)
	case CircuitBreakerStrategy:
		state, _ := p.breaker.snapshot()
		if state == Open {
			return secerr.New(secerr.ResourceLimit, "CIRCUIT_OPEN", "circuit breaker is open")
		}
		return p.waitWithTimeout(ctx)
	case Adaptive:
		if p.recentFailureRatePercent() > AdaptiveFailureThreshold {
			return secerr.New(secerr.ResourceLimit, "POOL_FULL", "worker pool at capacity under failure pressure")
		}
		return p.waitWithTimeout(ctx)
	case WaitWithTimeout:
		return p.waitWithTimeout(ctx)
	default:
		return p.waitWithTimeout(ctx)
	}
}

func (p *Pool) waitWithTimeout(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.config.MaxWaitTime)
	defer cancel()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		return secerr.New(secerr.Timeout, "POOL_WAIT_TIMEOUT", "timed out waiting for a worker slot")
	}
	return nil
}

func (p *Pool) recentFailureRatePercent() float64 {
	_, consecutive := p.breaker.snapshot()
	if consecutive == 0 {
		return 0
	}
	if p.config.CircuitBreakerThreshold == 0 {
		return 100
	}
	return (float64(consecutive) / float64(p.config.CircuitBreakerThreshold)) * 100
}

func (p *Pool) recordOutcome(err error) {
	if p.breaker.recordOutcome(err == nil) {
		p.metrics.CircuitBreakerTripped()
	}
}

func (p *Pool) addTask(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, t)
	p.active++
}

func (p *Pool) removeTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tasks {
		if t.id == taskID {
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			break
		}
	}
	p.active--
}

// dropOldest cancels the single oldest in-flight task, returning whether
// one was found to cancel. It does not wait for the task to actually
// release its permit; the caller retries acquisition afterward.
func (p *Pool) dropOldest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tasks) == 0 {
		return false
	}
	oldest := p.tasks[0]
	for _, t := range p.tasks[1:] {
		if t.startedAt.Before(oldest.startedAt) {
			oldest = t
		}
	}
	oldest.cancel()
	return true
}

// CancelTask cancels the in-flight task identified by taskID, reporting
// whether one was found.
func (p *Pool) CancelTask(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tasks {
		if t.id == taskID {
			t.cancel()
			return true
		}
	}
	return false
}

// CancelStreamTasks cancels every in-flight task belonging to streamID,
// returning the count cancelled.
func (p *Pool) CancelStreamTasks(streamID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, t := range p.tasks {
		if t.streamID == streamID {
			t.cancel()
			count++
		}
	}
	return count
}

// ShutdownGracefully stops admitting new tasks, cancels every in-flight
// task, and waits (up to ctx's deadline) for all permits to be released.
func (p *Pool) ShutdownGracefully(ctx context.Context) error {
	p.mu.Lock()
	p.shuttingDown = true
	for _, t := range p.tasks {
		t.cancel()
	}
	p.mu.Unlock()

	return p.sem.Acquire(ctx, p.config.MaxConcurrentStreams)
}

// Status reports the pool's current occupancy and circuit state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	state, failures := p.breaker.snapshot()
	return Status{
		ActiveTasks:          active,
		MaxConcurrentStreams: p.config.MaxConcurrentStreams,
		CircuitState:         state,
		ConsecutiveFailures:  failures,
	}
}
