package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sandboxexec/metrics"
)

func testConfig() Config {
	return Config{
		MaxConcurrentStreams:    2,
		MaxWaitTime:             50 * time.Millisecond,
		CircuitBreakerThreshold: 3,
		CircuitBreakerRecovery:  50 * time.Millisecond,
		DefaultTaskTimeout:      time.Second,
		Backpressure:            Reject,
	}
}

func TestSubmitRunsTask(t *testing.T) {
	p := New(testConfig(), metrics.New())
	ran := false
	err := p.Submit(context.Background(), "t1", "s1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
}

func TestSubmitRejectsOverCapacity(t *testing.T) {
	p := New(testConfig(), metrics.New())
	var wg sync.WaitGroup
	block := make(chan struct{})

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = p.Submit(context.Background(), "blocker", "s1", func(ctx context.Context) error {
				<-block
				return nil
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond) // let both blockers acquire their permits

	err := p.Submit(context.Background(), "overflow", "s1", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected submission over capacity to be rejected")
	}

	close(block)
	wg.Wait()
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(3, time.Hour)
	for i := 0; i < 2; i++ {
		if tripped := cb.recordOutcome(false); tripped {
			t.Fatalf("should not trip before threshold, iteration %d", i)
		}
	}
	if tripped := cb.recordOutcome(false); !tripped {
		t.Fatal("expected breaker to trip on the 3rd consecutive failure")
	}
	if cb.allow() {
		t.Fatal("breaker should block admission while open")
	}
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := newCircuitBreaker(1, 5*time.Millisecond)
	cb.recordOutcome(false)
	if cb.allow() {
		t.Fatal("breaker should be open immediately after tripping")
	}
	time.Sleep(10 * time.Millisecond)
	if !cb.allow() {
		t.Fatal("breaker should allow a half-open probe after recovery elapses")
	}
	cb.recordOutcome(true)
	state, _ := cb.snapshot()
	if state != Closed {
		t.Errorf("state = %v, want Closed after a successful probe", state)
	}
}

func TestCancelTask(t *testing.T) {
	p := New(testConfig(), metrics.New())
	started := make(chan struct{})
	var cancelled atomic.Bool
	done := make(chan struct{})

	go func() {
		_ = p.Submit(context.Background(), "task-a", "stream-a", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		})
		close(done)
	}()

	<-started
	if !p.CancelTask("task-a") {
		t.Fatal("expected CancelTask to find task-a")
	}
	<-done
	if !cancelled.Load() {
		t.Fatal("task context was not cancelled")
	}
}

func TestCancelStreamTasks(t *testing.T) {
	p := New(testConfig(), metrics.New())
	started := make(chan struct{}, 2)
	done := make(chan struct{})

	go func() {
		_ = p.Submit(context.Background(), "a", "stream-x", func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
		close(done)
	}()
	<-started

	if n := p.CancelStreamTasks("stream-x"); n != 1 {
		t.Errorf("CancelStreamTasks = %d, want 1", n)
	}
	<-done
}

func TestShutdownGracefullyCancelsInflight(t *testing.T) {
	p := New(testConfig(), metrics.New())
	started := make(chan struct{})
	go func() {
		_ = p.Submit(context.Background(), "t", "s", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.ShutdownGracefully(ctx); err != nil {
		t.Fatalf("shutdown did not drain in time: %v", err)
	}

	err := p.Submit(context.Background(), "after", "s", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected submission after shutdown to be rejected")
	}
}

func TestStatusReportsOccupancy(t *testing.T) {
	p := New(testConfig(), metrics.New())
	status := p.Status()
	if status.ActiveTasks != 0 {
		t.Errorf("ActiveTasks = %d, want 0", status.ActiveTasks)
	}
	if status.CircuitState != Closed {
		t.Errorf("CircuitState = %v, want Closed", status.CircuitState)
	}
}

func TestSubmitPropagatesTaskError(t *testing.T) {
	p := New(testConfig(), metrics.New())
	wantErr := errors.New("boom")
	err := p.Submit(context.Background(), "t", "s", func(ctx context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
