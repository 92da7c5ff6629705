// Package metrics implements lock-free streaming counters and a periodic
// background aggregator that produces cached derived-rate snapshots.
package metrics

import (
	"sync/atomic"
)

// ErrorType categorizes an error for the per-kind error counters.
type ErrorType int

const (
	ErrorOther ErrorType = iota
	ErrorTimeout
	ErrorPermission
	ErrorNetwork
)

// Streaming holds the fixed set of 64-bit atomic counters updated on the
// hot path. Every counter is a sync/atomic value; the peak gauges
// (PeakActiveStreams, PeakMemoryUsageBytes) are raised with a
// compare-and-swap max loop.
type Streaming struct {
	BytesProcessed        atomic.Uint64
	ChunksProcessed        atomic.Uint64
	ActiveStreams          atomic.Uint64
	TotalStreamsCreated    atomic.Uint64
	TotalStreamsCompleted  atomic.Uint64

	TotalErrors     atomic.Uint64
	TimeoutErrors   atomic.Uint64
	PermissionErrors atomic.Uint64
	NetworkErrors   atomic.Uint64

	PeakMemoryUsageBytes atomic.Uint64
	PeakActiveStreams    atomic.Uint64
	TotalExecutionTimeNS atomic.Uint64
	TotalCalls           atomic.Uint64

	BatchesSent       atomic.Uint64
	ChunksPerBatchSum atomic.Uint64
	ArrayTransfers    atomic.Uint64

	BackpressureActivations atomic.Uint64
	CircuitBreakerTrips     atomic.Uint64
	RejectedStreams         atomic.Uint64
}

// New returns a zeroed Streaming counter set.
func New() *Streaming { return &Streaming{} }

// StreamStarted records a new stream and updates the active/peak gauges.
func (m *Streaming) StreamStarted() {
	m.TotalStreamsCreated.Add(1)
	active := m.ActiveStreams.Add(1)

	for {
		peak := m.PeakActiveStreams.Load()
		if active <= peak {
			return
		}
		if m.PeakActiveStreams.CompareAndSwap(peak, active) {
			return
		}
	}
}

// StreamCompleted records a finished stream and decrements active count.
func (m *Streaming) StreamCompleted() {
	m.TotalStreamsCompleted.Add(1)
	m.ActiveStreams.Add(^uint64(0)) // atomic decrement
}

// ChunkProcessed records one processed chunk of the given byte size.
func (m *Streaming) ChunkProcessed(bytes int) {
	m.ChunksProcessed.Add(1)
	m.BytesProcessed.Add(uint64(bytes))
}

// BatchSent records one batch delivery of chunkCount chunks.
func (m *Streaming) BatchSent(chunkCount int) {
	m.BatchesSent.Add(1)
	m.ChunksPerBatchSum.Add(uint64(chunkCount))
	m.ArrayTransfers.Add(1)
	m.TotalCalls.Add(1)
}

// ErrorOccurred increments the total error count and the matching per-kind
// counter (ErrorOther only increments the total).
func (m *Streaming) ErrorOccurred(kind ErrorType) {
	m.TotalErrors.Add(1)
	switch kind {
	case ErrorTimeout:
		m.TimeoutErrors.Add(1)
	case ErrorPermission:
		m.PermissionErrors.Add(1)
	case ErrorNetwork:
		m.NetworkErrors.Add(1)
	}
}

// BackpressureActivated records one backpressure event.
func (m *Streaming) BackpressureActivated() { m.BackpressureActivations.Add(1) }

// CircuitBreakerTripped records one circuit-breaker trip.
func (m *Streaming) CircuitBreakerTripped() { m.CircuitBreakerTrips.Add(1) }

// StreamRejected records one rejected stream admission.
func (m *Streaming) StreamRejected() { m.RejectedStreams.Add(1) }

// UpdateMemoryUsage performs an atomic max-update of the peak memory gauge.
func (m *Streaming) UpdateMemoryUsage(currentBytes uint64) {
	for {
		peak := m.PeakMemoryUsageBytes.Load()
		if currentBytes <= peak {
			return
		}
		if m.PeakMemoryUsageBytes.CompareAndSwap(peak, currentBytes) {
			return
		}
	}
}

// AddExecutionTime accumulates execution time in nanoseconds.
func (m *Streaming) AddExecutionTime(durationNS uint64) {
	m.TotalExecutionTimeNS.Add(durationNS)
}
