package metrics

import (
	"context"
	"sync"
	"time"
)

// CircuitBreakerHealth classifies the overall error-rate health band.
type CircuitBreakerHealth int

const (
	Healthy CircuitBreakerHealth = iota
	Degraded
	Critical
	Failed
)

func (h CircuitBreakerHealth) String() string {
	switch h {
	case Healthy:
		return "Healthy"
	case Degraded:
		return "Degraded"
	case Critical:
		return "Critical"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Snapshot is a point-in-time consistent view of Streaming plus derived
// rates, safe to serialize onto the wire (e.g. a HealthCheck payload).
type Snapshot struct {
	BytesProcessed        uint64
	ChunksProcessed        uint64
	ActiveStreams          uint64
	TotalStreamsCreated    uint64
	TotalStreamsCompleted  uint64

	TotalErrors      uint64
	ErrorRatePercent float64

	PeakMemoryUsageBytes    uint64
	PeakActiveStreams       uint64
	AverageExecutionTimeMS float64

	BatchesSent       uint64
	AverageBatchSize  float64
	CallEfficiencyRatio float64

	ThroughputBytesPerSecond  float64
	ThroughputChunksPerSecond float64

	BackpressureActivationRate float64
	CircuitBreakerHealth       CircuitBreakerHealth

	Timestamp         int64
	SnapshotDurationMS int64
}

// DefaultAggregationInterval is the default tick period for the background
// aggregator, matching the reference implementation.
const DefaultAggregationInterval = time.Second

// Aggregator periodically snapshots a Streaming counter set into a cached,
// lock-protected Snapshot so readers never block on the hot path.
type Aggregator struct {
	metrics  *Streaming
	interval time.Duration
	start    time.Time

	mu    sync.RWMutex
	cache Snapshot
}

// NewAggregator builds an Aggregator over metrics, ticking every interval
// (DefaultAggregationInterval if interval is zero).
func NewAggregator(m *Streaming, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = DefaultAggregationInterval
	}
	return &Aggregator{metrics: m, interval: interval, start: time.Now()}
}

// GetSnapshot returns the cached snapshot, computing one on demand if the
// aggregator has not ticked yet (cache timestamp is zero).
func (a *Aggregator) GetSnapshot() Snapshot {
	a.mu.RLock()
	cached := a.cache
	a.mu.RUnlock()
	if cached.Timestamp == 0 {
		return a.collect()
	}
	return cached
}

// Run ticks every interval, refreshing the cached snapshot, until ctx is
// cancelled. Intended to be run as a goroutine (e.g. under an errgroup).
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			snap := a.collect()
			snap.SnapshotDurationMS = time.Since(start).Milliseconds()
			a.mu.Lock()
			a.cache = snap
			a.mu.Unlock()
		}
	}
}

func (a *Aggregator) collect() Snapshot {
	now := time.Now()
	elapsedSeconds := now.Sub(a.start).Seconds()

	bytesProcessed := a.metrics.BytesProcessed.Load()
	chunksProcessed := a.metrics.ChunksProcessed.Load()
	activeStreams := a.metrics.ActiveStreams.Load()
	totalStreams := a.metrics.TotalStreamsCreated.Load()
	completedStreams := a.metrics.TotalStreamsCompleted.Load()
	totalErrors := a.metrics.TotalErrors.Load()
	batchesSent := a.metrics.BatchesSent.Load()
	chunksPerBatchSum := a.metrics.ChunksPerBatchSum.Load()
	totalCalls := a.metrics.TotalCalls.Load()
	backpressureActivations := a.metrics.BackpressureActivations.Load()
	circuitBreakerTrips := a.metrics.CircuitBreakerTrips.Load()
	executionTimeNS := a.metrics.TotalExecutionTimeNS.Load()

	errorRatePercent := ratio(float64(totalErrors), float64(completedStreams)) * 100.0
	averageBatchSize := ratio(float64(chunksPerBatchSum), float64(batchesSent))
	callEfficiencyRatio := ratio(float64(totalCalls), float64(chunksProcessed))
	throughputBytesPerSecond := ratePerSecond(float64(bytesProcessed), elapsedSeconds)
	throughputChunksPerSecond := ratePerSecond(float64(chunksProcessed), elapsedSeconds)
	backpressureActivationRate := ratio(float64(backpressureActivations), float64(totalStreams))
	averageExecutionTimeMS := ratio(float64(executionTimeNS), float64(completedStreams)) / 1e6

	return Snapshot{
		BytesProcessed:             bytesProcessed,
		ChunksProcessed:            chunksProcessed,
		ActiveStreams:              activeStreams,
		TotalStreamsCreated:        totalStreams,
		TotalStreamsCompleted:      completedStreams,
		TotalErrors:                totalErrors,
		ErrorRatePercent:           errorRatePercent,
		PeakMemoryUsageBytes:       a.metrics.PeakMemoryUsageBytes.Load(),
		PeakActiveStreams:          a.metrics.PeakActiveStreams.Load(),
		AverageExecutionTimeMS:     averageExecutionTimeMS,
		BatchesSent:                batchesSent,
		AverageBatchSize:           averageBatchSize,
		CallEfficiencyRatio:        callEfficiencyRatio,
		ThroughputBytesPerSecond:   throughputBytesPerSecond,
		ThroughputChunksPerSecond:  throughputChunksPerSecond,
		BackpressureActivationRate: backpressureActivationRate,
		CircuitBreakerHealth:       classifyHealth(circuitBreakerTrips, errorRatePercent),
		Timestamp:                  now.Unix(),
	}
}

func ratio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

func ratePerSecond(count, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return count / elapsedSeconds
}

// classifyHealth mirrors the reference implementation: when there have
// been circuit-breaker trips the floor is Degraded even at a low error
// rate; otherwise the classification is purely error-rate driven.
func classifyHealth(trips uint64, errorRatePercent float64) CircuitBreakerHealth {
	if trips > 0 {
		switch {
		case errorRatePercent > 15.0:
			return Failed
		case errorRatePercent > 5.0:
			return Critical
		default:
			return Degraded
		}
	}
	switch {
	case errorRatePercent < 1.0:
		return Healthy
	case errorRatePercent < 5.0:
		return Degraded
	case errorRatePercent < 15.0:
		return Critical
	default:
		return Failed
	}
}
