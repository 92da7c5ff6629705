package metrics

import (
	"context"
	"testing"
	"time"
)

func TestStreamStarted_PeakTracking(t *testing.T) {
	m := New()
	m.StreamStarted()
	m.StreamStarted()
	m.StreamStarted()
	if got := m.ActiveStreams.Load(); got != 3 {
		t.Errorf("ActiveStreams = %d, want 3", got)
	}
	if got := m.PeakActiveStreams.Load(); got != 3 {
		t.Errorf("PeakActiveStreams = %d, want 3", got)
	}

	m.StreamCompleted()
	if got := m.ActiveStreams.Load(); got != 2 {
		t.Errorf("ActiveStreams after complete = %d, want 2", got)
	}
	if got := m.PeakActiveStreams.Load(); got != 3 {
		t.Errorf("PeakActiveStreams should stay at historical max, got %d", got)
	}
}

func TestChunkProcessed(t *testing.T) {
	m := New()
	m.ChunkProcessed(100)
	m.ChunkProcessed(50)
	if got := m.ChunksProcessed.Load(); got != 2 {
		t.Errorf("ChunksProcessed = %d, want 2", got)
	}
	if got := m.BytesProcessed.Load(); got != 150 {
		t.Errorf("BytesProcessed = %d, want 150", got)
	}
}

func TestUpdateMemoryUsage_MaxOnly(t *testing.T) {
	m := New()
	m.UpdateMemoryUsage(100)
	m.UpdateMemoryUsage(50)
	m.UpdateMemoryUsage(200)
	if got := m.PeakMemoryUsageBytes.Load(); got != 200 {
		t.Errorf("PeakMemoryUsageBytes = %d, want 200", got)
	}
}

func TestErrorOccurred(t *testing.T) {
	m := New()
	m.ErrorOccurred(ErrorTimeout)
	m.ErrorOccurred(ErrorNetwork)
	m.ErrorOccurred(ErrorOther)
	if got := m.TotalErrors.Load(); got != 3 {
		t.Errorf("TotalErrors = %d, want 3", got)
	}
	if got := m.TimeoutErrors.Load(); got != 1 {
		t.Errorf("TimeoutErrors = %d, want 1", got)
	}
	if got := m.NetworkErrors.Load(); got != 1 {
		t.Errorf("NetworkErrors = %d, want 1", got)
	}
}

func TestAggregator_GetSnapshot_OnDemand(t *testing.T) {
	m := New()
	m.ChunkProcessed(10)
	agg := NewAggregator(m, time.Hour)

	snap := agg.GetSnapshot()
	if snap.ChunksProcessed != 1 {
		t.Errorf("ChunksProcessed = %d, want 1", snap.ChunksProcessed)
	}
	if snap.Timestamp == 0 {
		t.Error("on-demand snapshot should have a non-zero timestamp")
	}
}

func TestAggregator_Run_RefreshesCache(t *testing.T) {
	m := New()
	agg := NewAggregator(m, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = agg.Run(ctx)

	snap := agg.GetSnapshot()
	if snap.Timestamp == 0 {
		t.Error("background aggregator should have populated the cache")
	}
}

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		trips   uint64
		errRate float64
		want    CircuitBreakerHealth
	}{
		{0, 0.5, Healthy},
		{0, 2, Degraded},
		{0, 10, Critical},
		{0, 20, Failed},
		{1, 0.5, Degraded},
		{1, 10, Critical},
		{1, 20, Failed},
	}
	for _, tt := range tests {
		if got := classifyHealth(tt.trips, tt.errRate); got != tt.want {
			t.Errorf("classifyHealth(%d, %v) = %v, want %v", tt.trips, tt.errRate, got, tt.want)
		}
	}
}
