package batch

import (
	"testing"
	"time"
)

func newTestChunk(streamID string, seq uint64, size int, isLast bool) Chunk {
	return Chunk{
		StreamID:    streamID,
		Sequence:    seq,
		ContentType: "text",
		Size:        size,
		Metadata:    ChunkMetadata{IsLast: isLast},
		GeneratedAt: time.Now(),
	}
}

func TestAddChunk_FlushesOnMaxChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextOptimizations.CommandOutput.MaxChunks = 2
	cfg.ContextOptimizations.CommandOutput.MaxBytes = 1 << 30
	cfg.ContextOptimizations.CommandOutput.PriorityThreshold = 1 << 30
	cfg.ContextOptimizations.CommandOutput.MaxHoldUS = 1 << 30
	cfg.EnableAdaptiveBatching = false

	var flushed []Batch
	b := New(cfg, func(batch Batch) error {
		flushed = append(flushed, batch)
		return nil
	})

	if err := b.AddChunk(newTestChunk("s1", 0, 10, false), "command_output"); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if len(flushed) != 0 {
		t.Fatalf("expected no flush yet, got %d", len(flushed))
	}
	if err := b.AddChunk(newTestChunk("s1", 1, 10, false), "command_output"); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected one flush at max chunks, got %d", len(flushed))
	}
	if flushed[0].Metadata.TotalChunks != 2 {
		t.Errorf("TotalChunks = %d, want 2", flushed[0].Metadata.TotalChunks)
	}
	if flushed[0].Metadata.SequenceRange != [2]uint64{0, 1} {
		t.Errorf("SequenceRange = %v, want [0 1]", flushed[0].Metadata.SequenceRange)
	}
}

func TestAddChunk_FlushesOnPriorityThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextOptimizations.FileReading.PriorityThreshold = 100
	cfg.EnableAdaptiveBatching = false

	var flushed []Batch
	b := New(cfg, func(batch Batch) error {
		flushed = append(flushed, batch)
		return nil
	})

	if err := b.AddChunk(newTestChunk("s1", 0, 200, false), "file_reading"); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected immediate flush on priority threshold, got %d", len(flushed))
	}
	if flushed[0].Metadata.Type != Priority {
		t.Errorf("Type = %v, want Priority", flushed[0].Metadata.Type)
	}
}

func TestAddChunk_FlushesOnIsLast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAdaptiveBatching = false

	var flushed []Batch
	b := New(cfg, func(batch Batch) error {
		flushed = append(flushed, batch)
		return nil
	})

	if err := b.AddChunk(newTestChunk("s1", 0, 10, true), "file_reading"); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected flush on last chunk, got %d", len(flushed))
	}
}

func TestForceFlush_EmptyIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	called := false
	b := New(cfg, func(batch Batch) error {
		called = true
		return nil
	})
	if err := b.ForceFlush("file_reading"); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if called {
		t.Error("callback should not fire on an empty batch")
	}
}

func TestForceFlush_EmitsPartialBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableAdaptiveBatching = false
	var flushed []Batch
	b := New(cfg, func(batch Batch) error {
		flushed = append(flushed, batch)
		return nil
	})
	_ = b.AddChunk(newTestChunk("s1", 0, 10, false), "file_reading")
	if err := b.ForceFlush("file_reading"); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("expected forced flush to emit one batch, got %d", len(flushed))
	}
	if flushed[0].Metadata.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", flushed[0].Metadata.TotalChunks)
	}
}

func TestCalculatePriorityLevel_ClampedRange(t *testing.T) {
	tests := []struct {
		contextType string
		batchType   Type
		want        uint8
	}{
		{"command_output", Final, 10},
		{"network_stream", Throughput, 5},
		{"file_reading", Throughput, 4},
		{"code_generation", Priority, 9},
	}
	for _, tt := range tests {
		if got := calculatePriorityLevel(tt.contextType, tt.batchType); got != tt.want {
			t.Errorf("calculatePriorityLevel(%q, %v) = %d, want %d", tt.contextType, tt.batchType, got, tt.want)
		}
	}
}

func TestPerformanceWindow_RingBufferWraps(t *testing.T) {
	w := newPerformanceWindow()
	for i := 0; i < performanceWindowCapacity+10; i++ {
		w.push(performanceSample{processingTimeUS: int64(i)})
	}
	if got := w.len(); got != performanceWindowCapacity {
		t.Errorf("len() = %d, want %d", got, performanceWindowCapacity)
	}
	last := w.lastN(1)
	if len(last) != 1 || last[0].processingTimeUS != int64(performanceWindowCapacity+9) {
		t.Errorf("lastN(1) = %v, want most recent sample", last)
	}
}

func TestRecordProcessingFeedback_UpdatesLastSample(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, func(batch Batch) error { return nil })
	_ = b.AddChunk(newTestChunk("s1", 0, 10, true), "file_reading")

	b.RecordProcessingFeedback(4200)
	recent := b.window.lastN(1)
	if len(recent) != 1 || recent[0].processingTimeUS != 4200 {
		t.Errorf("processingTimeUS = %v, want 4200", recent)
	}
}

func TestEstimateNextBatchTime_RequiresThreeSamples(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, func(batch Batch) error { return nil })
	if got := b.estimateNextBatchTime(); got != nil {
		t.Errorf("estimateNextBatchTime with no samples = %v, want nil", got)
	}
	b.window.push(performanceSample{holdTimeUS: 100})
	b.window.push(performanceSample{holdTimeUS: 200})
	if got := b.estimateNextBatchTime(); got != nil {
		t.Errorf("estimateNextBatchTime with 2 samples = %v, want nil", got)
	}
	b.window.push(performanceSample{holdTimeUS: 300})
	if got := b.estimateNextBatchTime(); got == nil {
		t.Error("estimateNextBatchTime with 3 samples should return a value")
	}
}
