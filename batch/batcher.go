package batch

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies a flushed batch for the metadata field.
type Type int

const (
	Throughput Type = iota
	LowLatency
	Priority
	Adaptive
	Final
)

func (t Type) String() string {
	switch t {
	case Throughput:
		return "Throughput"
	case LowLatency:
		return "LowLatency"
	case Priority:
		return "Priority"
	case Adaptive:
		return "Adaptive"
	case Final:
		return "Final"
	default:
		return "Unknown"
	}
}

// PerformanceHint accompanies a flushed batch with forward-looking estimates.
type PerformanceHint struct {
	ExpectedProcessingTimeUS int64
	PriorityLevel            uint8
	MemoryUsageHint          int
	NextBatchETAUS           *int64
}

// Metadata describes a flushed batch.
type Metadata struct {
	TotalChunks     int
	TotalBytes      int
	SequenceRange   [2]uint64
	HoldTimeUS      int64
	Type            Type
	PerformanceHint PerformanceHint
}

// Batch is the payload handed to the callback on flush.
type Batch struct {
	BatchID  string
	StreamID string
	Chunks   []Chunk
	Metadata Metadata
}

// Callback receives one flushed batch. An error does not roll back the
// flush; current_batch is still reset, matching the reference behavior of
// logging the callback failure and moving on.
type Callback func(Batch) error

// performanceSample is one ring-buffer entry for the adaptive flush rule.
type performanceSample struct {
	batchSize           int
	byteSize            int
	holdTimeUS           int64
	processingTimeUS     int64
}

const performanceWindowCapacity = 100

// performanceWindow is a fixed-size ring buffer of recent batch
// performance samples; it overwrites the oldest slot once full rather than
// allocating per sample.
type performanceWindow struct {
	samples []performanceSample
	next    int
	filled  bool
}

func newPerformanceWindow() *performanceWindow {
	return &performanceWindow{samples: make([]performanceSample, performanceWindowCapacity)}
}

func (w *performanceWindow) push(s performanceSample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % performanceWindowCapacity
	if w.next == 0 {
		w.filled = true
	}
}

func (w *performanceWindow) len() int {
	if w.filled {
		return performanceWindowCapacity
	}
	return w.next
}

// lastN returns up to n of the most recently pushed samples, most recent
// first.
func (w *performanceWindow) lastN(n int) []performanceSample {
	total := w.len()
	if n > total {
		n = total
	}
	out := make([]performanceSample, 0, n)
	idx := w.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + performanceWindowCapacity) % performanceWindowCapacity
		out = append(out, w.samples[idx])
	}
	return out
}

func (w *performanceWindow) updateLastProcessingTime(processingTimeUS int64) {
	if w.len() == 0 {
		return
	}
	idx := (w.next - 1 + performanceWindowCapacity) % performanceWindowCapacity
	w.samples[idx].processingTimeUS = processingTimeUS
}

// current is the batch currently being accumulated.
type current struct {
	chunks        []Chunk
	totalBytes    int
	firstChunkAt  time.Time
	streamID      string
	sequenceStart uint64
	sequenceEnd   uint64
	hasSequence   bool
}

func (c *current) reset() { *c = current{} }

// Batcher accumulates chunks for one stream until a flush condition is
// met, then delivers exactly one batch through Callback.
type Batcher struct {
	config   Config
	current  current
	callback Callback
	window   *performanceWindow
}

// New builds a Batcher with the given configuration and flush callback.
func New(config Config, callback Callback) *Batcher {
	return &Batcher{config: config, current: current{}, callback: callback, window: newPerformanceWindow()}
}

// AddChunk appends chunk to the in-progress batch for its context class,
// flushing first if any condition fires.
func (b *Batcher) AddChunk(chunk Chunk, contextType string) error {
	if len(b.current.chunks) == 0 {
		b.current.streamID = chunk.StreamID
		b.current.firstChunkAt = time.Now()
		b.current.sequenceStart = chunk.Sequence
		b.current.sequenceEnd = chunk.Sequence
		b.current.hasSequence = true
	} else if chunk.Sequence > b.current.sequenceEnd {
		b.current.sequenceEnd = chunk.Sequence
	}

	b.current.totalBytes += chunk.Size
	b.current.chunks = append(b.current.chunks, chunk)

	if b.shouldFlush(contextType) {
		return b.flush(contextType)
	}
	return nil
}

// ForceFlush emits any non-empty in-progress batch immediately.
func (b *Batcher) ForceFlush(contextType string) error {
	return b.flush(contextType)
}

// RecordProcessingFeedback attaches a host-reported processing duration to
// the most recently recorded performance sample, feeding the adaptive rule.
func (b *Batcher) RecordProcessingFeedback(processingTimeUS int64) {
	b.window.updateLastProcessingTime(processingTimeUS)
}

func (b *Batcher) shouldFlush(contextType string) bool {
	if len(b.current.chunks) == 0 {
		return false
	}
	params := b.config.paramsFor(contextType)

	if b.current.totalBytes >= params.PriorityThreshold {
		return true
	}
	if len(b.current.chunks) >= params.MaxChunks {
		return true
	}
	if b.current.totalBytes >= params.MaxBytes {
		return true
	}
	if !b.current.firstChunkAt.IsZero() {
		holdUS := time.Since(b.current.firstChunkAt).Microseconds()
		if holdUS >= params.MaxHoldUS {
			return true
		}
	}
	if last := b.current.chunks[len(b.current.chunks)-1]; last.Metadata.IsLast {
		return true
	}
	if b.config.EnableAdaptiveBatching && b.shouldAdaptiveFlush() {
		return true
	}
	return false
}

func (b *Batcher) shouldAdaptiveFlush() bool {
	if b.window.len() < 5 {
		return false
	}
	recent := b.window.lastN(5)
	var sum int64
	for _, s := range recent {
		sum += s.processingTimeUS
	}
	meanProcessingUS := sum / int64(len(recent))

	const slowThresholdUS = 10_000
	if meanProcessingUS > slowThresholdUS {
		holdUS := int64(0)
		if !b.current.firstChunkAt.IsZero() {
			holdUS = time.Since(b.current.firstChunkAt).Microseconds()
		}
		return holdUS > meanProcessingUS/2
	}

	if meanProcessingUS < 1_000 && len(b.current.chunks) < 4 {
		return false
	}
	return false
}

func (b *Batcher) flush(contextType string) error {
	if len(b.current.chunks) == 0 {
		return nil
	}

	holdUS := int64(0)
	if !b.current.firstChunkAt.IsZero() {
		holdUS = time.Since(b.current.firstChunkAt).Microseconds()
	}

	batchType := b.determineBatchType(contextType, holdUS)
	hint := PerformanceHint{
		ExpectedProcessingTimeUS: b.estimateProcessingTime(),
		PriorityLevel:            calculatePriorityLevel(contextType, batchType),
		MemoryUsageHint:          b.current.totalBytes,
		NextBatchETAUS:           b.estimateNextBatchTime(),
	}

	seqRange := [2]uint64{b.current.sequenceStart, b.current.sequenceEnd}
	out := Batch{
		BatchID:  uuid.NewString(),
		StreamID: b.current.streamID,
		Chunks:   b.current.chunks,
		Metadata: Metadata{
			TotalChunks:     len(b.current.chunks),
			TotalBytes:      b.current.totalBytes,
			SequenceRange:   seqRange,
			HoldTimeUS:      holdUS,
			Type:            batchType,
			PerformanceHint: hint,
		},
	}

	chunkCount := len(out.Chunks)
	byteSize := b.current.totalBytes
	err := b.callback(out)

	b.window.push(performanceSample{
		batchSize:       chunkCount,
		byteSize:        byteSize,
		holdTimeUS:      holdUS,
		processingTimeUS: 0,
	})

	b.current.reset()
	return err
}

func (b *Batcher) determineBatchType(contextType string, holdUS int64) Type {
	params := b.config.paramsFor(contextType)
	switch {
	case b.current.totalBytes >= params.PriorityThreshold:
		return Priority
	case holdUS < params.MaxHoldUS/4:
		return LowLatency
	case b.config.EnableAdaptiveBatching && b.window.len() > 10:
		return Adaptive
	case len(b.current.chunks) > 0 && b.current.chunks[len(b.current.chunks)-1].Metadata.IsLast:
		return Final
	default:
		return Throughput
	}
}

func (b *Batcher) estimateProcessingTime() int64 {
	if b.window.len() == 0 {
		return 5000
	}
	recent := b.window.lastN(5)
	var sum int64
	for _, s := range recent {
		sum += s.processingTimeUS
	}
	avg := sum / int64(len(recent))

	sizeFactor := float64(len(b.current.chunks)) / 10.0
	if sizeFactor < 0.1 {
		sizeFactor = 0.1
	}
	return int64(float64(avg) * sizeFactor)
}

func calculatePriorityLevel(contextType string, batchType Type) uint8 {
	base := 5
	switch contextType {
	case "command_output", "commandOutput":
		base = 8
	case "code_generation", "codeGeneration":
		base = 7
	case "network_stream":
		base = 6
	}

	modifier := 0
	switch batchType {
	case Priority:
		modifier = 2
	case LowLatency:
		modifier = 1
	case Final:
		modifier = 3
	case Adaptive:
		modifier = 0
	case Throughput:
		modifier = -1
	}

	level := base + modifier
	if level < 1 {
		level = 1
	}
	if level > 10 {
		level = 10
	}
	return uint8(level)
}

func (b *Batcher) estimateNextBatchTime() *int64 {
	if b.window.len() < 3 {
		return nil
	}
	recent := b.window.lastN(5)
	var sum int64
	for _, s := range recent {
		sum += s.holdTimeUS
	}
	avg := sum / int64(len(recent))
	return &avg
}
