// Package batch accumulates stream chunks into batches delivered to the
// host in a single call, coalescing small chunks per a content-class
// specific flush policy with an adaptive, performance-fed override.
package batch

import "time"

// ChunkMetadata carries the non-payload facts about a chunk.
type ChunkMetadata struct {
	Source         string
	Encoding       string
	MIME           string
	TotalSize      *int64
	ProgressPercent *float64
	IsLast         bool
	Error          string
	Compression    string
}

// Chunk is one unit of stream output: a monotonically increasing sequence
// number within its stream, a content-type tag, payload data (UTF-8 text
// when valid, base64 otherwise), and timing/resource facts.
type Chunk struct {
	StreamID      string
	Sequence      uint64
	ContentType   string
	Data          string
	Size          int
	Metadata      ChunkMetadata
	GeneratedAt   time.Time
	SentAt        time.Time
	ProcessingUS  int64
}
