package protocol

import (
	"context"

	"sandboxexec/batch"
	"sandboxexec/metrics"
)

// Router dispatches an ExecutionRequest to whatever executor handles its
// tool_id. registry.Registry satisfies this interface structurally; the
// protocol package never imports registry, keeping the dependency pointed
// one way only.
type Router interface {
	Route(ctx context.Context, req ExecutionRequest) ExecutionResponse
}

// StreamRouter is the streaming counterpart of Router: it hands every
// produced chunk to batcher instead of returning a single buffered
// ExecutionResponse. registry.Registry satisfies this structurally too; its
// RouteStream returns an error for a tool whose executor is not a
// registry.StreamExecutor.
type StreamRouter interface {
	RouteStream(ctx context.Context, req ExecutionRequest, streamID string, batcher *batch.Batcher, m *metrics.Streaming) error
}
