// Package registry dispatches an ExecutionRequest to the executor bound to
// its tool_id, keeping the executors themselves ignorant of one another.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"sandboxexec/batch"
	secerr "sandboxexec/errors"
	"sandboxexec/metrics"
	"sandboxexec/protocol"
)

// Executor is the interface every domain executor (fsexec, cmdexec, ...)
// implements. Execute must never panic; all failures are reported through
// the returned ExecutionResponse.
type Executor interface {
	Execute(ctx context.Context, req protocol.ExecutionRequest) protocol.ExecutionResponse
	GetSupportedCommands() []string
}

// StreamExecutor is implemented by an Executor that can also satisfy a
// streamed request (req.StreamResponse == true): instead of a single
// buffered Result, it hands every produced chunk to batcher as it is
// generated. fsexec's "read" and cmdexec's "execute" both implement it.
type StreamExecutor interface {
	Executor
	ExecuteStream(ctx context.Context, req protocol.ExecutionRequest, streamID string, batcher *batch.Batcher, m *metrics.Streaming) error
}

// Registry maps a tool_id to its Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds toolID to executor, replacing any previous binding.
func (r *Registry) Register(toolID string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[toolID] = executor
}

// Route implements protocol.Router: it looks up req.ToolID and delegates,
// producing an UNKNOWN_TOOL error response when nothing is bound.
func (r *Registry) Route(ctx context.Context, req protocol.ExecutionRequest) protocol.ExecutionResponse {
	start := time.Now()
	r.mu.RLock()
	executor, ok := r.executors[req.ToolID]
	r.mu.RUnlock()
	if !ok {
		return protocol.ExecutionResponse{
			RequestID:       req.ID,
			Success:         false,
			Error:           secerr.ErrUnknownTool.WithDetail("tool_id", req.ToolID),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}
	}
	return executor.Execute(ctx, req)
}

// RouteStream implements protocol.StreamRouter: it looks up req.ToolID and,
// if the bound executor supports streaming, delegates to its ExecuteStream.
func (r *Registry) RouteStream(ctx context.Context, req protocol.ExecutionRequest, streamID string, batcher *batch.Batcher, m *metrics.Streaming) error {
	r.mu.RLock()
	executor, ok := r.executors[req.ToolID]
	r.mu.RUnlock()
	if !ok {
		return secerr.ErrUnknownTool.WithDetail("tool_id", req.ToolID)
	}
	streamer, ok := executor.(StreamExecutor)
	if !ok {
		return secerr.New(secerr.SystemError, "STREAM_NOT_SUPPORTED", "tool does not support streaming").
			WithDetail("tool_id", req.ToolID)
	}
	return streamer.ExecuteStream(ctx, req, streamID, batcher, m)
}

// Describe reports every registered tool_id and the operations it
// supports, each list sorted. The protocol handler's HealthCheck reply
// does not include it.
func (r *Registry) Describe() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.executors))
	for id, executor := range r.executors {
		ops := executor.GetSupportedCommands()
		sort.Strings(ops)
		out[id] = ops
	}
	return out
}

// ToolIDs returns the registered tool_ids in sorted order.
func (r *Registry) ToolIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
