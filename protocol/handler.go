package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"sandboxexec/batch"
	secerr "sandboxexec/errors"
	"sandboxexec/metrics"
	"sandboxexec/pool"
	"sandboxexec/stream"
)

// MessageTimeout is the per-line read bound of 30 seconds. Handler.Run does
// not apply it: the read loop blocks on r until a full line arrives or the
// input ends.
const MessageTimeout = 30 * time.Second

// HeartbeatInterval is how often Handler.Run emits an unsolicited
// heartbeat message, whether or not requests are in progress.
const HeartbeatInterval = 15 * time.Second

// SessionSweepInterval is how often Handler.Run checks for idle sessions to
// evict.
const SessionSweepInterval = 5 * time.Minute

// knownCapabilities is the set of capability names a host may declare in
// ExecutionContext.Capabilities.
var knownCapabilities = map[string]bool{
	"FileRead": true, "FileWrite": true, "ProcessSpawn": true,
	"NetworkAccess": true, "SystemInfo": true, "TempFileAccess": true,
}

// Handler is the top-level NDJSON request/response engine: it reads
// Message envelopes from r, routes ExecutionRequests through Router, and
// writes responses, stream updates, heartbeats, and health checks to w.
type Handler struct {
	Router    Router
	Pool      *pool.Pool
	Sessions  *Manager
	Metrics   *metrics.Streaming
	Aggregator *metrics.Aggregator
	Logger    *slog.Logger

	pid       int
	startedAt time.Time

	writeMu sync.Mutex
}

// NewHandler wires a Handler around router, creating its own session
// manager, metrics, aggregator, and worker pool.
func NewHandler(router Router, logger *slog.Logger) *Handler {
	m := metrics.New()
	return &Handler{
		Router:     router,
		Pool:       pool.New(pool.DefaultConfig(), m),
		Sessions:   NewManager(),
		Metrics:    m,
		Aggregator: metrics.NewAggregator(m, metrics.DefaultAggregationInterval),
		Logger:     logger,
		pid:        os.Getpid(),
		startedAt:  time.Now(),
	}
}

// Run drives the handler's read/dispatch/write loop against r and w until
// ctx is cancelled, the input is exhausted, or a Shutdown message is
// received. It starts a background sweep of idle sessions and the metrics
// aggregator, stopping both on return.
func (h *Handler) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go h.Sessions.Run(SessionSweepInterval, stop)
	go h.Aggregator.Run(ctx)
	go h.heartbeatLoop(ctx, w)

	scanner := NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		shutdown, err := h.handleLine(ctx, w, line)
		if err != nil {
			h.Logger.Error("failed to handle message", "error", err)
			continue
		}
		if shutdown {
			return nil
		}
	}
	return scanner.Err()
}

func (h *Handler) handleLine(ctx context.Context, w io.Writer, line []byte) (shutdown bool, err error) {
	msg, err := DecodeLine(append([]byte(nil), line...))
	if err != nil {
		return false, h.writeError("", secerr.Wrap(err, secerr.InvalidInput, "INVALID_MESSAGE_SCHEMA"), w)
	}

	switch msg.Type {
	case TypeRequest:
		return false, h.handleRequest(ctx, msg, w)
	case TypeHealthCheck:
		return false, h.handleHealthCheck(w)
	case TypeHeartbeat:
		return false, h.write(TypeHeartbeat, h.heartbeat(h.startedAt), w)
	case TypeShutdown:
		var payload ShutdownPayload
		_ = msg.Decode(&payload)
		h.Logger.Info("shutdown requested", "reason", payload.Reason)
		if err := h.write(TypeShutdown, payload, w); err != nil {
			h.Logger.Warn("failed to acknowledge shutdown", "error", err)
		}
		return true, nil
	default:
		return false, h.writeError("", secerr.New(secerr.InvalidInput, "UNSUPPORTED_MESSAGE_TYPE", string(msg.Type)), w)
	}
}

func (h *Handler) handleRequest(ctx context.Context, msg Message, w io.Writer) error {
	var req ExecutionRequest
	if err := msg.Decode(&req); err != nil {
		return h.writeError("", secerr.Wrap(err, secerr.InvalidInput, "MALFORMED_REQUEST"), w)
	}
	if req.ID == "" {
		req.ID = msg.ID
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = req.Context.SessionID
	}
	if sessionID == "" {
		sessionID = "default"
	}
	session := h.Sessions.GetOrCreate(sessionID)
	if !session.Allow() {
		return h.writeError(req.ID, secerr.New(secerr.ResourceLimit, "RATE_LIMITED", "too many requests"), w)
	}

	if err := validateCapabilities(req.Context.Capabilities); err != nil {
		return h.writeError(req.ID, secerr.Wrap(err, secerr.Security, "CAPABILITY_DENIED"), w)
	}

	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	if req.StreamResponse {
		return h.handleStreamRequest(ctx, req, w)
	}

	start := time.Now()
	resp := h.Router.Route(ctx, req)
	h.recordOutcome(resp, time.Since(start))

	return h.write(TypeResponse, resp, w)
}

// validateCapabilities rejects a request declaring a capability name outside
// the recognized set, before it ever reaches a tool executor.
func validateCapabilities(names []string) error {
	for _, name := range names {
		if !knownCapabilities[name] {
			return secerr.ErrCapabilityDenied.WithDetail("capability", name)
		}
	}
	return nil
}

// handleStreamRequest dispatches req through the worker pool to a
// StreamRouter, flushing batched chunks to w as StreamUpdate messages until
// the stream completes, then writes a closing ExecutionResponse.
func (h *Handler) handleStreamRequest(ctx context.Context, req ExecutionRequest, w io.Writer) error {
	streamRouter, ok := h.Router.(StreamRouter)
	if !ok {
		resp := ExecutionResponse{
			RequestID: req.ID,
			Success:   false,
			Error:     secerr.New(secerr.SystemError, "STREAM_NOT_SUPPORTED", "router does not support streaming"),
		}
		return h.write(TypeResponse, resp, w)
	}

	streamID := stream.NewStreamID()
	batcher := batch.New(batch.DefaultConfig(), func(b batch.Batch) error {
		h.Metrics.BatchSent(len(b.Chunks))
		return h.write(TypeStream, toStreamUpdate(req.ID, b), w)
	})

	start := time.Now()
	runErr := h.Pool.Submit(ctx, req.ID, streamID, func(taskCtx context.Context) error {
		return streamRouter.RouteStream(taskCtx, req, streamID, batcher, h.Metrics)
	})
	elapsed := time.Since(start)

	resp := ExecutionResponse{
		RequestID:       req.ID,
		Success:         runErr == nil,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
	if runErr != nil {
		resp.Error = recordForError(runErr)
	}
	h.recordOutcome(resp, elapsed)
	return h.write(TypeResponse, resp, w)
}

func toStreamUpdate(requestID string, b batch.Batch) StreamUpdate {
	isFinal := false
	if n := len(b.Chunks); n > 0 {
		isFinal = b.Chunks[n-1].Metadata.IsLast
	}
	return StreamUpdate{
		StreamID:    b.StreamID,
		RequestID:   requestID,
		SequenceNum: b.Metadata.SequenceRange[1],
		Chunks:      b.Chunks,
		IsFinal:     isFinal,
	}
}

func recordForError(err error) *secerr.Record {
	var rec *secerr.Record
	if secerr.As(err, &rec) {
		return rec
	}
	return secerr.Wrap(err, secerr.SystemError, "EXECUTION_FAILED")
}

func (h *Handler) recordOutcome(resp ExecutionResponse, elapsed time.Duration) {
	h.Metrics.AddExecutionTime(uint64(elapsed.Nanoseconds()))
	if !resp.Success {
		kind := metrics.ErrorOther
		if resp.Error != nil {
			switch resp.Error.Category {
			case secerr.Timeout:
				kind = metrics.ErrorTimeout
			case secerr.Security:
				kind = metrics.ErrorPermission
			}
		}
		h.Metrics.ErrorOccurred(kind)
	}
}

func (h *Handler) handleHealthCheck(w io.Writer) error {
	snap := h.Aggregator.GetSnapshot()
	pm := toPerformanceMetrics(snap)

	checks := []CheckResult{
		{Name: "sessions", Status: HealthHealthy, Message: fmt.Sprintf("%d active", h.Sessions.Count())},
		healthCheckFor("error_rate", snap),
	}
	payload := HealthCheckPayload{
		Status:  overallStatus(checks),
		Checks:  checks,
		Metrics: pm,
	}
	return h.write(TypeHealthCheck, payload, w)
}

func healthCheckFor(name string, snap metrics.Snapshot) CheckResult {
	switch snap.CircuitBreakerHealth {
	case metrics.Healthy:
		return CheckResult{Name: name, Status: HealthHealthy}
	case metrics.Degraded:
		return CheckResult{Name: name, Status: HealthDegraded, Message: "elevated error rate"}
	default:
		return CheckResult{Name: name, Status: HealthUnhealthy, Message: "error rate critical"}
	}
}

func overallStatus(checks []CheckResult) HealthStatus {
	status := HealthHealthy
	for _, c := range checks {
		if c.Status == HealthUnhealthy {
			return HealthUnhealthy
		}
		if c.Status == HealthDegraded {
			status = HealthDegraded
		}
	}
	return status
}

func (h *Handler) heartbeatLoop(ctx context.Context, w io.Writer) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := h.heartbeat(h.startedAt)
			if err := h.write(TypeHeartbeat, payload, w); err != nil {
				h.Logger.Warn("failed to emit heartbeat", "error", err)
			}
		}
	}
}

func (h *Handler) heartbeat(start time.Time) HeartbeatPayload {
	snap := h.Aggregator.GetSnapshot()
	memMB, cpuPct := processStats(h.pid)
	return HeartbeatPayload{
		SessionID:    "process",
		UptimeMS:     time.Since(start).Milliseconds(),
		MemoryUsedMB: memMB,
		CPUPercent:   cpuPct,
		Metrics:      toPerformanceMetrics(snap),
	}
}

func processStats(pid int) (memMB, cpuPct float64) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, 0
	}
	if info, err := proc.MemoryInfo(); err == nil && info != nil {
		memMB = float64(info.RSS) / (1024 * 1024)
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cpuPct = pct
	}
	return memMB, cpuPct
}

func toPerformanceMetrics(snap metrics.Snapshot) PerformanceMetrics {
	return PerformanceMetrics{
		TotalRequests:      snap.TotalStreamsCreated,
		SuccessfulRequests: snap.TotalStreamsCompleted - snap.TotalErrors,
		FailedRequests:     snap.TotalErrors,
		ErrorRatePercent:   snap.ErrorRatePercent,
		AvgResponseTimeMS:  snap.AverageExecutionTimeMS,
		ActiveStreams:      int64(snap.ActiveStreams),
	}
}

func (h *Handler) writeError(requestID string, rec *secerr.Record, w io.Writer) error {
	payload := ErrorPayload{RequestID: requestID, Error: *rec}
	return h.write(TypeError, payload, w)
}

func (h *Handler) write(tag MessageType, payload any, w io.Writer) error {
	msg, err := NewMessage(tag, payload)
	if err != nil {
		return err
	}
	line, err := EncodeLine(msg)
	if err != nil {
		return err
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := w.Write(line); err != nil {
		return err
	}
	if f, ok := w.(*bufio.Writer); ok {
		return f.Flush()
	}
	return nil
}
