// Package protocol defines the NDJSON wire format shared by the sandbox
// execution service and its host: message envelopes, typed payloads, and
// the session/dispatch plumbing built on top of them.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	secerr "sandboxexec/errors"
)

// MessageType tags the payload carried by a Message, and doubles as the
// Payload.Type discriminator, matching the wire contract's literal casing.
type MessageType string

const (
	TypeRequest     MessageType = "Request"
	TypeResponse    MessageType = "Response"
	TypeStream      MessageType = "Stream"
	TypeError       MessageType = "Error"
	TypeHeartbeat   MessageType = "Heartbeat"
	TypeHealthCheck MessageType = "HealthCheck"
	TypeShutdown    MessageType = "Shutdown"
)

// Payload is the nested {type, data} tag/content pair carried by a Message.
// Data holds the raw JSON for whichever payload Type names (ExecutionRequest,
// ExecutionResponse, StreamUpdate, ...), mirroring a tagged-union encoding
// rather than Go's usual flat-struct tagging so that heterogeneous payloads
// can share one envelope type.
type Payload struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is the outer envelope written one-per-line on the wire.
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	SessionID     string         `json:"session_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       Payload        `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewMessage wraps payload under tag in a freshly-stamped envelope.
func NewMessage(tag MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:        uuid.NewString(),
		Type:      tag,
		Timestamp: time.Now().UTC(),
		Payload:   Payload{Type: tag, Data: raw},
	}, nil
}

// Decode unmarshals m.Payload.Data into v according to m.Type, typically one
// of the payload structs below.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload.Data, v)
}

// validateSchema checks the §4.11 step-3 presence requirement: id, type, and
// payload must all be present on the raw envelope. DecodeLine calls this
// against the raw bytes since a zero-value Message can't distinguish "field
// absent" from "field present but empty".
func validateSchema(raw []byte) error {
	var probe struct {
		ID      *string          `json:"id"`
		Type    *string          `json:"type"`
		Payload *json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}
	switch {
	case probe.ID == nil || *probe.ID == "":
		return fmt.Errorf("message missing required field %q", "id")
	case probe.Type == nil || *probe.Type == "":
		return fmt.Errorf("message missing required field %q", "type")
	case probe.Payload == nil:
		return fmt.Errorf("message missing required field %q", "payload")
	}
	return nil
}

// SecurityLevel names the per-request sandbox posture, from the most
// restrictive to the least.
type SecurityLevel string

const (
	SecurityMinimal   SecurityLevel = "minimal"
	SecurityStandard  SecurityLevel = "standard"
	SecurityElevated  SecurityLevel = "elevated"
	SecurityUnrestricted SecurityLevel = "unrestricted"
)

// ResourceLimitConfig is the wire shape of per-request resource limits; a
// zero value for any field means "use the session default".
type ResourceLimitConfig struct {
	MaxMemoryMB       uint64 `json:"max_memory_mb,omitempty"`
	MaxCPUTimeMS      uint64 `json:"max_cpu_time_ms,omitempty"`
	MaxExecutionTimeMS uint64 `json:"max_execution_time_ms,omitempty"`
	MaxFileHandles    uint32 `json:"max_file_handles,omitempty"`
}

// DefaultResourceLimitConfig mirrors the request-level defaults named in
// the wire contract, independent of the session-level security defaults.
func DefaultResourceLimitConfig() ResourceLimitConfig {
	return ResourceLimitConfig{
		MaxMemoryMB:        512,
		MaxCPUTimeMS:       30000,
		MaxExecutionTimeMS: 60000,
		MaxFileHandles:     100,
	}
}

// ExecutionContext carries the ambient request metadata that isn't itself
// an operation argument: session identity, working directory, environment
// overlay, security posture, and resource limits.
type ExecutionContext struct {
	SessionID      string               `json:"session_id"`
	WorkingDir     string               `json:"working_dir,omitempty"`
	Environment    map[string]string    `json:"environment,omitempty"`
	SecurityLevel  SecurityLevel        `json:"security_level,omitempty"`
	Capabilities   []string             `json:"capabilities,omitempty"`
	ResourceLimits ResourceLimitConfig  `json:"resource_limits,omitempty"`
}

// ExecutionRequest is the "Request" payload: a single tool invocation.
type ExecutionRequest struct {
	ID              string             `json:"id"`
	ToolID          string             `json:"tool_id"`
	Operation       string             `json:"operation"`
	Arguments       map[string]any     `json:"arguments"`
	Context         ExecutionContext   `json:"context"`
	TimeoutMS       uint64             `json:"timeout_ms,omitempty"`
	StreamResponse  bool               `json:"stream_response,omitempty"`
}

// ExecutionResponse is the "Response" payload: the outcome of one
// ExecutionRequest. Result is executor-specific (fsexec.Result,
// cmdexec.Result, ...) and marshals through its own json tags.
type ExecutionResponse struct {
	RequestID       string          `json:"request_id"`
	Success         bool            `json:"success"`
	Result          any             `json:"result,omitempty"`
	Error           *secerr.Record  `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// StreamUpdate is the "Stream" payload: one chunk (or batch of chunks) of
// an in-progress streamed operation. Chunks carries opaque, already
// JSON-shaped chunk data so the stream package controls its own wire shape.
type StreamUpdate struct {
	StreamID    string `json:"stream_id"`
	RequestID   string `json:"request_id"`
	SequenceNum uint64 `json:"sequence_num"`
	Chunks      any    `json:"chunks"`
	IsFinal     bool   `json:"is_final"`
}

// ErrorPayload is the "Error" payload: a standalone protocol-level error
// not tied to a specific ExecutionResponse (malformed input, rate limit,
// session expiry).
type ErrorPayload struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     secerr.Record `json:"error"`
}

// PerformanceMetrics is the cached metrics snapshot attached to Heartbeat
// and HealthCheck payloads.
type PerformanceMetrics struct {
	TotalRequests      uint64  `json:"total_requests"`
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	ErrorRatePercent   float64 `json:"error_rate_percent"`
	AvgResponseTimeMS  float64 `json:"avg_response_time_ms"`
	ActiveStreams      int64   `json:"active_streams"`
}

// HeartbeatPayload is the "Heartbeat" payload, emitted on a fixed interval
// to report liveness and resource usage.
type HeartbeatPayload struct {
	SessionID    string              `json:"session_id"`
	UptimeMS     int64               `json:"uptime_ms"`
	MemoryUsedMB float64             `json:"memory_usage_mb"`
	CPUPercent   float64             `json:"cpu_usage_percent"`
	Metrics      PerformanceMetrics  `json:"metrics"`
}

// HealthStatus is the coarse health classification in a HealthCheckPayload.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// CheckResult is one named sub-check inside a HealthCheckPayload.
type CheckResult struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthCheckPayload is the "HealthCheck" payload, returned in answer to a
// client-initiated health probe.
type HealthCheckPayload struct {
	Status  HealthStatus   `json:"status"`
	Checks  []CheckResult  `json:"checks"`
	Metrics PerformanceMetrics `json:"metrics"`
}

// ShutdownPayload is the "Shutdown" payload. The host sends it to end
// Handler.Run, which echoes it back before returning.
type ShutdownPayload struct {
	Reason         string `json:"reason,omitempty"`
	GracePeriodMS  uint64 `json:"grace_period_ms,omitempty"`
}

// MaxMessageSize caps a single NDJSON line, matching the wire contract's
// 10 MiB ceiling.
const MaxMessageSize = 10 * 1024 * 1024

// DecodeLine parses one NDJSON line into a Message, rejecting lines over
// MaxMessageSize and lines failing the id/type/payload presence check before
// attempting to unmarshal into the typed envelope.
func DecodeLine(line []byte) (Message, error) {
	if len(line) > MaxMessageSize {
		return Message{}, fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}
	if err := validateSchema(line); err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EncodeLine renders m as a single NDJSON line, including the trailing
// newline.
func EncodeLine(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

// NewScanner builds a bufio.Scanner sized to accept lines up to
// MaxMessageSize, since the default scanner buffer is far smaller.
func NewScanner(r interface{ Read([]byte) (int, error) }) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxMessageSize+1)
	return sc
}
