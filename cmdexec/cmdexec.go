// Package cmdexec implements the whitelisted command executor: a command
// and its arguments are validated against a whitelist, a blocked-pattern
// list, per-command argument rules, and the session's security context,
// then run under isolate.Isolation.
package cmdexec

import (
	"context"
	"strings"
	"time"

	"sandboxexec/batch"
	secerr "sandboxexec/errors"
	"sandboxexec/isolate"
	"sandboxexec/metrics"
	"sandboxexec/protocol"
	"sandboxexec/security"
	"sandboxexec/stream"
)

// Result is the command-execution result embedded in an ExecutionResponse.
type Result struct {
	Success    bool   `json:"success"`
	Command    string `json:"command"`
	Args       []string `json:"args"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

// Executor is the command tool implementation registered under tool id
// "command".
type Executor struct {
	Isolation *isolate.Isolation
	Whitelist *Whitelist
	Context   *security.Context
}

// New builds an Executor bound to ctx, using whitelist for command
// admission.
func New(ctx *security.Context, whitelist *Whitelist) *Executor {
	return &Executor{
		Isolation: isolate.New(ctx),
		Whitelist: whitelist,
		Context:   ctx,
	}
}

// GetSupportedCommands reports the currently whitelisted commands.
func (e *Executor) GetSupportedCommands() []string {
	return e.Whitelist.List()
}

// Execute validates and runs one command, returning a populated
// ExecutionResponse; it never panics or returns a raw error.
func (e *Executor) Execute(ctx context.Context, req protocol.ExecutionRequest) protocol.ExecutionResponse {
	start := time.Now()

	command, _ := req.Arguments["command"].(string)
	workingDir, _ := req.Arguments["working_dir"].(string)
	args := stringSlice(req.Arguments["args"])

	if err := e.validateCommandSecurity(command, args, workingDir, req.Context.Environment); err != nil {
		return errorResponse(req.ID, start, secerr.Wrap(err, secerr.Security, "SECURITY_VIOLATION"))
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result, err := e.Isolation.ExecuteCommand(ctx, command, args, workingDir, timeout)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		resp := protocol.ExecutionResponse{
			RequestID:       req.ID,
			Success:         false,
			Error:           recordFor(err),
			ExecutionTimeMS: elapsed,
		}
		if result != nil {
			resp.Result = toResult(command, args, result, false)
		}
		return resp
	}

	return protocol.ExecutionResponse{
		RequestID:       req.ID,
		Success:         result.ExitCode == 0,
		Result:          toResult(command, args, result, result.ExitCode == 0),
		ExecutionTimeMS: elapsed,
	}
}

// ExecuteStream validates the command exactly as Execute does, then streams
// its combined stdout/stderr to the host line by line via batcher instead
// of buffering it into a single Result. It satisfies registry.StreamExecutor.
func (e *Executor) ExecuteStream(ctx context.Context, req protocol.ExecutionRequest, streamID string, batcher *batch.Batcher, m *metrics.Streaming) error {
	command, _ := req.Arguments["command"].(string)
	workingDir, _ := req.Arguments["working_dir"].(string)
	args := stringSlice(req.Arguments["args"])

	if err := e.validateCommandSecurity(command, args, workingDir, req.Context.Environment); err != nil {
		return secerr.Wrap(err, secerr.Security, "SECURITY_VIOLATION")
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	cmd, isoCtx, cancel, err := e.Isolation.PrepareStreamedCommand(ctx, command, args, workingDir, timeout)
	if err != nil {
		return err
	}
	defer cancel()

	return stream.Command(isoCtx, streamID, cmd, stream.DefaultOptions(), batcher, m)
}

// validateCommandSecurity mirrors the reference executor's ordering:
// whitelist membership, then blocked sequences/metacharacters on the
// command line as a whole, then working directory access, then
// environment overlay, then the ProcessSpawn capability, then
// per-command argument rules.
func (e *Executor) validateCommandSecurity(command string, args []string, workingDir string, env map[string]string) error {
	if command == "" {
		return secerr.New(secerr.InvalidInput, "INVALID_OPERATION", "command field missing")
	}
	if !e.Whitelist.Allowed(command) {
		return secerr.ErrCommandNotWhitelisted.WithDetail("command", command)
	}
	if err := security.Validate(strings.Join(append([]string{command}, args...), " ")); err != nil {
		return err
	}
	if workingDir != "" {
		if err := e.Context.ValidatePathAccess(workingDir); err != nil {
			return err
		}
	}
	for name := range env {
		if err := e.Context.ValidateEnvironmentAccess(name); err != nil {
			return err
		}
	}
	if err := e.Context.ValidateCapability(security.CapProcessSpawn()); err != nil {
		return err
	}
	return validateArguments(command, args)
}

func validateToken(token string) error {
	return security.Validate(token)
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toResult(command string, args []string, r *isolate.CommandResult, success bool) *Result {
	return &Result{
		Success:    success,
		Command:    command,
		Args:       args,
		ExitCode:   r.ExitCode,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		DurationMS: r.Elapsed.Milliseconds(),
	}
}

func errorResponse(requestID string, start time.Time, err *secerr.Record) protocol.ExecutionResponse {
	return protocol.ExecutionResponse{
		RequestID:       requestID,
		Success:         false,
		Error:           err,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
}

func recordFor(err error) *secerr.Record {
	var rec *secerr.Record
	if secerr.As(err, &rec) {
		return rec
	}
	return secerr.Wrap(err, secerr.SystemError, "EXECUTION_FAILED")
}
