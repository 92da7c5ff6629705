// Package fsexec implements the path-scoped filesystem executor: read,
// write, append, delete, create_dir, list, exists, and get_info, each
// validated against a security.Context before touching the filesystem.
package fsexec

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"sandboxexec/batch"
	secerr "sandboxexec/errors"
	"sandboxexec/metrics"
	"sandboxexec/protocol"
	"sandboxexec/security"
	"sandboxexec/stream"
)

// DefaultMaxFileSize caps the size of any single file this executor will
// read, write, or append to.
const DefaultMaxFileSize = 10 * 1024 * 1024 // 10 MiB

// DefaultMaxFilesPerOperation caps the number of entries a list operation
// returns before it stops enumerating.
const DefaultMaxFilesPerOperation = 1000

// FileInfo is the wire shape of one filesystem entry.
type FileInfo struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	IsDir      bool   `json:"is_dir"`
	IsFile     bool   `json:"is_file"`
	ModifiedAt int64  `json:"modified"`
	CreatedAt  int64  `json:"created"`
	Mode       string `json:"permissions"`
}

// Result is the operation-specific result embedded in an ExecutionResponse.
type Result struct {
	Success   bool       `json:"success"`
	Operation string     `json:"operation"`
	Path      string     `json:"path"`
	Content   *string    `json:"content,omitempty"`
	FileInfo  *FileInfo  `json:"file_info,omitempty"`
	Files     []FileInfo `json:"files,omitempty"`
}

// Executor is the filesystem tool implementation registered under tool id
// "filesystem".
type Executor struct {
	Context             *security.Context
	MaxFileSize         int64
	MaxFilesPerOperation int
}

// New builds an Executor bound to ctx, using the default size/count caps.
func New(ctx *security.Context) *Executor {
	return &Executor{
		Context:              ctx,
		MaxFileSize:          DefaultMaxFileSize,
		MaxFilesPerOperation: DefaultMaxFilesPerOperation,
	}
}

// GetSupportedCommands reports the operation names this executor accepts,
// satisfying registry.Executor's introspection method.
func (e *Executor) GetSupportedCommands() []string {
	return []string{"read", "write", "append", "delete", "create_dir", "list", "exists", "get_info"}
}

// Execute validates and performs one filesystem operation described by
// req.Operation/req.Arguments, returning a populated ExecutionResponse; it
// never panics or returns a raw error, matching the executor-boundary
// contract in spec.md §7.
func (e *Executor) Execute(ctx context.Context, req protocol.ExecutionRequest) protocol.ExecutionResponse {
	start := time.Now()

	path, _ := req.Arguments["path"].(string)
	if path == "" {
		return errorResponse(req.ID, start, secerr.New(secerr.InvalidInput, "INVALID_OPERATION", "path field missing"))
	}
	content, _ := req.Arguments["content"].(string)
	recursive, _ := req.Arguments["recursive"].(bool)

	if err := e.validate(req.Operation, path); err != nil {
		return errorResponse(req.ID, start, secerr.Wrap(err, secerr.Security, "SECURITY_VIOLATION"))
	}

	result, err := e.dispatch(req.Operation, path, content, recursive)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return protocol.ExecutionResponse{
			RequestID:       req.ID,
			Success:         false,
			Error:           recordFor(err),
			ExecutionTimeMS: elapsed,
		}
	}
	return protocol.ExecutionResponse{
		RequestID:       req.ID,
		Success:         true,
		Result:          result,
		ExecutionTimeMS: elapsed,
	}
}

// ExecuteStream validates a "read" request exactly as Execute does, then
// streams the file's content to the host in chunks via batcher instead of
// returning it as a single buffered Result. It satisfies
// registry.StreamExecutor; only the "read" operation supports streaming.
func (e *Executor) ExecuteStream(ctx context.Context, req protocol.ExecutionRequest, streamID string, batcher *batch.Batcher, m *metrics.Streaming) error {
	if req.Operation != "read" {
		return secerr.New(secerr.InvalidInput, "STREAM_NOT_SUPPORTED", "only read supports streaming").
			WithDetail("operation", req.Operation)
	}
	path, _ := req.Arguments["path"].(string)
	if path == "" {
		return secerr.New(secerr.InvalidInput, "INVALID_OPERATION", "path field missing")
	}
	if err := e.validate(req.Operation, path); err != nil {
		return secerr.Wrap(err, secerr.Security, "SECURITY_VIOLATION")
	}

	canonical := canonicalize(path)
	f, err := os.Open(canonical)
	if err != nil {
		return secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	if info.Size() > e.MaxFileSize {
		return secerr.New(secerr.ResourceLimit, "FileTooLarge", "file too large").
			WithDetail("size", info.Size()).WithDetail("limit", e.MaxFileSize)
	}

	return stream.File(ctx, streamID, f, info.Size(), stream.DefaultOptions(), batcher, m)
}

func (e *Executor) validate(operation, path string) error {
	if err := e.Context.ValidatePathAccess(path); err != nil {
		return err
	}
	switch operation {
	case "read", "exists", "get_info", "list":
		return e.Context.ValidateCapability(security.CapFileRead(path))
	case "write", "append", "delete", "create_dir":
		return e.Context.ValidateCapability(security.CapFileWrite(path))
	default:
		return secerr.New(secerr.InvalidInput, "INVALID_OPERATION", "unknown operation: "+operation)
	}
}

func (e *Executor) dispatch(operation, path, content string, recursive bool) (*Result, error) {
	switch operation {
	case "read":
		return e.read(path)
	case "write":
		return e.write(path, content)
	case "append":
		return e.append(path, content)
	case "delete":
		return e.delete(path)
	case "create_dir":
		return e.createDir(path, recursive)
	case "list":
		return e.list(path)
	case "exists":
		return e.exists(path)
	case "get_info":
		return e.getInfo(path)
	default:
		return nil, secerr.New(secerr.InvalidInput, "INVALID_OPERATION", "unknown operation: "+operation)
	}
}

func (e *Executor) read(path string) (*Result, error) {
	canonical := canonicalize(path)
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	if info.Size() > e.MaxFileSize {
		return nil, secerr.New(secerr.ResourceLimit, "FileTooLarge", "file too large").
			WithDetail("size", info.Size()).WithDetail("limit", e.MaxFileSize)
	}
	data, err := os.ReadFile(canonical)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	text := string(data)
	fi := toFileInfo(canonical, info)
	return &Result{Success: true, Operation: "read", Path: canonical, Content: &text, FileInfo: &fi}, nil
}

func (e *Executor) write(path, content string) (*Result, error) {
	if int64(len(content)) > e.MaxFileSize {
		return nil, secerr.New(secerr.ResourceLimit, "FileTooLarge", "content too large").
			WithDetail("size", len(content)).WithDetail("limit", e.MaxFileSize)
	}
	if parent := filepath.Dir(path); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	fi, err := e.infoFor(path)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Operation: "write", Path: path, FileInfo: fi}, nil
}

func (e *Executor) append(path, content string) (*Result, error) {
	var currentSize int64
	if info, err := os.Stat(path); err == nil {
		currentSize = info.Size()
	}
	if currentSize+int64(len(content)) > e.MaxFileSize {
		return nil, secerr.New(secerr.ResourceLimit, "FileTooLarge", "file would exceed size limit after append").
			WithDetail("size", currentSize+int64(len(content))).WithDetail("limit", e.MaxFileSize)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	fi, err := e.infoFor(path)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Operation: "append", Path: path, FileInfo: fi}, nil
}

func (e *Executor) delete(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	return &Result{Success: true, Operation: "delete", Path: path}, nil
}

func (e *Executor) createDir(path string, recursive bool) (*Result, error) {
	var err error
	if recursive {
		err = os.MkdirAll(path, 0o755)
	} else {
		err = os.Mkdir(path, 0o755)
	}
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	fi, err := e.infoFor(path)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Operation: "create_dir", Path: path, FileInfo: fi}, nil
}

func (e *Executor) list(path string) (*Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	files := make([]FileInfo, 0, len(entries))
	for i, entry := range entries {
		if i >= e.MaxFilesPerOperation {
			break
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(path, entry.Name())
		files = append(files, toFileInfo(full, info))
	}
	return &Result{Success: true, Operation: "list", Path: path, Files: files}, nil
}

func (e *Executor) exists(path string) (*Result, error) {
	info, err := os.Stat(path)
	exists := err == nil
	existsStr := strconv.FormatBool(exists)
	result := &Result{Success: true, Operation: "exists", Path: path, Content: &existsStr}
	if exists {
		fi := toFileInfo(path, info)
		result.FileInfo = &fi
	}
	return result, nil
}

func (e *Executor) getInfo(path string) (*Result, error) {
	fi, err := e.infoFor(path)
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Operation: "get_info", Path: path, FileInfo: fi}, nil
}

func (e *Executor) infoFor(path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, secerr.Wrap(err, secerr.SystemError, "IO_ERROR")
	}
	fi := toFileInfo(path, info)
	return &fi, nil
}

func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			return abs
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

func toFileInfo(path string, info os.FileInfo) FileInfo {
	return FileInfo{
		Path:       path,
		Size:       info.Size(),
		IsDir:      info.IsDir(),
		IsFile:     !info.IsDir(),
		ModifiedAt: info.ModTime().Unix(),
		CreatedAt:  info.ModTime().Unix(),
		Mode:       modeString(info),
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
