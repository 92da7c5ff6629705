// Package stream produces batch.Chunk sequences from a file or a running
// command's output, handing each chunk to a batch.Batcher so the host
// receives coalesced updates rather than one message per chunk.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os/exec"
	"runtime"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	secerr "sandboxexec/errors"
	"sandboxexec/batch"
	"sandboxexec/metrics"
)

// DefaultChunkSize is the read buffer size for file streaming.
const DefaultChunkSize = 16 * 1024

// fileYieldEvery and commandYieldEvery are how often File and Command
// cooperatively yield to the scheduler while producing chunks, so a single
// fast-producing stream cannot starve other goroutines on the shared
// runtime.
const (
	fileYieldEvery    = 10
	commandYieldEvery = 5
)

// CompressionThreshold is the minimum chunk size, in bytes, above which a
// chunk is gzip-compressed before being handed to the batcher.
const CompressionThreshold = 8 * 1024

// Options tunes one streaming operation.
type Options struct {
	ChunkSize        int
	EnableCompression bool
}

// DefaultOptions returns the reference streaming tuning.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, EnableCompression: true}
}

// File streams r (typically an *os.File) in ChunkSize pieces, emitting a
// batch.Chunk with content_type "file_reading" for each piece and a final
// chunk with Metadata.IsLast set. It yields to the scheduler after every
// 10th chunk; batcher.AddChunk alone decides when a batch is flushed.
func File(ctx context.Context, streamID string, r io.Reader, totalSize int64, opts Options, batcher *batch.Batcher, m *metrics.Streaming) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	m.StreamStarted()
	defer m.StreamCompleted()

	reader := bufio.NewReaderSize(r, opts.ChunkSize)
	buf := make([]byte, opts.ChunkSize)
	var sequence uint64
	var bytesRead int64

	for {
		if err := ctx.Err(); err != nil {
			return secerr.Wrap(err, secerr.Timeout, "STREAM_CANCELLED")
		}
		n, readErr := reader.Read(buf)
		if n > 0 {
			bytesRead += int64(n)
			chunk := encodeChunk(streamID, sequence, buf[:n], "file_reading", opts)
			if totalSize > 0 {
				pct := float64(bytesRead) / float64(totalSize) * 100.0
				chunk.Metadata.ProgressPercent = &pct
			}
			last := readErr == io.EOF
			if !last {
				if _, peekErr := reader.Peek(1); peekErr == io.EOF {
					last = true
				}
			}
			chunk.Metadata.IsLast = last
			m.ChunkProcessed(n)
			if err := batcher.AddChunk(chunk, "file_reading"); err != nil {
				return secerr.Wrap(err, secerr.SystemError, "BATCH_DELIVERY_FAILED")
			}
			sequence++
			if sequence%fileYieldEvery == 0 {
				runtime.Gosched()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return secerr.Wrap(readErr, secerr.SystemError, "IO_ERROR")
		}
	}

	if sequence == 0 {
		final := encodeChunk(streamID, 0, nil, "file_reading", opts)
		final.Metadata.IsLast = true
		return batcher.AddChunk(final, "file_reading")
	}
	return batcher.ForceFlush("file_reading")
}

// Command starts the prepared cmd, streaming combined stdout/stderr line by
// line into the batcher as "command_output" chunks until the process
// exits or ctx is cancelled.
func Command(ctx context.Context, streamID string, cmd *exec.Cmd, opts Options, batcher *batch.Batcher, m *metrics.Streaming) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return secerr.Wrap(err, secerr.SystemError, "PIPE_FAILED")
	}
	cmd.Stderr = cmd.Stdout

	m.StreamStarted()
	defer m.StreamCompleted()

	if err := cmd.Start(); err != nil {
		return secerr.Wrap(err, secerr.SystemError, "PROCESS_SPAWN_FAILED")
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sequence uint64
	var cancelled bool
	for scanner.Scan() {
		if ctx.Err() != nil {
			// Stop reading immediately, but let cmd.Wait below observe the
			// graceful SIGTERM-then-grace-then-SIGKILL sequence already
			// wired onto cmd.Cancel/cmd.WaitDelay rather than killing here.
			cancelled = true
			break
		}
		line := scanner.Bytes()
		chunk := encodeChunk(streamID, sequence, append(line, '\n'), "command_output", opts)
		m.ChunkProcessed(len(line) + 1)
		if err := batcher.AddChunk(chunk, "command_output"); err != nil {
			return secerr.Wrap(err, secerr.SystemError, "BATCH_DELIVERY_FAILED")
		}
		sequence++
		if sequence%commandYieldEvery == 0 {
			runtime.Gosched()
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	final := encodeChunk(streamID, sequence, nil, "command_output", opts)
	final.Metadata.IsLast = true
	if waitErr != nil {
		final.Metadata.Error = waitErr.Error()
	}
	_ = batcher.AddChunk(final, "command_output")
	if err := batcher.ForceFlush("command_output"); err != nil {
		return secerr.Wrap(err, secerr.SystemError, "BATCH_DELIVERY_FAILED")
	}

	if cancelled {
		return secerr.Wrap(ctx.Err(), secerr.Timeout, "STREAM_CANCELLED")
	}
	if scanErr != nil {
		return secerr.Wrap(scanErr, secerr.SystemError, "IO_ERROR")
	}
	return nil
}

func encodeChunk(streamID string, sequence uint64, data []byte, contentType string, opts Options) batch.Chunk {
	now := time.Now()
	meta := batch.ChunkMetadata{Source: contentType}

	payload := data
	encoding := "utf8"
	if !utf8.Valid(data) {
		encoding = "base64"
	}

	if opts.EnableCompression && len(payload) >= CompressionThreshold {
		if compressed, ok := gzipCompress(payload); ok {
			payload = compressed
			encoding = "base64"
			meta.Compression = "gzip"
		}
	}

	var text string
	if encoding == "base64" {
		text = base64.StdEncoding.EncodeToString(payload)
	} else {
		text = string(payload)
	}
	meta.Encoding = encoding

	return batch.Chunk{
		StreamID:    streamID,
		Sequence:    sequence,
		ContentType: contentType,
		Data:        text,
		Size:        len(data),
		Metadata:    meta,
		GeneratedAt: now,
	}
}

func gzipCompress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(data) {
		return nil, false
	}
	return buf.Bytes(), true
}

// NewStreamID returns a fresh random stream identifier.
func NewStreamID() string {
	return uuid.NewString()
}
