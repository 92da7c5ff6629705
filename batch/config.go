package batch

// Params holds the per-content-class batch thresholds.
type Params struct {
	MaxChunks         int
	MaxBytes          int
	MaxHoldUS         int64
	PriorityThreshold int
}

// ContextOptimizations holds one Params tuple per recognized content class.
type ContextOptimizations struct {
	FileReading    Params
	CommandOutput  Params
	NetworkStream  Params
	CodeGeneration Params
}

// DefaultContextOptimizations returns the reference per-class tuning.
func DefaultContextOptimizations() ContextOptimizations {
	return ContextOptimizations{
		FileReading: Params{
			MaxChunks:         32,
			MaxBytes:          256 * 1024,
			MaxHoldUS:         5000,
			PriorityThreshold: 64 * 1024,
		},
		CommandOutput: Params{
			MaxChunks:         4,
			MaxBytes:          8 * 1024,
			MaxHoldUS:         1000,
			PriorityThreshold: 1024,
		},
		NetworkStream: Params{
			MaxChunks:         16,
			MaxBytes:          128 * 1024,
			MaxHoldUS:         2000,
			PriorityThreshold: 32 * 1024,
		},
		CodeGeneration: Params{
			MaxChunks:         8,
			MaxBytes:          32 * 1024,
			MaxHoldUS:         1500,
			PriorityThreshold: 4 * 1024,
		},
	}
}

// Config holds the batcher's tuning. Batcher takes every flush threshold
// from the per-class Params in ContextOptimizations; MaxChunksPerBatch,
// MaxBytesPerBatch, MaxHoldTimeUS and ImmediateFlushThreshold are not read
// by it.
type Config struct {
	MaxChunksPerBatch       int
	MaxBytesPerBatch        int
	MaxHoldTimeUS           int64
	ImmediateFlushThreshold int
	EnableAdaptiveBatching  bool
	ContextOptimizations    ContextOptimizations
}

// DefaultConfig returns the reference batcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunksPerBatch:       16,
		MaxBytesPerBatch:        128 * 1024,
		MaxHoldTimeUS:           2000,
		ImmediateFlushThreshold: 32 * 1024,
		EnableAdaptiveBatching:  true,
		ContextOptimizations:    DefaultContextOptimizations(),
	}
}

func (c Config) paramsFor(contextType string) Params {
	switch contextType {
	case "file_reading", "fileAnalysis":
		return c.ContextOptimizations.FileReading
	case "command_output", "commandOutput":
		return c.ContextOptimizations.CommandOutput
	case "network_stream":
		return c.ContextOptimizations.NetworkStream
	case "code_generation", "codeGeneration":
		return c.ContextOptimizations.CodeGeneration
	default:
		return c.ContextOptimizations.FileReading
	}
}
