package loader

import (
	"github.com/llmengine/llm-engine/internal/bytesource"
	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/logger"
	"github.com/llmengine/llm-engine/internal/tensor"
)

// MmapPolicy selects when model and sidecar files are memory-mapped.
type MmapPolicy = bytesource.Policy

// Mapping policies.
const (
	MmapAuto   = bytesource.PolicyAuto
	MmapAlways = bytesource.PolicyAlways
	MmapNever  = bytesource.PolicyNever
)

// DefaultMmapThreshold is the file size from which MmapAuto maps.
const DefaultMmapThreshold = bytesource.DefaultMapThreshold

// Options configures a load.
type Options struct {
	// Mmap is the mapping policy. MmapAuto maps files of at least
	// MmapThreshold bytes.
	Mmap          MmapPolicy
	MmapThreshold int64

	// VerifyChecksums makes external data without a checksum an error.
	// Checksums that are present are always verified.
	VerifyChecksums bool

	// DTypeWhitelist restricts the accepted dtypes. Empty accepts all.
	DTypeWhitelist tensor.DTypeSet

	// MaxTensorBytes rejects any single tensor above this size. Zero means
	// unbounded.
	MaxTensorBytes int64

	// EnableQ4Packed accepts 4-bit initializers as Q4Packed tensors.
	EnableQ4Packed bool

	// Logger receives load diagnostics. Nil uses logger.Log.
	Logger *logger.Logger
}

// DefaultOptions returns the default load configuration:
//   - Mmap: auto, mapping files of 64 MiB and more
//   - VerifyChecksums: false
//   - DTypeWhitelist: every supported dtype
//   - MaxTensorBytes: unbounded
//   - EnableQ4Packed: false
func DefaultOptions() Options {
	return Options{
		Mmap:          MmapAuto,
		MmapThreshold: DefaultMmapThreshold,
	}
}

// Validate checks the option values. Failures carry
// loaderr.ErrInvalidOptions.
func (o Options) Validate() error {
	switch o.Mmap {
	case MmapAuto, MmapAlways, MmapNever:
	default:
		return loaderr.New(loaderr.ErrInvalidOptions, "invalid mmap policy %d", int(o.Mmap))
	}
	if o.MmapThreshold < 0 {
		return loaderr.New(loaderr.ErrInvalidOptions, "mmap threshold must not be negative, got %d", o.MmapThreshold)
	}
	if o.MaxTensorBytes < 0 {
		return loaderr.New(loaderr.ErrInvalidOptions, "max tensor bytes must not be negative, got %d", o.MaxTensorBytes)
	}
	if o.DTypeWhitelist.Has(tensor.Q4Packed) && !o.EnableQ4Packed {
		return loaderr.New(loaderr.ErrInvalidOptions, "dtype whitelist names %s but EnableQ4Packed is off", tensor.Q4Packed)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.MmapThreshold == 0 {
		o.MmapThreshold = DefaultMmapThreshold
	}
	if o.Logger == nil {
		o.Logger = logger.Log
	}
	return o
}
