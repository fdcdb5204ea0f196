// Package onnx loads the initializers (weights) of ONNX model files.
//
// The package reads a serialized ModelProto, resolves every graph
// initializer into a typed tensor and returns them in a read-only
// registry. Payloads stored as raw_data or in external sidecar files are
// borrowed from memory mappings where possible, so large models load
// without copying their weights.
//
// # Example Usage
//
//	import "github.com/llmengine/llm-engine/onnx"
//
//	opts := onnx.DefaultOptions()
//	opts.VerifyChecksums = true
//
//	reg, err := onnx.Load("model.onnx", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	for name, t := range reg.All() {
//	    fmt.Println(name, t.DType(), t.Shape())
//	}
//
// # Errors
//
// Every failure carries one of the Err* kinds and can be tested with
// errors.Is. The message names the offending initializer and file offset
// when they are known:
//
//	if errors.Is(err, onnx.ErrPathEscape) {
//	    ...
//	}
//
// # External Data
//
// Sidecar files are resolved relative to the directory of the model file
// and may not leave it, either by path or by symlink.
package onnx

import (
	"context"

	"github.com/llmengine/llm-engine/internal/loader"
	"github.com/llmengine/llm-engine/internal/loaderr"
)

// Options configures model loading.
type Options = loader.Options

// MmapPolicy selects when files are memory-mapped.
type MmapPolicy = loader.MmapPolicy

// Mapping policies.
const (
	MmapAuto   = loader.MmapAuto
	MmapAlways = loader.MmapAlways
	MmapNever  = loader.MmapNever
)

// Error describes a load failure.
type Error = loaderr.Error

// Error kinds.
var (
	ErrIO                   = loaderr.ErrIO
	ErrRange                = loaderr.ErrRange
	ErrMap                  = loaderr.ErrMap
	ErrTooLarge             = loaderr.ErrTooLarge
	ErrDecode               = loaderr.ErrDecode
	ErrUnsupportedIRVersion = loaderr.ErrUnsupportedIRVersion
	ErrUnsupportedOpset     = loaderr.ErrUnsupportedOpset
	ErrUnsupportedDType     = loaderr.ErrUnsupportedDType
	ErrShapeMismatch        = loaderr.ErrShapeMismatch
	ErrPathEscape           = loaderr.ErrPathEscape
	ErrChecksum             = loaderr.ErrChecksum
	ErrDuplicateName        = loaderr.ErrDuplicateName
	ErrResourceLimit        = loaderr.ErrResourceLimit
	ErrMissingInitializer   = loaderr.ErrMissingInitializer
	ErrCanceled             = loaderr.ErrCanceled
	ErrInvalidOptions       = loaderr.ErrInvalidOptions
)

// DefaultOptions returns the default options for loading ONNX models.
//
// Default configuration:
//   - Mmap: auto (files of 64 MiB and more are mapped)
//   - VerifyChecksums: disabled
//   - DTypeWhitelist: all supported dtypes
//   - MaxTensorBytes: unbounded
//   - EnableQ4Packed: disabled
func DefaultOptions() Options {
	return loader.DefaultOptions()
}

// Load reads every initializer of the ONNX model at path.
//
// Without options, DefaultOptions is used. On failure no registry is
// returned and nothing stays allocated or mapped.
//
// Example:
//
//	reg, err := onnx.Load("resnet18.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	w, err := reg.Get("conv1.weight")
func Load(path string, opts ...Options) (Registry, error) {
	return LoadContext(context.Background(), path, opts...)
}

// LoadContext is Load with cancellation between initializers.
func LoadContext(ctx context.Context, path string, opts ...Options) (Registry, error) {
	reg, err := loader.LoadContext(ctx, path, pick(opts))
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// LoadFromBytes loads a model held in memory, for example one embedded in
// the binary. External data is resolved against dir; with an empty dir
// any external initializer fails with ErrPathEscape. Tensors may borrow
// from data, so it must not be modified while the registry is open.
//
// Example:
//
//	modelBytes, _ := os.ReadFile("model.onnx")
//	reg, err := onnx.LoadFromBytes(modelBytes, "")
func LoadFromBytes(data []byte, dir string, opts ...Options) (Registry, error) {
	reg, err := loader.LoadBytes("<memory>", data, dir, pick(opts))
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// GetModelInfo decodes the model envelope and initializer table without
// realizing any tensor.
//
// Example:
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Producer: %s\n", info.ProducerName)
//	fmt.Printf("Opset: %d\n", info.OpsetVersion)
//	fmt.Printf("Initializers: %d\n", len(info.Records))
func GetModelInfo(path string, opts ...Options) (*ModelInfo, error) {
	return loader.Inspect(path, pick(opts))
}

func pick(opts []Options) Options {
	if len(opts) > 0 {
		return opts[0]
	}
	return DefaultOptions()
}
