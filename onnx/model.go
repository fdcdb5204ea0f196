package onnx

import (
	"iter"

	internalonnx "github.com/llmengine/llm-engine/internal/onnx"
	"github.com/llmengine/llm-engine/internal/tensor"
)

// Tensor is a typed, shape-annotated view over an initializer payload.
type Tensor = tensor.Tensor

// DType is the element type of a tensor.
type DType = tensor.DType

// Shape is a tensor shape.
type Shape = tensor.Shape

// ModelInfo is the decoded model envelope: versions, producer, metadata
// and the initializer table.
type ModelInfo = internalonnx.Model

// Registry holds the initializers of a loaded model.
//
// The registry is read-only and safe for concurrent readers. It owns its
// tensors: after Close, tensors obtained from it must not be used.
type Registry interface {
	// Get returns the initializer named name, or an error wrapping
	// ErrMissingInitializer.
	Get(name string) (*Tensor, error)

	// Contains reports whether an initializer named name exists.
	Contains(name string) bool

	// All iterates the initializers in graph order.
	//
	// Example:
	//
	//	for name, t := range reg.All() {
	//	    fmt.Println(name, t.Shape())
	//	}
	All() iter.Seq2[string, *Tensor]

	// Names returns initializer names in graph order.
	Names() []string

	// Len returns the number of initializers.
	Len() int

	// TotalBytes returns the summed payload size.
	TotalBytes() int64

	// Fingerprint hashes names, dtypes, shapes and payloads in order.
	Fingerprint() uint64

	// Model returns the decoded model metadata.
	Model() *ModelInfo

	// Close releases every tensor and mapping.
	Close() error
}
