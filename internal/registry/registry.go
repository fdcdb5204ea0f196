// Package registry holds the initializers produced by a load.
//
// A Registry maps unique names to tensors and iterates them in the order
// they appear in the model graph. It is filled by a Builder and becomes
// read-only once frozen; concurrent readers need no synchronization. The
// Registry owns its tensors: Close releases owned buffers and gives back
// every hold on a mapped region.
package registry

import (
	"encoding/binary"
	"iter"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/onnx"
	"github.com/llmengine/llm-engine/internal/tensor"
)

// Entry is one named initializer.
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

// Registry is an ordered, immutable name -> tensor mapping.
type Registry struct {
	entries []Entry
	index   map[string]int
	model   *onnx.Model
	bytes   int64

	closeOnce sync.Once
	closeErr  error
}

// Builder accumulates entries for a Registry.
type Builder struct {
	reg    *Registry
	frozen bool
}

// NewBuilder starts a registry for model. capacity is a size hint.
func NewBuilder(model *onnx.Model, capacity int) *Builder {
	return &Builder{reg: &Registry{
		entries: make([]Entry, 0, capacity),
		index:   make(map[string]int, capacity),
		model:   model,
	}}
}

// Insert appends t under name. A repeated name is a DuplicateName error;
// t is then left to the caller.
func (b *Builder) Insert(name string, t *tensor.Tensor) error {
	if b.frozen {
		return loaderr.New(loaderr.ErrResourceLimit, "registry is frozen").For(name)
	}
	if i, ok := b.reg.index[name]; ok {
		return loaderr.New(loaderr.ErrDuplicateName, "already defined as initializer #%d", i).For(name)
	}
	b.reg.index[name] = len(b.reg.entries)
	b.reg.entries = append(b.reg.entries, Entry{Name: name, Tensor: t})
	b.reg.bytes += t.ByteSize()
	return nil
}

// Len returns the number of entries inserted so far.
func (b *Builder) Len() int {
	return len(b.reg.entries)
}

// Freeze seals the builder and returns the registry.
func (b *Builder) Freeze() *Registry {
	b.frozen = true
	return b.reg
}

// Discard releases every inserted tensor. It is used when a load fails
// after insertion started.
func (b *Builder) Discard() error {
	b.frozen = true
	return b.reg.Close()
}

// Get returns the tensor named name.
func (r *Registry) Get(name string) (*tensor.Tensor, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, loaderr.New(loaderr.ErrMissingInitializer, "not in registry").For(name)
	}
	return r.entries[i].Tensor, nil
}

// Contains reports whether name is present.
func (r *Registry) Contains(name string) bool {
	_, ok := r.index[name]
	return ok
}

// All yields (name, tensor) pairs in graph order.
func (r *Registry) All() iter.Seq2[string, *tensor.Tensor] {
	return func(yield func(string, *tensor.Tensor) bool) {
		for _, e := range r.entries {
			if !yield(e.Name, e.Tensor) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries in graph order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Names returns the names in graph order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of initializers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// TotalBytes returns the summed payload size.
func (r *Registry) TotalBytes() int64 {
	return r.bytes
}

// Model returns the decoded model metadata.
func (r *Registry) Model() *onnx.Model {
	return r.model
}

// Fingerprint hashes names, dtypes, shapes and payloads in order. Two
// loads of the same file give the same value.
func (r *Registry) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, e := range r.entries {
		t := e.Tensor
		_, _ = h.WriteString(e.Name)
		_, _ = h.Write([]byte{0, byte(t.DType()), byte(t.Rank())})
		for _, d := range t.Shape() {
			binary.LittleEndian.PutUint64(buf[:], uint64(d)) //nolint:gosec // G115: dims are non-negative
			_, _ = h.Write(buf[:])
		}
		_, _ = h.Write(t.Data())
	}
	return h.Sum64()
}

// Close releases every tensor. Tensors obtained from the registry are
// invalid afterwards. Close is idempotent and returns the first release
// error.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		for i := len(r.entries) - 1; i >= 0; i-- {
			if err := r.entries[i].Tensor.Release(); err != nil && r.closeErr == nil {
				r.closeErr = err
			}
		}
	})
	return r.closeErr
}
