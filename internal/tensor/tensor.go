package tensor

import (
	"fmt"
	"sync"
)

// Owner describes where a tensor's bytes live and how they are released.
type Owner int

// Ownership variants.
const (
	Owned               Owner = iota // heap buffer owned by the tensor
	BorrowedFromFile                 // slice of the mapped model file
	BorrowedFromSidecar              // slice of a mapped external-data file
)

// String returns a human-readable owner name.
func (o Owner) String() string {
	switch o {
	case Owned:
		return "owned"
	case BorrowedFromFile:
		return "borrowed_from_file"
	case BorrowedFromSidecar:
		return "borrowed_from_sidecar"
	default:
		return "unknown"
	}
}

// Releaser is held by borrowed tensors; it is released exactly once when
// the tensor is released.
type Releaser interface {
	Release() error
}

// Tensor is a typed, shape-annotated view over a contiguous byte buffer.
//
// Bytes are in host byte order and aligned to at least the natural
// alignment of the element type. Callers must treat Data as read-only:
// borrowed tensors point into read-only file mappings.
type Tensor struct {
	shape  Shape
	dtype  DType
	size   int64
	owner  Owner
	region Releaser // nil for owned tensors

	mu       sync.RWMutex
	data     []byte // nil iff size == 0 or released
	released bool
}

// NewOwned creates a tensor that owns data. data must be exactly the
// payload size for dtype and shape; a misaligned buffer is copied into an
// aligned one.
func NewOwned(dtype DType, shape Shape, data []byte) (*Tensor, error) {
	size, err := checkPayload(dtype, shape, data)
	if err != nil {
		return nil, err
	}
	if size > 0 && !IsAligned(data, Alignment) {
		aligned := AlignedBytes(int(size))
		copy(aligned, data)
		data = aligned
	}
	return newTensor(dtype, shape, size, Owned, nil, data), nil
}

// NewBorrowed creates a tensor viewing data owned by region. The caller
// transfers one hold on region to the tensor; it is released by Release.
// data must satisfy the natural alignment of dtype.
func NewBorrowed(dtype DType, shape Shape, data []byte, owner Owner, region Releaser) (*Tensor, error) {
	if owner == Owned {
		return nil, fmt.Errorf("borrowed tensor needs a borrowed owner, got %s", owner)
	}
	if region == nil {
		return nil, fmt.Errorf("borrowed tensor needs a region")
	}
	size, err := checkPayload(dtype, shape, data)
	if err != nil {
		return nil, err
	}
	if size > 0 && !IsAligned(data, dtype.Alignment()) {
		return nil, fmt.Errorf("borrowed %s payload is not %d-byte aligned", dtype, dtype.Alignment())
	}
	return newTensor(dtype, shape, size, owner, region, data), nil
}

func checkPayload(dtype DType, shape Shape, data []byte) (int64, error) {
	if !dtype.Valid() {
		return 0, fmt.Errorf("invalid dtype %d", dtype)
	}
	if err := shape.Validate(); err != nil {
		return 0, fmt.Errorf("invalid shape: %w", err)
	}
	size, ok := ByteSize(dtype, shape)
	if !ok {
		return 0, fmt.Errorf("shape %s overflows", shape)
	}
	if int64(len(data)) != size {
		return 0, fmt.Errorf("payload is %d bytes, %s %s needs %d", len(data), dtype, shape, size)
	}
	return size, nil
}

func newTensor(dtype DType, shape Shape, size int64, owner Owner, region Releaser, data []byte) *Tensor {
	if size == 0 {
		data = nil
	} else {
		data = data[:size:size]
	}
	return &Tensor{
		shape:  shape.Clone(),
		dtype:  dtype,
		size:   size,
		owner:  owner,
		region: region,
		data:   data,
	}
}

// Shape returns the tensor's shape. The returned slice must not be modified.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DType {
	return t.dtype
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.shape)
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int64 {
	n, _ := t.shape.NumElements()
	return n
}

// ByteSize returns the payload size in bytes.
func (t *Tensor) ByteSize() int64 {
	return t.size
}

// Owner returns the ownership variant.
func (t *Tensor) Owner() Owner {
	return t.owner
}

// Data returns the payload bytes. It is nil for empty tensors and after
// the tensor has been released.
func (t *Tensor) Data() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

// Released reports whether Release has been called.
func (t *Tensor) Released() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.released
}

// Release drops the payload. Owned buffers become garbage; borrowed
// tensors give their hold on the region back. Release is idempotent.
func (t *Tensor) Release() error {
	t.mu.Lock()
	region := t.region
	t.data = nil
	t.region = nil
	t.released = true
	t.mu.Unlock()

	if region != nil {
		return region.Release()
	}
	return nil
}

// String returns a short description, e.g. "fp32[2,3] owned".
func (t *Tensor) String() string {
	return fmt.Sprintf("%s%s %s", t.dtype, t.shape, t.owner)
}
