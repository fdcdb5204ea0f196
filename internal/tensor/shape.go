package tensor

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// MaxRank is the highest tensor rank accepted by the loader.
const MaxRank = 8

// Shape represents the dimensions of a tensor. A nil or empty shape is a scalar.
type Shape []int64

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements. A scalar has one
// element and any zero extent yields zero. ok is false on overflow or
// when an extent is negative.
func (s Shape) NumElements() (n int64, ok bool) {
	n = 1
	for _, dim := range s {
		if dim < 0 {
			return 0, false
		}
		if dim == 0 {
			return 0, true
		}
	}
	for _, dim := range s {
		hi, lo := bits.Mul64(uint64(n), uint64(dim)) //nolint:gosec // G115: both operands checked non-negative
		if hi != 0 || lo > 1<<63-1 {
			return 0, false
		}
		n = int64(lo) //nolint:gosec // G115: bounded above
	}
	return n, true
}

// Validate checks the rank limit and that no extent is negative.
// Zero extents are valid and describe an empty tensor.
func (s Shape) Validate() error {
	if len(s) > MaxRank {
		return fmt.Errorf("rank %d exceeds maximum %d", len(s), MaxRank)
	}
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String formats the shape as [d0,d1,...].
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.FormatInt(dim, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ByteSize returns the payload size of a tensor with the given type and
// shape. ok is false when the shape is invalid or the size overflows.
func ByteSize(dt DType, s Shape) (size int64, ok bool) {
	n, ok := s.NumElements()
	if !ok {
		return 0, false
	}
	return dt.ByteSize(n)
}
