// Package tensor provides the typed, shape-annotated tensor views produced by
// model loading.
package tensor

import (
	"fmt"
	"math/bits"
	"strings"
)

// DType represents the element type of a tensor.
type DType int

// Supported data types for tensors.
const (
	Undefined DType = iota
	Float32
	Float16
	BFloat16
	Int8
	Uint8
	Int32
	Int64
	Bool
	Q4Packed // two 4-bit lanes per byte, low lane first
)

// AllDTypes lists every supported data type in declaration order.
var AllDTypes = []DType{Float32, Float16, BFloat16, Int8, Uint8, Int32, Int64, Bool, Q4Packed}

// Bits returns the storage width of one element in bits.
func (dt DType) Bits() int {
	switch dt {
	case Float32, Int32:
		return 32
	case Float16, BFloat16:
		return 16
	case Int8, Uint8, Bool:
		return 8
	case Int64:
		return 64
	case Q4Packed:
		return 4
	default:
		return 0
	}
}

// Alignment returns the natural alignment of the element type in bytes.
func (dt DType) Alignment() int {
	if b := dt.Bits() / 8; b > 1 {
		return b
	}
	return 1
}

// Valid reports whether dt is one of the supported types.
func (dt DType) Valid() bool {
	return dt.Bits() != 0
}

// String returns a human-readable name for the data type.
func (dt DType) String() string {
	switch dt {
	case Float32:
		return "fp32"
	case Float16:
		return "fp16"
	case BFloat16:
		return "bf16"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case Q4Packed:
		return "q4_packed"
	default:
		return "undefined"
	}
}

// ParseDType parses a data type name. Common aliases such as "float32"
// and "bfloat16" are accepted.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fp32", "f32", "float32", "float":
		return Float32, nil
	case "fp16", "f16", "float16", "half":
		return Float16, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	case "int8", "i8":
		return Int8, nil
	case "uint8", "u8":
		return Uint8, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	case "bool":
		return Bool, nil
	case "q4_packed", "q4", "int4":
		return Q4Packed, nil
	default:
		return Undefined, fmt.Errorf("unknown dtype %q", s)
	}
}

// ByteSize returns the number of bytes needed to store n elements,
// rounding sub-byte types up. ok is false when the size overflows int64.
func (dt DType) ByteSize(n int64) (size int64, ok bool) {
	hi, lo := bits.Mul64(uint64(n), uint64(dt.Bits())) //nolint:gosec // G115: n is non-negative
	if hi != 0 || lo > (1<<63-1)-7 {
		return 0, false
	}
	return int64((lo + 7) / 8), true //nolint:gosec // G115: bounded above
}

// DTypeSet is a set of data types. The zero value is empty.
type DTypeSet uint16

// NewDTypeSet returns a set containing the given types.
func NewDTypeSet(dts ...DType) DTypeSet {
	var s DTypeSet
	for _, dt := range dts {
		s = s.With(dt)
	}
	return s
}

// With returns s plus dt.
func (s DTypeSet) With(dt DType) DTypeSet {
	return s | 1<<uint(dt) //nolint:gosec // G115: DType is small and non-negative
}

// Has reports whether dt is in the set.
func (s DTypeSet) Has(dt DType) bool {
	return s&(1<<uint(dt)) != 0 //nolint:gosec // G115: DType is small and non-negative
}

// Empty reports whether the set has no members.
func (s DTypeSet) Empty() bool {
	return s == 0
}

// Types returns the members in declaration order.
func (s DTypeSet) Types() []DType {
	var out []DType
	for _, dt := range AllDTypes {
		if s.Has(dt) {
			out = append(out, dt)
		}
	}
	return out
}

// String returns the members as a comma-separated list.
func (s DTypeSet) String() string {
	names := make([]string, 0, len(AllDTypes))
	for _, dt := range s.Types() {
		names = append(names, dt.String())
	}
	return strings.Join(names, ",")
}

// Set parses a comma-separated list of dtype names, replacing the set.
// It implements flag.Value.
func (s *DTypeSet) Set(v string) error {
	var out DTypeSet
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		dt, err := ParseDType(part)
		if err != nil {
			return err
		}
		out = out.With(dt)
	}
	*s = out
	return nil
}
