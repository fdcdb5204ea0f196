package tensor

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/x448/float16"
)

// view reinterprets the payload as a slice of T without copying.
func view[T any](t *Tensor, want DType) ([]T, error) {
	if t.dtype != want {
		return nil, fmt.Errorf("tensor is %s, not %s", t.dtype, want)
	}
	data := t.Data()
	if len(data) == 0 {
		if t.Released() {
			return nil, fmt.Errorf("tensor has been released")
		}
		return []T{}, nil
	}
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	//nolint:gosec // G103: payload is aligned to the element type and sized by the shape
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n), nil
}

// Float32s returns the payload of an fp32 tensor without copying.
func (t *Tensor) Float32s() ([]float32, error) {
	return view[float32](t, Float32)
}

// Int32s returns the payload of an int32 tensor without copying.
func (t *Tensor) Int32s() ([]int32, error) {
	return view[int32](t, Int32)
}

// Int64s returns the payload of an int64 tensor without copying.
func (t *Tensor) Int64s() ([]int64, error) {
	return view[int64](t, Int64)
}

// Int8s returns the payload of an int8 tensor without copying.
func (t *Tensor) Int8s() ([]int8, error) {
	return view[int8](t, Int8)
}

// Uint16s returns the raw bit patterns of an fp16 or bf16 tensor without copying.
func (t *Tensor) Uint16s() ([]uint16, error) {
	if t.dtype == BFloat16 {
		return view[uint16](t, BFloat16)
	}
	return view[uint16](t, Float16)
}

// Q4Lane returns the 4-bit lane at element index i of a q4_packed tensor.
// Even indices live in the low nibble.
func (t *Tensor) Q4Lane(i int64) (uint8, error) {
	if t.dtype != Q4Packed {
		return 0, fmt.Errorf("tensor is %s, not %s", t.dtype, Q4Packed)
	}
	if i < 0 || i >= t.NumElements() {
		return 0, fmt.Errorf("lane %d out of range [0, %d)", i, t.NumElements())
	}
	data := t.Data()
	if data == nil {
		return 0, fmt.Errorf("tensor has been released")
	}
	b := data[i/2]
	if i%2 == 0 {
		return b & 0x0f, nil
	}
	return b >> 4, nil
}

// AsFloat32 widens the payload into a new []float32. Quantized tensors
// cannot be widened without their scales and are rejected.
func (t *Tensor) AsFloat32() ([]float32, error) {
	if t.dtype == Q4Packed {
		return nil, fmt.Errorf("%s needs dequantization parameters", t.dtype)
	}
	if t.Released() {
		return nil, fmt.Errorf("tensor has been released")
	}
	out := make([]float32, t.NumElements())
	data := t.Data()

	switch t.dtype {
	case Float32:
		src, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		copy(out, src)
	case Float16:
		src, err := t.Uint16s()
		if err != nil {
			return nil, err
		}
		for i, bits := range src {
			out[i] = float16.Frombits(bits).Float32()
		}
	case BFloat16:
		src, err := t.Uint16s()
		if err != nil {
			return nil, err
		}
		for i, bits := range src {
			out[i] = math.Float32frombits(uint32(bits) << 16)
		}
	case Int8:
		for i, b := range data {
			out[i] = float32(int8(b)) //nolint:gosec // G115: reinterpret two's complement
		}
	case Uint8, Bool:
		for i, b := range data {
			out[i] = float32(b)
		}
	case Int32:
		src, err := t.Int32s()
		if err != nil {
			return nil, err
		}
		for i, v := range src {
			out[i] = float32(v)
		}
	case Int64:
		src, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		for i, v := range src {
			out[i] = float32(v)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", t.dtype)
	}
	return out, nil
}
