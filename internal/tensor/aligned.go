package tensor

import (
	"encoding/binary"
	"unsafe"
)

// Alignment is the alignment of owned tensor buffers, wide enough for SIMD loads.
const Alignment = 16

// HostLittleEndian reports whether the host stores integers little-endian.
var HostLittleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// AlignedBytes returns a zeroed slice of length n whose first byte is
// Alignment-aligned. The capacity is n rounded up to Alignment.
func AlignedBytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	padded := (n + Alignment - 1) &^ (Alignment - 1)
	buf := make([]byte, padded+Alignment)
	//nolint:gosec // G103: address arithmetic only, the pointer is not retained
	off := int(-uintptr(unsafe.Pointer(&buf[0])) & (Alignment - 1))
	return buf[off : off+n : off+padded]
}

// IsAligned reports whether the first byte of b is aligned to align bytes.
// Empty slices are always aligned.
func IsAligned(b []byte, align int) bool {
	if len(b) == 0 || align <= 1 {
		return true
	}
	//nolint:gosec // G103: address arithmetic only, the pointer is not retained
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(align) == 0
}

// ToHostOrder converts little-endian element data to host order in place.
// It is a no-op on little-endian hosts and for byte-wide types.
func ToHostOrder(dtype DType, data []byte) {
	if HostLittleEndian {
		return
	}
	swapBytes(dtype.Bits()/8, data)
}

func swapBytes(width int, data []byte) {
	switch width {
	case 2:
		for i := 0; i+1 < len(data); i += 2 {
			data[i], data[i+1] = data[i+1], data[i]
		}
	case 4:
		for i := 0; i+3 < len(data); i += 4 {
			data[i], data[i+1], data[i+2], data[i+3] = data[i+3], data[i+2], data[i+1], data[i]
		}
	case 8:
		for i := 0; i+7 < len(data); i += 8 {
			for j := 0; j < 4; j++ {
				data[i+j], data[i+7-j] = data[i+7-j], data[i+j]
			}
		}
	}
}
