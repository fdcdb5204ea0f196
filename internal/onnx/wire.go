package onnx

import (
	"encoding/binary"
	"math"

	"github.com/llmengine/llm-engine/internal/loaderr"
)

// Source is the byte source the decoder reads from.
type Source interface {
	At(off, n int64) ([]byte, error)
	Len() int64
	Path() string
}

// Protobuf wire types.
const (
	wireVarint = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	wire64Bit  = 1 // fixed64, sfixed64, double
	wireBytes  = 2 // string, bytes, embedded messages, packed repeated fields
	wire32Bit  = 5 // fixed32, sfixed32, float
)

const maxVarintLen = 10

// decoder is a cursor over the window [pos, end) of a Source. Nested
// messages get their own decoder over a sub-window, so nothing is copied
// until a field value is actually needed.
type decoder struct {
	src Source
	pos int64
	end int64
}

func newDecoder(src Source) *decoder {
	return &decoder{src: src, pos: 0, end: src.Len()}
}

func (d *decoder) more() bool {
	return d.pos < d.end
}

func (d *decoder) errorf(offset int64, format string, args ...any) error {
	return loaderr.New(loaderr.ErrDecode, format, args...).In(d.src.Path()).At(offset)
}

// readTag reads a protobuf field tag.
func (d *decoder) readTag() (fieldNum, wireType int, err error) {
	start := d.pos
	tag, err := d.readVarint()
	if err != nil {
		return 0, 0, err
	}
	if tag>>3 == 0 || tag>>3 > math.MaxInt32 {
		return 0, 0, d.errorf(start, "invalid field number %d", tag>>3)
	}
	return int(tag >> 3), int(tag & 0x7), nil
}

// readVarint reads a base-128 varint.
func (d *decoder) readVarint() (uint64, error) {
	start := d.pos
	n := min(int64(maxVarintLen), d.end-d.pos)
	if n <= 0 {
		return 0, d.errorf(start, "truncated varint")
	}
	buf, err := d.src.At(d.pos, n)
	if err != nil {
		return 0, err
	}

	var result uint64
	var shift uint
	for i, b := range buf {
		if i == maxVarintLen-1 && b > 1 {
			return 0, d.errorf(start, "varint overflow")
		}
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			d.pos += int64(i + 1)
			return result, nil
		}
		shift += 7
	}
	if len(buf) == maxVarintLen {
		return 0, d.errorf(start, "varint overflow")
	}
	return 0, d.errorf(start, "truncated varint")
}

// readInt64 reads a varint-encoded int64 (two's complement).
func (d *decoder) readInt64() (int64, error) {
	v, err := d.readVarint()
	return int64(v), err //nolint:gosec // G115: protobuf int64 is two's complement
}

// readInt32 reads a varint-encoded int32.
func (d *decoder) readInt32() (int32, error) {
	v, err := d.readVarint()
	return int32(v), err //nolint:gosec // G115: protobuf int32 is sign-extended to 64 bits
}

// readSpan reads a length prefix and returns the window it covers,
// advancing past it.
func (d *decoder) readSpan() (Span, error) {
	start := d.pos
	length, err := d.readVarint()
	if err != nil {
		return Span{}, err
	}
	if remaining := d.end - d.pos; length > uint64(remaining) { //nolint:gosec // G115: remaining >= 0
		return Span{}, d.errorf(start, "length %d exceeds remaining input %d", length, remaining)
	}
	s := Span{Offset: d.pos, Length: int64(length)} //nolint:gosec // G115: bounded by remaining
	d.pos = s.End()
	return s, nil
}

// readBytes reads a length-delimited field. The result aliases the source.
func (d *decoder) readBytes() ([]byte, error) {
	s, err := d.readSpan()
	if err != nil {
		return nil, err
	}
	return d.src.At(s.Offset, s.Length)
}

// readString reads a length-delimited string (copied).
func (d *decoder) readString() (string, error) {
	data, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sub returns a decoder over the next length-delimited field.
func (d *decoder) sub() (*decoder, error) {
	s, err := d.readSpan()
	if err != nil {
		return nil, err
	}
	return &decoder{src: d.src, pos: s.Offset, end: s.End()}, nil
}

func (d *decoder) advance(n int64) error {
	if d.end-d.pos < n {
		return d.errorf(d.pos, "truncated %d-byte field", n)
	}
	d.pos += n
	return nil
}

// skipField skips a field based on wire type.
func (d *decoder) skipField(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := d.readVarint()
		return err
	case wire64Bit:
		return d.advance(8)
	case wireBytes:
		_, err := d.readSpan()
		return err
	case wire32Bit:
		return d.advance(4)
	default:
		return d.errorf(d.pos, "unexpected wire type %d", wireType)
	}
}

// expect fails when a known field arrives with the wrong wire type.
func (d *decoder) expect(fieldNum, got int, want ...int) error {
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	return d.errorf(d.pos, "field %d: unexpected wire type %d", fieldNum, got)
}

// countVarints counts the varints packed into spans. Every varint ends
// with a byte whose high bit is clear.
func countVarints(src Source, spans []Span) (int64, error) {
	var n int64
	for _, s := range spans {
		if s.Length == 0 {
			continue
		}
		data, err := src.At(s.Offset, s.Length)
		if err != nil {
			return 0, err
		}
		for _, b := range data {
			if b < 0x80 {
				n++
			}
		}
		if data[len(data)-1] >= 0x80 {
			return 0, loaderr.New(loaderr.ErrDecode, "truncated varint in packed field").
				In(src.Path()).At(s.End())
		}
	}
	return n, nil
}

// countFixed32 counts the 4-byte elements packed into spans.
func countFixed32(src Source, spans []Span) (int64, error) {
	var total int64
	for _, s := range spans {
		if s.Length%4 != 0 {
			return 0, loaderr.New(loaderr.ErrDecode, "packed fixed32 field of %d bytes", s.Length).
				In(src.Path()).At(s.Offset)
		}
		total += s.Length / 4
	}
	return total, nil
}

// eachVarint calls fn for every varint packed into spans.
func eachVarint(src Source, spans []Span, fn func(uint64)) error {
	for _, s := range spans {
		data, err := src.At(s.Offset, s.Length)
		if err != nil {
			return err
		}
		for i := 0; i < len(data); {
			v, n := binary.Uvarint(data[i:])
			if n <= 0 {
				return loaderr.New(loaderr.ErrDecode, "malformed varint in packed field").
					In(src.Path()).At(s.Offset + int64(i))
			}
			fn(v)
			i += n
		}
	}
	return nil
}

// eachFixed32 calls fn for every little-endian 4-byte element in spans.
func eachFixed32(src Source, spans []Span, fn func(uint32)) error {
	for _, s := range spans {
		data, err := src.At(s.Offset, s.Length)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(data); i += 4 {
			fn(binary.LittleEndian.Uint32(data[i:]))
		}
	}
	return nil
}
