// Package onnxtest builds synthetic ONNX files for tests.
package onnxtest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Wire types.
const (
	WireVarint = 0
	Wire64Bit  = 1
	WireBytes  = 2
	Wire32Bit  = 5
)

// Builder appends protobuf wire data.
type Builder struct {
	data []byte
}

// Bytes returns the encoded message.
func (b *Builder) Bytes() []byte {
	return b.data
}

// Append adds pre-encoded bytes verbatim.
func (b *Builder) Append(data ...byte) *Builder {
	b.data = append(b.data, data...)
	return b
}

// Tag writes a field tag.
func (b *Builder) Tag(fieldNum, wireType int) *Builder {
	return b.Varint(uint64(fieldNum<<3 | wireType)) //nolint:gosec // G115: test fixtures use small field numbers
}

// Varint writes a raw base-128 varint.
func (b *Builder) Varint(v uint64) *Builder {
	b.data = binary.AppendUvarint(b.data, v)
	return b
}

// Int writes a varint field.
func (b *Builder) Int(fieldNum int, v int64) *Builder {
	return b.Tag(fieldNum, WireVarint).Varint(uint64(v)) //nolint:gosec // G115: two's complement on the wire
}

// Fixed32 writes a fixed32 field.
func (b *Builder) Fixed32(fieldNum int, v uint32) *Builder {
	b.Tag(fieldNum, Wire32Bit)
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
	return b
}

// Fixed64 writes a fixed64 field.
func (b *Builder) Fixed64(fieldNum int, v uint64) *Builder {
	b.Tag(fieldNum, Wire64Bit)
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
	return b
}

// Blob writes a length-delimited field.
func (b *Builder) Blob(fieldNum int, data []byte) *Builder {
	b.Tag(fieldNum, WireBytes).Varint(uint64(len(data)))
	b.data = append(b.data, data...)
	return b
}

// String writes a string field.
func (b *Builder) String(fieldNum int, s string) *Builder {
	return b.Blob(fieldNum, []byte(s))
}

// Message writes an embedded message field.
func (b *Builder) Message(fieldNum int, m *Builder) *Builder {
	return b.Blob(fieldNum, m.Bytes())
}

// Opset is one opset_import entry.
type Opset struct {
	Domain  string
	Version int64
}

// KV is one external_data or metadata_props entry.
type KV struct {
	Key   string
	Value string
}

// Tensor describes an initializer. Nil payload fields are omitted.
type Tensor struct {
	Name     string
	DataType int32
	Dims     []int64
	Raw      []byte // raw_data; a non-nil empty slice is written as an empty field
	Floats   []float32
	Int32s   []int32
	Int64s   []int64
	Unpacked bool // write typed fields one element per tag

	External []KV // external_data; sets data_location = EXTERNAL
	Location int32
	Segment  bool
}

// Encode returns the TensorProto body.
func (t Tensor) Encode() []byte {
	b := &Builder{}
	if len(t.Dims) > 0 {
		dims := &Builder{}
		for _, d := range t.Dims {
			dims.Varint(uint64(d)) //nolint:gosec // G115: negative dims are encoded as ten-byte varints
		}
		b.Blob(1, dims.Bytes())
	}
	if t.DataType != 0 {
		b.Int(2, int64(t.DataType))
	}
	if t.Segment {
		b.Message(3, (&Builder{}).Int(1, 0).Int(2, 1))
	}
	if t.Floats != nil {
		if t.Unpacked {
			for _, f := range t.Floats {
				b.Fixed32(4, math.Float32bits(f))
			}
		} else {
			packed := &Builder{}
			for _, f := range t.Floats {
				packed.data = binary.LittleEndian.AppendUint32(packed.data, math.Float32bits(f))
			}
			b.Blob(4, packed.Bytes())
		}
	}
	if t.Int32s != nil {
		writeInts(b, 5, t.Unpacked, len(t.Int32s), func(i int) int64 { return int64(t.Int32s[i]) })
	}
	if t.Int64s != nil {
		writeInts(b, 7, t.Unpacked, len(t.Int64s), func(i int) int64 { return t.Int64s[i] })
	}
	if t.Name != "" {
		b.String(8, t.Name)
	}
	if t.Raw != nil {
		b.Blob(9, t.Raw)
	}
	for _, kv := range t.External {
		b.Message(13, (&Builder{}).String(1, kv.Key).String(2, kv.Value))
	}
	location := t.Location
	if location == 0 && t.External != nil {
		location = 1
	}
	if location != 0 {
		b.Int(14, int64(location))
	}
	return b.Bytes()
}

func writeInts(b *Builder, fieldNum int, unpacked bool, n int, at func(int) int64) {
	if unpacked {
		for i := range n {
			b.Int(fieldNum, at(i))
		}
		return
	}
	packed := &Builder{}
	for i := range n {
		packed.Varint(uint64(at(i))) //nolint:gosec // G115: two's complement on the wire
	}
	b.Blob(fieldNum, packed.Bytes())
}

// Model describes a ModelProto. Zero-valued fields are omitted.
type Model struct {
	IRVersion       int64
	Opsets          []Opset
	ProducerName    string
	ProducerVersion string
	GraphName       string
	Metadata        []KV
	Tensors         []Tensor
	NoGraph         bool
}

// NewModel returns a model with IR version 8, default opset 17 and the
// given initializers.
func NewModel(tensors ...Tensor) Model {
	return Model{
		IRVersion:    8,
		Opsets:       []Opset{{Domain: "", Version: 17}},
		ProducerName: "onnxtest",
		GraphName:    "main",
		Tensors:      tensors,
	}
}

// Encode returns the serialized ModelProto.
func (m Model) Encode() []byte {
	b := &Builder{}
	if m.IRVersion != 0 {
		b.Int(1, m.IRVersion)
	}
	if m.ProducerName != "" {
		b.String(2, m.ProducerName)
	}
	if m.ProducerVersion != "" {
		b.String(3, m.ProducerVersion)
	}
	// doc_string, skipped by the decoder
	b.String(6, "synthetic test model")
	if !m.NoGraph {
		graph := &Builder{}
		// A node, skipped by the decoder.
		graph.Message(1, (&Builder{}).String(1, "x").String(2, "y").String(4, "Relu"))
		if m.GraphName != "" {
			graph.String(2, m.GraphName)
		}
		for _, t := range m.Tensors {
			graph.Blob(5, t.Encode())
		}
		b.Message(7, graph)
	}
	for _, o := range m.Opsets {
		b.Message(8, (&Builder{}).String(1, o.Domain).Int(2, o.Version))
	}
	for _, kv := range m.Metadata {
		b.Message(14, (&Builder{}).String(1, kv.Key).String(2, kv.Value))
	}
	return b.Bytes()
}

// Float32LE encodes vals as little-endian IEEE-754.
func Float32LE(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// Int32LE encodes vals as little-endian int32.
func Int32LE(vals ...int32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, uint32(v)) //nolint:gosec // G115: bit pattern
	}
	return out
}

// Int64LE encodes vals as little-endian int64.
func Int64LE(vals ...int64) []byte {
	out := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, uint64(v)) //nolint:gosec // G115: bit pattern
	}
	return out
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}
