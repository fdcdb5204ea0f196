package onnx

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/llmengine/llm-engine/internal/bytesource"
	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/onnx/onnxtest"
	"github.com/llmengine/llm-engine/internal/tensor"
)

func decodeOne(t *testing.T, tn onnxtest.Tensor, opts DecodeOptions) (*bytesource.File, *Record, error) {
	t.Helper()
	src := memSource(onnxtest.NewModel(tn).Encode())
	m, err := Decode(src, opts)
	if err != nil {
		return src, nil, err
	}
	require.Len(t, m.Records, 1)
	return src, m.Records[0], nil
}

func TestRecordRaw(t *testing.T) {
	payload := onnxtest.Int64LE(1, 2, 3, 4, 5, 6)
	src, rec, err := decodeOne(t, onnxtest.Tensor{
		Name: "w", DataType: TensorProtoInt64, Dims: []int64{2, 3}, Raw: payload,
	}, DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "w", rec.Name)
	assert.Equal(t, tensor.Int64, rec.DType)
	assert.Equal(t, tensor.Shape{2, 3}, rec.Shape)

	raw, ok := rec.Locator.(Raw)
	require.True(t, ok, "locator %T", rec.Locator)
	got, err := src.At(raw.Offset, raw.Length)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRecordRawWinsOverTyped(t *testing.T) {
	_, rec, err := decodeOne(t, onnxtest.Tensor{
		Name:     "w",
		DataType: TensorProtoFloat,
		Dims:     []int64{2},
		Raw:      onnxtest.Float32LE(1, 2),
		Floats:   []float32{9, 9, 9}, // wrong count; ignored
	}, DecodeOptions{})
	require.NoError(t, err)
	assert.IsType(t, Raw{}, rec.Locator)
}

func TestRecordEmptyRawFallsBackToTyped(t *testing.T) {
	_, rec, err := decodeOne(t, onnxtest.Tensor{
		Name: "w", DataType: TensorProtoFloat, Dims: []int64{2}, Raw: []byte{}, Floats: []float32{1, 2},
	}, DecodeOptions{})
	require.NoError(t, err)
	inline, ok := rec.Locator.(*Inline)
	require.True(t, ok)
	assert.Equal(t, int64(2), inline.Count)
}

func nativeUint16s(vals ...uint16) []byte {
	out := make([]byte, 0, 2*len(vals))
	for _, v := range vals {
		out = binary.NativeEndian.AppendUint16(out, v)
	}
	return out
}

func TestRecordInlineDecode(t *testing.T) {
	f32 := make([]byte, 0, 12)
	for _, v := range []float32{1.5, -2, 3} {
		f32 = binary.NativeEndian.AppendUint32(f32, math.Float32bits(v))
	}
	i32 := binary.NativeEndian.AppendUint32(nil, uint32(0xffffff85)) // -123
	i32 = binary.NativeEndian.AppendUint32(i32, 70000)
	i64 := binary.NativeEndian.AppendUint64(nil, uint64(1)<<40)
	i64 = binary.NativeEndian.AppendUint64(i64, math.MaxUint64) // -1

	half := float16.Fromfloat32(0.5).Bits()
	bf := uint16(math.Float32bits(2) >> 16)

	tests := []struct {
		name   string
		tensor onnxtest.Tensor
		dtype  tensor.DType
		want   []byte
	}{
		{"fp32", onnxtest.Tensor{DataType: TensorProtoFloat, Dims: []int64{3}, Floats: []float32{1.5, -2, 3}}, tensor.Float32, f32},
		{"int32", onnxtest.Tensor{DataType: TensorProtoInt32, Dims: []int64{2}, Int32s: []int32{-123, 70000}}, tensor.Int32, i32},
		{"int64", onnxtest.Tensor{DataType: TensorProtoInt64, Dims: []int64{2}, Int64s: []int64{1 << 40, -1}}, tensor.Int64, i64},
		{"int8", onnxtest.Tensor{DataType: TensorProtoInt8, Dims: []int64{3}, Int32s: []int32{-1, 127, -128}}, tensor.Int8, []byte{0xff, 0x7f, 0x80}},
		{"uint8", onnxtest.Tensor{DataType: TensorProtoUint8, Dims: []int64{2}, Int32s: []int32{255, 0}}, tensor.Uint8, []byte{0xff, 0}},
		{"bool", onnxtest.Tensor{DataType: TensorProtoBool, Dims: []int64{3}, Int32s: []int32{1, 0, 1}}, tensor.Bool, []byte{1, 0, 1}},
		{"fp16", onnxtest.Tensor{DataType: TensorProtoFloat16, Dims: []int64{1}, Int32s: []int32{int32(half)}}, tensor.Float16, nativeUint16s(half)},
		{"bf16", onnxtest.Tensor{DataType: TensorProtoBfloat16, Dims: []int64{1}, Int32s: []int32{int32(bf)}}, tensor.BFloat16, nativeUint16s(bf)},
		{"scalar", onnxtest.Tensor{DataType: TensorProtoInt64, Int64s: []int64{-1}}, tensor.Int64, binary.NativeEndian.AppendUint64(nil, math.MaxUint64)},
		{"unpacked", onnxtest.Tensor{DataType: TensorProtoInt32, Dims: []int64{2}, Int32s: []int32{-123, 70000}, Unpacked: true}, tensor.Int32, i32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.tensor.Name = tt.name
			src, rec, err := decodeOne(t, tt.tensor, DecodeOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, rec.DType)

			inline, ok := rec.Locator.(*Inline)
			require.True(t, ok, "locator %T", rec.Locator)

			dst := make([]byte, len(tt.want))
			require.NoError(t, inline.DecodeInto(src, rec.DType, dst))
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestRecordQ4(t *testing.T) {
	tn := onnxtest.Tensor{Name: "q", DataType: TensorProtoInt4, Dims: []int64{3}, Raw: []byte{0x21, 0x03}}

	_, _, err := decodeOne(t, tn, DecodeOptions{})
	assert.ErrorIs(t, err, loaderr.ErrUnsupportedDType)

	_, rec, err := decodeOne(t, tn, DecodeOptions{EnableQ4Packed: true})
	require.NoError(t, err)
	assert.Equal(t, tensor.Q4Packed, rec.DType)
	assert.Equal(t, int64(2), rec.Locator.(Raw).Length)

	// One packed byte per int32_data entry.
	tn = onnxtest.Tensor{Name: "q", DataType: TensorProtoUint4, Dims: []int64{4}, Int32s: []int32{0x21, 0x43}}
	src, rec, err := decodeOne(t, tn, DecodeOptions{EnableQ4Packed: true})
	require.NoError(t, err)
	dst := make([]byte, 2)
	require.NoError(t, rec.Locator.(*Inline).DecodeInto(src, rec.DType, dst))
	assert.Equal(t, []byte{0x21, 0x43}, dst)
}

func TestRecordExternal(t *testing.T) {
	_, rec, err := decodeOne(t, onnxtest.Tensor{
		Name:     "e",
		DataType: TensorProtoInt32,
		Dims:     []int64{2},
		External: []onnxtest.KV{
			{Key: "location", Value: "weights.bin"},
			{Key: "offset", Value: "16"},
			{Key: "length", Value: "8"},
			{Key: "checksum", Value: "crc32c:deadbeef"},
			{Key: "basepath", Value: "ignored"},
		},
		Raw: onnxtest.Int32LE(7, 8), // EXTERNAL wins over raw_data
	}, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, External{Location: "weights.bin", Offset: 16, Length: 8, Checksum: "crc32c:deadbeef"}, rec.Locator)

	_, rec, err = decodeOne(t, onnxtest.Tensor{
		Name: "e", DataType: TensorProtoInt32, Dims: []int64{2},
		External: []onnxtest.KV{{Key: "location", Value: "weights.bin"}},
	}, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, External{Location: "weights.bin", Length: -1}, rec.Locator)
}

func TestRecordErrors(t *testing.T) {
	tests := []struct {
		name   string
		tensor onnxtest.Tensor
		kind   error
	}{
		{"raw shape mismatch", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{4}, Raw: make([]byte, 12)}, loaderr.ErrShapeMismatch},
		{"typed shape mismatch", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{4}, Floats: []float32{1}}, loaderr.ErrShapeMismatch},
		{"missing payload", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{1}}, loaderr.ErrShapeMismatch},
		{"negative dim", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{2, -1}, Raw: make([]byte, 8)}, loaderr.ErrShapeMismatch},
		{"rank too high", onnxtest.Tensor{Name: "w", DataType: TensorProtoUint8, Dims: []int64{1, 1, 1, 1, 1, 1, 1, 1, 1}, Raw: []byte{1}}, loaderr.ErrShapeMismatch},
		{"element overflow", onnxtest.Tensor{Name: "w", DataType: TensorProtoUint8, Dims: []int64{1 << 32, 1 << 32}, Raw: []byte{1}}, loaderr.ErrResourceLimit},
		{"unsupported dtype", onnxtest.Tensor{Name: "w", DataType: TensorProtoDouble, Dims: []int64{1}, Raw: make([]byte, 8)}, loaderr.ErrUnsupportedDType},
		{"undefined dtype", onnxtest.Tensor{Name: "w", Dims: []int64{1}, Raw: make([]byte, 4)}, loaderr.ErrUnsupportedDType},
		{"no name", onnxtest.Tensor{DataType: TensorProtoFloat, Raw: make([]byte, 4)}, loaderr.ErrDecode},
		{"bad utf8 name", onnxtest.Tensor{Name: "w\xff", DataType: TensorProtoFloat, Raw: make([]byte, 4)}, loaderr.ErrDecode},
		{"long name", onnxtest.Tensor{Name: strings.Repeat("n", MaxNameLen+1), DataType: TensorProtoFloat, Raw: make([]byte, 4)}, loaderr.ErrDecode},
		{"segmented", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Raw: make([]byte, 4), Segment: true}, loaderr.ErrDecode},
		{"wrong typed field", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{1}, Int64s: []int64{1}}, loaderr.ErrDecode},
		{"bad data location", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Raw: make([]byte, 4), Location: 7}, loaderr.ErrDecode},
		{"external no location", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, External: []onnxtest.KV{{Key: "offset", Value: "0"}}}, loaderr.ErrDecode},
		{"external bad offset", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, External: []onnxtest.KV{{Key: "location", Value: "x"}, {Key: "offset", Value: "-4"}}}, loaderr.ErrDecode},
		{"external bad length", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, External: []onnxtest.KV{{Key: "location", Value: "x"}, {Key: "length", Value: "abc"}}}, loaderr.ErrDecode},
		{"external length mismatch", onnxtest.Tensor{Name: "w", DataType: TensorProtoFloat, Dims: []int64{2}, External: []onnxtest.KV{{Key: "location", Value: "x"}, {Key: "length", Value: "4"}}}, loaderr.ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeOne(t, tt.tensor, DecodeOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			if tt.tensor.Name == "w" {
				assert.Contains(t, err.Error(), `initializer "`+tt.tensor.Name+`"`)
			}
		})
	}
}

func TestRecordZeroExtent(t *testing.T) {
	_, rec, err := decodeOne(t, onnxtest.Tensor{Name: "z", DataType: TensorProtoFloat, Dims: []int64{0, 3}}, DecodeOptions{})
	require.NoError(t, err)
	inline, ok := rec.Locator.(*Inline)
	require.True(t, ok)
	assert.Zero(t, inline.Count)
}

func TestInlineRangeChecks(t *testing.T) {
	tests := []struct {
		name   string
		dtype  int32
		values []int32
	}{
		{"bool", TensorProtoBool, []int32{1, 2}},
		{"fp16", TensorProtoFloat16, []int32{70000}},
		{"int8 high", TensorProtoInt8, []int32{300, 1}},
		{"int8 low", TensorProtoInt8, []int32{1, -200}},
		{"uint8 high", TensorProtoUint8, []int32{256}},
		{"uint8 negative", TensorProtoUint8, []int32{-1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, rec, err := decodeOne(t, onnxtest.Tensor{
				Name: "x", DataType: tt.dtype, Dims: []int64{int64(len(tt.values))}, Int32s: tt.values,
			}, DecodeOptions{})
			require.NoError(t, err)
			size, ok := tensor.ByteSize(rec.DType, rec.Shape)
			require.True(t, ok)
			err = rec.Locator.(*Inline).DecodeInto(src, rec.DType, make([]byte, size))
			assert.ErrorIs(t, err, loaderr.ErrDecode)
		})
	}
}

func TestDTypeFor(t *testing.T) {
	for dt, want := range map[int32]tensor.DType{
		TensorProtoFloat:    tensor.Float32,
		TensorProtoFloat16:  tensor.Float16,
		TensorProtoBfloat16: tensor.BFloat16,
		TensorProtoInt8:     tensor.Int8,
		TensorProtoUint8:    tensor.Uint8,
		TensorProtoInt32:    tensor.Int32,
		TensorProtoInt64:    tensor.Int64,
		TensorProtoBool:     tensor.Bool,
	} {
		got, ok := DTypeFor(dt, false)
		assert.True(t, ok, DataTypeName(dt))
		assert.Equal(t, want, got, DataTypeName(dt))
	}
	for _, dt := range []int32{TensorProtoString, TensorProtoDouble, TensorProtoUint16, TensorProtoComplex64, 99} {
		_, ok := DTypeFor(dt, true)
		assert.False(t, ok, DataTypeName(dt))
	}
}
