package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/tensor"
)

// MaxNameLen is the longest initializer name accepted.
const MaxNameLen = 4096

// Record is one initializer as described by the container: its metadata
// and where its payload lives. Nothing has been read or allocated yet.
type Record struct {
	Name     string
	Shape    tensor.Shape
	DType    tensor.DType
	DataType int32   // ONNX TensorProto.DataType
	Offset   int64   // File offset of the TensorProto body
	Locator  Locator // Raw, *Inline or External
}

// Locator says where a record's payload lives.
type Locator interface {
	locator()
}

// Raw is a payload stored as raw_data inside the model file.
type Raw struct {
	Offset int64
	Length int64
}

// External is a payload stored in a sidecar file next to the model.
type External struct {
	Location string
	Offset   int64
	Length   int64 // -1 when the length key is absent
	Checksum string
}

// Inline is a payload stored in one of the typed repeated fields. The
// elements are decoded only when the realizer asks for them.
type Inline struct {
	Field int32 // fieldTensorFloatData, fieldTensorInt32Data or fieldTensorInt64Data
	Spans []Span
	Count int64 // number of encoded elements
}

func (Raw) locator()      {}
func (External) locator() {}
func (*Inline) locator()  {}

// External-data keys.
const (
	externalLocation = "location"
	externalOffset   = "offset"
	externalLength   = "length"
	externalChecksum = "checksum"
)

// DTypeFor maps an ONNX data type to a tensor dtype. 4-bit types are only
// recognized when q4 is set.
func DTypeFor(dataType int32, q4 bool) (tensor.DType, bool) {
	switch dataType {
	case TensorProtoFloat:
		return tensor.Float32, true
	case TensorProtoFloat16:
		return tensor.Float16, true
	case TensorProtoBfloat16:
		return tensor.BFloat16, true
	case TensorProtoInt8:
		return tensor.Int8, true
	case TensorProtoUint8:
		return tensor.Uint8, true
	case TensorProtoInt32:
		return tensor.Int32, true
	case TensorProtoInt64:
		return tensor.Int64, true
	case TensorProtoBool:
		return tensor.Bool, true
	case TensorProtoUint4, TensorProtoInt4:
		if q4 {
			return tensor.Q4Packed, true
		}
	}
	return tensor.Undefined, false
}

// NewRecord validates a parsed TensorProto and turns it into a Record.
func NewRecord(src Source, tp *TensorProto, q4 bool) (*Record, error) {
	fail := func(kind error, format string, args ...any) error {
		return loaderr.New(kind, format, args...).For(tp.Name).In(src.Path()).At(tp.Offset)
	}

	if err := validateName(tp.Name); err != nil {
		return nil, fail(loaderr.ErrDecode, "%v", err)
	}
	if tp.Segmented {
		return nil, fail(loaderr.ErrDecode, "segmented tensors are not supported")
	}

	dtype, ok := DTypeFor(tp.DataType, q4)
	if !ok {
		return nil, fail(loaderr.ErrUnsupportedDType, "data type %s (%d)", DataTypeName(tp.DataType), tp.DataType)
	}

	shape := tensor.Shape(tp.Dims)
	if err := shape.Validate(); err != nil {
		return nil, fail(loaderr.ErrShapeMismatch, "%v", err)
	}
	elements, ok := shape.NumElements()
	if !ok {
		return nil, fail(loaderr.ErrResourceLimit, "shape %s overflows int64", shape)
	}
	size, ok := tensor.ByteSize(dtype, shape)
	if !ok {
		return nil, fail(loaderr.ErrResourceLimit, "%s%s overflows int64 bytes", dtype, shape)
	}

	rec := &Record{
		Name:     tp.Name,
		Shape:    shape,
		DType:    dtype,
		DataType: tp.DataType,
		Offset:   tp.Offset,
	}

	switch {
	case tp.DataLocation == DataLocationExternal:
		ext, err := parseExternal(tp.ExternalData)
		if err != nil {
			return nil, fail(loaderr.ErrDecode, "%v", err)
		}
		if ext.Length >= 0 && ext.Length != size {
			return nil, fail(loaderr.ErrShapeMismatch,
				"external length %d, %s%s needs %d bytes", ext.Length, dtype, shape, size)
		}
		rec.Locator = ext
	case tp.DataLocation != DataLocationDefault:
		return nil, fail(loaderr.ErrDecode, "unknown data_location %d", tp.DataLocation)
	case tp.RawData != nil && tp.RawData.Length > 0:
		if tp.RawData.Length != size {
			return nil, fail(loaderr.ErrShapeMismatch,
				"raw_data is %d bytes, %s%s needs %d", tp.RawData.Length, dtype, shape, size)
		}
		rec.Locator = Raw{Offset: tp.RawData.Offset, Length: tp.RawData.Length}
	default:
		inline, err := newInline(src, tp, dtype)
		if err != nil {
			return nil, loaderr.Annotate(err, tp.Name, src.Path())
		}
		want := elements
		if dtype == tensor.Q4Packed {
			want = size
		}
		if inline.Count != want {
			return nil, fail(loaderr.ErrShapeMismatch,
				"payload holds %d elements, %s%s needs %d", inline.Count, dtype, shape, want)
		}
		rec.Locator = inline
	}
	return rec, nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("initializer has no name")
	case len(name) > MaxNameLen:
		return fmt.Errorf("name length %d exceeds %d", len(name), MaxNameLen)
	case !utf8.ValidString(name):
		return errors.New("name is not valid UTF-8")
	case strings.ContainsRune(name, 0):
		return errors.New("name contains a null byte")
	}
	return nil
}

func parseExternal(entries []StringStringEntry) (External, error) {
	ext := External{Length: -1}
	for _, e := range entries {
		switch e.Key {
		case externalLocation:
			ext.Location = e.Value
		case externalOffset:
			v, err := strconv.ParseInt(e.Value, 10, 64)
			if err != nil || v < 0 {
				return External{}, fmt.Errorf("invalid external offset %q", e.Value)
			}
			ext.Offset = v
		case externalLength:
			v, err := strconv.ParseInt(e.Value, 10, 64)
			if err != nil || v < 0 {
				return External{}, fmt.Errorf("invalid external length %q", e.Value)
			}
			ext.Length = v
		case externalChecksum:
			ext.Checksum = e.Value
		}
	}
	if ext.Location == "" {
		return External{}, errors.New("external data has no location")
	}
	return ext, nil
}

// typedField returns the typed repeated field that carries dtype values.
// FP16 and BF16 travel as bit patterns in int32_data; 4-bit types carry
// one packed byte per int32_data entry.
func typedField(dtype tensor.DType) int32 {
	switch dtype {
	case tensor.Float32:
		return fieldTensorFloatData
	case tensor.Int64:
		return fieldTensorInt64Data
	default:
		return fieldTensorInt32Data
	}
}

func newInline(src Source, tp *TensorProto, dtype tensor.DType) (*Inline, error) {
	fields := [...]struct {
		num   int32
		spans []Span
	}{
		{fieldTensorFloatData, tp.FloatData},
		{fieldTensorInt32Data, tp.Int32Data},
		{fieldTensorInt64Data, tp.Int64Data},
	}
	inline := &Inline{Field: typedField(dtype)}
	for _, f := range fields {
		if f.num == inline.Field {
			inline.Spans = f.spans
		}
	}

	if len(inline.Spans) == 0 {
		for _, f := range fields {
			if f.num != inline.Field && len(f.spans) > 0 {
				return nil, loaderr.New(loaderr.ErrDecode, "%s payload stored in %s",
					dtype, fieldName(f.num)).At(f.spans[0].Offset)
			}
		}
		return inline, nil
	}

	var err error
	if inline.Field == fieldTensorFloatData {
		inline.Count, err = countFixed32(src, inline.Spans)
	} else {
		inline.Count, err = countVarints(src, inline.Spans)
	}
	if err != nil {
		return nil, err
	}
	return inline, nil
}

func fieldName(field int32) string {
	switch field {
	case fieldTensorFloatData:
		return "float_data"
	case fieldTensorInt32Data:
		return "int32_data"
	case fieldTensorInt64Data:
		return "int64_data"
	}
	return "field " + strconv.Itoa(int(field))
}

// DecodeInto writes the inline elements into dst in host byte order,
// narrowing int32_data values to the dtype width. dst must be exactly the
// tensor's byte size.
func (in *Inline) DecodeInto(src Source, dtype tensor.DType, dst []byte) error {
	order := binary.NativeEndian
	i := 0

	if in.Field == fieldTensorFloatData {
		return eachFixed32(src, in.Spans, func(v uint32) {
			order.PutUint32(dst[i:], v)
			i += 4
		})
	}

	var rangeErr error
	err := eachVarint(src, in.Spans, func(v uint64) {
		switch dtype {
		case tensor.Int64:
			order.PutUint64(dst[i:], v)
			i += 8
		case tensor.Int32:
			order.PutUint32(dst[i:], uint32(v)) //nolint:gosec // G115: int32 sign-extended on the wire
			i += 4
		case tensor.Float16, tensor.BFloat16:
			if v > math.MaxUint16 && rangeErr == nil {
				rangeErr = loaderr.New(loaderr.ErrDecode, "%s element %d out of range: %d", dtype, i/2, v)
			}
			order.PutUint16(dst[i:], uint16(v)) //nolint:gosec // G115: checked above
			i += 2
		case tensor.Bool:
			if v > 1 && rangeErr == nil {
				rangeErr = loaderr.New(loaderr.ErrDecode, "bool element %d out of range: %d", i, v)
			}
			dst[i] = byte(v)
			i++
		case tensor.Int8:
			if x := int64(v); (x < math.MinInt8 || x > math.MaxInt8) && rangeErr == nil { //nolint:gosec // G115: sign-extended int32
				rangeErr = loaderr.New(loaderr.ErrDecode, "int8 element %d out of range: %d", i, x)
			}
			dst[i] = byte(v)
			i++
		default: // uint8, q4 packed: one byte per element
			if v > math.MaxUint8 && rangeErr == nil {
				rangeErr = loaderr.New(loaderr.ErrDecode, "%s element %d out of range: %d", dtype, i, int64(v)) //nolint:gosec // G115: report as signed
			}
			dst[i] = byte(v)
			i++
		}
	})
	if err != nil {
		return err
	}
	return rangeErr
}
