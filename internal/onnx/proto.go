package onnx

// ONNX protobuf data structures (hand-written subset).
//
// Only the messages needed to recover initializers and version metadata
// are modelled. Payload-bearing fields are kept as Spans into the byte
// source instead of decoded values.

// Span is a window [Offset, Offset+Length) of the model file.
type Span struct {
	Offset int64
	Length int64
}

// End returns the offset one past the last byte.
func (s Span) End() int64 {
	return s.Offset + s.Length
}

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g., 7, 8, 9)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Framework name (e.g., "pytorch", "tf")
	ProducerVersion string              // Framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph. Nodes and value infos are skipped.
type GraphProto struct {
	Name               string        // Graph name
	Initializers       []TensorProto // Weight tensors
	SparseInitializers int           // Count only; sparse weights are not realized
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name         string              // Tensor name
	DataType     int32               // Element data type
	Dims         []int64             // Tensor shape
	RawData      *Span               // raw_data window, nil when absent
	FloatData    []Span              // float_data, fixed32 elements
	Int32Data    []Span              // int32_data, varint elements
	Int64Data    []Span              // int64_data, varint elements
	ExternalData []StringStringEntry // external_data key/value pairs
	DataLocation int32               // DataLocationDefault or DataLocationExternal
	Segmented    bool                // segment field present
	Offset       int64               // File offset of the message body
}

// OperatorSetID identifies opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1  // float32
	TensorProtoUint8      = 2  // uint8
	TensorProtoInt8       = 3  // int8
	TensorProtoUint16     = 4  // uint16
	TensorProtoInt16      = 5  // int16
	TensorProtoInt32      = 6  // int32
	TensorProtoInt64      = 7  // int64
	TensorProtoString     = 8  // string
	TensorProtoBool       = 9  // bool
	TensorProtoFloat16    = 10 // float16
	TensorProtoDouble     = 11 // float64
	TensorProtoUint32     = 12 // uint32
	TensorProtoUint64     = 13 // uint64
	TensorProtoComplex64  = 14 // complex64
	TensorProtoComplex128 = 15 // complex128
	TensorProtoBfloat16   = 16 // bfloat16
	TensorProtoUint4      = 21 // uint4, packed two per byte
	TensorProtoInt4       = 22 // int4, packed two per byte
)

// TensorProto.DataLocation values.
const (
	DataLocationDefault  = 0
	DataLocationExternal = 1
)

// Field numbers of the messages above.
const (
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelDomain          = 4
	fieldModelModelVersion    = 5
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8
	fieldModelMetadataProps   = 14

	fieldGraphName              = 2
	fieldGraphInitializer       = 5
	fieldGraphSparseInitializer = 15

	fieldTensorDims         = 1
	fieldTensorDataType     = 2
	fieldTensorSegment      = 3
	fieldTensorFloatData    = 4
	fieldTensorInt32Data    = 5
	fieldTensorInt64Data    = 7
	fieldTensorName         = 8
	fieldTensorRawData      = 9
	fieldTensorExternalData = 13
	fieldTensorDataLocation = 14

	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2

	fieldEntryKey   = 1
	fieldEntryValue = 2
)

var dataTypeNames = map[int32]string{
	TensorProtoUndefined:  "UNDEFINED",
	TensorProtoFloat:      "FLOAT",
	TensorProtoUint8:      "UINT8",
	TensorProtoInt8:       "INT8",
	TensorProtoUint16:     "UINT16",
	TensorProtoInt16:      "INT16",
	TensorProtoInt32:      "INT32",
	TensorProtoInt64:      "INT64",
	TensorProtoString:     "STRING",
	TensorProtoBool:       "BOOL",
	TensorProtoFloat16:    "FLOAT16",
	TensorProtoDouble:     "DOUBLE",
	TensorProtoUint32:     "UINT32",
	TensorProtoUint64:     "UINT64",
	TensorProtoComplex64:  "COMPLEX64",
	TensorProtoComplex128: "COMPLEX128",
	TensorProtoBfloat16:   "BFLOAT16",
	TensorProtoUint4:      "UINT4",
	TensorProtoInt4:       "INT4",
}

// DataTypeName returns the ONNX enum name of a TensorProto data type.
func DataTypeName(dt int32) string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return "UNKNOWN"
}
