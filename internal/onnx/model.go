package onnx

import (
	"github.com/llmengine/llm-engine/internal/loaderr"
)

// Supported version window.
const (
	MinIRVersion    = 3
	MaxIRVersion    = 11
	MinOpsetVersion = 1
	MaxOpsetVersion = 23
)

// DecodeOptions controls container decoding.
type DecodeOptions struct {
	// EnableQ4Packed maps the 4-bit ONNX types (UINT4, INT4) to Q4Packed.
	EnableQ4Packed bool
}

// Model is the decoded envelope of an ONNX file: version metadata and one
// Record per initializer, in graph order.
type Model struct {
	IRVersion       int64
	OpsetVersion    int64            // default-domain opset
	Opsets          map[string]int64 // domain -> version, "" for the default domain
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	GraphName       string
	Metadata        map[string]string

	// SparseInitializers counts sparse_initializer entries, which are
	// skipped.
	SparseInitializers int

	Records []*Record
}

// Decode parses src and builds the initializer records. The version
// checks run before any initializer is inspected.
func Decode(src Source, opts DecodeOptions) (*Model, error) {
	proto, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return newModel(src, proto, opts)
}

func newModel(src Source, proto *ModelProto, opts DecodeOptions) (*Model, error) {
	m := &Model{
		IRVersion:       proto.IRVersion,
		Opsets:          make(map[string]int64, len(proto.OpsetImport)),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		Domain:          proto.Domain,
		ModelVersion:    proto.ModelVersion,
		Metadata:        make(map[string]string, len(proto.MetadataProps)),
	}

	if m.IRVersion < MinIRVersion || m.IRVersion > MaxIRVersion {
		return nil, loaderr.New(loaderr.ErrUnsupportedIRVersion,
			"ir_version %d outside [%d, %d]", m.IRVersion, MinIRVersion, MaxIRVersion).In(src.Path())
	}

	for _, opset := range proto.OpsetImport {
		domain := opset.Domain
		if domain == "ai.onnx" {
			domain = ""
		}
		m.Opsets[domain] = opset.Version
	}
	version, ok := m.Opsets[""]
	if !ok {
		return nil, loaderr.New(loaderr.ErrUnsupportedOpset, "no default-domain opset import").In(src.Path())
	}
	if version < MinOpsetVersion || version > MaxOpsetVersion {
		return nil, loaderr.New(loaderr.ErrUnsupportedOpset,
			"opset %d outside [%d, %d]", version, MinOpsetVersion, MaxOpsetVersion).In(src.Path())
	}
	m.OpsetVersion = version

	for _, prop := range proto.MetadataProps {
		m.Metadata[prop.Key] = prop.Value
	}

	if proto.Graph == nil {
		return m, nil
	}
	m.GraphName = proto.Graph.Name
	m.SparseInitializers = proto.Graph.SparseInitializers

	m.Records = make([]*Record, 0, len(proto.Graph.Initializers))
	for i := range proto.Graph.Initializers {
		rec, err := NewRecord(src, &proto.Graph.Initializers[i], opts.EnableQ4Packed)
		if err != nil {
			return nil, err
		}
		m.Records = append(m.Records, rec)
	}
	return m, nil
}
