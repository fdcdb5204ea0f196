package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/onnx/onnxtest"
)

func TestDecodeModelInfo(t *testing.T) {
	m := onnxtest.NewModel(
		onnxtest.Tensor{Name: "b", DataType: TensorProtoFloat, Dims: []int64{1}, Raw: onnxtest.Float32LE(1)},
		onnxtest.Tensor{Name: "a", DataType: TensorProtoInt64, Int64s: []int64{7}},
	)
	m.ProducerVersion = "1.0"
	m.Opsets = []onnxtest.Opset{{Domain: "ai.onnx", Version: 13}, {Domain: "ai.onnx.ml", Version: 3}}
	m.Metadata = []onnxtest.KV{{Key: "license", Value: "mit"}}

	model, err := Decode(memSource(m.Encode()), DecodeOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(8), model.IRVersion)
	assert.Equal(t, int64(13), model.OpsetVersion)
	assert.Equal(t, map[string]int64{"": 13, "ai.onnx.ml": 3}, model.Opsets)
	assert.Equal(t, "onnxtest", model.ProducerName)
	assert.Equal(t, "1.0", model.ProducerVersion)
	assert.Equal(t, "main", model.GraphName)
	assert.Equal(t, map[string]string{"license": "mit"}, model.Metadata)

	// Graph order is kept.
	require.Len(t, model.Records, 2)
	assert.Equal(t, "b", model.Records[0].Name)
	assert.Equal(t, "a", model.Records[1].Name)
}

func TestDecodeNoGraph(t *testing.T) {
	m := onnxtest.NewModel()
	m.NoGraph = true

	model, err := Decode(memSource(m.Encode()), DecodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, model.Records)
}

func TestDecodeVersionChecks(t *testing.T) {
	tests := []struct {
		name   string
		ir     int64
		opsets []onnxtest.Opset
		kind   error
	}{
		{"ir too old", 2, []onnxtest.Opset{{Version: 17}}, loaderr.ErrUnsupportedIRVersion},
		{"ir too new", MaxIRVersion + 1, []onnxtest.Opset{{Version: 17}}, loaderr.ErrUnsupportedIRVersion},
		{"ir missing", 0, []onnxtest.Opset{{Version: 17}}, loaderr.ErrUnsupportedIRVersion},
		{"opset too new", 8, []onnxtest.Opset{{Version: MaxOpsetVersion + 1}}, loaderr.ErrUnsupportedOpset},
		{"opset zero", 8, []onnxtest.Opset{{Version: 0}}, loaderr.ErrUnsupportedOpset},
		{"no default opset", 8, []onnxtest.Opset{{Domain: "com.microsoft", Version: 1}}, loaderr.ErrUnsupportedOpset},
		{"oldest supported", MinIRVersion, []onnxtest.Opset{{Version: MinOpsetVersion}}, nil},
		{"newest supported", MaxIRVersion, []onnxtest.Opset{{Version: MaxOpsetVersion}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := onnxtest.NewModel()
			m.IRVersion = tt.ir
			m.Opsets = tt.opsets

			_, err := Decode(memSource(m.Encode()), DecodeOptions{})
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestDecodeVersionCheckedBeforeInitializers(t *testing.T) {
	m := onnxtest.NewModel(onnxtest.Tensor{Name: "w", DataType: TensorProtoDouble, Raw: make([]byte, 8)})
	m.IRVersion = 99

	_, err := Decode(memSource(m.Encode()), DecodeOptions{})
	assert.ErrorIs(t, err, loaderr.ErrUnsupportedIRVersion)
	assert.NotErrorIs(t, err, loaderr.ErrUnsupportedDType)
}
