package tensor

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeWidths(t *testing.T) {
	tests := []struct {
		dtype DType
		bits  int
		align int
		name  string
	}{
		{Float32, 32, 4, "fp32"},
		{Float16, 16, 2, "fp16"},
		{BFloat16, 16, 2, "bf16"},
		{Int8, 8, 1, "int8"},
		{Uint8, 8, 1, "uint8"},
		{Int32, 32, 4, "int32"},
		{Int64, 64, 8, "int64"},
		{Bool, 8, 1, "bool"},
		{Q4Packed, 4, 1, "q4_packed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bits, tt.dtype.Bits(), tt.name)
		assert.Equal(t, tt.align, tt.dtype.Alignment(), tt.name)
		assert.Equal(t, tt.name, tt.dtype.String())

		parsed, err := ParseDType(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.dtype, parsed)
	}
	assert.False(t, Undefined.Valid())
	assert.Equal(t, "undefined", Undefined.String())
}

func TestParseDTypeAliases(t *testing.T) {
	for alias, want := range map[string]DType{
		"float32":  Float32,
		" FP16 ":   Float16,
		"bfloat16": BFloat16,
		"i64":      Int64,
		"int4":     Q4Packed,
	} {
		got, err := ParseDType(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, got, alias)
	}
	_, err := ParseDType("complex64")
	assert.Error(t, err)
}

func TestDTypeSet(t *testing.T) {
	var s DTypeSet
	assert.True(t, s.Empty())

	s = NewDTypeSet(Int64, Float32)
	assert.True(t, s.Has(Float32))
	assert.True(t, s.Has(Int64))
	assert.False(t, s.Has(Float16))
	assert.Equal(t, "fp32,int64", s.String())
	assert.Equal(t, []DType{Float32, Int64}, s.Types())
}

func TestDTypeSetFlag(t *testing.T) {
	var s DTypeSet
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&s, "dtypes", "allowed dtypes")

	require.NoError(t, fs.Parse([]string{"--dtypes", "fp16,bf16,,fp32"}))
	assert.Equal(t, NewDTypeSet(Float16, BFloat16, Float32), s)

	assert.Error(t, s.Set("fp32,nope"))
}
