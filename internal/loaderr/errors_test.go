package loaderr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(ErrShapeMismatch, "payload has %d elements, shape wants %d", 3, 4).
		For("w").In("model.onnx").At(120)

	assert.Equal(t,
		`shape mismatch: initializer "w": model.onnx at offset 120: payload has 3 elements, shape wants 4`,
		err.Error())
}

func TestErrorMessageWithoutOffset(t *testing.T) {
	err := New(ErrDuplicateName, "seen twice").For("bias")
	assert.Equal(t, `duplicate initializer name: initializer "bias": seen twice`, err.Error())
}

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	err := Wrap(ErrIO, fs.ErrNotExist, "open sidecar")
	wrapped := fmt.Errorf("load: %w", err)

	assert.ErrorIs(t, wrapped, ErrIO)
	assert.ErrorIs(t, wrapped, fs.ErrNotExist)
	assert.NotErrorIs(t, wrapped, ErrRange)

	var le *Error
	require.ErrorAs(t, wrapped, &le)
	assert.Equal(t, NoOffset, le.Offset)
}

func TestAnnotateKeepsExistingFields(t *testing.T) {
	err := New(ErrChecksum, "bad").For("first")
	out := Annotate(err, "second", "weights.bin")

	var le *Error
	require.ErrorAs(t, out, &le)
	assert.Equal(t, "first", le.Initializer)
	assert.Equal(t, "weights.bin", le.Path)

	plain := errors.New("plain")
	assert.Equal(t, plain, Annotate(plain, "x", "y"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New(ErrPathEscape, "x"), "path_escape"},
		{fmt.Errorf("ctx: %w", New(ErrResourceLimit, "x")), "resource_limit"},
		{Wrap(ErrDecode, New(ErrRange, "inner"), "outer"), "decode"},
		{ErrCanceled, "canceled"},
		{New(ErrInvalidOptions, "x"), "invalid_options"},
		{errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}
