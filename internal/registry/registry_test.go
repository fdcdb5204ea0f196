package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmengine/llm-engine/internal/loaderr"
	"github.com/llmengine/llm-engine/internal/onnx"
	"github.com/llmengine/llm-engine/internal/tensor"
)

type countingRegion struct {
	released int
}

func (r *countingRegion) Release() error {
	r.released++
	return nil
}

func owned(t *testing.T, dt tensor.DType, shape tensor.Shape, data []byte) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.NewOwned(dt, shape, data)
	require.NoError(t, err)
	return tn
}

func build(t *testing.T, names ...string) *Registry {
	t.Helper()
	b := NewBuilder(&onnx.Model{GraphName: "g"}, len(names))
	for i, name := range names {
		require.NoError(t, b.Insert(name, owned(t, tensor.Uint8, tensor.Shape{1}, []byte{byte(i)})))
	}
	return b.Freeze()
}

func TestRegistryLookup(t *testing.T) {
	reg := build(t, "c", "a", "b")

	assert.Equal(t, 3, reg.Len())
	assert.True(t, reg.Contains("a"))
	assert.False(t, reg.Contains("z"))
	assert.Equal(t, "g", reg.Model().GraphName)
	assert.Equal(t, int64(3), reg.TotalBytes())

	tn, err := reg.Get("b")
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, tn.Data())

	_, err = reg.Get("z")
	assert.ErrorIs(t, err, loaderr.ErrMissingInitializer)
	assert.Contains(t, err.Error(), `initializer "z"`)
}

func TestRegistryIterationOrder(t *testing.T) {
	reg := build(t, "c", "a", "b")

	var names []string
	for name, tn := range reg.All() {
		names = append(names, name)
		assert.NotNil(t, tn)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
	assert.Equal(t, names, reg.Names())

	// Early break.
	count := 0
	for range reg.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)

	entries := reg.Entries()
	entries[0].Name = "mutated"
	assert.Equal(t, "c", reg.Names()[0])
}

func TestRegistryDuplicateName(t *testing.T) {
	b := NewBuilder(nil, 2)
	require.NoError(t, b.Insert("w", owned(t, tensor.Uint8, tensor.Shape{1}, []byte{1})))

	dup := owned(t, tensor.Uint8, tensor.Shape{1}, []byte{2})
	err := b.Insert("w", dup)
	require.ErrorIs(t, err, loaderr.ErrDuplicateName)

	var le *loaderr.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "w", le.Initializer)
	assert.Equal(t, 1, b.Len())
	assert.False(t, dup.Released(), "rejected tensor stays with the caller")
}

func TestRegistryFrozen(t *testing.T) {
	b := NewBuilder(nil, 0)
	b.Freeze()
	assert.Error(t, b.Insert("late", owned(t, tensor.Uint8, tensor.Shape{1}, []byte{1})))
}

func TestRegistryCloseReleasesTensors(t *testing.T) {
	region := &countingRegion{}
	borrowed, err := tensor.NewBorrowed(tensor.Uint8, tensor.Shape{2}, []byte{1, 2}, tensor.BorrowedFromFile, region)
	require.NoError(t, err)
	own := owned(t, tensor.Int32, tensor.Shape{1}, make([]byte, 4))

	b := NewBuilder(nil, 2)
	require.NoError(t, b.Insert("borrowed", borrowed))
	require.NoError(t, b.Insert("owned", own))
	reg := b.Freeze()

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	assert.Equal(t, 1, region.released)
	assert.True(t, borrowed.Released())
	assert.True(t, own.Released())
	assert.Nil(t, borrowed.Data())
}

func TestBuilderDiscard(t *testing.T) {
	region := &countingRegion{}
	borrowed, err := tensor.NewBorrowed(tensor.Uint8, tensor.Shape{1}, []byte{1}, tensor.BorrowedFromSidecar, region)
	require.NoError(t, err)

	b := NewBuilder(nil, 1)
	require.NoError(t, b.Insert("x", borrowed))
	require.NoError(t, b.Discard())
	assert.Equal(t, 1, region.released)
}

func TestFingerprint(t *testing.T) {
	a := build(t, "x", "y")
	b := build(t, "x", "y")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := build(t, "y", "x")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "order matters")

	d := NewBuilder(nil, 2)
	require.NoError(t, d.Insert("x", owned(t, tensor.Uint8, tensor.Shape{1}, []byte{0})))
	require.NoError(t, d.Insert("y", owned(t, tensor.Int8, tensor.Shape{1}, []byte{1})))
	assert.NotEqual(t, a.Fingerprint(), d.Freeze().Fingerprint(), "dtype matters")
}
