package bytesource

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyShouldMap(t *testing.T) {
	assert.True(t, PolicyAlways.ShouldMap(1, DefaultMapThreshold))
	assert.False(t, PolicyNever.ShouldMap(DefaultMapThreshold*2, DefaultMapThreshold))
	assert.False(t, PolicyAuto.ShouldMap(DefaultMapThreshold-1, DefaultMapThreshold))
	assert.True(t, PolicyAuto.ShouldMap(DefaultMapThreshold, DefaultMapThreshold))
}

func TestPolicyFlag(t *testing.T) {
	var p Policy
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&p, "mmap", "mapping policy")

	require.NoError(t, fs.Parse([]string{"--mmap", "Always"}))
	assert.Equal(t, PolicyAlways, p)
	assert.Equal(t, "always", p.String())

	assert.Error(t, p.Set("sometimes"))
	assert.Equal(t, PolicyAlways, p)
}

func TestOpenWith(t *testing.T) {
	path := writeTemp(t, pattern(4096))

	src, err := OpenWith(path, PolicyAuto, 1<<20)
	require.NoError(t, err)
	assert.False(t, src.Mapped(), "below threshold")
	require.NoError(t, src.Close())

	src, err = OpenWith(path, PolicyAuto, 1024)
	require.NoError(t, err)
	assert.True(t, src.Mapped())
	require.NoError(t, src.Close())

	src, err = OpenWith(path, PolicyNever, 0)
	require.NoError(t, err)
	assert.False(t, src.Mapped())
	require.NoError(t, src.Close())

	src, err = OpenWith(path, PolicyAlways, 0)
	require.NoError(t, err)
	assert.True(t, src.Mapped())
	require.NoError(t, src.Close())
}

func TestReadAtLargeUnmapped(t *testing.T) {
	data := pattern(2*chunkSize + 17)
	src, err := Open(writeTemp(t, data))
	require.NoError(t, err)
	defer src.Close()

	buf := make([]byte, chunkSize+10)
	n, err := src.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, data[7:7+len(buf)], buf)
}
