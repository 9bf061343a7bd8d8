package directory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/pkg/progs"
)

func testImage(t *testing.T) *progs.Image {
	t.Helper()
	b := progs.NewBuilder()
	b.Global("self", progs.EvEntity)
	b.Global("time", progs.EvFloat)
	b.Field("origin", progs.EvVector)
	b.Field("angles", progs.EvVector)
	b.Field("health", progs.EvFloat)
	b.Field(strings.Repeat("l", MaxCachedName), progs.EvFloat)
	fb := b.Func("main", nil)
	fb.End()
	img, err := b.Image()
	require.NoError(t, err)
	return img
}

func TestFind(t *testing.T) {
	img := testImage(t)
	d := New(img)

	def, ok := d.FindField("health")
	require.True(t, ok)
	assert.Equal(t, progs.EvFloat, def.Kind())
	assert.Equal(t, uint16(6), def.Ofs)

	def, ok = d.FindField("origin_y")
	require.True(t, ok)
	assert.Equal(t, uint16(1), def.Ofs)

	_, ok = d.FindField("nope")
	assert.False(t, ok)

	def, ok = d.FindGlobal("time")
	require.True(t, ok)
	assert.Equal(t, progs.EvFloat, def.Kind())

	fn, ok := d.FindFunction("main")
	require.True(t, ok)
	assert.Equal(t, "main", img.FunctionName(fn))

	_, ok = d.FindFunction("missing")
	assert.False(t, ok)
}

func TestCacheHit(t *testing.T) {
	d := New(testImage(t))

	_, ok := d.CachedField("origin")
	require.True(t, ok)
	_, ok = d.CachedField("angles")
	require.True(t, ok)
	assert.Equal(t, 2, d.Scans())

	_, ok = d.CachedField("origin")
	require.True(t, ok)
	assert.Equal(t, 2, d.Scans(), "third lookup should not rescan")
}

func TestCacheRoundRobin(t *testing.T) {
	d := New(testImage(t))

	d.CachedField("origin")
	d.CachedField("angles")
	d.CachedField("health") // evicts origin
	assert.Equal(t, 3, d.Scans())

	d.CachedField("angles")
	assert.Equal(t, 3, d.Scans())
	d.CachedField("origin")
	assert.Equal(t, 4, d.Scans())
}

func TestCacheSkipsMisses(t *testing.T) {
	d := New(testImage(t))

	_, ok := d.CachedField("nope")
	assert.False(t, ok)
	_, ok = d.CachedField("nope")
	assert.False(t, ok)
	assert.Equal(t, 2, d.Scans())
}

func TestCacheSkipsLongNames(t *testing.T) {
	d := New(testImage(t))
	long := strings.Repeat("l", MaxCachedName)

	_, ok := d.CachedField(long)
	require.True(t, ok)
	_, ok = d.CachedField(long)
	require.True(t, ok)
	assert.Equal(t, 2, d.Scans())
}

func TestResetInvalidatesCache(t *testing.T) {
	img := testImage(t)
	d := New(img)
	d.CachedField("origin")
	d.Reset(img)
	d.CachedField("origin")
	assert.Equal(t, 2, d.Scans())
}

func TestAtOfs(t *testing.T) {
	img := testImage(t)
	d := New(img)

	def, ok := d.FieldAtOfs(6)
	require.True(t, ok)
	assert.Equal(t, "health", d.Name(def))

	ref, ok := d.FindGlobal("health")
	require.True(t, ok)
	def, ok = d.GlobalAtOfs(int(ref.Ofs))
	require.True(t, ok)
	assert.Equal(t, "health", d.Name(def))
}
