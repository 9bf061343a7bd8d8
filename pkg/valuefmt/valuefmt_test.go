package valuefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/progs"
)

type fixture struct {
	f      *Formatter
	img    *progs.Image
	health uint16
	speed  uint16
	name   uint16
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := progs.NewBuilder()
	b.Field("origin", progs.EvVector)
	b.Field("health", progs.EvFloat)
	speed := b.Global("speed", progs.EvFloat)
	b.SetFloat(speed, 320)
	name := b.Global("netname", progs.EvString)
	b.SetString(name, "ranger")
	fb := b.Func("think", nil)
	fb.End()

	img, err := b.Image()
	require.NoError(t, err)
	health, _ := b.FieldOfs("health")
	return &fixture{f: New(directory.New(img)), img: img, health: health, speed: speed, name: name}
}

func cells(vals ...uint32) progs.Cells { return progs.Cells(vals) }

func TestValue(t *testing.T) {
	fx := newFixture(t)
	think, ok := directory.New(fx.img).FindFunction("think")
	require.True(t, ok)

	f := make(progs.Cells, 3)
	f.SetFloat(0, 3.5)
	v := make(progs.Cells, 3)
	v.SetVector(0, types.Vec3{1, -2, 100})

	tests := []struct {
		typ  progs.Etype
		val  progs.Cells
		want string
	}{
		{progs.EvFloat, f, "  3.5"},
		{progs.EvVector, v, "'  1.0  -2.0 100.0'"},
		{progs.EvEntity, cells(7), "entity 7"},
		{progs.EvFunction, cells(uint32(think)), "think()"},
		{progs.EvField, cells(uint32(fx.health)), ".health"},
		{progs.EvVoid, cells(0), "void"},
		{progs.EvPointer, cells(12), "pointer"},
		{progs.Etype(9), cells(0), "bad type 9"},
	}
	for _, tt := range tests {
		if got := fx.f.Value(uint16(tt.typ), tt.val); got != tt.want {
			t.Errorf("Value(%v) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestUgly(t *testing.T) {
	fx := newFixture(t)

	f := make(progs.Cells, 1)
	f.SetFloat(0, 100)
	v := make(progs.Cells, 3)
	v.SetVector(0, types.Vec3{1, 2, 3})

	assert.Equal(t, "100.000000", fx.f.Ugly(uint16(progs.EvFloat), f))
	assert.Equal(t, "1.000000 2.000000 3.000000", fx.f.Ugly(uint16(progs.EvVector), v))
	assert.Equal(t, "7", fx.f.Ugly(uint16(progs.EvEntity), cells(7)))
	assert.Equal(t, "health", fx.f.Ugly(uint16(progs.EvField), cells(uint32(fx.health))))
	assert.Equal(t, "bad type 7", fx.f.Ugly(uint16(progs.EvPointer), cells(0)))
}

func TestPersistBitMasked(t *testing.T) {
	fx := newFixture(t)
	f := make(progs.Cells, 1)
	f.SetFloat(0, 1)
	assert.Equal(t, "  1.0", fx.f.Value(uint16(progs.EvFloat)|progs.SaveGlobal, f))
	assert.Equal(t, "1.000000", fx.f.Ugly(uint16(progs.EvFloat)|progs.SaveGlobal, f))
}

func TestBadString(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, "bad string 99999", fx.f.Value(uint16(progs.EvString), cells(99999)))
}

func TestGlobal(t *testing.T) {
	fx := newFixture(t)

	got := fx.f.Global(int(fx.speed))
	assert.Len(t, got, 31)
	assert.Contains(t, got, "(speed)320.0")

	got = fx.f.Global(int(fx.name))
	assert.Contains(t, got, "(netname)ranger")

	assert.Equal(t, "2 (?!?)                        ", fx.f.Global(2))

	got = fx.f.GlobalNoContents(int(fx.speed))
	assert.Len(t, got, 21)
	assert.Equal(t, "2(?!?)               ", fx.f.GlobalNoContents(2))
}
