package edict

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/hunk"
	"github.com/fortiblox/progsvm/pkg/progs"
)

type clock struct{ now float64 }

func (c *clock) time() float64 { return c.now }

func newTestPool(t *testing.T, capacity int) (*Pool, *clock) {
	t.Helper()
	b := progs.NewBuilder()
	DeclareSystem(b)
	img, err := b.Image()
	require.NoError(t, err)

	clk := &clock{}
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	cfg.Reserved = 1
	cfg.Clock = clk.time
	return NewPool(img, directory.New(img), cfg), clk
}

func TestAllocGrows(t *testing.T) {
	p, _ := newTestPool(t, 4)
	assert.Equal(t, 1, p.Count())

	e, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index())
	assert.False(t, e.IsFree())
	assert.Equal(t, 2, p.Count())

	_, err = p.Alloc()
	require.NoError(t, err)
	_, err = p.Alloc()
	require.NoError(t, err)

	_, err = p.Alloc()
	assert.ErrorIs(t, err, ErrNoFreeEdicts)
}

func TestReusePolicy(t *testing.T) {
	p, clk := newTestPool(t, 8)

	e, err := p.Alloc()
	require.NoError(t, err)
	f, err := p.Alloc()
	require.NoError(t, err)

	// F was freed early in the level.
	clk.now = 1.0
	p.Free(f)

	clk.now = 5.0
	p.Free(e)

	clk.now = 5.2
	got, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, f.Index(), got.Index(), "recently freed slot must rest")

	clk.now = 5.6
	got, err = p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, e.Index(), got.Index())
	assert.Equal(t, 3, p.Count())
}

func TestReuseBlockedGrows(t *testing.T) {
	p, clk := newTestPool(t, 8)
	e, err := p.Alloc()
	require.NoError(t, err)

	clk.now = 10
	p.Free(e)
	clk.now = 10.3
	got, err := p.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, e.Index(), got.Index())
}

func TestFreeClearsFields(t *testing.T) {
	p, clk := newTestPool(t, 4)
	f := p.Fields()
	e, err := p.Alloc()
	require.NoError(t, err)

	e.SetVector(f.Origin, types.Vec3{1, 2, 3})
	e.SetFloat(f.Frame, 7)
	e.SetFloat(f.Health, 50)
	e.SetFloat(f.NextThink, 3)

	clk.now = 4
	p.Free(e)
	assert.True(t, e.IsFree())
	assert.Equal(t, 4.0, e.FreeTime())
	assert.Equal(t, types.Vec3{}, e.Vector(f.Origin))
	assert.Equal(t, float32(0), e.Float(f.Frame))
	assert.Equal(t, float32(-1), e.Float(f.NextThink))
	// Only the listed fields are neutralised.
	assert.Equal(t, float32(50), e.Float(f.Health))

	clk.now = 10
	again, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, e.Index(), again.Index())
	assert.Equal(t, float32(0), again.Float(f.Health))
}

func TestNumBounds(t *testing.T) {
	p, _ := newTestPool(t, 4)
	_, err := p.Num(3)
	assert.NoError(t, err)
	_, err = p.Num(4)
	assert.ErrorIs(t, err, ErrBadNumber)
	_, err = p.Num(-1)
	assert.ErrorIs(t, err, ErrBadNumber)
}

func TestPointers(t *testing.T) {
	p, _ := newTestPool(t, 4)
	_, err := p.Alloc()
	require.NoError(t, err)

	ptr := p.Addr(1, 0)
	n, err := p.IndexOf(ptr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = p.IndexOf(ptr + 4)
	assert.ErrorIs(t, err, ErrBadPointer)
	_, err = p.IndexOf(p.Addr(3, 0))
	assert.ErrorIs(t, err, ErrBadPointer)

	cell, err := p.CellAt(p.Addr(1, 5))
	require.NoError(t, err)
	assert.Equal(t, p.Stride()+5, cell)

	_, err = p.CellAt(3)
	assert.ErrorIs(t, err, ErrBadPointer)
}

func TestStats(t *testing.T) {
	p, _ := newTestPool(t, 8)
	f := p.Fields()
	a, _ := p.Alloc()
	b, _ := p.Alloc()
	c, _ := p.Alloc()

	a.SetFloat(f.Solid, 2)
	a.SetInt(f.Model, 5)
	b.SetFloat(f.MoveType, MoveTypeStep)
	p.Free(c)

	s := p.Stats()
	assert.Equal(t, Stats{Num: 4, Active: 3, Models: 1, Solid: 1, Step: 1}, s)
}

func TestReset(t *testing.T) {
	p, _ := newTestPool(t, 4)
	e, _ := p.Alloc()
	e.SetFloat(p.Fields().Health, 9)
	require.NoError(t, p.Reset(2))
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, float32(0), e.Float(p.Fields().Health))
	assert.Error(t, p.Reset(5))
}

func TestRemoveReserved(t *testing.T) {
	p, _ := newTestPool(t, 4)
	err := p.Remove(p.World())
	assert.ErrorIs(t, err, ErrReserved)
	assert.False(t, p.World().IsFree())

	e, err := p.Alloc()
	require.NoError(t, err)
	require.NoError(t, p.Remove(e))
	assert.True(t, e.IsFree())
}

func TestPoolCellsFromHunk(t *testing.T) {
	b := progs.NewBuilder()
	DeclareSystem(b)
	img, err := b.Image()
	require.NoError(t, err)

	h := hunk.New(1<<20, zerolog.Nop())
	cfg := DefaultConfig()
	cfg.Capacity = 8
	cfg.Allocator = h
	p := NewPool(img, directory.New(img), cfg)
	assert.Len(t, p.Cells(), 8*img.EdictSize)
	assert.GreaterOrEqual(t, h.Used(), 8*img.EdictSize*progs.CellSize)

	small := hunk.New(16, zerolog.Nop())
	cfg.Allocator = small
	assert.Panics(t, func() { NewPool(img, directory.New(img), cfg) })
}
