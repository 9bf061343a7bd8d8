package hunk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAligned(t *testing.T) {
	h := New(1024, zerolog.Nop())

	a := h.Alloc(10, "progs")
	assert.Len(t, a, 10)
	assert.Equal(t, 16, h.Used())

	b := h.Alloc(16, "edicts")
	assert.Len(t, b, 16)
	assert.Equal(t, 32, h.Used())
}

func TestAllocZeroed(t *testing.T) {
	h := New(64, zerolog.Nop())
	mark := h.LowMark()
	mem := h.Alloc(32, "x")
	for i := range mem {
		mem[i] = 0xff
	}
	require.NoError(t, h.FreeToLowMark(mark))

	mem = h.Alloc(32, "y")
	assert.Equal(t, make([]byte, 32), mem)
}

func TestOverflow(t *testing.T) {
	h := New(32, zerolog.Nop())
	_, err := h.TryAlloc(64, "big")
	assert.ErrorIs(t, err, ErrHunkOverflow)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrHunkOverflow))
	}()
	h.Alloc(64, "big")
}

func TestFreeToLowMark(t *testing.T) {
	h := New(256, zerolog.Nop())
	h.Alloc(16, "keep")
	mark := h.LowMark()
	h.Alloc(16, "level")
	h.Alloc(16, "level")
	assert.Equal(t, 48, h.Used())

	require.NoError(t, h.FreeToLowMark(mark))
	assert.Equal(t, 16, h.Used())

	assert.ErrorIs(t, h.FreeToLowMark(100), ErrBadMark)
	assert.ErrorIs(t, h.FreeToLowMark(-1), ErrBadMark)
}

func TestPrint(t *testing.T) {
	h := New(256, zerolog.Nop())
	h.Alloc(16, "progs")
	h.Alloc(16, "edicts")
	h.Alloc(16, "edicts")

	var buf bytes.Buffer
	h.Print(&buf, false)
	out := buf.String()
	assert.Contains(t, out, "     256 total hunk size")
	assert.Contains(t, out, "      16    progs (TOTAL)")
	assert.Contains(t, out, "      32   edicts (TOTAL)")
	assert.Contains(t, out, "     208 REMAINING")
	assert.Contains(t, out, "       3 total blocks")
}

func TestAllocCells(t *testing.T) {
	h := New(64, zerolog.Nop())
	h.Alloc(3, "pad")

	cells := h.AllocCells(5, "globals")
	require.Len(t, cells, 5)
	assert.Equal(t, 16+32, h.Used())
	for _, c := range cells {
		assert.Zero(t, c)
	}
	cells[4] = 0xdeadbeef
	assert.Equal(t, uint32(0xdeadbeef), cells[4])

	assert.Panics(t, func() { h.AllocCells(8, "edicts") })
	assert.Empty(t, h.AllocCells(0, "none"))
}
