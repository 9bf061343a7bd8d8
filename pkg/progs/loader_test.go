package progs

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/progsvm/internal/types"
)

func sampleBuilder() *Builder {
	b := NewBuilder()
	b.Global("self", EvEntity)
	b.SavedGlobal("serverflags", EvFloat)
	b.Global("v_forward", EvVector)
	b.Field("origin", EvVector)
	b.Field("health", EvFloat)
	b.Builtin("print", 1, EvString)

	fb := b.Func("add", []Etype{EvFloat, EvFloat}, EvFloat)
	fb.Emit(OpAddF, fb.Parm(0), fb.Parm(1), fb.Local(0))
	fb.Return(fb.Local(0))
	fb.End()
	return b
}

func TestCRC16(t *testing.T) {
	tests := []struct {
		input []byte
		want  uint16
	}{
		{[]byte("123456789"), 0x29B1},
		{nil, 0xffff},
		{[]byte("A"), 0xB915},
	}
	for _, tt := range tests {
		if got := CRC16(tt.input); got != tt.want {
			t.Errorf("CRC16(%q) = %#04x, want %#04x", tt.input, got, tt.want)
		}
	}
}

func TestHeaderCRC(t *testing.T) {
	raw, err := sampleBuilder().Encode()
	require.NoError(t, err)
	assert.Equal(t, uint32(5927), binary.LittleEndian.Uint32(raw[4:]))

	img, err := LoadFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, int32(5927), img.Header.CRC)
}

func TestLoadRoundTrip(t *testing.T) {
	raw, err := sampleBuilder().Encode()
	require.NoError(t, err)

	img, err := LoadFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, int32(Version), img.Header.Version)
	assert.Equal(t, CRC16(raw), img.CRC)
	assert.Equal(t, types.ComputeFingerprint(raw), img.Fingerprint)
	assert.Equal(t, len(raw), img.Size)
	assert.Equal(t, raw, img.Resident())

	// origin (3) + health (1)
	assert.Equal(t, 4, img.EdictSize)
	assert.Len(t, img.Functions, 3)

	fn, ok := img.Function(2)
	require.True(t, ok)
	assert.Equal(t, "add", img.FunctionName(2))
	assert.Equal(t, int32(2), fn.NumParms)
	assert.Equal(t, int32(3), fn.Locals)
	assert.Equal(t, Func(2), img.FuncIndex(fn))

	builtin, ok := img.Function(1)
	require.True(t, ok)
	assert.True(t, builtin.IsBuiltin())
	assert.Equal(t, 1, builtin.BuiltinNumber())

	st := img.Statements[fn.FirstStatement]
	assert.Equal(t, OpAddF, st.Op)

	var persisted []string
	for i := range img.GlobalDefs {
		if img.GlobalDefs[i].Persist() {
			persisted = append(persisted, img.Name(&img.GlobalDefs[i]))
		}
	}
	assert.Equal(t, []string{"serverflags"}, persisted)
}

func TestLoadErrors(t *testing.T) {
	good, err := sampleBuilder().Encode()
	require.NoError(t, err)

	patch := func(word int, v int32) []byte {
		raw := append([]byte(nil), good...)
		binary.LittleEndian.PutUint32(raw[word*4:], uint32(v))
		return raw
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", good[:HeaderSize-1], ErrTruncated},
		{"version", patch(0, 7), ErrBadVersion},
		{"checksum", patch(1, 1234), ErrBadChecksum},
		{"section past end", patch(3, 1<<20), ErrBadSection},
		{"negative count", patch(13, -1), ErrBadSection},
		{"truncated body", good[:len(good)-4], ErrBadSection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}
}

func TestLoadRejectsBadOperand(t *testing.T) {
	b := NewBuilder()
	fb := b.Func("bad", nil)
	fb.Emit(OpAddF, 0xfff0, 0, 0)
	fb.End()
	raw, err := b.Encode()
	require.NoError(t, err)

	_, err = LoadFromBytes(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "beyond")
}

func TestLoadRejectsShortVectorOperand(t *testing.T) {
	build := func(op Opcode, slot int) []byte {
		b := NewBuilder()
		fb := b.Func("f", nil)
		v := b.Vector(types.Vec3{1, 2, 3})
		last := b.Temp(EvFloat)
		ops := [3]uint16{v, v, v}
		ops[slot] = last
		fb.Emit(op, ops[0], ops[1], ops[2])
		fb.End()
		raw, err := b.Encode()
		require.NoError(t, err)
		return raw
	}

	// The last global is a valid float operand.
	_, err := LoadFromBytes(build(OpAddF, 2))
	require.NoError(t, err)

	tests := []struct {
		name string
		op   Opcode
		slot int
	}{
		{"add result", OpAddV, 2},
		{"dot product a", OpMulV, 0},
		{"scale result", OpMulFV, 2},
		{"store source", OpStoreV, 0},
		{"not", OpNotV, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes(build(tt.op, tt.slot))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidImage)
			assert.Contains(t, err.Error(), "+3 beyond")
		})
	}
}

func TestLoadAcceptsBranchOperands(t *testing.T) {
	b := NewBuilder()
	fb := b.Func("loop", nil)
	top := fb.Label()
	fb.Goto(top - 1) // negative offset encodes above NumGlobals as uint16
	fb.End()
	_, err := b.Image()
	require.NoError(t, err)
}

func TestLoaderUsesAllocator(t *testing.T) {
	raw, err := sampleBuilder().Encode()
	require.NoError(t, err)

	alloc := &recordingAllocator{}
	_, err = NewLoader(alloc, zeroLogger()).Load(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"progs", "globals"}, alloc.names)
	assert.Equal(t, len(raw), alloc.sizes[0])
}

func TestBuilderUndefinedFunction(t *testing.T) {
	b := NewBuilder()
	fb := b.Func("main", nil)
	fb.Call("missing")
	fb.End()
	_, err := b.Encode()
	assert.Error(t, err)
}

func TestStringTable(t *testing.T) {
	st := NewStringTable([]byte("\x00hello\x00"), nil)
	s, err := st.String(1)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	_, err = st.String(100)
	assert.ErrorIs(t, err, ErrBadString)
	_, err = st.String(-1)
	assert.ErrorIs(t, err, ErrBadString)

	ofs := st.Intern("world")
	assert.Equal(t, int32(7), ofs)
	assert.Equal(t, "world", st.Lookup(ofs))
	assert.Equal(t, 6, st.Interned())

	tmp := st.Temp("scratch")
	assert.Equal(t, "scratch", st.Lookup(tmp))
	assert.Equal(t, tmp, st.Temp("again"))
	assert.Equal(t, "again", st.Lookup(tmp))
	assert.Equal(t, "world", st.Lookup(ofs))

	st.Reset()
	assert.Equal(t, 7, st.Len())
	assert.Equal(t, 0, st.Interned())
	_, err = st.String(ofs)
	assert.ErrorIs(t, err, ErrBadString)
	assert.Equal(t, ofs, st.Intern("again"))
}

func TestStringTableChunks(t *testing.T) {
	alloc := &recordingAllocator{}
	st := NewStringTable([]byte("\x00"), alloc)

	big := strings.Repeat("x", StringChunkSize)
	a := st.Intern("first")
	b := st.Intern(big)
	c := st.Intern("third")

	assert.Equal(t, "first", st.Lookup(a))
	assert.Equal(t, int32(1+6), b)
	assert.Len(t, st.Lookup(b), StringChunkSize)
	assert.Equal(t, "third", st.Lookup(c))
	assert.Equal(t, []string{"strings", "strings", "strings"}, alloc.names)
	assert.Equal(t, 1+6+StringChunkSize+1+6, st.Len())
}

func TestImageReset(t *testing.T) {
	b := sampleBuilder()
	ofs := b.SavedGlobal("counter", EvFloat)
	b.SetFloat(ofs, 7)
	img, err := b.Image()
	require.NoError(t, err)

	size := img.Strings.Len()
	img.Globals.SetFloat(int(ofs), 99)
	img.Strings.Intern("level text")
	globals := img.Globals

	img.Reset()
	assert.Equal(t, float32(7), img.Globals.Float(int(ofs)))
	assert.Equal(t, size, img.Strings.Len())
	assert.Same(t, &globals[0], &img.Globals[0])
}

func TestCells(t *testing.T) {
	c := make(Cells, 8)
	c.SetFloat(0, 2.5)
	c.SetVector(1, types.Vec3{1, 2, 3})
	c.SetInt(4, -7)

	assert.Equal(t, float32(2.5), c.Float(0))
	assert.Equal(t, types.Vec3{1, 2, 3}, c.Vector(1))
	assert.Equal(t, int32(-7), c.Int(4))
	assert.True(t, c.Zero(5, 3))
	assert.False(t, c.Zero(0, 2))

	c.Clear()
	assert.True(t, c.Zero(0, 8))
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "DONE", OpDone.String())
	assert.Equal(t, "INDIRECT", OpLoadV.String())
	assert.Equal(t, "BITOR", OpBitOr.String())
	assert.Equal(t, "op(200)", Opcode(200).String())
	assert.Equal(t, 66, int(NumOpcodes))
	assert.Equal(t, 3, OpCall3.CallArgs())
	assert.True(t, OpStoreFnc.IsStore())
	assert.False(t, OpStorePF.IsStore())
}

type recordingAllocator struct {
	names []string
	sizes []int
}

func (a *recordingAllocator) Alloc(size int, name string) []byte {
	a.names = append(a.names, name)
	a.sizes = append(a.sizes, size)
	return make([]byte, size)
}

func (a *recordingAllocator) AllocCells(n int, name string) []uint32 {
	a.names = append(a.names, name)
	a.sizes = append(a.sizes, n*CellSize)
	return make([]uint32, n)
}

func zeroLogger() zerolog.Logger { return zerolog.Nop() }
