package progs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fortiblox/progsvm/internal/types"
)

// Builder assembles program images in memory. It lays out globals, fields
// and functions the way the compiler does: index 0 of every table is a null
// entry, the first ReservedOfs globals hold the return value and parameter
// slots, and every function owns a contiguous run of globals for its
// parameters and locals.
type Builder struct {
	strings    []byte
	interned   map[string]int32
	statements []Statement
	functions  []Function
	globalDefs []Def
	fieldDefs  []Def
	globals    Cells
	numFields  int

	fields    map[string]uint16 // field name -> field offset
	fieldRefs map[string]uint16 // field name -> global holding the offset
	globalOfs map[string]uint16
	funcs     map[string]Func
	funcRefs  map[string]uint16 // function name -> global holding the index

	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		strings:    []byte{0},
		interned:   map[string]int32{"": 0},
		statements: []Statement{{}},
		functions:  []Function{{}},
		globalDefs: []Def{{}},
		fieldDefs:  []Def{{}},
		globals:    make(Cells, ReservedOfs),
		fields:     make(map[string]uint16),
		fieldRefs:  make(map[string]uint16),
		globalOfs:  make(map[string]uint16),
		funcs:      make(map[string]Func),
		funcRefs:   make(map[string]uint16),
	}
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("builder: "+format, args...)
	}
}

// String interns s in the string table and returns its offset.
func (b *Builder) String(s string) int32 {
	if ofs, ok := b.interned[s]; ok {
		return ofs
	}
	ofs := int32(len(b.strings))
	b.strings = append(b.strings, s...)
	b.strings = append(b.strings, 0)
	b.interned[s] = ofs
	return ofs
}

func (b *Builder) alloc(n int) uint16 {
	ofs := len(b.globals)
	if ofs+n > math.MaxUint16 {
		b.fail("globals exhausted")
		return 0
	}
	b.globals = append(b.globals, make(Cells, n)...)
	return uint16(ofs)
}

func (b *Builder) defineGlobal(name string, t Etype, persist bool, ofs uint16) {
	typ := uint16(t)
	if persist {
		typ |= SaveGlobal
	}
	b.globalDefs = append(b.globalDefs, Def{Type: typ, Ofs: ofs, Name: b.String(name)})
	b.globalOfs[name] = ofs
}

// Global declares a named global and returns its offset. Vector globals also
// get _x, _y and _z float component definitions.
func (b *Builder) Global(name string, t Etype) uint16 {
	return b.global(name, t, false)
}

// SavedGlobal declares a global carrying the persist bit.
func (b *Builder) SavedGlobal(name string, t Etype) uint16 {
	return b.global(name, t, true)
}

func (b *Builder) global(name string, t Etype, persist bool) uint16 {
	if _, dup := b.globalOfs[name]; dup {
		b.fail("global %q redeclared", name)
		return b.globalOfs[name]
	}
	ofs := b.alloc(t.Size())
	b.defineGlobal(name, t, persist, ofs)
	if t == EvVector {
		for i, sfx := range []string{"_x", "_y", "_z"} {
			b.defineGlobal(name+sfx, EvFloat, false, ofs+uint16(i))
		}
	}
	return ofs
}

// GlobalOfs returns the offset of a declared global.
func (b *Builder) GlobalOfs(name string) (uint16, bool) {
	ofs, ok := b.globalOfs[name]
	return ofs, ok
}

// Field declares an entity field and returns the offset of the global that
// holds the field reference, which is what LOAD and ADDRESS operands name.
func (b *Builder) Field(name string, t Etype) uint16 {
	if _, dup := b.fields[name]; dup {
		b.fail("field %q redeclared", name)
		return b.fieldRefs[name]
	}
	fofs := uint16(b.numFields)
	b.numFields += t.Size()
	b.fieldDefs = append(b.fieldDefs, Def{Type: uint16(t), Ofs: fofs, Name: b.String(name)})
	b.fields[name] = fofs
	if t == EvVector {
		for i, sfx := range []string{"_x", "_y", "_z"} {
			b.fieldDefs = append(b.fieldDefs, Def{Type: uint16(EvFloat), Ofs: fofs + uint16(i), Name: b.String(name + sfx)})
			b.fields[name+sfx] = fofs + uint16(i)
		}
	}

	ref := b.alloc(1)
	b.defineGlobal(name, EvField, false, ref)
	b.globals[ref] = uint32(fofs)
	b.fieldRefs[name] = ref
	return ref
}

// FieldOfs returns the entity block offset of a declared field.
func (b *Builder) FieldOfs(name string) (uint16, bool) {
	ofs, ok := b.fields[name]
	return ofs, ok
}

// Float allocates an anonymous float constant.
func (b *Builder) Float(v float32) uint16 {
	ofs := b.alloc(1)
	b.globals.SetFloat(int(ofs), v)
	return ofs
}

// Vector allocates an anonymous vector constant.
func (b *Builder) Vector(v types.Vec3) uint16 {
	ofs := b.alloc(3)
	b.globals.SetVector(int(ofs), v)
	return ofs
}

// StringConst allocates an anonymous string constant.
func (b *Builder) StringConst(s string) uint16 {
	ofs := b.alloc(1)
	b.globals.SetInt(int(ofs), b.String(s))
	return ofs
}

// Temp allocates an anonymous scratch global of the given type.
func (b *Builder) Temp(t Etype) uint16 {
	return b.alloc(t.Size())
}

// SetFloat sets the initial value of a float global.
func (b *Builder) SetFloat(ofs uint16, v float32) { b.globals.SetFloat(int(ofs), v) }

// SetString sets the initial value of a string global.
func (b *Builder) SetString(ofs uint16, s string) { b.globals.SetInt(int(ofs), b.String(s)) }

// FuncRef returns the global holding the index of the named function. The
// function may be defined later.
func (b *Builder) FuncRef(name string) uint16 {
	if ofs, ok := b.funcRefs[name]; ok {
		return ofs
	}
	ofs := b.alloc(1)
	b.defineGlobal(name, EvFunction, false, ofs)
	b.funcRefs[name] = ofs
	return ofs
}

func (b *Builder) addFunction(name string, fn Function) Func {
	if _, dup := b.funcs[name]; dup {
		b.fail("function %q redefined", name)
	}
	fn.Name = b.String(name)
	if fn.File == 0 {
		fn.File = b.String("builder.qc")
	}
	idx := Func(len(b.functions))
	b.functions = append(b.functions, fn)
	b.funcs[name] = idx
	b.FuncRef(name)
	return idx
}

// Builtin declares a native function bound to builtin table slot num.
func (b *Builder) Builtin(name string, num int, parms ...Etype) Func {
	fn := Function{FirstStatement: int32(-num), NumParms: int32(len(parms))}
	for i, p := range parms {
		fn.ParmSize[i] = uint8(p.Size())
	}
	return b.addFunction(name, fn)
}

// Func starts a compiled function with the given parameter types and local
// variable types. Parameters and locals are laid out contiguously.
func (b *Builder) Func(name string, parms []Etype, locals ...Etype) *FuncBuilder {
	if len(parms) > MaxParms {
		b.fail("function %q: %d parameters", name, len(parms))
		parms = parms[:MaxParms]
	}
	fb := &FuncBuilder{b: b}
	start := len(b.globals)
	fn := Function{
		FirstStatement: int32(len(b.statements)),
		ParmStart:      int32(start),
		NumParms:       int32(len(parms)),
	}
	for i, p := range parms {
		fn.ParmSize[i] = uint8(p.Size())
		fb.parms = append(fb.parms, b.alloc(p.Size()))
	}
	for _, l := range locals {
		fb.locals = append(fb.locals, b.alloc(l.Size()))
	}
	fn.Locals = int32(len(b.globals) - start)
	fb.index = b.addFunction(name, fn)
	return fb
}

// FuncBuilder emits the statements of one function.
type FuncBuilder struct {
	b      *Builder
	index  Func
	parms  []uint16
	locals []uint16
}

// Index returns the function table index.
func (fb *FuncBuilder) Index() Func { return fb.index }

// Parm returns the offset of parameter i.
func (fb *FuncBuilder) Parm(i int) uint16 { return fb.parms[i] }

// Local returns the offset of local variable i.
func (fb *FuncBuilder) Local(i int) uint16 { return fb.locals[i] }

// Emit appends a statement and returns its index.
func (fb *FuncBuilder) Emit(op Opcode, a, b, c uint16) int {
	fb.b.statements = append(fb.b.statements, Statement{Op: op, A: a, B: b, C: c})
	return len(fb.b.statements) - 1
}

// Label returns the index of the next statement to be emitted.
func (fb *FuncBuilder) Label() int { return len(fb.b.statements) }

// Goto emits an unconditional branch to target.
func (fb *FuncBuilder) Goto(target int) int {
	at := fb.Label()
	return fb.Emit(OpGoto, uint16(int16(target-at)), 0, 0)
}

// If emits a conditional branch taken when cond is true (OpIf) or false
// (OpIfNot).
func (fb *FuncBuilder) If(op Opcode, cond uint16, target int) int {
	at := fb.Label()
	return fb.Emit(op, cond, uint16(int16(target-at)), 0)
}

// Patch retargets the branch at index at.
func (fb *FuncBuilder) Patch(at, target int) {
	st := &fb.b.statements[at]
	off := uint16(int16(target - at))
	if st.Op == OpGoto {
		st.A = off
	} else {
		st.B = off
	}
}

// Call copies scalar args into the parameter slots and calls the named
// function. Vector arguments are staged with OpStoreV followed by
// CallStaged.
func (fb *FuncBuilder) Call(name string, args ...uint16) int {
	for i, a := range args {
		fb.Emit(OpStoreF, a, uint16(ParmOfs(i)), 0)
	}
	return fb.CallStaged(name, len(args))
}

// CallStaged calls the named function with argc already staged arguments.
func (fb *FuncBuilder) CallStaged(name string, argc int) int {
	return fb.Emit(OpCall0+Opcode(argc), fb.b.FuncRef(name), 0, 0)
}

// Return emits RETURN with the value at ofs.
func (fb *FuncBuilder) Return(ofs uint16) int {
	return fb.Emit(OpReturn, ofs, 0, 0)
}

// End terminates the function with DONE.
func (fb *FuncBuilder) End() {
	fb.Emit(OpDone, 0, 0, 0)
}

// Encode serializes the program into the binary image format.
func (b *Builder) Encode() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	globals := make(Cells, len(b.globals))
	copy(globals, b.globals)
	for name, ref := range b.funcRefs {
		idx, ok := b.funcs[name]
		if !ok {
			return nil, fmt.Errorf("builder: function %q referenced but not defined", name)
		}
		globals[ref] = uint32(idx)
	}

	var h Header
	h.Version = Version
	h.CRC = HeaderCRC
	ofs := int32(HeaderSize)

	h.OfsStatements, h.NumStatements = ofs, int32(len(b.statements))
	ofs += h.NumStatements * StatementSize
	h.OfsGlobalDefs, h.NumGlobalDefs = ofs, int32(len(b.globalDefs))
	ofs += h.NumGlobalDefs * DefSize
	h.OfsFieldDefs, h.NumFieldDefs = ofs, int32(len(b.fieldDefs))
	ofs += h.NumFieldDefs * DefSize
	h.OfsFunctions, h.NumFunctions = ofs, int32(len(b.functions))
	ofs += h.NumFunctions * FunctionSize
	h.OfsStrings, h.NumStrings = ofs, int32(len(b.strings))
	ofs += h.NumStrings
	// Globals are cell aligned.
	ofs = (ofs + 3) &^ 3
	h.OfsGlobals, h.NumGlobals = ofs, int32(len(globals))
	ofs += h.NumGlobals * CellSize
	h.EntityFields = int32(b.numFields)

	out := make([]byte, ofs)
	le := binary.LittleEndian
	words := []int32{
		h.Version, h.CRC,
		h.OfsStatements, h.NumStatements,
		h.OfsGlobalDefs, h.NumGlobalDefs,
		h.OfsFieldDefs, h.NumFieldDefs,
		h.OfsFunctions, h.NumFunctions,
		h.OfsStrings, h.NumStrings,
		h.OfsGlobals, h.NumGlobals,
		h.EntityFields,
	}
	for i, w := range words {
		le.PutUint32(out[i*4:], uint32(w))
	}
	for i, st := range b.statements {
		p := out[int(h.OfsStatements)+i*StatementSize:]
		le.PutUint16(p, uint16(st.Op))
		le.PutUint16(p[2:], st.A)
		le.PutUint16(p[4:], st.B)
		le.PutUint16(p[6:], st.C)
	}
	putDefs := func(at int32, defs []Def) {
		for i, d := range defs {
			p := out[int(at)+i*DefSize:]
			le.PutUint16(p, d.Type)
			le.PutUint16(p[2:], d.Ofs)
			le.PutUint32(p[4:], uint32(d.Name))
		}
	}
	putDefs(h.OfsGlobalDefs, b.globalDefs)
	putDefs(h.OfsFieldDefs, b.fieldDefs)
	for i, fn := range b.functions {
		p := out[int(h.OfsFunctions)+i*FunctionSize:]
		for j, w := range []int32{fn.FirstStatement, fn.ParmStart, fn.Locals, fn.Profile, fn.Name, fn.File, fn.NumParms} {
			le.PutUint32(p[j*4:], uint32(w))
		}
		copy(p[28:36], fn.ParmSize[:])
	}
	copy(out[h.OfsStrings:], b.strings)
	for i, c := range globals {
		le.PutUint32(out[int(h.OfsGlobals)+i*CellSize:], c)
	}
	return out, nil
}

// Image encodes and loads the program.
func (b *Builder) Image() (*Image, error) {
	raw, err := b.Encode()
	if err != nil {
		return nil, err
	}
	return LoadFromBytes(raw)
}

// MustImage is like Image but panics on error. It is meant for tests and
// fixtures.
func (b *Builder) MustImage() *Image {
	img, err := b.Image()
	if err != nil {
		panic(err)
	}
	return img
}
