// Package progs implements the compiled program image ("progs.dat") format.
//
// A program image is a flat little-endian file with a fixed header followed
// by six sections:
//   - Statements: opcode plus three 16-bit operand offsets into Globals
//   - Global definitions: typed, named offsets into Globals
//   - Field definitions: typed, named offsets into an entity field block
//   - Functions: entry statement, parameter layout, locals, names
//   - Strings: NUL separated string table
//   - Globals: the register file, 4-byte cells
//
// The loader decodes every record into host order, validates the header
// version and schema checksum, and checks every cross reference before the
// image is handed to the interpreter.
package progs

import "fmt"

// Format constants.
const (
	// Version is the only accepted image format version.
	Version = 6

	// HeaderCRC is the checksum of the system globals/fields schema the
	// engine was built against. Images compiled against another schema are
	// rejected.
	HeaderCRC = 5927

	// MaxParms is the maximum number of parameters a function can declare.
	MaxParms = 8

	// SaveGlobal is the persist bit carried in a definition's type word.
	SaveGlobal = 1 << 15
)

// Record sizes in bytes.
const (
	HeaderSize    = 15 * 4
	StatementSize = 8
	DefSize       = 8
	FunctionSize  = 36
	CellSize      = 4
)

// Reserved global offsets used by the calling convention.
const (
	OfsNull     = 0
	OfsReturn   = 1
	OfsParm0    = 4
	OfsParm1    = 7
	OfsParm2    = 10
	OfsParm3    = 13
	OfsParm4    = 16
	OfsParm5    = 19
	OfsParm6    = 22
	OfsParm7    = 25
	ReservedOfs = 28
)

// ParmOfs returns the global offset of parameter slot i.
func ParmOfs(i int) int {
	return OfsParm0 + i*3
}

// Etype is the type tag of a definition.
type Etype uint16

// Type tags.
const (
	EvVoid Etype = iota
	EvString
	EvFloat
	EvVector
	EvEntity
	EvField
	EvFunction
	EvPointer
)

var etypeNames = [...]string{
	EvVoid:     "void",
	EvString:   "string",
	EvFloat:    "float",
	EvVector:   "vector",
	EvEntity:   "entity",
	EvField:    "field",
	EvFunction: "function",
	EvPointer:  "pointer",
}

// String returns the type name.
func (t Etype) String() string {
	if int(t) < len(etypeNames) {
		return etypeNames[t]
	}
	return fmt.Sprintf("etype(%d)", uint16(t))
}

// Size returns the number of cells a value of this type occupies.
func (t Etype) Size() int {
	if t == EvVector {
		return 3
	}
	return 1
}

// Valid reports whether t is one of the known tags.
func (t Etype) Valid() bool {
	return t <= EvPointer
}

// Header is the fixed image header.
type Header struct {
	Version       int32
	CRC           int32
	OfsStatements int32
	NumStatements int32
	OfsGlobalDefs int32
	NumGlobalDefs int32
	OfsFieldDefs  int32
	NumFieldDefs  int32
	OfsFunctions  int32
	NumFunctions  int32
	OfsStrings    int32
	NumStrings    int32 // bytes
	OfsGlobals    int32
	NumGlobals    int32 // cells
	EntityFields  int32 // cells per entity
}

// Statement is one decoded instruction.
type Statement struct {
	Op Opcode
	A  uint16
	B  uint16
	C  uint16
}

// BranchA returns the A operand as a signed branch offset.
func (s Statement) BranchA() int { return int(int16(s.A)) }

// BranchB returns the B operand as a signed branch offset.
func (s Statement) BranchB() int { return int(int16(s.B)) }

// Def describes a named global or field.
type Def struct {
	Type uint16 // Etype plus SaveGlobal bit
	Ofs  uint16
	Name int32
}

// Kind returns the type tag without the persist bit.
func (d *Def) Kind() Etype {
	return Etype(d.Type &^ SaveGlobal)
}

// Persist reports whether the definition carries the persist bit.
func (d *Def) Persist() bool {
	return d.Type&SaveGlobal != 0
}

// Func is an index into the function table. Zero is the null function.
type Func int32

// Function describes a compiled or builtin function.
type Function struct {
	FirstStatement int32 // negative: builtin number
	ParmStart      int32
	Locals         int32 // total parameter and local cells
	Profile        int32 // statements executed, reset by profile reports
	Name           int32
	File           int32
	NumParms       int32
	ParmSize       [MaxParms]uint8
}

// IsBuiltin reports whether the function is implemented natively.
func (f *Function) IsBuiltin() bool {
	return f.FirstStatement < 0
}

// BuiltinNumber returns the builtin table index of a native function.
func (f *Function) BuiltinNumber() int {
	return int(-f.FirstStatement)
}
