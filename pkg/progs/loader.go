package progs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/internal/types"
)

// Load errors.
var (
	ErrTruncated     = errors.New("image truncated")
	ErrTooLarge      = errors.New("image too large")
	ErrBadVersion    = errors.New("wrong version number")
	ErrBadChecksum   = errors.New("system vars have been modified, header checksum mismatch")
	ErrBadSection    = errors.New("section out of bounds")
	ErrInvalidImage  = errors.New("invalid image")
	ErrSavedFieldDef = errors.New("field definition carries the persist bit")
)

// MaxImageSize bounds the accepted input.
const MaxImageSize = 32 * 1024 * 1024

// LoadError is returned for every load failure.
type LoadError struct {
	Err   error // one of the sentinel errors above
	Cause error // optional detail
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("progs: %v: %v", e.Err, e.Cause)
	}
	return "progs: " + e.Err.Error()
}

// Unwrap returns the sentinel and the detail.
func (e *LoadError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func loadErr(err error, format string, args ...any) *LoadError {
	if format == "" {
		return &LoadError{Err: err}
	}
	return &LoadError{Err: err, Cause: fmt.Errorf(format, args...)}
}

// Allocator supplies zeroed storage blocks. AllocCells returns n cells
// viewed as one block. Allocation failure is reported by panicking.
type Allocator interface {
	Alloc(size int, name string) []byte
	AllocCells(n int, name string) []uint32
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

// Alloc implements Allocator.
func (HeapAllocator) Alloc(size int, name string) []byte {
	return make([]byte, size)
}

// AllocCells implements Allocator.
func (HeapAllocator) AllocCells(n int, name string) []uint32 {
	return make([]uint32, n)
}

// Loader decodes program images.
type Loader struct {
	alloc Allocator
	log   zerolog.Logger
}

// NewLoader creates a loader. A nil allocator uses the Go heap.
func NewLoader(alloc Allocator, log zerolog.Logger) *Loader {
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	return &Loader{alloc: alloc, log: log}
}

// Load parses, byte-swaps and validates a raw image.
func (l *Loader) Load(data []byte) (*Image, error) {
	if len(data) > MaxImageSize {
		return nil, loadErr(ErrTooLarge, "%d bytes", len(data))
	}
	if len(data) < HeaderSize {
		return nil, loadErr(ErrTruncated, "%d bytes, header needs %d", len(data), HeaderSize)
	}

	// Checksums are taken over the bytes exactly as supplied.
	crc := CRC16(data)
	fingerprint := types.ComputeFingerprint(data)

	block := l.alloc.Alloc(len(data), "progs")
	copy(block, data)

	header := parseHeader(block)
	if header.Version != Version {
		return nil, loadErr(ErrBadVersion, "%d should be %d", header.Version, Version)
	}
	if header.CRC != HeaderCRC {
		return nil, loadErr(ErrBadChecksum, "%d should be %d", header.CRC, HeaderCRC)
	}

	if err := checkSections(&header, len(block)); err != nil {
		return nil, err
	}

	img := &Image{
		Header:      header,
		CRC:         crc,
		Fingerprint: fingerprint,
		EdictSize:   int(header.EntityFields),
		Size:        len(data),
		block:       block,
	}

	img.Statements = parseStatements(block, &header)
	img.GlobalDefs = parseDefs(block, header.OfsGlobalDefs, header.NumGlobalDefs)
	img.FieldDefs = parseDefs(block, header.OfsFieldDefs, header.NumFieldDefs)
	img.Functions = parseFunctions(block, &header)
	img.Strings = NewStringTable(block[header.OfsStrings:header.OfsStrings+header.NumStrings], l.alloc)
	img.Globals = Cells(l.alloc.AllocCells(int(header.NumGlobals), "globals"))
	img.ResetGlobals()

	for i := range img.FieldDefs {
		if img.FieldDefs[i].Persist() {
			return nil, loadErr(ErrSavedFieldDef, "field def %d", i)
		}
	}

	if err := validate(img); err != nil {
		return nil, &LoadError{Err: ErrInvalidImage, Cause: err}
	}

	l.log.Debug().
		Int("bytes", len(data)).
		Int32("statements", header.NumStatements).
		Int32("functions", header.NumFunctions).
		Int32("globaldefs", header.NumGlobalDefs).
		Int32("fielddefs", header.NumFieldDefs).
		Int32("globals", header.NumGlobals).
		Int32("entityfields", header.EntityFields).
		Uint16("crc", crc).
		Str("fingerprint", fingerprint.Short()).
		Msg("progs loaded")

	return img, nil
}

// LoadFromBytes loads an image using the Go heap and no logging.
func LoadFromBytes(data []byte) (*Image, error) {
	return NewLoader(nil, zerolog.Nop()).Load(data)
}

// parseHeader decodes the header words to host order.
func parseHeader(data []byte) Header {
	var w [15]int32
	for i := range w {
		w[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return Header{
		Version:       w[0],
		CRC:           w[1],
		OfsStatements: w[2],
		NumStatements: w[3],
		OfsGlobalDefs: w[4],
		NumGlobalDefs: w[5],
		OfsFieldDefs:  w[6],
		NumFieldDefs:  w[7],
		OfsFunctions:  w[8],
		NumFunctions:  w[9],
		OfsStrings:    w[10],
		NumStrings:    w[11],
		OfsGlobals:    w[12],
		NumGlobals:    w[13],
		EntityFields:  w[14],
	}
}

// checkSections verifies every section lies inside the image.
func checkSections(h *Header, size int) error {
	sections := []struct {
		name     string
		ofs, num int32
		recSize  int
	}{
		{"statements", h.OfsStatements, h.NumStatements, StatementSize},
		{"globaldefs", h.OfsGlobalDefs, h.NumGlobalDefs, DefSize},
		{"fielddefs", h.OfsFieldDefs, h.NumFieldDefs, DefSize},
		{"functions", h.OfsFunctions, h.NumFunctions, FunctionSize},
		{"strings", h.OfsStrings, h.NumStrings, 1},
		{"globals", h.OfsGlobals, h.NumGlobals, CellSize},
	}
	for _, s := range sections {
		if s.ofs < 0 || s.num < 0 {
			return loadErr(ErrBadSection, "%s: offset %d count %d", s.name, s.ofs, s.num)
		}
		end := int64(s.ofs) + int64(s.num)*int64(s.recSize)
		if end > int64(size) {
			return loadErr(ErrBadSection, "%s: ends at %d, image is %d bytes", s.name, end, size)
		}
	}
	if h.EntityFields < 0 {
		return loadErr(ErrBadSection, "entityfields: %d", h.EntityFields)
	}
	return nil
}

func parseStatements(data []byte, h *Header) []Statement {
	out := make([]Statement, h.NumStatements)
	for i := range out {
		off := int(h.OfsStatements) + i*StatementSize
		out[i] = Statement{
			Op: Opcode(binary.LittleEndian.Uint16(data[off:])),
			A:  binary.LittleEndian.Uint16(data[off+2:]),
			B:  binary.LittleEndian.Uint16(data[off+4:]),
			C:  binary.LittleEndian.Uint16(data[off+6:]),
		}
	}
	return out
}

func parseDefs(data []byte, ofs, num int32) []Def {
	out := make([]Def, num)
	for i := range out {
		off := int(ofs) + i*DefSize
		out[i] = Def{
			Type: binary.LittleEndian.Uint16(data[off:]),
			Ofs:  binary.LittleEndian.Uint16(data[off+2:]),
			Name: int32(binary.LittleEndian.Uint32(data[off+4:])),
		}
	}
	return out
}

func parseFunctions(data []byte, h *Header) []Function {
	out := make([]Function, h.NumFunctions)
	for i := range out {
		off := int(h.OfsFunctions) + i*FunctionSize
		word := func(n int) int32 {
			return int32(binary.LittleEndian.Uint32(data[off+n*4:]))
		}
		f := &out[i]
		f.FirstStatement = word(0)
		f.ParmStart = word(1)
		f.Locals = word(2)
		f.Profile = word(3)
		f.Name = word(4)
		f.File = word(5)
		f.NumParms = word(6)
		copy(f.ParmSize[:], data[off+28:off+36])
	}
	return out
}

func decodeGlobals(out Cells, data []byte, h *Header) {
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[int(h.OfsGlobals)+i*CellSize:])
	}
}

// validate checks every cross reference so the interpreter can trust
// statement operands and descriptor offsets. All problems are reported.
func validate(img *Image) error {
	var result *multierror.Error
	h := &img.Header
	numGlobals := int(h.NumGlobals)
	strings := img.Strings.Len()

	for i, st := range img.Statements {
		roles, widths := st.Op.operandRoles(), st.Op.operandWidths()
		for j, v := range [3]uint16{st.A, st.B, st.C} {
			if roles[j] == operandGlobal && int(v)+widths[j] > numGlobals {
				result = multierror.Append(result,
					fmt.Errorf("statement %d (%v): operand %c=%d+%d beyond %d globals", i, st.Op, 'a'+j, v, widths[j], numGlobals))
			}
		}
	}

	for i := range img.Functions {
		f := &img.Functions[i]
		if !f.IsBuiltin() && i != 0 && int(f.FirstStatement) >= len(img.Statements) {
			result = multierror.Append(result,
				fmt.Errorf("function %d: first statement %d beyond %d", i, f.FirstStatement, len(img.Statements)))
		}
		if f.NumParms < 0 || f.NumParms > MaxParms {
			result = multierror.Append(result, fmt.Errorf("function %d: %d parameters", i, f.NumParms))
		}
		if f.Locals < 0 || f.ParmStart < 0 || int(f.ParmStart)+int(f.Locals) > numGlobals {
			result = multierror.Append(result,
				fmt.Errorf("function %d: locals %d+%d beyond %d globals", i, f.ParmStart, f.Locals, numGlobals))
		}
		if f.Name < 0 || int(f.Name) >= strings || f.File < 0 || int(f.File) >= strings {
			result = multierror.Append(result, fmt.Errorf("function %d: name out of string table", i))
		}
	}

	checkDefs := func(kind string, defs []Def, limit int) {
		for i := range defs {
			d := &defs[i]
			if int(d.Ofs)+d.Kind().Size() > limit && d.Kind() != EvVoid {
				result = multierror.Append(result,
					fmt.Errorf("%s %d: offset %d beyond %d", kind, i, d.Ofs, limit))
			}
			if d.Name < 0 || int(d.Name) >= strings {
				result = multierror.Append(result, fmt.Errorf("%s %d: name out of string table", kind, i))
			}
		}
	}
	checkDefs("globaldef", img.GlobalDefs, numGlobals)
	checkDefs("fielddef", img.FieldDefs, int(h.EntityFields))

	return result.ErrorOrNil()
}
