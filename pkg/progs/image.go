package progs

import (
	"github.com/fortiblox/progsvm/internal/types"
)

// Image is a loaded program. Everything except Globals, the function
// profile counters and the string table's interned tail is immutable after
// load. An image is discarded wholesale on reload.
type Image struct {
	Header     Header
	Statements []Statement
	Functions  []Function
	GlobalDefs []Def
	FieldDefs  []Def
	Strings    *StringTable
	Globals    Cells

	// CRC is the running checksum of the raw image bytes.
	CRC uint16

	// Fingerprint is the blake3 digest of the raw image bytes.
	Fingerprint types.Fingerprint

	// EdictSize is the entity field block stride in cells.
	EdictSize int

	// Size is the raw image size in bytes.
	Size int

	// block is the resident copy handed out by the allocator.
	block []byte
}

// Function returns the descriptor for f, or false if f is out of range.
func (img *Image) Function(f Func) (*Function, bool) {
	if f < 0 || int(f) >= len(img.Functions) {
		return nil, false
	}
	return &img.Functions[f], true
}

// FunctionName returns the name of f for diagnostics.
func (img *Image) FunctionName(f Func) string {
	fn, ok := img.Function(f)
	if !ok {
		return ""
	}
	return img.Strings.Lookup(fn.Name)
}

// Name returns the name of a definition.
func (img *Image) Name(d *Def) string {
	return img.Strings.Lookup(d.Name)
}

// FuncIndex returns the table index of a descriptor obtained from this image.
func (img *Image) FuncIndex(fn *Function) Func {
	for i := range img.Functions {
		if &img.Functions[i] == fn {
			return Func(i)
		}
	}
	return 0
}

// ResetGlobals copies the initial global values from the resident image
// back into Globals. The slice itself is kept so existing views stay valid.
func (img *Image) ResetGlobals() {
	decodeGlobals(img.Globals, img.block, &img.Header)
}

// Reset returns the image to its state right after load: initial globals
// and no interned strings.
func (img *Image) Reset() {
	img.ResetGlobals()
	img.Strings.Reset()
}

// Resident returns the allocator block holding the raw image.
func (img *Image) Resident() []byte {
	return img.block
}
