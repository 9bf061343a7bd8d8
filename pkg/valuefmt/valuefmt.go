// Package valuefmt renders typed memory cells as text.
//
// Value is the human-readable form used by traces and entity dumps. Ugly is
// the minimal form used by the entity text codec; it parses back with
// entfile.ParseEpair.
package valuefmt

import (
	"fmt"
	"strings"

	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// Formatter renders values against one image.
type Formatter struct {
	dir *directory.Directory
}

// New returns a formatter resolving names through dir.
func New(dir *directory.Directory) *Formatter {
	return &Formatter{dir: dir}
}

func (f *Formatter) str(ofs int32) string {
	s, err := f.dir.Image().Strings.String(ofs)
	if err != nil {
		return fmt.Sprintf("bad string %d", ofs)
	}
	return s
}

func (f *Formatter) funcName(v int32) string {
	img := f.dir.Image()
	fn, ok := img.Function(progs.Func(v))
	if !ok {
		return fmt.Sprintf("bad function %d", v)
	}
	return f.str(fn.Name)
}

func (f *Formatter) fieldName(v int32) string {
	def, ok := f.dir.FieldAtOfs(int(v))
	if !ok {
		return fmt.Sprintf("bad field %d", v)
	}
	return f.str(def.Name)
}

// Value returns the diagnostic rendering of the value at val[0] with the
// definition type typ. The persist bit is ignored.
func (f *Formatter) Value(typ uint16, val progs.Cells) string {
	t := progs.Etype(typ &^ progs.SaveGlobal)
	switch t {
	case progs.EvString:
		return f.str(val.Int(0))
	case progs.EvEntity:
		return fmt.Sprintf("entity %d", val.Int(0))
	case progs.EvFunction:
		return f.funcName(val.Int(0)) + "()"
	case progs.EvField:
		return "." + f.fieldName(val.Int(0))
	case progs.EvVoid:
		return "void"
	case progs.EvFloat:
		return fmt.Sprintf("%5.1f", val.Float(0))
	case progs.EvVector:
		v := val.Vector(0)
		return fmt.Sprintf("'%5.1f %5.1f %5.1f'", v[0], v[1], v[2])
	case progs.EvPointer:
		return "pointer"
	default:
		return fmt.Sprintf("bad type %d", t)
	}
}

// Ugly returns the serialization rendering of a value. Pointers have no
// serial form and render as a bad type.
func (f *Formatter) Ugly(typ uint16, val progs.Cells) string {
	t := progs.Etype(typ &^ progs.SaveGlobal)
	switch t {
	case progs.EvString:
		return f.str(val.Int(0))
	case progs.EvEntity:
		return fmt.Sprintf("%d", val.Int(0))
	case progs.EvFunction:
		return f.funcName(val.Int(0))
	case progs.EvField:
		return f.fieldName(val.Int(0))
	case progs.EvVoid:
		return "void"
	case progs.EvFloat:
		return fmt.Sprintf("%f", val.Float(0))
	case progs.EvVector:
		v := val.Vector(0)
		return fmt.Sprintf("%f %f %f", v[0], v[1], v[2])
	default:
		return fmt.Sprintf("bad type %d", t)
	}
}

func pad(s string, width int) string {
	if n := width - len(s); n > 0 {
		s += strings.Repeat(" ", n)
	}
	return s + " "
}

// Global describes a global and its contents, padded for trace columns.
func (f *Formatter) Global(ofs int) string {
	img := f.dir.Image()
	def, ok := f.dir.GlobalAtOfs(ofs)
	var line string
	if !ok || ofs >= len(img.Globals) {
		line = fmt.Sprintf("%d (?!?)", ofs)
	} else {
		line = fmt.Sprintf("%d (%s)%s", ofs, f.str(def.Name), f.Value(def.Type, img.Globals[ofs:]))
	}
	return pad(line, 30)
}

// GlobalNoContents describes a global without its value.
func (f *Formatter) GlobalNoContents(ofs int) string {
	def, ok := f.dir.GlobalAtOfs(ofs)
	var line string
	if !ok {
		line = fmt.Sprintf("%d(?!?)", ofs)
	} else {
		line = fmt.Sprintf("%d(%s)", ofs, f.str(def.Name))
	}
	return pad(line, 20)
}
