package vm

import (
	"github.com/fortiblox/progsvm/internal/types"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// ParmFloat returns float argument i of the builtin call in progress.
func (m *Machine) ParmFloat(i int) float32 { return m.globals.Float(progs.ParmOfs(i)) }

// ParmInt returns the raw cell of argument i.
func (m *Machine) ParmInt(i int) int32 { return m.globals.Int(progs.ParmOfs(i)) }

// ParmVector returns vector argument i.
func (m *Machine) ParmVector(i int) types.Vec3 { return m.globals.Vector(progs.ParmOfs(i)) }

// ParmString returns string argument i.
func (m *Machine) ParmString(i int) (string, error) {
	return m.img.Strings.String(m.ParmInt(i))
}

// ParmEntity returns entity argument i.
func (m *Machine) ParmEntity(i int) (*edict.Edict, error) {
	return m.pool.Num(int(m.ParmInt(i)))
}

// ReturnFloat sets the return value.
func (m *Machine) ReturnFloat(v float32) {
	m.globals.SetFloat(progs.OfsReturn, v)
}

// ReturnInt sets the raw return cell.
func (m *Machine) ReturnInt(v int32) {
	m.globals.SetInt(progs.OfsReturn, v)
}

// ReturnVector sets the vector return value.
func (m *Machine) ReturnVector(v types.Vec3) {
	m.globals.SetVector(progs.OfsReturn, v)
}

// ReturnString interns s and returns it.
func (m *Machine) ReturnString(s string) {
	m.ReturnInt(m.img.Strings.Intern(s))
}

// ReturnTempString returns s through the string table's scratch slot. The
// program sees the value until the next temp string is produced.
func (m *Machine) ReturnTempString(s string) {
	m.ReturnInt(m.img.Strings.Temp(s))
}

// ReturnEntity returns e, or the world when e is nil.
func (m *Machine) ReturnEntity(e *edict.Edict) {
	if e == nil {
		m.ReturnInt(0)
		return
	}
	m.ReturnInt(int32(e.Index()))
}

func (m *Machine) globalInt(ofs int) int32 {
	if ofs < 0 {
		return 0
	}
	return m.globals.Int(ofs)
}

func (m *Machine) selfIndex() int32 { return m.globalInt(m.sys.Self) }

// Self returns the entity in the self global.
func (m *Machine) Self() (*edict.Edict, error) {
	return m.pool.Num(int(m.selfIndex()))
}

// Time returns the time global, or 0 if the program does not declare it.
func (m *Machine) Time() float32 {
	if m.sys.Time < 0 {
		return 0
	}
	return m.globals.Float(m.sys.Time)
}

// SetGlobalFloat sets a float global by offset. Negative offsets, used for
// globals the program does not declare, are ignored.
func (m *Machine) SetGlobalFloat(ofs int, v float32) {
	if ofs >= 0 {
		m.globals.SetFloat(ofs, v)
	}
}

// SetGlobalVector sets a vector global by offset.
func (m *Machine) SetGlobalVector(ofs int, v types.Vec3) {
	if ofs >= 0 {
		m.globals.SetVector(ofs, v)
	}
}

// SetGlobalEntity points an entity global at e.
func (m *Machine) SetGlobalEntity(ofs int, e *edict.Edict) {
	if ofs < 0 {
		return
	}
	var n int32
	if e != nil {
		n = int32(e.Index())
	}
	m.globals.SetInt(ofs, n)
}

// SetGlobalString interns s into a string global.
func (m *Machine) SetGlobalString(ofs int, s string) {
	if ofs >= 0 {
		m.globals.SetInt(ofs, m.img.Strings.Intern(s))
	}
}
