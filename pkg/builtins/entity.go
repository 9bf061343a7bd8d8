package builtins

import (
	"fmt"

	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/vm"
)

func (r *Registry) registerEntity() {
	r.register(2, "setorigin", func(m *vm.Machine) error {
		e, err := m.ParmEntity(0)
		if err != nil {
			return err
		}
		e.SetVector(m.Pool().Fields().Origin, m.ParmVector(1))
		return nil
	}, progs.EvEntity, progs.EvVector)

	r.register(14, "spawn", func(m *vm.Machine) error {
		e, err := m.Pool().Alloc()
		if err != nil {
			return fmt.Errorf("ED_Alloc: %w", err)
		}
		r.log.Trace().Int("edict", e.Index()).Msg("spawn")
		m.ReturnEntity(e)
		return nil
	})

	r.register(15, "remove", func(m *vm.Machine) error {
		e, err := m.ParmEntity(0)
		if err != nil {
			return err
		}
		return m.Pool().Remove(e)
	}, progs.EvEntity)

	r.register(18, "find", find, progs.EvEntity, progs.EvField, progs.EvString)

	r.register(47, "nextent", func(m *vm.Machine) error {
		pool := m.Pool()
		for i := int(m.ParmInt(0)) + 1; i < pool.Count(); i++ {
			e, err := pool.Num(i)
			if err != nil {
				return err
			}
			if !e.IsFree() {
				m.ReturnEntity(e)
				return nil
			}
		}
		m.ReturnEntity(nil)
		return nil
	}, progs.EvEntity)
}

// find returns the next entity after the first argument whose string field
// equals the search string, or the world.
func find(m *vm.Machine) error {
	pool := m.Pool()
	start := int(m.ParmInt(0))
	field := int(m.ParmInt(1))
	if field < 0 || field >= pool.Stride() {
		return fmt.Errorf("find: %w %d", ErrBadField, field)
	}
	s, err := m.ParmString(2)
	if err != nil {
		return fmt.Errorf("find: %w: %w", ErrBadSearch, err)
	}

	strs := m.Image().Strings
	for i := start + 1; i < pool.Count(); i++ {
		e, err := pool.Num(i)
		if err != nil {
			return err
		}
		if e.IsFree() {
			continue
		}
		ofs := e.Int(field)
		if ofs == 0 {
			continue
		}
		if t, err := strs.String(ofs); err == nil && t == s {
			m.ReturnEntity(e)
			return nil
		}
	}
	m.ReturnEntity(nil)
	return nil
}

// self returns the self entity, which error reports print.
func self(m *vm.Machine) *edict.Edict {
	e, err := m.Self()
	if err != nil {
		return nil
	}
	return e
}
