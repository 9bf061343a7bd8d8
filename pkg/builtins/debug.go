package builtins

import (
	"fmt"
	"strings"

	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/vm"
)

func (r *Registry) registerDebug() {
	r.register(10, "error", func(m *vm.Machine) error {
		msg, err := varString(m, 0)
		if err != nil {
			return err
		}
		m.Sink().Printf("======SERVER ERROR in %s:\n%s\n", m.FunctionName(), msg)
		r.printEdict(m, self(m))
		return fmt.Errorf("%w: %s", ErrProgramError, msg)
	}, progs.EvString)

	r.register(11, "objerror", func(m *vm.Machine) error {
		msg, err := varString(m, 0)
		if err != nil {
			return err
		}
		m.Sink().Printf("======OBJECT ERROR in %s:\n%s\n", m.FunctionName(), msg)
		if e := self(m); e != nil {
			r.printEdict(m, e)
			m.Pool().Free(e)
		}
		return fmt.Errorf("%w: %s", ErrProgramError, msg)
	}, progs.EvString)

	r.register(25, "dprint", func(m *vm.Machine) error {
		if !r.cfg.Developer {
			return nil
		}
		msg, err := varString(m, 0)
		if err != nil {
			return err
		}
		m.Sink().Printf("%s", msg)
		return nil
	}, progs.EvString)

	r.register(31, "eprint", func(m *vm.Machine) error {
		e, err := m.ParmEntity(0)
		if err != nil {
			return err
		}
		r.printEdict(m, e)
		return nil
	}, progs.EvEntity)

	r.register(65, "etos", func(m *vm.Machine) error {
		m.ReturnTempString(fmt.Sprintf("entity %d", m.ParmInt(0)))
		return nil
	}, progs.EvEntity)
}

// varString joins the string arguments from first to the call's argc.
func varString(m *vm.Machine, first int) (string, error) {
	var b strings.Builder
	for i := first; i < m.Argc(); i++ {
		s, err := m.ParmString(i)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (r *Registry) printEdict(m *vm.Machine, e *edict.Edict) {
	if e == nil {
		return
	}
	if r.cfg.Codec == nil {
		m.Sink().Printf("\nEDICT %d:\n", e.Index())
		return
	}
	r.cfg.Codec.PrintEdict(console.Writer(m.Sink()), e)
}
