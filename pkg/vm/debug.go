package vm

import (
	"fmt"
	"strings"

	"github.com/fortiblox/progsvm/pkg/progs"
)

// PrintStatement writes a one line disassembly of st to the sink.
func (m *Machine) PrintStatement(st progs.Statement) {
	m.cfg.Sink.Printf("%s\n", m.FormatStatement(st))
}

// FormatStatement disassembles st in trace column layout.
func (m *Machine) FormatStatement(st progs.Statement) string {
	var b strings.Builder
	if st.Op.Valid() {
		name := st.Op.String()
		b.WriteString(name)
		b.WriteByte(' ')
		for i := len(name); i < 10; i++ {
			b.WriteByte(' ')
		}
	}

	switch {
	case st.Op == progs.OpIf || st.Op == progs.OpIfNot:
		fmt.Fprintf(&b, "%sbranch %d", m.fmt.Global(int(st.A)), st.BranchB())
	case st.Op == progs.OpGoto:
		fmt.Fprintf(&b, "branch %d", st.BranchA())
	case st.Op.IsStore():
		b.WriteString(m.fmt.Global(int(st.A)))
		b.WriteString(m.fmt.GlobalNoContents(int(st.B)))
	default:
		if st.A != 0 {
			b.WriteString(m.fmt.Global(int(st.A)))
		}
		if st.B != 0 {
			b.WriteString(m.fmt.Global(int(st.B)))
		}
		if st.C != 0 {
			b.WriteString(m.fmt.GlobalNoContents(int(st.C)))
		}
	}
	return b.String()
}

// traceLines renders the call stack, innermost first.
func (m *Machine) traceLines() []string {
	if len(m.stack) == 0 {
		return []string{"<NO STACK>"}
	}
	line := func(f *progs.Function) string {
		if f == nil {
			return "<NO FUNCTION>"
		}
		return fmt.Sprintf("%12s : %s", m.img.Strings.Lookup(f.File), m.img.Strings.Lookup(f.Name))
	}
	lines := make([]string, 0, len(m.stack)+1)
	lines = append(lines, line(m.xfunc))
	for i := len(m.stack) - 1; i >= 0; i-- {
		lines = append(lines, line(m.stack[i].fn))
	}
	return lines
}

// StackTrace writes the current call stack to the sink.
func (m *Machine) StackTrace() {
	for _, l := range m.traceLines() {
		m.cfg.Sink.Printf("%s\n", l)
	}
}

// ProfileEntry is one line of a profile report.
type ProfileEntry struct {
	Name  string
	Count int32
}

// Profile returns the n most executed functions, busiest first, and resets
// every function's counter.
func (m *Machine) Profile(n int) []ProfileEntry {
	var out []ProfileEntry
	fns := m.img.Functions
	for {
		var best *progs.Function
		var max int32
		for i := range fns {
			if fns[i].Profile > max {
				max = fns[i].Profile
				best = &fns[i]
			}
		}
		if best == nil {
			return out
		}
		if len(out) < n {
			out = append(out, ProfileEntry{Name: m.img.Strings.Lookup(best.Name), Count: best.Profile})
		}
		best.Profile = 0
	}
}

// PrintProfile writes the ten busiest functions to the sink and resets the
// counters.
func (m *Machine) PrintProfile() {
	for _, e := range m.Profile(10) {
		m.cfg.Sink.Printf("%7d %s\n", e.Count, e.Name)
	}
}
