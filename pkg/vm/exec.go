package vm

import (
	"errors"
	"fmt"

	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// fault raises a runtime error. It never returns.
func (m *Machine) fault(kind error, format string, args ...any) {
	panic(m.newError(kind, nil, fmt.Sprintf(format, args...)))
}

func (m *Machine) newError(kind, cause error, msg string) *RuntimeError {
	e := &RuntimeError{
		Kind:      kind,
		Msg:       msg,
		Statement: m.xstatement,
		Trace:     m.traceLines(),
		Cause:     cause,
	}
	if m.xfunc != nil {
		e.Function = m.img.Strings.Lookup(m.xfunc.Name)
	}
	return e
}

// Execute runs function fn to completion.
//
// Called from a builtin, Execute continues on the same call stack; a fault
// in the nested run unwinds to the outermost Execute, which is the only one
// that returns the error.
func (m *Machine) Execute(fn progs.Func) (err error) {
	exitDepth := len(m.stack)
	if exitDepth == 0 {
		m.trace = m.cfg.Trace
		m.xstatement = -1
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if exitDepth > 0 {
			panic(r)
		}
		rerr, ok := r.(*RuntimeError)
		if !ok {
			cause, _ := r.(error)
			rerr = m.newError(ErrPanic, cause, fmt.Sprintf("vm panic: %v", r))
		}
		m.abort(rerr)
		err = rerr
	}()

	f, ok := m.img.Function(fn)
	if !ok || fn == 0 {
		if self := m.selfIndex(); self != 0 {
			if e, err := m.pool.Num(int(self)); err == nil {
				m.codec.PrintEdict(console.Writer(m.cfg.Sink), e)
			}
		}
		m.fault(ErrNullFunction, "NULL function %d (self %d)", fn, m.selfIndex())
	}
	if f.IsBuiltin() {
		m.argc = 0
		m.callBuiltin(f)
		return nil
	}

	m.run(m.enter(f), exitDepth)
	return nil
}

// abort reports a fault and resets the interpreter.
func (m *Machine) abort(rerr *RuntimeError) {
	sink := m.cfg.Sink
	if rerr.Statement >= 0 && rerr.Statement < len(m.img.Statements) {
		m.PrintStatement(m.img.Statements[rerr.Statement])
	}
	for _, line := range rerr.Trace {
		sink.Printf("%s\n", line)
	}
	sink.Printf("%s\n", rerr.Msg)

	m.stack = m.stack[:0]
	m.localsUsed = 0
	m.xfunc = nil

	m.log.Error().
		Err(rerr.Kind).
		Str("func", rerr.Function).
		Int("statement", rerr.Statement).
		Msg(rerr.Msg)

	if m.cfg.OnFatal != nil {
		m.cfg.OnFatal(rerr)
	}
}

// enter pushes a frame for f and returns the statement before its first.
func (m *Machine) enter(f *progs.Function) int {
	if len(m.stack) >= m.cfg.MaxStackDepth {
		m.fault(ErrStackOverflow, "stack overflow")
	}
	m.stack = append(m.stack, frame{statement: m.xstatement, fn: m.xfunc})

	n := int(f.Locals)
	if m.localsUsed+n > len(m.localStack) {
		m.fault(ErrLocalsOverflow, "PR_ExecuteProgram: locals stack overflow")
	}
	start := int(f.ParmStart)
	copy(m.localStack[m.localsUsed:m.localsUsed+n], m.globals[start:start+n])
	m.localsUsed += n

	o := start
	for i := 0; i < int(f.NumParms); i++ {
		for j := 0; j < int(f.ParmSize[i]); j++ {
			m.globals[o] = m.globals[progs.ParmOfs(i)+j]
			o++
		}
	}

	m.xfunc = f
	return int(f.FirstStatement) - 1
}

// leave pops the current frame and returns the caller's statement.
func (m *Machine) leave() int {
	if len(m.stack) == 0 {
		m.fault(ErrStackUnderflow, "prog stack underflow")
	}

	n := int(m.xfunc.Locals)
	m.localsUsed -= n
	if m.localsUsed < 0 {
		m.fault(ErrLocalsUnderflow, "PR_ExecuteProgram: locals stack underflow")
	}
	start := int(m.xfunc.ParmStart)
	copy(m.globals[start:start+n], m.localStack[m.localsUsed:m.localsUsed+n])

	top := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	m.xfunc = top.fn
	return top.statement
}

// callBuiltin dispatches a native function.
func (m *Machine) callBuiltin(f *progs.Function) {
	i := f.BuiltinNumber()
	if i >= len(m.builtins) || m.builtins[i] == nil {
		m.fault(ErrBadBuiltin, "Bad builtin call number %d", i)
	}
	if err := m.builtins[i](m); err != nil {
		var rerr *RuntimeError
		if errors.As(err, &rerr) {
			panic(rerr)
		}
		panic(m.newError(ErrBuiltin, err, err.Error()))
	}
}

// field returns the pool cell index of field ofs (width cells) of entity ent.
func (m *Machine) field(ent, ofs int32, width int) int {
	stride := m.pool.Stride()
	if m.cfg.BoundsCheck {
		if ent < 0 || int(ent) >= m.pool.Count() {
			m.fault(ErrBadEntity, "entity %d out of range (%d in use)", ent, m.pool.Count())
		}
		if ofs < 0 || int(ofs)+width > stride {
			m.fault(ErrBadPointer, "field offset %d out of range (%d fields)", ofs, stride)
		}
	}
	return int(ent)*stride + int(ofs)
}

// pointer returns the pool cell index a pointer cell addresses.
func (m *Machine) pointer(ptr int32, width int) int {
	if !m.cfg.BoundsCheck {
		return int(ptr) / progs.CellSize
	}
	cell, err := m.pool.CellAt(ptr)
	if err == nil && width > 1 {
		_, err = m.pool.CellAt(ptr + int32((width-1)*progs.CellSize))
	}
	if err != nil {
		panic(m.newError(ErrBadPointer, err, err.Error()))
	}
	return cell
}

func (m *Machine) str(ofs int32) string {
	if !m.cfg.BoundsCheck {
		return m.img.Strings.Lookup(ofs)
	}
	s, err := m.img.Strings.String(ofs)
	if err != nil {
		panic(m.newError(ErrBadString, err, err.Error()))
	}
	return s
}

func b2f(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// run is the statement loop. It returns when the frame at exitDepth+1
// returns.
func (m *Machine) run(s, exitDepth int) {
	g := m.globals
	stmts := m.img.Statements
	ents := m.pool.Cells()
	budget := m.cfg.StatementBudget

	for {
		s++
		if s < 0 || s >= len(stmts) {
			m.fault(ErrBadStatement, "statement %d out of range", s)
		}
		m.xstatement = s

		budget--
		if budget == 0 {
			m.fault(ErrRunaway, "runaway loop error")
		}

		m.xfunc.Profile++
		st := stmts[s]
		if m.trace {
			m.PrintStatement(st)
		}

		a, b, c := int(st.A), int(st.B), int(st.C)

		switch st.Op {
		case progs.OpAddF:
			g.SetFloat(c, g.Float(a)+g.Float(b))
		case progs.OpAddV:
			g.SetVector(c, g.Vector(a).Add(g.Vector(b)))
		case progs.OpSubF:
			g.SetFloat(c, g.Float(a)-g.Float(b))
		case progs.OpSubV:
			g.SetVector(c, g.Vector(a).Sub(g.Vector(b)))
		case progs.OpMulF:
			g.SetFloat(c, g.Float(a)*g.Float(b))
		case progs.OpMulV:
			g.SetFloat(c, g.Vector(a).Dot(g.Vector(b)))
		case progs.OpMulFV:
			g.SetVector(c, g.Vector(b).Scale(g.Float(a)))
		case progs.OpMulVF:
			g.SetVector(c, g.Vector(a).Scale(g.Float(b)))
		case progs.OpDivF:
			g.SetFloat(c, g.Float(a)/g.Float(b))

		case progs.OpBitAnd:
			g.SetFloat(c, float32(int32(g.Float(a))&int32(g.Float(b))))
		case progs.OpBitOr:
			g.SetFloat(c, float32(int32(g.Float(a))|int32(g.Float(b))))

		case progs.OpGe:
			g.SetFloat(c, b2f(g.Float(a) >= g.Float(b)))
		case progs.OpLe:
			g.SetFloat(c, b2f(g.Float(a) <= g.Float(b)))
		case progs.OpGt:
			g.SetFloat(c, b2f(g.Float(a) > g.Float(b)))
		case progs.OpLt:
			g.SetFloat(c, b2f(g.Float(a) < g.Float(b)))
		case progs.OpAnd:
			g.SetFloat(c, b2f(g.Float(a) != 0 && g.Float(b) != 0))
		case progs.OpOr:
			g.SetFloat(c, b2f(g.Float(a) != 0 || g.Float(b) != 0))

		case progs.OpNotF:
			g.SetFloat(c, b2f(g.Float(a) == 0))
		case progs.OpNotV:
			g.SetFloat(c, b2f(g.Vector(a).IsZero()))
		case progs.OpNotS:
			ofs := g.Int(a)
			g.SetFloat(c, b2f(ofs == 0 || m.str(ofs) == ""))
		case progs.OpNotFnc, progs.OpNotEnt:
			g.SetFloat(c, b2f(g.Int(a) == 0))

		case progs.OpEqF:
			g.SetFloat(c, b2f(g.Float(a) == g.Float(b)))
		case progs.OpEqV:
			g.SetFloat(c, b2f(g.Vector(a) == g.Vector(b)))
		case progs.OpEqS:
			g.SetFloat(c, b2f(m.str(g.Int(a)) == m.str(g.Int(b))))
		case progs.OpEqE, progs.OpEqFnc:
			g.SetFloat(c, b2f(g.Int(a) == g.Int(b)))
		case progs.OpNeF:
			g.SetFloat(c, b2f(g.Float(a) != g.Float(b)))
		case progs.OpNeV:
			g.SetFloat(c, b2f(g.Vector(a) != g.Vector(b)))
		case progs.OpNeS:
			g.SetFloat(c, b2f(m.str(g.Int(a)) != m.str(g.Int(b))))
		case progs.OpNeE, progs.OpNeFnc:
			g.SetFloat(c, b2f(g.Int(a) != g.Int(b)))

		case progs.OpStoreF, progs.OpStoreEnt, progs.OpStoreFld, progs.OpStoreS, progs.OpStoreFnc:
			g[b] = g[a]
		case progs.OpStoreV:
			copy(g[b:b+3], g[a:a+3])

		case progs.OpStorePF, progs.OpStorePEnt, progs.OpStorePFld, progs.OpStorePS, progs.OpStorePFnc:
			ents[m.pointer(g.Int(b), 1)] = g[a]
		case progs.OpStorePV:
			p := m.pointer(g.Int(b), 3)
			copy(ents[p:p+3], g[a:a+3])

		case progs.OpAddress:
			ent := g.Int(a)
			if ent == 0 && m.active {
				m.fault(ErrWorldAssignment, "assignment to world entity")
			}
			m.field(ent, g.Int(b), 1)
			g.SetInt(c, m.pool.Addr(int(ent), int(g.Int(b))))

		case progs.OpLoadF, progs.OpLoadFld, progs.OpLoadEnt, progs.OpLoadS, progs.OpLoadFnc:
			g[c] = ents[m.field(g.Int(a), g.Int(b), 1)]
		case progs.OpLoadV:
			p := m.field(g.Int(a), g.Int(b), 3)
			copy(g[c:c+3], ents[p:p+3])

		case progs.OpIfNot:
			if g.Int(a) == 0 {
				s += st.BranchB() - 1
			}
		case progs.OpIf:
			if g.Int(a) != 0 {
				s += st.BranchB() - 1
			}
		case progs.OpGoto:
			s += st.BranchA() - 1

		case progs.OpCall0, progs.OpCall1, progs.OpCall2, progs.OpCall3, progs.OpCall4,
			progs.OpCall5, progs.OpCall6, progs.OpCall7, progs.OpCall8:
			m.argc = st.Op.CallArgs()
			fn := progs.Func(g.Int(a))
			f, ok := m.img.Function(fn)
			if !ok || fn == 0 {
				m.fault(ErrNullFunction, "NULL function")
			}
			if f.IsBuiltin() {
				m.callBuiltin(f)
				break
			}
			s = m.enter(f)

		case progs.OpDone, progs.OpReturn:
			n := copy(g[progs.OfsReturn:progs.OfsReturn+3], g[a:])
			for ; n < 3; n++ {
				g[progs.OfsReturn+n] = 0
			}
			s = m.leave()
			if len(m.stack) == exitDepth {
				return
			}

		case progs.OpState:
			self, err := m.pool.Num(int(m.globalInt(m.sys.Self)))
			if err != nil {
				panic(m.newError(ErrBadEntity, err, err.Error()))
			}
			fields := m.pool.Fields()
			self.SetFloat(fields.NextThink, m.Time()+m.cfg.ThinkInterval)
			self.SetFloat(fields.Frame, g.Float(a))
			self.SetInt(fields.Think, g.Int(b))

		default:
			m.fault(ErrBadOpcode, "Bad opcode %d", uint16(st.Op))
		}
	}
}
