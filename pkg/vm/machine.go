// Package vm implements the progs interpreter.
//
// A Machine executes functions of one loaded image against the image's
// globals and an entity pool. Execution is synchronous and single threaded:
// Execute runs to completion or aborts with a *RuntimeError. Builtins may
// call Execute recursively; nested calls share the call and locals stacks.
package vm

import (
	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/valuefmt"
)

// Interpreter limits.
const (
	DefaultMaxStackDepth   = 32
	DefaultLocalStackSize  = 2048
	DefaultStatementBudget = 100000
	DefaultThinkInterval   = 0.1
)

// Config configures a Machine.
type Config struct {
	// MaxStackDepth is the maximum number of active function frames.
	MaxStackDepth int

	// LocalStackSize is the capacity in cells of the locals save area.
	LocalStackSize int

	// StatementBudget is the number of statement fetches allowed per
	// Execute. The fetch that exhausts it is a runaway error.
	StatementBudget int

	// BoundsCheck validates entity numbers, field offsets and pointers on
	// every indirect access.
	BoundsCheck bool

	// ThinkInterval is added to time by the STATE opcode.
	ThinkInterval float32

	// Trace starts every Execute with statement tracing on.
	Trace bool

	// Sink receives traces, stack dumps and profiles.
	Sink console.Sink

	Logger zerolog.Logger

	// OnFatal is called once for every aborted top-level Execute, after
	// the interpreter state has been reset.
	OnFatal func(*RuntimeError)
}

// DefaultConfig returns the classic limits.
func DefaultConfig() Config {
	return Config{
		MaxStackDepth:   DefaultMaxStackDepth,
		LocalStackSize:  DefaultLocalStackSize,
		StatementBudget: DefaultStatementBudget,
		BoundsCheck:     true,
		ThinkInterval:   DefaultThinkInterval,
		Sink:            console.Discard,
		Logger:          zerolog.Nop(),
	}
}

// Builtin is a native function. Arguments are read with the Parm helpers
// and results written with the Return helpers. A returned error aborts the
// execution.
type Builtin func(m *Machine) error

// frame is a saved caller context.
type frame struct {
	statement int
	fn        *progs.Function
}

// Machine is one interpreter instance.
type Machine struct {
	cfg Config

	img     *progs.Image
	dir     *directory.Directory
	pool    *edict.Pool
	fmt     *valuefmt.Formatter
	codec   *entfile.Codec
	globals progs.Cells
	sys     edict.SystemGlobals

	builtins []Builtin

	stack      []frame
	localStack []uint32
	localsUsed int

	xfunc      *progs.Function
	xstatement int
	argc       int
	trace      bool
	active     bool

	log zerolog.Logger
}

// New creates a machine for the image behind dir, running against pool.
func New(dir *directory.Directory, pool *edict.Pool, cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = def.MaxStackDepth
	}
	if cfg.LocalStackSize <= 0 {
		cfg.LocalStackSize = def.LocalStackSize
	}
	if cfg.StatementBudget <= 0 {
		cfg.StatementBudget = def.StatementBudget
	}
	if cfg.ThinkInterval == 0 {
		cfg.ThinkInterval = def.ThinkInterval
	}
	if cfg.Sink == nil {
		cfg.Sink = console.Discard
	}
	img := dir.Image()
	f := valuefmt.New(dir)
	return &Machine{
		cfg:        cfg,
		img:        img,
		dir:        dir,
		pool:       pool,
		fmt:        f,
		codec:      entfile.New(dir, pool, f, cfg.Logger),
		globals:    img.Globals,
		sys:        edict.ResolveSystemGlobals(dir),
		stack:      make([]frame, 0, cfg.MaxStackDepth),
		localStack: make([]uint32, cfg.LocalStackSize),
		log:        cfg.Logger,
	}
}

// SetBuiltins installs the builtin table. Slot n serves functions whose
// first statement is -n.
func (m *Machine) SetBuiltins(table []Builtin) { m.builtins = table }

// Builtins returns the installed builtin table.
func (m *Machine) Builtins() []Builtin { return m.builtins }

// SetActive marks the server as running. While active, taking the address
// of a world entity field is an error.
func (m *Machine) SetActive(active bool) { m.active = active }

// SetTrace turns statement tracing on or off for the current execution.
func (m *Machine) SetTrace(on bool) { m.trace = on }

// Image returns the program image.
func (m *Machine) Image() *progs.Image { return m.img }

// Directory returns the name directory.
func (m *Machine) Directory() *directory.Directory { return m.dir }

// Pool returns the entity pool.
func (m *Machine) Pool() *edict.Pool { return m.pool }

// Formatter returns the value formatter.
func (m *Machine) Formatter() *valuefmt.Formatter { return m.fmt }

// Sink returns the diagnostic sink.
func (m *Machine) Sink() console.Sink { return m.cfg.Sink }

// Logger returns the machine's logger.
func (m *Machine) Logger() zerolog.Logger { return m.log }

// Globals returns the global register file.
func (m *Machine) Globals() progs.Cells { return m.globals }

// SystemGlobals returns the resolved system global offsets.
func (m *Machine) SystemGlobals() *edict.SystemGlobals { return &m.sys }

// Depth returns the number of active function frames.
func (m *Machine) Depth() int { return len(m.stack) }

// LocalsUsed returns the number of cells on the locals save area.
func (m *Machine) LocalsUsed() int { return m.localsUsed }

// FunctionName returns the name of the function executing, or "" when idle.
// Inside a builtin it is the calling function.
func (m *Machine) FunctionName() string {
	if m.xfunc == nil {
		return ""
	}
	return m.img.Strings.Lookup(m.xfunc.Name)
}

// Argc returns the argument count of the builtin call in progress.
func (m *Machine) Argc() int { return m.argc }
