// Package builtins implements the standard native functions available to
// progs.
//
// Builtins are bound to fixed table slots; a program declares a builtin by
// giving a function the negated slot number as its first statement. Slot 0
// and every slot without an implementation fault when called.
package builtins

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/vm"
)

// Builtin errors.
var (
	ErrUnimplemented = errors.New("unimplemented builtin")
	ErrProgramError  = errors.New("Program error")
	ErrBadSearch     = errors.New("bad search string")
	ErrBadField      = errors.New("bad field offset")
)

// Config configures the standard set.
type Config struct {
	// Developer enables dprint output.
	Developer bool

	// Random returns a value in [0, 1]. Defaults to math/rand/v2.
	Random func() float32

	// Codec renders entities for error, objerror and eprint. Without it
	// those builtins print only the entity number.
	Codec *entfile.Codec

	Logger zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Random: rand.Float32,
		Logger: zerolog.Nop(),
	}
}

type entry struct {
	name  string
	parms []progs.Etype
	fn    vm.Builtin
}

// Registry holds the builtin table.
type Registry struct {
	cfg     Config
	entries map[int]entry
	log     zerolog.Logger
}

// NewRegistry creates a registry with every standard builtin.
func NewRegistry(cfg Config) *Registry {
	if cfg.Random == nil {
		cfg.Random = rand.Float32
	}
	r := &Registry{
		cfg:     cfg,
		entries: make(map[int]entry),
		log:     cfg.Logger,
	}
	r.register(0, "fixme", fixme)
	r.registerMath()
	r.registerEntity()
	r.registerDebug()
	return r
}

func (r *Registry) register(num int, name string, fn vm.Builtin, parms ...progs.Etype) {
	r.entries[num] = entry{name: name, parms: parms, fn: fn}
}

// Register binds fn to slot num, replacing any standard builtin there.
func (r *Registry) Register(num int, name string, fn vm.Builtin, parms ...progs.Etype) {
	r.register(num, name, fn, parms...)
}

// Table returns the dispatch table. Slots without a builtin fault.
func (r *Registry) Table() []vm.Builtin {
	n := 0
	for num := range r.entries {
		if num+1 > n {
			n = num + 1
		}
	}
	table := make([]vm.Builtin, n)
	for i := range table {
		if e, ok := r.entries[i]; ok {
			table[i] = e.fn
		} else {
			table[i] = fixme
		}
	}
	return table
}

// Install sets m's builtin table.
func (r *Registry) Install(m *vm.Machine) {
	m.SetBuiltins(r.Table())
	r.log.Debug().Int("builtins", len(r.entries)).Msg("builtins installed")
}

// Name returns the name registered at slot num.
func (r *Registry) Name(num int) string {
	return r.entries[num].name
}

// Declare declares every registered builtin except fixme on a builder, in
// slot order.
func (r *Registry) Declare(b *progs.Builder) {
	nums := make([]int, 0, len(r.entries))
	for num := range r.entries {
		if num != 0 {
			nums = append(nums, num)
		}
	}
	sort.Ints(nums)
	for _, num := range nums {
		e := r.entries[num]
		b.Builtin(e.name, num, e.parms...)
	}
}

func fixme(m *vm.Machine) error {
	return ErrUnimplemented
}
