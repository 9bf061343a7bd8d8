// Package server hosts a loaded program: it owns the storage arena, the
// entity pool and the interpreter, spawns map entities, runs entity thinks
// and reads and writes save games.
//
// A Server is not safe for concurrent use; the simulation is single
// threaded.
package server

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fortiblox/progsvm/pkg/builtins"
	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/directory"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/hunk"
	"github.com/fortiblox/progsvm/pkg/progs"
	"github.com/fortiblox/progsvm/pkg/vm"
)

// Server errors.
var (
	ErrConfigInvalid = errors.New("invalid server configuration")
	ErrNoProgs       = errors.New("no progs loaded")
	ErrProgsMismatch = errors.New("save was written by a different progs")
	ErrNoFunction    = errors.New("function not found")
	ErrNoLevel       = errors.New("no level running")
	ErrBadSave       = errors.New("bad save game")
)

// Spawn flags that keep an entity out of the current game mode.
const (
	SpawnFlagNotEasy       = 256
	SpawnFlagNotMedium     = 512
	SpawnFlagNotHard       = 1024
	SpawnFlagNotDeathmatch = 2048
)

// StartTime is the simulation time a freshly spawned level begins at.
const StartTime = 1.0

// Config holds server configuration.
type Config struct {
	// MaxClients is the number of client slots after the world.
	MaxClients int

	// MaxEdicts is the entity pool capacity.
	MaxEdicts int

	// Skill selects which skill-flagged entities are inhibited. 0 is easy,
	// 1 medium, 2 and above hard.
	Skill int

	// Deathmatch inhibits entities flagged not-in-deathmatch instead of
	// applying skill flags.
	Deathmatch bool

	// Developer enables developer-only console output.
	Developer bool

	// HunkSize is the storage arena size in bytes.
	HunkSize int

	// VM configures the interpreter. Its Sink defaults to the server's and
	// its Logger is derived from Logger.
	VM vm.Config

	// Sink receives operator console output.
	Sink console.Sink

	Logger zerolog.Logger

	// OnFatal is called for every aborted program execution.
	OnFatal func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxClients: 1,
		MaxEdicts:  edict.DefaultCapacity,
		Skill:      1,
		HunkSize:   hunk.DefaultSize,
		VM:         vm.DefaultConfig(),
		Sink:       console.Discard,
		Logger:     zerolog.Nop(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxClients < 0 {
		return fmt.Errorf("%w: negative client count %d", ErrConfigInvalid, c.MaxClients)
	}
	if c.MaxEdicts <= c.MaxClients+1 {
		return fmt.Errorf("%w: %d edicts cannot hold %d clients", ErrConfigInvalid, c.MaxEdicts, c.MaxClients)
	}
	if c.Skill < 0 {
		return fmt.Errorf("%w: skill %d", ErrConfigInvalid, c.Skill)
	}
	if c.HunkSize <= 0 {
		return fmt.Errorf("%w: hunk size %d", ErrConfigInvalid, c.HunkSize)
	}
	return nil
}

// Server is one running game instance.
type Server struct {
	config Config

	hunk      *hunk.Hunk
	mark      int // watermark below any program
	levelMark int // watermark below the current level's allocations

	img      *progs.Image
	dir      *directory.Directory
	pool     *edict.Pool
	machine  *vm.Machine
	codec    *entfile.Codec
	builtins *builtins.Registry
	sys      edict.SystemGlobals

	mapName string
	time    float64
	frames  uint64

	lastError error
	log       zerolog.Logger
}

// New creates a server with the given configuration. No program is loaded
// until LoadProgs is called.
func New(config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	def := DefaultConfig()
	if config.MaxEdicts == 0 {
		config.MaxEdicts = def.MaxEdicts
	}
	if config.HunkSize == 0 {
		config.HunkSize = def.HunkSize
	}
	if config.Sink == nil {
		config.Sink = console.Discard
	}
	if config.VM.Sink == nil || config.VM.Sink == console.Discard {
		config.VM.Sink = config.Sink
	}
	config.VM.Logger = config.Logger.With().Str("component", "vm").Logger()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: *config,
		log:    config.Logger,
	}
	s.hunk = hunk.New(config.HunkSize, config.Logger.With().Str("component", "hunk").Logger())
	s.mark = s.hunk.LowMark()
	return s, nil
}

// LoadProgs loads a program image, discarding any previous image together
// with its entities and interpreter state.
func (s *Server) LoadProgs(raw []byte) (err error) {
	if err := s.hunk.FreeToLowMark(s.mark); err != nil {
		return err
	}
	s.img, s.dir, s.pool, s.machine, s.codec = nil, nil, nil, nil, nil

	defer func() {
		if err != nil && errors.Is(err, hunk.ErrHunkOverflow) {
			s.hunk.FreeToLowMark(s.mark)
		}
	}()
	defer recoverOverflow(&err)

	loader := progs.NewLoader(s.hunk, s.log.With().Str("component", "progs").Logger())
	img, err := loader.Load(raw)
	if err != nil {
		s.hunk.FreeToLowMark(s.mark)
		return err
	}

	dir := directory.New(img)
	pool := edict.NewPool(img, dir, edict.Config{
		Capacity:  s.config.MaxEdicts,
		Reserved:  s.config.MaxClients + 1,
		Clock:     s.Time,
		Allocator: s.hunk,
		Logger:    s.log.With().Str("component", "edict").Logger(),
	})

	vmConfig := s.config.VM
	userFatal := vmConfig.OnFatal
	vmConfig.OnFatal = func(rerr *vm.RuntimeError) {
		s.lastError = rerr
		if userFatal != nil {
			userFatal(rerr)
		}
		if s.config.OnFatal != nil {
			s.config.OnFatal(rerr)
		}
	}
	machine := vm.New(dir, pool, vmConfig)

	codec := entfile.New(dir, pool, machine.Formatter(), s.log.With().Str("component", "entfile").Logger())

	bcfg := builtins.DefaultConfig()
	bcfg.Developer = s.config.Developer
	bcfg.Codec = codec
	bcfg.Logger = s.log.With().Str("component", "builtins").Logger()
	registry := builtins.NewRegistry(bcfg)
	registry.Install(machine)

	s.img, s.dir, s.pool, s.machine, s.codec = img, dir, pool, machine, codec
	s.builtins = registry
	s.sys = edict.ResolveSystemGlobals(dir)
	s.levelMark = s.hunk.LowMark()
	s.mapName = ""
	s.time = 0
	s.lastError = nil

	s.log.Info().
		Str("fingerprint", img.Fingerprint.Short()).
		Uint16("crc", img.CRC).
		Int("functions", len(img.Functions)).
		Int("hunk_used", s.hunk.Used()).
		Msg("progs loaded")
	return nil
}

// recoverOverflow turns an arena overflow panic into *err. Any other panic
// is re-raised.
func recoverOverflow(err *error) {
	r := recover()
	if r == nil {
		return
	}
	e, ok := r.(error)
	if !ok || !errors.Is(e, hunk.ErrHunkOverflow) {
		panic(r)
	}
	*err = e
}

func (s *Server) check() error {
	if s.img == nil {
		return ErrNoProgs
	}
	return nil
}

// Image returns the loaded program, or nil.
func (s *Server) Image() *progs.Image { return s.img }

// Machine returns the interpreter, or nil before LoadProgs.
func (s *Server) Machine() *vm.Machine { return s.machine }

// Pool returns the entity pool, or nil before LoadProgs.
func (s *Server) Pool() *edict.Pool { return s.pool }

// Codec returns the entity text codec, or nil before LoadProgs.
func (s *Server) Codec() *entfile.Codec { return s.codec }

// Builtins returns the installed builtin registry.
func (s *Server) Builtins() *builtins.Registry { return s.builtins }

// Hunk returns the storage arena.
func (s *Server) Hunk() *hunk.Hunk { return s.hunk }

// Time returns the simulation time.
func (s *Server) Time() float64 { return s.time }

// MapName returns the name of the running level.
func (s *Server) MapName() string { return s.mapName }

// Frames returns the number of frames run since the level started.
func (s *Server) Frames() uint64 { return s.frames }

// LastError returns the most recent aborted execution, if any.
func (s *Server) LastError() error { return s.lastError }

// Sink returns the operator console.
func (s *Server) Sink() console.Sink { return s.config.Sink }

// setGlobalFloat writes a float global by name if the program declares it.
func (s *Server) setGlobalFloat(name string, v float32) {
	if def, ok := s.dir.FindGlobal(name); ok {
		s.machine.SetGlobalFloat(int(def.Ofs), v)
	}
}

// Call runs the named function with self set to the world.
func (s *Server) Call(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	fn, ok := s.dir.FindFunction(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFunction, name)
	}
	s.machine.SetGlobalFloat(s.sys.Time, float32(s.time))
	s.machine.SetGlobalEntity(s.sys.Self, s.pool.World())
	s.machine.SetGlobalEntity(s.sys.Other, s.pool.World())
	return s.machine.Execute(fn)
}
