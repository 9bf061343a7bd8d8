package server

import (
	"fmt"

	"github.com/fortiblox/progsvm/pkg/console"
	"github.com/fortiblox/progsvm/pkg/edict"
	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/progs"
)

// SpawnStats summarises a map load.
type SpawnStats struct {
	Spawned   int // entities whose spawn function ran
	Inhibited int // entities removed by skill or deathmatch flags
	Rejected  int // entities without a classname or spawn function
}

// inhibited reports whether spawnflags exclude an entity from the current
// game mode.
func (s *Server) inhibited(flags int) bool {
	if s.config.Deathmatch {
		return flags&SpawnFlagNotDeathmatch != 0
	}
	switch {
	case s.config.Skill == 0:
		return flags&SpawnFlagNotEasy != 0
	case s.config.Skill == 1:
		return flags&SpawnFlagNotMedium != 0
	default:
		return flags&SpawnFlagNotHard != 0
	}
}

// resetLevel returns the program to its loaded state: the arena is
// released down to the level mark, globals get their initial values back,
// interned strings are dropped and every entity is cleared. The clock
// restarts.
func (s *Server) resetLevel(mapName string) error {
	if err := s.hunk.FreeToLowMark(s.levelMark); err != nil {
		return err
	}
	s.img.Reset()
	if err := s.pool.Reset(s.pool.Reserved()); err != nil {
		return err
	}
	s.machine.SetActive(false)
	s.mapName = mapName
	s.time = StartTime
	s.frames = 0
	s.lastError = nil

	m := s.machine
	m.SetGlobalString(s.sys.MapName, mapName)
	m.SetGlobalFloat(s.sys.Time, float32(s.time))
	if s.config.Deathmatch {
		s.setGlobalFloat("deathmatch", 1)
	} else {
		s.setGlobalFloat("deathmatch", 0)
	}
	return nil
}

// SpawnMap starts a level from map entity text. The first group describes
// the world and is parsed into slot 0; every later group gets a freshly
// allocated entity. Entities excluded by spawnflags are freed. An entity is
// then handed to the spawn function named by its classname, with self set
// to it. Entities without a classname or without a matching function are
// printed to the console and freed.
//
// A parse error, an aborted spawn function or running out of arena space
// stops the load.
func (s *Server) SpawnMap(mapName string, text []byte) (stats SpawnStats, err error) {
	defer recoverOverflow(&err)
	if err := s.check(); err != nil {
		return stats, err
	}
	if err := s.resetLevel(mapName); err != nil {
		return stats, err
	}

	sink := s.config.Sink
	f := s.pool.Fields()
	lex := entfile.NewLexer(text)
	var ent *edict.Edict
	for {
		ok, err := lex.OpenGroup()
		if err != nil {
			return stats, fmt.Errorf("spawn %s: %w", mapName, err)
		}
		if !ok {
			break
		}

		if ent == nil {
			ent = s.pool.World()
		} else {
			ent, err = s.pool.Alloc()
			if err != nil {
				return stats, fmt.Errorf("spawn %s: %w", mapName, err)
			}
		}
		if err := s.codec.ParseEntity(lex, ent); err != nil {
			return stats, fmt.Errorf("spawn %s: %w", mapName, err)
		}

		if s.inhibited(int(ent.Float(f.SpawnFlags))) {
			s.pool.Free(ent)
			stats.Inhibited++
			continue
		}

		classname := ent.Int(f.ClassName)
		if classname == 0 {
			sink.Printf("No classname for:\n")
			s.codec.PrintEdict(console.Writer(sink), ent)
			s.pool.Free(ent)
			stats.Rejected++
			continue
		}

		fn, ok := s.dir.FindFunction(s.img.Strings.Lookup(classname))
		if !ok {
			sink.Printf("No spawn function for:\n")
			s.codec.PrintEdict(console.Writer(sink), ent)
			s.pool.Free(ent)
			stats.Rejected++
			continue
		}

		s.machine.SetGlobalEntity(s.sys.Self, ent)
		if err := s.machine.Execute(fn); err != nil {
			return stats, err
		}
		stats.Spawned++
	}

	if s.config.Developer {
		sink.Printf("%d entities inhibited\n", stats.Inhibited)
	}
	s.machine.SetActive(true)

	s.log.Info().
		Str("map", mapName).
		Int("spawned", stats.Spawned).
		Int("inhibited", stats.Inhibited).
		Int("rejected", stats.Rejected).
		Int("edicts", s.pool.Count()).
		Msg("map spawned")
	return stats, nil
}

// RunFrame advances the simulation by dt seconds. StartFrame runs first if
// the program defines it, then every entity whose nextthink falls inside
// the frame has its think function called. The clock advances last.
func (s *Server) RunFrame(dt float64) error {
	if err := s.check(); err != nil {
		return err
	}
	m := s.machine
	world := s.pool.World()

	m.SetGlobalFloat(s.sys.FrameTime, float32(dt))
	if fn, ok := s.dir.FindFunction("StartFrame"); ok {
		m.SetGlobalEntity(s.sys.Self, world)
		m.SetGlobalEntity(s.sys.Other, world)
		m.SetGlobalFloat(s.sys.Time, float32(s.time))
		if err := m.Execute(fn); err != nil {
			return err
		}
	}

	// Entities spawned by a think run in the same frame.
	for i := 0; i < s.pool.Count(); i++ {
		e, err := s.pool.Num(i)
		if err != nil {
			return err
		}
		if e.IsFree() {
			continue
		}
		if err := s.runThink(e, dt); err != nil {
			return err
		}
	}

	s.time += dt
	s.frames++
	return nil
}

// runThink calls e's think function if its nextthink is due within dt.
func (s *Server) runThink(e *edict.Edict, dt float64) error {
	f := s.pool.Fields()
	if f.NextThink < 0 || f.Think < 0 {
		return nil
	}
	thinktime := float64(e.Float(f.NextThink))
	if thinktime <= 0 || thinktime > s.time+dt {
		return nil
	}
	if thinktime < s.time {
		thinktime = s.time
	}
	e.SetFloat(f.NextThink, 0)

	m := s.machine
	m.SetGlobalFloat(s.sys.Time, float32(thinktime))
	m.SetGlobalEntity(s.sys.Self, e)
	m.SetGlobalEntity(s.sys.Other, s.pool.World())
	return m.Execute(progs.Func(e.Int(f.Think)))
}
