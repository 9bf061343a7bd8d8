package server

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/fortiblox/progsvm/pkg/entfile"
	"github.com/fortiblox/progsvm/pkg/savestore"
)

// SaveVersion is the first line of every save game.
const SaveVersion = 5

// SaveStore persists save game snapshots. *savestore.Store implements it.
type SaveStore interface {
	Put(meta savestore.SaveMeta, snapshot []byte) error
	Get(name string) (*savestore.SaveMeta, []byte, error)
}

// WriteSave writes the running level as text: a header of version, skill,
// map name and time, then the persisted globals as one group, then one group
// per entity slot in use. Free slots are written as empty groups so entity
// numbers survive the round trip.
func (s *Server) WriteSave(w io.Writer) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.mapName == "" {
		return ErrNoLevel
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%d\n%s\n%f\n", SaveVersion, s.config.Skill, s.mapName, s.time)
	if err := s.codec.WriteGlobals(bw); err != nil {
		return err
	}
	for i := 0; i < s.pool.Count(); i++ {
		e, err := s.pool.Num(i)
		if err != nil {
			return err
		}
		if err := s.codec.WriteEntity(bw, e); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSave restores a level written by WriteSave. Every entity is rebuilt
// from the text; slots are numbered in the order their groups appear.
func (s *Server) ReadSave(data []byte) (err error) {
	defer recoverOverflow(&err)
	if err := s.check(); err != nil {
		return err
	}
	lex := entfile.NewLexer(data)
	var header [4]string
	for i := range header {
		tok, ok := lex.Next()
		if !ok {
			return fmt.Errorf("%w: truncated header", ErrBadSave)
		}
		header[i] = tok.Text
	}
	if header[0] != strconv.Itoa(SaveVersion) {
		return fmt.Errorf("%w: version %s should be %d", ErrBadSave, header[0], SaveVersion)
	}
	skill, err := strconv.Atoi(header[1])
	if err != nil {
		return fmt.Errorf("%w: skill %q", ErrBadSave, header[1])
	}
	t, err := strconv.ParseFloat(header[3], 64)
	if err != nil {
		return fmt.Errorf("%w: time %q", ErrBadSave, header[3])
	}

	if err := s.resetLevel(header[2]); err != nil {
		return err
	}
	s.config.Skill = skill
	s.time = t

	if err := s.codec.ParseGlobals(lex); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSave, err)
	}

	entnum := 0
	for {
		ok, err := lex.OpenGroup()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadSave, err)
		}
		if !ok {
			break
		}
		e, err := s.pool.Num(entnum)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadSave, err)
		}
		s.pool.Clear(e)
		if err := s.codec.ParseEntity(lex, e); err != nil {
			return fmt.Errorf("%w: %w", ErrBadSave, err)
		}
		entnum++
	}
	if err := s.pool.SetCount(entnum); err != nil {
		return err
	}

	s.machine.SetGlobalFloat(s.sys.Time, float32(s.time))
	s.machine.SetActive(true)

	s.log.Info().
		Str("map", s.mapName).
		Float64("time", s.time).
		Int("edicts", entnum).
		Msg("save restored")
	return nil
}

// SaveGame writes the running level to store under name.
func (s *Server) SaveGame(store SaveStore, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := s.WriteSave(&buf); err != nil {
		return err
	}
	meta := savestore.SaveMeta{
		Name:        name,
		Map:         s.mapName,
		Time:        float32(s.time),
		Fingerprint: s.img.Fingerprint,
	}
	if err := store.Put(meta, buf.Bytes()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	s.config.Sink.Printf("Saving game to %s...\n", name)
	return nil
}

// LoadGame restores the save called name. The save must have been written
// by the currently loaded program.
func (s *Server) LoadGame(store SaveStore, name string) error {
	if err := s.check(); err != nil {
		return err
	}
	meta, snapshot, err := store.Get(name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if meta.Fingerprint != s.img.Fingerprint {
		return fmt.Errorf("%w: %s was written by %s, loaded %s",
			ErrProgsMismatch, name, meta.Fingerprint.Short(), s.img.Fingerprint.Short())
	}
	s.config.Sink.Printf("Loading game from %s...\n", name)
	return s.ReadSave(snapshot)
}
