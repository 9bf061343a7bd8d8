package server

import (
	"fmt"

	"github.com/fortiblox/progsvm/pkg/console"
)

// PrintEdict dumps entity n to the console.
func (s *Server) PrintEdict(n int) error {
	if err := s.check(); err != nil {
		return err
	}
	if n < 0 || n >= s.pool.Count() {
		s.config.Sink.Printf("Bad edict number\n")
		return fmt.Errorf("edict %d out of range [0,%d)", n, s.pool.Count())
	}
	e, err := s.pool.Num(n)
	if err != nil {
		return err
	}
	s.codec.PrintEdict(console.Writer(s.config.Sink), e)
	return nil
}

// PrintEdicts dumps every entity slot in use.
func (s *Server) PrintEdicts() error {
	if err := s.check(); err != nil {
		return err
	}
	s.codec.PrintEdicts(console.Writer(s.config.Sink))
	return nil
}

// EdictCount prints the entity census.
func (s *Server) EdictCount() error {
	if err := s.check(); err != nil {
		return err
	}
	s.codec.PrintCount(console.Writer(s.config.Sink))
	return nil
}

// Profile prints the busiest functions and resets their counters.
func (s *Server) Profile() error {
	if err := s.check(); err != nil {
		return err
	}
	s.machine.PrintProfile()
	return nil
}

// PrintHunk lists the arena blocks.
func (s *Server) PrintHunk(all bool) {
	s.hunk.Print(console.Writer(s.config.Sink), all)
}
