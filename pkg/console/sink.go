// Package console carries operator-facing diagnostic output: stack traces,
// profiles, entity dumps and statement traces.
//
// Output is written to a Sink. Sinks are one-way and never block the
// interpreter.
package console

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Sink accepts formatted diagnostic output.
type Sink interface {
	Printf(format string, args ...any)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Printf(string, ...any) {}

// Buffer collects output in memory.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Printf implements Sink.
func (b *Buffer) Printf(format string, args ...any) {
	b.mu.Lock()
	fmt.Fprintf(&b.buf, format, args...)
	b.mu.Unlock()
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset discards the collected output.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

// WriterSink writes to an io.Writer.
type WriterSink struct {
	W io.Writer
}

// Printf implements Sink.
func (s WriterSink) Printf(format string, args ...any) {
	fmt.Fprintf(s.W, format, args...)
}

// LogSink turns complete lines into zerolog events.
type LogSink struct {
	mu      sync.Mutex
	log     zerolog.Logger
	level   zerolog.Level
	partial strings.Builder
}

// NewLogSink returns a sink logging each line at level.
func NewLogSink(log zerolog.Logger, level zerolog.Level) *LogSink {
	return &LogSink{log: log, level: level}
}

// Printf implements Sink.
func (s *LogSink) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial.WriteString(fmt.Sprintf(format, args...))
	text := s.partial.String()
	lines := strings.Split(text, "\n")
	for _, line := range lines[:len(lines)-1] {
		s.log.WithLevel(s.level).Str("src", "console").Msg(line)
	}
	s.partial.Reset()
	s.partial.WriteString(lines[len(lines)-1])
}

type multi []Sink

func (m multi) Printf(format string, args ...any) {
	for _, s := range m {
		s.Printf(format, args...)
	}
}

// Multi duplicates output to every sink.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type sinkWriter struct{ s Sink }

func (w sinkWriter) Write(p []byte) (int, error) {
	w.s.Printf("%s", p)
	return len(p), nil
}

// Writer adapts a Sink to io.Writer.
func Writer(s Sink) io.Writer {
	return sinkWriter{s}
}
