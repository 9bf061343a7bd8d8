package entfile

import (
	"errors"
	"fmt"
)

// Parse errors. All of them abort the parse.
var (
	ErrUnexpectedEOF = errors.New("EOF without closing brace")
	ErrNoValue       = errors.New("closing brace without data")
	ErrExpectedBrace = errors.New("expected {")
	ErrBadValue      = errors.New("parse error")
)

// ParseError describes a fatal entity text error.
type ParseError struct {
	Err    error
	Line   int
	Key    string
	Detail string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("entfile: line %d: %v", e.Line, e.Err)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
