package vm

import (
	"errors"
	"fmt"
	"strings"
)

// Runtime error kinds. Every one of them aborts the current Execute.
var (
	ErrNullFunction    = errors.New("NULL function")
	ErrBadOpcode       = errors.New("bad opcode")
	ErrBadStatement    = errors.New("statement out of range")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrStackUnderflow  = errors.New("prog stack underflow")
	ErrLocalsOverflow  = errors.New("locals stack overflow")
	ErrLocalsUnderflow = errors.New("locals stack underflow")
	ErrRunaway         = errors.New("runaway loop error")
	ErrBadBuiltin      = errors.New("bad builtin call number")
	ErrWorldAssignment = errors.New("assignment to world entity")
	ErrBadString       = errors.New("bad string")
	ErrBadEntity       = errors.New("bad entity")
	ErrBadPointer      = errors.New("bad pointer")
	ErrBuiltin         = errors.New("builtin error")
	ErrPanic           = errors.New("vm panic")
)

// RuntimeError is a fatal interpreter error.
type RuntimeError struct {
	Kind      error
	Msg       string
	Function  string // function executing when the fault was raised
	Statement int    // index of the offending statement
	Trace     []string
	Cause     error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString("progs: ")
	b.WriteString(e.Msg)
	if e.Function != "" {
		fmt.Fprintf(&b, " in %s", e.Function)
	}
	fmt.Fprintf(&b, " (statement %d)", e.Statement)
	return b.String()
}

// Unwrap returns the kind and, for builtin failures, the builtin's error.
func (e *RuntimeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}
