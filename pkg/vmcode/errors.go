package vmcode

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned by the parser and the compiler wraps
// exactly one of these, so callers can classify with errors.Is.
var (
	ErrMalformedInstruction   = errors.New("malformed instruction")
	ErrStackUnderflow         = errors.New("stack underflow")
	ErrInvalidSegmentUse      = errors.New("invalid segment use")
	ErrUnknownLabel           = errors.New("unknown label")
	ErrDuplicateLabel         = errors.New("duplicate label")
	ErrDuplicateFunctionName  = errors.New("duplicate function name")
	ErrDuplicateUnit          = errors.New("duplicate unit")
	ErrInconsistentStack      = errors.New("inconsistent stack depth")
	ErrInstructionOutsideFunc = errors.New("instruction outside function")
	ErrLimitExceeded          = errors.New("limit exceeded")
)

// Frame limits shared by the wasm engines the output targets.
const (
	MaxParams = 1000
	MaxLocals = 50000
)

// Error is a compile error located in a unit, optionally inside a
// function, at a source line.
type Error struct {
	Kind error
	Unit string
	Func string
	Pos  Pos
	Msg  string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Unit != "" {
		b.WriteString(e.Unit)
		if e.Pos.Line > 0 {
			b.WriteString(":")
			b.WriteString(e.Pos.String())
		}
		b.WriteString(": ")
	} else if e.Pos.Line > 0 {
		b.WriteString("line ")
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	if e.Func != "" {
		b.WriteString("in ")
		b.WriteString(e.Func)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf is shorthand for building an *Error without unit context; the
// compiler fills Unit and Func as the error propagates.
func Errorf(kind error, pos Pos, msg string) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: msg}
}

// WithContext fills in missing unit and function names on err when it is
// an *Error, and returns err unchanged otherwise.
func WithContext(err error, unit, fn string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Unit == "" {
		e.Unit = unit
	}
	if e.Func == "" {
		e.Func = fn
	}
	return err
}
