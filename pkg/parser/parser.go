// Package parser turns VM source text into vmcode instructions.
//
// The syntax is line oriented: one instruction per line, `//` starts a
// comment that runs to the end of the line, blank lines are ignored and
// operands are separated by whitespace.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// Parse parses a whole source text.
func Parse(src string) ([]vmcode.Instr, error) {
	return ParseReader(strings.NewReader(src))
}

// ParseReader parses source read from r.
func ParseReader(r io.Reader) ([]vmcode.Instr, error) {
	var instrs []vmcode.Instr
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		in, err := ParseLine(sc.Text(), line)
		if err != nil {
			return nil, err
		}
		if in != nil {
			instrs = append(instrs, in)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	return instrs, nil
}

// ParseFile parses the file at path into a unit named after the file.
func ParseFile(path string) (*vmcode.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer f.Close()

	unit := vmcode.NewUnit(path, nil)
	unit.Instrs, err = ParseReader(f)
	if err != nil {
		return nil, vmcode.WithContext(err, unit.ID, "")
	}
	return unit, nil
}

// ParseUnit parses src into a unit with the given ID.
func ParseUnit(id, src string) (*vmcode.Unit, error) {
	instrs, err := Parse(src)
	if err != nil {
		return nil, vmcode.WithContext(err, id, "")
	}
	return &vmcode.Unit{ID: id, Instrs: instrs}, nil
}

// StripComment removes a trailing `//` comment and surrounding space.
func StripComment(raw string) string {
	if i := strings.Index(raw, "//"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

// ParseLine parses a single source line. It returns nil, nil for blank
// and comment-only lines.
func ParseLine(raw string, line int) (vmcode.Instr, error) {
	text := StripComment(raw)
	if text == "" {
		return nil, nil
	}
	pos := vmcode.Pos{Line: line}
	fields := strings.Fields(text)
	kw, args := fields[0], fields[1:]

	malformed := func(format string, a ...interface{}) error {
		return vmcode.Errorf(vmcode.ErrMalformedInstruction, pos, fmt.Sprintf(format, a...))
	}
	arity := func(n int) error {
		if len(args) != n {
			return malformed("%s takes %d operand(s), got %d", kw, n, len(args))
		}
		return nil
	}

	if op, ok := vmcode.LookupArith(kw); ok {
		if err := arity(0); err != nil {
			return nil, err
		}
		return &vmcode.Arith{Op: op, Pos: pos}, nil
	}

	switch kw {
	case "return":
		if err := arity(0); err != nil {
			return nil, err
		}
		return &vmcode.Return{Pos: pos}, nil

	case "push", "pop":
		if err := arity(2); err != nil {
			return nil, err
		}
		seg, ok := vmcode.LookupSegment(args[0])
		if !ok {
			return nil, malformed("unknown segment %q", args[0])
		}
		idx, err := parseIndex(args[1])
		if err != nil {
			return nil, malformed("%s %s: %v", kw, args[0], err)
		}
		if kw == "push" {
			return &vmcode.Push{Segment: seg, Index: idx, Pos: pos}, nil
		}
		return &vmcode.Pop{Segment: seg, Index: idx, Pos: pos}, nil

	case "label", "goto", "if-goto":
		if err := arity(1); err != nil {
			return nil, err
		}
		name := args[0]
		switch kw {
		case "label":
			return &vmcode.Label{Name: name, Pos: pos}, nil
		case "goto":
			return &vmcode.Goto{Target: name, Pos: pos}, nil
		default:
			return &vmcode.IfGoto{Target: name, Pos: pos}, nil
		}

	case "function", "call":
		if err := arity(2); err != nil {
			return nil, err
		}
		n, err := parseIndex(args[1])
		if err != nil {
			return nil, malformed("%s %s: %v", kw, args[0], err)
		}
		if kw == "function" {
			return &vmcode.Function{Name: args[0], Locals: n, Pos: pos}, nil
		}
		return &vmcode.Call{Name: args[0], Args: n, Pos: pos}, nil
	}

	return nil, malformed("unknown instruction %q", kw)
}

// parseIndex parses a non-negative decimal operand that fits an i32.
func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("bad index %q", s)
	}
	return uint32(n), nil
}

// Keywords returns every instruction keyword, for completion and docs.
func Keywords() []string {
	kws := make([]string, 0, vmcode.NumArithOps+8)
	for _, op := range vmcode.AllArithOps() {
		kws = append(kws, op.String())
	}
	return append(kws, "push", "pop", "label", "goto", "if-goto", "function", "call", "return")
}
