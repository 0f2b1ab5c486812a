package hash

import (
	"testing"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

func TestTagUniqueness(t *testing.T) {
	seen := make(map[byte]bool, len(allTags))
	for _, tag := range allTags {
		if seen[tag] {
			t.Errorf("duplicate tag: 0x%02X", tag)
		}
		seen[tag] = true
	}
}

func TestInstructionTags(t *testing.T) {
	pos := vmcode.Pos{Line: 7}
	tests := []struct {
		in  vmcode.Instr
		tag byte
	}{
		{&vmcode.Arith{Pos: pos, Op: vmcode.OpNot}, TagArith},
		{&vmcode.Push{Pos: pos, Segment: vmcode.SegThis, Index: 2}, TagPush},
		{&vmcode.Pop{Pos: pos, Segment: vmcode.SegTemp, Index: 1}, TagPop},
		{&vmcode.Label{Pos: pos, Name: "L"}, TagLabel},
		{&vmcode.Goto{Pos: pos, Target: "L"}, TagGoto},
		{&vmcode.IfGoto{Pos: pos, Target: "L"}, TagIfGoto},
		{&vmcode.Function{Pos: pos, Name: "f", Locals: 1}, TagFunction},
		{&vmcode.Return{Pos: pos}, TagReturn},
		{&vmcode.Call{Pos: pos, Name: "f", Args: 2}, TagCall},
	}
	// version, unit tag, empty id, path tag, empty path, instruction count
	const header = 1 + 1 + 4 + 1 + 4 + 4
	for _, tt := range tests {
		buf := SerializeUnit(&vmcode.Unit{Instrs: []vmcode.Instr{tt.in}})
		if len(buf) < header+6 {
			t.Fatalf("%s: serialization too short: % x", tt.in, buf)
		}
		if buf[header] != tt.tag {
			t.Errorf("%s: tag = 0x%02X, want 0x%02X", tt.in, buf[header], tt.tag)
		}
		if buf[header+1] != TagLine || buf[header+5] != 7 {
			t.Errorf("%s: line not recorded after the tag: % x", tt.in, buf[header:])
		}
	}
}

func TestHashVersionNonZero(t *testing.T) {
	if HashVersion == 0 {
		t.Error("HashVersion must be non-zero")
	}
}
