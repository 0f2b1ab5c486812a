package hash

import (
	"encoding/binary"
	"sort"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a unit.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian uint32
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Every instruction: its tag, its line, then its operands
// ---------------------------------------------------------------------------

// SerializeUnit produces a deterministic byte serialization of a unit's
// identity and instructions, including source lines.
func SerializeUnit(u *vmcode.Unit) []byte {
	s := &serializer{buf: make([]byte, 0, 16*len(u.Instrs)+64)}
	s.writeByte(HashVersion)
	s.unit(u)
	return s.buf
}

type serializer struct {
	buf []byte
}

var _ vmcode.Visitor = (*serializer)(nil)

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) unit(u *vmcode.Unit) {
	s.writeByte(TagUnit)
	s.writeString(u.ID)
	s.writeByte(TagPath)
	s.writeString(u.Path)
	s.writeUint32(uint32(len(u.Instrs)))
	for _, in := range u.Instrs {
		// Accept never fails for the serializer.
		_ = in.Accept(s)
	}
}

func (s *serializer) toolchain(tc Toolchain) {
	s.writeByte(TagCompiler)
	s.writeUint32(tc.Codegen)
	s.writeUint32(tc.Object)
	s.writeByte(TagTarget)
	s.writeString(tc.Target)
}

// sigs writes a signature table in name order.
func (s *serializer) sigs(sigs map[string]uint32) {
	names := make([]string, 0, len(sigs))
	for n := range sigs {
		names = append(names, n)
	}
	sort.Strings(names)
	s.writeByte(TagSigTable)
	s.writeUint32(uint32(len(names)))
	for _, n := range names {
		s.writeByte(TagSig)
		s.writeString(n)
		s.writeUint32(sigs[n])
	}
}

func (s *serializer) head(tag byte, pos vmcode.Pos) {
	s.writeByte(tag)
	s.writeByte(TagLine)
	s.writeUint32(uint32(pos.Line))
}

func (s *serializer) VisitArith(in *vmcode.Arith) error {
	s.head(TagArith, in.Pos)
	s.writeByte(byte(in.Op))
	return nil
}

func (s *serializer) VisitPush(in *vmcode.Push) error {
	s.head(TagPush, in.Pos)
	s.writeByte(byte(in.Segment))
	s.writeUint32(in.Index)
	return nil
}

func (s *serializer) VisitPop(in *vmcode.Pop) error {
	s.head(TagPop, in.Pos)
	s.writeByte(byte(in.Segment))
	s.writeUint32(in.Index)
	return nil
}

func (s *serializer) VisitLabel(in *vmcode.Label) error {
	s.head(TagLabel, in.Pos)
	s.writeString(in.Name)
	return nil
}

func (s *serializer) VisitGoto(in *vmcode.Goto) error {
	s.head(TagGoto, in.Pos)
	s.writeString(in.Target)
	return nil
}

func (s *serializer) VisitIfGoto(in *vmcode.IfGoto) error {
	s.head(TagIfGoto, in.Pos)
	s.writeString(in.Target)
	return nil
}

func (s *serializer) VisitFunction(in *vmcode.Function) error {
	s.head(TagFunction, in.Pos)
	s.writeString(in.Name)
	s.writeUint32(in.Locals)
	return nil
}

func (s *serializer) VisitReturn(in *vmcode.Return) error {
	s.head(TagReturn, in.Pos)
	return nil
}

func (s *serializer) VisitCall(in *vmcode.Call) error {
	s.head(TagCall, in.Pos)
	s.writeString(in.Name)
	s.writeUint32(in.Args)
	return nil
}
