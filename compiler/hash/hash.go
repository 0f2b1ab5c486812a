// Package hash computes content hashes of compilation units.
//
// A hash covers everything that influences the object compiled from a
// unit: its identity, every instruction with its source line, the
// compiler versions, the target fingerprint and the parameter counts of the functions it defines or
// calls. Two builds that agree on all of these produce the same object,
// so the hash is a safe build cache key.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/hackwasm/pkg/vmcode"
)

// HashUnit computes the SHA-256 content hash of a unit on its own.
func HashUnit(u *vmcode.Unit) [32]byte {
	return sha256.Sum256(SerializeUnit(u))
}

// Toolchain identifies what turns a unit into an object: the code
// generator and object format versions and the target fingerprint.
type Toolchain struct {
	Codegen uint32
	Object  uint32
	Target  string
}

// ObjectKey computes the hash of a unit compiled by tc with the given
// signature table.
func ObjectKey(u *vmcode.Unit, tc Toolchain, sigs map[string]uint32) [32]byte {
	s := &serializer{buf: make([]byte, 0, 16*len(u.Instrs)+64)}
	s.writeByte(HashVersion)
	s.unit(u)
	s.toolchain(tc)
	s.sigs(sigs)
	return sha256.Sum256(s.buf)
}

// String renders a hash as lowercase hex.
func String(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
