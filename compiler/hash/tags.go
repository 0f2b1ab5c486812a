package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the unit hashing serialization format.
//
// These tags are FROZEN. Once assigned, a tag byte must never change
// meaning. Adding new tags is fine; changing existing ones invalidates
// every cached object.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
const HashVersion byte = 1

const (
	TagReservedZero byte = 0x00

	// Unit framing
	TagUnit     byte = 0x01
	TagPath     byte = 0x02
	TagLine     byte = 0x03
	TagTarget   byte = 0x04
	TagSigTable byte = 0x05
	TagSig      byte = 0x06
	TagCompiler byte = 0x07

	// Reserved 0x07-0x0F

	// Instructions
	TagArith    byte = 0x10
	TagPush     byte = 0x11
	TagPop      byte = 0x12
	TagLabel    byte = 0x13
	TagGoto     byte = 0x14
	TagIfGoto   byte = 0x15
	TagFunction byte = 0x16
	TagReturn   byte = 0x17
	TagCall     byte = 0x18

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagUnit, TagPath, TagLine, TagTarget, TagSigTable, TagSig, TagCompiler,
	TagArith, TagPush, TagPop, TagLabel, TagGoto, TagIfGoto,
	TagFunction, TagReturn, TagCall,
}
