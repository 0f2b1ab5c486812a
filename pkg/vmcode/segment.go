package vmcode

import "fmt"

// Segment names a storage space addressed by push and pop.
type Segment uint8

const (
	SegArgument Segment = iota
	SegLocal
	SegStatic
	SegConstant
	SegThis
	SegThat
	SegPointer
	SegTemp

	numSegments
)

// TempSlots is the size of the shared temp segment.
const TempSlots = 8

// PointerSlots is the size of the pointer segment: 0 is the this-base,
// 1 the that-base.
const PointerSlots = 2

var segmentNames = [...]string{
	SegArgument: "argument",
	SegLocal:    "local",
	SegStatic:   "static",
	SegConstant: "constant",
	SegThis:     "this",
	SegThat:     "that",
	SegPointer:  "pointer",
	SegTemp:     "temp",
}

// Fails to compile when a segment is added without a name.
var _ = [1]struct{}{}[len(segmentNames)-int(numSegments)]

// String returns the segment keyword as written in source.
func (s Segment) String() string {
	if s < numSegments {
		return segmentNames[s]
	}
	return fmt.Sprintf("Segment(%d)", s)
}

// Valid reports whether s is one of the defined segments.
func (s Segment) Valid() bool {
	return s < numSegments
}

// Writable reports whether pop may target s.
func (s Segment) Writable() bool {
	return s.Valid() && s != SegConstant
}

// LookupSegment resolves a segment keyword.
func LookupSegment(name string) (Segment, bool) {
	for i, n := range segmentNames {
		if n == name {
			return Segment(i), true
		}
	}
	return 0, false
}

// AllSegments returns every segment in declaration order.
func AllSegments() []Segment {
	segs := make([]Segment, numSegments)
	for i := range segs {
		segs[i] = Segment(i)
	}
	return segs
}
