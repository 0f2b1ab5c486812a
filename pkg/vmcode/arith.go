package vmcode

import "fmt"

// ArithOp selects the operation of an Arith instruction.
type ArithOp uint8

const (
	OpAdd ArithOp = iota
	OpSub
	OpNeg
	OpEq
	OpGt
	OpLt
	OpAnd
	OpOr
	OpNot

	numArithOps
)

// ArithOpInfo describes one arithmetic operation.
type ArithOpInfo struct {
	Name       string
	Operands   int  // values consumed
	Comparison bool // result is -1/0
}

var arithInfo = [...]ArithOpInfo{
	OpAdd: {"add", 2, false},
	OpSub: {"sub", 2, false},
	OpNeg: {"neg", 1, false},
	OpEq:  {"eq", 2, true},
	OpGt:  {"gt", 2, true},
	OpLt:  {"lt", 2, true},
	OpAnd: {"and", 2, false},
	OpOr:  {"or", 2, false},
	OpNot: {"not", 1, false},
}

var _ = [1]struct{}{}[len(arithInfo)-int(numArithOps)]

// NumArithOps is the number of arithmetic operations. Tables indexed by
// ArithOp should be sized with it.
const NumArithOps = int(numArithOps)

func (op ArithOp) String() string {
	if op < numArithOps {
		return arithInfo[op].Name
	}
	return fmt.Sprintf("ArithOp(%d)", op)
}

// Info returns the descriptor for op.
func (op ArithOp) Info() ArithOpInfo {
	return arithInfo[op]
}

// Operands returns the number of stack values op consumes.
func (op ArithOp) Operands() int {
	return arithInfo[op].Operands
}

// LookupArith resolves an arithmetic keyword.
func LookupArith(name string) (ArithOp, bool) {
	for i, info := range arithInfo {
		if info.Name == name {
			return ArithOp(i), true
		}
	}
	return 0, false
}

// AllArithOps returns every arithmetic operation in declaration order.
func AllArithOps() []ArithOp {
	ops := make([]ArithOp, numArithOps)
	for i := range ops {
		ops[i] = ArithOp(i)
	}
	return ops
}
