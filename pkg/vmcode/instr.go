package vmcode

import "fmt"

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Pos is the source position of an instruction. Line is 1-based; zero
// means the instruction was built in code rather than parsed.
type Pos struct {
	Line int
}

func (p Pos) String() string {
	if p.Line == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", p.Line)
}

// Instr is one VM instruction. The set of implementations is closed:
// every variant is a type in this package and every consumer dispatches
// through Visitor, so adding a variant is a compile error for each
// consumer until it handles it.
type Instr interface {
	Position() Pos
	Accept(v Visitor) error
	String() string

	instr()
}

// Visitor has one method per instruction variant.
type Visitor interface {
	VisitArith(*Arith) error
	VisitPush(*Push) error
	VisitPop(*Pop) error
	VisitLabel(*Label) error
	VisitGoto(*Goto) error
	VisitIfGoto(*IfGoto) error
	VisitFunction(*Function) error
	VisitReturn(*Return) error
	VisitCall(*Call) error
}

// Arith is a stack arithmetic, logic or comparison operation.
type Arith struct {
	Op  ArithOp
	Pos Pos
}

// Push pushes a segment value.
type Push struct {
	Segment Segment
	Index   uint32
	Pos     Pos
}

// Pop pops the top value into a segment.
type Pop struct {
	Segment Segment
	Index   uint32
	Pos     Pos
}

// Label marks a jump target inside the current function.
type Label struct {
	Name string
	Pos  Pos
}

// Goto jumps unconditionally.
type Goto struct {
	Target string
	Pos    Pos
}

// IfGoto pops a value and jumps when it is non-zero.
type IfGoto struct {
	Target string
	Pos    Pos
}

// Function starts a function with Locals zero-initialised local slots.
type Function struct {
	Name   string
	Locals uint32
	Pos    Pos
}

// Return pops the return value and leaves the function.
type Return struct {
	Pos Pos
}

// Call pops Args values and pushes the callee's result.
type Call struct {
	Name string
	Args uint32
	Pos  Pos
}

func (*Arith) instr()    {}
func (*Push) instr()     {}
func (*Pop) instr()      {}
func (*Label) instr()    {}
func (*Goto) instr()     {}
func (*IfGoto) instr()   {}
func (*Function) instr() {}
func (*Return) instr()   {}
func (*Call) instr()     {}

func (i *Arith) Position() Pos    { return i.Pos }
func (i *Push) Position() Pos     { return i.Pos }
func (i *Pop) Position() Pos      { return i.Pos }
func (i *Label) Position() Pos    { return i.Pos }
func (i *Goto) Position() Pos     { return i.Pos }
func (i *IfGoto) Position() Pos   { return i.Pos }
func (i *Function) Position() Pos { return i.Pos }
func (i *Return) Position() Pos   { return i.Pos }
func (i *Call) Position() Pos     { return i.Pos }

func (i *Arith) Accept(v Visitor) error    { return v.VisitArith(i) }
func (i *Push) Accept(v Visitor) error     { return v.VisitPush(i) }
func (i *Pop) Accept(v Visitor) error      { return v.VisitPop(i) }
func (i *Label) Accept(v Visitor) error    { return v.VisitLabel(i) }
func (i *Goto) Accept(v Visitor) error     { return v.VisitGoto(i) }
func (i *IfGoto) Accept(v Visitor) error   { return v.VisitIfGoto(i) }
func (i *Function) Accept(v Visitor) error { return v.VisitFunction(i) }
func (i *Return) Accept(v Visitor) error   { return v.VisitReturn(i) }
func (i *Call) Accept(v Visitor) error     { return v.VisitCall(i) }

func (i *Arith) String() string    { return i.Op.String() }
func (i *Push) String() string     { return fmt.Sprintf("push %s %d", i.Segment, i.Index) }
func (i *Pop) String() string      { return fmt.Sprintf("pop %s %d", i.Segment, i.Index) }
func (i *Label) String() string    { return "label " + i.Name }
func (i *Goto) String() string     { return "goto " + i.Target }
func (i *IfGoto) String() string   { return "if-goto " + i.Target }
func (i *Function) String() string { return fmt.Sprintf("function %s %d", i.Name, i.Locals) }
func (i *Return) String() string   { return "return" }
func (i *Call) String() string     { return fmt.Sprintf("call %s %d", i.Name, i.Args) }

// StackEffect returns how many values an instruction consumes and
// produces on the operand stack.
func StackEffect(in Instr) (pops, pushes int) {
	switch in := in.(type) {
	case *Arith:
		return in.Op.Operands(), 1
	case *Push:
		return 0, 1
	case *Pop:
		return 1, 0
	case *IfGoto:
		return 1, 0
	case *Return:
		return 1, 0
	case *Call:
		return int(in.Args), 1
	}
	return 0, 0
}
