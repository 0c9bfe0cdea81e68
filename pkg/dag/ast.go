// Package dag defines the operation graph consumed and produced by instruction
// selection: a DAG of typed value-producing nodes with explicit data and chain
// dependencies. Nodes live in an arena indexed by stable NodeIDs so that
// replacement bookkeeping never depends on pointer identity.
package dag

import "fmt"

// Opcode tags the operation a node performs. Generic opcodes are the lowercase
// constants below; machine opcodes are whatever the pattern table emits.
type Opcode string

// Generic opcodes produced by lowering
const (
	OpEntry       Opcode = "entry"
	OpTokenFactor Opcode = "tokenfactor"
	OpConstant    Opcode = "constant"
	OpRegister    Opcode = "register"
	OpGlobalAddr  Opcode = "globaladdr"
	OpFrameIndex  Opcode = "frameindex"
	OpCopyFromReg Opcode = "copyfromreg"
	OpCopyToReg   Opcode = "copytoreg"
	OpAdd         Opcode = "add"
	OpSub         Opcode = "sub"
	OpMul         Opcode = "mul"
	OpAnd         Opcode = "and"
	OpOr          Opcode = "or"
	OpXor         Opcode = "xor"
	OpShl         Opcode = "shl"
	OpSrl         Opcode = "srl"
	OpSra         Opcode = "sra"
	OpLoad        Opcode = "load"
	OpStore       Opcode = "store"
	OpSetCC       Opcode = "setcc"
	OpBrCond      Opcode = "brcond"
	OpBr          Opcode = "br"
	OpRet         Opcode = "ret"
)

// Type is the value type of one node result
type Type uint8

const (
	TypeInvalid Type = iota
	TypeI1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeF32
	TypeF64
	TypeChain // memory/side-effect ordering token
	TypeGlue
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeI1:      "i1",
	TypeI8:      "i8",
	TypeI16:     "i16",
	TypeI32:     "i32",
	TypeI64:     "i64",
	TypeF32:     "f32",
	TypeF64:     "f64",
	TypeChain:   "ch",
	TypeGlue:    "glue",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// ParseType converts a type name such as "i32" or "ch" to a Type.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if i != int(TypeInvalid) && name == s {
			return Type(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown value type %q", s)
}

// NodeID identifies a node within one graph. IDs are never reused.
type NodeID int

// NoNode is the zero reference
const NoNode NodeID = -1

// Value references one result of a producer node.
type Value struct {
	Node NodeID
	Res  int
}

// V is shorthand for result 0 of a node.
func V(id NodeID) Value {
	return Value{Node: id}
}

func (v Value) String() string {
	if v.Res == 0 {
		return fmt.Sprintf("t%d", v.Node)
	}
	return fmt.Sprintf("t%d:%d", v.Node, v.Res)
}

// Loc is source-location metadata attached by the front end.
type Loc struct {
	File string
	Line int
	Col  int
}

// IsZero reports whether no location is attached.
func (l Loc) IsZero() bool {
	return l.File == "" && l.Line == 0
}

func (l Loc) String() string {
	if l.IsZero() {
		return "<unknown>"
	}
	if l.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Node is one operation in the graph. The auxiliary payload is opcode specific:
// Imms holds the value of a constant node or the immediate operands of a
// machine node; Sym holds a symbol, register or condition-code name.
type Node struct {
	ID       NodeID
	Op       Opcode
	Machine  bool
	Operands []Value
	Types    []Type
	Imms     []int64
	Sym      string
	Loc      Loc
}

// NumResults returns the number of values the node produces.
func (n *Node) NumResults() int {
	return len(n.Types)
}

// IsConstant reports whether the node is a generic integer constant.
func (n *Node) IsConstant() bool {
	return !n.Machine && n.Op == OpConstant && len(n.Imms) == 1
}

// Imm returns the first immediate payload (the value of a constant node).
func (n *Node) Imm() (int64, bool) {
	if len(n.Imms) == 0 {
		return 0, false
	}
	return n.Imms[0], true
}
