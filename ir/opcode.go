// Package ir defines the instruction-level input to the decompiler: the
// opcode set, the Instruction record, and the CodeEntry tree the block
// builder consumes. Nothing in this package executes bytecode — the VM
// that does is an external collaborator (spec.md §1).
package ir

import "fmt"

// Opcode identifies a VM instruction. The set below is the documented
// core (spec.md §3); opcodes the decompiler does not need to distinguish
// individually are grouped under their arithmetic/bitwise/compare family.
type Opcode byte

const (
	// ------------------------------------------------------------------
	// Control flow (0x00-0x0F)
	// ------------------------------------------------------------------

	OpBranch      Opcode = 0x00 // unconditional jump to Address+BranchOffset
	OpBranchTrue  Opcode = 0x01 // pop, jump if truthy
	OpBranchFalse Opcode = 0x02 // pop, jump if falsy

	// ------------------------------------------------------------------
	// Instance-context scoping (0x10-0x1F)
	// ------------------------------------------------------------------

	OpPushWithContext Opcode = 0x10 // open a with-loop instance scope
	OpPopWithContext  Opcode = 0x11 // close a with-loop instance scope (PopWithContextExit: no-more-instances exit)

	// ------------------------------------------------------------------
	// Stack push/pop (0x20-0x3F)
	// ------------------------------------------------------------------

	OpPush          Opcode = 0x20 // push typed value (Type1 selects payload)
	OpPushImmediate Opcode = 0x21 // push inline Int16 constant
	OpPushLocal     Opcode = 0x22 // push local variable read
	OpPushGlobal    Opcode = 0x23 // push global variable read
	OpPushBuiltin   Opcode = 0x24 // push builtin variable read
	OpPop           Opcode = 0x25 // assignment or pop-swap, see simulate package
	OpPopDelete     Opcode = 0x26 // discard top of stack ("popz")
	OpDuplicate     Opcode = 0x27 // duplicate top of stack (DuplicationSize/DuplicationSize2)

	// ------------------------------------------------------------------
	// Calls and returns (0x40-0x4F)
	// ------------------------------------------------------------------

	OpCall   Opcode = 0x40 // call function (ArgumentCount operands on stack)
	OpReturn Opcode = 0x41 // pop, return value
	OpExit   Opcode = 0x42 // return with no value

	// ------------------------------------------------------------------
	// Conversion (0x50)
	// ------------------------------------------------------------------

	OpConvert Opcode = 0x50 // convert top of stack from DataType1 to DataType2

	// ------------------------------------------------------------------
	// Arithmetic / bitwise / compare family (0x60-0x7F)
	// ------------------------------------------------------------------

	OpAdd     Opcode = 0x60
	OpSub     Opcode = 0x61
	OpMul     Opcode = 0x62
	OpDiv     Opcode = 0x63
	OpMod     Opcode = 0x64
	OpRem     Opcode = 0x65
	OpAnd     Opcode = 0x66
	OpOr      Opcode = 0x67
	OpXor     Opcode = 0x68
	OpShl     Opcode = 0x69
	OpShr     Opcode = 0x6A
	OpCompare Opcode = 0x6B // ComparisonKind selects the operator
	OpNot     Opcode = 0x6C // unary
	OpNegate  Opcode = 0x6D // unary

	// ------------------------------------------------------------------
	// Extended (0xF0)
	// ------------------------------------------------------------------

	OpExtended Opcode = 0xF0 // ExtendedOpcode selects the actual operation
)

// opcodeNames gives the disassembly text for each opcode.
var opcodeNames = map[Opcode]string{
	OpBranch:          "b",
	OpBranchTrue:      "bt",
	OpBranchFalse:     "bf",
	OpPushWithContext: "pushenv",
	OpPopWithContext:  "popenv",
	OpPush:            "push",
	OpPushImmediate:   "pushi",
	OpPushLocal:       "pushloc",
	OpPushGlobal:      "pushglb",
	OpPushBuiltin:     "pushbltn",
	OpPop:             "pop",
	OpPopDelete:       "popz",
	OpDuplicate:       "dup",
	OpCall:            "call",
	OpReturn:          "ret",
	OpExit:            "exit",
	OpConvert:         "conv",
	OpAdd:             "add",
	OpSub:             "sub",
	OpMul:             "mul",
	OpDiv:             "div",
	OpMod:             "mod",
	OpRem:             "rem",
	OpAnd:             "and",
	OpOr:              "or",
	OpXor:             "xor",
	OpShl:             "shl",
	OpShr:             "shr",
	OpCompare:         "cmp",
	OpNot:             "not",
	OpNegate:          "neg",
	OpExtended:        "extended",
}

// String implements fmt.Stringer.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("unknown_0x%02X", byte(op))
}

// IsBinaryArithmetic reports whether op is one of the binary arithmetic,
// bitwise, or compare instructions (spec.md §4.3, "Binary arithmetic...").
func (op Opcode) IsBinaryArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr, OpCompare:
		return true
	default:
		return false
	}
}

// IsUnary reports whether op is a unary instruction.
func (op Opcode) IsUnary() bool {
	return op == OpNot || op == OpNegate
}

// ExtendedOpcode identifies the operation carried by an OpExtended
// instruction.
type ExtendedOpcode byte

const (
	ExtSetArrayOwner ExtendedOpcode = iota
	ExtPushReference
)

// ComparisonKind identifies the operator carried by an OpCompare
// instruction.
type ComparisonKind byte

const (
	CompareLT ComparisonKind = iota
	CompareLE
	CompareEQ
	CompareNE
	CompareGE
	CompareGT
)

func (c ComparisonKind) String() string {
	switch c {
	case CompareLT:
		return "<"
	case CompareLE:
		return "<="
	case CompareEQ:
		return "=="
	case CompareNE:
		return "!="
	case CompareGE:
		return ">="
	case CompareGT:
		return ">"
	default:
		return "?"
	}
}

// DataType identifies the type tag carried by Push/Convert/Pop instructions.
type DataType byte

const (
	TypeInt16 DataType = iota
	TypeInt32
	TypeInt64
	TypeDouble
	TypeBoolean
	TypeString
	TypeVariable
)

// InstanceType identifies the left-operand instance an instruction targets.
// Non-negative values are numeric object ids; the named constants use the
// negative range reserved for them, mirroring the VM's own encoding.
type InstanceType int32

const (
	InstanceSelf     InstanceType = -1
	InstanceOther    InstanceType = -2
	InstanceAll      InstanceType = -3
	InstanceNoone    InstanceType = -4
	InstanceGlobal   InstanceType = -5
	InstanceBuiltin  InstanceType = -6
	InstanceLocal    InstanceType = -7
	InstanceStackTop InstanceType = -9
)

// ReferenceVarType identifies how a variable's left side is resolved.
type ReferenceVarType byte

const (
	RefNormal ReferenceVarType = iota
	RefArray
	RefStackTop
)
