package ir

// Variable names a local, global, builtin, or instance variable slot.
type Variable struct {
	Name string
	Type InstanceType
}

// Function names a callable the VM's function table resolves.
type Function struct {
	Name  string
	Index int
}

// Value is the union of literal payloads an instruction can carry. Only the
// field matching the instruction's DataType is meaningful.
type Value struct {
	Short  int16
	Int    int32
	Long   int64
	Double float64
	Bool   bool
	String string
}

// Instruction is one VM bytecode instruction plus its metadata (spec.md §3).
type Instruction struct {
	Address  int
	Opcode   Opcode
	Extended ExtendedOpcode
	Compare  ComparisonKind

	Type1 DataType
	Type2 DataType

	Instance InstanceType

	Variable *Variable
	Function *Function

	RefVarType ReferenceVarType

	Value Value
}

// BranchOffset is the semantic alias for Branch*/PushWithContext/PopWithContext
// instructions: the signed displacement added to Address to get the target.
func (i *Instruction) BranchOffset() int { return int(i.Value.Int) }

// ArgumentCount is the semantic alias for Call instructions.
func (i *Instruction) ArgumentCount() int { return int(i.Value.Int) }

// PopWithContextExit is the semantic alias for PopWithContext instructions:
// true when the instance iteration is exhausted (fall-through edge only,
// no edge back to the branch target).
func (i *Instruction) PopWithContextExit() bool { return i.Value.Bool }

// PopSwapSize is the semantic alias for Pop instructions with no Variable
// reference: the encoded "pop-swap" operand (spec.md §4.3, "Pop").
func (i *Instruction) PopSwapSize() int { return int(i.Value.Int) }

// Target returns the absolute address a branch-family instruction jumps to.
func (i *Instruction) Target() int { return i.Address + i.BranchOffset() }

// Len returns the byte length of the instruction. The core only needs
// address arithmetic, not a real encoder/decoder (that lives in the
// out-of-scope bytecode loader), so the length is the distance to the next
// instruction's Address (or to codeLength for the last instruction) rather
// than a fixed width.
func (i *Instruction) Len(next *Instruction, codeLength int) int {
	if next != nil {
		return next.Address - i.Address
	}
	return codeLength - i.Address
}

// CodeEntry is a VM code entry: an instruction stream plus the metadata the
// pipeline needs (spec.md §3, "Code entry").
type CodeEntry struct {
	Name          string
	Instructions  []*Instruction
	Length        int // code length in bytes
	Children      []*CodeEntry
	LocalCount    int
	ArgumentCount int
	StartOffset   int // start offset within parent, 0 for a root entry
	Parent        *CodeEntry
}

// InstructionAt returns the instruction whose Address equals addr, or nil.
func (e *CodeEntry) InstructionAt(addr int) *Instruction {
	for _, inst := range e.Instructions {
		if inst.Address == addr {
			return inst
		}
	}
	return nil
}

// IndexOf returns the index of inst within e.Instructions, or -1.
func (e *CodeEntry) IndexOf(inst *Instruction) int {
	for idx, i := range e.Instructions {
		if i == inst {
			return idx
		}
	}
	return -1
}
