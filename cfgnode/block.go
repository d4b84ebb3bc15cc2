package cfgnode

import "github.com/chazu/vmdecomp/ir"

// Block is a maximal straight-line run of instructions: the leaf CFG node
// (spec.md §3, "Block"). It has no children capability.
type Block struct {
	Base
	Index        int
	Instructions []*ir.Instruction
}

// NewBlock constructs a Block spanning [start, end) at the given index.
func NewBlock(index, start, end int, instructions []*ir.Instruction) *Block {
	b := &Block{Index: index, Instructions: instructions}
	b.SetRange(start, end)
	return b
}

func (b *Block) Children() []Node { return nil }
func (b *Block) Kind() string     { return "block" }

// LastInstruction returns the block's final instruction, or nil if empty
// (the sentinel end block is always empty).
func (b *Block) LastInstruction() *ir.Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}
