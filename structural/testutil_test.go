package structural

import (
	"testing"

	"github.com/chazu/vmdecomp/blockbuilder"
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// branch builds a branch-family instruction at addr targeting target; the
// offset is derived so callers can write fixtures in terms of absolute
// addresses, matching how a real disassembly reads.
func branch(addr int, op ir.Opcode, target int) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: op, Value: ir.Value{Int: int32(target - addr)}}
}

func plain(addr int, op ir.Opcode) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: op}
}

func cmp(addr int, kind ir.ComparisonKind) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpCompare, Compare: kind}
}

func pushImm(addr int, v int32) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpPushImmediate, Value: ir.Value{Short: int16(v)}}
}

func push32(addr int, v int32) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpPush, Type1: ir.TypeInt32, Value: ir.Value{Int: v}}
}

// buildFragment runs the block builder and the fragment pass over insts, a
// fixture whose final instruction's address plus one instruction's worth of
// length is length. Callers that don't otherwise care can pass the address
// immediately past the last instruction.
func buildFragment(t *testing.T, name string, length int, insts []*ir.Instruction) *cfgnode.Fragment {
	t.Helper()
	entry := &ir.CodeEntry{Name: name, Instructions: insts, Length: length}
	result, err := blockbuilder.Build(entry, "@@try_hook@@")
	if err != nil {
		t.Fatalf("blockbuilder.Build(%s) = %v", name, err)
	}
	return RecoverFragment(name, result.Blocks)
}
