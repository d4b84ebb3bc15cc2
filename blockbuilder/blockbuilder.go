// Package blockbuilder implements the first pass of the decompiler
// pipeline: translating a code entry's linear instruction list into a CFG
// of basic blocks (spec.md §4.1).
package blockbuilder

import (
	"fmt"
	"sort"

	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// TryHookFunction is the name the block builder matches a Call instruction
// against to recognize the try-hook intrinsic (spec.md §6, VM constants).
// Build falls back to it only when its tryHookFunction argument is empty;
// decompile.Context passes the configured name as that argument instead.
var TryHookFunction = "@@try_hook@@"

// Error is a fatal block-construction failure (spec.md §4.1,
// "Failure semantics").
type Error struct {
	Entry   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("block builder: entry %q: %s", e.Entry, e.Message)
}

// Result is the output of Build: the ordered block list and, for
// convenience, a lookup from leader address to block.
type Result struct {
	Blocks  []*cfgnode.Block
	ByStart map[int]*cfgnode.Block
}

// Build runs the block builder over entry's instruction stream, using
// tryHookFunction to recognize try-hook call sites.
func Build(entry *ir.CodeEntry, tryHookFunction string) (*Result, error) {
	if tryHookFunction == "" {
		tryHookFunction = TryHookFunction
	}

	leaders, err := findLeaders(entry, tryHookFunction)
	if err != nil {
		return nil, err
	}

	blocks, byStart, err := partitionBlocks(entry, leaders)
	if err != nil {
		return nil, err
	}

	if err := wireEdges(entry, blocks, byStart, tryHookFunction); err != nil {
		return nil, err
	}

	patchUnreachable(blocks)

	return &Result{Blocks: blocks, ByStart: byStart}, nil
}

// findLeaders computes the set of block-leader addresses (spec.md §4.1,
// "Leader-finding").
func findLeaders(entry *ir.CodeEntry, tryHookFunction string) (map[int]bool, error) {
	leaders := map[int]bool{0: true, entry.Length: true}

	insts := entry.Instructions
	for idx, inst := range insts {
		switch inst.Opcode {
		case ir.OpBranch, ir.OpBranchTrue, ir.OpBranchFalse, ir.OpPushWithContext, ir.OpPopWithContext:
			target := inst.Target()
			if !validAddress(entry, target) {
				return nil, &Error{Entry: entry.Name, Message: fmt.Sprintf("branch at %d targets invalid address %d", inst.Address, target)}
			}
			leaders[target] = true
			if idx+1 < len(insts) {
				leaders[insts[idx+1].Address] = true
			} else {
				leaders[entry.Length] = true
			}
		case ir.OpReturn, ir.OpExit:
			if idx+1 < len(insts) {
				leaders[insts[idx+1].Address] = true
			} else {
				leaders[entry.Length] = true
			}
		case ir.OpCall:
			if inst.Function != nil && inst.Function.Name == tryHookFunction {
				finallyAddr, err := isolateTryHook(entry, idx)
				if err != nil {
					return nil, err
				}
				leaders[finallyAddr] = true
				if idx+2 < len(insts) {
					leaders[insts[idx+2].Address] = true
				} else {
					leaders[entry.Length] = true
				}
			}
		}
	}
	return leaders, nil
}

// isolateTryHook validates the six-instruction try-hook window around the
// Call at insts[callIdx] (spec.md §4.1, "Try-hook isolation") and returns
// the finally address it encodes, which becomes a leader.
func isolateTryHook(entry *ir.CodeEntry, callIdx int) (int, error) {
	insts := entry.Instructions
	if callIdx-4 < 0 || callIdx+1 >= len(insts) {
		return 0, &Error{Entry: entry.Name, Message: "try-hook call too close to entry boundary"}
	}
	finallyPush := insts[callIdx-4]
	catchPush := insts[callIdx-2]
	popDelete := insts[callIdx+1]

	if finallyPush.Opcode != ir.OpPush || finallyPush.Type1 != ir.TypeInt32 {
		return 0, &Error{Entry: entry.Name, Message: "try-hook window: expected Push Int32 finally address at call-4"}
	}
	if catchPush.Opcode != ir.OpPush || catchPush.Type1 != ir.TypeInt32 {
		return 0, &Error{Entry: entry.Name, Message: "try-hook window: expected Push Int32 catch address at call-2"}
	}
	if popDelete.Opcode != ir.OpPopDelete {
		return 0, &Error{Entry: entry.Name, Message: "try-hook window: expected PopDelete at call+1"}
	}
	return int(finallyPush.Value.Int), nil
}

func validAddress(entry *ir.CodeEntry, addr int) bool {
	if addr == entry.Length {
		return true
	}
	return entry.InstructionAt(addr) != nil
}

// partitionBlocks slices entry.Instructions at each leader address.
func partitionBlocks(entry *ir.CodeEntry, leaders map[int]bool) ([]*cfgnode.Block, map[int]*cfgnode.Block, error) {
	starts := make([]int, 0, len(leaders))
	for addr := range leaders {
		starts = append(starts, addr)
	}
	sort.Ints(starts)

	blocks := make([]*cfgnode.Block, 0, len(starts))
	byStart := make(map[int]*cfgnode.Block, len(starts))

	for i, start := range starts {
		end := entry.Length
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		var insts []*ir.Instruction
		for _, inst := range entry.Instructions {
			if inst.Address >= start && inst.Address < end {
				insts = append(insts, inst)
			}
		}
		block := cfgnode.NewBlock(i, start, end, insts)
		blocks = append(blocks, block)
		byStart[start] = block
	}
	return blocks, byStart, nil
}

// wireEdges builds predecessor/successor edges for each block's last
// instruction (spec.md §4.1, "Edge construction").
func wireEdges(entry *ir.CodeEntry, blocks []*cfgnode.Block, byStart map[int]*cfgnode.Block, tryHookFunction string) error {
	connect := func(from, to *cfgnode.Block) {
		from.AddSuccessor(to)
		to.AddPredecessor(from)
	}

	for i, b := range blocks {
		var fallThrough *cfgnode.Block
		if i+1 < len(blocks) {
			fallThrough = blocks[i+1]
		}

		last := b.LastInstruction()
		if last == nil {
			if fallThrough != nil {
				connect(b, fallThrough)
			}
			continue
		}

		switch last.Opcode {
		case ir.OpBranch:
			target, ok := byStart[last.Target()]
			if !ok {
				return &Error{Entry: entry.Name, Message: fmt.Sprintf("branch at %d has no leader at target %d", last.Address, last.Target())}
			}
			connect(b, target)

		case ir.OpBranchTrue, ir.OpBranchFalse, ir.OpPushWithContext:
			if fallThrough != nil {
				connect(b, fallThrough)
			}
			target, ok := byStart[last.Target()]
			if !ok {
				return &Error{Entry: entry.Name, Message: fmt.Sprintf("branch at %d has no leader at target %d", last.Address, last.Target())}
			}
			connect(b, target)

		case ir.OpPopWithContext:
			if fallThrough != nil {
				connect(b, fallThrough)
			}
			if !last.PopWithContextExit() {
				target, ok := byStart[last.Target()]
				if !ok {
					return &Error{Entry: entry.Name, Message: fmt.Sprintf("popWithContext at %d has no leader at target %d", last.Address, last.Target())}
				}
				connect(b, target)
			}

		case ir.OpPopDelete:
			if fallThrough != nil {
				connect(b, fallThrough)
			}
			if finallyAddr, catchAddr, isTryHook := tryHookBlockAddrs(entry, b, tryHookFunction); isTryHook {
				if finallyBlock, ok := byStart[finallyAddr]; ok {
					connect(b, finallyBlock)
				}
				if catchAddr != -1 {
					if catchBlock, ok := byStart[catchAddr]; ok {
						connect(b, catchBlock)
					}
				}
			}

		case ir.OpReturn, ir.OpExit:
			// no successors

		default:
			if fallThrough != nil {
				connect(b, fallThrough)
			}
		}
	}
	return nil
}

// tryHookBlockAddrs recognizes the six-instruction try-hook block pattern
// and returns the finally/catch addresses it encodes.
func tryHookBlockAddrs(entry *ir.CodeEntry, b *cfgnode.Block, tryHookFunction string) (finallyAddr, catchAddr int, ok bool) {
	insts := b.Instructions
	if len(insts) != 6 {
		return 0, 0, false
	}
	call := insts[4]
	if call.Opcode != ir.OpCall || call.Function == nil || call.Function.Name != tryHookFunction {
		return 0, 0, false
	}
	finallyPush := insts[0]
	catchPush := insts[2]
	if finallyPush.Opcode != ir.OpPush || catchPush.Opcode != ir.OpPush {
		return 0, 0, false
	}
	return int(finallyPush.Value.Int), int(catchPush.Value.Int), true
}

// patchUnreachable wires every non-initial block with no predecessors to
// the immediately preceding block, so no block is orphaned (spec.md §4.1,
// "Unreachable patch-up").
func patchUnreachable(blocks []*cfgnode.Block) {
	for i, b := range blocks {
		if i == 0 {
			continue
		}
		if len(b.Predecessors()) == 0 {
			b.SetUnreachable(true)
			prev := blocks[i-1]
			prev.AddSuccessor(b)
			b.AddPredecessor(prev)
		}
	}
}
