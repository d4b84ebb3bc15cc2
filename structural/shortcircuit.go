package structural

import (
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// isTerminatorBlock reports whether b matches the short-circuit terminator
// signature: its sole instruction is a Push/PushImmediate carrying an
// Int16 payload (spec.md §4.2.1, "Signature pattern"). oldBytecode selects
// which opcode the terminator uses on this VM version.
func isTerminatorBlock(b *cfgnode.Block, oldBytecode bool) (logic cfgnode.LogicKind, ok bool) {
	if len(b.Instructions) != 1 {
		return 0, false
	}
	inst := b.Instructions[0]
	wantOp := ir.OpPush
	if oldBytecode {
		wantOp = ir.OpPushImmediate
	}
	if inst.Opcode != wantOp || inst.Type1 != ir.TypeInt16 {
		return 0, false
	}
	if inst.Value.Short == 0 {
		return cfgnode.LogicAnd, true
	}
	return cfgnode.LogicOr, true
}

// FindShortCircuits scans fragment's leaf blocks for terminator-shaped
// blocks and recovers each into a ShortCircuit composite. It returns the
// recovered composites in the order their terminators were found.
func FindShortCircuits(fragment *cfgnode.Fragment, oldBytecode bool) []*cfgnode.ShortCircuit {
	var found []*cfgnode.ShortCircuit

	// Walk a snapshot of children; recovery mutates the fragment's child
	// list as it goes, so iterate over blocks discovered up front.
	var candidates []*cfgnode.Block
	for _, kid := range fragment.Children() {
		if b, ok := kid.(*cfgnode.Block); ok {
			candidates = append(candidates, b)
		}
	}

	for _, term := range candidates {
		logic, ok := isTerminatorBlock(term, oldBytecode)
		if !ok {
			continue
		}
		sc := recoverShortCircuit(term, logic)
		if sc != nil {
			found = append(found, sc)
		}
	}
	return found
}

// recoverShortCircuit implements spec.md §4.2.1's "Reconstruction" for one
// terminator block.
func recoverShortCircuit(term *cfgnode.Block, logic cfgnode.LogicKind) *cfgnode.ShortCircuit {
	preds := term.Predecessors()
	if len(preds) == 0 {
		return nil
	}

	children := make([]cfgnode.Node, len(preds))
	children[0] = preds[0]
	for i := 0; i < len(preds)-1; i++ {
		// children[i+1] is reached by falling through preds[i] without
		// short-circuiting — which is how the chain's next condition
		// block is discovered, rather than trusting predecessor-list
		// order directly (spec.md §4.2.1, "Reconstruction").
		children[i+1] = nonBranchSuccessor(preds[i])
	}

	// The last condition's true path jumps around the terminator in its
	// own tiny block (spec.md §4.2.1's "Reconstruction") rather than
	// falling into it — found the same way the chain's condition blocks
	// are, before stripTrailingBranch below severs the edge that leads to
	// it. Once the combined boolean is this composite's own value, that
	// jump no longer represents anything a caller should see.
	skip := nonBranchSuccessor(preds[len(preds)-1])

	for _, p := range preds {
		stripTrailingBranch(p)
	}

	if prev := blockEndingAt(term.StartAddr(), children); prev != nil {
		stripTrailingBranch(prev)
	}

	// skip still has one live outgoing edge to whatever follows the
	// terminator, and its own trailing instruction is a bare unconditional
	// Branch — the only kind simulate doesn't treat as inert scaffolding,
	// since a surviving bare Branch is otherwise read as an explicit
	// break/continue. Left alone it would still be simulated as its own
	// top-level sibling (a recovered ShortCircuit doesn't absorb it, so it
	// stays a sibling of sc) and misclassified, since it sits outside any
	// loop. Detaching its edge and stripping the instruction leaves it an
	// empty block: present in the child list, contributing nothing.
	if b, ok := skip.(*cfgnode.Block); ok && skip != term {
		if succs := b.Successors(); len(succs) == 1 {
			Detach(b, succs[0])
		}
		popTrailingBranch(b)
	}

	if len(term.Instructions) > 0 {
		term.Instructions = term.Instructions[:len(term.Instructions)-1]
	}

	sc := &cfgnode.ShortCircuit{Logic: logic}
	sc.SetRange(children[0].StartAddr(), term.EndAddr())

	parent := children[0].Parent()

	InsertStructure(children[0], term, sc)
	sc.SetChildren(sc, children)

	absorbed := append([]cfgnode.Node{term}, children[1:]...)
	AbsorbChildren(parent, absorbed)

	return sc
}

// nonBranchSuccessor returns n's fall-through successor: by the block
// builder's edge-ordering convention, index 0 (spec.md §4.1, "Edge
// construction": "non-branch before branch").
func nonBranchSuccessor(n cfgnode.Node) cfgnode.Node {
	succs := n.Successors()
	if len(succs) == 0 {
		return n
	}
	return succs[0]
}

// stripTrailingBranch removes a block's trailing branch instruction
// (conditional or unconditional) and disconnects its successors, branch-target first
// (index 1) then fall-through (index 0), per spec.md §4.2.1.
func stripTrailingBranch(n cfgnode.Node) {
	b, ok := n.(*cfgnode.Block)
	if !ok || len(b.Instructions) == 0 {
		return
	}
	last := b.Instructions[len(b.Instructions)-1]
	isBranch := last.Opcode == ir.OpBranchTrue || last.Opcode == ir.OpBranchFalse || last.Opcode == ir.OpBranch

	succs := append([]cfgnode.Node(nil), b.Successors()...)
	if len(succs) >= 2 {
		Detach(b, succs[1])
		Detach(b, succs[0])
	} else if len(succs) == 1 {
		Detach(b, succs[0])
	}

	if isBranch {
		b.Instructions = b.Instructions[:len(b.Instructions)-1]
	}
}

// blockEndingAt returns, among children, the block whose EndAddr equals
// addr — the block immediately preceding the terminator in source order
// (spec.md §4.2.1).
func blockEndingAt(addr int, children []cfgnode.Node) cfgnode.Node {
	for _, c := range children {
		if c.EndAddr() == addr {
			return c
		}
	}
	return nil
}
