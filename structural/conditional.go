package structural

import (
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// RecoverConditionals finds every diamond-shaped conditional among
// fragment's current top-level children and recovers each into an If
// composite (spec.md §4.2.3, "A diamond pattern ... becomes an If
// composite with optional else"). It runs after loop recovery, so a then
// or else arm may already be a recovered loop/short-circuit composite
// rather than a raw Block.
func RecoverConditionals(fragment *cfgnode.Fragment) []*cfgnode.If {
	var recovered []*cfgnode.If

	for {
		ifNode := recoverNextConditional(fragment)
		if ifNode == nil {
			break
		}
		recovered = append(recovered, ifNode)
	}

	return recovered
}

// recoverNextConditional scans fragment's current top-level children in
// order and recovers the first one that forms a diamond. A head whose else
// arm isn't a single node yet (e.g. it still ends in its own two-way
// branch, because it is itself an unrecovered "else if" head) is skipped
// rather than aborting the whole pass: an inner diamond discovered later
// in this same scan collapses into a single-successor If, and the next
// call sees the skipped outer head's else arm correctly as one node
// (spec.md §4.2.3's diamond recognizes one level at a time; an "else if"
// chain is recovered inside-out across repeated calls, not in one pass
// over the outer head).
func recoverNextConditional(fragment *cfgnode.Fragment) *cfgnode.If {
	for _, head := range conditionalHeads(fragment) {
		if ifNode := recoverOneConditional(head); ifNode != nil {
			return ifNode
		}
	}
	return nil
}

// conditionalHeads returns every remaining top-level block that ends in a
// two-way conditional branch, in source order.
func conditionalHeads(fragment *cfgnode.Fragment) []*cfgnode.Block {
	var heads []*cfgnode.Block
	for _, kid := range fragment.Children() {
		b, ok := kid.(*cfgnode.Block)
		if !ok {
			continue
		}
		last := b.LastInstruction()
		if last != nil && (last.Opcode == ir.OpBranchTrue || last.Opcode == ir.OpBranchFalse) && len(b.Successors()) == 2 {
			heads = append(heads, b)
		}
	}
	return heads
}

// recoverOneConditional classifies head's diamond as if/else or
// if-without-else and recovers it. Returns nil when head's successors do
// not converge the way a diamond requires (e.g. head is really a switch
// cascade's comparison block).
func recoverOneConditional(head *cfgnode.Block) *cfgnode.If {
	if _, isCase := switchCaseSignature(head); isCase {
		return nil
	}
	succs := head.Successors()
	thenNode, branchTarget := succs[0], succs[1]

	thenSuccs := thenNode.Successors()
	if len(thenSuccs) != 1 {
		return nil
	}
	thenExit := thenSuccs[0]

	if thenExit == branchTarget {
		// if-without-else: the branch target is the merge point itself,
		// reached directly once the (possibly absent) then-body falls
		// through to it.
		return finishIf(head, thenNode, nil, branchTarget)
	}

	elseChain := resolveElseChain(branchTarget, thenExit)
	if elseChain == nil {
		return nil
	}
	return finishIf(head, thenNode, elseChain, thenExit)
}

// resolveElseChain walks forward from elseNode along single-successor
// edges, collecting every node crossed, until it reaches merge. A plain
// else arm is a one-element chain; a longer one shows up when part of the
// else arm's own governing expression was already extracted into its own
// composite by an earlier pass — an "else if (c && d)" head's condition is
// a ShortCircuit sibling feeding the inner If's branch block, so the
// branch target's own successor is that inner If, not merge directly.
// Returns nil if the walk doesn't converge on merge.
func resolveElseChain(elseNode, merge cfgnode.Node) []cfgnode.Node {
	chain := []cfgnode.Node{elseNode}
	cur := elseNode
	for len(chain) <= 64 {
		succs := cur.Successors()
		if len(succs) != 1 {
			return nil
		}
		if succs[0] == merge {
			return chain
		}
		cur = succs[0]
		chain = append(chain, cur)
	}
	return nil
}

// finishIf splices the recovered If composite into the graph in place of
// [head, thenNode, elseChain...], leaving merge as the composite's sole
// successor. ifNode.Else is elseChain's first node; simulateIf recovers
// the rest of the chain via chainFrom over the composite's own children.
func finishIf(head, thenNode cfgnode.Node, elseChain []cfgnode.Node, merge cfgnode.Node) *cfgnode.If {
	ifNode := &cfgnode.If{Cond: head, Then: thenNode}
	if len(elseChain) > 0 {
		ifNode.Else = elseChain[0]
	}
	ifNode.SetRange(head.StartAddr(), merge.StartAddr())

	parent := head.Parent()

	var donor cfgnode.Node
	if len(elseChain) > 0 {
		// then's trailing "b merge" only exists to skip over the else arm;
		// strip it and let InsertStructure redirect merge's real incoming
		// edge from the chain's tail instead.
		popTrailingBranch(thenNode)
		Detach(thenNode, merge)
		donor = elseChain[len(elseChain)-1]
	} else {
		// head's own branch target already is merge; InsertStructure
		// redirects merge's incoming edge from thenNode's fall-through
		// instead, so head's direct edge is now redundant.
		Detach(head, merge)
		donor = thenNode
	}

	InsertStructure(head, donor, ifNode)

	kids := []cfgnode.Node{head, thenNode}
	kids = append(kids, elseChain...)
	ifNode.SetChildren(ifNode, kids)

	AbsorbChildren(parent, kids)
	return ifNode
}

// popTrailingBranch removes n's trailing unconditional Branch instruction,
// if it has one. Used when a prior pass's edge has made the instruction
// redundant (spec.md §9, "Structural rewrite discipline").
func popTrailingBranch(n cfgnode.Node) {
	b, ok := n.(*cfgnode.Block)
	if !ok || len(b.Instructions) == 0 {
		return
	}
	if last := b.Instructions[len(b.Instructions)-1]; last.Opcode == ir.OpBranch {
		b.Instructions = b.Instructions[:len(b.Instructions)-1]
	}
}
