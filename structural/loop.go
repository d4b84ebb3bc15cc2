package structural

import (
	"sort"

	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// backEdge is an edge from tail to head where head is an ancestor of tail
// in DFS order — the signature of a loop (spec.md §4.2.2, "Loops are
// discovered by performing a depth-first numbering of the CFG, then
// identifying back-edges").
type backEdge struct {
	head, tail cfgnode.Node
}

// findBackEdges performs a DFS over roots (the fragment's current
// top-level children) and returns every back edge discovered.
func findBackEdges(roots []cfgnode.Node) []backEdge {
	const (
		white = iota
		gray
		black
	)
	color := make(map[cfgnode.Node]int)

	var edges []backEdge
	var visit func(n cfgnode.Node)
	visit = func(n cfgnode.Node) {
		color[n] = gray
		for _, s := range n.Successors() {
			switch color[s] {
			case white:
				visit(s)
			case gray:
				edges = append(edges, backEdge{head: s, tail: n})
			}
		}
		color[n] = black
	}

	for _, r := range roots {
		if color[r] == white {
			visit(r)
		}
	}
	return edges
}

// naturalLoop computes the maximal set of nodes that can reach tail without
// passing through head — the natural loop of the back edge head<-tail
// (spec.md §4.2.2).
func naturalLoop(head, tail cfgnode.Node) []cfgnode.Node {
	if head == tail {
		// A single-block loop's only member is that block itself: starting
		// the backward walk from tail's predecessors would otherwise
		// explore head's predecessors too (since they are the same node),
		// sweeping in whatever precedes the loop from outside.
		return []cfgnode.Node{head}
	}

	inLoop := map[cfgnode.Node]bool{head: true, tail: true}
	stack := []cfgnode.Node{tail}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range n.Predecessors() {
			if !inLoop[p] {
				inLoop[p] = true
				stack = append(stack, p)
			}
		}
	}

	out := make([]cfgnode.Node, 0, len(inLoop))
	for n := range inLoop {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAddr() < out[j].StartAddr() })
	return out
}

// RecoverLoops finds every loop in the fragment's current top-level
// children and recovers each into the appropriate composite
// (WithLoop/While/DoUntil/Repeat), innermost first.
func RecoverLoops(fragment *cfgnode.Fragment) []cfgnode.Node {
	var recovered []cfgnode.Node

	recovered = append(recovered, recoverWithLoops(fragment)...)

	for {
		roots := fragment.Children()
		edges := findBackEdges(roots)
		if len(edges) == 0 {
			break
		}

		// Process the smallest natural loop first, approximating
		// innermost-first processing for properly nested loops
		// (spec.md §4.2.2, "Nested loops are processed innermost-first").
		type candidate struct {
			edge backEdge
			body []cfgnode.Node
		}
		cands := make([]candidate, 0, len(edges))
		for _, e := range edges {
			cands = append(cands, candidate{edge: e, body: naturalLoop(e.head, e.tail)})
		}
		sort.Slice(cands, func(i, j int) bool { return len(cands[i].body) < len(cands[j].body) })

		c := cands[0]
		node := recoverOneLoop(fragment, c.edge.head, c.edge.tail, c.body)
		if node == nil {
			// Unrecognized loop shape: drop the back edge so the pass
			// terminates rather than looping forever on it.
			Detach(c.edge.tail, c.edge.head)
			continue
		}
		recovered = append(recovered, node)
	}

	return recovered
}

// recoverOneLoop classifies and recovers a single back edge's natural loop
// per the table in spec.md §4.2.2.
func recoverOneLoop(fragment *cfgnode.Fragment, head, tail cfgnode.Node, body []cfgnode.Node) cfgnode.Node {
	headBlock, headIsBlock := head.(*cfgnode.Block)
	tailBlock, tailIsBlock := tail.(*cfgnode.Block)

	if tailIsBlock && headIsBlock {
		if repeat := tryRecoverRepeat(fragment, headBlock, tailBlock, body); repeat != nil {
			return repeat
		}
		if isUnconditionalBranch(tailBlock) && endsWithForwardExit(headBlock) {
			return recoverWhile(fragment, head, tail, body)
		}
		if isConditionalBranchBackToHead(tailBlock, headBlock) {
			return recoverDoUntil(fragment, head, tail, body)
		}
	}

	// Fallback: a back edge whose shape we cannot classify more precisely
	// is still a loop; treat it as a do-until guarded by whatever the
	// tail's last instruction is, so the pipeline makes forward progress
	// instead of leaving an un-recovered cycle in the graph.
	return recoverDoUntil(fragment, head, tail, body)
}

func isUnconditionalBranch(b *cfgnode.Block) bool {
	last := b.LastInstruction()
	return last != nil && last.Opcode == ir.OpBranch
}

func isConditionalBranchBackToHead(tail, head *cfgnode.Block) bool {
	last := tail.LastInstruction()
	if last == nil {
		return false
	}
	return (last.Opcode == ir.OpBranchFalse || last.Opcode == ir.OpBranchTrue) && last.Target() == head.StartAddr()
}

// endsWithForwardExit reports whether b ends in a conditional branch
// (BranchFalse/BranchTrue) — the while loop's head shape. The branch
// target is not checked.
func endsWithForwardExit(b *cfgnode.Block) bool {
	last := b.LastInstruction()
	if last == nil {
		return false
	}
	return last.Opcode == ir.OpBranchFalse || last.Opcode == ir.OpBranchTrue
}

// bodyWithout returns body minus head and tail, in address order — the
// statement-bearing interior of the loop.
func bodyWithout(body []cfgnode.Node, head, tail cfgnode.Node) []cfgnode.Node {
	out := make([]cfgnode.Node, 0, len(body))
	for _, n := range body {
		if n != head && n != tail {
			out = append(out, n)
		}
	}
	return out
}

// firstBodyBlock returns the head's non-branch (fall-through) successor —
// the first block inside the loop after the condition (spec.md §4.2.2,
// "Body").
func firstBodyBlock(head cfgnode.Node) cfgnode.Node {
	succs := head.Successors()
	if len(succs) == 0 {
		return nil
	}
	return succs[0]
}

// recoverWhile recovers a pre-test loop: head's forward-exit branch is the
// loop's only natural successor once the back edge and the internal
// body-entry edge are cut, so head donates both the composite's
// predecessors and its successor (spec.md §4.2.2, "While").
func recoverWhile(fragment *cfgnode.Fragment, head, tail cfgnode.Node, body []cfgnode.Node) cfgnode.Node {
	bodyEntry := firstBodyBlock(head)
	w := &cfgnode.WhileLoop{Head: head, Tail: tail, Body: bodyEntry}

	Detach(tail, head)
	if bodyEntry != nil {
		Detach(head, bodyEntry)
	}
	// tail's trailing unconditional branch back to head is now a dangling
	// edge-turned-instruction with no source-level meaning: simulate would
	// otherwise read it as a bare Branch and, since its target equals the
	// loop's own continueAddr, misclassify it as an explicit "continue"
	// tacked onto the end of every while body.
	popTrailingBranch(tail)

	return finishLoop(&w.Composite, w, head, head, head, tail, nil, body)
}

// recoverDoUntil recovers a post-test loop: tail's fall-through (taken once
// the BranchFalse/BranchTrue guard stops looping) is the loop's natural
// successor once the back edge to head is cut (spec.md §4.2.2, "Do-Until").
func recoverDoUntil(fragment *cfgnode.Fragment, head, tail cfgnode.Node, body []cfgnode.Node) cfgnode.Node {
	d := &cfgnode.DoUntilLoop{Head: head, Tail: tail}

	Detach(tail, head)

	return finishLoop(&d.Composite, d, head, tail, head, tail, nil, body)
}

// tryRecoverRepeat recognizes the VM's counted-iteration idiom (spec.md
// §4.2.2, "Repeat"): a guard block that pre-checks the counter before ever
// entering the loop ("push N; dup; push 0; cmp LTE; bt exit"), and a tail
// that decrements, tests, and branches back to the loop's head ("push 1;
// sub; dup; conv.b; bt/bf head"). Returns nil when the shape does not
// match, so the caller falls back to generic while/do-until recovery.
func tryRecoverRepeat(fragment *cfgnode.Fragment, headBlock, tailBlock *cfgnode.Block, body []cfgnode.Node) cfgnode.Node {
	if !isConditionalBranchBackToHead(tailBlock, headBlock) {
		return nil
	}
	if !isRepeatDecrementTail(tailBlock) {
		return nil
	}

	guard := repeatGuardPredecessor(headBlock, tailBlock)
	if guard == nil {
		return nil
	}

	r := &cfgnode.RepeatLoop{Head: headBlock, Tail: tailBlock}

	Detach(tailBlock, headBlock)

	return finishLoop(&r.Composite, r, guard, tailBlock, headBlock, tailBlock, guard, body)
}

// isRepeatDecrementTail reports whether b's trailing instructions match the
// Repeat idiom's per-iteration counter check: "push 1; sub; dup; conv.b;
// bt/bf head" (spec.md §4.2.2, "Repeat" pattern).
func isRepeatDecrementTail(b *cfgnode.Block) bool {
	n := len(b.Instructions)
	if n < 5 {
		return false
	}
	window := b.Instructions[n-5:]
	pushOne, sub, dup, conv, branch := window[0], window[1], window[2], window[3], window[4]

	if pushOne.Opcode != ir.OpPush && pushOne.Opcode != ir.OpPushImmediate {
		return false
	}
	if sub.Opcode != ir.OpSub {
		return false
	}
	if dup.Opcode != ir.OpDuplicate {
		return false
	}
	if conv.Opcode != ir.OpConvert {
		return false
	}
	return branch.Opcode == ir.OpBranchTrue || branch.Opcode == ir.OpBranchFalse
}

// repeatGuardPredecessor returns head's external predecessor (other than
// tail, the back edge) that matches the Repeat idiom's pre-loop counter
// guard: "push N; dup; push 0; cmp LTE; bt exit" (spec.md §4.2.2), or nil
// if head has no such predecessor.
func repeatGuardPredecessor(head, tail *cfgnode.Block) *cfgnode.Block {
	for _, p := range head.Predecessors() {
		if p == tail {
			continue
		}
		b, ok := p.(*cfgnode.Block)
		if ok && isRepeatGuardBlock(b) {
			return b
		}
	}
	return nil
}

func isRepeatGuardBlock(b *cfgnode.Block) bool {
	n := len(b.Instructions)
	if n < 5 {
		return false
	}
	window := b.Instructions[n-5:]
	pushN, dup, pushZero, cmp, branch := window[0], window[1], window[2], window[3], window[4]

	if pushN.Opcode != ir.OpPush && pushN.Opcode != ir.OpPushImmediate {
		return false
	}
	if dup.Opcode != ir.OpDuplicate {
		return false
	}
	if pushZero.Opcode != ir.OpPush && pushZero.Opcode != ir.OpPushImmediate {
		return false
	}
	if cmp.Opcode != ir.OpCompare || cmp.Compare != ir.CompareLE {
		return false
	}
	return branch.Opcode == ir.OpBranchTrue || branch.Opcode == ir.OpBranchFalse
}

// recoverWithLoops finds each PushWithContext/PopWithContext bracket pair
// among fragment's current top-level blocks and recovers it into a
// WithLoop composite (spec.md §4.2.2, "With"). It runs before back-edge
// loop recovery because the VM never encodes a with-loop's iteration as an
// explicit back edge — the interpreter re-enters the body internally, so
// the bracket has to be found by PushWithContext/PopWithContext pattern
// matching rather than DFS back-edge detection.
func recoverWithLoops(fragment *cfgnode.Fragment) []cfgnode.Node {
	var recovered []cfgnode.Node

	for {
		head := findPushWithContextBlock(fragment)
		if head == nil {
			break
		}
		node := recoverOneWithLoop(fragment, head)
		if node == nil {
			// Malformed bracket (no matching close found): stop scanning
			// rather than looping on an un-recoverable block forever.
			break
		}
		recovered = append(recovered, node)
	}

	return recovered
}

func findPushWithContextBlock(fragment *cfgnode.Fragment) *cfgnode.Block {
	for _, kid := range fragment.Children() {
		b, ok := kid.(*cfgnode.Block)
		if !ok {
			continue
		}
		last := b.LastInstruction()
		if last != nil && last.Opcode == ir.OpPushWithContext {
			return b
		}
	}
	return nil
}

// recoverOneWithLoop recovers the with-region opened by head. head's
// successors are [bodyEntry, after] by the block builder's fall-through/
// branch ordering (spec.md §4.1, "Edge construction"), exactly like a
// while loop's head — so, like recoverWhile, head donates both the
// composite's predecessors and its sole successor.
func recoverOneWithLoop(fragment *cfgnode.Fragment, head *cfgnode.Block) cfgnode.Node {
	succs := head.Successors()
	if len(succs) != 2 {
		return nil
	}
	bodyEntry, after := succs[0], succs[1]

	tail := findWithContextClose(bodyEntry, after)
	if tail == nil {
		return nil
	}

	body := collectChain(head, tail)

	breakBlock := findWithBreakBlock(fragment, head, tail, after)
	if breakBlock != nil {
		body = append(body, breakBlock)
		sort.Slice(body, func(i, j int) bool { return body[i].StartAddr() < body[j].StartAddr() })
		Detach(breakBlock, after)
	}

	w := &cfgnode.WithLoop{Head: head, Tail: tail, After: after}
	if breakBlock != nil {
		w.BreakBlock = breakBlock
	}

	Detach(head, bodyEntry)

	node := finishLoop(&w.Composite, w, head, head, head, tail, nil, body)
	if breakBlock != nil && breakBlock.EndAddr() > w.EndAddr() {
		// The cleanup block can sit past tail's own end (a break-only drop
		// is often emitted right before after, trailing the ordinary
		// close); finishLoop's range only accounts for head..tail, so
		// widen it to the composite's actual last owned child.
		w.SetRange(w.StartAddr(), breakBlock.EndAddr())
	}
	return node
}

// findWithBreakBlock looks for a PopenvDrop cleanup block: a block other
// than tail, still sitting at fragment's top level and addressed inside
// the with-region (between head and after), whose own last instruction is
// a PopWithContext with exit = true and whose sole successor is the
// region's own after — the shape a `break` inside the body takes when the
// VM routes it through a dedicated cleanup block rather than through the
// ordinary fall-through chain tail already covers (spec.md §4.2.2's With
// row, "Optional BreakBlock is the PopenvDrop cleanup block"). Returns nil
// when the region has no such block, the common case.
func findWithBreakBlock(fragment *cfgnode.Fragment, head, tail, after cfgnode.Node) *cfgnode.Block {
	for _, kid := range fragment.Children() {
		if kid == head || kid == tail {
			continue
		}
		b, ok := kid.(*cfgnode.Block)
		if !ok {
			continue
		}
		if b.StartAddr() <= head.StartAddr() || b.StartAddr() >= after.StartAddr() {
			continue
		}
		last := b.LastInstruction()
		if last == nil || last.Opcode != ir.OpPopWithContext || !last.PopWithContextExit() {
			continue
		}
		succs := b.Successors()
		if len(succs) == 1 && succs[0] == after {
			return b
		}
	}
	return nil
}

// findWithContextClose walks the fall-through chain from start looking for
// the block whose last instruction is PopWithContext, tracking nesting
// depth so an inner with-region's close does not get mistaken for the
// outer one's (inner regions are recovered first by recoverWithLoops's
// scan order, but both brackets are still visible as flat blocks the first
// time an outer head is examined).
func findWithContextClose(start, after cfgnode.Node) *cfgnode.Block {
	depth := 0
	n := start
	for n != nil && n != after {
		b, ok := n.(*cfgnode.Block)
		if !ok {
			return nil
		}
		if last := b.LastInstruction(); last != nil {
			switch last.Opcode {
			case ir.OpPushWithContext:
				depth++
			case ir.OpPopWithContext:
				if depth == 0 {
					return b
				}
				depth--
			}
		}
		succs := n.Successors()
		if len(succs) == 0 {
			return nil
		}
		n = succs[0]
	}
	return nil
}

// collectChain returns head, its fall-through chain, and tail, in order.
func collectChain(head, tail cfgnode.Node) []cfgnode.Node {
	var out []cfgnode.Node
	n := head
	for {
		out = append(out, n)
		if n == tail {
			break
		}
		succs := n.Successors()
		if len(succs) == 0 {
			break
		}
		n = succs[0]
	}
	return out
}

// finishLoop performs the InsertStructure/SetChildren/After-synthesis and
// parent-absorption steps shared by every loop kind. before/after are the
// InsertStructure splice boundary (which may both be head, when head alone
// carries the loop's one external successor); head/tail bound the natural
// loop used to assemble the body; prefix, when non-nil, is a pre-loop block
// (the Repeat idiom's counter guard) absorbed as the composite's leading
// child rather than part of the natural loop itself.
func finishLoop(comp *cfgnode.Composite, self cfgnode.Node, before, after, head, tail, prefix cfgnode.Node, body []cfgnode.Node) cfgnode.Node {
	rangeStart := head.StartAddr()
	if prefix != nil {
		rangeStart = prefix.StartAddr()
	}
	comp.SetRange(rangeStart, tail.EndAddr())

	parent := before.Parent()
	InsertStructure(before, after, self)

	interior := bodyWithout(body, head, tail)
	var kids []cfgnode.Node
	if prefix != nil {
		kids = append(kids, prefix)
	}
	kids = append(kids, head)
	kids = append(kids, interior...)
	if tail != head {
		// A single-block do-until loop has head == tail; appending it
		// again here would duplicate the block in the composite's
		// child list.
		kids = append(kids, tail)
	}
	comp.SetChildren(self, kids)

	setAfter(self, synthesizeAfter(self))

	AbsorbChildren(parent, kids)
	return self
}

// synthesizeAfter returns the loop's natural successor (self's sole
// remaining successor after finishLoop's InsertStructure call), or a
// synthetic Empty anchor if none exists (spec.md §3, "a sentinel Empty used
// as the 'after' anchor of loops whose natural exit is synthesized").
func synthesizeAfter(self cfgnode.Node) cfgnode.Node {
	for _, s := range self.Successors() {
		if s != nil {
			return s
		}
	}
	return cfgnode.NewEmpty(self.EndAddr())
}

func setAfter(setter interface{}, after cfgnode.Node) {
	switch v := setter.(type) {
	case *cfgnode.WhileLoop:
		v.After = after
	case *cfgnode.DoUntilLoop:
		v.After = after
	case *cfgnode.RepeatLoop:
		v.After = after
	case *cfgnode.WithLoop:
		v.After = after
	}
}
