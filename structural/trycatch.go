package structural

import (
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// RecoverTryCatchFinally finds each try-hook block the block builder
// isolated and recovers it into a TryCatchFinally composite (spec.md
// §4.2.4). tryHookFunction must match the name Build was given, so the
// same call site is recognized.
func RecoverTryCatchFinally(fragment *cfgnode.Fragment, tryHookFunction string) []*cfgnode.TryCatchFinally {
	var recovered []*cfgnode.TryCatchFinally

	for {
		head := findTryHookBlock(fragment, tryHookFunction)
		if head == nil {
			break
		}
		t := recoverOneTryCatchFinally(head)
		if t == nil {
			break
		}
		recovered = append(recovered, t)
	}

	return recovered
}

func findTryHookBlock(fragment *cfgnode.Fragment, tryHookFunction string) *cfgnode.Block {
	for _, kid := range fragment.Children() {
		b, ok := kid.(*cfgnode.Block)
		if ok && isTryHookBlock(b, tryHookFunction) {
			return b
		}
	}
	return nil
}

// isTryHookBlock reports whether b is the six-instruction try-hook block
// the block builder isolates (spec.md §4.1, "Try-hook isolation"):
// {finally-push, conv, catch-push, conv, call, popDelete}.
func isTryHookBlock(b *cfgnode.Block, tryHookFunction string) bool {
	if len(b.Instructions) != 6 {
		return false
	}
	call := b.Instructions[4]
	if call.Opcode != ir.OpCall || call.Function == nil || call.Function.Name != tryHookFunction {
		return false
	}
	finallyPush, catchPush, popDelete := b.Instructions[0], b.Instructions[2], b.Instructions[5]
	return finallyPush.Opcode == ir.OpPush && catchPush.Opcode == ir.OpPush && popDelete.Opcode == ir.OpPopDelete
}

// tryHookAddrs returns the finally/catch addresses a try-hook block
// encodes, matching blockbuilder.isolateTryHook's reading of the window.
func tryHookAddrs(b *cfgnode.Block) (finallyAddr, catchAddr int) {
	return int(b.Instructions[0].Value.Int), int(b.Instructions[2].Value.Int)
}

// recoverOneTryCatchFinally recovers the region head opens: the try body
// (reachable forward until the finally address), an optional catch body
// (from the catch address until the finally address), and the finally
// body (from the finally address until the common join), per spec.md
// §4.2.4.
func recoverOneTryCatchFinally(head *cfgnode.Block) *cfgnode.TryCatchFinally {
	succs := head.Successors()
	if len(succs) < 2 {
		return nil
	}
	tryStart, finallyBlock := succs[0], succs[1]

	_, catchAddr := tryHookAddrs(head)
	var catchStart cfgnode.Node
	if catchAddr != -1 && len(succs) >= 3 {
		catchStart = succs[2]
	}

	tryBody := collectBodyChain(tryStart, finallyBlock)
	var catchBody []cfgnode.Node
	if catchStart != nil {
		catchBody = collectBodyChain(catchStart, finallyBlock)
	}

	finallyBody, after := collectFinallyChain(finallyBlock, tryBody, catchBody)

	t := &cfgnode.TryCatchFinally{Try: tryStart, Finally: finallyBlock}
	if catchStart != nil {
		t.Catch = catchStart
	}
	t.SetRange(head.StartAddr(), finallyBody[len(finallyBody)-1].EndAddr())

	parent := head.Parent()

	kids := []cfgnode.Node{head}
	kids = append(kids, tryBody...)
	kids = append(kids, catchBody...)
	kids = append(kids, finallyBody...)
	kidSet := nodeSet(kids)

	// Exits from the try/catch bodies that bypass finally (direct jumps
	// synthesized by the VM for the no-exception path) are re-routed
	// through the finally composite, so finally always runs (spec.md
	// §4.2.4, "re-routed through the finally composite").
	bypassCandidates := append(append([]cfgnode.Node{}, tryBody...), catchBody...)
	for _, k := range bypassCandidates {
		for _, s := range append([]cfgnode.Node(nil), k.Successors()...) {
			if s == after {
				Detach(k, s)
				k.AddSuccessor(finallyBlock)
				finallyBlock.AddPredecessor(k)
			}
		}
	}

	for _, k := range kids {
		for _, s := range append([]cfgnode.Node(nil), k.Successors()...) {
			if kidSet[s] {
				Detach(k, s)
			}
		}
	}

	preds := append([]cfgnode.Node(nil), head.Predecessors()...)
	for _, p := range preds {
		p.SetSuccessors(cfgnode.ReplaceEdge(p.Successors(), head, t))
	}
	t.SetPredecessors(preds)
	head.SetPredecessors(nil)
	t.SetParent(parent)
	if parent != nil {
		replaceChild(parent, head, t)
	}

	t.SetSuccessors([]cfgnode.Node{after})
	if _, synthesized := after.(*cfgnode.Empty); !synthesized {
		after.AddPredecessor(t)
	}

	t.SetChildren(t, kids)
	AbsorbChildren(parent, kids)
	return t
}

// collectFinallyChain walks finallyBlock's fall-through chain, collecting
// its body, until it reaches a node claimed by the try/catch bodies
// (malformed input, stop defensively) or a node with more than one
// predecessor — the signature of the region's common join, since a plain
// interior block of finally's own linear body has exactly one predecessor
// (the block before it), while the join is also reached by the try/catch
// bodies' bypass edges (spec.md §4.2.4, "until the common join").
func collectFinallyChain(finallyBlock cfgnode.Node, tryBody, catchBody []cfgnode.Node) (body []cfgnode.Node, after cfgnode.Node) {
	claimed := nodeSet(append(append([]cfgnode.Node{}, tryBody...), catchBody...))

	n := finallyBlock
	for {
		body = append(body, n)
		succs := n.Successors()
		if len(succs) != 1 {
			return body, cfgnode.NewEmpty(n.EndAddr())
		}
		next := succs[0]
		if claimed[next] || isInBody(body, next) {
			return body, cfgnode.NewEmpty(n.EndAddr())
		}
		if len(next.Predecessors()) > 1 {
			return body, next
		}
		n = next
	}
}

// collectBodyChain walks start's fall-through chain up to, but not
// including, boundary — unlike collectChain, which is boundary-inclusive
// and so is unsuitable here: the try and catch bodies' chains both end at
// the finally block, and including it in both would duplicate it in the
// composite's child list alongside the copy collectFinallyChain collects
// starting from finallyBlock itself.
func collectBodyChain(start, boundary cfgnode.Node) []cfgnode.Node {
	var out []cfgnode.Node
	n := start
	for n != boundary {
		out = append(out, n)
		succs := n.Successors()
		if len(succs) == 0 {
			break
		}
		n = succs[0]
	}
	return out
}

func isInBody(body []cfgnode.Node, n cfgnode.Node) bool {
	for _, b := range body {
		if b == n {
			return true
		}
	}
	return false
}
