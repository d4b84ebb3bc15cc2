package structural

import (
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

// RecoverSwitches finds every "dup; push K; cmp EQ; bt caseK" cascade
// among fragment's current top-level blocks and recovers each into a
// Switch composite (spec.md §4.2.3). It runs after conditional recovery,
// which leaves every block matching the per-case comparison signature
// alone, so the whole cascade is still made of raw blocks here.
func RecoverSwitches(fragment *cfgnode.Fragment) []*cfgnode.Switch {
	var recovered []*cfgnode.Switch

	for {
		head := findSwitchHead(fragment)
		if head == nil {
			break
		}
		sw := recoverOneSwitch(head)
		if sw == nil {
			break
		}
		recovered = append(recovered, sw)
	}

	return recovered
}

// switchCaseSignature reports whether b's trailing four instructions match
// the cascade's per-case comparison: "dup; push K; cmp EQ; bt caseK"
// (spec.md §4.2.3).
func switchCaseSignature(b *cfgnode.Block) (value int32, ok bool) {
	n := len(b.Instructions)
	if n < 4 {
		return 0, false
	}
	window := b.Instructions[n-4:]
	dup, push, cmp, branch := window[0], window[1], window[2], window[3]

	if dup.Opcode != ir.OpDuplicate {
		return 0, false
	}
	if push.Opcode != ir.OpPush && push.Opcode != ir.OpPushImmediate {
		return 0, false
	}
	if cmp.Opcode != ir.OpCompare || cmp.Compare != ir.CompareEQ {
		return 0, false
	}
	if branch.Opcode != ir.OpBranchTrue && branch.Opcode != ir.OpBranchFalse {
		return 0, false
	}
	if len(b.Successors()) != 2 {
		return 0, false
	}

	if push.Type1 == ir.TypeInt16 {
		return int32(push.Value.Short), true
	}
	return push.Value.Int, true
}

func findSwitchHead(fragment *cfgnode.Fragment) *cfgnode.Block {
	for _, kid := range fragment.Children() {
		b, ok := kid.(*cfgnode.Block)
		if !ok {
			continue
		}
		if _, ok := switchCaseSignature(b); ok {
			return b
		}
	}
	return nil
}

// collectSwitchCascade walks the fall-through chain from head, one
// SwitchCase per matching comparison block, stopping at the first block
// (or already-recovered composite) that does not match — the cascade's
// default arm (spec.md §4.2.3, "terminated by a default branch").
func collectSwitchCascade(head *cfgnode.Block) ([]*cfgnode.Block, []cfgnode.SwitchCase, bool) {
	var cascade []*cfgnode.Block
	var cases []cfgnode.SwitchCase

	var cur cfgnode.Node = head
	for {
		b, isBlock := cur.(*cfgnode.Block)
		if !isBlock {
			break
		}
		value, ok := switchCaseSignature(b)
		if !ok {
			break
		}
		succs := b.Successors()
		v := value
		cases = append(cases, cfgnode.SwitchCase{Value: &v, Body: succs[1]})
		cascade = append(cascade, b)
		cur = succs[0]
	}
	if len(cascade) == 0 || cur == nil {
		return nil, nil, false
	}
	cases = append(cases, cfgnode.SwitchCase{IsDefault: true, Body: cur})
	return cascade, cases, true
}

func recoverOneSwitch(head *cfgnode.Block) *cfgnode.Switch {
	cascade, cases, ok := collectSwitchCascade(head)
	if !ok {
		return nil
	}
	lastCascade := cascade[len(cascade)-1]

	sw := &cfgnode.Switch{Subject: head, Cases: cases}
	sw.SetRange(head.StartAddr(), lastCascade.EndAddr())

	parent := head.Parent()

	kids := switchKids(cascade, cases)
	kidSet := nodeSet(kids)

	after := switchConvergence(kids, kidSet)

	// Every edge leaving a cascade block or case body is either internal
	// (the cascade's own fall-through chain, now fully captured by the
	// recovered SwitchCase list) or the shared exit edge to after; detach
	// them all and reattach the shared exit from the Switch itself
	// (spec.md §9, "Structural rewrite discipline"). A case body's trailing
	// unconditional branch to that exit is now redundant the same way a
	// then-arm's skip-the-else branch is in finishIf; a cascade block's own
	// trailing branch is conditional (part of its comparison), so popping
	// only ever affects the case bodies here.
	for _, k := range kids {
		for _, s := range append([]cfgnode.Node(nil), k.Successors()...) {
			Detach(k, s)
		}
		popTrailingBranch(k)
	}

	preds := append([]cfgnode.Node(nil), head.Predecessors()...)
	for _, p := range preds {
		p.SetSuccessors(cfgnode.ReplaceEdge(p.Successors(), head, sw))
	}
	sw.SetPredecessors(preds)
	head.SetPredecessors(nil)
	sw.SetParent(parent)
	if parent != nil {
		replaceChild(parent, head, sw)
	}

	sw.SetSuccessors([]cfgnode.Node{after})
	if _, synthesized := after.(*cfgnode.Empty); !synthesized {
		after.AddPredecessor(sw)
	}

	sw.SetChildren(sw, kids)
	AbsorbChildren(parent, kids)
	return sw
}

func switchKids(cascade []*cfgnode.Block, cases []cfgnode.SwitchCase) []cfgnode.Node {
	kids := make([]cfgnode.Node, 0, len(cascade)+len(cases))
	seen := make(map[cfgnode.Node]bool, len(cascade)+len(cases))
	for _, cb := range cascade {
		if !seen[cb] {
			kids = append(kids, cb)
			seen[cb] = true
		}
	}
	for _, c := range cases {
		if !seen[c.Body] {
			kids = append(kids, c.Body)
			seen[c.Body] = true
		}
	}
	return kids
}

func nodeSet(nodes []cfgnode.Node) map[cfgnode.Node]bool {
	m := make(map[cfgnode.Node]bool, len(nodes))
	for _, n := range nodes {
		m[n] = true
	}
	return m
}

// switchConvergence finds the single node every kid's one remaining
// (non-internal) successor edge leads to — the switch's natural exit — or
// synthesizes an Empty anchor when kids disagree or none has one (spec.md
// §3, "a sentinel Empty").
func switchConvergence(kids []cfgnode.Node, kidSet map[cfgnode.Node]bool) cfgnode.Node {
	var after cfgnode.Node
	for _, k := range kids {
		for _, s := range k.Successors() {
			if kidSet[s] {
				continue
			}
			if after == nil {
				after = s
			} else if after != s {
				return cfgnode.NewEmpty(k.EndAddr())
			}
		}
	}
	if after == nil {
		return cfgnode.NewEmpty(kids[len(kids)-1].EndAddr())
	}
	return after
}
