// Package simulate implements the Block Simulator / AST Builder: the pass
// that walks a fragment's recovered control-flow hierarchy and replays its
// instructions against an expression stack to produce the decompiler's
// output AST (spec.md §4.3). It depends on nothing from the structural
// recovery or block-building passes beyond the cfgnode/ir data they
// produce, so it can be exercised and tested standalone.
package simulate

import (
	"fmt"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
)

// Simulate runs the Block Simulator / AST Builder over fragment, the root
// composite blockbuilder.Build plus the structural recovery passes
// produced, and returns the entry's recovered function body plus any
// warnings raised along the way.
//
// A fatal stack-invariant or structural violation is reported as a
// *Error; the simulator uses panic/recover internally to unwind from deep
// composite recursion without threading an error return through every
// helper (the same discipline the VM's own interpreter uses for stack
// underflow).
func Simulate(entry *ir.CodeEntry, fragment *cfgnode.Fragment, cfg *config.Config) (block *astir.Block, warnings []Warning, err error) {
	s := newSimulator(entry, cfg)

	defer func() {
		if r := recover(); r != nil {
			if simErr, ok := r.(*Error); ok {
				err = simErr
				return
			}
			panic(r)
		}
	}()

	s.pushFragment()
	stmts := simulateSequence(s, fragment.Children())
	s.popFragment()

	if s.depth() > 0 {
		if s.cfg.Policy.AllowLeftoverDataOnStack {
			s.warn(Warning{Kind: DecompileDataLeftoverWarning, NumberOfElements: s.depth()})
		} else {
			return nil, s.warnings, &Error{EntryName: entry.Name, Message: fmt.Sprintf("%d item(s) left on stack at end of fragment %q", s.depth(), entry.Name)}
		}
	}

	return &astir.Block{Stmts: stmts}, s.warnings, nil
}

// simulateSequence simulates a list of sibling nodes in source order
// against s's one running stack, returning the statements they emit.
// This is the shared engine behind Fragment bodies, loop/branch bodies,
// and try/catch/finally regions: the stack persists across sibling
// boundaries exactly as it did in the original linear instruction stream.
func simulateSequence(s *simulator, nodes []cfgnode.Node) []astir.Stmt {
	var stmts []astir.Stmt
	for _, n := range nodes {
		stmts = append(stmts, simulateNode(s, n)...)
	}
	return stmts
}

// simulateNode simulates one CFG node, dispatching to the composite
// override matching its concrete type (spec.md §4.3, "Composite
// overrides"), or running a leaf Block's instructions directly.
func simulateNode(s *simulator, n cfgnode.Node) []astir.Stmt {
	switch node := n.(type) {
	case *cfgnode.Block:
		return simulateInstructions(s, node.Instructions)

	case *cfgnode.ShortCircuit:
		s.push(simulateShortCircuit(s, node))
		return nil

	case *cfgnode.WhileLoop:
		return simulateWhile(s, node)

	case *cfgnode.DoUntilLoop:
		return []astir.Stmt{simulateDoUntil(s, node)}

	case *cfgnode.RepeatLoop:
		return simulateRepeat(s, node)

	case *cfgnode.WithLoop:
		return simulateWith(s, node)

	case *cfgnode.If:
		return simulateIf(s, node)

	case *cfgnode.Switch:
		return simulateSwitch(s, node)

	case *cfgnode.TryCatchFinally:
		return []astir.Stmt{simulateTry(s, node)}

	case *cfgnode.Empty:
		return nil

	case *cfgnode.Fragment:
		// A nested fragment never appears inside another fragment's own
		// hierarchy (spec.md §5: each code entry gets its own independent
		// Fragment); reaching one here means the caller handed Simulate
		// the wrong root.
		panic(&Error{EntryName: s.entry.Name, Message: "unexpected nested fragment in CFG"})

	default:
		panic(&Error{EntryName: s.entry.Name, Message: fmt.Sprintf("unrecognized CFG node kind %q", n.Kind())})
	}
}

// asBlock requires n to be a leaf Block, the shape every condition- or
// target-bearing head/tail takes in a well-formed recovered graph. A
// non-Block here means structural recovery fell back to a degenerate
// shape this builder cannot interpret (spec.md §7, "Structural").
func asBlock(s *simulator, n cfgnode.Node, role string) *cfgnode.Block {
	b, ok := n.(*cfgnode.Block)
	if !ok {
		panic(&Error{EntryName: s.entry.Name, Message: fmt.Sprintf("%s is not a leaf block (got %q)", role, n.Kind())})
	}
	return b
}

// simulateGoverningExpr simulates b's instructions except a trailing run
// of strip terminator/cascade instructions, then pops the value left on
// top of the stack as the governing expression a head or tail block
// computes for its owning composite (spec.md §4.3: "simulate head (leaves
// condition on stack), pop condition"). strip is 1 for an ordinary
// condition/target block ending in its own branch instruction, or 4 for a
// switch/repeat dup-comparison cascade window (spec.md §4.2.3's "dup; push
// K; cmp EQ; bt caseK", reused by the Repeat guard's "dup; push 0; cmp
// LTE; bt exit").
func simulateGoverningExpr(s *simulator, b *cfgnode.Block, strip int) (astir.Expr, []astir.Stmt) {
	n := len(b.Instructions)
	cut := n - strip
	if cut < 0 {
		cut = 0
	}
	stmts := simulateInstructions(s, b.Instructions[:cut])
	return s.popExpr(), stmts
}

// simulateShortCircuit implements spec.md §4.3's "ShortCircuit" override.
func simulateShortCircuit(s *simulator, node *cfgnode.ShortCircuit) astir.Expr {
	conditions := make([]astir.Expr, 0, len(node.Children()))
	for _, kid := range node.Children() {
		before := s.depth()
		// Recovered short-circuit children are always plain condition
		// blocks (recoverShortCircuit only ever collects raw *Block
		// predecessors; the terminator itself is not among them). A block
		// left empty by recovery contributes nothing.
		b := asBlock(s, kid, "short-circuit condition")
		if len(b.Instructions) == 0 {
			continue
		}
		simulateInstructions(s, b.Instructions)
		if s.depth() != before+1 {
			panic(&Error{EntryName: s.entry.Name, Message: "short circuit condition changed stack size"})
		}
		conditions = append(conditions, s.popExpr())
	}
	return &astir.ShortCircuit{Logic: node.Logic, Conditions: conditions}
}

// simulateIf implements spec.md §4.3's "If" override. Cond's block often
// carries nothing but the test itself, but whenever a plain statement sits
// in the same block as the branch (nothing forced a split before it), that
// statement's simulateGoverningExpr output is returned as a leading
// statement ahead of the recovered If rather than dropped.
func simulateIf(s *simulator, node *cfgnode.If) []astir.Stmt {
	head := asBlock(s, node.Cond, "if condition")
	cond, leading := simulateGoverningExpr(s, head, 1)

	thenStmts := simulateSequence(s, []cfgnode.Node{node.Then})
	ifStmt := &astir.If{Cond: cond, Then: &astir.Block{Stmts: thenStmts}}
	if node.Else != nil {
		// Usually a single node, but an "else if" whose own condition was
		// extracted into a preceding composite (e.g. a ShortCircuit feeding
		// the inner If's branch) leaves the else arm as a short chain;
		// chainFrom walks it in full (spec.md §4.2.3).
		elseChain := chainFrom(node.Children(), node.Else)
		elseStmts := simulateSequence(s, elseChain)
		ifStmt.Else = &astir.Block{Stmts: elseStmts}
	}
	return append(leading, ifStmt)
}

// simulateWhile implements spec.md §4.3's "While" override: simulate
// head, pop the condition, simulate the rest of the loop (the body
// entry's fall-through chain through tail) as statements.
func simulateWhile(s *simulator, node *cfgnode.WhileLoop) []astir.Stmt {
	head := asBlock(s, node.Head, "while condition")
	cond, leading := simulateGoverningExpr(s, head, 1)

	body := bodyMembers(node.Children(), node.Head)
	s.pushLoop(head.StartAddr(), node.After.StartAddr())
	bodyStmts := simulateSequence(s, body)
	s.popLoop()
	return append(leading, &astir.While{Cond: cond, Body: &astir.Block{Stmts: bodyStmts}})
}

// simulateDoUntil implements spec.md §4.3's "DoUntil" override: simulate
// the whole body (head through tail) as statements, with the guard
// condition popped off whatever the tail block's instructions leave on
// the stack once its own trailing branch is skipped.
func simulateDoUntil(s *simulator, node *cfgnode.DoUntilLoop) astir.Stmt {
	kids := node.Children()
	var stmts []astir.Stmt
	var cond astir.Expr

	s.pushLoop(node.Tail.StartAddr(), node.After.StartAddr())
	for _, kid := range kids {
		if kid == node.Tail {
			tail := asBlock(s, kid, "do-until guard")
			var tailStmts []astir.Stmt
			cond, tailStmts = simulateGoverningExpr(s, tail, 1)
			stmts = append(stmts, tailStmts...)
			continue
		}
		stmts = append(stmts, simulateNode(s, kid)...)
	}
	s.popLoop()

	return &astir.DoUntil{Body: &astir.Block{Stmts: stmts}, Cond: cond}
}

// simulateRepeat implements spec.md §4.3's "Repeat" override: the count
// expression comes from the pre-loop guard block (this builder's
// composite-level equivalent of spec's "skip leading PushImmediate via
// StartBlockInstructionIndex" — the guard's dup-comparison window is
// stripped the same way a switch cascade's is), and the loop's own
// decrement/test tail contributes no expression, only whatever ordinary
// side-effecting instructions precede its decrement window.
func simulateRepeat(s *simulator, node *cfgnode.RepeatLoop) []astir.Stmt {
	kids := node.Children()
	if len(kids) == 0 || kids[0] == node.Head {
		panic(&Error{EntryName: s.entry.Name, Message: "repeat loop missing count guard"})
	}
	guard := asBlock(s, kids[0], "repeat count guard")
	count, leading := simulateGoverningExpr(s, guard, 4)

	var stmts []astir.Stmt
	s.pushLoop(node.Tail.StartAddr(), node.After.StartAddr())
	for _, kid := range kids[1:] {
		if kid == node.Tail {
			tail := asBlock(s, kid, "repeat decrement tail")
			cut := len(tail.Instructions) - 5
			if cut < 0 {
				cut = 0
			}
			stmts = append(stmts, simulateInstructions(s, tail.Instructions[:cut])...)
			continue
		}
		stmts = append(stmts, simulateNode(s, kid)...)
	}
	s.popLoop()

	return append(leading, &astir.Repeat{Count: count, Body: &astir.Block{Stmts: stmts}})
}

// simulateWith implements spec.md §4.3's "With" override. Target is
// whatever value sits on top of the stack once head's instructions run
// (minus its own trailing PushWithContext) — in the common case head is
// nothing but the PushWithContext instruction itself, and the pushed
// instance expression was computed by a preceding sibling already
// simulated against the same running stack.
func simulateWith(s *simulator, node *cfgnode.WithLoop) []astir.Stmt {
	head := asBlock(s, node.Head, "with target")
	target, leading := simulateGoverningExpr(s, head, 1)

	breakAddr := node.After.StartAddr()
	if node.BreakBlock != nil {
		breakAddr = node.BreakBlock.StartAddr()
	}

	body := bodyMembers(node.Children(), node.Head)
	s.pushLoop(node.Tail.StartAddr(), breakAddr)
	bodyStmts := simulateSequence(s, body)
	s.popLoop()
	return append(leading, &astir.With{Target: target, Body: &astir.Block{Stmts: bodyStmts}})
}

// simulateSwitch implements spec.md §4.3's "Switch" override. Subject is
// recovered from a prefix of the raw head block — the cascade's trailing
// dup/push/cmp/bt window carries no AST content of its own — and each
// case's body is simulated independently; the rest of the raw cascade
// blocks exist only to satisfy the "children span the cascade's address
// range" structural invariant and are never re-simulated. A case whose
// body is the same node as the next case's gets an empty body, so the
// shared body is emitted once, under the last case, as a fall-through.
func simulateSwitch(s *simulator, node *cfgnode.Switch) []astir.Stmt {
	head := asBlock(s, node.Subject, "switch subject")
	subject, leading := simulateGoverningExpr(s, head, 4)

	cases := make([]astir.SwitchCase, len(node.Cases))
	for i, c := range node.Cases {
		var bodyStmts []astir.Stmt
		if i+1 >= len(node.Cases) || node.Cases[i+1].Body != c.Body {
			bodyStmts = simulateSequence(s, []cfgnode.Node{c.Body})
		}
		cases[i] = astir.SwitchCase{Value: c.Value, Body: &astir.Block{Stmts: bodyStmts}}
	}
	return append(leading, &astir.Switch{Subject: subject, Cases: cases})
}

// simulateTry implements spec.md §4.3's "Try" override. Children()[0] is
// always the try-hook's six-instruction setup block (spec.md §4.1,
// "Try-hook isolation"): pure scaffolding the structural pass consumed in
// full, contributing nothing to the AST, so it is never simulated.
func simulateTry(s *simulator, node *cfgnode.TryCatchFinally) astir.Stmt {
	t := &astir.Try{}

	tryBody := chainBetween(node.Children(), node.Try, node.Finally)
	t.TryBody = &astir.Block{Stmts: simulateSequence(s, tryBody)}

	if node.Catch != nil {
		catchBody := chainBetween(node.Children(), node.Catch, node.Finally)
		t.Catch = &astir.Block{Stmts: simulateSequence(s, catchBody)}
	}

	finallyBody := chainFrom(node.Children(), node.Finally)
	t.FinallyBody = &astir.Block{Stmts: simulateSequence(s, finallyBody)}

	return t
}

// bodyMembers returns children minus head, in source order — the
// statement-bearing interior of a While or With loop whose own condition/
// target was already extracted from head.
func bodyMembers(children []cfgnode.Node, head cfgnode.Node) []cfgnode.Node {
	out := make([]cfgnode.Node, 0, len(children))
	for _, c := range children {
		if c != head {
			out = append(out, c)
		}
	}
	return out
}

// chainBetween returns the run of members starting at start and ending
// just before boundary is reached, by walking successor edges — the shape
// a try or catch body's fall-through chain takes among a
// TryCatchFinally's flat Children() list.
func chainBetween(members []cfgnode.Node, start, boundary cfgnode.Node) []cfgnode.Node {
	if start == nil {
		return nil
	}
	memberSet := nodeSet(members)
	var out []cfgnode.Node
	n := start
	for n != nil && n != boundary && memberSet[n] {
		out = append(out, n)
		succs := n.Successors()
		if len(succs) == 0 {
			break
		}
		n = succs[0]
	}
	return out
}

// chainFrom returns the run of members starting at start and continuing
// while the next node is still a member of the composite's own children —
// the shape a finally body's chain takes, since nothing outside the
// composite bounds it from within Children() alone.
func chainFrom(members []cfgnode.Node, start cfgnode.Node) []cfgnode.Node {
	if start == nil {
		return nil
	}
	memberSet := nodeSet(members)
	var out []cfgnode.Node
	n := start
	for n != nil && memberSet[n] {
		out = append(out, n)
		succs := n.Successors()
		if len(succs) != 1 || !memberSet[succs[0]] {
			break
		}
		n = succs[0]
	}
	return out
}

func nodeSet(nodes []cfgnode.Node) map[cfgnode.Node]bool {
	m := make(map[cfgnode.Node]bool, len(nodes))
	for _, n := range nodes {
		m[n] = true
	}
	return m
}
