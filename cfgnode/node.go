// Package cfgnode defines the control-flow graph's node type: the
// polymorphic variant set spec.md §3 calls "Control-flow node", capable of
// holding predecessors, successors, a parent, and — for composites — owned
// children. A Block is the only variant without children; that capability
// is intentionally absent on it, per spec.md's data model.
package cfgnode

// Node is the capability set every CFG node variant satisfies. Predecessor
// and successor edges refer to siblings at the same hierarchical level: as
// structural recovery re-levels the graph, edges are rewritten to keep that
// true (spec.md §3, "the CFG is re-leveled as structure is recovered").
type Node interface {
	StartAddr() int
	EndAddr() int
	SetRange(start, end int)

	Parent() Node
	SetParent(Node)

	Predecessors() []Node
	SetPredecessors([]Node)
	AddPredecessor(Node)
	RemovePredecessor(Node)

	Successors() []Node
	SetSuccessors([]Node)
	AddSuccessor(Node)
	RemoveSuccessor(Node)

	// Children returns this node's owned children in source order, or nil
	// if this variant has no children capability (only Block).
	Children() []Node

	Unreachable() bool
	SetUnreachable(bool)

	// Kind names the variant, for warnings, debug dumps, and the AST
	// builder's traversal dispatch.
	Kind() string
}

// Base implements the common fields every Node variant shares. Embed it and
// add variant-specific fields and a Children/Kind override.
type Base struct {
	start, end  int
	parent      Node
	preds       []Node
	succs       []Node
	unreachable bool
}

func (b *Base) StartAddr() int { return b.start }
func (b *Base) EndAddr() int   { return b.end }

func (b *Base) SetRange(start, end int) {
	b.start = start
	b.end = end
}

func (b *Base) Parent() Node         { return b.parent }
func (b *Base) SetParent(p Node)     { b.parent = p }
func (b *Base) Predecessors() []Node { return b.preds }
func (b *Base) SetPredecessors(n []Node) {
	b.preds = n
}
func (b *Base) AddPredecessor(n Node) { b.preds = append(b.preds, n) }
func (b *Base) RemovePredecessor(n Node) {
	b.preds = removeNode(b.preds, n)
}

func (b *Base) Successors() []Node     { return b.succs }
func (b *Base) SetSuccessors(n []Node) { b.succs = n }
func (b *Base) AddSuccessor(n Node)    { b.succs = append(b.succs, n) }
func (b *Base) RemoveSuccessor(n Node) {
	b.succs = removeNode(b.succs, n)
}

func (b *Base) Unreachable() bool     { return b.unreachable }
func (b *Base) SetUnreachable(v bool) { b.unreachable = v }

func removeNode(list []Node, target Node) []Node {
	out := list[:0:0]
	for _, n := range list {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// ReplaceEdge swaps target for replacement in-place wherever target appears
// in list, preserving order. Used by InsertStructure to splice a composite
// into the edges its children used to own.
func ReplaceEdge(list []Node, target, replacement Node) []Node {
	out := make([]Node, len(list))
	for i, n := range list {
		if n == target {
			out[i] = replacement
		} else {
			out[i] = n
		}
	}
	return out
}
