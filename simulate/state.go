package simulate

import (
	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
)

// FragmentContext tracks the local-variable names registered while
// simulating one fragment (spec.md §4.3, "Pop": "register the name on the
// current fragment context"). This pipeline decompiles one code entry at
// a time (spec.md §5), so Parent is always nil here; a host walking a
// tree of entries is responsible for threading lexical scope across them.
type FragmentContext struct {
	Locals map[string]bool
	Parent *FragmentContext
}

func newFragmentContext(parent *FragmentContext) *FragmentContext {
	return &FragmentContext{Locals: make(map[string]bool), Parent: parent}
}

func (fc *FragmentContext) registerLocal(name string) {
	fc.Locals[name] = true
}

// slot wraps a pushed expression with the duplicated mark OpDuplicate sets
// and OpPopDelete consults (spec.md §9, "Stack simulator").
type slot struct {
	expr       astir.Expr
	duplicated bool
}

// loopCtx records the addresses a bare unconditional branch still present at
// simulate time resolves against: any such branch is, by construction, a
// break or continue the enclosing structural pass left untouched (every
// other unconditional branch used purely for structure is stripped during
// recovery — popTrailingBranch, stripTrailingBranch — before Simulate ever
// runs), so matching against these two addresses is enough to classify it.
type loopCtx struct {
	continueAddr int
	breakAddr    int
}

// simulator is the per-entry stack machine the AST Builder drives. Its
// expression stack persists across sibling blocks and composites within
// one fragment scope, exactly as the VM's own stack persists across the
// basic blocks structural recovery later folded into composites.
type simulator struct {
	entry     *ir.CodeEntry
	cfg       *config.Config
	stack     []slot
	warnings  []Warning
	fragment  *FragmentContext
	loopStack []loopCtx
}

func (s *simulator) pushLoop(continueAddr, breakAddr int) {
	s.loopStack = append(s.loopStack, loopCtx{continueAddr: continueAddr, breakAddr: breakAddr})
}

func (s *simulator) popLoop() {
	s.loopStack = s.loopStack[:len(s.loopStack)-1]
}

// currentLoop returns the innermost enclosing loop context, or ok=false
// outside any loop.
func (s *simulator) currentLoop() (loopCtx, bool) {
	if len(s.loopStack) == 0 {
		return loopCtx{}, false
	}
	return s.loopStack[len(s.loopStack)-1], true
}

func newSimulator(entry *ir.CodeEntry, cfg *config.Config) *simulator {
	return &simulator{entry: entry, cfg: cfg}
}

func (s *simulator) push(e astir.Expr) {
	s.stack = append(s.stack, slot{expr: e})
}

func (s *simulator) pushSlot(sl slot) {
	s.stack = append(s.stack, sl)
}

func (s *simulator) depth() int { return len(s.stack) }

func (s *simulator) pop() slot {
	if len(s.stack) == 0 {
		panic(&Error{EntryName: s.entry.Name, Message: "pop on empty expression stack"})
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top
}

func (s *simulator) popExpr() astir.Expr {
	return s.pop().expr
}

// popN pops n expressions and returns them in original (push) order —
// argument lists and pop-swap both need this ordering.
func (s *simulator) popN(n int) []astir.Expr {
	out := make([]astir.Expr, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = s.popExpr()
	}
	return out
}

// discard pops and drops n values with no further use (Extended's
// SetArrayOwner, pop-swap's "(value - 4) additional items").
func (s *simulator) discard(n int) {
	for i := 0; i < n; i++ {
		s.pop()
	}
}

func (s *simulator) warn(w Warning) {
	w.EntryName = s.entry.Name
	s.warnings = append(s.warnings, w)
}

func (s *simulator) pushFragment() {
	s.fragment = newFragmentContext(s.fragment)
}

func (s *simulator) popFragment() {
	if s.fragment != nil {
		s.fragment = s.fragment.Parent
	}
}
