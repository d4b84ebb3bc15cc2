package simulate

import (
	"testing"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
)

func testSimConfig() *config.Config {
	c := &config.Config{}
	c.Constants.NewObjectFunction = "@@NewGMLObject@@"
	c.Constants.OldArrayLimit = 32000
	c.Policy.ModernArrays = true
	return c
}

func newTestSimulator(cfg *config.Config) *simulator {
	return newSimulator(&ir.CodeEntry{Name: "root"}, cfg)
}

// TestSimulatePopSwap exercises spec.md §4.3's "Pop" rule for a Pop
// instruction carrying no Variable reference: pop two expressions, discard
// (value-4) more, then push them back in swapped order.
func TestSimulatePopSwap(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Value: 1})
	s.push(&astir.IntConst{Value: 2})
	s.push(&astir.IntConst{Value: 3}) // e2
	s.push(&astir.IntConst{Value: 4}) // e1

	inst := &ir.Instruction{Opcode: ir.OpPop, Value: ir.Value{Int: 4}}
	stmt := simulatePop(s, inst)
	if stmt != nil {
		t.Fatalf("simulatePop(pop-swap) returned %v, want nil", stmt)
	}
	if s.depth() != 4 {
		t.Fatalf("depth after pop-swap = %d, want 4 (2 untouched + e2 + e1)", s.depth())
	}
	top := s.popExpr().(*astir.IntConst)
	if top.Value != 4 {
		t.Errorf("top after pop-swap = %v, want e1 (4)", top.Value)
	}
	second := s.popExpr().(*astir.IntConst)
	if second.Value != 3 {
		t.Errorf("second after pop-swap = %v, want e2 (3)", second.Value)
	}
}

// TestSimulatePopSwapDiscardsExtra confirms a PopSwapSize greater than 4
// discards the extra operands before pushing e2/e1 back.
func TestSimulatePopSwapDiscardsExtra(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Value: 10})
	s.push(&astir.IntConst{Value: 20})
	s.push(&astir.IntConst{Value: 30}) // discarded
	s.push(&astir.IntConst{Value: 2})  // e2
	s.push(&astir.IntConst{Value: 1})  // e1

	inst := &ir.Instruction{Opcode: ir.OpPop, Value: ir.Value{Int: 5}}
	simulatePop(s, inst)

	if s.depth() != 4 {
		t.Fatalf("depth = %d, want 4 (2 untouched after discard + e2 + e1)", s.depth())
	}
	if v := s.popExpr().(*astir.IntConst).Value; v != 1 {
		t.Errorf("top = %v, want e1 (1)", v)
	}
	if v := s.popExpr().(*astir.IntConst).Value; v != 2 {
		t.Errorf("second = %v, want e2 (2)", v)
	}
}

// TestSimulatePopAssign exercises the ordinary (non-pop-swap) branch of
// spec.md §4.3's "Pop" rule and its Boolean coercion step.
func TestSimulatePopAssign(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.pushFragment()
	s.push(&astir.IntConst{Width: ir.TypeInt16, Value: 1})

	inst := &ir.Instruction{
		Opcode: ir.OpPop, Instance: ir.InstanceLocal, Type2: ir.TypeBoolean,
		Variable: &ir.Variable{Name: "flag", Type: ir.InstanceLocal},
	}
	stmt := simulatePop(s, inst)
	assign, ok := stmt.(*astir.Assign)
	if !ok {
		t.Fatalf("simulatePop = %T, want *astir.Assign", stmt)
	}
	if assign.Target.Name != "flag" {
		t.Errorf("assign.Target.Name = %q, want %q", assign.Target.Name, "flag")
	}
	boolVal, ok := assign.Value.(*astir.BoolConst)
	if !ok || !boolVal.Value {
		t.Errorf("assign.Value = %v, want BoolConst(true)", assign.Value)
	}
	if !s.fragment.Locals["flag"] {
		t.Errorf("local %q was not registered on the fragment context", "flag")
	}
}

// TestDecomposeArrayIndexModern confirms the 1D modern scheme passes the
// index expression through unchanged.
func TestDecomposeArrayIndexModern(t *testing.T) {
	cfg := testSimConfig()
	cfg.Policy.ModernArrays = true
	s := newTestSimulator(cfg)

	index := &astir.IntConst{Value: 5}
	got := decomposeArrayIndex(s, index)
	if len(got) != 1 || got[0] != index {
		t.Errorf("decomposeArrayIndex(modern) = %v, want [index]", got)
	}
}

// TestDecomposeArrayIndexLegacy confirms the legacy 2D-flattened scheme
// recognizes "a * OldArrayLimit + b" and decomposes it back into [a, b]
// (spec.md §4.3, "Array indexing").
func TestDecomposeArrayIndexLegacy(t *testing.T) {
	cfg := testSimConfig()
	cfg.Policy.ModernArrays = false
	cfg.Constants.OldArrayLimit = 32000
	s := newTestSimulator(cfg)

	a := &astir.Variable{Name: "row"}
	b := &astir.Variable{Name: "col"}
	mulInst := &ir.Instruction{Opcode: ir.OpMul}
	addInst := &ir.Instruction{Opcode: ir.OpAdd}
	index := &astir.Binary{
		Left:  &astir.Binary{Left: a, Right: &astir.IntConst{Value: 32000}, Inst: mulInst},
		Right: b,
		Inst:  addInst,
	}

	got := decomposeArrayIndex(s, index)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("decomposeArrayIndex(legacy) = %v, want [row, col]", got)
	}
}

// TestDecomposeArrayIndexLegacyFallback confirms an index that doesn't
// match the flattened-multiply shape passes through as a single index even
// under the legacy policy.
func TestDecomposeArrayIndexLegacyFallback(t *testing.T) {
	cfg := testSimConfig()
	cfg.Policy.ModernArrays = false
	cfg.Constants.OldArrayLimit = 32000
	s := newTestSimulator(cfg)

	index := &astir.IntConst{Value: 7}
	got := decomposeArrayIndex(s, index)
	if len(got) != 1 || got[0] != index {
		t.Errorf("decomposeArrayIndex(legacy, non-matching) = %v, want [index]", got)
	}
}

// TestSimulateConvertBoolCoercion exercises Convert's Int16-0/1-to-bool
// coercion (spec.md §4.3, "Convert").
func TestSimulateConvertBoolCoercion(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Width: ir.TypeInt16, Value: 0})

	inst := &ir.Instruction{Opcode: ir.OpConvert, Type2: ir.TypeBoolean}
	if stmt := simulateConvert(s, inst); stmt != nil {
		t.Fatalf("simulateConvert returned %v, want nil", stmt)
	}
	top, ok := s.popExpr().(*astir.BoolConst)
	if !ok || top.Value {
		t.Errorf("top after Convert = %v, want BoolConst(false)", top)
	}
}

// TestSimulateConvertPassThrough confirms a non-Int16-0/1 value passes
// through a conversion targeting Boolean unchanged.
func TestSimulateConvertPassThrough(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	str := &astir.StringConst{Value: "hi"}
	s.push(str)

	inst := &ir.Instruction{Opcode: ir.OpConvert, Type2: ir.TypeBoolean}
	simulateConvert(s, inst)
	if got := s.popExpr(); got != str {
		t.Errorf("top after Convert(non-numeric) = %v, want unchanged %v", got, str)
	}
}

// TestSimulateCallNewObject confirms a Call whose callee matches
// Constants.NewObjectFunction is recovered as astir.NewObject rather than
// an ordinary Call (spec.md §4.3, "Call").
func TestSimulateCallNewObject(t *testing.T) {
	cfg := testSimConfig()
	s := newTestSimulator(cfg)
	classFn := &ir.Function{Name: "obj_enemy"}
	s.push(&astir.FuncRef{Function: classFn})
	s.push(&astir.IntConst{Value: 1}) // one constructor arg

	inst := &ir.Instruction{
		Opcode: ir.OpCall, Value: ir.Value{Int: 2},
		Function: &ir.Function{Name: cfg.Constants.NewObjectFunction},
	}
	simulateCall(s, inst)

	newObj, ok := s.popExpr().(*astir.NewObject)
	if !ok {
		t.Fatalf("simulateCall(new-object) pushed %T, want *astir.NewObject", s.stack)
	}
	if newObj.Class != classFn {
		t.Errorf("newObj.Class = %v, want %v", newObj.Class, classFn)
	}
	if len(newObj.Args) != 1 {
		t.Errorf("newObj.Args = %v, want 1 entry", newObj.Args)
	}
}

// TestSimulateCallOrdinary confirms an ordinary Call (callee name doesn't
// match Constants.NewObjectFunction) is recovered as astir.Call.
func TestSimulateCallOrdinary(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Value: 1})
	s.push(&astir.IntConst{Value: 2})

	inst := &ir.Instruction{
		Opcode: ir.OpCall, Value: ir.Value{Int: 2},
		Function: &ir.Function{Name: "show_message"},
	}
	simulateCall(s, inst)

	call, ok := s.popExpr().(*astir.Call)
	if !ok {
		t.Fatalf("simulateCall(ordinary) pushed a non-*astir.Call")
	}
	if call.Function.Name != "show_message" {
		t.Errorf("call.Function.Name = %q, want %q", call.Function.Name, "show_message")
	}
	if len(call.Args) != 2 {
		t.Errorf("call.Args = %v, want 2 entries", call.Args)
	}
}

// TestSimulateExtendedPushReference confirms PushReference warns with
// UnsupportedPushReferenceWarning and still leaves a placeholder value on
// the stack (spec.md §4.3, "Extended").
func TestSimulateExtendedPushReference(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	inst := &ir.Instruction{Opcode: ir.OpExtended, Extended: ir.ExtPushReference, Address: 42}
	simulateExtended(s, inst)

	if len(s.warnings) != 1 || s.warnings[0].Kind != UnsupportedPushReferenceWarning {
		t.Fatalf("warnings = %v, want one UnsupportedPushReferenceWarning", s.warnings)
	}
	if s.warnings[0].Address != 42 {
		t.Errorf("warning.Address = %d, want 42", s.warnings[0].Address)
	}
	if s.depth() != 1 {
		t.Errorf("depth after PushReference = %d, want 1 (placeholder pushed)", s.depth())
	}
}

// TestSimulateExtendedSetArrayOwner confirms SetArrayOwner discards one
// stack slot and emits no statement.
func TestSimulateExtendedSetArrayOwner(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Value: 1})

	inst := &ir.Instruction{Opcode: ir.OpExtended, Extended: ir.ExtSetArrayOwner}
	if stmt := simulateExtended(s, inst); stmt != nil {
		t.Errorf("simulateExtended(SetArrayOwner) = %v, want nil", stmt)
	}
	if s.depth() != 0 {
		t.Errorf("depth after SetArrayOwner = %d, want 0", s.depth())
	}
}

// TestSimulateExtendedUnknown confirms an extended opcode outside the
// recognized set warns UnknownOpcodeWarning rather than panicking.
func TestSimulateExtendedUnknown(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	inst := &ir.Instruction{Opcode: ir.OpExtended, Extended: ir.ExtendedOpcode(99)}
	simulateExtended(s, inst)

	if len(s.warnings) != 1 || s.warnings[0].Kind != UnknownOpcodeWarning {
		t.Fatalf("warnings = %v, want one UnknownOpcodeWarning", s.warnings)
	}
}

// TestSimulatePopDeleteDiscardsDuplicated confirms a duplicated slot is
// dropped silently rather than wrapped in an ExprStmt (spec.md §4.3,
// "PopDelete").
func TestSimulatePopDeleteDiscardsDuplicated(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.pushSlot(slot{expr: &astir.IntConst{Value: 1}, duplicated: true})

	if stmt := simulatePopDelete(s); stmt != nil {
		t.Errorf("simulatePopDelete(duplicated) = %v, want nil", stmt)
	}
}

// TestSimulatePopDeleteDiscardsVariable confirms a bare variable reference
// dropped by PopDelete produces no statement (no visible side effect to
// preserve).
func TestSimulatePopDeleteDiscardsVariable(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.Variable{Name: "x"})

	if stmt := simulatePopDelete(s); stmt != nil {
		t.Errorf("simulatePopDelete(variable) = %v, want nil", stmt)
	}
}

// TestSimulatePopDeleteKeepsCallAsStmt confirms a discarded call result
// (a side-effecting expression) survives as a bare-expression statement.
func TestSimulatePopDeleteKeepsCallAsStmt(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	call := &astir.Call{Function: &ir.Function{Name: "show_debug_message"}}
	s.push(call)

	stmt, ok := simulatePopDelete(s).(*astir.ExprStmt)
	if !ok {
		t.Fatalf("simulatePopDelete(call) did not return *astir.ExprStmt")
	}
	if stmt.Expr != call {
		t.Errorf("stmt.Expr = %v, want %v", stmt.Expr, call)
	}
}

// TestSimulateBranchOutsideLoop confirms a bare branch with no enclosing
// loop context warns instead of panicking (spec.md §9, "Stack simulator").
func TestSimulateBranchOutsideLoop(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	inst := &ir.Instruction{Opcode: ir.OpBranch, Address: 10, Value: ir.Value{Int: 5}}

	if stmt := simulateBranch(s, inst); stmt != nil {
		t.Errorf("simulateBranch(outside loop) = %v, want nil", stmt)
	}
	if len(s.warnings) != 1 || s.warnings[0].Opcode != "b (outside any loop)" {
		t.Fatalf("warnings = %v, want one \"b (outside any loop)\" warning", s.warnings)
	}
}

// TestSimulateBranchBreakAndContinue confirms a branch targeting the
// current loop's break/continue address recovers as Break/Continue.
func TestSimulateBranchBreakAndContinue(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.pushLoop(0, 20)

	cont := &ir.Instruction{Opcode: ir.OpBranch, Address: 10, Value: ir.Value{Int: -10}}
	if _, ok := simulateBranch(s, cont).(*astir.Continue); !ok {
		t.Errorf("simulateBranch(continue target) did not return *astir.Continue")
	}

	brk := &ir.Instruction{Opcode: ir.OpBranch, Address: 10, Value: ir.Value{Int: 10}}
	if _, ok := simulateBranch(s, brk).(*astir.Break); !ok {
		t.Errorf("simulateBranch(break target) did not return *astir.Break")
	}
}

// TestSimulateBranchUnresolvedTarget confirms a branch matching neither the
// loop's break nor continue address warns rather than misclassifying.
func TestSimulateBranchUnresolvedTarget(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.pushLoop(0, 20)

	inst := &ir.Instruction{Opcode: ir.OpBranch, Address: 10, Value: ir.Value{Int: 3}}
	if stmt := simulateBranch(s, inst); stmt != nil {
		t.Errorf("simulateBranch(unresolved) = %v, want nil", stmt)
	}
	if len(s.warnings) != 1 || s.warnings[0].Opcode != "b (unresolved target)" {
		t.Fatalf("warnings = %v, want one \"b (unresolved target)\" warning", s.warnings)
	}
}

// TestSimulateVariableReadStackTop confirms RefStackTop resolves its
// left-operand from the stack (spec.md §4.3, "Push ... left-side handling
// mirrors Pop").
func TestSimulateVariableReadStackTop(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	left := &astir.Variable{Name: "inst"}
	s.push(left)

	inst := &ir.Instruction{
		RefVarType: ir.RefStackTop,
		Variable:   &ir.Variable{Name: "hp"},
	}
	v := simulateVariableRead(s, inst).(*astir.Variable)
	if v.Name != "hp" || v.Left != left {
		t.Errorf("simulateVariableRead(stacktop) = %+v, want Left=%v", v, left)
	}
}

// TestSimulateVariableReadArray confirms RefArray resolves both the index
// (via decomposeArrayIndex) and the left-operand.
func TestSimulateVariableReadArray(t *testing.T) {
	cfg := testSimConfig()
	cfg.Policy.ModernArrays = true
	s := newTestSimulator(cfg)
	left := &astir.Variable{Name: "self"}
	index := &astir.IntConst{Value: 3}
	s.push(left)
	s.push(index)

	inst := &ir.Instruction{
		RefVarType: ir.RefArray,
		Variable:   &ir.Variable{Name: "list"},
	}
	v := simulateVariableRead(s, inst).(*astir.Variable)
	if v.Left != left {
		t.Errorf("simulateVariableRead(array).Left = %v, want %v", v.Left, left)
	}
	if len(v.Indices) != 1 || v.Indices[0] != index {
		t.Errorf("simulateVariableRead(array).Indices = %v, want [%v]", v.Indices, index)
	}
}

// TestSimulateVariableReadNormal confirms a Normal-ref, non-StackTop-
// instance read attaches no Left expression at all.
func TestSimulateVariableReadNormal(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	inst := &ir.Instruction{
		Instance: ir.InstanceSelf,
		Variable: &ir.Variable{Name: "hp"},
	}
	v := simulateVariableRead(s, inst).(*astir.Variable)
	if v.Left != nil {
		t.Errorf("simulateVariableRead(normal, self).Left = %v, want nil", v.Left)
	}
}

// TestSimulateOneDuplicate confirms OpDuplicate pushes the same expression
// twice, marking the copy as duplicated for PopDelete to recognize.
func TestSimulateOneDuplicate(t *testing.T) {
	s := newTestSimulator(testSimConfig())
	s.push(&astir.IntConst{Value: 9})

	simulateOne(s, &ir.Instruction{Opcode: ir.OpDuplicate})
	if s.depth() != 2 {
		t.Fatalf("depth after Duplicate = %d, want 2", s.depth())
	}
	top := s.stack[1]
	if !top.duplicated {
		t.Errorf("top slot after Duplicate is not marked duplicated")
	}
	bottom := s.stack[0]
	if bottom.expr != top.expr {
		t.Errorf("Duplicate's two slots hold different expressions")
	}
}

// TestIsTerminator confirms the terminator set matches spec.md §4.3's
// "already captured by CFG recovery" list exactly, and that OpBranch is
// excluded (it's handled separately by simulateBranch).
func TestIsTerminator(t *testing.T) {
	for _, op := range []ir.Opcode{ir.OpBranchTrue, ir.OpBranchFalse, ir.OpPushWithContext, ir.OpPopWithContext} {
		if !isTerminator(op) {
			t.Errorf("isTerminator(%v) = false, want true", op)
		}
	}
	for _, op := range []ir.Opcode{ir.OpBranch, ir.OpAdd, ir.OpExit, ir.OpPop} {
		if isTerminator(op) {
			t.Errorf("isTerminator(%v) = true, want false", op)
		}
	}
}
