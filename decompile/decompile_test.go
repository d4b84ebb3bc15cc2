package decompile

import (
	"testing"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Constants.TryHookFunction = "@@try_hook@@"
	c.Constants.NewObjectFunction = "@@NewGMLObject@@"
	c.Constants.OldArrayLimit = 32000
	c.Policy.AllowLeftoverDataOnStack = false
	c.Policy.ModernArrays = true
	return c
}

func plain(addr int, op ir.Opcode) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: op}
}

func branch(addr int, op ir.Opcode, target int) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: op, Value: ir.Value{Int: int32(target - addr)}}
}

func pushImm(addr int, v int16) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpPushImmediate, Value: ir.Value{Short: v}}
}

func pushLocal(addr int, name string) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpPushLocal, Instance: ir.InstanceLocal, Variable: &ir.Variable{Name: name, Type: ir.InstanceLocal}}
}

func popLocal(addr int, name string) *ir.Instruction {
	return &ir.Instruction{Address: addr, Opcode: ir.OpPop, Instance: ir.InstanceLocal, Type1: ir.TypeInt16, Type2: ir.TypeInt16, Variable: &ir.Variable{Name: name, Type: ir.InstanceLocal}}
}

// TestDecompileIfWithoutElse recovers a simple "if (cond) { x = 1 }" shape
// end to end: a local's truthiness test, a single assignment in the then
// arm, and a bare return.
func TestDecompileIfWithoutElse(t *testing.T) {
	insts := []*ir.Instruction{
		pushLocal(0, "cond"),
		branch(1, ir.OpBranchFalse, 4),
		pushImm(2, 1),
		popLocal(3, "x"),
		plain(4, ir.OpExit),
	}
	entry := &ir.CodeEntry{Name: "gml_Object_obj_test_Create_0", Instructions: insts, Length: 5}

	ctx := NewContext(testConfig())
	block, warnings, err := ctx.Decompile(entry)
	if err != nil {
		t.Fatalf("Decompile() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Decompile() warnings = %v, want none", warnings)
	}
	if len(block.Stmts) != 2 {
		t.Fatalf("Decompile() produced %d statements, want 2 (if, exit)", len(block.Stmts))
	}

	ifStmt, ok := block.Stmts[0].(*astir.If)
	if !ok {
		t.Fatalf("block.Stmts[0] = %T, want *astir.If", block.Stmts[0])
	}
	if ifStmt.Else != nil {
		t.Errorf("ifStmt.Else = %v, want nil", ifStmt.Else)
	}
	if len(ifStmt.Then.Stmts) != 1 {
		t.Fatalf("ifStmt.Then.Stmts has %d entries, want 1", len(ifStmt.Then.Stmts))
	}
	assign, ok := ifStmt.Then.Stmts[0].(*astir.Assign)
	if !ok {
		t.Fatalf("ifStmt.Then.Stmts[0] = %T, want *astir.Assign", ifStmt.Then.Stmts[0])
	}
	if assign.Target.Name != "x" {
		t.Errorf("assign.Target.Name = %q, want %q", assign.Target.Name, "x")
	}
	intVal, ok := assign.Value.(*astir.IntConst)
	if !ok || intVal.Value != 1 {
		t.Errorf("assign.Value = %v, want IntConst(1)", assign.Value)
	}

	if _, ok := block.Stmts[1].(*astir.Exit); !ok {
		t.Fatalf("block.Stmts[1] = %T, want *astir.Exit", block.Stmts[1])
	}
}

// TestDecompileWhileLoop recovers "while (cond) { i = i } " and confirms
// the loop's condition and body survive the full pipeline.
func TestDecompileWhileLoop(t *testing.T) {
	insts := []*ir.Instruction{
		pushLocal(0, "cond"),
		branch(1, ir.OpBranchFalse, 5),
		pushLocal(2, "i"),
		popLocal(3, "i"),
		branch(4, ir.OpBranch, 0),
		plain(5, ir.OpExit),
	}
	entry := &ir.CodeEntry{Name: "gml_Object_obj_test_Step_0", Instructions: insts, Length: 6}

	ctx := NewContext(testConfig())
	block, warnings, err := ctx.Decompile(entry)
	if err != nil {
		t.Fatalf("Decompile() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("Decompile() warnings = %v, want none", warnings)
	}
	if len(block.Stmts) != 2 {
		t.Fatalf("Decompile() produced %d statements, want 2 (while, exit)", len(block.Stmts))
	}

	whileStmt, ok := block.Stmts[0].(*astir.While)
	if !ok {
		t.Fatalf("block.Stmts[0] = %T, want *astir.While", block.Stmts[0])
	}
	if _, ok := whileStmt.Cond.(*astir.Variable); !ok {
		t.Errorf("whileStmt.Cond = %T, want *astir.Variable", whileStmt.Cond)
	}
	if len(whileStmt.Body.Stmts) != 1 {
		t.Fatalf("whileStmt.Body.Stmts has %d entries, want 1", len(whileStmt.Body.Stmts))
	}
	if _, ok := whileStmt.Body.Stmts[0].(*astir.Assign); !ok {
		t.Errorf("whileStmt.Body.Stmts[0] = %T, want *astir.Assign", whileStmt.Body.Stmts[0])
	}
}

// TestDecompileTimedMatchesDecompile confirms DecompileTimed recovers the
// same AST as Decompile and additionally reports one PassTiming per pass.
func TestDecompileTimedMatchesDecompile(t *testing.T) {
	insts := []*ir.Instruction{
		pushLocal(0, "cond"),
		branch(1, ir.OpBranchFalse, 4),
		pushImm(2, 1),
		popLocal(3, "x"),
		plain(4, ir.OpExit),
	}
	entry := &ir.CodeEntry{Name: "gml_Object_obj_test_Create_0", Instructions: insts, Length: 5}

	ctx := NewContext(testConfig())
	block, warnings, timings, err := ctx.DecompileTimed(entry)
	if err != nil {
		t.Fatalf("DecompileTimed() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("DecompileTimed() warnings = %v, want none", warnings)
	}
	if len(block.Stmts) != 2 {
		t.Fatalf("DecompileTimed() produced %d statements, want 2 (if, exit)", len(block.Stmts))
	}

	const wantPasses = 8 // block builder, recover fragment, short circuits, loops, conditionals, switches, try/catch/finally, simulate
	if len(timings) != wantPasses {
		t.Errorf("DecompileTimed() produced %d pass timings, want %d", len(timings), wantPasses)
	}
	for _, pt := range timings {
		if pt.Name == "" {
			t.Errorf("PassTiming with empty Name: %+v", pt)
		}
		if pt.Duration < 0 {
			t.Errorf("PassTiming %q has negative Duration: %v", pt.Name, pt.Duration)
		}
	}
}
