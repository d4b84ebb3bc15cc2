package cache

import (
	"testing"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
	"github.com/chazu/vmdecomp/simulate"
)

func sampleEntry(name string) *ir.CodeEntry {
	return &ir.CodeEntry{
		Name: name,
		Instructions: []*ir.Instruction{
			{Address: 0, Opcode: ir.OpPushImmediate, Value: ir.Value{Short: 1}},
			{Address: 1, Opcode: ir.OpExit},
		},
		Length: 2,
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash(sampleEntry("gml_Object_a_Create_0"))
	b := Hash(sampleEntry("gml_Object_a_Create_0"))
	if a != b {
		t.Errorf("Hash() not deterministic: %x != %x", a, b)
	}
}

func TestHashDiffersOnInstructionChange(t *testing.T) {
	e1 := sampleEntry("e")
	e2 := sampleEntry("e")
	e2.Instructions[0].Value.Short = 2

	if Hash(e1) == Hash(e2) {
		t.Error("Hash() did not change when an instruction operand changed")
	}
}

func TestHashIgnoresEntryName(t *testing.T) {
	// The hash keys on instruction content, not the entry's own name — two
	// differently-named entries with identical bodies are the same cache
	// key (SPEC_FULL.md §4.4: "hash of a code entry's instruction stream").
	if Hash(sampleEntry("a")) != Hash(sampleEntry("b")) {
		t.Error("Hash() should not depend on CodeEntry.Name")
	}
}

func TestCacheMemRoundTrip(t *testing.T) {
	c, err := Open(config.CacheConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	hash := Hash(sampleEntry("e"))
	block := &astir.Block{Stmts: []astir.Stmt{&astir.Exit{}}}
	warnings := []simulate.Warning{{Kind: simulate.UnknownOpcodeWarning, EntryName: "e", Opcode: "unknown_0xFF", Address: 3}}

	if _, _, ok := c.Get(hash); ok {
		t.Fatal("Get() found an entry before Put()")
	}

	if err := c.Put(hash, "e", block, warnings); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	gotBlock, gotWarnings, ok := c.Get(hash)
	if !ok {
		t.Fatal("Get() after Put() found nothing")
	}
	if len(gotBlock.Stmts) != 1 {
		t.Fatalf("Get() block has %d statements, want 1", len(gotBlock.Stmts))
	}
	if len(gotWarnings) != 1 || gotWarnings[0].Opcode != "unknown_0xFF" {
		t.Errorf("Get() warnings = %v, want the original warning", gotWarnings)
	}
}

func TestCacheSqliteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(config.CacheConfig{Enabled: true, DSN: dir + "/cache.db"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	hash := Hash(sampleEntry("gml_Object_o_Step_0"))
	block := &astir.Block{Stmts: []astir.Stmt{
		&astir.Assign{
			Target: &astir.Variable{Name: "x", Instance: ir.InstanceSelf},
			Value:  &astir.IntConst{Width: ir.TypeInt16, Value: 1},
		},
		&astir.If{
			Cond: &astir.Variable{Name: "cond", Instance: ir.InstanceSelf},
			Then: &astir.Block{Stmts: []astir.Stmt{&astir.Break{}}},
		},
	}}

	if err := c.Put(hash, "gml_Object_o_Step_0", block, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Force the durable path: a fresh Cache over the same DSN has no
	// in-process entry and must decode the sqlite row.
	c2, err := Open(config.CacheConfig{Enabled: true, DSN: dir + "/cache.db"})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer c2.Close()

	gotBlock, gotWarnings, ok := c2.Get(hash)
	if !ok {
		t.Fatal("Get() on a fresh Cache found nothing in the sqlite table")
	}
	if len(gotWarnings) != 0 {
		t.Errorf("Get() warnings = %v, want none", gotWarnings)
	}
	if len(gotBlock.Stmts) != 2 {
		t.Fatalf("Get() block has %d statements, want 2", len(gotBlock.Stmts))
	}
	assign, ok := gotBlock.Stmts[0].(*astir.Assign)
	if !ok || assign.Target.Name != "x" {
		t.Errorf("Get() block.Stmts[0] = %#v, want assignment to x", gotBlock.Stmts[0])
	}
	ifStmt, ok := gotBlock.Stmts[1].(*astir.If)
	if !ok || ifStmt.Cond.(*astir.Variable).Name != "cond" {
		t.Errorf("Get() block.Stmts[1] = %#v, want if(cond)", gotBlock.Stmts[1])
	}
	if len(ifStmt.Then.Stmts) != 1 {
		t.Fatalf("Get() if-body has %d statements, want 1", len(ifStmt.Then.Stmts))
	}
	if _, ok := ifStmt.Then.Stmts[0].(*astir.Break); !ok {
		t.Errorf("Get() if-body[0] = %T, want *astir.Break", ifStmt.Then.Stmts[0])
	}
}
