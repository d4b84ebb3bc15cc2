package structural

import (
	"testing"

	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/ir"
)

func TestRecoverSwitchesCascadeWithDefault(t *testing.T) {
	insts := []*ir.Instruction{
		plain(0, ir.OpDuplicate), pushImm(1, 1), cmp(2, ir.CompareEQ), branch(3, ir.OpBranchTrue, 10),
		plain(4, ir.OpDuplicate), pushImm(5, 2), cmp(6, ir.CompareEQ), branch(7, ir.OpBranchTrue, 12),
		pushImm(8, 0), branch(9, ir.OpBranch, 14),
		pushImm(10, 100), branch(11, ir.OpBranch, 14),
		pushImm(12, 200), branch(13, ir.OpBranch, 14),
		plain(14, ir.OpReturn),
	}
	fragment := buildFragment(t, "switch_default", 15, insts)

	recovered := RecoverSwitches(fragment)
	if len(recovered) != 1 {
		t.Fatalf("RecoverSwitches() recovered %d switches, want 1", len(recovered))
	}
	sw := recovered[0]

	if len(sw.Cases) != 3 {
		t.Fatalf("sw.Cases has %d entries, want 3", len(sw.Cases))
	}
	wantValues := []int32{1, 2}
	for i, want := range wantValues {
		c := sw.Cases[i]
		if c.IsDefault || c.Value == nil || *c.Value != want {
			t.Errorf("sw.Cases[%d] = %+v, want value %d", i, c, want)
		}
	}
	def := sw.Cases[2]
	if !def.IsDefault {
		t.Errorf("sw.Cases[2].IsDefault = false, want true")
	}
	defBody, ok := def.Body.(*cfgnode.Block)
	if !ok || defBody.StartAddr() != 8 {
		t.Errorf("default case body = %v, want block starting at 8", def.Body)
	}

	kids := fragment.Children()
	if len(kids) != 3 || kids[0] != cfgnode.Node(sw) {
		t.Fatalf("fragment.Children() = %v, want [switch, merge, sentinel]", kids)
	}
	merge := kids[1]
	if merge.StartAddr() != 14 {
		t.Errorf("merge block starts at %d, want 14", merge.StartAddr())
	}
	succs := sw.Successors()
	if len(succs) != 1 || succs[0] != merge {
		t.Errorf("sw.Successors() = %v, want [merge]", succs)
	}
}
