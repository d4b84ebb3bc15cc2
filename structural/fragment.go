package structural

import (
	"github.com/chazu/vmdecomp/cfgnode"
)

// RecoverFragment is the "fragments" pass: it wraps one code entry's flat
// block list in a Fragment composite, the root every later pass nests
// structure underneath. Nested code entries (function/struct bodies) are
// not represented inside this CFG — each gets its own independent Fragment
// by running the whole pipeline again (spec.md §5: each entry has an
// independent decompile context).
func RecoverFragment(name string, blocks []*cfgnode.Block) *cfgnode.Fragment {
	kids := make([]cfgnode.Node, len(blocks))
	for i, b := range blocks {
		kids[i] = b
	}
	f := &cfgnode.Fragment{Name: name}
	if len(blocks) > 0 {
		f.SetRange(blocks[0].StartAddr(), blocks[len(blocks)-1].EndAddr())
	}
	f.SetChildren(f, kids)
	return f
}
