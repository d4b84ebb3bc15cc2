// Package decompile orchestrates the full pipeline — block building,
// structural recovery, and AST building — over one code entry, wiring the
// project configuration's VM constants and version-switch policy into
// each pass (spec.md §4, §5, §9 "Version switches").
package decompile

import (
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/blockbuilder"
	"github.com/chazu/vmdecomp/cfgnode"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/ir"
	"github.com/chazu/vmdecomp/simulate"
	"github.com/chazu/vmdecomp/structural"
)

// Warning re-exports simulate.Warning: the AST Builder is the only pass
// that raises warnings today, but callers outside this package should
// depend on decompile's own type rather than reach into simulate directly.
type Warning = simulate.Warning

// Error wraps a failing pass's own error with the pass name, so the host
// can report "which pass" per spec.md §4's "User-visible failure
// behavior" without type-switching on every pass package's error type.
type Error struct {
	Entry string
	Pass  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decompile: entry %q: %s: %v", e.Entry, e.Pass, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Context is a decompile session's shared, read-only configuration: the
// VM constants and version-switch policy every pass consults (spec.md §6,
// "VM constants the core depends on"; §9, "Version switches"). One
// Context may decompile many entries; it holds no per-entry state.
type Context struct {
	Config *config.Config
}

// NewContext builds a Context from cfg.
func NewContext(cfg *config.Config) *Context {
	return &Context{Config: cfg}
}

// Decompile runs the full pipeline over entry and returns its recovered
// function body plus any non-fatal warnings (spec.md §4, §5: "each entry
// has an independent decompile context" — nested child entries are not
// walked here; callers decompiling a tree of entries call Decompile once
// per entry).
func (c *Context) Decompile(entry *ir.CodeEntry) (*astir.Block, []Warning, error) {
	commonlog.NewInfoMessage(0, fmt.Sprintf("decompiling entry %q (%d instructions)", entry.Name, len(entry.Instructions)))

	built, err := blockbuilder.Build(entry, c.Config.Constants.TryHookFunction)
	if err != nil {
		return nil, nil, &Error{Entry: entry.Name, Pass: "block builder", Err: err}
	}

	fragment := structural.RecoverFragment(entry.Name, built.Blocks)

	structural.FindShortCircuits(fragment, c.Config.Policy.OldBytecode)
	structural.RecoverLoops(fragment)
	structural.RecoverConditionals(fragment)
	structural.RecoverSwitches(fragment)
	structural.RecoverTryCatchFinally(fragment, c.Config.Constants.TryHookFunction)

	block, warnings, err := simulate.Simulate(entry, fragment, c.Config)
	if err != nil {
		return nil, nil, &Error{Entry: entry.Name, Pass: "simulate", Err: err}
	}

	for _, w := range warnings {
		commonlog.NewInfoMessage(0, w.String())
	}

	return block, warnings, nil
}

// PassTiming is one pass's wall-clock duration, reported by DecompileTimed
// for stats.Sink (SPEC_FULL.md §4.5: "pass wall-clock (nanoseconds) per
// pass").
type PassTiming struct {
	Name     string
	Duration time.Duration
}

// DecompileTimed runs the same pipeline as Decompile, additionally timing
// each pass. It exists only for callers feeding stats.Sink — Decompile
// itself stays untimed so ordinary callers pay no measurement overhead.
func (c *Context) DecompileTimed(entry *ir.CodeEntry) (*astir.Block, []Warning, []PassTiming, error) {
	var timings []PassTiming
	timed := func(name string, f func()) {
		start := time.Now()
		f()
		timings = append(timings, PassTiming{Name: name, Duration: time.Since(start)})
	}

	commonlog.NewInfoMessage(0, fmt.Sprintf("decompiling entry %q (%d instructions)", entry.Name, len(entry.Instructions)))

	var built *blockbuilder.Result
	var buildErr error
	timed("block builder", func() {
		built, buildErr = blockbuilder.Build(entry, c.Config.Constants.TryHookFunction)
	})
	if buildErr != nil {
		return nil, nil, timings, &Error{Entry: entry.Name, Pass: "block builder", Err: buildErr}
	}

	var fragment *cfgnode.Fragment
	timed("recover fragment", func() {
		fragment = structural.RecoverFragment(entry.Name, built.Blocks)
	})
	timed("short circuits", func() { structural.FindShortCircuits(fragment, c.Config.Policy.OldBytecode) })
	timed("loops", func() { structural.RecoverLoops(fragment) })
	timed("conditionals", func() { structural.RecoverConditionals(fragment) })
	timed("switches", func() { structural.RecoverSwitches(fragment) })
	timed("try/catch/finally", func() {
		structural.RecoverTryCatchFinally(fragment, c.Config.Constants.TryHookFunction)
	})

	var block *astir.Block
	var warnings []Warning
	var simErr error
	timed("simulate", func() {
		block, warnings, simErr = simulate.Simulate(entry, fragment, c.Config)
	})
	if simErr != nil {
		return nil, nil, timings, &Error{Entry: entry.Name, Pass: "simulate", Err: simErr}
	}

	for _, w := range warnings {
		commonlog.NewInfoMessage(0, w.String())
	}

	return block, warnings, timings, nil
}
