// Command vmdecomp decompiles one or more VM code entries into
// ALGOL-like source text. It wires the core pipeline (package decompile)
// to a project configuration (vmdecomp.toml), an optional
// content-addressed cache, and an optional batch-statistics sink — the
// thin host spec.md §1 calls "CLI entry points, file I/O, configuration
// parsing, and warning-sink wiring" and leaves as an external
// collaborator.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vmdecomp/cache"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/decompile"
	"github.com/chazu/vmdecomp/ir"
	"github.com/chazu/vmdecomp/printer"
	"github.com/chazu/vmdecomp/stats"
)

func main() {
	dir := flag.String("dir", ".", "directory containing vmdecomp.toml")
	in := flag.String("in", "", "path to a CBOR-encoded ir.CodeEntry (required)")
	out := flag.String("out", "", "output path for the printed source (default stdout)")
	verbose := flag.Bool("v", false, "log one line per decompiled entry")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vmdecomp -in entry.cbor [-dir .] [-out out.txt]\n\n")
		fmt.Fprintf(os.Stderr, "Decompiles a CBOR-encoded code entry (and its children) into source text.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*dir, *in, *out, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "vmdecomp: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, in, out string, verbose bool) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	entryBlob, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}
	var root ir.CodeEntry
	if err := cbor.Unmarshal(entryBlob, &root); err != nil {
		return fmt.Errorf("decoding %s: %w", in, err)
	}

	decompileCache, err := cache.Open(cfg.Cache)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer decompileCache.Close()

	statsSink, err := stats.Open(cfg.Stats)
	if err != nil {
		return fmt.Errorf("opening stats sink: %w", err)
	}
	defer statsSink.Close()

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	ctx := decompile.NewContext(cfg)
	return decompileTree(ctx, decompileCache, statsSink, &root, cfg, w, verbose)
}

// decompileTree decompiles entry and every entry nested under it
// (spec.md §5: each code entry has an independent decompile context),
// writing one labeled source block per entry to w.
func decompileTree(ctx *decompile.Context, c *cache.Cache, s *stats.Sink, entry *ir.CodeEntry, cfg *config.Config, w *os.File, verbose bool) error {
	if err := decompileOne(ctx, c, s, entry, cfg, w, verbose); err != nil {
		return err
	}
	for _, child := range entry.Children {
		if err := decompileTree(ctx, c, s, child, cfg, w, verbose); err != nil {
			return err
		}
	}
	return nil
}

func decompileOne(ctx *decompile.Context, c *cache.Cache, s *stats.Sink, entry *ir.CodeEntry, cfg *config.Config, w *os.File, verbose bool) error {
	hash := cache.Hash(entry)

	if block, warnings, ok := c.Get(hash); ok {
		if verbose {
			commonlog.NewInfoMessage(0, fmt.Sprintf("%s: cache hit (%d warnings)", entry.Name, len(warnings)))
		}
		fmt.Fprintf(w, "// %s\n%s\n", entry.Name, printer.Print(block, cfg.Printer))
		return nil
	}

	block, warnings, timings, err := ctx.DecompileTimed(entry)
	if err != nil {
		if statsErr := s.Record(stats.Record{EntryName: entry.Name, Fatal: true, Passes: timings}); statsErr != nil {
			commonlog.NewInfoMessage(0, fmt.Sprintf("%s: recording stats: %v", entry.Name, statsErr))
		}
		return err
	}

	if err := c.Put(hash, entry.Name, block, warnings); err != nil {
		return fmt.Errorf("caching %s: %w", entry.Name, err)
	}

	if statsErr := s.Record(stats.Record{
		EntryName:        entry.Name,
		InstructionCount: len(entry.Instructions),
		BlockCount:       stats.BlockCount(block),
		WarningCount:     len(warnings),
		Passes:           timings,
	}); statsErr != nil {
		commonlog.NewInfoMessage(0, fmt.Sprintf("%s: recording stats: %v", entry.Name, statsErr))
	}

	if verbose {
		commonlog.NewInfoMessage(0, fmt.Sprintf("%s: decompiled (%d warnings)", entry.Name, len(warnings)))
	}

	fmt.Fprintf(w, "// %s\n%s\n", entry.Name, printer.Print(block, cfg.Printer))
	return nil
}
