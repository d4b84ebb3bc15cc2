// Package config loads vmdecomp.toml, the decompiler's project
// configuration: the VM constants the core pipeline depends on (spec.md §6,
// "VM constants the core depends on"), the printer's formatting options,
// and the batch-statistics backend. Load mirrors manifest.Load in shape —
// directory-relative TOML load, defaulted fields, fmt.Errorf-wrapped
// failures — but where manifest.Load trusts the parsed TOML as-is, Load
// additionally checks it against a CUE schema before handing it back.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
)

// Constants holds the VM constants the core pipeline depends on by
// semantic name (spec.md §6). Exact values live in vmdecomp.toml's
// [constants] table because they vary by VM/bytecode version; the core
// never hardcodes them.
type Constants struct {
	TryHookFunction   string `toml:"try_hook_function" json:"try_hook_function"`
	NewObjectFunction string `toml:"new_object_function" json:"new_object_function"`
	OldArrayLimit     int32  `toml:"old_array_limit" json:"old_array_limit"`
	NullObject        string `toml:"null_object" json:"null_object"`
	NewGMLObject      string `toml:"new_gml_object" json:"new_gml_object"`
}

// Policy holds the version-switch and failure-policy flags spec.md §6 and
// §9 ("Version switches") call for: localized booleans consulted at the
// specific branches in §4.2.1 and §4.3, rather than scattered checks.
type Policy struct {
	// AllowLeftoverDataOnStack: true makes leftover stack data at fragment
	// end a warning; false makes it fatal (spec.md §6).
	AllowLeftoverDataOnStack bool `toml:"allow_leftover_data_on_stack" json:"allow_leftover_data_on_stack"`
	// ModernArrays selects 1D array indexing (GMLv2+); false selects the
	// legacy 2D-flattened scheme keyed on Constants.OldArrayLimit.
	ModernArrays bool `toml:"modern_arrays" json:"modern_arrays"`
	// OldBytecode selects the pre-bytecode-15 short-circuit terminator
	// signature (PushImmediate rather than Push) — spec.md §9, "Version
	// switches".
	OldBytecode bool `toml:"old_bytecode" json:"old_bytecode"`
}

// PrinterOptions mirrors spec.md §6's "Configuration (recognized options)"
// printer-only list. The core pipeline never reads these; they pass
// through to printer.Print.
type PrinterOptions struct {
	EmptyLineAroundBranchStatements     bool `toml:"empty_line_around_branch_statements" json:"empty_line_around_branch_statements"`
	EmptyLineBeforeSwitchCases          bool `toml:"empty_line_before_switch_cases" json:"empty_line_before_switch_cases"`
	EmptyLineAfterSwitchCases           bool `toml:"empty_line_after_switch_cases" json:"empty_line_after_switch_cases"`
	EmptyLineAroundFunctionDeclarations bool `toml:"empty_line_around_function_declarations" json:"empty_line_around_function_declarations"`
	EmptyLineAroundStaticInitialization bool `toml:"empty_line_around_static_initialization" json:"empty_line_around_static_initialization"`
	UseSemicolon                        bool `toml:"use_semicolon" json:"use_semicolon"`
}

// StatsConfig selects stats.Sink's backing store (SPEC_FULL.md §4.5).
type StatsConfig struct {
	Backend string `toml:"backend" json:"backend"` // "sqlite", "duckdb", or "" to disable
	DSN     string `toml:"dsn" json:"dsn"`
}

// CacheConfig selects cache.Cache's backing store (SPEC_FULL.md §4.4).
type CacheConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	DSN     string `toml:"dsn" json:"dsn"` // sqlite path; empty keeps the cache in-process only
}

// Config is the decompiler's project configuration, loaded from
// vmdecomp.toml.
type Config struct {
	Constants Constants      `toml:"constants" json:"constants"`
	Policy    Policy         `toml:"policy" json:"policy"`
	Printer   PrinterOptions `toml:"printer" json:"printer"`
	Stats     StatsConfig    `toml:"stats" json:"stats"`
	Cache     CacheConfig    `toml:"cache" json:"cache"`

	// Dir is the directory containing vmdecomp.toml (set at load time).
	Dir string `toml:"-" json:"dir"`
}

// Load parses a vmdecomp.toml file from dir, applies defaults, and
// validates the result against schema.cue.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "vmdecomp.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	applyDefaults(&c)

	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Constants.TryHookFunction == "" {
		c.Constants.TryHookFunction = "@@try_hook@@"
	}
	if c.Constants.NewObjectFunction == "" {
		c.Constants.NewObjectFunction = "@@NewGMLObject@@"
	}
	if c.Constants.OldArrayLimit == 0 {
		c.Constants.OldArrayLimit = 32000
	}
	if c.Constants.NullObject == "" {
		c.Constants.NullObject = "@@NullObject@@"
	}
	if c.Constants.NewGMLObject == "" {
		c.Constants.NewGMLObject = c.Constants.NewObjectFunction
	}
}

// Validate checks c against the CUE schema embedded in schema.cue —
// required fields, int bounds on OldArrayLimit, non-empty intrinsic names
// (SPEC_FULL.md §2.1).
func Validate(c *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encoding config for validation: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
