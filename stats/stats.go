// Package stats records one row per decompiled entry into a durable
// table (SPEC_FULL.md §4.5), the same "give a keyed concern a sqlite-
// backed durable twin" shape lib/runtime/persistence.go's Persistence
// uses for instances, adapted from "one row per instance" to "one row
// per decompiled entry, plus its per-pass timings."
package stats

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/decompile"
)

// Record is one decompiled entry's summary (SPEC_FULL.md §4.5: "entry
// name, instruction count, block count, warning count, fatal-error flag,
// and pass wall-clock per pass").
type Record struct {
	EntryName        string
	InstructionCount int
	BlockCount       int
	WarningCount     int
	Fatal            bool
	Passes           []decompile.PassTiming
}

// Sink writes Records to a backing table selected by config.StatsConfig.
// An empty Backend makes Sink a no-op — batch statistics are opt-in.
type Sink struct {
	mu      sync.Mutex
	db      *sql.DB
	backend string
}

// Open builds a Sink from cfg. cfg.Backend selects the driver: "sqlite"
// (modernc.org/sqlite, pure Go) or "duckdb" (github.com/marcboeker/go-duckdb).
// An empty Backend disables the sink; Record then returns nil without
// writing anything.
func Open(cfg config.StatsConfig) (*Sink, error) {
	if cfg.Backend == "" {
		return &Sink{}, nil
	}

	var driver string
	switch cfg.Backend {
	case "sqlite":
		driver = "sqlite"
	case "duckdb":
		driver = "duckdb"
	default:
		return nil, fmt.Errorf("stats: unsupported backend %q", cfg.Backend)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("stats: opening %s (%s): %w", cfg.DSN, driver, err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats: setting busy timeout: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS decompile_stats (
		entry_name TEXT NOT NULL,
		recorded_at BIGINT NOT NULL,
		instruction_count INTEGER NOT NULL,
		block_count INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		fatal INTEGER NOT NULL,
		passes BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: creating table: %w", err)
	}

	return &Sink{db: db, backend: cfg.Backend}, nil
}

// Close releases the backing connection, if any.
func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the raw connection so a host can run its own aggregate
// queries (SPEC_FULL.md §4.5: "slowest pass, entries with the most
// warnings") without Sink growing a query API of its own. Returns nil
// when the sink is disabled.
func (s *Sink) DB() *sql.DB { return s.db }

// Record writes r as a new row. A disabled Sink (Open with an empty
// Backend) makes this a no-op.
func (s *Sink) Record(r Record) error {
	if s.db == nil {
		return nil
	}

	passBlob, err := cbor.Marshal(r.Passes)
	if err != nil {
		return fmt.Errorf("stats: encoding pass timings for %s: %w", r.EntryName, err)
	}

	fatal := 0
	if r.Fatal {
		fatal = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO decompile_stats (entry_name, recorded_at, instruction_count, block_count, warning_count, fatal, passes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.EntryName, time.Now().UnixNano(), r.InstructionCount, r.BlockCount, r.WarningCount, fatal, passBlob,
	)
	if err != nil {
		return fmt.Errorf("stats: writing %s: %w", r.EntryName, err)
	}
	return nil
}

// BlockCount returns the number of astir.Block nodes nested anywhere
// under block, including block itself — the denominator SPEC_FULL.md
// §4.5 calls "block count" for a Record.
func BlockCount(block *astir.Block) int {
	if block == nil {
		return 0
	}
	count := 1
	for _, stmt := range block.Stmts {
		count += blockCountStmt(stmt)
	}
	return count
}

func blockCountStmt(stmt astir.Stmt) int {
	switch s := stmt.(type) {
	case *astir.If:
		return BlockCount(s.Then) + BlockCount(s.Else)
	case *astir.While:
		return BlockCount(s.Body)
	case *astir.DoUntil:
		return BlockCount(s.Body)
	case *astir.Repeat:
		return BlockCount(s.Body)
	case *astir.With:
		return BlockCount(s.Body)
	case *astir.Switch:
		n := 0
		for _, c := range s.Cases {
			n += BlockCount(c.Body)
		}
		return n
	case *astir.Try:
		return BlockCount(s.TryBody) + BlockCount(s.Catch) + BlockCount(s.FinallyBody)
	default:
		return 0
	}
}
