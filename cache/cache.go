// Package cache memoizes decompilation by content hash (SPEC_FULL.md
// §4.4), the same content-addressing role vm.ContentStore plays for
// compiled methods and classes in the teacher repo, adapted from "index a
// compiled method by its hash" to "index a decompiled AST by its source
// entry's hash."
package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/chazu/vmdecomp/astir"
	"github.com/chazu/vmdecomp/config"
	"github.com/chazu/vmdecomp/simulate"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type result struct {
	block    *astir.Block
	warnings []simulate.Warning
}

// Cache holds decompile results behind an in-process index and, when
// config.CacheConfig.Enabled names a DSN, a durable sqlite table that
// survives process restarts (mirroring ContentStore's in-memory index
// plus the teacher's broader pattern, in lib/runtime/persistence.go, of
// giving a keyed store a sqlite-backed durable twin).
type Cache struct {
	mu  sync.RWMutex
	mem map[[32]byte]result
	db  *sql.DB
}

// Open builds a Cache from cfg. With cfg.Enabled false or cfg.DSN empty,
// the cache stays in-process only.
func Open(cfg config.CacheConfig) (*Cache, error) {
	c := &Cache{mem: make(map[[32]byte]result)}
	if !cfg.Enabled || cfg.DSN == "" {
		return c, nil
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", cfg.DSN, err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS decompile_cache (
		hash BLOB PRIMARY KEY,
		ast BLOB NOT NULL,
		warnings BLOB NOT NULL,
		entry_name TEXT NOT NULL,
		cached_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}

	c.db = db
	return c, nil
}

// Close releases the sqlite handle, if any.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the cached result for hash, checking the in-process map
// before falling back to the durable table.
func (c *Cache) Get(hash [32]byte) (*astir.Block, []simulate.Warning, bool) {
	c.mu.RLock()
	r, ok := c.mem[hash]
	c.mu.RUnlock()
	if ok {
		return r.block, r.warnings, true
	}

	if c.db == nil {
		return nil, nil, false
	}

	var astBlob, warningsBlob []byte
	err := c.db.QueryRow(`SELECT ast, warnings FROM decompile_cache WHERE hash = ?`, hash[:]).Scan(&astBlob, &warningsBlob)
	if err != nil {
		return nil, nil, false
	}

	var wireTree interface{}
	if err := cbor.Unmarshal(astBlob, &wireTree); err != nil {
		return nil, nil, false
	}
	block, err := fromWireBlock(wireTree)
	if err != nil {
		return nil, nil, false
	}
	var warnings []simulate.Warning
	if err := cbor.Unmarshal(warningsBlob, &warnings); err != nil {
		return nil, nil, false
	}

	c.mu.Lock()
	c.mem[hash] = result{block: block, warnings: warnings}
	c.mu.Unlock()

	return block, warnings, true
}

// Put records a freshly decompiled result under hash. entryName is
// descriptive only; it is not part of the key.
func (c *Cache) Put(hash [32]byte, entryName string, block *astir.Block, warnings []simulate.Warning) error {
	c.mu.Lock()
	c.mem[hash] = result{block: block, warnings: warnings}
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	astBlob, err := cborEncMode.Marshal(toWireBlock(block))
	if err != nil {
		return fmt.Errorf("cache: encoding ast for %s: %w", entryName, err)
	}
	warningsBlob, err := cborEncMode.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("cache: encoding warnings for %s: %w", entryName, err)
	}

	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO decompile_cache (hash, ast, warnings, entry_name, cached_at) VALUES (?, ?, ?, ?, ?)`,
		hash[:], astBlob, warningsBlob, entryName, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: writing %s: %w", entryName, err)
	}
	return nil
}
