// Package codecache persists compiled artifacts in SQLite, keyed by a hash
// of the code object they were compiled from.
package codecache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/jitcore/bytecode"
	"github.com/chazu/jitcore/check"
	"github.com/chazu/jitcore/deopt"
	"github.com/chazu/jitcore/hir"
)

// ErrNotFound indicates no artifact is stored for a hash.
var ErrNotFound = errors.New("codecache: artifact not found")

// Artifact is what survives a compilation: the deopt table needed to leave
// the code, and enough identity to match it to bytecode again.
type Artifact struct {
	UnitID     uuid.UUID
	Name       string
	Hash       string
	Encoding   string
	Deopts     *deopt.Table
	CodeSize   int
	CompiledAt time.Time
}

// identity is everything compiled code depends on in a code object.
type identity struct {
	Name      string                    `cbor:"1,keyasint"`
	Encoding  string                    `cbor:"2,keyasint"`
	Code      []byte                    `cbor:"3,keyasint"`
	Consts    []hir.Const               `cbor:"4,keyasint"`
	Names     []string                  `cbor:"5,keyasint"`
	VarNames  []string                  `cbor:"6,keyasint"`
	NumArgs   int                       `cbor:"7,keyasint"`
	Generator bool                      `cbor:"8,keyasint"`
	Handlers  []bytecode.ExceptionEntry `cbor:"9,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codecache: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Hash identifies a code object by its bytecode, encoding, constants,
// names, signature and handler table. Code objects that differ in any of
// them never share an artifact.
func Hash(co *hir.CodeObject) string {
	data, err := encMode.Marshal(identity{
		Name:      co.Name,
		Encoding:  co.Code.Encoding().Name,
		Code:      co.Code.Bytes(),
		Consts:    co.Consts,
		Names:     co.Names,
		VarNames:  co.VarNames,
		NumArgs:   co.NumArgs,
		Generator: co.Generator,
		Handlers:  co.ExceptionTable.Entries(),
	})
	check.That(err == nil, "codecache: encoding identity of %s: %v", co.Name, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is a code cache database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the cache at path. ":memory:" gives a private
// in-memory cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("codecache: opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		hash TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		name TEXT NOT NULL,
		encoding TEXT NOT NULL,
		deopts BLOB NOT NULL,
		code_size INTEGER NOT NULL,
		compiled_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("codecache: creating table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a, replacing any artifact with the same hash.
func (s *Store) Save(a *Artifact) error {
	table, err := deopt.MarshalTable(a.Deopts)
	if err != nil {
		return fmt.Errorf("codecache: encoding deopt table of %s: %w", a.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO artifacts
		(hash, unit_id, name, encoding, deopts, code_size, compiled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Hash, a.UnitID.String(), a.Name, a.Encoding, table, a.CodeSize, a.CompiledAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("codecache: saving %s: %w", a.Name, err)
	}
	return nil
}

// Load returns the artifact stored for hash.
func (s *Store) Load(hash string) (*Artifact, error) {
	var (
		a     = Artifact{Hash: hash}
		id    string
		table []byte
		at    int64
	)
	err := s.db.QueryRow(
		"SELECT unit_id, name, encoding, deopts, code_size, compiled_at FROM artifacts WHERE hash = ?",
		hash,
	).Scan(&id, &a.Name, &a.Encoding, &table, &a.CodeSize, &at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("codecache: querying %s: %w", hash, err)
	}
	if a.UnitID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("codecache: artifact %s: bad unit id: %w", hash, err)
	}
	if a.Deopts, err = deopt.UnmarshalTable(table); err != nil {
		return nil, fmt.Errorf("codecache: artifact %s: %w", hash, err)
	}
	a.CompiledAt = time.Unix(0, at)
	return &a, nil
}

// Delete removes the artifact for hash. Deleting a missing hash is not an
// error.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM artifacts WHERE hash = ?", hash); err != nil {
		return fmt.Errorf("codecache: deleting %s: %w", hash, err)
	}
	return nil
}

// Names lists the function names of all stored artifacts, sorted.
func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM artifacts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("codecache: listing: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("codecache: listing: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
