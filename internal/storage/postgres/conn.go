package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/scrypster/souvenir/internal/storage"
)

// MemoryStore implements storage.MemoryStore against PostgreSQL + pgvector.
// prefix carries the same multi-agent table-isolation role as the sqlite
// backend's.
type MemoryStore struct {
	db     *sql.DB
	prefix string
}

// NewMemoryStore opens a PostgreSQL-backed MemoryStore, creating the schema
// if needed. The ivfflat vector index is created here only if at least one
// embedding already exists; a store opened empty has no such index until a
// later NewMemoryStore call finds embeddings.
func NewMemoryStore(dsn, tablePrefix string, requireEncryption bool) (*MemoryStore, error) {
	if requireEncryption {
		// Postgres encryption at rest is a deployment-level concern (disk or
		// tablespace encryption); the library has no DSN-level signal for it
		// the way SQLCipher's key pragma gives the sqlite backend, so
		// require_encryption is rejected outright for this backend rather
		// than silently ignored.
		return nil, fmt.Errorf("%w: require_encryption is not enforceable by the postgres backend", storage.ErrStoreInvariantViolation)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if _, err := db.Exec(schema(tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	if _, err := db.Exec(vectorIndexDDL(tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create vector index: %w", err)
	}

	return &MemoryStore{db: db, prefix: tablePrefix}, nil
}

func (s *MemoryStore) table(name string) string { return s.prefix + name }

// Close releases the underlying connection pool.
func (s *MemoryStore) Close() error { return s.db.Close() }
