// Package sqlite implements storage.MemoryStore and storage.EpisodeStore on
// top of modernc.org/sqlite (CGO-free). A single connection serializes
// writes; WAL mode lets readers proceed without blocking it.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/scrypster/souvenir/internal/storage"
)

// MemoryStore implements storage.MemoryStore using SQLite. prefix is
// prepended to every table name so several agents can share one file
// without their memories colliding.
type MemoryStore struct {
	db     *sql.DB
	prefix string
}

// NewMemoryStore opens (creating if needed) a SQLite-backed MemoryStore.
// If requireEncryption is true, dsn must carry a SQLCipher key pragma
// ("_pragma_key=..." or "key=..."); construction fails fast rather than
// silently storing memories in the clear on a foreign or misconfigured DSN.
func NewMemoryStore(dsn, tablePrefix string, requireEncryption bool) (*MemoryStore, error) {
	if requireEncryption && !dsnCarriesEncryptionKey(dsn) {
		return nil, fmt.Errorf("%w: require_encryption is set but dsn carries no encryption key", storage.ErrStoreInvariantViolation)
	}

	store, err := openMemoryStore(dsn, tablePrefix)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn, tablePrefix)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	slog.Warn("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

func dsnCarriesEncryptionKey(dsn string) bool {
	return strings.Contains(dsn, "_pragma_key=") || strings.Contains(dsn, "key=")
}

func openMemoryStore(dsn, tablePrefix string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite allows only one concurrent writer. A single open connection
	// serializes writes and avoids SQLITE_BUSY under concurrent callers; WAL
	// mode still lets readers proceed without blocking it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign_keys: %w", err)
	}

	if _, err := db.Exec(schema(tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &MemoryStore{db: db, prefix: tablePrefix}, nil
}

func (s *MemoryStore) table(name string) string { return s.prefix + name }

// Close releases the underlying connection.
func (s *MemoryStore) Close() error { return s.db.Close() }

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs; returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError reports whether err matches the patterns produced by
// stale -shm/-wal files left behind by a crashed process.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist and no process holds them
// open (checked via lsof). Returns false, conservatively, if lsof is
// unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when nothing has these files open: stale.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("sqlite: failed to remove stale WAL file", "path", path, "error", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
