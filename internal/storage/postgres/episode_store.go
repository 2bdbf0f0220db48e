package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// EpisodeStore implements storage.EpisodeStore, the append-only raw-episode
// buffer, against PostgreSQL. It owns its own connection since callers may
// point episodes at a separate database/schema from the memory store.
type EpisodeStore struct {
	db     *sql.DB
	prefix string
}

var _ storage.EpisodeStore = (*EpisodeStore)(nil)

// NewEpisodeStore opens an episode store against the given DSN/prefix.
func NewEpisodeStore(dsn, tablePrefix string) (*EpisodeStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open episode store: %w", err)
	}

	if _, err := db.Exec(schema(tablePrefix)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	return &EpisodeStore{db: db, prefix: tablePrefix}, nil
}

func (e *EpisodeStore) table(name string) string { return e.prefix + name }

// Insert appends a batch of episodes. Idempotent on an empty batch.
func (e *EpisodeStore) Insert(ctx context.Context, batch []types.Episode) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: episode insert begin: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (
		id, session_id, timestamp, type, content, importance, access_count, last_accessed, consolidated
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, e.table("episodes"))

	for _, ep := range batch {
		if _, err := tx.ExecContext(ctx, query,
			ep.ID, ep.SessionID, ep.Timestamp, string(ep.Type), ep.Content, ep.Importance,
			ep.AccessCount, nullableTime(ep.LastAccessed), ep.Consolidated,
		); err != nil {
			return fmt.Errorf("postgres: episode insert: %w", err)
		}
	}

	return tx.Commit()
}

// FetchUnconsolidated returns episodes with consolidated=false, ordered by
// timestamp.
func (e *EpisodeStore) FetchUnconsolidated(ctx context.Context) ([]types.Episode, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, timestamp, type, content, importance, access_count, last_accessed, consolidated
		FROM %s WHERE consolidated = FALSE ORDER BY timestamp ASC`, e.table("episodes"))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetchUnconsolidated: %w", err)
	}
	defer rows.Close()

	var out []types.Episode
	for rows.Next() {
		var ep types.Episode
		var epType string
		var lastAccessed sql.NullTime
		if err := rows.Scan(&ep.ID, &ep.SessionID, &ep.Timestamp, &epType, &ep.Content,
			&ep.Importance, &ep.AccessCount, &lastAccessed, &ep.Consolidated); err != nil {
			return nil, fmt.Errorf("postgres: scan episode: %w", err)
		}
		ep.Type = types.EpisodeType(epType)
		if lastAccessed.Valid {
			t := lastAccessed.Time
			ep.LastAccessed = &t
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// MarkConsolidated flips consolidated=true for the given ids. Never
// un-flips.
func (e *EpisodeStore) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("UPDATE %s SET consolidated = TRUE WHERE id IN (%s)",
		e.table("episodes"), strings.Join(placeholders, ","))
	if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: markConsolidated: %w", err)
	}
	return nil
}

// DeleteConsolidatedBefore removes consolidated episodes older than cutoff.
// Unconsolidated episodes are never dropped regardless of age.
func (e *EpisodeStore) DeleteConsolidatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := e.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE consolidated = TRUE AND timestamp < $1", e.table("episodes")),
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleteConsolidatedBefore: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close releases the underlying connection pool.
func (e *EpisodeStore) Close() error { return e.db.Close() }
