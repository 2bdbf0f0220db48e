package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// SearchFTS ranks active, temporally-valid memories across all components by
// BM25. FTS5 reports more-negative-is-better; this negates the score so
// higher is better, leaving [0,1] normalization to the recall layer.
func (s *MemoryStore) SearchFTS(ctx context.Context, query string, limit int) ([]storage.ScoredMemory, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %[1]s, bm25(%[3]s) AS raw_rank FROM %[2]s m
		JOIN %[3]s ON %[3]s.rowid = m.rowid
		WHERE %[3]s MATCH ? AND m.status = ? AND (m.invalid_at IS NULL OR m.invalid_at > ?)
		ORDER BY raw_rank
		LIMIT ?`,
		qualify("m", memoryColumns), s.table("memories"), s.table("memories_fts"))

	rows, err := s.db.QueryContext(ctx, sqlQuery, ftsQuery, string(types.StatusActive), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searchFTS MATCH %q: %w", query, err)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		m, err := scanMemoryRowWithRank(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: searchFTS scan: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: searchFTS rows: %w", err)
	}
	return out, nil
}

func scanMemoryRowWithRank(r rowScanner) (*storage.ScoredMemory, error) {
	// scanMemoryRow expects exactly the memoryColumns list; bm25() is the
	// trailing extra column, so scan it separately via a composite scanner.
	var rawRank float64
	composite := &trailingFloatScanner{inner: r, trailing: &rawRank}
	m, err := scanMemoryRow(composite)
	if err != nil {
		return nil, err
	}
	return &storage.ScoredMemory{Memory: *m, Score: -rawRank}, nil
}

// trailingFloatScanner adapts a row with one extra trailing float column so
// scanMemoryRow's fixed Scan signature can still be reused.
type trailingFloatScanner struct {
	inner    rowScanner
	trailing *float64
}

func (t *trailingFloatScanner) Scan(dest ...any) error {
	return t.inner.Scan(append(dest, t.trailing)...)
}

// LoadActiveWithEmbeddings returns every active, temporally-valid memory
// that has a non-null embedding.
func (s *MemoryStore) LoadActiveWithEmbeddings(ctx context.Context) ([]types.StoredMemory, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ? AND (invalid_at IS NULL OR invalid_at > ?) AND embedding IS NOT NULL
		ORDER BY importance DESC`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: loadActiveWithEmbeddings: %w", err)
	}
	return scanMemoryRows(rows)
}

// FindUnembeddedMemories returns active memories with no embedding, for the
// post-consolidation backfill pass.
func (s *MemoryStore) FindUnembeddedMemories(ctx context.Context, limit int) ([]types.StoredMemory, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = ? AND embedding IS NULL
		ORDER BY created_at ASC
		LIMIT ?`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: findUnembeddedMemories: %w", err)
	}
	return scanMemoryRows(rows)
}
