package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

// SearchFTS ranks active, temporally-valid memories across all components by
// ts_rank against a plainto_tsquery built from query. A blank query returns
// an empty result directly rather than matching everything.
func (s *MemoryStore) SearchFTS(ctx context.Context, query string, limit int) ([]storage.ScoredMemory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %s, ts_rank(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM %s
		WHERE content_tsv @@ plainto_tsquery('english', $1) AND status = $2 AND (invalid_at IS NULL OR invalid_at > $3)
		ORDER BY rank DESC
		LIMIT $4`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, sqlQuery, query, string(types.StatusActive), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: searchFTS %q: %w", query, err)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		var rank float64
		composite := &trailingFloatScanner{inner: rows, trailing: &rank}
		m, err := scanMemoryRow(composite)
		if err != nil {
			return nil, fmt.Errorf("postgres: searchFTS scan: %w", err)
		}
		out = append(out, storage.ScoredMemory{Memory: *m, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: searchFTS rows: %w", err)
	}
	return out, nil
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
		WHERE status = $1 AND (invalid_at IS NULL OR invalid_at > $2) AND embedding IS NOT NULL
		ORDER BY importance DESC`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: loadActiveWithEmbeddings: %w", err)
	}
	return scanMemoryRows(rows)
}

// FindUnembeddedMemories returns active memories with no embedding, for the
// post-consolidation backfill pass.
func (s *MemoryStore) FindUnembeddedMemories(ctx context.Context, limit int) ([]types.StoredMemory, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = $1 AND embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $2`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: findUnembeddedMemories: %w", err)
	}
	return scanMemoryRows(rows)
}

// VectorSearch ranks active, temporally-valid memories by pgvector cosine
// distance to query, accelerated by the ivfflat index once it exists.
func (s *MemoryStore) VectorSearch(ctx context.Context, query []float32, limit int) ([]storage.ScoredMemory, error) {
	if len(query) == 0 {
		return nil, nil
	}

	sqlQuery := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE status = $2 AND (invalid_at IS NULL OR invalid_at > $3) AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $4`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, sqlQuery, nullableVectorArg(query), string(types.StatusActive), time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vectorSearch: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredMemory
	for rows.Next() {
		var similarity float64
		composite := &trailingFloatScanner{inner: rows, trailing: &similarity}
		m, err := scanMemoryRow(composite)
		if err != nil {
			return nil, fmt.Errorf("postgres: vectorSearch scan: %w", err)
		}
		out = append(out, storage.ScoredMemory{Memory: *m, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: vectorSearch rows: %w", err)
	}
	return out, nil
}
