package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/souvenir/internal/storage"
	"github.com/scrypster/souvenir/pkg/types"
)

var _ storage.MemoryStore = (*MemoryStore)(nil)

// Insert adds a new StoredMemory. Fails with ErrStoreInvariantViolation if
// the id collides with an existing row.
func (s *MemoryStore) Insert(ctx context.Context, m *types.StoredMemory) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("%w: memory and memory.ID are required", storage.ErrStoreInvariantViolation)
	}

	sourceIDsJSON, err := jsonStrings(m.SourceEpisodeIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal source_ids: %w", err)
	}
	entityIDsJSON, err := jsonStrings(m.EntityIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal entity_ids: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (
		id, content, component, category, importance, session_id,
		source_ids, entity_ids, embedding, created_at, updated_at, last_accessed,
		access_count, status, superseded_by, valid_at, invalid_at, content_hash
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`, s.table("memories"))

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Content, m.Component, m.Category, m.Importance, nullableString(m.SessionID),
		sourceIDsJSON, entityIDsJSON, nullableVectorArg(m.Embedding),
		m.CreatedAt, m.UpdatedAt, nullableTime(m.LastAccessed),
		m.AccessCount, string(m.Status), nullableString(m.SupersededBy),
		nullableTime(m.ValidAt), nullableTime(m.InvalidAt), nullableString(m.ContentHash),
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("%w: memory id %q already exists", storage.ErrStoreInvariantViolation, m.ID)
		}
		return fmt.Errorf("postgres: insert memory: %w", err)
	}
	return nil
}

// Update applies a partial update, always bumping updated_at.
func (s *MemoryStore) Update(ctx context.Context, id string, fields storage.MemoryUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	n := 2

	next := func(clause string, val any) {
		sets = append(sets, fmt.Sprintf(clause, n))
		args = append(args, val)
		n++
	}

	if fields.Content != nil {
		next("content = $%d", *fields.Content)
	}
	if fields.Importance != nil {
		next("importance = $%d", *fields.Importance)
	}
	if fields.EntityIDs != nil {
		j, err := jsonStrings(*fields.EntityIDs)
		if err != nil {
			return fmt.Errorf("postgres: marshal entity_ids: %w", err)
		}
		next("entity_ids = $%d", j)
	}
	if fields.SourceEpisodeIDs != nil {
		j, err := jsonStrings(*fields.SourceEpisodeIDs)
		if err != nil {
			return fmt.Errorf("postgres: marshal source_ids: %w", err)
		}
		next("source_ids = $%d", j)
	}
	if fields.Embedding != nil {
		next("embedding = $%d", nullableVectorArg(*fields.Embedding))
	}
	if fields.Status != nil {
		next("status = $%d", string(*fields.Status))
	}
	if fields.SupersededBy != nil {
		next("superseded_by = $%d", *fields.SupersededBy)
	}
	if fields.InvalidAt != nil {
		next("invalid_at = $%d", nullableTime(*fields.InvalidAt))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", s.table("memories"), strings.Join(sets, ", "), n)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update memory %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// FindSimilar ranks candidates in the same component (optionally scoped to
// category/sessionID) by full-text similarity to content. Intentionally
// scoped per component — cross-component merge detection is never
// meaningful here.
func (s *MemoryStore) FindSimilar(ctx context.Context, content, component, category, sessionID string, limit int) ([]types.StoredMemory, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	conds := []string{"status = $2", "(invalid_at IS NULL OR invalid_at > $3)", "component = $4"}
	args := []any{content, string(types.StatusActive), time.Now().UTC(), component}
	n := 5
	if category != "" {
		conds = append(conds, fmt.Sprintf("category = $%d", n))
		args = append(args, category)
		n++
	}
	if sessionID != "" {
		conds = append(conds, fmt.Sprintf("session_id = $%d", n))
		args = append(args, sessionID)
		n++
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE content_tsv @@ plainto_tsquery('english', $1) AND %s
		ORDER BY ts_rank(content_tsv, plainto_tsquery('english', $1)) DESC
		LIMIT $%d`,
		memoryColumns, s.table("memories"), strings.Join(conds, " AND "), n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: findSimilar: %w", err)
	}
	return scanMemoryRows(rows)
}
