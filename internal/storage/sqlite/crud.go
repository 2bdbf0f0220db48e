package sqlite

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
		return fmt.Errorf("sqlite: marshal source_ids: %w", err)
	}
	entityIDsJSON, err := jsonStrings(m.EntityIDs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal entity_ids: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (
		id, content, component, category, importance, session_id,
		source_ids, entity_ids, embedding, created_at, updated_at, last_accessed,
		access_count, status, superseded_by, valid_at, invalid_at, content_hash
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, s.table("memories"))

	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.Content, m.Component, m.Category, m.Importance, nullableString(m.SessionID),
		sourceIDsJSON, entityIDsJSON, packEmbedding(m.Embedding),
		m.CreatedAt, m.UpdatedAt, nullableTime(m.LastAccessed),
		m.AccessCount, string(m.Status), nullableString(m.SupersededBy),
		nullableTime(m.ValidAt), nullableTime(m.InvalidAt), nullableString(m.ContentHash),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: memory id %q already exists", storage.ErrStoreInvariantViolation, m.ID)
		}
		return fmt.Errorf("sqlite: insert memory: %w", err)
	}
	return nil
}

// Update applies a partial update, always bumping updated_at.
func (s *MemoryStore) Update(ctx context.Context, id string, fields storage.MemoryUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if fields.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *fields.Content)
	}
	if fields.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *fields.Importance)
	}
	if fields.EntityIDs != nil {
		j, err := jsonStrings(*fields.EntityIDs)
		if err != nil {
			return fmt.Errorf("sqlite: marshal entity_ids: %w", err)
		}
		sets = append(sets, "entity_ids = ?")
		args = append(args, j)
	}
	if fields.SourceEpisodeIDs != nil {
		j, err := jsonStrings(*fields.SourceEpisodeIDs)
		if err != nil {
			return fmt.Errorf("sqlite: marshal source_ids: %w", err)
		}
		sets = append(sets, "source_ids = ?")
		args = append(args, j)
	}
	if fields.Embedding != nil {
		sets = append(sets, "embedding = ?")
		args = append(args, packEmbedding(*fields.Embedding))
	}
	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*fields.Status))
	}
	if fields.SupersededBy != nil {
		sets = append(sets, "superseded_by = ?")
		args = append(args, *fields.SupersededBy)
	}
	if fields.InvalidAt != nil {
		sets = append(sets, "invalid_at = ?")
		args = append(args, nullableTime(*fields.InvalidAt))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", s.table("memories"), strings.Join(sets, ", "))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: update memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

// FindSimilar ranks candidates in the same component (optionally scoped to
// category/sessionID) by BM25 similarity to content. Intentionally scoped
// per component — cross-component merge detection is never meaningful here.
func (s *MemoryStore) FindSimilar(ctx context.Context, content, component, category, sessionID string, limit int) ([]types.StoredMemory, error) {
	ftsQuery := sanitizeFTSQuery(content)
	if ftsQuery == "" {
		return nil, nil
	}

	conds := []string{"m.status = ?", "(m.invalid_at IS NULL OR m.invalid_at > ?)", "m.component = ?"}
	args := []any{string(types.StatusActive), time.Now().UTC(), component}
	if category != "" {
		conds = append(conds, "m.category = ?")
		args = append(args, category)
	}
	if sessionID != "" {
		conds = append(conds, "m.session_id = ?")
		args = append(args, sessionID)
	}

	query := fmt.Sprintf(`
		SELECT %[1]s FROM %[2]s m
		JOIN %[3]s ON %[3]s.rowid = m.rowid
		WHERE %[3]s MATCH ? AND %[4]s
		ORDER BY rank
		LIMIT ?`,
		qualify("m", memoryColumns), s.table("memories"), s.table("memories_fts"), strings.Join(conds, " AND "))

	queryArgs := append([]any{ftsQuery}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: findSimilar: %w", err)
	}
	return scanMemoryRows(rows)
}

// qualify prefixes every column in a comma-separated column list with alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
