package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/souvenir/pkg/types"
)

const memoryColumns = `id, content, component, category, importance, session_id,
	source_ids, entity_ids, embedding, created_at, updated_at, last_accessed,
	access_count, status, superseded_by, valid_at, invalid_at, content_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(r rowScanner) (*types.StoredMemory, error) {
	var m types.StoredMemory
	var sessionID, supersededBy, contentHash sql.NullString
	var sourceIDsJSON, entityIDsJSON sql.NullString
	var embedding pgvector.Vector
	var embeddingValid bool
	var lastAccessed, validAt, invalidAt sql.NullTime
	var createdAt, updatedAt time.Time
	var status string

	err := r.Scan(
		&m.ID, &m.Content, &m.Component, &m.Category, &m.Importance, &sessionID,
		&sourceIDsJSON, &entityIDsJSON, scanVector(&embedding, &embeddingValid),
		&createdAt, &updatedAt, &lastAccessed,
		&m.AccessCount, &status, &supersededBy, &validAt, &invalidAt, &contentHash,
	)
	if err != nil {
		return nil, err
	}

	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	m.Status = types.MemoryStatus(status)
	if sessionID.Valid {
		m.SessionID = sessionID.String
	}
	if supersededBy.Valid {
		m.SupersededBy = supersededBy.String
	}
	if contentHash.Valid {
		m.ContentHash = contentHash.String
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		m.LastAccessed = &t
	}
	if validAt.Valid {
		t := validAt.Time
		m.ValidAt = &t
	}
	if invalidAt.Valid {
		t := invalidAt.Time
		m.InvalidAt = &t
	}
	if sourceIDsJSON.Valid && sourceIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceIDsJSON.String), &m.SourceEpisodeIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal source_ids: %w", err)
		}
	}
	if entityIDsJSON.Valid && entityIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(entityIDsJSON.String), &m.EntityIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal entity_ids: %w", err)
		}
	}
	if embeddingValid {
		m.Embedding = embedding.Slice()
	}

	return &m, nil
}

// nullableVector is a sql.Scanner adapter letting a possibly-NULL pgvector
// column scan into a pgvector.Vector plus a found flag, since Vector itself
// has no notion of NULL.
type nullableVector struct {
	target *pgvector.Vector
	valid  *bool
}

func (n *nullableVector) Scan(src any) error {
	if src == nil {
		*n.valid = false
		return nil
	}
	if err := n.target.Scan(src); err != nil {
		return err
	}
	*n.valid = true
	return nil
}

func scanVector(target *pgvector.Vector, valid *bool) *nullableVector {
	return &nullableVector{target: target, valid: valid}
}

func scanMemoryRows(rows *sql.Rows) ([]types.StoredMemory, error) {
	defer rows.Close()
	var out []types.StoredMemory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan memory row: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func jsonStrings(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableVectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}
