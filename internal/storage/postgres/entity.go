package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/souvenir/pkg/types"
)

// UpsertEntity inserts or updates an entity keyed by name, case-insensitive.
func (s *MemoryStore) UpsertEntity(ctx context.Context, e *types.Entity) (*types.Entity, error) {
	nameLower := strings.ToLower(e.Name)

	var existingID string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE name_lower = $1", s.table("entities")),
		nameLower,
	).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, name, type, name_lower) VALUES ($1,$2,$3,$4)", s.table("entities")),
			id, e.Name, e.Type, nameLower,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert entity: %w", err)
		}
		return &types.Entity{ID: id, Name: e.Name, Type: e.Type}, nil
	case err != nil:
		return nil, fmt.Errorf("postgres: lookup entity: %w", err)
	default:
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET name = $1, type = $2 WHERE id = $3", s.table("entities")),
			e.Name, e.Type, existingID,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: update entity: %w", err)
		}
		return &types.Entity{ID: existingID, Name: e.Name, Type: e.Type}, nil
	}
}

// UpsertRelationship inserts or updates by composite key (from, to, relation).
func (s *MemoryStore) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (from_entity, to_entity, relation, confidence, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT(from_entity, to_entity, relation) DO UPDATE SET
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`, s.table("relationships"))

	_, err := s.db.ExecContext(ctx, query, rel.FromEntityID, rel.ToEntityID, rel.Relation, rel.Confidence, rel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert relationship: %w", err)
	}
	return nil
}

// FindEntitiesByName splits query into tokens longer than two characters and
// returns entities whose name contains any token, case-insensitively. A
// missing or too-short query returns an empty slice, not an error.
func (s *MemoryStore) FindEntitiesByName(ctx context.Context, query string) ([]types.Entity, error) {
	tokens := strings.Fields(query)
	var long []string
	for _, t := range tokens {
		if len(t) > 2 {
			long = append(long, strings.ToLower(t))
		}
	}
	if len(long) == 0 {
		return nil, nil
	}

	conds := make([]string, len(long))
	args := make([]any, len(long))
	for i, t := range long {
		conds[i] = fmt.Sprintf("name_lower LIKE $%d", i+1)
		args[i] = "%" + t + "%"
	}

	q := fmt.Sprintf("SELECT id, name, type FROM %s WHERE %s", s.table("entities"), strings.Join(conds, " OR "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: findEntitiesByName: %w", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
			return nil, fmt.Errorf("postgres: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindRelationshipsForEntity returns every edge incident to id in either
// direction.
func (s *MemoryStore) FindRelationshipsForEntity(ctx context.Context, entityID string) ([]types.Relationship, error) {
	q := fmt.Sprintf(`
		SELECT from_entity, to_entity, relation, confidence, updated_at
		FROM %s WHERE from_entity = $1 OR to_entity = $1`, s.table("relationships"))

	rows, err := s.db.QueryContext(ctx, q, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: findRelationshipsForEntity: %w", err)
	}
	defer rows.Close()

	var out []types.Relationship
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.FromEntityID, &r.ToEntityID, &r.Relation, &r.Confidence, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindMemoriesByEntityIDs returns active, temporally-valid memories whose
// entity_ids intersects ids. entity_ids is stored as JSONB, so the
// intersection is computed in Go after a coarse status/time-scoped scan
// rather than in SQL, matching the sqlite backend's approach.
func (s *MemoryStore) FindMemoriesByEntityIDs(ctx context.Context, ids []string) ([]types.StoredMemory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = $1 AND (invalid_at IS NULL OR invalid_at > $2) AND entity_ids IS NOT NULL`,
		memoryColumns, s.table("memories"))

	rows, err := s.db.QueryContext(ctx, query, string(types.StatusActive), time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: findMemoriesByEntityIDs: %w", err)
	}
	all, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}

	var out []types.StoredMemory
	for _, m := range all {
		for _, eid := range m.EntityIDs {
			if wanted[eid] {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}
