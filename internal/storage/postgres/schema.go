// Package postgres implements storage.MemoryStore and storage.EpisodeStore
// against PostgreSQL with pgvector, following the sqlite backend's contract
// with tsvector/GIN in place of FTS5. Full-text queries go through
// plainto_tsquery, which matches only rows containing every query term; the
// sqlite backend matches rows containing any term. Embeddings live in a
// pgvector column; the <=> operator is used only by VectorSearch, and
// LoadActiveWithEmbeddings returns vectors for in-process cosine similarity.
package postgres

import "fmt"

// schema returns the DDL for one store instance, prefix-qualified the same
// way the sqlite backend is.
func schema(prefix string) string {
	t := func(name string) string { return prefix + name }

	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    component TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    importance DOUBLE PRECISION NOT NULL DEFAULT 0,
    session_id TEXT,
    source_ids JSONB,
    entity_ids JSONB,
    embedding vector,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    last_accessed TIMESTAMPTZ,
    access_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    superseded_by TEXT,
    valid_at TIMESTAMPTZ,
    invalid_at TIMESTAMPTZ,
    content_hash TEXT,
    content_tsv tsvector
);

CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s(status);
CREATE INDEX IF NOT EXISTS %[1]s_component_idx ON %[1]s(component);
CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s(session_id);
CREATE INDEX IF NOT EXISTS %[1]s_tsv_idx ON %[1]s USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION %[1]s_tsv_update() RETURNS TRIGGER AS $body$
BEGIN
    NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$body$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS %[1]s_tsv_trigger ON %[1]s;
CREATE TRIGGER %[1]s_tsv_trigger
    BEFORE INSERT OR UPDATE OF content ON %[1]s
    FOR EACH ROW EXECUTE FUNCTION %[1]s_tsv_update();

CREATE TABLE IF NOT EXISTS %[2]s (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    name_lower TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS %[3]s (
    from_entity TEXT NOT NULL,
    to_entity TEXT NOT NULL,
    relation TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (from_entity, to_entity, relation)
);

CREATE INDEX IF NOT EXISTS %[3]s_from_idx ON %[3]s(from_entity);
CREATE INDEX IF NOT EXISTS %[3]s_to_idx ON %[3]s(to_entity);

CREATE TABLE IF NOT EXISTS %[4]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    importance DOUBLE PRECISION NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed TIMESTAMPTZ,
    consolidated BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS %[4]s_consolidated_idx ON %[4]s(consolidated);
`,
		t("memories"), t("entities"), t("relationships"), t("episodes"))
}

// vectorIndexDDL creates the ivfflat cosine index once at least one
// embedding exists (an empty ivfflat index is rejected by pgvector).
func vectorIndexDDL(prefix string) string {
	table := prefix + "memories"
	index := prefix + "memories_embedding_ivfflat"
	return fmt.Sprintf(`
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = '%[2]s') THEN
    IF EXISTS (SELECT 1 FROM %[1]s WHERE embedding IS NOT NULL LIMIT 1) THEN
      EXECUTE 'CREATE INDEX %[2]s ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)';
    END IF;
  END IF;
END$$;`, table, index)
}
