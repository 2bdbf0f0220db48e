package sqlite

import "fmt"

// schema returns the DDL for one store instance, with every table and
// virtual table name carrying prefix, so several agents can share one
// backing file without colliding. prefix may be empty.
//
// Tables: memories (+ packed-float32
// embedding BLOB), memories_fts (external-content FTS5, Porter + unicode61,
// kept in sync by triggers), entities, relationships, and the episodes
// table backing EpisodeStore.
func schema(prefix string) string {
	t := func(name string) string { return prefix + name }

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    component TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    importance REAL NOT NULL DEFAULT 0,
    session_id TEXT,
    source_ids TEXT,
    entity_ids TEXT,
    embedding BLOB,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_accessed TEXT,
    access_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    superseded_by TEXT,
    valid_at TEXT,
    invalid_at TEXT,
    content_hash TEXT
);

CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s(status);
CREATE INDEX IF NOT EXISTS %[1]s_component_idx ON %[1]s(component);
CREATE INDEX IF NOT EXISTS %[1]s_session_idx ON %[1]s(session_id);
CREATE INDEX IF NOT EXISTS %[1]s_updated_idx ON %[1]s(updated_at);

CREATE VIRTUAL TABLE IF NOT EXISTS %[2]s USING fts5(
    content,
    content='%[1]s',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[1]s BEGIN
    INSERT INTO %[2]s(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[1]s BEGIN
    INSERT INTO %[2]s(%[2]s, rowid, content) VALUES ('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS %[1]s_au AFTER UPDATE ON %[1]s BEGIN
    INSERT INTO %[2]s(%[2]s, rowid, content) VALUES ('delete', old.rowid, old.content);
    INSERT INTO %[2]s(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS %[3]s (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    name_lower TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS %[3]s_name_idx ON %[3]s(name_lower);

CREATE TABLE IF NOT EXISTS %[4]s (
    from_entity TEXT NOT NULL,
    to_entity TEXT NOT NULL,
    relation TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (from_entity, to_entity, relation)
);

CREATE INDEX IF NOT EXISTS %[4]s_from_idx ON %[4]s(from_entity);
CREATE INDEX IF NOT EXISTS %[4]s_to_idx ON %[4]s(to_entity);

CREATE TABLE IF NOT EXISTS %[5]s (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    importance REAL NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed TEXT,
    consolidated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS %[5]s_consolidated_idx ON %[5]s(consolidated);
CREATE INDEX IF NOT EXISTS %[5]s_timestamp_idx ON %[5]s(timestamp);
`,
		t("memories"), t("memories_fts"), t("entities"), t("relationships"),
		t("episodes"))
}
