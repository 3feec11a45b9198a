package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "resources: shared knowledge corpus with embeddings",
		SQL: `
CREATE TABLE resources (
    id          TEXT PRIMARY KEY,
    project_id  TEXT,
    uri         TEXT NOT NULL,
    type        TEXT NOT NULL DEFAULT 'document',
    content     TEXT,

    -- JSON array of scope strings; empty array means public
    access_tags TEXT NOT NULL DEFAULT '[]',

    -- little-endian float32 blob, NULL until indexed
    embedding   BLOB,

    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX idx_resources_project ON resources(project_id);
CREATE INDEX idx_resources_type    ON resources(type);
CREATE INDEX idx_resources_updated ON resources(updated_at DESC);
`,
	},
	{
		Version:     2,
		Description: "actor_credentials: hashed actor keys with scopes",
		SQL: `
CREATE TABLE actor_credentials (
    id         TEXT PRIMARY KEY,
    actor_id   INTEGER NOT NULL,
    key_hash   TEXT NOT NULL UNIQUE,
    name       TEXT NOT NULL,

    -- JSON array of scope strings
    scopes     TEXT NOT NULL DEFAULT '[]',

    active     INTEGER NOT NULL DEFAULT 1,
    expires_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_credentials_actor ON actor_credentials(actor_id);
`,
	},
	{
		Version:     3,
		Description: "importance_records: sparse per-(actor, resource) usage counters",
		SQL: `
CREATE TABLE importance_records (
    actor_id        INTEGER NOT NULL,
    resource_id     TEXT NOT NULL,
    importance      INTEGER NOT NULL DEFAULT 0 CHECK (importance >= 0),
    last_touched_at INTEGER NOT NULL,
    PRIMARY KEY (actor_id, resource_id)
);

CREATE INDEX idx_importance_actor ON importance_records(actor_id);
`,
	},
	{
		Version:     4,
		Description: "audit_log: append-only record of access decisions",
		SQL: `
CREATE TABLE audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    actor_id    INTEGER,
    action      TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    decision    TEXT NOT NULL CHECK (decision IN ('allow', 'deny')),
    reason      TEXT NOT NULL,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_audit_actor    ON audit_log(actor_id);
CREATE INDEX idx_audit_resource ON audit_log(resource_id);
CREATE INDEX idx_audit_created  ON audit_log(created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
