package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		if err := createEntitiesTable(tx); err != nil {
			return err
		}
		if err := createRelationshipsTable(tx); err != nil {
			return err
		}
		if err := createFileContentsTable(tx); err != nil {
			return err
		}
		if err := createEmbeddingsTable(tx); err != nil {
			return err
		}
		if err := createSplitPlansTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("database schema initialized", "version", currentSchemaVersion)

		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("database schema is up to date", "version", version)
		return nil
	}

	if version == 0 {
		// Database file exists but carries no schema (e.g. created by an
		// interrupted init). Treat as new.
		return db.initializeSchema()
	}

	db.logger.Info("running database migrations",
		"from_version", version, "to_version", currentSchemaVersion)

	// Run migrations sequentially as the schema evolves.

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createEntitiesTable creates the entities table holding every graph node:
// files, classes, functions, methods, imports, and categories.
func createEntitiesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('file', 'class', 'function', 'method', 'import', 'category')),
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			qualified_name TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			doc TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL DEFAULT 0,
			end_line INTEGER NOT NULL DEFAULT 0,
			complexity INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,

			-- File-kind columns
			language TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL DEFAULT '',
			revision TEXT NOT NULL DEFAULT '',
			line_count INTEGER NOT NULL DEFAULT 0,
			maintainability REAL NOT NULL DEFAULT 0,
			debt_score REAL NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			parse_error TEXT NOT NULL DEFAULT '',

			CHECK(version >= 1)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entities table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_entities_path ON entities(path)",
		"CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind)",
		"CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)",
		"CREATE INDEX IF NOT EXISTS idx_entities_qualified_name ON entities(qualified_name)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_path_kind_qname ON entities(path, kind, qualified_name)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createRelationshipsTable creates the relationships table. Unresolved
// edges keep to_name and a NULL to_id; deleting an entity cascades its
// outgoing edges while inbound edges are flipped to unresolved by the
// mutation that removed the target.
func createRelationshipsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL,
			to_id TEXT,
			to_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL CHECK(kind IN ('CONTAINS', 'IMPORTS', 'REFERENCES', 'BELONGS_TO')),
			resolved INTEGER NOT NULL DEFAULT 0,

			FOREIGN KEY (from_id) REFERENCES entities(id) ON DELETE CASCADE,
			CHECK(resolved = 0 OR to_id IS NOT NULL)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create relationships table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_relationships_from_id ON relationships(from_id)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_to_id ON relationships(to_id)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_kind ON relationships(kind)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_to_name ON relationships(to_name)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createFileContentsTable creates the file_contents table storing
// zstd-compressed source text, needed by the split planner and renderer.
func createFileContentsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file_contents (
			path TEXT PRIMARY KEY,
			content BLOB NOT NULL,
			raw_size INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create file_contents table: %w", err)
	}
	return nil
}

// createEmbeddingsTable creates the embeddings table. Vectors are tagged
// with the model that produced them; rows for superseded models are treated
// as absent by similarity search.
func createEmbeddingsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS embeddings (
			entity_id TEXT NOT NULL,
			model TEXT NOT NULL,
			dim INTEGER NOT NULL,
			vector BLOB NOT NULL,
			stale INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (entity_id, model),
			FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create embeddings table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model)",
		"CREATE INDEX IF NOT EXISTS idx_embeddings_stale ON embeddings(stale)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createSplitPlansTable creates the split_plans table. The plan body is an
// opaque JSON document owned by the refactor package; the checksum pins the
// source content the plan was computed against.
func createSplitPlansTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS split_plans (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			checksum TEXT NOT NULL,
			state TEXT NOT NULL CHECK(state IN ('proposed', 'applied', 'aborted')),
			created_at TEXT NOT NULL,
			plan_json TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create split_plans table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_split_plans_path ON split_plans(path)",
		"CREATE INDEX IF NOT EXISTS idx_split_plans_state ON split_plans(state)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
