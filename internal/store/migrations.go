package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
)

// Schema versions:
// v1: one document table per collection (id, kind, data, timestamps)
// v2: added ref column + index for user/entity lookups
const CurrentSchemaVersion = 2

// Migration adds a column to an existing table. Backfill, when set, is an
// SQL expression over the row used to populate the new column.
type Migration struct {
	Table    string
	Column   string
	Def      string
	Backfill string
}

// refSource is the JSON field each collection indexes in its ref column.
var refSource = map[string]string{
	tableBehaviors: "$.strategy_id",
	tableKnowledge: "$.user_id",
	tableEvents:    "$.entity_id",
}

// pendingMigrations upgrade tables created by older schema versions.
var pendingMigrations = func() []Migration {
	var out []Migration
	for _, t := range allTables {
		m := Migration{Table: t, Column: "ref", Def: "TEXT NOT NULL DEFAULT ''"}
		if path, ok := refSource[t]; ok {
			m.Backfill = fmt.Sprintf("COALESCE(json_extract(data, '%s'), '')", path)
		}
		out = append(out, m)
	}
	return out
}()

const collectionSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL DEFAULT '',
	ref TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_kind ON %[1]s(kind);
`

const versionSchema = `
CREATE TABLE IF NOT EXISTS schema_versions (
	version INTEGER NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// initSchema creates any missing collection tables.
func initSchema(ctx context.Context, db *sql.DB) error {
	for _, t := range allTables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(collectionSchema, t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t, err)
		}
	}
	if _, err := db.ExecContext(ctx, versionSchema); err != nil {
		return fmt.Errorf("failed to create schema_versions: %w", err)
	}
	return nil
}

// RunMigrations brings an existing database up to CurrentSchemaVersion.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	from := GetSchemaVersion(ctx, db)
	logging.Store("Running schema migrations (version %d -> %d, %d pending)", from, CurrentSchemaVersion, len(pendingMigrations))

	applied, skipped := 0, 0
	for _, m := range pendingMigrations {
		if !tableExists(ctx, db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			skipped++
			continue
		}
		if columnExists(ctx, db, m.Table, m.Column) {
			skipped++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		if m.Backfill != "" {
			fill := fmt.Sprintf("UPDATE %s SET %s = %s", m.Table, m.Column, m.Backfill)
			res, err := db.ExecContext(ctx, fill)
			if err != nil {
				return fmt.Errorf("backfill %s.%s: %w", m.Table, m.Column, err)
			}
			n, _ := res.RowsAffected()
			logging.StoreDebug("Backfilled %s.%s on %d rows", m.Table, m.Column, n)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	// Indexes on migrated columns can only be created once the column exists.
	for _, t := range allTables {
		q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_ref ON %[1]s(ref)", t)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create ref index on %s: %w", t, err)
		}
	}

	if recorded, ok := recordedSchemaVersion(ctx, db); !ok || recorded < CurrentSchemaVersion {
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_versions (version) VALUES (?)", CurrentSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}

	logging.Store("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	return nil
}

// GetSchemaVersion returns the recorded schema version, inferring it from
// table structure when no version has been recorded.
func GetSchemaVersion(ctx context.Context, db *sql.DB) int {
	if version, ok := recordedSchemaVersion(ctx, db); ok {
		return version
	}
	if !tableExists(ctx, db, tablePatterns) {
		return 0
	}
	if columnExists(ctx, db, tablePatterns, "ref") {
		return 2
	}
	return 1
}

func recordedSchemaVersion(ctx context.Context, db *sql.DB) (int, bool) {
	if !tableExists(ctx, db, "schema_versions") {
		return 0, false
	}
	var version int
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return 0, false
	}
	return version, true
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(ctx context.Context, db *sql.DB, table, column string) bool {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(ctx context.Context, db *sql.DB, table string) bool {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
