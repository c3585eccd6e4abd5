package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/DavinciDreams/Megawatts-sub008/internal/logging"
	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// DefaultDriver is the database/sql driver used when none is configured.
// "sqlite3" is mattn/go-sqlite3 (cgo); "sqlite" is the pure-Go modernc driver.
const DefaultDriver = "sqlite3"

// OpenSQLite opens (creating if needed) a SQLite repository at path.
func OpenSQLite(ctx context.Context, driver, path string) (Repository, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLite")
	defer timer.Stop()

	if driver == "" {
		driver = DefaultDriver
	}
	if path == "" {
		return nil, types.Invalidf("database path is required")
	}
	logging.Store("Opening SQLite repository at %s (driver=%s)", path, driver)

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("SQLite repository ready (%d collections)", len(allTables))
	return newRepository(&sqliteBackend{db: db, path: path}), nil
}

type sqliteBackend struct {
	db   *sql.DB
	path string
}

func (s *sqliteBackend) get(ctx context.Context, table, id string) ([]byte, error) {
	var data string
	q := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (s *sqliteBackend) insert(ctx context.Context, table string, r row) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, kind, ref, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, table)
	res, err := s.db.ExecContext(ctx, q, r.ID, r.Kind, r.Ref, string(r.Data), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errDuplicate
	}
	return nil
}

func (s *sqliteBackend) update(ctx context.Context, table, id string, fn func([]byte) (row, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var data string
	q := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table)
	if err := tx.QueryRowContext(ctx, q, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		return err
	}

	next, err := fn([]byte(data))
	if err != nil {
		return err
	}

	u := fmt.Sprintf("UPDATE %s SET kind = ?, ref = ?, data = ?, updated_at = ? WHERE id = ?", table)
	if _, err := tx.ExecContext(ctx, u, next.Kind, next.Ref, string(next.Data), formatTime(next.UpdatedAt), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteBackend) scan(ctx context.Context, table, kind, ref string, fn func([]byte) (bool, error)) error {
	var (
		where []string
		args  []interface{}
	)
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	if ref != "" {
		where = append(where, "ref = ?")
		args = append(args, ref)
	}
	q := fmt.Sprintf("SELECT data FROM %s", table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		more, err := fn([]byte(data))
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return rows.Err()
}

func (s *sqliteBackend) remove(ctx context.Context, table, id string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *sqliteBackend) close() error {
	logging.StoreDebug("Closing SQLite repository %s", s.path)
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
