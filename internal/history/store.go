package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added covering index on event_log(root_hash, idx)
const currentSchemaVersion = 1

// Repository provides durable storage for checkpointed tuplespace roots.
// Uses SQLite with WAL mode for concurrent read access.
type Repository struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, and ensures the
// canonical empty root exists.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	r := &Repository{db: db}

	// The empty root is always present so Reader(EmptyRoot) works on a
	// fresh database.
	if err := r.ensureRoot(context.Background(), EmptyRoot, 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed empty root: %w", err)
	}

	return r, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Repository methods when available.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// ensureRoot inserts a roots row if it does not exist.
func (r *Repository) ensureRoot(ctx context.Context, root Hash, seq int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO roots (hash, created_seq) VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, root.Hex(), seq)
	if err != nil {
		return fmt.Errorf("ensure root %s: %w", root.Hex(), err)
	}
	return nil
}

// HasRoot reports whether a root has been committed to this repository.
func (r *Repository) HasRoot(ctx context.Context, root Hash) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM roots WHERE hash = ?
	`, root.Hex()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check root: %w", err)
	}
	return count > 0, nil
}

// ListRoots returns every committed root hash, ordered by hex.
func (r *Repository) ListRoots(ctx context.Context) ([]Hash, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT hash FROM roots ORDER BY hash
	`)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	defer rows.Close()

	var roots []Hash
	for rows.Next() {
		var hexStr string
		if err := rows.Scan(&hexStr); err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		h, err := parseHash(hexStr)
		if err != nil {
			return nil, fmt.Errorf("list roots: %w", err)
		}
		roots = append(roots, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roots: %w", err)
	}
	return roots, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the event_log ordering index for existing databases.
// New databases get efficient ordered reads from the primary key already,
// but pre-v1 databases created without it need the index added explicitly.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_event_log_root
		ON event_log(root_hash, idx)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (r *Repository) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := r.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
