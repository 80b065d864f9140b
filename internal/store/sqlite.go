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

	_ "modernc.org/sqlite"

	"keywarden/pkg/contracts/domain"
)

// Times are stored as fixed-width UTC text so lexicographic order matches
// chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS licenses (
	id             TEXT    NOT NULL,
	license_key    TEXT    PRIMARY KEY,
	tier           TEXT    NOT NULL,
	owner_email    TEXT    NOT NULL DEFAULT '',
	created_at     TEXT    NOT NULL,
	expires_at     TEXT    NOT NULL,
	active         INTEGER NOT NULL,
	bound_ip       TEXT    NOT NULL DEFAULT '',
	last_seen_ip   TEXT    NOT NULL DEFAULT '',
	last_validated TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_licenses_created_at ON licenses(created_at);
`

const (
	sqliteColumns = `id, license_key, tier, owner_email, created_at, expires_at, active, bound_ip, last_seen_ip, last_validated`
	sqliteSelect  = `SELECT ` + sqliteColumns + ` FROM licenses WHERE license_key = ?`
	sqliteInsert  = `INSERT INTO licenses (` + sqliteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteUpdate  = `UPDATE licenses SET id = ?, tier = ?, owner_email = ?, created_at = ?, expires_at = ?, active = ?, bound_ip = ?, last_seen_ip = ?, last_validated = ? WHERE license_key = ?`
	sqliteDelete  = `DELETE FROM licenses WHERE license_key = ?`
	sqliteList    = `SELECT ` + sqliteColumns + ` FROM licenses ORDER BY created_at DESC, license_key ASC`
	sqliteCount   = `SELECT COUNT(*) FROM licenses`
)

// SQLite stores licenses in a sqlite database through the pure-Go
// modernc.org driver. The DSN requests immediate transactions, so BeginTx
// takes the write lock up front and Mutate's read-decide-write runs without
// lock upgrades racing each other.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (*domain.License, error) {
	return scanLicense(s.db.QueryRowContext(ctx, sqliteSelect, key))
}

func (s *SQLite) Insert(ctx context.Context, lic *domain.License) error {
	_, err := s.db.ExecContext(ctx, sqliteInsert, insertArgs(lic)...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("store: insert license: %w", err)
	}
	return nil
}

func (s *SQLite) Mutate(ctx context.Context, key string, fn MutateFunc) (*domain.License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lic, err := scanLicense(tx.QueryRowContext(ctx, sqliteSelect, key))
	if err != nil {
		return nil, err
	}
	persist, err := fn(lic)
	if err != nil {
		return nil, err
	}
	if persist {
		if _, err := tx.ExecContext(ctx, sqliteUpdate, updateArgs(lic)...); err != nil {
			return nil, fmt.Errorf("store: update license: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit tx: %w", err)
	}
	return lic, nil
}

func (s *SQLite) MutateOrCreate(ctx context.Context, key string, seed SeedFunc, fn MutateFunc) (*domain.License, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := false
	lic, err := scanLicense(tx.QueryRowContext(ctx, sqliteSelect, key))
	switch {
	case errors.Is(err, ErrNotFound):
		lic = seed()
		created = true
	case err != nil:
		return nil, false, err
	}
	persist, err := fn(lic)
	if err != nil {
		return nil, false, err
	}
	switch {
	case created:
		if _, err := tx.ExecContext(ctx, sqliteInsert, insertArgs(lic)...); err != nil {
			return nil, false, fmt.Errorf("store: insert license: %w", err)
		}
	case persist:
		if _, err := tx.ExecContext(ctx, sqliteUpdate, updateArgs(lic)...); err != nil {
			return nil, false, fmt.Errorf("store: update license: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("store: commit tx: %w", err)
	}
	return lic, created, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, sqliteDelete, key)
	if err != nil {
		return fmt.Errorf("store: delete license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete license: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]*domain.License, error) {
	rows, err := s.db.QueryContext(ctx, sqliteList)
	if err != nil {
		return nil, fmt.Errorf("store: list licenses: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.License, 0)
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list licenses: %w", err)
	}
	return out, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqliteCount).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count licenses: %w", err)
	}
	return n, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*domain.License, error) {
	var (
		lic                                 domain.License
		tier                                string
		active                              int
		createdAt, expiresAt, lastValidated string
	)
	err := row.Scan(&lic.ID, &lic.Key, &tier, &lic.OwnerEmail,
		&createdAt, &expiresAt, &active, &lic.BoundIP, &lic.LastSeenIP, &lastValidated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan license: %w", err)
	}
	lic.Tier = domain.Tier(tier)
	lic.Active = active != 0
	if lic.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if lic.ExpiresAt, err = parseSQLiteTime(expiresAt); err != nil {
		return nil, err
	}
	if lic.LastValidated, err = parseSQLiteTime(lastValidated); err != nil {
		return nil, err
	}
	return &lic, nil
}

func insertArgs(lic *domain.License) []any {
	return []any{
		lic.ID, lic.Key, string(lic.Tier), lic.OwnerEmail,
		formatSQLiteTime(lic.CreatedAt), formatSQLiteTime(lic.ExpiresAt),
		boolToInt(lic.Active), lic.BoundIP, lic.LastSeenIP,
		formatSQLiteTime(lic.LastValidated),
	}
}

func updateArgs(lic *domain.License) []any {
	return []any{
		lic.ID, string(lic.Tier), lic.OwnerEmail,
		formatSQLiteTime(lic.CreatedAt), formatSQLiteTime(lic.ExpiresAt),
		boolToInt(lic.Active), lic.BoundIP, lic.LastSeenIP,
		formatSQLiteTime(lic.LastValidated),
		lic.Key,
	}
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse stored time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc reports both primary-key and unique-index violations with
	// this message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
