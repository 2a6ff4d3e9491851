package backends

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/9seconds/geocompare/geolib"
	_ "modernc.org/sqlite"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS geo_locations (
    ip           TEXT PRIMARY KEY,
    country      TEXT NULL,
    country_code TEXT NULL,
    region       TEXT NULL,
    region_code  TEXT NULL,
    city         TEXT NULL,
    postal_code  TEXT NULL,
    latitude     REAL NULL,
    longitude    REAL NULL,
    timezone     TEXT NULL,
    isp          TEXT NULL,
    organization TEXT NULL,
    accuracy     INTEGER NULL,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS geo_locations_country_code_idx ON geo_locations (country_code)`,
}

var (
	sqliteGetQuery = "SELECT " + strings.Join(tableColumns, ", ") +
		" FROM " + tableName + " WHERE ip = ?"
	sqliteExistsQuery = "SELECT 1 FROM " + tableName + " WHERE ip = ?"
	sqliteUpsertQuery = makeSQLiteUpsertQuery()
	sqliteCountQuery  = "SELECT COUNT(*) FROM " + tableName
	sqlitePurgeQuery  = "DELETE FROM " + tableName
)

// SQLiteStore is TableStore on top of SQLite. It is intended for local
// setups and tests.
type SQLiteStore struct {
	db *sql.DB
}

func (s *SQLiteStore) Get(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	record := &geolib.Record{IP: ip.String()}

	err := s.db.QueryRowContext(ctx, sqliteGetQuery, record.IP).Scan(recordScanTargets(record)...)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cannot select a row: %w", err)
	}

	return record, nil
}

// Upsert checks if a row exists and upserts it within the same
// transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, record *geolib.Record) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("cannot start a transaction: %w", err)
	}

	defer tx.Rollback() // nolint: errcheck

	exists := 0

	err = tx.QueryRowContext(ctx, sqliteExistsQuery, record.IP).Scan(&exists)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("cannot check if row exists: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqliteUpsertQuery, recordArgs(record)...); err != nil {
		return false, fmt.Errorf("cannot upsert a row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("cannot commit a transaction: %w", err)
	}

	return exists == 0, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64

	if err := s.db.QueryRowContext(ctx, sqliteCountQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("cannot count rows: %w", err)
	}

	return count, nil
}

func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, sqlitePurgeQuery)
	if err != nil {
		return 0, fmt.Errorf("cannot delete rows: %w", err)
	}

	return result.RowsAffected()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cannot apply migration: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewSQLiteStore opens a database by path. ":memory:" is supported:
// there is a single connection so all queries see the same database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open a database: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()

			return nil, fmt.Errorf("cannot execute %s: %w", pragma, err)
		}
	}

	return &SQLiteStore{
		db: db,
	}, nil
}

func makeSQLiteUpsertQuery() string {
	placeholders := make([]string, 0, len(tableColumns)+1)
	updates := make([]string, 0, len(tableColumns)+1)

	for i := 0; i <= len(tableColumns); i++ {
		placeholders = append(placeholders, "?")
	}

	for _, column := range tableColumns {
		updates = append(updates, column+" = excluded."+column)
	}

	updates = append(updates, "updated_at = CURRENT_TIMESTAMP")

	return "INSERT INTO " + tableName +
		" (ip, " + strings.Join(tableColumns, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")" +
		" ON CONFLICT(ip) DO UPDATE SET " + strings.Join(updates, ", ")
}
