package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/9seconds/geocompare/geolib"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS geo_locations (
    ip           TEXT PRIMARY KEY,
    country      TEXT NULL,
    country_code TEXT NULL,
    region       TEXT NULL,
    region_code  TEXT NULL,
    city         TEXT NULL,
    postal_code  TEXT NULL,
    latitude     DOUBLE PRECISION NULL,
    longitude    DOUBLE PRECISION NULL,
    timezone     TEXT NULL,
    isp          TEXT NULL,
    organization TEXT NULL,
    accuracy     INTEGER NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS geo_locations_country_code_idx ON geo_locations (country_code)`,
}

var (
	postgresGetQuery = "SELECT " + strings.Join(tableColumns, ", ") +
		" FROM " + tableName + " WHERE ip = $1"
	postgresUpsertQuery = makePostgresUpsertQuery()
	postgresCountQuery  = "SELECT COUNT(*) FROM " + tableName
	postgresPurgeQuery  = "DELETE FROM " + tableName
)

// pgxPool is a subset of pgxpool.Pool which is used by the store.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Close()
}

// PostgresStore is TableStore on top of PostgreSQL.
type PostgresStore struct {
	pool pgxPool
}

func (p *PostgresStore) Get(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	record := &geolib.Record{IP: ip.String()}

	err := p.pool.QueryRow(ctx, postgresGetQuery, record.IP).Scan(recordScanTargets(record)...)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("cannot select a row: %w", err)
	}

	return record, nil
}

// Upsert relies on xmax system column: it is 0 for freshly inserted
// rows and non-zero for updated ones.
func (p *PostgresStore) Upsert(ctx context.Context, record *geolib.Record) (bool, error) {
	created := false

	err := p.pool.QueryRow(ctx, postgresUpsertQuery, recordArgs(record)...).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("cannot upsert a row: %w", err)
	}

	return created, nil
}

func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64

	if err := p.pool.QueryRow(ctx, postgresCountQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("cannot count rows: %w", err)
	}

	return count, nil
}

func (p *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, postgresPurgeQuery)
	if err != nil {
		return 0, fmt.Errorf("cannot delete rows: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (p *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresMigrations {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("cannot apply migration: %w", err)
		}
	}

	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()

	return nil
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot create a connection pool: %w", err)
	}

	return newPostgresStore(pool), nil
}

func newPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
	}
}

func makePostgresUpsertQuery() string {
	placeholders := make([]string, 0, len(tableColumns)+1)
	updates := make([]string, 0, len(tableColumns)+1)

	for i := 0; i <= len(tableColumns); i++ {
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
	}

	for _, column := range tableColumns {
		updates = append(updates, column+" = EXCLUDED."+column)
	}

	updates = append(updates, "updated_at = NOW()")

	return "INSERT INTO " + tableName +
		" (ip, " + strings.Join(tableColumns, ", ") + ", created_at, updated_at)" +
		" VALUES (" + strings.Join(placeholders, ", ") + ", NOW(), NOW())" +
		" ON CONFLICT (ip) DO UPDATE SET " + strings.Join(updates, ", ") +
		" RETURNING (xmax = 0)"
}

// recordScanTargets returns pointers to record fields in tableColumns
// order.
func recordScanTargets(record *geolib.Record) []interface{} {
	return []interface{}{
		&record.Country,
		&record.CountryCode,
		&record.Region,
		&record.RegionCode,
		&record.City,
		&record.PostalCode,
		&record.Latitude,
		&record.Longitude,
		&record.Timezone,
		&record.ISP,
		&record.Organization,
		&record.Accuracy,
	}
}

// recordArgs returns IP and record fields in tableColumns order.
func recordArgs(record *geolib.Record) []interface{} {
	return []interface{}{
		record.IP,
		record.Country,
		record.CountryCode,
		record.Region,
		record.RegionCode,
		record.City,
		record.PostalCode,
		record.Latitude,
		record.Longitude,
		record.Timezone,
		record.ISP,
		record.Organization,
		record.Accuracy,
	}
}
