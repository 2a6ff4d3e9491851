package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/9seconds/geocompare/geolib"
)

const tableName = "geo_locations"

// Column order is shared by all queries of both flavours.
var tableColumns = []string{
	"country",
	"country_code",
	"region",
	"region_code",
	"city",
	"postal_code",
	"latitude",
	"longitude",
	"timezone",
	"isp",
	"organization",
	"accuracy",
}

// TableStore is a relational storage of materialized records. Rows are
// keyed by IP.
type TableStore interface {
	// Get returns nil record if there is no row for a given address.
	Get(ctx context.Context, ip net.IP) (*geolib.Record, error)

	// Upsert creates a row or replaces all fields of the existing one.
	// It returns true if a row was created.
	Upsert(ctx context.Context, record *geolib.Record) (bool, error)
	Count(ctx context.Context) (int64, error)

	// Purge removes all rows and returns a number of removed ones.
	Purge(ctx context.Context) (int64, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Table is a backend on top of TableStore. A nil store means that
// backend is not configured.
type Table struct {
	store TableStore
}

func (t *Table) Name() string {
	return NameTable
}

func (t *Table) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	if t.store == nil {
		return nil, geolib.ErrNotConfigured
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %v", geolib.ErrInvalidAddress, ip)
	}

	record, err := t.store.Get(ctx, ip4)
	if err != nil {
		return nil, fmt.Errorf("cannot get a row: %w", err)
	}

	return record, nil
}

func (t *Table) Upsert(ctx context.Context, record *geolib.Record) (bool, error) {
	if t.store == nil {
		return false, geolib.ErrNotConfigured
	}

	if record == nil || net.ParseIP(record.IP).To4() == nil {
		return false, fmt.Errorf("%w: record has no address", geolib.ErrInvalidAddress)
	}

	if record.Empty() {
		return false, fmt.Errorf("record for %s has no location", record.IP)
	}

	if !record.Valid() {
		return false, fmt.Errorf("record for %s has incorrect coordinates", record.IP)
	}

	created, err := t.store.Upsert(ctx, record)
	if err != nil {
		return false, fmt.Errorf("cannot upsert a row: %w", err)
	}

	return created, nil
}

func (t *Table) Count(ctx context.Context) (int64, error) {
	if t.store == nil {
		return 0, geolib.ErrNotConfigured
	}

	return t.store.Count(ctx)
}

func (t *Table) Purge(ctx context.Context) (int64, error) {
	if t.store == nil {
		return 0, geolib.ErrNotConfigured
	}

	return t.store.Purge(ctx)
}

func (t *Table) Migrate(ctx context.Context) error {
	if t.store == nil {
		return geolib.ErrNotConfigured
	}

	return t.store.Migrate(ctx)
}

func (t *Table) Close() error {
	if t.store == nil {
		return nil
	}

	return t.store.Close()
}

func NewTable(store TableStore) *Table {
	return &Table{
		store: store,
	}
}

// OpenTableStore chooses a flavour by a scheme of DSN:
//
//	postgres://, postgresql:// - PostgreSQL with pgx pool
//	sqlite://path, file:path   - SQLite
//
// An empty DSN means that table is not configured.
func OpenTableStore(ctx context.Context, dsn string) (TableStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, geolib.ErrNotConfigured
	}

	scheme, rest, ok := strings.Cut(dsn, ":")
	if !ok {
		return nil, errors.New("dsn has no scheme")
	}

	var (
		store TableStore
		err   error
	)

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		store, err = NewPostgresStore(ctx, dsn)
	case "sqlite":
		store, err = NewSQLiteStore(ctx, strings.TrimPrefix(rest, "//"))
	case "file":
		store, err = NewSQLiteStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}

	if err != nil {
		return nil, err
	}

	return store, nil
}
