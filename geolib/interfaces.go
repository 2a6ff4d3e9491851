package geolib

import (
	"context"
	"net"
	"net/http"
)

// Backend is a source of geolocation data.
//
// Resolve returns a record if backend knows something about the
// address. If it knows nothing, it returns nil record and nil error.
// Backends without mandatory configuration return ErrNotConfigured. Any
// other error means that backend has failed.
type Backend interface {
	Name() string
	Resolve(ctx context.Context, ip net.IP) (*Record, error)
}

// Store is a backend which can persist records. This is a target of the
// bulk importer.
type Store interface {
	Backend

	// Upsert inserts or updates a record keyed by its IP. It returns
	// true if a new row was created.
	Upsert(ctx context.Context, record *Record) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// HTTPClient is an interface for HTTP client which is used by remote
// backends.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

type Logger interface {
	LookupError(ip net.IP, name string, err error)
	ImportInfo(summary ImportSummary, msg string)
	ImportError(ip net.IP, err error)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) LookupError(net.IP, string, error) {}
func (NoopLogger) ImportInfo(ImportSummary, string)  {}
func (NoopLogger) ImportError(net.IP, error)         {}
