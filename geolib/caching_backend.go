package geolib

import (
	"context"
	"net"
	"time"

	"github.com/dgraph-io/ristretto"
)

type cachingBackendEntry struct {
	record *Record
}

type cachingBackend struct {
	Backend

	cache *ristretto.Cache
	ttl   time.Duration
}

// Resolve caches both records and 'no data' answers. Errors are never
// cached.
func (c cachingBackend) Resolve(ctx context.Context, ip net.IP) (*Record, error) {
	cacheKey := ip.String()

	if value, ok := c.cache.Get(cacheKey); ok {
		return copyRecord(value.(cachingBackendEntry).record), nil
	}

	record, err := c.Backend.Resolve(ctx, ip)
	if err != nil {
		return nil, err
	}

	c.cache.SetWithTTL(cacheKey, cachingBackendEntry{record: copyRecord(record)}, 1, c.ttl)

	return record, nil
}

// NewCachingBackend wraps a backend with TTL cache of given size.
func NewCachingBackend(backend Backend, itemsCount uint, ttl time.Duration) Backend {
	cacheConfig := &ristretto.Config{
		MaxCost:     int64(itemsCount),
		NumCounters: 10 * int64(itemsCount),
		Metrics:     false,
		BufferItems: 64,
	}

	cache, err := ristretto.NewCache(cacheConfig)
	if err != nil {
		panic(err)
	}

	return cachingBackend{
		Backend: backend,
		cache:   cache,
		ttl:     ttl,
	}
}

func copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}

	rv := *record

	return &rv
}
