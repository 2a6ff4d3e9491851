package geolib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/panjf2000/ants/v2"
)

const (
	DefaultWorkerPoolSize = 64
	DefaultBackendTimeout = 5 * time.Second

	workerPoolExpireTime = time.Minute
)

// ComparatorOpts is a set of options for Comparator. Only Backends are
// mandatory.
type ComparatorOpts struct {
	// Backends are asked in this order. This order is also an order of
	// results in the report and a tie-breaker for the fastest backend.
	Backends       []Backend
	Logger         Logger
	Metrics        *Metrics
	BackendTimeout time.Duration
	WorkerPoolSize int
}

// Comparator asks all backends about the same IP address in parallel
// and compares their answers and timings.
type Comparator struct {
	backends   []Backend
	stats      []*UsageStats
	logger     Logger
	metrics    *Metrics
	timeout    time.Duration
	rwmutex    sync.RWMutex
	closeOnce  sync.Once
	workerPool *ants.PoolWithFunc
	closed     bool
}

type compareTask struct {
	ctx     context.Context
	ip      net.IP
	index   int
	results []ComparisonReport
	wg      *sync.WaitGroup
}

type backendOutcome struct {
	record *Record
	err    error
}

// Compare asks every backend about the address. It does not fail:
// errors of backends are part of the report.
func (c *Comparator) Compare(ctx context.Context, ip net.IP) ComparisonReport {
	c.rwmutex.RLock()
	defer c.rwmutex.RUnlock()

	if c.closed {
		return c.shutdownReport(ip)
	}

	return c.compare(ctx, ip)
}

// CompareAll compares a set of addresses using a worker pool. Reports
// are returned in the same order as addresses.
func (c *Comparator) CompareAll(ctx context.Context, ips []net.IP) ([]ComparisonReport, error) {
	c.rwmutex.RLock()
	defer c.rwmutex.RUnlock()

	if c.closed {
		return nil, ErrComparatorShutdown
	}

	rv := make([]ComparisonReport, len(ips))
	wg := &sync.WaitGroup{}

	for i, ip := range ips {
		wg.Add(1)

		task := &compareTask{
			ctx:     ctx,
			ip:      ip,
			index:   i,
			results: rv,
			wg:      wg,
		}

		if err := c.workerPool.Invoke(task); err != nil {
			wg.Done()
			wg.Wait()

			return nil, fmt.Errorf("cannot schedule a comparison: %w", err)
		}
	}

	wg.Wait()

	return rv, nil
}

// Lookup asks backends one by one in configured order and returns the
// first successful result. If nobody has succeeded, the last meaningful
// result is returned: an error has priority over no data.
func (c *Comparator) Lookup(ctx context.Context, ip net.IP) BackendResult {
	c.rwmutex.RLock()
	defer c.rwmutex.RUnlock()

	rv := BackendResult{
		Backend: FastestBackendNone,
		Status:  StatusDisabled,
	}

	if c.closed {
		rv.Status = StatusError
		rv.Error = ErrComparatorShutdown.Error()

		return rv
	}

	for i, backend := range c.backends {
		result := c.lookup(ctx, ip, i, backend)

		switch result.Status {
		case StatusSuccess:
			return result
		case StatusError:
			rv = result
		case StatusNoData:
			if rv.Status != StatusError {
				rv = result
			}
		}
	}

	return rv
}

// Stats returns usage statistics of backends in configured order.
func (c *Comparator) Stats() []*UsageStats {
	return c.stats
}

func (c *Comparator) Shutdown() {
	c.rwmutex.Lock()
	defer c.rwmutex.Unlock()

	c.closed = true

	c.closeOnce.Do(func() {
		c.workerPool.Release()
	})
}

func (c *Comparator) compareIP(args interface{}) {
	task := args.(*compareTask)
	defer task.wg.Done()

	task.results[task.index] = c.compare(task.ctx, task.ip)
}

func (c *Comparator) compare(ctx context.Context, ip net.IP) ComparisonReport {
	results := make([]BackendResult, len(c.backends))
	wg := &sync.WaitGroup{}

	wg.Add(len(c.backends))

	for i, backend := range c.backends {
		go func(i int, backend Backend) {
			defer wg.Done()

			results[i] = c.lookup(ctx, ip, i, backend)
		}(i, backend)
	}

	wg.Wait()

	return makeComparisonReport(ip, results)
}

func (c *Comparator) lookup(ctx context.Context, ip net.IP, index int, backend Backend) BackendResult {
	rv := BackendResult{
		Backend: backend.Name(),
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	outcomeChan := make(chan backendOutcome, 1)
	started := time.Now()

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				outcomeChan <- backendOutcome{err: fmt.Errorf("backend has panicked: %v", recovered)}
			}
		}()

		record, err := backend.Resolve(ctx, ip)

		outcomeChan <- backendOutcome{record: record, err: err}
	}()

	var outcome backendOutcome

	select {
	case outcome = <-outcomeChan:
	case <-ctx.Done():
		outcome.err = fmt.Errorf("backend has not responded in time: %w", ctx.Err())
	}

	rv.FetchTimeMs = roundToMilliseconds(time.Since(started))

	switch {
	case errors.Is(outcome.err, ErrNotConfigured):
		rv.Status = StatusDisabled
	case outcome.err != nil:
		rv.Status = StatusError
		rv.Error = outcome.err.Error()

		c.logger.LookupError(ip, rv.Backend, outcome.err)
	case outcome.record.Empty():
		rv.Status = StatusNoData
	default:
		rv.Status = StatusSuccess
		rv.Record = copyRecord(outcome.record)
		rv.Record.IP = ip.String()
		rv.Record.Normalize()
	}

	c.stats[index].Used(rv)
	c.metrics.ObserveLookup(rv)

	return rv
}

func (c *Comparator) shutdownReport(ip net.IP) ComparisonReport {
	results := make([]BackendResult, len(c.backends))

	for i, backend := range c.backends {
		results[i] = BackendResult{
			Backend: backend.Name(),
			Status:  StatusError,
			Error:   ErrComparatorShutdown.Error(),
		}
	}

	return makeComparisonReport(ip, results)
}

func makeComparisonReport(ip net.IP, results []BackendResult) ComparisonReport {
	rv := ComparisonReport{
		IP:             ip.String(),
		Results:        results,
		FastestBackend: FastestBackendNone,
		Consistent:     true,
		Timestamp:      time.Now().UTC(),
	}

	fastest := -1
	slowest := -1

	for i := range results {
		if !results[i].OK() {
			continue
		}

		if fastest < 0 || results[i].FetchTimeMs < results[fastest].FetchTimeMs {
			fastest = i
		}

		if slowest < 0 || results[i].FetchTimeMs > results[slowest].FetchTimeMs {
			slowest = i
		}
	}

	if fastest >= 0 {
		rv.FastestBackend = results[fastest].Backend
		rv.MaxTimeDifferenceMs = results[slowest].FetchTimeMs - results[fastest].FetchTimeMs
	}

	rv.Consistent = resultsConsistent(results)

	return rv
}

// resultsConsistent checks that all successful backends agree on a
// country and a city. Cities are compared phonetically, so 'Kiev' and
// 'Kyiv' are the same.
func resultsConsistent(results []BackendResult) bool {
	var countryCode, city string

	for i := range results {
		if !results[i].OK() {
			continue
		}

		record := results[i].Record

		if code := StringValue(record.CountryCode); code != "" {
			if countryCode != "" && countryCode != code {
				return false
			}

			countryCode = code
		}

		if name := StringValue(record.City); name != "" {
			if city != "" && !SameCity(city, name) {
				return false
			}

			city = name
		}
	}

	return true
}

// SameCity compares city names phonetically.
func SameCity(left, right string) bool {
	left = strings.TrimSpace(left)
	right = strings.TrimSpace(right)

	if strings.EqualFold(left, right) {
		return true
	}

	leftPrimary, leftSecondary := matchr.DoubleMetaphone(left)
	rightPrimary, rightSecondary := matchr.DoubleMetaphone(right)

	return leftPrimary != "" && (leftPrimary == rightPrimary ||
		leftPrimary == rightSecondary ||
		leftSecondary == rightPrimary)
}

func roundToMilliseconds(duration time.Duration) int64 {
	return duration.Round(time.Millisecond).Milliseconds()
}

// NewComparator creates a new comparator with a given set of backends.
func NewComparator(opts ComparatorOpts) (*Comparator, error) {
	if len(opts.Backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}

	rv := &Comparator{
		backends: opts.Backends,
		stats:    make([]*UsageStats, len(opts.Backends)),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.BackendTimeout,
	}

	seenNames := map[string]struct{}{}

	for i, v := range opts.Backends {
		if _, ok := seenNames[v.Name()]; ok {
			return nil, fmt.Errorf("backend %s is duplicated", v.Name())
		}

		seenNames[v.Name()] = struct{}{}
		rv.stats[i] = &UsageStats{Name: v.Name()}
	}

	if rv.logger == nil {
		rv.logger = NoopLogger{}
	}

	if rv.timeout == 0 {
		rv.timeout = DefaultBackendTimeout
	}

	poolSize := opts.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = DefaultWorkerPoolSize
	}

	pool, err := ants.NewPoolWithFunc(poolSize, rv.compareIP,
		ants.WithExpiryDuration(workerPoolExpireTime))
	if err != nil {
		return nil, fmt.Errorf("cannot create a worker pool: %w", err)
	}

	rv.workerPool = pool

	return rv, nil
}
