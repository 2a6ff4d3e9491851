package geolib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

const DefaultProgressEvery = 1000

const (
	importOutcomeImported = "imported"
	importOutcomeUpdated  = "updated"
	importOutcomeNoData   = "no_data"
	importOutcomeError    = "error"
)

// ImporterOpts is a set of options for Importer. Source and Store are
// mandatory.
type ImporterOpts struct {
	Source        Backend
	Store         Store
	Logger        Logger
	Metrics       *Metrics
	Concurrency   int
	ProgressEvery int
}

// Importer materializes answers of a source backend (usually binary
// database) into a store (relational table).
type Importer struct {
	source        Backend
	store         Store
	logger        Logger
	metrics       *Metrics
	concurrency   int
	progressEvery uint64
}

type importTask struct {
	ctx      context.Context
	ip       net.IP
	strategy string
}

// importRun is an accumulator of a single run. It is shared between
// workers of the run.
type importRun struct {
	mutex   sync.Mutex
	summary ImportSummary
	fatal   error
	cancel  context.CancelFunc
}

func (r *importRun) fail(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.fatal == nil {
		r.fatal = err
		r.cancel()
	}
}

func (r *importRun) snapshot() ImportSummary {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.summary.clone()
}

func (s ImportSummary) clone() ImportSummary {
	strategies := make(map[string]uint64, len(s.Strategies))

	for k, v := range s.Strategies {
		strategies[k] = v
	}

	s.Strategies = strategies

	return s
}

// Run walks strategies one by one and imports every distinct address
// exactly once. Per-address failures are counted and do not stop the
// run. An unreachable store or a broken source aborts it: the summary
// collected so far is returned together with an error. Cancellation of
// the context stops the run gracefully without an error.
func (i *Importer) Run(ctx context.Context, strategies ...CandidateStrategy) (ImportSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &importRun{
		summary: ImportSummary{
			RunID:      uuid.NewString(),
			Strategies: map[string]uint64{},
			StartedAt:  time.Now().UTC(),
		},
		cancel: cancel,
	}

	if _, err := i.store.Count(ctx); err != nil {
		run.summary.FinishedAt = time.Now().UTC()

		return run.summary, fmt.Errorf("store %s is not available: %w", i.store.Name(), err)
	}

	i.logger.ImportInfo(run.snapshot(), "Import has started")

	wg := &sync.WaitGroup{}

	pool, err := ants.NewPoolWithFunc(i.concurrency, func(args interface{}) {
		defer wg.Done()

		i.importIP(run, args.(*importTask))
	})
	if err != nil {
		return run.summary, fmt.Errorf("cannot create a worker pool: %w", err)
	}

	defer pool.Release()

	seen := map[string]struct{}{}

	for _, strategy := range strategies {
		name := strategy.Name()

		strategy.Candidates(func(ip net.IP) bool {
			if ctx.Err() != nil {
				return false
			}

			key := ip.String()
			if _, ok := seen[key]; ok {
				return true
			}

			seen[key] = struct{}{}

			run.mutex.Lock()
			run.summary.UniqueSeen++
			run.mutex.Unlock()

			wg.Add(1)

			if err := pool.Invoke(&importTask{ctx: ctx, ip: ip, strategy: name}); err != nil {
				wg.Done()
				run.fail(fmt.Errorf("cannot schedule an import: %w", err))

				return false
			}

			return true
		})

		if ctx.Err() != nil {
			break
		}
	}

	wg.Wait()

	run.mutex.Lock()
	run.summary.FinishedAt = time.Now().UTC()
	summary, fatal := run.summary.clone(), run.fatal
	run.mutex.Unlock()

	i.logger.ImportInfo(summary, "Import has finished")

	return summary, fatal
}

func (i *Importer) importIP(run *importRun, task *importTask) {
	if task.ctx.Err() != nil {
		return
	}

	outcome, err := i.resolveAndStore(task.ctx, task.ip)

	if task.ctx.Err() != nil && err != nil {
		return
	}

	if isFatalSourceError(err) {
		run.fail(fmt.Errorf("import has been aborted: %w", err))

		return
	}

	i.metrics.ObserveImport(outcome)

	run.mutex.Lock()

	run.summary.Processed++
	run.summary.Strategies[task.strategy]++

	switch outcome {
	case importOutcomeImported:
		run.summary.Imported++
	case importOutcomeUpdated:
		run.summary.Updated++
	case importOutcomeNoData:
		run.summary.NoData++
	default:
		run.summary.Errors++
	}

	processed := run.summary.Processed
	var progress ImportSummary

	if processed%i.progressEvery == 0 {
		progress = run.summary.clone()
	}

	run.mutex.Unlock()

	if err != nil {
		i.logger.ImportError(task.ip, err)
	}

	if processed%i.progressEvery == 0 {
		i.logger.ImportInfo(progress, "Import is in progress")
	}
}

func (i *Importer) resolveAndStore(ctx context.Context, ip net.IP) (outcome string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = importOutcomeError
			err = fmt.Errorf("source has panicked: %v", rec)
		}
	}()

	record, err := i.source.Resolve(ctx, ip)
	if err != nil {
		return importOutcomeError, fmt.Errorf("cannot resolve: %w", err)
	}

	if record.Empty() {
		return importOutcomeNoData, nil
	}

	record = copyRecord(record)
	record.IP = ip.String()
	record.Normalize()

	created, err := i.store.Upsert(ctx, record)
	if err != nil {
		return importOutcomeError, fmt.Errorf("cannot store: %w", err)
	}

	if created {
		return importOutcomeImported, nil
	}

	return importOutcomeUpdated, nil
}

func NewImporter(opts ImporterOpts) (*Importer, error) {
	if opts.Source == nil || opts.Store == nil {
		return nil, errors.New("both source and store are required")
	}

	rv := &Importer{
		source:        opts.Source,
		store:         opts.Store,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		concurrency:   opts.Concurrency,
		progressEvery: uint64(opts.ProgressEvery),
	}

	if rv.logger == nil {
		rv.logger = NoopLogger{}
	}

	if rv.concurrency <= 0 {
		rv.concurrency = 1
	}

	if rv.progressEvery == 0 {
		rv.progressEvery = DefaultProgressEvery
	}

	return rv, nil
}
