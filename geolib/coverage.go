package geolib

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultCoverageSamples   = 500
	DefaultCoverageThreshold = 0.9
)

// CoverageOpts configures coverage verification. Source is a reference
// backend, Target is a backend which is expected to mirror it.
type CoverageOpts struct {
	Source      Backend
	Target      Backend
	Samples     int
	Seed        int64
	Threshold   float64
	Concurrency int
}

// CoverageReport shows how well a target backend mirrors a source one
// on random public addresses.
//
// Only addresses known to the source are compared. Matched means that
// target knows the address and agrees on a country.
type CoverageReport struct {
	Samples    int     `json:"samples"`
	Compared   int     `json:"compared"`
	Matched    int     `json:"matched"`
	Missing    int     `json:"missing"`
	Mismatched int     `json:"mismatched"`
	Errors     int     `json:"errors"`
	Ratio      float64 `json:"ratio"`
	Threshold  float64 `json:"threshold"`
	Passed     bool    `json:"passed"`
}

// VerifyCoverage samples random public addresses and compares answers
// of both backends. A broken or disabled backend aborts verification;
// other failures are counted per address.
func VerifyCoverage(ctx context.Context, opts CoverageOpts) (CoverageReport, error) {
	rv := CoverageReport{
		Samples:   opts.Samples,
		Threshold: opts.Threshold,
	}

	if rv.Samples <= 0 {
		rv.Samples = DefaultCoverageSamples
	}

	if rv.Threshold <= 0 {
		rv.Threshold = DefaultCoverageThreshold
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	mutex := &sync.Mutex{}
	group, groupCtx := errgroup.WithContext(ctx)

	group.SetLimit(concurrency)

	RandomStrategy{Count: rv.Samples, Seed: opts.Seed}.Candidates(func(ip net.IP) bool {
		if groupCtx.Err() != nil {
			return false
		}

		group.Go(func() error {
			outcome, err := compareCoverage(groupCtx, opts.Source, opts.Target, ip)
			if err != nil {
				return err
			}

			mutex.Lock()
			defer mutex.Unlock()

			switch outcome {
			case coverageMatched:
				rv.Compared++
				rv.Matched++
			case coverageMissing:
				rv.Compared++
				rv.Missing++
			case coverageMismatched:
				rv.Compared++
				rv.Mismatched++
			case coverageError:
				rv.Errors++
			}

			return nil
		})

		return true
	})

	if err := group.Wait(); err != nil {
		return rv, err
	}

	if err := ctx.Err(); err != nil {
		return rv, err
	}

	rv.Ratio = 1

	if rv.Compared > 0 {
		rv.Ratio = float64(rv.Matched) / float64(rv.Compared)
	}

	rv.Passed = rv.Ratio >= rv.Threshold

	return rv, nil
}

type coverageOutcome int

const (
	coverageUnknown coverageOutcome = iota
	coverageMatched
	coverageMissing
	coverageMismatched
	coverageError
)

func compareCoverage(ctx context.Context, source, target Backend, ip net.IP) (coverageOutcome, error) {
	sourceRecord, err := source.Resolve(ctx, ip)

	switch {
	case isFatalSourceError(err):
		return coverageError, fmt.Errorf("source %s is not available: %w", source.Name(), err)
	case err != nil:
		return coverageError, nil
	case sourceRecord.Empty():
		return coverageUnknown, nil
	}

	targetRecord, err := target.Resolve(ctx, ip)

	switch {
	case isFatalSourceError(err):
		return coverageError, fmt.Errorf("target %s is not available: %w", target.Name(), err)
	case err != nil:
		return coverageError, nil
	case targetRecord.Empty():
		return coverageMissing, nil
	}

	sourceRecord = copyRecord(sourceRecord)
	targetRecord = copyRecord(targetRecord)

	sourceRecord.Normalize()
	targetRecord.Normalize()

	if StringValue(sourceRecord.CountryCode) != StringValue(targetRecord.CountryCode) {
		return coverageMismatched, nil
	}

	return coverageMatched, nil
}

func isFatalSourceError(err error) bool {
	return errors.Is(err, ErrCorruptSource) || errors.Is(err, ErrNotConfigured)
}
