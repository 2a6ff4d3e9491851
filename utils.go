package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/9seconds/geocompare/backends"
	"github.com/9seconds/geocompare/geolib"
	"github.com/go-chi/chi/v5/middleware"
)

// backendSet keeps concrete backends so commands could reach
// table-specific operations and close everything at the end.
type backendSet struct {
	mmdb   *backends.MMDB
	table  *backends.Table
	remote geolib.Backend
}

// Ordered returns backends in a configured order.
func (b *backendSet) Ordered(names []string) []geolib.Backend {
	rv := make([]geolib.Backend, 0, len(names))

	for _, name := range names {
		switch name {
		case backends.NameMMDB:
			rv = append(rv, b.mmdb)
		case backends.NameTable:
			rv = append(rv, b.table)
		case backends.NameRemote:
			rv = append(rv, b.remote)
		}
	}

	return rv
}

func (b *backendSet) Close() {
	b.mmdb.Close()  // nolint: errcheck
	b.table.Close() // nolint: errcheck
}

func makeRootContext() (context.Context, context.CancelFunc) {
	rootCtx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)

	go func() {
		for range sigChan {
			cancel()
		}
	}()

	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	return rootCtx, cancel
}

// makeBackends never fails because of missing configuration: such
// backends are created but report themselves as disabled.
func makeBackends(ctx context.Context, conf *config) (*backendSet, error) {
	store, err := backends.OpenTableStore(ctx, conf.Table.DSN)
	if err != nil && !errors.Is(err, geolib.ErrNotConfigured) {
		return nil, fmt.Errorf("cannot open a table: %w", err)
	}

	remote := backends.NewRemote(backends.RemoteOpts{
		AccountID:  conf.Remote.AccountID,
		LicenseKey: conf.Remote.LicenseKey,
		Host:       conf.Remote.GetHost(),
		Client:     makeHTTPClient(conf.Remote),
	})

	return &backendSet{
		mmdb: backends.NewMMDB(backends.MMDBOpts{
			Path: conf.MMDB.Path,
		}),
		table: backends.NewTable(store),
		remote: geolib.NewCachingBackend(remote,
			conf.Remote.GetCacheSize(),
			conf.Remote.GetCacheTTL()),
	}, nil
}

func makeHTTPClient(conf configRemote) geolib.HTTPClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		panic(err)
	}

	httpClient := &http.Client{
		Timeout: conf.GetHTTPTimeout(),
		Jar:     jar,
	}

	return geolib.NewHTTPClient(httpClient,
		"geocompare/"+version,
		conf.GetRateLimitInterval(),
		conf.GetRateLimitBurst(),
		geolib.DefaultCircuitBreakerOpenThreshold,
		geolib.DefaultCircuitBreakerHalfOpenTimeout,
		geolib.DefaultCircuitBreakerResetFailuresTimeout)
}

func makeStrategies(conf configImport, names []string, listPath string) ([]geolib.CandidateStrategy, error) {
	rv := make([]geolib.CandidateStrategy, 0, len(names)+1)

	for _, name := range names {
		switch name {
		case "grid":
			rv = append(rv, geolib.GridStrategy{Step: conf.GetGridStep()})
		case "providers":
			strategy, err := geolib.NewProviderBlocksStrategy(conf.ProviderBlocks, conf.ProviderStride)
			if err != nil {
				return nil, fmt.Errorf("cannot build provider blocks: %w", err)
			}

			rv = append(rv, strategy)
		case "random":
			rv = append(rv, geolib.RandomStrategy{
				Count: conf.GetRandomCount(),
				Seed:  conf.Seed,
			})
		case "edge":
			rv = append(rv, geolib.EdgeCaseStrategy{})
		default:
			return nil, fmt.Errorf("unknown strategy %s", name)
		}
	}

	if listPath != "" {
		ips, err := readIPList(listPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read a list of addresses: %w", err)
		}

		rv = append(rv, geolib.ListStrategy{Label: "list", IPs: ips})
	}

	return rv, nil
}

// readIPList reads one address per line. Empty lines and lines
// starting with # are skipped.
func readIPList(path string) ([]net.IP, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer file.Close()

	rv := []net.IP{}
	scanner := bufio.NewScanner(file)

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ip, err := geolib.ParseIPv4(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		rv = append(rv, ip)
	}

	return rv, scanner.Err()
}

func parseIPs(values []string) ([]net.IP, error) {
	rv := make([]net.IP, 0, len(values))

	for _, v := range values {
		ip, err := geolib.ParseIPv4(v)
		if err != nil {
			return nil, err
		}

		rv = append(rv, ip)
	}

	return rv, nil
}

func accessLogMiddleware(log *logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			wrapped := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(wrapped, req)

			log.httpLog.Debug().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", wrapped.Status()).
				Dur("elapsed", time.Since(started)).
				Msg("")
		})
	}
}
