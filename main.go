package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/9seconds/geocompare/geolib"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

const version = "0.1.0"

const serverShutdownTimeout = 10 * time.Second

var (
	app = kingpin.New(
		"geocompare",
		"Resolve IP geolocation with several backends and compare them")

	verbose = app.Flag("verbose", "Run in verbose mode.").
		Short('v').
		Envar("GEOCOMPARE_VERBOSE").
		Bool()
	configPath = app.Flag("config", "Path to the hjson config.").
			Short('c').
			Envar("GEOCOMPARE_CONFIG").
			ExistingFile()

	serveCmd = app.Command("serve", "Run HTTP API.")

	importCmd        = app.Command("import", "Materialize binary database into a table.")
	importStrategies = importCmd.Flag("strategy", "Candidate strategies to run, in order.").
				Short('s').
				Default("edge", "providers", "grid", "random").
				Enums("grid", "providers", "random", "edge")
	importList = importCmd.Flag("list", "File with addresses to import, one per line.").
			ExistingFile()

	lookupCmd = app.Command("lookup", "Resolve an address; the first backend with data wins.")
	lookupIP  = lookupCmd.Arg("ip", "IPv4 address.").Required().String()

	compareCmd = app.Command("compare", "Compare all backends on given addresses.")
	compareIPs = compareCmd.Arg("ip", "IPv4 addresses.").Required().Strings()

	verifyCmd     = app.Command("verify", "Verify that table mirrors binary database.")
	verifySamples = verifyCmd.Flag("samples", "A number of random addresses to check.").Uint()
	verifySeed    = verifyCmd.Flag("seed", "Random seed, 0 means random.").Int64()
	verifyStrict  = verifyCmd.Flag("strict", "Exit with non-zero code if coverage is below threshold.").
			Bool()

	migrateCmd = app.Command("migrate", "Create a table.")

	countCmd = app.Command("count", "Show a number of rows in a table.")

	purgeCmd = app.Command("purge", "Remove all rows from a table.")
	purgeYes = purgeCmd.Flag("yes", "Confirm removal.").Bool()
)

func init() {
	app.Version(version)
	app.HelpFlag.Short('h')
}

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	log := newLogger(*verbose)

	conf, err := readConfig(*configPath)
	if err != nil {
		app.Fatalf("cannot read config: %v", err)
	}

	ctx, cancel := makeRootContext()
	defer cancel()

	backendSet, err := makeBackends(ctx, conf)
	if err != nil {
		app.Fatalf("cannot initialize backends: %v", err)
	}

	defer backendSet.Close()

	switch command {
	case serveCmd.FullCommand():
		err = runServe(ctx, conf, log, backendSet)
	case importCmd.FullCommand():
		err = runImport(ctx, conf, log, backendSet)
	case lookupCmd.FullCommand():
		err = runLookup(ctx, conf, log, backendSet)
	case compareCmd.FullCommand():
		err = runCompare(ctx, conf, log, backendSet)
	case verifyCmd.FullCommand():
		err = runVerify(ctx, conf, backendSet)
	case migrateCmd.FullCommand():
		err = backendSet.table.Migrate(ctx)
	case countCmd.FullCommand():
		err = runCount(ctx, backendSet)
	case purgeCmd.FullCommand():
		err = runPurge(ctx, backendSet)
	}

	if err != nil {
		backendSet.Close()
		app.Fatalf("%v", err)
	}
}

func makeComparator(conf *config, log *logger, metrics *geolib.Metrics, set *backendSet) (*geolib.Comparator, error) {
	return geolib.NewComparator(geolib.ComparatorOpts{
		Backends:       set.Ordered(conf.GetBackends()),
		Logger:         log,
		Metrics:        metrics,
		BackendTimeout: conf.GetBackendTimeout(),
		WorkerPoolSize: conf.GetWorkerPoolSize(),
	})
}

func runServe(ctx context.Context, conf *config, log *logger, set *backendSet) error {
	metrics := geolib.NewMetrics()

	comparator, err := makeComparator(conf, log, metrics, set)
	if err != nil {
		return fmt.Errorf("cannot create a comparator: %w", err)
	}

	defer comparator.Shutdown()

	handler := geolib.NewHTTPHandler(comparator, geolib.HTTPHandlerOpts{
		Metrics:        metrics,
		AllowedOrigins: conf.GetAllowedOrigins(),
	})

	srv := &http.Server{
		Addr:              conf.GetListen(),
		Handler:           accessLogMiddleware(log)(newBasicAuthMiddleware(handler, conf.BasicAuth)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()

		srv.Shutdown(shutdownCtx) // nolint: errcheck
	}()

	log.HTTPInfo("Server is listening on " + conf.GetListen())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.HTTPError(err, "Server has crashed")

		return fmt.Errorf("server has crashed: %w", err)
	}

	log.HTTPInfo("Server has been stopped")

	return nil
}

func runImport(ctx context.Context, conf *config, log *logger, set *backendSet) error {
	strategies, err := makeStrategies(conf.Import, *importStrategies, *importList)
	if err != nil {
		return err
	}

	importer, err := geolib.NewImporter(geolib.ImporterOpts{
		Source:        set.mmdb,
		Store:         set.table,
		Logger:        log,
		Concurrency:   conf.Import.GetConcurrency(),
		ProgressEvery: conf.Import.GetProgressEvery(),
	})
	if err != nil {
		return fmt.Errorf("cannot create an importer: %w", err)
	}

	summary, err := importer.Run(ctx, strategies...)

	printJSON(summary)

	return err
}

func runLookup(ctx context.Context, conf *config, log *logger, set *backendSet) error {
	ip, err := geolib.ParseIPv4(*lookupIP)
	if err != nil {
		return err
	}

	comparator, err := makeComparator(conf, log, nil, set)
	if err != nil {
		return fmt.Errorf("cannot create a comparator: %w", err)
	}

	defer comparator.Shutdown()

	printJSON(comparator.Lookup(ctx, ip))

	return nil
}

func runCompare(ctx context.Context, conf *config, log *logger, set *backendSet) error {
	ips, err := parseIPs(*compareIPs)
	if err != nil {
		return err
	}

	comparator, err := makeComparator(conf, log, nil, set)
	if err != nil {
		return fmt.Errorf("cannot create a comparator: %w", err)
	}

	defer comparator.Shutdown()

	reports, err := comparator.CompareAll(ctx, ips)
	if err != nil {
		return fmt.Errorf("cannot compare: %w", err)
	}

	printJSON(reports)

	return nil
}

func runVerify(ctx context.Context, conf *config, set *backendSet) error {
	samples := conf.Verify.GetSamples()
	if *verifySamples > 0 {
		samples = int(*verifySamples)
	}

	report, err := geolib.VerifyCoverage(ctx, geolib.CoverageOpts{
		Source:      set.mmdb,
		Target:      set.table,
		Samples:     samples,
		Seed:        *verifySeed,
		Threshold:   conf.Verify.GetThreshold(),
		Concurrency: conf.Import.GetConcurrency(),
	})
	if err != nil {
		return fmt.Errorf("cannot verify coverage: %w", err)
	}

	printJSON(report)

	if *verifyStrict && !report.Passed {
		return fmt.Errorf("coverage %.3f is below threshold %.3f", report.Ratio, report.Threshold)
	}

	return nil
}

func runCount(ctx context.Context, set *backendSet) error {
	count, err := set.table.Count(ctx)
	if err != nil {
		return fmt.Errorf("cannot count rows: %w", err)
	}

	fmt.Println(count)

	return nil
}

func runPurge(ctx context.Context, set *backendSet) error {
	if !*purgeYes {
		return errors.New("purge removes all rows, please confirm it with --yes")
	}

	removed, err := set.table.Purge(ctx)
	if err != nil {
		return fmt.Errorf("cannot purge a table: %w", err)
	}

	fmt.Println(removed)

	return nil
}

func printJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)

	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	encoder.Encode(data) // nolint: errcheck
}
