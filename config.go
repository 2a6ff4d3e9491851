package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/9seconds/geocompare/backends"
	"github.com/9seconds/geocompare/geolib"
	"github.com/hjson/hjson-go/v4"
)

const (
	DefaultListen            = "127.0.0.1:8080"
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultRemoteCacheSize   = 10000
	DefaultRemoteCacheTTL    = time.Hour
	DefaultImportConcurrency = 4
)

const (
	envMaxmindAccountID  = "GEOCOMPARE_MAXMIND_ACCOUNT_ID"
	envMaxmindLicenseKey = "GEOCOMPARE_MAXMIND_LICENSE_KEY"
	envDatabaseURL       = "GEOCOMPARE_DATABASE_URL"
	envMMDBPath          = "GEOCOMPARE_MMDB_PATH"
)

// Table goes first: it is the fastest one if populated.
var defaultBackendOrder = []string{
	backends.NameTable,
	backends.NameMMDB,
	backends.NameRemote,
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v interface{}

	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("cannot unmarshal duration: %w", err)
	}

	vv, ok := v.(string)
	if !ok {
		return fmt.Errorf("incorrect duration: %v", v)
	}

	dur, err := time.ParseDuration(vv)
	if err != nil {
		return fmt.Errorf("cannot parse duration: %w", err)
	}

	d.Duration = dur

	return nil
}

type config struct {
	Listen         string          `json:"listen"`
	BackendTimeout duration        `json:"backend_timeout"`
	WorkerPoolSize uint            `json:"worker_pool_size"`
	Backends       []string        `json:"backends"`
	AllowedOrigins []string        `json:"allowed_origins"`
	BasicAuth      configBasicAuth `json:"basic_auth"`
	MMDB           configMMDB      `json:"mmdb"`
	Table          configTable     `json:"table"`
	Remote         configRemote    `json:"remote"`
	Import         configImport    `json:"import"`
	Verify         configVerify    `json:"verify"`
}

func (c config) GetListen() string {
	if c.Listen != "" {
		return c.Listen
	}

	return DefaultListen
}

func (c config) GetBackendTimeout() time.Duration {
	if c.BackendTimeout.Duration == 0 {
		return geolib.DefaultBackendTimeout
	}

	return c.BackendTimeout.Duration
}

func (c config) GetWorkerPoolSize() int {
	if c.WorkerPoolSize == 0 {
		return geolib.DefaultWorkerPoolSize
	}

	return int(c.WorkerPoolSize)
}

// GetBackends returns an order in which backends are asked.
func (c config) GetBackends() []string {
	if len(c.Backends) == 0 {
		return defaultBackendOrder
	}

	return c.Backends
}

func (c config) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

type configBasicAuth struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (c configBasicAuth) Enabled() bool {
	return c.User != "" || c.Password != ""
}

type configMMDB struct {
	Path string `json:"path"`
}

type configTable struct {
	DSN string `json:"dsn"`
}

type configRemote struct {
	AccountID         string   `json:"account_id"`
	LicenseKey        string   `json:"license_key"`
	Host              string   `json:"host"`
	HTTPTimeout       duration `json:"http_timeout"`
	RateLimitInterval duration `json:"rate_limit_interval"`
	RateLimitBurst    uint     `json:"rate_limit_burst"`
	CacheSize         uint     `json:"cache_size"`
	CacheTTL          duration `json:"cache_ttl"`
}

func (c configRemote) GetHost() string {
	if c.Host != "" {
		return c.Host
	}

	return backends.DefaultRemoteHost
}

func (c configRemote) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout.Duration == 0 {
		return DefaultHTTPTimeout
	}

	return c.HTTPTimeout.Duration
}

func (c configRemote) GetRateLimitInterval() time.Duration {
	if c.RateLimitInterval.Duration == 0 {
		return geolib.DefaultRateLimitInterval
	}

	return c.RateLimitInterval.Duration
}

func (c configRemote) GetRateLimitBurst() int {
	if c.RateLimitBurst == 0 {
		return geolib.DefaultRateLimitBurst
	}

	return int(c.RateLimitBurst)
}

func (c configRemote) GetCacheSize() uint {
	if c.CacheSize == 0 {
		return DefaultRemoteCacheSize
	}

	return c.CacheSize
}

func (c configRemote) GetCacheTTL() time.Duration {
	if c.CacheTTL.Duration == 0 {
		return DefaultRemoteCacheTTL
	}

	return c.CacheTTL.Duration
}

type configImport struct {
	Concurrency    uint     `json:"concurrency"`
	GridStep       uint8    `json:"grid_step"`
	RandomCount    uint     `json:"random_count"`
	Seed           int64    `json:"seed"`
	ProviderBlocks []string `json:"provider_blocks"`
	ProviderStride uint32   `json:"provider_stride"`
	ProgressEvery  uint     `json:"progress_every"`
}

func (c configImport) GetConcurrency() int {
	if c.Concurrency == 0 {
		return DefaultImportConcurrency
	}

	return int(c.Concurrency)
}

func (c configImport) GetGridStep() uint8 {
	if c.GridStep == 0 {
		return geolib.DefaultGridStep
	}

	return c.GridStep
}

func (c configImport) GetRandomCount() int {
	if c.RandomCount == 0 {
		return geolib.DefaultRandomCount
	}

	return int(c.RandomCount)
}

func (c configImport) GetProgressEvery() int {
	if c.ProgressEvery == 0 {
		return geolib.DefaultProgressEvery
	}

	return int(c.ProgressEvery)
}

type configVerify struct {
	Samples   uint    `json:"samples"`
	Threshold float64 `json:"threshold"`
}

func (c configVerify) GetSamples() int {
	if c.Samples == 0 {
		return geolib.DefaultCoverageSamples
	}

	return int(c.Samples)
}

func (c configVerify) GetThreshold() float64 {
	if c.Threshold == 0 {
		return geolib.DefaultCoverageThreshold
	}

	return c.Threshold
}

// applyEnv overrides secrets and locations from environment.
func (c *config) applyEnv(lookup func(string) (string, bool)) {
	for name, target := range map[string]*string{
		envMaxmindAccountID:  &c.Remote.AccountID,
		envMaxmindLicenseKey: &c.Remote.LicenseKey,
		envDatabaseURL:       &c.Table.DSN,
		envMMDBPath:          &c.MMDB.Path,
	} {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}
}

func (c *config) validate() error {
	if _, _, err := net.SplitHostPort(c.GetListen()); err != nil {
		return fmt.Errorf("incorrect host:port for listen: %w", err)
	}

	seenBackends := map[string]struct{}{}

	for _, v := range c.GetBackends() {
		switch v {
		case backends.NameMMDB, backends.NameTable, backends.NameRemote:
		default:
			return fmt.Errorf("unknown backend %s", v)
		}

		if _, ok := seenBackends[v]; ok {
			return fmt.Errorf("backend %s is duplicated", v)
		}

		seenBackends[v] = struct{}{}
	}

	if c.Verify.Threshold < 0 || c.Verify.Threshold > 1 {
		return fmt.Errorf("verify threshold should be within [0, 1], got %v", c.Verify.Threshold)
	}

	return nil
}

// readConfig reads hjson config. An empty path means that only
// defaults and environment are used.
func readConfig(path string) (*config, error) {
	content := []byte("{}")

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read file: %w", err)
		}

		content = data
	}

	return parseConfig(content, os.LookupEnv)
}

func parseConfig(content []byte, lookupEnv func(string) (string, bool)) (*config, error) {
	conf := config{}
	rawMap := map[string]interface{}{}

	if err := hjson.Unmarshal(content, &rawMap); err != nil {
		return nil, fmt.Errorf("cannot parse json: %w", err)
	}

	rawBytes, _ := json.Marshal(rawMap)

	if err := json.Unmarshal(rawBytes, &conf); err != nil {
		return nil, fmt.Errorf("incorrect config: %w", err)
	}

	conf.applyEnv(lookupEnv)

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}
