package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/9seconds/geocompare/geolib"
	"github.com/oschwald/maxminddb-golang"
	"github.com/spf13/afero"
)

type mmdbReader interface {
	LookupNetwork(ip net.IP, result interface{}) (*net.IPNet, bool, error)
	Close() error
}

type mmdbOpener func(data []byte) (mmdbReader, error)

func openMaxmindDB(data []byte) (mmdbReader, error) {
	reader, err := maxminddb.FromBytes(data)
	if err != nil {
		return nil, err
	}

	return reader, nil
}

type mmdbNames struct {
	En string `maxminddb:"en"`
}

type mmdbCountry struct {
	IsoCode string    `maxminddb:"iso_code"`
	Names   mmdbNames `maxminddb:"names"`
}

type mmdbCityRecord struct {
	Country           mmdbCountry `maxminddb:"country"`
	RegisteredCountry mmdbCountry `maxminddb:"registered_country"`
	City              struct {
		Names mmdbNames `maxminddb:"names"`
	} `maxminddb:"city"`
	Subdivisions []struct {
		IsoCode string    `maxminddb:"iso_code"`
		Names   mmdbNames `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	Postal struct {
		Code string `maxminddb:"code"`
	} `maxminddb:"postal"`
	Location struct {
		AccuracyRadius *uint16  `maxminddb:"accuracy_radius"`
		Latitude       *float64 `maxminddb:"latitude"`
		Longitude      *float64 `maxminddb:"longitude"`
		TimeZone       string   `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	Traits struct {
		ISP          string `maxminddb:"isp"`
		Organization string `maxminddb:"organization"`
	} `maxminddb:"traits"`
}

type mmdbCountryRecord struct {
	Country           mmdbCountry `maxminddb:"country"`
	RegisteredCountry mmdbCountry `maxminddb:"registered_country"`
}

type mmdbOutcomeKind int

const (
	mmdbNotFound mmdbOutcomeKind = iota
	mmdbFound
	mmdbFailed
)

// mmdbOutcome is a result of a single query strategy. Record is set
// only if kind is mmdbFound, err only if kind is mmdbFailed.
type mmdbOutcome struct {
	kind   mmdbOutcomeKind
	record *geolib.Record
	err    error
}

type mmdbStrategy struct {
	name  string
	query func(mmdbReader, net.IP) mmdbOutcome
}

// Strategies are ordered from the most specific to the most generic
// one. The first strategy which has found something wins.
var mmdbStrategies = []mmdbStrategy{
	{name: "city", query: mmdbQueryCity},
	{name: "country", query: mmdbQueryCountry},
	{name: "raw", query: mmdbQueryRaw},
}

// MMDBOpts is a set of options for MMDB backend. An empty path means
// that backend is disabled. If Fs is not set, OS filesystem is used.
type MMDBOpts struct {
	Path string
	Fs   afero.Fs
}

// MMDB resolves addresses with a local MaxMind DB file. The file is
// read on first lookup and kept in memory. If it cannot be read, this
// error is sticky: backend returns it until Reset is called.
type MMDB struct {
	path    string
	fs      afero.Fs
	open    mmdbOpener
	rwmutex sync.RWMutex
	reader  mmdbReader
	openErr error
	closed  bool
}

func (m *MMDB) Name() string {
	return NameMMDB
}

func (m *MMDB) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	if m.path == "" {
		return nil, geolib.ErrNotConfigured
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %v", geolib.ErrInvalidAddress, ip)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := m.ensureOpened(); err != nil {
		return nil, err
	}

	m.rwmutex.RLock()
	defer m.rwmutex.RUnlock()

	if m.reader == nil {
		return nil, errors.New("database was closed")
	}

	for _, strategy := range mmdbStrategies {
		outcome := strategy.query(m.reader, ip4)

		if outcome.kind == mmdbFound {
			outcome.record.IP = ip4.String()
			outcome.record.Normalize()

			return outcome.record, nil
		}
	}

	return nil, nil
}

// ensureOpened opens a database only once even if there are many
// concurrent first callers.
func (m *MMDB) ensureOpened() error {
	m.rwmutex.RLock()
	reader, openErr, closed := m.reader, m.openErr, m.closed
	m.rwmutex.RUnlock()

	switch {
	case closed:
		return errors.New("database was closed")
	case openErr != nil:
		return openErr
	case reader != nil:
		return nil
	}

	m.rwmutex.Lock()
	defer m.rwmutex.Unlock()

	if m.closed {
		return errors.New("database was closed")
	}

	if m.reader != nil || m.openErr != nil {
		return m.openErr
	}

	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		m.openErr = fmt.Errorf("%w: cannot read %s: %w", geolib.ErrCorruptSource, m.path, err)

		return m.openErr
	}

	reader, err = m.open(data)
	if err != nil {
		m.openErr = fmt.Errorf("%w: cannot decode %s: %w", geolib.ErrCorruptSource, m.path, err)

		return m.openErr
	}

	m.reader = reader

	return nil
}

// Reset drops an opened database and a sticky error. Next lookup reads
// the file again. This is useful when a file was replaced.
func (m *MMDB) Reset() error {
	m.rwmutex.Lock()
	defer m.rwmutex.Unlock()

	return m.reset()
}

func (m *MMDB) Close() error {
	m.rwmutex.Lock()
	defer m.rwmutex.Unlock()

	m.closed = true

	return m.reset()
}

func (m *MMDB) reset() error {
	m.openErr = nil

	if m.reader == nil {
		return nil
	}

	err := m.reader.Close()
	m.reader = nil

	if err != nil {
		return fmt.Errorf("cannot close a reader: %w", err)
	}

	return nil
}

func mmdbQueryCity(reader mmdbReader, ip net.IP) mmdbOutcome {
	raw := mmdbCityRecord{}

	if _, ok, err := reader.LookupNetwork(ip, &raw); err != nil {
		return mmdbOutcome{kind: mmdbFailed, err: err}
	} else if !ok {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	country := raw.Country
	if country.IsoCode == "" {
		country = raw.RegisteredCountry
	}

	record := &geolib.Record{
		Country:      geolib.NullString(country.Names.En),
		CountryCode:  geolib.NullString(country.IsoCode),
		City:         geolib.NullString(raw.City.Names.En),
		PostalCode:   geolib.NullString(raw.Postal.Code),
		Latitude:     raw.Location.Latitude,
		Longitude:    raw.Location.Longitude,
		Timezone:     geolib.NullString(raw.Location.TimeZone),
		ISP:          geolib.NullString(raw.Traits.ISP),
		Organization: geolib.NullString(raw.Traits.Organization),
		Accuracy:     raw.Location.AccuracyRadius,
	}

	if len(raw.Subdivisions) > 0 {
		record.Region = geolib.NullString(raw.Subdivisions[0].Names.En)
		record.RegionCode = geolib.NullString(raw.Subdivisions[0].IsoCode)
	}

	if record.Empty() {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	return mmdbOutcome{kind: mmdbFound, record: record}
}

func mmdbQueryCountry(reader mmdbReader, ip net.IP) mmdbOutcome {
	raw := mmdbCountryRecord{}

	if _, ok, err := reader.LookupNetwork(ip, &raw); err != nil {
		return mmdbOutcome{kind: mmdbFailed, err: err}
	} else if !ok {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	country := raw.Country
	if country.IsoCode == "" {
		country = raw.RegisteredCountry
	}

	record := &geolib.Record{
		Country:     geolib.NullString(country.Names.En),
		CountryCode: geolib.NullString(country.IsoCode),
	}

	if record.Empty() {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	return mmdbOutcome{kind: mmdbFound, record: record}
}

// mmdbQueryRaw decodes a generic map. It supports both nested
// GeoIP2-like layout and flat layouts of other vendors like
// country_code/city_name keys.
func mmdbQueryRaw(reader mmdbReader, ip net.IP) mmdbOutcome {
	raw := map[string]interface{}{}

	if _, ok, err := reader.LookupNetwork(ip, &raw); err != nil {
		return mmdbOutcome{kind: mmdbFailed, err: err}
	} else if !ok {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	record := &geolib.Record{
		Country: geolib.NullString(mmdbFirstString(raw,
			"country.names.en", "country_name", "country_long")),
		CountryCode: geolib.NullString(mmdbFirstString(raw,
			"country.iso_code", "country_code", "country_short", "country")),
		Region: geolib.NullString(mmdbFirstString(raw,
			"subdivisions.names.en", "region_name", "region", "state")),
		City: geolib.NullString(mmdbFirstString(raw,
			"city.names.en", "city_name", "city")),
		PostalCode: geolib.NullString(mmdbFirstString(raw,
			"postal.code", "zip_code", "postal_code")),
		Timezone: geolib.NullString(mmdbFirstString(raw,
			"location.time_zone", "time_zone", "timezone")),
	}

	lat, latOk := mmdbFirstFloat(raw, "location.latitude", "latitude")
	lon, lonOk := mmdbFirstFloat(raw, "location.longitude", "longitude")

	if latOk && lonOk {
		record.Latitude = geolib.NullFloat64(lat)
		record.Longitude = geolib.NullFloat64(lon)
	}

	if record.Empty() {
		return mmdbOutcome{kind: mmdbNotFound}
	}

	return mmdbOutcome{kind: mmdbFound, record: record}
}

// mmdbPath walks a dotted path. Arrays are entered with their first
// element.
func mmdbPath(raw map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = raw

	for _, chunk := range strings.Split(path, ".") {
		if arr, ok := current.([]interface{}); ok {
			if len(arr) == 0 {
				return nil, false
			}

			current = arr[0]
		}

		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}

		if current, ok = node[chunk]; !ok {
			return nil, false
		}
	}

	return current, true
}

func mmdbFirstString(raw map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if value, ok := mmdbPath(raw, path); ok {
			if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
				return str
			}
		}
	}

	return ""
}

func mmdbFirstFloat(raw map[string]interface{}, paths ...string) (float64, bool) {
	for _, path := range paths {
		value, ok := mmdbPath(raw, path)
		if !ok {
			continue
		}

		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
	}

	return 0, false
}

func NewMMDB(opts MMDBOpts) *MMDB {
	rv := &MMDB{
		path: strings.TrimSpace(opts.Path),
		fs:   opts.Fs,
		open: openMaxmindDB,
	}

	if rv.fs == nil {
		rv.fs = afero.NewOsFs()
	}

	return rv
}
