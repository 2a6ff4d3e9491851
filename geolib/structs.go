package geolib

import (
	"math"
	"strings"
	"time"
)

// FastestBackendNone is reported as the fastest backend if no backend
// has returned data.
const FastestBackendNone = "N/A"

// Status is an outcome of a single backend lookup.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNoData   Status = "no_data"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// Record is a geolocation record. It is the same for every backend:
// binary database, relational table and remote API produce it, table
// stores it.
//
// Absent values are nil. Latitude and longitude are either both set or
// both nil.
type Record struct {
	IP           string   `json:"ip"`
	Country      *string  `json:"country"`
	CountryCode  *string  `json:"countryCode"`
	Region       *string  `json:"region"`
	RegionCode   *string  `json:"regionCode"`
	City         *string  `json:"city"`
	PostalCode   *string  `json:"postalCode"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Timezone     *string  `json:"timezone"`
	ISP          *string  `json:"isp"`
	Organization *string  `json:"organization"`
	Accuracy     *uint16  `json:"accuracy"`
}

// Empty reports if record carries no useful data: neither a country nor
// a city.
func (r *Record) Empty() bool {
	return r == nil || (isBlank(r.Country) && isBlank(r.CountryCode) && isBlank(r.City))
}

// Valid checks coordinate invariants: both or none of coordinates are
// set, and they are within their ranges.
func (r *Record) Valid() bool {
	if r == nil {
		return false
	}

	if (r.Latitude == nil) != (r.Longitude == nil) {
		return false
	}

	if r.Latitude != nil {
		lat, lon := *r.Latitude, *r.Longitude

		if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
			return false
		}
	}

	return true
}

// Normalize trims strings, converts blanks to nil, normalizes country
// code and fills a missing country name from it. Unpaired or
// out-of-range coordinates are dropped.
func (r *Record) Normalize() {
	for _, v := range []**string{
		&r.Country, &r.CountryCode, &r.Region, &r.RegionCode, &r.City,
		&r.PostalCode, &r.Timezone, &r.ISP, &r.Organization,
	} {
		if *v != nil {
			*v = NullString(**v)
		}
	}

	if r.CountryCode != nil {
		r.CountryCode = NullString(NormalizeAlpha2Code(*r.CountryCode))
	}

	if r.Country == nil && r.CountryCode != nil {
		r.Country = NullString(CountryName(*r.CountryCode))
	}

	if !r.Valid() {
		r.Latitude = nil
		r.Longitude = nil
	}
}

// BackendResult is an outcome of a single backend lookup within a
// comparison.
type BackendResult struct {
	Backend     string  `json:"backend"`
	Status      Status  `json:"status"`
	FetchTimeMs int64   `json:"fetchTimeMs"`
	Error       string  `json:"error,omitempty"`
	Record      *Record `json:"location"`
}

// OK reports if backend has returned data.
func (b BackendResult) OK() bool {
	return b.Status == StatusSuccess && b.Record != nil
}

// ComparisonReport is a result of asking every backend about the same
// IP address.
type ComparisonReport struct {
	IP                  string          `json:"ip"`
	Results             []BackendResult `json:"results"`
	FastestBackend      string          `json:"fastestBackend"`
	MaxTimeDifferenceMs int64           `json:"maxTimeDifferenceMs"`
	Consistent          bool            `json:"consistent"`
	Timestamp           time.Time       `json:"timestamp"`
}

// ImportSummary is a summary of a single import run.
type ImportSummary struct {
	RunID      string            `json:"runId"`
	Imported   uint64            `json:"imported"`
	Updated    uint64            `json:"updated"`
	Errors     uint64            `json:"errors"`
	Processed  uint64            `json:"processed"`
	UniqueSeen uint64            `json:"uniqueSeen"`
	NoData     uint64            `json:"noData"`
	Strategies map[string]uint64 `json:"strategies"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// NullString returns a pointer to the trimmed value or nil if value is
// blank.
func NullString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	return &value
}

func NullFloat64(value float64) *float64 {
	return &value
}

func NullUint16(value uint16) *uint16 {
	return &value
}

// StringValue dereferences a string pointer, nil becomes "".
func StringValue(value *string) string {
	if value == nil {
		return ""
	}

	return *value
}

func isBlank(value *string) bool {
	return value == nil || strings.TrimSpace(*value) == ""
}
