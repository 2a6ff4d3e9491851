package backends

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/9seconds/geocompare/geolib"
)

const DefaultRemoteHost = "geoip.maxmind.com"

type remoteNames struct {
	En string `json:"en"`
}

type remoteCountry struct {
	IsoCode string      `json:"iso_code"`
	Names   remoteNames `json:"names"`
}

type remoteResponse struct {
	Country           remoteCountry `json:"country"`
	RegisteredCountry remoteCountry `json:"registered_country"`
	City              struct {
		Names remoteNames `json:"names"`
	} `json:"city"`
	Subdivisions []struct {
		IsoCode string      `json:"iso_code"`
		Names   remoteNames `json:"names"`
	} `json:"subdivisions"`
	Postal struct {
		Code string `json:"code"`
	} `json:"postal"`
	Location struct {
		AccuracyRadius *uint16  `json:"accuracy_radius"`
		Latitude       *float64 `json:"latitude"`
		Longitude      *float64 `json:"longitude"`
		TimeZone       string   `json:"time_zone"`
	} `json:"location"`
	Traits struct {
		ISP          string `json:"isp"`
		Organization string `json:"organization"`
	} `json:"traits"`
}

func (r *remoteResponse) Record() *geolib.Record {
	country := r.Country
	if country.IsoCode == "" {
		country = r.RegisteredCountry
	}

	rv := &geolib.Record{
		Country:      geolib.NullString(country.Names.En),
		CountryCode:  geolib.NullString(country.IsoCode),
		City:         geolib.NullString(r.City.Names.En),
		PostalCode:   geolib.NullString(r.Postal.Code),
		Latitude:     r.Location.Latitude,
		Longitude:    r.Location.Longitude,
		Timezone:     geolib.NullString(r.Location.TimeZone),
		ISP:          geolib.NullString(r.Traits.ISP),
		Organization: geolib.NullString(r.Traits.Organization),
		Accuracy:     r.Location.AccuracyRadius,
	}

	if len(r.Subdivisions) > 0 {
		rv.Region = geolib.NullString(r.Subdivisions[0].Names.En)
		rv.RegionCode = geolib.NullString(r.Subdivisions[0].IsoCode)
	}

	return rv
}

// RemoteOpts is a set of options for MaxMind GeoIP2 web service. Both
// AccountID and LicenseKey are required, otherwise backend is
// disabled. Host could be a hostname or a base URL with a scheme.
type RemoteOpts struct {
	AccountID  string
	LicenseKey string
	Host       string
	Client     geolib.HTTPClient
}

// Remote resolves addresses with GeoIP2 City web service.
type Remote struct {
	accountID  string
	licenseKey string
	baseURL    string
	client     geolib.HTTPClient
}

func (r *Remote) Name() string {
	return NameRemote
}

// Resolve returns nil for private addresses and for non-2xx responses:
// web service answers 404 for addresses it knows nothing about.
func (r *Remote) Resolve(ctx context.Context, ip net.IP) (*geolib.Record, error) {
	if r.accountID == "" || r.licenseKey == "" {
		return nil, geolib.ErrNotConfigured
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %v", geolib.ErrInvalidAddress, ip)
	}

	if geolib.IsPrivate(ip4) {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+ip4.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build a request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(r.accountID, r.licenseKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send a request: %w", err)
	}

	defer flushResponse(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, nil
	}

	jsonResponse := remoteResponse{}
	jsonDecoder := json.NewDecoder(bufio.NewReader(resp.Body))

	if err := jsonDecoder.Decode(&jsonResponse); err != nil {
		return nil, fmt.Errorf("cannot parse a response: %w", err)
	}

	record := jsonResponse.Record()
	if record.Empty() {
		return nil, nil
	}

	record.IP = ip4.String()
	record.Normalize()

	return record, nil
}

func NewRemote(opts RemoteOpts) *Remote {
	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	if host == "" {
		host = DefaultRemoteHost
	}

	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	return &Remote{
		accountID:  strings.TrimSpace(opts.AccountID),
		licenseKey: strings.TrimSpace(opts.LicenseKey),
		baseURL:    host + "/geoip/v2.1/city/",
		client:     opts.Client,
	}
}
