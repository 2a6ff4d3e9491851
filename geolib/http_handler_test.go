package geolib_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/9seconds/geocompare/geolib"
	"github.com/qri-io/jsonschema"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

var jsonSchemaLookup = func() *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	data := []byte(`{
        "type": "object",
        "required": [
            "ip",
            "location",
            "timestamp"
        ],
        "additionalProperties": false,
        "properties": {
            "ip": {
                "type": "string",
                "format": "ipv4"
            },
            "source": {
                "type": "string",
                "minLength": 1
            },
            "timestamp": {
                "type": "string",
                "format": "date-time"
            },
            "location": {
                "anyOf": [
                    {
                        "type": "null"
                    },
                    {
                        "type": "object",
                        "required": [
                            "ip",
                            "country",
                            "countryCode",
                            "city"
                        ]
                    }
                ]
            }
        }
    }`)

	if err := json.Unmarshal(data, schema); err != nil {
		panic(err)
	}

	return schema
}()

var jsonSchemaCompare = func() *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	data := []byte(`{
        "type": "object",
        "required": [
            "ip",
            "results",
            "fastestBackend",
            "maxTimeDifferenceMs",
            "consistent",
            "timestamp"
        ],
        "additionalProperties": false,
        "properties": {
            "ip": {
                "type": "string",
                "format": "ipv4"
            },
            "fastestBackend": {
                "type": "string",
                "minLength": 1
            },
            "maxTimeDifferenceMs": {
                "type": "integer",
                "minimum": 0
            },
            "consistent": {
                "type": "boolean"
            },
            "timestamp": {
                "type": "string",
                "format": "date-time"
            },
            "targetMatches": {
                "type": "object",
                "additionalProperties": {
                    "type": "boolean"
                }
            },
            "results": {
                "type": "array",
                "items": {
                    "type": "object",
                    "required": [
                        "backend",
                        "status",
                        "fetchTimeMs",
                        "location"
                    ],
                    "properties": {
                        "status": {
                            "type": "string",
                            "enum": ["success", "no_data", "error", "disabled"]
                        }
                    }
                }
            }
        }
    }`)

	if err := json.Unmarshal(data, schema); err != nil {
		panic(err)
	}

	return schema
}()

type HTTPHandlerTestSuite struct {
	suite.Suite

	mmdbMock  *BackendMock
	tableMock *BackendMock
	cmp       *geolib.Comparator
	h         http.Handler
	resp      *httptest.ResponseRecorder
}

func (suite *HTTPHandlerTestSuite) SetupTest() {
	suite.mmdbMock = &BackendMock{}
	suite.tableMock = &BackendMock{}

	suite.mmdbMock.On("Name").Return("mmdb").Maybe()
	suite.tableMock.On("Name").Return("table").Maybe()

	cmp, err := geolib.NewComparator(geolib.ComparatorOpts{
		Backends:       []geolib.Backend{suite.mmdbMock, suite.tableMock},
		WorkerPoolSize: 2,
	})
	if err != nil {
		panic(err)
	}

	suite.cmp = cmp
	suite.h = geolib.NewHTTPHandler(cmp, geolib.HTTPHandlerOpts{
		Metrics: geolib.NewMetrics(),
	})
	suite.resp = httptest.NewRecorder()
}

func (suite *HTTPHandlerTestSuite) TearDownTest() {
	suite.cmp.Shutdown()

	suite.mmdbMock.AssertExpectations(suite.T())
	suite.tableMock.AssertExpectations(suite.T())
}

func (suite *HTTPHandlerTestSuite) ValidateBody(schema *jsonschema.Schema) {
	errs, err := schema.ValidateBytes(context.Background(), suite.resp.Body.Bytes())

	suite.NoError(err)
	suite.Empty(errs)
}

func (suite *HTTPHandlerTestSuite) TestGetLookupFirstBackendWins() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "GB", "London"), nil).
		Once()

	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip?ip=81.2.69.142", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.Equal("application/json", suite.resp.Header().Get("Content-Type"))
	suite.ValidateBody(jsonSchemaLookup)
	suite.Contains(suite.resp.Body.String(), `"source":"mmdb"`)
	suite.Contains(suite.resp.Body.String(), `"city":"London"`)
	suite.Contains(suite.resp.Body.String(), `"country":"United Kingdom"`)
}

func (suite *HTTPHandlerTestSuite) TestGetLookupFallsThrough() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.On("Resolve", mock.Anything, ip).Return(nil, nil).Once()
	suite.tableMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "GB", "London"), nil).
		Once()

	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip?ip=81.2.69.142", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaLookup)
	suite.Contains(suite.resp.Body.String(), `"source":"table"`)
}

func (suite *HTTPHandlerTestSuite) TestGetLookupNoData() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.On("Resolve", mock.Anything, ip).Return(nil, nil).Once()
	suite.tableMock.On("Resolve", mock.Anything, ip).Return(nil, nil).Once()

	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip?ip=81.2.69.142", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaLookup)
	suite.Contains(suite.resp.Body.String(), `"location":null`)
	suite.NotContains(suite.resp.Body.String(), `"source"`)
}

func (suite *HTTPHandlerTestSuite) TestGetLookupClientAddress() {
	req := httptest.NewRequest("GET", "/api/geoip", nil)
	ip := net.ParseIP(geolib.DefaultTestIP).To4()

	req.Header.Set("X-Real-IP", "192.168.1.1")

	suite.mmdbMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "US", ""), nil).
		Once()

	suite.h.ServeHTTP(suite.resp, req)

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaLookup)
	suite.Contains(suite.resp.Body.String(), `"ip":"8.8.8.8"`)
}

func (suite *HTTPHandlerTestSuite) TestGetLookupInvalidAddress() {
	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip?ip=300.1.1.1", nil))

	suite.Equal(http.StatusBadRequest, suite.resp.Code)
	suite.Contains(suite.resp.Body.String(), "Invalid IP address")
	suite.Contains(suite.resp.Body.String(), "invalid IPv4 address")
}

func (suite *HTTPHandlerTestSuite) TestGetLookupBackendsFailed() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.On("Resolve", mock.Anything, ip).Return(nil, errors.New("secret")).Once()
	suite.tableMock.On("Resolve", mock.Anything, ip).Return(nil, errors.New("secret")).Once()

	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip?ip=81.2.69.142", nil))

	suite.Equal(http.StatusServiceUnavailable, suite.resp.Code)
	suite.Contains(suite.resp.Body.String(), "Geolocation backends are unavailable")
	suite.NotContains(suite.resp.Body.String(), "secret")
}

func (suite *HTTPHandlerTestSuite) TestGetCompare() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "GB", "London"), nil).
		Once()
	suite.tableMock.On("Resolve", mock.Anything, ip).Return(nil, geolib.ErrNotConfigured).Once()

	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/geoip/compare?ip=81.2.69.142", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaCompare)
	suite.Contains(suite.resp.Body.String(), `"fastestBackend":"mmdb"`)
	suite.Contains(suite.resp.Body.String(), `"status":"disabled"`)
	suite.NotContains(suite.resp.Body.String(), "targetMatches")
}

func (suite *HTTPHandlerTestSuite) TestPostLookup() {
	req := httptest.NewRequest("POST", "/api/geoip", strings.NewReader(`{"ip": "81.2.69.142"}`))
	ip := net.ParseIP("81.2.69.142").To4()

	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	suite.mmdbMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "GB", "London"), nil).
		Once()

	suite.h.ServeHTTP(suite.resp, req)

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaLookup)
	suite.Contains(suite.resp.Body.String(), `"ip":"81.2.69.142"`)
}

func (suite *HTTPHandlerTestSuite) TestPostUnsupportedMediaType() {
	req := httptest.NewRequest("POST", "/api/geoip", strings.NewReader(`{"ip": "81.2.69.142"}`))

	suite.h.ServeHTTP(suite.resp, req)

	suite.Equal(http.StatusUnsupportedMediaType, suite.resp.Code)
}

func (suite *HTTPHandlerTestSuite) TestPostBadRequest() {
	testData := []string{
		`{}`,
		`{"ip": 1}`,
		`{"ip": "81.2.69.142", "extra": true}`,
		`{"ip": "not an address"}`,
		`not a json`,
	}

	for _, v := range testData {
		value := v

		suite.T().Run(value, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/geoip", strings.NewReader(value))
			resp := httptest.NewRecorder()

			req.Header.Set("Content-Type", "application/json")

			suite.h.ServeHTTP(resp, req)

			suite.Equal(http.StatusBadRequest, resp.Code)
		})
	}
}

func (suite *HTTPHandlerTestSuite) TestPostCompareTargetLocation() {
	req := httptest.NewRequest("POST",
		"/api/geoip/compare",
		strings.NewReader(`{"ip": "81.2.69.142", "targetLocation": {"country": "United Kingdom", "city": "london"}}`))
	ip := net.ParseIP("81.2.69.142").To4()

	req.Header.Set("Content-Type", "application/json")

	suite.mmdbMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "GB", "London"), nil).
		Once()
	suite.tableMock.
		On("Resolve", mock.Anything, ip).
		Return(makeRecord("", "FR", "Paris"), nil).
		Once()

	suite.h.ServeHTTP(suite.resp, req)

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.ValidateBody(jsonSchemaCompare)

	resp := struct {
		Consistent    bool            `json:"consistent"`
		TargetMatches map[string]bool `json:"targetMatches"`
	}{}

	suite.NoError(json.Unmarshal(suite.resp.Body.Bytes(), &resp))
	suite.False(resp.Consistent)
	suite.Equal(map[string]bool{"mmdb": true, "table": false}, resp.TargetMatches)
}

func (suite *HTTPHandlerTestSuite) TestStats() {
	ip := net.ParseIP("81.2.69.142").To4()

	suite.mmdbMock.On("Resolve", mock.Anything, ip).Return(nil, nil).Once()
	suite.tableMock.On("Resolve", mock.Anything, ip).Return(nil, nil).Once()

	suite.cmp.Compare(context.Background(), ip)
	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/api/stats", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
	suite.Contains(suite.resp.Body.String(), `"name":"mmdb"`)
	suite.Contains(suite.resp.Body.String(), `"noDataCount":1`)
}

func (suite *HTTPHandlerTestSuite) TestMetrics() {
	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/metrics", nil))

	suite.Equal(http.StatusOK, suite.resp.Code)
}

func (suite *HTTPHandlerTestSuite) TestUnknownPath() {
	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("GET", "/lalala", nil))

	suite.Equal(http.StatusNotFound, suite.resp.Code)
}

func (suite *HTTPHandlerTestSuite) TestMethodNotAllowed() {
	suite.h.ServeHTTP(suite.resp, httptest.NewRequest("PATCH", "/api/geoip", nil))

	suite.Equal(http.StatusMethodNotAllowed, suite.resp.Code)
}

func TestHTTPHandler(t *testing.T) {
	suite.Run(t, &HTTPHandlerTestSuite{})
}
