package geolib_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/9seconds/geocompare/geolib"
	"github.com/stretchr/testify/suite"
)

type HTTPClientTestSuite struct {
	suite.Suite

	endpoint *httptest.Server
	c        geolib.HTTPClient
}

func (suite *HTTPClientTestSuite) SetupSuite() {
	mux := http.NewServeMux()

	mux.HandleFunc("/get", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(req.Header.Get("User-Agent"))) // nolint: errcheck
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, req *http.Request) {
		code, _ := strconv.Atoi(req.URL.Path[len("/status/"):])

		w.WriteHeader(code)
	})

	suite.endpoint = httptest.NewServer(mux)
}

func (suite *HTTPClientTestSuite) TearDownSuite() {
	suite.endpoint.Close()
}

func (suite *HTTPClientTestSuite) SetupTest() {
	suite.c = geolib.NewHTTPClient(suite.endpoint.Client(),
		"test",
		100*time.Millisecond,
		1,
		2,
		time.Minute,
		time.Minute)
}

func (suite *HTTPClientTestSuite) TestRateLimiter() {
	now := time.Now()
	wg := &sync.WaitGroup{}
	mutex := &sync.Mutex{}

	wg.Add(10)

	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()

			req, _ := http.NewRequest(http.MethodGet, suite.endpoint.URL+"/get", nil)
			resp, err := suite.c.Do(req)

			mutex.Lock()
			defer mutex.Unlock()

			suite.NoError(err)
			suite.Equal(http.StatusOK, resp.StatusCode)
			resp.Body.Close()
		}()
	}

	wg.Wait()

	suite.True(time.Since(now) > 700*time.Millisecond)
}

func (suite *HTTPClientTestSuite) TestNotFoundIsNotAnError() {
	req, _ := http.NewRequest(http.MethodGet, suite.endpoint.URL+"/status/404", nil)
	resp, err := suite.c.Do(req)

	suite.NoError(err)
	suite.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func (suite *HTTPClientTestSuite) TestServerErrorsOpenBreaker() {
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, suite.endpoint.URL+"/status/500", nil)
		resp, err := suite.c.Do(req)

		suite.NoError(err)
		suite.Equal(http.StatusInternalServerError, resp.StatusCode)
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, suite.endpoint.URL+"/get", nil)
	_, err := suite.c.Do(req)

	suite.True(errors.Is(err, geolib.ErrCircuitBreakerOpened))
}

func (suite *HTTPClientTestSuite) TestCannotDial() {
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/status/500", nil)
	_, err := suite.c.Do(req)

	suite.Error(err)
}

func (suite *HTTPClientTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())

	cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, suite.endpoint.URL+"/get", nil)
	_, err := suite.c.Do(req)

	suite.True(errors.Is(err, context.Canceled))
}

func TestHTTPClient(t *testing.T) {
	suite.Run(t, &HTTPClientTestSuite{})
}
