package geolib_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/9seconds/geocompare/geolib"
	"github.com/stretchr/testify/suite"
)

type ClientIPResolverTestSuite struct {
	suite.Suite

	resolver geolib.ClientIPResolver
	req      *http.Request
}

func (suite *ClientIPResolverTestSuite) SetupTest() {
	suite.resolver = geolib.ClientIPResolver{}
	suite.req = httptest.NewRequest(http.MethodGet, "/api/geoip", nil)
}

func (suite *ClientIPResolverTestSuite) TestForwardedFirstToken() {
	suite.req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	suite.req.Header.Set("X-Real-IP", "198.51.100.7")

	suite.Equal("203.0.113.5", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestRealIP() {
	suite.req.Header.Set("X-Real-IP", "198.51.100.7")
	suite.req.Header.Set("CF-Connecting-IP", "1.1.1.1")

	suite.Equal("198.51.100.7", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestSkipUnknown() {
	suite.req.Header.Set("X-Forwarded-For", "unknown")
	suite.req.Header.Set("X-Real-IP", "NULL")
	suite.req.Header.Set("CF-Connecting-IP", "1.1.1.1")

	suite.Equal("1.1.1.1", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestClientIPHeader() {
	suite.req.Header.Set("X-Client-IP", "9.9.9.9")

	suite.Equal("9.9.9.9", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestFallback() {
	suite.Equal(geolib.DefaultFallbackClientIP, suite.resolver.ClientIP(suite.req))

	suite.resolver.Fallback = "0.0.0.0"

	suite.Equal("0.0.0.0", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestCustomParsers() {
	suite.resolver.Parsers = []geolib.IPParser{geolib.GetClientIP}
	suite.req.Header.Set("X-Forwarded-For", "8.8.4.4")
	suite.req.Header.Set("X-Client-IP", "9.9.9.9")

	suite.Equal("9.9.9.9", suite.resolver.ClientIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestTestableIPPrivate() {
	suite.Equal(geolib.DefaultTestIP, suite.resolver.TestableIP(suite.req))

	suite.req.Header.Set("X-Real-IP", "192.168.1.10")

	suite.Equal(geolib.DefaultTestIP, suite.resolver.TestableIP(suite.req))
}

func (suite *ClientIPResolverTestSuite) TestTestableIPPublic() {
	suite.req.Header.Set("X-Real-IP", "81.2.69.142")

	suite.Equal("81.2.69.142", suite.resolver.TestableIP(suite.req))
}

func TestClientIPResolver(t *testing.T) {
	suite.Run(t, &ClientIPResolverTestSuite{})
}
