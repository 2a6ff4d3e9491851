package geolib

import (
	"net"
	"net/http"
	"strings"
)

const (
	// DefaultFallbackClientIP is returned if no header carries a usable
	// client address.
	DefaultFallbackClientIP = "127.0.0.1"

	// DefaultTestIP is a public address which replaces private client
	// addresses so local development still gets meaningful lookups.
	DefaultTestIP = "8.8.8.8"
)

// IPParser extracts a client address candidate from the request. Empty
// string means that parser has found nothing.
type IPParser func(*http.Request) string

// DefaultIPParsers is an order in which headers are consulted.
var DefaultIPParsers = []IPParser{
	GetForwardedIP,
	GetRealIP,
	GetCDNConnectingIP,
	GetClientIP,
}

// ClientIPResolver derives a client address from proxy headers.
type ClientIPResolver struct {
	Parsers  []IPParser
	Fallback string
	TestIP   string
}

// ClientIP returns the first usable value produced by parsers. It
// never fails: if nothing is found, fallback address is returned.
func (c ClientIPResolver) ClientIP(req *http.Request) string {
	parsers := c.Parsers
	if len(parsers) == 0 {
		parsers = DefaultIPParsers
	}

	for _, parse := range parsers {
		if value := parse(req); usableIPValue(value) {
			return value
		}
	}

	if c.Fallback != "" {
		return c.Fallback
	}

	return DefaultFallbackClientIP
}

// TestableIP is the same as ClientIP but replaces private and loopback
// addresses with a public test address.
func (c ClientIPResolver) TestableIP(req *http.Request) string {
	value := c.ClientIP(req)

	if ip := net.ParseIP(value); ip != nil && IsPrivate(ip) {
		if c.TestIP != "" {
			return c.TestIP
		}

		return DefaultTestIP
	}

	return value
}

// GetForwardedIP returns the first address of X-Forwarded-For chain.
// This is an address of the original client.
func GetForwardedIP(req *http.Request) string {
	header := req.Header.Get("X-Forwarded-For")
	first, _, _ := strings.Cut(header, ",")

	return strings.TrimSpace(first)
}

func GetRealIP(req *http.Request) string {
	return strings.TrimSpace(req.Header.Get("X-Real-IP"))
}

func GetCDNConnectingIP(req *http.Request) string {
	return strings.TrimSpace(req.Header.Get("CF-Connecting-IP"))
}

func GetClientIP(req *http.Request) string {
	return strings.TrimSpace(req.Header.Get("X-Client-IP"))
}

func usableIPValue(value string) bool {
	switch strings.ToLower(value) {
	case "", "unknown", "null":
		return false
	default:
		return true
	}
}
