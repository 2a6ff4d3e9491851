package geolib

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrInvalidAddress is returned when a string cannot be parsed as a
	// dotted-quad IPv4 address.
	ErrInvalidAddress = errors.New("invalid IPv4 address")

	// ErrNotConfigured is returned by backends which lack mandatory
	// configuration: a database path, a DSN or credentials. Comparator
	// reports such backends as disabled.
	ErrNotConfigured = errors.New("backend is not configured")

	// ErrCorruptSource is returned when a binary database is missing or
	// cannot be decoded.
	ErrCorruptSource = errors.New("source database is missing or corrupt")

	ErrComparatorShutdown = errors.New("comparator instance was shutdown")

	// ErrCircuitBreakerOpened is returned by HTTP client if circuit
	// breaker does not allow to pass a request to a target.
	ErrCircuitBreakerOpened = errors.New("circuit breaker is opened")

	// ErrCircuitBreakerIgnore marks failures which should not be counted
	// by circuit breaker.
	ErrCircuitBreakerIgnore = errors.New("this error should be ignored by circuit breaker")
)

type jsonHTTPError struct {
	Error struct {
		Message string `json:"message"`
		Context string `json:"context"`
	} `json:"error"`
}

type httpError struct {
	message    string
	err        error
	statusCode int
}

func (h *httpError) Message() string {
	if h == nil {
		return ""
	}

	return h.message
}

// Err returns a text of the underlying error. Server-side errors never
// expose it to the client.
func (h *httpError) Err() string {
	if h.StatusCode() >= http.StatusInternalServerError {
		return ""
	}

	if err := errors.Unwrap(h); err != nil {
		return err.Error()
	}

	return ""
}

func (h *httpError) StatusCode() int {
	if h != nil && h.statusCode != 0 {
		return h.statusCode
	}

	return http.StatusInternalServerError
}

func (h *httpError) Unwrap() error {
	if h == nil {
		return nil
	}

	return h.err
}

func (h *httpError) Error() string {
	switch {
	case h == nil:
		return ""
	case h.err != nil && h.message != "":
		return h.message + ": " + h.err.Error()
	case h.err != nil:
		return h.err.Error()
	}

	return h.message
}

func (h *httpError) MarshalJSON() ([]byte, error) {
	value := jsonHTTPError{}
	value.Error.Message = h.Message()
	value.Error.Context = h.Err()

	return json.Marshal(&value)
}
