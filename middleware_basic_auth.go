package main

import (
	"crypto/subtle"
	"net/http"
)

// basicAuthMiddleware protects the whole API except /metrics which is
// scraped without credentials.
type basicAuthMiddleware struct {
	handler  http.Handler
	user     []byte
	password []byte
}

func (b *basicAuthMiddleware) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == "/metrics" || req.Method == http.MethodOptions {
		b.handler.ServeHTTP(w, req)

		return
	}

	user, pass, _ := req.BasicAuth()

	userBytes := []byte(user)
	passBytes := []byte(pass)

	if subtle.ConstantTimeCompare(b.user, userBytes)+subtle.ConstantTimeCompare(b.password, passBytes) == 2 {
		b.handler.ServeHTTP(w, req)

		return
	}

	w.Header().Set("WWW-Authenticate", `Basic realm="geocompare"`)
	http.Error(w, "Authentication is required", http.StatusUnauthorized)
}

func newBasicAuthMiddleware(handler http.Handler, conf configBasicAuth) http.Handler {
	if !conf.Enabled() {
		return handler
	}

	return &basicAuthMiddleware{
		handler:  handler,
		user:     []byte(conf.User),
		password: []byte(conf.Password),
	}
}
