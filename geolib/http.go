package geolib

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const DefaultHTTPRequestTimeout = 30 * time.Second

// HTTPHandlerOpts is a set of options for HTTP API.
type HTTPHandlerOpts struct {
	ClientIP       ClientIPResolver
	Metrics        *Metrics
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type httpHandler struct {
	comparator *Comparator
	clientIP   ClientIPResolver
}

type lookupResponse struct {
	IP        string    `json:"ip"`
	Location  *Record   `json:"location"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type compareResponse struct {
	ComparisonReport

	TargetMatches map[string]bool `json:"targetMatches,omitempty"`
}

func (h httpHandler) handleStats(w http.ResponseWriter, _ *http.Request) {
	respEnvelope := struct {
		Results []*UsageStats `json:"results"`
	}{
		Results: h.comparator.Stats(),
	}

	h.encodeJSON(w, respEnvelope)
}

// sendLookup writes a result of sequential lookup. No data is not an
// error: location is null then.
func (h httpHandler) sendLookup(w http.ResponseWriter, ip string, result BackendResult) {
	if result.Status == StatusError {
		h.sendError(w, nil, "Geolocation backends are unavailable", http.StatusServiceUnavailable)

		return
	}

	resp := lookupResponse{
		IP:        ip,
		Location:  result.Record,
		Timestamp: time.Now().UTC(),
	}

	if result.OK() {
		resp.Source = result.Backend
	}

	h.encodeJSON(w, resp)
}

func (h httpHandler) encodeJSON(w http.ResponseWriter, data interface{}) {
	encoder := json.NewEncoder(w)

	encoder.SetEscapeHTML(false)
	encoder.Encode(data) // nolint: errcheck
}

func (h httpHandler) sendError(w http.ResponseWriter, err error, message string, statusCode int) {
	e := &httpError{
		message:    message,
		statusCode: statusCode,
		err:        err,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode())
	h.encodeJSON(w, e)
}

// NewHTTPHandler returns HTTP API of the comparator.
//
// GET /api/geoip?ip=     - sequential lookup, first backend with data wins
// POST /api/geoip        - the same, IP is given in JSON body
// GET /api/geoip/compare - comparison of all backends
// POST /api/geoip/compare
// GET /api/stats         - usage stats of backends
// GET /metrics           - prometheus metrics
func NewHTTPHandler(comparator *Comparator, opts HTTPHandlerOpts) http.Handler {
	handler := httpHandler{
		comparator: comparator,
		clientIP:   opts.ClientIP,
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPRequestTimeout
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		r.Get("/geoip", handler.handleGetLookup)
		r.Post("/geoip", handler.handlePostLookup)
		r.Get("/geoip/compare", handler.handleGetCompare)
		r.Post("/geoip/compare", handler.handlePostCompare)
		r.Get("/stats", handler.handleStats)
	})

	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	return router
}
