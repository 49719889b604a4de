package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/predict"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultAllowedOrigins accepts any origin and names the local frontend
// explicitly.
var DefaultAllowedOrigins = []string{"*", "http://localhost:3000"}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

// NewHTTPServer returns a new HTTP server
func NewHTTPServer(svc *predict.Service, opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewHandler(svc, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the router with its middleware.
func NewHandler(svc *predict.Service, opts Options) http.Handler {
	server := newHTTPServer(svc, opts.Metrics)

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", server.Predict).Methods(http.MethodPost)
	r.HandleFunc("/health", server.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	server.collectRoutes(r)

	// wrapped outside the router so 404 and 405 answers are covered too
	var h http.Handler = r
	h = server.recoverer(h)
	h = server.accessLog(h)
	h = server.requestID(h)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = DefaultAllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return c.Handler(h)
}

type httpServer struct {
	svc     *predict.Service
	metrics *metrics.Metrics
	log     zerolog.Logger
	routes  map[string]bool
}

func newHTTPServer(svc *predict.Service, m *metrics.Metrics) *httpServer {
	return &httpServer{
		svc:     svc,
		metrics: m,
		log:     log.With().Str("component", "http").Logger(),
		routes:  make(map[string]bool),
	}
}

// collectRoutes records the registered path templates, which bound the
// values of the route metric label.
func (h *httpServer) collectRoutes(r *mux.Router) {
	r.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if tpl, err := route.GetPathTemplate(); err == nil {
			h.routes[tpl] = true
		}
		return nil
	})
}
