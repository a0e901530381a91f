package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/uigen/internal/api"
	"github.com/gaspardpetit/uigen/internal/relay"
)

// Server is the assembled HTTP surface of the relay.
type Server struct {
	Handler http.Handler
	// Registry holds the relay collectors. When the metrics address differs
	// from the API port, the caller serves MetricsHandler on its own listener.
	Registry *prometheus.Registry
}

// New constructs the HTTP handler for the relay.
func New(rl *relay.Relay) (*Server, error) {
	d := rl.Deps()
	cfg := d.Config
	started := time.Now()

	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.Metrics.Register(preg)

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			ExposedHeaders: []string{"X-Generation-Id"},
			MaxAge:         300,
		}))
	}
	for _, m := range api.MiddlewareChain(d.Logger) {
		r.Use(m)
	}

	apiRouter, err := api.NewRouter(rl, started)
	if err != nil {
		return nil, err
	}
	r.Get("/healthz", api.HealthHandler(d.State))
	r.Mount("/api", apiRouter)

	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", MetricsHandler(preg))
	}
	return &Server{Handler: r, Registry: preg}, nil
}

// MetricsHandler exposes reg in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
