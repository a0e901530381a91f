package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gaspardpetit/uigen/internal/relay"
)

// NewRouter builds the /api sub-router. It fails only if the embedded
// OpenAPI document is invalid.
func NewRouter(rl *relay.Relay, started time.Time) (chi.Router, error) {
	d := rl.Deps()
	doc, err := LoadOpenAPI(context.Background())
	if err != nil {
		return nil, err
	}
	openapiHandler, err := OpenAPIHandler(doc, d.Logger)
	if err != nil {
		return nil, err
	}
	sh := &StateHandler{State: d.State, Inflight: d.Inflight, Started: started, Log: d.Logger, Host: SystemHostStats}

	r := chi.NewRouter()
	r.Post("/generate", GenerateHandler(rl))
	r.Get("/generate/ws", GenerateWSHandler(rl))
	r.Post("/preview", PreviewHandler(d.Config.MaxCodeLength))
	r.Get("/examples", ExamplesHandler())
	r.Get("/state", sh.GetState)
	r.Get("/openapi.json", openapiHandler)
	r.Get("/docs", SwaggerHandler())
	return r, nil
}
