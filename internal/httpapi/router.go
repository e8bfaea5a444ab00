// Package httpapi implements the Ingress/result-check HTTP surface
// (spec.md §6), the `cmd/server` entrypoint's router.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bkyoung/review-orchestrator/internal/dispatcher"
	"github.com/bkyoung/review-orchestrator/internal/domain"
	"github.com/bkyoung/review-orchestrator/internal/port"
)

// Handler wires the HTTP surface to the orchestrator's stores and the
// Dispatcher. Every handler returns before its Dispatch call completes
// (spec.md §5: "Ingress returns success before any downstream completes").
type Handler struct {
	SCMs         map[domain.Source]port.SourceControl
	Dispatchers  map[domain.Source]*dispatcher.Dispatcher
	Requests     port.RequestStore
	Tasks        port.TaskStore
	Blobs        port.BlobStore
	Logger       port.Logger
	DefaultMode  string
	DefaultModel string
}

// NewRouter builds the chi router serving POST /webhook, GET /result,
// and POST /webtool, with permissive CORS on the result-check endpoint.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhook", h.handleWebhook)
	r.Post("/webtool", h.handleWebTool)

	r.With(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})).Get("/result", h.handleResult)

	return r
}
