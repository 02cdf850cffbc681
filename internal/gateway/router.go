package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// Router builds the full chi route tree: the authenticated Anthropic-style
// surface, the buffered /cc/v1 variant, and (when an admin key is
// configured) the admin JSON API and event stream.
func (g *Gateway) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", g.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(clientAuthMiddleware(g.Config))
		r.Use(bodyLimitMiddleware(config.MaxRequestBodySize))

		r.Post("/v1/messages", g.handleMessages)
		r.Post("/v1/messages/count_tokens", g.handleCountTokens)
		r.Get("/v1/models", g.handleModels)

		r.Post("/cc/v1/messages", g.handleBufferedMessages)
		r.Post("/cc/v1/messages/count_tokens", g.handleCountTokens)
	})

	if g.Config.AdminEnabled() {
		r.Get("/admin", g.handleAdminUI)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(adminAuthMiddleware(g.Config))

			r.Get("/credentials", g.handleListCredentials)
			r.Post("/credentials", g.handleAddCredential)
			r.Delete("/credentials/{id}", g.handleDeleteCredential)
			r.Post("/credentials/{id}/disable", g.handleSetDisabled(true))
			r.Post("/credentials/{id}/enable", g.handleSetDisabled(false))
			r.Post("/credentials/{id}/priority", g.handleSetPriority)
			r.Post("/credentials/{id}/reset-failures", g.handleResetFailures)
			r.Post("/credentials/import-token-json", g.handleImportTokenJSON)

			r.Get("/config/load-balancing", g.handleGetLoadBalancing)
			r.Post("/config/load-balancing", g.handleSetLoadBalancing)

			r.Get("/stats", g.handleStats)
			r.Post("/stats/reset", g.handleStatsReset)

			r.Get("/events", g.handleAdminEvents)
		})
	}

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleAdminUI serves a minimal placeholder page; a real admin dashboard
// is out of scope per spec.md §1's Non-goals, which exclude CRUD UI assets
// beyond the thin JSON API below.
func (g *Gateway) handleAdminUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!doctype html><html><head><title>kiro-gateway admin</title></head>` +
		`<body><p>Admin JSON API is mounted under <code>/api/admin</code>.</p></body></html>`))
}
