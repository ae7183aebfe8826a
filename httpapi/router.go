// Package httpapi exposes an orchestrator over HTTP for integrations that
// cannot link the Go module directly.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	memori "github.com/memorilabs/memori"
	mw "github.com/memorilabs/memori/httpapi/middleware"
	"github.com/memorilabs/memori/internal/buildconfig"
	"github.com/memorilabs/memori/internal/config"
)

// NewRouter builds the HTTP surface over one orchestrator.
func NewRouter(orc *memori.Orchestrator, logger *zap.Logger) *chi.Mux {
	h := &handler{orc: orc}

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(orc))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", h.RecordTurn)

		r.Route("/memories", func(r chi.Router) {
			r.Get("/search", h.Search)
			r.Delete("/", h.Clear)
		})

		r.Get("/stats", h.Stats)
		r.Post("/messages/augment", h.Augment)
	})

	return r
}

func healthHandler(orc *memori.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := orc.DatabaseInfo(r.Context())
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"dialect": info.Dialect,
			"version": buildconfig.Version(),
		})
	}
}
