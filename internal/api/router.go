package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/ethosengine/doorway/internal/api/handlers"
	"github.com/ethosengine/doorway/internal/api/middleware"
	"github.com/ethosengine/doorway/internal/config"
	"github.com/ethosengine/doorway/internal/signal"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires Doorway's HTTP surface: the cache-rule-driven REST read
// layer, content-addressed blob serving, admin/replication endpoints, the
// WebRTC signal relay, and the health/ready/status/version surface
// (spec.md §6).
func NewRouter(cfg *config.Config, h *handlers.Handlers, relay *signal.Relay, authMW *middleware.AuthMiddleware) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if authMW != nil {
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", "Range", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "ETag", "X-Cache", "X-Source", "Content-Range", "Accept-Ranges"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	// Health & info (spec.md §6) — always reachable, never auth-gated.
	r.Get("/health", h.Health)
	r.Get("/healthz", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/readyz", h.Ready)
	r.Get("/status", h.Status)
	r.Get("/version", h.Version)
	r.Handle("/metrics", promhttp.Handler())

	// Content-addressed blob store (spec.md §4.7-4.8).
	r.Route("/store/{addr}", func(r chi.Router) {
		r.Get("/", h.GetBlob)
		r.Head("/", h.GetBlob)
	})

	// Cache-rule-driven zome read layer (spec.md §4.6).
	r.Route("/api/v1/{dna}/{zome}/{fn}", func(r chi.Router) {
		r.Get("/", h.GetCachedContent)
	})

	// Admin / node-lifecycle endpoints (spec.md §4.2-4.5, §4.10-4.11).
	r.Route("/admin", func(r chi.Router) {
		r.Post("/dnas/{dna}/rules", h.SetDnaRules)
		r.Post("/replicate", h.ReplicateContent)
		r.Get("/nodes/{nodeID}/recovery-summary", h.RecoverySummary)
		r.Post("/nodes/inventory", h.NodeInventory)
		r.Post("/agents/provision", h.ProvisionAgent)
	})

	// WebRTC signal relay (spec.md §4.12) — pubkey-authenticated WS upgrade,
	// never routed through JSON body handlers so it stays off the byte cache.
	r.Get("/signal/{pubkey}", func(w http.ResponseWriter, req *http.Request) {
		relay.ServeHTTP(w, req, chi.URLParam(req, "pubkey"))
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("DOORWAY_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
