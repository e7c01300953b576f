// Package server is Doorway's composition root: it wires configuration,
// projection storage, caching, conductor routing, replication, the signal
// relay and HTTP handlers into a single ready-to-serve *Server, with no
// package-level mutable state (spec.md §9).
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethosengine/doorway/internal/api"
	"github.com/ethosengine/doorway/internal/api/handlers"
	"github.com/ethosengine/doorway/internal/api/middleware"
	"github.com/ethosengine/doorway/internal/auth"
	"github.com/ethosengine/doorway/internal/blob"
	"github.com/ethosengine/doorway/internal/cache"
	"github.com/ethosengine/doorway/internal/conductor"
	"github.com/ethosengine/doorway/internal/config"
	"github.com/ethosengine/doorway/internal/orchestrator"
	"github.com/ethosengine/doorway/internal/projection"
	"github.com/ethosengine/doorway/internal/replication"
	"github.com/ethosengine/doorway/internal/signal"
	"github.com/ethosengine/doorway/internal/telemetry"
	"github.com/ethosengine/doorway/pkg/contracts"
	modelspkg "github.com/ethosengine/doorway/pkg/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized Doorway process.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the resolved runtime configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// Engine is the projection dispatch loop. Exposed so main can feed it
	// conductor post-commit signals once a transport-level signal reader is
	// wired for a given conductor.
	Engine *projection.Engine

	// ConductorRouter multiplexes zome calls across conductor worker pools.
	ConductorRouter *conductor.Router

	// Orchestrator tracks node lifecycle state for the bootstrap flow.
	Orchestrator *orchestrator.Orchestrator

	// Replication coordinates content replication across nodes.
	Replication *replication.Coordinator

	// Issuer signs and verifies session tokens.
	Issuer *auth.Issuer

	// engineCancel stops the projection engine's dispatch loop.
	engineCancel context.CancelFunc

	// shutdownTelemetry flushes OpenTelemetry on graceful shutdown.
	shutdownTelemetry func(context.Context) error
}

// New loads configuration from the environment and builds a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds a Server from an explicit configuration, the
// primary entry point for tests and alternate deployments.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics := telemetry.NewMetrics()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		log.Info().Msg("redis-backed distributed caching enabled")
	} else {
		log.Info().Msg("no DOORWAY_REDIS_URL set, caching is local-only")
	}

	byteCache := cache.NewByteStore(rdb)
	blobCache := blob.NewCache(rdb)
	ruleStore := cache.NewRuleStore()
	accessControl := cache.NewAccessControl()

	var durable contracts.DurableStore
	if cfg.PgURL != "" {
		durable, err = projection.NewPgxStore(ctx, cfg.PgURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres projection store: %w", err)
		}
		log.Info().Msg("postgres tier-2 projection store attached")
	} else {
		log.Info().Msg("no DOORWAY_PG_URL set, projection runs tier-1-only")
	}

	tier1 := projection.NewMemoryStore()
	invalidate := func(ctx context.Context, pattern string) error {
		return byteCache.Invalidate(ctx, pattern)
	}
	engine := projection.NewEngine(tier1, durable, invalidate)

	registry := conductor.NewRegistry()
	router := conductor.NewRouter(registry)
	// config.envList splits DOORWAY_CONDUCTOR_URLS on every comma, so an
	// entry's ",app_ws_url" arrives as a separate part with no '='; rejoin
	// such a part to the entry before it.
	var conductorSpecs []string
	for _, part := range cfg.ConductorURLs {
		if !strings.Contains(part, "=") && len(conductorSpecs) > 0 {
			conductorSpecs[len(conductorSpecs)-1] += "," + part
			continue
		}
		conductorSpecs = append(conductorSpecs, part)
	}
	for _, spec := range conductorSpecs {
		id, sessCfg := parseConductorURL(spec)
		pool, perr := conductor.NewWorkerPool(ctx, sessCfg, 1)
		if perr != nil {
			log.Warn().Err(perr).Str("conductor_id", id).Msg("conductor worker pool degraded at startup")
		}
		router.AddPool(id, pool)
	}

	adminFor := func(conductorID string) (contracts.AdminClient, error) {
		for _, spec := range conductorSpecs {
			id, sessCfg := parseConductorURL(spec)
			if id == conductorID {
				return conductor.NewAdminClient(sessCfg.AdminURL, 30*time.Second), nil
			}
		}
		return nil, fmt.Errorf("no admin URL configured for conductor %q", conductorID)
	}
	provisioner := conductor.NewProvisioner(registry, adminFor, "")

	orch, err := orchestrator.New(orchestrator.Config{})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	replicationCoordinator := replication.NewCoordinator(orch, nil)
	replicationCoordinator.SetMetrics(metrics)

	manifestLookup := func(ctx context.Context, hash string) (*modelspkg.ShardManifest, bool) {
		doc, ok := engine.FindByBlobHash(ctx, hash)
		if !ok || len(doc.BlobEndpoints) == 0 {
			return nil, false
		}
		return &modelspkg.ShardManifest{
			BlobHash:   hash,
			ShardCount: 1,
			Shards: []modelspkg.Shard{
				{Index: 0, Location: modelspkg.ShardLocation{EndpointURL: doc.BlobEndpoints[0]}},
			},
		}, true
	}
	shardResolver := blob.NewResolver(blobCache, manifestLookup, blob.NewHTTPFetcher())

	if !cfg.DevMode && cfg.JWT.Secret != "" && len(cfg.JWT.Secret) < auth.MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d characters outside dev mode", auth.MinSecretLen)
	}
	issuer := auth.NewIssuer(cfg.JWT.Secret)

	relay := signal.NewRelay(cfg.Signal)

	h := &handlers.Handlers{
		Config:          cfg,
		Engine:          engine,
		Rules:           ruleStore,
		Access:          accessControl,
		ByteCache:       byteCache,
		BlobCache:       blobCache,
		ShardResolver:   shardResolver,
		ConductorRouter: router,
		Provisioner:     provisioner,
		Orchestrator:    orch,
		Replication:     replicationCoordinator,
		Metrics:         metrics,
		StartedAt:       time.Now(),
	}

	var authMW *middleware.AuthMiddleware
	if cfg.JWT.Secret != "" {
		authMW = middleware.NewAuthMiddleware(issuer, cfg.Role == config.RoleWriter && !cfg.DevMode)
	}

	handler := api.NewRouter(cfg, h, relay, authMW)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	go engine.Run(engineCtx)
	go reportPoolMetrics(engineCtx, router, metrics, 15*time.Second)

	return &Server{
		Handler:           handler,
		Config:            cfg,
		Port:              cfg.Port,
		Engine:            engine,
		ConductorRouter:   router,
		Orchestrator:      orch,
		Replication:       replicationCoordinator,
		Issuer:            issuer,
		engineCancel:      engineCancel,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// reportPoolMetrics periodically publishes worker pool gauges until ctx is
// canceled, mirroring the engine's own background-goroutine shutdown style.
func reportPoolMetrics(ctx context.Context, router *conductor.Router, metrics *telemetry.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			router.ReportMetrics(metrics)
		}
	}
}

// parseConductorURL splits a DOORWAY_CONDUCTOR_URLS entry of the form
// "conductor_id=admin_ws_url,app_ws_url" into a conductor id and a
// SessionConfig. A malformed entry yields an empty id, which surfaces as a
// "no admin URL configured" error downstream rather than a panic.
func parseConductorURL(spec string) (string, conductor.SessionConfig) {
	idAndURLs := strings.SplitN(spec, "=", 2)
	if len(idAndURLs) != 2 {
		return "", conductor.SessionConfig{}
	}
	id := idAndURLs[0]
	urls := strings.SplitN(idAndURLs[1], ",", 2)
	adminURL := urls[0]
	appURL := adminURL
	if len(urls) == 2 {
		appURL = urls[1]
	}
	return id, conductor.SessionConfig{
		ConductorID:     id,
		AdminURL:        adminURL,
		AppURL:          appURL,
		TokenExpirySecs: 3600,
		CallTimeout:     30 * time.Second,
	}
}

// Shutdown stops the projection engine's dispatch loop and flushes
// telemetry. Should be called on graceful shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Engine != nil {
		s.Engine.Shutdown()
	}
	if s.engineCancel != nil {
		s.engineCancel()
	}
	if s.shutdownTelemetry != nil {
		return s.shutdownTelemetry(ctx)
	}
	return nil
}
