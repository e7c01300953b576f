package conductor

import (
	"context"
	"sync"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/internal/telemetry"
)

// Router multiplexes zome calls across per-conductor WorkerPools using the
// Registry's agent->conductor assignment (spec.md §4.2). It fails fast on an
// unhealthy conductor rather than silently rerouting an authenticated call
// to a different agent's conductor.
type Router struct {
	registry *Registry

	mu    sync.RWMutex
	pools map[string]*WorkerPool // conductor_id -> pool
}

// NewRouter builds a Router over the given registry.
func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		pools:    make(map[string]*WorkerPool),
	}
}

// AddPool registers a conductor's WorkerPool for routing.
func (r *Router) AddPool(conductorID string, pool *WorkerPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[conductorID] = pool
}

// Pool returns the pool for a conductor id, if registered.
func (r *Router) Pool(conductorID string) (*WorkerPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[conductorID]
	return p, ok
}

// AllConductorIDs returns every conductor id with a registered pool, used by
// the readiness probe and the status endpoint.
func (r *Router) AllConductorIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}

// ReportMetrics publishes connected/total worker pool gauges for every
// registered conductor. Intended to be called on a timer from the
// composition root.
func (r *Router) ReportMetrics(m *telemetry.Metrics) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, pool := range r.pools {
		m.WorkerPoolConnected.WithLabelValues(id).Set(float64(pool.ConnectedCount()))
		m.WorkerPoolTotal.WithLabelValues(id).Set(float64(pool.WorkerCount()))
	}
}

// RouteZomeCall looks up the agent's assigned conductor (sticky affinity)
// and dispatches through its pool, failing fast if the pool is unhealthy.
func (r *Router) RouteZomeCall(ctx context.Context, agentPubKeyEncoding, dnaHash, zomeName, fnName string, payload interface{}) ([]byte, error) {
	assignment, ok := r.registry.Lookup(agentPubKeyEncoding)
	if !ok {
		return nil, apperr.New(apperr.NotFound, "no conductor assignment for agent")
	}

	pool, ok := r.Pool(assignment.ConductorID)
	if !ok {
		return nil, apperr.New(apperr.Unavailable, "no worker pool for assigned conductor")
	}
	if !pool.IsHealthy() {
		return nil, apperr.New(apperr.Unavailable, "assigned conductor is unhealthy")
	}

	return pool.CallZome(ctx, dnaHash, agentPubKeyEncoding, zomeName, fnName, payload)
}
