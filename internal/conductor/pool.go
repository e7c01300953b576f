package conductor

import (
	"context"
	"sync"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/sony/gobreaker"
)

// WorkerPool holds N Sessions for one conductor (spec.md §4.2). Health is
// connected/total; dispatch is wrapped in a circuit breaker so a conductor
// that starts failing every call stops absorbing request latency budget.
type WorkerPool struct {
	conductorID string
	mu          sync.Mutex
	sessions    []*Session
	next        int
	breaker     *gobreaker.CircuitBreaker
}

// NewWorkerPool builds a pool and establishes n sessions against cfg. A
// session that fails to establish is skipped; the pool is still usable with
// fewer than n sessions (degraded, not dead).
func NewWorkerPool(ctx context.Context, cfg SessionConfig, n int) (*WorkerPool, error) {
	p := &WorkerPool{
		conductorID: cfg.ConductorID,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "conductor:" + cfg.ConductorID,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for i := 0; i < n; i++ {
		s, err := Establish(ctx, cfg)
		if err != nil {
			continue
		}
		p.sessions = append(p.sessions, s)
	}
	if len(p.sessions) == 0 {
		return p, apperr.Wrap(apperr.Unavailable, "POOL_EMPTY", "no sessions established for conductor", nil)
	}
	return p, nil
}

// WorkerCount returns the number of sessions the pool holds: those that
// established at construction. Sessions that failed to establish are not
// counted.
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// ConnectedCount returns how many sessions currently report connected.
func (p *WorkerPool) ConnectedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if s.Connected() {
			n++
		}
	}
	return n
}

// IsHealthy is true iff at least one session is connected (spec.md §4.2).
func (p *WorkerPool) IsHealthy() bool {
	return p.ConnectedCount() >= 1
}

// pick returns the next connected session in round-robin order.
func (p *WorkerPool) pick() (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.sessions)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if p.sessions[idx].Connected() {
			p.next = (idx + 1) % n
			return p.sessions[idx], true
		}
	}
	return nil, false
}

// CallZome dispatches through a connected session, behind the pool's
// circuit breaker.
func (p *WorkerPool) CallZome(ctx context.Context, dnaHash, agentPubKey, zomeName, fnName string, payload interface{}) ([]byte, error) {
	sess, ok := p.pick()
	if !ok {
		return nil, apperr.New(apperr.Unavailable, "no connected session for conductor")
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return sess.CallZome(ctx, dnaHash, agentPubKey, zomeName, fnName, payload)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, apperr.New(apperr.Unavailable, "conductor circuit breaker open")
		}
		return nil, err
	}
	return result.([]byte), nil
}

// Close shuts down every session in the pool.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		_ = s.Close()
	}
}
