package conductor

import (
	"sync"

	"github.com/ethosengine/doorway/pkg/models"
)

// Registry is the thread-safe conductor/agent-assignment database: which
// conductors exist, their capacity, and which agent pubkey is provisioned on
// which one (spec.md §4.2/§4.3). Grounded on the teacher's catalog.Catalog
// mutex-guarded map registry.
type Registry struct {
	mu          sync.RWMutex
	conductors  map[string]*models.ConductorEntry // conductor_id -> entry
	assignments map[string]*models.AgentAssignment // base64(either encoding) -> assignment
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conductors:  make(map[string]*models.ConductorEntry),
		assignments: make(map[string]*models.AgentAssignment),
	}
}

// RegisterConductor adds or replaces a conductor entry.
func (r *Registry) RegisterConductor(entry *models.ConductorEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conductors[entry.ConductorID] = entry
}

// Conductor returns the entry for id, if known.
func (r *Registry) Conductor(id string) (*models.ConductorEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conductors[id]
	return c, ok
}

// AllConductors returns a snapshot of every registered conductor.
func (r *Registry) AllConductors() []*models.ConductorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ConductorEntry, 0, len(r.conductors))
	for _, c := range r.conductors {
		out = append(out, c)
	}
	return out
}

// LeastLoaded returns the conductor with available capacity and the lowest
// utilisation ratio, or false if none has capacity (spec.md §4.3 step 2).
func (r *Registry) LeastLoaded() (*models.ConductorEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.ConductorEntry
	var bestRatio float64
	for _, c := range r.conductors {
		if !c.HasCapacity() {
			continue
		}
		ratio := float64(c.CapacityUsed) / float64(c.CapacityMax)
		if best == nil || ratio < bestRatio {
			best, bestRatio = c, ratio
		}
	}
	return best, best != nil
}

// Lookup finds an existing assignment by either base64 encoding of the
// agent pubkey (spec.md §4.2 "sticky affinity").
func (r *Registry) Lookup(agentPubKeyEncoding string) (*models.AgentAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[agentPubKeyEncoding]
	return a, ok
}

// Bind registers an assignment under both base64 encodings (spec.md §4.3
// step 6) and bumps the owning conductor's used capacity.
func (r *Registry) Bind(a *models.AgentAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.AgentPubKeyURLSafe] = a
	r.assignments[a.AgentPubKeyStd] = a
	if c, ok := r.conductors[a.ConductorID]; ok {
		c.CapacityUsed++
	}
}

// Unbind removes an assignment under both encodings and frees capacity.
func (r *Registry) Unbind(a *models.AgentAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, a.AgentPubKeyURLSafe)
	delete(r.assignments, a.AgentPubKeyStd)
	if c, ok := r.conductors[a.ConductorID]; ok && c.CapacityUsed > 0 {
		c.CapacityUsed--
	}
}
