// Package cache implements CacheRuleStore and AccessControl (spec.md
// §4.4, §4.9), adapted from the teacher's internal/catalog.Catalog
// refreshable-registry pattern.
package cache

import (
	"sync"

	"github.com/ethosengine/doorway/pkg/models"
)

// RuleStore is the thread-safe per-DNA CacheRule registry.
type RuleStore struct {
	mu   sync.RWMutex
	dnas map[string]*models.DnaRules // dna_hash -> rules
}

// NewRuleStore builds an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{dnas: make(map[string]*models.DnaRules)}
}

// SetDnaRules atomically replaces both the forward rule map and the derived
// reverse invalidation map for a DNA (spec.md §4.4).
func (s *RuleStore) SetDnaRules(dnaHash string, rules map[string]*models.CacheRule) {
	invalidates := make(map[string][]string)
	for fnName, rule := range rules {
		for _, invalidatedFn := range rule.InvalidatedBy {
			invalidates[invalidatedFn] = append(invalidates[invalidatedFn], fnName)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnas[dnaHash] = &models.DnaRules{
		DnaHash:     dnaHash,
		Rules:       rules,
		Invalidates: invalidates,
		Discovered:  true,
	}
}

// MarkDiscovered records that discovery ran and found no rules, so
// discovery is not retried on every request (spec.md §4.4).
func (s *RuleStore) MarkDiscovered(dnaHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.dnas[dnaHash]; ok {
		existing.Discovered = true
		return
	}
	s.dnas[dnaHash] = &models.DnaRules{
		DnaHash:     dnaHash,
		Rules:       make(map[string]*models.CacheRule),
		Invalidates: make(map[string][]string),
		Discovered:  true,
	}
}

// IsDiscovered reports whether discovery has already been attempted for dnaHash.
func (s *RuleStore) IsDiscovered(dnaHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dnas[dnaHash]
	return ok && d.Discovered
}

// Lookup resolves a CacheRule by lookup precedence: explicit rule, then the
// get_/list_ convention default, then none (spec.md §4.4).
func (s *RuleStore) Lookup(dnaHash, fnName string) (*models.CacheRule, bool) {
	s.mu.RLock()
	d, ok := s.dnas[dnaHash]
	s.mu.RUnlock()

	if ok {
		if rule, ok := d.Rules[fnName]; ok {
			return rule, true
		}
	}
	if def := models.DefaultRuleFor(fnName); def != nil {
		return def, true
	}
	return nil, false
}

// InvalidatesFor answers "which functions should be invalidated after this
// function was called", in O(1) (spec.md §4.4).
func (s *RuleStore) InvalidatesFor(dnaHash, fnName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dnas[dnaHash]
	if !ok {
		return nil
	}
	return d.Invalidates[fnName]
}
