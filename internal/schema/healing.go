package schema

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// HealInvalidationGraph detects and removes cycles from a discovered
// invalidation graph (fn_name -> [fn_names it invalidates]). Cycle
// detection follows the same DFS-from-target-back-to-source rule named in
// spec.md §9 for hierarchical relationship graphs, generalized here from
// content relationships to invalidation edges: discovery is not under the
// core's control and can produce an inconsistent (cyclic) graph, where an
// invalidation loop would mean every cache write invalidates its own
// source forever. Rather than reject the edge at creation time (as spec.md
// §9 does for hierarchical content edges), healing is a separate pass over
// an already-discovered graph that drops the one edge that closes each
// detected cycle. Nothing in the core calls it; RuleStore.SetDnaRules stores
// rules without healing them.
//
// The input map is not mutated; a healed copy is returned along with the
// edges that were dropped, in a deterministic order for reproducible logs.
func HealInvalidationGraph(invalidates map[string][]string) (healed map[string][]string, dropped []Edge) {
	healed = make(map[string][]string, len(invalidates))
	for fn, targets := range invalidates {
		cp := make([]string, len(targets))
		copy(cp, targets)
		healed[fn] = cp
	}

	for _, fn := range sortedKeys(healed) {
		targets := healed[fn]
		kept := targets[:0:0]
		for _, target := range targets {
			if pathExists(healed, target, fn) {
				dropped = append(dropped, Edge{From: fn, To: target})
				log.Warn().Str("from", fn).Str("to", target).Msg("schema: dropping invalidation edge that would close a cycle")
				continue
			}
			kept = append(kept, target)
		}
		healed[fn] = kept
	}
	return healed, dropped
}

// Edge is a single dropped invalidation edge, reported for diagnostics.
type Edge struct {
	From string
	To   string
}

// pathExists runs a DFS over outgoing edges in g, reporting whether a path
// from start to target exists. Used to ask "does target already reach
// back to from", i.e. would adding from->target close a cycle.
func pathExists(g map[string][]string, start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool)
	var visit func(node string) bool
	visit = func(node string) bool {
		if node == target {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range g[node] {
			if visit(next) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
