package cache

import (
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleStore_SetAndLookupExplicitRule(t *testing.T) {
	s := NewRuleStore()
	s.SetDnaRules("dna1", map[string]*models.CacheRule{
		"get_thing": {FnName: "get_thing", Cacheable: true, TTLSecs: 120},
	})

	rule, ok := s.Lookup("dna1", "get_thing")
	require.True(t, ok)
	assert.Equal(t, 120, rule.TTLSecs)
}

func TestRuleStore_LookupFallsBackToConventionDefault(t *testing.T) {
	s := NewRuleStore()
	rule, ok := s.Lookup("unknown-dna", "list_items")
	require.True(t, ok)
	assert.Equal(t, models.DefaultTTLSecs, rule.TTLSecs)

	_, ok = s.Lookup("unknown-dna", "do_something")
	assert.False(t, ok)
}

func TestRuleStore_ReverseInvalidationMap(t *testing.T) {
	s := NewRuleStore()
	s.SetDnaRules("dna1", map[string]*models.CacheRule{
		"get_thing":    {FnName: "get_thing", InvalidatedBy: []string{"update_thing", "delete_thing"}},
		"list_things":  {FnName: "list_things", InvalidatedBy: []string{"update_thing"}},
	})

	assert.ElementsMatch(t, []string{"get_thing", "list_things"}, s.InvalidatesFor("dna1", "update_thing"))
	assert.ElementsMatch(t, []string{"get_thing"}, s.InvalidatesFor("dna1", "delete_thing"))
	assert.Empty(t, s.InvalidatesFor("dna1", "unrelated_fn"))
}

func TestRuleStore_MarkDiscoveredIsIdempotent(t *testing.T) {
	s := NewRuleStore()
	assert.False(t, s.IsDiscovered("dna1"))

	s.MarkDiscovered("dna1")
	assert.True(t, s.IsDiscovered("dna1"))

	_, ok := s.Lookup("dna1", "some_custom_fn")
	assert.False(t, ok)
}
