package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealInvalidationGraph_NoCyclesUnchanged(t *testing.T) {
	g := map[string][]string{
		"create_post":   {"list_posts"},
		"update_post":   {"get_post", "list_posts"},
		"list_posts":    {},
	}
	healed, dropped := HealInvalidationGraph(g)
	assert.Empty(t, dropped)
	assert.ElementsMatch(t, []string{"list_posts"}, healed["create_post"])
	assert.ElementsMatch(t, []string{"get_post", "list_posts"}, healed["update_post"])
}

func TestHealInvalidationGraph_DropsEdgeClosingDirectCycle(t *testing.T) {
	g := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	healed, dropped := HealInvalidationGraph(g)
	require.Len(t, dropped, 1)

	// exactly one direction of the cycle must have been removed, not both
	totalEdges := len(healed["a"]) + len(healed["b"])
	assert.Equal(t, 1, totalEdges)
}

func TestHealInvalidationGraph_DropsEdgeClosingIndirectCycle(t *testing.T) {
	g := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	healed, dropped := HealInvalidationGraph(g)
	require.Len(t, dropped, 1)

	totalEdges := len(healed["a"]) + len(healed["b"]) + len(healed["c"])
	assert.Equal(t, 2, totalEdges)
}

func TestHealInvalidationGraph_DoesNotMutateInput(t *testing.T) {
	g := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	_, _ = HealInvalidationGraph(g)
	assert.Equal(t, []string{"b"}, g["a"])
	assert.Equal(t, []string{"a"}, g["b"])
}
