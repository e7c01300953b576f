package cache

import (
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanServeAtReach(t *testing.T) {
	self := models.RequesterContext{AgentID: "agent-a", Authenticated: false}
	other := models.RequesterContext{AgentID: "agent-b", Authenticated: true}

	assert.True(t, CanServeAtReach(models.ReachPrivate, self, "agent-a"))
	assert.False(t, CanServeAtReach(models.ReachPrivate, other, "agent-a"))
	assert.True(t, CanServeAtReach(models.ReachCommons, self, "agent-a"))
	assert.True(t, CanServeAtReach(models.ReachLocal, other, "agent-a"))
	assert.False(t, CanServeAtReach(models.ReachLocal, self, "agent-a"))
	assert.False(t, CanServeAtReach(models.Reach("nonsense"), other, "agent-a"))
}

func TestPublicResponse_FlatReachField(t *testing.T) {
	ac := NewAccessControl()
	rule := &models.CacheRule{FnName: "get_thing", ReachField: "visibility", ReachValue: "commons"}

	assert.True(t, ac.PublicResponse(rule, map[string]interface{}{"visibility": "commons"}))
	assert.False(t, ac.PublicResponse(rule, map[string]interface{}{"visibility": "private"}))
}

func TestPublicResponse_PublicFlagShortCircuits(t *testing.T) {
	ac := NewAccessControl()
	rule := &models.CacheRule{FnName: "list_things", Public: true}
	assert.True(t, ac.PublicResponse(rule, nil))
}

func TestPublicResponse_CELEnrichment(t *testing.T) {
	ac := NewAccessControl()
	rule := &models.CacheRule{FnName: "get_thing", ReachExpr: `fields.visibility == "commons" || fields.score > 10.0`}

	assert.True(t, ac.PublicResponse(rule, map[string]interface{}{"visibility": "private", "score": 20.0}))
	assert.False(t, ac.PublicResponse(rule, map[string]interface{}{"visibility": "private", "score": 1.0}))
}

func TestEstimateDistanceKM(t *testing.T) {
	d := EstimateDistanceKM("0,0", "1,0")
	require.NotNil(t, d)
	assert.InDelta(t, 111.0, *d, 0.5)

	assert.Nil(t, EstimateDistanceKM("garbled", "1,0"))
	assert.Nil(t, EstimateDistanceKM("", ""))
}

func TestPrioritizeSources_SortsByScoreDescendingStable(t *testing.T) {
	near := &models.CustodianSource{AgentID: "near", CachePriority: 50, Bandwidth: models.BandwidthHigh, Location: "0,0"}
	far := &models.CustodianSource{AgentID: "far", CachePriority: 50, Bandwidth: models.BandwidthLow, Location: "10,10"}
	tieA := &models.CustodianSource{AgentID: "tieA", CachePriority: 30, Bandwidth: models.BandwidthMedium}
	tieB := &models.CustodianSource{AgentID: "tieB", CachePriority: 30, Bandwidth: models.BandwidthMedium}

	out := PrioritizeSources([]*models.CustodianSource{far, near, tieA, tieB}, "0,0")

	require.Len(t, out, 4)
	assert.Equal(t, "near", out[0].AgentID)
	// tieA/tieB share a score and must keep their relative input order.
	tieIdxA, tieIdxB := -1, -1
	for i, s := range out {
		if s.AgentID == "tieA" {
			tieIdxA = i
		}
		if s.AgentID == "tieB" {
			tieIdxB = i
		}
	}
	assert.Less(t, tieIdxA, tieIdxB)
}

func TestInvalidationPatternForReach(t *testing.T) {
	pattern := InvalidationPatternForReach("dna1", "zome1", "get_thing", models.ReachLocal)
	assert.Equal(t, "dna1:zome1:get_thing:*:local", pattern)
}
