package schema

import (
	"testing"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyser_ValidateCacheRuleAcceptsValidRule(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	rule := &models.CacheRule{FnName: "get_profile", Cacheable: true, TTLSecs: 300}
	assert.NoError(t, a.ValidateCacheRule(rule))
}

func TestAnalyser_ValidateCacheRuleRejectsMissingFnName(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	rule := &models.CacheRule{TTLSecs: 300}
	err = a.ValidateCacheRule(rule)
	require.Error(t, err)
}

func TestAnalyser_ValidateSignalPayloadAcceptsKnownAction(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	payload := map[string]interface{}{
		"action":   "commit",
		"doc_type": "profile",
		"id":       "agent-1",
	}
	assert.NoError(t, a.ValidateSignalPayload(payload))
}

func TestAnalyser_ValidateSignalPayloadRejectsUnknownAction(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	payload := map[string]interface{}{
		"action":   "explode",
		"doc_type": "profile",
		"id":       "agent-1",
	}
	require.Error(t, a.ValidateSignalPayload(payload))
}

func TestAnalyser_ValidateSignalPayloadRejectsMissingID(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	payload := map[string]interface{}{
		"action":   "delete",
		"doc_type": "profile",
	}
	require.Error(t, a.ValidateSignalPayload(payload))
}
