package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apimw "github.com/ethosengine/doorway/internal/api/middleware"
	"github.com/ethosengine/doorway/internal/cache"
	"github.com/ethosengine/doorway/internal/config"
	"github.com/ethosengine/doorway/internal/projection"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	tier1 := projection.NewMemoryStore()
	engine := projection.NewEngine(tier1, nil, func(context.Context, string) error { return nil })
	return &Handlers{
		Config:    &config.Config{DevMode: true},
		Engine:    engine,
		Rules:     cache.NewRuleStore(),
		Access:    cache.NewAccessControl(),
		ByteCache: cache.NewByteStore(nil),
		StartedAt: time.Now(),
	}
}

func newTestRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/{dna}/{zome}/{fn}", h.GetCachedContent)
	return r
}

func TestGetCachedContent_ReachGating_DeniesPrivateToAnonymous(t *testing.T) {
	h := newTestHandlers(t)
	require.NoError(t, h.ByteCache.Set(context.Background(),
		"dna1:zome1:get_content:"+cache.StableHashArgs(nil), []byte(`{"reach":"private","agent_id":"agent-a"}`), 300))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dna1/zome1/get_content", nil)
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetCachedContent_ReachGating_AllowsCommonsToAnonymous(t *testing.T) {
	h := newTestHandlers(t)
	require.NoError(t, h.ByteCache.Set(context.Background(),
		"dna1:zome1:get_content:"+cache.StableHashArgs(nil), []byte(`{"reach":"commons","agent_id":"agent-a"}`), 300))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dna1/zome1/get_content", nil)
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestGetCachedContent_ReachGating_AllowsPrivateToOwningAgent(t *testing.T) {
	h := newTestHandlers(t)
	require.NoError(t, h.ByteCache.Set(context.Background(),
		"dna1:zome1:get_content:"+cache.StableHashArgs(nil), []byte(`{"reach":"private","agent_id":"agent-a"}`), 300))

	r := chi.NewRouter()
	r.Get("/api/v1/{dna}/{zome}/{fn}", func(w http.ResponseWriter, req *http.Request) {
		ctx := apimw.WithRequesterContext(req.Context(), models.RequesterContext{AgentID: "agent-a", Authenticated: true})
		h.GetCachedContent(w, req.WithContext(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dna1/zome1/get_content", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetCachedContent_ProjectionMissReturns404WithCode(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dna1/zome1/get_content?id=missing", nil)
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_IN_PROJECTION")
}
