// Package handlers implements Doorway's HTTP handlers: the cache-rule-driven
// REST read layer (spec.md §4.6), content-addressed blob serving (§4.7-4.8),
// replication and node-bootstrap admin endpoints, and the health/ready/
// status/version surface (§6).
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apimw "github.com/ethosengine/doorway/internal/api/middleware"
	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/internal/blob"
	"github.com/ethosengine/doorway/internal/cache"
	"github.com/ethosengine/doorway/internal/conductor"
	"github.com/ethosengine/doorway/internal/config"
	"github.com/ethosengine/doorway/internal/orchestrator"
	"github.com/ethosengine/doorway/internal/projection"
	"github.com/ethosengine/doorway/internal/replication"
	"github.com/ethosengine/doorway/internal/telemetry"
	"github.com/ethosengine/doorway/pkg/contracts"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// validate runs struct-tag validation (spec.md §2b/§3/§6) on every inbound
// signal/admin payload before it reaches domain logic. A single instance is
// safe for concurrent use and caches its struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate JSON-decodes body into dst, then runs struct-tag
// validation over it. dst must be a pointer to a struct (or to a type whose
// validate tags are on a nested struct, e.g. a slice/map of struct pointers
// handled by the caller).
func decodeAndValidate(body interface{ Decode(interface{}) error }, dst interface{}) error {
	if err := body.Decode(dst); err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "INVALID_BODY", "malformed request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.InvalidRequest, "VALIDATION_FAILED", "request failed validation", err)
	}
	return nil
}

// Handlers holds all handler dependencies, constructed once in the
// composition root and threaded through the router (spec.md §9 "no global
// mutable state").
type Handlers struct {
	Config          *config.Config
	Engine          *projection.Engine
	Rules           *cache.RuleStore
	Access          *cache.AccessControl
	ByteCache       contracts.ByteCache
	BlobCache       *blob.Cache
	ShardResolver   *blob.Resolver
	ConductorRouter *conductor.Router
	Provisioner     *conductor.Provisioner
	Orchestrator    *orchestrator.Orchestrator
	Replication     *replication.Coordinator
	Metrics         *telemetry.Metrics

	StartedAt time.Time
}

// recordCache increments the hit/miss counter for source ("legacy" or
// "projection"); Metrics may be nil in tests.
func (h *Handlers) recordCache(source string, hit bool) {
	if h.Metrics == nil {
		return
	}
	if hit {
		h.Metrics.CacheHits.WithLabelValues(source).Inc()
	} else {
		h.Metrics.CacheMisses.WithLabelValues(source).Inc()
	}
}

// zomeQueryFns is the fixed set of zome→query function names the
// projection store is consulted with on a cache-layer miss against the
// byte cache (spec.md §4.6 step 5).
var zomeQueryFns = map[string]bool{
	"get_content":         true,
	"get_content_by_type": true,
	"get_all_paths":       true,
	"get_path_by_id":      true,
	"get_path_by_slug":    true,
	"get_relationships":   true,
}

// GetCachedContent implements GET /api/v1/{dna}/{zome}/{fn} (spec.md §4.6).
func (h *Handlers) GetCachedContent(w http.ResponseWriter, r *http.Request) {
	dna := chi.URLParam(r, "dna")
	zome := chi.URLParam(r, "zome")
	fn := chi.URLParam(r, "fn")
	if dna == "" || zome == "" || fn == "" {
		writeError(w, apperr.New(apperr.InvalidRequest, "malformed route"))
		return
	}

	query := r.URL.Query()
	devConductor := h.Config.DevMode && query.Get("_conductor") == "true"

	argsHash := cache.StableHashArgs(query)
	cacheKey := dna + ":" + zome + ":" + fn + ":" + argsHash

	rule, _ := h.Rules.Lookup(dna, fn)
	ttl := models.DefaultTTLSecs
	if rule != nil && rule.TTLSecs > 0 {
		ttl = rule.TTLSecs
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == weakETag(cacheKey) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	requester := apimw.RequesterContextFrom(r.Context())

	if data, ok, _ := h.ByteCache.Get(r.Context(), cacheKey); ok {
		h.recordCache("legacy", true)
		if !h.mayServe(rule, data, requester) {
			writeError(w, apperr.New(apperr.Forbidden, "requester is not permitted to view this content at its reach level"))
			return
		}
		w.Header().Set("ETag", weakETag(cacheKey))
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(ttl)+", stale-while-revalidate=60")
		w.Header().Set("X-Cache", "HIT")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}
	h.recordCache("legacy", false)

	if zomeQueryFns[fn] {
		body, ok := h.queryProjection(r, dna, zome, fn, query)
		h.recordCache("projection", ok)
		if ok {
			if !h.mayServe(rule, body, requester) {
				writeError(w, apperr.New(apperr.Forbidden, "requester is not permitted to view this content at its reach level"))
				return
			}
			_ = h.ByteCache.Set(r.Context(), cacheKey, body, ttl)
			w.Header().Set("ETag", weakETag(cacheKey))
			w.Header().Set("Cache-Control", "public, max-age=60")
			w.Header().Set("X-Source", "projection")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
			return
		}
	}

	if devConductor {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":      "not found in projection",
			"code":       "NOT_IN_PROJECTION",
			"_conductor": true,
		})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found in projection",
		"code":  "NOT_IN_PROJECTION",
	})
}

// queryProjection dispatches the small zome->query map named in spec.md
// §4.6 step 5 onto ProjectionEngine operations. docType is namespaced by
// dna+zome so documents from different DNAs never collide on storage key.
func (h *Handlers) queryProjection(r *http.Request, dna, zome, fn string, query map[string][]string) ([]byte, bool) {
	docType := dna + ":" + zome
	getValue := func(key string) string {
		if vs, ok := query[key]; ok && len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	switch fn {
	case "get_content", "get_relationships":
		id := getValue("id")
		if id == "" {
			return nil, false
		}
		doc, err := h.Engine.Get(r.Context(), docType, id)
		if err != nil {
			return nil, false
		}
		body, _ := json.Marshal(doc)
		return body, true
	default:
		limit := 100
		if l := getValue("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = n
			}
		}
		docs, err := h.Engine.Query(r.Context(), docType, limit)
		if err != nil || len(docs) == 0 {
			return nil, false
		}
		body, _ := json.Marshal(docs)
		return body, true
	}
}

// mayServe applies reach gating (spec.md §4.9) to a concrete cached response
// body before it leaves the process. rule's flat reach_field/reach_value (or
// optional CEL reach_expr) takes priority; absent that, it falls back to the
// raw reach/beneficiary fields on the body itself.
func (h *Handlers) mayServe(rule *models.CacheRule, body []byte, requester models.RequesterContext) bool {
	if h.Access == nil {
		return true
	}
	var fields map[string]interface{}
	_ = json.Unmarshal(body, &fields)

	if rule != nil && h.Access.PublicResponse(rule, fields) {
		return true
	}

	reach, _ := fields["reach"].(string)
	beneficiary, _ := fields["agent_id"].(string)
	if beneficiary == "" {
		beneficiary, _ = fields["author"].(string)
	}
	return cache.CanServeAtReach(models.Reach(reach), requester, beneficiary)
}

// GetBlob implements GET/HEAD /store/{addr} (spec.md §4.7-4.8).
func (h *Handlers) GetBlob(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "addr")
	addr, err := blob.ParseAddress(raw)
	if err != nil {
		writeError(w, apperr.NewCode(apperr.InvalidRequest, "INVALID_ADDRESS", err.Error()))
		return
	}
	hash := string(addr)

	entry, ok := h.BlobCache.Get(r.Context(), hash)
	if !ok && h.ShardResolver != nil {
		resolved, rerr := h.ShardResolver.Resolve(r.Context(), hash)
		if rerr == nil {
			entry, ok = resolved, true
		}
	}
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "blob not found"))
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")

	if blob.NotModified(entry, r.Header.Get("If-None-Match")) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	total := int64(len(entry.Bytes))
	w.Header().Set("ETag", entry.ETag)
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
		if r.Method != http.MethodHead {
			_, _ = w.Write(entry.Bytes)
		}
		return
	}

	br, err := blob.ParseRange(rangeHeader, total)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Range", br.ContentRange(total))
	w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		_, _ = w.Write(entry.Bytes[br.Start : br.End+1])
	}
}

// SetDnaRules implements the discovery-ingestion admin endpoint: it
// atomically replaces the forward+reverse rule maps for a DNA (spec.md §4.4
// set_dna_rules).
func (h *Handlers) SetDnaRules(w http.ResponseWriter, r *http.Request) {
	dna := chi.URLParam(r, "dna")
	var rules map[string]*models.CacheRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidRequest, "INVALID_BODY", "malformed cache rule set", err))
		return
	}
	for fnName, rule := range rules {
		if rule == nil {
			continue
		}
		if err := validate.Struct(rule); err != nil {
			writeError(w, apperr.Wrap(apperr.InvalidRequest, "VALIDATION_FAILED", "cache rule for "+fnName+" failed validation", err))
			return
		}
	}
	h.Rules.SetDnaRules(dna, rules)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReplicateContent implements the replication trigger endpoint (spec.md
// §4.10).
func (h *Handlers) ReplicateContent(w http.ResponseWriter, r *http.Request) {
	var req models.ReplicateContentRequest
	if err := decodeAndValidate(json.NewDecoder(r.Body), &req); err != nil {
		writeError(w, err)
		return
	}

	var progress []models.ReplicationProgress
	h.Replication.Replicate(r.Context(), &req, func(p models.ReplicationProgress) {
		progress = append(progress, p)
	})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"progress": progress})
}

// RecoverySummary implements a dashboard-facing recovery summary lookup for
// a failed node (spec.md §4.10).
func (h *Handlers) RecoverySummary(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	writeJSON(w, http.StatusOK, h.Replication.CalculateRecoverySummary(nodeID))
}

// NodeInventory implements the orchestrator's inventory webhook (spec.md
// §4.11).
func (h *Handlers) NodeInventory(w http.ResponseWriter, r *http.Request) {
	var msg models.InventoryMessage
	if err := decodeAndValidate(json.NewDecoder(r.Body), &msg); err != nil {
		writeError(w, err)
		return
	}
	h.Orchestrator.HandleInventoryMessage(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ProvisionAgent implements a manual agent-provisioning trigger, mostly
// useful for operator tooling and tests (spec.md §4.3).
func (h *Handlers) ProvisionAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserIdentifier string `json:"user_identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.Wrap(apperr.InvalidRequest, "INVALID_BODY", "malformed provision request", err))
		return
	}
	agent, err := h.Provisioner.Provision(r.Context(), body.UserIdentifier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ── Health / readiness / status / version ──────────────────────────────

// Health implements GET /health, /healthz (spec.md §6): liveness, always
// 200 if the process is alive.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "alive",
		"mode":     h.Config.Role,
		"dev_mode": h.Config.DevMode,
		"uptime_s": int(time.Since(h.StartedAt).Seconds()),
	})
}

// Ready implements GET /ready, /readyz (spec.md §6): readiness gates on
// role-specific backend health.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Config.DevMode {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	ready := false
	switch h.Config.Role {
	case config.RoleWriter:
		if h.ConductorRouter != nil {
			for _, c := range h.ConductorRouter.AllConductorIDs() {
				if pool, ok := h.ConductorRouter.Pool(c); ok && pool.IsHealthy() {
					ready = true
					break
				}
			}
		}
	case config.RoleReader:
		ready = h.Engine != nil
	}

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status implements GET /status (spec.md §6): structured diagnostics.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":    "doorway",
		"version":    h.Config.Version,
		"role":       h.Config.Role,
		"node_id":    h.Config.NodeID,
		"region":     h.Config.Region,
		"dev_mode":   h.Config.DevMode,
		"conductors": h.conductorSummary(),
	})
}

func (h *Handlers) conductorSummary() []map[string]interface{} {
	if h.ConductorRouter == nil {
		return nil
	}
	var out []map[string]interface{}
	for _, id := range h.ConductorRouter.AllConductorIDs() {
		pool, ok := h.ConductorRouter.Pool(id)
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"conductor_id": id,
			"connected":    pool.ConnectedCount(),
			"total":        pool.WorkerCount(),
			"healthy":      pool.IsHealthy(),
		})
	}
	return out
}

// Version implements GET /version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Config.Version})
}

// RequesterFromContext exposes apimw.RequesterContextFrom for handlers that
// need reach gating (kept as a thin re-export so handlers never import
// middleware types directly into response bodies).
func RequesterFromContext(r *http.Request) models.RequesterContext {
	return apimw.RequesterContextFrom(r.Context())
}

// ── helpers ──────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("handlers: failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message := apperr.StatusAndCode(err)
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func weakETag(key string) string {
	return `W/"` + key + `"`
}
