package cache

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethosengine/doorway/pkg/models"
	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"
)

// AccessControl implements reach gating and source prioritisation
// (spec.md §4.9).
type AccessControl struct {
	mu      sync.Mutex
	exprs   map[string]cel.Program // rule identity -> compiled reach_expr
}

// NewAccessControl builds an AccessControl with an empty CEL program cache.
func NewAccessControl() *AccessControl {
	return &AccessControl{exprs: make(map[string]cel.Program)}
}

// CanServeAtReach implements spec.md §4.9's exact branches.
func CanServeAtReach(reach models.Reach, requester models.RequesterContext, beneficiaryID string) bool {
	switch reach {
	case models.ReachPrivate:
		return requester.AgentID == beneficiaryID
	case models.ReachCommons:
		return true
	default:
		if !models.KnownReach(reach) {
			return false
		}
		return requester.Authenticated
	}
}

// PublicResponse reports whether rule makes a concrete response value
// public: public=true, OR reach_field resolves to reach_value, OR (if
// present) the optional CEL reach_expr evaluates truthy. The CEL path is an
// enrichment layered on top of the required flat lookup — it never replaces
// it (see DESIGN.md's Open Question resolution).
func (a *AccessControl) PublicResponse(rule *models.CacheRule, responseFields map[string]interface{}) bool {
	if rule.Public {
		return true
	}
	if rule.ReachField != "" {
		if v, ok := responseFields[rule.ReachField]; ok {
			if s, ok := v.(string); ok && s == rule.ReachValue {
				return true
			}
		}
	}
	if rule.ReachExpr != "" {
		if ok, evaluated := a.evalReachExpr(rule, responseFields); evaluated {
			return ok
		}
	}
	return false
}

func (a *AccessControl) evalReachExpr(rule *models.CacheRule, fields map[string]interface{}) (result bool, evaluated bool) {
	prg, err := a.compiledProgram(rule)
	if err != nil {
		log.Warn().Err(err).Str("fn_name", rule.FnName).Msg("reach_expr compile failed, falling back to flat reach_field")
		return false, false
	}

	out, _, err := prg.Eval(map[string]interface{}{"fields": fields})
	if err != nil {
		log.Warn().Err(err).Str("fn_name", rule.FnName).Msg("reach_expr evaluation failed")
		return false, false
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, false
	}
	return b, true
}

func (a *AccessControl) compiledProgram(rule *models.CacheRule) (cel.Program, error) {
	key := rule.FnName + "\x00" + rule.ReachExpr

	a.mu.Lock()
	defer a.mu.Unlock()
	if prg, ok := a.exprs[key]; ok {
		return prg, nil
	}

	env, err := cel.NewEnv(cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(rule.ReachExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	a.exprs[key] = prg
	return prg, nil
}

// EstimateDistanceKM parses two "lat,lng" strings and returns a flat-earth
// approximation: sqrt(Δlat²+Δlng²)*111 km. Missing or garbled input yields
// nil (spec.md §4.9).
func EstimateDistanceKM(a, b string) *float64 {
	la, lo, ok := parseLatLng(a)
	if !ok {
		return nil
	}
	lb, lob, ok := parseLatLng(b)
	if !ok {
		return nil
	}
	dLat := la - lb
	dLng := lo - lob
	km := math.Sqrt(dLat*dLat+dLng*dLng) * 111
	return &km
}

func parseLatLng(s string) (lat, lng float64, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// bandwidthBonus maps CustodianSource.Bandwidth to the score bonus named in
// spec.md §3.
func bandwidthBonus(b models.BandwidthClass) float64 {
	switch b {
	case models.BandwidthLow:
		return -5
	case models.BandwidthMedium:
		return 5
	case models.BandwidthHigh:
		return 10
	case models.BandwidthUltra:
		return 20
	default:
		return 0
	}
}

// sourceScore computes spec.md §3's priority score, clamped to [0,200].
func sourceScore(s *models.CustodianSource) float64 {
	score := float64(s.CachePriority)
	if s.DistanceKM != nil {
		score -= math.Min(*s.DistanceKM/100, 50)
	}
	score += bandwidthBonus(s.Bandwidth)
	if score < 0 {
		score = 0
	}
	if score > 200 {
		score = 200
	}
	return score
}

// PrioritizeSources computes distance_km for each source relative to
// requesterLocation, then sorts by score descending, stable on ties
// (spec.md §4.9).
func PrioritizeSources(sources []*models.CustodianSource, requesterLocation string) []*models.CustodianSource {
	for _, s := range sources {
		if requesterLocation != "" && s.Location != "" {
			s.DistanceKM = EstimateDistanceKM(requesterLocation, s.Location)
		}
	}

	out := make([]*models.CustodianSource, len(sources))
	copy(out, sources)
	sort.SliceStable(out, func(i, j int) bool {
		return sourceScore(out[i]) > sourceScore(out[j])
	})
	return out
}

// InvalidationPatternForReach builds "{dna}:{zome}:{fn}:*:{reach}"
// (spec.md §4.9).
func InvalidationPatternForReach(dna, zome, fn string, reach models.Reach) string {
	return fmt.Sprintf("%s:%s:%s:*:%s", dna, zome, fn, reach)
}
