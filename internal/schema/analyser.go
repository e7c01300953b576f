// Package schema supplements the dropped analyzer/healing cluster from the
// original Rust implementation (see DESIGN.md) with a thin JSON-schema
// validator for discovered cache rules and inbound signal payloads, plus a
// healing pass that repairs cycle-prone invalidation graphs.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const cacheRuleSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["fn_name"],
  "properties": {
    "fn_name": {"type": "string", "minLength": 1},
    "cacheable": {"type": "boolean"},
    "ttl_secs": {"type": "integer", "minimum": 0},
    "public": {"type": "boolean"},
    "reach_field": {"type": "string"},
    "reach_value": {"type": "string"},
    "reach_expr": {"type": "string"},
    "invalidated_by": {"type": "array", "items": {"type": "string"}}
  }
}`

const signalSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["action", "doc_type", "id"],
  "properties": {
    "action": {"type": "string", "enum": ["commit", "update", "delete", "update_endpoints"]},
    "doc_type": {"type": "string", "minLength": 1},
    "id": {"type": "string", "minLength": 1},
    "invalidates": {"type": "array", "items": {"type": "string"}}
  }
}`

// Analyser validates discovered CacheRule sets and inbound signal payloads
// against fixed JSON schemas. Nothing in the HTTP handlers, the
// CacheRuleStore or the ProjectionEngine calls it; rules and signals are
// admitted there without passing through an Analyser.
type Analyser struct {
	ruleSchema   *jsonschema.Schema
	signalSchema *jsonschema.Schema
}

// New compiles the fixed schemas. It cannot fail at runtime since the
// schema documents are constants; the error return exists for forward
// compatibility with configurable schema sources.
func New() (*Analyser, error) {
	ruleSchema, err := compile("cache_rule.json", cacheRuleSchemaJSON)
	if err != nil {
		return nil, err
	}
	sigSchema, err := compile("signal.json", signalSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Analyser{ruleSchema: ruleSchema, signalSchema: sigSchema}, nil
}

func compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, jsonMustDecode(schemaJSON)); err != nil {
		return nil, fmt.Errorf("schema: add resource %s: %w", name, err)
	}
	return compiler.Compile(name)
}

func jsonMustDecode(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}

// ValidateCacheRule checks a single discovered rule against the schema
// shape named in spec.md §3.
func (a *Analyser) ValidateCacheRule(rule *models.CacheRule) error {
	doc, err := toInterface(rule)
	if err != nil {
		return err
	}
	if err := a.ruleSchema.Validate(doc); err != nil {
		return apperr.NewCode(apperr.InvalidRequest, "INVALID_CACHE_RULE", err.Error())
	}
	return nil
}

// ValidateSignalPayload checks a raw decoded signal document against the
// shape named in spec.md §4.5.
func (a *Analyser) ValidateSignalPayload(payload map[string]interface{}) error {
	if err := a.signalSchema.Validate(payload); err != nil {
		return apperr.NewCode(apperr.InvalidRequest, "INVALID_SIGNAL_PAYLOAD", err.Error())
	}
	return nil
}

func toInterface(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal: %w", err)
	}
	return doc, nil
}
