/*
Package factory validates and parses JSON policy payloads.

PURPOSE:
  Converts raw JSON policy payloads into typed engine structs, gated by
  compiled JSON Schemas. This is the boundary's contract: the engine
  assumes payloads it receives are well-formed, and this package is the
  only way they get that property. Ops teams author payloads in JSON
  without code changes; the schema rejects shape errors before any
  workflow runs.

WHY JSON SCHEMA?
  - One declarative contract per policy kind, shared with the admin UI
  - Range checks (overbooking 0-30, rush bucket 0-20) live next to the
    shape, not scattered through handler code
  - Semantic checks the schema cannot express (score ordering, margin
    floor below target) run after shape validation

SCHEMAS:
  hub_capacity_profile: lane capacities, QA staffing, seasonality,
                        overbooking and rush bucket percentages
  sla_margin:           per-lane SLA hours and margin targets
  risk_threshold:       declared-value cap and review/reject scores

USAGE:
  f := factory.NewPayloadFactory()

  if err := f.Validate(engine.KindHubCapacity, raw); err != nil {
      // 422 at the boundary
  }
  profile, err := f.ParseCapacityProfile(raw)

SEE ALSO:
  - engine/types.go: The typed payload structs
  - api/handlers.go: The only caller outside tests
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atelier/capacity-engine/engine"
)

// =============================================================================
// SCHEMAS - One per policy kind
// =============================================================================

const capacityProfileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["auth_capacity", "sewing_capacity", "qa_capacity", "qa_headcount", "qa_shift_minutes"],
	"properties": {
		"auth_capacity":    {"type": "integer", "minimum": 0},
		"sewing_capacity":  {"type": "integer", "minimum": 0},
		"qa_capacity":      {"type": "integer", "minimum": 0},
		"qa_headcount":     {"type": "integer", "minimum": 0},
		"qa_shift_minutes": {"type": "integer", "minimum": 0, "maximum": 1440},
		"seasonality_multiplier": {
			"type": "object",
			"propertyNames": {"pattern": "^([1-9]|1[0-2])$"},
			"additionalProperties": {"type": "number", "minimum": 0.1, "maximum": 5}
		},
		"overbooking_percent": {"type": "integer", "minimum": 0, "maximum": 30},
		"rush_bucket_percent": {"type": "integer", "minimum": 0, "maximum": 20},
		"working_days": {
			"type": "array",
			"items": {"enum": ["mon", "tue", "wed", "thu", "fri", "sat", "sun"]}
		},
		"working_hours":       {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]-[0-2][0-9]:[0-5][0-9]$"},
		"back_to_back_cutoff": {"type": "string", "pattern": "^[0-2][0-9]:[0-5][0-9]$"}
	},
	"additionalProperties": false
}`

const slaMarginSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["auth_sla_hours", "sewing_sla_hours", "qa_sla_hours", "target_margin_percent", "floor_margin_percent"],
	"properties": {
		"auth_sla_hours":   {"type": "integer", "minimum": 1},
		"sewing_sla_hours": {"type": "integer", "minimum": 1},
		"qa_sla_hours":     {"type": "integer", "minimum": 1},
		"target_margin_percent":  {"type": "number", "minimum": 0, "maximum": 100},
		"floor_margin_percent":   {"type": "number", "minimum": 0, "maximum": 100},
		"rush_surcharge_percent": {"type": "number", "minimum": 0, "maximum": 200}
	},
	"additionalProperties": false
}`

const riskThresholdSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["max_declared_value", "manual_review_score", "auto_reject_score"],
	"properties": {
		"max_declared_value":  {"type": "number", "exclusiveMinimum": 0},
		"high_risk_brands":    {"type": "array", "items": {"type": "string", "minLength": 1}},
		"manual_review_score": {"type": "number", "minimum": 0, "maximum": 100},
		"auto_reject_score":   {"type": "number", "minimum": 0, "maximum": 100}
	},
	"additionalProperties": false
}`

// =============================================================================
// PAYLOAD FACTORY
// =============================================================================

// PayloadFactory validates and parses policy payloads.
type PayloadFactory struct {
	schemas map[engine.PolicyKind]*jsonschema.Schema
}

// NewPayloadFactory compiles the per-kind schemas. The schemas are
// compile-time constants; failure to compile is a programming error.
func NewPayloadFactory() *PayloadFactory {
	return &PayloadFactory{
		schemas: map[engine.PolicyKind]*jsonschema.Schema{
			engine.KindHubCapacity:   jsonschema.MustCompileString("hub_capacity_profile.json", capacityProfileSchema),
			engine.KindSLAMargin:     jsonschema.MustCompileString("sla_margin.json", slaMarginSchema),
			engine.KindRiskThreshold: jsonschema.MustCompileString("risk_threshold.json", riskThresholdSchema),
		},
	}
}

// Validate checks a raw payload against the schema for its kind, then
// applies the semantic checks the schema cannot express.
func (f *PayloadFactory) Validate(kind engine.PolicyKind, raw json.RawMessage) error {
	schema, ok := f.schemas[kind]
	if !ok {
		return fmt.Errorf("no schema for policy kind %q", kind)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload failed %s schema: %w", kind, err)
	}

	switch kind {
	case engine.KindSLAMargin:
		p, err := f.ParseSLAMargin(raw)
		if err != nil {
			return err
		}
		if p.FloorMarginPercent > p.TargetMarginPercent {
			return fmt.Errorf("floor margin %.1f exceeds target margin %.1f",
				p.FloorMarginPercent, p.TargetMarginPercent)
		}
	case engine.KindRiskThreshold:
		p, err := f.ParseRiskThreshold(raw)
		if err != nil {
			return err
		}
		if p.AutoRejectScore < p.ManualReviewScore {
			return fmt.Errorf("auto-reject score %.1f below manual-review score %.1f",
				p.AutoRejectScore, p.ManualReviewScore)
		}
	}
	return nil
}

// =============================================================================
// TYPED PARSERS
// =============================================================================

// ParseCapacityProfile decodes a hub_capacity_profile payload.
func (f *PayloadFactory) ParseCapacityProfile(raw json.RawMessage) (engine.CapacityProfile, error) {
	var p engine.CapacityProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to parse capacity profile: %w", err)
	}
	return p, nil
}

// ParseSLAMargin decodes an sla_margin payload.
func (f *PayloadFactory) ParseSLAMargin(raw json.RawMessage) (engine.SLAMarginPolicy, error) {
	var p engine.SLAMarginPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to parse sla_margin policy: %w", err)
	}
	return p, nil
}

// ParseRiskThreshold decodes a risk_threshold payload.
func (f *PayloadFactory) ParseRiskThreshold(raw json.RawMessage) (engine.RiskThresholdPolicy, error) {
	var p engine.RiskThresholdPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("failed to parse risk_threshold policy: %w", err)
	}
	return p, nil
}
