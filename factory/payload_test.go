package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier/capacity-engine/engine"
	"github.com/atelier/capacity-engine/factory"
)

const validCapacityProfile = `{
	"auth_capacity": 10,
	"sewing_capacity": 4,
	"qa_capacity": 6,
	"qa_headcount": 2,
	"qa_shift_minutes": 480,
	"seasonality_multiplier": {"12": 0.85, "6": 1.2},
	"overbooking_percent": 10,
	"rush_bucket_percent": 20,
	"working_days": ["mon", "tue", "wed", "thu", "fri"],
	"working_hours": "09:00-18:00",
	"back_to_back_cutoff": "15:00"
}`

const validSLAMargin = `{
	"auth_sla_hours": 24,
	"sewing_sla_hours": 72,
	"qa_sla_hours": 12,
	"target_margin_percent": 22.5,
	"floor_margin_percent": 15,
	"rush_surcharge_percent": 50
}`

const validRiskThreshold = `{
	"max_declared_value": 50000,
	"high_risk_brands": ["hermes", "patek philippe"],
	"manual_review_score": 60,
	"auto_reject_score": 85
}`

func TestValidate_AcceptsWellFormedPayloads(t *testing.T) {
	f := factory.NewPayloadFactory()

	cases := map[engine.PolicyKind]string{
		engine.KindHubCapacity:   validCapacityProfile,
		engine.KindSLAMargin:     validSLAMargin,
		engine.KindRiskThreshold: validRiskThreshold,
	}
	for kind, raw := range cases {
		assert.NoError(t, f.Validate(kind, json.RawMessage(raw)), string(kind))
	}
}

func TestValidate_RejectsShapeErrors(t *testing.T) {
	f := factory.NewPayloadFactory()

	cases := []struct {
		name string
		kind engine.PolicyKind
		raw  string
	}{
		{"missing required capacity", engine.KindHubCapacity,
			`{"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2}`},
		{"overbooking above cap", engine.KindHubCapacity,
			`{"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2,
			  "qa_shift_minutes": 480, "overbooking_percent": 31}`},
		{"rush bucket above cap", engine.KindHubCapacity,
			`{"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2,
			  "qa_shift_minutes": 480, "rush_bucket_percent": 21}`},
		{"seasonality month 13", engine.KindHubCapacity,
			`{"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2,
			  "qa_shift_minutes": 480, "seasonality_multiplier": {"13": 1.0}}`},
		{"unknown field", engine.KindHubCapacity,
			`{"auth_capacity": 10, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2,
			  "qa_shift_minutes": 480, "surprise": true}`},
		{"negative capacity", engine.KindHubCapacity,
			`{"auth_capacity": -1, "sewing_capacity": 4, "qa_capacity": 6, "qa_headcount": 2,
			  "qa_shift_minutes": 480}`},
		{"zero sla hours", engine.KindSLAMargin,
			`{"auth_sla_hours": 0, "sewing_sla_hours": 72, "qa_sla_hours": 12,
			  "target_margin_percent": 22.5, "floor_margin_percent": 15}`},
		{"declared value zero", engine.KindRiskThreshold,
			`{"max_declared_value": 0, "manual_review_score": 60, "auto_reject_score": 85}`},
		{"not json", engine.KindSLAMargin, `{"auth_sla_hours":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, f.Validate(tc.kind, json.RawMessage(tc.raw)))
		})
	}
}

func TestValidate_SemanticChecks(t *testing.T) {
	f := factory.NewPayloadFactory()

	// Floor margin above target passes the schema but not the business rule.
	err := f.Validate(engine.KindSLAMargin, json.RawMessage(`{
		"auth_sla_hours": 24, "sewing_sla_hours": 72, "qa_sla_hours": 12,
		"target_margin_percent": 15, "floor_margin_percent": 22.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floor margin")

	// Auto-reject below manual-review would reject shipments a human never saw.
	err = f.Validate(engine.KindRiskThreshold, json.RawMessage(`{
		"max_declared_value": 50000, "manual_review_score": 85, "auto_reject_score": 60}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto-reject")
}

func TestValidate_UnknownKind(t *testing.T) {
	f := factory.NewPayloadFactory()
	err := f.Validate(engine.PolicyKind("holiday_schedule"), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema")
}

func TestParseCapacityProfile(t *testing.T) {
	f := factory.NewPayloadFactory()

	p, err := f.ParseCapacityProfile(json.RawMessage(validCapacityProfile))
	require.NoError(t, err)
	assert.Equal(t, 10, p.AuthCapacity)
	assert.Equal(t, 4, p.SewingCapacity)
	assert.Equal(t, 6, p.QACapacity)
	assert.Equal(t, 2, p.QAHeadcount)
	assert.Equal(t, 480, p.QAShiftMinutes)
	assert.Equal(t, 0.85, p.SeasonalityMultiplier[12])
	assert.Equal(t, 20, p.RushBucketPercent)
}

func TestParseSLAMargin(t *testing.T) {
	f := factory.NewPayloadFactory()

	p, err := f.ParseSLAMargin(json.RawMessage(validSLAMargin))
	require.NoError(t, err)
	assert.Equal(t, 24, p.AuthSLAHours)
	assert.Equal(t, 22.5, p.TargetMarginPercent)
	assert.Equal(t, 50.0, p.RushSurchargePercent)
}

func TestParseRiskThreshold(t *testing.T) {
	f := factory.NewPayloadFactory()

	p, err := f.ParseRiskThreshold(json.RawMessage(validRiskThreshold))
	require.NoError(t, err)
	assert.Equal(t, 50000.0, p.MaxDeclaredValue)
	assert.Equal(t, []string{"hermes", "patek philippe"}, p.HighRiskBrands)
	assert.Equal(t, 85.0, p.AutoRejectScore)
}
