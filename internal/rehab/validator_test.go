package rehab

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const validEstimateJSON = `{
	"overall_difficulty": 3,
	"total_estimated_cost": 17000,
	"assumptions_and_notes": ["Electrical panel not visible", "Pricing assumes no permit delays"],
	"strategy_analysis": {
		"brrrr_strategy": "Refinance after kitchen and bath refresh, rent to long-term tenant.",
		"flip_strategy": "Cosmetic flip is viable but margins are thin in this price band.",
		"recommendation": "BRRRR",
		"market_positioning": "Entry-level rental in a stable neighborhood."
	},
	"room_breakdowns": [
		{
			"room": "Kitchen",
			"source_image_index": 0,
			"observations": "Dated laminate counters, peeling cabinet finish.",
			"recommended_action": "Replace counters, paint cabinets, new hardware.",
			"line_items": [
				{"item": "Laminate countertops", "cost": 3000, "unit": "lump sum"},
				{"item": "Cabinet painting", "cost": 2000, "unit": "lump sum"}
			],
			"room_total": 5000
		},
		{
			"room": "Bathroom",
			"source_image_index": 1,
			"observations": "Cracked tile, water staining below vanity.",
			"recommended_action": "Full bathroom remodel.",
			"line_items": [
				{"item": "Tile and tub surround", "cost": 7000, "unit": "lump sum"},
				{"item": "Vanity and fixtures", "cost": 5000, "unit": "lump sum"}
			],
			"room_total": 12000
		}
	],
	"hidden_damage_warnings": ["Possible subfloor rot under the vanity"],
	"summary_description": "Solid bones with a dated kitchen and a bathroom that needs a full remodel."
}`

// replaceJSON swaps one exact fragment of validEstimateJSON.
func replaceJSON(t *testing.T, old, new string) string {
	t.Helper()
	if !strings.Contains(validEstimateJSON, old) {
		t.Fatalf("fixture does not contain %q", old)
	}
	return strings.Replace(validEstimateJSON, old, new, 1)
}

func TestValidate_ValidResponse(t *testing.T) {
	estimate, err := Validator{ImageCount: 2, Tolerance: DefaultTolerance()}.Validate(validEstimateJSON)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	assert.Equal(t, 3, estimate.OverallDifficulty)
	assert.Equal(t, 17000.0, estimate.TotalEstimatedCost)
	assert.Equal(t, RecommendBRRRR, estimate.StrategyAnalysis.Recommendation)
	assert.Len(t, estimate.RoomBreakdowns, 2)
	assert.Equal(t, "Kitchen", estimate.RoomBreakdowns[0].Room)
	assert.Equal(t, 5000.0, estimate.RoomBreakdowns[0].RoomTotal)
	assert.Equal(t, "Bathroom", estimate.RoomBreakdowns[1].Room)
	assert.Equal(t, 12000.0, estimate.RoomBreakdowns[1].RoomTotal)
	assert.Equal(t, 1, estimate.RoomBreakdowns[1].SourceImageIndex)
	assert.Len(t, estimate.RoomBreakdowns[1].LineItems, 2)
	assert.Equal(t, []string{"Possible subfloor rot under the vanity"}, estimate.HiddenDamageWarnings)
	assert.Len(t, estimate.AssumptionsAndNotes, 2)
}

func TestValidate_EmptyListsAllowed(t *testing.T) {
	raw := `{
		"overall_difficulty": 1,
		"total_estimated_cost": 0,
		"assumptions_and_notes": [],
		"strategy_analysis": {"brrrr_strategy": "", "flip_strategy": "", "recommendation": "FLIP", "market_positioning": ""},
		"room_breakdowns": [],
		"hidden_damage_warnings": [],
		"summary_description": "No rooms identifiable."
	}`

	estimate, err := Validator{ImageCount: 1, Tolerance: DefaultTolerance()}.Validate(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.Empty(t, estimate.RoomBreakdowns)
	assert.Equal(t, RecommendFlip, estimate.StrategyAnalysis.Recommendation)
}

func TestValidate_StripsMarkdownFence(t *testing.T) {
	raw := "```json\n" + validEstimateJSON + "\n```"

	estimate, err := Validator{}.Validate(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.Len(t, estimate.RoomBreakdowns, 2)
}

func TestValidate_NotJSON(t *testing.T) {
	raw := "I cannot process this."

	_, err := Validator{}.Validate(raw)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
	assert.Equal(t, raw, malformed.Raw)
	assert.Equal(t, CodeMalformedResponse, ErrorCode(err))
}

func TestValidate_MalformedCases(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "  \n "},
		{"truncated", `{"overall_difficulty": 3, "total_estimated_cost":`},
		{"trailing text", validEstimateJSON + " Let me know if you need more detail."},
		{"trailing closing brace", validEstimateJSON + "}"},
		{"trailing closing bracket", validEstimateJSON + "]"},
		{"second value", validEstimateJSON + " {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validator{}.Validate(tt.raw)
			var malformed *MalformedResponseError
			assert.True(t, errors.As(err, &malformed), "expected MalformedResponseError, got %v", err)
		})
	}
}

func TestValidate_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{
			name:  "recommendation not in enumeration",
			raw:   replaceJSON(t, `"recommendation": "BRRRR"`, `"recommendation": "HOLD"`),
			field: "strategy_analysis.recommendation",
		},
		{
			name:  "recommendation missing",
			raw:   replaceJSON(t, `"recommendation": "BRRRR",`, ``),
			field: "strategy_analysis.recommendation",
		},
		{
			name:  "recommendation lower case",
			raw:   replaceJSON(t, `"recommendation": "BRRRR"`, `"recommendation": "brrrr"`),
			field: "strategy_analysis.recommendation",
		},
		{
			name:  "cost as string",
			raw:   replaceJSON(t, `"cost": 3000`, `"cost": "3000"`),
			field: "room_breakdowns[0].line_items[0].cost",
		},
		{
			name:  "negative room total",
			raw:   replaceJSON(t, `"room_total": 12000`, `"room_total": -12000`),
			field: "room_breakdowns[1].room_total",
		},
		{
			name:  "difficulty out of range",
			raw:   replaceJSON(t, `"overall_difficulty": 3`, `"overall_difficulty": 6`),
			field: "overall_difficulty",
		},
		{
			name:  "difficulty not an integer",
			raw:   replaceJSON(t, `"overall_difficulty": 3`, `"overall_difficulty": 2.5`),
			field: "overall_difficulty",
		},
		{
			name:  "total missing",
			raw:   replaceJSON(t, `"total_estimated_cost": 17000,`, ``),
			field: "total_estimated_cost",
		},
		{
			name:  "null summary",
			raw:   replaceJSON(t, `"summary_description": "Solid bones with a dated kitchen and a bathroom that needs a full remodel."`, `"summary_description": null`),
			field: "summary_description",
		},
		{
			name:  "warning not a string",
			raw:   replaceJSON(t, `["Possible subfloor rot under the vanity"]`, `[42]`),
			field: "hidden_damage_warnings[0]",
		},
		{
			name:  "negative source index",
			raw:   replaceJSON(t, `"source_image_index": 1`, `"source_image_index": -1`),
			field: "room_breakdowns[1].source_image_index",
		},
		{
			name:  "strategy not an object",
			raw:   `{"overall_difficulty": 2, "total_estimated_cost": 0, "assumptions_and_notes": [], "strategy_analysis": "BRRRR"}`,
			field: "strategy_analysis",
		},
		{
			name:  "array at root",
			raw:   `[1, 2, 3]`,
			field: "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			estimate, err := Validator{}.Validate(tt.raw)
			assert.Nil(t, estimate)

			var violation *SchemaViolationError
			if !errors.As(err, &violation) {
				t.Fatalf("expected SchemaViolationError, got %v", err)
			}
			assert.Equal(t, tt.field, violation.Field)
			assert.Equal(t, tt.raw, violation.Raw)
		})
	}
}

func TestValidate_FirstViolationWins(t *testing.T) {
	raw := replaceJSON(t, `"overall_difficulty": 3`, `"overall_difficulty": "hard"`)
	raw = strings.Replace(raw, `"recommendation": "BRRRR"`, `"recommendation": "HOLD"`, 1)

	_, err := Validator{}.Validate(raw)

	var violation *SchemaViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
	assert.Equal(t, "overall_difficulty", violation.Field)
}

func TestValidate_FirstViolationAcrossRooms(t *testing.T) {
	raw := replaceJSON(t, `"room_total": 5000`, `"room_total": -5000`)
	raw = strings.Replace(raw, `"room": "Bathroom",`, ``, 1)
	raw = strings.Replace(raw, `"unit": "lump sum"}`, `"unit": 7}`, 1)

	_, err := Validator{}.Validate(raw)

	var violation *SchemaViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
	assert.Equal(t, "room_breakdowns[0].line_items[0].unit", violation.Field)
}

func TestValidate_RecommendationsAccepted(t *testing.T) {
	for _, rec := range Recommendations {
		raw := replaceJSON(t, `"recommendation": "BRRRR"`, `"recommendation": "`+string(rec)+`"`)
		estimate, err := Validator{}.Validate(raw)
		if err != nil {
			t.Fatalf("expected %s to be accepted, got %v", rec, err)
		}
		assert.Equal(t, rec, estimate.StrategyAnalysis.Recommendation)
	}
}

func TestValidate_IgnoresUnknownFields(t *testing.T) {
	raw := replaceJSON(t, `"overall_difficulty": 3,`, `"overall_difficulty": 3, "confidence": "high",`)

	estimate, err := Validator{}.Validate(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	assert.Equal(t, 3, estimate.OverallDifficulty)
}

func TestFormatPath(t *testing.T) {
	assert.Equal(t, "(root)", formatPath(nil))
	assert.Equal(t, "summary_description", formatPath([]string{"summary_description"}))
	assert.Equal(t, "room_breakdowns[0].line_items[12].cost", formatPath([]string{"room_breakdowns", "0", "line_items", "12", "cost"}))
	assert.Equal(t, "hidden_damage_warnings[3]", formatPath([]string{"hidden_damage_warnings", "3"}))
}

func TestPathLess(t *testing.T) {
	assert.True(t, pathLess([]string{"overall_difficulty"}, []string{"strategy_analysis", "recommendation"}))
	assert.True(t, pathLess([]string{"room_breakdowns", "2", "room_total"}, []string{"room_breakdowns", "10", "room"}))
	assert.True(t, pathLess([]string{"room_breakdowns", "0", "room"}, []string{"room_breakdowns", "0", "line_items", "0", "item"}))
	assert.True(t, pathLess(nil, []string{"overall_difficulty"}))
	assert.False(t, pathLess([]string{"summary_description"}, []string{"hidden_damage_warnings", "0"}))
}

func TestValidate_SourceImageIndexOutOfRange(t *testing.T) {
	_, err := Validator{ImageCount: 1}.Validate(validEstimateJSON)

	var violation *SchemaViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
	assert.Equal(t, "room_breakdowns[1].source_image_index", violation.Field)
}

func TestValidate_Reconciliation(t *testing.T) {
	tests := []struct {
		name  string
		total string
		ok    bool
	}{
		{"exact", "17000", true},
		{"within relative tolerance", "17300", true},
		{"beyond tolerance", "25000", false},
		{"far below", "9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := replaceJSON(t, `"total_estimated_cost": 17000`, `"total_estimated_cost": `+tt.total)
			_, err := Validator{Tolerance: DefaultTolerance()}.Validate(raw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var violation *SchemaViolationError
			if !errors.As(err, &violation) {
				t.Fatalf("expected SchemaViolationError, got %v", err)
			}
			assert.Equal(t, "total_estimated_cost", violation.Field)
		})
	}
}

func TestValidate_ReconciliationDisabled(t *testing.T) {
	raw := replaceJSON(t, `"total_estimated_cost": 17000`, `"total_estimated_cost": 25000`)

	_, err := Validator{}.Validate(raw)
	assert.NoError(t, err)
}

func TestValidate_AbsoluteToleranceForSmallEstimates(t *testing.T) {
	raw := `{
		"overall_difficulty": 1,
		"total_estimated_cost": 240,
		"assumptions_and_notes": [],
		"strategy_analysis": {"brrrr_strategy": "", "flip_strategy": "", "recommendation": "FLIP", "market_positioning": ""},
		"room_breakdowns": [
			{"room": "Hall", "source_image_index": 0, "observations": "", "recommended_action": "Paint",
			 "line_items": [{"item": "Paint", "cost": 200, "unit": "wall"}], "room_total": 200}
		],
		"hidden_damage_warnings": [],
		"summary_description": ""
	}`

	_, err := Validator{Tolerance: DefaultTolerance()}.Validate(raw)
	assert.NoError(t, err)
}
