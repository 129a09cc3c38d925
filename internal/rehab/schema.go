package rehab

import (
	"github.com/xeipuuv/gojsonschema"
)

// EstimateSchemaJSON is the JSON Schema every model response must satisfy.
// Unknown properties are ignored.
const EstimateSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": [
		"overall_difficulty", "total_estimated_cost", "assumptions_and_notes", "strategy_analysis",
		"room_breakdowns", "hidden_damage_warnings", "summary_description"
	],
	"properties": {
		"overall_difficulty": {"type": "integer", "minimum": 1, "maximum": 5},
		"total_estimated_cost": {"type": "number", "minimum": 0},
		"assumptions_and_notes": {"type": "array", "items": {"type": "string"}},
		"strategy_analysis": {
			"type": "object",
			"required": ["brrrr_strategy", "flip_strategy", "recommendation", "market_positioning"],
			"properties": {
				"brrrr_strategy": {"type": "string"},
				"flip_strategy": {"type": "string"},
				"recommendation": {"type": "string", "enum": ["BRRRR", "FLIP"]},
				"market_positioning": {"type": "string"}
			}
		},
		"room_breakdowns": {
			"type": "array",
			"items": {
				"type": "object",
				"required": [
					"room", "source_image_index", "observations", "recommended_action", "line_items", "room_total"
				],
				"properties": {
					"room": {"type": "string"},
					"source_image_index": {"type": "integer", "minimum": 0},
					"observations": {"type": "string"},
					"recommended_action": {"type": "string"},
					"line_items": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["item", "cost", "unit"],
							"properties": {
								"item": {"type": "string"},
								"cost": {"type": "number", "minimum": 0},
								"unit": {"type": "string"}
							}
						}
					},
					"room_total": {"type": "number", "minimum": 0}
				}
			}
		},
		"hidden_damage_warnings": {"type": "array", "items": {"type": "string"}},
		"summary_description": {"type": "string"}
	}
}`

// fieldOrder is the document order of every schema property. Violations are
// reported for the earliest field in this order.
var fieldOrder = []string{
	"overall_difficulty",
	"total_estimated_cost",
	"assumptions_and_notes",
	"strategy_analysis",
	"brrrr_strategy",
	"flip_strategy",
	"recommendation",
	"market_positioning",
	"room_breakdowns",
	"room",
	"source_image_index",
	"observations",
	"recommended_action",
	"line_items",
	"item",
	"cost",
	"unit",
	"room_total",
	"hidden_damage_warnings",
	"summary_description",
}

var fieldRank = func() map[string]int {
	m := make(map[string]int, len(fieldOrder))
	for i, name := range fieldOrder {
		m[name] = i
	}
	return m
}()

var estimateSchema = mustCompileSchema(EstimateSchemaJSON)

func mustCompileSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		panic("rehab: invalid estimate schema: " + err.Error())
	}
	return schema
}
