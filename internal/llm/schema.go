package llm

import (
	"github.com/propdash/propdash/internal/rehab"
	"google.golang.org/genai"
)

// estimateSchema mirrors rehab.EstimateSchemaJSON. Gemini uses it
// for constrained decoding; the client-side validation stays authoritative.
func estimateSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	strList := &genai.Schema{Type: genai.TypeArray, Items: str}
	amount := &genai.Schema{Type: genai.TypeNumber, Minimum: genai.Ptr(0.0)}

	recommendations := make([]string, 0, len(rehab.Recommendations))
	for _, r := range rehab.Recommendations {
		recommendations = append(recommendations, string(r))
	}

	lineItem := objectSchema([]string{"item", "cost", "unit"}, map[string]*genai.Schema{
		"item": str,
		"cost": amount,
		"unit": str,
	})

	room := objectSchema([]string{
		"room", "source_image_index", "observations", "recommended_action", "line_items", "room_total",
	}, map[string]*genai.Schema{
		"room": str,
		"source_image_index": {
			Type:        genai.TypeInteger,
			Minimum:     genai.Ptr(0.0),
			Description: "Zero-based index of the photo this room was seen in",
		},
		"observations":       str,
		"recommended_action": str,
		"line_items":         {Type: genai.TypeArray, Items: lineItem},
		"room_total":         amount,
	})

	strategy := objectSchema([]string{
		"brrrr_strategy", "flip_strategy", "recommendation", "market_positioning",
	}, map[string]*genai.Schema{
		"brrrr_strategy":     str,
		"flip_strategy":      str,
		"recommendation":     {Type: genai.TypeString, Enum: recommendations},
		"market_positioning": str,
	})

	return objectSchema([]string{
		"overall_difficulty", "total_estimated_cost", "assumptions_and_notes", "strategy_analysis",
		"room_breakdowns", "hidden_damage_warnings", "summary_description",
	}, map[string]*genai.Schema{
		"overall_difficulty": {
			Type:    genai.TypeInteger,
			Minimum: genai.Ptr(1.0),
			Maximum: genai.Ptr(5.0),
		},
		"total_estimated_cost":   amount,
		"assumptions_and_notes":  strList,
		"strategy_analysis":      strategy,
		"room_breakdowns":        {Type: genai.TypeArray, Items: room},
		"hidden_damage_warnings": strList,
		"summary_description":    str,
	})
}

// objectSchema builds an object schema where every property is required and
// properties are emitted in the given order.
func objectSchema(order []string, properties map[string]*genai.Schema) *genai.Schema {
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       properties,
		Required:         order,
		PropertyOrdering: order,
	}
}
