package rehab

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lithammer/dedent"
)

const (
	// TargetGrade is the single finish level every estimate renovates to.
	TargetGrade = "mid-grade, rental-ready finish (durable LVP flooring, builder-grade fixtures, neutral paint)"
	// PricingBasis is the cost basis the model must price against.
	PricingBasis = "2025 U.S. national average contractor pricing, including labor and materials"

	// UnknownAreaDirective replaces the floor area when none was given.
	UnknownAreaDirective = "unknown, estimate visually from the photos"
)

const estimatePromptTemplate = `
	You are an expert residential renovation estimator working for real estate investors.

	You are given %d property photo(s), numbered from 0 in the order they are attached.
	Approximate square footage: %s

	Tasks:
	1. Identify every visible defect, sign of wear and code concern in each photo.
	2. Recommend renovations that bring each room to a %s.
	3. Assign a cost to every renovation line item using %s.
	4. List the assumptions you made and anything you could not verify from the photos.
	5. Compare a BRRRR strategy against a FLIP strategy for this property and recommend exactly one.

	Respond with a single JSON object that has exactly this shape:
	{
	  "overall_difficulty": <integer 1-5, 1 is cosmetic only, 5 is a full gut>,
	  "total_estimated_cost": <number, must equal the sum of every room_total>,
	  "assumptions_and_notes": [<string>, ...],
	  "strategy_analysis": {
	    "brrrr_strategy": <string>,
	    "flip_strategy": <string>,
	    "recommendation": <"BRRRR" or "FLIP">,
	    "market_positioning": <string>
	  },
	  "room_breakdowns": [
	    {
	      "room": <string>,
	      "source_image_index": <integer, index of the photo this room was seen in>,
	      "observations": <string>,
	      "recommended_action": <string>,
	      "line_items": [
	        {"item": <string>, "cost": <number, US dollars>, "unit": <string>}
	      ],
	      "room_total": <number, sum of this room's line item costs>
	    }
	  ],
	  "hidden_damage_warnings": [<string>, ...],
	  "summary_description": <string>
	}

	All costs are plain numbers without currency symbols or thousands separators.
	Respond ONLY with the JSON object, no markdown code fences and no other text.`

const repairPromptTemplate = `
	Your previous response was rejected because %s.
	Return the complete estimate again as a single JSON object that follows the shape above exactly.`

var (
	estimatePrompt = strings.TrimSpace(dedent.Dedent(estimatePromptTemplate))
	repairPrompt   = strings.TrimSpace(dedent.Dedent(repairPromptTemplate))
)

// BuildPrompt returns the estimation instructions for the given photo count
// and floor area. The output depends only on its arguments.
func BuildPrompt(photoCount int, squareFootage *float64) string {
	return fmt.Sprintf(estimatePrompt, photoCount, formatArea(squareFootage), TargetGrade, PricingBasis)
}

// BuildRepairPrompt extends the estimation prompt with the reason the
// previous response was rejected.
func BuildRepairPrompt(photoCount int, squareFootage *float64, reason string) string {
	return BuildPrompt(photoCount, squareFootage) + "\n\n" + fmt.Sprintf(repairPrompt, reason)
}

func formatArea(squareFootage *float64) string {
	if !knownArea(squareFootage) {
		return UnknownAreaDirective
	}
	return strconv.FormatFloat(*squareFootage, 'f', -1, 64) + " sq ft"
}

func knownArea(squareFootage *float64) bool {
	return squareFootage != nil && *squareFootage > 0
}
