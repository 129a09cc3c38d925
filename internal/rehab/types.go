package rehab

import (
	"bytes"
	"encoding/base64"
	"io"
)

// PhotoInput is a single uploaded property photo. The body is consumed by
// encoding and must not be reused afterwards.
type PhotoInput struct {
	Name     string // Original filename, used only in diagnostics
	MIMEType string // Declared media type, e.g. image/jpeg
	Body     io.Reader
}

// NewPhoto wraps in-memory image bytes as a PhotoInput.
func NewPhoto(data []byte, mimeType string) PhotoInput {
	return PhotoInput{MIMEType: mimeType, Body: bytes.NewReader(data)}
}

// EncodedImagePart is the transport-safe form of a PhotoInput. Its position
// in a slice is the source_image_index the model refers back to.
type EncodedImagePart struct {
	Data     string // Standard base64 encoding of the image bytes
	MIMEType string
}

// Bytes decodes the base64 payload.
func (p EncodedImagePart) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// EstimationRequest groups the inputs of one estimate.
type EstimationRequest struct {
	Images        []PhotoInput
	SquareFootage *float64 // nil when the floor area is unknown
}

// Recommendation is the investment strategy the model recommends.
type Recommendation string

const (
	RecommendBRRRR Recommendation = "BRRRR"
	RecommendFlip  Recommendation = "FLIP"
)

// Recommendations lists every accepted recommendation value.
var Recommendations = []Recommendation{RecommendBRRRR, RecommendFlip}

// LineItem is a single priced renovation task.
type LineItem struct {
	Item string  `json:"item"`
	Cost float64 `json:"cost"`
	Unit string  `json:"unit"`
}

// RoomBreakdown is the estimate for one room seen in one photo.
type RoomBreakdown struct {
	Room              string     `json:"room"`
	SourceImageIndex  int        `json:"source_image_index"`
	Observations      string     `json:"observations"`
	RecommendedAction string     `json:"recommended_action"`
	LineItems         []LineItem `json:"line_items"`
	RoomTotal         float64    `json:"room_total"`
}

// StrategyAnalysis compares holding the property against flipping it.
type StrategyAnalysis struct {
	BRRRRStrategy     string         `json:"brrrr_strategy"`
	FlipStrategy      string         `json:"flip_strategy"`
	Recommendation    Recommendation `json:"recommendation"`
	MarketPositioning string         `json:"market_positioning"`
}

// RehabEstimate is a validated renovation estimate. It is built once from
// model output and owned by the caller after it is returned.
type RehabEstimate struct {
	OverallDifficulty    int              `json:"overall_difficulty"`
	TotalEstimatedCost   float64          `json:"total_estimated_cost"`
	AssumptionsAndNotes  []string         `json:"assumptions_and_notes"`
	StrategyAnalysis     StrategyAnalysis `json:"strategy_analysis"`
	RoomBreakdowns       []RoomBreakdown  `json:"room_breakdowns"`
	HiddenDamageWarnings []string         `json:"hidden_damage_warnings"`
	SummaryDescription   string           `json:"summary_description"`
}
