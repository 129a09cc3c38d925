package rehab

import "context"

// DesignChoices describes the finishes a user picked for one room.
type DesignChoices struct {
	Room        string `json:"room"`
	Style       string `json:"style"`
	Flooring    string `json:"flooring,omitempty"`
	WallColor   string `json:"wall_color,omitempty"`
	Cabinets    string `json:"cabinets,omitempty"`
	Countertops string `json:"countertops,omitempty"`
	Fixtures    string `json:"fixtures,omitempty"`
}

// VisualizedRoom is a photo of a room re-rendered with new finishes.
type VisualizedRoom struct {
	Image EncodedImagePart
}

// VisualizeRoom is not available in this deployment. It always returns a
// *NotImplementedError and never calls the model.
func (s *Service) VisualizeRoom(ctx context.Context, photo PhotoInput, choices DesignChoices) (*VisualizedRoom, error) {
	return nil, &NotImplementedError{
		Capability: "visualize_room",
		Reason:     "room visualization requires a server-side image-generation backend that is not provisioned",
	}
}
