package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/propdash/propdash/internal/metrics"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultTemperature is fixed for every estimate request.
	DefaultTemperature float32 = 0.7
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30 // $0.30 per 1M input tokens (text/image)
	geminiOutputPricePerMillion = 2.50 // $2.50 per 1M output tokens (including thinking)
)

// ErrMissingAPIKey is returned by NewGeminiClient when no API key is given.
var ErrMissingAPIKey = errors.New("gemini API key is not configured")

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey     string
	Model      string       // Defaults to DefaultModel
	BaseURL    string       // Overrides the API endpoint, mainly for tests
	HTTPClient *http.Client // Optional
}

// GeminiClient sends estimate requests to Google's Gemini API. It
// implements rehab.ModelClient.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client. The API key must be passed
// explicitly; the environment is never consulted here.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

// Model returns the model id requests are sent to.
func (g *GeminiClient) Model() string {
	return g.model
}

// Request sends the prompt followed by the images, in order, and returns the
// raw response text. It never retries and never parses the response.
func (g *GeminiClient) Request(ctx context.Context, images []rehab.EncodedImagePart, prompt string) (string, error) {
	// Build parts: prompt first, then all images
	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
	}
	for i, img := range images {
		data, err := img.Bytes()
		if err != nil {
			return "", &rehab.EncodingError{Index: i, Err: err}
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: data, MIMEType: img.MIMEType},
		})
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   estimateSchema(),
		Temperature:      genai.Ptr(DefaultTemperature),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, config)
	if err != nil {
		return "", classifyError(ctx, err)
	}

	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		return "", &rehab.ProviderError{
			Status:  "BLOCKED",
			Payload: marshalPayload(result.PromptFeedback),
			Err:     fmt.Errorf("prompt blocked: %s", result.PromptFeedback.BlockReason),
		}
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		var finishReason genai.FinishReason
		if len(result.Candidates) > 0 {
			finishReason = result.Candidates[0].FinishReason
		}
		return "", &rehab.ProviderError{
			Status:  string(finishReason),
			Payload: marshalPayload(result),
			Err:     errors.New("empty response from gemini"),
		}
	}

	g.recordUsage(result, len(images))

	return result.Text(), nil
}

func (g *GeminiClient) recordUsage(result *genai.GenerateContentResponse, imageCount int) {
	var inputTokens, outputTokens int64
	if result.UsageMetadata != nil {
		inputTokens = int64(result.UsageMetadata.PromptTokenCount)
		outputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
	}
	cost := calculateGeminiCost(inputTokens, outputTokens, geminiInputPricePerMillion, geminiOutputPricePerMillion)

	metrics.ModelTokens.WithLabelValues(g.model, "input").Add(float64(inputTokens))
	metrics.ModelTokens.WithLabelValues(g.model, "output").Add(float64(outputTokens))
	metrics.ModelCostUSD.WithLabelValues(g.model).Add(cost)

	log.Info().
		Str("model", g.model).
		Int("imageCount", imageCount).
		Int64("inputTokens", inputTokens).
		Int64("outputTokens", outputTokens).
		Float64("costUSD", cost).
		Msg("rehab estimate llm call")
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}

// classifyError maps a genai error onto the rehab error taxonomy.
func classifyError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &rehab.CancelledError{Err: ctxErr}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr, err)
	}

	return &rehab.TransportError{Err: err}
}

func classifyAPIError(apiErr genai.APIError, err error) error {
	payload := marshalPayload(apiErr)

	if isAuthFailure(apiErr) {
		return &rehab.AuthError{Payload: payload, Err: err}
	}

	return &rehab.ProviderError{
		StatusCode: apiErr.Code,
		Status:     apiErr.Status,
		Payload:    payload,
		Transient:  apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500,
		Err:        err,
	}
}

// isAuthFailure reports whether the API rejected the credential. Gemini
// answers an invalid key with 400 INVALID_ARGUMENT, so the message is
// checked as well.
func isAuthFailure(apiErr genai.APIError) bool {
	if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "api_key")
}

func marshalPayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
