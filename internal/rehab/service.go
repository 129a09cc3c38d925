package rehab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/propdash/propdash/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ModelClient sends encoded photos and a prompt to a generative model and
// returns the raw response text. Implementations must not retry and must
// not parse the response.
type ModelClient interface {
	Request(ctx context.Context, images []EncodedImagePart, prompt string) (string, error)
}

// Service produces rehab estimates from property photos. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	client    ModelClient
	tolerance *Tolerance
	retry     retryPolicy
	repair    bool
}

type retryPolicy struct {
	attempts int
	minWait  time.Duration
	maxWait  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithTolerance sets the reconciliation tolerance. A nil tolerance disables
// reconciliation.
func WithTolerance(t *Tolerance) Option {
	return func(s *Service) { s.tolerance = t }
}

// WithRetry allows up to attempts model requests when the failure is
// transient. Schema and input failures are never retried.
func WithRetry(attempts int, minWait, maxWait time.Duration) Option {
	return func(s *Service) {
		if attempts < 1 {
			attempts = 1
		}
		s.retry = retryPolicy{attempts: attempts, minWait: minWait, maxWait: maxWait}
	}
}

// WithRepairAttempt re-issues the request once with the rejection reason
// appended to the prompt when the first response is malformed or violates
// the schema.
func WithRepairAttempt() Option {
	return func(s *Service) { s.repair = true }
}

// NewService creates a Service backed by client.
func NewService(client ModelClient, opts ...Option) *Service {
	s := &Service{
		client:    client,
		tolerance: DefaultTolerance(),
		retry:     retryPolicy{attempts: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzePropertyPhotos estimates the renovation cost of the property shown
// in images. squareFootage may be nil when the floor area is unknown.
func (s *Service) AnalyzePropertyPhotos(ctx context.Context, images []PhotoInput, squareFootage *float64) (*RehabEstimate, error) {
	return s.Analyze(ctx, EstimationRequest{Images: images, SquareFootage: squareFootage})
}

// Analyze is AnalyzePropertyPhotos taking a request value.
func (s *Service) Analyze(ctx context.Context, req EstimationRequest) (*RehabEstimate, error) {
	start := time.Now()
	estimate, err := s.analyze(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	metrics.EstimatesTotal.WithLabelValues(outcome).Inc()
	metrics.EstimateDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return estimate, err
}

func (s *Service) analyze(ctx context.Context, req EstimationRequest) (*RehabEstimate, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{Err: err}
	}

	parts, err := EncodePhotos(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	validator := Validator{ImageCount: len(parts), Tolerance: s.tolerance}
	prompt := BuildPrompt(len(parts), req.SquareFootage)

	raw, err := s.request(ctx, parts, prompt)
	if err != nil {
		return nil, err
	}

	estimate, err := validator.Validate(raw)
	if err != nil && s.repair && repairable(err) {
		log.Warn().Err(err).Str("response", compactJSON(raw)).Msg("estimate response rejected, requesting repair")

		raw, err = s.request(ctx, parts, BuildRepairPrompt(len(parts), req.SquareFootage, rejectionReason(err)))
		if err != nil {
			return nil, err
		}
		estimate, err = validator.Validate(raw)
	}
	if err != nil {
		log.Warn().Err(err).Str("response", compactJSON(raw)).Msg("estimate response rejected")
		return nil, err
	}

	log.Info().
		Int("photos", len(parts)).
		Int("rooms", len(estimate.RoomBreakdowns)).
		Float64("totalCost", estimate.TotalEstimatedCost).
		Str("recommendation", string(estimate.StrategyAnalysis.Recommendation)).
		Msg("rehab estimate complete")

	return estimate, nil
}

func checkRequest(req EstimationRequest) error {
	if len(req.Images) == 0 {
		return &InvalidInputError{Reason: "at least one photo is required"}
	}
	if len(req.Images) > MaxPhotos {
		return &InvalidInputError{Reason: fmt.Sprintf("at most %d photos are allowed, got %d", MaxPhotos, len(req.Images))}
	}
	if sq := req.SquareFootage; sq != nil {
		if math.IsNaN(*sq) || math.IsInf(*sq, 0) || *sq < 0 {
			return &InvalidInputError{Reason: fmt.Sprintf("square footage must be a finite positive number, got %v", *sq)}
		}
	}
	return nil
}

// request calls the model, retrying transient failures when a retry policy
// is configured.
func (s *Service) request(ctx context.Context, parts []EncodedImagePart, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		raw, err := s.client.Request(ctx, parts, prompt)
		if err == nil || attempt+1 >= s.retry.attempts || !IsTransient(err) {
			return raw, err
		}

		wait := retryablehttp.DefaultBackoff(s.retry.minWait, s.retry.maxWait, attempt, nil)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("model request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &CancelledError{Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func repairable(err error) bool {
	var malformed *MalformedResponseError
	var violation *SchemaViolationError
	return errors.As(err, &malformed) || errors.As(err, &violation)
}

func rejectionReason(err error) string {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return fmt.Sprintf("it was not valid JSON (%v)", malformed.Err)
	}
	var violation *SchemaViolationError
	if errors.As(err, &violation) {
		return fmt.Sprintf("the field %s was invalid: %s", violation.Field, violation.Reason)
	}
	return err.Error()
}
