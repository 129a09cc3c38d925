package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/rs/zerolog/hlog"
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Field  string `json:"field,omitempty"`
}

// statusForError maps a rehab error onto an HTTP status.
func statusForError(err error) int {
	switch rehab.ErrorCode(err) {
	case rehab.CodeInvalidInput:
		return http.StatusBadRequest
	case rehab.CodeEncoding:
		return http.StatusUnprocessableEntity
	case rehab.CodeAuth:
		// A rejected server credential is our misconfiguration, not the caller's
		return http.StatusInternalServerError
	case rehab.CodeTransport:
		return http.StatusServiceUnavailable
	case rehab.CodeProvider:
		if rehab.IsTransient(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case rehab.CodeMalformedResponse, rehab.CodeSchemaViolation:
		return http.StatusBadGateway
	case rehab.CodeNotImplemented:
		return http.StatusNotImplemented
	case rehab.CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeRehabError renders a rehab error. Model output and provider payloads
// are logged but never returned to the caller.
func writeRehabError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	resp := ErrorResponse{Error: rehab.ErrorCode(err), Detail: err.Error()}

	event := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		event = hlog.FromRequest(r).Error()
	}

	var violation *rehab.SchemaViolationError
	var malformed *rehab.MalformedResponseError
	var providerErr *rehab.ProviderError
	var authErr *rehab.AuthError
	switch {
	case errors.As(err, &violation):
		resp.Field = violation.Field
		event = event.Str("response", violation.Raw)
	case errors.As(err, &malformed):
		event = event.Str("response", malformed.Raw)
	case errors.As(err, &providerErr):
		event = event.Str("payload", providerErr.Payload)
	case errors.As(err, &authErr):
		event = event.Str("payload", authErr.Payload)
		resp.Detail = "the estimation service is misconfigured"
	}
	event.Err(err).Str("code", resp.Error).Int("status", status).Msg("rehab request failed")

	writeError(w, r, status, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, resp)
}
