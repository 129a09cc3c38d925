package rehab

import (
	"errors"
	"fmt"
)

// Error codes returned by ErrorCode. They are stable and safe to expose to
// API clients.
const (
	CodeInvalidInput      = "invalid_input"
	CodeEncoding          = "encoding_error"
	CodeAuth              = "auth_error"
	CodeTransport         = "transport_error"
	CodeProvider          = "provider_error"
	CodeMalformedResponse = "malformed_response"
	CodeSchemaViolation   = "schema_violation"
	CodeNotImplemented    = "not_implemented"
	CodeCancelled         = "cancelled"
	CodeInternal          = "internal_error"
)

// ErrNotImplemented matches every NotImplementedError via errors.Is.
var ErrNotImplemented = errors.New("capability not implemented")

// InvalidInputError reports a request that cannot be estimated as given.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Reason }
func (e *InvalidInputError) Code() string  { return CodeInvalidInput }

// EncodingError reports a photo whose bytes could not be read.
type EncodingError struct {
	Index int
	Name  string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("photo %d (%s) unreadable: %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("photo %d unreadable: %v", e.Index, e.Err)
}
func (e *EncodingError) Unwrap() error { return e.Err }
func (e *EncodingError) Code() string  { return CodeEncoding }

// AuthError reports a missing or rejected model credential.
type AuthError struct {
	Payload string // Raw provider error payload
	Err     error
}

func (e *AuthError) Error() string { return fmt.Sprintf("model credential rejected: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Code() string  { return CodeAuth }

// TransportError reports a network-level failure reaching the model.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("model endpoint unreachable: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Code() string  { return CodeTransport }

// ProviderError reports an application-level failure returned by a reachable
// model endpoint. Transient is set for rate limiting and server-side errors.
type ProviderError struct {
	StatusCode int
	Status     string
	Payload    string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model provider error %d %s: %v", e.StatusCode, e.Status, e.Err)
	}
	return fmt.Sprintf("model provider error: %v", e.Err)
}
func (e *ProviderError) Unwrap() error { return e.Err }
func (e *ProviderError) Code() string  { return CodeProvider }

// MalformedResponseError reports model output that is not valid JSON.
// Raw holds the full response text for diagnostics.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("model response is not valid JSON: %v", e.Err)
}
func (e *MalformedResponseError) Unwrap() error { return e.Err }
func (e *MalformedResponseError) Code() string  { return CodeMalformedResponse }

// SchemaViolationError reports valid JSON that does not match the estimate
// schema. Field is the path of the first offending field.
type SchemaViolationError struct {
	Field  string
	Reason string
	Raw    string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}
func (e *SchemaViolationError) Code() string { return CodeSchemaViolation }

// NotImplementedError is returned by capabilities this deployment does not
// provide. It is a result, not a failure of the request.
type NotImplementedError struct {
	Capability string
	Reason     string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented: %s", e.Capability, e.Reason)
}
func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }
func (e *NotImplementedError) Code() string         { return CodeNotImplemented }

// CancelledError reports that the caller cancelled the request or its
// deadline expired before the model answered.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string { return fmt.Sprintf("estimate cancelled: %v", e.Err) }
func (e *CancelledError) Unwrap() error { return e.Err }
func (e *CancelledError) Code() string  { return CodeCancelled }

// ErrorCode returns the stable code of the first typed error in err's chain,
// or CodeInternal for anything else.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// IsTransient reports whether repeating the same request may succeed.
// Only transport failures and transient provider failures qualify.
func IsTransient(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	return false
}
