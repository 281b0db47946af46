package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error condition returned by the HTTP API.
type ErrorCode string

const (
	ErrCodeInvalidAPIKey       ErrorCode = "InvalidAPIKey"       // HTTP 401
	ErrCodeInvalidCredential   ErrorCode = "InvalidCredential"   // HTTP 400, missing session token
	ErrCodeUpstream            ErrorCode = "UpstreamError"       // HTTP 502
	ErrCodeNetwork             ErrorCode = "NetworkFailure"      // HTTP 504
	ErrCodeCredentialRejected  ErrorCode = "CredentialRejected"  // HTTP 401 from a game service
	ErrCodeBadRequest          ErrorCode = "BadRequest"          // HTTP 400
	ErrCodeNotFound            ErrorCode = "NotFound"            // HTTP 404
	ErrCodeMethodNotAllowed    ErrorCode = "MethodNotAllowed"    // HTTP 405
	ErrCodeInternal            ErrorCode = "InternalServerError" // HTTP 500
	ErrCodeServiceUnavailable  ErrorCode = "ServiceUnavailable"  // HTTP 503
	ErrCodeUnsupportedService  ErrorCode = "UnsupportedService"  // HTTP 400
	ErrCodeAccountNotLinked    ErrorCode = "AccountNotLinked"    // HTTP 404
	ErrCodeExchangeLockTimeout ErrorCode = "ExchangeLockTimeout" // HTTP 503
)

// ErrorResponse is the standard error format returned to HTTP API clients.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}

var (
	// ErrInvalidCredential is returned when the caller supplies an empty session token.
	ErrInvalidCredential = errors.New("invalid credential: session token is empty")

	// ErrCacheCorruption marks a stored record that could not be decoded.
	// The credential cache treats it as a miss.
	ErrCacheCorruption = errors.New("cached token record is corrupted")

	// ErrNotFound is returned by KV stores for missing keys.
	ErrNotFound = errors.New("key not found")

	// ErrNetworkFailure is matched by every transport-level failure (no response received).
	ErrNetworkFailure = errors.New("network failure")

	// ErrUpstream is matched by every UpstreamError regardless of step.
	ErrUpstream = errors.New("upstream error")

	ErrAttestationFailed     = errors.New("attestation failed")
	ErrAccountExchangeFailed = errors.New("nintendo account token exchange failed")
	ErrServiceExchangeFailed = errors.New("service token exchange failed")

	// ErrCredentialRejected is returned by service clients when the service
	// refuses the access token (expired early or revoked).
	ErrCredentialRejected = errors.New("service credential rejected")

	ErrUnsupportedService  = errors.New("unsupported service kind")
	ErrAccountNotLinked    = errors.New("no session token linked for account")
	ErrNoSelectedUser      = errors.New("no default user selected")
	ErrExchangeLockTimeout = errors.New("timed out waiting for exchange lock")
)

// Step identifies which remote collaborator produced an UpstreamError.
type Step string

const (
	StepAccount     Step = "account"
	StepAttestation Step = "attestation"
	StepService     Step = "service"
)

// UpstreamError is a non-success HTTP status or an explicit error payload
// returned by the account provider, the attestation service or a game service.
type UpstreamError struct {
	Step     Step
	Method   string
	Endpoint string
	Status   int    // HTTP status code
	Code     string // upstream error code or envelope status, if any
	Message  string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s %s: HTTP %d (%s): %s", e.Step, e.Method, e.Endpoint, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s %s: HTTP %d: %s", e.Step, e.Method, e.Endpoint, e.Status, msg)
}

// Is lets errors.Is match both ErrUpstream and the step-specific sentinel.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrAttestationFailed:
		return e.Step == StepAttestation
	case ErrAccountExchangeFailed:
		return e.Step == StepAccount
	case ErrServiceExchangeFailed:
		return e.Step == StepService
	}
	return false
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Step     Step
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: request to %s failed: %v", e.Step, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrNetworkFailure:
		return true
	case ErrAttestationFailed:
		return e.Step == StepAttestation
	case ErrAccountExchangeFailed:
		return e.Step == StepAccount
	case ErrServiceExchangeFailed:
		return e.Step == StepService
	}
	return false
}

// ExchangeError records the phase in which a full exchange failed.
type ExchangeError struct {
	Service ServiceKind
	Phase   ExchangePhase
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed during %s: %v", e.Service, e.Phase, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }
