package nintendo

import (
	"encoding/json"
	"fmt"
)

// ZncStatusOK is the envelope status of a successful znc response.
const ZncStatusOK = 0

// znc statuses meaning the bearer token is no longer accepted.
const (
	ZncStatusInvalidToken = 9403
	ZncStatusTokenExpired = 9404
)

// Failure is the error arm of a znc response envelope.
type Failure struct {
	Status        int
	Message       string
	CorrelationID string
}

// Result is a decoded znc response: exactly one of the value or the failure is set.
type Result[T any] struct {
	ok      bool
	value   T
	failure Failure
}

// Ok returns the result value and true on success.
func (r Result[T]) Ok() (T, bool) {
	return r.value, r.ok
}

// Err returns the failure and true when the envelope reported an error.
func (r Result[T]) Err() (Failure, bool) {
	return r.failure, !r.ok
}

type zncEnvelope struct {
	Status        *int            `json:"status"`
	Result        json.RawMessage `json:"result"`
	ErrorMessage  string          `json:"errorMessage"`
	CorrelationID string          `json:"correlationId"`
}

// DecodeResult decodes a znc envelope. The returned error is only for bodies
// that are not an envelope at all.
func DecodeResult[T any](body []byte) (Result[T], error) {
	var env zncEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result[T]{}, fmt.Errorf("decode znc envelope: %w", err)
	}
	if env.Status == nil && env.ErrorMessage == "" {
		return Result[T]{}, fmt.Errorf("decode znc envelope: no status field")
	}

	status := -1
	if env.Status != nil {
		status = *env.Status
	}
	if env.ErrorMessage != "" || status != ZncStatusOK {
		msg := env.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		return Result[T]{failure: Failure{Status: status, Message: msg, CorrelationID: env.CorrelationID}}, nil
	}

	var value T
	if len(env.Result) > 0 && string(env.Result) != "null" {
		if err := json.Unmarshal(env.Result, &value); err != nil {
			return Result[T]{}, fmt.Errorf("decode znc result: %w", err)
		}
	}
	return Result[T]{ok: true, value: value}, nil
}
