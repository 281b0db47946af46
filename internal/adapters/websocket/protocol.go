package websocket

import (
	"github.com/Sarayalth/nxapi/internal/domain"
)

// Subprotocol is the only subprotocol the event stream speaks.
const Subprotocol = "json.v1"

// Message types sent by the server on the event stream.
const (
	MessageTypeReady = "ready"
	MessageTypeEvent = "credential_refreshed"
	MessageTypeError = "error"
)

// BaseMessage is the envelope of every message in the json.v1 subprotocol.
type BaseMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ReadyPayload tells the client which events it will receive.
type ReadyPayload struct {
	Service   domain.ServiceKind `json:"service,omitempty"`
	AccountID string             `json:"account_id,omitempty"`
}

// NewReadyMessage is sent once, right after the upgrade.
func NewReadyMessage(filter EventFilter) BaseMessage {
	return BaseMessage{
		Type:    MessageTypeReady,
		Payload: ReadyPayload{Service: filter.Service, AccountID: filter.AccountID},
	}
}

// NewEventMessage wraps one credential event. The event never carries tokens.
func NewEventMessage(event domain.CredentialRefreshedEvent) BaseMessage {
	return BaseMessage{Type: MessageTypeEvent, Payload: event}
}

// NewErrorMessage wraps an error sent before the server closes the stream.
func NewErrorMessage(errResp domain.ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeError, Payload: errResp}
}

// EventFilter restricts a stream to one service and/or account. Zero values match everything.
type EventFilter struct {
	Service   domain.ServiceKind
	AccountID string
}

// Match reports whether event passes the filter.
func (f EventFilter) Match(event domain.CredentialRefreshedEvent) bool {
	if f.Service != "" && event.Service != f.Service {
		return false
	}
	if f.AccountID != "" && event.AccountID != f.AccountID {
		return false
	}
	return true
}
