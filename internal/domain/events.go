package domain

import "context"

// CredentialRefreshedEvent is published after every successful full exchange.
// It never carries tokens.
type CredentialRefreshedEvent struct {
	Service   ServiceKind `json:"service"`
	AccountID string      `json:"account_id"`
	ExpiresAt int64       `json:"expires_at"`
	Renewed   bool        `json:"renewed"`
	ProxyURL  string      `json:"proxy_url,omitempty"`
}

// CredentialEventPublisher announces credential refreshes to other processes.
type CredentialEventPublisher interface {
	PublishCredentialRefreshed(ctx context.Context, event CredentialRefreshedEvent) error
}
