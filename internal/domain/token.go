package domain

import (
	"fmt"
	"strings"
	"time"
)

// ServiceKind selects which game service a credential is issued for.
type ServiceKind string

const (
	// ServiceNSO is the Nintendo Switch Online app service (znc).
	ServiceNSO ServiceKind = "nso"
	// ServicePCTL is the parental-control service (moon).
	ServicePCTL ServiceKind = "pctl"
)

// ParseServiceKind accepts the names used on the CLI and the HTTP API.
func ParseServiceKind(s string) (ServiceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nso", "znc", "app":
		return ServiceNSO, nil
	case "pctl", "moon":
		return ServicePCTL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedService, s)
}

// ExchangePhase is a state of the full token exchange state machine.
type ExchangePhase string

const (
	PhaseStart           ExchangePhase = "START"
	PhaseAccountExchange ExchangePhase = "ACCOUNT_EXCHANGE"
	PhaseAttest          ExchangePhase = "ATTEST"
	PhaseServiceExchange ExchangePhase = "SERVICE_EXCHANGE"
	PhaseDone            ExchangePhase = "DONE"
	PhaseFailed          ExchangePhase = "FAILED"
)

// NintendoAccountToken is the result of exchanging a session token at the account provider.
// It is consumed immediately and never cached on its own.
type NintendoAccountToken struct {
	IDToken     string   `json:"id_token"`
	AccessToken string   `json:"access_token"`
	ExpiresIn   int64    `json:"expires_in"`
	Scope       []string `json:"scope,omitempty"`
	TokenType   string   `json:"token_type,omitempty"`
}

// AccountUser is the Nintendo Account profile fetched alongside the account token.
type AccountUser struct {
	ID         string `json:"id"`
	Nickname   string `json:"nickname"`
	ScreenName string `json:"screenName,omitempty"`
	Birthday   string `json:"birthday"`
	Country    string `json:"country"`
	Language   string `json:"language"`
}

// AttestationResult is a single-use "f" value bound to one identity token,
// timestamp, request id and step kind.
type AttestationResult struct {
	F         string `json:"f"`
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

// ServiceCredential is the NSO web API server credential.
type ServiceCredential struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// NsoAccount is the znc account login result embedded in NSO records.
type NsoAccount struct {
	User struct {
		ID         int64  `json:"id"`
		NsaID      string `json:"nsaId"`
		ImageURI   string `json:"imageUri"`
		Name       string `json:"name"`
		SupportID  string `json:"supportId"`
		Membership struct {
			Active bool `json:"active"`
		} `json:"membership"`
	} `json:"user"`
	WebAPIServerCredential ServiceCredential `json:"webApiServerCredential"`
	FirebaseCredential     struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	} `json:"firebaseCredential"`
}

// NsoTokenRecord is the cached record for the NSO app service, stored under NsoToken.<session token>.
type NsoTokenRecord struct {
	UUID                 string               `json:"uuid"`
	Timestamp            string               `json:"timestamp"`
	NintendoAccountToken NintendoAccountToken `json:"nintendoAccountToken"`
	User                 AccountUser          `json:"user"`
	Attestation          AttestationResult    `json:"flapg"`
	NsoAccount           NsoAccount           `json:"nsoAccount"`
	Credential           ServiceCredential    `json:"credential"`

	// ExpiresAt is absolute epoch milliseconds.
	ExpiresAt int64 `json:"expires_at"`
	// ProxyURL is set when the attestation proxy transport produced the record.
	ProxyURL string `json:"proxy_url,omitempty"`
}

// MoonTokenRecord is the cached record for the parental-control service, stored under MoonToken.<session token>.
type MoonTokenRecord struct {
	NintendoAccountToken NintendoAccountToken `json:"nintendoAccountToken"`
	User                 AccountUser          `json:"user"`

	ExpiresAt int64 `json:"expires_at"`
}

// CachedTokenRecord is what the credential cache needs from either record type.
type CachedTokenRecord interface {
	Service() ServiceKind
	AccountID() string
	AccessToken() string
	ExpiresAtMillis() int64
	Valid(now time.Time) bool
}

func (r *NsoTokenRecord) Service() ServiceKind { return ServiceNSO }
func (r *NsoTokenRecord) AccountID() string { return r.User.ID }
func (r *NsoTokenRecord) AccessToken() string { return r.Credential.AccessToken }
func (r *NsoTokenRecord) ExpiresAtMillis() int64 { return r.ExpiresAt }
func (r *NsoTokenRecord) Valid(now time.Time) bool { return r.ExpiresAt > now.UnixMilli() }

func (r *MoonTokenRecord) Service() ServiceKind { return ServicePCTL }
func (r *MoonTokenRecord) AccountID() string { return r.User.ID }
func (r *MoonTokenRecord) AccessToken() string { return r.NintendoAccountToken.AccessToken }
func (r *MoonTokenRecord) ExpiresAtMillis() int64 { return r.ExpiresAt }
func (r *MoonTokenRecord) Valid(now time.Time) bool { return r.ExpiresAt > now.UnixMilli() }

// ExpiresAtFrom computes the absolute expiry for a credential created at now.
func ExpiresAtFrom(now time.Time, expiresInSeconds int64) int64 {
	return now.UnixMilli() + expiresInSeconds*1000
}
