package domain

import "context"

// AttestationStep is the kind of identity token being attested.
type AttestationStep string

const (
	// AttestNSO attests a Nintendo Account id token for the znc account login.
	AttestNSO AttestationStep = "nso"
	// AttestAPP attests a znc web API token for game web service tokens.
	AttestAPP AttestationStep = "app"
)

// AttestationRequest carries the single-use inputs of one attestation.
type AttestationRequest struct {
	IdentityToken string
	Timestamp     string
	RequestID     string
	Step          AttestationStep
}

// AttestationTransport obtains an "f" value from an external attestation service.
type AttestationTransport interface {
	Attest(ctx context.Context, req AttestationRequest) (*AttestationResult, error)

	// Name identifies the transport in logs and metrics.
	Name() string

	// ProxyURL is the operator-configured proxy base URL, or "" for the direct transport.
	ProxyURL() string
}

// AccountProvider talks to the Nintendo Account provider.
type AccountProvider interface {
	// SessionToken redeems a session_token_code obtained via the browser login.
	SessionToken(ctx context.Context, code, verifier, clientID string) (string, error)

	// Token exchanges a session token for a Nintendo Account token pair.
	Token(ctx context.Context, sessionToken, clientID string) (*NintendoAccountToken, error)

	// User fetches the account profile.
	User(ctx context.Context, token *NintendoAccountToken) (*AccountUser, error)
}

// NsoLoginRequest is the znc Account/Login parameter.
type NsoLoginRequest struct {
	IDToken   string
	Birthday  string
	Country   string
	Language  string
	Timestamp string
	RequestID string
	F         string
}

// NsoAuthenticator exchanges an attested Nintendo Account id token for a znc credential.
type NsoAuthenticator interface {
	Login(ctx context.Context, req NsoLoginRequest) (*NsoAccount, error)
}
