package mocks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// MockAccountProvider implements domain.AccountProvider. Every session token
// maps to the account "na-<token>" unless Users overrides it.
type MockAccountProvider struct {
	mu sync.Mutex

	// TokenErr, when set, is returned by Token.
	TokenErr error
	// UserErr, when set, is returned by User.
	UserErr error
	// Users maps a session token to the account id it belongs to.
	Users map[string]string
	// ExpiresIn is the account access token lifetime in seconds.
	ExpiresIn int64
	// Delay slows Token down so concurrent callers overlap.
	Delay time.Duration

	TokenCalls   int64
	UserCalls    int64
	SessionCalls int64

	ClientIDs []string
}

// NewMockAccountProvider creates a new mock account provider
func NewMockAccountProvider() *MockAccountProvider {
	return &MockAccountProvider{Users: make(map[string]string), ExpiresIn: 900}
}

// SessionToken implements domain.AccountProvider
func (m *MockAccountProvider) SessionToken(ctx context.Context, code, verifier, clientID string) (string, error) {
	atomic.AddInt64(&m.SessionCalls, 1)
	if code == "" || verifier == "" {
		return "", &domain.UpstreamError{Step: domain.StepAccount, Status: 400, Code: "invalid_request", Message: "missing code or verifier"}
	}
	return "session-" + code, nil
}

// Token implements domain.AccountProvider. The id token embeds the session
// token so calls can be traced back to it.
func (m *MockAccountProvider) Token(ctx context.Context, sessionToken, clientID string) (*domain.NintendoAccountToken, error) {
	atomic.AddInt64(&m.TokenCalls, 1)
	m.mu.Lock()
	m.ClientIDs = append(m.ClientIDs, clientID)
	err := m.TokenErr
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.NintendoAccountToken{
		IDToken:     "id." + sessionToken,
		AccessToken: "na-access." + sessionToken,
		ExpiresIn:   m.ExpiresIn,
		TokenType:   "Bearer",
	}, nil
}

// User implements domain.AccountProvider
func (m *MockAccountProvider) User(ctx context.Context, token *domain.NintendoAccountToken) (*domain.AccountUser, error) {
	atomic.AddInt64(&m.UserCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UserErr != nil {
		return nil, m.UserErr
	}

	sessionToken := token.IDToken[len("id."):]
	id, ok := m.Users[sessionToken]
	if !ok {
		id = "na-" + sessionToken
	}
	return &domain.AccountUser{
		ID:       id,
		Nickname: "nick-" + id,
		Birthday: "1990-01-01",
		Country:  "GB",
		Language: "en-GB",
	}, nil
}

// Calls returns the Token and User call counts.
func (m *MockAccountProvider) Calls() (token, user int64) {
	return atomic.LoadInt64(&m.TokenCalls), atomic.LoadInt64(&m.UserCalls)
}

// MockAttestationTransport implements domain.AttestationTransport and records requests.
type MockAttestationTransport struct {
	mu       sync.Mutex
	requests []domain.AttestationRequest

	// Err, when set, is returned by Attest.
	Err error
	// Proxy is returned by ProxyURL.
	Proxy string
}

// NewMockAttestationTransport creates a new mock attestation transport
func NewMockAttestationTransport() *MockAttestationTransport {
	return &MockAttestationTransport{}
}

// Attest implements domain.AttestationTransport
func (m *MockAttestationTransport) Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return &domain.AttestationResult{
		F:         fmt.Sprintf("f-%s-%d", req.Step, len(m.requests)),
		Timestamp: req.Timestamp,
		RequestID: req.RequestID,
	}, nil
}

// Name implements domain.AttestationTransport
func (m *MockAttestationTransport) Name() string { return "mock" }

// ProxyURL implements domain.AttestationTransport
func (m *MockAttestationTransport) ProxyURL() string { return m.Proxy }

// Requests returns a copy of every attestation request.
func (m *MockAttestationTransport) Requests() []domain.AttestationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AttestationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// MockNsoAuthenticator implements domain.NsoAuthenticator.
type MockNsoAuthenticator struct {
	mu       sync.Mutex
	requests []domain.NsoLoginRequest

	// Err, when set, is returned by Login.
	Err error
	// ExpiresIn is the web API server credential lifetime in seconds.
	ExpiresIn int64
}

// NewMockNsoAuthenticator creates a new mock NSO authenticator
func NewMockNsoAuthenticator() *MockNsoAuthenticator {
	return &MockNsoAuthenticator{ExpiresIn: 7200}
}

// Login implements domain.NsoAuthenticator
func (m *MockNsoAuthenticator) Login(ctx context.Context, req domain.NsoLoginRequest) (*domain.NsoAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	account := &domain.NsoAccount{}
	account.User.ID = int64(len(m.requests))
	account.User.NsaID = "nsa-" + req.RequestID
	account.User.Name = "player"
	account.WebAPIServerCredential = domain.ServiceCredential{
		AccessToken: fmt.Sprintf("znc-access-%d.%s", len(m.requests), req.F),
		ExpiresIn:   m.ExpiresIn,
	}
	return account, nil
}

// Requests returns a copy of every login request.
func (m *MockNsoAuthenticator) Requests() []domain.NsoLoginRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.NsoLoginRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
