package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/domain"
)

const loginScope = "openid user user.birthday user.mii user.screenName"

var (
	ErrInvalidRedirect = errors.New("invalid login redirect link")
	ErrStateMismatch   = errors.New("login redirect state does not match")
)

// LoginRequest is one pending browser login. Verifier and State must be kept
// until the redirect link comes back.
type LoginRequest struct {
	URL      string
	State    string
	Verifier string
}

// LoginService implements the session_token_code PKCE login of the NSO app.
type LoginService struct {
	account     domain.AccountProvider
	accountsURL string
	clientID    string
}

// NewLoginService creates a new LoginService.
func NewLoginService(account domain.AccountProvider, cfgProvider config.Provider) *LoginService {
	cfg := cfgProvider.Get().Nintendo
	return &LoginService{
		account:     account,
		accountsURL: strings.TrimRight(cfg.AccountsURL, "/"),
		clientID:    cfg.ClientID,
	}
}

func (s *LoginService) redirectURI() string {
	return "npf" + s.clientID + "://auth"
}

// Start generates state and a PKCE verifier and builds the authorize URL.
func (s *LoginService) Start() (*LoginRequest, error) {
	stateBytes := make([]byte, 36)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate login state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)
	verifier := oauth2.GenerateVerifier()

	params := url.Values{
		"state":                               {state},
		"redirect_uri":                        {s.redirectURI()},
		"client_id":                           {s.clientID},
		"scope":                               {loginScope},
		"response_type":                       {"session_token_code"},
		"session_token_code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"session_token_code_challenge_method": {"S256"},
		"theme":                               {"login_form"},
	}
	return &LoginRequest{
		URL:      s.accountsURL + nintendo.AuthorizePath + "?" + params.Encode(),
		State:    state,
		Verifier: verifier,
	}, nil
}

// SessionTokenCode extracts session_token_code from the npf redirect link the
// browser shows after login. The parameters are in the URL fragment.
func (s *LoginService) SessionTokenCode(req *LoginRequest, redirectLink string) (string, error) {
	link := strings.TrimSpace(redirectLink)
	if !strings.HasPrefix(link, s.redirectURI()) {
		return "", fmt.Errorf("%w: must start with %s", ErrInvalidRedirect, s.redirectURI())
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	params, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRedirect, err)
	}
	if req != nil && params.Get("state") != req.State {
		return "", ErrStateMismatch
	}
	code := params.Get("session_token_code")
	if code == "" {
		return "", fmt.Errorf("%w: no session_token_code", ErrInvalidRedirect)
	}
	return code, nil
}

// Complete redeems the redirect link for a session token.
func (s *LoginService) Complete(ctx context.Context, req *LoginRequest, redirectLink string) (string, error) {
	if req == nil {
		return "", errors.New("complete login: no pending login request")
	}
	code, err := s.SessionTokenCode(req, redirectLink)
	if err != nil {
		return "", err
	}
	return s.account.SessionToken(ctx, code, req.Verifier, s.clientID)
}
