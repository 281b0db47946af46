package nintendo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sarayalth/nxapi/internal/domain"
)

const (
	sessionTokenPath = "/connect/1.0.0/api/session_token"
	tokenPath        = "/connect/1.0.0/api/token"
	userPath         = "/2.0.0/users/me"

	// AuthorizePath is the browser login page for the session_token_code flow.
	AuthorizePath = "/connect/1.0.0/authorize"

	sessionTokenGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer-session-token"
)

// accountErrorBody covers the error shapes the account provider uses.
type accountErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
	Title            string `json:"title"`
	Detail           string `json:"detail"`
}

func (b accountErrorBody) failed() bool {
	return b.code() != "" || b.ErrorMessage != ""
}

func (b accountErrorBody) code() string {
	if b.Error != "" {
		return b.Error
	}
	return b.ErrorCode
}

func (b accountErrorBody) message() string {
	switch {
	case b.ErrorDescription != "":
		return b.ErrorDescription
	case b.Detail != "":
		return b.Detail
	case b.ErrorMessage != "":
		return b.ErrorMessage
	}
	return b.Title
}

// AccountClient implements domain.AccountProvider against accounts.nintendo.com.
type AccountClient struct {
	opts ClientOptions
	http *httpDoer
}

// NewAccountClient creates a new AccountClient.
func NewAccountClient(opts ClientOptions) *AccountClient {
	return &AccountClient{opts: opts, http: opts.doer()}
}

func (c *AccountClient) send(ctx context.Context, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.AccountUserAgent())
	if c.opts.Language != "" {
		req.Header.Set("Accept-Language", c.opts.Language)
	}

	resp, err := c.http.do(ctx, domain.StepAccount, req)
	if err != nil {
		return err
	}

	var errBody accountErrorBody
	_ = json.Unmarshal(resp.Body, &errBody) //nolint:errcheck // only inspected for error fields
	if !resp.ok() || errBody.failed() {
		msg := errBody.message()
		if msg == "" && !resp.ok() {
			msg = truncate(resp.Body, 200)
		}
		return upstreamError(domain.StepAccount, req, resp.Status, errBody.code(), msg)
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return upstreamError(domain.StepAccount, req, resp.Status, "", fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

// SessionToken redeems a session_token_code from the browser login for a session token.
func (c *AccountClient) SessionToken(ctx context.Context, code, verifier, clientID string) (string, error) {
	form := url.Values{
		"client_id":                   {clientID},
		"session_token_code":          {code},
		"session_token_code_verifier": {verifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.AccountsURL+sessionTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build session token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		Code         string `json:"code"`
		SessionToken string `json:"session_token"`
	}
	if err := c.send(ctx, req, &out); err != nil {
		return "", err
	}
	if out.SessionToken == "" {
		return "", upstreamError(domain.StepAccount, req, http.StatusOK, "", "response has no session_token")
	}
	return out.SessionToken, nil
}

// Token exchanges a session token for a Nintendo Account token pair.
func (c *AccountClient) Token(ctx context.Context, sessionToken, clientID string) (*domain.NintendoAccountToken, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     clientID,
		"session_token": sessionToken,
		"grant_type":    sessionTokenGrantType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.AccountsURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	var token domain.NintendoAccountToken
	if err := c.send(ctx, req, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" || token.IDToken == "" {
		return nil, upstreamError(domain.StepAccount, req, http.StatusOK, "", "response is missing access_token or id_token")
	}
	return &token, nil
}

// User fetches the account profile for token.
func (c *AccountClient) User(ctx context.Context, token *domain.NintendoAccountToken) (*domain.AccountUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.AccountsAPIURL+userPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var user domain.AccountUser
	if err := c.send(ctx, req, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, upstreamError(domain.StepAccount, req, http.StatusOK, "", "response has no user id")
	}
	return &user, nil
}
