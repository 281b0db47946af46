package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sarayalth/nxapi/internal/application"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/contextkeys"
)

const maxRequestBodyBytes = 64 << 10

// CredentialProvider is the credential cache as seen by the HTTP API.
type CredentialProvider interface {
	GetOrRefresh(ctx context.Context, sessionToken string, service domain.ServiceKind, opts ...application.RefreshOption) (*application.Session, error)
	Renew(ctx context.Context, sessionToken string, service domain.ServiceKind, opts ...application.RefreshOption) (*application.Session, error)
}

// AccountDirectory is the session selector as seen by the HTTP API.
type AccountDirectory interface {
	ListAccounts(ctx context.Context) ([]string, error)
	Selected(ctx context.Context) (string, error)
	Select(ctx context.Context, accountID string) error
	SessionTokenFor(ctx context.Context, service domain.ServiceKind, accountID string) (string, error)
	Forget(ctx context.Context, accountID string) error
}

// CredentialRequest is the payload of POST /v1/credentials/{service}.
// With no session_token the token linked to account_id (or the default account) is used.
type CredentialRequest struct {
	SessionToken string `json:"session_token,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
	Select       *bool  `json:"select,omitempty"`
}

// CredentialResponse carries a ready-to-use service access token.
type CredentialResponse struct {
	Service     domain.ServiceKind `json:"service"`
	AccountID   string             `json:"account_id"`
	AccessToken string             `json:"access_token"`
	ExpiresAt   int64              `json:"expires_at"`
	Fresh       bool               `json:"fresh"`
	Selected    bool               `json:"selected,omitempty"`
}

// AccountsResponse is returned by GET /v1/accounts.
type AccountsResponse struct {
	Accounts []string `json:"accounts"`
	Selected string   `json:"selected,omitempty"`
}

// SelectAccountRequest is the payload of PUT /v1/accounts/selected.
type SelectAccountRequest struct {
	AccountID string `json:"account_id"`
}

// CredentialHandlers serves the credential and account endpoints.
type CredentialHandlers struct {
	credentials CredentialProvider
	accounts    AccountDirectory
	logger      domain.Logger
}

// NewCredentialHandlers creates a new CredentialHandlers.
func NewCredentialHandlers(credentials CredentialProvider, accounts AccountDirectory, logger domain.Logger) *CredentialHandlers {
	return &CredentialHandlers{credentials: credentials, accounts: accounts, logger: logger}
}

// Register mounts the handlers on mux, wrapping each with wrap (auth, request id).
func (h *CredentialHandlers) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/credentials/{service}", wrap(http.HandlerFunc(h.GetCredential)))
	mux.Handle("POST /v1/credentials/{service}/renew", wrap(http.HandlerFunc(h.RenewCredential)))
	mux.Handle("GET /v1/accounts", wrap(http.HandlerFunc(h.ListAccounts)))
	mux.Handle("PUT /v1/accounts/selected", wrap(http.HandlerFunc(h.SelectAccount)))
	mux.Handle("DELETE /v1/accounts/{id}", wrap(http.HandlerFunc(h.ForgetAccount)))
}

func (h *CredentialHandlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	h.serveCredential(w, r, false)
}

func (h *CredentialHandlers) RenewCredential(w http.ResponseWriter, r *http.Request) {
	h.serveCredential(w, r, true)
}

func (h *CredentialHandlers) serveCredential(w http.ResponseWriter, r *http.Request, renew bool) {
	ctx := r.Context()
	service, err := domain.ParseServiceKind(r.PathValue("service"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	ctx = context.WithValue(ctx, contextkeys.ServiceKey, string(service))

	var req CredentialRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
			h.logger.Warn(ctx, "Failed to decode credential request", "error", err.Error())
			domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
	}

	token := req.SessionToken
	if token == "" {
		token, err = h.accounts.SessionTokenFor(ctx, service, req.AccountID)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
	}

	var opts []application.RefreshOption
	if req.Select != nil {
		opts = append(opts, application.WithSelect(*req.Select))
	}

	var sess *application.Session
	if renew {
		sess, err = h.credentials.Renew(ctx, token, service, opts...)
	} else {
		sess, err = h.credentials.GetOrRefresh(ctx, token, service, opts...)
	}
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, CredentialResponse{
		Service:     service,
		AccountID:   sess.Record.AccountID(),
		AccessToken: sess.Record.AccessToken(),
		ExpiresAt:   sess.Record.ExpiresAtMillis(),
		Fresh:       sess.Fresh,
		Selected:    sess.Selected,
	})
}

func (h *CredentialHandlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.accounts.ListAccounts(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	selected, err := h.accounts.Selected(ctx)
	if err != nil && !errors.Is(err, domain.ErrNoSelectedUser) {
		h.writeError(ctx, w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: ids, Selected: selected})
}

func (h *CredentialHandlers) SelectAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req SelectAccountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil || req.AccountID == "" {
		domain.NewErrorResponse(domain.ErrCodeBadRequest, "Invalid request payload", "account_id is required.").WriteJSON(w, http.StatusBadRequest)
		return
	}
	if err := h.accounts.Select(ctx, req.AccountID); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Selected: req.AccountID})
}

func (h *CredentialHandlers) ForgetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.accounts.Forget(ctx, r.PathValue("id")); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors onto API error responses.
func (h *CredentialHandlers) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var upErr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrInvalidCredential):
		domain.NewErrorResponse(domain.ErrCodeInvalidCredential, "Session token is required", "").WriteJSON(w, http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnsupportedService):
		domain.NewErrorResponse(domain.ErrCodeUnsupportedService, "Unsupported service", err.Error()).WriteJSON(w, http.StatusBadRequest)
	case errors.Is(err, domain.ErrAccountNotLinked), errors.Is(err, domain.ErrNoSelectedUser):
		domain.NewErrorResponse(domain.ErrCodeAccountNotLinked, "No session token for account", err.Error()).WriteJSON(w, http.StatusNotFound)
	case errors.Is(err, domain.ErrExchangeLockTimeout):
		domain.NewErrorResponse(domain.ErrCodeExchangeLockTimeout, "Token exchange in progress elsewhere", "").WriteJSON(w, http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrCredentialRejected):
		domain.NewErrorResponse(domain.ErrCodeCredentialRejected, "Service rejected the credential", err.Error()).WriteJSON(w, http.StatusUnauthorized)
	case errors.As(err, &upErr):
		h.logger.Warn(ctx, "Upstream rejected token exchange", "step", string(upErr.Step), "status", upErr.Status, "code", upErr.Code)
		domain.NewErrorResponse(domain.ErrCodeUpstream, "Upstream "+string(upErr.Step)+" request failed", upErr.Error()).WriteJSON(w, http.StatusBadGateway)
	case errors.Is(err, domain.ErrNetworkFailure):
		domain.NewErrorResponse(domain.ErrCodeNetwork, "Upstream unreachable", err.Error()).WriteJSON(w, http.StatusGatewayTimeout)
	default:
		h.logger.Error(ctx, "Credential request failed", "error", err.Error())
		domain.NewErrorResponse(domain.ErrCodeInternal, "Internal server error", "").WriteJSON(w, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
