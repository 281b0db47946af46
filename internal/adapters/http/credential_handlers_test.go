package http_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/benchmarks/mocks"
	apphttp "github.com/Sarayalth/nxapi/internal/adapters/http"
	"github.com/Sarayalth/nxapi/internal/adapters/middleware"
	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/application"
	"github.com/Sarayalth/nxapi/internal/domain"
)

type apiFixture struct {
	mux       *http.ServeMux
	store     *mocks.MockKVStore
	account   *mocks.MockAccountProvider
	transport *mocks.MockAttestationTransport
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		mux:       http.NewServeMux(),
		store:     mocks.NewMockKVStore(),
		account:   mocks.NewMockAccountProvider(),
		transport: mocks.NewMockAttestationTransport(),
	}
	cfg := mocks.NewMockConfigProvider()
	logger := mocks.NewMockLogger()

	attester := application.NewAttestationClient(f.transport, cfg, logger)
	exchanger := application.NewExchanger(f.account, attester, mocks.NewMockNsoAuthenticator(), cfg, logger)
	selector := application.NewSessionSelector(f.store, logger)
	clients := nintendo.NewFactory(nintendo.NewClientOptions(cfg.Get()), attester)
	svc := application.NewCredentialService(f.store, exchanger, selector, nil, mocks.NewMockEventPublisher(), clients, cfg, logger)
	t.Cleanup(svc.Wait)

	auth := middleware.APIKeyAuthMiddleware(cfg, logger)
	apphttp.NewCredentialHandlers(svc, selector, logger).Register(f.mux, func(h http.Handler) http.Handler {
		return middleware.Chain(h, middleware.RequestIDMiddleware, auth)
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-API-Key", "test-api-key")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestGetCredential_ExchangeThenHit(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get(middleware.XRequestIDHeader))

	first := decode[apphttp.CredentialResponse](t, rec)
	assert.Equal(t, domain.ServiceNSO, first.Service)
	assert.Equal(t, "na-s1", first.AccountID)
	assert.NotEmpty(t, first.AccessToken)
	assert.True(t, first.Fresh)
	assert.True(t, first.Selected, "the first linked account becomes the default")

	rec = f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[apphttp.CredentialResponse](t, rec)
	assert.False(t, second.Fresh)
	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Len(t, f.transport.Requests(), 1)
}

func TestGetCredential_UsesSelectedAccount(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s1"}).Code)

	rec := f.do(t, http.MethodPost, "/v1/credentials/nso", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "na-s1", decode[apphttp.CredentialResponse](t, rec).AccountID)

	rec = f.do(t, http.MethodPost, "/v1/credentials/pctl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "pctl has no linked token yet")
	assert.Equal(t, domain.ErrCodeAccountNotLinked, decode[domain.ErrorResponse](t, rec).Code)
}

func TestGetCredential_Errors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/credentials/splatnet", apphttp.CredentialRequest{SessionToken: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrCodeUnsupportedService, decode[domain.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/v1/credentials/nso", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no default account")

	f.account.TokenErr = &domain.UpstreamError{Step: domain.StepAccount, Status: http.StatusBadRequest, Code: "invalid_grant"}
	rec = f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "revoked"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, domain.ErrCodeUpstream, decode[domain.ErrorResponse](t, rec).Code)

	f.account.TokenErr = &domain.NetworkError{Step: domain.StepAccount, Err: errors.New("dial tcp: timeout")}
	rec = f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "offline"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/credentials/nso", bytes.NewBufferString("{not json"))
	req.Header.Set("X-API-Key", "test-api-key")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCredential_RequiresAPIKey(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRenewCredential(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s1"}).Code)

	rec := f.do(t, http.MethodPost, "/v1/credentials/nso/renew", apphttp.CredentialRequest{SessionToken: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[apphttp.CredentialResponse](t, rec).Fresh)
	assert.Len(t, f.transport.Requests(), 2)
}

func TestAccounts_ListSelectForget(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s1"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/nso", apphttp.CredentialRequest{SessionToken: "s2"}).Code)

	rec := f.do(t, http.MethodGet, "/v1/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, apphttp.AccountsResponse{Accounts: []string{"na-s1", "na-s2"}, Selected: "na-s1"}, decode[apphttp.AccountsResponse](t, rec))

	rec = f.do(t, http.MethodPut, "/v1/accounts/selected", apphttp.SelectAccountRequest{AccountID: "na-s2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/accounts/selected", apphttp.SelectAccountRequest{AccountID: "na-unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/accounts/selected", apphttp.SelectAccountRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/accounts/na-s2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/accounts", nil)
	assert.Equal(t, apphttp.AccountsResponse{Accounts: []string{"na-s1"}}, decode[apphttp.AccountsResponse](t, rec))
}
