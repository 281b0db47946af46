package nintendo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Sarayalth/nxapi/internal/domain"
)

const (
	zncLoginPath           = "/v3/Account/Login"
	zncWebServiceTokenPath = "/v2/Game/GetWebServiceToken"
	zncWebServicesPath     = "/v1/Game/ListWebServices"
	zncFriendListPath      = "/v3/Friend/List"
	zncFavoriteCreatePath  = "/v3/Friend/Favorite/Create"
	zncFavoriteDeletePath  = "/v3/Friend/Favorite/Delete"
	zncUserShowPath        = "/v3/User/Show"
	zncShowSelfPath        = "/v3/User/ShowSelf"
	zncPermissionsPath     = "/v3/User/Permissions/ShowSelf"
	zncUpdatePermsPath     = "/v3/User/Permissions/UpdateSelf"
	zncAnnouncementsPath   = "/v1/Announcement/List"
	zncActiveEventPath     = "/v1/Event/GetActiveEvent"
	zncEventShowPath       = "/v1/Event/Show"
)

// Attester produces an attestation for one identity token.
type Attester interface {
	Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error)
}

// ZncClient talks to the Nintendo Switch Online app API.
// A client without an access token can only call Login.
type ZncClient struct {
	opts     ClientOptions
	http     *httpDoer
	token    string
	attester Attester
	now      func() time.Time
}

// NewZncClient creates a client bound to accessToken. attester is used by
// GetWebServiceToken and may be nil if that call is not needed.
func NewZncClient(opts ClientOptions, accessToken string, attester Attester) *ZncClient {
	return &ZncClient{
		opts:     opts,
		http:     opts.doer(),
		token:    accessToken,
		attester: attester,
		now:      time.Now,
	}
}

// AccessToken returns the bearer token the client sends.
func (c *ZncClient) AccessToken() string {
	return c.token
}

type zncRequest struct {
	Parameter any `json:"parameter"`
}

var emptyParameter = zncRequest{Parameter: struct{}{}}

func isRejectedStatus(status int) bool {
	return status == ZncStatusInvalidToken || status == ZncStatusTokenExpired
}

func callZnc[T any](ctx context.Context, c *ZncClient, path string, payload any) (T, error) {
	var zero T

	body, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.ZncURL+path, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("X-Platform", c.opts.ZncaPlatform)
	req.Header.Set("X-ProductVersion", c.opts.ZncaVersion)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", c.opts.ZncUserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.do(ctx, domain.StepService, req)
	if err != nil {
		return zero, err
	}

	result, decodeErr := DecodeResult[T](resp.Body)
	if decodeErr != nil {
		upErr := upstreamError(domain.StepService, req, resp.Status, "", truncate(resp.Body, 200))
		if resp.ok() {
			upErr.Message = decodeErr.Error()
		}
		if resp.Status == http.StatusUnauthorized {
			return zero, fmt.Errorf("%w: %w", domain.ErrCredentialRejected, upErr)
		}
		return zero, upErr
	}

	if failure, failed := result.Err(); failed {
		upErr := upstreamError(domain.StepService, req, resp.Status, strconv.Itoa(failure.Status), failure.Message)
		if resp.Status == http.StatusUnauthorized || isRejectedStatus(failure.Status) {
			return zero, fmt.Errorf("%w: %w", domain.ErrCredentialRejected, upErr)
		}
		return zero, upErr
	}

	value, _ := result.Ok()
	return value, nil
}

// Login implements domain.NsoAuthenticator (/v3/Account/Login).
func (c *ZncClient) Login(ctx context.Context, in domain.NsoLoginRequest) (*domain.NsoAccount, error) {
	param := map[string]string{
		"naIdToken":  in.IDToken,
		"naBirthday": in.Birthday,
		"naCountry":  in.Country,
		"language":   in.Language,
		"timestamp":  in.Timestamp,
		"requestId":  in.RequestID,
		"f":          in.F,
	}
	account, err := callZnc[domain.NsoAccount](ctx, c, zncLoginPath, zncRequest{Parameter: param})
	if err != nil {
		return nil, err
	}
	if account.WebAPIServerCredential.AccessToken == "" {
		return nil, &domain.UpstreamError{
			Step:     domain.StepService,
			Method:   http.MethodPost,
			Endpoint: c.opts.ZncURL + zncLoginPath,
			Status:   http.StatusOK,
			Message:  "login result has no webApiServerCredential",
		}
	}
	return &account, nil
}

// GetWebServiceToken obtains a token for a game web service, attesting the znc
// token with the APP step.
func (c *ZncClient) GetWebServiceToken(ctx context.Context, webServiceID int64) (*WebServiceToken, error) {
	if c.attester == nil {
		return nil, errors.New("znc client has no attester configured")
	}
	attReq := domain.AttestationRequest{
		IdentityToken: c.token,
		Timestamp:     strconv.FormatInt(c.now().Unix(), 10),
		RequestID:     uuid.NewString(),
		Step:          domain.AttestAPP,
	}
	att, err := c.attester.Attest(ctx, attReq)
	if err != nil {
		return nil, err
	}
	param := map[string]any{
		"id":                webServiceID,
		"registrationToken": c.token,
		"f":                 att.F,
		"requestId":         attReq.RequestID,
		"timestamp":         attReq.Timestamp,
	}
	token, err := callZnc[WebServiceToken](ctx, c, zncWebServiceTokenPath, zncRequest{Parameter: param})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *ZncClient) ListWebServices(ctx context.Context) ([]WebService, error) {
	return callZnc[[]WebService](ctx, c, zncWebServicesPath, map[string]string{"requestId": uuid.NewString()})
}

func (c *ZncClient) FriendList(ctx context.Context) (*Friends, error) {
	friends, err := callZnc[Friends](ctx, c, zncFriendListPath, emptyParameter)
	if err != nil {
		return nil, err
	}
	return &friends, nil
}

func (c *ZncClient) AddFavouriteFriend(ctx context.Context, nsaID string) error {
	_, err := callZnc[json.RawMessage](ctx, c, zncFavoriteCreatePath, zncRequest{Parameter: map[string]string{"nsaId": nsaID}})
	return err
}

func (c *ZncClient) RemoveFavouriteFriend(ctx context.Context, nsaID string) error {
	_, err := callZnc[json.RawMessage](ctx, c, zncFavoriteDeletePath, zncRequest{Parameter: map[string]string{"nsaId": nsaID}})
	return err
}

func (c *ZncClient) User(ctx context.Context, id int64) (*User, error) {
	user, err := callZnc[User](ctx, c, zncUserShowPath, zncRequest{Parameter: map[string]int64{"id": id}})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *ZncClient) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	user, err := callZnc[CurrentUser](ctx, c, zncShowSelfPath, emptyParameter)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *ZncClient) CurrentUserPermissions(ctx context.Context) (*CurrentUserPermissions, error) {
	perms, err := callZnc[CurrentUserPermissions](ctx, c, zncPermissionsPath, emptyParameter)
	if err != nil {
		return nil, err
	}
	return &perms, nil
}

// UpdateCurrentUserPermissions changes who can see the user's presence. etag
// must come from CurrentUserPermissions.
func (c *ZncClient) UpdateCurrentUserPermissions(ctx context.Context, to, from PresencePermission, etag string) error {
	param := map[string]any{
		"permissions": map[string]any{
			"presence": map[string]PresencePermission{
				"toValue":   to,
				"fromValue": from,
			},
		},
		"etag": etag,
	}
	_, err := callZnc[json.RawMessage](ctx, c, zncUpdatePermsPath, zncRequest{Parameter: param})
	return err
}

func (c *ZncClient) Announcements(ctx context.Context) ([]Announcement, error) {
	return callZnc[[]Announcement](ctx, c, zncAnnouncementsPath, emptyParameter)
}

func (c *ZncClient) ActiveEvent(ctx context.Context) (Event, error) {
	return callZnc[Event](ctx, c, zncActiveEventPath, emptyParameter)
}

func (c *ZncClient) Event(ctx context.Context, id int64) (Event, error) {
	return callZnc[Event](ctx, c, zncEventShowPath, zncRequest{Parameter: map[string]int64{"id": id}})
}
