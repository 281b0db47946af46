package nintendo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sarayalth/nxapi/internal/domain"
)

const (
	moonAppVersion      = "1.16.0"
	moonAppBuild        = "279"
	moonAndroidVersion  = "30"
	moonDeviceModel     = "Pixel 4 XL"
	moonDefaultTimeZone = "Europe/London"
)

// MoonClient talks to the parental-control (moon) API on behalf of one account.
type MoonClient struct {
	opts     ClientOptions
	http     *httpDoer
	token    string
	userID   string
	timeZone string
}

// NewMoonClient creates a client bound to a Nintendo Account access token issued for MoonClientID.
func NewMoonClient(opts ClientOptions, accessToken, userID string) *MoonClient {
	return &MoonClient{
		opts:     opts,
		http:     opts.doer(),
		token:    accessToken,
		userID:   userID,
		timeZone: moonDefaultTimeZone,
	}
}

func (c *MoonClient) AccessToken() string { return c.token }
func (c *MoonClient) UserID() string      { return c.userID }

type Device struct {
	DeviceID                    string `json:"deviceId"`
	Label                       string `json:"label"`
	ParentalControlSettingState struct {
		UpdatedAt int64 `json:"updatedAt"`
	} `json:"parentalControlSettingState"`
	Device struct {
		Activated    bool `json:"activated"`
		Synchronized bool `json:"synchronized"`
	} `json:"device"`
}

type Devices struct {
	Count int      `json:"count"`
	Items []Device `json:"items"`
}

// Summaries payloads are large and change between app versions; they are returned undecoded.
type Summaries struct {
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

type moonErrorBody struct {
	ErrorCode string `json:"errorCode"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
}

func (c *MoonClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.MoonURL+path, nil)
	if err != nil {
		return fmt.Errorf("build moon request: %w", err)
	}
	lang := c.opts.Language
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Moon-App-Id", "com.nintendo.znma")
	req.Header.Set("X-Moon-Os", "ANDROID")
	req.Header.Set("X-Moon-Os-Version", moonAndroidVersion)
	req.Header.Set("X-Moon-Model", moonDeviceModel)
	req.Header.Set("X-Moon-TimeZone", c.timeZone)
	req.Header.Set("X-Moon-Os-Language", lang)
	req.Header.Set("X-Moon-App-Language", lang)
	req.Header.Set("X-Moon-App-Display-Version", moonAppVersion)
	req.Header.Set("X-Moon-App-Internal-Version", moonAppBuild)
	req.Header.Set("User-Agent", fmt.Sprintf("moon_ANDROID/%s (com.nintendo.znma; build:%s; ANDROID %s)", moonAppVersion, moonAppBuild, moonAndroidVersion))

	resp, err := c.http.do(ctx, domain.StepService, req)
	if err != nil {
		return err
	}
	if !resp.ok() {
		var body moonErrorBody
		_ = json.Unmarshal(resp.Body, &body) //nolint:errcheck
		msg := body.Detail
		if msg == "" {
			msg = body.Title
		}
		if msg == "" {
			msg = truncate(resp.Body, 200)
		}
		upErr := upstreamError(domain.StepService, req, resp.Status, body.ErrorCode, msg)
		if resp.Status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", domain.ErrCredentialRejected, upErr)
		}
		return upErr
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return upstreamError(domain.StepService, req, resp.Status, "", fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

// Devices lists the activated consoles linked to the account.
func (c *MoonClient) Devices(ctx context.Context) (*Devices, error) {
	var out Devices
	path := "/v1/users/" + url.PathEscape(c.userID) + "/devices?filter.device.activated.$eq=true"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DailySummaries returns per-day play time summaries for a device.
func (c *MoonClient) DailySummaries(ctx context.Context, deviceID string) (*Summaries, error) {
	var out Summaries
	if err := c.get(ctx, "/v1/devices/"+url.PathEscape(deviceID)+"/daily_summaries", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonthlySummaries lists the months for which summaries exist.
func (c *MoonClient) MonthlySummaries(ctx context.Context, deviceID string) (*Summaries, error) {
	var out Summaries
	if err := c.get(ctx, "/v1/devices/"+url.PathEscape(deviceID)+"/monthly_summaries", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonthlySummary returns one month (YYYY-MM) for a device.
func (c *MoonClient) MonthlySummary(ctx context.Context, deviceID, month string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/v1/devices/" + url.PathEscape(deviceID) + "/monthly_summaries/" + url.PathEscape(month)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}
