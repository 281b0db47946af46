package nintendo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sarayalth/nxapi/internal/domain"
)

// SplatNet2WebServiceID is the znc web service id of SplatNet 2.
const SplatNet2WebServiceID int64 = 5741031244955648

const (
	splatnet2SessionCookie = "iksm_session"
	splatnet2SchedulesPath = "/api/schedules"
	splatnet2UserAgent     = "Mozilla/5.0 (Linux; Android 8.0.0; Pixel 2 Build/OPD1.170816.004; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/74.0.3729.136 Mobile Safari/537.36"
)

// ErrNoGameSession is returned when SplatNet 2 accepts the web service token
// but does not set a session cookie.
var ErrNoGameSession = errors.New("splatnet2 did not issue a session cookie")

// SplatNet2Client reads SplatNet 2 with a web service token from GetWebServiceToken.
type SplatNet2Client struct {
	opts      ClientOptions
	http      *httpDoer
	gameToken string
	session   string
}

func NewSplatNet2Client(opts ClientOptions, webServiceToken string) *SplatNet2Client {
	return &SplatNet2Client{opts: opts, http: opts.doer(), gameToken: webServiceToken}
}

// Session is the iksm_session cookie value, empty before Authenticate.
func (c *SplatNet2Client) Session() string { return c.session }

func (c *SplatNet2Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.SplatNet2URL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build splatnet2 request: %w", err)
	}
	req.Header.Set("User-Agent", splatnet2UserAgent)
	req.Header.Set("X-Requested-With", "com.nintendo.znca")
	req.Header.Set("Accept-Language", c.opts.Language)
	return req, nil
}

// A rejected game token is not a rejected znc credential, so failures are
// never reported as domain.ErrCredentialRejected.
func (c *SplatNet2Client) failure(req *http.Request, resp *rawResponse) error {
	return upstreamError(domain.StepService, req, resp.Status, "", truncate(resp.Body, 200))
}

// Authenticate trades the web service token for a SplatNet 2 session cookie.
func (c *SplatNet2Client) Authenticate(ctx context.Context) error {
	req, err := c.newRequest(ctx, "/?lang="+c.opts.Language)
	if err != nil {
		return err
	}
	req.Header.Set("X-GameWebToken", c.gameToken)
	req.Header.Set("X-IsAppAnalyticsOptedIn", "false")

	resp, err := c.http.do(ctx, domain.StepService, req)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return c.failure(req, resp)
	}
	for _, cookie := range (&http.Response{Header: resp.Header}).Cookies() {
		if cookie.Name == splatnet2SessionCookie && cookie.Value != "" {
			c.session = cookie.Value
			return nil
		}
	}
	return ErrNoGameSession
}

// Schedules returns the current and upcoming stage rotations, undecoded.
func (c *SplatNet2Client) Schedules(ctx context.Context) (json.RawMessage, error) {
	if c.session == "" {
		return nil, ErrNoGameSession
	}
	req, err := c.newRequest(ctx, splatnet2SchedulesPath)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: splatnet2SessionCookie, Value: c.session})

	resp, err := c.http.do(ctx, domain.StepService, req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, c.failure(req, resp)
	}
	if !json.Valid(resp.Body) {
		return nil, upstreamError(domain.StepService, req, resp.Status, "", "malformed response")
	}
	return json.RawMessage(resp.Body), nil
}
