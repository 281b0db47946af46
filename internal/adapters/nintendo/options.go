// Package nintendo holds the HTTP clients for the Nintendo Account provider,
// the attestation services and the znc/moon game services.
package nintendo

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
)

const (
	// ZncaClientID is the Nintendo Switch Online app's Nintendo Account client id.
	ZncaClientID = "71b963c1b7b6d119"
	// MoonClientID is the parental-control app's Nintendo Account client id.
	MoonClientID = "54789befb391a838"

	defaultTimeout = 10 * time.Second
)

// ClientOptions carries everything the clients would otherwise read from globals.
type ClientOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration

	ZncaPlatform        string
	ZncaPlatformVersion string
	ZncaVersion         string
	Language            string

	AccountsURL    string
	AccountsAPIURL string
	ZncURL         string
	MoonURL        string
	SplatNet2URL   string

	// AttestationUserAgent is sent to third-party attestation services.
	AttestationUserAgent string
	FlapgURL             string
	S2SURL               string
}

// NewClientOptions builds options from configuration.
func NewClientOptions(cfg *config.Config) ClientOptions {
	n := cfg.Nintendo
	timeout := time.Duration(n.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return ClientOptions{
		HTTPClient:           &http.Client{},
		Timeout:              timeout,
		ZncaPlatform:         n.ZncaPlatform,
		ZncaPlatformVersion:  n.ZncaPlatformVersion,
		ZncaVersion:          n.ZncaVersion,
		Language:             n.Language,
		AccountsURL:          n.AccountsURL,
		AccountsAPIURL:       n.AccountsAPIURL,
		ZncURL:               n.ZncURL,
		MoonURL:              n.MoonURL,
		SplatNet2URL:         n.SplatNet2URL,
		AttestationUserAgent: cfg.Attestation.UserAgent,
		FlapgURL:             cfg.Attestation.FlapgURL,
		S2SURL:               cfg.Attestation.S2SURL,
	}
}

// WithZncaVersion returns a copy using a different app version, e.g. one discovered at startup.
func (o ClientOptions) WithZncaVersion(version string) ClientOptions {
	if version != "" {
		o.ZncaVersion = version
	}
	return o
}

// ZncUserAgent is the user agent of the NSO app, e.g. com.nintendo.znca/2.0.0(Android/8.0.0).
func (o ClientOptions) ZncUserAgent() string {
	return fmt.Sprintf("com.nintendo.znca/%s(%s/%s)", o.ZncaVersion, o.ZncaPlatform, o.ZncaPlatformVersion)
}

// AccountUserAgent is the user agent the app's account SDK sends.
func (o ClientOptions) AccountUserAgent() string {
	return fmt.Sprintf("OnlineLounge/%s NASDKAPI %s", o.ZncaVersion, o.ZncaPlatform)
}

func (o ClientOptions) doer() *httpDoer {
	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &httpDoer{client: client, timeout: timeout}
}
