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

// FlapgTransport computes "f" via the public s2s hash service followed by the flapg API.
type FlapgTransport struct {
	opts ClientOptions
	http *httpDoer
}

// NewFlapgTransport creates the direct attestation transport.
func NewFlapgTransport(opts ClientOptions) *FlapgTransport {
	return &FlapgTransport{opts: opts, http: opts.doer()}
}

func (t *FlapgTransport) Name() string     { return "flapg" }
func (t *FlapgTransport) ProxyURL() string { return "" }

// Attest implements domain.AttestationTransport.
func (t *FlapgTransport) Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error) {
	hash, err := t.s2sHash(ctx, req.IdentityToken, req.Timestamp)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.FlapgURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build flapg request: %w", err)
	}
	httpReq.Header.Set("x-token", req.IdentityToken)
	httpReq.Header.Set("x-time", req.Timestamp)
	httpReq.Header.Set("x-guid", req.RequestID)
	httpReq.Header.Set("x-hash", hash)
	httpReq.Header.Set("x-ver", "3")
	httpReq.Header.Set("x-iid", string(req.Step))
	httpReq.Header.Set("User-Agent", t.opts.AttestationUserAgent)

	resp, err := t.http.do(ctx, domain.StepAttestation, httpReq)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, "", truncate(resp.Body, 200))
	}

	var out struct {
		Result struct {
			F  string `json:"f"`
			P1 string `json:"p1"`
			P2 string `json:"p2"`
			P3 string `json:"p3"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, "", fmt.Sprintf("malformed response: %v", err))
	}
	if out.Result.F == "" {
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, "", "response has no f value")
	}
	return &domain.AttestationResult{F: out.Result.F, Timestamp: req.Timestamp, RequestID: req.RequestID}, nil
}

func (t *FlapgTransport) s2sHash(ctx context.Context, idToken, timestamp string) (string, error) {
	form := url.Values{
		"naIdToken": {idToken},
		"timestamp": {timestamp},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.S2SURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build s2s request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.opts.AttestationUserAgent)

	resp, err := t.http.do(ctx, domain.StepAttestation, req)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", upstreamError(domain.StepAttestation, req, resp.Status, "", truncate(resp.Body, 200))
	}
	var out struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Hash == "" {
		return "", upstreamError(domain.StepAttestation, req, resp.Status, "", "response has no hash")
	}
	return out.Hash, nil
}

// ProxyTransport asks an operator-run znca API server for "f" at <base>/f.
type ProxyTransport struct {
	baseURL string
	opts    ClientOptions
	http    *httpDoer
}

// NewProxyTransport creates the proxy attestation transport for baseURL.
func NewProxyTransport(baseURL string, opts ClientOptions) *ProxyTransport {
	return &ProxyTransport{baseURL: strings.TrimRight(baseURL, "/"), opts: opts, http: opts.doer()}
}

func (t *ProxyTransport) Name() string     { return "proxy" }
func (t *ProxyTransport) ProxyURL() string { return t.baseURL }

func hashMethod(step domain.AttestationStep) int {
	if step == domain.AttestAPP {
		return 2
	}
	return 1
}

// Attest implements domain.AttestationTransport.
func (t *ProxyTransport) Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error) {
	body, err := json.Marshal(map[string]any{
		"token":       req.IdentityToken,
		"timestamp":   req.Timestamp,
		"request_id":  req.RequestID,
		"hash_method": hashMethod(req.Step),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal attestation request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/f", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build attestation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", t.opts.AttestationUserAgent)

	resp, err := t.http.do(ctx, domain.StepAttestation, httpReq)
	if err != nil {
		return nil, err
	}

	var out struct {
		F       string `json:"f"`
		Error   string `json:"error"`
		Message string `json:"error_message"`
	}
	decodeErr := json.Unmarshal(resp.Body, &out)
	if !resp.ok() || out.Error != "" {
		msg := out.Message
		if msg == "" {
			msg = truncate(resp.Body, 200)
		}
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, out.Error, msg)
	}
	if decodeErr != nil {
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, "", fmt.Sprintf("malformed response: %v", decodeErr))
	}
	if out.F == "" {
		return nil, upstreamError(domain.StepAttestation, httpReq, resp.Status, "", "response has no f value")
	}
	return &domain.AttestationResult{F: out.F, Timestamp: req.Timestamp, RequestID: req.RequestID}, nil
}

// NewAttestationTransport picks the proxy transport when proxyURL is set, else the direct one.
func NewAttestationTransport(proxyURL string, opts ClientOptions) domain.AttestationTransport {
	if proxyURL != "" {
		return NewProxyTransport(proxyURL, opts)
	}
	return NewFlapgTransport(opts)
}
