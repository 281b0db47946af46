package nintendo

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/domain"
)

const maxResponseBytes = 4 << 20

type rawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *rawResponse) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// httpDoer sends one request bound to the caller's context plus the per-request timeout.
type httpDoer struct {
	client  *http.Client
	timeout time.Duration
}

func endpointOf(req *http.Request) string {
	return req.URL.Host + req.URL.Path
}

func (d *httpDoer) do(ctx context.Context, step domain.Step, req *http.Request) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.ObserveUpstreamRequest(endpointOf(req), time.Since(start))
	if err != nil {
		return nil, &domain.NetworkError{Step: step, Endpoint: endpointOf(req), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.NetworkError{Step: step, Endpoint: endpointOf(req), Err: err}
	}
	return &rawResponse{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func upstreamError(step domain.Step, req *http.Request, status int, code, message string) *domain.UpstreamError {
	return &domain.UpstreamError{
		Step:     step,
		Method:   req.Method,
		Endpoint: endpointOf(req),
		Status:   status,
		Code:     code,
		Message:  message,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
