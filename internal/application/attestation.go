package application

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// AttestationClient throttles and instruments calls to the configured attestation transport.
type AttestationClient struct {
	transport domain.AttestationTransport
	limiter   *rate.Limiter
	logger    domain.Logger
}

// NewAttestationClient creates a new AttestationClient.
func NewAttestationClient(transport domain.AttestationTransport, cfgProvider config.Provider, logger domain.Logger) *AttestationClient {
	if transport == nil {
		panic("attestation transport is nil in NewAttestationClient")
	}
	cfg := cfgProvider.Get().Attestation
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &AttestationClient{
		transport: transport,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
	}
}

// TransportName identifies the transport in use.
func (c *AttestationClient) TransportName() string {
	return c.transport.Name()
}

// ProxyURL is the proxy base URL, or "" for the direct transport.
func (c *AttestationClient) ProxyURL() string {
	return c.transport.ProxyURL()
}

// Attest obtains a single-use "f" value. Failures are never retried here.
func (c *AttestationClient) Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error) {
	if req.IdentityToken == "" {
		return nil, fmt.Errorf("%w: identity token is empty", domain.ErrAttestationFailed)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.IncrementAttestationRequest(c.transport.Name(), string(req.Step), "throttled")
		return nil, fmt.Errorf("waiting for attestation rate limiter: %w", err)
	}

	c.logger.Debug(ctx, "Requesting attestation", "transport", c.transport.Name(), "step", string(req.Step), "request_id", req.RequestID)
	res, err := c.transport.Attest(ctx, req)
	if err != nil {
		outcome := "upstream_error"
		if errors.Is(err, domain.ErrNetworkFailure) {
			outcome = "network_error"
		}
		metrics.IncrementAttestationRequest(c.transport.Name(), string(req.Step), outcome)
		c.logger.Warn(ctx, "Attestation failed", "transport", c.transport.Name(), "step", string(req.Step), "error", err.Error())
		return nil, err
	}
	metrics.IncrementAttestationRequest(c.transport.Name(), string(req.Step), "ok")
	return res, nil
}
