package application

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/domain"
)

// Attester is what the exchange needs from the attestation client.
type Attester interface {
	Attest(ctx context.Context, req domain.AttestationRequest) (*domain.AttestationResult, error)
	ProxyURL() string
}

// Exchanger runs the full session token exchange for each service kind.
type Exchanger struct {
	account  domain.AccountProvider
	attester Attester
	nso      domain.NsoAuthenticator
	logger   domain.Logger

	nsoClientID  string
	pctlClientID string

	now          func() time.Time
	newRequestID func() string
}

// NewExchanger creates a new Exchanger.
func NewExchanger(account domain.AccountProvider, attester Attester, nso domain.NsoAuthenticator, cfgProvider config.Provider, logger domain.Logger) *Exchanger {
	cfg := cfgProvider.Get().Nintendo
	return &Exchanger{
		account:      account,
		attester:     attester,
		nso:          nso,
		logger:       logger,
		nsoClientID:  cfg.ClientID,
		pctlClientID: cfg.PctlClientID,
		now:          time.Now,
		newRequestID: uuid.NewString,
	}
}

// exchangeRun tracks the phase of one exchange for errors, logs and metrics.
type exchangeRun struct {
	service domain.ServiceKind
	phase   domain.ExchangePhase
	started time.Time
	logger  domain.Logger
}

func (e *Exchanger) start(ctx context.Context, service domain.ServiceKind) *exchangeRun {
	r := &exchangeRun{service: service, phase: domain.PhaseStart, started: e.now(), logger: e.logger}
	r.logger.Debug(ctx, "Token exchange started", "phase", string(r.phase))
	return r
}

func (r *exchangeRun) enter(ctx context.Context, phase domain.ExchangePhase) {
	r.logger.Debug(ctx, "Token exchange phase", "from", string(r.phase), "to", string(phase))
	r.phase = phase
}

func (r *exchangeRun) fail(ctx context.Context, err error) error {
	failedIn := r.phase
	r.phase = domain.PhaseFailed
	metrics.ObserveExchange(string(r.service), "failed", string(failedIn), time.Since(r.started))
	r.logger.Warn(ctx, "Token exchange failed", "phase", string(failedIn), "error", err.Error())
	return &domain.ExchangeError{Service: r.service, Phase: failedIn, Err: err}
}

func (r *exchangeRun) done(ctx context.Context) {
	r.phase = domain.PhaseDone
	took := time.Since(r.started)
	metrics.ObserveExchange(string(r.service), "ok", string(domain.PhaseDone), took)
	r.logger.Info(ctx, "Token exchange completed", "duration", took.String())
}

// ExchangeNSO runs START → ACCOUNT_EXCHANGE → ATTEST → SERVICE_EXCHANGE → DONE for the
// Nintendo Switch Online app service. Every run uses a new request id and timestamp.
func (e *Exchanger) ExchangeNSO(ctx context.Context, sessionToken string) (*domain.NsoTokenRecord, error) {
	run := e.start(ctx, domain.ServiceNSO)

	requestID := e.newRequestID()
	timestamp := strconv.FormatInt(e.now().Unix(), 10)

	run.enter(ctx, domain.PhaseAccountExchange)
	naToken, err := e.account.Token(ctx, sessionToken, e.nsoClientID)
	if err != nil {
		return nil, run.fail(ctx, err)
	}
	user, err := e.account.User(ctx, naToken)
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	run.enter(ctx, domain.PhaseAttest)
	attestation, err := e.attester.Attest(ctx, domain.AttestationRequest{
		IdentityToken: naToken.IDToken,
		Timestamp:     timestamp,
		RequestID:     requestID,
		Step:          domain.AttestNSO,
	})
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	run.enter(ctx, domain.PhaseServiceExchange)
	account, err := e.nso.Login(ctx, domain.NsoLoginRequest{
		IDToken:   naToken.IDToken,
		Birthday:  user.Birthday,
		Country:   user.Country,
		Language:  user.Language,
		Timestamp: timestamp,
		RequestID: requestID,
		F:         attestation.F,
	})
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	record := &domain.NsoTokenRecord{
		UUID:                 requestID,
		Timestamp:            timestamp,
		NintendoAccountToken: *naToken,
		User:                 *user,
		Attestation:          *attestation,
		NsoAccount:           *account,
		Credential:           account.WebAPIServerCredential,
		ExpiresAt:            domain.ExpiresAtFrom(e.now(), account.WebAPIServerCredential.ExpiresIn),
		ProxyURL:             e.attester.ProxyURL(),
	}
	run.done(ctx)
	return record, nil
}

// ExchangePCTL authenticates to the parental-control service. Its credential is the
// Nintendo Account access token for the moon client id, so there is no attestation.
func (e *Exchanger) ExchangePCTL(ctx context.Context, sessionToken string) (*domain.MoonTokenRecord, error) {
	run := e.start(ctx, domain.ServicePCTL)

	run.enter(ctx, domain.PhaseAccountExchange)
	naToken, err := e.account.Token(ctx, sessionToken, e.pctlClientID)
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	run.enter(ctx, domain.PhaseServiceExchange)
	user, err := e.account.User(ctx, naToken)
	if err != nil {
		return nil, run.fail(ctx, err)
	}

	record := &domain.MoonTokenRecord{
		NintendoAccountToken: *naToken,
		User:                 *user,
		ExpiresAt:            domain.ExpiresAtFrom(e.now(), naToken.ExpiresIn),
	}
	run.done(ctx)
	return record, nil
}
