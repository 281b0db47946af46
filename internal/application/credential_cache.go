package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/metrics"
	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/contextkeys"
	"github.com/Sarayalth/nxapi/pkg/crypto"
	"github.com/Sarayalth/nxapi/pkg/safego"
	"github.com/Sarayalth/nxapi/pkg/storekeys"
)

// Session is a usable credential for one service, either reused from the store or freshly issued.
type Session struct {
	Service domain.ServiceKind
	Record  domain.CachedTokenRecord
	// Fresh is true when a full exchange ran to produce Record.
	Fresh bool
	// Selected is true when the account was made the default by this call.
	Selected bool
}

// NsoSession is a Session for the Nintendo Switch Online app service with its client.
type NsoSession struct {
	Client *nintendo.ZncClient
	Record *domain.NsoTokenRecord
	Fresh  bool
}

// MoonSession is a Session for the parental-control service with its client.
type MoonSession struct {
	Client *nintendo.MoonClient
	Record *domain.MoonTokenRecord
	Fresh  bool
}

type refreshOptions struct {
	selectUser *bool
	force      bool
}

// RefreshOption adjusts a single GetOrRefresh call.
type RefreshOption func(*refreshOptions)

// WithSelect overrides the default-account rule after a full exchange.
func WithSelect(selectUser bool) RefreshOption {
	return func(o *refreshOptions) { o.selectUser = &selectUser }
}

// CredentialService is the expiry-aware credential cache. It never returns an
// expired credential and never runs a full exchange while a stored credential
// for the same session token is still valid.
type CredentialService struct {
	store     domain.KVStore
	exchanger *Exchanger
	selector  *SessionSelector
	locker    domain.ExchangeLockManager // nil unless app.serialize_refresh
	publisher domain.CredentialEventPublisher
	clients   *nintendo.Factory
	config    config.Provider
	logger    domain.Logger

	group    singleflight.Group
	inFlight sync.WaitGroup
	now      func() time.Time
}

// NewCredentialService creates a new CredentialService. locker may be nil.
func NewCredentialService(
	store domain.KVStore,
	exchanger *Exchanger,
	selector *SessionSelector,
	locker domain.ExchangeLockManager,
	publisher domain.CredentialEventPublisher,
	clients *nintendo.Factory,
	cfgProvider config.Provider,
	logger domain.Logger,
) *CredentialService {
	if store == nil {
		panic("store is nil in NewCredentialService")
	}
	if logger == nil {
		panic("logger is nil in NewCredentialService")
	}
	return &CredentialService{
		store:     store,
		exchanger: exchanger,
		selector:  selector,
		locker:    locker,
		publisher: publisher,
		clients:   clients,
		config:    cfgProvider,
		logger:    logger,
		now:       time.Now,
	}
}

func withSessionContext(ctx context.Context, sessionToken string, service domain.ServiceKind) context.Context {
	ctx = context.WithValue(ctx, contextkeys.SessionRefKey, crypto.SessionRef(sessionToken))
	return context.WithValue(ctx, contextkeys.ServiceKey, string(service))
}

// GetOrRefresh returns a valid credential for sessionToken, reusing the stored
// record when it has not expired and running a full exchange otherwise.
func (s *CredentialService) GetOrRefresh(ctx context.Context, sessionToken string, service domain.ServiceKind, opts ...RefreshOption) (*Session, error) {
	var o refreshOptions
	for _, opt := range opts {
		opt(&o)
	}
	return s.getOrRefresh(ctx, sessionToken, service, o)
}

// Renew discards any stored record and runs a full exchange. A renewal that
// arrives while an exchange for the same session token is in flight joins it.
func (s *CredentialService) Renew(ctx context.Context, sessionToken string, service domain.ServiceKind, opts ...RefreshOption) (*Session, error) {
	o := refreshOptions{force: true}
	for _, opt := range opts {
		opt(&o)
	}
	return s.getOrRefresh(ctx, sessionToken, service, o)
}

func (s *CredentialService) getOrRefresh(ctx context.Context, sessionToken string, service domain.ServiceKind, o refreshOptions) (*Session, error) {
	if sessionToken == "" {
		return nil, domain.ErrInvalidCredential
	}
	if service != domain.ServiceNSO && service != domain.ServicePCTL {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedService, service)
	}
	ctx = withSessionContext(ctx, sessionToken, service)

	if !o.force {
		if record := s.lookup(ctx, sessionToken, service); record != nil {
			return s.reuse(ctx, service, record, sessionToken, o), nil
		}
	}

	sess, shared, err := s.await(ctx, sessionToken, service, o)
	if err != nil {
		return nil, err
	}
	if o.force && !sess.Fresh {
		// Joined a flight that found a stored record; Renew still owes a full exchange.
		if sess, shared, err = s.await(ctx, sessionToken, service, o); err != nil {
			return nil, err
		}
	}
	if shared {
		s.logger.Debug(ctx, "Token exchange was shared with concurrent callers")
		if o.selectUser != nil {
			sess.Selected = s.link(ctx, service, sess.Record.AccountID(), sessionToken, o.selectUser)
		}
	}
	return sess, nil
}

// await runs or joins the single exchange flight for sessionToken. Misses and
// renewals share one flight. The flight runs detached from ctx so one caller
// giving up does not fail the others; each caller stops waiting on its own ctx.
func (s *CredentialService) await(ctx context.Context, sessionToken string, service domain.ServiceKind, o refreshOptions) (*Session, bool, error) {
	flightKey := storekeys.ExchangeLockKey(service, sessionToken)
	ch := s.group.DoChan(flightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout())
		defer cancel()
		return s.refresh(flightCtx, sessionToken, service, o)
	})

	select {
	case <-ctx.Done():
		s.logger.Debug(ctx, "Stopped waiting for token exchange", "error", ctx.Err().Error())
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		sess := *res.Val.(*Session)
		return &sess, res.Shared, nil
	}
}

// flightTimeout bounds a detached exchange by the lock TTL, which already
// has to cover one full exchange.
func (s *CredentialService) flightTimeout() time.Duration {
	if s.config != nil {
		if ttl := time.Duration(s.config.Get().App.ExchangeLockTTLSeconds) * time.Second; ttl > 0 {
			return ttl
		}
	}
	return time.Minute
}

// lookup returns the stored record when it decodes and is still valid.
// Undecodable records are logged and treated as a miss.
func (s *CredentialService) lookup(ctx context.Context, sessionToken string, service domain.ServiceKind) domain.CachedTokenRecord {
	key := storekeys.RecordKey(service, sessionToken)
	raw, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		metrics.IncrementCacheLookup(string(service), "miss")
		return nil
	case errors.Is(err, domain.ErrCacheCorruption):
		metrics.IncrementCacheLookup(string(service), "corrupt")
		s.logger.Warn(ctx, "Stored token record is corrupted; re-authenticating", "error", err.Error())
		return nil
	case err != nil:
		metrics.IncrementCacheLookup(string(service), "error")
		s.logger.Error(ctx, "Failed to read stored token record; re-authenticating", "error", err.Error())
		return nil
	}

	record, err := decodeRecord(service, raw)
	if err != nil {
		metrics.IncrementCacheLookup(string(service), "corrupt")
		s.logger.Warn(ctx, "Stored token record is corrupted; re-authenticating", "error", err.Error())
		return nil
	}
	if !record.Valid(s.now()) {
		metrics.IncrementCacheLookup(string(service), "expired")
		s.logger.Debug(ctx, "Stored token record has expired", "expires_at", record.ExpiresAtMillis())
		return nil
	}
	metrics.IncrementCacheLookup(string(service), "hit")
	s.logger.Debug(ctx, "Using existing token", "expires_at", record.ExpiresAtMillis())
	return record
}

func decodeRecord(service domain.ServiceKind, raw []byte) (domain.CachedTokenRecord, error) {
	var record domain.CachedTokenRecord
	switch service {
	case domain.ServicePCTL:
		var r domain.MoonTokenRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
		}
		record = &r
	default:
		var r domain.NsoTokenRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
		}
		record = &r
	}
	if record.AccessToken() == "" || record.AccountID() == "" {
		return nil, fmt.Errorf("%w: record has no access token or account id", domain.ErrCacheCorruption)
	}
	return record, nil
}

// reuse wraps a valid stored record. The account is re-linked so a forgotten
// account comes back and an explicit WithSelect is honoured on a hit too.
func (s *CredentialService) reuse(ctx context.Context, service domain.ServiceKind, record domain.CachedTokenRecord, sessionToken string, o refreshOptions) *Session {
	sess := &Session{Service: service, Record: record}
	sess.Selected = s.link(ctx, service, record.AccountID(), sessionToken, o.selectUser)
	return sess
}

func (s *CredentialService) link(ctx context.Context, service domain.ServiceKind, accountID, sessionToken string, selectUser *bool) bool {
	if s.selector == nil {
		return false
	}
	selected, err := s.selector.LinkAccount(ctx, service, accountID, sessionToken, selectUser)
	if err != nil {
		s.logger.Warn(ctx, "Failed to link account", "account_id", accountID, "error", err.Error())
	}
	return selected
}

func (s *CredentialService) refresh(ctx context.Context, sessionToken string, service domain.ServiceKind, o refreshOptions) (*Session, error) {
	if s.locker != nil {
		release, err := s.acquireExchangeLock(ctx, service, sessionToken)
		if err != nil {
			return nil, err
		}
		defer release()

		// Another process may have finished the exchange while we waited.
		if !o.force {
			if record := s.lookup(ctx, sessionToken, service); record != nil {
				return s.reuse(ctx, service, record, sessionToken, o), nil
			}
		}
	}

	s.logger.Info(ctx, "Authenticating with session token")
	record, err := s.exchange(ctx, sessionToken, service)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, contextkeys.AccountIDKey, record.AccountID())

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode token record: %w", err)
	}
	if err := s.store.Set(ctx, storekeys.RecordKey(service, sessionToken), raw, 0); err != nil {
		return nil, fmt.Errorf("store token record: %w", err)
	}

	sess := &Session{Service: service, Record: record, Fresh: true}
	sess.Selected = s.link(ctx, service, record.AccountID(), sessionToken, o.selectUser)

	s.publish(ctx, domain.CredentialRefreshedEvent{
		Service:   service,
		AccountID: record.AccountID(),
		ExpiresAt: record.ExpiresAtMillis(),
		Renewed:   o.force,
		ProxyURL:  proxyURLOf(record),
	})
	return sess, nil
}

func proxyURLOf(record domain.CachedTokenRecord) string {
	if r, ok := record.(*domain.NsoTokenRecord); ok {
		return r.ProxyURL
	}
	return ""
}

func (s *CredentialService) exchange(ctx context.Context, sessionToken string, service domain.ServiceKind) (domain.CachedTokenRecord, error) {
	if service == domain.ServicePCTL {
		return s.exchanger.ExchangePCTL(ctx, sessionToken)
	}
	return s.exchanger.ExchangeNSO(ctx, sessionToken)
}

// acquireExchangeLock takes the cross-process lock for one session token,
// retrying with exponential backoff until app.exchange_lock_wait_seconds.
func (s *CredentialService) acquireExchangeLock(ctx context.Context, service domain.ServiceKind, sessionToken string) (func(), error) {
	appCfg := s.config.Get().App
	key := storekeys.ExchangeLockKey(service, sessionToken)
	owner := uuid.NewString()
	ttl := time.Duration(appCfg.ExchangeLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = time.Duration(appCfg.ExchangeLockWaitSeconds) * time.Second
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}

	errContended := errors.New("exchange lock held by another process")
	attempt := func() error {
		acquired, err := s.locker.AcquireLock(ctx, key, owner, ttl)
		if err != nil {
			metrics.IncrementExchangeLockAttempt("error")
			return backoff.Permanent(err)
		}
		if !acquired {
			metrics.IncrementExchangeLockAttempt("contended")
			return errContended
		}
		metrics.IncrementExchangeLockAttempt("acquired")
		return nil
	}

	if err := backoff.Retry(attempt, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, errContended) {
			s.logger.Warn(ctx, "Timed out waiting for exchange lock", "lock_key", key)
			return nil, domain.ErrExchangeLockTimeout
		}
		return nil, fmt.Errorf("acquire exchange lock: %w", err)
	}
	s.logger.Debug(ctx, "Exchange lock acquired", "lock_key", key)

	release := func() {
		releaseCtx := context.WithoutCancel(ctx)
		if _, err := s.locker.ReleaseLock(releaseCtx, key, owner); err != nil {
			s.logger.Warn(releaseCtx, "Failed to release exchange lock", "lock_key", key, "error", err.Error())
		}
	}
	return release, nil
}

func (s *CredentialService) publish(ctx context.Context, event domain.CredentialRefreshedEvent) {
	if s.publisher == nil {
		return
	}
	pubCtx := context.WithoutCancel(ctx)
	safego.ExecuteTracked(pubCtx, &s.inFlight, s.logger, "PublishCredentialRefreshed", func() {
		if err := s.publisher.PublishCredentialRefreshed(pubCtx, event); err != nil {
			s.logger.Warn(pubCtx, "Failed to publish credential event", "error", err.Error())
		}
	})
}

// Wait blocks until background event publishing has finished.
func (s *CredentialService) Wait() {
	s.inFlight.Wait()
}

// Nso returns a ready NSO app client for sessionToken.
func (s *CredentialService) Nso(ctx context.Context, sessionToken string, opts ...RefreshOption) (*NsoSession, error) {
	sess, err := s.GetOrRefresh(ctx, sessionToken, domain.ServiceNSO, opts...)
	if err != nil {
		return nil, err
	}
	return s.nsoSession(sess), nil
}

// Moon returns a ready parental-control client for sessionToken.
func (s *CredentialService) Moon(ctx context.Context, sessionToken string, opts ...RefreshOption) (*MoonSession, error) {
	sess, err := s.GetOrRefresh(ctx, sessionToken, domain.ServicePCTL, opts...)
	if err != nil {
		return nil, err
	}
	return s.moonSession(sess), nil
}

func (s *CredentialService) nsoSession(sess *Session) *NsoSession {
	record := sess.Record.(*domain.NsoTokenRecord)
	return &NsoSession{Client: s.clients.Znc(record.Credential.AccessToken), Record: record, Fresh: sess.Fresh}
}

func (s *CredentialService) moonSession(sess *Session) *MoonSession {
	record := sess.Record.(*domain.MoonTokenRecord)
	return &MoonSession{Client: s.clients.Moon(record.NintendoAccountToken.AccessToken, record.User.ID), Record: record, Fresh: sess.Fresh}
}

// SplatNet2 opens a SplatNet 2 session with a web service token issued to sess.
func (s *CredentialService) SplatNet2(ctx context.Context, sess *NsoSession) (*nintendo.SplatNet2Client, error) {
	token, err := sess.Client.GetWebServiceToken(ctx, nintendo.SplatNet2WebServiceID)
	if err != nil {
		return nil, err
	}
	client := s.clients.SplatNet2(token.AccessToken)
	if err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "SplatNet 2 session opened")
	return client, nil
}

// WithNsoClient runs fn with an NSO client. If the service rejects the credential
// before its recorded expiry, the credential is renewed once and fn runs again.
func (s *CredentialService) WithNsoClient(ctx context.Context, sessionToken string, fn func(ctx context.Context, sess *NsoSession) error) error {
	sess, err := s.Nso(ctx, sessionToken)
	if err != nil {
		return err
	}
	err = fn(ctx, sess)
	if !errors.Is(err, domain.ErrCredentialRejected) || sess.Fresh {
		return err
	}

	s.logger.Warn(withSessionContext(ctx, sessionToken, domain.ServiceNSO), "Credential rejected before expiry; renewing", "error", err.Error())
	renewed, rerr := s.Renew(ctx, sessionToken, domain.ServiceNSO)
	if rerr != nil {
		return rerr
	}
	return fn(ctx, s.nsoSession(renewed))
}

// WithMoonClient is WithNsoClient for the parental-control service.
func (s *CredentialService) WithMoonClient(ctx context.Context, sessionToken string, fn func(ctx context.Context, sess *MoonSession) error) error {
	sess, err := s.Moon(ctx, sessionToken)
	if err != nil {
		return err
	}
	err = fn(ctx, sess)
	if !errors.Is(err, domain.ErrCredentialRejected) || sess.Fresh {
		return err
	}

	s.logger.Warn(withSessionContext(ctx, sessionToken, domain.ServicePCTL), "Credential rejected before expiry; renewing", "error", err.Error())
	renewed, rerr := s.Renew(ctx, sessionToken, domain.ServicePCTL)
	if rerr != nil {
		return rerr
	}
	return fn(ctx, s.moonSession(renewed))
}
