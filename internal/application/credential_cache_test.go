package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sarayalth/nxapi/benchmarks/mocks"
	"github.com/Sarayalth/nxapi/internal/adapters/config"
	"github.com/Sarayalth/nxapi/internal/adapters/nintendo"
	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/storekeys"
)

type cacheFixture struct {
	store     *mocks.MockKVStore
	account   *mocks.MockAccountProvider
	transport *mocks.MockAttestationTransport
	nso       *mocks.MockNsoAuthenticator
	publisher *mocks.MockEventPublisher
	locker    *mocks.MockExchangeLockManager
	cfg       *mocks.MockConfigProvider
	logger    *mocks.MockLogger

	selector *SessionSelector
	svc      *CredentialService

	mu  sync.Mutex
	now time.Time
}

func (f *cacheFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *cacheFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCacheFixture(t *testing.T, withLock bool) *cacheFixture {
	t.Helper()
	f := &cacheFixture{
		store:     mocks.NewMockKVStore(),
		account:   mocks.NewMockAccountProvider(),
		transport: mocks.NewMockAttestationTransport(),
		nso:       mocks.NewMockNsoAuthenticator(),
		publisher: mocks.NewMockEventPublisher(),
		cfg:       mocks.NewMockConfigProvider(),
		logger:    mocks.NewMockLogger(),
		now:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	attester := NewAttestationClient(f.transport, f.cfg, f.logger)
	exchanger := NewExchanger(f.account, attester, f.nso, f.cfg, f.logger)
	exchanger.now = f.clock

	var locker domain.ExchangeLockManager
	if withLock {
		f.locker = mocks.NewMockExchangeLockManager()
		locker = f.locker
	}

	f.selector = NewSessionSelector(f.store, f.logger)
	clients := nintendo.NewFactory(nintendo.NewClientOptions(f.cfg.Get()), attester)
	f.svc = NewCredentialService(f.store, exchanger, f.selector, locker, f.publisher, clients, f.cfg, f.logger)
	f.svc.now = f.clock
	return f
}

func storedNsoRecord(t *testing.T, store *mocks.MockKVStore, sessionToken string) *domain.NsoTokenRecord {
	t.Helper()
	raw, err := store.Get(context.Background(), storekeys.NsoTokenKey(sessionToken))
	require.NoError(t, err)
	var record domain.NsoTokenRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	return &record
}

func TestCredentialService_RejectsEmptySessionToken(t *testing.T) {
	f := newCacheFixture(t, false)

	_, err := f.svc.GetOrRefresh(context.Background(), "", domain.ServiceNSO)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	tokenCalls, _ := f.account.Calls()
	assert.Zero(t, tokenCalls)
	assert.Empty(t, f.store.Snapshot())
}

func TestCredentialService_RejectsUnknownService(t *testing.T) {
	f := newCacheFixture(t, false)

	_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceKind("splatnet"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedService)
}

func TestCredentialService_FullExchangeStoresRecord(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	sess, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, sess.Fresh)
	assert.True(t, sess.Selected, "the only linked account becomes the default")
	assert.Equal(t, "na-abc", sess.Record.AccountID())

	record := storedNsoRecord(t, f.store, "abc")
	assert.Equal(t, f.now.UnixMilli()+7200*1000, record.ExpiresAt)
	assert.Equal(t, sess.Record.AccessToken(), record.Credential.AccessToken)
	assert.Equal(t, "na-access.abc", record.NintendoAccountToken.AccessToken)

	attestations := f.transport.Requests()
	require.Len(t, attestations, 1)
	assert.Equal(t, domain.AttestNSO, attestations[0].Step)
	assert.Equal(t, "id.abc", attestations[0].IdentityToken)

	logins := f.nso.Requests()
	require.Len(t, logins, 1)
	assert.Equal(t, attestations[0].RequestID, logins[0].RequestID)
	assert.Equal(t, attestations[0].Timestamp, logins[0].Timestamp)
	assert.Equal(t, "f-nso-1", logins[0].F)
	assert.Equal(t, "GB", logins[0].Country)

	ids, err := f.selector.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"na-abc"}, ids)

	token, err := f.selector.SessionTokenFor(ctx, domain.ServiceNSO, "")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.ServiceNSO, events[0].Service)
	assert.Equal(t, "na-abc", events[0].AccountID)
	assert.False(t, events[0].Renewed)
}

func TestCredentialService_ValidRecordMakesNoUpstreamCalls(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	f.advance(time.Hour)
	second, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	assert.False(t, second.Fresh)
	assert.Equal(t, first.Record.AccessToken(), second.Record.AccessToken())
	tokenCalls, userCalls := f.account.Calls()
	assert.Equal(t, int64(1), tokenCalls)
	assert.Equal(t, int64(1), userCalls)
	assert.Len(t, f.transport.Requests(), 1)
	assert.Len(t, f.nso.Requests(), 1)
}

func TestCredentialService_ExpiredRecordTriggersOneExchange(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	second, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	assert.True(t, second.Fresh)
	assert.NotEqual(t, first.Record.AccessToken(), second.Record.AccessToken())
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(2), tokenCalls)

	record := storedNsoRecord(t, f.store, "abc")
	assert.Equal(t, f.clock().UnixMilli()+7200*1000, record.ExpiresAt)
}

func TestCredentialService_CorruptRecordIsAMiss(t *testing.T) {
	cases := map[string][]byte{
		"invalid json":    []byte("{not json"),
		"no access token": []byte(`{"user":{"id":"na-abc"},"credential":{"accessToken":""},"expires_at":99999999999999}`),
		"no account id":   []byte(`{"user":{"id":""},"credential":{"accessToken":"x"},"expires_at":99999999999999}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f := newCacheFixture(t, false)
			f.store.Put(storekeys.NsoTokenKey("abc"), raw)

			sess, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
			require.NoError(t, err)
			assert.True(t, sess.Fresh)

			record := storedNsoRecord(t, f.store, "abc")
			assert.Equal(t, "na-abc", record.User.ID)
			assert.NotEmpty(t, f.logger.EntriesByLevel("WARN"))
		})
	}
}

func TestCredentialService_StoreReadErrorIsAMiss(t *testing.T) {
	f := newCacheFixture(t, false)
	f.store.GetErr = errors.New("disk unavailable")

	sess, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
	require.NoError(t, err)
	assert.True(t, sess.Fresh)
	assert.NotEmpty(t, f.logger.EntriesByLevel("ERROR"))
}

func TestCredentialService_EachExchangeUsesNewNonce(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	f.advance(time.Second)
	_, err = f.svc.Renew(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	attestations := f.transport.Requests()
	require.Len(t, attestations, 2)
	assert.NotEqual(t, attestations[0].RequestID, attestations[1].RequestID)
	assert.NotEqual(t, attestations[0].Timestamp, attestations[1].Timestamp)
}

func TestCredentialService_RenewPublishesRenewedEvent(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	sess, err := f.svc.Renew(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, sess.Fresh)
	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.True(t, events[1].Renewed)
}

func TestCredentialService_SelectsOnlyFirstAccountByDefault(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	first, err := f.svc.GetOrRefresh(ctx, "token-a", domain.ServiceNSO)
	require.NoError(t, err)
	assert.True(t, first.Selected)

	second, err := f.svc.GetOrRefresh(ctx, "token-b", domain.ServiceNSO)
	require.NoError(t, err)
	assert.False(t, second.Selected)

	selected, err := f.selector.Selected(ctx)
	require.NoError(t, err)
	assert.Equal(t, "na-token-a", selected)

	third, err := f.svc.GetOrRefresh(ctx, "token-c", domain.ServiceNSO, WithSelect(true))
	require.NoError(t, err)
	assert.True(t, third.Selected)

	selected, err = f.selector.Selected(ctx)
	require.NoError(t, err)
	assert.Equal(t, "na-token-c", selected)

	ids, err := f.selector.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"na-token-a", "na-token-b", "na-token-c"}, ids)
}

func TestCredentialService_ExplicitNoSelectSkipsFirstAccount(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	sess, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO, WithSelect(false))
	require.NoError(t, err)
	assert.False(t, sess.Selected)

	_, err = f.selector.Selected(ctx)
	assert.ErrorIs(t, err, domain.ErrNoSelectedUser)
}

func TestCredentialService_AccountRejectionWritesNothing(t *testing.T) {
	f := newCacheFixture(t, false)
	f.account.TokenErr = &domain.UpstreamError{
		Step:    domain.StepAccount,
		Method:  "POST",
		Status:  400,
		Code:    "invalid_grant",
		Message: "The provided grant is invalid.",
	}

	_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
	require.Error(t, err)
	f.svc.Wait()

	assert.ErrorIs(t, err, domain.ErrAccountExchangeFailed)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "invalid_grant", upErr.Code)
	var exErr *domain.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, domain.PhaseAccountExchange, exErr.Phase)

	assert.Empty(t, f.store.Snapshot())
	assert.Empty(t, f.transport.Requests())
	assert.Empty(t, f.publisher.Events())
}

func TestCredentialService_AttestationFailureStopsExchange(t *testing.T) {
	f := newCacheFixture(t, false)
	f.transport.Err = &domain.NetworkError{Step: domain.StepAttestation, Endpoint: "https://proxy.example/f", Err: context.DeadlineExceeded}

	_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
	require.Error(t, err)

	assert.ErrorIs(t, err, domain.ErrAttestationFailed)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	var exErr *domain.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, domain.PhaseAttest, exErr.Phase)
	assert.Empty(t, f.nso.Requests())
	assert.Empty(t, f.store.Snapshot())
}

func TestCredentialService_ParentalControlExchange(t *testing.T) {
	f := newCacheFixture(t, false)
	f.account.ExpiresIn = 900
	ctx := context.Background()

	sess, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServicePCTL)
	require.NoError(t, err)

	assert.Equal(t, domain.ServicePCTL, sess.Service)
	assert.Equal(t, "na-access.abc", sess.Record.AccessToken())
	assert.Equal(t, f.now.UnixMilli()+900*1000, sess.Record.ExpiresAtMillis())
	assert.Empty(t, f.transport.Requests(), "parental control needs no attestation")
	assert.Equal(t, []string{config.Default().Nintendo.PctlClientID}, f.account.ClientIDs)

	snapshot := f.store.Snapshot()
	assert.Contains(t, snapshot, storekeys.MoonTokenKey("abc"))
	assert.NotContains(t, snapshot, storekeys.NsoTokenKey("abc"))

	token, err := f.selector.SessionTokenFor(ctx, domain.ServicePCTL, "na-abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestCredentialService_ConcurrentMissesShareOneExchange(t *testing.T) {
	f := newCacheFixture(t, false)
	f.account.Delay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
			errs[i] = err
			if err == nil {
				tokens[i] = sess.Record.AccessToken()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(1), tokenCalls)
	assert.Len(t, f.transport.Requests(), 1)
}

func TestCredentialService_CancelledLeaderDoesNotFailFollowers(t *testing.T) {
	f := newCacheFixture(t, false)
	f.account.Delay = 100 * time.Millisecond

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.svc.GetOrRefresh(leaderCtx, "abc", domain.ServiceNSO)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool {
		tokenCalls, _ := f.account.Calls()
		return tokenCalls == 1
	}, time.Second, time.Millisecond)

	type result struct {
		sess *Session
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		sess, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
		follower <- result{sess, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	res := <-follower
	require.NoError(t, res.err)
	assert.True(t, res.sess.Fresh)
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(1), tokenCalls)

	// The detached exchange still stored its record.
	assert.Equal(t, res.sess.Record.AccessToken(), storedNsoRecord(t, f.store, "abc").AccessToken())
}

func TestCredentialService_RenewJoinsInFlightExchange(t *testing.T) {
	f := newCacheFixture(t, false)
	f.account.Delay = 100 * time.Millisecond

	missErr := make(chan error, 1)
	go func() {
		_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
		missErr <- err
	}()
	require.Eventually(t, func() bool {
		tokenCalls, _ := f.account.Calls()
		return tokenCalls == 1
	}, time.Second, time.Millisecond)

	renewed, err := f.svc.Renew(context.Background(), "abc", domain.ServiceNSO)
	require.NoError(t, err)
	require.NoError(t, <-missErr)

	assert.True(t, renewed.Fresh)
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(1), tokenCalls)
	assert.Len(t, f.transport.Requests(), 1)
}

func TestCredentialService_HitHonoursExplicitSelect(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetOrRefresh(ctx, "token-a", domain.ServiceNSO)
	require.NoError(t, err)
	_, err = f.svc.GetOrRefresh(ctx, "token-b", domain.ServiceNSO)
	require.NoError(t, err)

	sess, err := f.svc.GetOrRefresh(ctx, "token-b", domain.ServiceNSO, WithSelect(true))
	require.NoError(t, err)
	assert.False(t, sess.Fresh)
	assert.True(t, sess.Selected)

	selected, err := f.selector.Selected(ctx)
	require.NoError(t, err)
	assert.Equal(t, "na-token-b", selected)
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(2), tokenCalls)
}

func TestCredentialService_HitRelinksForgottenAccount(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	require.NoError(t, f.selector.Forget(ctx, "na-abc"))

	sess, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	assert.False(t, sess.Fresh)
	assert.True(t, sess.Selected, "the sole linked account becomes the default again")

	ids, err := f.selector.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"na-abc"}, ids)
	selected, err := f.selector.Selected(ctx)
	require.NoError(t, err)
	assert.Equal(t, "na-abc", selected)
	token, err := f.selector.SessionTokenFor(ctx, domain.ServiceNSO, "")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestCredentialService_WithNsoClientRenewsOnceOnRejection(t *testing.T) {
	f := newCacheFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)

	var seen []string
	err = f.svc.WithNsoClient(ctx, "abc", func(ctx context.Context, sess *NsoSession) error {
		seen = append(seen, sess.Client.AccessToken())
		if len(seen) == 1 {
			return domain.ErrCredentialRejected
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1])
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(2), tokenCalls)
	assert.Equal(t, seen[1], storedNsoRecord(t, f.store, "abc").Credential.AccessToken)
}

func TestCredentialService_WithNsoClientDoesNotRenewFreshCredential(t *testing.T) {
	f := newCacheFixture(t, false)

	calls := 0
	err := f.svc.WithNsoClient(context.Background(), "abc", func(ctx context.Context, sess *NsoSession) error {
		calls++
		return domain.ErrCredentialRejected
	})
	assert.ErrorIs(t, err, domain.ErrCredentialRejected)
	assert.Equal(t, 1, calls)
	tokenCalls, _ := f.account.Calls()
	assert.Equal(t, int64(1), tokenCalls)
}

func TestCredentialService_WithMoonClientBindsAccount(t *testing.T) {
	f := newCacheFixture(t, false)

	err := f.svc.WithMoonClient(context.Background(), "abc", func(ctx context.Context, sess *MoonSession) error {
		assert.Equal(t, "na-access.abc", sess.Client.AccessToken())
		assert.Equal(t, "na-abc", sess.Client.UserID())
		return nil
	})
	require.NoError(t, err)
}

func TestCredentialService_ExchangeLockIsReleased(t *testing.T) {
	f := newCacheFixture(t, true)

	_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.locker.LockSuccesses)
	assert.Equal(t, int64(1), f.locker.ReleaseSuccesses)
	assert.False(t, f.locker.Held(storekeys.ExchangeLockKey(domain.ServiceNSO, "abc")))
}

func TestCredentialService_ExchangeLockTimeout(t *testing.T) {
	f := newCacheFixture(t, true)
	f.locker.Hold(storekeys.ExchangeLockKey(domain.ServiceNSO, "abc"), time.Minute)

	_, err := f.svc.GetOrRefresh(context.Background(), "abc", domain.ServiceNSO)
	assert.ErrorIs(t, err, domain.ErrExchangeLockTimeout)

	tokenCalls, _ := f.account.Calls()
	assert.Zero(t, tokenCalls)
}

func TestCredentialService_UsesRecordWrittenWhileWaitingForLock(t *testing.T) {
	f := newCacheFixture(t, true)
	ctx := context.Background()
	lockKey := storekeys.ExchangeLockKey(domain.ServiceNSO, "abc")
	f.locker.Hold(lockKey, 200*time.Millisecond)

	// Another process finishes the exchange while this one waits.
	record := domain.NsoTokenRecord{
		User:       domain.AccountUser{ID: "na-other"},
		Credential: domain.ServiceCredential{AccessToken: "from-other-process", ExpiresIn: 7200},
		ExpiresAt:  f.now.Add(time.Hour).UnixMilli(),
	}
	raw, err := json.Marshal(record)
	require.NoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.store.Put(storekeys.NsoTokenKey("abc"), raw)
	}()

	sess, err := f.svc.GetOrRefresh(ctx, "abc", domain.ServiceNSO)
	require.NoError(t, err)
	assert.False(t, sess.Fresh)
	assert.Equal(t, "from-other-process", sess.Record.AccessToken())
	tokenCalls, _ := f.account.Calls()
	assert.Zero(t, tokenCalls)
}
