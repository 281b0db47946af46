package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/storekeys"
)

// SessionSelector maintains which accounts are linked, which session token each
// one last used, and the default account.
type SessionSelector struct {
	store  domain.KVStore
	logger domain.Logger
	mu     sync.Mutex // serializes read-modify-write of the id set
}

// NewSessionSelector creates a new SessionSelector.
func NewSessionSelector(store domain.KVStore, logger domain.Logger) *SessionSelector {
	return &SessionSelector{store: store, logger: logger}
}

func (s *SessionSelector) getJSON(ctx context.Context, key string, out any) (bool, error) {
	b, err := s.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrCacheCorruption, key, err)
	}
	return true, nil
}

func (s *SessionSelector) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, b, 0); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ListAccounts returns every linked account id in link order.
func (s *SessionSelector) ListAccounts(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := s.getJSON(ctx, storekeys.AccountIDsKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// TouchAccountToken records sessionToken as the last one used for accountID.
func (s *SessionSelector) TouchAccountToken(ctx context.Context, service domain.ServiceKind, accountID, sessionToken string) error {
	return s.setJSON(ctx, storekeys.AccountTokenKey(service, accountID), sessionToken)
}

// LinkAccount indexes sessionToken under accountID and adds the id to the set.
// An explicit selectUser wins; otherwise the account becomes the default only
// when it is the sole linked account. Returns whether it was selected.
func (s *SessionSelector) LinkAccount(ctx context.Context, service domain.ServiceKind, accountID, sessionToken string, selectUser *bool) (bool, error) {
	if accountID == "" {
		return false, errors.New("link account: account id is empty")
	}
	if err := s.TouchAccountToken(ctx, service, accountID, sessionToken); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.ListAccounts(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheCorruption) {
			return false, err
		}
		s.logger.Warn(ctx, "Account id set is corrupted; rebuilding", "error", err.Error())
		ids = nil
	}
	if !slices.Contains(ids, accountID) {
		ids = append(ids, accountID)
		if err := s.setJSON(ctx, storekeys.AccountIDsKey, ids); err != nil {
			return false, err
		}
	}

	shouldSelect := len(ids) == 1
	if selectUser != nil {
		shouldSelect = *selectUser
	}
	if !shouldSelect {
		return false, nil
	}
	if current, err := s.Selected(ctx); err == nil && current == accountID {
		return true, nil
	}
	if err := s.setJSON(ctx, storekeys.SelectedUserKey, accountID); err != nil {
		return false, err
	}
	s.logger.Info(ctx, "Set as default user", "account_id", accountID)
	return true, nil
}

// Select makes accountID the default. The account must already be linked.
func (s *SessionSelector) Select(ctx context.Context, accountID string) error {
	ids, err := s.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, accountID) {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotLinked, accountID)
	}
	return s.setJSON(ctx, storekeys.SelectedUserKey, accountID)
}

// Selected returns the default account id, or ErrNoSelectedUser.
func (s *SessionSelector) Selected(ctx context.Context) (string, error) {
	var id string
	found, err := s.getJSON(ctx, storekeys.SelectedUserKey, &id)
	if err != nil {
		return "", err
	}
	if !found || id == "" {
		return "", domain.ErrNoSelectedUser
	}
	return id, nil
}

// SessionTokenFor resolves the session token last used for accountID, or for
// the default account when accountID is empty.
func (s *SessionSelector) SessionTokenFor(ctx context.Context, service domain.ServiceKind, accountID string) (string, error) {
	if accountID == "" {
		selected, err := s.Selected(ctx)
		if err != nil {
			return "", err
		}
		accountID = selected
	}
	var token string
	found, err := s.getJSON(ctx, storekeys.AccountTokenKey(service, accountID), &token)
	if err != nil {
		return "", err
	}
	if !found || token == "" {
		return "", fmt.Errorf("%w: %s (%s)", domain.ErrAccountNotLinked, accountID, service)
	}
	return token, nil
}

// Forget unlinks accountID for every service and clears the default if it pointed there.
func (s *SessionSelector) Forget(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, service := range []domain.ServiceKind{domain.ServiceNSO, domain.ServicePCTL} {
		if err := s.store.Delete(ctx, storekeys.AccountTokenKey(service, accountID)); err != nil {
			return fmt.Errorf("forget %s: %w", accountID, err)
		}
	}

	ids, err := s.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if i := slices.Index(ids, accountID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
		if err := s.setJSON(ctx, storekeys.AccountIDsKey, ids); err != nil {
			return err
		}
	}

	selected, err := s.Selected(ctx)
	if err == nil && selected == accountID {
		return s.store.Delete(ctx, storekeys.SelectedUserKey)
	}
	return nil
}
