package storekeys

import (
	"fmt"

	"github.com/Sarayalth/nxapi/internal/domain"
	"github.com/Sarayalth/nxapi/pkg/crypto"
)

const (
	// AccountIDsKey holds the JSON array of every linked Nintendo Account id.
	AccountIDsKey = "NintendoAccountIds"
	// SelectedUserKey holds the JSON string id of the default account.
	SelectedUserKey = "SelectedUser"
)

// RecordKey is the key of the cached token record for a session token.
func RecordKey(service domain.ServiceKind, sessionToken string) string {
	switch service {
	case domain.ServicePCTL:
		return MoonTokenKey(sessionToken)
	default:
		return NsoTokenKey(sessionToken)
	}
}

// NsoTokenKey generates the key of the NSO app service record.
func NsoTokenKey(sessionToken string) string {
	return "NsoToken." + sessionToken
}

// MoonTokenKey generates the key of the parental-control record.
func MoonTokenKey(sessionToken string) string {
	return "MoonToken." + sessionToken
}

// AccountTokenKey maps an account id to the last session token used with it.
func AccountTokenKey(service domain.ServiceKind, accountID string) string {
	if service == domain.ServicePCTL {
		return "NintendoAccountToken-pctl." + accountID
	}
	return "NintendoAccountToken." + accountID
}

// ExchangeLockKey is the lock key guarding a full exchange. The session token is hashed
// so it never appears in lock keys.
func ExchangeLockKey(service domain.ServiceKind, sessionToken string) string {
	return fmt.Sprintf("lock:%s:%s", service, crypto.Sha256Hex(sessionToken))
}
