package utils

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenGenerator signs JWTs shaped like Nintendo Account id tokens and znc
// web API tokens. The signing key is local, so only unverified parsing accepts them.
type TokenGenerator struct {
	key     []byte
	counter int64
}

func NewTokenGenerator(key string) (*TokenGenerator, error) {
	if key == "" {
		return nil, fmt.Errorf("token generator: signing key must not be empty")
	}
	return &TokenGenerator{key: []byte(key)}, nil
}

func (tg *TokenGenerator) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tg.key)
}

// IDToken returns a Nintendo Account id token for accountID issued to clientID.
func (tg *TokenGenerator) IDToken(accountID, clientID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	return tg.sign(jwt.MapClaims{
		"iss":     "https://accounts.nintendo.com",
		"sub":     accountID,
		"aud":     clientID,
		"typ":     "id_token",
		"iat":     now.Unix(),
		"exp":     now.Add(expiresIn).Unix(),
		"country": "GB",
	})
}

// ZncToken returns a znc web API token with a numeric sub and membership claims.
func (tg *TokenGenerator) ZncToken(nsaID string, membershipActive bool, expiresIn time.Duration) (string, error) {
	now := time.Now()
	return tg.sign(jwt.MapClaims{
		"iss":        "api-lp1.znc.srv.nintendo.net",
		"sub":        5629499534213120 + atomic.AddInt64(&tg.counter, 1),
		"typ":        "id_token",
		"iat":        now.Unix(),
		"exp":        now.Add(expiresIn).Unix(),
		"membership": map[string]any{"active": membershipActive},
		"links": map[string]any{
			"networkServiceAccount": map[string]any{"id": nsaID},
		},
	})
}

// SessionTokens returns count distinct opaque session tokens.
func (tg *TokenGenerator) SessionTokens(count int) []string {
	tokens := make([]string, count)
	for i := range tokens {
		tokens[i] = "session-" + strconv.FormatInt(atomic.AddInt64(&tg.counter, 1), 10)
	}
	return tokens
}
