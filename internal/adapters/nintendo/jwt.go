package nintendo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is the diagnostic view of a Nintendo Account id token or a znc token.
// Signatures are not verified; never use it for authorization decisions.
type TokenInfo struct {
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub"`
	Audience  []string  `json:"aud,omitempty"`
	Type      string    `json:"typ,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`

	// znc tokens only
	MembershipActive *bool  `json:"membership_active,omitempty"`
	NsaID            string `json:"nsa_id,omitempty"`

	// Nintendo Account id tokens only
	Country string `json:"country,omitempty"`
}

// Expired reports whether the token's exp is at or before now.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now)
}

// DecodeToken parses raw without verifying its signature.
func DecodeToken(raw string) (*TokenInfo, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse token: unexpected claims type %T", token.Claims)
	}

	info := &TokenInfo{}
	info.Issuer, _ = claims.GetIssuer()
	info.Audience, _ = claims.GetAudience()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}

	// znc tokens carry a numeric sub
	switch sub := claims["sub"].(type) {
	case string:
		info.Subject = sub
	case float64:
		info.Subject = strconv.FormatFloat(sub, 'f', -1, 64)
	}
	info.Type, _ = claims["typ"].(string)
	info.Country, _ = claims["country"].(string)

	if m, ok := claims["membership"].(map[string]any); ok {
		if active, ok := m["active"].(bool); ok {
			info.MembershipActive = &active
		}
	}
	if links, ok := claims["links"].(map[string]any); ok {
		if nsa, ok := links["networkServiceAccount"].(map[string]any); ok {
			info.NsaID, _ = nsa["id"].(string)
		}
	}
	return info, nil
}
