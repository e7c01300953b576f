// Package auth implements Doorway's JWT session auth (spec.md §4's
// external-interface notes and §6), replacing the teacher's API-key
// provider chain with the HS256 claim set the specification names.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

// RefreshTokenTTL is the fixed expiry for refresh tokens (spec.md §4).
const RefreshTokenTTL = 7 * 24 * time.Hour

// MinSecretLen is the minimum HS256 secret length required in production.
const MinSecretLen = 32

// Claims is the JWT payload described in spec.md §4: human_id,
// agent_pub_key, identifier, permission_level, version, iat, exp.
type Claims struct {
	HumanID         string `json:"human_id"`
	AgentPubKey     string `json:"agent_pub_key"`
	Identifier      string `json:"identifier"`
	PermissionLevel string `json:"permission_level"`
	Version         int    `json:"version"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a single HS256 secret.
type Issuer struct {
	secret []byte
}

// NewIssuer builds an Issuer. It does not itself enforce MinSecretLen;
// pkg/server.NewWithConfig rejects a non-empty secret shorter than
// MinSecretLen outside dev mode.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Generate signs a session token for the given claim fields, expiring
// after ttl.
func (i *Issuer) Generate(humanID, agentPubKey, identifier, permissionLevel string, version int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		HumanID:         humanID,
		AgentPubKey:     agentPubKey,
		Identifier:      identifier,
		PermissionLevel: permissionLevel,
		Version:         version,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "TOKEN_SIGN_FAILED", "failed to sign session token", err)
	}
	return signed, nil
}

// GenerateRefresh signs a refresh token with the fixed 7-day expiry.
func (i *Issuer) GenerateRefresh(humanID, agentPubKey, identifier, permissionLevel string, version int) (string, error) {
	return i.Generate(humanID, agentPubKey, identifier, permissionLevel, version, RefreshTokenTTL)
}

// Verify parses and validates a token, returning its claims. Expired,
// malformed, or signature-mismatched tokens are reported as apperr.Auth.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.NewCode(apperr.Auth, "UNEXPECTED_SIGNING_METHOD", "unexpected JWT signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Auth, "INVALID_TOKEN", "token is missing, expired, or invalid", err)
	}
	if !token.Valid {
		return nil, apperr.NewCode(apperr.Auth, "INVALID_TOKEN", "token failed validation")
	}
	return claims, nil
}

// ExtractToken pulls a bearer token from a request using the three forms
// named in spec.md §4: "Authorization: Bearer <token>", a raw
// "Authorization: <token>" header, or a "token" query parameter.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return strings.TrimSpace(header)
	}
	return r.URL.Query().Get("token")
}
