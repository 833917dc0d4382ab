package access

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints short-lived entitlement tokens for positive decisions
// so downstream services can verify access without calling back. Token
// lifetime equals the decision's cache horizon.
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	if issuer == "" {
		issuer = "tradersutopia-billingd"
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

type entitlementClaims struct {
	Reason string `json:"reason"`
	jwt.RegisteredClaims
}

// Issue signs a token for the decision. Only positive decisions get one.
func (t *TokenIssuer) Issue(externalRef string, d Decision) (string, error) {
	if !d.HasAccess {
		return "", nil
	}
	claims := entitlementClaims{
		Reason: string(d.Reason),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   externalRef,
			IssuedAt:  jwt.NewNumericDate(d.EvaluatedAt),
			ExpiresAt: jwt.NewNumericDate(d.ExpiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign entitlement token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its subject and reason.
func (t *TokenIssuer) Verify(tokenString string) (subject string, reason Reason, err error) {
	var claims entitlementClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("parse entitlement token: %w", err)
	}
	if !token.Valid {
		return "", "", fmt.Errorf("invalid entitlement token")
	}
	return claims.Subject, Reason(claims.Reason), nil
}
