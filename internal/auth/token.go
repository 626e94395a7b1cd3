// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// Verifier resolves a bearer token to the identity it was issued for.
type Verifier interface {
	Verify(ctx context.Context, token string) (presence.UserID, error)
}

// Claims are the claims carried by connectly tokens.
type Claims struct {
	// Name is an optional display name; it is not used for identity.
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. When issuer is not empty the iss claim
// must match it.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, token string) (presence.UserID, error) {
	if token == "" {
		return "", oops.Code("TOKEN_INVALID").Wrapf(ErrTokenInvalid, "empty token")
	}

	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", oops.Code("TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrTokenInvalid)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", oops.Code("TOKEN_INVALID").With("reason", "missing subject").Wrap(ErrTokenInvalid)
	}
	return presence.UserID(claims.Subject), nil
}

// Issuer mints tokens accepted by a JWTVerifier with the same secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(secret []byte, issuer string) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, now: time.Now}
}

// Issue signs a token for user valid for ttl.
func (i *Issuer) Issue(user presence.UserID, ttl time.Duration) (string, error) {
	if user == "" {
		return "", oops.Code("INVALID_IDENTITY").Errorf("cannot issue a token for an empty identity")
	}
	if ttl <= 0 {
		return "", oops.Code("TOKEN_INVALID").With("ttl", ttl).Errorf("token ttl must be positive")
	}

	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        presence.NewULID().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("user", user).Wrap(err)
	}
	return signed, nil
}
