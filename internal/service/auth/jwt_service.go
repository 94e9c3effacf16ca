// Package auth verifies the bearer tokens the identity provider issues to
// end users. The conversion service never authenticates users itself; it
// only checks the signature and reads the user id from the subject.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/repurpose/internal/platform/logger"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// Claims is the verified identity extracted from a token.
type Claims struct {
	UserID    uuid.UUID
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

type tokenClaims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// JWTService verifies HS256 tokens and can mint them for local tooling.
type JWTService struct {
	signingKey []byte
	timeFunc   func() time.Time
	clockSkew  time.Duration
}

var _ TokenVerifier = (*JWTService)(nil)

// NewJWTService creates a JWT service using HMAC-SHA256 signing.
func NewJWTService(secret string) (*JWTService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	return &JWTService{
		signingKey: []byte(secret),
		timeFunc:   time.Now,
		clockSkew:  2 * time.Minute,
	}, nil
}

// WithTimeFunc returns a copy of the service that uses now as its clock.
func (s *JWTService) WithTimeFunc(now func() time.Time) *JWTService {
	cp := *s
	cp.timeFunc = now
	return &cp
}

// GenerateToken mints a token for userID valid for lifetime. Used by the
// CLI and tests; production tokens come from the identity provider.
func (s *JWTService) GenerateToken(userID uuid.UUID, lifetime time.Duration) (string, error) {
	now := s.timeFunc()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with HMAC-SHA256: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the signature and time claims, then resolves the
// user id from "sub" (or "uid" when the subject is not a UUID).
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)

	if tokenString == "" {
		return nil, ErrMissingToken
	}

	now := s.timeFunc()
	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed", "error", err, "error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		userID, err = uuid.Parse(claims.UserID)
	}
	if err != nil || userID == uuid.Nil {
		log.Debug("token validation failed: no user subject", "subject", claims.Subject)
		return nil, ErrMissingSubject
	}

	out := &Claims{
		UserID:  userID,
		Subject: claims.Subject,
		ID:      claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
