// Package token mints and verifies the short-lived bearer tokens the bot
// presents to the workflow engine. Both sides share a symmetric secret;
// the verifier half runs downstream but its contract is dictated here.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

const (
	// Issuer identifies this system in minted tokens.
	Issuer = "clixen-bot"
	// Audience identifies the downstream workflow engine.
	Audience = "n8n-workflows"
)

var (
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrWrongIssuer      = errors.New("token issuer mismatch")
	ErrWrongAudience    = errors.New("token audience mismatch")
	ErrMalformed        = errors.New("token malformed")
)

// Claims carries the authorization snapshot the downstream engine uses
// for its own permission re-check. It must never be trusted without
// signature, expiry, issuer and audience validation.
type Claims struct {
	ChatID      int64       `json:"chat_id"`
	Tier        models.Tier `json:"tier"`
	QuotaUsed   int         `json:"quota_used"`
	QuotaLimit  int         `json:"quota_limit"`
	Permissions []string    `json:"permissions"`
	Workflow    string      `json:"workflow"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a token asserting the context's identity and authorization
// for one intended workflow. Tokens are per-dispatch and never persisted.
func (s *Service) Issue(ctx *models.AuthContext, workflow string) (string, error) {
	now := s.now()
	claims := Claims{
		ChatID:      ctx.ChatID,
		Tier:        ctx.Tier,
		QuotaUsed:   ctx.QuotaUsed,
		QuotaLimit:  ctx.QuotaLimit,
		Permissions: ctx.Permissions,
		Workflow:    workflow,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ctx.UserID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify validates the signature, expiry, issuer and audience, and
// returns the trusted claims. The jwt library's HMAC comparison is
// constant-time.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrWrongIssuer
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrWrongAudience
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}
