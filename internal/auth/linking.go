package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/clixen-ai/clixen-bot/internal/audit"
	"github.com/clixen-ai/clixen-bot/internal/models"
	"github.com/clixen-ai/clixen-bot/internal/storage"
)

var (
	ErrTokenInvalid     = errors.New("linking token invalid")
	ErrTokenExpired     = errors.New("linking token expired")
	ErrTokenAlreadyUsed = errors.New("linking token already used")
)

const linkingTokenBytes = 16 // 128 bits of entropy

// LinkingService issues and redeems single-use tokens that bind a chat
// identity to an account.
type LinkingService struct {
	store storage.Storage
	audit *audit.Logger
	ttl   time.Duration
	now   func() time.Time
}

func NewLinkingService(store storage.Storage, auditLog *audit.Logger, ttl time.Duration) *LinkingService {
	return &LinkingService{
		store: store,
		audit: auditLog,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Issue creates a fresh token for the account, valid for the service TTL.
// The token is shown to the user out-of-band (dashboard) and typed or
// deep-linked into the chat.
func (s *LinkingService) Issue(ctx context.Context, accountID string) (string, error) {
	buf := make([]byte, linkingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate linking token: %w", err)
	}

	now := s.now()
	token := &models.LinkingToken{
		Token:     hex.EncodeToString(buf),
		UserID:    accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.CreateLinkingToken(ctx, token); err != nil {
		return "", fmt.Errorf("failed to persist linking token: %w", err)
	}

	return token.Token, nil
}

// Redeem consumes the token and binds the chat identity to its account.
// A chat already bound to a different account, or an account that
// already has a chat bound, is rejected; links are never overwritten.
func (s *LinkingService) Redeem(ctx context.Context, tokenValue string, chatID int64, firstName, username string) (*models.UserProfile, error) {
	start := s.now()

	token, err := s.store.GetLinkingToken(ctx, tokenValue)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, s.fail(ctx, chatID, start, ErrTokenInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up linking token: %w", err)
	}

	if token.Redeemed() {
		return nil, s.fail(ctx, chatID, start, ErrTokenAlreadyUsed)
	}
	if token.Expired(s.now()) {
		return nil, s.fail(ctx, chatID, start, ErrTokenExpired)
	}

	if existing, err := s.store.GetUserByChatID(ctx, chatID); err == nil && existing.ID != token.UserID {
		return nil, s.fail(ctx, chatID, start, storage.ErrChatTaken)
	}

	// Check-and-set against concurrent redemptions of the same token.
	consumed, err := s.store.ConsumeLinkingToken(ctx, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("failed to consume linking token: %w", err)
	}
	if !consumed {
		return nil, s.fail(ctx, chatID, start, ErrTokenAlreadyUsed)
	}

	if err := s.store.LinkChatIdentity(ctx, token.UserID, chatID, firstName, username); err != nil {
		if errors.Is(err, storage.ErrAlreadyLinked) || errors.Is(err, storage.ErrChatTaken) {
			return nil, s.fail(ctx, chatID, start, err)
		}
		return nil, fmt.Errorf("failed to link chat identity: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked profile: %w", err)
	}

	s.audit.Record(ctx, token.UserID, chatID, models.AuditActionAccountLinked, "telegram account linked",
		map[string]any{"username": username}, true, s.now().Sub(start))

	return user, nil
}

func (s *LinkingService) fail(ctx context.Context, chatID int64, start time.Time, reason error) error {
	s.audit.Record(ctx, models.UnknownAccount, chatID, models.AuditActionLinkFailure, reason.Error(),
		nil, false, s.now().Sub(start))
	return reason
}
