package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
	"github.com/clixen-ai/clixen-bot/internal/storage"
)

var (
	// ErrUnlinked means the chat identity has no bound account.
	ErrUnlinked = errors.New("chat identity not linked to an account")
	// ErrUpgradeRequired means the account's trial is over and its tier
	// grants no further access.
	ErrUpgradeRequired = errors.New("trial expired, upgrade required")
	// ErrUnavailable means the profile lookup itself failed. The storage
	// detail stays in logs, never in user-facing text.
	ErrUnavailable = errors.New("authentication system unavailable")
)

// Resolver turns a chat identity into an AuthContext snapshot. It is
// strictly read-only; activity tracking lives on the write path.
type Resolver struct {
	store  storage.UserStorage
	logger *zap.Logger
	now    func() time.Time
}

func NewResolver(store storage.UserStorage, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger, now: time.Now}
}

func (r *Resolver) Resolve(ctx context.Context, chatID int64) (*models.AuthContext, error) {
	user, err := r.store.GetUserByChatID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnlinked
	}
	if err != nil {
		r.logger.Error("Failed to look up user profile",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		return nil, ErrUnavailable
	}

	now := r.now()
	trialActive := user.TrialActive(now)
	if !trialActive && user.Tier == models.TierFree {
		return nil, ErrUpgradeRequired
	}

	return &models.AuthContext{
		UserID:      user.ID,
		ChatID:      chatID,
		Tier:        user.Tier,
		Permissions: user.Tier.Permissions(),
		QuotaUsed:   user.QuotaUsed,
		QuotaLimit:  user.QuotaLimit,
		TrialActive: trialActive,
	}, nil
}
