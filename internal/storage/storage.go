package storage

import (
	"context"
	"errors"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned by ReserveQuota when the increment
	// would push quota_used past quota_limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrAlreadyLinked is returned when the account already has a chat
	// identity bound.
	ErrAlreadyLinked = errors.New("account already linked")
	// ErrChatTaken is returned when the chat identity is bound to a
	// different account.
	ErrChatTaken = errors.New("chat identity already linked")
)

type Storage interface {
	UserStorage
	LinkingTokenStorage
	AuditStorage
	Close() error
}

type UserStorage interface {
	CreateUser(ctx context.Context, user *models.UserProfile) error
	GetUserByID(ctx context.Context, id string) (*models.UserProfile, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*models.UserProfile, error)

	// ReserveQuota atomically adds credits to the account's quota_used,
	// failing with ErrQuotaExceeded instead when the limit would be
	// passed. Accounts with the unlimited sentinel always succeed.
	ReserveQuota(ctx context.Context, userID string, credits int) error

	// LinkChatIdentity binds a chat identity and profile fields to the
	// account. Fails with ErrAlreadyLinked if the account has a chat
	// bound, or ErrChatTaken if the chat belongs to another account.
	LinkChatIdentity(ctx context.Context, userID string, chatID int64, firstName, username string) error

	// TouchLastActivity bumps the account's last-activity timestamp.
	// Kept separate from reads so the resolver stays side-effect free.
	TouchLastActivity(ctx context.Context, userID string) error
}

type LinkingTokenStorage interface {
	CreateLinkingToken(ctx context.Context, token *models.LinkingToken) error
	GetLinkingToken(ctx context.Context, token string) (*models.LinkingToken, error)

	// ConsumeLinkingToken marks the token redeemed with check-and-set
	// semantics; it reports false when the token was already consumed
	// by a concurrent redemption.
	ConsumeLinkingToken(ctx context.Context, token string) (bool, error)
}

type AuditStorage interface {
	SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error
}
