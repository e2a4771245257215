package storage

import (
	"context"
	"sync"
	"time"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

// MemoryStorage keeps everything in process memory. Used for local
// development and as the storage double in tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	users  map[string]*models.UserProfile
	byChat map[int64]string
	tokens map[string]*models.LinkingToken
	audits []*models.AuditRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:  make(map[string]*models.UserProfile),
		byChat: make(map[int64]string),
		tokens: make(map[string]*models.LinkingToken),
	}
}

func (s *MemoryStorage) CreateUser(ctx context.Context, user *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.LastActivityAt = now

	clone := *user
	s.users[user.ID] = &clone
	if user.TelegramChatID != nil {
		s.byChat[*user.TelegramChatID] = user.ID
	}
	return nil
}

func (s *MemoryStorage) GetUserByID(ctx context.Context, id string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemoryStorage) GetUserByChatID(ctx context.Context, chatID int64) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byChat[chatID]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

func (s *MemoryStorage) ReserveQuota(ctx context.Context, userID string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return ErrNotFound
	}
	if user.QuotaLimit != models.UnlimitedQuota && user.QuotaUsed+credits > user.QuotaLimit {
		return ErrQuotaExceeded
	}

	user.QuotaUsed += credits
	user.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) LinkChatIdentity(ctx context.Context, userID string, chatID int64, firstName, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return ErrNotFound
	}
	if user.TelegramChatID != nil {
		return ErrAlreadyLinked
	}
	if _, taken := s.byChat[chatID]; taken {
		return ErrChatTaken
	}

	id := chatID
	user.TelegramChatID = &id
	user.FirstName = firstName
	user.Username = username
	user.UpdatedAt = time.Now()
	s.byChat[chatID] = userID
	return nil
}

func (s *MemoryStorage) TouchLastActivity(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, exists := s.users[userID]; exists {
		user.LastActivityAt = time.Now()
	}
	return nil
}

func (s *MemoryStorage) CreateLinkingToken(ctx context.Context, token *models.LinkingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *token
	s.tokens[token.Token] = &clone
	return nil
}

func (s *MemoryStorage) GetLinkingToken(ctx context.Context, tokenValue string) (*models.LinkingToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.tokens[tokenValue]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (s *MemoryStorage) ConsumeLinkingToken(ctx context.Context, tokenValue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[tokenValue]
	if !exists || token.RedeemedAt != nil {
		return false, nil
	}

	now := time.Now()
	token.RedeemedAt = &now
	return true, nil
}

func (s *MemoryStorage) SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	s.audits = append(s.audits, &clone)
	return nil
}

// AuditRecords returns a snapshot of everything recorded so far.
func (s *MemoryStorage) AuditRecords() []*models.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditRecord, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemoryStorage) Close() error {
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
