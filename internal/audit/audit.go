package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clixen-ai/clixen-bot/internal/models"
	"github.com/clixen-ai/clixen-bot/internal/storage"
)

// Logger appends audit records. A failed write is logged and swallowed;
// auditing must never abort the user-facing flow.
type Logger struct {
	store  storage.AuditStorage
	logger *zap.Logger
}

func NewLogger(store storage.AuditStorage, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

func (l *Logger) Record(ctx context.Context, userID string, chatID int64, actionType, detail string, contextData map[string]any, success bool, duration time.Duration) {
	if userID == "" {
		userID = models.UnknownAccount
	}

	record := &models.AuditRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		ChatID:     chatID,
		ActionType: actionType,
		Detail:     detail,
		Context:    contextData,
		Success:    success,
		Duration:   duration,
		CreatedAt:  time.Now(),
	}

	if err := l.store.SaveAuditRecord(ctx, record); err != nil {
		l.logger.Warn("Failed to save audit record",
			zap.Error(err),
			zap.String("action_type", actionType),
			zap.String("user_id", userID))
	}
}
