package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

func newMockStorage(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStorageWithDB(db), mock
}

func userRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "telegram_chat_id", "first_name", "username", "tier",
		"trial_started_at", "trial_expires_at", "quota_used", "quota_limit",
		"last_activity_at", "created_at", "updated_at",
	}).AddRow(
		"acct-1", "a@example.com", int64(12345), "Ada", "ada_l", "free",
		now.Add(-time.Hour), now.Add(6*24*time.Hour), 49, 50,
		now, now, now,
	)
}

func TestPostgresGetUserByChatID(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery("FROM users WHERE telegram_chat_id").
		WithArgs(int64(12345)).
		WillReturnRows(userRows())

	user, err := store.GetUserByChatID(context.Background(), 12345)
	require.NoError(t, err)

	assert.Equal(t, "acct-1", user.ID)
	require.NotNil(t, user.TelegramChatID)
	assert.Equal(t, int64(12345), *user.TelegramChatID)
	assert.Equal(t, models.TierFree, user.Tier)
	assert.Equal(t, 49, user.QuotaUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserByChatIDNotFound(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery("FROM users WHERE telegram_chat_id").
		WithArgs(int64(99999)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUserByChatID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveQuotaSuccess(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("acct-1", 1, models.UnlimitedQuota).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ReserveQuota(context.Background(), "acct-1", 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveQuotaExceeded(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("acct-1", 1, models.UnlimitedQuota).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The follow-up lookup distinguishes "over quota" from "no such user".
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("acct-1").
		WillReturnRows(userRows())

	err := store.ReserveQuota(context.Background(), "acct-1", 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReserveQuotaUnknownUser(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("ghost", 1, models.UnlimitedQuota).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	err := store.ReserveQuota(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLinkChatIdentityUniqueViolation(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("acct-2", int64(12345), "Eve", "eve_x").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.LinkChatIdentity(context.Background(), "acct-2", 12345, "Eve", "eve_x")
	assert.ErrorIs(t, err, ErrChatTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLinkChatIdentityAlreadyLinked(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("acct-1", int64(67890), "Ada", "ada_l").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("acct-1").
		WillReturnRows(userRows())

	err := store.LinkChatIdentity(context.Background(), "acct-1", 67890, "Ada", "ada_l")
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeLinkingToken(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE linking_tokens").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE linking_tokens").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ConsumeLinkingToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ConsumeLinkingToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, ok, "second redemption loses the check-and-set")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveAuditRecord(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs("rec-1", "acct-1", int64(12345), models.AuditActionWorkflow, "weather_check",
			sqlmock.AnyArg(), true, int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveAuditRecord(context.Background(), &models.AuditRecord{
		ID:         "rec-1",
		UserID:     "acct-1",
		ChatID:     12345,
		ActionType: models.AuditActionWorkflow,
		Detail:     "weather_check",
		Context:    map[string]any{"workflow": "weather_check"},
		Success:    true,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
