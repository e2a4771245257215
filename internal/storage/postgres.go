package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/clixen-ai/clixen-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

const uniqueViolation = "23505"

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageWithDB wraps an existing connection, used by tests.
func NewPostgresStorageWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) CreateUser(ctx context.Context, user *models.UserProfile) error {
	query := `
		INSERT INTO users (id, email, telegram_chat_id, first_name, username, tier,
			trial_started_at, trial_expires_at, quota_used, quota_limit, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		RETURNING created_at, updated_at, last_activity_at`

	err := s.db.QueryRowContext(ctx, query,
		user.ID,
		user.Email,
		user.TelegramChatID,
		user.FirstName,
		user.Username,
		user.Tier,
		user.TrialStartedAt,
		user.TrialExpiresAt,
		user.QuotaUsed,
		user.QuotaLimit,
	).Scan(&user.CreatedAt, &user.UpdatedAt, &user.LastActivityAt)
	if err != nil {
		return fmt.Errorf("error creating user: %w", err)
	}

	return nil
}

const userColumns = `id, email, telegram_chat_id, first_name, username, tier,
	trial_started_at, trial_expires_at, quota_used, quota_limit,
	last_activity_at, created_at, updated_at`

func (s *PostgresStorage) scanUser(row *sql.Row) (*models.UserProfile, error) {
	user := &models.UserProfile{}
	var chatID sql.NullInt64
	var trialStart, trialEnd sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Email,
		&chatID,
		&user.FirstName,
		&user.Username,
		&user.Tier,
		&trialStart,
		&trialEnd,
		&user.QuotaUsed,
		&user.QuotaLimit,
		&user.LastActivityAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning user: %w", err)
	}

	if chatID.Valid {
		user.TelegramChatID = &chatID.Int64
	}
	if trialStart.Valid {
		t := trialStart.Time
		user.TrialStartedAt = &t
	}
	if trialEnd.Valid {
		t := trialEnd.Time
		user.TrialExpiresAt = &t
	}

	return user, nil
}

func (s *PostgresStorage) GetUserByID(ctx context.Context, id string) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetUserByChatID(ctx context.Context, chatID int64) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_chat_id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, chatID))
}

func (s *PostgresStorage) ReserveQuota(ctx context.Context, userID string, credits int) error {
	// Single conditional UPDATE so the compare and the increment are one
	// atomic statement; concurrent reservations can never overshoot.
	query := `
		UPDATE users
		SET quota_used = quota_used + $2, updated_at = now()
		WHERE id = $1 AND (quota_limit = $3 OR quota_used + $2 <= quota_limit)`

	result, err := s.db.ExecContext(ctx, query, userID, credits, models.UnlimitedQuota)
	if err != nil {
		return fmt.Errorf("error reserving quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return ErrQuotaExceeded
	}

	return nil
}

func (s *PostgresStorage) LinkChatIdentity(ctx context.Context, userID string, chatID int64, firstName, username string) error {
	query := `
		UPDATE users
		SET telegram_chat_id = $2, first_name = $3, username = $4, updated_at = now()
		WHERE id = $1 AND telegram_chat_id IS NULL`

	result, err := s.db.ExecContext(ctx, query, userID, chatID, firstName, username)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrChatTaken
		}
		return fmt.Errorf("error linking chat identity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetUserByID(ctx, userID); err != nil {
			return err
		}
		return ErrAlreadyLinked
	}

	return nil
}

func (s *PostgresStorage) TouchLastActivity(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_activity_at = now() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("error updating last activity: %w", err)
	}
	return nil
}

func (s *PostgresStorage) CreateLinkingToken(ctx context.Context, token *models.LinkingToken) error {
	query := `
		INSERT INTO linking_tokens (token, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, token.Token, token.UserID, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("error creating linking token: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetLinkingToken(ctx context.Context, tokenValue string) (*models.LinkingToken, error) {
	query := `
		SELECT token, user_id, created_at, expires_at, redeemed_at
		FROM linking_tokens
		WHERE token = $1`

	token := &models.LinkingToken{}
	var redeemedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, tokenValue).Scan(
		&token.Token,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&redeemedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying linking token: %w", err)
	}

	if redeemedAt.Valid {
		t := redeemedAt.Time
		token.RedeemedAt = &t
	}

	return token, nil
}

func (s *PostgresStorage) ConsumeLinkingToken(ctx context.Context, tokenValue string) (bool, error) {
	// Check-and-set: only one concurrent redemption can flip redeemed_at.
	query := `
		UPDATE linking_tokens
		SET redeemed_at = now()
		WHERE token = $1 AND redeemed_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, tokenValue)
	if err != nil {
		return false, fmt.Errorf("error consuming linking token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}

	return rows > 0, nil
}

func (s *PostgresStorage) SaveAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	var contextJSON []byte
	if record.Context != nil {
		var err error
		contextJSON, err = json.Marshal(record.Context)
		if err != nil {
			return fmt.Errorf("error marshalling audit context: %w", err)
		}
	}

	query := `
		INSERT INTO audit_log (id, user_id, chat_id, action_type, action_detail, context, success, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.ChatID,
		record.ActionType,
		record.Detail,
		contextJSON,
		record.Success,
		record.Duration.Milliseconds(),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving audit record: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

var _ Storage = (*PostgresStorage)(nil)
