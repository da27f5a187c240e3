package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/concept-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	logger.Info("Database schema is up to date")

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

const ensureUserQuery = `
	INSERT INTO users (line_user_id)
	VALUES ($1)
	ON CONFLICT (line_user_id) DO NOTHING`

func (s *PostgresStorage) EnsureUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, ensureUserQuery, userID); err != nil {
		return fmt.Errorf("error ensuring user: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetOrCreateSetting(ctx context.Context, userID string) (*models.UserSetting, error) {
	setting := &models.UserSetting{UserID: userID}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureUserQuery, userID); err != nil {
			return err
		}
		// The no-op update makes RETURNING yield the existing row on conflict.
		return tx.QueryRowContext(ctx, `
			INSERT INTO user_settings (line_user_id)
			VALUES ($1)
			ON CONFLICT (line_user_id) DO UPDATE SET line_user_id = EXCLUDED.line_user_id
			RETURNING llm_enabled, created_at, updated_at`,
			userID,
		).Scan(&setting.AssistantEnabled, &setting.CreatedAt, &setting.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("error getting user setting: %w", err)
	}
	return setting, nil
}

func (s *PostgresStorage) SetAssistantEnabled(ctx context.Context, userID string, enabled bool) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureUserQuery, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO user_settings (line_user_id, llm_enabled)
			VALUES ($1, $2)
			ON CONFLICT (line_user_id) DO UPDATE
			SET llm_enabled = EXCLUDED.llm_enabled, updated_at = NOW()`,
			userID, enabled)
		return err
	})
	if err != nil {
		return fmt.Errorf("error updating user setting: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendTurn(ctx context.Context, userID string, role models.Role, text string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureUserQuery, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chat_history (line_user_id, role, text)
			VALUES ($1, $2, $3)`,
			userID, string(role), text)
		return err
	})
	if err != nil {
		return fmt.Errorf("error appending chat turn: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecentTurns(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error) {
	query := `
		SELECT id, line_user_id, role, text, created_at
		FROM (
			SELECT id, line_user_id, role, text, created_at
			FROM chat_history
			WHERE line_user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying chat history: %w", err)
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		var turn models.ChatTurn
		var role string
		if err := rows.Scan(&turn.ID, &turn.UserID, &role, &turn.Text, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning chat turn: %w", err)
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat history: %w", err)
	}

	return turns, nil
}

func (s *PostgresStorage) TrimToLast(ctx context.Context, userID string, keep int) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_history
		WHERE line_user_id = $1
		  AND id NOT IN (
			SELECT id FROM chat_history
			WHERE line_user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		  )`,
		userID, keep)
	if err != nil {
		return fmt.Errorf("error trimming chat history: %w", err)
	}

	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		s.logger.Debug("Trimmed chat history",
			zap.String("user_id", userID),
			zap.Int64("deleted", deleted))
	}
	return nil
}

func (s *PostgresStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
