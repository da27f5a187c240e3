package storage

import (
	"context"

	"github.com/xaenox/concept-bot/internal/models"
)

// HistoryWindow is the number of chat turns kept per user (two exchanges).
const HistoryWindow = 4

type Storage interface {
	// EnsureUser creates the user row if it does not exist yet.
	EnsureUser(ctx context.Context, userID string) error
	// GetOrCreateSetting returns the user's settings, creating defaults
	// (assistant enabled) on first access.
	GetOrCreateSetting(ctx context.Context, userID string) (*models.UserSetting, error)
	SetAssistantEnabled(ctx context.Context, userID string, enabled bool) error

	// Embed HistoryStorage interface
	HistoryStorage

	Close() error
}

type HistoryStorage interface {
	AppendTurn(ctx context.Context, userID string, role models.Role, text string) error
	// RecentTurns returns at most limit turns ordered oldest to newest.
	RecentTurns(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error)
	// TrimToLast deletes everything but the keep most recent turns.
	TrimToLast(ctx context.Context, userID string, keep int) error
}
