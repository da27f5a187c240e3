package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/concept-bot/internal/models"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	settings map[string]*models.UserSetting
	turns    map[string][]models.ChatTurn
	nextID   int64
	now      func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:    make(map[string]*models.User),
		settings: make(map[string]*models.UserSetting),
		turns:    make(map[string][]models.ChatTurn),
		now:      time.Now,
	}
}

// User methods
func (s *MemoryStorage) EnsureUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureUserLocked(userID)
	return nil
}

func (s *MemoryStorage) ensureUserLocked(userID string) {
	if _, exists := s.users[userID]; !exists {
		s.users[userID] = &models.User{ID: userID, CreatedAt: s.now()}
	}
}

func (s *MemoryStorage) GetOrCreateSetting(ctx context.Context, userID string) (*models.UserSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting := s.settingLocked(userID)
	out := *setting
	return &out, nil
}

func (s *MemoryStorage) SetAssistantEnabled(ctx context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting := s.settingLocked(userID)
	setting.AssistantEnabled = enabled
	setting.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) settingLocked(userID string) *models.UserSetting {
	s.ensureUserLocked(userID)
	setting, exists := s.settings[userID]
	if !exists {
		now := s.now()
		setting = &models.UserSetting{
			UserID:           userID,
			AssistantEnabled: true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.settings[userID] = setting
	}
	return setting
}

// History methods
func (s *MemoryStorage) AppendTurn(ctx context.Context, userID string, role models.Role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureUserLocked(userID)
	s.nextID++
	s.turns[userID] = append(s.turns[userID], models.ChatTurn{
		ID:        s.nextID,
		UserID:    userID,
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *MemoryStorage) RecentTurns(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := sortedTurns(s.turns[userID])
	if limit >= 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *MemoryStorage) TrimToLast(ctx context.Context, userID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := sortedTurns(s.turns[userID])
	if keep < 0 {
		keep = 0
	}
	if len(turns) > keep {
		turns = turns[len(turns)-keep:]
	}
	s.turns[userID] = turns
	return nil
}

// sortedTurns returns a copy ordered by creation time, ties broken by id.
func sortedTurns(turns []models.ChatTurn) []models.ChatTurn {
	out := make([]models.ChatTurn, len(turns))
	copy(out, turns)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
