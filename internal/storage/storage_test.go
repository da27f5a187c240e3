package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/xaenox/concept-bot/internal/models"
)

// runStorageContract exercises the behaviour every Storage must share.
func runStorageContract(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("SettingDefaultsToEnabled", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		setting, err := s.GetOrCreateSetting(ctx, "U-default")
		if err != nil {
			t.Fatalf("get setting: %v", err)
		}
		if !setting.AssistantEnabled {
			t.Fatalf("new setting should be enabled")
		}
	})

	t.Run("ToggleIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, enabled := range []bool{false, false, true, true, false} {
			if err := s.SetAssistantEnabled(ctx, "U-toggle", enabled); err != nil {
				t.Fatalf("set enabled=%v: %v", enabled, err)
			}
			setting, err := s.GetOrCreateSetting(ctx, "U-toggle")
			if err != nil {
				t.Fatalf("get setting: %v", err)
			}
			if setting.AssistantEnabled != enabled {
				t.Fatalf("want enabled=%v, got %v", enabled, setting.AssistantEnabled)
			}
		}
	})

	t.Run("EnsureUserTwice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.EnsureUser(ctx, "U-twice"); err != nil {
			t.Fatalf("first ensure: %v", err)
		}
		if err := s.EnsureUser(ctx, "U-twice"); err != nil {
			t.Fatalf("second ensure: %v", err)
		}
	})

	t.Run("TrimKeepsMostRecentInOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 1; i <= 7; i++ {
			role := models.RoleUser
			if i%2 == 0 {
				role = models.RoleAssistant
			}
			if err := s.AppendTurn(ctx, "U-trim", role, fmt.Sprintf("turn-%d", i)); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		if err := s.TrimToLast(ctx, "U-trim", HistoryWindow); err != nil {
			t.Fatalf("trim: %v", err)
		}
		turns, err := s.RecentTurns(ctx, "U-trim", 100)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		want := []string{"turn-4", "turn-5", "turn-6", "turn-7"}
		if len(turns) != len(want) {
			t.Fatalf("want %d turns after trim, got %d", len(want), len(turns))
		}
		for i, w := range want {
			if turns[i].Text != w {
				t.Fatalf("turn %d: want %q, got %q", i, w, turns[i].Text)
			}
		}
		if turns[0].Role != models.RoleAssistant || turns[1].Role != models.RoleUser {
			t.Fatalf("roles not preserved: %+v", turns)
		}
	})

	t.Run("RecentTurnsLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 1; i <= 6; i++ {
			if err := s.AppendTurn(ctx, "U-limit", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		turns, err := s.RecentTurns(ctx, "U-limit", HistoryWindow)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(turns) != 4 || turns[0].Text != "m3" || turns[3].Text != "m6" {
			t.Fatalf("unexpected window: %+v", turns)
		}
	})

	t.Run("HistoryIsPerUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.AppendTurn(ctx, "U-a", models.RoleUser, "from a")
		_ = s.AppendTurn(ctx, "U-b", models.RoleUser, "from b")
		if err := s.TrimToLast(ctx, "U-a", 0); err != nil {
			t.Fatalf("trim: %v", err)
		}
		a, _ := s.RecentTurns(ctx, "U-a", HistoryWindow)
		b, _ := s.RecentTurns(ctx, "U-b", HistoryWindow)
		if len(a) != 0 || len(b) != 1 {
			t.Fatalf("trim leaked across users: a=%d b=%d", len(a), len(b))
		}
	})
}
