package models

import "time"

// Role tags a chat turn with who produced it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is a platform user known to the bot
type User struct {
	ID        string    `json:"line_user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSetting holds per-user preferences
type UserSetting struct {
	UserID           string    `json:"line_user_id"`
	AssistantEnabled bool      `json:"assistant_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ChatTurn is one recorded message of a conversation
type ChatTurn struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"line_user_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
