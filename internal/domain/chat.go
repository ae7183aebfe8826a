package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message roles as they appear in provider payloads.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation message.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ChatTurn is the immutable record of one request/response pair.
type ChatTurn struct {
	ID        uuid.UUID      `json:"id"`
	SessionID string         `json:"session_id"`
	Namespace string         `json:"namespace"`
	UserInput string         `json:"user_input"`
	AIOutput  string         `json:"ai_output"`
	Model     string         `json:"model"`
	Timestamp time.Time      `json:"timestamp"`
	Tokens    int            `json:"tokens"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// UserContext carries caller-supplied hints passed to the analysis LLM.
type UserContext struct {
	CurrentProjects []string `json:"current_projects,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	Preferences     []string `json:"preferences,omitempty"`
}

// Empty reports whether the context carries no hints.
func (u UserContext) Empty() bool {
	return len(u.CurrentProjects) == 0 && len(u.Skills) == 0 && len(u.Preferences) == 0
}
