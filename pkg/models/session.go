package models

import "time"

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ChatMessage is one entry in a session's append-only message log.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session is per-conversation transient state. IDs are UUID strings so they
// remain valid keys in the external relational session table. Sessions idle
// past the configured TTL (default 24 h) are garbage-collected.
type Session struct {
	ID           string        `json:"id"`
	CanvasID     string        `json:"canvas_id,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// SessionInfo is the inspection view returned by the sessions endpoint.
type SessionInfo struct {
	ID           string    `json:"id"`
	CanvasID     string    `json:"canvas_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}
