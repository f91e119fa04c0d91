package model

import (
	"time"
)

// EventType represents the type of chat event.
type EventType string

const (
	EventTypeCompleted EventType = "completed"
	EventTypeError     EventType = "error"
	EventTypeCancel    EventType = "cancel"
	EventTypeTimeout   EventType = "timeout"
)

// ChatEvent represents a turn lifecycle event in a chat.
type ChatEvent struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	TenantID  string         `json:"tenant_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      EventType      `json:"type"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
