package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartType discriminates message content parts.
type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartSource         PartType = "source"
)

// Part is one typed piece of message content.
type Part struct {
	Type PartType `json:"type"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// tool-invocation
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// source
	SourceType string `json:"sourceType,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// Message represents a chat message.
type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	Role      Role             `json:"role"`
	Parts     []Part           `json:"parts"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// MessageMetadata carries generation details for assistant messages.
type MessageMetadata struct {
	Model      string              `json:"model,omitempty"`
	TokenUsage *TokenUsage         `json:"token_usage,omitempty"`
	LatencyMs  int64               `json:"latency_ms,omitempty"`
	StopReason string              `json:"stop_reason,omitempty"`
	Sources    []SourceAttribution `json:"sources,omitempty"`
}

// TokenUsage reports token counts for one generation.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// SourceAttribution links an assistant message to a knowledge chunk used as context.
type SourceAttribution struct {
	ChunkID           string  `json:"chunk_id"`
	KnowledgeSourceID string  `json:"knowledge_source_id"`
	ChunkIndex        int     `json:"chunk_index"`
	PageNumber        *int    `json:"page_number,omitempty"`
	Score             float64 `json:"score"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
}

// FragmentEvent is one incremental piece of streamed output.
type FragmentEvent struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// StartEvent opens a turn stream.
type StartEvent struct {
	ChatID string `json:"chat_id"`
}

// DoneEvent terminates a successful turn stream.
type DoneEvent struct {
	ChatID    string           `json:"chat_id"`
	MessageID string           `json:"message_id"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}
