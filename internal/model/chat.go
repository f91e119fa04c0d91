package model

import (
	"time"
)

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusClosed   ChatStatus = "closed"
	ChatStatusArchived ChatStatus = "archived"
)

// Chat is one conversation thread between a client and an agent.
// TenantID and AgentID are fixed at creation.
type Chat struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	AgentID   string        `json:"agent_id"`
	VisitorID string        `json:"visitor_id,omitempty"`
	Metadata  *ChatMetadata `json:"metadata,omitempty"`
	Status    ChatStatus    `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChatMetadata records where a chat originated.
type ChatMetadata struct {
	Source    string `json:"source,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// BelongsTo reports whether the chat is bound to the given tenant and agent.
func (c *Chat) BelongsTo(tenantID, agentID string) bool {
	return c.TenantID == tenantID && c.AgentID == agentID
}

// ListChatsResponse is the response for listing chats.
type ListChatsResponse struct {
	Chats []Chat `json:"chats"`
}

// StopResponse reports whether a stop request reached an in-flight turn.
type StopResponse struct {
	ChatID  string `json:"chat_id"`
	Stopped bool   `json:"stopped"`
}
