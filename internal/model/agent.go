package model

import (
	"time"
)

// AgentStatus is the activation state of an agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusDraft    AgentStatus = "draft"
)

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusActive, AgentStatusInactive, AgentStatusDraft:
		return true
	}
	return false
}

// Agent is a configured chatbot persona owned by a tenant.
type Agent struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Description string      `json:"description,omitempty"`
	Config      AgentConfig `json:"config"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// AgentConfig holds the model and behaviour settings of an agent.
type AgentConfig struct {
	Model              string       `json:"model"`
	SystemPrompt       string       `json:"system_prompt"`
	Temperature        float64      `json:"temperature"`
	MaxTokens          int          `json:"max_tokens"`
	WelcomeMessage     string       `json:"welcome_message,omitempty"`
	FallbackMessage    string       `json:"fallback_message,omitempty"`
	RAG                *RAGSettings `json:"rag,omitempty"`
	KnowledgeSourceIDs []string     `json:"knowledge_source_ids,omitempty"`
}

// RAGSettings controls retrieval augmentation for an agent.
type RAGSettings struct {
	Enabled         bool    `json:"enabled"`
	TopK            int     `json:"top_k"`
	MinScore        float64 `json:"min_score"`
	IncludeMetadata bool    `json:"include_metadata"`

	// MaxContextTokens caps the estimated size of the injected context. Zero means no cap.
	MaxContextTokens int `json:"max_context_tokens,omitempty"`
}

// Default agent settings applied on creation.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTopK        = 5
)

// CreateAgentRequest is the request to create an agent.
type CreateAgentRequest struct {
	Name        string       `json:"name"`
	Slug        string       `json:"slug"`
	Description string       `json:"description,omitempty"`
	Config      AgentConfig  `json:"config"`
	Status      *AgentStatus `json:"status,omitempty"`
}

// UpdateAgentRequest is a partial update of an agent.
type UpdateAgentRequest struct {
	Name        *string      `json:"name,omitempty"`
	Slug        *string      `json:"slug,omitempty"`
	Description *string      `json:"description,omitempty"`
	Config      *AgentConfig `json:"config,omitempty"`
	Status      *AgentStatus `json:"status,omitempty"`
}

// ListAgentsResponse is the response for listing agents.
type ListAgentsResponse struct {
	Agents []Agent `json:"agents"`
}
