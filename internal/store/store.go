// Package store defines the persistence contract for tenants, agents, chats,
// messages and knowledge chunks, with in-memory and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when creating a record whose id is taken.
var ErrAlreadyExists = errors.New("record already exists")

// TenantStore persists tenants.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	CreateTenant(ctx context.Context, t *model.Tenant) error
	UpdateTenant(ctx context.Context, t *model.Tenant) error
}

// AgentStore persists agents.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgentsByTenant(ctx context.Context, tenantID string) ([]model.Agent, error)
	CreateAgent(ctx context.Context, a *model.Agent) error
	UpdateAgent(ctx context.Context, a *model.Agent) error
	DeleteAgent(ctx context.Context, id string) error
}

// ChatStore persists chats.
type ChatStore interface {
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	CreateChat(ctx context.Context, c *model.Chat) error
	ListChatsByTenant(ctx context.Context, tenantID string) ([]model.Chat, error)
	CountChatsSince(ctx context.Context, tenantID string, since time.Time) (int, error)

	// TouchChat sets the chat's last-activity timestamp.
	TouchChat(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists the ordered message sequence of each chat.
type MessageStore interface {
	ListMessagesByChat(ctx context.Context, chatID string) ([]model.Message, error)

	// AppendMessages appends messages whose ids are not yet stored for the chat
	// and returns how many were added. Repeated delivery is a no-op.
	AppendMessages(ctx context.Context, chatID string, msgs []model.Message) (int, error)

	// ReplaceMessages truncates the chat's history and stores msgs in its place.
	ReplaceMessages(ctx context.Context, chatID string, msgs []model.Message) error
}

// ChunkStore persists knowledge chunks.
type ChunkStore interface {
	// ListChunks returns the tenant's chunks for the given sources in a stable order.
	ListChunks(ctx context.Context, tenantID string, sourceIDs []string) ([]model.KnowledgeChunk, error)

	// ReplaceChunks swaps all chunks of a source for the given set.
	ReplaceChunks(ctx context.Context, tenantID, sourceID string, chunks []model.KnowledgeChunk) error
}

// Store is the full persistence contract.
type Store interface {
	TenantStore
	AgentStore
	ChatStore
	MessageStore
	ChunkStore

	Ping(ctx context.Context) error
	Close() error
}

// StartOfMonth returns midnight on the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// CountChatsThisMonth counts the tenant's chats created since the start of now's month.
func CountChatsThisMonth(ctx context.Context, s ChatStore, tenantID string, now time.Time) (int, error) {
	return s.CountChatsSince(ctx, tenantID, StartOfMonth(now))
}
