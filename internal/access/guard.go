// Package access enforces tenant ownership, agent activation, model
// allow-lists and plan quotas before any model call is made.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
)

// Store is the subset of the persistence contract the guard reads.
type Store interface {
	store.TenantStore
	store.AgentStore
	store.ChatStore
}

// Grant is the result of a successful authorization.
type Grant struct {
	Tenant *model.Tenant
	Agent  *model.Agent

	// Chat is nil when the request names a chat that does not exist yet.
	Chat *model.Chat
}

// Guard checks requests against tenant, agent and chat ownership.
// It never writes to the store.
type Guard struct {
	store Store
	now   func() time.Time
}

// NewGuard creates a new access guard.
func NewGuard(s Store) *Guard {
	return &Guard{store: s, now: time.Now}
}

// Authorize validates that agentID belongs to tenantID, is active and runs a
// model the tenant's plan allows. When chatID names an existing chat, the chat
// must be bound to the same tenant and agent.
func (g *Guard) Authorize(ctx context.Context, tenantID, agentID, chatID string) (*Grant, error) {
	tenant, err := g.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	agent, err := g.Agent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != model.AgentStatusActive {
		return nil, apperr.AgentInactive()
	}
	if err := CheckModel(tenant, agent.Config.Model); err != nil {
		return nil, err
	}

	grant := &Grant{Tenant: tenant, Agent: agent}
	if chatID == "" {
		return grant, nil
	}

	chat, err := g.store.GetChat(ctx, chatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return grant, nil
	case err != nil:
		return nil, apperr.Internal("failed to load chat", err)
	}
	if !chat.BelongsTo(tenantID, agentID) {
		return nil, apperr.ChatAccessDenied()
	}
	grant.Chat = chat
	return grant, nil
}

// Tenant loads a tenant, mapping absence to TenantNotFound.
func (g *Guard) Tenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	tenant, err := g.store.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.TenantNotFound()
	case err != nil:
		return nil, apperr.Internal("failed to load tenant", err)
	}
	return tenant, nil
}

// Agent loads an agent owned by tenantID. A missing agent and an agent owned
// by another tenant produce the same error.
func (g *Guard) Agent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	agent, err := g.store.GetAgent(ctx, agentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.AgentNotFound()
	case err != nil:
		return nil, apperr.Internal("failed to load agent", err)
	}
	if agent.TenantID != tenantID {
		return nil, apperr.AgentNotFound()
	}
	return agent, nil
}

// Chat loads a chat owned by tenantID. Foreign chats are reported as denied.
func (g *Guard) Chat(ctx context.Context, tenantID, chatID string) (*model.Chat, error) {
	chat, err := g.store.GetChat(ctx, chatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.ChatNotFound()
	case err != nil:
		return nil, apperr.Internal("failed to load chat", err)
	}
	if chat.TenantID != tenantID {
		return nil, apperr.ChatAccessDenied()
	}
	return chat, nil
}

// CheckChatQuota fails when the tenant has used up its monthly chat allowance.
// A non-positive limit is unlimited.
func (g *Guard) CheckChatQuota(ctx context.Context, tenant *model.Tenant) error {
	limit := tenant.Settings.MaxChatsPerMonth
	if limit <= 0 {
		return nil
	}
	used, err := store.CountChatsThisMonth(ctx, g.store, tenant.ID, g.now())
	if err != nil {
		return apperr.Internal("failed to count chats", err)
	}
	if used >= limit {
		return apperr.ChatQuotaExceeded(limit, used)
	}
	return nil
}

// CheckAgentQuota fails when the tenant already owns its maximum number of agents.
// A non-positive limit is unlimited.
func (g *Guard) CheckAgentQuota(ctx context.Context, tenant *model.Tenant) error {
	limit := tenant.Settings.MaxAgents
	if limit <= 0 {
		return nil
	}
	agents, err := g.store.ListAgentsByTenant(ctx, tenant.ID)
	if err != nil {
		return apperr.Internal("failed to list agents", err)
	}
	if len(agents) >= limit {
		return apperr.AgentQuotaExceeded(limit)
	}
	return nil
}

// CheckModel fails when the tenant's plan does not allow modelID.
func CheckModel(tenant *model.Tenant, modelID string) error {
	if !tenant.Settings.AllowsModel(modelID) {
		return apperr.ModelNotAllowed(modelID, tenant.Settings.AllowedModels)
	}
	return nil
}
