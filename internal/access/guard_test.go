package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
)

func setupGuard(t *testing.T) (*Guard, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	for _, tn := range []model.Tenant{
		{ID: "t-pro", Plan: model.PlanPro, Settings: model.TenantSettings{
			MaxAgents: 2, MaxChatsPerMonth: 2, AllowedModels: []string{"gpt-4o", "gpt-4o-mini"},
		}},
		{ID: "t-free", Plan: model.PlanFree, Settings: model.TenantSettings{
			MaxAgents: 1, MaxChatsPerMonth: 10, AllowedModels: []string{"gpt-4o-mini"},
		}},
	} {
		tn := tn
		require.NoError(t, s.CreateTenant(ctx, &tn))
	}
	for _, a := range []model.Agent{
		{ID: "a-pro", TenantID: "t-pro", Status: model.AgentStatusActive, Config: model.AgentConfig{Model: "gpt-4o"}},
		{ID: "a-draft", TenantID: "t-pro", Status: model.AgentStatusDraft, Config: model.AgentConfig{Model: "gpt-4o"}},
		{ID: "a-free", TenantID: "t-free", Status: model.AgentStatusActive, Config: model.AgentConfig{Model: "gpt-4o"}},
	} {
		a := a
		require.NoError(t, s.CreateAgent(ctx, &a))
	}
	require.NoError(t, s.CreateChat(ctx, &model.Chat{
		ID: "chat_x", TenantID: "t-pro", AgentID: "a-pro", Status: model.ChatStatusActive, CreatedAt: now,
	}))

	g := NewGuard(s)
	g.now = func() time.Time { return now }
	return g, s
}

func TestGuard_Authorize(t *testing.T) {
	g, _ := setupGuard(t)

	tests := []struct {
		name     string
		tenantID string
		agentID  string
		chatID   string
		wantCode apperr.Code
		wantChat bool
	}{
		{name: "new chat", tenantID: "t-pro", agentID: "a-pro", chatID: "chat_new"},
		{name: "no chat id", tenantID: "t-pro", agentID: "a-pro"},
		{name: "existing chat", tenantID: "t-pro", agentID: "a-pro", chatID: "chat_x", wantChat: true},
		{name: "unknown tenant", tenantID: "t-none", agentID: "a-pro", wantCode: apperr.CodeTenantNotFound},
		{name: "unknown agent", tenantID: "t-pro", agentID: "a-none", wantCode: apperr.CodeAgentNotFound},
		{name: "foreign agent", tenantID: "t-pro", agentID: "a-free", wantCode: apperr.CodeAgentNotFound},
		{name: "draft agent", tenantID: "t-pro", agentID: "a-draft", wantCode: apperr.CodeAgentInactive},
		{name: "model not on plan", tenantID: "t-free", agentID: "a-free", wantCode: apperr.CodeModelNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := g.Authorize(context.Background(), tt.tenantID, tt.agentID, tt.chatID)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperr.HasCode(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.agentID, grant.Agent.ID)
			assert.Equal(t, tt.wantChat, grant.Chat != nil)
		})
	}
}

func TestGuard_AgentExistenceIsNotLeaked(t *testing.T) {
	g, _ := setupGuard(t)

	_, missing := g.Authorize(context.Background(), "t-pro", "a-none", "")
	_, foreign := g.Authorize(context.Background(), "t-pro", "a-free", "")

	assert.Equal(t, missing, foreign)
	assert.Equal(t, apperr.Public(missing), apperr.Public(foreign))
}

func TestGuard_ChatReusedWithDifferentAgent(t *testing.T) {
	g, s := setupGuard(t)
	ctx := context.Background()

	second := model.Agent{ID: "a-pro-2", TenantID: "t-pro", Status: model.AgentStatusActive, Config: model.AgentConfig{Model: "gpt-4o-mini"}}
	require.NoError(t, s.CreateAgent(ctx, &second))

	_, err := g.Authorize(ctx, "t-pro", "a-pro-2", "chat_x")
	require.Error(t, err)
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))
	assert.Equal(t, apperr.Public(apperr.ChatNotFound()), apperr.Public(err))
}

func TestGuard_ModelNotAllowedCarriesAllowedSet(t *testing.T) {
	g, _ := setupGuard(t)

	_, err := g.Authorize(context.Background(), "t-free", "a-free", "")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPlanLimitExceeded, e.Kind)
	assert.Equal(t, []string{"gpt-4o-mini"}, e.Details["allowed_models"])
}

func TestGuard_CheckChatQuota(t *testing.T) {
	g, s := setupGuard(t)
	ctx := context.Background()

	tenant, err := g.Tenant(ctx, "t-pro")
	require.NoError(t, err)
	require.NoError(t, g.CheckChatQuota(ctx, tenant))

	require.NoError(t, s.CreateChat(ctx, &model.Chat{ID: "chat_y", TenantID: "t-pro", AgentID: "a-pro", CreatedAt: g.now()}))
	err = g.CheckChatQuota(ctx, tenant)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeChatQuotaExceeded, e.Code)
	assert.Equal(t, 2, e.Details["limit"])

	tenant.Settings.MaxChatsPerMonth = 0
	assert.NoError(t, g.CheckChatQuota(ctx, tenant))
}

func TestGuard_CheckAgentQuota(t *testing.T) {
	g, _ := setupGuard(t)
	ctx := context.Background()

	free, err := g.Tenant(ctx, "t-free")
	require.NoError(t, err)
	assert.True(t, apperr.HasCode(g.CheckAgentQuota(ctx, free), apperr.CodeAgentQuotaExceeded))

	pro, err := g.Tenant(ctx, "t-pro")
	require.NoError(t, err)
	assert.True(t, apperr.HasCode(g.CheckAgentQuota(ctx, pro), apperr.CodeAgentQuotaExceeded))

	pro.Settings.MaxAgents = 5
	assert.NoError(t, g.CheckAgentQuota(ctx, pro))
}

func TestGuard_Chat(t *testing.T) {
	g, _ := setupGuard(t)
	ctx := context.Background()

	c, err := g.Chat(ctx, "t-pro", "chat_x")
	require.NoError(t, err)
	assert.Equal(t, "a-pro", c.AgentID)

	_, err = g.Chat(ctx, "t-free", "chat_x")
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))

	_, err = g.Chat(ctx, "t-pro", "chat_missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) GetTenant(context.Context, string) (*model.Tenant, error) {
	return nil, errors.New("connection reset")
}

func TestGuard_StoreFailureIsInternal(t *testing.T) {
	g := NewGuard(failingStore{store.NewMemoryStore()})

	_, err := g.Authorize(context.Background(), "t", "a", "")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
