package service

import (
	"context"
	"math"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
)

// AnalyticsService reports tenant usage.
type AnalyticsService struct {
	store store.Store
	guard *access.Guard
	now   func() time.Time
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(s store.Store, guard *access.Guard) *AnalyticsService {
	return &AnalyticsService{store: s, guard: guard, now: time.Now}
}

// Summary computes usage for the tenant, optionally restricted to one agent.
// Quota usage always covers the whole tenant.
func (s *AnalyticsService) Summary(ctx context.Context, tenantID, agentID string) (*model.AnalyticsResponse, error) {
	tenant, err := s.guard.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if agentID != "" {
		if _, err := s.guard.Agent(ctx, tenantID, agentID); err != nil {
			return nil, err
		}
	}

	agents, err := s.store.ListAgentsByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Internal("failed to list agents", err)
	}
	chats, err := s.store.ListChatsByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}

	now := s.now()
	startOfMonth := store.StartOfMonth(now)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))

	resp := &model.AnalyticsResponse{
		Tenant: model.TenantSummary{ID: tenant.ID, Name: tenant.Name, Plan: tenant.Plan},
		Agents: []model.AgentSummary{},
	}

	perAgentChats := make(map[string]int)
	perAgentMessages := make(map[string]int)
	monthly := 0
	for _, c := range chats {
		if !c.CreatedAt.Before(startOfMonth) {
			monthly++
		}
		if agentID != "" && c.AgentID != agentID {
			continue
		}

		resp.Summary.TotalChats++
		if !c.CreatedAt.Before(startOfDay) {
			resp.Period.ChatsToday++
		}
		if !c.CreatedAt.Before(startOfWeek) {
			resp.Period.ChatsThisWeek++
		}
		if !c.CreatedAt.Before(startOfMonth) {
			resp.Period.ChatsThisMonth++
		}

		msgs, err := s.store.ListMessagesByChat(ctx, c.ID)
		if err != nil {
			return nil, apperr.Internal("failed to list messages", err)
		}
		resp.Summary.TotalMessages += len(msgs)
		for _, m := range msgs {
			switch m.Role {
			case model.RoleUser:
				resp.Summary.UserMessages++
			case model.RoleAssistant:
				resp.Summary.AssistantMessages++
			}
		}
		perAgentChats[c.AgentID]++
		perAgentMessages[c.AgentID] += len(msgs)
	}

	for _, a := range agents {
		resp.Summary.TotalAgents++
		if a.Status == model.AgentStatusActive {
			resp.Summary.ActiveAgents++
		}
		if agentID != "" && a.ID != agentID {
			continue
		}
		resp.Agents = append(resp.Agents, model.AgentSummary{
			AgentID:       a.ID,
			Name:          a.Name,
			Status:        a.Status,
			Model:         a.Config.Model,
			TotalChats:    perAgentChats[a.ID],
			TotalMessages: perAgentMessages[a.ID],
		})
	}

	resp.Period.QuotaUsed = monthly
	if limit := tenant.Settings.MaxChatsPerMonth; limit > 0 {
		resp.Period.QuotaLimit = limit
		resp.Period.QuotaPercentage = int(math.Round(float64(monthly) / float64(limit) * 100))
	}
	return resp, nil
}
