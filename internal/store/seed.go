package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Demo identifiers created by Seed.
const (
	DemoTenantID     = "tenant_demo"
	DemoFreeTenantID = "tenant_free"
	DemoSupportAgent = "agent_support"
	DemoSalesAgent   = "agent_sales"
	DemoDraftAgent   = "agent_ops"
	DemoFreeAgent    = "agent_free"
	DemoSourceID     = "ks_handbook"
)

// Seed inserts the demo tenants and agents. Records that already exist are left untouched.
func Seed(ctx context.Context, s Store, now time.Time) error {
	tenants := []model.Tenant{
		{
			ID:   DemoTenantID,
			Name: "Demo Company",
			Slug: "demo",
			Plan: model.PlanPro,
			Settings: model.TenantSettings{
				MaxAgents:        10,
				MaxChatsPerMonth: 10000,
				CustomBranding:   true,
				AllowedModels:    []string{"gpt-4o", "gpt-4o-mini", "claude-3-5-sonnet-20241022"},
			},
		},
		{
			ID:   DemoFreeTenantID,
			Name: "Free Tier Co",
			Slug: "free",
			Plan: model.PlanFree,
			Settings: model.TenantSettings{
				MaxAgents:        1,
				MaxChatsPerMonth: 100,
				AllowedModels:    []string{"gpt-4o-mini"},
			},
		},
	}
	for i := range tenants {
		tenants[i].CreatedAt = now
		tenants[i].UpdatedAt = now
		if err := s.CreateTenant(ctx, &tenants[i]); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("failed to seed tenant %s: %w", tenants[i].ID, err)
		}
	}

	agents := []model.Agent{
		{
			ID:          DemoSupportAgent,
			TenantID:    DemoTenantID,
			Name:        "Support Assistant",
			Slug:        "support",
			Description: "Answers product questions from the handbook",
			Status:      model.AgentStatusActive,
			Config: model.AgentConfig{
				Model:           "gpt-4o",
				SystemPrompt:    "You are a friendly support assistant for Demo Company.",
				Temperature:     model.DefaultTemperature,
				MaxTokens:       model.DefaultMaxTokens,
				WelcomeMessage:  "Hi! How can I help you today?",
				FallbackMessage: "Sorry, I could not answer that. A human will follow up.",
				RAG: &model.RAGSettings{
					Enabled:          true,
					TopK:             model.DefaultTopK,
					MinScore:         0.3,
					IncludeMetadata:  true,
					MaxContextTokens: 2000,
				},
				KnowledgeSourceIDs: []string{DemoSourceID},
			},
		},
		{
			ID:       DemoSalesAgent,
			TenantID: DemoTenantID,
			Name:     "Sales Assistant",
			Slug:     "sales",
			Status:   model.AgentStatusActive,
			Config: model.AgentConfig{
				Model:        "claude-3-5-sonnet-20241022",
				SystemPrompt: "You help prospects choose the right plan.",
				Temperature:  model.DefaultTemperature,
				MaxTokens:    model.DefaultMaxTokens,
			},
		},
		{
			ID:       DemoDraftAgent,
			TenantID: DemoTenantID,
			Name:     "Ops Assistant",
			Slug:     "ops",
			Status:   model.AgentStatusDraft,
			Config: model.AgentConfig{
				Model:        "gpt-4o-mini",
				SystemPrompt: "You answer internal operations questions.",
				Temperature:  model.DefaultTemperature,
				MaxTokens:    model.DefaultMaxTokens,
			},
		},
		{
			ID:       DemoFreeAgent,
			TenantID: DemoFreeTenantID,
			Name:     "Helper",
			Slug:     "helper",
			Status:   model.AgentStatusActive,
			Config: model.AgentConfig{
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a helpful assistant.",
				Temperature:  model.DefaultTemperature,
				MaxTokens:    model.DefaultMaxTokens,
			},
		},
	}
	for i := range agents {
		agents[i].CreatedAt = now
		agents[i].UpdatedAt = now
		if err := s.CreateAgent(ctx, &agents[i]); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return fmt.Errorf("failed to seed agent %s: %w", agents[i].ID, err)
		}
	}
	return nil
}
