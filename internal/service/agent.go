package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const (
	maxNameLength = 100
	maxSlugLength = 64
)

// AgentService manages a tenant's agents within its plan limits.
type AgentService struct {
	store  store.Store
	guard  *access.Guard
	logger *logger.Logger
	now    func() time.Time
	newID  func() string

	// mu serializes quota and slug checks with the writes they guard.
	mu sync.Mutex
}

// NewAgentService creates a new agent service.
func NewAgentService(s store.Store, guard *access.Guard, log *logger.Logger) *AgentService {
	return &AgentService{
		store:  s,
		guard:  guard,
		logger: log,
		now:    time.Now,
		newID:  func() string { return "agent_" + uuid.Must(uuid.NewV7()).String() },
	}
}

// List returns the tenant's agents.
func (s *AgentService) List(ctx context.Context, tenantID string) (*model.ListAgentsResponse, error) {
	if _, err := s.guard.Tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	agents, err := s.store.ListAgentsByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Internal("failed to list agents", err)
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	return &model.ListAgentsResponse{Agents: agents}, nil
}

// Get returns one of the tenant's agents.
func (s *AgentService) Get(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	return s.guard.Agent(ctx, tenantID, agentID)
}

// Create adds an agent after checking the plan's agent limit, model allow-list
// and slug uniqueness.
func (s *AgentService) Create(ctx context.Context, tenantID string, req *model.CreateAgentRequest) (*model.Agent, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, err := s.guard.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.CheckAgentQuota(ctx, tenant); err != nil {
		return nil, err
	}
	if err := access.CheckModel(tenant, req.Config.Model); err != nil {
		return nil, err
	}
	if err := s.checkSlug(ctx, tenantID, req.Slug, ""); err != nil {
		return nil, err
	}

	cfg := req.Config
	if cfg.Temperature == 0 {
		cfg.Temperature = model.DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = model.DefaultMaxTokens
	}
	if cfg.RAG != nil && cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = model.DefaultTopK
	}
	status := model.AgentStatusActive
	if req.Status != nil {
		status = *req.Status
	}

	now := s.now()
	agent := &model.Agent{
		ID:          s.newID(),
		TenantID:    tenantID,
		Name:        strings.TrimSpace(req.Name),
		Slug:        req.Slug,
		Description: req.Description,
		Config:      cfg,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, apperr.SlugTaken(req.Slug)
		}
		return nil, apperr.Internal("failed to create agent", err)
	}

	s.logger.Info("Agent created",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", agent.ID),
		zap.String("model", cfg.Model),
	)
	return agent, nil
}

// Update applies a partial update. The owning tenant is never changed.
func (s *AgentService) Update(ctx context.Context, tenantID, agentID string, req *model.UpdateAgentRequest) (*model.Agent, error) {
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, err := s.guard.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	agent, err := s.guard.Agent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		agent.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.Slug != nil && *req.Slug != agent.Slug {
		if err := s.checkSlug(ctx, tenantID, *req.Slug, agent.ID); err != nil {
			return nil, err
		}
		agent.Slug = *req.Slug
	}
	if req.Config != nil {
		if req.Config.Model != agent.Config.Model {
			if err := access.CheckModel(tenant, req.Config.Model); err != nil {
				return nil, err
			}
		}
		agent.Config = *req.Config
	}
	if req.Status != nil {
		agent.Status = *req.Status
	}
	agent.UpdatedAt = s.now()

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.AgentNotFound()
		case errors.Is(err, store.ErrAlreadyExists):
			return nil, apperr.SlugTaken(agent.Slug)
		}
		return nil, apperr.Internal("failed to update agent", err)
	}
	return agent, nil
}

// Delete removes one of the tenant's agents.
func (s *AgentService) Delete(ctx context.Context, tenantID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.guard.Agent(ctx, tenantID, agentID); err != nil {
		return err
	}
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.AgentNotFound()
		}
		return apperr.Internal("failed to delete agent", err)
	}
	s.logger.Info("Agent deleted", zap.String("tenant_id", tenantID), zap.String("agent_id", agentID))
	return nil
}

func (s *AgentService) checkSlug(ctx context.Context, tenantID, slug, exceptID string) error {
	agents, err := s.store.ListAgentsByTenant(ctx, tenantID)
	if err != nil {
		return apperr.Internal("failed to list agents", err)
	}
	for _, a := range agents {
		if a.Slug == slug && a.ID != exceptID {
			return apperr.SlugTaken(slug)
		}
	}
	return nil
}

func validateCreate(req *model.CreateAgentRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return apperr.Validation("name is required")
	}
	if req.Slug == "" {
		return apperr.Validation("slug is required")
	}
	if req.Config.Model == "" {
		return apperr.Validation("config.model is required")
	}
	if strings.TrimSpace(req.Config.SystemPrompt) == "" {
		return apperr.Validation("config.system_prompt is required")
	}
	if err := validateName(req.Name); err != nil {
		return err
	}
	if err := validateSlug(req.Slug); err != nil {
		return err
	}
	if req.Status != nil && !req.Status.Valid() {
		return apperr.Validation("invalid status")
	}
	return validateConfig(&req.Config)
}

func validateUpdate(req *model.UpdateAgentRequest) error {
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return apperr.Validation("name cannot be empty")
		}
		if err := validateName(*req.Name); err != nil {
			return err
		}
	}
	if req.Slug != nil {
		if err := validateSlug(*req.Slug); err != nil {
			return err
		}
	}
	if req.Status != nil && !req.Status.Valid() {
		return apperr.Validation("invalid status")
	}
	if req.Config != nil {
		if req.Config.Model == "" {
			return apperr.Validation("config.model is required")
		}
		return validateConfig(req.Config)
	}
	return nil
}

func validateName(name string) error {
	if len(name) > maxNameLength {
		return apperr.Validation("name exceeds maximum length")
	}
	return nil
}

func validateSlug(slug string) error {
	if len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return apperr.Validation("slug must be lowercase letters, digits and hyphens")
	}
	return nil
}

func validateConfig(cfg *model.AgentConfig) error {
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return apperr.Validation("temperature must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		return apperr.Validation("max_tokens must not be negative")
	}
	if rag := cfg.RAG; rag != nil {
		if rag.TopK < 0 {
			return apperr.Validation("rag.top_k must not be negative")
		}
		if rag.MinScore < -1 || rag.MinScore > 1 {
			return apperr.Validation("rag.min_score must be between -1 and 1")
		}
		if rag.MaxContextTokens < 0 {
			return apperr.Validation("rag.max_context_tokens must not be negative")
		}
	}
	return nil
}
