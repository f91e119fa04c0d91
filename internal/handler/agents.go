package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// AgentHandler handles agent management endpoints.
type AgentHandler struct {
	agentService *service.AgentService
	logger       *logger.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(agentSvc *service.AgentService, log *logger.Logger) *AgentHandler {
	return &AgentHandler{
		agentService: agentSvc,
		logger:       log,
	}
}

// List handles GET /api/v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.agentService.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/agents/{agentId}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, agentID, err := h.ids(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	agent, err := h.agentService.Get(r.Context(), tenantID, agentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// Create handles POST /api/v1/agents
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req model.CreateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	agent, err := h.agentService.Create(r.Context(), tenantID, &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// Update handles PATCH /api/v1/agents/{agentId}
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, agentID, err := h.ids(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req model.UpdateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	agent, err := h.agentService.Update(r.Context(), tenantID, agentID, &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// Delete handles DELETE /api/v1/agents/{agentId}
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, agentID, err := h.ids(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.agentService.Delete(r.Context(), tenantID, agentID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) ids(r *http.Request) (string, string, error) {
	tenantID, err := requestTenant(r)
	if err != nil {
		return "", "", err
	}
	agentID := chi.URLParam(r, "agentId")
	if err := pathID("agent_id", agentID); err != nil {
		return "", "", err
	}
	return tenantID, agentID, nil
}
