package handler

import (
	"net/http"

	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// AnalyticsHandler serves tenant usage analytics.
type AnalyticsHandler struct {
	analyticsService *service.AnalyticsService
	logger           *logger.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analyticsSvc *service.AnalyticsService, log *logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsService: analyticsSvc,
		logger:           log,
	}
}

// Summary handles GET /api/v1/analytics?agent_id=
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.analyticsService.Summary(r.Context(), tenantID, r.URL.Query().Get("agent_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
