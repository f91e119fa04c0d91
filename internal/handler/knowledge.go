package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// KnowledgeHandler handles document ingestion.
type KnowledgeHandler struct {
	knowledgeService *service.KnowledgeService
	logger           *logger.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(knowledgeSvc *service.KnowledgeService, log *logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledgeService: knowledgeSvc,
		logger:           log,
	}
}

// Ingest handles POST /api/v1/knowledge/{sourceId}/documents
func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sourceID := chi.URLParam(r, "sourceId")
	if err := pathID("source_id", sourceID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req model.IngestDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.knowledgeService.Ingest(r.Context(), tenantID, sourceID, &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
