package service

import (
	"context"
	"errors"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/knowledge"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

const maxSourceIDLength = 128

// KnowledgeService ingests documents into a tenant's knowledge sources.
type KnowledgeService struct {
	guard   *access.Guard
	indexer *knowledge.Indexer
}

var errNoEmbedder = errors.New("no embedding provider configured")

// NewKnowledgeService creates a new knowledge service.
func NewKnowledgeService(guard *access.Guard, indexer *knowledge.Indexer) *KnowledgeService {
	return &KnowledgeService{guard: guard, indexer: indexer}
}

// Ingest chunks and embeds req.Text, replacing the source's existing chunks.
func (s *KnowledgeService) Ingest(ctx context.Context, tenantID, sourceID string, req *model.IngestDocumentRequest) (*model.IngestDocumentResponse, error) {
	if sourceID == "" || len(sourceID) > maxSourceIDLength {
		return nil, apperr.Validation("invalid knowledge source id")
	}
	if req.PageNumber != nil && *req.PageNumber < 1 {
		return nil, apperr.Validation("page_number must be positive")
	}
	if !req.Chunking.Valid() {
		return nil, apperr.Validation("chunking must be characters or paragraphs")
	}
	if _, err := s.guard.Tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if s.indexer == nil {
		return nil, apperr.EmbeddingFailure(errNoEmbedder)
	}
	return s.indexer.Index(ctx, tenantID, sourceID, req.Text, req.PageNumber, req.Chunking)
}
