package knowledge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// Indexer turns documents into embedded chunks. Reindexing a source replaces
// all of its chunks.
type Indexer struct {
	chunks    store.ChunkStore
	embedder  Embedder
	logger    *logger.Logger
	chunkSize int
	overlap   int
	now       func() time.Time
}

// NewIndexer creates a new indexer.
func NewIndexer(chunks store.ChunkStore, embedder Embedder, log *logger.Logger, chunkSize, overlap int) *Indexer {
	return &Indexer{
		chunks:    chunks,
		embedder:  embedder,
		logger:    log,
		chunkSize: chunkSize,
		overlap:   overlap,
		now:       time.Now,
	}
}

// Index chunks and embeds text and stores the result as the source's chunk set.
func (ix *Indexer) Index(ctx context.Context, tenantID, sourceID, text string, page *int, strategy model.ChunkStrategy) (*model.IngestDocumentResponse, error) {
	var pieces []TextChunk
	switch strategy {
	case model.ChunkParagraphs:
		pieces = SplitParagraphs(text, ix.chunkSize, ix.overlap)
	default:
		pieces = SplitText(text, ix.chunkSize, ix.overlap)
	}
	if len(pieces) == 0 {
		return nil, apperr.Validation("document text is empty")
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, apperr.EmbeddingFailure(err)
	}

	now := ix.now()
	chunks := make([]model.KnowledgeChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.KnowledgeChunk{
			ID:                "chunk_" + uuid.NewString(),
			KnowledgeSourceID: sourceID,
			TenantID:          tenantID,
			Content:           p.Content,
			Embedding:         vecs[i],
			EmbeddingModel:    ix.embedder.Model(),
			Metadata: model.ChunkMetadata{
				ChunkIndex: i,
				PageNumber: page,
				StartChar:  p.Start,
				EndChar:    p.End,
			},
			CreatedAt: now,
		}
	}

	if err := ix.chunks.ReplaceChunks(ctx, tenantID, sourceID, chunks); err != nil {
		return nil, apperr.Internal("failed to store chunks", err)
	}

	ix.logger.Info("Knowledge source indexed",
		zap.String("tenant_id", tenantID),
		zap.String("knowledge_source_id", sourceID),
		zap.Int("chunks", len(chunks)),
		zap.String("embedding_model", ix.embedder.Model()),
	)

	return &model.IngestDocumentResponse{
		KnowledgeSourceID: sourceID,
		Chunks:            len(chunks),
		EmbeddingModel:    ix.embedder.Model(),
	}, nil
}
