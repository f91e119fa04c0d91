package model

import (
	"time"
)

// KnowledgeChunk is an immutable fragment of an indexed document.
type KnowledgeChunk struct {
	ID                string        `json:"id"`
	KnowledgeSourceID string        `json:"knowledge_source_id"`
	TenantID          string        `json:"tenant_id"`
	Content           string        `json:"content"`
	Embedding         []float32     `json:"-"`
	EmbeddingModel    string        `json:"embedding_model"`
	Metadata          ChunkMetadata `json:"metadata"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ChunkMetadata locates a chunk within its source document.
type ChunkMetadata struct {
	ChunkIndex int  `json:"chunk_index"`
	PageNumber *int `json:"page_number,omitempty"`
	StartChar  int  `json:"start_char"`
	EndChar    int  `json:"end_char"`
}

// ScoredChunk is a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// RagContext is the per-request ranked retrieval result. It is never persisted.
type RagContext struct {
	Chunks              []ScoredChunk `json:"chunks"`
	TotalTokensEstimate int           `json:"total_tokens_estimate"`
}

// Empty reports whether no chunks were retrieved.
func (c RagContext) Empty() bool {
	return len(c.Chunks) == 0
}

// Sources returns attributions for the retrieved chunks in rank order.
func (c RagContext) Sources() []SourceAttribution {
	if len(c.Chunks) == 0 {
		return nil
	}
	out := make([]SourceAttribution, len(c.Chunks))
	for i, sc := range c.Chunks {
		out[i] = SourceAttribution{
			ChunkID:           sc.Chunk.ID,
			KnowledgeSourceID: sc.Chunk.KnowledgeSourceID,
			ChunkIndex:        sc.Chunk.Metadata.ChunkIndex,
			PageNumber:        sc.Chunk.Metadata.PageNumber,
			Score:             sc.Score,
		}
	}
	return out
}

// ChunkStrategy selects how a document is split before embedding.
type ChunkStrategy string

const (
	// ChunkCharacters cuts fixed-size overlapping windows. It is the default.
	ChunkCharacters ChunkStrategy = "characters"
	// ChunkParagraphs packs whole paragraphs into each chunk.
	ChunkParagraphs ChunkStrategy = "paragraphs"
)

// Valid reports whether s is a known strategy. The empty strategy is valid
// and means ChunkCharacters.
func (s ChunkStrategy) Valid() bool {
	switch s {
	case "", ChunkCharacters, ChunkParagraphs:
		return true
	}
	return false
}

// IngestDocumentRequest submits plain text for a knowledge source.
type IngestDocumentRequest struct {
	Text       string        `json:"text"`
	PageNumber *int          `json:"page_number,omitempty"`
	Chunking   ChunkStrategy `json:"chunking,omitempty"`
}

// IngestDocumentResponse reports the chunks produced for a source.
type IngestDocumentResponse struct {
	KnowledgeSourceID string `json:"knowledge_source_id"`
	Chunks            int    `json:"chunks"`
	EmbeddingModel    string `json:"embedding_model"`
}
