// Package knowledge retrieves and ranks knowledge chunks for a chat turn,
// folds them into the system prompt, and indexes documents into chunks.
package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// CharsPerToken approximates token counts from character counts.
const CharsPerToken = 4

// Retrieval outcomes recorded in metrics.
const (
	outcomeSkipped  = "skipped"
	outcomeHit      = "hit"
	outcomeEmpty    = "empty"
	outcomeDegraded = "degraded"
)

// Retriever ranks a tenant's knowledge chunks against a query.
type Retriever struct {
	chunks   store.ChunkStore
	embedder Embedder
	logger   *logger.Logger
	tracer   trace.Tracer
}

// NewRetriever creates a new retriever.
func NewRetriever(chunks store.ChunkStore, embedder Embedder, log *logger.Logger) *Retriever {
	return &Retriever{
		chunks:   chunks,
		embedder: embedder,
		logger:   log,
		tracer:   otel.Tracer("github.com/capitalize-ai/agent-platform/internal/knowledge"),
	}
}

// Retrieve returns the ranked, budget-limited context for query. It never
// fails: embedding or store errors yield an empty context.
func (r *Retriever) Retrieve(ctx context.Context, query, tenantID, agentID string, settings *model.RAGSettings, sourceIDs []string) model.RagContext {
	if settings == nil || !settings.Enabled || len(sourceIDs) == 0 || strings.TrimSpace(query) == "" {
		metrics.RecordRetrieval(outcomeSkipped, 0)
		return model.RagContext{}
	}

	ctx, span := r.tracer.Start(ctx, "knowledge.Retrieve", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("agent.id", agentID),
		attribute.Int("rag.sources", len(sourceIDs)),
	))
	defer span.End()

	log := r.logger.With(zap.String("tenant_id", tenantID), zap.String("agent_id", agentID))

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		log.Warn("Query embedding failed, continuing without context", zap.Error(err))
		metrics.RecordRetrieval(outcomeDegraded, 0)
		return model.RagContext{}
	}

	candidates, err := r.chunks.ListChunks(ctx, tenantID, sourceIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk listing failed")
		log.Warn("Failed to list knowledge chunks, continuing without context", zap.Error(err))
		metrics.RecordRetrieval(outcomeDegraded, 0)
		return model.RagContext{}
	}

	rc := Rank(qvec, r.embedder.Model(), tenantID, candidates, settings)
	span.SetAttributes(
		attribute.Int("rag.candidates", len(candidates)),
		attribute.Int("rag.chunks", len(rc.Chunks)),
		attribute.Int("rag.tokens_estimate", rc.TotalTokensEstimate),
	)

	outcome := outcomeHit
	if rc.Empty() {
		outcome = outcomeEmpty
	}
	metrics.RecordRetrieval(outcome, len(rc.Chunks))
	log.Debug("Knowledge retrieved",
		zap.Int("candidates", len(candidates)),
		zap.Int("chunks", len(rc.Chunks)),
		zap.Int("tokens_estimate", rc.TotalTokensEstimate),
	)
	return rc
}

// Rank scores candidates against qvec and applies minScore, topK and the
// token budget. Candidates from another tenant or embedding model are ignored.
// Equal scores order newer chunks first, then keep the candidates' order.
func Rank(qvec []float32, embeddingModel, tenantID string, candidates []model.KnowledgeChunk, settings *model.RAGSettings) model.RagContext {
	scored := make([]model.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.TenantID != tenantID || c.EmbeddingModel != embeddingModel {
			continue
		}
		if len(c.Embedding) != len(qvec) {
			continue
		}
		score := CosineSimilarity(qvec, c.Embedding)
		if score < settings.MinScore {
			continue
		}
		scored = append(scored, model.ScoredChunk{Chunk: c, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.CreatedAt.After(scored[j].Chunk.CreatedAt)
	})

	topK := settings.TopK
	if topK <= 0 {
		topK = model.DefaultTopK
	}

	rc := model.RagContext{}
	for _, sc := range scored {
		if len(rc.Chunks) == topK {
			break
		}
		cost := EstimateTokens(sc.Chunk.Content)
		if settings.MaxContextTokens > 0 && rc.TotalTokensEstimate+cost > settings.MaxContextTokens {
			break
		}
		rc.Chunks = append(rc.Chunks, sc)
		rc.TotalTokensEstimate += cost
	}
	return rc
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
