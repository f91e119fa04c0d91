package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// DefaultEmbeddingModel is used for both indexing and querying.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder turns text into vectors. Model identifies the vector space so
// chunks and queries from different models are never compared.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for the given model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return NewOpenAIEmbedderWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIEmbedderWithConfig creates an embedder with a custom client configuration.
func NewOpenAIEmbedderWithConfig(cfg openai.ClientConfig, model string) *OpenAIEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the embedding model id.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

// CachedEmbedder memoizes single-text embeddings and collapses concurrent
// requests for the same text into one upstream call.
type CachedEmbedder struct {
	next  Embedder
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedEmbedder wraps next with a TTL cache.
func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Model returns the wrapped embedder's model id.
func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

// Embed returns a cached vector or embeds text once for all concurrent callers.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.next.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return v.([]float32), nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	result, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		vec, err := c.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, vec, cache.DefaultExpiration)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	vec, ok := result.([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected type from embedding group: %T", result)
	}
	return vec, nil
}

// EmbedBatch is not cached; batches are only produced by indexing.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedBatch(ctx, texts)
}
