package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

func TestIndexer_ReplacesSourceChunks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ix := NewIndexer(s, newFakeEmbedder(nil), logger.NewNop(), 10, 2)

	page := 7
	resp, err := ix.Index(ctx, "t1", "ks1", strings.Repeat("abcdefgh", 3), &page, "")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Chunks)
	assert.Equal(t, DefaultEmbeddingModel, resp.EmbeddingModel)

	chunks, err := s.ListChunks(ctx, "t1", []string{"ks1"})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, 7, *c.Metadata.PageNumber)
		assert.Equal(t, DefaultEmbeddingModel, c.EmbeddingModel)
		assert.NotEmpty(t, c.Embedding)
	}
	assert.Equal(t, 8, chunks[1].Metadata.StartChar)

	resp, err = ix.Index(ctx, "t1", "ks1", "short", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Chunks)
	chunks, err = s.ListChunks(ctx, "t1", []string{"ks1"})
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestIndexer_Errors(t *testing.T) {
	ctx := context.Background()

	ix := NewIndexer(store.NewMemoryStore(), newFakeEmbedder(nil), logger.NewNop(), 10, 2)
	_, err := ix.Index(ctx, "t1", "ks1", "  ", nil, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	failing := newFakeEmbedder(nil)
	failing.err = errors.New("quota")
	ix = NewIndexer(store.NewMemoryStore(), failing, logger.NewNop(), 10, 2)
	_, err = ix.Index(ctx, "t1", "ks1", "some text", nil, "")
	assert.True(t, apperr.HasCode(err, apperr.CodeEmbeddingFailure))
}

func TestIndexer_ParagraphChunking(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ix := NewIndexer(s, newFakeEmbedder(nil), logger.NewNop(), 30, 5)

	resp, err := ix.Index(ctx, "t1", "ks1", "First paragraph.\n\nSecond one.\n\nThird paragraph here.", nil, model.ChunkParagraphs)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Chunks)

	chunks, err := s.ListChunks(ctx, "t1", []string{"ks1"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph.\n\nSecond one.", chunks[0].Content)
	assert.Equal(t, "Third paragraph here.", chunks[1].Content)
	assert.Equal(t, 31, chunks[1].Metadata.StartChar)
}
