package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewPostgresStoreFromDB(db)
}

var agentCols = []string{"id", "tenant_id", "name", "slug", "description", "config", "status", "created_at", "updated_at"}

func TestPostgresStore_GetAgent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg := model.AgentConfig{Model: "gpt-4o", SystemPrompt: "be nice", Temperature: 0.7, MaxTokens: 1024}
	cfgJSON, _ := json.Marshal(cfg)

	t.Run("found", func(t *testing.T) {
		mock, s := setupMockDB(t)
		mock.ExpectQuery("SELECT id, tenant_id, name, slug, description, config, status, created_at, updated_at FROM agents WHERE id").
			WithArgs("agent-1").
			WillReturnRows(sqlmock.NewRows(agentCols).
				AddRow("agent-1", "tenant-1", "Support", "support", "", cfgJSON, "active", now, now))

		a, err := s.GetAgent(context.Background(), "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "tenant-1", a.TenantID)
		assert.Equal(t, model.AgentStatusActive, a.Status)
		assert.Equal(t, cfg, a.Config)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, s := setupMockDB(t)
		mock.ExpectQuery("FROM agents WHERE id").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(agentCols))

		_, err := s.GetAgent(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_CreateAgentSlugTaken(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("INSERT INTO agents").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := s.CreateAgent(context.Background(), &model.Agent{ID: "agent-2", TenantID: "tenant-1", Slug: "support"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAgentMissing(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("UPDATE agents SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateAgent(context.Background(), &model.Agent{ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountChatsSince(t *testing.T) {
	mock, s := setupMockDB(t)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("tenant-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.CountChatsSince(context.Background(), "tenant-1", since)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendMessagesSkipsDuplicates(t *testing.T) {
	mock, s := setupMockDB(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM chats WHERE id = \\$1 FOR UPDATE").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("chat-1", "m1", 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("chat-1", "m3", 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	added, err := s.AppendMessages(context.Background(), "chat-1", []model.Message{
		{ID: "m1", Role: model.RoleUser, Parts: []model.Part{model.TextPart("hi")}, CreatedAt: now},
		{ID: "m3", Role: model.RoleAssistant, Parts: []model.Part{model.TextPart("hello")}, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendMessagesUnknownChat(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM chats").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))
	mock.ExpectRollback()

	_, err := s.AppendMessages(context.Background(), "ghost", []model.Message{{ID: "m1"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceMessages(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM chats").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectExec("DELETE FROM messages").
		WithArgs("chat-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("chat-1", "u1", 0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ReplaceMessages(context.Background(), "chat-1", []model.Message{
		{ID: "u1", Role: model.RoleUser, Parts: []model.Part{model.TextPart("start over")}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMessagesByChat(t *testing.T) {
	mock, s := setupMockDB(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	parts, _ := json.Marshal([]model.Part{model.TextPart("hello")})
	md, _ := json.Marshal(model.MessageMetadata{Model: "gpt-4o", LatencyMs: 12})

	mock.ExpectQuery("SELECT 1 FROM chats").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectQuery("SELECT id, role, parts, metadata, created_at FROM messages").
		WithArgs("chat-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role", "parts", "metadata", "created_at"}).
			AddRow("u1", "user", parts, nil, now).
			AddRow("a1", "assistant", parts, md, now))

	msgs, err := s.ListMessagesByChat(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "chat-1", msgs[0].ChatID)
	assert.Nil(t, msgs[0].Metadata)
	require.NotNil(t, msgs[1].Metadata)
	assert.Equal(t, "gpt-4o", msgs[1].Metadata.Model)
	assert.Equal(t, "hello", msgs[1].Text())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListChunks(t *testing.T) {
	mock, s := setupMockDB(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM knowledge_chunks WHERE tenant_id").
		WithArgs("tenant-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "knowledge_source_id", "content", "embedding", "embedding_model",
			"chunk_index", "page_number", "start_char", "end_char", "created_at",
		}).
			AddRow("c1", "ks-1", "alpha", "{1,0}", "text-embedding-3-small", 0, 3, 0, 5, now).
			AddRow("c2", "ks-1", "beta", "{0,1}", "text-embedding-3-small", 1, nil, 5, 9, now))

	chunks, err := s.ListChunks(context.Background(), "tenant-1", []string{"ks-1"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)
	require.NotNil(t, chunks[0].Metadata.PageNumber)
	assert.Equal(t, 3, *chunks[0].Metadata.PageNumber)
	assert.Nil(t, chunks[1].Metadata.PageNumber)
	assert.Equal(t, "tenant-1", chunks[1].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListChunksNoSources(t *testing.T) {
	mock, s := setupMockDB(t)

	chunks, err := s.ListChunks(context.Background(), "tenant-1", nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceChunks(t *testing.T) {
	mock, s := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM knowledge_chunks").
		WithArgs("tenant-1", "ks-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO knowledge_chunks").
		WithArgs("c1", "tenant-1", "ks-1", "alpha", sqlmock.AnyArg(), "text-embedding-3-small",
			0, nil, 0, 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ReplaceChunks(context.Background(), "tenant-1", "ks-1", []model.KnowledgeChunk{{
		ID:             "c1",
		Content:        "alpha",
		Embedding:      []float32{1, 0},
		EmbeddingModel: "text-embedding-3-small",
		Metadata:       model.ChunkMetadata{ChunkIndex: 0, StartChar: 0, EndChar: 5},
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
