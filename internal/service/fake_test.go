package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/chatlock"
	"github.com/capitalize-ai/agent-platform/internal/knowledge"
	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/internal/stream"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

const testEmbeddingModel = "fake-embed"

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

type fakeLLM struct {
	mu       sync.Mutex
	tokens   []string
	block    bool
	started  chan struct{}
	requests []*llm.CompletionRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	tokens, block, started := f.tokens, f.block, f.started
	f.mu.Unlock()

	for i, tok := range tokens {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
	}
	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &llm.CompletionResponse{
		Content:    strings.Join(tokens, ""),
		Model:      req.Model,
		TokensIn:   10,
		TokensOut:  len(tokens),
		StopReason: "stop",
	}, nil
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) LastRequest() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakeEmbedder struct{}

func (fakeEmbedder) Model() string { return testEmbeddingModel }

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []model.Message
	events   []model.ChatEvent
}

func (p *recordingPublisher) PublishMessage(ctx context.Context, tenantID string, msg *model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, *msg)
	return nil
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, event *model.ChatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

type testEnv struct {
	store     *store.MemoryStore
	guard     *access.Guard
	llm       *fakeLLM
	publisher *recordingPublisher
	chats     *ChatService
	agents    *AgentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	s := store.NewMemoryStore()
	require.NoError(t, store.Seed(ctx, s, testNow.AddDate(0, -1, 0)))
	require.NoError(t, s.ReplaceChunks(ctx, store.DemoTenantID, store.DemoSourceID, []model.KnowledgeChunk{{
		ID:                "chunk_refunds",
		KnowledgeSourceID: store.DemoSourceID,
		TenantID:          store.DemoTenantID,
		Content:           "Refunds are accepted within 30 days.",
		Embedding:         []float32{1, 0},
		EmbeddingModel:    testEmbeddingModel,
		CreatedAt:         testNow,
	}}))

	client := &fakeLLM{tokens: []string{"Sure", ", ", "happy to help."}}
	pub := &recordingPublisher{}
	guard := access.NewGuard(s)

	chats := NewChatService(ChatServiceConfig{
		Store:       s,
		Guard:       guard,
		Locker:      chatlock.NewLocalLocker(),
		Retriever:   knowledge.NewRetriever(s, fakeEmbedder{}, log),
		Coordinator: stream.NewCoordinator(client, s, pub, log, 5*time.Second),
		Publisher:   pub,
		Logger:      log,
	})
	chats.now = func() time.Time { return testNow }

	agents := NewAgentService(s, guard, log)
	agents.now = func() time.Time { return testNow }

	return &testEnv{store: s, guard: guard, llm: client, publisher: pub, chats: chats, agents: agents}
}

func submitReq(tenantID, agentID, chatID, msgID, text string) *model.TurnRequest {
	return &model.TurnRequest{
		TenantID: tenantID,
		AgentID:  agentID,
		ChatID:   chatID,
		Operation: &model.OperationRequest{
			Type:    model.OperationSubmit,
			Message: &model.MessageInput{ID: msgID, Role: model.RoleUser, Content: text},
		},
	}
}

func messageIDs(msgs []model.Message) []string {
	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	return ids
}
