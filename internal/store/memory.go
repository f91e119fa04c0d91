package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/agent-platform/internal/history"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// MemoryStore is an in-process Store. Each instance is isolated; records are
// copied in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu sync.RWMutex

	tenants  map[string]*model.Tenant
	agents   map[string]*model.Agent
	chats    map[string]*model.Chat
	messages map[string][]model.Message
	chunks   map[string][]model.KnowledgeChunk // tenantID/sourceID -> chunks
	sources  []string                          // insertion order of chunk keys
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:  make(map[string]*model.Tenant),
		agents:   make(map[string]*model.Agent),
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]model.Message),
		chunks:   make(map[string][]model.KnowledgeChunk),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// GetTenant retrieves a tenant by ID.
func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTenant(t), nil
}

// CreateTenant stores a new tenant.
func (s *MemoryStore) CreateTenant(ctx context.Context, t *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[t.ID]; ok {
		return ErrAlreadyExists
	}
	s.tenants[t.ID] = copyTenant(t)
	return nil
}

// UpdateTenant overwrites an existing tenant.
func (s *MemoryStore) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[t.ID]; !ok {
		return ErrNotFound
	}
	s.tenants[t.ID] = copyTenant(t)
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// ListAgentsByTenant returns the tenant's agents ordered by creation time.
func (s *MemoryStore) ListAgentsByTenant(ctx context.Context, tenantID string) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Agent
	for _, a := range s.agents {
		if a.TenantID == tenantID {
			out = append(out, *copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateAgent stores a new agent.
func (s *MemoryStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; ok {
		return ErrAlreadyExists
	}
	s.agents[a.ID] = copyAgent(a)
	return nil
}

// UpdateAgent overwrites an existing agent. The owning tenant is never changed.
func (s *MemoryStore) UpdateAgent(ctx context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[a.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyAgent(a)
	updated.TenantID = existing.TenantID
	s.agents[a.ID] = updated
	return nil
}

// DeleteAgent removes an agent.
func (s *MemoryStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

// GetChat retrieves a chat by ID.
func (s *MemoryStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChat(c), nil
}

// CreateChat stores a new chat with an empty history.
func (s *MemoryStore) CreateChat(ctx context.Context, c *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[c.ID]; ok {
		return ErrAlreadyExists
	}
	s.chats[c.ID] = copyChat(c)
	s.messages[c.ID] = nil
	return nil
}

// ListChatsByTenant returns the tenant's chats ordered by creation time.
func (s *MemoryStore) ListChatsByTenant(ctx context.Context, tenantID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Chat
	for _, c := range s.chats {
		if c.TenantID == tenantID {
			out = append(out, *copyChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountChatsSince counts the tenant's chats created at or after since.
func (s *MemoryStore) CountChatsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, c := range s.chats {
		if c.TenantID == tenantID && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// TouchChat sets the chat's UpdatedAt.
func (s *MemoryStore) TouchChat(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = at
	return nil
}

// ListMessagesByChat returns the chat's ordered history.
func (s *MemoryStore) ListMessagesByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, ErrNotFound
	}
	return copyMessages(s.messages[chatID]), nil
}

// AppendMessages appends messages not yet present in the chat's history.
func (s *MemoryStore) AppendMessages(ctx context.Context, chatID string, msgs []model.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return 0, ErrNotFound
	}
	merged, added := history.DedupAppend(s.messages[chatID], copyMessages(msgs))
	s.messages[chatID] = merged
	return len(added), nil
}

// ReplaceMessages swaps the chat's history for msgs.
func (s *MemoryStore) ReplaceMessages(ctx context.Context, chatID string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return ErrNotFound
	}
	merged, _ := history.DedupAppend(nil, copyMessages(msgs))
	s.messages[chatID] = merged
	return nil
}

// ListChunks returns chunks for the tenant's sources in insertion order.
func (s *MemoryStore) ListChunks(ctx context.Context, tenantID string, sourceIDs []string) ([]model.KnowledgeChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(sourceIDs))
	for _, id := range sourceIDs {
		want[chunkKey(tenantID, id)] = struct{}{}
	}

	var out []model.KnowledgeChunk
	for _, key := range s.sources {
		if _, ok := want[key]; !ok {
			continue
		}
		out = append(out, s.chunks[key]...)
	}
	return out, nil
}

// ReplaceChunks swaps all chunks of a source.
func (s *MemoryStore) ReplaceChunks(ctx context.Context, tenantID, sourceID string, chunks []model.KnowledgeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chunkKey(tenantID, sourceID)
	if _, ok := s.chunks[key]; !ok {
		s.sources = append(s.sources, key)
	}
	stored := make([]model.KnowledgeChunk, len(chunks))
	for i, c := range chunks {
		c.TenantID = tenantID
		c.KnowledgeSourceID = sourceID
		c.Embedding = append([]float32(nil), c.Embedding...)
		stored[i] = c
	}
	s.chunks[key] = stored
	return nil
}

func chunkKey(tenantID, sourceID string) string {
	return tenantID + "/" + sourceID
}

func copyTenant(t *model.Tenant) *model.Tenant {
	c := *t
	c.Settings.AllowedModels = append([]string(nil), t.Settings.AllowedModels...)
	return &c
}

func copyAgent(a *model.Agent) *model.Agent {
	c := *a
	c.Config.KnowledgeSourceIDs = append([]string(nil), a.Config.KnowledgeSourceIDs...)
	if a.Config.RAG != nil {
		rag := *a.Config.RAG
		c.Config.RAG = &rag
	}
	return &c
}

func copyChat(ch *model.Chat) *model.Chat {
	c := *ch
	if ch.Metadata != nil {
		md := *ch.Metadata
		c.Metadata = &md
	}
	return &c
}

func copyMessages(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = copyMessage(m)
	}
	return out
}

func copyMessage(m model.Message) model.Message {
	c := m
	if m.Parts != nil {
		c.Parts = make([]model.Part, len(m.Parts))
		for i, p := range m.Parts {
			p.Args = append([]byte(nil), p.Args...)
			p.Result = append([]byte(nil), p.Result...)
			if len(p.Args) == 0 {
				p.Args = nil
			}
			if len(p.Result) == 0 {
				p.Result = nil
			}
			c.Parts[i] = p
		}
	}
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.TokenUsage != nil {
			u := *m.Metadata.TokenUsage
			md.TokenUsage = &u
		}
		md.Sources = append([]model.SourceAttribution(nil), m.Metadata.Sources...)
		c.Metadata = &md
	}
	return c
}
