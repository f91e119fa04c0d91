// Package service wires the access guard, history reconciler, retriever,
// prompt assembler and streaming coordinator into the platform's operations.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/access"
	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/chatlock"
	"github.com/capitalize-ai/agent-platform/internal/history"
	"github.com/capitalize-ai/agent-platform/internal/knowledge"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/internal/stream"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/agent-platform/internal/service")

// ChatService runs chat turns.
type ChatService struct {
	store       store.Store
	guard       *access.Guard
	locker      chatlock.Locker
	retriever   *knowledge.Retriever
	coordinator *stream.Coordinator
	publisher   stream.Publisher
	logger      *logger.Logger
	now         func() time.Time
	newID       func() string
}

// ChatServiceConfig holds the collaborators of a ChatService. Retriever and
// Publisher may be nil.
type ChatServiceConfig struct {
	Store       store.Store
	Guard       *access.Guard
	Locker      chatlock.Locker
	Retriever   *knowledge.Retriever
	Coordinator *stream.Coordinator
	Publisher   stream.Publisher
	Logger      *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(cfg ChatServiceConfig) *ChatService {
	return &ChatService{
		store:       cfg.Store,
		guard:       cfg.Guard,
		locker:      cfg.Locker,
		retriever:   cfg.Retriever,
		coordinator: cfg.Coordinator,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		now:         time.Now,
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// PreparedTurn is an authorized, reconciled turn that holds its chat's lock
// until Stream returns or Release is called.
type PreparedTurn struct {
	ChatID  string
	Created bool
	History []model.Message

	turn    *stream.Turn
	svc     *ChatService
	release sync.Once
}

// Release unlocks the chat. It is safe to call more than once.
func (p *PreparedTurn) Release() {
	p.release.Do(func() {
		p.svc.coordinator.Unreserve(p.ChatID)
		p.svc.locker.Unlock(p.ChatID)
	})
}

// Stream runs the model call, forwarding fragments to onFragment, and
// releases the chat lock when the turn ends.
func (p *PreparedTurn) Stream(ctx context.Context, onFragment stream.FragmentFunc) (*stream.Result, error) {
	defer p.Release()
	return p.svc.coordinator.Run(ctx, p.turn, onFragment)
}

// Prepare validates req, authorizes it, reconciles and persists the chat's
// history, and assembles the model input. claimTenantID, when set, must match
// the request's tenant.
//
// Every validation, authorization and plan check happens before anything is
// written.
func (s *ChatService) Prepare(ctx context.Context, claimTenantID string, req *model.TurnRequest) (*PreparedTurn, error) {
	ctx, span := tracer.Start(ctx, "ChatService.Prepare")
	defer span.End()

	now := s.now()
	turnReq, err := req.Parse(s.newID, now)
	if err != nil {
		return nil, err
	}
	if claimTenantID != "" && claimTenantID != turnReq.TenantID {
		return nil, apperr.TenantMismatch()
	}

	chatID := turnReq.ChatID
	if chatID == "" {
		chatID = s.newID()
	}
	span.SetAttributes(
		attribute.String("tenant.id", turnReq.TenantID),
		attribute.String("agent.id", turnReq.AgentID),
		attribute.String("chat.id", chatID),
		attribute.String("operation", string(turnReq.Operation.Type())),
	)

	if err := s.locker.Lock(ctx, chatID); err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Stopped()
		}
		return nil, apperr.Internal("failed to lock chat", err)
	}

	prepared, err := s.prepareLocked(ctx, turnReq, chatID, now)
	if err != nil {
		s.locker.Unlock(chatID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.coordinator.Reserve(chatID)
	return prepared, nil
}

func (s *ChatService) prepareLocked(ctx context.Context, req *model.Turn, chatID string, now time.Time) (*PreparedTurn, error) {
	log := s.logger.WithChat(req.TenantID, req.AgentID, chatID)

	grant, err := s.guard.Authorize(ctx, req.TenantID, req.AgentID, chatID)
	if err != nil {
		return nil, err
	}

	var prev []model.Message
	if grant.Chat != nil {
		prev, err = s.store.ListMessagesByChat(ctx, chatID)
		if err != nil {
			return nil, apperr.Internal("failed to load history", err)
		}
	}

	next, err := history.Reconcile(prev, req.Operation)
	if err != nil {
		return nil, err
	}
	// Redelivered messages keep their first position.
	next, _ = history.DedupAppend(nil, next)
	for i := range next {
		next[i].ChatID = chatID
	}
	if len(next) == 0 || next[len(next)-1].Role != model.RoleUser {
		return nil, apperr.Validation("history must end with a user message")
	}

	created := false
	if grant.Chat == nil {
		if err := s.guard.CheckChatQuota(ctx, grant.Tenant); err != nil {
			return nil, err
		}
		chat := &model.Chat{
			ID:        chatID,
			TenantID:  req.TenantID,
			AgentID:   req.AgentID,
			Status:    model.ChatStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.CreateChat(ctx, chat); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return nil, apperr.ChatAccessDenied()
			}
			return nil, apperr.Internal("failed to create chat", err)
		}
		created = true
		metrics.ChatsTotal.WithLabelValues(req.TenantID).Inc()
		log.Info("Chat created")
	}

	added, err := s.persist(ctx, chatID, prev, next)
	if err != nil {
		return nil, err
	}
	for i := range added {
		metrics.MessagesTotal.WithLabelValues(req.TenantID, string(added[i].Role)).Inc()
		if s.publisher != nil {
			if err := s.publisher.PublishMessage(ctx, req.TenantID, &added[i]); err != nil {
				log.Warn("Failed to publish message", zap.String("message_id", added[i].ID), zap.Error(err))
			}
		}
	}

	agent := grant.Agent
	var rc model.RagContext
	if s.retriever != nil {
		rc = s.retriever.Retrieve(ctx, history.LastUserText(next), req.TenantID, agent.ID, agent.Config.RAG, agent.Config.KnowledgeSourceIDs)
	}

	log.Debug("Turn prepared",
		zap.String("operation", string(req.Operation.Type())),
		zap.Int("history", len(next)),
		zap.Int("persisted", len(added)),
		zap.Int("rag_chunks", len(rc.Chunks)),
		zap.Int("rag_tokens", rc.TotalTokensEstimate),
	)

	return &PreparedTurn{
		ChatID:  chatID,
		Created: created,
		History: next,
		turn: &stream.Turn{
			TenantID:    req.TenantID,
			AgentID:     agent.ID,
			ChatID:      chatID,
			Model:       agent.Config.Model,
			System:      knowledge.AssemblePrompt(agent.Config.SystemPrompt, rc, agent.Config.RAG),
			History:     next,
			Temperature: agent.Config.Temperature,
			MaxTokens:   agent.Config.MaxTokens,
			Sources:     rc.Sources(),
		},
		svc: s,
	}, nil
}

// persist writes next as the chat's durable history. When next extends prev
// unchanged only the new tail is appended; otherwise the history is replaced,
// including messages whose content changed under an existing id. It returns
// the messages that were newly stored or rewritten.
func (s *ChatService) persist(ctx context.Context, chatID string, prev, next []model.Message) ([]model.Message, error) {
	if tail, ok := history.Tail(prev, next); ok {
		if len(tail) == 0 {
			return nil, nil
		}
		if _, err := s.store.AppendMessages(ctx, chatID, tail); err != nil {
			return nil, apperr.Internal("failed to append messages", err)
		}
		return tail, nil
	}

	if err := s.store.ReplaceMessages(ctx, chatID, next); err != nil {
		return nil, apperr.Internal("failed to replace history", err)
	}
	return history.Changed(prev, next), nil
}

// Turn prepares and streams one turn. start, when non-nil, is called once
// the turn is accepted and before the first fragment.
func (s *ChatService) Turn(ctx context.Context, claimTenantID string, req *model.TurnRequest, start func(chatID string) error, onFragment stream.FragmentFunc) (*stream.Result, error) {
	prepared, err := s.Prepare(ctx, claimTenantID, req)
	if err != nil {
		return nil, err
	}
	defer prepared.Release()

	if start != nil {
		if err := start(prepared.ChatID); err != nil {
			return nil, apperr.Stopped()
		}
	}
	return prepared.Stream(ctx, onFragment)
}

// Stop asks the chat's in-flight turn to stop at its next fragment boundary.
func (s *ChatService) Stop(ctx context.Context, tenantID, chatID string) (*model.StopResponse, error) {
	if _, err := s.guard.Chat(ctx, tenantID, chatID); err != nil {
		return nil, err
	}
	stopped := s.coordinator.Stop(chatID)
	if stopped {
		s.logger.Info("Stop requested", zap.String("tenant_id", tenantID), zap.String("chat_id", chatID))
	}
	return &model.StopResponse{ChatID: chatID, Stopped: stopped}, nil
}

// ListMessages returns the chat's durable history.
func (s *ChatService) ListMessages(ctx context.Context, tenantID, chatID string) (*model.ListMessagesResponse, error) {
	if _, err := s.guard.Chat(ctx, tenantID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &model.ListMessagesResponse{ChatID: chatID, Messages: msgs}, nil
}

// ListChats returns the tenant's chats.
func (s *ChatService) ListChats(ctx context.Context, tenantID string) (*model.ListChatsResponse, error) {
	if _, err := s.guard.Tenant(ctx, tenantID); err != nil {
		return nil, err
	}
	chats, err := s.store.ListChatsByTenant(ctx, tenantID)
	if err != nil {
		return nil, apperr.Internal("failed to list chats", err)
	}
	if chats == nil {
		chats = []model.Chat{}
	}
	return &model.ListChatsResponse{Chats: chats}, nil
}
