// Package stream drives one model call per chat turn, teeing fragments to the
// live response while buffering the assistant message for persistence.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// State is the lifecycle state of one turn.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// DefaultMaxDuration bounds a turn's streaming phase.
const DefaultMaxDuration = 30 * time.Second

const persistTimeout = 5 * time.Second

var (
	errStopped    = errors.New("stop requested")
	errTimeout    = errors.New("maximum stream duration exceeded")
	errClientGone = errors.New("client stopped receiving")
)

// Store is the persistence the coordinator needs on completion.
type Store interface {
	AppendMessages(ctx context.Context, chatID string, msgs []model.Message) (int, error)
	TouchChat(ctx context.Context, id string, at time.Time) error
}

// Publisher receives persisted messages and turn events.
type Publisher interface {
	PublishMessage(ctx context.Context, tenantID string, msg *model.Message) error
	PublishEvent(ctx context.Context, event *model.ChatEvent) error
}

// FragmentFunc receives each output fragment. Returning an error cancels the turn.
type FragmentFunc func(fragment model.FragmentEvent) error

// Turn is a fully prepared model call.
type Turn struct {
	TenantID    string
	AgentID     string
	ChatID      string
	Model       string
	System      string
	History     []model.Message
	Temperature float64
	MaxTokens   int
	Sources     []model.SourceAttribution
}

// Result describes how a turn ended.
type Result struct {
	State   State
	Message *model.Message
}

// Coordinator runs turns and tracks the in-flight one per chat.
type Coordinator struct {
	llm         llm.Client
	store       Store
	publisher   Publisher
	logger      *logger.Logger
	tracer      trace.Tracer
	maxDuration time.Duration
	now         func() time.Time
	newID       func() string

	mu     sync.Mutex
	active map[string]*activeTurn
}

// activeTurn is a chat's registry entry. cancel is nil while the turn is
// reserved but not yet streaming; a stop in that window is remembered.
type activeTurn struct {
	cancel  context.CancelCauseFunc
	stopped bool
}

// NewCoordinator creates a coordinator. publisher may be nil.
func NewCoordinator(client llm.Client, s Store, publisher Publisher, log *logger.Logger, maxDuration time.Duration) *Coordinator {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Coordinator{
		llm:         client,
		store:       s,
		publisher:   publisher,
		logger:      log,
		tracer:      otel.Tracer("github.com/capitalize-ai/agent-platform/internal/stream"),
		maxDuration: maxDuration,
		now:         time.Now,
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
		active:      make(map[string]*activeTurn),
	}
}

// Reserve registers chatID as having a turn in flight before Run starts, so
// that a Stop arriving in between is not lost. Callers must hold the chat's
// lock and call Unreserve if Run is never reached.
func (c *Coordinator) Reserve(chatID string) {
	c.mu.Lock()
	if _, ok := c.active[chatID]; !ok {
		c.active[chatID] = &activeTurn{}
	}
	c.mu.Unlock()
}

// Unreserve drops chatID's registry entry. It is a no-op once Run has ended.
func (c *Coordinator) Unreserve(chatID string) {
	c.unregister(chatID)
}

// Stop cancels the in-flight turn of chatID at its next fragment boundary. A
// reserved turn that has not started streaming ends canceled without calling
// the model. It reports whether a turn was in flight.
func (c *Coordinator) Stop(chatID string) bool {
	c.mu.Lock()
	t, ok := c.active[chatID]
	var cancel context.CancelCauseFunc
	if ok {
		t.stopped = true
		cancel = t.cancel
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel(errStopped)
	}
	return ok
}

// Active reports whether chatID has a turn in flight.
func (c *Coordinator) Active(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[chatID]
	return ok
}

// Run streams one turn. A completed turn persists exactly one complete
// assistant message and bumps the chat's activity time; failed and canceled
// turns persist nothing.
func (c *Coordinator) Run(ctx context.Context, turn *Turn, onFragment FragmentFunc) (*Result, error) {
	log := c.logger.WithChat(turn.TenantID, turn.AgentID, turn.ChatID)
	ctx, span := c.tracer.Start(ctx, "stream.Run", trace.WithAttributes(
		attribute.String("chat.id", turn.ChatID),
		attribute.String("llm.model", turn.Model),
	))
	defer span.End()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	streamCtx, cancelTimeout := context.WithTimeoutCause(runCtx, c.maxDuration, errTimeout)
	defer cancelTimeout()

	stoppedEarly := c.register(turn.ChatID, cancel)
	defer c.unregister(turn.ChatID)
	if stoppedEarly {
		cancel(errStopped)
	}

	start := c.now()
	var buf strings.Builder

	req := &llm.CompletionRequest{
		Model:       turn.Model,
		System:      turn.System,
		Messages:    toChatMessages(turn.History),
		MaxTokens:   turn.MaxTokens,
		Temperature: turn.Temperature,
	}

	onToken := func(token string, index int) error {
		if streamCtx.Err() != nil {
			return context.Cause(streamCtx)
		}
		buf.WriteString(token)
		if onFragment == nil {
			return nil
		}
		if ferr := onFragment(model.FragmentEvent{Text: token, Index: index}); ferr != nil {
			cancel(errClientGone)
			return errClientGone
		}
		return nil
	}

	var resp *llm.CompletionResponse
	var err error
	if stoppedEarly {
		err = errStopped
	} else {
		resp, err = c.llm.CompleteStream(streamCtx, req, onToken)
	}

	duration := c.now().Sub(start)
	state, turnErr := c.classify(ctx, streamCtx, err)
	if state == StateStreaming && buf.Len() == 0 && (resp == nil || resp.Content == "") {
		state, turnErr = StateFailed, apperr.ModelFailure(llm.ErrEmptyResponse)
	}

	if state != StateStreaming {
		span.SetStatus(codes.Error, string(state))
		span.RecordError(turnErr)
		metrics.RecordTurn(string(state))
		metrics.RecordLLMStream(turn.Model, string(state), duration.Seconds(), 0, 0)
		c.publishEvent(ctx, turn, state, turnErr, log)
		log.Info("Turn ended without a reply",
			zap.String("state", string(state)),
			zap.Int("discarded_chars", buf.Len()),
			zap.Duration("duration", duration),
			zap.Error(turnErr),
		)
		return &Result{State: state}, turnErr
	}

	if resp == nil {
		resp = &llm.CompletionResponse{Model: turn.Model}
	}

	msg := &model.Message{
		ID:     c.newID(),
		ChatID: turn.ChatID,
		Role:   model.RoleAssistant,
		Parts:  []model.Part{model.TextPart(buf.String())},
		Metadata: &model.MessageMetadata{
			Model: resp.Model,
			TokenUsage: &model.TokenUsage{
				Prompt:     resp.TokensIn,
				Completion: resp.TokensOut,
				Total:      resp.TokensIn + resp.TokensOut,
			},
			LatencyMs:  duration.Milliseconds(),
			StopReason: resp.StopReason,
			Sources:    turn.Sources,
		},
		CreatedAt: c.now(),
	}
	if msg.Metadata.Model == "" {
		msg.Metadata.Model = turn.Model
	}

	// The reply is complete; persist it even if the caller has gone away.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	if _, err := c.store.AppendMessages(persistCtx, turn.ChatID, []model.Message{*msg}); err != nil {
		metrics.RecordTurn(string(StateFailed))
		span.SetStatus(codes.Error, "persist failed")
		log.Error("Failed to persist assistant message", zap.Error(err))
		return &Result{State: StateFailed}, apperr.Internal("failed to persist assistant message", err)
	}
	if err := c.store.TouchChat(persistCtx, turn.ChatID, msg.CreatedAt); err != nil {
		log.Warn("Failed to update chat activity", zap.Error(err))
	}

	state = StateCompleted
	metrics.RecordTurn(string(state))
	metrics.RecordLLMStream(turn.Model, string(state), duration.Seconds(), resp.TokensIn, resp.TokensOut)
	metrics.MessagesTotal.WithLabelValues(turn.TenantID, string(model.RoleAssistant)).Inc()

	if c.publisher != nil {
		if err := c.publisher.PublishMessage(persistCtx, turn.TenantID, msg); err != nil {
			log.Warn("Failed to publish assistant message", zap.Error(err))
		}
	}
	c.publishEvent(persistCtx, turn, state, nil, log)

	log.Info("Turn completed",
		zap.String("message_id", msg.ID),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int("sources", len(turn.Sources)),
		zap.Duration("duration", duration),
	)
	return &Result{State: state, Message: msg}, nil
}

// classify maps the stream outcome to a terminal state, or StateStreaming
// when the model finished normally.
func (c *Coordinator) classify(parent, streamCtx context.Context, err error) (State, error) {
	if streamCtx.Err() != nil {
		cause := context.Cause(streamCtx)
		switch {
		case errors.Is(cause, errTimeout):
			return StateFailed, apperr.ModelTimeout(c.maxDuration.String())
		case errors.Is(cause, errStopped), errors.Is(cause, errClientGone), parent.Err() != nil:
			return StateCanceled, apperr.Stopped()
		}
	}
	if errors.Is(err, errClientGone) {
		return StateCanceled, apperr.Stopped()
	}
	if err != nil {
		return StateFailed, apperr.ModelFailure(err)
	}
	return StateStreaming, nil
}

func (c *Coordinator) publishEvent(ctx context.Context, turn *Turn, state State, cause error, log *logger.Logger) {
	if c.publisher == nil {
		return
	}

	event := &model.ChatEvent{
		ID:        c.newID(),
		ChatID:    turn.ChatID,
		TenantID:  turn.TenantID,
		AgentID:   turn.AgentID,
		CreatedAt: c.now(),
	}
	switch {
	case state == StateCompleted:
		event.Type = model.EventTypeCompleted
	case state == StateCanceled:
		event.Type = model.EventTypeCancel
	case apperr.HasCode(cause, apperr.CodeModelTimeout):
		event.Type = model.EventTypeTimeout
	default:
		event.Type = model.EventTypeError
	}
	if cause != nil {
		event.Reason = cause.Error()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.publisher.PublishEvent(pubCtx, event); err != nil {
		log.Warn("Failed to publish chat event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// register attaches cancel to chatID's entry and reports whether a stop was
// requested while the turn was only reserved.
func (c *Coordinator) register(chatID string, cancel context.CancelCauseFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[chatID]
	if !ok {
		t = &activeTurn{}
		c.active[chatID] = t
	}
	t.cancel = cancel
	return t.stopped
}

func (c *Coordinator) unregister(chatID string) {
	c.mu.Lock()
	delete(c.active, chatID)
	c.mu.Unlock()
}

// toChatMessages flattens history to the text the providers accept.
// Messages with no text parts are skipped.
func toChatMessages(history []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(history))
	for i := range history {
		text := history[i].Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, llm.ChatMessage{Role: string(history[i].Role), Content: text})
	}
	return out
}
