package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/middleware"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/service"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

// SSE event names of a turn stream.
const (
	eventStart    = "start"
	eventFragment = "fragment"
	eventDone     = "done"
	eventError    = "error"
)

// ChatHandler handles chat turn endpoints.
type ChatHandler struct {
	chatService *service.ChatService
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatSvc *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatSvc,
		logger:      log,
	}
}

// Turn handles POST /api/v1/chat
//
// Failures before the model call are plain JSON errors. Once the turn is
// accepted the response is an SSE stream: start, fragment*, then done or error.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, h.logger, apperr.Internal("streaming not supported", nil))
		return
	}

	prepared, err := h.chatService.Prepare(ctx, middleware.GetTenantID(ctx), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer prepared.Release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	if err := sendSSEEvent(w, flusher, eventStart, &model.StartEvent{ChatID: prepared.ChatID}); err != nil {
		return
	}

	res, err := prepared.Stream(ctx, func(f model.FragmentEvent) error {
		return sendSSEEvent(w, flusher, eventFragment, &f)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Error("Turn failed", zap.String("chat_id", prepared.ChatID), zap.Error(err))
		}
		sendSSEEvent(w, flusher, eventError, apperr.Public(err))
		return
	}

	sendSSEEvent(w, flusher, eventDone, &model.DoneEvent{
		ChatID:    prepared.ChatID,
		MessageID: res.Message.ID,
		Metadata:  res.Message.Metadata,
	})
}

// Stop handles POST /api/v1/chats/{chatId}/stop
func (h *ChatHandler) Stop(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	chatID := chi.URLParam(r, "chatId")
	if err := pathID("chat_id", chatID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.chatService.Stop(r.Context(), tenantID, chatID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Messages handles GET /api/v1/chats/{chatId}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	chatID := chi.URLParam(r, "chatId")
	if err := pathID("chat_id", chatID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.chatService.ListMessages(r.Context(), tenantID, chatID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.chatService.ListChats(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
