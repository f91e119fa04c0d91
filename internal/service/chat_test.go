package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/internal/store"
	"github.com/capitalize-ai/agent-platform/internal/stream"
)

func TestChatService_SubmitNewChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var started string
	var fragments []string
	res, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "", "u1", "Can I get a refund?"),
		func(chatID string) error {
			started = chatID
			return nil
		},
		func(f model.FragmentEvent) error {
			fragments = append(fragments, f.Text)
			return nil
		},
	)
	require.NoError(t, err)
	require.NotEmpty(t, started)
	assert.Equal(t, stream.StateCompleted, res.State)
	assert.Equal(t, "Sure, happy to help.", strings.Join(fragments, ""))

	chat, err := env.store.GetChat(ctx, started)
	require.NoError(t, err)
	assert.Equal(t, store.DemoTenantID, chat.TenantID)
	assert.Equal(t, store.DemoSupportAgent, chat.AgentID)

	msgs, err := env.chats.ListMessages(ctx, store.DemoTenantID, started)
	require.NoError(t, err)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "u1", msgs.Messages[0].ID)
	assert.Equal(t, started, msgs.Messages[0].ChatID)
	assert.Equal(t, model.RoleAssistant, msgs.Messages[1].Role)

	meta := msgs.Messages[1].Metadata
	require.NotNil(t, meta)
	assert.Equal(t, "gpt-4o", meta.Model)
	require.Len(t, meta.Sources, 1)
	assert.Equal(t, "chunk_refunds", meta.Sources[0].ChunkID)

	req := env.llm.LastRequest()
	require.NotNil(t, req)
	assert.True(t, strings.HasPrefix(req.System, "You are a friendly support assistant"))
	assert.Contains(t, req.System, "<knowledge_context>")
	assert.Contains(t, req.System, "Refunds are accepted within 30 days.")
	assert.Equal(t, 0.7, req.Temperature)

	assert.Len(t, env.publisher.messages, 2)
}

func TestChatService_ModelNotAllowedOnFreePlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateAgent(ctx, &model.Agent{
		ID:       "agent_premium",
		TenantID: store.DemoFreeTenantID,
		Name:     "Premium",
		Slug:     "premium",
		Status:   model.AgentStatusActive,
		Config:   model.AgentConfig{Model: "gpt-4o", SystemPrompt: "hi"},
	}))

	_, err := env.chats.Prepare(ctx, "", submitReq(store.DemoFreeTenantID, "agent_premium", "", "u1", "Hello"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindPlanLimitExceeded, apperr.KindOf(err))

	payload := apperr.Public(err)
	assert.Equal(t, []string{"gpt-4o-mini"}, payload.Details["allowed_models"])

	chats, err := env.store.ListChatsByTenant(ctx, store.DemoFreeTenantID)
	require.NoError(t, err)
	assert.Empty(t, chats)
	assert.Zero(t, env.llm.Calls())
}

func TestChatService_ReusedChatWithOtherAgentIsDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_x", "u1", "Hello"), nil, nil)
	require.NoError(t, err)

	_, err = env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSalesAgent, "chat_x", "u2", "Hello again"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))

	msgs, err := env.store.ListMessagesByChat(ctx, "chat_x")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChatService_CanceledTurnPersistsNoAssistant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.llm.block = true
	env.llm.started = make(chan struct{})

	type outcome struct {
		res *stream.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_c", "u1", "Tell me a story"), nil, nil)
		done <- outcome{res, err}
	}()

	<-env.llm.started
	stop, err := env.chats.Stop(ctx, store.DemoTenantID, "chat_c")
	require.NoError(t, err)
	assert.True(t, stop.Stopped)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop")
	}
	require.Error(t, out.err)
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(out.err))
	assert.Equal(t, stream.StateCanceled, out.res.State)

	msgs, err := env.store.ListMessagesByChat(ctx, "chat_c")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, messageIDs(msgs))

	chat, err := env.store.GetChat(ctx, "chat_c")
	require.NoError(t, err)
	assert.Equal(t, chat.CreatedAt, chat.UpdatedAt)

	// The lock is released, so the chat accepts the next turn.
	env.llm.mu.Lock()
	env.llm.block, env.llm.started = false, nil
	env.llm.mu.Unlock()
	_, err = env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_c", "u2", "Shorter please"), nil, nil)
	require.NoError(t, err)
}

func TestChatService_Regenerate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_r", "u1", "Hi"), nil, nil)
	require.NoError(t, err)

	prepared, err := env.chats.Prepare(ctx, "", &model.TurnRequest{
		TenantID:  store.DemoTenantID,
		AgentID:   store.DemoSupportAgent,
		ChatID:    "chat_r",
		Operation: &model.OperationRequest{Type: model.OperationRegenerate},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, messageIDs(prepared.History))

	second, err := prepared.Stream(ctx, nil)
	require.NoError(t, err)

	msgs, err := env.store.ListMessagesByChat(ctx, "chat_r")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", second.Message.ID}, messageIDs(msgs))
	assert.NotEqual(t, first.Message.ID, second.Message.ID)
}

func TestChatService_SubmitWithMessageIDTruncates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a1, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_t", "u1", "One"), nil, nil)
	require.NoError(t, err)
	_, err = env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_t", "u2", "Two"), nil, nil)
	require.NoError(t, err)

	req := submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_t", "u2b", "Two, edited")
	req.Operation.MessageID = a1.Message.ID
	prepared, err := env.chats.Prepare(ctx, "", req)
	require.NoError(t, err)
	defer prepared.Release()

	assert.Equal(t, []string{"u1", "u2b"}, messageIDs(prepared.History))
	msgs, err := env.store.ListMessagesByChat(ctx, "chat_t")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2b"}, messageIDs(msgs))
}

func TestChatService_UnknownMessageID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_m", "u1", "One"), nil, nil)
	require.NoError(t, err)

	req := submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_m", "u2", "Two")
	req.Operation.MessageID = "missing"
	_, err = env.chats.Prepare(ctx, "", req)
	assert.True(t, apperr.HasCode(err, apperr.CodeMessageNotFound))

	msgs, err := env.store.ListMessagesByChat(ctx, "chat_m")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChatService_RedeliveredSubmitIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_i", "u1", "Hello")

	first, err := env.chats.Prepare(ctx, "", req)
	require.NoError(t, err)
	first.Release()

	second, err := env.chats.Prepare(ctx, "", req)
	require.NoError(t, err)
	defer second.Release()
	assert.False(t, second.Created)
	assert.Equal(t, []string{"u1"}, messageIDs(second.History))

	msgs, err := env.store.ListMessagesByChat(ctx, "chat_i")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, messageIDs(msgs))
}

func TestChatService_ReplaceMustEndWithUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chats.Prepare(context.Background(), "", &model.TurnRequest{
		TenantID: store.DemoTenantID,
		AgentID:  store.DemoSupportAgent,
		ChatID:   "chat_v",
		Operation: &model.OperationRequest{
			Type: model.OperationReplace,
			Messages: []model.MessageInput{
				{ID: "u1", Role: model.RoleUser, Content: "Hi"},
				{ID: "a1", Role: model.RoleAssistant, Content: "Hello"},
			},
		},
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.store.GetChat(context.Background(), "chat_v")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatService_TenantClaimMustMatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chats.Prepare(context.Background(), store.DemoFreeTenantID,
		submitReq(store.DemoTenantID, store.DemoSupportAgent, "", "u1", "Hi"))
	assert.True(t, apperr.HasCode(err, apperr.CodeTenantMismatch))
}

func TestChatService_InactiveAgent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chats.Prepare(context.Background(), "",
		submitReq(store.DemoTenantID, store.DemoDraftAgent, "", "u1", "Hi"))
	assert.True(t, apperr.HasCode(err, apperr.CodeAgentInactive))
}

func TestChatService_ChatQuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.chats.now = time.Now

	tenant, err := env.store.GetTenant(ctx, store.DemoFreeTenantID)
	require.NoError(t, err)
	tenant.Settings.MaxChatsPerMonth = 1
	require.NoError(t, env.store.UpdateTenant(ctx, tenant))

	_, err = env.chats.Turn(ctx, "", submitReq(store.DemoFreeTenantID, store.DemoFreeAgent, "", "u1", "Hi"), nil, nil)
	require.NoError(t, err)

	_, err = env.chats.Prepare(ctx, "", submitReq(store.DemoFreeTenantID, store.DemoFreeAgent, "", "u2", "Hi again"))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeChatQuotaExceeded))
	assert.Equal(t, 1, apperr.Public(err).Details["limit"])

	chats, err := env.store.ListChatsByTenant(ctx, store.DemoFreeTenantID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}

func TestChatService_SerializesTurnsPerChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_l", "u1", "One"))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = env.chats.Prepare(waitCtx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_l", "u2", "Two"))
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))

	// Other chats are not blocked.
	other, err := env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_other", "u1", "One"))
	require.NoError(t, err)
	other.Release()

	_, err = held.Stream(ctx, nil)
	require.NoError(t, err)

	next, err := env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_l", "u2", "Two"))
	require.NoError(t, err)
	next.Release()
	next.Release()
}

func TestChatService_StopAndListCheckTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_s", "u1", "Hi"), nil, nil)
	require.NoError(t, err)

	_, err = env.chats.ListMessages(ctx, store.DemoFreeTenantID, "chat_s")
	assert.Equal(t, apperr.KindAccessDenied, apperr.KindOf(err))

	_, err = env.chats.Stop(ctx, store.DemoTenantID, "chat_missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	resp, err := env.chats.Stop(ctx, store.DemoTenantID, "chat_s")
	require.NoError(t, err)
	assert.False(t, resp.Stopped)

	list, err := env.chats.ListChats(ctx, store.DemoTenantID)
	require.NoError(t, err)
	assert.Len(t, list.Chats, 1)
}

func TestChatService_ReplaceRewritesEditedMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_e", "u1", "Hi"), nil, nil)
	require.NoError(t, err)
	before, err := env.store.ListMessagesByChat(ctx, "chat_e")
	require.NoError(t, err)
	require.Len(t, before, 2)
	replyID := before[1].ID

	prepared, err := env.chats.Prepare(ctx, "", &model.TurnRequest{
		TenantID: store.DemoTenantID,
		AgentID:  store.DemoSupportAgent,
		ChatID:   "chat_e",
		Operation: &model.OperationRequest{
			Type: model.OperationReplace,
			Messages: []model.MessageInput{
				{ID: "u1", Role: model.RoleUser, Content: "Hi"},
				{ID: replyID, Role: model.RoleAssistant, Content: "EDITED assistant"},
				{ID: "u2", Role: model.RoleUser, Content: "And shipping?"},
			},
		},
	})
	require.NoError(t, err)
	defer prepared.Release()
	assert.Equal(t, "EDITED assistant", prepared.History[1].Text())

	stored, err := env.store.ListMessagesByChat(ctx, "chat_e")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", replyID, "u2"}, messageIDs(stored))
	assert.Equal(t, "EDITED assistant", stored[1].Text())
}

func TestChatService_SubmitEditsMessageUnderSameID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chats.Turn(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_k", "u1", "Hi"), nil, nil)
	require.NoError(t, err)

	req := submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_k", "u1", "Hi, about refunds")
	req.Operation.MessageID = "u1"
	prepared, err := env.chats.Prepare(ctx, "", req)
	require.NoError(t, err)
	defer prepared.Release()

	stored, err := env.store.ListMessagesByChat(ctx, "chat_k")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "u1", stored[0].ID)
	assert.Equal(t, "Hi, about refunds", stored[0].Text())
	assert.Len(t, env.publisher.messages, 3)
}

func TestChatService_StopBeforeStreaming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prepared, err := env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_r", "u1", "Hi"))
	require.NoError(t, err)

	stop, err := env.chats.Stop(ctx, store.DemoTenantID, "chat_r")
	require.NoError(t, err)
	assert.True(t, stop.Stopped)

	res, err := prepared.Stream(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindCanceled, apperr.KindOf(err))
	assert.Equal(t, stream.StateCanceled, res.State)
	assert.Equal(t, 0, env.llm.Calls())

	stored, err := env.store.ListMessagesByChat(ctx, "chat_r")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, messageIDs(stored))

	stop, err = env.chats.Stop(ctx, store.DemoTenantID, "chat_r")
	require.NoError(t, err)
	assert.False(t, stop.Stopped)
}

func TestChatService_ReleaseWithoutStreamClearsReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prepared, err := env.chats.Prepare(ctx, "", submitReq(store.DemoTenantID, store.DemoSupportAgent, "chat_q", "u1", "Hi"))
	require.NoError(t, err)
	prepared.Release()

	stop, err := env.chats.Stop(ctx, store.DemoTenantID, "chat_q")
	require.NoError(t, err)
	assert.False(t, stop.Stopped)
}
