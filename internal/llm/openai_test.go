package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks []string) (*httptest.Server, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAIClient_CompleteStream(t *testing.T) {
	srv, got := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	})

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	c := NewOpenAIClientWithConfig(cfg)

	var tokens []string
	resp, err := c.CompleteStream(context.Background(), &CompletionRequest{
		Model:    "gpt-4o",
		System:   "be brief",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	}, func(tok string, i int) error {
		assert.Equal(t, len(tokens), i)
		tokens = append(tokens, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.True(t, got.Stream)
}

func TestOpenAIClient_CallbackErrorAborts(t *testing.T) {
	srv, _ := sseServer(t, []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"b"}}]}`,
	})
	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"

	stop := fmt.Errorf("stop")
	_, err := NewOpenAIClientWithConfig(cfg).CompleteStream(context.Background(), &CompletionRequest{Model: "gpt-4o"}, func(string, int) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestOpenAIClient_EmptyStream(t *testing.T) {
	srv, _ := sseServer(t, nil)
	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"

	_, err := NewOpenAIClientWithConfig(cfg).CompleteStream(context.Background(), &CompletionRequest{Model: "gpt-4o"}, func(string, int) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
