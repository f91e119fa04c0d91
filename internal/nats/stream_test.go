package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

type fakeJetStream struct {
	jetstream.JetStream
	out []published
	err error
}

func (f *fakeJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.out = append(f.out, published{subject: subject, data: data, opts: len(opts)})
	return &jetstream.PubAck{Stream: StreamName, Sequence: uint64(len(f.out))}, nil
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "chat.tenant_demo.chat_1.msg.assistant", MessageSubject("tenant_demo", "chat_1", model.RoleAssistant))
	assert.Equal(t, "chat.t_1.c_x.event.cancel", EventSubject("t.1", "c>x", model.EventTypeCancel))
	assert.Equal(t, "chat.t.c.>", ChatFilter("t", "c"))
}

func TestPublisher_PublishMessage(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js)

	msg := &model.Message{ID: "m1", ChatID: "chat_1", Role: model.RoleAssistant, Parts: []model.Part{model.TextPart("hi")}}
	require.NoError(t, p.PublishMessage(context.Background(), "tenant_demo", msg))

	require.Len(t, js.out, 1)
	assert.Equal(t, "chat.tenant_demo.chat_1.msg.assistant", js.out[0].subject)
	assert.Equal(t, 1, js.out[0].opts)

	var decoded model.Message
	require.NoError(t, json.Unmarshal(js.out[0].data, &decoded))
	assert.Equal(t, "hi", decoded.Text())
}

func TestPublisher_PublishEvent(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js)

	require.NoError(t, p.PublishEvent(context.Background(), &model.ChatEvent{
		ChatID: "chat_1", TenantID: "t1", Type: model.EventTypeCompleted,
	}))
	require.Len(t, js.out, 1)
	assert.Equal(t, "chat.t1.chat_1.event.completed", js.out[0].subject)
	assert.Zero(t, js.out[0].opts)

	js.err = errors.New("no responders")
	assert.Error(t, p.PublishEvent(context.Background(), &model.ChatEvent{ID: "e1", ChatID: "c", TenantID: "t", Type: model.EventTypeError}))
}
