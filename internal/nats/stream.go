package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const (
	// StreamName is the name of the chats stream.
	StreamName = "CHATS"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// EnsureStream ensures the chats stream exists with proper configuration.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  10 * time.Minute,
		Description: "Persisted chat messages and turn lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(tenantID, chatID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, token(tenantID), token(chatID), role)
}

// EventSubject returns the subject for an event.
func EventSubject(tenantID, chatID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(tenantID), token(chatID), eventType)
}

// ChatFilter returns the filter subject for everything published for a chat.
func ChatFilter(tenantID, chatID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(tenantID), token(chatID))
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_")

// token makes an id safe to use as a single subject token.
func token(id string) string {
	return subjectReplacer.Replace(id)
}

// Publisher publishes persisted messages and turn events to JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishMessage publishes a persisted message. The message id doubles as the
// JetStream dedup id so redelivered turns publish once.
func (p *Publisher) PublishMessage(ctx context.Context, tenantID string, msg *model.Message) error {
	subject := MessageSubject(tenantID, msg.ChatID, msg.Role)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.ChatID+"/"+msg.ID))
	if err != nil {
		metrics.NATSPublishTotal.WithLabelValues("message", "error").Inc()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	metrics.NATSPublishTotal.WithLabelValues("message", "ok").Inc()
	return nil
}

// PublishEvent publishes a turn lifecycle event.
func (p *Publisher) PublishEvent(ctx context.Context, event *model.ChatEvent) error {
	subject := EventSubject(event.TenantID, event.ChatID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	opts := []jetstream.PublishOpt{}
	if event.ID != "" {
		opts = append(opts, jetstream.WithMsgID(event.ID))
	}
	_, err = p.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		metrics.NATSPublishTotal.WithLabelValues("event", "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.NATSPublishTotal.WithLabelValues("event", "ok").Inc()
	return nil
}
