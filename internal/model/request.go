package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
)

// OperationType discriminates the turn request variants.
type OperationType string

const (
	OperationSubmit     OperationType = "submit"
	OperationRegenerate OperationType = "regenerate"
	OperationReplace    OperationType = "replace"
)

const (
	maxIDLength      = 128
	maxContentLength = 100000
	maxReplaceLength = 1000
)

// TurnRequest is the wire shape of one chat turn.
type TurnRequest struct {
	TenantID  string            `json:"tenant_id"`
	AgentID   string            `json:"agent_id"`
	ChatID    string            `json:"chat_id,omitempty"`
	Operation *OperationRequest `json:"operation"`
}

// OperationRequest is the untyped operation body; Parse turns it into an Operation.
type OperationRequest struct {
	Type      OperationType  `json:"type"`
	MessageID string         `json:"message_id,omitempty"`
	Message   *MessageInput  `json:"message,omitempty"`
	Messages  []MessageInput `json:"messages,omitempty"`
}

// MessageInput accepts either typed parts or the legacy plain content string.
type MessageInput struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Operation is one of Submit, Regenerate or Replace.
type Operation interface {
	Type() OperationType
}

// Submit appends a message, optionally truncating the history at MessageID first.
type Submit struct {
	MessageID string
	Message   Message
}

// Regenerate discards the trailing assistant turn at or after MessageID.
type Regenerate struct {
	MessageID string
}

// Replace makes Messages the whole history.
type Replace struct {
	Messages []Message
}

func (Submit) Type() OperationType     { return OperationSubmit }
func (Regenerate) Type() OperationType { return OperationRegenerate }
func (Replace) Type() OperationType    { return OperationReplace }

// Turn is a validated TurnRequest.
type Turn struct {
	TenantID  string
	AgentID   string
	ChatID    string
	Operation Operation
}

// Parse validates the request and converts it into a Turn. Messages without an
// id receive one from newID.
func (r *TurnRequest) Parse(newID func() string, now time.Time) (*Turn, error) {
	if err := validateID("tenant_id", r.TenantID, true); err != nil {
		return nil, err
	}
	if err := validateID("agent_id", r.AgentID, true); err != nil {
		return nil, err
	}
	if err := validateID("chat_id", r.ChatID, false); err != nil {
		return nil, err
	}
	if r.Operation == nil {
		return nil, apperr.Validation("operation is required")
	}

	op, err := r.Operation.parse(newID, now)
	if err != nil {
		return nil, err
	}

	return &Turn{
		TenantID:  r.TenantID,
		AgentID:   r.AgentID,
		ChatID:    r.ChatID,
		Operation: op,
	}, nil
}

func (o *OperationRequest) parse(newID func() string, now time.Time) (Operation, error) {
	switch o.Type {
	case OperationSubmit:
		if o.Message == nil {
			return nil, apperr.Validation("submit requires message")
		}
		if len(o.Messages) > 0 {
			return nil, apperr.Validation("submit does not accept messages")
		}
		if err := validateID("message_id", o.MessageID, false); err != nil {
			return nil, err
		}
		msg, err := o.Message.toMessage(newID, now)
		if err != nil {
			return nil, err
		}
		if msg.Role != RoleUser {
			return nil, apperr.Validation("submitted message must have role user")
		}
		return Submit{MessageID: o.MessageID, Message: msg}, nil

	case OperationRegenerate:
		if o.Message != nil || len(o.Messages) > 0 {
			return nil, apperr.Validation("regenerate does not accept messages")
		}
		if err := validateID("message_id", o.MessageID, false); err != nil {
			return nil, err
		}
		return Regenerate{MessageID: o.MessageID}, nil

	case OperationReplace:
		if o.Message != nil || o.MessageID != "" {
			return nil, apperr.Validation("replace accepts only messages")
		}
		if len(o.Messages) == 0 {
			return nil, apperr.Validation("replace requires at least one message")
		}
		if len(o.Messages) > maxReplaceLength {
			return nil, apperr.Validation("replace exceeds maximum history length")
		}
		seen := make(map[string]struct{}, len(o.Messages))
		msgs := make([]Message, 0, len(o.Messages))
		for i := range o.Messages {
			msg, err := o.Messages[i].toMessage(newID, now)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[msg.ID]; dup {
				return nil, apperr.Validation(fmt.Sprintf("duplicate message id %q", msg.ID))
			}
			seen[msg.ID] = struct{}{}
			msgs = append(msgs, msg)
		}
		return Replace{Messages: msgs}, nil

	case "":
		return nil, apperr.Validation("operation.type is required")
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown operation type %q", o.Type))
	}
}

func (in *MessageInput) toMessage(newID func() string, now time.Time) (Message, error) {
	if !in.Role.Valid() {
		return Message{}, apperr.Validation(fmt.Sprintf("invalid role %q", in.Role))
	}
	if err := validateID("message.id", in.ID, false); err != nil {
		return Message{}, err
	}

	var parts []Part
	switch {
	case len(in.Parts) > 0 && in.Content != "":
		return Message{}, apperr.Validation("message must set either content or parts, not both")
	case len(in.Parts) > 0:
		for _, p := range in.Parts {
			if err := validatePart(p); err != nil {
				return Message{}, err
			}
		}
		parts = append(parts, in.Parts...)
	case in.Content != "":
		if err := validateText(in.Content); err != nil {
			return Message{}, err
		}
		parts = []Part{TextPart(in.Content)}
	default:
		return Message{}, apperr.Validation("message has no content")
	}

	id := in.ID
	if id == "" {
		id = newID()
	}
	return Message{
		ID:        id,
		Role:      in.Role,
		Parts:     parts,
		CreatedAt: now,
	}, nil
}

func validatePart(p Part) error {
	switch p.Type {
	case PartText, PartReasoning:
		return validateText(p.Text)
	case PartToolInvocation:
		if p.ToolCallID == "" || p.ToolName == "" {
			return apperr.Validation("tool-invocation part requires toolCallId and toolName")
		}
	case PartSource:
		if p.SourceType != "url" && p.SourceType != "document" {
			return apperr.Validation("source part requires sourceType url or document")
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown part type %q", p.Type))
	}
	return nil
}

func validateText(s string) error {
	if strings.TrimSpace(s) == "" {
		return apperr.Validation("content cannot be empty")
	}
	if len(s) > maxContentLength {
		return apperr.Validation("content exceeds maximum length")
	}
	if !utf8.ValidString(s) {
		return apperr.Validation("content must be valid UTF-8")
	}
	return nil
}

func validateID(field, id string, required bool) error {
	if id == "" {
		if required {
			return apperr.Validation(field + " is required")
		}
		return nil
	}
	if len(id) > maxIDLength {
		return apperr.Validation(field + " exceeds maximum length")
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return apperr.Validation(field + " must not contain whitespace")
	}
	return nil
}
