// Package history computes the canonical message sequence of a chat after an
// edit, regenerate or replace operation.
//
// Every function here is pure: the result depends only on the arguments and
// the input slices are never modified.
package history

import (
	"bytes"
	"fmt"

	"github.com/capitalize-ai/agent-platform/internal/apperr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// Reconcile returns the canonical history after applying op to h.
func Reconcile(h []model.Message, op model.Operation) ([]model.Message, error) {
	switch op := op.(type) {
	case model.Replace:
		return clone(op.Messages), nil

	case model.Submit:
		if op.MessageID == "" {
			return appendTo(h, op.Message), nil
		}
		idx := IndexOf(h, op.MessageID)
		if idx < 0 {
			return nil, apperr.MessageNotFound(op.MessageID)
		}
		return appendTo(h[:idx], op.Message), nil

	case model.Regenerate:
		idx := len(h) - 1
		if op.MessageID != "" {
			idx = IndexOf(h, op.MessageID)
		}
		if idx < 0 || idx >= len(h) {
			id := op.MessageID
			if id == "" {
				id = "<last>"
			}
			return nil, apperr.MessageNotFound(id)
		}
		if h[idx].Role == model.RoleAssistant {
			return clone(h[:idx]), nil
		}
		return clone(h[:idx+1]), nil

	case nil:
		return nil, apperr.Validation("operation is required")
	default:
		return nil, apperr.Validation(fmt.Sprintf("unsupported operation %T", op))
	}
}

// DedupAppend appends the inbound messages whose ids are not already present in
// durable (or earlier in inbound). It returns the merged history and the
// messages that were actually added.
func DedupAppend(durable, inbound []model.Message) (merged, added []model.Message) {
	seen := make(map[string]struct{}, len(durable)+len(inbound))
	for _, m := range durable {
		seen[m.ID] = struct{}{}
	}

	merged = make([]model.Message, len(durable), len(durable)+len(inbound))
	copy(merged, durable)
	for _, m := range inbound {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
		added = append(added, m)
	}
	return merged, added
}

// Tail returns the messages that next adds to prev when next extends prev
// (the same messages in the same positions). ok is false when next truncates
// prev or rewrites any of its messages and therefore requires a full replace.
func Tail(prev, next []model.Message) (tail []model.Message, ok bool) {
	if len(next) < len(prev) {
		return nil, false
	}
	for i := range prev {
		if !SameContent(&prev[i], &next[i]) {
			return nil, false
		}
	}
	return clone(next[len(prev):]), true
}

// Changed returns the messages of next that are absent from prev or whose
// content differs from the prev message with the same id.
func Changed(prev, next []model.Message) []model.Message {
	byID := make(map[string]*model.Message, len(prev))
	for i := range prev {
		byID[prev[i].ID] = &prev[i]
	}
	var out []model.Message
	for i := range next {
		if old, ok := byID[next[i].ID]; ok && SameContent(old, &next[i]) {
			continue
		}
		out = append(out, next[i])
	}
	return out
}

// SameContent reports whether a and b are the same message with the same
// role and parts. Metadata and timestamps are not compared.
func SameContent(a, b *model.Message) bool {
	if a.ID != b.ID || a.Role != b.Role || len(a.Parts) != len(b.Parts) {
		return false
	}
	for i := range a.Parts {
		if !samePart(&a.Parts[i], &b.Parts[i]) {
			return false
		}
	}
	return true
}

func samePart(a, b *model.Part) bool {
	return a.Type == b.Type &&
		a.Text == b.Text &&
		a.ToolCallID == b.ToolCallID &&
		a.ToolName == b.ToolName &&
		bytes.Equal(a.Args, b.Args) &&
		bytes.Equal(a.Result, b.Result) &&
		a.SourceType == b.SourceType &&
		a.URL == b.URL &&
		a.Title == b.Title
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(h []model.Message, id string) int {
	for i := range h {
		if h[i].ID == id {
			return i
		}
	}
	return -1
}

// LastUserText returns the text of the most recent user message.
func LastUserText(h []model.Message) string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Role == model.RoleUser {
			return h[i].Text()
		}
	}
	return ""
}

func appendTo(prefix []model.Message, m model.Message) []model.Message {
	out := make([]model.Message, 0, len(prefix)+1)
	out = append(out, prefix...)
	return append(out, m)
}

func clone(h []model.Message) []model.Message {
	out := make([]model.Message, len(h))
	copy(out, h)
	return out
}
