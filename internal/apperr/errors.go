// Package apperr defines the error taxonomy shared by the chat pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the externally observable error class.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindAccessDenied      Kind = "access_denied"
	KindPlanLimitExceeded Kind = "plan_limit_exceeded"
	KindValidation        Kind = "validation_error"
	KindUpstreamFailure   Kind = "upstream_failure"
	KindCanceled          Kind = "canceled"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// Code names the concrete failure within a Kind.
type Code string

const (
	CodeTenantNotFound     Code = "tenant_not_found"
	CodeAgentNotFound      Code = "agent_not_found"
	CodeAgentInactive      Code = "agent_inactive"
	CodeChatNotFound       Code = "chat_not_found"
	CodeMessageNotFound    Code = "message_not_found"
	CodeChatAccessDenied   Code = "chat_access_denied"
	CodeTenantMismatch     Code = "tenant_mismatch"
	CodeModelNotAllowed    Code = "model_not_allowed"
	CodeChatQuotaExceeded  Code = "chat_quota_exceeded"
	CodeAgentQuotaExceeded Code = "agent_quota_exceeded"
	CodeInvalidRequest     Code = "invalid_request"
	CodeSlugTaken          Code = "slug_taken"
	CodeModelFailure       Code = "model_failure"
	CodeModelTimeout       Code = "model_timeout"
	CodeEmbeddingFailure   Code = "embedding_failure"
	CodeStopped            Code = "stopped"
	CodeInternal           Code = "internal"
)

// Error is a classified failure scoped to one request.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Code so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a classified error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a classified error with a cause.
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// WithDetail returns e with the detail key set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Payload is the wire representation of an error.
type Payload struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Public converts err into the payload shown to callers. NotFound and
// AccessDenied produce the same payload.
func Public(err error) Payload {
	e, ok := As(err)
	if !ok {
		return Payload{Kind: KindInternal, Message: "internal error"}
	}
	switch e.Kind {
	case KindNotFound, KindAccessDenied:
		return Payload{Kind: KindNotFound, Message: "resource not found or access denied"}
	case KindInternal:
		return Payload{Kind: KindInternal, Message: "internal error"}
	}
	return Payload{Kind: e.Kind, Message: e.Message, Details: e.Details}
}

// StatusClientClosedRequest is the non-standard status used for canceled requests.
const StatusClientClosedRequest = 499

// HTTPStatus maps a Kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound, KindAccessDenied:
		return http.StatusNotFound
	case KindPlanLimitExceeded:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for the failures raised by the pipeline.

func TenantNotFound() *Error {
	return New(KindNotFound, CodeTenantNotFound, "tenant not found")
}

// AgentNotFound is returned both for unknown agents and agents of another tenant.
func AgentNotFound() *Error {
	return New(KindNotFound, CodeAgentNotFound, "agent not found")
}

func AgentInactive() *Error {
	return New(KindNotFound, CodeAgentInactive, "agent is not active")
}

func ChatNotFound() *Error {
	return New(KindNotFound, CodeChatNotFound, "chat not found")
}

func ChatAccessDenied() *Error {
	return New(KindAccessDenied, CodeChatAccessDenied, "chat belongs to a different tenant or agent")
}

func TenantMismatch() *Error {
	return New(KindAccessDenied, CodeTenantMismatch, "tenant does not match credentials")
}

func MessageNotFound(id string) *Error {
	return New(KindNotFound, CodeMessageNotFound, "message not found").WithDetail("message_id", id)
}

func ModelNotAllowed(model string, allowed []string) *Error {
	return New(KindPlanLimitExceeded, CodeModelNotAllowed, fmt.Sprintf("model %s is not allowed on this plan", model)).
		WithDetail("model", model).
		WithDetail("allowed_models", allowed).
		WithDetail("upgrade_required", true)
}

func ChatQuotaExceeded(limit, used int) *Error {
	return New(KindPlanLimitExceeded, CodeChatQuotaExceeded, fmt.Sprintf("monthly chat limit reached (%d)", limit)).
		WithDetail("limit", limit).
		WithDetail("used", used).
		WithDetail("upgrade_required", true)
}

func AgentQuotaExceeded(limit int) *Error {
	return New(KindPlanLimitExceeded, CodeAgentQuotaExceeded, fmt.Sprintf("max agents reached for plan (%d)", limit)).
		WithDetail("limit", limit).
		WithDetail("upgrade_required", true)
}

func Validation(message string) *Error {
	return New(KindValidation, CodeInvalidRequest, message)
}

func SlugTaken(slug string) *Error {
	return New(KindConflict, CodeSlugTaken, "slug already exists for tenant").WithDetail("slug", slug)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, CodeInternal, message, err)
}

func ModelFailure(err error) *Error {
	return Wrap(KindUpstreamFailure, CodeModelFailure, "model provider failed", err)
}

func ModelTimeout(limit string) *Error {
	return New(KindUpstreamFailure, CodeModelTimeout, "model response exceeded maximum duration").WithDetail("max_duration", limit)
}

func EmbeddingFailure(err error) *Error {
	return Wrap(KindUpstreamFailure, CodeEmbeddingFailure, "embedding provider failed", err)
}

func Stopped() *Error {
	return New(KindCanceled, CodeStopped, "response stopped")
}
