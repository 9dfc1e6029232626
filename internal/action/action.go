// Package action defines the action contract and the registry of actions
// advertised to the agent.
package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/schema"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// Status is the tri-state outcome of a handler.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRetry   Status = "retry"
)

// Outcome is what a handler produces. Failure is terminal; Retry invites the
// agent to reattempt with corrected input.
type Outcome struct {
	Status  Status
	Message string
}

// Success builds a success outcome.
func Success(format string, args ...any) Outcome {
	return Outcome{Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

// Failure builds a terminal failure outcome.
func Failure(format string, args ...any) Outcome {
	return Outcome{Status: StatusFailure, Message: fmt.Sprintf(format, args...)}
}

// Retry builds a retryable outcome.
func Retry(format string, args ...any) Outcome {
	return Outcome{Status: StatusRetry, Message: fmt.Sprintf(format, args...)}
}

// Request is the validated context a handler runs under.
type Request struct {
	CommandID string
	Action    string
	Raw       json.RawMessage
	Params    map[string]any
	WorkDir   string
}

// String returns a string parameter, or "" when absent or mistyped.
func (r *Request) String(key string) string {
	s, _ := r.Params[key].(string)
	return s
}

// StringOr returns a string parameter or a fallback.
func (r *Request) StringOr(key, fallback string) string {
	if s := r.String(key); s != "" {
		return s
	}
	return fallback
}

// Strings returns a string-array parameter, dropping mistyped entries.
func (r *Request) Strings(key string) []string {
	items, _ := r.Params[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HandlerFunc performs the action's work. It is called at most once per
// request, and only after schema validation, validators, and permission
// checks have all passed.
type HandlerFunc func(ctx context.Context, req *Request) Outcome

// ValidatorError is a pre-execution rejection. Retryable rejections invite
// the agent to correct its input; terminal ones do not.
type ValidatorError struct {
	Message   string
	Retryable bool
}

func (e *ValidatorError) Error() string { return e.Message }

// Rejectf builds a terminal validator rejection.
func Rejectf(format string, args ...any) *ValidatorError {
	return &ValidatorError{Message: fmt.Sprintf(format, args...)}
}

// RetryRejectf builds a retryable validator rejection.
func RetryRejectf(format string, args ...any) *ValidatorError {
	return &ValidatorError{Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Validator runs after schema validation and before execution. Returning nil
// accepts the request.
type Validator func(req *Request) *ValidatorError

// PromptFunc renders the human-readable confirmation sentence for a request.
type PromptFunc func(req *Request) string

// CancelEvent names a bus event that, while an approval for this action is
// pending, force-cancels it with the given reason.
type CancelEvent struct {
	Event  event.Type
	Reason string
}

// Definition is the static descriptor of one capability. Immutable once
// added to the registry.
type Definition struct {
	Name        string
	Description string
	Category    string

	// Schema is the declared parameter schema; nil means parameters are
	// passed through unvalidated.
	Schema *schema.Schema

	// Default is the permission used when no config override exists.
	Default permission.Level

	Handler HandlerFunc

	// Prompt is a fixed confirmation sentence; PromptFunc, when set, wins
	// and may derive the sentence from the request parameters.
	Prompt     string
	PromptFunc PromptFunc

	Validators   []Validator
	CancelEvents []CancelEvent

	// RegisterCondition, when set, must hold for the action to be
	// advertised regardless of permission.
	RegisterCondition func() bool

	// ManualRegister suppresses automatic advertisement; the action only
	// appears while explicitly activated (e.g. abort_merge during a
	// conflict).
	ManualRegister bool
}

// RenderPrompt produces the confirmation sentence for a request.
func (d *Definition) RenderPrompt(req *Request) string {
	if d.PromptFunc != nil {
		return d.PromptFunc(req)
	}
	if d.Prompt != "" {
		return d.Prompt
	}
	return fmt.Sprintf("execute %s", d.Name)
}

// Spec renders the transport-facing descriptor.
func (d *Definition) Spec() protocol.ActionSpec {
	return protocol.ActionSpec{
		Name:        d.Name,
		Description: d.Description,
		Schema:      d.Schema.JSON(),
	}
}

// Transport is the agent-facing boundary the registry and dispatcher talk
// to. The concrete implementation lives in internal/transport.
type Transport interface {
	Connected() bool
	RegisterActions(specs []protocol.ActionSpec) error
	UnregisterActions(names []string) error
	SendResult(id string, success bool, message *string) error
	SendContext(message string, silent bool) error
	ForceActions(data protocol.ForceData) error
}
