// Package request owns the single outstanding confirmation request: its
// prompt, expiry timer, progress indicator, and cancellation subscriptions.
// At most one request may be awaiting approval process-wide; attempting to
// open a second is an error reported to the caller, never a silent queue.
package request

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
)

// ErrAlreadyPending is returned when a confirmation is already outstanding.
var ErrAlreadyPending = errors.New("another action is pending approval")

// Decision is how a pending request left the awaiting-approval state.
type Decision string

const (
	Accepted  Decision = "accepted"
	Denied    Decision = "denied"
	TimedOut  Decision = "timeout"
	Cancelled Decision = "cancelled"
)

// Resolution is delivered to the dispatcher exactly once per request.
type Resolution struct {
	Decision Decision
	Reason   string
}

// Prompt is what the operator surface shows. Timeout zero means the request
// waits indefinitely and should be rendered as indeterminate rather than a
// countdown.
type Prompt struct {
	RequestID string
	CommandID string
	Action    string
	Text      string
	Timeout   time.Duration
}

// Confirmer presents a prompt to the operator. Show must not block; the
// answer comes back through Controller.Resolve.
type Confirmer interface {
	Show(p Prompt)
}

// Indicator is the ambient pending/idle progress surface.
type Indicator interface {
	SetPending(p Prompt)
	SetIdle()
}

// NopIndicator satisfies Indicator with no-ops.
type NopIndicator struct{}

func (NopIndicator) SetPending(Prompt) {}
func (NopIndicator) SetIdle()          {}

type pending struct {
	prompt   Prompt
	ch       chan Resolution
	timer    *time.Timer
	unsubs   []func()
	resolved bool
}

// Controller manages the lifecycle of the single pending request.
type Controller struct {
	mu        sync.Mutex
	pending   *pending
	bus       *event.Bus
	confirmer Confirmer
	indicator Indicator
	timeout   time.Duration
	log       zerolog.Logger
}

// NewController creates a controller. timeout zero disables the expiry
// timer.
func NewController(bus *event.Bus, confirmer Confirmer, indicator Indicator, timeout time.Duration, log zerolog.Logger) *Controller {
	if indicator == nil {
		indicator = NopIndicator{}
	}
	return &Controller{
		bus:       bus,
		confirmer: confirmer,
		indicator: indicator,
		timeout:   timeout,
		log:       log,
	}
}

// Begin opens a confirmation request. It wires the cancellation events,
// starts the expiry timer, updates the indicator, and surfaces the prompt.
// The returned channel delivers exactly one Resolution.
func (c *Controller) Begin(commandID, actionName, promptText string, cancels []action.CancelEvent) (<-chan Resolution, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyPending
	}

	id := ulid.Make().String()
	p := &pending{
		prompt: Prompt{
			RequestID: id,
			CommandID: commandID,
			Action:    actionName,
			Text:      promptText,
			Timeout:   c.timeout,
		},
		ch: make(chan Resolution, 1),
	}

	// Cancellation is push-based: each subscribed event tears the request
	// down the moment it fires. The subscriptions and the timer are wired
	// before the mutex is released, so a cancel or expiry firing mid-setup
	// blocks in finish until the pending slot is fully populated and can
	// never observe a half-wired request.
	for _, ce := range cancels {
		reason := ce.Reason
		unsub := c.bus.Subscribe(ce.Event, func(event.Event) {
			c.finish(id, Resolution{Decision: Cancelled, Reason: reason})
		})
		p.unsubs = append(p.unsubs, unsub)
	}

	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() {
			c.finish(id, Resolution{Decision: TimedOut, Reason: "approval timed out"})
		})
	}

	c.pending = p
	c.mu.Unlock()

	c.indicator.SetPending(p.prompt)
	c.bus.Publish(event.Event{Type: event.ApprovalRequested, Data: event.ApprovalRequestedData{
		RequestID: id,
		CommandID: commandID,
		Action:    actionName,
		Prompt:    promptText,
		TimeoutMs: c.timeout.Milliseconds(),
	}})
	c.log.Info().Str("action", actionName).Str("requestID", id).Msg("approval requested")

	// The confirmer may block on operator input, so it runs on its own
	// goroutine; stale answers are discarded by Resolve.
	go c.confirmer.Show(p.prompt)

	return p.ch, nil
}

// Resolve records the operator's answer for the current request. Returns
// false when no request is pending (stale or duplicate answers).
func (c *Controller) Resolve(accept bool) bool {
	id, ok := c.currentID()
	if !ok {
		return false
	}
	res := Resolution{Decision: Denied, Reason: "denied by operator"}
	if accept {
		res = Resolution{Decision: Accepted}
	}
	return c.finish(id, res)
}

// CancelCurrent resolves whichever request is awaiting approval as Denied.
// Used by the agent's blanket cancel command, which names no action.
// Returns false when there was nothing to cancel.
func (c *Controller) CancelCurrent(reason string) bool {
	id, ok := c.currentID()
	if !ok {
		return false
	}
	if reason == "" {
		reason = "cancelled"
	}
	return c.finish(id, Resolution{Decision: Denied, Reason: reason})
}

// Pending returns the prompt of the outstanding request, if any.
func (c *Controller) Pending() (Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Prompt{}, false
	}
	return c.pending.prompt, true
}

func (c *Controller) currentID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.prompt.RequestID, true
}

// finish resolves the request exactly once: the timer and every cancel
// subscription are cleared before the resolution is delivered, so a firing
// timer and a firing cancel event can never both win.
func (c *Controller) finish(id string, res Resolution) bool {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.prompt.RequestID != id || p.resolved {
		c.mu.Unlock()
		return false
	}
	p.resolved = true
	c.pending = nil
	c.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	for _, unsub := range p.unsubs {
		unsub()
	}
	c.indicator.SetIdle()

	c.bus.Publish(event.Event{Type: event.ApprovalResolved, Data: event.ApprovalResolvedData{
		RequestID: id,
		Action:    p.prompt.Action,
		Decision:  string(res.Decision),
		Reason:    res.Reason,
	}})
	c.log.Info().
		Str("action", p.prompt.Action).
		Str("requestID", id).
		Str("decision", string(res.Decision)).
		Msg("approval resolved")

	p.ch <- res
	return true
}
