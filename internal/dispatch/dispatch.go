// Package dispatch orchestrates inbound agent commands: registration and
// permission checks, schema validation, action validators, confirmation
// gating, execution, and result reporting.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/request"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// Dispatcher runs one inbound command through the full pipeline. Call
// HandleCommand on its own goroutine per command; the request controller
// enforces that only one command at a time waits for approval, while
// autopilot executions may overlap freely.
type Dispatcher struct {
	reg       *action.Registry
	resolver  *permission.Resolver
	requests  *request.Controller
	force     *Force
	transport action.Transport
	bus       *event.Bus
	loops     *LoopGuard
	workDir   string
	log       zerolog.Logger
}

// NewDispatcher wires the pipeline together.
func NewDispatcher(
	reg *action.Registry,
	resolver *permission.Resolver,
	requests *request.Controller,
	force *Force,
	transport action.Transport,
	bus *event.Bus,
	workDir string,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		resolver:  resolver,
		requests:  requests,
		force:     force,
		transport: transport,
		bus:       bus,
		loops:     NewLoopGuard(),
		workDir:   workDir,
		log:       log,
	}
}

// CancelPending resolves whichever request is awaiting approval, if any.
// Used by the agent's blanket cancel command.
func (d *Dispatcher) CancelPending(reason string) bool {
	return d.requests.CancelCurrent(reason)
}

// HandleCommand processes one inbound agent command to completion.
func (d *Dispatcher) HandleCommand(ctx context.Context, cmd protocol.ActionCommand) {
	name := cmd.Name
	log := d.log.With().Str("action", name).Str("commandID", cmd.ID).Logger()

	if !d.reg.IsAdvertised(name) {
		log.Warn().Msg("command for unregistered action")
		d.rejectTerminal(cmd, name, d.unknownActionMessage(name))
		return
	}
	def, ok := d.reg.Get(name)
	if !ok {
		d.rejectTerminal(cmd, name, d.unknownActionMessage(name))
		return
	}

	level := d.resolver.Effective(name, def.Default)
	if level == permission.Off {
		log.Warn().Msg("command rejected: permission off")
		d.rejectTerminal(cmd, name, fmt.Sprintf("Action %s is disabled by permission settings.", name))
		return
	}

	raw := rawParams(cmd)
	if verr := def.Schema.Validate(raw); verr != nil {
		log.Debug().Strs("violations", verr.Violations).Msg("schema validation failed")
		d.rejectRetryable(cmd, name, verr.Error())
		return
	}

	if d.loops.Check(name, raw) {
		log.Warn().Msg("loop guard tripped")
		d.rejectRetryable(cmd, name,
			fmt.Sprintf("You have issued %s with identical input several times in a row; try something different.", name))
		return
	}

	req := &action.Request{
		CommandID: cmd.ID,
		Action:    name,
		Raw:       raw,
		Params:    decodeParams(raw),
		WorkDir:   d.workDir,
	}

	for _, validate := range def.Validators {
		verr := validate(req)
		if verr == nil {
			continue
		}
		log.Debug().Bool("retryable", verr.Retryable).Str("reason", verr.Message).Msg("validator rejected command")
		if verr.Retryable {
			d.rejectRetryable(cmd, name, verr.Message)
		} else {
			d.rejectTerminal(cmd, name, verr.Message)
		}
		return
	}

	switch level {
	case permission.Autopilot:
		// The force that triggered this command is spent the moment a
		// handler is about to run.
		d.force.Spend("command dispatched")
		d.ack(cmd, nil)
		outcome := d.execute(ctx, def, req)
		d.settle(cmd, name, outcome)

	case permission.Copilot:
		prompt := def.RenderPrompt(req)
		ch, err := d.requests.Begin(cmd.ID, name, prompt, def.CancelEvents)
		if err != nil {
			if errors.Is(err, request.ErrAlreadyPending) {
				log.Warn().Msg("command rejected: another approval pending")
				d.rejectTerminal(cmd, name, "Another action is already awaiting operator approval.")
				return
			}
			d.rejectTerminal(cmd, name, fmt.Sprintf("Action %s could not be queued for approval.", name))
			return
		}
		d.force.Spend("command dispatched")

		msg := "Permission requested: " + prompt
		d.ack(cmd, &msg)

		var res request.Resolution
		select {
		case res = <-ch:
		case <-ctx.Done():
			d.requests.CancelCurrent("gateway shutting down")
			res = <-ch
		}

		switch res.Decision {
		case request.Accepted:
			outcome := d.execute(ctx, def, req)
			d.settle(cmd, name, outcome)
		case request.Denied:
			d.settle(cmd, name, action.Failure("Action %s was denied: %s", name, res.Reason))
		case request.TimedOut:
			d.settle(cmd, name, action.Failure("The approval request for %s timed out.", name))
		case request.Cancelled:
			d.settle(cmd, name, action.Failure("The approval request for %s was cancelled: %s", name, res.Reason))
		}
	}
}

// execute runs the handler at most once, converting a panic into a terminal
// failure with a generic message. The full detail stays in local logs and is
// never echoed to the agent.
func (d *Dispatcher) execute(ctx context.Context, def *action.Definition, req *action.Request) (out action.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("action", def.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			out = action.Failure("Action %s failed due to an internal error.", def.Name)
		}
	}()

	if def.Handler == nil {
		return action.Failure("Action %s has no handler.", def.Name)
	}
	return def.Handler(ctx, req)
}

// ack acknowledges a command on the transport. This is the only
// action/result sent for the command id; everything that happens afterwards
// settles through context messages and bus events.
func (d *Dispatcher) ack(cmd protocol.ActionCommand, message *string) {
	if err := d.transport.SendResult(cmd.ID, true, message); err != nil {
		d.log.Warn().Err(err).Str("commandID", cmd.ID).Msg("ack send failed")
	}
}

// settle reports the real outcome once the handler (or the approval flow)
// has concluded.
func (d *Dispatcher) settle(cmd protocol.ActionCommand, name string, outcome action.Outcome) {
	var msg string
	silent := false
	switch outcome.Status {
	case action.StatusSuccess:
		msg = outcome.Message
		if msg == "" {
			msg = fmt.Sprintf("Action %s completed.", name)
		}
		silent = true
	case action.StatusFailure:
		msg = outcome.Message
		if msg == "" {
			msg = fmt.Sprintf("Action %s failed.", name)
		}
	case action.StatusRetry:
		msg = fmt.Sprintf("%s Please retry %s with corrected input.", outcome.Message, name)
	}

	if err := d.transport.SendContext(msg, silent); err != nil {
		d.log.Warn().Err(err).Str("commandID", cmd.ID).Msg("settle send failed")
	}
	d.bus.Publish(event.Event{Type: event.CommandSettled, Data: event.CommandSettledData{
		CommandID: cmd.ID,
		Action:    name,
		Status:    string(outcome.Status),
		Message:   outcome.Message,
	}})
}

// rejectRetryable reports a correctable failure. An active force survives so
// the agent can retry within the same forced exchange.
func (d *Dispatcher) rejectRetryable(cmd protocol.ActionCommand, name, msg string) {
	if err := d.transport.SendResult(cmd.ID, false, &msg); err != nil {
		d.log.Warn().Err(err).Str("commandID", cmd.ID).Msg("reject send failed")
	}
	d.bus.Publish(event.Event{Type: event.CommandSettled, Data: event.CommandSettledData{
		CommandID: cmd.ID,
		Action:    name,
		Status:    string(action.StatusRetry),
		Message:   msg,
	}})
}

// rejectTerminal reports a non-retryable failure and clears any active
// force so a broken forced exchange cannot wedge subsequent commands.
func (d *Dispatcher) rejectTerminal(cmd protocol.ActionCommand, name, msg string) {
	d.force.Spend("terminal outcome")
	if err := d.transport.SendResult(cmd.ID, true, &msg); err != nil {
		d.log.Warn().Err(err).Str("commandID", cmd.ID).Msg("reject send failed")
	}
	d.bus.Publish(event.Event{Type: event.CommandSettled, Data: event.CommandSettledData{
		CommandID: cmd.ID,
		Action:    name,
		Status:    string(action.StatusFailure),
		Message:   msg,
	}})
}

func (d *Dispatcher) unknownActionMessage(name string) string {
	msg := fmt.Sprintf("Action %s is not registered.", name)
	if hint := d.nearestAction(name); hint != "" {
		msg += fmt.Sprintf(" Did you mean %s?", hint)
	}
	return msg
}

// nearestAction suggests a registered action within a small edit distance.
func (d *Dispatcher) nearestAction(name string) string {
	best := ""
	bestDist := 4
	for _, candidate := range d.reg.Advertised() {
		dist := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	return best
}

func rawParams(cmd protocol.ActionCommand) json.RawMessage {
	data := strings.TrimSpace(cmd.Data)
	if data == "" || data == "null" {
		return nil
	}
	return json.RawMessage(data)
}

func decodeParams(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}
