// Package protocol defines the wire format spoken between the gateway and the
// agent over the websocket transport. Every frame is a JSON envelope with a
// command name and an optional data payload.
package protocol

import "encoding/json"

// Command names sent by the gateway.
const (
	CmdStartup      = "startup"
	CmdContext      = "context"
	CmdRegister     = "actions/register"
	CmdUnregister   = "actions/unregister"
	CmdForce        = "actions/force"
	CmdActionResult = "action/result"
)

// Command names sent by the agent.
const (
	CmdAction        = "action"
	CmdActionsCancel = "actions/cancel"
)

// Envelope is the outer frame for every message in both directions.
type Envelope struct {
	Command string          `json:"command"`
	Game    string          `json:"game,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ActionSpec describes one advertised action.
type ActionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// RegisterData is the payload of actions/register.
type RegisterData struct {
	Actions []ActionSpec `json:"actions"`
}

// UnregisterData is the payload of actions/unregister.
type UnregisterData struct {
	ActionNames []string `json:"action_names"`
}

// ForceData is the payload of actions/force. State and Query carry free-text
// context for the forced exchange; EphemeralContext marks that text as
// valid only for this exchange.
type ForceData struct {
	State            string   `json:"state,omitempty"`
	Query            string   `json:"query"`
	EphemeralContext bool     `json:"ephemeral_context,omitempty"`
	ActionNames      []string `json:"action_names"`
	Priority         string   `json:"priority,omitempty"`
}

// ActionCommand is the payload of an inbound action frame. Data is a
// JSON-encoded string (or empty when the action takes no parameters).
type ActionCommand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data string `json:"data,omitempty"`
}

// ResultData is the payload of action/result. Success false invites the
// agent to retry the same action with corrected input; success true is
// terminal for that command id regardless of what Message says.
type ResultData struct {
	ID      string  `json:"id"`
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}

// ContextData is the payload of a context frame. Silent context is
// informational only and should not prompt an agent reply.
type ContextData struct {
	Message string `json:"message"`
	Silent  bool   `json:"silent"`
}

// NewEnvelope marshals data into an envelope for the given command.
func NewEnvelope(command string, data any) (Envelope, error) {
	env := Envelope{Command: command}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = raw
	}
	return env, nil
}
