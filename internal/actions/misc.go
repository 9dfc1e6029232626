package actions

import (
	"context"
	"strings"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/schema"
)

func miscActions(deps Deps) []*action.Definition {
	return []*action.Definition{
		{
			Name:        "chat",
			Description: "Say something to the operator.",
			Category:    "misc",
			Schema: schema.Object(map[string]schema.Property{
				"answer": {Type: "string", Description: "What to say."},
			}, "answer"),
			Default: permission.Autopilot,
			Validators: []action.Validator{
				func(req *action.Request) *action.ValidatorError {
					if strings.TrimSpace(req.String("answer")) == "" {
						return action.RetryRejectf("answer must not be empty")
					}
					return nil
				},
			},
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				if deps.Bus != nil {
					deps.Bus.Publish(event.Event{
						Type: event.ChatReceived,
						Data: event.ChatData{Message: req.String("answer")},
					})
				}
				return action.Success("The operator hears you.")
			},
		},
		{
			// A zero-parameter action kept around as the canonical probe
			// for clients exercising the protocol.
			Name:        "request_cookie",
			Description: "Ask the operator for a cookie. Takes no parameters.",
			Category:    "misc",
			Default:     permission.Autopilot,
			Handler: func(ctx context.Context, req *action.Request) action.Outcome {
				return action.Success("The operator hands you a cookie.")
			},
		},
	}
}
