// Package main provides agentsim, a scripted agent client for exercising a
// running gateway by hand: it connects, waits for registrations, invokes a
// probe action, and answers forced exchanges with the first offered action.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/pkg/protocol"
)

type agent struct {
	conn *websocket.Conn
	log  zerolog.Logger

	mu      sync.Mutex
	nextID  int
	actions map[string]protocol.ActionSpec
	probed  bool
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws", "gateway websocket URL")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New(logging.Config{Level: *level, Pretty: true})

	for {
		conn, err := connect(*url, log)
		if err != nil {
			log.Fatal().Err(err).Msg("giving up connecting")
		}
		a := &agent{conn: conn, log: log, actions: map[string]protocol.ActionSpec{}}
		a.run()
		log.Warn().Msg("connection lost, reconnecting")
		time.Sleep(time.Second)
	}
}

func connect(url string, log zerolog.Logger) (*websocket.Conn, error) {
	var conn *websocket.Conn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			log.Info().Err(err).Msg("dial failed, retrying")
			return err
		}
		conn = c
		return nil
	}, policy)
	return conn, err
}

func (a *agent) run() {
	defer a.conn.Close()

	for {
		var env protocol.Envelope
		if err := a.conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Command {
		case protocol.CmdStartup:
			a.log.Info().Str("game", env.Game).Msg("session started")
		case protocol.CmdRegister:
			a.handleRegister(env.Data)
		case protocol.CmdUnregister:
			a.handleUnregister(env.Data)
		case protocol.CmdForce:
			a.handleForce(env.Data)
		case protocol.CmdActionResult:
			a.handleResult(env.Data)
		case protocol.CmdContext:
			var ctx protocol.ContextData
			if json.Unmarshal(env.Data, &ctx) == nil {
				a.log.Info().Bool("silent", ctx.Silent).Msg("context: " + ctx.Message)
			}
		default:
			a.log.Debug().Str("command", env.Command).Msg("ignoring frame")
		}
	}
}

func (a *agent) handleRegister(data json.RawMessage) {
	var reg protocol.RegisterData
	if err := json.Unmarshal(data, &reg); err != nil {
		a.log.Warn().Err(err).Msg("bad register frame")
		return
	}

	a.mu.Lock()
	for _, spec := range reg.Actions {
		a.actions[spec.Name] = spec
		a.log.Info().Str("action", spec.Name).Msg("registered")
	}
	_, hasProbe := a.actions["request_cookie"]
	shouldProbe := hasProbe && !a.probed
	if shouldProbe {
		a.probed = true
	}
	a.mu.Unlock()

	if shouldProbe {
		a.sendAction("request_cookie", "")
	}
}

func (a *agent) handleUnregister(data json.RawMessage) {
	var unreg protocol.UnregisterData
	if err := json.Unmarshal(data, &unreg); err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range unreg.ActionNames {
		delete(a.actions, name)
		a.log.Info().Str("action", name).Msg("unregistered")
	}
}

// handleForce answers a forced exchange by invoking the first offered
// action with empty parameters. Good enough to watch the gateway's retry
// and settle behavior from the outside.
func (a *agent) handleForce(data json.RawMessage) {
	var force protocol.ForceData
	if err := json.Unmarshal(data, &force); err != nil || len(force.ActionNames) == 0 {
		return
	}
	a.log.Info().Str("query", force.Query).Strs("actions", force.ActionNames).Msg("forced exchange")
	a.sendAction(force.ActionNames[0], "")
}

func (a *agent) handleResult(data json.RawMessage) {
	var res protocol.ResultData
	if err := json.Unmarshal(data, &res); err != nil {
		return
	}
	msg := ""
	if res.Message != nil {
		msg = *res.Message
	}
	a.log.Info().Str("id", res.ID).Bool("success", res.Success).Msg("result: " + msg)
}

func (a *agent) sendAction(name, params string) {
	a.mu.Lock()
	a.nextID++
	id := fmt.Sprintf("sim-%d", a.nextID)
	a.mu.Unlock()

	cmd := protocol.ActionCommand{ID: id, Name: name, Data: params}
	env, err := protocol.NewEnvelope(protocol.CmdAction, cmd)
	if err != nil {
		a.log.Error().Err(err).Msg("encode action")
		return
	}
	if err := a.conn.WriteJSON(env); err != nil {
		a.log.Error().Err(err).Msg("send action")
		os.Exit(1)
	}
	a.log.Info().Str("id", id).Str("action", name).Msg("invoked")
}
