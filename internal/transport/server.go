// Package transport provides the websocket server the agent connects to,
// plus a small operator-facing HTTP API for status and approvals.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// ErrNotConnected is returned by outbound sends when no agent is attached.
var ErrNotConnected = errors.New("transport: no agent connected")

// CommandHandler receives frames sent by the agent.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd protocol.ActionCommand)
	CancelPending(reason string) bool
}

// Config holds server configuration.
type Config struct {
	Addr        string
	ProjectName string
	EnableCORS  bool
	ReadTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "127.0.0.1:8000",
		EnableCORS:  true,
		ReadTimeout: 0, // websocket connections are long-lived
	}
}

// PendingApproval describes the approval currently awaiting the operator.
type PendingApproval struct {
	RequestID string `json:"requestID"`
	Action    string `json:"action"`
	Prompt    string `json:"prompt"`
}

// Status is the payload of GET /status. Connected is filled in by the
// server; the rest comes from the status function supplied at wiring time.
type Status struct {
	Connected bool             `json:"connected"`
	Project   string           `json:"project,omitempty"`
	Actions   []string         `json:"actions"`
	Pending   *PendingApproval `json:"pending,omitempty"`
}

// Server owns the single agent websocket connection. It implements
// action.Transport for the outbound direction and feeds inbound frames to a
// CommandHandler. Only one agent may be attached at a time; a new connection
// replaces the old one.
type Server struct {
	cfg     *Config
	router  *chi.Mux
	httpSrv *http.Server
	bus     *event.Bus
	log     zerolog.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *websocket.Conn
	connGen   uint64
	hadAgent  bool
	handler   CommandHandler
	onConnect func(reconnect bool)
	statusFn  func() Status
	resolveFn func(accept bool) bool
	forceFn   func(ForceRequest) error
	abortFn   func() bool
}

// ForceRequest is the body of POST /force: the operator-chosen subset the
// agent must pick from, with optional per-exchange permission overrides.
type ForceRequest struct {
	ActionNames []string          `json:"actionNames"`
	Query       string            `json:"query,omitempty"`
	State       string            `json:"state,omitempty"`
	Level       string            `json:"level,omitempty"`
	Levels      map[string]string `json:"levels,omitempty"`
	Ephemeral   bool              `json:"ephemeralContext,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Strict      bool              `json:"strict,omitempty"`
}

// NewServer creates the transport server. The command handler, connect hook,
// and status/approval functions are attached afterwards because the pieces
// that provide them are themselves built on top of this transport.
func NewServer(cfg *Config, bus *event.Bus, log zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		bus:    bus,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// SetHandler attaches the inbound command handler. Must be called before the
// server starts accepting connections.
func (s *Server) SetHandler(h CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetConnectHook attaches a callback invoked whenever an agent attaches. The
// reconnect flag is true when an agent had been attached before.
func (s *Server) SetConnectHook(fn func(reconnect bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// SetStatusFunc attaches the provider backing GET /status.
func (s *Server) SetStatusFunc(fn func() Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

// SetResolveFunc attaches the function backing POST /approval.
func (s *Server) SetResolveFunc(fn func(accept bool) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveFn = fn
}

// SetForceFuncs attaches the functions backing POST /force and
// DELETE /force.
func (s *Server) SetForceFuncs(force func(ForceRequest) error, abort func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceFn = force
	s.abortFn = abort
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.handleWS)
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/approval", s.handleApproval)
	s.router.Post("/force", s.handleForce)
	s.router.Delete("/force", s.handleAbortForce)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.log.Warn().Msg("replacing existing agent connection")
		s.conn.Close()
	}
	s.conn = conn
	s.connGen++
	gen := s.connGen
	reconnect := s.hadAgent
	s.hadAgent = true
	onConnect := s.onConnect
	handler := s.handler
	s.mu.Unlock()

	s.log.Info().Bool("reconnect", reconnect).Msg("agent connected")
	s.bus.Publish(event.Event{Type: event.AgentConnected})
	if onConnect != nil {
		onConnect(reconnect)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.readLoop(ctx, conn, gen, handler)
}

// readLoop pumps frames off the connection until it dies. Each action frame
// is handled on its own goroutine so a pending approval does not block
// cancellation frames.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, handler CommandHandler) {
	defer s.dropConn(conn, gen)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("agent connection closed unexpectedly")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn().Err(err).Msg("discarding malformed frame")
			continue
		}

		switch env.Command {
		case protocol.CmdAction:
			var cmd protocol.ActionCommand
			if err := json.Unmarshal(env.Data, &cmd); err != nil {
				s.log.Warn().Err(err).Msg("discarding malformed action frame")
				continue
			}
			if handler == nil {
				s.log.Error().Str("action", cmd.Name).Msg("no command handler attached")
				continue
			}
			go handler.HandleCommand(ctx, cmd)
		case protocol.CmdActionsCancel:
			if handler != nil {
				handler.CancelPending("cancelled by agent")
			}
		default:
			s.log.Debug().Str("command", env.Command).Msg("ignoring unknown frame")
		}
	}
}

// dropConn clears the connection only if it is still the current one, so a
// stale read loop cannot clobber a replacement connection.
func (s *Server) dropConn(conn *websocket.Conn, gen uint64) {
	conn.Close()
	s.mu.Lock()
	current := s.connGen == gen
	if current {
		s.conn = nil
	}
	s.mu.Unlock()
	if current {
		s.log.Info().Msg("agent disconnected")
		s.bus.Publish(event.Event{Type: event.AgentDisconnected})
	}
}

// Connected reports whether an agent is currently attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Startup sends the startup frame that opens a session with the agent.
func (s *Server) Startup() error {
	return s.send(protocol.CmdStartup, nil)
}

// RegisterActions advertises the given actions to the agent.
func (s *Server) RegisterActions(specs []protocol.ActionSpec) error {
	if len(specs) == 0 {
		return nil
	}
	return s.send(protocol.CmdRegister, protocol.RegisterData{Actions: specs})
}

// UnregisterActions withdraws the given actions from the agent.
func (s *Server) UnregisterActions(names []string) error {
	if len(names) == 0 {
		return nil
	}
	return s.send(protocol.CmdUnregister, protocol.UnregisterData{ActionNames: names})
}

// SendResult delivers the action/result frame for a command id.
func (s *Server) SendResult(id string, success bool, message *string) error {
	return s.send(protocol.CmdActionResult, protocol.ResultData{ID: id, Success: success, Message: message})
}

// SendContext delivers a context message to the agent.
func (s *Server) SendContext(message string, silent bool) error {
	return s.send(protocol.CmdContext, protocol.ContextData{Message: message, Silent: silent})
}

// ForceActions tells the agent it must pick one of the named actions now.
func (s *Server) ForceActions(data protocol.ForceData) error {
	return s.send(protocol.CmdForce, data)
}

func (s *Server) send(command string, data any) error {
	env, err := protocol.NewEnvelope(command, data)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", command, err)
	}
	env.Game = s.cfg.ProjectName

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("transport: send %s: %w", command, err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.statusFn
	s.mu.Unlock()

	st := Status{Project: s.cfg.ProjectName, Actions: []string{}}
	if fn != nil {
		st = fn()
	}
	st.Connected = s.Connected()
	if st.Actions == nil {
		st.Actions = []string{}
	}
	writeJSON(w, http.StatusOK, st)
}

type approvalRequest struct {
	Accept bool `json:"accept"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.resolveFn
	s.mu.Unlock()
	if fn == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "approvals not available"})
		return
	}

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if !fn(req.Accept) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no approval pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.forceFn
	s.mu.Unlock()
	if fn == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "forcing not available"})
		return
	}

	var req ForceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := fn(req); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"forced": true})
}

func (s *Server) handleAbortForce(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.abortFn
	s.mu.Unlock()
	if fn == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "forcing not available"})
		return
	}

	if !fn() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no force active"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
