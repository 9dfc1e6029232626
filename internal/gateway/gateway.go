// Package gateway assembles the full system: config, event bus, permission
// resolver, action registry, request controller, force controller,
// dispatcher, workspace watcher, and the websocket transport.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/actions"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/dispatch"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/request"
	"github.com/actiongate/actiongate/internal/transport"
	"github.com/actiongate/actiongate/internal/workspace"
)

const shutdownGrace = 5 * time.Second

// Options configures a Gateway. Confirmer is required; Indicator may be nil.
type Options struct {
	Config    *config.Config
	Log       zerolog.Logger
	Confirmer request.Confirmer
	Indicator request.Indicator

	// Extra actions registered after the built-in set, mainly for tests.
	ExtraActions []*action.Definition
}

// Gateway owns every component of one running instance. Nothing in here is
// package-global; two gateways can coexist in one process.
type Gateway struct {
	cfg        *config.Config
	log        zerolog.Logger
	bus        *event.Bus
	store      *config.Store
	resolver   *permission.Resolver
	server     *transport.Server
	registry   *action.Registry
	requests   *request.Controller
	force      *dispatch.Force
	dispatcher *dispatch.Dispatcher
	watcher    *workspace.Watcher

	unsubs []func()
}

// New wires a gateway from options. The transport does not listen yet;
// call Run.
func New(opts Options) (*Gateway, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if opts.Confirmer == nil {
		return nil, fmt.Errorf("gateway: confirmer is required")
	}
	log := opts.Log

	bus := event.NewBus()
	store := config.NewStore(cfg.WorkDir)
	resolver := permission.NewResolver(
		permission.SourceFunc(store.GlobalLevels),
		permission.SourceFunc(store.ProjectLevels),
	)

	server := transport.NewServer(&transport.Config{
		Addr:        cfg.Addr,
		ProjectName: cfg.ProjectName,
		EnableCORS:  true,
	}, bus, logging.Component(log, "transport"))

	registry := action.NewRegistry(resolver, server, bus, logging.Component(log, "registry"))
	requests := request.NewController(bus, opts.Confirmer, opts.Indicator, cfg.ApprovalTimeout, logging.Component(log, "request"))
	force := dispatch.NewForce(registry, server, bus, logging.Component(log, "force"))
	resolver.SetForceSource(force)
	dispatcher := dispatch.NewDispatcher(registry, resolver, requests, force, server, bus, cfg.WorkDir, logging.Component(log, "dispatch"))

	watcher, err := workspace.NewWatcher(cfg.WorkDir, bus, logging.Component(log, "workspace"))
	if err != nil {
		return nil, fmt.Errorf("gateway: workspace watcher: %w", err)
	}

	g := &Gateway{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		store:      store,
		resolver:   resolver,
		server:     server,
		registry:   registry,
		requests:   requests,
		force:      force,
		dispatcher: dispatcher,
		watcher:    watcher,
	}

	defs := actions.All(actions.Deps{
		WorkDir:   cfg.WorkDir,
		Workspace: watcher,
		Bus:       bus,
		Tasks:     cfg.Tasks,
	})
	defs = append(defs, opts.ExtraActions...)
	// Advertisement happens on agent connect; until then the registry only
	// records the definitions.
	registry.Add(defs, false)

	server.SetHandler(dispatcher)
	server.SetConnectHook(g.onAgentConnect)
	server.SetStatusFunc(g.status)
	server.SetResolveFunc(requests.Resolve)
	server.SetForceFuncs(g.forceFromRequest, force.Abort)

	g.subscribeWorkspaceEvents()
	return g, nil
}

// onAgentConnect runs the startup handshake: open the session, advertise
// the registrable set, and greet the agent with the project context.
func (g *Gateway) onAgentConnect(reconnect bool) {
	if err := g.server.Startup(); err != nil {
		g.log.Error().Err(err).Msg("startup frame failed")
		return
	}
	// A reconnecting agent has lost its registration state, so rebuild
	// from scratch rather than diffing against what we believe it has.
	g.registry.ReregisterAll(!reconnect)

	greeting := "Connected to actiongate."
	if g.cfg.ProjectName != "" {
		greeting = fmt.Sprintf("Connected to actiongate for project %s.", g.cfg.ProjectName)
	}
	if branch := g.watcher.CurrentBranch(); branch != "" {
		greeting += fmt.Sprintf(" Current git branch: %s.", branch)
	}
	if err := g.server.SendContext(greeting, true); err != nil {
		g.log.Warn().Err(err).Msg("greeting context failed")
	}
}

// forceFromRequest translates the operator HTTP payload into a force spec
// and engages it.
func (g *Gateway) forceFromRequest(req transport.ForceRequest) error {
	spec := dispatch.ForceSpec{
		Names:     req.ActionNames,
		State:     req.State,
		Query:     req.Query,
		Ephemeral: req.Ephemeral,
		Priority:  req.Priority,
	}
	if req.Level != "" {
		l, ok := permission.Parse(req.Level)
		if !ok {
			return fmt.Errorf("unknown permission level %q", req.Level)
		}
		spec.Level = &l
	}
	for name, raw := range req.Levels {
		l, ok := permission.Parse(raw)
		if !ok {
			return fmt.Errorf("unknown permission level %q for %q", raw, name)
		}
		if spec.Levels == nil {
			spec.Levels = make(map[string]permission.Level, len(req.Levels))
		}
		spec.Levels[name] = l
	}
	return g.force.TryForce(spec, req.Strict)
}

// subscribeWorkspaceEvents ties merge detection to the conditional
// registration of abort_merge.
func (g *Gateway) subscribeWorkspaceEvents() {
	g.unsubs = append(g.unsubs,
		g.bus.Subscribe(event.MergeStarted, func(event.Event) {
			g.registry.RegisterOne("abort_merge")
		}),
		g.bus.Subscribe(event.MergeEnded, func(event.Event) {
			g.registry.UnregisterOne("abort_merge")
		}),
		// Permission config lives in watched project files; a change may
		// flip actions on or off.
		g.bus.Subscribe(event.FileChanged, func(ev event.Event) {
			if d, ok := ev.Data.(event.FileData); ok && isConfigPath(d.Path) {
				g.registry.ReregisterAll(true)
			}
		}),
	)
}

func isConfigPath(path string) bool {
	switch path {
	case "actiongate.jsonc", ".actiongate/actiongate.jsonc":
		return true
	}
	return false
}

func (g *Gateway) status() transport.Status {
	st := transport.Status{
		Project: g.cfg.ProjectName,
		Actions: g.registry.Advertised(),
	}
	if p, ok := g.requests.Pending(); ok {
		st.Pending = &transport.PendingApproval{
			RequestID: p.RequestID,
			Action:    p.Action,
			Prompt:    p.Text,
		}
	}
	return st
}

// Bus exposes the event bus for embedders and tests.
func (g *Gateway) Bus() *event.Bus { return g.bus }

// Registry exposes the action registry.
func (g *Gateway) Registry() *action.Registry { return g.registry }

// Requests exposes the request controller.
func (g *Gateway) Requests() *request.Controller { return g.requests }

// Force exposes the force controller.
func (g *Gateway) Force() *dispatch.Force { return g.force }

// Server exposes the transport server.
func (g *Gateway) Server() *transport.Server { return g.server }

// Workspace exposes the workspace watcher.
func (g *Gateway) Workspace() *workspace.Watcher { return g.watcher }

// Run starts the watcher and the transport listener, then blocks until the
// context is cancelled or the listener fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.watcher.Start()
	defer g.teardown()

	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Start() }()

	g.log.Info().Str("addr", g.cfg.Addr).Msg("gateway listening")
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) teardown() {
	g.requests.CancelCurrent("gateway shutting down")
	for _, unsub := range g.unsubs {
		unsub()
	}
	if err := g.watcher.Stop(); err != nil {
		g.log.Warn().Err(err).Msg("watcher stop failed")
	}
	if err := g.bus.Close(); err != nil {
		g.log.Warn().Err(err).Msg("bus close failed")
	}
}
