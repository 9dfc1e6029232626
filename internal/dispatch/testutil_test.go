package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/internal/request"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// recordingTransport captures everything the pipeline sends agent-ward.
type recordingTransport struct {
	mu           sync.Mutex
	registered   [][]string
	unregistered [][]string
	results      []protocol.ResultData
	contexts     []protocol.ContextData
	forces       []protocol.ForceData
}

func (r *recordingTransport) Connected() bool { return true }

func (r *recordingTransport) RegisterActions(specs []protocol.ActionSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	r.registered = append(r.registered, names)
	return nil
}

func (r *recordingTransport) UnregisterActions(names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, append([]string(nil), names...))
	return nil
}

func (r *recordingTransport) SendResult(id string, success bool, message *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, protocol.ResultData{ID: id, Success: success, Message: message})
	return nil
}

func (r *recordingTransport) SendContext(message string, silent bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, protocol.ContextData{Message: message, Silent: silent})
	return nil
}

func (r *recordingTransport) ForceActions(data protocol.ForceData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forces = append(r.forces, data)
	return nil
}

func (r *recordingTransport) lastResult(t *testing.T) protocol.ResultData {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		t.Fatal("no result sent")
	}
	return r.results[len(r.results)-1]
}

func (r *recordingTransport) resultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *recordingTransport) contextCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

func (r *recordingTransport) lastContext(t *testing.T) protocol.ContextData {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contexts) == 0 {
		t.Fatal("no context sent")
	}
	return r.contexts[len(r.contexts)-1]
}

// autoConfirmer answers every prompt through the controller.
type autoConfirmer struct {
	ctrl   **request.Controller
	accept bool
}

func (a autoConfirmer) Show(request.Prompt) {
	go (*a.ctrl).Resolve(a.accept)
}

// harness bundles a fully wired pipeline over in-memory collaborators.
type harness struct {
	bus        *event.Bus
	levels     map[string]permission.Level
	resolver   *permission.Resolver
	transport  *recordingTransport
	registry   *action.Registry
	requests   *request.Controller
	force      *Force
	dispatcher *Dispatcher
}

type harnessOpts struct {
	acceptApprovals bool
	denyApprovals   bool
	timeout         time.Duration
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	h := &harness{
		bus:       event.NewBus(),
		levels:    map[string]permission.Level{},
		transport: &recordingTransport{},
	}
	t.Cleanup(func() { h.bus.Close() })

	h.resolver = permission.NewResolver(
		permission.SourceFunc(func() map[string]permission.Level { return h.levels }),
		nil,
	)
	h.registry = action.NewRegistry(h.resolver, h.transport, h.bus, logging.Nop())

	var confirmer request.Confirmer = silent{}
	if opts.acceptApprovals {
		confirmer = autoConfirmer{ctrl: &h.requests, accept: true}
	} else if opts.denyApprovals {
		confirmer = autoConfirmer{ctrl: &h.requests, accept: false}
	}
	h.requests = request.NewController(h.bus, confirmer, nil, opts.timeout, logging.Nop())

	h.force = NewForce(h.registry, h.transport, h.bus, logging.Nop())
	h.force.delay = time.Millisecond
	h.resolver.SetForceSource(h.force)

	h.dispatcher = NewDispatcher(
		h.registry, h.resolver, h.requests, h.force, h.transport, h.bus,
		t.TempDir(), logging.Nop(),
	)
	return h
}

type silent struct{}

func (silent) Show(request.Prompt) {}
