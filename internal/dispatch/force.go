package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/action"
	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// ErrForceActive is returned when a force is requested while one is in
// effect.
var ErrForceActive = errors.New("an action force is already active")

// abortReregisterDelay preserves the agent-observed ordering of unregister
// before reregister across the transport.
const abortReregisterDelay = 300 * time.Millisecond

// ForceSpec narrows the advertised set to a host-chosen subset for one
// exchange, optionally overriding permissions for that subset.
type ForceSpec struct {
	Names []string

	// Level applies one level to every forced action; Levels overrides
	// per name and wins over Level where both are set.
	Level  *permission.Level
	Levels map[string]permission.Level

	// State and Query are free-text context surfaced to the agent;
	// Ephemeral marks them as valid only for this exchange.
	State     string
	Query     string
	Ephemeral bool
	Priority  string
}

func (s *ForceSpec) override(name string) (permission.Level, bool) {
	if l, ok := s.Levels[name]; ok {
		return l, true
	}
	if s.Level != nil {
		return *s.Level, true
	}
	return "", false
}

// Force is the action-force controller. At most one spec is active at a
// time; it is consumed by the exchange it triggers.
type Force struct {
	mu        sync.Mutex
	active    *ForceSpec
	reg       *action.Registry
	transport action.Transport
	bus       *event.Bus
	log       zerolog.Logger
	delay     time.Duration
}

// NewForce creates the controller. The caller attaches it to the resolver's
// force layer via SetForceSource.
func NewForce(reg *action.Registry, transport action.Transport, bus *event.Bus, log zerolog.Logger) *Force {
	return &Force{
		reg:       reg,
		transport: transport,
		bus:       bus,
		log:       log,
		delay:     abortReregisterDelay,
	}
}

// ForceOverride implements permission.ForceSource.
func (f *Force) ForceOverride(name string) (permission.Level, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return "", false
	}
	for _, n := range f.active.Names {
		if n == name {
			return f.active.override(name)
		}
	}
	return "", false
}

// Active reports whether a force is in effect.
func (f *Force) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active != nil
}

// ActiveNames returns the forced names, if any.
func (f *Force) ActiveNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	return append([]string(nil), f.active.Names...)
}

// TryForce validates and installs a force spec. The requested names are
// filtered to those registrable under the spec's hypothetical permission
// override; strict mode demands all-or-nothing and fails atomically if any
// name is filtered out.
func (f *Force) TryForce(spec ForceSpec, strict bool) error {
	if len(spec.Names) == 0 {
		return errors.New("force requires at least one action name")
	}
	for _, name := range spec.Names {
		if !f.reg.Has(name) {
			return fmt.Errorf("cannot force unknown action %q", name)
		}
	}

	var filtered []string
	for _, name := range spec.Names {
		var override *permission.Level
		if l, ok := spec.override(name); ok {
			override = &l
		}
		if f.reg.RegistrableUnder(name, override) {
			filtered = append(filtered, name)
		}
	}
	if len(filtered) == 0 {
		return errors.New("no forced action would be registrable")
	}
	if strict && len(filtered) != len(spec.Names) {
		return fmt.Errorf("strict force rejected: %d of %d actions not registrable",
			len(spec.Names)-len(filtered), len(spec.Names))
	}

	installed := spec
	installed.Names = filtered

	f.mu.Lock()
	if f.active != nil {
		f.mu.Unlock()
		return ErrForceActive
	}
	f.active = &installed
	f.mu.Unlock()

	// With the force layer now feeding the resolver, recompute visibility
	// if the spec changes any permission. This must run after f.mu is
	// released: registrability resolves through ForceOverride, which takes
	// the same mutex.
	if spec.Level != nil || len(spec.Levels) > 0 {
		f.reg.ReregisterAll(true)
	}

	if err := f.transport.ForceActions(protocol.ForceData{
		State:            installed.State,
		Query:            installed.Query,
		EphemeralContext: installed.Ephemeral,
		ActionNames:      filtered,
		Priority:         installed.Priority,
	}); err != nil {
		f.log.Warn().Err(err).Msg("force send failed")
	}

	f.bus.Publish(event.Event{Type: event.ForceEngaged, Data: event.ForceData{Names: filtered}})
	f.log.Info().Strs("actions", filtered).Bool("strict", strict).Msg("action force engaged")
	return nil
}

// Spend clears the active force once its exchange has concluded, restoring
// normal visibility. No-op when no force is active.
func (f *Force) Spend(reason string) {
	f.mu.Lock()
	spec := f.active
	f.active = nil
	f.mu.Unlock()

	if spec == nil {
		return
	}
	if spec.Level != nil || len(spec.Levels) > 0 {
		f.reg.ReregisterAll(true)
	}
	f.bus.Publish(event.Event{Type: event.ForceCleared, Data: event.ForceData{Names: spec.Names, Reason: reason}})
	f.log.Debug().Str("reason", reason).Msg("action force cleared")
}

// Abort tears the force down explicitly: the forced names are unregistered,
// the force cleared, and after a short fixed delay the full advertised set
// is rebuilt. The delay is an ordering guarantee for the transport, not a
// correctness requirement of local state. Returns false when no force was
// active.
func (f *Force) Abort() bool {
	f.mu.Lock()
	spec := f.active
	f.active = nil
	f.mu.Unlock()

	if spec == nil {
		return false
	}

	for _, name := range spec.Names {
		f.reg.UnregisterOne(name)
	}
	time.Sleep(f.delay)
	f.reg.ReregisterAll(true)

	f.bus.Publish(event.Event{Type: event.ForceCleared, Data: event.ForceData{Names: spec.Names, Reason: "aborted"}})
	f.log.Info().Strs("actions", spec.Names).Msg("action force aborted")
	return true
}
