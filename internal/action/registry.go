package action

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/actiongate/actiongate/internal/event"
	"github.com/actiongate/actiongate/internal/permission"
	"github.com/actiongate/actiongate/pkg/protocol"
)

// Registry holds the ordered action definitions plus the subset currently
// advertised to the agent. All transport errors are logged and swallowed: a
// flaky agent connection must never abort a registration batch.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	defs       map[string]*Definition
	advertised map[string]bool
	activated  map[string]bool

	resolver  *permission.Resolver
	transport Transport
	bus       *event.Bus
	log       zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(resolver *permission.Resolver, transport Transport, bus *event.Bus, log zerolog.Logger) *Registry {
	return &Registry{
		defs:       make(map[string]*Definition),
		advertised: make(map[string]bool),
		activated:  make(map[string]bool),
		resolver:   resolver,
		transport:  transport,
		bus:        bus,
		log:        log,
	}
}

// Add appends definitions not already present. Duplicates are warned about
// and skipped without failing the batch. When advertise is set and the agent
// is connected, the registrable subset of the new actions is advertised
// immediately.
func (r *Registry) Add(defs []*Definition, advertise bool) {
	var fresh []string

	r.mu.Lock()
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		if _, exists := r.defs[def.Name]; exists {
			r.log.Warn().Str("action", def.Name).Msg("duplicate action definition ignored")
			continue
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
		fresh = append(fresh, def.Name)
	}
	r.mu.Unlock()

	if advertise && r.transport.Connected() {
		var toRegister []string
		for _, name := range fresh {
			if r.Registrable(name) {
				toRegister = append(toRegister, name)
			}
		}
		r.advertise(toRegister)
	}
}

// Remove deletes definitions by name and, if connected, unregisters them
// from the agent. Unknown names are logged and skipped.
func (r *Registry) Remove(names []string) {
	var toUnregister []string

	r.mu.Lock()
	for _, name := range names {
		if _, ok := r.defs[name]; !ok {
			r.log.Debug().Str("action", name).Msg("remove of unknown action ignored")
			continue
		}
		delete(r.defs, name)
		delete(r.activated, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		if r.advertised[name] {
			delete(r.advertised, name)
			toUnregister = append(toUnregister, name)
		}
	}
	r.mu.Unlock()

	if len(toUnregister) > 0 && r.transport.Connected() {
		r.unadvertise(toUnregister)
	}
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Has reports whether a definition exists, advertised or not.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all definition names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Advertised returns the names currently advertised, in registration order.
func (r *Registry) Advertised() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		if r.advertised[name] {
			names = append(names, name)
		}
	}
	return names
}

// IsAdvertised reports whether an action is currently advertised.
func (r *Registry) IsAdvertised(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.advertised[name]
}

// Registrable reports whether an action should be advertised right now:
// effective permission is not off, its register condition holds, and it is
// not suppressed by manual registration without activation.
func (r *Registry) Registrable(name string) bool {
	r.mu.RLock()
	def, ok := r.defs[name]
	activated := r.activated[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if r.resolver.Effective(name, def.Default) == permission.Off {
		return false
	}
	return r.passesGating(def, activated)
}

// RegistrableUnder evaluates registrability as if the given level override
// were in force. The force controller uses this for hypothetical filtering;
// forcing counts as explicit activation, so manual suppression is waived.
func (r *Registry) RegistrableUnder(name string, override *permission.Level) bool {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	level := r.resolver.EffectiveIgnoringForce(name, def.Default)
	if override != nil {
		level = *override
	}
	if level == permission.Off {
		return false
	}
	return r.passesGating(def, true)
}

func (r *Registry) passesGating(def *Definition, activated bool) bool {
	if def.RegisterCondition != nil && !def.RegisterCondition() {
		return false
	}
	if def.ManualRegister && !activated {
		return false
	}
	return true
}

// RegisterOne advertises a single action if it qualifies, marking it
// activated for manual-register actions. Idempotent.
func (r *Registry) RegisterOne(name string) {
	r.mu.Lock()
	def, ok := r.defs[name]
	if !ok {
		r.mu.Unlock()
		r.log.Debug().Str("action", name).Msg("registerOne of unknown action ignored")
		return
	}
	if def.ManualRegister {
		r.activated[name] = true
	}
	already := r.advertised[name]
	r.mu.Unlock()

	if already || !r.Registrable(name) || !r.transport.Connected() {
		return
	}
	r.advertise([]string{name})
}

// UnregisterOne withdraws a single action and clears its activation.
// Idempotent.
func (r *Registry) UnregisterOne(name string) {
	r.mu.Lock()
	delete(r.activated, name)
	wasAdvertised := r.advertised[name]
	r.mu.Unlock()

	if !wasAdvertised {
		return
	}
	r.unadvertise([]string{name})
}

// ReregisterAll recomputes the advertised set. In conservative mode only the
// diff is sent over the transport; otherwise everything currently advertised
// is torn down and the qualifying set registered from scratch (used after a
// reconnect, when the agent's view cannot be trusted).
func (r *Registry) ReregisterAll(conservative bool) {
	desired := make(map[string]bool)
	for _, name := range r.Names() {
		if r.Registrable(name) {
			desired[name] = true
		}
	}

	r.mu.Lock()
	var toUnregister, toRegister []string
	if conservative {
		for _, name := range r.order {
			switch {
			case r.advertised[name] && !desired[name]:
				toUnregister = append(toUnregister, name)
			case !r.advertised[name] && desired[name]:
				toRegister = append(toRegister, name)
			}
		}
	} else {
		for _, name := range r.order {
			if r.advertised[name] {
				toUnregister = append(toUnregister, name)
			}
			if desired[name] {
				toRegister = append(toRegister, name)
			}
		}
	}
	r.mu.Unlock()

	if len(toUnregister) > 0 {
		r.unadvertise(toUnregister)
	}
	if len(toRegister) > 0 {
		r.advertise(toRegister)
	}
}

// Specs renders transport descriptors for the given names, skipping unknown
// ones.
func (r *Registry) Specs(names []string) []protocol.ActionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]protocol.ActionSpec, 0, len(names))
	for _, name := range names {
		if def, ok := r.defs[name]; ok {
			specs = append(specs, def.Spec())
		}
	}
	return specs
}

func (r *Registry) advertise(names []string) {
	if len(names) == 0 {
		return
	}
	specs := r.Specs(names)

	r.mu.Lock()
	for _, name := range names {
		r.advertised[name] = true
	}
	r.mu.Unlock()

	if err := r.transport.RegisterActions(specs); err != nil {
		r.log.Warn().Err(err).Strs("actions", names).Msg("register send failed")
	}
	r.bus.Publish(event.Event{Type: event.ActionRegistered, Data: event.ActionSetData{Names: names}})
}

func (r *Registry) unadvertise(names []string) {
	if len(names) == 0 {
		return
	}

	r.mu.Lock()
	for _, name := range names {
		delete(r.advertised, name)
	}
	r.mu.Unlock()

	if err := r.transport.UnregisterActions(names); err != nil {
		r.log.Warn().Err(err).Strs("actions", names).Msg("unregister send failed")
	}
	r.bus.Publish(event.Event{Type: event.ActionUnregistered, Data: event.ActionSetData{Names: names}})
}
