// Package event provides the in-process pub/sub bus, built on watermill's
// gochannel transport. Every Gateway owns its own Bus; there is no package
// global, so independent instances can coexist in tests.
package event

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type identifies a kind of event.
type Type string

const (
	AgentConnected     Type = "agent.connected"
	AgentDisconnected  Type = "agent.disconnected"
	ActionRegistered   Type = "action.registered"
	ActionUnregistered Type = "action.unregistered"
	ApprovalRequested  Type = "approval.requested"
	ApprovalResolved   Type = "approval.resolved"
	CommandSettled     Type = "command.settled"
	ForceEngaged       Type = "force.engaged"
	ForceCleared       Type = "force.cleared"
	FileChanged        Type = "file.changed"
	FileOpened         Type = "file.opened"
	GitStateChanged    Type = "git.state"
	MergeStarted       Type = "git.merge.started"
	MergeEnded         Type = "git.merge.ended"
	TaskFinished       Type = "task.finished"
	ChatReceived       Type = "chat.received"
)

// Event is a typed payload published on the bus.
type Event struct {
	Type Type
	Data any
}

// Handler receives published events.
type Handler func(Event)

type entry struct {
	id uint64
	fn Handler
}

// Bus fans events out to subscribers. Subscriptions return an unsubscribe
// function; calling it more than once is harmless.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	subs   map[Type][]entry
	all    []entry
	nextID uint64
	closed bool
}

// NewBus creates a bus backed by a watermill gochannel.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		subs: make(map[Type][]entry),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.subs[t] = append(b.subs[t], entry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := atomic.AddUint64(&b.nextID, 1)
	b.all = append(b.all, entry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.removeAll(id) })
	}
}

func (b *Bus) remove(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, e := range subs {
		if e.id == id {
			b.subs[t] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeAll(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.all {
		if e.id == id {
			b.all = append(b.all[:i], b.all[i+1:]...)
			return
		}
	}
}

func (b *Bus) collect(t Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	fns := make([]Handler, 0, len(b.subs[t])+len(b.all))
	for _, e := range b.subs[t] {
		fns = append(fns, e.fn)
	}
	for _, e := range b.all {
		fns = append(fns, e.fn)
	}
	return fns
}

// Publish delivers an event to subscribers, each in its own goroutine.
func (b *Bus) Publish(ev Event) {
	for _, fn := range b.collect(ev.Type) {
		go fn(ev)
	}
}

// PublishSync delivers an event to subscribers in the calling goroutine,
// returning only after every handler has run. Cancellation wiring depends on
// this: a cancel source must be observed before the publisher moves on.
func (b *Bus) PublishSync(ev Event) {
	for _, fn := range b.collect(ev.Type) {
		fn(ev)
	}
}

// Close shuts the bus down; subsequent publishes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[Type][]entry)
	b.all = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}
