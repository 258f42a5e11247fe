// Package signal is the in-process event bus the resilience core uses to
// tell surrounding collaborators (navigation, route guards, consoles) that
// something changed. Delivery is synchronous: Publish returns only after every
// handler ran, so observers see the new state immediately after the change.
package signal

import (
	"sync"
	"time"
)

// Name identifies a kind of event.
type Name string

const (
	// AuthChanged fires after every token set or clear.
	AuthChanged Name = "auth.changed"
	// NavRefresh asks navigation chrome (menus, theme) to refresh.
	NavRefresh Name = "nav.refresh"

	NotificationShown   Name = "notification.shown"
	NotificationUpdated Name = "notification.updated"
	NotificationRemoved Name = "notification.removed"

	// All subscribes a handler to every event.
	All Name = "*"
)

// Event is a single published signal.
type Event struct {
	Name       Name           `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      int
	name    Name
	handler Handler
}

// Bus dispatches events to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler for events named name (or All). The returned
// function removes the subscription.
func (b *Bus) Subscribe(name Name, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to all matching subscribers in subscription order.
func (b *Bus) Publish(name Name, data map[string]any) {
	if b == nil {
		return
	}
	evt := Event{Name: name, Data: data, OccurredAt: time.Now().UTC()}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == All || s.name == name {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}
