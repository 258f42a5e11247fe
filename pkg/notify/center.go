// Package notify owns the lifecycle of user-facing messages: toast and
// persistent areas, auto-dismiss, actions, retry-with-backoff and the
// reporting of unexpected failures.
//
// Every state change is published on the signal bus after the center's lock
// is released. Each removal is published exactly once.
package notify

import (
	"errors"
	"sync"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/metrics"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxVisibleToasts caps the toast area; further toasts queue.
	DefaultMaxVisibleToasts = 5
	// DefaultMaxRetries caps HandleNetworkError per operation key.
	DefaultMaxRetries = 3
	// RetryLabel is the label of injected retry actions.
	RetryLabel = "Retry"
)

var (
	ErrUnknownMessage = errors.New("notify: unknown message")
	ErrUnknownAction  = errors.New("notify: unknown action")
)

type entry struct {
	msg   Message
	timer clock.Timer
}

type event struct {
	name signal.Name
	data map[string]any
}

// Center is the notification lifecycle manager.
type Center struct {
	clock      clock.Clock
	bus        *signal.Bus
	logger     *zap.Logger
	classifier *classify.Classifier
	backoff    client.BackoffStrategy
	maxToasts  int

	mu         sync.Mutex
	byID       map[string]*entry
	toasts     []*entry
	persistent []*entry
	retries    map[string]int
	pending    map[string]*pendingRetry
}

type Option func(*Center)

func WithClock(c clock.Clock) Option {
	return func(n *Center) { n.clock = c }
}

func WithBus(b *signal.Bus) Option {
	return func(n *Center) { n.bus = b }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Center) { n.logger = l }
}

func WithClassifier(c *classify.Classifier) Option {
	return func(n *Center) { n.classifier = c }
}

// WithBackoff sets the retry delay policy of HandleNetworkError.
func WithBackoff(b client.BackoffStrategy) Option {
	return func(n *Center) { n.backoff = b }
}

// WithMaxVisibleToasts caps the number of simultaneously visible toasts.
func WithMaxVisibleToasts(n int) Option {
	return func(c *Center) {
		if n > 0 {
			c.maxToasts = n
		}
	}
}

// NewCenter creates an empty center.
func NewCenter(opts ...Option) *Center {
	c := &Center{
		clock:      clock.Real(),
		logger:     zap.NewNop(),
		classifier: classify.New(),
		backoff:    client.DefaultBackoff(),
		maxToasts:  DefaultMaxVisibleToasts,
		byID:       make(map[string]*entry),
		retries:    make(map[string]int),
		pending:    make(map[string]*pendingRetry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Show displays text and returns the message ID.
func (c *Center) Show(kind Kind, text string, opts Options) string {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	placement := opts.Placement
	if placement == "" {
		placement = PlacementToast
		if kind == KindCritical {
			placement = PlacementPersistent
		}
	}
	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL(kind)
	case ttl < 0:
		ttl = 0
	}

	e := &entry{msg: Message{
		ID:          id,
		Kind:        kind,
		Category:    opts.Category,
		Title:       opts.Title,
		Text:        text,
		Suggestions: append([]string(nil), opts.Suggestions...),
		Actions:     append([]Action(nil), opts.Actions...),
		Placement:   placement,
		Dismissible: !opts.Sticky,
		TTL:         ttl,
		State:       StateQueued,
		CreatedAt:   c.clock.Now(),
	}}

	c.mu.Lock()
	events := c.removeLocked(id, ReasonReplaced)
	c.byID[id] = e
	if placement == PlacementPersistent {
		c.persistent = append(c.persistent, e)
		c.activateLocked(e)
	} else {
		c.toasts = append(c.toasts, e)
		if c.visibleToastsLocked() < c.maxToasts {
			c.activateLocked(e)
		}
	}
	events = append(events, event{signal.NotificationShown, e.msg.eventData()})
	c.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(kind), string(placement)).Inc()
	c.publish(events)
	return id
}

func (c *Center) Success(text string) string { return c.Show(KindSuccess, text, Options{}) }

func (c *Center) Info(text string) string { return c.Show(KindInfo, text, Options{}) }

func (c *Center) Warning(text string) string { return c.Show(KindWarning, text, Options{}) }

// Critical shows a message that never auto-dismisses.
func (c *Center) Critical(text string) string { return c.Show(KindCritical, text, Options{}) }

// Update replaces the text of a live message.
func (c *Center) Update(id, text string) bool {
	c.mu.Lock()
	e, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.msg.Text = text
	ev := event{signal.NotificationUpdated, e.msg.eventData()}
	c.mu.Unlock()

	c.publish([]event{ev})
	return true
}

// Dismiss removes a message. Unknown or already removed IDs are ignored.
func (c *Center) Dismiss(id string) {
	c.remove(id, ReasonDismissed)
}

// ClearAll dismisses every visible and queued message.
func (c *Center) ClearAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.byID))
	for _, e := range c.persistent {
		ids = append(ids, e.msg.ID)
	}
	// Queued toasts go first so removing a visible one has nothing to promote.
	for _, e := range c.toasts {
		if e.msg.State == StateQueued {
			ids = append(ids, e.msg.ID)
		}
	}
	for _, e := range c.toasts {
		if e.msg.State != StateQueued {
			ids = append(ids, e.msg.ID)
		}
	}
	var events []event
	for _, id := range ids {
		events = append(events, c.removeLocked(id, ReasonDismissed)...)
	}
	c.mu.Unlock()

	c.publish(events)
}

// Invoke runs the action labelled label and removes the message.
func (c *Center) Invoke(id, label string) error {
	c.mu.Lock()
	e, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	var handler func()
	found := false
	for _, a := range e.msg.Actions {
		if a.Label == label {
			handler, found = a.Handler, true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return ErrUnknownAction
	}
	events := c.removeLocked(id, ReasonAction)
	c.mu.Unlock()

	c.publish(events)
	if handler != nil {
		handler()
	}
	return nil
}

// Get returns a live message.
func (c *Center) Get(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	return e.msg.clone(), true
}

// Toasts returns the visible toasts in insertion order.
func (c *Center) Toasts() []Message {
	return c.snapshot(func(n *Center) []*entry { return n.toasts }, StateVisible)
}

// Queued returns toasts waiting for a free slot, oldest first.
func (c *Center) Queued() []Message {
	return c.snapshot(func(n *Center) []*entry { return n.toasts }, StateQueued)
}

// Persistent returns the persistent area in insertion order.
func (c *Center) Persistent() []Message {
	return c.snapshot(func(n *Center) []*entry { return n.persistent }, StateVisible)
}

// Len returns the number of live messages, queued ones included.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// Close stops every timer. Messages stay in place.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byID {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	for key := range c.pending {
		c.stopRetryLocked(key)
	}
}

func (c *Center) snapshot(list func(*Center) []*entry, state State) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, e := range list(c) {
		if e.msg.State == state {
			out = append(out, e.msg.clone())
		}
	}
	return out
}

func (c *Center) remove(id string, reason Reason) {
	c.mu.Lock()
	events := c.removeLocked(id, reason)
	c.mu.Unlock()
	c.publish(events)
}

// expire removes e if it is still the live message under its ID.
func (c *Center) expire(e *entry) {
	c.mu.Lock()
	if c.byID[e.msg.ID] != e {
		c.mu.Unlock()
		return
	}
	events := c.removeLocked(e.msg.ID, ReasonExpired)
	c.mu.Unlock()
	c.publish(events)
}

func (c *Center) activateLocked(e *entry) {
	e.msg.State = StateVisible
	if e.msg.TTL > 0 {
		e.timer = c.clock.AfterFunc(e.msg.TTL, func() { c.expire(e) })
	}
}

func (c *Center) visibleToastsLocked() int {
	n := 0
	for _, e := range c.toasts {
		if e.msg.State == StateVisible {
			n++
		}
	}
	return n
}

func (c *Center) removeLocked(id string, reason Reason) []event {
	e, ok := c.byID[id]
	if !ok {
		return nil
	}
	delete(c.byID, id)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if e.msg.Placement == PlacementPersistent {
		c.persistent = without(c.persistent, e)
	} else {
		c.toasts = without(c.toasts, e)
	}
	e.msg.State = StateRemoved

	data := e.msg.eventData()
	data["reason"] = string(reason)
	events := []event{{signal.NotificationRemoved, data}}

	if e.msg.Placement == PlacementToast {
		events = append(events, c.promoteLocked()...)
	}
	return events
}

// promoteLocked moves queued toasts into free slots, oldest first.
func (c *Center) promoteLocked() []event {
	var events []event
	visible := c.visibleToastsLocked()
	for _, e := range c.toasts {
		if visible >= c.maxToasts {
			break
		}
		if e.msg.State != StateQueued {
			continue
		}
		c.activateLocked(e)
		visible++
		events = append(events, event{signal.NotificationUpdated, e.msg.eventData()})
	}
	return events
}

func (c *Center) publish(events []event) {
	for _, ev := range events {
		c.bus.Publish(ev.name, ev.data)
	}
}

func without(list []*entry, target *entry) []*entry {
	for i, e := range list {
		if e == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
