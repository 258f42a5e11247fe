// Package idle signs the user out after a period without activity.
//
// The guard moves active → warned → expired. A persistent warning with a
// "Stay signed in" action appears WarningLead before the timeout; expiry
// clears the token and sends the user to the login surface. Once expired,
// activity is ignored until Start is called again.
package idle

import (
	"sync"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/metrics"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Minute
	// WarningLead is how long before expiry the warning appears.
	WarningLead = 5 * time.Minute
	// WarningTTL is how long the warning stays up on its own.
	WarningTTL = 30 * time.Second
	// StayLabel is the label of the warning's keep-alive action.
	StayLabel = "Stay signed in"

	WarningText = "You will be signed out soon due to inactivity."
	ExpiredText = "You have been signed out due to inactivity."
)

// State of the guard.
type State string

const (
	StateActive  State = "active"
	StateWarned  State = "warned"
	StateExpired State = "expired"
)

// TokenClearer is the part of the token store the guard needs.
type TokenClearer interface {
	Clear()
}

// Notifier is the part of the notification center the guard needs.
type Notifier interface {
	Show(kind notify.Kind, text string, opts notify.Options) string
	Dismiss(id string)
}

// Navigator moves the user to the login surface.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// Guard is the idle logout state machine.
type Guard struct {
	clock    clock.Clock
	tokens   TokenClearer
	notifier Notifier
	nav      Navigator
	logger   *zap.Logger
	timeout  time.Duration

	mu           sync.Mutex
	running      bool
	state        State
	gen          uint64
	lastActivity time.Time
	warnTimer    clock.Timer
	expireTimer  clock.Timer
	warningID    string
}

type Option func(*Guard)

func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithTimeout sets the inactivity timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New creates a stopped guard. nav may be nil.
func New(tokens TokenClearer, notifier Notifier, nav Navigator, opts ...Option) *Guard {
	g := &Guard{
		clock:    clock.Real(),
		tokens:   tokens,
		notifier: notifier,
		nav:      nav,
		logger:   zap.NewNop(),
		timeout:  DefaultTimeout,
		state:    StateActive,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start (re)arms the guard in the active state.
func (g *Guard) Start() {
	g.mu.Lock()
	g.running = true
	warning := g.resetLocked()
	g.mu.Unlock()

	g.dismiss(warning)
	metrics.IdleTransitionsTotal.WithLabelValues(string(StateActive)).Inc()
}

// Activity records user activity. It is ignored while stopped or expired.
func (g *Guard) Activity() {
	g.mu.Lock()
	if !g.running || g.state == StateExpired {
		g.mu.Unlock()
		return
	}
	wasWarned := g.state == StateWarned
	warning := g.resetLocked()
	g.mu.Unlock()

	g.dismiss(warning)
	if wasWarned {
		metrics.IdleTransitionsTotal.WithLabelValues(string(StateActive)).Inc()
	}
}

// Stop disarms the guard and removes a pending warning. The state is kept.
func (g *Guard) Stop() {
	g.mu.Lock()
	g.running = false
	g.gen++
	g.stopTimersLocked()
	warning := g.warningID
	g.warningID = ""
	g.mu.Unlock()

	g.dismiss(warning)
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Running reports whether the guard is armed.
func (g *Guard) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// LastActivity returns the time of the last accepted activity.
func (g *Guard) LastActivity() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastActivity
}

// Bind starts the guard when a token is stored and stops it when the token
// is cleared. The returned function unsubscribes.
func (g *Guard) Bind(bus *signal.Bus) func() {
	return bus.Subscribe(signal.AuthChanged, func(evt signal.Event) {
		if authed, _ := evt.Data["authenticated"].(bool); authed {
			g.Start()
			return
		}
		g.Stop()
	})
}

// resetLocked returns to active and reschedules both timers. It returns the
// ID of a warning to dismiss.
func (g *Guard) resetLocked() string {
	g.gen++
	gen := g.gen
	g.stopTimersLocked()
	g.state = StateActive
	g.lastActivity = g.clock.Now()

	if lead := g.timeout - WarningLead; lead > 0 {
		g.warnTimer = g.clock.AfterFunc(lead, func() { g.warn(gen) })
	}
	g.expireTimer = g.clock.AfterFunc(g.timeout, func() { g.expire(gen) })

	warning := g.warningID
	g.warningID = ""
	return warning
}

func (g *Guard) stopTimersLocked() {
	if g.warnTimer != nil {
		g.warnTimer.Stop()
		g.warnTimer = nil
	}
	if g.expireTimer != nil {
		g.expireTimer.Stop()
		g.expireTimer = nil
	}
}

func (g *Guard) warn(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.state != StateActive {
		g.mu.Unlock()
		return
	}
	g.state = StateWarned
	g.mu.Unlock()

	metrics.IdleTransitionsTotal.WithLabelValues(string(StateWarned)).Inc()
	g.logger.Info("idle warning shown", zap.Duration("remaining", WarningLead))

	id := g.notifier.Show(notify.KindWarning, WarningText, notify.Options{
		Title:     "Session Timeout",
		Placement: notify.PlacementPersistent,
		TTL:       WarningTTL,
		Actions:   []notify.Action{{Label: StayLabel, Handler: g.Activity}},
	})

	g.mu.Lock()
	if gen == g.gen && g.state == StateWarned {
		g.warningID = id
		id = ""
	}
	g.mu.Unlock()
	// The state moved on while the warning was being shown.
	g.dismiss(id)
}

func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.state == StateExpired {
		g.mu.Unlock()
		return
	}
	g.state = StateExpired
	g.stopTimersLocked()
	warning := g.warningID
	g.warningID = ""
	g.mu.Unlock()

	metrics.IdleTransitionsTotal.WithLabelValues(string(StateExpired)).Inc()
	metrics.TokenClearsTotal.WithLabelValues("idle").Inc()
	g.logger.Info("idle timeout reached, signing out", zap.Duration("timeout", g.timeout))

	g.dismiss(warning)
	g.tokens.Clear()
	g.notifier.Show(notify.KindInfo, ExpiredText, notify.Options{Title: "Signed Out"})
	if g.nav != nil {
		g.nav.ToLogin()
	}
}

func (g *Guard) dismiss(id string) {
	if id != "" {
		g.notifier.Dismiss(id)
	}
}
