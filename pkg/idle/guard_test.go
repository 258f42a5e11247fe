package idle

import (
	"testing"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/diviatrix/ts-cms-sub000/pkg/store"
	"github.com/diviatrix/ts-cms-sub000/pkg/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	guard     *Guard
	clock     *clock.Fake
	center    *notify.Center
	tokens    *token.Store
	bus       *signal.Bus
	redirects int
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{clock: clock.NewFake(now), bus: signal.NewBus()}
	f.tokens = token.NewStore(store.NewMemoryStore(), f.bus, token.WithClock(f.clock))
	f.center = notify.NewCenter(notify.WithClock(f.clock), notify.WithBus(f.bus))
	f.guard = New(f.tokens, f.center, NavigatorFunc(func() { f.redirects++ }),
		WithClock(f.clock), WithTimeout(timeout))

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	f.tokens.Set(tok)
	return f
}

func (f *fixture) warning() (notify.Message, bool) {
	for _, m := range f.center.Persistent() {
		if m.HasAction(StayLabel) {
			return m, true
		}
	}
	return notify.Message{}, false
}

func TestGuard_WarnsThenExpires(t *testing.T) {
	f := newFixture(t, 30*time.Minute)
	f.guard.Start()

	f.clock.Advance(25*time.Minute - time.Second)
	assert.Equal(t, StateActive, f.guard.State())

	f.clock.Advance(time.Second)
	assert.Equal(t, StateWarned, f.guard.State())
	msg, ok := f.warning()
	require.True(t, ok)
	assert.Equal(t, notify.KindWarning, msg.Kind)
	assert.True(t, msg.Dismissible)

	// The warning removes itself after 30s; the guard stays warned.
	f.clock.Advance(WarningTTL)
	_, ok = f.warning()
	assert.False(t, ok)
	assert.Equal(t, StateWarned, f.guard.State())

	f.clock.Advance(5*time.Minute - WarningTTL)
	assert.Equal(t, StateExpired, f.guard.State())
	assert.Equal(t, "", f.tokens.Get())
	assert.Equal(t, 1, f.redirects)
}

func TestGuard_ActivityResetsTimers(t *testing.T) {
	f := newFixture(t, 30*time.Minute)
	f.guard.Start()

	f.clock.Advance(20 * time.Minute)
	f.guard.Activity()
	f.clock.Advance(20 * time.Minute)
	assert.Equal(t, StateActive, f.guard.State())

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, StateWarned, f.guard.State())

	f.guard.Activity()
	assert.Equal(t, StateActive, f.guard.State())
	_, ok := f.warning()
	assert.False(t, ok, "activity dismisses the warning")
	assert.NotEmpty(t, f.tokens.Get())
}

func TestGuard_StaySignedInAction(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	f.guard.Start()

	f.clock.Advance(5 * time.Minute)
	msg, ok := f.warning()
	require.True(t, ok)

	require.NoError(t, f.center.Invoke(msg.ID, StayLabel))
	assert.Equal(t, StateActive, f.guard.State())

	f.clock.Advance(4 * time.Minute)
	assert.Equal(t, StateActive, f.guard.State())
	f.clock.Advance(6 * time.Minute)
	assert.Equal(t, StateExpired, f.guard.State())
	assert.Equal(t, 1, f.redirects)
}

func TestGuard_ActivityAfterExpiryIgnored(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	f.guard.Start()
	f.clock.Advance(10 * time.Minute)
	require.Equal(t, StateExpired, f.guard.State())

	f.guard.Activity()
	assert.Equal(t, StateExpired, f.guard.State())
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.redirects)

	f.guard.Start()
	assert.Equal(t, StateActive, f.guard.State())
}

func TestGuard_ShortTimeoutSkipsWarning(t *testing.T) {
	f := newFixture(t, 3*time.Minute)
	f.guard.Start()

	f.clock.Advance(3*time.Minute - time.Second)
	assert.Equal(t, StateActive, f.guard.State())
	_, ok := f.warning()
	assert.False(t, ok)

	f.clock.Advance(time.Second)
	assert.Equal(t, StateExpired, f.guard.State())
}

func TestGuard_StopDisarms(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	f.guard.Start()
	f.guard.Stop()

	f.clock.Advance(time.Hour)
	assert.Equal(t, StateActive, f.guard.State())
	assert.False(t, f.guard.Running())
	assert.Equal(t, 0, f.redirects)

	f.guard.Activity()
	assert.False(t, f.guard.Running())
}

func TestGuard_BindFollowsAuthChanges(t *testing.T) {
	f := newFixture(t, 10*time.Minute)
	unbind := f.guard.Bind(f.bus)
	defer unbind()

	f.tokens.Set(f.tokens.Get())
	assert.True(t, f.guard.Running())

	f.tokens.Clear()
	assert.False(t, f.guard.Running())
	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.redirects)
}
