package notify

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []signal.Event
}

func (r *recorder) count(name signal.Name, id string) int {
	n := 0
	for _, e := range r.events {
		if e.Name == name && e.Data["id"] == id {
			n++
		}
	}
	return n
}

func (r *recorder) last(name signal.Name) signal.Event {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i]
		}
	}
	return signal.Event{}
}

func newTestCenter(t *testing.T, opts ...Option) (*Center, *clock.Fake, *recorder) {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := signal.NewBus()
	rec := &recorder{}
	bus.Subscribe(signal.All, func(e signal.Event) { rec.events = append(rec.events, e) })
	c := NewCenter(append([]Option{WithClock(fake), WithBus(bus)}, opts...)...)
	return c, fake, rec
}

func TestCenter_AutoDismissPerKind(t *testing.T) {
	tests := []struct {
		kind Kind
		ttl  time.Duration
	}{
		{KindSuccess, 4 * time.Second},
		{KindInfo, 5 * time.Second},
		{KindWarning, 7 * time.Second},
		{KindError, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c, fake, rec := newTestCenter(t)
			id := c.Show(tt.kind, "hello", Options{})

			fake.Advance(tt.ttl - time.Millisecond)
			_, ok := c.Get(id)
			require.True(t, ok)

			fake.Advance(time.Millisecond)
			_, ok = c.Get(id)
			assert.False(t, ok)
			assert.Equal(t, 1, rec.count(signal.NotificationRemoved, id))
			assert.Equal(t, string(ReasonExpired), rec.last(signal.NotificationRemoved).Data["reason"])
		})
	}
}

func TestCenter_CriticalNeverExpires(t *testing.T) {
	c, fake, _ := newTestCenter(t)
	id := c.Critical("disk on fire")

	fake.Advance(24 * time.Hour)
	msg, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, PlacementPersistent, msg.Placement)
	assert.Equal(t, time.Duration(0), msg.TTL)
	assert.Len(t, c.Persistent(), 1)
	assert.Empty(t, c.Toasts())
}

func TestCenter_TTLOverride(t *testing.T) {
	c, fake, _ := newTestCenter(t)
	short := c.Show(KindInfo, "short", Options{TTL: time.Second})
	never := c.Show(KindInfo, "never", Options{TTL: Never})

	fake.Advance(time.Minute)
	_, ok := c.Get(short)
	assert.False(t, ok)
	_, ok = c.Get(never)
	assert.True(t, ok)
}

func TestCenter_DismissIsIdempotent(t *testing.T) {
	c, fake, rec := newTestCenter(t)
	id := c.Info("saved")

	c.Dismiss(id)
	c.Dismiss(id)
	fake.Advance(time.Minute)

	assert.Equal(t, 1, rec.count(signal.NotificationRemoved, id))
	assert.Equal(t, string(ReasonDismissed), rec.last(signal.NotificationRemoved).Data["reason"])
	assert.Equal(t, 0, c.Len())

	assert.NotPanics(t, func() { c.Dismiss("never-existed") })
}

func TestCenter_ToastQueue(t *testing.T) {
	c, fake, rec := newTestCenter(t, WithMaxVisibleToasts(2))

	a := c.Show(KindInfo, "a", Options{TTL: Never})
	b := c.Show(KindInfo, "b", Options{TTL: Never})
	q := c.Show(KindSuccess, "q", Options{})

	assert.Len(t, c.Toasts(), 2)
	queued := c.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, q, queued[0].ID)

	// The TTL of a queued toast starts when it becomes visible.
	fake.Advance(time.Minute)
	_, ok := c.Get(q)
	require.True(t, ok)

	c.Dismiss(a)
	msg, ok := c.Get(q)
	require.True(t, ok)
	assert.Equal(t, StateVisible, msg.State)
	assert.Equal(t, 1, rec.count(signal.NotificationUpdated, q))

	fake.Advance(4 * time.Second)
	_, ok = c.Get(q)
	assert.False(t, ok)

	toasts := c.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, b, toasts[0].ID)
}

func TestCenter_ReplaceByID(t *testing.T) {
	c, _, rec := newTestCenter(t)
	c.Show(KindInfo, "first", Options{ID: "sync"})
	c.Show(KindWarning, "second", Options{ID: "sync"})

	msg, ok := c.Get("sync")
	require.True(t, ok)
	assert.Equal(t, "second", msg.Text)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 1, rec.count(signal.NotificationRemoved, "sync"))
	assert.Equal(t, string(ReasonReplaced), rec.last(signal.NotificationRemoved).Data["reason"])
}

func TestCenter_ClearAll(t *testing.T) {
	c, fake, rec := newTestCenter(t, WithMaxVisibleToasts(1))
	ids := []string{
		c.Info("one"),
		c.Info("two"),
		c.Critical("three"),
	}

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
	for _, id := range ids {
		assert.Equal(t, 1, rec.count(signal.NotificationRemoved, id))
	}
	assert.Equal(t, 0, fake.Pending())
}

func TestCenter_ClearAllDoesNotPromoteQueued(t *testing.T) {
	c, fake, rec := newTestCenter(t, WithMaxVisibleToasts(1))
	c.Info("one")
	c.Info("two")
	c.Info("three")
	require.Len(t, c.Queued(), 2)

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
	for _, e := range rec.events {
		assert.NotEqual(t, signal.NotificationUpdated, e.Name, "queued toast was promoted during ClearAll")
	}
	assert.Equal(t, 0, fake.Pending())
}

func TestCenter_ErrorInjectsRetryForRetryableCategories(t *testing.T) {
	c, _, _ := newTestCenter(t)

	retried := 0
	id := c.Error(errors.New("connection refused"), ErrorOptions{OnRetry: func() { retried++ }})
	msg, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindError, msg.Kind)
	assert.Equal(t, classify.Network, msg.Category)
	assert.Equal(t, classify.Describe(classify.Network).Title, msg.Title)
	assert.NotEmpty(t, msg.Suggestions)
	assert.True(t, msg.HasAction(RetryLabel))

	require.NoError(t, c.Invoke(id, RetryLabel))
	assert.Equal(t, 1, retried)
	_, ok = c.Get(id)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Invoke(id, RetryLabel), ErrUnknownMessage)

	denied := c.Error(errors.New("forbidden"), ErrorOptions{OnRetry: func() { retried++ }})
	msg, _ = c.Get(denied)
	assert.Equal(t, classify.Permission, msg.Category)
	assert.False(t, msg.HasAction(RetryLabel))
	assert.ErrorIs(t, c.Invoke(denied, RetryLabel), ErrUnknownAction)
}

func TestCenter_ErrorFromEnvelope(t *testing.T) {
	c, _, _ := newTestCenter(t)

	assert.Equal(t, "", c.ErrorFromEnvelope(&client.Envelope{Success: true}, ErrorOptions{}))

	env := client.Normalize(500, []byte(`{"message":"oops"}`))
	id := c.ErrorFromEnvelope(env, ErrorOptions{OnRetry: func() {}})
	msg, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, classify.ServerError, msg.Category)
	assert.Equal(t, "An internal server error occurred. Please try again later.", msg.Text)
	assert.True(t, msg.HasAction(RetryLabel))

	env = client.Normalize(404, nil)
	msg, _ = c.Get(c.ErrorFromEnvelope(env, ErrorOptions{}))
	assert.Equal(t, classify.NotFound, msg.Category)
}

func TestCenter_RetryCapShowsOneTerminalError(t *testing.T) {
	c, _, rec := newTestCenter(t)
	err := errors.New("network request failed")

	for i := 0; i < 4; i++ {
		c.HandleNetworkError("save-user", err, func() {}, RetryOptions{MaxRetries: 3})
	}

	errorsShown := 0
	for _, e := range rec.events {
		if e.Name == signal.NotificationShown && e.Data["kind"] == string(KindError) {
			errorsShown++
		}
	}
	assert.Equal(t, 1, errorsShown)

	msg, ok := c.Get(RetryMessageID("save-user"))
	require.True(t, ok)
	assert.Equal(t, KindError, msg.Kind)
	assert.Contains(t, msg.Text, "Gave up after 3 attempts")
	assert.Empty(t, msg.Actions)
	assert.Equal(t, 0, c.RetryCount("save-user"))
}

func TestCenter_RetryBackoffAndCountdown(t *testing.T) {
	c, fake, _ := newTestCenter(t)
	err := errors.New("timeout")
	id := RetryMessageID("load")

	var fired []time.Time
	retry := func() { fired = append(fired, fake.Now()) }
	start := fake.Now()

	// First attempt waits 1s.
	c.HandleNetworkError("load", err, retry, RetryOptions{})
	msg, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindWarning, msg.Kind)
	assert.Contains(t, msg.Text, "Retrying in 1s (attempt 1 of 3)")
	fake.Advance(time.Second)
	require.Len(t, fired, 1)
	_, ok = c.Get(id)
	assert.False(t, ok, "countdown is removed when the retry fires")

	// Third attempt waits 4s and counts down each second.
	c.HandleNetworkError("load", err, retry, RetryOptions{})
	fake.Advance(2 * time.Second)
	require.Len(t, fired, 2)

	c.HandleNetworkError("load", err, retry, RetryOptions{})
	msg, _ = c.Get(id)
	assert.Contains(t, msg.Text, "Retrying in 4s (attempt 3 of 3)")
	fake.Advance(time.Second)
	msg, _ = c.Get(id)
	assert.Contains(t, msg.Text, "Retrying in 3s")
	fake.Advance(2 * time.Second)
	msg, _ = c.Get(id)
	assert.Contains(t, msg.Text, "Retrying in 1s")
	fake.Advance(time.Second)
	require.Len(t, fired, 3)

	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}, []time.Duration{
		fired[0].Sub(start), fired[1].Sub(start), fired[2].Sub(start),
	})
	assert.Equal(t, 3, c.RetryCount("load"))

	c.ResetRetries("load")
	assert.Equal(t, 0, c.RetryCount("load"))
}

func TestCenter_RetryCapWithBackoffPolicy(t *testing.T) {
	c, fake, _ := newTestCenter(t, WithBackoff(&client.ExponentialBackoff{Base: time.Second, Max: 5 * time.Second, Factor: 2}))
	calls := 0
	var retry func()
	retry = func() {
		calls++
		c.HandleNetworkError("sync", errors.New("offline"), retry, RetryOptions{MaxRetries: 2})
	}

	c.HandleNetworkError("sync", errors.New("offline"), retry, RetryOptions{MaxRetries: 2})
	// Retries fire at 1s and 3s; the second one hits the cap.
	fake.Advance(3 * time.Second)

	assert.Equal(t, 2, calls)
	msg, ok := c.Get(RetryMessageID("sync"))
	require.True(t, ok)
	assert.Equal(t, KindError, msg.Kind)
	assert.Equal(t, 0, c.RetryCount("sync"))
}

func TestCenter_RecoverReportsCritical(t *testing.T) {
	c, _, _ := newTestCenter(t)

	func() {
		defer c.Recover()
		panic(fmt.Errorf("nil map write"))
	}()

	crit := c.Persistent()
	require.Len(t, crit, 1)
	assert.Equal(t, KindCritical, crit[0].Kind)
	assert.Equal(t, classify.ClientError, crit[0].Category)
	assert.Equal(t, "nil map write", crit[0].Text)

	id := c.ReportUnhandled(errors.New("promise rejected"))
	msg, _ := c.Get(id)
	assert.Equal(t, KindCritical, msg.Kind)
	assert.Equal(t, "", c.ReportUnhandled(nil))
}

func TestCenter_ShownEventCarriesMessage(t *testing.T) {
	c, _, rec := newTestCenter(t)
	id := c.Show(KindWarning, "careful", Options{Actions: []Action{{Label: "Undo"}}})

	ev := rec.last(signal.NotificationShown)
	assert.Equal(t, id, ev.Data["id"])
	assert.Equal(t, "careful", ev.Data["text"])
	assert.Equal(t, []string{"Undo"}, ev.Data["actions"])
	assert.True(t, strings.HasPrefix(string(ev.Name), "notification."))
}

func TestCenter_ResetRetriesCancelsPendingRetry(t *testing.T) {
	c, fake, _ := newTestCenter(t)
	calls := 0
	id := c.HandleNetworkError("save", errors.New("network unreachable"), func() { calls++ }, RetryOptions{})
	_, ok := c.Get(id)
	require.True(t, ok)

	c.ResetRetries("save")
	_, ok = c.Get(id)
	assert.False(t, ok, "countdown should be removed")

	fake.Advance(10 * time.Second)
	assert.Zero(t, calls)
	assert.Zero(t, c.RetryCount("save"))
}

func TestCenter_PanickingRetryIsReported(t *testing.T) {
	c, fake, _ := newTestCenter(t)
	c.HandleNetworkError("save", errors.New("network unreachable"), func() { panic("retry blew up") }, RetryOptions{})

	require.NotPanics(t, func() { fake.Advance(time.Second) })

	crit := c.Persistent()
	require.Len(t, crit, 1)
	assert.Equal(t, KindCritical, crit[0].Kind)
	assert.Equal(t, classify.ClientError, crit[0].Category)
	assert.Equal(t, "retry blew up", crit[0].Text)
	_, ok := c.Get(RetryMessageID("save"))
	assert.False(t, ok)
}
