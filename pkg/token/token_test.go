package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/diviatrix/ts-cms-sub000/pkg/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func mint(t *testing.T, exp time.Time, roles ...string) string {
	t.Helper()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newTestStore(t *testing.T) (*Store, store.KV, *[]signal.Event) {
	t.Helper()
	kv := store.NewMemoryStore()
	bus := signal.NewBus()
	var events []signal.Event
	bus.Subscribe(signal.AuthChanged, func(e signal.Event) { events = append(events, e) })
	return NewStore(kv, bus, WithClock(clock.NewFake(testNow))), kv, &events
}

func TestStore_ValidToken(t *testing.T) {
	s, _, _ := newTestStore(t)
	tok := mint(t, testNow.Add(time.Hour), "admin")

	s.Set(tok)

	assert.Equal(t, tok, s.Get())
	assert.True(t, s.IsValid())
	assert.Equal(t, tok, s.Get(), "valid token must not be cleared")
	assert.True(t, s.HasRole("ADMIN"))
	assert.False(t, s.HasRole("editor"))
}

func TestStore_ExpiredTokenIsCleared(t *testing.T) {
	kv := store.NewMemoryStore()
	bus := signal.NewBus()
	var events []signal.Event
	bus.Subscribe(signal.AuthChanged, func(e signal.Event) { events = append(events, e) })
	fake := clock.NewFake(testNow)
	s := NewStore(kv, bus, WithClock(fake))

	s.Set(mint(t, testNow.Add(time.Hour)))
	fake.Advance(2 * time.Hour)

	assert.False(t, s.IsValid())
	assert.Equal(t, "", s.Get())
	require.Len(t, events, 2)
	assert.Equal(t, true, events[0].Data["authenticated"])
	assert.Equal(t, false, events[1].Data["authenticated"])
}

func TestStore_NaturalExpiryFiresAuthChanged(t *testing.T) {
	kv := store.NewMemoryStore()
	bus := signal.NewBus()
	var events []signal.Event
	bus.Subscribe(signal.AuthChanged, func(e signal.Event) { events = append(events, e) })
	s := NewStore(kv, bus)

	// exp has second precision; wait until it has certainly passed.
	exp := time.Now().Add(time.Second).Truncate(time.Second).Add(time.Second)
	s.Set(mint(t, exp))
	require.True(t, s.IsValid())

	time.Sleep(time.Until(exp) + 100*time.Millisecond)

	assert.NotEmpty(t, s.Get(), "the backend must keep the token until it is checked")
	assert.False(t, s.IsValid())
	assert.Equal(t, "", s.Get())
	require.Len(t, events, 2)
	assert.Equal(t, false, events[1].Data["authenticated"])
}

func TestStore_MalformedTokensFailClosed(t *testing.T) {
	cases := map[string]string{
		"garbage":         "not-a-jwt",
		"bad base64":      "aaa.!!!.bbb",
		"non json claims": "eyJhbGciOiJIUzI1NiJ9.bm90IGpzb24.sig",
		"missing exp":     "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1c2VyLTEifQ.sig",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s, kv, events := newTestStore(t)
			require.NoError(t, kv.Set(context.Background(), StorageKey, raw, 0))

			assert.False(t, s.IsValid())
			assert.Equal(t, "", s.Get())
			require.Len(t, *events, 1)
			assert.Equal(t, false, (*events)[0].Data["authenticated"])
		})
	}
}

func TestStore_SetUnusableTokenReportsUnauthenticated(t *testing.T) {
	s, _, events := newTestStore(t)

	s.Set(mint(t, testNow.Add(-time.Minute)))
	s.Set("not-a-jwt")

	require.Len(t, *events, 2)
	assert.Equal(t, false, (*events)[0].Data["authenticated"])
	assert.Equal(t, false, (*events)[1].Data["authenticated"])
}

func TestStore_AbsentTokenIsInvalid(t *testing.T) {
	s, _, events := newTestStore(t)
	assert.False(t, s.IsValid())
	assert.Empty(t, *events, "no change, no signal")

	_, err := s.Claims()
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestStore_SignalFiresOnEverySetAndClear(t *testing.T) {
	s, _, events := newTestStore(t)

	var seenDuringSignal string
	s.bus.Subscribe(signal.AuthChanged, func(signal.Event) { seenDuringSignal = s.Get() })

	tok := mint(t, testNow.Add(time.Hour))
	s.Set(tok)
	assert.Equal(t, tok, seenDuringSignal, "signal must fire after the write")

	s.Clear()
	s.Clear()

	require.Len(t, *events, 3)
	assert.Equal(t, true, (*events)[0].Data["authenticated"])
	assert.Equal(t, false, (*events)[1].Data["authenticated"])
	assert.Equal(t, "", seenDuringSignal)
}

func TestStore_ClaimsExposeGroups(t *testing.T) {
	s, _, _ := newTestStore(t)
	claims := Claims{
		Groups: []string{"Editors"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	s.Set(tok)

	got, err := s.Claims()
	require.NoError(t, err)
	assert.Equal(t, []string{"Editors"}, got.Groups)
	assert.True(t, s.HasRole("editors"))
}
