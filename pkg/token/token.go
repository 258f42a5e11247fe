// Package token owns the bearer token: it is the only code that reads or
// writes the persisted credential.
//
// There is no refresh path. An expired, malformed or rejected token is
// cleared and the user has to authenticate again.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/diviatrix/ts-cms-sub000/pkg/store"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// StorageKey is the fixed key the token is persisted under.
const StorageKey = "auth_token"

var (
	// ErrNoToken is returned by Claims when no token is stored.
	ErrNoToken = errors.New("token: no token stored")
	// ErrMalformedToken indicates the payload could not be decoded.
	ErrMalformedToken = errors.New("token: malformed token")
)

// Claims is the subset of the payload the client cares about. The signature
// is never verified client-side; the server remains the authority.
type Claims struct {
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// Store is the single owner of the bearer token.
type Store struct {
	kv     store.KV
	bus    *signal.Bus
	clock  clock.Clock
	logger *zap.Logger
	parser *jwt.Parser

	// mu serialises writes so the auth-changed signal order matches the
	// order of state changes.
	mu sync.Mutex
}

type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a token store persisting into kv and signalling on bus.
// bus may be nil.
func NewStore(kv store.KV, bus *signal.Bus, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		bus:    bus,
		clock:  clock.Real(),
		logger: zap.NewNop(),
		parser: jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored token, or "" when unauthenticated. Backend failures
// are logged and reported as absent.
func (s *Store) Get() string {
	val, ok, err := s.kv.Get(context.Background(), StorageKey)
	if err != nil {
		s.logger.Warn("failed to read token", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return val
}

// Set replaces the stored token. An empty token removes it. The AuthChanged
// signal fires after the write, on every call, and reports whether the new
// token is usable.
//
// The backend copy never expires on its own: expiry is detected by IsValid,
// which clears through Set so that the signal fires.
func (s *Store) Set(tok string) {
	tok = strings.TrimSpace(tok)

	s.mu.Lock()
	ctx := context.Background()
	if tok == "" {
		if err := s.kv.Delete(ctx, StorageKey); err != nil {
			s.logger.Error("failed to clear token", zap.Error(err))
		}
	} else if err := s.kv.Set(ctx, StorageKey, tok, 0); err != nil {
		s.logger.Error("failed to persist token", zap.Error(err))
	}
	s.mu.Unlock()

	s.bus.Publish(signal.AuthChanged, map[string]any{"authenticated": tok != "" && s.usable(tok)})
}

// Clear removes the token.
func (s *Store) Clear() {
	s.Set("")
}

// IsValid reports whether a token is stored and its exp claim lies in the
// future. A token that cannot be decoded, has no exp, or has expired is
// cleared as a side effect.
func (s *Store) IsValid() bool {
	tok := s.Get()
	if tok == "" {
		return false
	}
	if !s.usable(tok) {
		s.Clear()
		return false
	}
	return true
}

func (s *Store) usable(tok string) bool {
	claims, err := s.decode(tok)
	switch {
	case err != nil:
		s.logger.Info("malformed token", zap.Error(err))
		return false
	case claims.ExpiresAt == nil:
		s.logger.Info("token without expiry claim")
		return false
	case !claims.ExpiresAt.Time.After(s.clock.Now()):
		s.logger.Info("expired token", zap.Time("expired_at", claims.ExpiresAt.Time))
		return false
	}
	return true
}

// Claims decodes the stored token.
func (s *Store) Claims() (*Claims, error) {
	tok := s.Get()
	if tok == "" {
		return nil, ErrNoToken
	}
	return s.decode(tok)
}

// HasRole reports whether the stored token carries role in its roles or
// groups claim. Comparison is case-insensitive.
func (s *Store) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	claims, err := s.Claims()
	if err != nil {
		return false
	}
	for _, list := range [][]string{claims.Roles, claims.Groups} {
		for _, r := range list {
			if strings.ToLower(strings.TrimSpace(r)) == role {
				return true
			}
		}
	}
	return false
}

func (s *Store) decode(tok string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := s.parser.ParseUnverified(tok, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims, nil
}
