// Package app assembles the client runtime from a Config.
package app

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/coalesce"
	"github.com/diviatrix/ts-cms-sub000/pkg/config"
	"github.com/diviatrix/ts-cms-sub000/pkg/idle"
	"github.com/diviatrix/ts-cms-sub000/pkg/notify"
	"github.com/diviatrix/ts-cms-sub000/pkg/signal"
	"github.com/diviatrix/ts-cms-sub000/pkg/store"
	"github.com/diviatrix/ts-cms-sub000/pkg/store/redis"
	"github.com/diviatrix/ts-cms-sub000/pkg/token"
	"go.uber.org/zap"
)

// LoginRoute is where the default navigator sends the user.
const LoginRoute = "/login"

// Runtime holds every component of the client.
type Runtime struct {
	Config        config.Config
	Logger        *zap.Logger
	Clock         clock.Clock
	Bus           *signal.Bus
	PubSub        *gochannel.GoChannel
	KV            store.KV
	Tokens        *token.Store
	Classifier    *classify.Classifier
	Coalescer     *coalesce.Coalescer[*client.Envelope]
	Gateway       *client.Gateway
	Notifications *notify.Center
	Idle          *idle.Guard

	unsubscribe []func()
}

type options struct {
	logger *zap.Logger
	clock  clock.Clock
	kv     store.KV
	nav    idle.Navigator
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithKV bypasses the configured token backend.
func WithKV(kv store.KV) Option {
	return func(o *options) { o.kv = kv }
}

// WithNavigator replaces the default navigator, which publishes a
// NavRefresh signal pointing at LoginRoute.
func WithNavigator(n idle.Navigator) Option {
	return func(o *options) { o.nav = n }
}

// OpenKV opens the token backend selected by cfg.
func OpenKV(cfg config.Config) (store.KV, error) {
	switch cfg.TokenBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendSQLite:
		kv, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite token store: %w", err)
		}
		return kv, nil
	case config.BackendRedis:
		return redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
	default:
		return nil, fmt.Errorf("unsupported token backend: %s", cfg.TokenBackend)
	}
}

// New builds a runtime. The idle guard is bound to auth changes and starts
// immediately when a token is already stored.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	o := options{logger: zap.NewNop(), clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	kv := o.kv
	if kv == nil {
		var err error
		if kv, err = OpenKV(cfg); err != nil {
			return nil, err
		}
	}

	r := &Runtime{
		Config:     cfg,
		Logger:     o.logger,
		Clock:      o.clock,
		Bus:        signal.NewBus(),
		KV:         kv,
		Classifier: classify.New(),
	}

	r.PubSub = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	forwarder := signal.NewForwarder(r.PubSub, o.logger.Named("signal"))
	r.unsubscribe = append(r.unsubscribe, r.Bus.Subscribe(signal.All, forwarder.Handle))

	r.Tokens = token.NewStore(kv, r.Bus, token.WithClock(o.clock), token.WithLogger(o.logger.Named("token")))
	r.Coalescer = coalesce.New[*client.Envelope](
		coalesce.WithClock(o.clock),
		coalesce.WithDelay(cfg.CoalesceWindow),
		coalesce.WithPanicHandler(func(v any) { r.Notifications.ReportPanic(v) }),
	)
	r.Gateway = client.NewGateway(cfg.APIURL, r.Tokens,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithCoalescer(r.Coalescer),
		client.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		client.WithLogger(o.logger.Named("gateway")),
	)
	r.Notifications = notify.NewCenter(
		notify.WithClock(o.clock),
		notify.WithBus(r.Bus),
		notify.WithClassifier(r.Classifier),
		notify.WithMaxVisibleToasts(cfg.MaxToasts),
		notify.WithLogger(o.logger.Named("notify")),
	)

	nav := o.nav
	if nav == nil {
		nav = idle.NavigatorFunc(func() {
			r.Bus.Publish(signal.NavRefresh, map[string]any{"route": LoginRoute})
		})
	}
	r.Idle = idle.New(r.Tokens, r.Notifications, nav,
		idle.WithClock(o.clock),
		idle.WithTimeout(cfg.IdleTimeout),
		idle.WithLogger(o.logger.Named("idle")),
	)
	r.unsubscribe = append(r.unsubscribe, r.Idle.Bind(r.Bus))

	// Menus and route guards refresh whenever the session changes.
	r.unsubscribe = append(r.unsubscribe, r.Bus.Subscribe(signal.AuthChanged, func(evt signal.Event) {
		r.Bus.Publish(signal.NavRefresh, map[string]any{"reason": "auth", "authenticated": evt.Data["authenticated"]})
	}))

	if r.Tokens.IsValid() {
		r.Idle.Start()
	}
	return r, nil
}

// RetryOptions returns the configured retry policy.
func (r *Runtime) RetryOptions() notify.RetryOptions {
	return notify.RetryOptions{MaxRetries: r.Config.MaxRetries}
}

// Close stops timers, cancels pending coalesced calls and releases the
// token backend.
func (r *Runtime) Close() error {
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	r.unsubscribe = nil

	r.Idle.Stop()
	r.Coalescer.CancelAll()
	r.Notifications.Close()

	return errors.Join(r.PubSub.Close(), r.KV.Close())
}
