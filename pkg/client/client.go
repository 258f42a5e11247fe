// Package client is the request gateway: every call the admin panel makes
// to the backend goes through Gateway.Request and resolves to an Envelope.
//
// Network and HTTP failures never surface as Go errors. The only errors
// Request returns come from the coalescer (a call superseded by a newer one
// under the same key, or canceled).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/coalesce"
	"github.com/diviatrix/ts-cms-sub000/pkg/metrics"
	"github.com/diviatrix/ts-cms-sub000/pkg/token"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultEndpoint is used when NewGateway receives an empty base URL.
	DefaultEndpoint = "http://127.0.0.1:3000/api"
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 10 << 20
)

// User facing messages.
const (
	MsgSessionExpired   = "Session expired. Please log in again."
	MsgUnexpectedFormat = "Unexpected response format from server"
	MsgNetworkError     = "Unable to reach the server. Please check your connection."
)

// statusMessages win over whatever the server said for these codes.
var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request data. Please check your input and try again.",
	http.StatusForbidden:           "You do not have permission to perform this action.",
	http.StatusNotFound:            "The requested resource was not found.",
	http.StatusInternalServerError: "An internal server error occurred. Please try again later.",
	http.StatusBadGateway:          "Bad gateway. Please try again later.",
	http.StatusServiceUnavailable:  "Service unavailable. Please try again later.",
}

// StatusMessage returns the fixed message for code, if it has one.
func StatusMessage(code int) (string, bool) {
	msg, ok := statusMessages[code]
	return msg, ok
}

// ErrMissingToken is returned by Login when the server accepted the
// credentials but sent no token.
var ErrMissingToken = errors.New("client: login response carried no token")

// Gateway is the single choke point for backend calls.
type Gateway struct {
	endpoint  string
	http      *http.Client
	tokens    *token.Store
	coalescer *coalesce.Coalescer[*Envelope]
	limiter   *rate.Limiter
	logger    *zap.Logger
}

type Option func(*Gateway)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.http = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.http.Timeout = d
		}
	}
}

// WithCoalescer sets the coalescer used for calls with a CoalesceKey.
func WithCoalescer(c *coalesce.Coalescer[*Envelope]) Option {
	return func(g *Gateway) { g.coalescer = c }
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway for the API rooted at endpoint.
func NewGateway(endpoint string, tokens *token.Store, opts ...Option) *Gateway {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	g := &Gateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
		tokens:   tokens,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.coalescer == nil {
		g.coalescer = coalesce.New[*Envelope]()
	}
	return g
}

// Endpoint returns the API base URL.
func (g *Gateway) Endpoint() string { return g.endpoint }

// Tokens returns the token store the gateway authenticates with.
func (g *Gateway) Tokens() *token.Store { return g.tokens }

// Request performs a call and normalizes the outcome.
//
//  1. With UseAuth, the stored token is validated; an invalid one is cleared.
//  2. The bearer header is attached only for a valid token. The call goes out
//     either way.
//  3. With a CoalesceKey the call is routed through the coalescer.
//  4. The response is normalized into an Envelope.
func (g *Gateway) Request(ctx context.Context, path string, opts RequestOptions) (*Envelope, error) {
	if opts.CoalesceKey == "" {
		return g.perform(ctx, path, opts), nil
	}

	env, err := g.coalescer.Do(ctx, opts.CoalesceKey, func(ctx context.Context) (*Envelope, error) {
		return g.perform(ctx, path, opts), nil
	})
	if err != nil {
		if errors.Is(err, coalesce.ErrSuperseded) || errors.Is(err, coalesce.ErrCanceled) || errors.Is(err, coalesce.ErrPanicked) {
			return nil, err
		}
		// The caller stopped waiting; report it like any aborted call.
		return networkEnvelope(err), nil
	}
	return env, nil
}

// Get issues an authenticated GET.
func (g *Gateway) Get(ctx context.Context, path string) (*Envelope, error) {
	return g.Request(ctx, path, RequestOptions{Method: http.MethodGet, UseAuth: true})
}

// Post issues an authenticated POST with a JSON body.
func (g *Gateway) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return g.Request(ctx, path, RequestOptions{Method: http.MethodPost, Body: body, UseAuth: true})
}

// Put issues an authenticated PUT with a JSON body.
func (g *Gateway) Put(ctx context.Context, path string, body any) (*Envelope, error) {
	return g.Request(ctx, path, RequestOptions{Method: http.MethodPut, Body: body, UseAuth: true})
}

// Delete issues an authenticated DELETE.
func (g *Gateway) Delete(ctx context.Context, path string) (*Envelope, error) {
	return g.Request(ctx, path, RequestOptions{Method: http.MethodDelete, UseAuth: true})
}

// Login posts credentials to path and stores the returned token. The token
// is looked up in data.token, then in a top-level token field.
func (g *Gateway) Login(ctx context.Context, path string, credentials any) (*Envelope, error) {
	env, err := g.Request(ctx, path, RequestOptions{Method: http.MethodPost, Body: credentials})
	if err != nil || !env.Success {
		return env, err
	}

	tok := extractToken(env.Data)
	if tok == "" {
		tok = extractToken(env.body)
	}
	if tok == "" {
		return env, ErrMissingToken
	}
	g.tokens.Set(tok)
	return env, nil
}

// Logout drops the local session.
func (g *Gateway) Logout() {
	g.tokens.Clear()
}

// CancelPending rejects every coalesced call still waiting for its window.
func (g *Gateway) CancelPending() {
	g.coalescer.CancelAll()
}

func (g *Gateway) perform(ctx context.Context, path string, opts RequestOptions) *Envelope {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	start := time.Now()

	env := g.do(ctx, method, path, opts)

	metrics.RequestsTotal.WithLabelValues(method, env.Status.String()).Inc()
	metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	g.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Stringer("status", env.Status),
		zap.Bool("success", env.Success),
		zap.Duration("elapsed", time.Since(start)),
	)
	return env
}

func (g *Gateway) do(ctx context.Context, method, path string, opts RequestOptions) *Envelope {
	body, err := encodeBody(opts.Body)
	if err != nil {
		msg := fmt.Sprintf("failed to encode request body: %v", err)
		return &Envelope{Success: false, Message: msg, Errors: []string{msg}}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url(path), body)
	if err != nil {
		g.logger.Warn("failed to build request", zap.String("path", path), zap.Error(err))
		return networkEnvelope(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if opts.UseAuth && g.tokens != nil {
		// IsValid clears an expired or malformed token; the call still goes
		// out without a header.
		if g.tokens.IsValid() {
			if tok := g.tokens.Get(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
		} else {
			g.logger.Debug("sending without credentials", zap.String("path", path))
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return networkEnvelope(err)
		}
	}

	resp, err := g.http.Do(req)
	if err != nil {
		g.logger.Info("request failed", zap.String("path", path), zap.Error(err))
		return networkEnvelope(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		g.logger.Info("failed to read response body", zap.String("path", path), zap.Error(err))
		return networkEnvelope(err)
	}

	if resp.StatusCode == http.StatusUnauthorized && g.tokens != nil {
		g.tokens.Clear()
		metrics.TokenClearsTotal.WithLabelValues("unauthorized").Inc()
	}
	return Normalize(resp.StatusCode, raw)
}

func (g *Gateway) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return g.endpoint + "/" + strings.TrimLeft(path, "/")
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

func networkEnvelope(err error) *Envelope {
	msg := MsgNetworkError
	if errors.Is(err, context.Canceled) {
		msg = "Request was canceled."
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = "Request timed out. Please check your connection."
	}
	return &Envelope{
		Success: false,
		Status:  StatusNetworkError,
		Message: msg,
		Errors:  []string{msg},
	}
}

// Normalize turns an HTTP status and body into an Envelope. Status handling
// takes priority over body parsing for non-2xx responses.
func Normalize(code int, body []byte) *Envelope {
	ok := code >= 200 && code < 300
	trimmed := bytes.TrimSpace(body)

	var fields map[string]json.RawMessage
	isObject := len(trimmed) > 0 && json.Unmarshal(trimmed, &fields) == nil

	if code == http.StatusUnauthorized {
		return &Envelope{
			Success: false,
			Status:  Status(code),
			Message: MsgSessionExpired,
			Errors:  []string{"401"},
			body:    trimmed,
		}
	}

	if !ok {
		msg, fixed := statusMessages[code]
		if !fixed {
			if isObject {
				msg = decodeString(fields["message"])
			}
			if msg == "" {
				msg = fmt.Sprintf("Server returned status %d", code)
			}
		}
		env := &Envelope{Success: false, Status: Status(code), Message: msg, body: trimmed}
		if isObject {
			env.Errors = decodeErrors(fields["errors"])
			env.Data = fields["data"]
		}
		if len(env.Errors) == 0 {
			env.Errors = []string{msg}
		}
		return env
	}

	if code == http.StatusNoContent || len(trimmed) == 0 {
		return &Envelope{Success: true, Status: Status(code)}
	}
	if !json.Valid(trimmed) {
		return &Envelope{
			Success: false,
			Status:  Status(code),
			Message: MsgUnexpectedFormat,
			Errors:  []string{MsgUnexpectedFormat},
			body:    trimmed,
		}
	}

	if _, has := fields["success"]; !isObject || !has {
		return &Envelope{Success: true, Status: Status(code), Data: json.RawMessage(trimmed), body: trimmed}
	}

	return &Envelope{
		Success: true,
		Status:  Status(code),
		Data:    fields["data"],
		Message: decodeString(fields["message"]),
		Errors:  decodeErrors(fields["errors"]),
		body:    trimmed,
	}
}

func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// decodeErrors accepts a list of strings, a list of {message} objects, or a
// single string.
func decodeErrors(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		if s := decodeString(raw); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := decodeString(item); s != "" {
			out = append(out, s)
			continue
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(item, &obj) == nil && obj.Message != "" {
			out = append(out, obj.Message)
			continue
		}
		if t := strings.TrimSpace(string(item)); t != "" && t != "null" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func extractToken(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var holder struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(raw, &holder) != nil {
		return ""
	}
	return strings.TrimSpace(holder.Token)
}
