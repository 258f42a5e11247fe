package notify

import (
	"fmt"
	"math"
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/clock"
	"github.com/diviatrix/ts-cms-sub000/pkg/metrics"
	"go.uber.org/zap"
)

const retryIDPrefix = "retry:"

// RetryOptions tune HandleNetworkError.
type RetryOptions struct {
	// MaxRetries defaults to DefaultMaxRetries.
	MaxRetries int
	Hints      classify.Hints
}

type pendingRetry struct {
	timer clock.Timer
	tick  clock.Timer
}

// RetryMessageID is the ID of the countdown and terminal messages of key.
func RetryMessageID(key string) string { return retryIDPrefix + key }

// HandleNetworkError retries operationKey with backoff. While the per-key
// count is below MaxRetries, retry is scheduled after the backoff delay and
// a warning counts down to it. Once the cap is reached a terminal error
// without a retry action is shown and the counter is dropped.
func (c *Center) HandleNetworkError(operationKey string, err error, retry func(), opts RetryOptions) string {
	limit := opts.MaxRetries
	if limit <= 0 {
		limit = DefaultMaxRetries
	}
	cat := c.classifier.Classify(err, opts.Hints)
	def := classify.Describe(cat)
	text := errorText(err, def)
	id := RetryMessageID(operationKey)

	c.mu.Lock()
	attempt := c.retries[operationKey]
	c.stopRetryLocked(operationKey)
	if attempt >= limit {
		delete(c.retries, operationKey)
		c.mu.Unlock()

		metrics.RetriesTotal.WithLabelValues("exhausted").Inc()
		c.logger.Warn("retries exhausted", zap.String("operation", operationKey), zap.Int("attempts", limit), zap.Error(err))
		return c.Show(KindError, fmt.Sprintf("%s Gave up after %d attempts.", text, limit), Options{
			ID:          id,
			Title:       def.Title,
			Category:    cat,
			Suggestions: def.Suggestions,
		})
	}
	c.retries[operationKey] = attempt + 1
	r := &pendingRetry{}
	c.pending[operationKey] = r
	c.mu.Unlock()

	delay := c.backoff.Next(attempt)
	countdown := func(remaining time.Duration) string {
		secs := int(math.Ceil(remaining.Seconds()))
		return fmt.Sprintf("%s Retrying in %ds (attempt %d of %d).", text, secs, attempt+1, limit)
	}

	metrics.RetriesTotal.WithLabelValues("scheduled").Inc()
	c.logger.Info("retry scheduled",
		zap.String("operation", operationKey),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	c.Show(KindWarning, countdown(delay), Options{
		ID:          id,
		Title:       def.Title,
		Category:    cat,
		Suggestions: def.Suggestions,
		TTL:         Never,
	})

	deadline := c.clock.Now().Add(delay)
	var tick func()
	tick = func() {
		c.mu.Lock()
		if c.pending[operationKey] != r {
			c.mu.Unlock()
			return
		}
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			c.mu.Unlock()
			return
		}
		r.tick = c.clock.AfterFunc(time.Second, tick)
		c.mu.Unlock()
		c.Update(id, countdown(remaining))
	}

	c.mu.Lock()
	if c.pending[operationKey] == r {
		r.timer = c.clock.AfterFunc(delay, func() { c.fireRetry(operationKey, id, r, retry) })
		r.tick = c.clock.AfterFunc(time.Second, tick)
	}
	c.mu.Unlock()
	return id
}

// ResetRetries drops the retry counter of operationKey, typically after the
// operation succeeded. A retry still waiting for its delay is cancelled and
// its countdown removed.
func (c *Center) ResetRetries(operationKey string) {
	c.mu.Lock()
	delete(c.retries, operationKey)
	var events []event
	if _, ok := c.pending[operationKey]; ok {
		c.stopRetryLocked(operationKey)
		events = c.removeLocked(RetryMessageID(operationKey), ReasonDismissed)
	}
	c.mu.Unlock()

	c.publish(events)
}

// RetryCount returns the retries already scheduled for operationKey.
func (c *Center) RetryCount(operationKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[operationKey]
}

func (c *Center) fireRetry(key, id string, r *pendingRetry, retry func()) {
	c.mu.Lock()
	if c.pending[key] != r {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	if r.tick != nil {
		r.tick.Stop()
	}
	events := c.removeLocked(id, ReasonExpired)
	c.mu.Unlock()

	c.publish(events)
	if retry != nil {
		defer c.Recover()
		retry()
	}
}

func (c *Center) stopRetryLocked(key string) {
	r, ok := c.pending[key]
	if !ok {
		return
	}
	delete(c.pending, key)
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.tick != nil {
		r.tick.Stop()
	}
}
