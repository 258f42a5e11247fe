package notify

import (
	"fmt"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
	"github.com/diviatrix/ts-cms-sub000/pkg/client"
	"go.uber.org/zap"
)

// ErrorOptions tune Error and ErrorFromEnvelope.
type ErrorOptions struct {
	Hints classify.Hints
	// OnRetry is offered as a Retry action when the category is retryable.
	OnRetry   func()
	Placement Placement
	ID        string
}

// Error classifies err and shows it with the category's title and
// suggestions.
func (c *Center) Error(err error, opts ErrorOptions) string {
	cat := c.classifier.Classify(err, opts.Hints)
	def := classify.Describe(cat)

	var actions []Action
	if def.Retryable && opts.OnRetry != nil {
		actions = append(actions, Action{Label: RetryLabel, Handler: opts.OnRetry})
	}
	return c.Show(KindError, errorText(err, def), Options{
		ID:          opts.ID,
		Title:       def.Title,
		Category:    cat,
		Suggestions: def.Suggestions,
		Actions:     actions,
		Placement:   opts.Placement,
	})
}

// ErrorFromEnvelope shows a failed envelope, using its status as the
// classification hint. Successful envelopes show nothing and return "".
func (c *Center) ErrorFromEnvelope(env *client.Envelope, opts ErrorOptions) string {
	if env == nil || env.Success {
		return ""
	}
	if opts.Hints.Status == 0 {
		opts.Hints.Status = int(env.Status)
	}
	return c.Error(env.Err(), opts)
}

// ReportPanic surfaces a recovered panic as a critical client error.
func (c *Center) ReportPanic(recovered any) string {
	text := fmt.Sprint(recovered)
	if err, ok := recovered.(error); ok {
		text = err.Error()
	}
	c.logger.Error("recovered panic", zap.Any("panic", recovered), zap.Stack("stack"))
	return c.reportCritical(text)
}

// Recover is meant to be deferred at process boundaries:
//
//	defer center.Recover()
func (c *Center) Recover() {
	if r := recover(); r != nil {
		c.ReportPanic(r)
	}
}

// ReportUnhandled surfaces an error nobody handled as a critical client
// error.
func (c *Center) ReportUnhandled(err error) string {
	if err == nil {
		return ""
	}
	c.logger.Error("unhandled error", zap.Error(err))
	return c.reportCritical(err.Error())
}

func (c *Center) reportCritical(text string) string {
	def := classify.Describe(classify.ClientError)
	if text == "" {
		text = def.Message
	}
	return c.Show(KindCritical, text, Options{
		Title:       def.Title,
		Category:    classify.ClientError,
		Suggestions: def.Suggestions,
	})
}

func errorText(err error, def classify.Definition) string {
	if err == nil || err.Error() == "" {
		return def.Message
	}
	return err.Error()
}
