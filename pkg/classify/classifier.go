package classify

import (
	"errors"
	"strings"
)

// StatusNetworkError is the status value used for transport failures.
const StatusNetworkError = -1

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Hints is the caller supplied context.
type Hints struct {
	// Category, when valid, wins over every other rule.
	Category Category
	// Status is an HTTP status, or StatusNetworkError.
	Status int
	// Page is the current page path, used to recognise auth pages.
	Page string
	// FormFocused reports that a form field currently has focus.
	FormFocused bool
}

// Rule maps error text to a category when any of its keywords occur.
type Rule struct {
	Category Category
	Keywords []string
}

// DefaultRules is the ordered text rule list. Order is part of the contract:
// the first matching rule wins.
var DefaultRules = []Rule{
	{Network, []string{"network", "timeout", "timed out", "connection", "fetch", "offline", "unreachable"}},
	{Authentication, []string{"unauthorized", "unauthenticated", "session", "login", "log in", "token", "authentication"}},
	{Validation, []string{"validation", "required", "format", "invalid"}},
	{Permission, []string{"permission", "forbidden", "access denied", "not allowed"}},
	{NotFound, []string{"not found", "missing", "does not exist"}},
	{ServerError, []string{"server", "internal", "500", "502", "503", "504", "unavailable", "bad gateway"}},
}

// DefaultAuthPages are page path fragments treated as authentication pages.
var DefaultAuthPages = []string{"/login", "/register", "/logout", "/reset-password"}

// Classifier is an ordered rule engine.
type Classifier struct {
	Rules     []Rule
	AuthPages []string
}

// New returns a classifier with the default rules.
func New() *Classifier {
	return &Classifier{Rules: DefaultRules, AuthPages: DefaultAuthPages}
}

var defaultClassifier = New()

// Classify uses the default classifier.
func Classify(err error, hints Hints) Category {
	return defaultClassifier.Classify(err, hints)
}

// Classify resolves err to a category. Rules, first match wins:
//  1. an explicit, valid hints.Category
//  2. the HTTP status from hints.Status or from err (StatusCoder)
//  3. the text rules, in order, against the error text
//  4. an auth page in hints.Page → Authentication
//  5. hints.FormFocused → Validation
//  6. ClientError
func (c *Classifier) Classify(err error, hints Hints) Category {
	if hints.Category.Valid() {
		return hints.Category
	}

	status := hints.Status
	var coder StatusCoder
	if status == 0 && errors.As(err, &coder) {
		status = coder.StatusCode()
	}
	if cat, ok := fromStatus(status); ok {
		return cat
	}

	if err != nil {
		if cat, ok := c.fromText(err.Error()); ok {
			return cat
		}
	}

	if c.isAuthPage(hints.Page) {
		return Authentication
	}
	if hints.FormFocused {
		return Validation
	}
	return ClientError
}

// ClassifyText classifies a bare message.
func (c *Classifier) ClassifyText(text string, hints Hints) Category {
	if text == "" {
		return c.Classify(nil, hints)
	}
	return c.Classify(errors.New(text), hints)
}

func fromStatus(status int) (Category, bool) {
	switch {
	case status == StatusNetworkError:
		return Network, true
	case status == 401:
		return Authentication, true
	case status == 403:
		return Permission, true
	case status == 404:
		return NotFound, true
	case status == 400 || status == 422:
		return Validation, true
	case status >= 500 && status < 600:
		return ServerError, true
	}
	return "", false
}

func (c *Classifier) fromText(text string) (Category, bool) {
	text = strings.ToLower(text)
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

func (c *Classifier) isAuthPage(page string) bool {
	page = strings.ToLower(strings.TrimSpace(page))
	if page == "" {
		return false
	}
	for _, p := range c.AuthPages {
		if strings.Contains(page, p) {
			return true
		}
	}
	return false
}
