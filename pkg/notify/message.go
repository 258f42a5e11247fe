package notify

import (
	"time"

	"github.com/diviatrix/ts-cms-sub000/pkg/classify"
)

// Kind is the display severity of a message.
type Kind string

const (
	KindSuccess  Kind = "success"
	KindInfo     Kind = "info"
	KindWarning  Kind = "warning"
	KindError    Kind = "error"
	KindCritical Kind = "critical"
)

var defaultTTL = map[Kind]time.Duration{
	KindSuccess:  4 * time.Second,
	KindInfo:     5 * time.Second,
	KindWarning:  7 * time.Second,
	KindError:    10 * time.Second,
	KindCritical: 0,
}

// DefaultTTL returns the auto-dismiss delay of k. Zero means the message
// stays until dismissed.
func DefaultTTL(k Kind) time.Duration {
	return defaultTTL[k]
}

// Never disables auto-dismiss when passed as Options.TTL.
const Never time.Duration = -1

// Placement selects the display area.
type Placement string

const (
	PlacementToast      Placement = "toast"
	PlacementPersistent Placement = "persistent"
)

// State is the lifecycle state of a message.
type State string

const (
	StateQueued  State = "queued"
	StateVisible State = "visible"
	StateRemoved State = "removed"
)

// Reason records why a message was removed.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonDismissed Reason = "dismissed"
	ReasonAction    Reason = "action"
	ReasonReplaced  Reason = "replaced"
)

// Action is a labelled button on a message. Invoking it removes the message.
type Action struct {
	Label   string `json:"label"`
	Handler func() `json:"-"`
}

// Message is a user-visible notification.
type Message struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Category    classify.Category `json:"category,omitempty"`
	Title       string            `json:"title,omitempty"`
	Text        string            `json:"text"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Actions     []Action          `json:"actions,omitempty"`
	Placement   Placement         `json:"placement"`
	Dismissible bool              `json:"dismissible"`
	// TTL is the auto-dismiss delay; zero means never.
	TTL       time.Duration `json:"ttl"`
	State     State         `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
}

// HasAction reports whether the message carries an action labelled label.
func (m Message) HasAction(label string) bool {
	for _, a := range m.Actions {
		if a.Label == label {
			return true
		}
	}
	return false
}

func (m Message) clone() Message {
	m.Suggestions = append([]string(nil), m.Suggestions...)
	m.Actions = append([]Action(nil), m.Actions...)
	return m
}

func (m Message) eventData() map[string]any {
	labels := make([]string, 0, len(m.Actions))
	for _, a := range m.Actions {
		labels = append(labels, a.Label)
	}
	return map[string]any{
		"id":        m.ID,
		"kind":      string(m.Kind),
		"category":  string(m.Category),
		"title":     m.Title,
		"text":      m.Text,
		"placement": string(m.Placement),
		"state":     string(m.State),
		"actions":   labels,
	}
}

// Options tune a single Show call.
type Options struct {
	// ID replaces an existing message with the same ID. Empty generates one.
	ID          string
	Title       string
	Category    classify.Category
	Suggestions []string
	Actions     []Action
	// Placement defaults to toast, or persistent for critical messages.
	Placement Placement
	// TTL overrides the kind's default. Use Never to disable auto-dismiss.
	TTL time.Duration
	// Sticky hides the close control.
	Sticky bool
}
