package signal

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Forwarder republishes bus events on a watermill publisher, one topic per
// event name, for collaborators that consume them asynchronously.
type Forwarder struct {
	publisher message.Publisher
	logger    *zap.Logger
}

// NewForwarder creates a forwarder. Attach it with Bus.Subscribe(All, f.Handle).
func NewForwarder(publisher message.Publisher, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{publisher: publisher, logger: logger}
}

// Handle is a Handler that forwards the event.
func (f *Forwarder) Handle(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		f.logger.Warn("failed to marshal signal", zap.String("signal", string(evt.Name)), zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := f.publisher.Publish(string(evt.Name), msg); err != nil {
		f.logger.Warn("failed to forward signal", zap.String("signal", string(evt.Name)), zap.Error(err))
	}
}

// Decode parses a forwarded watermill message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var evt Event
	err := json.Unmarshal(msg.Payload, &evt)
	return evt, err
}
