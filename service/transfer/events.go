package transfer

import (
	"context"
	"time"
)

// Event is a transfer progress notification. The orchestrator publishes one
// before each pipeline step (an "about to do X" signal) and one terminal
// event on success or failure. Message is the short progress line suitable
// for a toast; ChatText is the formatted transcript entry. Observers pick
// whichever channel they render.
type Event struct {
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	ChatText  string    `json:"chat_text,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher receives transfer progress events. The orchestrator does not
// know how many observers exist or what they render; the chat transcript
// and the notification stream each subscribe independently.
type Publisher interface {
	PublishTransferEvent(ctx context.Context, event *Event) error
}

// Publishers fans one event out to several observers. Publish errors are
// independent: one failing observer does not stop the others.
type Publishers []Publisher

// PublishTransferEvent delivers the event to every observer and returns the
// first error encountered, if any.
func (ps Publishers) PublishTransferEvent(ctx context.Context, event *Event) error {
	var firstErr error
	for _, p := range ps {
		if err := p.PublishTransferEvent(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) PublishTransferEvent(context.Context, *Event) error { return nil }
