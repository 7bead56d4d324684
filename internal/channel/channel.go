package channel

import (
	"context"

	"github.com/kursadbilgin/alert-engine/internal/domain"
)

// Payload carries the channel-independent alert content for one send.
// Channel-specific body rendering is the gateway's concern.
type Payload struct {
	AlertID  string
	Type     domain.AlertType
	Severity domain.Severity
	Title    string
	Message  string
}

// Outcome is the result of one channel attempt for one recipient. A failed
// outcome carries the diagnostic error; it is logged, never thrown.
type Outcome struct {
	Success    bool
	MessageRef string
	Err        error
}

// Sender delivers an alert payload to a single recipient over one channel.
// Implementations must be safe for concurrent use across recipients.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, recipient domain.Recipient, payload Payload) Outcome
}
