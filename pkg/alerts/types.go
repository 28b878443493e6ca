package alerts

import (
	"context"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// Kind identifies what triggered a notification.
type Kind string

const (
	KindLowBalance Kind = "low_balance"
	KindUsageJump  Kind = "usage_jump"
	KindTest       Kind = "test"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UserID    int64     `json:"user_id"`
	AccountID int64     `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the delivery outcome for one channel.
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Channel delivers messages over one transport. cfg is the owning user's
// configuration for this channel.
type Channel interface {
	// Name returns the channel identifier used in user settings.
	Name() string

	// Send delivers msg. Implementations must be safe for concurrent use.
	Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error
}
