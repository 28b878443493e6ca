package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// Publisher sends a JSON event under a routing key. rabbitmq.EventProducer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// AMQPChannel publishes notifications as events for downstream consumers.
// Users may override the routing key with routing_key.
type AMQPChannel struct {
	publisher Publisher
}

// NewAMQPChannel creates a broker-backed channel.
func NewAMQPChannel(p Publisher) *AMQPChannel {
	return &AMQPChannel{publisher: p}
}

func (a *AMQPChannel) Name() string { return "amqp" }

// AlertEvent is the event body published for every notification.
type AlertEvent struct {
	Event     string `json:"event"`
	Kind      Kind   `json:"kind"`
	UserID    int64  `json:"user_id"`
	AccountID int64  `json:"account_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

func (a *AMQPChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	if a.publisher == nil {
		return fmt.Errorf("amqp broker not configured")
	}
	key := cfg.String("routing_key")
	if key == "" {
		key = "flow.alert." + string(msg.Kind)
	}

	event := AlertEvent{
		Event:     "flow_alert",
		Kind:      msg.Kind,
		UserID:    msg.UserID,
		AccountID: msg.AccountID,
		Title:     msg.Title,
		Body:      msg.Body,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
	}
	if err := a.publisher.Publish(ctx, key, event); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}
