package alerts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// SlackChannel posts to a Slack incoming webhook. Users configure
// webhook_url and, optionally, channel.
type SlackChannel struct {
	client *http.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel() *SlackChannel {
	return &SlackChannel{client: newHTTPClient()}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	url := cfg.String("webhook_url")
	if url == "" {
		return fmt.Errorf("slack webhook_url not configured")
	}

	color := "#36a64f" // green
	switch msg.Kind {
	case KindLowBalance:
		color = "#ff0000" // red
	case KindUsageJump:
		color = "#ff9900" // orange
	}

	payload := slackPayload{
		Channel: cfg.String("channel"),
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  msg.Title,
				Text:   msg.Body,
				Footer: "Flow Guardian",
				Ts:     msg.Timestamp.Unix(),
			},
		},
	}

	status, body, err := postJSON(ctx, s.client, url, payload)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	if status != http.StatusOK {
		return statusError("slack", status, body)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}
