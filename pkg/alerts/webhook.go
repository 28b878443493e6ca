package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// WebhookChannel calls a user-defined HTTP endpoint. Supported settings:
// method, url, headers, params, body and secret. String values in headers,
// params and body may reference {{title}} and {{content}}.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel creates a generic webhook channel.
func NewWebhookChannel() *WebhookChannel {
	return &WebhookChannel{client: newHTTPClient()}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	target := cfg.String("url")
	if target == "" {
		return fmt.Errorf("webhook url not configured")
	}
	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodPost
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if params := cfg.StringMap("params"); len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, render(v, msg))
		}
		u.RawQuery = q.Encode()
	}

	var payload []byte
	if method != http.MethodGet {
		payload, err = webhookBody(cfg["body"], msg)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range cfg.StringMap("headers") {
		req.Header.Set(k, render(v, msg))
	}
	if secret := cfg.String("secret"); secret != "" && payload != nil {
		req.Header.Set("X-Signature-256", "sha256="+computeHMAC(payload, []byte(secret)))
	}

	status, body, err := do(w.client, req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	if status < 200 || status >= 300 {
		return statusError("webhook", status, body)
	}
	return nil
}

type webhookPayload struct {
	Event     string  `json:"event"`
	Timestamp string  `json:"timestamp"`
	Message   Message `json:"message"`
}

// webhookBody renders the configured body template, or the default event
// envelope when none is configured.
func webhookBody(tmpl any, msg Message) ([]byte, error) {
	if s, ok := tmpl.(string); ok {
		if strings.TrimSpace(s) == "" {
			tmpl = nil
		} else {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, fmt.Errorf("webhook body is not valid JSON: %w", err)
			}
			tmpl = parsed
		}
	}

	if tmpl == nil {
		body, err := json.Marshal(webhookPayload{
			Event:     "flow_alert",
			Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
			Message:   msg,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal webhook payload: %w", err)
		}
		return body, nil
	}

	body, err := json.Marshal(renderValue(tmpl, msg))
	if err != nil {
		return nil, fmt.Errorf("marshal webhook body: %w", err)
	}
	return body, nil
}

func renderValue(v any, msg Message) any {
	switch t := v.(type) {
	case string:
		return render(t, msg)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = renderValue(inner, msg)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = renderValue(inner, msg)
		}
		return out
	default:
		return v
	}
}

func render(s string, msg Message) string {
	return strings.NewReplacer("{{title}}", msg.Title, "{{content}}", msg.Body).Replace(s)
}
