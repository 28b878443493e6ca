package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

const defaultBarkServer = "https://api.day.app"

// BarkChannel pushes to one or more iOS devices through a Bark server.
// Settings: server, device_keys (comma separated), group, sound, isArchive.
type BarkChannel struct {
	client *http.Client
}

// NewBarkChannel creates a Bark channel.
func NewBarkChannel() *BarkChannel {
	return &BarkChannel{client: newHTTPClient()}
}

func (b *BarkChannel) Name() string { return "bark" }

func (b *BarkChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	keys := splitList(cfg.String("device_keys"))
	if len(keys) == 0 {
		return fmt.Errorf("bark device_keys not configured")
	}
	server := strings.TrimRight(cfg.String("server"), "/")
	if server == "" {
		server = defaultBarkServer
	}

	q := url.Values{}
	if g := cfg.String("group"); g != "" {
		q.Set("group", g)
	}
	if s := cfg.String("sound"); s != "" {
		q.Set("sound", s)
	}
	archive := true
	if _, ok := cfg["isArchive"]; ok {
		archive = cfg.Bool("isArchive")
	}
	if archive {
		q.Set("isArchive", "1")
	} else {
		q.Set("isArchive", "0")
	}

	// Every device is attempted; the send fails if any device fails.
	var errs []error
	for _, key := range keys {
		target := fmt.Sprintf("%s/%s/%s/%s?%s", server,
			url.PathEscape(key), url.PathEscape(msg.Title), url.PathEscape(msg.Body), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", key, err))
			continue
		}
		req.Header.Set("User-Agent", userAgent)

		status, body, err := do(b.client, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", key, err))
			continue
		}
		if status < 200 || status >= 300 {
			errs = append(errs, fmt.Errorf("device %s: %w", key, statusError("bark", status, body)))
		}
	}
	return errors.Join(errs...)
}
