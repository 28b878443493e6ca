package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

const defaultWxPusherEndpoint = "https://wxpusher.zjiecode.com/api/send/message"

// WxPusherChannel sends WeChat messages through WxPusher. The app token is
// deployment-wide; each user configures their own uids.
type WxPusherChannel struct {
	appToken string
	endpoint string
	client   *http.Client
}

// NewWxPusherChannel creates a WxPusher channel. An empty endpoint selects
// the public service.
func NewWxPusherChannel(appToken, endpoint string) *WxPusherChannel {
	if endpoint == "" {
		endpoint = defaultWxPusherEndpoint
	}
	return &WxPusherChannel{appToken: appToken, endpoint: endpoint, client: newHTTPClient()}
}

func (w *WxPusherChannel) Name() string { return "wxpusher" }

type wxPusherRequest struct {
	AppToken    string   `json:"appToken"`
	Content     string   `json:"content"`
	Summary     string   `json:"summary,omitempty"`
	ContentType int      `json:"contentType"`
	UIDs        []string `json:"uids"`
}

type wxPusherResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Success bool   `json:"success"`
}

func (w *WxPusherChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	if w.appToken == "" {
		return fmt.Errorf("wxpusher app token not configured")
	}
	uids := splitList(cfg.String("uids"))
	if len(uids) == 0 {
		return fmt.Errorf("wxpusher uids not configured")
	}

	status, body, err := postJSON(ctx, w.client, w.endpoint, wxPusherRequest{
		AppToken:    w.appToken,
		Content:     msg.Title + "\n\n" + msg.Body,
		Summary:     msg.Title,
		ContentType: 1,
		UIDs:        uids,
	})
	if err != nil {
		return fmt.Errorf("send wxpusher alert: %w", err)
	}
	if status != http.StatusOK {
		return statusError("wxpusher", status, body)
	}

	var resp wxPusherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode wxpusher response: %w", err)
	}
	if !resp.Success && resp.Code != 1000 {
		return fmt.Errorf("wxpusher rejected message: %d %s", resp.Code, resp.Msg)
	}
	return nil
}
