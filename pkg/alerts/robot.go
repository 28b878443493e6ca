package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// RobotChannel posts text messages to a group-chat robot webhook. WeCom and
// DingTalk share the payload shape; DingTalk robots may additionally require
// a signed URL when a secret is configured.
type RobotChannel struct {
	name   string
	sign   bool
	client *http.Client
	now    func() time.Time
}

// NewWeChatRobotChannel creates the WeCom group robot channel.
func NewWeChatRobotChannel() *RobotChannel {
	return &RobotChannel{name: "wechat", client: newHTTPClient(), now: time.Now}
}

// NewDingTalkChannel creates the DingTalk group robot channel.
func NewDingTalkChannel() *RobotChannel {
	return &RobotChannel{name: "dingtalk", sign: true, client: newHTTPClient(), now: time.Now}
}

func (r *RobotChannel) Name() string { return r.name }

type robotPayload struct {
	MsgType string    `json:"msgtype"`
	Text    robotText `json:"text"`
}

type robotText struct {
	Content string `json:"content"`
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (r *RobotChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	target := cfg.String("webhook_url")
	if target == "" {
		return fmt.Errorf("%s webhook_url not configured", r.name)
	}
	if secret := cfg.String("secret"); r.sign && secret != "" {
		signed, err := r.signURL(target, secret)
		if err != nil {
			return err
		}
		target = signed
	}

	payload := robotPayload{
		MsgType: "text",
		Text:    robotText{Content: msg.Title + "\n\n" + msg.Body},
	}
	status, body, err := postJSON(ctx, r.client, target, payload)
	if err != nil {
		return fmt.Errorf("send %s alert: %w", r.name, err)
	}
	if status != http.StatusOK {
		return statusError(r.name, status, body)
	}

	var resp robotResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.ErrCode != 0 {
		return fmt.Errorf("%s rejected message: %d %s", r.name, resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

func (r *RobotChannel) signURL(target, secret string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse %s webhook url: %w", r.name, err)
	}
	ts := strconv.FormatInt(r.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "\n" + secret))

	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
