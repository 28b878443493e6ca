package alerts

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"gopkg.in/telebot.v3"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// TelegramChannel sends messages through the Telegram Bot API. The bot token
// comes from deployment config unless a user supplies bot_token; chat_id is
// always per user.
type TelegramChannel struct {
	token  string
	apiURL string
	client *http.Client

	mu   sync.Mutex
	bots map[string]*telebot.Bot
}

// NewTelegramChannel creates a Telegram channel. An empty apiURL selects the
// public Bot API.
func NewTelegramChannel(token, apiURL string) *TelegramChannel {
	return &TelegramChannel{
		token:  token,
		apiURL: apiURL,
		client: newHTTPClient(),
		bots:   make(map[string]*telebot.Bot),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) bot(token string) (*telebot.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		URL:     t.apiURL,
		Client:  t.client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	t.bots[token] = b
	return b, nil
}

func (t *TelegramChannel) Send(ctx context.Context, cfg model.ChannelConfig, msg Message) error {
	token := cfg.String("bot_token")
	if token == "" {
		token = t.token
	}
	if token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}
	chatID, err := strconv.ParseInt(cfg.String("chat_id"), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat_id invalid: %w", err)
	}

	b, err := t.bot(token)
	if err != nil {
		return err
	}

	// telebot has no context support; honour cancellation around the call.
	done := make(chan error, 1)
	go func() {
		_, err := b.Send(telebot.ChatID(chatID), msg.Title+"\n\n"+msg.Body)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send telegram alert: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send telegram alert: %w", ctx.Err())
	}
}
