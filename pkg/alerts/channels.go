package alerts

// Options carries the deployment-wide settings some channels need.
type Options struct {
	WxPusherAppToken string
	WxPusherEndpoint string
	TelegramToken    string
	TelegramAPIURL   string
	Publisher        Publisher // nil leaves the amqp channel unregistered
}

// StandardChannels builds every built-in channel.
func StandardChannels(opts Options) []Channel {
	channels := []Channel{
		NewSlackChannel(),
		NewWebhookChannel(),
		NewWeChatRobotChannel(),
		NewDingTalkChannel(),
		NewBarkChannel(),
		NewEmailChannel(),
		NewWxPusherChannel(opts.WxPusherAppToken, opts.WxPusherEndpoint),
		NewTelegramChannel(opts.TelegramToken, opts.TelegramAPIURL),
	}
	if opts.Publisher != nil {
		channels = append(channels, NewAMQPChannel(opts.Publisher))
	}
	return channels
}
