package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const discordMessageLimit = 2000

// DiscordWebhook posts messages to a channel webhook.
type DiscordWebhook struct {
	url    string
	client *resty.Client
}

func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{
		url:    url,
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

func (d *DiscordWebhook) Send(ctx context.Context, text string) error {
	for _, part := range chunk(text, discordMessageLimit) {
		resp, err := d.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"content": part}).
			Post(d.url)
		if err != nil {
			return fmt.Errorf("post discord webhook: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("discord webhook status %d: %s", resp.StatusCode(), resp.String())
		}
	}
	return nil
}
