package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var ErrNotifierDisabled = errors.New("teams webhook is not configured")

// TeamsNotifier posts messages to a Teams incoming webhook.
type TeamsNotifier struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

func NewTeamsNotifier(webhookURL string, log zerolog.Logger) *TeamsNotifier {
	c := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &TeamsNotifier{client: c, url: webhookURL, log: log.With().Str("component", "teams").Logger()}
}

// Send posts text as a plain message card.
func (n *TeamsNotifier) Send(ctx context.Context, text string) error {
	if n == nil || n.url == "" {
		return ErrNotifierDisabled
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": text}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post teams webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post teams webhook: HTTP %d", resp.StatusCode())
	}
	n.log.Debug().Int("length", len(text)).Msg("teams message sent")
	return nil
}
