package observability

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackAlerter posts freshness-SLO breach notifications to a single
// channel. Grounded on the teacher's use of slack-go for operator
// notifications, generalized here from digest-post-per-PR to a single
// fixed alert channel.
type SlackAlerter struct {
	client  *slack.Client
	channel string
}

// NewSlackAlerter builds an Alerter posting to channel with token.
func NewSlackAlerter(token, channel string) *SlackAlerter {
	return &SlackAlerter{client: slack.New(token), channel: channel}
}

func (s *SlackAlerter) Notify(ctx context.Context, message string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("observability: slack notify: %w", err)
	}
	return nil
}
