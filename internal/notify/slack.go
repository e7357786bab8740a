package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts operator notifications to one Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier from a bot token (xoxb-...) and a
// channel ID.
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// Notify posts the event as a message.
func (s *SlackNotifier) Notify(ctx context.Context, ev *Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(ev.Format(), false),
	)
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}
