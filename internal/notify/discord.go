package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts operator notifications to one Discord channel.
// Messages go over the REST API, no gateway connection is opened.
type DiscordNotifier struct {
	session *discordgo.Session
	channel string
	logger  *zap.Logger
}

// NewDiscordNotifier creates a notifier from a bot token and channel ID.
func NewDiscordNotifier(token, channel string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channel: channel, logger: logger}, nil
}

// Notify posts the event as a message.
func (d *DiscordNotifier) Notify(_ context.Context, ev *Event) error {
	if _, err := d.session.ChannelMessageSend(d.channel, ev.Format()); err != nil {
		return fmt.Errorf("discord notify: %w", err)
	}
	return nil
}
