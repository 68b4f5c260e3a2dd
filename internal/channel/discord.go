package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord wraps a single bot session for both directions: outbound through
// ChannelMessageSend, inbound through the gateway message handler.
type Discord struct {
	session   *discordgo.Session
	channelID string
	botID     string
	log       *slog.Logger
}

func NewDiscord(token, channelID string) (*Discord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord bot token is not configured")
	}
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return &Discord{
		session:   session,
		channelID: strings.TrimSpace(channelID),
		log:       slog.Default().With("component", "discord"),
	}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		chatID = d.channelID
	}
	if chatID == "" {
		return errors.New("discord channel id is required")
	}
	_, err := d.session.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx))
	return err
}

// Run opens the gateway connection and forwards user messages until ctx is
// cancelled.
func (d *Discord) Run(ctx context.Context, inbox chan<- InboundMessage) error {
	remove := d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == d.botID || m.Author.Bot {
			return
		}
		if d.channelID != "" && m.ChannelID != d.channelID {
			return
		}
		if strings.TrimSpace(m.Content) == "" {
			return
		}
		select {
		case inbox <- InboundMessage{
			Channel: d.Name(),
			ChatID:  m.ChannelID,
			Sender:  m.Author.Username,
			Text:    m.Content,
		}:
		case <-ctx.Done():
		}
	})
	defer remove()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	if d.session.State != nil && d.session.State.User != nil {
		d.botID = d.session.State.User.ID
		d.log.Info("connected", "user", d.session.State.User.Username)
	}

	<-ctx.Done()
	if err := d.session.Close(); err != nil {
		d.log.Warn("close discord session", "error", err)
	}
	return ctx.Err()
}
