package channels

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// MessageSender is the part of *discordgo.Session used by the Discord sink.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts messages through a discordgo session.
type Discord struct {
	sender   MessageSender
	fallback string
	logger   *slog.Logger
}

// DiscordOption configures a Discord sink.
type DiscordOption func(*Discord)

// WithFallbackChannel sets the channel used when a message has none.
func WithFallbackChannel(id string) DiscordOption {
	return func(d *Discord) { d.fallback = id }
}

// WithDiscordLogger sets a custom logger.
func WithDiscordLogger(l *slog.Logger) DiscordOption {
	return func(d *Discord) { d.logger = l }
}

// NewDiscord creates a Discord sink.
func NewDiscord(sender MessageSender, opts ...DiscordOption) *Discord {
	d := &Discord{sender: sender, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send posts msg to its channel, or to the fallback channel.
func (d *Discord) Send(ctx context.Context, msg Message) error {
	ch := msg.ChannelID
	if ch == "" {
		ch = d.fallback
	}
	if ch == "" {
		return &ErrChannelNotFound{}
	}
	if _, err := d.sender.ChannelMessageSendComplex(ch, ToMessageSend(msg), discordgo.WithContext(ctx)); err != nil {
		d.logger.Warn("discord: send failed", "channel", ch, "error", err)
		return &ErrSendFailed{Channel: ch, Platform: "discord", Cause: err}
	}
	return nil
}

// ToMessageSend converts msg for ChannelMessageSendComplex.
func ToMessageSend(msg Message) *discordgo.MessageSend {
	out := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		out.Embeds = []*discordgo.MessageEmbed{ToEmbed(msg.Embed)}
	}
	return out
}

// ToEmbed converts e to its discordgo form.
func ToEmbed(e *Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Author != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.Author}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	return out
}

// FromEmbed converts a received discordgo embed back to an Embed. Used when
// editing a message the bot posted earlier.
func FromEmbed(e *discordgo.MessageEmbed) *Embed {
	if e == nil {
		return nil
	}
	out := &Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Author != nil {
		out.Author = e.Author.Name
	}
	for _, f := range e.Fields {
		if f != nil {
			out.Fields = append(out.Fields, Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		out.Timestamp = ts
	}
	return out
}
