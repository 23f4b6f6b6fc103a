// Package channels delivers notifications to chat destinations.
//
// A Message is platform-neutral: a destination channel, optional plain
// content (typically a role mention) and an optional embed. Sinks translate
// it for their backend:
//
//	sink := channels.NewRouter(logger,
//		channels.NewDiscord(session, channels.WithFallbackChannel(cfg.ChannelID)),
//		channels.NewWebhook(cfg.WebhookURL),
//	)
//	err := sink.Send(ctx, channels.Message{ChannelID: id, Embed: &channels.Embed{Title: "hello"}})
//
// Sinks never retry on their own unless configured to; a failed delivery is
// reported as *ErrSendFailed and the caller decides what to do with it.
package channels

import (
	"context"
	"time"
)

// Embed colours used across the monitors.
const (
	ColorGreen  = 0x32CD32
	ColorGrey   = 0xAAAAAA
	ColorRed    = 0xFF0000
	ColorLime   = 0x00FF00
	ColorBlue   = 0x00AEEF
	ColorSteel  = 0x4682B4
	ColorGold   = 0xF1C40F
	ColorOrange = 0xE67E22
	ColorDark   = 0xFF8C00
)

// Message is one outbound notification.
type Message struct {
	// ChannelID is the destination. Empty means the sink's fallback channel.
	ChannelID string `json:"channel_id,omitempty"`
	// Content is plain text sent alongside the embed (mentions go here).
	Content string `json:"content,omitempty"`
	Embed   *Embed `json:"embed,omitempty"`
}

// Embed is a rich message card.
type Embed struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	Color       int       `json:"color,omitempty"`
	Author      string    `json:"author,omitempty"`
	Fields      []Field   `json:"fields,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Field is one name/value row of an embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// AddField appends a field and returns the embed for chaining.
func (e *Embed) AddField(name, value string, inline bool) *Embed {
	e.Fields = append(e.Fields, Field{Name: name, Value: value, Inline: inline})
	return e
}

// Sink delivers messages.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
