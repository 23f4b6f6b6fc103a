package traffic

import (
	"context"
	"fmt"

	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/watch"
)

// Notifier posts state changes to the traffic channel.
type Notifier struct {
	Sink      channels.Sink
	ChannelID string
	Rules     Rules
}

// Notify implements watch.Funcs.Notify.
func (n *Notifier) Notify(ctx context.Context, c watch.Change[Entry, Snapshot]) error {
	msg := Format(c.Target, c.Snapshot, c.Old, n.Rules.threshold())
	msg.ChannelID = n.ChannelID
	return n.Sink.Send(ctx, msg)
}

// Format renders a reading. An unset old state produces the initial-status
// variant.
func Format(e Entry, s Snapshot, old watch.State, threshold float64) channels.Message {
	over := s.TotalGB > threshold
	embed := &channels.Embed{Footer: "Page updated: " + s.Updated}
	switch {
	case over && !old.IsSet():
		embed.Title = "🚨 Initial status: over limit"
		embed.Description = fmt.Sprintf("IP **%s** is already at **%g GB** today, over the **%g GB** limit.", e.IP, s.TotalGB, threshold)
		embed.Color = channels.ColorRed
	case over:
		embed.Title = "🚨 Traffic over limit"
		embed.Description = fmt.Sprintf("IP **%s** reached **%g GB** today, over the **%g GB** limit!", e.IP, s.TotalGB, threshold)
		embed.Color = channels.ColorRed
	case !old.IsSet():
		embed.Title = "✅ Initial status: normal"
		embed.Description = fmt.Sprintf("IP **%s** is at **%g GB** today.", e.IP, s.TotalGB)
		embed.Color = channels.ColorLime
	default:
		embed.Title = "✅ Traffic back to normal"
		embed.Description = fmt.Sprintf("IP **%s** is down to **%g GB** today.", e.IP, s.TotalGB)
		embed.Color = channels.ColorLime
	}
	return channels.Message{Embed: embed}
}
