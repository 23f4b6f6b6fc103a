package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/watch"
)

// Notifier posts signal changes to the stock channel.
type Notifier struct {
	Sink      channels.Sink
	ChannelID string
	// RoleID is mentioned when set.
	RoleID string
	Rules  Rules
}

// Notify implements watch.Funcs.Notify. A change with nothing entered and
// nothing left (first reading without signals) sends nothing.
func (n *Notifier) Notify(ctx context.Context, c watch.Change[Entry, Snapshot]) error {
	msg, ok := Format(c.Snapshot, c.Old, c.New, n.Rules, n.RoleID)
	if !ok {
		return nil
	}
	msg.ChannelID = n.ChannelID
	return n.Sink.Send(ctx, msg)
}

var kindColor = map[string]int{
	TouchMA20:     channels.ColorGold,
	NearMA20Below: channels.ColorOrange,
	NearMA20Above: channels.ColorOrange,
	GoldenCross:   channels.ColorGreen,
	DeathCross:    channels.ColorRed,
	RSIOverbought: channels.ColorRed,
	RSIOversold:   channels.ColorGreen,
	VolumeSpike:   channels.ColorDark,
}

// Format renders the signals that entered (with details) and the kinds that
// left. ok is false when there is nothing to report.
func Format(s Snapshot, old, cur watch.State, rules Rules, roleID string) (channels.Message, bool) {
	entered, left := cur.Diff(old)
	if len(entered) == 0 && len(left) == 0 {
		return channels.Message{}, false
	}

	last := s.Last()
	embed := &channels.Embed{
		Title:     fmt.Sprintf("📢 %s signals (%s)", s.Ticker, last.Time.Format("2006-01-02")),
		Color:     channels.ColorBlue,
		Footer:    "Basis: 3 months of daily bars",
		Timestamp: last.Time,
	}
	details := make(map[string]Signal)
	for _, sig := range rules.Analyze(s.Bars) {
		details[sig.Kind] = sig
	}
	for i, kind := range entered {
		sig, ok := details[kind]
		if !ok {
			sig = Signal{Kind: kind, Title: kind, Detail: "-"}
		}
		if i == 0 {
			embed.Color = kindColor[kind]
		}
		embed.AddField(fmt.Sprintf("📈 %s: %s", s.Ticker, sig.Title), sig.Detail, false)
	}
	if len(left) > 0 {
		embed.AddField("Cleared", strings.Join(left, ", "), false)
	}
	embed.Description = fmt.Sprintf("Close **%.2f**. %d new, %d cleared.", last.Close, len(entered), len(left))

	content := fmt.Sprintf("📢 Signal update for **%s**", s.Ticker)
	if roleID != "" {
		content = fmt.Sprintf("📢 <@&%s> %d new signal(s) for **%s**", roleID, len(entered), s.Ticker)
	}
	return channels.Message{Content: content, Embed: embed}, true
}
