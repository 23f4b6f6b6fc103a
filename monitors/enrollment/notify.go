package enrollment

import (
	"context"
	"fmt"

	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/watch"
)

// Notifier posts state changes to the entry's channel.
type Notifier struct {
	Sink channels.Sink
}

// Notify implements watch.Funcs.Notify.
func (n *Notifier) Notify(ctx context.Context, c watch.Change[Entry, Snapshot]) error {
	return n.Sink.Send(ctx, Format(c.Target, c.Snapshot, c.Old))
}

// Format renders a reading as a role ping plus status card. An unset old
// state produces the "initial status" variant.
func Format(e Entry, s Snapshot, old watch.State) channels.Message {
	initial := !old.IsSet()
	course := fmt.Sprintf("**%s** (semester %s)", e.CourseID, e.AcadSeme)
	if e.CourseName != "" {
		course = fmt.Sprintf("**%s** %s (semester %s)", e.CourseID, e.CourseName, e.AcadSeme)
	}

	embed := &channels.Embed{}
	if Classify(s).Value() == Available {
		embed.Color = channels.ColorGreen
		embed.Title = "🟢 Seats available!"
		embed.Description = fmt.Sprintf("Course %s **has open seats, go go go!**", course)
		if initial {
			embed.Title = "🟢 Initial status: seats available"
			embed.Description = fmt.Sprintf("Course %s **currently has open seats.**", course)
		}
	} else {
		embed.Color = channels.ColorGrey
		embed.Title = "🔴 Course full"
		embed.Description = fmt.Sprintf("Course %s **is full again.**", course)
		if initial {
			embed.Title = "🔴 Initial status: full"
			embed.Description = fmt.Sprintf("Course %s **is currently full.**", course)
		}
	}
	embed.AddField("Enrolled", fmt.Sprintf("**%d**", s.Current), true).
		AddField("Capacity", fmt.Sprintf("**%d**", s.Max), true)

	return channels.Message{
		ChannelID: e.ChannelID.String(),
		Content:   fmt.Sprintf("<@&%s>", e.RoleID),
		Embed:     embed,
	}
}
