// Package meetup runs ad-hoc meal meetups: a posted card, a temporary role
// and ✋ reactions that grant it. Reactions are applied live and a periodic
// reconcile repairs whatever was missed while the bot was offline.
package meetup

import (
	"fmt"
	"net/url"

	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// Domain is the registry and scheduler name of this monitor.
const Domain = "meetup"

// RolePrefix starts every meetup role name.
const RolePrefix = "Eat-"

// Emoji is the sign-up reaction.
const Emoji = "✋"

// Entry is one open meetup as stored in meetup_list.json. Participants is
// nil for meetups created before rosters were tracked.
type Entry struct {
	MessageID    registry.ID `json:"message_id"`
	ChannelID    registry.ID `json:"channel_id"`
	GuildID      registry.ID `json:"guild_id,omitempty"`
	RoleID       registry.ID `json:"role_id"`
	CreatorID    registry.ID `json:"creator_id"`
	Name         string      `json:"title"`
	Location     string      `json:"location,omitempty"`
	Time         string      `json:"time,omitempty"`
	Description  string      `json:"description,omitempty"`
	Participants []string    `json:"participants"`
}

func (e Entry) Key() string { return e.MessageID.String() }
func (e Entry) Title() string { return e.Name }

func (e Entry) Status() watch.State {
	if e.Participants == nil {
		return watch.Unset()
	}
	return watch.StateOf(e.Participants...)
}

func (e Entry) WithStatus(s watch.State) Entry {
	e.Participants = s.Kinds()
	if e.Participants == nil {
		e.Participants = []string{}
	}
	return e
}

// Snapshot is the set of users currently holding a ✋ on the card.
type Snapshot struct {
	Users []string
}

// Classify returns the roster as a state.
func Classify(s Snapshot) watch.State { return watch.StateOf(s.Users...) }

// Validate skips meetups whose role id was lost.
func Validate(e Entry) error {
	if e.RoleID == "" {
		return fmt.Errorf("%w: meetup %s", ErrNoRole, e.MessageID)
	}
	return nil
}

// MapsURL returns a Google Maps search link for a place.
func MapsURL(place string) string {
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(place)
}
