// Package bottest provides an in-memory bot.Discord for tests.
package bottest

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Fake is an in-memory Discord. Every call is recorded; Fail makes a method
// return an error.
type Fake struct {
	mu     sync.Mutex
	nextID int
	fail   map[string]error

	// Messages holds every message by id (sent, or seeded by tests).
	Messages map[string]*discordgo.Message
	// Sent lists sent messages in order.
	Sent []*discordgo.Message
	// Edits lists message edits in order.
	Edits []*discordgo.MessageEdit
	// Deleted lists deleted message ids.
	Deleted []string
	// History is returned by ChannelMessages, newest first.
	History []*discordgo.Message

	Channels map[string]*discordgo.Channel
	Roles    map[string][]*discordgo.Role // by guild
	// MemberRoles maps "guild/user" to role ids.
	MemberRoles map[string][]string
	// Reactions maps "message/emoji" to the reacting users.
	Reactions map[string][]*discordgo.User
	// Cleared lists messages whose reactions were removed.
	Cleared []string
	// Perms maps user id to channel permission bits.
	Perms   map[string]int64
	Latency time.Duration
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		fail:        make(map[string]error),
		Messages:    make(map[string]*discordgo.Message),
		Channels:    make(map[string]*discordgo.Channel),
		Roles:       make(map[string][]*discordgo.Role),
		MemberRoles: make(map[string][]string),
		Reactions:   make(map[string][]*discordgo.User),
		Perms:       make(map[string]int64),
	}
}

// Fail makes method return err until cleared with a nil err.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, method)
		return
	}
	f.fail[method] = err
}

func (f *Fake) err(method string) error { return f.fail[method] }

func (f *Fake) id() string {
	f.nextID++
	return strconv.Itoa(1000 + f.nextID)
}

// LastSent returns the most recent sent message, or nil.
func (f *Fake) LastSent() *discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1]
}

// SentCount returns the number of sent messages.
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// HasRole reports whether user holds role in guild.
func (f *Fake) HasRole(guild, user, role string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.MemberRoles[guild+"/"+user], role)
}

// RoleByName finds a role in guild.
func (f *Fake) RoleByName(guild, name string) *discordgo.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.Roles[guild] {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// SetReactions seeds the users who reacted with emoji on message.
func (f *Fake) SetReactions(messageID, emoji string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]*discordgo.User, len(userIDs))
	for i, id := range userIDs {
		users[i] = &discordgo.User{ID: id}
	}
	f.Reactions[messageID+"/"+emoji] = users
}

func (f *Fake) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content})
}

func (f *Fake) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessageSendComplex"); err != nil {
		return nil, err
	}
	m := &discordgo.Message{ID: f.id(), ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}
	if ch, ok := f.Channels[channelID]; ok {
		m.GuildID = ch.GuildID
	}
	f.Messages[m.ID] = m
	f.Sent = append(f.Sent, m)
	return m, nil
}

func (f *Fake) ChannelMessageEditComplex(e *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessageEditComplex"); err != nil {
		return nil, err
	}
	f.Edits = append(f.Edits, e)
	m, ok := f.Messages[e.ID]
	if !ok {
		return nil, fmt.Errorf("unknown message %s", e.ID)
	}
	if e.Embeds != nil {
		m.Embeds = *e.Embeds
	}
	if e.Content != nil {
		m.Content = *e.Content
	}
	return m, nil
}

func (f *Fake) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessage"); err != nil {
		return nil, err
	}
	m, ok := f.Messages[messageID]
	if !ok || (m.ChannelID != "" && m.ChannelID != channelID) {
		return nil, fmt.Errorf("unknown message %s", messageID)
	}
	return m, nil
}

func (f *Fake) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessageDelete"); err != nil {
		return err
	}
	f.Deleted = append(f.Deleted, messageID)
	delete(f.Messages, messageID)
	return nil
}

func (f *Fake) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessages"); err != nil {
		return nil, err
	}
	var out []*discordgo.Message
	for _, m := range f.History {
		if m.ChannelID == channelID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) ChannelMessagesBulkDelete(_ string, ids []string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ChannelMessagesBulkDelete"); err != nil {
		return err
	}
	f.Deleted = append(f.Deleted, ids...)
	return nil
}

func (f *Fake) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.Channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("unknown channel %s", channelID)
}

func (f *Fake) MessageReactionAdd(_, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("MessageReactionAdd"); err != nil {
		return err
	}
	key := messageID + "/" + emoji
	f.Reactions[key] = append(f.Reactions[key], &discordgo.User{ID: "bot", Bot: true})
	return nil
}

func (f *Fake) MessageReactions(_, messageID, emoji string, limit int, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("MessageReactions"); err != nil {
		return nil, err
	}
	users := f.Reactions[messageID+"/"+emoji]
	if len(users) > limit {
		users = users[:limit]
	}
	return slices.Clone(users), nil
}

func (f *Fake) MessageReactionsRemoveAll(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("MessageReactionsRemoveAll"); err != nil {
		return err
	}
	f.Cleared = append(f.Cleared, messageID)
	return nil
}

func (f *Fake) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildRoles"); err != nil {
		return nil, err
	}
	return slices.Clone(f.Roles[guildID]), nil
}

func (f *Fake) GuildRoleCreate(guildID string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildRoleCreate"); err != nil {
		return nil, err
	}
	r := &discordgo.Role{ID: f.id(), Name: data.Name}
	if data.Mentionable != nil {
		r.Mentionable = *data.Mentionable
	}
	if data.Permissions != nil {
		r.Permissions = *data.Permissions
	}
	r.Position = len(f.Roles[guildID]) + 1
	f.Roles[guildID] = append(f.Roles[guildID], r)
	return r, nil
}

func (f *Fake) GuildRoleDelete(guildID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildRoleDelete"); err != nil {
		return err
	}
	f.Roles[guildID] = slices.DeleteFunc(f.Roles[guildID], func(r *discordgo.Role) bool { return r.ID == roleID })
	return nil
}

func (f *Fake) GuildRoleReorder(guildID string, roles []*discordgo.Role, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildRoleReorder"); err != nil {
		return nil, err
	}
	for _, want := range roles {
		for _, r := range f.Roles[guildID] {
			if r.ID == want.ID {
				r.Position = want.Position
			}
		}
	}
	return slices.Clone(f.Roles[guildID]), nil
}

func (f *Fake) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildMember"); err != nil {
		return nil, err
	}
	return &discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: userID},
		Roles:   slices.Clone(f.MemberRoles[guildID+"/"+userID]),
	}, nil
}

func (f *Fake) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildMemberRoleAdd"); err != nil {
		return err
	}
	key := guildID + "/" + userID
	if !slices.Contains(f.MemberRoles[key], roleID) {
		f.MemberRoles[key] = append(f.MemberRoles[key], roleID)
	}
	return nil
}

func (f *Fake) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GuildMemberRoleRemove"); err != nil {
		return err
	}
	key := guildID + "/" + userID
	f.MemberRoles[key] = slices.DeleteFunc(f.MemberRoles[key], func(r string) bool { return r == roleID })
	return nil
}

func (f *Fake) UserChannelPermissions(userID, _ string, _ ...discordgo.RequestOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Perms[userID], nil
}

func (f *Fake) HeartbeatLatency() time.Duration { return f.Latency }
