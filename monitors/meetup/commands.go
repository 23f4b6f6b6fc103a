package meetup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
)

// LocationPingTTL is how long the "location changed" ping stays up.
const LocationPingTTL = 5 * time.Minute

// Commands implements the !eat command group.
type Commands struct {
	Registry *registry.Registry[Entry]
	// RequiredRole is the role name needed to start a meetup. Empty means
	// anyone may.
	RequiredRole string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Command returns the command definition for the router.
func (m *Commands) Command() bot.Command {
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	if m.Now == nil {
		m.Now = time.Now
	}
	return bot.Command{
		Name:    "eat",
		Aliases: []string{"約吃飯", "吃飯"},
		Summary: "Start and manage meal meetups.",
		Color:   channels.ColorDark,
		Sub: []bot.Subcommand{
			{Name: "add", Aliases: []string{"發起", "create"}, Usage: `add "<title>" "<location>" [time] [notes…]`, Run: m.add},
			{Name: "edit_location", Aliases: []string{"修改地點"}, Usage: `edit_location <message_id> "<new location>"`, Run: m.editLocation},
			{Name: "cancel", Aliases: []string{"取消"}, Usage: "cancel <message_id>", Run: m.cancel},
		},
	}
}

// Card renders the meetup card.
func Card(e Entry, host string, posted time.Time) *channels.Embed {
	embed := &channels.Embed{
		Title:  "🎉 " + e.Name,
		Color:  channels.ColorGreen,
		Author: "Host: " + host,
		Footer: "Posted " + posted.Format("2006-01-02 15:04"),
	}
	embed.AddField("📍 Location", fmt.Sprintf("[%s](%s)", e.Location, MapsURL(e.Location)), false)
	if e.Time != "" {
		embed.AddField("⏰ Time", e.Time, false)
	}
	if e.Description != "" {
		embed.AddField("📝 Notes", e.Description, false)
	}
	embed.AddField("How to join", "React with "+Emoji+" below to get the role!", false)
	return embed
}

func (m *Commands) add(c *bot.Context) error {
	title, location := c.Arg(0), c.Arg(1)
	if title == "" || location == "" {
		return bot.Errorf("⚠️ Usage: `%seat add \"<title>\" \"<location>\" [time] [notes]`\n"+
			"Example: `%seat add \"Dinner\" \"Douliu McDonald's\" \"18:00\"`\n"+
			"Quote the title and location when they contain spaces.", c.Prefix, c.Prefix)
	}
	if err := m.requireRole(c); err != nil {
		return err
	}

	roleName := RolePrefix + title
	existing, err := bot.FindRole(c.Ctx, c.API, c.GuildID(), roleName)
	if err != nil {
		return err
	}
	if existing != nil {
		return bot.Errorf("❌ Role `%s` already exists, pick another title.", roleName)
	}
	role, err := bot.CreateRole(c.Ctx, c.API, c.GuildID(), roleName, "", m.Logger)
	if err != nil {
		return bot.Errorf("❌ Could not create role `%s`: %v", roleName, err)
	}

	e := Entry{
		ChannelID:    registry.ID(c.ChannelID()),
		GuildID:      registry.ID(c.GuildID()),
		RoleID:       registry.ID(role.ID),
		CreatorID:    registry.ID(c.Author().ID),
		Name:         title,
		Location:     location,
		Time:         c.Arg(2),
		Participants: []string{},
	}
	if len(c.Args) > 3 {
		e.Description = strings.Join(c.Args[3:], " ")
	}

	card, err := c.Send(channels.Message{Embed: Card(e, c.DisplayName(), m.Now())})
	if err == nil {
		err = c.API.MessageReactionAdd(card.ChannelID, card.ID, Emoji, discordgo.WithContext(c.Ctx))
		if err != nil {
			c.API.ChannelMessageDelete(card.ChannelID, card.ID)
		}
	}
	if err != nil {
		m.rollbackRole(c, role.ID)
		return bot.Errorf("❌ Could not post the meetup here: %v", err)
	}

	e.MessageID = registry.ID(card.ID)
	if err := m.Registry.Add(e); err != nil {
		m.rollbackRole(c, role.ID)
		return err
	}
	m.Logger.Info("meetup: created", "meetup", card.ID, "title", title, "creator", c.Author().ID)
	return c.Reply("✅ Meetup posted!")
}

func (m *Commands) rollbackRole(c *bot.Context, roleID string) {
	if err := c.API.GuildRoleDelete(c.GuildID(), roleID, discordgo.WithContext(c.Ctx)); err != nil {
		m.Logger.Warn("meetup: role rollback failed", "role", roleID, "error", err)
	}
}

func (m *Commands) requireRole(c *bot.Context) error {
	if m.RequiredRole == "" {
		return nil
	}
	role, err := bot.FindRole(c.Ctx, c.API, c.GuildID(), m.RequiredRole)
	if err != nil {
		return err
	}
	var held []string
	if c.Message.Member != nil {
		held = c.Message.Member.Roles
	} else {
		member, err := c.API.GuildMember(c.GuildID(), c.Author().ID, discordgo.WithContext(c.Ctx))
		if err != nil {
			return err
		}
		held = member.Roles
	}
	if role == nil || !slices.Contains(held, role.ID) {
		return bot.Errorf("❌ You need the **%s** role to start a meetup.", m.RequiredRole)
	}
	return nil
}

// owned loads the meetup and checks the caller may change it.
func (m *Commands) owned(c *bot.Context, id string) (Entry, error) {
	e, err := m.Registry.Get(id)
	if errors.Is(err, registry.ErrNotFound) {
		return e, bot.Errorf("❌ No meetup with message id `%s`.", id)
	}
	if err != nil {
		return e, err
	}
	if e.CreatorID.String() != c.Author().ID && !c.Can(discordgo.PermissionManageServer) {
		return e, bot.Errorf("❌ Only the host or a server manager can change this meetup.")
	}
	return e, nil
}

func (m *Commands) editLocation(c *bot.Context) error {
	id := c.Arg(0)
	if id == "" || len(c.Args) < 2 {
		return bot.Errorf("⚠️ Usage: `%seat edit_location <message_id> \"<new location>\"`", c.Prefix)
	}
	location := strings.Join(c.Args[1:], " ")
	e, err := m.owned(c, id)
	if err != nil {
		return err
	}

	msg, err := c.API.ChannelMessage(e.ChannelID.String(), id, discordgo.WithContext(c.Ctx))
	if err != nil {
		return bot.Errorf("❌ The meetup card could not be found: %v", err)
	}
	if len(msg.Embeds) == 0 {
		return ErrNoEmbed
	}
	card := channels.FromEmbed(msg.Embeds[0])
	field := channels.Field{Name: "📍 Location", Value: fmt.Sprintf("[%s](%s)", location, MapsURL(location))}
	if len(card.Fields) == 0 {
		card.Fields = []channels.Field{field}
	} else {
		card.Fields[0] = field
	}
	edit := discordgo.NewMessageEdit(e.ChannelID.String(), id).SetEmbeds([]*discordgo.MessageEmbed{channels.ToEmbed(card)})
	if _, err := c.API.ChannelMessageEditComplex(edit, discordgo.WithContext(c.Ctx)); err != nil {
		return err
	}
	if _, err := m.Registry.Modify(id, func(e Entry) (Entry, error) {
		e.Location = location
		return e, nil
	}); err != nil {
		return err
	}

	ping, err := c.API.ChannelMessageSend(e.ChannelID.String(),
		fmt.Sprintf("📢 %s The location of **%s** changed! <@&%s>", Emoji, e.Name, e.RoleID), discordgo.WithContext(c.Ctx))
	if err == nil {
		bot.DeleteAfter(c.Tasks, c.API, ping, LocationPingTTL)
	}
	return c.Reply("✅ Location updated.")
}

func (m *Commands) cancel(c *bot.Context) error {
	id := c.Arg(0)
	if id == "" {
		return bot.Errorf("⚠️ Usage: `%seat cancel <message_id>`", c.Prefix)
	}
	e, err := m.owned(c, id)
	if err != nil {
		return err
	}

	if err := c.API.GuildRoleDelete(c.GuildID(), e.RoleID.String(), discordgo.WithContext(c.Ctx)); err != nil {
		m.Logger.Warn("meetup: role delete failed", "meetup", id, "role", e.RoleID, "error", err)
	}
	if msg, err := c.API.ChannelMessage(e.ChannelID.String(), id, discordgo.WithContext(c.Ctx)); err != nil {
		m.Logger.Warn("meetup: card not found", "meetup", id, "error", err)
	} else {
		card := &channels.Embed{}
		if len(msg.Embeds) > 0 {
			card = channels.FromEmbed(msg.Embeds[0])
		}
		card.Title = "❌ [Canceled] " + e.Name
		card.Color = channels.ColorRed
		card.Fields = slices.DeleteFunc(card.Fields, func(f channels.Field) bool { return f.Name == "How to join" })
		edit := discordgo.NewMessageEdit(e.ChannelID.String(), id).SetEmbeds([]*discordgo.MessageEmbed{channels.ToEmbed(card)})
		if _, err := c.API.ChannelMessageEditComplex(edit, discordgo.WithContext(c.Ctx)); err != nil {
			m.Logger.Warn("meetup: card edit failed", "meetup", id, "error", err)
		}
		if err := c.API.MessageReactionsRemoveAll(e.ChannelID.String(), id, discordgo.WithContext(c.Ctx)); err != nil {
			m.Logger.Warn("meetup: clear reactions failed", "meetup", id, "error", err)
		}
	}

	if _, err := m.Registry.Remove(id); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return err
	}
	return c.Reply("✅ Canceled **%s** and deleted its role.", e.Name)
}

// Nudger suggests !eat add when a chat message mentions food plans.
type Nudger struct {
	Keywords []string
	Prefix   string
	// TTL is how long the hint stays up. Default: 15s.
	TTL   time.Duration
	Tasks *bot.Tasks
}

// DefaultKeywords trigger the nudge.
var DefaultKeywords = []string{"想要吃", "想去吃", "吃", "想去", "攀岩", "要去"}

// Hook implements bot.MessageHook.
func (n *Nudger) Hook(ctx context.Context, api bot.Discord, m *discordgo.Message) error {
	if !slices.ContainsFunc(n.Keywords, func(k string) bool { return k != "" && strings.Contains(m.Content, k) }) {
		return nil
	}
	hint, err := api.ChannelMessageSend(m.ChannelID,
		fmt.Sprintf("Planning a meetup, <@%s>?\nTry `%seat add` to start one!", m.Author.ID, n.Prefix),
		discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	ttl := n.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	bot.DeleteAfter(n.Tasks, api, hint, ttl)
	return nil
}
