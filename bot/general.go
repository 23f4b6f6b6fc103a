package bot

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/channels"
)

// GeneralConfig configures ping, clean and help.
type GeneralConfig struct {
	// CleanAllowed lists the channels where clean may be used. Empty
	// disables clean everywhere.
	CleanAllowed []string
	// NoticeTTL is how long the clean confirmation stays. Default: 8s.
	NoticeTTL time.Duration
}

// RegisterGeneral adds ping, clean and help to b's router.
func RegisterGeneral(b *Bot, cfg GeneralConfig) {
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 8 * time.Second
	}
	r := b.Router()

	r.Handle(Command{
		Name:    "ping",
		Summary: "Gateway latency.",
		Usage:   []string{"ping"},
		Run: func(c *Context) error {
			return c.Reply("%d (ms)", c.API.HeartbeatLatency().Milliseconds())
		},
	})

	r.Handle(Command{
		Name:    "clean",
		Summary: "Delete recent messages in this channel.",
		Usage:   []string{"clean <n>"},
		Perm:    discordgo.PermissionManageMessages,
		Run: func(c *Context) error {
			return clean(c, cfg)
		},
	})

	r.Handle(Command{
		Name:    "help",
		Aliases: []string{"說明", "幫助", "h"},
		Summary: "List every command.",
		Usage:   []string{"help"},
		Run: func(c *Context) error {
			return c.ReplyEmbed(Help(r))
		},
	})
}

func clean(c *Context, cfg GeneralConfig) error {
	if !slices.Contains(cfg.CleanAllowed, c.ChannelID()) {
		if len(cfg.CleanAllowed) == 0 {
			return Errorf("clean is not enabled in any channel.")
		}
		mentions := make([]string, len(cfg.CleanAllowed))
		for i, id := range cfg.CleanAllowed {
			mentions[i] = "<#" + id + ">"
		}
		return Errorf("clean only works in %s.", strings.Join(mentions, ", "))
	}

	n, err := strconv.Atoi(c.Arg(0))
	if err != nil || n < 1 || n > 100 {
		return Errorf("⚠️ Usage: `%sclean <n>` with n between 1 and 100.", c.Prefix)
	}

	// The command message itself goes too.
	limit := min(n+1, 100)
	msgs, err := c.API.ChannelMessages(c.ChannelID(), limit, "", "", "", discordgo.WithContext(c.Ctx))
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := c.API.ChannelMessagesBulkDelete(c.ChannelID(), ids, discordgo.WithContext(c.Ctx)); err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}

	deleted := len(ids)
	if slices.Contains(ids, c.Message.ID) {
		deleted--
	}
	notice, err := c.API.ChannelMessageSend(c.ChannelID(), fmt.Sprintf("Deleted %d messages.", deleted), discordgo.WithContext(c.Ctx))
	if err != nil {
		return err
	}
	DeleteAfter(c.Tasks, c.API, notice, cfg.NoticeTTL)
	return nil
}

// DeleteAfter removes msg after ttl as a background task.
func DeleteAfter(t *Tasks, api Discord, msg *discordgo.Message, ttl time.Duration) {
	if t == nil || msg == nil {
		return
	}
	t.Go("delete "+msg.ID, func(ctx context.Context) error {
		timer := time.NewTimer(ttl)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		// Shutdown still removes the notice.
		return api.ChannelMessageDelete(msg.ChannelID, msg.ID)
	})
}

// Help renders the command overview.
func Help(r *Router) *channels.Embed {
	p := r.Prefix()
	e := &channels.Embed{
		Title:       "🤖 NBot commands",
		Description: fmt.Sprintf("Use `%scommand`. Run a group without arguments for its usage.", p),
		Color:       0x7289DA,
		Footer:      fmt.Sprintf("%shelp", p),
	}
	for _, cmd := range r.Commands() {
		var lines []string
		if cmd.Summary != "" {
			lines = append(lines, cmd.Summary)
		}
		if len(cmd.Sub) > 0 {
			subs := make([]string, len(cmd.Sub))
			for i, s := range cmd.Sub {
				subs[i] = "`" + s.Name + "`"
			}
			lines = append(lines, "└ "+strings.Join(subs, ", "))
		}
		if len(lines) == 0 {
			lines = append(lines, "\u200b")
		}
		e.AddField(p+cmd.Name, strings.Join(lines, "\n"), false)
	}
	return e
}
