package traffic

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// Commands implements the !ipmonitor command group.
type Commands struct {
	Registry *registry.Registry[Entry]
	Engine   *watch.Engine[Entry, Snapshot]
	// Fetcher runs the validation read on add.
	Fetcher  *Fetcher
	Rules    Rules
	Interval time.Duration
	Logger   *slog.Logger
}

// Command returns the command definition for the router.
func (m *Commands) Command() bot.Command {
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return bot.Command{
		Name:    "ipmonitor",
		Aliases: []string{"ip監測"},
		Summary: "Daily traffic watches for campus IPs.",
		Color:   channels.ColorBlue,
		Sub: []bot.Subcommand{
			{Name: "add", Aliases: []string{"新增"}, Usage: "add <ip>", Perm: discordgo.PermissionAdministrator, Run: m.add},
			{Name: "remove", Aliases: []string{"移除", "刪除"}, Usage: "remove <ip>", Perm: discordgo.PermissionAdministrator, Run: m.remove},
			{Name: "list", Aliases: []string{"清單"}, Run: m.list},
			{Name: "check", Aliases: []string{"檢查"}, Usage: "check <ip>", Run: m.check},
		},
	}
}

func (m *Commands) ip(c *bot.Context, usage string) (string, error) {
	raw := c.Arg(0)
	if raw == "" {
		return "", bot.Errorf("⚠️ Usage: `%sipmonitor %s`", c.Prefix, usage)
	}
	ip, err := ParseIP(raw)
	if err != nil {
		return "", bot.Errorf("⚠️ `%s` is not a valid IP address.", raw)
	}
	return ip, nil
}

func (m *Commands) add(c *bot.Context) error {
	ip, err := m.ip(c, "add <ip>")
	if err != nil {
		return err
	}
	if _, err := m.Registry.Get(ip); err == nil {
		return bot.Errorf("⚠️ IP `%s` is already watched.", ip)
	}

	c.Reply("⏳ Reading the current traffic of `%s`...", ip)
	snap, err := m.Fetcher.Query(c.Ctx, ip)
	if err != nil {
		m.Logger.Warn("traffic: validation fetch failed", "ip", ip, "error", err)
		return bot.Errorf("❌ Could not read `%s`. The netflow page may be down or the IP is wrong.", ip)
	}

	err = m.Registry.Add(Entry{IP: ip, UserID: registry.ID(c.Author().ID), SetBy: c.DisplayName()})
	if errors.Is(err, registry.ErrDuplicate) {
		return bot.Errorf("⚠️ IP `%s` is already watched.", ip)
	}
	if err != nil {
		return err
	}
	return c.Reply("✅ Watch added:\n**IP:** `%s`\n**Current reading:** %s (%g GB)",
		ip, StatusLabel(m.Rules.Classify(snap).Value()), snap.TotalGB)
}

func (m *Commands) remove(c *bot.Context) error {
	ip, err := m.ip(c, "remove <ip>")
	if err != nil {
		return err
	}
	if _, err := m.Registry.Remove(ip); errors.Is(err, registry.ErrNotFound) {
		return bot.Errorf("❌ IP `%s` is not watched.", ip)
	} else if err != nil {
		return err
	}
	return c.Reply("✅ Removed the watch on `%s`.", ip)
}

func (m *Commands) list(c *bot.Context) error {
	entries, err := m.Registry.Load()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return c.Reply("No IP watches yet.")
	}
	embed := &channels.Embed{
		Title:       "📈 IP traffic watches",
		Description: fmt.Sprintf("%d watches, checked every %s.", len(entries), m.Interval),
		Color:       channels.ColorBlue,
	}
	for _, e := range entries {
		setBy := e.SetBy
		if setBy == "" {
			setBy = "N/A"
		}
		embed.AddField("IP: "+e.IP, fmt.Sprintf("Status: **%s**\nSet by: %s", StatusLabel(e.LastStatus), setBy), false)
	}
	return c.ReplyEmbed(embed)
}

func (m *Commands) check(c *bot.Context) error {
	ip, err := m.ip(c, "check <ip>")
	if err != nil {
		return err
	}
	res, err := m.Engine.CheckOne(c.Ctx, ip)
	switch {
	case errors.Is(err, watch.ErrUnknownTarget):
		return bot.Errorf("❌ IP `%s` is not watched.", ip)
	case err != nil:
		return bot.Errorf("❌ Check failed: %v", err)
	}
	return c.Reply("📈 `%s`: %g GB today → **%s** (page updated %s)",
		ip, res.Snapshot.TotalGB, StatusLabel(res.New.Value()), res.Snapshot.Updated)
}
