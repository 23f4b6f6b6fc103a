package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/watch"
)

// Commands implements the !stock command group.
type Commands struct {
	Registry *registry.Registry[Entry]
	Engine   *watch.Engine[Entry, Snapshot]
	Fetcher  *Fetcher
	// Schedule is shown in list replies.
	Schedule string
	// Delay separates upstream reads in "check" without a ticker.
	Delay  time.Duration
	Logger *slog.Logger
}

// Command returns the command definition for the router.
func (m *Commands) Command() bot.Command {
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return bot.Command{
		Name:    "stock",
		Aliases: []string{"股票"},
		Summary: "Daily technical signals for a ticker list.",
		Color:   channels.ColorBlue,
		Sub: []bot.Subcommand{
			{Name: "add", Aliases: []string{"新增"}, Usage: "add <ticker>", Run: m.add},
			{Name: "remove", Aliases: []string{"移除", "刪除"}, Usage: "remove <ticker>", Run: m.remove},
			{Name: "list", Aliases: []string{"清單"}, Run: m.list},
			{Name: "check", Aliases: []string{"檢查"}, Usage: "check [ticker]", Run: m.check},
		},
	}
}

func (m *Commands) add(c *bot.Context) error {
	ticker := NormalizeTicker(c.Arg(0))
	if ticker == "" {
		return bot.Errorf("⚠️ Usage: `%sstock add <ticker>`", c.Prefix)
	}
	if _, err := m.Registry.Get(ticker); err == nil {
		return bot.Errorf("⚠️ `%s` is already on the list.", ticker)
	}
	c.Reply("🔎 Checking `%s`...", ticker)
	if _, err := m.Fetcher.Query(c.Ctx, ticker, RangeValidate); err != nil {
		m.Logger.Info("stock: ticker rejected", "ticker", ticker, "error", err)
		return bot.Errorf("❌ `%s` is not a valid ticker or has no data.", ticker)
	}
	err := m.Registry.Add(Entry{Ticker: ticker, AddedBy: c.DisplayName()})
	if errors.Is(err, registry.ErrDuplicate) {
		return bot.Errorf("⚠️ `%s` is already on the list.", ticker)
	}
	if err != nil {
		return err
	}
	return c.Reply("✅ Added `%s` to the list.", ticker)
}

func (m *Commands) remove(c *bot.Context) error {
	ticker := NormalizeTicker(c.Arg(0))
	if ticker == "" {
		return bot.Errorf("⚠️ Usage: `%sstock remove <ticker>`", c.Prefix)
	}
	if _, err := m.Registry.Remove(ticker); errors.Is(err, registry.ErrNotFound) {
		return bot.Errorf("⚠️ `%s` is not on the list.", ticker)
	} else if err != nil {
		return err
	}
	return c.Reply("✅ Removed `%s`.", ticker)
}

func (m *Commands) list(c *bot.Context) error {
	entries, err := m.Registry.Load()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return c.Reply("The stock list is empty.")
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("• `%s` %s", e.Ticker, signalsLabel(e.Status()))
	}
	embed := &channels.Embed{
		Title:       "📋 Stock list",
		Description: fmt.Sprintf("**%d** tickers. Checked on schedule `%s`.", len(entries), m.Schedule),
		Color:       channels.ColorBlue,
		Footer:      fmt.Sprintf("Use %sstock add / %sstock remove to edit.", c.Prefix, c.Prefix),
		Timestamp:   time.Now(),
	}
	embed.AddField("Tickers", strings.Join(lines, "\n"), false)
	return c.ReplyEmbed(embed)
}

func (m *Commands) check(c *bot.Context) error {
	var targets []string
	if t := NormalizeTicker(c.Arg(0)); t != "" {
		targets = []string{t}
	} else {
		entries, err := m.Registry.Load()
		if err != nil {
			return err
		}
		for _, e := range entries {
			targets = append(targets, e.Ticker)
		}
	}
	if len(targets) == 0 {
		return c.Reply("The stock list is empty.")
	}
	c.Reply("🔎 Checking **%d** ticker(s)...", len(targets))

	var lines []string
	for i, t := range targets {
		if i > 0 {
			if err := wait(c.Ctx, m.Delay); err != nil {
				return err
			}
		}
		res, err := m.Engine.CheckOne(c.Ctx, t)
		switch {
		case errors.Is(err, watch.ErrUnknownTarget):
			return bot.Errorf("⚠️ `%s` is not on the list.", t)
		case err != nil:
			lines = append(lines, fmt.Sprintf("• `%s` ❌ %v", t, err))
		default:
			lines = append(lines, fmt.Sprintf("• `%s` %s", t, signalsLabel(res.New)))
		}
	}
	return c.Reply("%s", strings.Join(lines, "\n"))
}

func signalsLabel(s watch.State) string {
	switch {
	case !s.IsSet():
		return "(not checked yet)"
	case len(s.Kinds()) == 0:
		return "no signals"
	default:
		return strings.Join(s.Kinds(), ", ")
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
