package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/fetch"
)

// DefaultDuration is used when no duration is given.
const DefaultDuration = 60

// DefaultKey is the calendar key used when none is given.
const DefaultKey = "default"

var dateLayouts = []string{"2006-01-02 15:04", "2006-01-02"}

// Commands implements !addevent.
type Commands struct {
	Client *Client
	// Calendars maps the short keys users type to calendar ids. An empty
	// map passes the key through for the web app to resolve.
	Calendars map[string]string
	Logger    *slog.Logger
}

// Command returns the command definition for the router.
func (m *Commands) Command() bot.Command {
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return bot.Command{
		Name:    "addevent",
		Aliases: []string{"addcal", "增加行程", "增加行事曆", "新增行程", "新增行事曆", "增加活動", "新增活動"},
		Summary: "Add an event to the shared Google Calendar.",
		Usage:   []string{`addevent "<YYYY-MM-DD [HH:MM]>" "<title>" [minutes] [calendar] [location] [description…]`},
		Color:   channels.ColorBlue,
		Run:     m.add,
	}
}

func (m *Commands) usage(c *bot.Context, problem string) error {
	return bot.Errorf("⚠️ %s\n"+
		"**Format:** `%saddevent \"YYYY-MM-DD [HH:MM]\" \"Title\" [minutes] [calendar]`\n"+
		"**Timed:** `%saddevent \"2026-12-25 10:00\" \"Christmas party\" 120 school`\n"+
		"**All day:** `%saddevent \"2026-12-24\" \"Christmas Eve\"`", problem, c.Prefix, c.Prefix, c.Prefix)
}

// parse turns the arguments into an event.
func (m *Commands) parse(c *bot.Context) (Event, error) {
	if len(c.Args) < 2 {
		return Event{}, m.usage(c, "Both a date and a title are required.")
	}
	ev := Event{
		DateTime:    c.Arg(0),
		Title:       c.Arg(1),
		Duration:    DefaultDuration,
		CalendarID:  DefaultKey,
		Description: fmt.Sprintf("Added by %s in <#%s>.", c.DisplayName(), c.ChannelID()),
		Location:    c.Arg(4),
	}
	if !slices.ContainsFunc(dateLayouts, func(l string) bool {
		_, err := time.Parse(l, ev.DateTime)
		return err == nil
	}) {
		return Event{}, m.usage(c, fmt.Sprintf("`%s` is not a date.", ev.DateTime))
	}
	if raw := c.Arg(2); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Event{}, m.usage(c, "The duration must be a positive number of minutes. Quote the date and title.")
		}
		ev.Duration = n
	}
	if key := c.Arg(3); key != "" {
		ev.CalendarID = key
	}
	if len(m.Calendars) > 0 {
		id, ok := m.Calendars[ev.CalendarID]
		if !ok {
			keys := slices.Sorted(maps.Keys(m.Calendars))
			return Event{}, bot.Errorf("❌ Unknown calendar `%s`. Known: %s", ev.CalendarID, strings.Join(keys, ", "))
		}
		ev.CalendarID = id
	}
	if len(c.Args) > 5 {
		ev.Description = strings.Join(c.Args[5:], " ")
	}
	return ev, nil
}

func (m *Commands) add(c *bot.Context) error {
	if m.Client == nil || m.Client.url == "" {
		return bot.Errorf("❌ The calendar is not configured (CALENDAR_API_URL is unset).")
	}
	ev, err := m.parse(c)
	if err != nil {
		return err
	}
	if err := c.Reply("Adding `%s` to Google Calendar...", ev.Title); err != nil {
		return err
	}

	resp, err := m.Client.Create(c.Ctx, ev)
	var (
		apiErr    *APIError
		statusErr *fetch.StatusError
	)
	switch {
	case err == nil:
		m.Logger.Info("calendar: event added", "title", ev.Title, "calendar", ev.CalendarID, "user", c.Author().ID)
		if resp.Link == "" {
			return c.Reply("%s", resp.Message)
		}
		return c.Reply("%s\n[🔗 Open the event](%s)", resp.Message, resp.Link)
	case errors.As(err, &apiErr):
		return bot.Errorf("❌ **The calendar web app refused the event:** %s\n"+
			"Check the date format and calendar key, and that the latest web app version is deployed.", apiErr.Message)
	case errors.As(err, &statusErr):
		return bot.Errorf("❌ **Request failed:** HTTP %d. Check that the web app URL is deployed.", statusErr.Code)
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout"):
		return bot.Errorf("❌ **Timed out** waiting for the calendar web app.")
	default:
		return err
	}
}
