package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/bot/bottest"
	"github.com/yu320/NBot/config"
	"github.com/yu320/NBot/dbopen"
	"github.com/yu320/NBot/history"
	"github.com/yu320/NBot/scheduler"
)

func TestInterval(t *testing.T) {
	if got := interval("@every 3m"); got != 3*time.Minute {
		t.Fatalf("interval = %v", got)
	}
	if got := interval("CRON_TZ=Asia/Taipei 0 13 * * 1-5"); got != 0 {
		t.Fatalf("cron interval = %v", got)
	}
}

func newApp(t *testing.T, cfg *config.Config) (*app, *bottest.Fake) {
	t.Helper()
	f := bottest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bot.NewWithAPI(f, bot.Config{Prefix: "!", Logger: logger})
	hist := history.New(dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema)), logger)
	sched := scheduler.New(scheduler.WithLogger(logger))
	t.Cleanup(sched.Stop)
	return &app{cfg: cfg, bot: b, sched: sched, history: hist, logger: logger}, f
}

func TestWireSchedulesConfiguredDomains(t *testing.T) {
	cfg := &config.Config{DataDir: t.TempDir(), Prefix: "!", DryRun: true}
	cfg.Enrollment.ChannelID = "111"
	cfg.Enrollment.Schedule = config.EnrollmentSchedule
	cfg.Meetup.Schedule = config.MeetupSchedule

	a, f := newApp(t, cfg)
	if err := a.wire(); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, d := range a.domains {
		names = append(names, d.Runner.Name())
	}
	if strings.Join(names, ",") != "enrollment,meetup" {
		t.Fatalf("scheduled = %v", names)
	}
	if len(a.sched.Entries()) != 2 {
		t.Fatalf("entries = %+v", a.sched.Entries())
	}

	// Unconfigured domains stay registered and explain what is missing.
	a.bot.HandleMessage(&discordgo.Message{
		ID: "m1", ChannelID: "c1", GuildID: "g1",
		Content: "!ipmonitor list",
		Author:  &discordgo.User{ID: "u1", Username: "alice"},
	})
	a.bot.Tasks().Wait()
	if got := f.LastSent().Content; !strings.Contains(got, "disabled") || !strings.Contains(got, "IP_MONITOR_CHANNEL_ID") {
		t.Fatalf("reply = %q", got)
	}

	a.bot.HandleMessage(&discordgo.Message{
		ID: "m2", ChannelID: "c1", GuildID: "g1",
		Content: "!addevent \"2026-10-20 18:00\" Dinner",
		Author:  &discordgo.User{ID: "u1", Username: "alice"},
	})
	a.bot.Tasks().Wait()
	if got := f.LastSent().Content; !strings.Contains(got, "CALENDAR_API_URL") {
		t.Fatalf("reply = %q", got)
	}
}
