package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yu320/NBot/admin"
	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/calendar"
	"github.com/yu320/NBot/channels"
	"github.com/yu320/NBot/config"
	"github.com/yu320/NBot/fetch"
	"github.com/yu320/NBot/history"
	"github.com/yu320/NBot/monitors/enrollment"
	"github.com/yu320/NBot/monitors/meetup"
	"github.com/yu320/NBot/monitors/stock"
	"github.com/yu320/NBot/monitors/traffic"
	"github.com/yu320/NBot/registry"
	"github.com/yu320/NBot/scheduler"
	"github.com/yu320/NBot/watch"
)

// app holds the long-lived pieces main assembles.
type app struct {
	cfg     *config.Config
	bot     *bot.Bot
	sched   *scheduler.Scheduler
	history *history.Store
	logger  *slog.Logger

	domains []admin.Domain
	browser *fetch.Browser
}

func (a *app) wire() error {
	steps := []func() error{a.wireEnrollment, a.wireTraffic, a.wireStock, a.wireMeetup}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	a.wireCalendar()
	return nil
}

func (a *app) close() {
	if a.browser != nil {
		a.browser.Close()
	}
}

func (a *app) path(name string) string { return filepath.Join(a.cfg.DataDir, name) }

func (a *app) options(delay time.Duration) watch.Options {
	return watch.Options{Delay: delay, Logger: a.logger, Recorder: a.history}
}

// sink builds the notification path of one domain: the Discord channel (or
// stdout in dry-run mode) plus every webhook subscribed to the domain.
func (a *app) sink(domain, channelID string) channels.Sink {
	var primary channels.Sink
	if a.cfg.DryRun {
		primary = channels.NewStdout(os.Stdout)
	} else {
		primary = channels.NewDiscord(a.bot.API(),
			channels.WithFallbackChannel(channelID),
			channels.WithDiscordLogger(a.logger))
	}
	hooks := a.cfg.WebhooksFor(domain)
	if len(hooks) == 0 {
		return primary
	}
	sinks := []channels.Sink{primary}
	for _, h := range hooks {
		sinks = append(sinks, channels.NewWebhook(h.URL,
			channels.WithWebhookUsername(h.Username),
			channels.WithWebhookRetries(h.Retries),
			channels.WithWebhookLogger(a.logger)))
	}
	return channels.NewRouter(a.logger, sinks...)
}

// enabled reports whether domain is fully configured. When it is not, cmd
// is registered in its disabled form so users learn why.
func (a *app) enabled(domain string, cmd bot.Command) bool {
	if err := a.cfg.Domain(domain).Validate(); err != nil {
		a.logger.Warn("nbot: domain disabled", "domain", domain, "error", err)
		a.bot.Router().Handle(bot.Disabled(cmd, err))
		return false
	}
	return true
}

// schedule registers the engine's cycle job and exposes it to the admin API.
func (a *app) schedule(r watch.Runner, spec string) error {
	err := a.sched.Add(r.Name(), spec, func(ctx context.Context) {
		if _, err := r.RunCycle(ctx); err != nil {
			a.logger.Warn("nbot: cycle skipped", "domain", r.Name(), "error", err)
		}
	})
	if err != nil {
		return err
	}
	a.domains = append(a.domains, admin.Domain{Runner: r, Schedule: spec})
	return nil
}

// interval extracts the period of an "@every" spec for user-facing text.
func interval(spec string) time.Duration {
	d, err := time.ParseDuration(strings.TrimPrefix(spec, "@every "))
	if err != nil || !strings.HasPrefix(spec, "@every ") {
		return 0
	}
	return d
}

func (a *app) wireEnrollment() error {
	c := a.cfg.Enrollment
	reg := registry.New[enrollment.Entry](a.path("monitor_list.json"), registry.WithLogger[enrollment.Entry](a.logger))
	cmds := &enrollment.Commands{
		Registry:        reg,
		ChannelID:       c.ChannelID,
		RoleAnchorID:    c.RoleAnchorID,
		DefaultSemester: c.Semester,
		Interval:        interval(c.Schedule),
		Logger:          a.logger,
	}
	if !a.enabled(enrollment.Domain, cmds.Command()) {
		return nil
	}

	fc := enrollment.FetcherConfig{URL: c.URL, Insecure: c.Insecure, Logger: a.logger}
	if c.Browser.Enabled {
		a.browser = fetch.NewBrowser(fetch.BrowserConfig{RemoteURL: c.Browser.Remote, Stealth: true})
		fc.Browser = a.browser
	}
	f := enrollment.NewFetcher(fc)
	n := &enrollment.Notifier{Sink: a.sink(enrollment.Domain, c.ChannelID)}
	cmds.Engine = watch.New(enrollment.Domain, reg, watch.Funcs[enrollment.Entry, enrollment.Snapshot]{
		Fetch:    f.Fetch,
		Classify: enrollment.Classify,
		Notify:   n.Notify,
		Validate: enrollment.Validate,
		Refresh:  enrollment.Refresh,
	}, a.options(c.Delay))

	a.bot.Router().Handle(cmds.Command())
	return a.schedule(cmds.Engine, c.Schedule)
}

func (a *app) wireTraffic() error {
	c := a.cfg.Traffic
	reg := registry.New[traffic.Entry](a.path("ip_monitor_list.json"), registry.WithLogger[traffic.Entry](a.logger))
	rules := traffic.Rules{Threshold: c.Threshold}
	f := traffic.NewFetcher(traffic.FetcherConfig{URL: c.URL, Insecure: c.Insecure})
	cmds := &traffic.Commands{
		Registry: reg,
		Fetcher:  f,
		Rules:    rules,
		Interval: interval(c.Schedule),
		Logger:   a.logger,
	}
	if !a.enabled(traffic.Domain, cmds.Command()) {
		return nil
	}

	n := &traffic.Notifier{Sink: a.sink(traffic.Domain, c.ChannelID), ChannelID: c.ChannelID, Rules: rules}
	cmds.Engine = watch.New(traffic.Domain, reg, watch.Funcs[traffic.Entry, traffic.Snapshot]{
		Fetch:    f.Fetch,
		Classify: rules.Classify,
		Notify:   n.Notify,
	}, a.options(c.Delay))

	a.bot.Router().Handle(cmds.Command())
	return a.schedule(cmds.Engine, c.Schedule)
}

func (a *app) wireStock() error {
	c := a.cfg.Stock
	reg := registry.New[stock.Entry](a.path("stock_list.json"),
		registry.WithLogger[stock.Entry](a.logger),
		registry.WithSeed(stock.Seed()...))
	f := stock.NewFetcher(stock.FetcherConfig{BaseURL: c.BaseURL})
	cmds := &stock.Commands{
		Registry: reg,
		Fetcher:  f,
		Schedule: c.Schedule,
		Delay:    c.Delay,
		Logger:   a.logger,
	}
	if !a.enabled(stock.Domain, cmds.Command()) {
		return nil
	}

	sig := c.Signals
	rules := stock.Rules{
		Proximity:     sig.Proximity,
		RSIOverbought: sig.RSIOverbought,
		RSIOversold:   sig.RSIOversold,
		VolumeFactor:  sig.VolumeFactor,
	}
	n := &stock.Notifier{Sink: a.sink(stock.Domain, c.ChannelID), ChannelID: c.ChannelID, RoleID: c.RoleID, Rules: rules}
	cmds.Engine = watch.New(stock.Domain, reg, watch.Funcs[stock.Entry, stock.Snapshot]{
		Fetch:    f.Fetch,
		Classify: rules.Classify,
		Notify:   n.Notify,
	}, a.options(c.Delay))

	a.bot.Router().Handle(cmds.Command())
	return a.schedule(cmds.Engine, c.Schedule)
}

// wireMeetup registers !eat, the live reaction handler and the reconcile
// cycle that repairs reactions missed while offline.
func (a *app) wireMeetup() error {
	c := a.cfg.Meetup
	reg := registry.New[meetup.Entry](a.path("meetup_list.json"), registry.WithLogger[meetup.Entry](a.logger))
	cmds := &meetup.Commands{Registry: reg, RequiredRole: c.RequiredRole, Logger: a.logger}
	a.bot.Router().Handle(cmds.Command())

	live := &meetup.Live{Registry: reg, Logger: a.logger}
	a.bot.OnReaction(live.HandleReaction)

	if c.Nudge {
		keywords := c.Keywords
		if len(keywords) == 0 {
			keywords = meetup.DefaultKeywords
		}
		nudger := &meetup.Nudger{Keywords: keywords, Prefix: a.cfg.Prefix, Tasks: a.bot.Tasks()}
		a.bot.OnMessage(nudger.Hook)
	}

	api := a.bot.API()
	eng := watch.New(meetup.Domain, reg, watch.Funcs[meetup.Entry, meetup.Snapshot]{
		Fetch:    (&meetup.Fetcher{API: api, SelfID: a.bot.SelfID}).Fetch,
		Classify: meetup.Classify,
		Notify:   (&meetup.Notifier{API: api, Logger: a.logger}).Notify,
		Validate: meetup.Validate,
	}, a.options(0))
	return a.schedule(eng, c.Schedule)
}

func (a *app) wireCalendar() {
	c := a.cfg.Calendar
	cmds := &calendar.Commands{Calendars: c.Calendars, Logger: a.logger}
	if !a.enabled("calendar", cmds.Command()) {
		return
	}
	cmds.Client = calendar.NewClient(c.URL, c.Timeout)
	a.bot.Router().Handle(cmds.Command())
}
