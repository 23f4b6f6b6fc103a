// Command nbot runs the community bot: the Discord gateway, the monitor
// schedules and the optional admin API.
//
// Usage:
//
//	nbot -config nbot.yaml              # YAML file plus .env and environment
//	nbot -dry-run                       # print notifications instead of posting
//	nbot -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yu320/NBot/admin"
	"github.com/yu320/NBot/bot"
	"github.com/yu320/NBot/config"
	"github.com/yu320/NBot/history"
	"github.com/yu320/NBot/scheduler"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "nbot.yaml", "path to the YAML config file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default LOG_LEVEL or info)")
	dryRun := flag.Bool("dry-run", false, "print notifications to stdout instead of posting them")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("nbot", version)
		return
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, level, *configPath, *envFile, *logLevel, *dryRun); err != nil {
		logger.Error("nbot: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar, configPath, envFile, logLevel string, dryRun bool) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	level.Set(parseLevel(logLevel))
	cfg.DryRun = cfg.DryRun || dryRun
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	b, err := bot.New(cfg.Token, bot.Config{Prefix: cfg.Prefix, OnlineChannelID: cfg.OnlineChannelID, Logger: logger})
	if err != nil {
		return err
	}
	bot.RegisterGeneral(b, bot.GeneralConfig{CleanAllowed: cfg.CleanAllowedChannels})

	hist, err := history.Open(filepath.Join(cfg.DataDir, "history.db"), logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	sched := scheduler.New(scheduler.WithLogger(logger))
	a := &app{cfg: cfg, bot: b, sched: sched, history: hist, logger: logger}
	if err := a.wire(); err != nil {
		return err
	}
	defer a.close()

	if err := sched.Add("history-cleanup", cfg.History.Cleanup, func(ctx context.Context) {
		n, err := hist.Cleanup(ctx, cfg.History.RetentionDays)
		if err != nil {
			logger.Warn("history: cleanup failed", "error", err)
			return
		}
		logger.Info("history: cleanup done", "removed", n)
	}); err != nil {
		return err
	}

	srv := a.adminServer()
	if srv != nil {
		go func() {
			logger.Info("admin: listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin: server failed", "error", err)
			}
		}()
	}

	if err := b.Open(); err != nil {
		return err
	}
	sched.Start(b.Ready())
	logger.Info("nbot: running", "version", version, "domains", len(a.domains), "dry_run", cfg.DryRun)

	<-ctx.Done()
	logger.Info("nbot: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		srv.Shutdown(shutdownCtx)
	}
	sched.Stop()
	return b.Close()
}

func (a *app) adminServer() *http.Server {
	if a.cfg.Admin.Addr == "" {
		return nil
	}
	s := admin.New(admin.Config{
		Domains:      a.domains,
		History:      a.history,
		Schedules:    a.sched,
		User:         a.cfg.Admin.User,
		PasswordHash: a.cfg.Admin.PasswordHash,
		Version:      version,
		Logger:       a.logger,
	})
	return &http.Server{Addr: a.cfg.Admin.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
}
