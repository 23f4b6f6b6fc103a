package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets names for the test and restores them afterwards.
func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		t.Setenv(n, "")
		os.Unsetenv(n)
	}
}

var envNames = []string{
	"DISCORD_TOKEN", "MONITOR_CHANNEL_ID", "MONITOR_ROLE_CATEGORY_ID", "IP_MONITOR_CHANNEL_ID",
	"STOCK_MONITOR_CHANNEL_ID", "STOCK_MONITOR_ROLE_ID", "CALENDAR_API_URL", "CLEAN_ALLOWED_CHANNELS",
	"ONLINE_CHANNEL_ID", "NBOT_DATA_DIR", "NBOT_ADMIN_ADDR", "NBOT_ADMIN_USER", "NBOT_ADMIN_PASSWORD_HASH",
	"LOG_LEVEL", "IP_MONITOR_THRESHOLD_GB",
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t, envNames...)
	dir := t.TempDir()
	path := filepath.Join(dir, "nbot.yaml")
	yaml := `
prefix: "#"
enrollment:
  channel_id: "111"
  schedule: "@every 5m"
  delay: 3s
traffic:
  threshold_gb: 12.5
calendar:
  calendars:
    school: school@group
webhooks:
  - url: https://hooks.example/a
    domains: [stock]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("DISCORD_TOKEN=abc\nMONITOR_CHANNEL_ID=222\nCLEAN_ALLOWED_CHANNELS=1, 2,,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, env)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "abc" || cfg.Prefix != "#" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Enrollment.ChannelID != "222" {
		t.Fatalf("env should override yaml: %q", cfg.Enrollment.ChannelID)
	}
	if cfg.Enrollment.Schedule != "@every 5m" || cfg.Enrollment.Delay != 3*time.Second {
		t.Fatalf("enrollment = %+v", cfg.Enrollment)
	}
	if cfg.Traffic.Threshold != 12.5 || cfg.Traffic.Schedule != TrafficSchedule {
		t.Fatalf("traffic = %+v", cfg.Traffic)
	}
	if len(cfg.CleanAllowedChannels) != 3 || cfg.CleanAllowedChannels[1] != "2" {
		t.Fatalf("clean = %q", cfg.CleanAllowedChannels)
	}
	if cfg.Calendar.Calendars["school"] != "school@group" {
		t.Fatalf("calendars = %v", cfg.Calendar.Calendars)
	}
	if len(cfg.WebhooksFor("stock")) != 1 || len(cfg.WebhooksFor("traffic")) != 0 {
		t.Fatal("webhook domain filter")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	clearEnv(t, envNames...)
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Prefix != "!" || cfg.DataDir != "data" || cfg.Stock.Schedule != StockSchedule || cfg.Meetup.Schedule != MeetupSchedule {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Traffic.Delay != 30*time.Second || cfg.Stock.Delay != time.Second {
		t.Fatalf("delays = %v %v", cfg.Traffic.Delay, cfg.Stock.Delay)
	}
	if cfg.History.RetentionDays != 30 || cfg.Admin.User != "admin" {
		t.Fatalf("cfg = %+v", cfg)
	}

	var ce *ConfigError
	if err := cfg.Validate(); !errors.As(err, &ce) || ce.Field != "DISCORD_TOKEN" || !errors.Is(err, ErrMissing) {
		t.Fatalf("err = %v", err)
	}
}

func TestDomainValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	cases := map[string]string{
		"enrollment": "MONITOR_CHANNEL_ID",
		"traffic":    "IP_MONITOR_CHANNEL_ID",
		"stock":      "STOCK_MONITOR_CHANNEL_ID",
		"calendar":   "CALENDAR_API_URL",
	}
	for domain, field := range cases {
		var ce *ConfigError
		err := cfg.Domain(domain).Validate()
		if !errors.As(err, &ce) || ce.Field != field {
			t.Fatalf("%s: err = %v", domain, err)
		}
		if err.Error() != field+" is not set" {
			t.Fatalf("%s: message = %q", domain, err)
		}
	}
	if err := cfg.Domain("meetup").Validate(); err != nil {
		t.Fatalf("meetup: %v", err)
	}
	if err := cfg.Domain("music").Validate(); err == nil {
		t.Fatal("unknown domain accepted")
	}

	cfg.Stock.ChannelID = "333"
	if err := cfg.Domain("stock").Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestBadThreshold(t *testing.T) {
	cfg := &Config{}
	err := cfg.applyEnv(func(name string) (string, bool) {
		if name == "IP_MONITOR_THRESHOLD_GB" {
			return "ten", true
		}
		return "", false
	})
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "IP_MONITOR_THRESHOLD_GB" {
		t.Fatalf("err = %v", err)
	}
}
