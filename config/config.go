// Package config loads the bot configuration: an optional YAML file, then
// the environment (after .env) on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissing is wrapped by every ConfigError about an unset value.
var ErrMissing = errors.New("not set")

// ConfigError names the setting that makes a configuration unusable.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return e.Field + " is " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

func missing(field string) error { return &ConfigError{Field: field, Err: ErrMissing} }

// Config is the whole bot configuration.
type Config struct {
	Token                string   `yaml:"-"`
	Prefix               string   `yaml:"prefix"`
	DataDir              string   `yaml:"data_dir"`
	LogLevel             string   `yaml:"log_level"`
	OnlineChannelID      string   `yaml:"online_channel_id"`
	CleanAllowedChannels []string `yaml:"clean_allowed_channels"`
	// DryRun prints notifications to stdout instead of posting them.
	DryRun bool `yaml:"dry_run"`

	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Traffic    TrafficConfig    `yaml:"traffic"`
	Stock      StockConfig      `yaml:"stock"`
	Meetup     MeetupConfig     `yaml:"meetup"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
	Admin      AdminConfig      `yaml:"admin"`
	History    HistoryConfig    `yaml:"history"`
}

// EnrollmentConfig configures the course-seat monitor.
type EnrollmentConfig struct {
	ChannelID    string        `yaml:"channel_id"`
	RoleAnchorID string        `yaml:"role_anchor_id"`
	URL          string        `yaml:"url"`
	Semester     string        `yaml:"semester"`
	Schedule     string        `yaml:"schedule"`
	Delay        time.Duration `yaml:"delay"`
	Insecure     bool          `yaml:"insecure"`
	Browser      BrowserConfig `yaml:"browser"`
}

// BrowserConfig switches the enrollment portal to headless Chrome.
type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	Remote  string `yaml:"remote"`
}

// TrafficConfig configures the IP traffic monitor.
type TrafficConfig struct {
	ChannelID string        `yaml:"channel_id"`
	URL       string        `yaml:"url"`
	Schedule  string        `yaml:"schedule"`
	Threshold float64       `yaml:"threshold_gb"`
	Delay     time.Duration `yaml:"delay"`
	Insecure  bool          `yaml:"insecure"`
}

// StockConfig configures the stock signal monitor.
type StockConfig struct {
	ChannelID string        `yaml:"channel_id"`
	RoleID    string        `yaml:"role_id"`
	BaseURL   string        `yaml:"base_url"`
	Schedule  string        `yaml:"schedule"`
	Delay     time.Duration `yaml:"delay"`
	Signals   SignalConfig  `yaml:"signals"`
}

// SignalConfig overrides the stock signal thresholds. Zero keeps the default.
type SignalConfig struct {
	Proximity     float64 `yaml:"proximity"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	VolumeFactor  float64 `yaml:"volume_factor"`
}

// MeetupConfig configures meetups and their reconcile pass.
type MeetupConfig struct {
	RequiredRole string   `yaml:"required_role"`
	Schedule     string   `yaml:"schedule"`
	Nudge        bool     `yaml:"nudge"`
	Keywords     []string `yaml:"keywords"`
}

// CalendarConfig configures !addevent.
type CalendarConfig struct {
	URL       string            `yaml:"url"`
	Calendars map[string]string `yaml:"calendars"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// WebhookConfig mirrors notifications of some domains to a webhook.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Username string   `yaml:"username"`
	Retries  int      `yaml:"retries"`
	Domains  []string `yaml:"domains"` // empty = every domain
}

// AdminConfig configures the operator HTTP API.
type AdminConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

// HistoryConfig configures the cycle log.
type HistoryConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	Cleanup       string `yaml:"cleanup"`
}

// Default schedules.
const (
	EnrollmentSchedule = "@every 3m"
	TrafficSchedule    = "@every 10m"
	StockSchedule      = "CRON_TZ=Asia/Taipei 0 13 * * 1-5"
	MeetupSchedule     = "@every 15m"
)

// Load reads .env files, the YAML file at path and the environment. A
// missing .env or YAML file is not an error.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"DISCORD_TOKEN":            &c.Token,
		"MONITOR_CHANNEL_ID":       &c.Enrollment.ChannelID,
		"MONITOR_ROLE_CATEGORY_ID": &c.Enrollment.RoleAnchorID,
		"IP_MONITOR_CHANNEL_ID":    &c.Traffic.ChannelID,
		"STOCK_MONITOR_CHANNEL_ID": &c.Stock.ChannelID,
		"STOCK_MONITOR_ROLE_ID":    &c.Stock.RoleID,
		"CALENDAR_API_URL":         &c.Calendar.URL,
		"ONLINE_CHANNEL_ID":        &c.OnlineChannelID,
		"NBOT_DATA_DIR":            &c.DataDir,
		"NBOT_ADMIN_ADDR":          &c.Admin.Addr,
		"NBOT_ADMIN_USER":          &c.Admin.User,
		"NBOT_ADMIN_PASSWORD_HASH": &c.Admin.PasswordHash,
		"LOG_LEVEL":                &c.LogLevel,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup("CLEAN_ALLOWED_CHANNELS"); ok && v != "" {
		c.CleanAllowedChannels = splitList(v)
	}
	if v, ok := lookup("IP_MONITOR_THRESHOLD_GB"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "IP_MONITOR_THRESHOLD_GB", Err: fmt.Errorf("not a number: %q", v)}
		}
		c.Traffic.Threshold = f
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "!"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Enrollment.Schedule == "" {
		c.Enrollment.Schedule = EnrollmentSchedule
	}
	if c.Enrollment.Delay <= 0 {
		c.Enrollment.Delay = time.Second
	}
	if c.Traffic.Schedule == "" {
		c.Traffic.Schedule = TrafficSchedule
	}
	if c.Traffic.Delay <= 0 {
		c.Traffic.Delay = 30 * time.Second
	}
	if c.Stock.Schedule == "" {
		c.Stock.Schedule = StockSchedule
	}
	if c.Stock.Delay <= 0 {
		c.Stock.Delay = time.Second
	}
	if c.Meetup.Schedule == "" {
		c.Meetup.Schedule = MeetupSchedule
	}
	if c.Admin.User == "" {
		c.Admin.User = "admin"
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = 30
	}
	if c.History.Cleanup == "" {
		c.History.Cleanup = "@daily"
	}
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	if c.Token == "" {
		return missing("DISCORD_TOKEN")
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return missing(fmt.Sprintf("webhooks[%d].url", i))
		}
	}
	return nil
}

// Domain is the configuration section of one monitor.
type Domain interface {
	// Validate returns a *ConfigError when the monitor cannot run.
	Validate() error
}

// Domain returns the section for a monitor name.
func (c *Config) Domain(name string) Domain {
	switch name {
	case "enrollment":
		return &c.Enrollment
	case "traffic":
		return &c.Traffic
	case "stock":
		return &c.Stock
	case "meetup":
		return &c.Meetup
	case "calendar":
		return &c.Calendar
	}
	return unknown(name)
}

type unknown string

func (u unknown) Validate() error {
	return &ConfigError{Field: "domain " + string(u), Err: errors.New("unknown")}
}

func (e *EnrollmentConfig) Validate() error {
	if e.ChannelID == "" {
		return missing("MONITOR_CHANNEL_ID")
	}
	return nil
}

func (t *TrafficConfig) Validate() error {
	if t.ChannelID == "" {
		return missing("IP_MONITOR_CHANNEL_ID")
	}
	if t.Threshold < 0 {
		return &ConfigError{Field: "traffic.threshold_gb", Err: errors.New("negative")}
	}
	return nil
}

func (s *StockConfig) Validate() error {
	if s.ChannelID == "" {
		return missing("STOCK_MONITOR_CHANNEL_ID")
	}
	return nil
}

// Meetups need no channel: each card carries its own.
func (m *MeetupConfig) Validate() error { return nil }

func (c *CalendarConfig) Validate() error {
	if c.URL == "" {
		return missing("CALENDAR_API_URL")
	}
	return nil
}

// WebhooksFor returns the webhooks mirroring domain.
func (c *Config) WebhooksFor(domain string) []WebhookConfig {
	var out []WebhookConfig
	for _, w := range c.Webhooks {
		if len(w.Domains) == 0 || slices.Contains(w.Domains, domain) {
			out = append(out, w)
		}
	}
	return out
}
