package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tipbot/internal/storage"
	kit "tipbot/internal/transport"
	logx "tipbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Tips     TipsConfig     `json:"tips"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives mirrored log lines.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the tip database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tipbot.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TipsConfig tunes the daily tip loop. The schedule itself (chat, hour,
// minute) lives in the database and is changed with /scheduler_config.
type TipsConfig struct {
	// Timezone is an IANA zone name; empty means the host's local time.
	Timezone     string `json:"timezone,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
}

// Defaults applied by the resolve helpers.
const (
	DefaultPollTimeout  = 10 * time.Second
	DefaultBusyTimeout  = 5 * time.Second
	DefaultPollInterval = 60 * time.Second
	DefaultSendTimeout  = 15 * time.Second
)

// Validate checks everything that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.Telegram.LogTarget(c.Logging.Telegram.ThreadID); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Storage.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, _, _, err := c.Tips.Resolve(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolvedPollTimeout returns the long-poll timeout, defaulting to 10s.
func (t TelegramConfig) ResolvedPollTimeout() time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

// LogTarget parses GroupLog. ok is false when it is empty.
func (t TelegramConfig) LogTarget(threadID int) (to kit.ChatTarget, ok bool, err error) {
	raw := strings.TrimSpace(t.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, false, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return kit.ChatTarget{ChatID: id, ThreadID: threadID}, true, nil
}

// Logx converts the logging section into the logging service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func (s StorageConfig) Resolve() (storage.Config, error) {
	busy, err := ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	path := strings.TrimSpace(s.Path)
	if (driver == "" || driver == "sqlite" || driver == "sqlite3") && path == "" {
		path = "./data/tipbot.sqlite"
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// Resolve returns the tip loop location, poll interval and send timeout.
func (t TipsConfig) Resolve() (*time.Location, time.Duration, time.Duration, error) {
	loc := time.Local
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("tips.timezone: %w", err)
		}
		loc = l
	}
	poll, err := ParseDurationOrDefault("tips.poll_interval", t.PollInterval, DefaultPollInterval)
	if err != nil {
		return nil, 0, 0, err
	}
	send, err := ParseDurationOrDefault("tips.send_timeout", t.SendTimeout, DefaultSendTimeout)
	if err != nil {
		return nil, 0, 0, err
	}
	return loc, poll, send, nil
}
