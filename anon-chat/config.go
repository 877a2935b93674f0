package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gosuda/portal-chat/anon-chat/channel"
	"github.com/gosuda/portal-chat/anon-chat/session"
)

const envPrefix = "ANONCHAT"

const (
	channelFeed  = "feed"
	channelLocal = "local"
)

var errInvalidConfig = errors.New("invalid config")

// Config is the resolved runtime configuration. Flags win over env vars,
// which win over the optional config file.
type Config struct {
	ServerURLs   []string      `mapstructure:"server-url"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	CredKey      string        `mapstructure:"cred-key"`
	DataPath     string        `mapstructure:"data-path"`
	RedisAddr    string        `mapstructure:"redis-addr"`
	Channel      string        `mapstructure:"channel"`
	IdleTimeout  time.Duration `mapstructure:"idle-timeout"`
	HistoryLimit int           `mapstructure:"history-limit"`
	LogLevel     string        `mapstructure:"log-level"`
}

func registerFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringSlice("server-url", strings.Split(os.Getenv("RELAY"), ","), "relayserver base URL(s); repeat or comma-separated (from env RELAY if set)")
	flags.Int("port", 8091, "optional local HTTP port (negative to disable)")
	flags.String("name", "anon-chat", "backend display name")
	flags.String("cred-key", "", "optional credential key to use for the listener (base64 encoded)")
	flags.String("data-path", "", "directory for the PebbleDB store; empty keeps everything in memory")
	flags.String("redis-addr", "", "optional Redis address for the per-room sequence counter")
	flags.String("channel", channelFeed, "message channel: feed (shared, live) or local (per room list, no fan-out)")
	flags.Duration("idle-timeout", session.DefaultIdleTimeout, "inactivity after which a room is cleaned")
	flags.Int("history-limit", channel.DefaultHistoryLimit, "messages replayed when joining a room")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("config", "", "optional YAML config file")
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ServerURLs = lo.Compact(lo.Map(cfg.ServerURLs, func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Channel != channelFeed && c.Channel != channelLocal {
		return fmt.Errorf("%w: channel must be %q or %q, got %q", errInvalidConfig, channelFeed, channelLocal, c.Channel)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle-timeout must be positive", errInvalidConfig)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: history-limit must be positive", errInvalidConfig)
	}
	if len(c.ServerURLs) == 0 && c.Port < 0 {
		return fmt.Errorf("%w: no relay server and local port disabled", errInvalidConfig)
	}
	return nil
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: log-level: %w", errInvalidConfig, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}
