// Package config loads the relay's runtime settings from defaults, an
// optional YAML file, and PARLEY_* environment variables, in that
// order of precedence (lowest first).
package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. The only setting the core
// truly needs is the bind address; the rest tunes the transport and
// logging.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `mapstructure:"address"`
	// Origins lists allowed websocket origins. Empty allows all,
	// which is only sensible in development.
	Origins []string `mapstructure:"origins"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MessagesPerSecond float64 `mapstructure:"messagesPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.origins", []string{})
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.messagesPerSecond", 100)
	v.SetDefault("ratelimit.burst", 200)
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("config file not found, relying on defaults and env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LogLevel maps the configured level name onto a slog.Level, falling
// back to info for unknown names.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
