package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/moviemate/moviemate"
	"github.com/ZanzyTHEbar/moviemate/moviemate/channel"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Channel       ChannelConfig      `mapstructure:"channel"`
	Conversations ConversationConfig `mapstructure:"conversations"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ChannelConfig describes the request/response slot pair and the wait policy.
type ChannelConfig struct {
	Dir          string        `mapstructure:"dir"`           // Directory holding both slots
	RequestSlot  string        `mapstructure:"request_slot"`  // File name of the request slot
	ResponseSlot string        `mapstructure:"response_slot"` // File name of the response slot
	Framing      string        `mapstructure:"framing"`       // "plain" or "envelope"
	MaxAttempts  int           `mapstructure:"max_attempts"`  // Poll attempts before falling back
	Interval     time.Duration `mapstructure:"interval"`      // Base wait before each attempt
	Backoff      string        `mapstructure:"backoff"`       // "constant", "exponential", "fibonacci"
	Watch        bool          `mapstructure:"watch"`         // Wake early on fsnotify events
	Lock         bool          `mapstructure:"lock"`          // Serialize asks with an advisory lock
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`  // Max wait for the ask lock
	PerSession   bool          `mapstructure:"per_session"`   // One slot pair per session
	DiscardStale bool          `mapstructure:"discard_stale"` // Drop leftover responses before sending
}

// DatabaseConfig stores database connection details for the libsql backend.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ConversationConfig stores conversation store settings.
type ConversationConfig struct {
	Backend     string         `mapstructure:"backend"` // "file" or "libsql"
	Dir         string         `mapstructure:"dir"`
	PointerFile string         `mapstructure:"pointer_file"`
	DefaultName string         `mapstructure:"default_name"`
	Database    DatabaseConfig `mapstructure:"database"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

const (
	FramingPlain    = "plain"
	FramingEnvelope = "envelope"

	BackendFile   = "file"
	BackendLibSQL = "libsql"
)

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// channel.max_attempts becomes MOVIEMATE_CHANNEL_MAX_ATTEMPTS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file on the search path; defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults only contain well-typed values, decoding cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Channel defaults
	v.SetDefault("channel.dir", internal.DefaultConnectionDir)
	v.SetDefault("channel.request_slot", internal.DefaultRequestSlot)
	v.SetDefault("channel.response_slot", internal.DefaultResponseSlot)
	v.SetDefault("channel.framing", FramingPlain)
	v.SetDefault("channel.max_attempts", internal.DefaultMaxAttempts)
	v.SetDefault("channel.interval", internal.DefaultInterval)
	v.SetDefault("channel.backoff", channel.BackoffConstant)
	v.SetDefault("channel.watch", true)
	v.SetDefault("channel.lock", true)
	v.SetDefault("channel.lock_timeout", internal.DefaultLockTimeout)
	v.SetDefault("channel.per_session", false)
	v.SetDefault("channel.discard_stale", true)

	// Conversation store defaults
	v.SetDefault("conversations.backend", BackendFile)
	v.SetDefault("conversations.dir", internal.DefaultConversationsDir)
	v.SetDefault("conversations.pointer_file", internal.DefaultPointerFile)
	v.SetDefault("conversations.default_name", internal.DefaultConversationName)
	v.SetDefault("conversations.database.dsn", internal.DefaultDatabaseDSN)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate rejects values the channel and store cannot operate with.
func (c *Config) Validate() error {
	ch := c.Channel
	if ch.MaxAttempts < 1 {
		return fmt.Errorf("channel.max_attempts must be at least 1: %d", ch.MaxAttempts)
	}
	if ch.Interval <= 0 {
		return fmt.Errorf("channel.interval must be positive: %s", ch.Interval)
	}
	if ch.RequestSlot == "" || ch.ResponseSlot == "" {
		return fmt.Errorf("channel slots must be named")
	}
	if ch.RequestSlot == ch.ResponseSlot {
		return fmt.Errorf("channel request and response slots must differ: %q", ch.RequestSlot)
	}

	switch ch.Framing {
	case FramingPlain, FramingEnvelope:
	default:
		return fmt.Errorf("unknown channel.framing %q", ch.Framing)
	}

	switch ch.Backoff {
	case channel.BackoffConstant, channel.BackoffExponential, channel.BackoffFibonacci:
	default:
		return fmt.Errorf("unknown channel.backoff %q", ch.Backoff)
	}

	switch c.Conversations.Backend {
	case BackendFile, BackendLibSQL:
	default:
		return fmt.Errorf("unknown conversations.backend %q", c.Conversations.Backend)
	}
	if c.Conversations.DefaultName == "" {
		return fmt.Errorf("conversations.default_name must not be empty")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}

	return nil
}
