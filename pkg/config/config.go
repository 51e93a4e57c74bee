package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-config/cfgx"
)

// Config captures module-level configuration knobs, validated once at
// startup. Feature packages (delivery, links, connectors) pull from these
// nested structs.
type Config struct {
	Notifier    NotifierConfig    `mapstructure:"notifier" json:"notifier"`
	Links       LinksConfig       `mapstructure:"links" json:"links"`
	Connectors  ConnectorsConfig  `mapstructure:"connectors" json:"connectors"`
	Persistence PersistenceConfig `mapstructure:"persistence" json:"persistence"`
}

// NotifierConfig controls fan-out behavior.
type NotifierConfig struct {
	// MaxAttempts is the cross-call ledger retry ceiling per
	// (recipient, event, channel) key.
	MaxAttempts       int   `mapstructure:"max_attempts" json:"max_attempts"`
	DMEnabled         bool  `mapstructure:"dm_enabled" json:"dm_enabled"`
	AnnounceEnabled   bool  `mapstructure:"announce_enabled" json:"announce_enabled"`
	AnnounceChannelID int64 `mapstructure:"announce_channel_id" json:"announce_channel_id"`
}

// LinksConfig scopes the channel-link token flow.
type LinksConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
}

// ConnectorsConfig groups per-transport settings.
type ConnectorsConfig struct {
	DM       DMConfig       `mapstructure:"dm" json:"dm"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Signal   SignalConfig   `mapstructure:"signal" json:"signal"`
}

// DMConfig configures the resident bot-runtime transport.
type DMConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	MinInterval    time.Duration `mapstructure:"min_interval" json:"min_interval"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
}

// TelegramConfig configures the HTTP Bot API transport.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	Token          string        `mapstructure:"token" json:"token"`
	BaseURL        string        `mapstructure:"base_url" json:"base_url"`
	MinInterval    time.Duration `mapstructure:"min_interval" json:"min_interval"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	DisablePreview bool          `mapstructure:"disable_preview" json:"disable_preview"`
}

// SignalConfig configures the CLI/daemon gateway transport.
type SignalConfig struct {
	Enabled        bool          `mapstructure:"enabled" json:"enabled"`
	Mode           string        `mapstructure:"mode" json:"mode"`
	CLIPath        string        `mapstructure:"cli_path" json:"cli_path"`
	Account        string        `mapstructure:"account" json:"account"`
	DaemonURL      string        `mapstructure:"daemon_url" json:"daemon_url"`
	MinInterval    time.Duration `mapstructure:"min_interval" json:"min_interval"`
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
}

// PersistenceConfig selects the ledger database.
type PersistenceConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		Notifier: NotifierConfig{
			MaxAttempts: 3,
			DMEnabled:   true,
		},
		Links: LinksConfig{
			TokenTTL: 30 * time.Minute,
		},
		Connectors: ConnectorsConfig{
			DM: DMConfig{
				Enabled:        true,
				MinInterval:    time.Second,
				MaxRetries:     3,
				RequestTimeout: 15 * time.Second,
			},
			Telegram: TelegramConfig{
				BaseURL:        "https://api.telegram.org",
				MinInterval:    time.Second,
				MaxRetries:     3,
				RequestTimeout: 15 * time.Second,
				DisablePreview: true,
			},
			Signal: SignalConfig{
				Mode:           "cli",
				MinInterval:    2 * time.Second,
				MaxRetries:     3,
				RequestTimeout: 20 * time.Second,
			},
		},
		Persistence: PersistenceConfig{
			Driver: "sqlite",
			DSN:    "file:notify.db?cache=shared",
		},
	}
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	if c.Notifier.MaxAttempts <= 0 {
		return errors.New("notifier.max_attempts must be > 0")
	}
	if c.Notifier.AnnounceEnabled && c.Notifier.AnnounceChannelID == 0 {
		return errors.New("notifier.announce_channel_id is required when announce is enabled")
	}
	if c.Links.TokenTTL < 0 {
		return errors.New("links.token_ttl must be >= 0")
	}
	if c.Connectors.Telegram.Enabled && c.Connectors.Telegram.Token == "" {
		return errors.New("connectors.telegram.token is required when enabled")
	}
	if c.Connectors.Signal.Enabled {
		switch c.Connectors.Signal.Mode {
		case "cli", "daemon":
		default:
			return fmt.Errorf("connectors.signal.mode must be cli or daemon, got %q", c.Connectors.Signal.Mode)
		}
		if c.Connectors.Signal.Account == "" {
			return errors.New("connectors.signal.account is required when enabled")
		}
		if c.Connectors.Signal.Mode == "daemon" && c.Connectors.Signal.DaemonURL == "" {
			return errors.New("connectors.signal.daemon_url is required in daemon mode")
		}
	}
	if c.Persistence.Driver != "" && c.Persistence.Driver != "sqlite" {
		return fmt.Errorf("persistence.driver %q is not supported", c.Persistence.Driver)
	}
	return nil
}

// Load decodes arbitrary input (struct, map) using cfgx helpers, falling back
// to a lightweight decoder when cfgx yields a zero value.
func Load(input any, opts ...LoadOption) (Config, error) {
	settings := loadOptions{}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg, err := cfgx.Build(input, settings.buildOpts...)
	if err != nil {
		return Config{}, err
	}

	if isZero(cfg) {
		if err := decodeFallback(input, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOption lets callers amend cfgx build options.
type LoadOption func(*loadOptions)

type loadOptions struct {
	buildOpts []cfgx.Option[Config]
}

// WithBuildOptions forwards cfgx options (duration hooks, preprocessors, etc.).
func WithBuildOptions(opts ...cfgx.Option[Config]) LoadOption {
	return func(lo *loadOptions) {
		lo.buildOpts = append(lo.buildOpts, opts...)
	}
}

func (c Config) withDefaults() Config {
	defaults := Defaults()

	if c.Notifier.MaxAttempts == 0 {
		c.Notifier.MaxAttempts = defaults.Notifier.MaxAttempts
	}
	if c.Links.TokenTTL == 0 {
		c.Links.TokenTTL = defaults.Links.TokenTTL
	}
	c.Connectors.DM = dmWithDefaults(c.Connectors.DM, defaults.Connectors.DM)
	c.Connectors.Telegram = telegramWithDefaults(c.Connectors.Telegram, defaults.Connectors.Telegram)
	c.Connectors.Signal = signalWithDefaults(c.Connectors.Signal, defaults.Connectors.Signal)
	if c.Persistence.Driver == "" {
		c.Persistence.Driver = defaults.Persistence.Driver
	}
	if c.Persistence.DSN == "" {
		c.Persistence.DSN = defaults.Persistence.DSN
	}
	return c
}

func dmWithDefaults(c, d DMConfig) DMConfig {
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

func telegramWithDefaults(c, d TelegramConfig) TelegramConfig {
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

func signalWithDefaults(c, d SignalConfig) SignalConfig {
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

func isZero(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func decodeFallback(input any, cfg *Config) error {
	switch v := input.(type) {
	case nil:
		return nil
	case Config:
		*cfg = v
		return nil
	case *Config:
		if v != nil {
			*cfg = *v
		}
		return nil
	case map[string]any:
		return decodeMap(v, cfg)
	default:
		return fmt.Errorf("unsupported config input type: %T", input)
	}
}

func decodeMap(input map[string]any, cfg *Config) error {
	if input == nil {
		return nil
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, cfg)
}
