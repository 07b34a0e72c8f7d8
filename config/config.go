// Package config loads and saves the SDK configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// EnvPrefix is the prefix for environment overrides, e.g. WEPIN_APP_APP_KEY.
const EnvPrefix = "WEPIN"

// Config holds the SDK configuration
type Config struct {
	App     AppConfig     `yaml:"app" mapstructure:"app"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Widget  WidgetConfig  `yaml:"widget" mapstructure:"widget"`
	Network NetworkConfig `yaml:"network" mapstructure:"network"`
	NATS    NATSConfig    `yaml:"nats" mapstructure:"nats"`
	Relay   RelayConfig   `yaml:"relay" mapstructure:"relay"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// AppConfig identifies the host application to the backend and widget
type AppConfig struct {
	AppID   string `yaml:"app_id" mapstructure:"app_id"`
	AppKey  string `yaml:"app_key" mapstructure:"app_key"`
	Domain  string `yaml:"domain" mapstructure:"domain"`
	SDKType string `yaml:"sdk_type" mapstructure:"sdk_type"`
	Version string `yaml:"version" mapstructure:"version"`
}

// StorageConfig holds secure store locations
type StorageConfig struct {
	// Dir holds the encrypted database and the install tracker flag.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// LegacyDir holds entries written by earlier SDK versions.
	LegacyDir string `yaml:"legacy_dir" mapstructure:"legacy_dir"`
	// InstallDir holds the durable install id and must survive removal of Dir.
	InstallDir string `yaml:"install_dir" mapstructure:"install_dir"`
	// Passphrase, when set, derives the master key with argon2id instead of a random key file.
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`
	CacheSize  int    `yaml:"cache_size" mapstructure:"cache_size"`
}

// WidgetConfig holds widget display defaults
type WidgetConfig struct {
	DefaultLanguage     string          `yaml:"default_language" mapstructure:"default_language"`
	DefaultCurrency     string          `yaml:"default_currency" mapstructure:"default_currency"`
	ReplyTimeoutSeconds int             `yaml:"reply_timeout_seconds" mapstructure:"reply_timeout_seconds"`
	LoginProviders      []LoginProvider `yaml:"login_providers" mapstructure:"login_providers"`
}

// LoginProvider maps an OAuth provider name to the client id registered for it
type LoginProvider struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

// NetworkConfig holds collaborator endpoints. Empty URLs are derived from the app key.
type NetworkConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	BackendURL     string `yaml:"backend_url" mapstructure:"backend_url"`
	WidgetURL      string `yaml:"widget_url" mapstructure:"widget_url"`
	IdentityURL    string `yaml:"identity_url" mapstructure:"identity_url"`
	IdentityAPIKey string `yaml:"identity_api_key" mapstructure:"identity_api_key"`
	ProbeAddress   string `yaml:"probe_address" mapstructure:"probe_address"`
}

// NATSConfig holds settings for the NATS widget relay surface
type NATSConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
	ReconnectWait int    `yaml:"reconnect_wait_ms" mapstructure:"reconnect_wait_ms"`
	MaxReconnects int    `yaml:"max_reconnects" mapstructure:"max_reconnects"`
}

// RelayConfig holds settings for the HTTP widget relay surface
type RelayConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level   string `yaml:"level" mapstructure:"level"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	base := defaultBaseDir()
	return &Config{
		App: AppConfig{
			SDKType: "ios",
			Version: "1.0.0",
		},
		Storage: StorageConfig{
			Dir:        filepath.Join(base, "store"),
			LegacyDir:  filepath.Join(base, "legacy"),
			InstallDir: filepath.Join(base, "install"),
			CacheSize:  128,
		},
		Widget: WidgetConfig{
			DefaultLanguage:     "en",
			DefaultCurrency:     "USD",
			ReplyTimeoutSeconds: 300,
		},
		Network: NetworkConfig{
			TimeoutSeconds: 30,
			IdentityURL:    "https://identitytoolkit.googleapis.com/v1/",
			ProbeAddress:   "sdk.wepin.io:443",
		},
		NATS: NATSConfig{
			SubjectPrefix: "wepin.widget",
			ReconnectWait: 2000,
			MaxReconnects: -1, // Unlimited
		},
		Relay: RelayConfig{
			Listen: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

func defaultBaseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wepin")
	}
	return filepath.Join(os.TempDir(), "wepin")
}

// Load reads configuration from path (optional) and WEPIN_ environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app.app_id", cfg.App.AppID)
	v.SetDefault("app.app_key", cfg.App.AppKey)
	v.SetDefault("app.domain", cfg.App.Domain)
	v.SetDefault("app.sdk_type", cfg.App.SDKType)
	v.SetDefault("app.version", cfg.App.Version)
	v.SetDefault("storage.dir", cfg.Storage.Dir)
	v.SetDefault("storage.legacy_dir", cfg.Storage.LegacyDir)
	v.SetDefault("storage.install_dir", cfg.Storage.InstallDir)
	v.SetDefault("storage.passphrase", cfg.Storage.Passphrase)
	v.SetDefault("storage.cache_size", cfg.Storage.CacheSize)
	v.SetDefault("widget.default_language", cfg.Widget.DefaultLanguage)
	v.SetDefault("widget.default_currency", cfg.Widget.DefaultCurrency)
	v.SetDefault("widget.reply_timeout_seconds", cfg.Widget.ReplyTimeoutSeconds)
	v.SetDefault("network.timeout_seconds", cfg.Network.TimeoutSeconds)
	v.SetDefault("network.backend_url", cfg.Network.BackendURL)
	v.SetDefault("network.widget_url", cfg.Network.WidgetURL)
	v.SetDefault("network.identity_url", cfg.Network.IdentityURL)
	v.SetDefault("network.identity_api_key", cfg.Network.IdentityAPIKey)
	v.SetDefault("network.probe_address", cfg.Network.ProbeAddress)
	v.SetDefault("nats.url", cfg.NATS.URL)
	v.SetDefault("nats.subject_prefix", cfg.NATS.SubjectPrefix)
	v.SetDefault("nats.reconnect_wait_ms", cfg.NATS.ReconnectWait)
	v.SetDefault("nats.max_reconnects", cfg.NATS.MaxReconnects)
	v.SetDefault("relay.listen", cfg.Relay.Listen)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.console", cfg.Log.Console)
}

// Save writes cfg to path as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var sdkTypes = map[string]bool{
	"ios":          true,
	"flutter":      true,
	"react-native": true,
}

// Validate checks the fields every SDK operation depends on.
func (c *Config) Validate() error {
	if c.App.AppID == "" {
		return wepinerr.New(wepinerr.InvalidParameter, "app id is required")
	}
	if c.App.AppKey == "" {
		return wepinerr.New(wepinerr.InvalidAppKey, "app key is required")
	}
	if !sdkTypes[c.App.SDKType] {
		return wepinerr.Newf(wepinerr.InvalidParameter, "unsupported sdk type %q", c.App.SDKType)
	}
	if _, err := c.Endpoints(); err != nil {
		return err
	}
	return nil
}

// ReplyTimeout is how long a widget round trip may wait for its reply.
func (c *Config) ReplyTimeout() time.Duration {
	if c.Widget.ReplyTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Widget.ReplyTimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single collaborator HTTP call.
func (c *Config) RequestTimeout() time.Duration {
	if c.Network.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Network.TimeoutSeconds) * time.Second
}

// ClientID returns the OAuth client id configured for provider.
func (c *Config) ClientID(provider string) (string, bool) {
	for _, p := range c.Widget.LoginProviders {
		if p.Provider == provider {
			return p.ClientID, p.ClientID != ""
		}
	}
	return "", false
}
