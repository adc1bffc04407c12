// Package config loads cardbridge settings from cardbridge.toml and
// CARDBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "cardbridge"
	configType = "toml"
	envPrefix  = "CARDBRIDGE"
)

// Config is the full cardbridge configuration.
type Config struct {
	Listen           string        `mapstructure:"listen"`
	PublicURL        string        `mapstructure:"public_url"`
	DocumentURL      string        `mapstructure:"document_url"`
	Transport        string        `mapstructure:"transport"` // ws | stream
	StreamListen     string        `mapstructure:"stream_listen"`
	NonceCapacity    int           `mapstructure:"nonce_capacity"`
	MinSurfaceHeight int           `mapstructure:"min_surface_height"`
	EmitDebounce     time.Duration `mapstructure:"emit_debounce"`
	PersistDebounce  time.Duration `mapstructure:"persist_debounce"`
	AutoSaveInterval time.Duration `mapstructure:"autosave_interval"`
	Locale           string        `mapstructure:"locale"`
	LogLevel         string        `mapstructure:"log_level"`

	Vocab       VocabConfig       `mapstructure:"vocab"`
	Store       StoreConfig       `mapstructure:"store"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Resources   ResourcesConfig   `mapstructure:"resources"`
	Runtimes    []RuntimeConfig   `mapstructure:"runtimes"`
}

// VocabConfig locates bundled vocabulary tables.
type VocabConfig struct {
	BundleDir string `mapstructure:"bundle_dir"`
	HostDir   string `mapstructure:"host_dir"`
}

// StoreConfig selects the card config store.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite | files
	SQLitePath string `mapstructure:"sqlite_path"`
	CardRoot   string `mapstructure:"card_root"`
}

// PermissionsConfig points at the permission manifest.
type PermissionsConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// ResourcesConfig selects how resource URLs are minted.
type ResourcesConfig struct {
	Driver string   `mapstructure:"driver"` // local | s3
	S3     S3Config `mapstructure:"s3"`
}

// S3Config configures presigned resource URLs.
type S3Config struct {
	Region          string        `mapstructure:"region"`
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	PathStyle       bool          `mapstructure:"path_style"`
	Expiry          time.Duration `mapstructure:"expiry"`
}

// RuntimeConfig maps a card type to its editor.
type RuntimeConfig struct {
	CardType string `mapstructure:"card_type"`
	PluginID string `mapstructure:"plugin_id"`
	EntryURL string `mapstructure:"entry_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:7470")
	v.SetDefault("document_url", "chips://host/index.html")
	v.SetDefault("transport", "ws")
	v.SetDefault("stream_listen", "127.0.0.1:7471")
	v.SetDefault("nonce_capacity", 512)
	v.SetDefault("min_surface_height", 120)
	v.SetDefault("emit_debounce", "150ms")
	v.SetDefault("persist_debounce", "800ms")
	v.SetDefault("autosave_interval", "30s")
	v.SetDefault("locale", "en")
	v.SetDefault("log_level", "info")
	v.SetDefault("vocab.bundle_dir", "vocab")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "cardbridge.db")
	v.SetDefault("store.card_root", "cards")
	v.SetDefault("resources.driver", "local")
	v.SetDefault("resources.s3.expiry", "15m")
}

// Load reads configuration. An explicit path must exist; without one the
// working directory and $HOME/.cardbridge are searched and a missing file
// leaves the defaults.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cardbridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ws", "stream":
	default:
		return fmt.Errorf("transport must be ws or stream, got %q", c.Transport)
	}
	switch c.Store.Driver {
	case "sqlite", "files":
	default:
		return fmt.Errorf("store.driver must be sqlite or files, got %q", c.Store.Driver)
	}
	switch c.Resources.Driver {
	case "local":
	case "s3":
		if c.Resources.S3.Bucket == "" {
			return errors.New("resources.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("resources.driver must be local or s3, got %q", c.Resources.Driver)
	}
	for _, rt := range c.Runtimes {
		if rt.CardType == "" {
			return errors.New("runtimes entries need a card_type")
		}
	}
	return nil
}
