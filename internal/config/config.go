// Package config loads terminal settings from configs/config.yml, the
// TICKETDESK_* environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	BusyPolicyDrop  = "drop"
	BusyPolicyQueue = "queue"

	envPrefix = "TICKETDESK"

	minSigningKeyLen = 16
)

// placeholderSigningKeys are sample values that must never sign tokens.
var placeholderSigningKeys = map[string]bool{"change-me": true, "changeme": true, "secret": true}

type Config struct {
	Port     string     `mapstructure:"port"`
	LogLevel string     `mapstructure:"log_level"`
	DataDir  string     `mapstructure:"data_dir"`
	DB       DBConfig   `mapstructure:"db"`
	Auth     AuthConfig `mapstructure:"auth"`
	Scan     ScanConfig `mapstructure:"scan"`
	Sync     SyncConfig `mapstructure:"sync"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// ScanConfig controls the scan path.
//
// BusyPolicy decides what happens to a scan arriving while another check
// is outstanding: "drop" rejects it, "queue" lets exactly one wait.
type ScanConfig struct {
	CardTTL      time.Duration `mapstructure:"card_ttl"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	BusyPolicy   string        `mapstructure:"busy_policy"`
	ClearOnScan  bool          `mapstructure:"clear_on_scan"`
}

type SyncConfig struct {
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	TriggerInterval time.Duration `mapstructure:"trigger_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("db.path", "data/ticket_desk.db")
	// no usable default: the key must come from the file, env or a flag
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("scan.card_ttl", 15*time.Second)
	v.SetDefault("scan.check_timeout", 20*time.Second)
	v.SetDefault("scan.busy_policy", BusyPolicyDrop)
	v.SetDefault("scan.clear_on_scan", true)
	v.SetDefault("sync.status_interval", 500*time.Millisecond)
	v.SetDefault("sync.trigger_interval", 10*time.Second)
	v.SetDefault("sync.timeout", 2*time.Minute)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("ticket-desk", pflag.ContinueOnError)
	fs.String("config", "", "path to config file (default: configs/config.yml)")
	fs.String("port", "", "HTTP listen port")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("data-dir", "", "directory for the database and side files")
	fs.String("db-path", "", "SQLite database file")
	fs.String("auth-signing-key", "", "HMAC key for operator tokens (at least 16 bytes)")
	return fs
}

// Load parses args (without the program name) and returns the merged
// configuration. A missing config file is not an error.
func Load(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, flag := range map[string]string{
		"port":             "port",
		"log_level":        "log-level",
		"data_dir":         "data-dir",
		"db.path":          "db-path",
		"auth.signing_key": "auth-signing-key",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
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

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Scan.BusyPolicy {
	case BusyPolicyDrop, BusyPolicyQueue:
	default:
		return fmt.Errorf("scan.busy_policy: unknown policy %q", c.Scan.BusyPolicy)
	}
	if c.Scan.CardTTL <= 0 {
		return errors.New("scan.card_ttl must be positive")
	}
	if c.Sync.StatusInterval <= 0 || c.Sync.TriggerInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	return validateSigningKey(c.Auth.SigningKey)
}

func validateSigningKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("auth.signing_key is not set (use --auth-signing-key or " + envPrefix + "_AUTH_SIGNING_KEY)")
	case placeholderSigningKeys[strings.ToLower(key)]:
		return fmt.Errorf("auth.signing_key: %q is a placeholder, generate a random key", key)
	case len(key) < minSigningKeyLen:
		return fmt.Errorf("auth.signing_key must be at least %d bytes", minSigningKeyLen)
	}
	return nil
}
