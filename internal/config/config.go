// Package config holds OPERATOR-LEVEL configuration for a relay installation.
//
// This is infrastructure config set by whoever deploys the relay, NOT brand
// (tenant) configuration. The boundary is:
//
//   - Operator config (this package): data directory, upstream API endpoint
//     and key, mail transport settings, keep-alive interval, digest schedule.
//     Set via env vars (RELAY_*) or config file (relay.config.yaml).
//
//   - Brand config: per-tenant upstream identity, notification routing, and
//     display settings. Loaded from the brands YAML file (internal/brand)
//     once at boot and never mutated at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the RELAY_ prefix
// (e.g. "brands_file" → RELAY_BRANDS_FILE) and to a YAML field
// in relay.config.yaml.
const (
	KeyListenAddr        = "listen_addr"
	KeyDataDir           = "data_dir"
	KeyGlobalRPM         = "rate_limit_global_rpm"
	KeyBrandRPM          = "rate_limit_brand_rpm"
	KeyBrandsFile        = "brands_file"
	KeyUpstreamBaseURL   = "upstream_base_url"
	KeyUpstreamAPIKey    = "upstream_api_key"
	KeyMailTransport     = "mail_transport"
	KeyMailAPIURL        = "mail_api_url"
	KeyMailAPIKey        = "mail_api_key"
	KeySMTPAddr          = "smtp_addr"
	KeySMTPUsername      = "smtp_username"
	KeySMTPPassword      = "smtp_password"
	KeyKeepAliveInterval = "keepalive_interval"
	KeyDigestCron        = "digest_cron"
	KeyDigestRecipient   = "digest_recipient"
)

// Defaults.
const (
	DefaultListenAddr        = ":8080"
	DefaultGlobalRPM         = 600
	DefaultBrandRPM          = 60
	DefaultBrandsFile        = "brands.yaml"
	DefaultUpstreamBaseURL   = "https://api.openai.com/v1"
	DefaultMailTransport     = "http"
	DefaultKeepAliveInterval = "15s"
	DefaultDigestCron        = "0 7 * * *"
)

// Config holds resolved operator-level configuration for a relay process.
type Config struct {
	ListenAddr        string        // HTTP listen address
	DataDir           string        // Base directory for state (~/.relay)
	GlobalRPM         int           // total requests/minute across all brands
	BrandRPM          int           // default per-brand requests/minute
	BrandsFile        string        // Path to the brand registry YAML
	UpstreamBaseURL   string        // Upstream conversational-AI API base URL
	UpstreamAPIKey    string        // Upstream API key
	MailTransport     string        // "http", "smtp", or "none"
	MailAPIURL        string        // HTTP mail API endpoint (mail_transport: http)
	MailAPIKey        string        // HTTP mail API bearer key
	SMTPAddr          string        // host:port (mail_transport: smtp)
	SMTPUsername      string
	SMTPPassword      string
	KeepAliveInterval time.Duration // SSE keep-alive pulse interval; 0 disables
	DigestCron        string        // cron spec for the daily digest; empty disables it
	DigestRecipient   string        // overrides per-brand digest destinations when set
}

// JournalDBPath returns the full path to the handoff journal SQLite database.
func (c *Config) JournalDBPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("RELAY")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyGlobalRPM, DefaultGlobalRPM)
	viper.SetDefault(KeyBrandRPM, DefaultBrandRPM)
	viper.SetDefault(KeyBrandsFile, DefaultBrandsFile)
	viper.SetDefault(KeyUpstreamBaseURL, DefaultUpstreamBaseURL)
	viper.SetDefault(KeyMailTransport, DefaultMailTransport)
	viper.SetDefault(KeyKeepAliveInterval, DefaultKeepAliveInterval)
	viper.SetDefault(KeyDigestCron, DefaultDigestCron)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      viper.GetString(KeyListenAddr),
		DataDir:         resolveDataDir(),
		GlobalRPM:       viper.GetInt(KeyGlobalRPM),
		BrandRPM:        viper.GetInt(KeyBrandRPM),
		BrandsFile:      viper.GetString(KeyBrandsFile),
		UpstreamBaseURL: viper.GetString(KeyUpstreamBaseURL),
		UpstreamAPIKey:  viper.GetString(KeyUpstreamAPIKey),
		MailTransport:   viper.GetString(KeyMailTransport),
		MailAPIURL:      viper.GetString(KeyMailAPIURL),
		MailAPIKey:      viper.GetString(KeyMailAPIKey),
		SMTPAddr:        viper.GetString(KeySMTPAddr),
		SMTPUsername:    viper.GetString(KeySMTPUsername),
		SMTPPassword:    viper.GetString(KeySMTPPassword),
		DigestCron:      viper.GetString(KeyDigestCron),
		DigestRecipient: viper.GetString(KeyDigestRecipient),
	}

	interval, err := time.ParseDuration(viper.GetString(KeyKeepAliveInterval))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyKeepAliveInterval, err)
	}
	cfg.KeepAliveInterval = interval

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

func (c *Config) validate() error {
	switch c.MailTransport {
	case "http":
		if c.MailAPIURL == "" {
			return fmt.Errorf("mail_api_url required when mail_transport is http; set RELAY_MAIL_API_URL or mail_transport: none")
		}
	case "smtp":
		if c.SMTPAddr == "" {
			return fmt.Errorf("smtp_addr required when mail_transport is smtp; set RELAY_SMTP_ADDR")
		}
	case "none":
	default:
		return fmt.Errorf("mail_transport must be http, smtp, or none (got %q)", c.MailTransport)
	}
	if c.KeepAliveInterval < 0 {
		return fmt.Errorf("keepalive_interval must not be negative")
	}
	if c.GlobalRPM < 1 || c.BrandRPM < 1 {
		return fmt.Errorf("rate limits must be at least 1 request/minute")
	}
	return nil
}
