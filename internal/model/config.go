package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. MAILASSISTANT_MAIL_IMAP_HOST.
const EnvPrefix = "MAILASSISTANT"

// MailConfig holds the mail server endpoints and mailbox layout.
type MailConfig struct {
	// IMAPHost and IMAPPort address the retrieval server.
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`

	// IMAPSecurity is one of "tls", "starttls" or "none".
	IMAPSecurity string `mapstructure:"imap_security" yaml:"imap_security"`

	// SMTPHost and SMTPPort address the transfer agent.
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// SMTPSecurity is one of "tls", "starttls" or "none".
	SMTPSecurity string `mapstructure:"smtp_security" yaml:"smtp_security"`

	// TimeoutSec bounds every mail connection, dial through logout.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// Mailbox is the folder listed and searched by default.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// DraftsMailbox receives drafts and scheduled-send placeholders.
	DraftsMailbox string `mapstructure:"drafts_mailbox" yaml:"drafts_mailbox"`

	// ArchiveMailboxes are tried in order when archiving a message.
	ArchiveMailboxes []string `mapstructure:"archive_mailboxes" yaml:"archive_mailboxes"`

	// ArchiveFallbackDelete permanently deletes a message when no
	// archive mailbox accepts it.
	ArchiveFallbackDelete bool `mapstructure:"archive_fallback_delete" yaml:"archive_fallback_delete"`
}

// Timeout returns the configured mail timeout.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AIConfig holds settings for the model provider.
type AIConfig struct {
	// Provider is one of "gemini", "openai" or "anthropic".
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible
	// gateways, local proxies).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// APIKey is optional; it is usually supplied at runtime or read
	// from the keyring.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// TimeoutSec bounds a single model round trip.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the configured model round-trip timeout.
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// AgentConfig bounds the tool loop and the conversation memory.
type AgentConfig struct {
	MaxRounds     int `mapstructure:"max_rounds" yaml:"max_rounds"`
	HistoryCap    int `mapstructure:"history_cap" yaml:"history_cap"`
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// SessionConfig controls idle session expiry.
type SessionConfig struct {
	// IdleTimeoutSec removes sessions unused for this long; 0 keeps them
	// until logout.
	IdleTimeoutSec   int `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	SweepIntervalSec int `mapstructure:"sweep_interval_sec" yaml:"sweep_interval_sec"`
}

// IdleTimeout returns the idle expiry.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// SweepInterval returns how often idle sessions are looked for.
func (c SessionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

// StoreConfig selects the activity database.
type StoreConfig struct {
	// DSN is a SQLite path; ":memory:" keeps activity for the process
	// lifetime only.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// CredentialConfig controls keyring use.
type CredentialConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mail       MailConfig       `mapstructure:"mail" yaml:"mail"`
	AI         AIConfig         `mapstructure:"ai" yaml:"ai"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Credential CredentialConfig `mapstructure:"credential" yaml:"credential"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// writeTimeoutMargin covers request decoding, history and activity writes
// around an agent run.
const writeTimeoutMargin = 30 * time.Second

// WriteTimeout bounds an HTTP response. It is never shorter than a full
// agent run: every round's model timeout plus one mail timeout per round.
func (c *AppConfig) WriteTimeout() time.Duration {
	configured := time.Duration(c.Server.WriteTimeoutSec) * time.Second
	run := time.Duration(c.Agent.MaxRounds) * (c.AI.Timeout() + c.Mail.Timeout())
	return max(configured, run+writeTimeoutMargin)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailassistant/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailassistant", "config.yaml")
}

// defaults lists every key with its default so that missing keys and
// environment overrides both resolve.
var defaults = map[string]any{
	"mail.imap_host":               "imap.gmail.com",
	"mail.imap_port":               "993",
	"mail.imap_security":           "tls",
	"mail.smtp_host":               "smtp.gmail.com",
	"mail.smtp_port":               "465",
	"mail.smtp_security":           "tls",
	"mail.timeout_sec":             30,
	"mail.mailbox":                 "INBOX",
	"mail.drafts_mailbox":          "[Gmail]/Drafts",
	"mail.archive_mailboxes":       []string{"[Gmail]/All Mail", "Archive", "Archives", "INBOX.Archive"},
	"mail.archive_fallback_delete": true,
	"ai.provider":                  "gemini",
	"ai.model":                     "gemini-2.0-flash",
	"ai.max_tokens":                2048,
	"ai.base_url":                  "",
	"ai.api_key":                   "",
	"ai.timeout_sec":               60,
	"agent.max_rounds":             5,
	"agent.history_cap":            30,
	"agent.history_window":         20,
	"server.addr":                  ":8000",
	"server.read_timeout_sec":      15,
	"server.write_timeout_sec":     180,
	"session.idle_timeout_sec":     3600,
	"session.sweep_interval_sec":   60,
	"store.dsn":                    ":memory:",
	"credential.enabled":           false,
	"credential.file_dir":          "~/.config/mailassistant/credentials",
	"log.level":                    "info",
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"log-level": "log.level",
	"provider":  "ai.provider",
	"model":     "ai.model",
	"imap-host": "mail.imap_host",
	"smtp-host": "mail.smtp_host",
	"store-dsn": "store.dsn",
}

// RegisterFlags declares the command-line overrides understood by
// LoadConfig on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("provider", "", "model provider (gemini, openai, anthropic)")
	fs.String("model", "", "model name")
	fs.String("imap-host", "", "IMAP server host")
	fs.String("smtp-host", "", "SMTP server host")
	fs.String("store-dsn", "", "SQLite DSN for the activity store")
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying environment overrides and any flags registered with
// RegisterFlags. A missing file is not an error.
func LoadConfig(path string, fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyFloors()
	return cfg, nil
}

// applyFloors replaces non-positive limits with their defaults.
func (c *AppConfig) applyFloors() {
	if c.Agent.MaxRounds < 1 {
		c.Agent.MaxRounds = 5
	}
	if c.Agent.HistoryCap < 2 {
		c.Agent.HistoryCap = 30
	}
	if c.Agent.HistoryWindow < 1 || c.Agent.HistoryWindow > c.Agent.HistoryCap {
		c.Agent.HistoryWindow = min(20, c.Agent.HistoryCap)
	}
	if c.Mail.TimeoutSec < 1 {
		c.Mail.TimeoutSec = 30
	}
	if c.AI.TimeoutSec < 1 {
		c.AI.TimeoutSec = 60
	}
	if c.Mail.Mailbox == "" {
		c.Mail.Mailbox = "INBOX"
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The API key is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	ai := cfg.AI
	ai.APIKey = ""

	v.Set("mail", cfg.Mail)
	v.Set("ai", ai)
	v.Set("agent", cfg.Agent)
	v.Set("server", cfg.Server)
	v.Set("session", cfg.Session)
	v.Set("store", cfg.Store)
	v.Set("credential", cfg.Credential)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
