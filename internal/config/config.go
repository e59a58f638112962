package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Stream sources the aggregator can read from.
const (
	SourceTwilio = "twilio"
	SourceStore  = "store"
)

// Config represents the global ~/.poku/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Twilio         Twilio  `toml:"twilio"`
	Backend        Backend `toml:"backend"`
	NATS           NATS    `toml:"nats"`
	HTTP           HTTP    `toml:"http"`
	Chats          Chats   `toml:"chats"`
}

type Twilio struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	// Number is the active number chats are listed for.
	Number string `toml:"number"`
	// BaseURL overrides the REST endpoint, mostly for tests.
	BaseURL string `toml:"base_url,omitempty"`
	// BackfillPages bounds the history pulled per direction at startup.
	BackfillPages int `toml:"backfill_pages,omitempty"`
}

// Configured reports whether credentials are present.
func (t Twilio) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

type Backend struct {
	URL   string `toml:"url,omitempty"`
	Token string `toml:"token,omitempty"`
}

type NATS struct {
	URL   string `toml:"url,omitempty"`
	Token string `toml:"token,omitempty"`
}

type HTTP struct {
	Addr  string `toml:"addr"`
	Token string `toml:"token,omitempty"`
	// PublicURL is the base URL Twilio posts webhooks to.
	PublicURL      string   `toml:"public_url,omitempty"`
	OriginPatterns []string `toml:"origin_patterns,omitempty"`
}

type Chats struct {
	PageSize       int    `toml:"page_size"`
	SourcePageSize int    `toml:"source_page_size"`
	Source         string `toml:"source"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Twilio:         Twilio{BackfillPages: 5},
		HTTP:           HTTP{Addr: "127.0.0.1:8780"},
		Chats:          Chats{PageSize: 20, SourcePageSize: 50, Source: SourceTwilio},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotenv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, err := strconv.Atoi(getenv(key)); err == nil && v > 0 {
			*dst = v
		}
	}

	str(&c.DefaultProfile, "POKU_PROFILE")
	str(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	str(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	str(&c.Twilio.Number, "POKU_NUMBER")
	str(&c.Twilio.BaseURL, "POKU_TWILIO_BASE_URL")
	num(&c.Twilio.BackfillPages, "POKU_BACKFILL_PAGES")
	str(&c.Backend.URL, "POKU_BACKEND_URL")
	str(&c.Backend.Token, "POKU_BACKEND_TOKEN")
	str(&c.NATS.URL, "POKU_NATS_URL")
	str(&c.NATS.Token, "POKU_NATS_TOKEN")
	str(&c.HTTP.Addr, "POKU_HTTP_ADDR")
	str(&c.HTTP.Token, "POKU_HTTP_TOKEN")
	str(&c.HTTP.PublicURL, "POKU_PUBLIC_URL")
	if v := getenv("POKU_ORIGIN_PATTERNS"); v != "" {
		c.HTTP.OriginPatterns = strings.Split(v, ",")
	}
	num(&c.Chats.PageSize, "POKU_PAGE_SIZE")
	num(&c.Chats.SourcePageSize, "POKU_SOURCE_PAGE_SIZE")
	str(&c.Chats.Source, "POKU_SOURCE")
}

// Validate checks values that have a closed set.
func (c *Config) Validate() error {
	switch c.Chats.Source {
	case SourceTwilio, SourceStore:
	default:
		return errors.New("chats.source must be " + SourceTwilio + " or " + SourceStore)
	}
	if c.Chats.PageSize <= 0 || c.Chats.SourcePageSize <= 0 {
		return errors.New("page sizes must be positive")
	}
	return nil
}
