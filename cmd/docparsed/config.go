package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full docparsed configuration.
type Config struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db_path"`
	MaxFileMB int    `yaml:"max_file_mb"`
	LogLevel  string `yaml:"log_level"`

	Parser ParserConfig `yaml:"parser"`
	Auth   AuthConfig   `yaml:"auth"`
	Fetch  FetchConfig  `yaml:"fetch"`
}

// ParserConfig tunes the pipeline.
type ParserConfig struct {
	ChunkSizeKB  int     `yaml:"chunk_size_kb"`
	Parallelism  int     `yaml:"parallelism"`
	CacheTTLMin  int     `yaml:"cache_ttl_min"`
	CacheEntries int     `yaml:"cache_entries"`
	HeadingScale float64 `yaml:"heading_scale"`
	LineGap      float64 `yaml:"line_gap"`
}

// AuthConfig enables HTTP Basic auth when a password hash is set.
type AuthConfig struct {
	User string `yaml:"user"`
	// PasswordBcrypt is a bcrypt hash of the password. Empty disables auth.
	PasswordBcrypt string `yaml:"password_bcrypt"`
}

// FetchConfig tunes URL ingestion.
type FetchConfig struct {
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxMB      int    `yaml:"max_mb"`
	UserAgent  string `yaml:"user_agent"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8086",
		DBPath:    "db/articles.db",
		MaxFileMB: 200,
		LogLevel:  "info",
		Parser: ParserConfig{
			ChunkSizeKB:  1024,
			Parallelism:  4,
			CacheTTLMin:  30,
			CacheEntries: 128,
			HeadingScale: 1.2,
			LineGap:      14,
		},
		Fetch: FetchConfig{
			TimeoutSec: 30,
			MaxMB:      50,
		},
	}
}

// LoadConfig reads a YAML config file over DefaultConfig. A missing
// file keeps the defaults; env vars override last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTH_USER"); v != "" {
		cfg.Auth.User = v
	}
	if v := os.Getenv("AUTH_PASSWORD_BCRYPT"); v != "" {
		cfg.Auth.PasswordBcrypt = v
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.Parser.Parallelism < 0 {
		return fmt.Errorf("parser.parallelism must be >= 0")
	}
	if c.Auth.PasswordBcrypt != "" && c.Auth.User == "" {
		return fmt.Errorf("auth.user is required when auth.password_bcrypt is set")
	}
	return nil
}

// MaxFileBytes returns the upload limit in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// CacheTTL returns the result cache lifetime.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Parser.CacheTTLMin) * time.Minute }
