// Package config loads server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Addr          string `yaml:"addr"`
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	TokenSecret   string `yaml:"token_secret"`
	SweepInterval int    `yaml:"sweep_interval"` // seconds
	UploadDir     string `yaml:"upload_dir"`
	LogLevel      string `yaml:"log_level"`
	BaseURL       string `yaml:"base_url"` // used in verification links

	SMTP SMTP `yaml:"smtp"`
}

// SMTP configures the verification mailer. An empty Host switches the
// mailer to log-only mode.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func Default() Config {
	return Config{
		Addr:          ":8080",
		Driver:        "sqlite3",
		DSN:           "vanish.db",
		SweepInterval: 30,
		UploadDir:     "uploads",
		LogLevel:      "info",
		BaseURL:       "http://localhost:8080",
	}
}

// Load reads the YAML file at path, falling back to defaults when path
// is empty or the file does not exist. Environment variables take
// precedence over the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Addr, "VANISH_ADDR")
	set(&c.Driver, "VANISH_DB_DRIVER")
	set(&c.DSN, "VANISH_DB_DSN")
	set(&c.TokenSecret, "VANISH_TOKEN_SECRET")
	set(&c.UploadDir, "VANISH_UPLOAD_DIR")
	set(&c.LogLevel, "VANISH_LOG_LEVEL")
	set(&c.BaseURL, "VANISH_BASE_URL")
	set(&c.SMTP.Host, "VANISH_SMTP_HOST")
	set(&c.SMTP.Port, "VANISH_SMTP_PORT")
	set(&c.SMTP.Username, "VANISH_SMTP_USERNAME")
	set(&c.SMTP.Password, "VANISH_SMTP_PASSWORD")
	set(&c.SMTP.From, "VANISH_SMTP_FROM")
}

// Validate rejects configurations the server cannot run with. A missing
// token secret would make every issued token forgeable, so it is fatal.
func (c Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("token_secret is required (set VANISH_TOKEN_SECRET)")
	}
	if c.Driver != "sqlite3" && c.Driver != "postgres" {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %d", c.SweepInterval)
	}
	return nil
}
