// Package config provides configuration management for the crawl controller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the current version of autocontroller.
// This is set at build time via ldflags.
var Version = "dev"

// Config holds all configuration options for the crawl controller.
type Config struct {
	// Redis backs the automation model, frontier, and pub/sub bus.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// HTTP API listen address.
	HTTPAddr string `yaml:"http_addr"`

	// Browser-provisioning service ("shepherd").
	ShepherdBaseURL string `yaml:"shepherd_base_url"`

	// Recording proxy / WARC index server, used for the replay-index
	// already-recorded check and recording liveness.
	WarcserverBaseURL string `yaml:"warcserver_base_url"`

	// Manager tick interval.
	TickInterval time.Duration `yaml:"tick_interval"`

	// Browser bring-up poll interval.
	ProvisionPollInterval time.Duration `yaml:"provision_poll_interval"`

	// CDP debugging port exposed by provisioned browsers.
	BrowserDebugPort int `yaml:"browser_debug_port"`

	// Request timeouts for HTTP calls to shepherd/warcserver.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// AdminToken authorizes the admin-only API operations (get, delete) via
	// the X-Admin-Token header. Empty disables admin auth entirely, useful
	// for local development.
	AdminToken string `yaml:"admin_token"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RedisAddr:             "localhost:6379",
		RedisPassword:         "",
		RedisDB:               0,
		HTTPAddr:              ":8080",
		ShepherdBaseURL:       "http://localhost:9020",
		WarcserverBaseURL:     "http://localhost:8090",
		TickInterval:          10 * time.Second,
		ProvisionPollInterval: 500 * time.Millisecond,
		BrowserDebugPort:      9222,
		HTTPTimeout:           10 * time.Second,
	}
}

// LoadFromFile loads configuration from a YAML file.
// Values from the file override the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.ShepherdBaseURL == "" {
		return fmt.Errorf("shepherd_base_url is required")
	}
	if c.WarcserverBaseURL == "" {
		return fmt.Errorf("warcserver_base_url is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.ProvisionPollInterval <= 0 {
		return fmt.Errorf("provision_poll_interval must be positive")
	}
	if c.BrowserDebugPort <= 0 {
		return fmt.Errorf("browser_debug_port must be positive")
	}
	return nil
}
