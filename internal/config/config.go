package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Cooldown    CooldownConfig    `yaml:"cooldown"`
	Live        LiveConfig        `yaml:"live"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	MaxBodySizeMB  int           `yaml:"max_body_size_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LoggingLevel   string        `yaml:"logging_level"`
	LoggingFormat  string        `yaml:"logging_format"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// CredentialsConfig describes the environment namespace scanned for upstream
// API keys: EnvVar itself, then EnvVar_1 .. EnvVar_<MaxNumbered>.
type CredentialsConfig struct {
	EnvVar      string `yaml:"env_var"`
	MaxNumbered int    `yaml:"max_numbered"`
}

type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	LiveURL string `yaml:"live_url"`
}

type DispatchConfig struct {
	MaxAttemptsCeiling int  `yaml:"max_attempts_ceiling"`
	RetryOnTimeout     bool `yaml:"retry_on_timeout"`
	RetryUnknownOnce   bool `yaml:"retry_unknown_once"`
}

// CooldownConfig holds the exclusion windows applied to a credential after a
// rate-limit signal. QuotaWindow covers hard quota exhaustion, RateLimitWindow
// the ordinary per-minute 429s.
type CooldownConfig struct {
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	QuotaWindow     time.Duration `yaml:"quota_window"`
}

type LiveConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	GrantTTL         time.Duration `yaml:"grant_ttl"`
	GrantMinInterval time.Duration `yaml:"grant_min_interval"`
	MaxGrants        int           `yaml:"max_grants"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

// UnmarshalYAML implements custom unmarshaling for ServerConfig so
// request_timeout can be written as a "60s" style string.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		Port           int      `yaml:"port"`
		MaxBodySizeMB  int      `yaml:"max_body_size_mb"`
		RequestTimeout string   `yaml:"request_timeout"`
		LoggingLevel   string   `yaml:"logging_level"`
		LoggingFormat  string   `yaml:"logging_format"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	s.Port = temp.Port
	s.MaxBodySizeMB = temp.MaxBodySizeMB
	s.LoggingLevel = temp.LoggingLevel
	s.LoggingFormat = temp.LoggingFormat
	s.AllowedOrigins = temp.AllowedOrigins

	var err error
	if s.RequestTimeout, err = parseWindow(temp.RequestTimeout); err != nil {
		return fmt.Errorf("invalid request_timeout: %w", err)
	}
	return nil
}

// UnmarshalYAML implements custom unmarshaling for LiveConfig duration fields.
func (l *LiveConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		ConnectTimeout   string `yaml:"connect_timeout"`
		GrantTTL         string `yaml:"grant_ttl"`
		GrantMinInterval string `yaml:"grant_min_interval"`
		MaxGrants        int    `yaml:"max_grants"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	l.MaxGrants = temp.MaxGrants

	var err error
	if l.ConnectTimeout, err = parseWindow(temp.ConnectTimeout); err != nil {
		return fmt.Errorf("invalid connect_timeout: %w", err)
	}
	if l.GrantTTL, err = parseWindow(temp.GrantTTL); err != nil {
		return fmt.Errorf("invalid grant_ttl: %w", err)
	}
	if l.GrantMinInterval, err = parseWindow(temp.GrantMinInterval); err != nil {
		return fmt.Errorf("invalid grant_min_interval: %w", err)
	}
	return nil
}

// UnmarshalYAML implements custom unmarshaling for CooldownConfig so windows
// can be written as "1m" / "5m" strings.
func (c *CooldownConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		RateLimitWindow string `yaml:"rate_limit_window"`
		QuotaWindow     string `yaml:"quota_window"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	var err error
	if c.RateLimitWindow, err = parseWindow(temp.RateLimitWindow); err != nil {
		return fmt.Errorf("invalid rate_limit_window: %w", err)
	}
	if c.QuotaWindow, err = parseWindow(temp.QuotaWindow); err != nil {
		return fmt.Errorf("invalid quota_window: %w", err)
	}
	return nil
}

func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize fills defaults and cleans up configuration values.
func (c *Config) Normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodySizeMB == 0 {
		c.Server.MaxBodySizeMB = 25
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.LoggingFormat == "" {
		c.Server.LoggingFormat = "text"
	}

	if c.Credentials.EnvVar == "" {
		c.Credentials.EnvVar = "GEMINI_API_KEY"
	}
	if c.Credentials.MaxNumbered == 0 {
		c.Credentials.MaxNumbered = 500
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://generativelanguage.googleapis.com"
	}
	c.Upstream.BaseURL = strings.TrimSuffix(c.Upstream.BaseURL, "/")
	if c.Upstream.LiveURL == "" {
		c.Upstream.LiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	}

	if c.Dispatch.MaxAttemptsCeiling == 0 {
		c.Dispatch.MaxAttemptsCeiling = 10
	}

	if c.Cooldown.RateLimitWindow == 0 {
		c.Cooldown.RateLimitWindow = time.Minute
	}
	if c.Cooldown.QuotaWindow == 0 {
		c.Cooldown.QuotaWindow = 5 * time.Minute
	}

	if c.Live.ConnectTimeout == 0 {
		c.Live.ConnectTimeout = 12 * time.Second
	}
	if c.Live.GrantTTL == 0 {
		c.Live.GrantTTL = time.Minute
	}
	if c.Live.GrantMinInterval == 0 {
		c.Live.GrantMinInterval = time.Second
	}
	if c.Live.MaxGrants == 0 {
		c.Live.MaxGrants = 1024
	}

	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("invalid max_body_size_mb: %d", c.Server.MaxBodySizeMB)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout: %v", c.Server.RequestTimeout)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
	}

	if c.Server.LoggingFormat != "text" && c.Server.LoggingFormat != "json" {
		return fmt.Errorf("invalid logging_format: %s (must be text or json)", c.Server.LoggingFormat)
	}

	if c.Credentials.MaxNumbered < 0 {
		return fmt.Errorf("invalid max_numbered: %d", c.Credentials.MaxNumbered)
	}

	parsedURL, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base_url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("upstream base_url must use http or https scheme, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("upstream base_url must have a host")
	}

	liveURL, err := url.Parse(c.Upstream.LiveURL)
	if err != nil {
		return fmt.Errorf("invalid upstream live_url: %w", err)
	}
	if liveURL.Scheme != "ws" && liveURL.Scheme != "wss" {
		return fmt.Errorf("upstream live_url must use ws or wss scheme, got: %s", liveURL.Scheme)
	}

	if c.Dispatch.MaxAttemptsCeiling <= 0 {
		return fmt.Errorf("invalid max_attempts_ceiling: %d", c.Dispatch.MaxAttemptsCeiling)
	}

	if c.Cooldown.RateLimitWindow <= 0 {
		return fmt.Errorf("invalid rate_limit_window: %v", c.Cooldown.RateLimitWindow)
	}
	if c.Cooldown.QuotaWindow <= 0 {
		return fmt.Errorf("invalid quota_window: %v", c.Cooldown.QuotaWindow)
	}

	if c.Live.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect_timeout: %v", c.Live.ConnectTimeout)
	}
	if c.Live.GrantTTL <= 0 {
		return fmt.Errorf("invalid grant_ttl: %v", c.Live.GrantTTL)
	}
	if c.Live.MaxGrants <= 0 {
		return fmt.Errorf("invalid max_grants: %d", c.Live.MaxGrants)
	}

	return nil
}
