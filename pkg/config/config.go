// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.yaml.in/yaml/v2"
)

const (
	envConfigFile         = "MORTGAGE_CONFIG_FILE"
	envListenAddr         = "MORTGAGE_LISTEN_ADDR"
	envUpstreamURL        = "MORTGAGE_UPSTREAM_URL"
	envAllowedOrigins     = "MORTGAGE_ALLOWED_ORIGINS"
	envUpstreamTimeout    = "MORTGAGE_UPSTREAM_TIMEOUT"
	envLogLevel           = "MORTGAGE_LOG_LEVEL"
	envMetricsEnabled     = "MORTGAGE_METRICS_ENABLED"
	envMetricsPath        = "MORTGAGE_METRICS_PATH"
	envServerReadTimeout  = "MORTGAGE_SERVER_READ_TIMEOUT"
	envServerWriteTimeout = "MORTGAGE_SERVER_WRITE_TIMEOUT"
	envServerIdleTimeout  = "MORTGAGE_SERVER_IDLE_TIMEOUT"
	envGracefulShutdown   = "MORTGAGE_GRACEFUL_SHUTDOWN"

	defaultListenAddr         = ":8080"
	defaultUpstreamURL        = "http://localhost:8001"
	defaultLogLevel           = "info"
	defaultMetricsPath        = "/metrics"
	defaultServerReadTimeout  = 30 * time.Second
	defaultServerIdleTimeout  = 120 * time.Second
	defaultGracefulShutdown   = 10 * time.Second
	defaultUpstreamTimeout    = time.Duration(0)
	defaultServerWriteTimeout = time.Duration(0)
)

// BasePath prefixes every mortgage route. The metrics endpoint must live
// outside it.
const BasePath = "/api/mortgage"

// DefaultAllowedOrigins are the local frontend dev servers (Vite and CRA).
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// Config captures runtime settings for the gateway.
type Config struct {
	ListenAddr     string
	Upstream       *url.URL
	AllowedOrigins []string
	// UpstreamTimeout bounds each forwarded call. Zero means no timeout.
	UpstreamTimeout         time.Duration
	LogLevel                string
	MetricsEnabled          bool
	MetricsPath             string
	ServerReadTimeout       time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	GracefulShutdownTimeout time.Duration
}

// Duration is a time.Duration that unmarshals from a YAML string like "15s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// fileConfig mirrors Config for the optional YAML file. Pointer fields
// distinguish "absent" from a zero value.
type fileConfig struct {
	ListenAddr         *string   `yaml:"listen_addr"`
	UpstreamURL        *string   `yaml:"upstream_url"`
	AllowedOrigins     []string  `yaml:"allowed_origins"`
	UpstreamTimeout    *Duration `yaml:"upstream_timeout"`
	LogLevel           *string   `yaml:"log_level"`
	MetricsEnabled     *bool     `yaml:"metrics_enabled"`
	MetricsPath        *string   `yaml:"metrics_path"`
	ServerReadTimeout  *Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout *Duration `yaml:"server_write_timeout"`
	ServerIdleTimeout  *Duration `yaml:"server_idle_timeout"`
	GracefulShutdown   *Duration `yaml:"graceful_shutdown"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	upstream, _ := url.Parse(defaultUpstreamURL)
	return Config{
		ListenAddr:              defaultListenAddr,
		Upstream:                upstream,
		AllowedOrigins:          append([]string(nil), DefaultAllowedOrigins...),
		UpstreamTimeout:         defaultUpstreamTimeout,
		LogLevel:                defaultLogLevel,
		MetricsEnabled:          true,
		MetricsPath:             defaultMetricsPath,
		ServerReadTimeout:       defaultServerReadTimeout,
		ServerWriteTimeout:      defaultServerWriteTimeout,
		ServerIdleTimeout:       defaultServerIdleTimeout,
		GracefulShutdownTimeout: defaultGracefulShutdown,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// MORTGAGE_CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that the gateway relies on at startup.
func (c Config) Validate() error {
	if c.Upstream == nil {
		return errors.New("upstream URL is required")
	}
	if !c.Upstream.IsAbs() || c.Upstream.Host == "" {
		return errors.New("upstream URL must be absolute (scheme://host)")
	}
	if c.Upstream.Scheme != "http" && c.Upstream.Scheme != "https" {
		return fmt.Errorf("unsupported upstream scheme %q", c.Upstream.Scheme)
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.MetricsEnabled {
		if !strings.HasPrefix(c.MetricsPath, "/") {
			return fmt.Errorf("metrics path %q must start with /", c.MetricsPath)
		}
		trimmed := strings.TrimSuffix(c.MetricsPath, "/")
		if trimmed == BasePath || strings.HasPrefix(trimmed, BasePath+"/") {
			return fmt.Errorf("metrics path %q must not be under %s", c.MetricsPath, BasePath)
		}
	}
	if c.UpstreamTimeout < 0 {
		return errors.New("upstream timeout must not be negative")
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.UnmarshalStrict(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != nil {
		cfg.ListenAddr = strings.TrimSpace(*fc.ListenAddr)
	}
	if fc.UpstreamURL != nil {
		upstream, err := parseUpstream(*fc.UpstreamURL)
		if err != nil {
			return err
		}
		cfg.Upstream = upstream
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = normalizeOrigins(fc.AllowedOrigins)
	}
	if fc.UpstreamTimeout != nil {
		cfg.UpstreamTimeout = time.Duration(*fc.UpstreamTimeout)
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*fc.LogLevel))
	}
	if fc.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fc.MetricsEnabled
	}
	if fc.MetricsPath != nil {
		cfg.MetricsPath = strings.TrimSpace(*fc.MetricsPath)
	}
	if fc.ServerReadTimeout != nil {
		cfg.ServerReadTimeout = time.Duration(*fc.ServerReadTimeout)
	}
	if fc.ServerWriteTimeout != nil {
		cfg.ServerWriteTimeout = time.Duration(*fc.ServerWriteTimeout)
	}
	if fc.ServerIdleTimeout != nil {
		cfg.ServerIdleTimeout = time.Duration(*fc.ServerIdleTimeout)
	}
	if fc.GracefulShutdown != nil {
		cfg.GracefulShutdownTimeout = time.Duration(*fc.GracefulShutdown)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if raw := strings.TrimSpace(os.Getenv(envUpstreamURL)); raw != "" {
		upstream, err := parseUpstream(raw)
		if err != nil {
			return err
		}
		cfg.Upstream = upstream
	}
	if raw := strings.TrimSpace(os.Getenv(envAllowedOrigins)); raw != "" {
		cfg.AllowedOrigins = normalizeOrigins(strings.Split(raw, ","))
	}

	cfg.ListenAddr = getString(envListenAddr, cfg.ListenAddr)
	cfg.UpstreamTimeout = getDuration(envUpstreamTimeout, cfg.UpstreamTimeout)
	cfg.LogLevel = strings.ToLower(getString(envLogLevel, cfg.LogLevel))
	cfg.MetricsEnabled = getBool(envMetricsEnabled, cfg.MetricsEnabled)
	cfg.MetricsPath = getString(envMetricsPath, cfg.MetricsPath)
	cfg.ServerReadTimeout = getDuration(envServerReadTimeout, cfg.ServerReadTimeout)
	cfg.ServerWriteTimeout = getDuration(envServerWriteTimeout, cfg.ServerWriteTimeout)
	cfg.ServerIdleTimeout = getDuration(envServerIdleTimeout, cfg.ServerIdleTimeout)
	cfg.GracefulShutdownTimeout = getDuration(envGracefulShutdown, cfg.GracefulShutdownTimeout)
	return nil
}

func parseUpstream(raw string) (*url.URL, error) {
	upstream, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if !upstream.IsAbs() {
		return nil, errors.New("upstream URL must be absolute (scheme://host)")
	}
	return upstream, nil
}

// normalizeOrigins trims whitespace and trailing slashes and drops blanks.
func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getString(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		log.Warn().Err(err).Str("env", key).Str("value", val).Bool("fallback", fallback).
			Msg("ignoring invalid boolean")
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		log.Warn().Err(err).Str("env", key).Str("value", val).Dur("fallback", fallback).
			Msg("ignoring invalid duration")
		return fallback
	}
	return parsed
}
