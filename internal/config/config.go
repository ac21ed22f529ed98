// Package config loads jstpctl settings from TOML or YAML files, fills
// defaults and applies JSTP_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvApp          = "JSTP_APP"
	EnvTransport    = "JSTP_TRANSPORT"
	EnvAddress      = "JSTP_ADDRESS"
	EnvURL          = "JSTP_URL"
	EnvUsername     = "JSTP_USERNAME"
	EnvPassword     = "JSTP_PASSWORD"
	EnvSessionStore = "JSTP_SESSION_STORAGE"
	EnvRedisAddr    = "JSTP_REDIS_ADDR"
	EnvSQLitePath   = "JSTP_SQLITE_PATH"
	EnvLogLevel     = "JSTP_LOG_LEVEL"
	EnvLogFormat    = "JSTP_LOG_FORMAT"
	EnvMetricsAddr  = "JSTP_METRICS_ADDR"
	EnvHeartbeat    = "JSTP_HEARTBEAT"
)

// Duration is a time.Duration written as "1s" or "250ms" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	App       AppConfig       `toml:"app" yaml:"app"`
	Auth      AuthConfig      `toml:"auth" yaml:"auth"`
	Transport TransportConfig `toml:"transport" yaml:"transport"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Serve     ServeConfig     `toml:"serve" yaml:"serve"`
}

type AppConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`
}

// AuthConfig selects a login handshake when Username is set.
type AuthConfig struct {
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

type TransportConfig struct {
	Kind               string          `toml:"kind" yaml:"kind"` // tcp or ws
	Address            string          `toml:"address" yaml:"address"`
	URL                string          `toml:"url" yaml:"url"`
	TLS                bool            `toml:"tls" yaml:"tls"`
	InsecureSkipVerify bool            `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Heartbeat          Duration        `toml:"heartbeat" yaml:"heartbeat"`
	IdleTimeout        Duration        `toml:"idle_timeout" yaml:"idle_timeout"`
	DrainTimeout       Duration        `toml:"drain_timeout" yaml:"drain_timeout"`
	DialTimeout        Duration        `toml:"dial_timeout" yaml:"dial_timeout"`
	MaxMessageSize     int             `toml:"max_message_size" yaml:"max_message_size"`
	Reconnect          ReconnectConfig `toml:"reconnect" yaml:"reconnect"`
}

type ReconnectConfig struct {
	Disabled     bool     `toml:"disabled" yaml:"disabled"`
	InitialDelay Duration `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay" yaml:"max_delay"`
	MaxAttempts  int      `toml:"max_attempts" yaml:"max_attempts"`
}

type SessionConfig struct {
	Policy      string   `toml:"policy" yaml:"policy"`   // simple or drop
	Storage     string   `toml:"storage" yaml:"storage"` // none, memory, redis or sqlite
	Key         string   `toml:"key" yaml:"key"`
	RedisAddr   string   `toml:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string   `toml:"redis_prefix" yaml:"redis_prefix"`
	RedisTTL    Duration `toml:"redis_ttl" yaml:"redis_ttl"`
	SQLitePath  string   `toml:"sqlite_path" yaml:"sqlite_path"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // console or json
}

type MetricsConfig struct {
	Addr string `toml:"addr" yaml:"addr"` // empty disables the endpoint
}

// ServeConfig configures jstpctl serve.
type ServeConfig struct {
	Listen   string `toml:"listen" yaml:"listen"`
	WSListen string `toml:"ws_listen" yaml:"ws_listen"`
	WSPath   string `toml:"ws_path" yaml:"ws_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		App: AppConfig{Name: "jstpctl"},
		Transport: TransportConfig{
			Kind:           "tcp",
			Address:        "127.0.0.1:3000",
			IdleTimeout:    Duration(30 * time.Second),
			DrainTimeout:   Duration(5 * time.Second),
			DialTimeout:    Duration(10 * time.Second),
			MaxMessageSize: 1024 * 1024,
			Reconnect: ReconnectConfig{
				InitialDelay: Duration(500 * time.Millisecond),
				MaxDelay:     Duration(30 * time.Second),
			},
		},
		Session: SessionConfig{
			Policy:      "simple",
			Storage:     "none",
			Key:         "jstp.session",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "jstp:",
			SQLitePath:  "jstp.db",
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Serve: ServeConfig{
			Listen: "127.0.0.1:3000",
			WSPath: "/jstp",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads only defaults and environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
		}
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config parse failed (%s)", path)
		}
	}
	if err := applyEnvOverrides(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(path string, data []byte, out *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(out)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err := dec.Decode(out)
		// an empty document leaves the defaults
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str(EnvApp, &cfg.App.Name)
	str(EnvTransport, &cfg.Transport.Kind)
	str(EnvAddress, &cfg.Transport.Address)
	str(EnvURL, &cfg.Transport.URL)
	str(EnvUsername, &cfg.Auth.Username)
	str(EnvPassword, &cfg.Auth.Password)
	str(EnvSessionStore, &cfg.Session.Storage)
	str(EnvRedisAddr, &cfg.Session.RedisAddr)
	str(EnvSQLitePath, &cfg.Session.SQLitePath)
	str(EnvLogLevel, &cfg.Log.Level)
	str(EnvLogFormat, &cfg.Log.Format)
	str(EnvMetricsAddr, &cfg.Metrics.Addr)

	if v := strings.TrimSpace(getenv(EnvHeartbeat)); v != "" {
		if err := cfg.Transport.Heartbeat.UnmarshalText([]byte(v)); err != nil {
			return errors.Wrapf(err, "%s", EnvHeartbeat)
		}
	}
	return nil
}

// Validate checks that the configuration can be used.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.App.Name) == "" {
		return fmt.Errorf("app name is required")
	}

	switch cfg.Transport.Kind {
	case "tcp":
		if strings.TrimSpace(cfg.Transport.Address) == "" {
			return fmt.Errorf("transport address is required for tcp")
		}
	case "ws":
		if !strings.HasPrefix(cfg.Transport.URL, "ws://") && !strings.HasPrefix(cfg.Transport.URL, "wss://") {
			return fmt.Errorf("transport url must start with ws:// or wss://, got %q", cfg.Transport.URL)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
	if cfg.Transport.MaxMessageSize < 0 {
		return fmt.Errorf("max message size must not be negative")
	}
	for name, d := range map[string]Duration{
		"heartbeat":     cfg.Transport.Heartbeat,
		"idle_timeout":  cfg.Transport.IdleTimeout,
		"drain_timeout": cfg.Transport.DrainTimeout,
		"dial_timeout":  cfg.Transport.DialTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("transport %s must not be negative", name)
		}
	}
	if cfg.Transport.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect max_attempts must not be negative")
	}

	switch cfg.Session.Policy {
	case "simple", "drop":
	default:
		return fmt.Errorf("unknown session policy %q", cfg.Session.Policy)
	}
	switch cfg.Session.Storage {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(cfg.Session.RedisAddr) == "" {
			return fmt.Errorf("session redis_addr is required for redis storage")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.Session.SQLitePath) == "" {
			return fmt.Errorf("session sqlite_path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown session storage %q", cfg.Session.Storage)
	}

	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	return nil
}
