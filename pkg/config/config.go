package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/srg/powersaver/internal/wallclock"
	"github.com/srg/powersaver/pkg/sensor"
	"github.com/srg/powersaver/pkg/session"
	"github.com/srg/powersaver/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. POWERSAVER_MQTT_BROKER.
const EnvPrefix = "POWERSAVER"

// Config holds application configuration
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" default:"info"`

	ScanTimeout          time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout" default:"10s"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" default:"30s"`
	OperationTimeout     time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout" default:"10s"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay" default:"5s"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts" default:"3"`

	// SessionFile defaults to powersaver/session.json under the user cache dir.
	SessionFile    string        `mapstructure:"session_file" yaml:"session_file"`
	SessionMaxAge  time.Duration `mapstructure:"session_max_age" yaml:"session_max_age" default:"24h"`
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval" default:"100ms"`
	SaveEvery      int           `mapstructure:"save_every" yaml:"save_every" default:"100"`

	MQTT MQTT `mapstructure:"mqtt" yaml:"mqtt"`
}

// MQTT configures live telemetry. An empty broker disables it.
type MQTT struct {
	Broker   string        `mapstructure:"broker" yaml:"broker"`
	Topic    string        `mapstructure:"topic" yaml:"topic" default:"powersaver/live"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval" default:"1s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file at
// path and POWERSAVER_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every field gets a
	// default even when no file sets it.
	for key, value := range cfg.flatten() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) flatten() map[string]any {
	return map[string]any{
		"log_level":              c.LogLevel,
		"scan_timeout":           c.ScanTimeout,
		"connect_timeout":        c.ConnectTimeout,
		"operation_timeout":      c.OperationTimeout,
		"reconnect_delay":        c.ReconnectDelay,
		"max_reconnect_attempts": c.MaxReconnectAttempts,
		"session_file":           c.SessionFile,
		"session_max_age":        c.SessionMaxAge,
		"sample_interval":        c.SampleInterval,
		"save_every":             c.SaveEvery,
		"mqtt.broker":            c.MQTT.Broker,
		"mqtt.topic":             c.MQTT.Topic,
		"mqtt.interval":          c.MQTT.Interval,
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	positive := map[string]time.Duration{
		"scan_timeout":      c.ScanTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"operation_timeout": c.OperationTimeout,
		"session_max_age":   c.SessionMaxAge,
		"sample_interval":   c.SampleInterval,
		"mqtt.interval":     c.MQTT.Interval,
	}
	for _, key := range []string{"scan_timeout", "connect_timeout", "operation_timeout", "session_max_age", "sample_interval", "mqtt.interval"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, positive[key]))
		}
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect_delay must not be negative, got %s", c.ReconnectDelay))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_reconnect_attempts must not be negative, got %d", c.MaxReconnectAttempts))
	}
	if c.SaveEvery <= 0 {
		errs = append(errs, fmt.Errorf("save_every must be positive, got %d", c.SaveEvery))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required when mqtt.broker is set"))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionPath resolves the session file location.
func (c *Config) SessionPath() (string, error) {
	if c.SessionFile != "" {
		return c.SessionFile, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate cache directory: %w", err)
	}
	return filepath.Join(dir, "powersaver", "session.json"), nil
}

// SensorOptions converts the connection settings.
func (c *Config) SensorOptions(clock wallclock.Clock, logger *logrus.Logger) sensor.Options {
	return sensor.Options{
		OperationTimeout:     c.OperationTimeout,
		ConnectTimeout:       c.ConnectTimeout,
		ReconnectDelay:       c.ReconnectDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		Clock:                clock,
		Logger:               logger,
	}
}

// SessionOptions converts the recorder settings. store may be nil.
func (c *Config) SessionOptions(store *session.Store, clock wallclock.Clock, logger *logrus.Logger) session.Options {
	return session.Options{
		SampleInterval: c.SampleInterval,
		SaveEvery:      c.SaveEvery,
		Store:          store,
		Clock:          clock,
		Logger:         logger,
	}
}

// TelemetryOptions converts the MQTT settings. ok is false when telemetry
// is disabled.
func (c *Config) TelemetryOptions(clock wallclock.Clock, logger *logrus.Logger) (opts telemetry.Options, ok bool) {
	if c.MQTT.Broker == "" {
		return telemetry.Options{}, false
	}
	return telemetry.Options{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		Interval: c.MQTT.Interval,
		Clock:    clock,
		Logger:   logger,
	}, true
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(out), nil
}
