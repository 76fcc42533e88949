package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/powersaver/internal/testutils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 100*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 100, cfg.SaveEvery)
	assert.Equal(t, "powersaver/live", cfg.MQTT.Topic)
	assert.Empty(t, cfg.MQTT.Broker, "telemetry MUST be off by default")
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "powersaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GOAL: Verify file values override defaults and environment overrides the file
	//
	// TEST SCENARIO: YAML sets delay + mqtt → env sets broker → merged config

	path := writeConfig(t, `
log_level: debug
reconnect_delay: 2s
max_reconnect_attempts: 5
mqtt:
  broker: localhost:1883
  topic: garage/bike
`)
	t.Setenv("POWERSAVER_MQTT_BROKER", "tcp://10.0.0.7:1883")
	t.Setenv("POWERSAVER_SAVE_EVERY", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 20, cfg.SaveEvery, "environment MUST override defaults")
	assert.Equal(t, "tcp://10.0.0.7:1883", cfg.MQTT.Broker, "environment MUST override the file")
	assert.Equal(t, "garage/bike", cfg.MQTT.Topic)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout, "unset keys MUST keep defaults")
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeConfig(t, `
log_level: chatty
sample_interval: 0s
max_reconnect_attempts: -1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "sample_interval must be positive")
	assert.Contains(t, err.Error(), "max_reconnect_attempts must not be negative")
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", want: logrus.ErrorLevel},
		{name: "falls back to info on garbage", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok, "logger MUST use the text formatter")
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 7 * time.Second
	logger := testutils.NewTestLogger()

	so := cfg.SensorOptions(nil, logger)
	assert.Equal(t, 7*time.Second, so.ReconnectDelay)
	assert.Equal(t, 3, so.MaxReconnectAttempts)
	assert.Same(t, logger, so.Logger)

	ro := cfg.SessionOptions(nil, nil, logger)
	assert.Equal(t, 100*time.Millisecond, ro.SampleInterval)
	assert.Equal(t, 100, ro.SaveEvery)

	_, ok := cfg.TelemetryOptions(nil, logger)
	assert.False(t, ok, "telemetry MUST be disabled without a broker")

	cfg.MQTT.Broker = "localhost:1883"
	to, ok := cfg.TelemetryOptions(nil, logger)
	require.True(t, ok)
	assert.Equal(t, "localhost:1883", to.Broker)
	assert.Equal(t, "powersaver/live", to.Topic)
	assert.Equal(t, time.Second, to.Interval)
}

func TestConfig_SessionPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionFile = "/tmp/ride.json"
	path, err := cfg.SessionPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ride.json", path)

	cfg.SessionFile = ""
	path, err = cfg.SessionPath()
	if err == nil {
		assert.Equal(t, "session.json", filepath.Base(path))
	}
}

func TestConfig_YAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MQTT.Broker = "localhost:1883"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "reconnect_delay: 5s")
	assert.Contains(t, out, "broker: localhost:1883")
}
