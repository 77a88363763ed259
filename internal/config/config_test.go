package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/pocketbus/internal/core/observability/log"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "ws://*:5559", cfg.Broker.PublisherAddr)
	assert.Equal(t, "ws://*:5560", cfg.Broker.SubscriberAddr)
	assert.Equal(t, "ws://127.0.0.1:5559", cfg.Client.PublisherAddr)
	assert.Equal(t, "ws://127.0.0.1:5560", cfg.Client.SubscriberAddr)
	assert.Equal(t, log.LevelInfo, cfg.LogOptions().Level)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "eventbus.yaml", `
log:
  level: debug
  encoding: console
broker:
  publisher_addr: quic://*:7001
  subscriber_addr: quic://*:7002
  metrics_addr: 127.0.0.1:9090
  grace_period: 2s
  send_queue_size: 64
client:
  identity: agent-1
  publisher_addr: quic://10.0.0.5:7001
  subscriber_addr: quic://10.0.0.5:7002
`)
	cfg, err := Load(Options{Path: path})
	require.NoError(t, err)

	assert.Equal(t, log.LevelDebug, cfg.LogOptions().Level)
	assert.Equal(t, "console", cfg.LogOptions().Encoding)

	bc := cfg.BrokerConfig()
	assert.Equal(t, "quic://*:7001", bc.PublisherEndpoint)
	assert.Equal(t, 2*time.Second, bc.GracePeriod)
	assert.Equal(t, 64, bc.SendQueueSize)
	assert.Equal(t, "127.0.0.1:9090", cfg.Broker.MetricsAddr)

	cc := cfg.ClientConfig()
	assert.Equal(t, "agent-1", cc.Identity)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, cc.StopTimeout)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "eventbus.yaml", "broker:\n  publisher_adr: ws://*:1\n")
	_, err := Load(Options{Path: path})
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "eventbus.yaml", "client:\n  identity: from-file\n")
	t.Setenv("EVENTBUS_CLIENT_IDENTITY", "from-env")
	t.Setenv("EVENTBUS_BROKER_GRACE_PERIOD", "750ms")
	t.Setenv("EVENTBUS_BROKER_SEND_QUEUE_SIZE", "8")

	cfg, err := Load(Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Client.Identity)
	assert.Equal(t, 750*time.Millisecond, cfg.Broker.GracePeriod)
	assert.Equal(t, 8, cfg.Broker.SendQueueSize)
}

func TestEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "EVENTBUS_LOG_LEVEL=error\n")
	// t.Setenv restores the variable afterwards; godotenv only fills unset ones.
	t.Setenv("EVENTBUS_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("EVENTBUS_LOG_LEVEL"))

	cfg, err := Load(Options{EnvFiles: []string{envFile, filepath.Join(t.TempDir(), "missing.env")}})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	tests := map[string]func(*Config){
		"bad scheme":        func(c *Config) { c.Broker.PublisherAddr = "tcp://*:5559" },
		"missing port":      func(c *Config) { c.Client.SubscriberAddr = "ws://localhost" },
		"same endpoints":    func(c *Config) { c.Broker.SubscriberAddr = c.Broker.PublisherAddr },
		"bad log level":     func(c *Config) { c.Log.Level = "verbose" },
		"bad encoding":      func(c *Config) { c.Log.Encoding = "xml" },
		"negative queue":    func(c *Config) { c.Broker.SendQueueSize = -1 },
		"bad metrics addr":  func(c *Config) { c.Broker.MetricsAddr = "not an address" },
		"negative duration": func(c *Config) { c.Client.RetryMin = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestBadEnvironmentValue(t *testing.T) {
	t.Setenv("EVENTBUS_CLIENT_RETRY_MAX", "soon")
	_, err := Load(Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
