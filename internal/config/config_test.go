package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, ":8083", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.OutboxStore)
	assert.Equal(t, BrokerKafka, cfg.Broker)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, 10, cfg.Relay.BatchSize)
	assert.Equal(t, time.Hour, cfg.Relay.RetentionInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Relay.RetentionWindow)
	assert.False(t, cfg.Relay.LockEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OUTBOX_STORE", "Redis")
	t.Setenv("ACCOUNT_STORE", "mongo")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RELAY_POLL_INTERVAL", "250ms")
	t.Setenv("RELAY_BATCH_SIZE", "50")
	t.Setenv("RELAY_LOCK_ENABLED", "true")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.OutboxStore)
	assert.Equal(t, StoreMongo, cfg.AccountStore)
	assert.True(t, cfg.Uses(StoreMongo))
	assert.False(t, cfg.Uses(StorePostgres))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, 50, cfg.Relay.BatchSize)
	assert.True(t, cfg.Relay.LockEnabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker: rabbitmq\nrelay_batch_size: 25\n"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, BrokerRabbitMQ, cfg.Broker)
	assert.Equal(t, 25, cfg.Relay.BatchSize)
}

func TestValidate(t *testing.T) {
	base, err := Load(viper.New())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown outbox store", func(c *Config) { c.OutboxStore = "cassandra" }},
		{"unknown broker", func(c *Config) { c.Broker = "nats" }},
		{"no kafka brokers", func(c *Config) { c.KafkaBrokers = nil }},
		{"empty rabbitmq url", func(c *Config) { c.Broker = BrokerRabbitMQ; c.RabbitMQURL = "" }},
		{"zero poll interval", func(c *Config) { c.Relay.PollInterval = 0 }},
		{"zero batch size", func(c *Config) { c.Relay.BatchSize = 0 }},
		{"lock without ttl", func(c *Config) { c.Relay.LockEnabled = true; c.Relay.LockTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
