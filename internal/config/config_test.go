package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SpotLedger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.StorePostgres, cfg.Store.Driver)
	assert.Equal(t, config.EventsNATS, cfg.Events.Driver)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Recovery.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Recovery.HoldAge)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, ":9090", cfg.GRPC.Addr)

	rate, err := cfg.FeeRate()
	require.NoError(t, err)
	assert.True(t, rate.IsZero())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPOT_STORE_DRIVER", "memory")
	t.Setenv("SPOT_ENGINE_MAX_ATTEMPTS", "5")
	t.Setenv("SPOT_RECOVERY_HOLD_AGE", "30s")
	t.Setenv("SPOT_ORDERS_FEE_RATE", "0.001")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.StoreMemory, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Recovery.HoldAge)

	rate, err := cfg.FeeRate()
	require.NoError(t, err)
	assert.Equal(t, "0.001", rate.String())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  driver: kafka
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: balances
price:
  driver: memory
  max_age: 15s
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.EventsKafka, cfg.Events.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "balances", cfg.Kafka.Topic)
	assert.Equal(t, 15*time.Second, cfg.Price.MaxAge)
	assert.Equal(t, 4096, cfg.Events.Buffer)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"SPOT_STORE_DRIVER":        "sqlite",
		"SPOT_EVENTS_DRIVER":       "rabbit",
		"SPOT_PRICE_DRIVER":        "http",
		"SPOT_ENGINE_MAX_ATTEMPTS": "0",
		"SPOT_ORDERS_FEE_RATE":     "1",
		"SPOT_DEDUP_LRU_CAPACITY":  "-1",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
