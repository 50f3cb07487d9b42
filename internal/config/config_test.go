package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PRICE_CURRENCY", "")
	t.Setenv("RUN_LEASE_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "usd", cfg.PriceCurrency)
	assert.Equal(t, 5*time.Minute, cfg.RunLeaseTTL)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("DB_DRIVER", "Mongo")
	t.Setenv("PRICE_CURRENCY", "EUR")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "localhost:9094")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "mongo", cfg.DBDriver)
	assert.Equal(t, "eur", cfg.PriceCurrency)
	assert.Equal(t, "s3cret", cfg.CronSecret)
	assert.True(t, cfg.KafkaEnabled())
}

func TestRunLeaseTTL(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"120", 2 * time.Minute},
		{"bogus", 5 * time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("RUN_LEASE_TTL", tc.value)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.RunLeaseTTL)
		})
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	assert.Nil(t, cfg)
	assert.ErrorContains(t, err, `unknown DB_DRIVER "sqlite"`)
}
