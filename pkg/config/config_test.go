package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Transaction.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Transaction.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Transaction.MaxDelay)
	assert.True(t, cfg.Transaction.Jitter)
	assert.Equal(t, time.Minute, cfg.Cache.UnreadTTL)
	assert.Equal(t, 2, cfg.Events.Workers)
	assert.Equal(t, "perf-eval:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("DB_DRIVER", "SQLite")
	v.Set("TX_MAX_RETRIES", 0)
	v.Set("TX_RETRY_BASE_DELAY", "not-a-duration")
	v.Set("EVENTS_ASYNC", true)

	cfg := fromViper(v)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Transaction.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Transaction.BaseDelay)
	assert.True(t, cfg.Events.Async)
}

func TestNormalizeDriver(t *testing.T) {
	assert.Equal(t, DriverPgx, normalizeDriver(" pgx "))
	assert.Equal(t, DriverPostgres, normalizeDriver("mysql"))
	assert.Equal(t, DriverSQLite, normalizeDriver("sqlite3"))
}
