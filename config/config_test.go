package config

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DRIVER", "SQLITE_DB_PATH", "REDIS_HOST", "VOTE_BURST", "VOTE_RATE_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "polls.db", cfg.SQLitePath)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, 10, cfg.VoteBurst)
	assert.Equal(t, 5.0, cfg.VoteRateLimit)
	assert.Equal(t, ":3001", cfg.Addr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("BIND_ADDRESS", "127.0.0.1")
	t.Setenv("DB_DRIVER", DriverPostgres)
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("VOTE_RATE_LIMIT", "2.5")

	cfg := Load()

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 4, cfg.BcryptCost)
	assert.Equal(t, 2.5, cfg.VoteRateLimit)
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("VOTE_BURST", "lots")
	t.Setenv("VOTE_RATE_LIMIT", "fast")

	cfg := Load()

	assert.Equal(t, 10, cfg.VoteBurst)
	assert.Equal(t, 5.0, cfg.VoteRateLimit)
}

func TestDialector(t *testing.T) {
	_, err := Dialector(&Config{DBDriver: "mysql"})
	assert.Error(t, err)

	d, err := Dialector(&Config{DBDriver: DriverSQLite, SQLitePath: "test.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	d, err = Dialector(&Config{DBDriver: DriverPostgres})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	SetupLogging(&Config{LogLevel: "debug", LogFormat: "json"})
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)

	SetupLogging(&Config{LogLevel: "nonsense"})
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
