package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/landrecords")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 200, cfg.Audit.QueryMaxLimit)
	assert.Equal(t, 20, cfg.Audit.QueryDefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.Audit.CountCacheTTL)
	assert.Equal(t, time.UTC, cfg.Audit.Timezone)
	assert.Equal(t, 2*time.Second, cfg.Audit.SinkTimeout)
	assert.True(t, cfg.Audit.SchemaBootstrap)
	assert.NotEmpty(t, cfg.JWTSigningKey)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/landrecords")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("AUDIT_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AUDIT_QUERY_MAX_LIMIT", "100")
	t.Setenv("AUDIT_COUNT_CACHE_TTL", "5s")
	t.Setenv("AUDIT_TIMEZONE", "Asia/Manila")
	t.Setenv("AUDIT_SCHEMA_BOOTSTRAP", "false")
	t.Setenv("AUDIT_SINK_TIMEOUT", "750ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Audit.QueryMaxLimit)
	assert.Equal(t, 5*time.Second, cfg.Audit.CountCacheTTL)
	assert.Equal(t, "Asia/Manila", cfg.Audit.Timezone.String())
	assert.False(t, cfg.Audit.SchemaBootstrap)
	assert.Equal(t, 750*time.Millisecond, cfg.Audit.SinkTimeout)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_DRIVER", "mysql")
	t.Setenv("AUDIT_QUERY_MAX_LIMIT", "lots")
	t.Setenv("AUDIT_COUNT_CACHE_TTL", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), `unsupported driver "mysql"`)
	assert.Contains(t, err.Error(), "AUDIT_QUERY_MAX_LIMIT")
	assert.Contains(t, err.Error(), "AUDIT_COUNT_CACHE_TTL")
}
