package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // AUDIT_TIMEZONE must resolve in minimal containers
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	LogLevel      string
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Audit         AuditConfig
}

// DatabaseConfig selects the SQL driver and DSN for the audit store.
type DatabaseConfig struct {
	Driver       string
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig configures the optional count cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional audit mirror. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// AuditConfig holds listing bounds and writer protection settings.
type AuditConfig struct {
	QueryMaxLimit     int
	QueryDefaultLimit int
	CountCacheTTL     time.Duration
	Timezone          *time.Location
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	SinkTimeout       time.Duration
	SchemaBootstrap   bool
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Malformed numeric or duration values are reported rather than silently
// replaced.
func FromEnv() (Server, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	tzName := envString("AUDIT_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		errs = append(errs, fmt.Sprintf("AUDIT_TIMEZONE: %v", err))
		loc = time.UTC
	}

	cfg := Server{
		Addr:          envString("AUDIT_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envString("JWT_ISSUER", "landrecords"),
		JWTAudience:   envString("JWT_AUDIENCE", "landrecords-api"),
		LogLevel:      envString("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:       envString("DATABASE_DRIVER", "postgres"),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: intVar("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: intVar("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durVar("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: durVar("REDIS_WRITE_TIMEOUT", time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:             envString("AUDIT_KAFKA_TOPIC", "landrecords.audit"),
			Partitions:        int32(intVar("AUDIT_KAFKA_PARTITIONS", 3)),
			ReplicationFactor: int16(intVar("AUDIT_KAFKA_REPLICATION_FACTOR", 1)),
		},
		Audit: AuditConfig{
			QueryMaxLimit:     intVar("AUDIT_QUERY_MAX_LIMIT", 200),
			QueryDefaultLimit: intVar("AUDIT_QUERY_DEFAULT_LIMIT", 20),
			CountCacheTTL:     durVar("AUDIT_COUNT_CACHE_TTL", 30*time.Second),
			Timezone:          loc,
			BreakerThreshold:  intVar("AUDIT_BREAKER_THRESHOLD", 5),
			BreakerCooldown:   durVar("AUDIT_BREAKER_COOLDOWN", time.Minute),
			SinkTimeout:       durVar("AUDIT_SINK_TIMEOUT", 2*time.Second),
			SchemaBootstrap:   os.Getenv("AUDIT_SCHEMA_BOOTSTRAP") != "false",
		},
	}

	if cfg.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	switch cfg.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER: unsupported driver %q", cfg.Database.Driver))
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a duration", key, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
