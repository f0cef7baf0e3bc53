package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort string

	// Postgres / TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Write buffer & flush tuning
	BufferFlushCap  int
	FlushInterval   time.Duration
	BufferRetention time.Duration
	LatestTTL       time.Duration
	MotionStateTTL  time.Duration

	// Kafka ingest (disabled when no brokers are configured)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Auth
	AuthCacheTTLSeconds int
	StaticAPIKeys       map[string]int64
}

func Load() *Config {
	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8001"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "track_user"),
		DBPassword:          getEnv("DB_PASSWORD", "track_password"),
		DBName:              getEnv("DB_NAME", "fleettrack"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		BufferFlushCap:      getEnvInt("BUFFER_FLUSH_CAP", 200),
		FlushInterval:       time.Duration(getEnvInt("FLUSH_INTERVAL_SECONDS", 300)) * time.Second,
		BufferRetention:     time.Duration(getEnvInt("BUFFER_RETENTION_HOURS", 24)) * time.Hour,
		LatestTTL:           time.Duration(getEnvInt("LATEST_TTL_SECONDS", 300)) * time.Second,
		MotionStateTTL:      time.Duration(getEnvInt("MOTION_STATE_TTL_HOURS", 24)) * time.Hour,
		KafkaBrokers:        splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "vehicle-telemetry"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "fleettrack-ingest"),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		StaticAPIKeys:       parseAPIKeys(getEnv("STATIC_API_KEYS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAPIKeys reads "key:orgID" pairs, comma separated. Malformed pairs
// are skipped.
func parseAPIKeys(s string) map[string]int64 {
	keys := make(map[string]int64)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || k == "" {
			continue
		}
		orgID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		keys[k] = orgID
	}
	return keys
}
