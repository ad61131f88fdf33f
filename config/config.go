package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all app configuration
type Config struct {
	Env string

	// Server
	HTTPPort string
	Timezone string

	// Storage
	StoreDriver        string
	SQLitePath         string
	PostgresDSN        string
	ClickhouseAddr     string
	ClickhouseUsername string
	ClickhousePassword string
	ClickhouseTimeout  int // seconds

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaConsumerGroup string
	KafkaBatchSize     int
	KafkaBatchTimeout  int // milliseconds

	// Cache
	TradeBufferSize   int
	WarningBufferSize int
	SeenHashCacheSize int
	SeenHashTTL       time.Duration

	// Scheduler
	RetentionDays  int
	RetentionHour  int
	RebuildTimeout time.Duration

	// AuthTokenHash is a bcrypt hash; empty leaves every route open.
	AuthTokenHash string
	Chains        []string

	// App settings
	EventBufferSize int
}

// LoadConfig loads configuration from environment variables, with optional .env file
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	return &Config{
		Env: getEnv("ENV", "local"),

		// Server
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Timezone: getEnv("TIMEZONE", "Local"),

		// Storage
		StoreDriver:        getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:         getEnv("SQLITE_PATH", "mev.db"),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		ClickhouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickhouseUsername: getEnv("CLICKHOUSE_USERNAME", ""),
		ClickhousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		ClickhouseTimeout:  getEnvAsInt("CLICKHOUSE_TIMEOUT", 10),

		// Redis
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Kafka
		KafkaEnabled:       getEnvAsBool("KAFKA_ENABLED", false),
		KafkaBrokers:       getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}, ","),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "trades"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "mev-dashboard"),
		KafkaBatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 100),
		KafkaBatchTimeout:  getEnvAsInt("KAFKA_BATCH_TIMEOUT", 1000),

		// Cache
		TradeBufferSize:   getEnvAsInt("TRADE_BUFFER_SIZE", 500),
		WarningBufferSize: getEnvAsInt("WARNING_BUFFER_SIZE", 100),
		SeenHashCacheSize: getEnvAsInt("SEEN_HASH_CACHE_SIZE", 20000),
		SeenHashTTL:       getEnvAsDuration("SEEN_HASH_TTL", 26*time.Hour),

		// Scheduler
		RetentionDays:  getEnvAsInt("RETENTION_DAYS", 70),
		RetentionHour:  getEnvAsInt("RETENTION_HOUR", 2),
		RebuildTimeout: getEnvAsDuration("REBUILD_TIMEOUT", 30*time.Second),

		AuthTokenHash: getEnv("AUTH_TOKEN_HASH", ""),
		Chains:        getEnvAsSlice("CHAINS", nil, ","),

		// App settings
		EventBufferSize: getEnvAsInt("EVENT_BUFFER_SIZE", 10000),
	}
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Unknown TIMEZONE %q, using local time: %v", c.Timezone, err)
		return time.Local
	}
	return loc
}

// Helper functions for parsing environment variables
func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := getEnv(key, "")
	if val, err := strconv.ParseBool(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valStr := getEnv(key, "")
	if val, err := time.ParseDuration(valStr); err == nil {
		return val
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultVal
	}
	parts := strings.Split(valStr, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
