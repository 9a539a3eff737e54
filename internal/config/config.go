package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string
	Timezone       string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ExtractQueueURL        string
	SendQueueURL           string
	ActiveScheduleQueueURL string
	ChannelEventsQueueURL  string

	// Channel events may arrive over SQS (default) or Kafka.
	ChannelEventsSource     string
	KafkaBrokers            []string
	KafkaChannelEventsTopic string
	KafkaGroupID            string

	EventsDedupTable string
	ArchiveBucket    string

	IntegrationBaseURL string
	IntegrationToken   string
	InboxBaseURL       string
	InboxToken         string

	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	AdminJWTSecret string

	ExtractTickInterval        time.Duration
	ExtractLockTimeout         time.Duration
	NotAnsweredResendInterval  time.Duration
	IntegrationRetryInterval   time.Duration
	RunnerConcurrency          int
	ActiveScheduleRateLimit    int
	ActiveScheduleMaxBodyBytes int
}

// Load reads configuration from the environment, after applying an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		Timezone:       getEnv("TIMEZONE", "America/Sao_Paulo"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ExtractQueueURL:        getEnv("EXTRACT_QUEUE_URL", ""),
		SendQueueURL:           getEnv("SEND_QUEUE_URL", ""),
		ActiveScheduleQueueURL: getEnv("ACTIVE_SCHEDULE_QUEUE_URL", ""),
		ChannelEventsQueueURL:  getEnv("CHANNEL_EVENTS_QUEUE_URL", ""),

		ChannelEventsSource:     strings.ToLower(strings.TrimSpace(getEnv("CHANNEL_EVENTS_SOURCE", "sqs"))),
		KafkaBrokers:            getEnvAsList("KAFKA_BROKERS"),
		KafkaChannelEventsTopic: getEnv("KAFKA_CHANNEL_EVENTS_TOPIC", "channel-events"),
		KafkaGroupID:            getEnv("KAFKA_GROUP_ID", "schedule-notify"),

		EventsDedupTable: getEnv("EVENTS_DEDUP_TABLE", ""),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),

		IntegrationBaseURL: getEnv("INTEGRATION_BASE_URL", ""),
		IntegrationToken:   getEnv("INTEGRATION_TOKEN", ""),
		InboxBaseURL:       getEnv("INBOX_BASE_URL", ""),
		InboxToken:         getEnv("INBOX_TOKEN", ""),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		ExtractTickInterval:        getEnvAsDuration("EXTRACT_TICK_INTERVAL", time.Minute),
		ExtractLockTimeout:         getEnvAsDuration("EXTRACT_LOCK_TIMEOUT", 60*time.Minute),
		NotAnsweredResendInterval:  getEnvAsDuration("NOT_ANSWERED_RESEND_INTERVAL", 30*time.Minute),
		IntegrationRetryInterval:   getEnvAsDuration("INTEGRATION_RETRY_INTERVAL", 10*time.Minute),
		RunnerConcurrency:          getEnvAsInt("RUNNER_CONCURRENCY", 8),
		ActiveScheduleRateLimit:    getEnvAsInt("ACTIVE_SCHEDULE_RATE_LIMIT", 1000),
		ActiveScheduleMaxBodyBytes: getEnvAsInt("ACTIVE_SCHEDULE_MAX_BYTES", 256*1024),
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
