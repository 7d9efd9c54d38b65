package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Events       EventsConfig
	Storage      StorageConfig
	Labeling     LabelingConfig
	Review       ReviewConfig
	Notification NotificationConfig
	Identity     IdentityConfig
	OTEL         OTELConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Env         string
	ServiceName string
	StoreDriver string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// EventsConfig selects the durable transition log and live bus transports
type EventsConfig struct {
	LogDriver     string
	LiveDriver    string
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	LiveChannel   string
	ReadBlock     time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
}

// StorageConfig holds blob store configuration
type StorageConfig struct {
	Driver     string
	Bucket     string
	Prefix     string
	Endpoint   string
	PresignTTL time.Duration
	MaxUpload  int64
}

// LabelingConfig holds image-labeling collaborator configuration
type LabelingConfig struct {
	Provider string
	URL      string
	APIKey   string
	Timeout  time.Duration
	Workers  int
	Queue    int

	// RecoverOnStart re-enqueues records left without an automated result
	// once they are older than RecoverAge.
	RecoverOnStart bool
	RecoverAge     time.Duration
}

// ReviewConfig holds review policy flags
type ReviewConfig struct {
	// RequireSignoff leaves analyzed scans in Pending until a clinician acts.
	RequireSignoff bool
}

// NotificationConfig holds dispatcher configuration
type NotificationConfig struct {
	InProcess          bool
	ExpoURL            string
	ExpoAccessToken    string
	AttemptTimeout     time.Duration
	RetryDelay         time.Duration
	DedupTTL           time.Duration
	OnCallClinicianIDs []string
}

// IdentityConfig holds identity provider configuration
type IdentityConfig struct {
	Provider      string
	StaticTokens  []string
	SessionPrefix string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:         getEnv("APP_ENV", "development"),
			ServiceName: getEnv("SERVICE_NAME", "dermascan"),
			StoreDriver: getEnv("STORE_DRIVER", "memory"),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "dermascan"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Events: EventsConfig{
			LogDriver:     getEnv("EVENT_LOG_DRIVER", "memory"),
			LiveDriver:    getEnv("EVENT_LIVE_DRIVER", "memory"),
			Stream:        getEnv("EVENT_STREAM", "scan:transitions"),
			ConsumerGroup: getEnv("EVENT_CONSUMER_GROUP", "notification-dispatcher"),
			ConsumerName:  getEnv("EVENT_CONSUMER_NAME", hostname()),
			LiveChannel:   getEnv("EVENT_LIVE_CHANNEL", "scan:updates"),
			ReadBlock:     getEnvAsDuration("EVENT_READ_BLOCK", 5*time.Second),
			KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:    getEnv("KAFKA_TOPIC", "scan-transitions"),
			KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "notification-dispatcher"),
		},
		Storage: StorageConfig{
			Driver:     getEnv("BLOB_DRIVER", "memory"),
			Bucket:     getEnv("S3_BUCKET", "dermascan-scans"),
			Prefix:     getEnv("S3_PREFIX", "scans"),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PresignTTL: getEnvAsDuration("S3_PRESIGN_TTL", 15*time.Minute),
			MaxUpload:  int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Labeling: LabelingConfig{
			Provider:       getEnv("LABELING_PROVIDER", "rules"),
			URL:            getEnv("LABELING_URL", ""),
			APIKey:         getEnv("LABELING_API_KEY", ""),
			Timeout:        getEnvAsDuration("LABELING_TIMEOUT", 30*time.Second),
			Workers:        getEnvAsInt("ANALYSIS_WORKERS", 4),
			Queue:          getEnvAsInt("ANALYSIS_QUEUE", 256),
			RecoverOnStart: getEnvAsBool("ANALYSIS_RECOVER_ON_START", false),
			RecoverAge:     getEnvAsDuration("ANALYSIS_RECOVER_AGE", time.Minute),
		},
		Review: ReviewConfig{
			RequireSignoff: getEnvAsBool("REVIEW_REQUIRE_SIGNOFF", false),
		},
		Notification: NotificationConfig{
			InProcess:          getEnvAsBool("DISPATCHER_INPROCESS", true),
			ExpoURL:            getEnv("PUSH_EXPO_URL", "https://exp.host/--/api/v2/push/send"),
			ExpoAccessToken:    getEnv("PUSH_EXPO_ACCESS_TOKEN", ""),
			AttemptTimeout:     getEnvAsDuration("PUSH_ATTEMPT_TIMEOUT", 5*time.Second),
			RetryDelay:         getEnvAsDuration("PUSH_RETRY_DELAY", 500*time.Millisecond),
			DedupTTL:           getEnvAsDuration("NOTIFY_DEDUP_TTL", 72*time.Hour),
			OnCallClinicianIDs: getEnvAsList("ONCALL_CLINICIAN_IDS", nil),
		},
		Identity: IdentityConfig{
			Provider:      getEnv("IDENTITY_PROVIDER", "static"),
			StaticTokens:  getEnvAsList("IDENTITY_STATIC_TOKENS", nil),
			SessionPrefix: getEnv("IDENTITY_SESSION_PREFIX", "session:"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "dermascan"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver selections that would otherwise fail late at wiring time
func (c *Config) Validate() error {
	if err := oneOf("STORE_DRIVER", c.App.StoreDriver, "memory", "postgres"); err != nil {
		return err
	}
	if err := oneOf("EVENT_LOG_DRIVER", c.Events.LogDriver, "memory", "redis", "kafka"); err != nil {
		return err
	}
	if err := oneOf("EVENT_LIVE_DRIVER", c.Events.LiveDriver, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("BLOB_DRIVER", c.Storage.Driver, "memory", "s3"); err != nil {
		return err
	}
	if err := oneOf("LABELING_PROVIDER", c.Labeling.Provider, "rules", "http"); err != nil {
		return err
	}
	if err := oneOf("IDENTITY_PROVIDER", c.Identity.Provider, "static", "redis"); err != nil {
		return err
	}
	if c.Labeling.Provider == "http" && c.Labeling.URL == "" {
		return fmt.Errorf("LABELING_URL is required when LABELING_PROVIDER=http")
	}
	needsRedis := c.Events.LogDriver == "redis" || c.Events.LiveDriver == "redis" || c.Identity.Provider == "redis"
	if needsRedis && !c.Redis.Enabled {
		return fmt.Errorf("REDIS_ENABLED must be true for the selected event or identity drivers")
	}
	if c.Labeling.Workers < 1 {
		return fmt.Errorf("ANALYSIS_WORKERS must be at least 1")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "dermascan"
	}
	return name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
