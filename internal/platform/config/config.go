package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const devSigningKey = "dev-secret-key-change-in-production"

// Config is the full process configuration, read once at startup.
type Config struct {
	Environment   string
	Server        Server
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Auth          AuthConfig
	Storage       StorageConfig
	Notifications NotificationConfig
	RateLimit     RateLimitConfig
	Catalog       CatalogConfig
	Log           LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AdminToken gates the operator bootstrap endpoint; empty disables it.
	AdminToken string
}

// DatabaseConfig configures PostgreSQL. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig configures Redis. An empty URL disables the revocation list,
// document mirror and cross-instance notification relay.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MirrorTTL    time.Duration
}

// KafkaConfig configures the notification delivery topic. No brokers means
// email/SMS delivery falls back to in-process senders.
type KafkaConfig struct {
	Brokers       []string
	DeliveryTopic string
	ConsumerGroup string
	Partitions    int32
	Replication   int16
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	CookieName    string
	CookieSecure  bool
	LoginPath     string
	// JWKSURL switches token validation to a remote identity provider.
	JWKSURL string
}

// StorageConfig configures the local file storage provider.
type StorageConfig struct {
	Dir           string
	MaxUploadSize int64
	PresignTTL    time.Duration
	PublicBaseURL string
}

// NotificationConfig configures external delivery senders.
type NotificationConfig struct {
	EmailWebhookURL string
	SMSWebhookURL   string
	SenderTimeout   time.Duration
}

// RateLimitConfig configures the per-IP login limiter.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// CatalogConfig configures the consular service catalog.
type CatalogConfig struct {
	SeedFile  string
	CacheSize int
	CacheTTL  time.Duration
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// IsProduction reports whether the process runs with production defaults.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: Server{
			Addr:            getEnv("CONSULAR_ADDR", ":8080"),
			ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			AdminToken:      os.Getenv("ADMIN_TOKEN"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getBool("DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			MirrorTTL:    getDuration("REDIS_MIRROR_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       getList("KAFKA_BROKERS"),
			DeliveryTopic: getEnv("KAFKA_DELIVERY_TOPIC", "consular.notifications.delivery"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "consular-delivery"),
			Partitions:    int32(getInt("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication:   int16(getInt("KAFKA_TOPIC_REPLICATION", 1)),
		},
		Auth: AuthConfig{
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", devSigningKey),
			Issuer:        getEnv("JWT_ISSUER", "consular"),
			Audience:      getEnv("JWT_AUDIENCE", "consular-api"),
			SessionTTL:    getDuration("SESSION_TTL", 12*time.Hour),
			CookieName:    getEnv("SESSION_COOKIE_NAME", "consular_session"),
			CookieSecure:  getBool("SESSION_COOKIE_SECURE", false),
			LoginPath:     getEnv("LOGIN_PATH", "/login"),
			JWKSURL:       os.Getenv("JWKS_URL"),
		},
		Storage: StorageConfig{
			Dir:           getEnv("STORAGE_DIR", "./data/files"),
			MaxUploadSize: int64(getInt("STORAGE_MAX_UPLOAD_BYTES", 10<<20)),
			PresignTTL:    getDuration("STORAGE_PRESIGN_TTL", 15*time.Minute),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Notifications: NotificationConfig{
			EmailWebhookURL: os.Getenv("EMAIL_WEBHOOK_URL"),
			SMSWebhookURL:   os.Getenv("SMS_WEBHOOK_URL"),
			SenderTimeout:   getDuration("NOTIFICATION_SENDER_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: getInt("LOGIN_RATE_PER_MINUTE", 10),
			LoginBurst:     getInt("LOGIN_RATE_BURST", 5),
		},
		Catalog: CatalogConfig{
			SeedFile:  os.Getenv("CATALOG_SEED_FILE"),
			CacheSize: getInt("CATALOG_CACHE_SIZE", 512),
			CacheTTL:  getDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that are unsafe outside development.
func (c Config) Validate() error {
	if c.IsProduction() && c.Auth.JWKSURL == "" && c.Auth.JWTSigningKey == devSigningKey {
		return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("STORAGE_MAX_UPLOAD_BYTES must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.DeliveryTopic == "" {
		return fmt.Errorf("KAFKA_DELIVERY_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
