package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the verification service.
// Loaded once at process start and passed by reference; nothing reads the
// environment after Load returns.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Telnyx        TelnyxConfig
	Risk          RiskConfig
	Verification  VerificationConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Enabled  bool
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

// TelnyxConfig configures the external Verify API. An empty APIKey puts the
// dispatcher into mock mode.
type TelnyxConfig struct {
	APIKey          string
	VerifyProfileID string
	APIURL          string
	FallbackEnabled bool
	RequestTimeout  time.Duration
}

// RiskConfig carries the fraud-scoring weights and rate-limit policy. The
// weights are configuration rather than constants so policy can change
// without touching the gate's control flow.
type RiskConfig struct {
	RateLimiting   bool
	FraudDetection bool

	RateLimitMax    int
	RateLimitWindow time.Duration

	BlockThreshold       float64
	DensityWeight        float64
	DensityThreshold     int
	RapidRetryWeight     float64
	RapidRetryWindow     time.Duration
	SuspiciousUAWeight   float64
	IPRiskWeight         float64
}

type VerificationConfig struct {
	DefaultTimeoutSecs int
	MaxAttempts        int
	ResendCooldown     time.Duration
	ReaperEnabled      bool
	ReaperInterval     time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost   int
	Argon2TimeCost     int
	Argon2Parallelism  int
	PepperRotationDays int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	AttemptBuckets int
	EventBuckets   int
}

// Load reads configuration from the environment, consulting .env in
// non-production environments.
func Load() *Config {
	env := getEnv("ENVIRONMENT", "development")
	if env != "production" {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/verification-certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Enabled:  getEnvBool("SCYLLA_ENABLED", false),
			Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "verification"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_TOPIC", "verification.events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "verification"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_AUDIT_INDEX", "verification-audit"),
		},
		Telnyx: TelnyxConfig{
			APIKey:          getEnv("TELNYX_API_KEY", ""),
			VerifyProfileID: getEnv("TELNYX_VERIFY_PROFILE_ID", ""),
			APIURL:          getEnv("TELNYX_API_URL", "https://api.telnyx.com/v2"),
			FallbackEnabled: getEnvBool("TELNYX_FALLBACK_ENABLED", true),
			RequestTimeout:  getEnvDuration("TELNYX_REQUEST_TIMEOUT", 10*time.Second),
		},
		Risk: RiskConfig{
			RateLimiting:       getEnvBool("RISK_RATE_LIMITING", true),
			FraudDetection:     getEnvBool("RISK_FRAUD_DETECTION", true),
			RateLimitMax:       getEnvInt("RISK_RATE_LIMIT_MAX", 5),
			RateLimitWindow:    getEnvDuration("RISK_RATE_LIMIT_WINDOW", 5*time.Minute),
			BlockThreshold:     getEnvFloat("RISK_BLOCK_THRESHOLD", 0.8),
			DensityWeight:      getEnvFloat("RISK_DENSITY_WEIGHT", 0.3),
			DensityThreshold:   getEnvInt("RISK_DENSITY_THRESHOLD", 5),
			RapidRetryWeight:   getEnvFloat("RISK_RAPID_RETRY_WEIGHT", 0.2),
			RapidRetryWindow:   getEnvDuration("RISK_RAPID_RETRY_WINDOW", time.Minute),
			SuspiciousUAWeight: getEnvFloat("RISK_SUSPICIOUS_UA_WEIGHT", 0.3),
			IPRiskWeight:       getEnvFloat("RISK_IP_RISK_WEIGHT", 0.1),
		},
		Verification: VerificationConfig{
			DefaultTimeoutSecs: getEnvInt("VERIFICATION_DEFAULT_TIMEOUT_SECS", 300),
			MaxAttempts:        getEnvInt("VERIFICATION_MAX_ATTEMPTS", 3),
			ResendCooldown:     getEnvDuration("VERIFICATION_RESEND_COOLDOWN", 30*time.Second),
			ReaperEnabled:      getEnvBool("VERIFICATION_REAPER_ENABLED", false),
			ReaperInterval:     getEnvDuration("VERIFICATION_REAPER_INTERVAL", time.Minute),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:   getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:     getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism:  getEnvInt("ARGON2_PARALLELISM", 4),
			PepperRotationDays: getEnvInt("PEPPER_ROTATION_DAYS", 30),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
		Bucketing: BucketingConfig{
			AttemptBuckets: getEnvInt("ATTEMPT_BUCKETS", 64),
			EventBuckets:   getEnvInt("EVENT_BUCKETS", 16),
		},
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
