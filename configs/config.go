// Package config loads AlephAuto's runtime configuration.
//
// LoadConfig reads every field from environment variables, once. Nothing
// re-reads the struct from a pkg/secrets Snapshot: there is no reload path,
// so configuration values do not pass through the secrets-resilience layer.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost string
	RedisPort string

	EtcdEndpoints []string

	// Job Server (§6)
	MaxConcurrent     int
	QueueMaxSize      int
	JobTimeoutMs      int
	RetryDelayMs      int
	MaxRetries        int
	FailureThreshold  int
	SuccessThreshold  int
	CircuitTimeoutMs  int
	BackoffMultiplier float64
	MaxBackoffMs      int

	// Classifier
	ClassifierDefaultRetryable bool

	// Secrets resilience
	CachePath   string
	SecretsURL  string

	// Job diagnostics log store (optional; empty bucket falls back to the
	// local filesystem store rooted at LogStoreLocalDir)
	LogStoreBucket   string
	LogStoreRegion   string
	LogStoreEndpoint string
	LogStoreLocalDir string

	// Port Bootstrap
	PreferredPort     int
	PortFallbackCount int
	DrainTimeoutMs    int

	// Git Workflow Manager
	BaseBranch   string
	BranchPrefix string
	DryRun       bool

	// Migration Transformer
	ExcludeDirs []string

	// Auth settings
	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	// Distributed tracing (OTLP/HTTP)
	TracingEnabled  bool
	TracingEndpoint string
	TracingSampling float64
}

func LoadConfig() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "alephauto"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "alephauto"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints: []string{getEnv("ETCD_ENDPOINTS", "localhost:2379")},

		MaxConcurrent:     getEnvAsInt("MAX_CONCURRENT", 3),
		QueueMaxSize:      getEnvAsInt("QUEUE_MAX_SIZE", 1000),
		JobTimeoutMs:      getEnvAsInt("JOB_TIMEOUT_MS", 600000),
		RetryDelayMs:      getEnvAsInt("RETRY_DELAY_MS", 5000),
		MaxRetries:        getEnvAsInt("MAX_RETRIES", 2),
		FailureThreshold:  getEnvAsInt("FAILURE_THRESHOLD", 3),
		SuccessThreshold:  getEnvAsInt("SUCCESS_THRESHOLD", 2),
		CircuitTimeoutMs:  getEnvAsInt("CIRCUIT_TIMEOUT_MS", 5000),
		BackoffMultiplier: getEnvAsFloat("BACKOFF_MULTIPLIER", 2.0),
		MaxBackoffMs:      getEnvAsInt("MAX_BACKOFF_MS", 10000),

		ClassifierDefaultRetryable: getEnvAsBool("CLASSIFIER_DEFAULT_RETRYABLE", true),

		CachePath:  getEnv("CACHE_PATH", defaultCachePath()),
		SecretsURL: getEnv("SECRETS_URL", ""),

		LogStoreBucket:   getEnv("LOG_STORE_BUCKET", ""),
		LogStoreRegion:   getEnv("LOG_STORE_REGION", "us-east-1"),
		LogStoreEndpoint: getEnv("LOG_STORE_ENDPOINT", ""),
		LogStoreLocalDir: getEnv("LOG_STORE_LOCAL_DIR", "/tmp/alephauto-job-logs"),

		PreferredPort:     getEnvAsInt("PREFERRED_PORT", 8080),
		PortFallbackCount: getEnvAsInt("PORT_FALLBACK_COUNT", 10),
		DrainTimeoutMs:    getEnvAsInt("DRAIN_TIMEOUT_MS", 10000),

		BaseBranch:   getEnv("BASE_BRANCH", "main"),
		BranchPrefix: getEnv("BRANCH_PREFIX", "automated"),
		DryRun:       getEnvAsBool("DRY_RUN", false),

		ExcludeDirs: getEnvAsList("EXCLUDE_DIRS", []string{".git", "vendor", "node_modules"}),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "alephauto"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingSampling: getEnvAsFloat("TRACING_SAMPLING_RATE", 1.0),
	}
}

func (c *Config) JobTimeout() time.Duration      { return time.Duration(c.JobTimeoutMs) * time.Millisecond }
func (c *Config) RetryDelay() time.Duration      { return time.Duration(c.RetryDelayMs) * time.Millisecond }
func (c *Config) CircuitTimeout() time.Duration  { return time.Duration(c.CircuitTimeoutMs) * time.Millisecond }
func (c *Config) MaxBackoff() time.Duration      { return time.Duration(c.MaxBackoffMs) * time.Millisecond }
func (c *Config) DrainTimeout() time.Duration    { return time.Duration(c.DrainTimeoutMs) * time.Millisecond }

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".secrets/.fallback.json"
	}
	return home + "/.secrets/.fallback.json"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	start := 0
	for i := 0; i <= len(valueStr); i++ {
		if i == len(valueStr) || valueStr[i] == ',' {
			if i > start {
				out = append(out, valueStr[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
