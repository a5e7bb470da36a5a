package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	SslCertPath  string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	Port         string
	JWTSecret    string

	LogLevel  string
	LogFormat string

	// Pipeline tuning
	StalenessWindow      time.Duration
	MaxRetries           int
	StageMaxAttempts     int
	QuestionCount        int
	QuestionContextChars int
	ExcerptBudget        int
	FetchTimeout         time.Duration
	StageTimeout         time.Duration
	Workers              int

	// Optional infrastructure; empty values disable the component.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	AMQPURL       string
	AMQPQueue     string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "bookwise-books"),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StalenessWindow:      getEnvDuration("STALENESS_WINDOW", 7*24*time.Hour),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		StageMaxAttempts:     getEnvInt("STAGE_MAX_ATTEMPTS", 3),
		QuestionCount:        getEnvInt("QUESTION_COUNT", 20),
		QuestionContextChars: getEnvInt("QUESTION_CONTEXT_CHARS", 12000),
		ExcerptBudget:        getEnvInt("EXCERPT_BUDGET", 18000),
		FetchTimeout:         getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
		StageTimeout:         getEnvDuration("STAGE_TIMEOUT", 2*time.Minute),
		Workers:              getEnvInt("WORKERS", 2),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "bookwise"),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPQueue:     getEnv("AMQP_QUEUE", "bookwise.jobs"),
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using the in-memory store")
	}

	return cfg
}

// Validate checks that the pipeline tuning values are usable.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be non-negative, got %d", c.MaxRetries)
	}
	if c.StageMaxAttempts < 1 {
		return fmt.Errorf("STAGE_MAX_ATTEMPTS must be at least 1, got %d", c.StageMaxAttempts)
	}
	if c.QuestionCount < 1 {
		return fmt.Errorf("QUESTION_COUNT must be at least 1, got %d", c.QuestionCount)
	}
	if c.QuestionContextChars < 1 || c.ExcerptBudget < 1 {
		return fmt.Errorf("QUESTION_CONTEXT_CHARS and EXCERPT_BUDGET must be positive")
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("STALENESS_WINDOW must be positive, got %s", c.StalenessWindow)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}
