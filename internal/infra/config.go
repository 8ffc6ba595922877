package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	AutoMigrate      bool
	PublicBaseURL    string
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	UploadMaxBytes   int64

	LemonSqueezyAPIKey        string
	LemonSqueezyStoreID       string
	LemonSqueezyVariantID     string
	LemonSqueezyBaseURL       string
	LemonSqueezyWebhookSecret string

	ImageProvider         string
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIBaseURL         string
	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModel        string
	ReplicateRemoverModel string
	ProviderTimeout       time.Duration

	StorageDriver   string
	StoragePath     string
	StorageBaseURL  string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	S3PublicBaseURL string

	ResendAPIKey           string
	ResendBaseURL          string
	EmailFrom              string
	AnalyticsMeasurementID string

	RedisAddr     string
	RedisPassword string
	RedisStream   string
	RedisGroup    string

	StaleLockThreshold time.Duration
	StepTimeout        time.Duration
	MaxEmotionAttempts int
	BatchConcurrency   int
	BatchPause         time.Duration
	BundleURLTTL       time.Duration
	WorkerSweepSpec    string
	WorkerPollInterval time.Duration
	PendingTimeout     time.Duration
	DriveBudget        time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AutoMigrate:      getEnvBool("AUTO_MIGRATE", false),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		UploadMaxBytes:   int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),

		LemonSqueezyAPIKey:        os.Getenv("LEMONSQUEEZY_API_KEY"),
		LemonSqueezyStoreID:       os.Getenv("LEMONSQUEEZY_STORE_ID"),
		LemonSqueezyVariantID:     os.Getenv("LEMONSQUEEZY_VARIANT_ID"),
		LemonSqueezyBaseURL:       getEnv("LEMONSQUEEZY_BASE_URL", "https://api.lemonsqueezy.com"),
		LemonSqueezyWebhookSecret: os.Getenv("LEMONSQUEEZY_WEBHOOK_SECRET"),

		ImageProvider:         strings.ToLower(os.Getenv("IMAGE_PROVIDER")),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           getEnv("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ReplicateAPIToken:     os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:        getEnv("REPLICATE_MODEL", "black-forest-labs/flux-kontext-pro"),
		ReplicateRemoverModel: os.Getenv("REPLICATE_REMOVER_MODEL"),
		ProviderTimeout:       time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", "s3")),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", true),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		ResendAPIKey:           os.Getenv("RESEND_API_KEY"),
		ResendBaseURL:          getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		EmailFrom:              getEnv("EMAIL_FROM", "AI Stickers <noreply@stickers.local>"),
		AnalyticsMeasurementID: os.Getenv("ANALYTICS_MEASUREMENT_ID"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisStream:   getEnv("REDIS_STREAM", "stickerpack:kicks"),
		RedisGroup:    getEnv("REDIS_GROUP", "stickerpack-workers"),

		StaleLockThreshold: time.Second * time.Duration(getEnvInt("STALE_LOCK_SECONDS", 60)),
		StepTimeout:        time.Second * time.Duration(getEnvInt("STEP_TIMEOUT_SECONDS", 45)),
		MaxEmotionAttempts: getEnvInt("MAX_EMOTION_ATTEMPTS", 3),
		BatchConcurrency:   getEnvInt("BATCH_CONCURRENCY", 3),
		BatchPause:         time.Millisecond * time.Duration(getEnvInt("BATCH_PAUSE_MS", 1000)),
		BundleURLTTL:       time.Hour * time.Duration(getEnvInt("BUNDLE_URL_TTL_HOURS", 48)),
		WorkerSweepSpec:    getEnv("WORKER_SWEEP_SPEC", "@every 30s"),
		WorkerPollInterval: time.Millisecond * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 2000)),
		PendingTimeout:     time.Second * time.Duration(getEnvInt("PREDICTION_TIMEOUT_SECONDS", 600)),
		DriveBudget:        time.Second * time.Duration(getEnvInt("DRIVE_BUDGET_SECONDS", 300)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.StepTimeout >= cfg.StaleLockThreshold {
		return nil, fmt.Errorf("STEP_TIMEOUT_SECONDS (%s) must be below STALE_LOCK_SECONDS (%s)", cfg.StepTimeout, cfg.StaleLockThreshold)
	}
	if cfg.DriveBudget < cfg.StaleLockThreshold {
		return nil, fmt.Errorf("DRIVE_BUDGET_SECONDS (%s) must be at least STALE_LOCK_SECONDS (%s)", cfg.DriveBudget, cfg.StaleLockThreshold)
	}
	if cfg.MaxEmotionAttempts <= 0 {
		cfg.MaxEmotionAttempts = 1
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}

	return cfg, nil
}

// PaymentConfigured reports whether checkout sessions can be created.
func (c *Config) PaymentConfigured() bool {
	return c.LemonSqueezyAPIKey != "" && c.LemonSqueezyStoreID != "" && c.LemonSqueezyVariantID != ""
}

// ObjectStorageConfigured reports whether S3 credentials are complete.
func (c *Config) ObjectStorageConfigured() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3Bucket != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
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
