package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port             string
	Env              string
	LogLevel         string
	WorkerCount      int
	WorkerBatchSize  int
	WorkerJobTimeout time.Duration
	UseSQSQueue      bool
	AdminJWTSecret   string

	// Redis (durable session store, rate windows, translation cache, tenants)
	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	SessionTTL          time.Duration
	SessionStoreTimeout time.Duration
	SessionSweepEvery   time.Duration
	HealthProbeEvery    time.Duration

	// Dialogue
	CanonicalLanguage string
	HumanPhone        string
	ClinicTimezone    string
	MaxMessageChars   int
	RepeatThreshold   int
	HistoryCeiling    int
	HistoryKeepFirst  int
	HistoryKeepLast   int
	SummarizeHistory  bool

	// LLM gateway
	BedrockModelID   string
	GeminiAPIKey     string
	GeminiModelID    string
	LLMTimeout       time.Duration
	LLMMaxAttempts   int
	LLMRetryBackoff  time.Duration
	HourlyTokenCap   int
	HourlyRequestCap int
	DailyTokenCap    int
	DailyRequestCap  int

	// Transport
	MessagingBaseURL     string
	MessagingAccessToken string
	MessagingVerifyToken string
	MessagingAppSecret   string
	MinPacingDelay       time.Duration
	MaxPacingDelay       time.Duration
	WebhookRatePerSecond float64
	WebhookBurst         int

	// Calendar
	GoogleCredentialsFile string

	// Persistence
	DatabaseURL string

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	ConversationQueueURL string

	// Operator notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	UseSES            bool
	SESConfigSet      string
	OperatorEmail     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		WorkerBatchSize:  getEnvAsInt("WORKER_BATCH_SIZE", 5),
		WorkerJobTimeout: getEnvAsDuration("WORKER_JOB_TIMEOUT", 2*time.Minute),
		UseSQSQueue:      getEnvAsBool("USE_SQS_QUEUE", false),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),

		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		SessionTTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionStoreTimeout: getEnvAsDuration("SESSION_STORE_TIMEOUT", 2*time.Second),
		SessionSweepEvery:   getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		HealthProbeEvery:    getEnvAsDuration("SESSION_HEALTH_PROBE_INTERVAL", 30*time.Second),

		CanonicalLanguage: strings.ToLower(getEnv("CANONICAL_LANGUAGE", "pt")),
		HumanPhone:        getEnv("CLINIC_HUMAN_PHONE", ""),
		ClinicTimezone:    getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		MaxMessageChars:   getEnvAsInt("MAX_MESSAGE_CHARS", 500),
		RepeatThreshold:   getEnvAsInt("REPEAT_THRESHOLD", 5),
		HistoryCeiling:    getEnvAsInt("HISTORY_CEILING", 100),
		HistoryKeepFirst:  getEnvAsInt("HISTORY_KEEP_FIRST", 4),
		HistoryKeepLast:   getEnvAsInt("HISTORY_KEEP_LAST", 60),
		SummarizeHistory:  getEnvAsBool("SUMMARIZE_HISTORY", false),

		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:    getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		LLMTimeout:       getEnvAsDuration("LLM_TIMEOUT", 20*time.Second),
		LLMMaxAttempts:   getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		LLMRetryBackoff:  getEnvAsDuration("LLM_RETRY_BACKOFF", 500*time.Millisecond),
		HourlyTokenCap:   getEnvAsInt("HOURLY_TOKEN_CAP", 200000),
		HourlyRequestCap: getEnvAsInt("HOURLY_REQUEST_CAP", 1000),
		DailyTokenCap:    getEnvAsInt("DAILY_TOKEN_CAP", 2000000),
		DailyRequestCap:  getEnvAsInt("DAILY_REQUEST_CAP", 10000),

		MessagingBaseURL:     getEnv("MESSAGING_BASE_URL", ""),
		MessagingAccessToken: getEnv("MESSAGING_ACCESS_TOKEN", ""),
		MessagingVerifyToken: getEnv("MESSAGING_VERIFY_TOKEN", ""),
		MessagingAppSecret:   getEnv("MESSAGING_APP_SECRET", ""),
		MinPacingDelay:       getEnvAsDuration("PACING_MIN_DELAY", 1200*time.Millisecond),
		MaxPacingDelay:       getEnvAsDuration("PACING_MAX_DELAY", 2*time.Second),
		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 20),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 40),

		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Concierge"),
		UseSES:            getEnvAsBool("USE_SES", false),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),
	}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
