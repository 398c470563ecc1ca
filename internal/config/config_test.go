package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CANONICAL_LANGUAGE", "")
	t.Setenv("MAX_MESSAGE_CHARS", "")
	t.Setenv("HISTORY_CEILING", "")
	t.Setenv("WORKER_BATCH_SIZE", "")
	t.Setenv("WORKER_JOB_TIMEOUT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CanonicalLanguage != "pt" {
		t.Fatalf("expected canonical language pt, got %s", cfg.CanonicalLanguage)
	}
	if cfg.MaxMessageChars != 500 {
		t.Fatalf("expected 500 char ceiling, got %d", cfg.MaxMessageChars)
	}
	if cfg.HistoryCeiling != 100 {
		t.Fatalf("expected history ceiling 100, got %d", cfg.HistoryCeiling)
	}
	if cfg.WorkerBatchSize != 5 || cfg.WorkerJobTimeout != 2*time.Minute {
		t.Fatalf("unexpected worker defaults %d/%s", cfg.WorkerBatchSize, cfg.WorkerJobTimeout)
	}
	if cfg.MinPacingDelay != 1200*time.Millisecond || cfg.MaxPacingDelay != 2*time.Second {
		t.Fatalf("unexpected pacing defaults %s-%s", cfg.MinPacingDelay, cfg.MaxPacingDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("CANONICAL_LANGUAGE", "EN")
	t.Setenv("SESSION_TTL", "6h")
	t.Setenv("HOURLY_TOKEN_CAP", "1234")
	t.Setenv("USE_SQS_QUEUE", "true")
	t.Setenv("WEBHOOK_RATE_PER_SECOND", "2.5")
	t.Setenv("MESSAGING_VERIFY_TOKEN", "verify-me")
	t.Setenv("MESSAGING_APP_SECRET", "app-secret")
	t.Setenv("SES_CONFIGURATION_SET", "operator-alerts")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.CanonicalLanguage != "en" {
		t.Fatalf("expected lowercased language, got %s", cfg.CanonicalLanguage)
	}
	if cfg.SessionTTL != 6*time.Hour {
		t.Fatalf("expected session ttl override, got %s", cfg.SessionTTL)
	}
	if cfg.HourlyTokenCap != 1234 {
		t.Fatalf("expected token cap override, got %d", cfg.HourlyTokenCap)
	}
	if !cfg.UseSQSQueue {
		t.Fatalf("expected sqs queue enabled")
	}
	if cfg.WebhookRatePerSecond != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.WebhookRatePerSecond)
	}
	if cfg.MessagingVerifyToken != "verify-me" || cfg.MessagingAppSecret != "app-secret" {
		t.Fatalf("expected messaging secrets, got %q/%q", cfg.MessagingVerifyToken, cfg.MessagingAppSecret)
	}
	if cfg.SESConfigSet != "operator-alerts" {
		t.Fatalf("expected ses configuration set, got %q", cfg.SESConfigSet)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("LLM_TIMEOUT", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker count, got %d", cfg.WorkerCount)
	}
	if cfg.LLMTimeout != 20*time.Second {
		t.Fatalf("expected default llm timeout, got %s", cfg.LLMTimeout)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected redis tls disabled")
	}
}
