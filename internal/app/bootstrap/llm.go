package bootstrap

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/clinic-concierge/internal/budget"
	appconfig "github.com/wolfman30/clinic-concierge/internal/config"
	"github.com/wolfman30/clinic-concierge/internal/llm"
	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// BuildGateway picks the model providers: Bedrock first, Gemini as fallback
// and transcriber. With neither configured the gateway fails fast and the
// dialogue runs on keyword routing and templates.
func BuildGateway(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, governor *budget.Governor, m *metrics.LLMMetrics, logger *logging.Logger) (*llm.Gateway, io.Closer) {
	if logger == nil {
		logger = logging.Default()
	}
	var primary, fallback llm.Client
	var closer io.Closer = nopCloser{}
	var gemini *llm.GeminiClient

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini disabled", "error", err)
		} else {
			gemini = client
			closer = client
		}
	}

	model := cfg.GeminiModelID
	if strings.TrimSpace(cfg.BedrockModelID) != "" && awsCfg != nil {
		primary = llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg))
		model = cfg.BedrockModelID
		if gemini != nil {
			fallback = gemini
		}
	} else if gemini != nil {
		primary = gemini
	}

	var client llm.Client
	switch {
	case primary == nil:
		logger.Warn("no LLM provider configured, running on templates only")
		client = llm.OfflineClient{}
	case fallback != nil:
		client = llm.NewFallbackClient(primary, fallback, logger)
	default:
		client = primary
	}

	gateway := llm.NewGateway(client, governor, llm.GatewayConfig{
		Model:       model,
		Timeout:     cfg.LLMTimeout,
		MaxAttempts: cfg.LLMMaxAttempts,
		Backoff:     cfg.LLMRetryBackoff,
		Logger:      logger.Component("llm"),
		Metrics:     m,
	})
	if gemini != nil {
		gateway.WithTranscriber(gemini)
	}
	return gateway, closer
}
