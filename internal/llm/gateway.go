package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

var (
	// ErrInvalidCategory means the classifier answered outside the allowed set.
	ErrInvalidCategory = errors.New("llm: classifier returned invalid category")
	// ErrNoTranscriber is returned by Transcribe when no provider supports audio.
	ErrNoTranscriber = errors.New("llm: no transcriber configured")
	// ErrNoProvider is returned by OfflineClient; it is never retried.
	ErrNoProvider = errors.New("llm: no provider configured")
)

const (
	defaultTimeout     = 20 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// GatewayConfig tunes the gateway.
type GatewayConfig struct {
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Logger      *logging.Logger
	Metrics     *metrics.LLMMetrics
}

// Gateway is the single entry point for costed LLM work. Every call is
// checked against the budget, bounded by a per-attempt timeout and retried
// with exponential backoff.
type Gateway struct {
	client      Client
	transcriber Transcriber
	governor    *budget.Governor
	model       string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *logging.Logger
	metrics     *metrics.LLMMetrics
	tracer      trace.Tracer
}

func NewGateway(client Client, governor *budget.Governor, cfg GatewayConfig) *Gateway {
	if client == nil {
		panic("llm: client cannot be nil")
	}
	g := &Gateway{
		client:      client,
		governor:    governor,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("concierge.internal.llm"),
	}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = defaultMaxAttempts
	}
	if g.backoff <= 0 {
		g.backoff = defaultBackoff
	}
	if g.logger == nil {
		g.logger = logging.Default()
	}
	return g
}

// WithTranscriber enables Transcribe.
func (g *Gateway) WithTranscriber(t Transcriber) *Gateway {
	g.transcriber = t
	return g
}

// Classify asks the model to pick exactly one of categories for text.
func (g *Gateway) Classify(ctx context.Context, text, stage string, categories []string) (string, error) {
	system := fmt.Sprintf(
		"You label messages sent to a medical clinic's chat assistant. The conversation is at stage %q. "+
			"Answer with exactly one label from this list and nothing else: %s.",
		stage, strings.Join(categories, ", "))
	resp, err := g.complete(ctx, "classify", Request{
		Model:       g.model,
		System:      []string{system},
		Messages:    []ChatMessage{{Role: RoleUser, Content: text}},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	label := normalizeLabel(resp.Text)
	for _, c := range categories {
		if label == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, resp.Text)
}

func normalizeLabel(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(raw, "\n "); i > 0 {
		raw = raw[:i]
	}
	return strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
}

// Generate produces free text from a system prompt and a conversation.
func (g *Gateway) Generate(ctx context.Context, system string, messages []ChatMessage, maxTokens int32) (string, error) {
	resp, err := g.complete(ctx, "generate", Request{
		Model:       g.model,
		System:      []string{system},
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Translate renders text in targetLang, keeping paragraph breaks.
func (g *Gateway) Translate(ctx context.Context, text, targetLang string) (string, error) {
	system := fmt.Sprintf(
		"Translate the user's message into the language with ISO code %q. Keep blank lines between paragraphs. "+
			"Reply with the translation only.", targetLang)
	resp, err := g.complete(ctx, "translate", Request{
		Model:       g.model,
		System:      []string{system},
		Messages:    []ChatMessage{{Role: RoleUser, Content: text}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("llm: empty translation")
	}
	return resp.Text, nil
}

// Summarize condenses elided history turns into a short note.
func (g *Gateway) Summarize(ctx context.Context, turns []session.Turn) (string, error) {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	resp, err := g.complete(ctx, "summarize", Request{
		Model:       g.model,
		System:      []string{"Summarize this clinic chat excerpt in at most three sentences, keeping symptoms, durations and goals the patient mentioned."},
		Messages:    []ChatMessage{{Role: RoleUser, Content: b.String()}},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Transcribe converts a voice message to text.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if g.transcriber == nil {
		return "", ErrNoTranscriber
	}
	resp, err := g.call(ctx, "transcribe", func(ctx context.Context) (Response, error) {
		return g.transcriber.Transcribe(ctx, audio, mimeType)
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (g *Gateway) complete(ctx context.Context, op string, req Request) (Response, error) {
	return g.call(ctx, op, func(ctx context.Context) (Response, error) {
		return g.client.Complete(ctx, req)
	})
}

func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) (Response, error)) (Response, error) {
	if g.governor != nil {
		if err := g.governor.Check(); err != nil {
			g.metrics.Observe(op, "budget_exceeded", 0, 0)
			return Response{}, fmt.Errorf("llm: %s: %w", op, err)
		}
	}

	ctx, span := g.tracer.Start(ctx, "llm."+op)
	defer span.End()

	start := time.Now()
	attempts := 0
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.backoff
	policy.MaxInterval = 8 * g.backoff

	resp, err := backoff.Retry(ctx, func() (Response, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		resp, err := fn(attemptCtx)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrNoProvider) {
			return Response{}, backoff.Permanent(err)
		}
		g.logger.Warn("llm attempt failed", "op", op, "attempt", attempts, "error", err)
		return Response{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(g.maxAttempts)))

	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		g.metrics.Observe(op, "error", elapsed, 0)
		return Response{}, fmt.Errorf("llm: %s failed after %d attempts: %w", op, attempts, err)
	}

	tokens := resp.Usage.Total()
	if g.governor != nil {
		g.governor.Record(tokens)
	}
	span.SetAttributes(attribute.Int("llm.tokens", tokens))
	g.metrics.Observe(op, "ok", elapsed, tokens)
	return resp, nil
}
