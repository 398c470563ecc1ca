package messaging

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	DefaultMinDelay = 1200 * time.Millisecond
	DefaultMaxDelay = 2000 * time.Millisecond
)

// TextSender delivers a single text message.
type TextSender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

// PacedSender splits a reply into paragraphs and sends them one at a time
// with a randomized pause in between, like a person typing.
type PacedSender struct {
	sender   TextSender
	minDelay time.Duration
	maxDelay time.Duration
	logger   *logging.Logger
	metrics  *metrics.MessagingMetrics
	sleep    func(context.Context, time.Duration) error
	jitter   func() float64
}

type PacedOption func(*PacedSender)

func WithDelays(minDelay, maxDelay time.Duration) PacedOption {
	return func(p *PacedSender) {
		if minDelay >= 0 && maxDelay >= minDelay {
			p.minDelay, p.maxDelay = minDelay, maxDelay
		}
	}
}

func WithPacingLogger(logger *logging.Logger) PacedOption {
	return func(p *PacedSender) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPacingMetrics(m *metrics.MessagingMetrics) PacedOption {
	return func(p *PacedSender) { p.metrics = m }
}

// WithSleep replaces the pause function, mostly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) PacedOption {
	return func(p *PacedSender) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

func NewPacedSender(sender TextSender, opts ...PacedOption) *PacedSender {
	if sender == nil {
		panic("messaging: text sender cannot be nil")
	}
	p := &PacedSender{
		sender:   sender,
		minDelay: DefaultMinDelay,
		maxDelay: DefaultMaxDelay,
		logger:   logging.Default(),
		sleep:    sleepContext,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send delivers reply and returns how many paragraphs went out. Failures are
// logged and the remaining paragraphs are still attempted; nothing is retried.
func (p *PacedSender) Send(ctx context.Context, phoneNumberID, to, reply string) int {
	parts := SplitParagraphs(reply)
	sent := 0
	for i, part := range parts {
		if i > 0 {
			if err := p.sleep(ctx, p.delay()); err != nil {
				p.logger.Warn("paced send interrupted", "to", to, "remaining", len(parts)-i, "error", err)
				return sent
			}
		}
		if _, err := p.sender.SendText(ctx, phoneNumberID, to, part); err != nil {
			p.logger.Error("send paragraph failed", "to", to, "index", i, "error", err)
			p.metrics.ObserveOutbound("error")
			continue
		}
		p.metrics.ObserveOutbound("sent")
		sent++
	}
	return sent
}

func (p *PacedSender) delay() time.Duration {
	span := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(p.jitter()*float64(span))
}

var blankLines = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs breaks text on blank lines and drops empty pieces.
func SplitParagraphs(text string) []string {
	raw := blankLines.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
