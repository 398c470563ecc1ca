package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-concierge/internal/messaging"
	observemetrics "github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	providerWhatsApp = "whatsapp"
	maxWebhookBody   = 1 << 20
	enqueueTimeout   = 5 * time.Second
)

// Enqueuer hands an inbound message to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg messaging.Inbound) (string, error)
}

// Deduper claims a provider message id; false means it was already seen.
type Deduper interface {
	MarkProcessed(ctx context.Context, provider, messageID string) (bool, error)
}

// WebhookHandler accepts provider deliveries and queues them for the workers.
type WebhookHandler struct {
	queue       Enqueuer
	dedupe      Deduper
	appSecret   string
	verifyToken string
	logger      *logging.Logger
	metrics     *observemetrics.MessagingMetrics
	now         func() time.Time
}

type WebhookConfig struct {
	Queue       Enqueuer
	Dedupe      Deduper
	AppSecret   string
	VerifyToken string
	Logger      *logging.Logger
	Metrics     *observemetrics.MessagingMetrics
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Queue == nil {
		panic("handlers: webhook queue cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &WebhookHandler{
		queue:       cfg.Queue,
		dedupe:      cfg.Dedupe,
		appSecret:   cfg.AppSecret,
		verifyToken: cfg.VerifyToken,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// Verify answers the provider's subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// HandleMessages enqueues one job per inbound message and acknowledges at
// once. Provider retries of an already-queued message are dropped.
func (h *WebhookHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := messaging.VerifySignature(h.appSecret, r.Header.Get(messaging.SignatureHeader), body); err != nil {
		h.logger.Warn("invalid webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	messages, err := messaging.ParseWebhook(body, start)
	if err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// The job outlives the request; the provider only needs the ack.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), enqueueTimeout)
	defer cancel()

	queued := 0
	for _, msg := range messages {
		if !h.claim(ctx, msg) {
			h.metrics.ObserveInbound(msg.Type, "duplicate")
			continue
		}
		jobID, err := h.queue.Enqueue(ctx, msg)
		if err != nil {
			h.logger.Error("failed to enqueue inbound message", "error", err, "message_id", msg.ID, "from", msg.From)
			h.metrics.ObserveInbound(msg.Type, "enqueue_failed")
			continue
		}
		h.logger.Debug("inbound message queued", "job_id", jobID, "message_id", msg.ID, "type", msg.Type)
		h.metrics.ObserveInbound(msg.Type, "queued")
		h.metrics.ObserveWebhookLatency(msg.Type, h.now().Sub(start).Seconds())
		queued++
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": len(messages), "queued": queued})
}

// claim reports whether msg is new. Dedupe failures let the message through.
func (h *WebhookHandler) claim(ctx context.Context, msg messaging.Inbound) bool {
	if h.dedupe == nil || msg.ID == "" {
		return true
	}
	fresh, err := h.dedupe.MarkProcessed(ctx, providerWhatsApp, msg.ID)
	if err != nil {
		h.logger.Warn("message dedupe failed", "error", err, "message_id", msg.ID)
		return true
	}
	return fresh
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
