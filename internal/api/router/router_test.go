package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-concierge/internal/automation"
	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-concierge/internal/http/middleware"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/internal/worker"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const testSecret = "router-secret"

type stubHealth struct{ degraded bool }

func (s stubHealth) Degraded() bool { return s.degraded }

func newTestRouter(t *testing.T, queue *worker.MemoryQueue, health HealthReporter) http.Handler {
	t.Helper()

	logger := logging.Discard()
	toggles := automation.NewMemoryStore()
	sessions := session.NewStore(nil, session.NewMemoryBackend(0), session.WithLogger(logger))
	reg := prometheus.NewRegistry()

	cfg := &Config{
		Logger: logger,
		Webhook: handlers.NewWebhookHandler(handlers.WebhookConfig{
			Queue:  worker.NewPublisher(queue),
			Dedupe: toggles,
			Logger: logger,
		}),
		Admin: handlers.NewAdminHandler(handlers.AdminConfig{
			Toggles:  toggles,
			Sessions: sessions,
			Budget:   budget.NewGovernor(nil, budget.Limits{}, logger),
			Logger:   logger,
		}),
		AdminAuthSecret: testSecret,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Health:          health,
		WebhookLimiter:  httpmiddleware.NewIPRateLimiter(100, 100),
	}
	return New(cfg)
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops@clinic",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	for _, tc := range []struct {
		degraded bool
		want     string
	}{{false, "ok"}, {true, "degraded"}} {
		router := newTestRouter(t, worker.NewMemoryQueue(1), stubHealth{degraded: tc.degraded})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		var resp map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}
		if resp["status"] != tc.want {
			t.Errorf("expected status %q, got %q", tc.want, resp["status"])
		}
	}
}

func TestRouterWebhookEnqueues(t *testing.T) {
	queue := worker.NewMemoryQueue(4)
	router := newTestRouter(t, queue, nil)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"metadata":{"phone_number_id":"1029"},
		"messages":[{"from":"5511999990000","id":"wamid.9","timestamp":"1717243200","type":"text","text":{"body":"Oi"}}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", queue.Len())
	}
	msgs, err := queue.Receive(context.Background(), 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v (%d)", err, len(msgs))
	}
	if !strings.Contains(msgs[0].Body, `"tenant_key":"1029"`) {
		t.Errorf("unexpected job body %s", msgs[0].Body)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, worker.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/sessions/stats", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestRouterAdminAutomationToggle(t *testing.T) {
	router := newTestRouter(t, worker.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodPut, "/admin/conversations/5511999990000/automation", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, worker.NewMemoryQueue(1), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}
