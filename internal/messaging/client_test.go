package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = server.URL
	if cfg.AccessToken == "" {
		cfg.AccessToken = "test-token"
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	cfg.HTTPClient = server.Client()
	cfg.Logger = logging.Discard()
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1029/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["to"] != "5511999990000" || body["type"] != "text" {
			t.Fatalf("unexpected body %#v", body)
		}
		text := body["text"].(map[string]any)
		if text["body"] != "Olá!" {
			t.Fatalf("unexpected text %#v", text)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	id, err := client.SendText(context.Background(), "1029", "5511999990000", "Olá!")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.abc" {
		t.Fatalf("expected wamid.abc, got %s", id)
	}
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.retry"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 2})
	id, err := client.SendText(context.Background(), "1029", "5511", "oi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.retry" || calls.Load() != 2 {
		t.Fatalf("expected success on second attempt, id=%s calls=%d", id, calls.Load())
	}
}

func TestSendTextGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit hit","code":130429}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 2})
	_, err := client.SendText(context.Background(), "1029", "5511", "oi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendTextStopsRetryingWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 5})
	_, err := client.SendText(ctx, "1029", "5511", "oi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 3})
	_, err := client.SendText(context.Background(), "1029", "5511", "oi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 100 || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected error %#v", apiErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d", calls.Load())
	}
}

func TestFetchMedia(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media-1":
			_, _ = w.Write([]byte(`{"url":"` + server.URL + `/download/media-1","mime_type":"audio/ogg"}`))
		case "/download/media-1":
			if r.Header.Get("Authorization") == "" {
				t.Fatalf("download must carry auth")
			}
			_, _ = w.Write([]byte("OggS-audio"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	data, mime, err := client.FetchMedia(context.Background(), "media-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "OggS-audio" || mime != "audio/ogg" {
		t.Fatalf("unexpected media %q %q", data, mime)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil || !strings.Contains(err.Error(), "access token") {
		t.Fatalf("expected token error, got %v", err)
	}
}
