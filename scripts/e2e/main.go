// Package main drives a running concierge through its webhook and checks the
// replies recorded in the message log.
//
// Scenarios cover the greeting and name capture, the first qualification
// question, emergency escalation and oversized messages.
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run ./scripts/e2e              # runs all
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run ./scripts/e2e emergency    # runs one
//
// MESSAGING_APP_SECRET must match the server when signature checks are on.
// The server needs DATABASE_URL so replies can be read back, and a tenant
// keyed "e2e-tenant" (see scripts/seed-tenant) when Redis is configured.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinic-concierge/internal/messaging"
)

const (
	phoneNumberID = "e2e-tenant"
	maxWaitSecs   = 45
	pollInterval  = 2 * time.Second
)

var (
	// testIdentity is fresh per scenario so logged replies never carry over.
	testIdentity string
	apiBase      string
	appSecret    string
	token        string
	client       = &http.Client{Timeout: 30 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

type loggedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func adminRequest(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

func reset() error {
	_, err := adminRequest(http.MethodPost, "/admin/conversations/"+url.PathEscape(testIdentity)+"/reset", nil)
	return err
}

func send(text string) error {
	ts := time.Now()
	payload := map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{
					"metadata": map[string]string{"phone_number_id": phoneNumberID},
					"messages": []any{map[string]any{
						"from":      testIdentity,
						"id":        fmt.Sprintf("wamid.e2e-%d", ts.UnixNano()),
						"timestamp": fmt.Sprintf("%d", ts.Unix()),
						"type":      "text",
						"text":      map[string]string{"body": text},
					}},
				},
			}},
		}},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, apiBase+"/webhooks/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if appSecret != "" {
		req.Header.Set(messaging.SignatureHeader, messaging.SignBody(appSecret, body))
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

func messages() ([]loggedMessage, error) {
	data, err := adminRequest(http.MethodGet, "/admin/conversations/"+url.PathEscape(testIdentity)+"/messages?limit=50", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []loggedMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// waitForReplies polls until at least n assistant messages were logged.
func waitForReplies(n int) ([]loggedMessage, error) {
	deadline := time.Now().Add(maxWaitSecs * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := messages()
		if err == nil && countAssistant(msgs) >= n {
			return msgs, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("timed out waiting for %d replies", n)
}

func countAssistant(msgs []loggedMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == "assistant" {
			n++
		}
	}
	return n
}

func lastAssistant(msgs []loggedMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return msgs[i].Content
		}
	}
	return ""
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func exchange(t *T, text string, replies int) string {
	if err := send(text); err != nil {
		t.fatalf("send %q: %v", text, err)
		return ""
	}
	msgs, err := waitForReplies(replies)
	if err != nil {
		t.fatalf("%v", err)
		return ""
	}
	return lastAssistant(msgs)
}

func scenarioGreeting(t *T) {
	reply := exchange(t, "Oi", 1)
	t.check("asks for the name", containsAny(reply, "como posso te chamar"))

	reply = exchange(t, "Meu nome é Ana", 2)
	t.check("greets by name", containsAny(reply, "Ana"))
}

func scenarioNameInFirstMessage(t *T) {
	reply := exchange(t, "Oi, meu nome é Carla", 1)
	t.check("skips the name prompt", !containsAny(reply, "como posso te chamar"))
	t.check("greets by name", containsAny(reply, "Carla"))
}

func scenarioEmergency(t *T) {
	exchange(t, "Oi", 1)
	reply := exchange(t, "estou com falta de ar e dor no peito", 2)
	t.check("points to SAMU", containsAny(reply, "SAMU", "192"))

	reply = exchange(t, "ok, e sobre o tratamento?", 3)
	t.check("keeps the emergency guidance", containsAny(reply, "emergência", "192"))
}

func scenarioTooLong(t *T) {
	reply := exchange(t, strings.Repeat("muito texto ", 60), 1)
	t.check("asks to shorten", containsAny(reply, "resumir"))
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Println("ADMIN_JWT_SECRET is required")
		os.Exit(1)
	}
	appSecret = os.Getenv("MESSAGING_APP_SECRET")

	var err error
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "e2e",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("sign token: %v\n", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"greeting", scenarioGreeting},
		{"name-first", scenarioNameInFirstMessage},
		{"emergency", scenarioEmergency},
		{"too-long", scenarioTooLong},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	total := &T{}
	run := time.Now().Unix() % 1_000_000
	for i, sc := range scenarios {
		if filter != "" && sc.Name != filter {
			continue
		}
		testIdentity = fmt.Sprintf("55119%06d%02d", run, i)
		fmt.Printf("\n=== %s ===\n", sc.Name)
		if err := reset(); err != nil {
			fmt.Printf("    reset failed: %v\n", err)
			total.failed++
			continue
		}
		t := &T{}
		sc.Fn(t)
		total.passed += t.passed
		total.failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", total.passed, total.failed)
	if total.failed > 0 {
		os.Exit(1)
	}
}
