package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

type scriptedClient struct {
	mu       sync.Mutex
	calls    int
	failures int
	text     string
	tokens   int32
	lastReq  Request
	delay    time.Duration
}

func (c *scriptedClient) Complete(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	c.calls++
	c.lastReq = req
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	if fail {
		return Response{}, errors.New("throttled")
	}
	return Response{Text: c.text, Usage: TokenUsage{InputTokens: c.tokens, OutputTokens: 1}}, nil
}

func (c *scriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var categories = []string{"greeting", "objection", "other"}

func newTestGateway(client Client, governor *budget.Governor) *Gateway {
	return NewGateway(client, governor, GatewayConfig{
		Model:       "test-model",
		Timeout:     50 * time.Millisecond,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Logger:      logging.Discard(),
	})
}

func TestClassifyValidCategory(t *testing.T) {
	client := &scriptedClient{text: " Greeting.\n", tokens: 9}
	governor := budget.NewGovernor(nil, budget.Limits{}, logging.Discard())
	g := newTestGateway(client, governor)

	label, err := g.Classify(context.Background(), "oi", "start", categories)
	require.NoError(t, err)
	assert.Equal(t, "greeting", label)
	snap := governor.Snapshot()
	assert.Equal(t, 10, snap.HourlyTokens)
	assert.Equal(t, 1, snap.HourlyRequests)
	assert.Equal(t, "test-model", client.lastReq.Model)
}

func TestClassifyInvalidCategory(t *testing.T) {
	g := newTestGateway(&scriptedClient{text: "banana"}, nil)
	_, err := g.Classify(context.Background(), "oi", "start", categories)
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestGatewayRetriesThenSucceeds(t *testing.T) {
	client := &scriptedClient{text: "other", failures: 2}
	g := newTestGateway(client, nil)

	label, err := g.Classify(context.Background(), "hmm", "situation", categories)
	require.NoError(t, err)
	assert.Equal(t, "other", label)
	assert.Equal(t, 3, client.Calls())
}

func TestGatewayGivesUpAfterMaxAttempts(t *testing.T) {
	client := &scriptedClient{text: "other", failures: 10}
	g := newTestGateway(client, nil)

	_, err := g.Generate(context.Background(), "sys", []ChatMessage{{Role: RoleUser, Content: "x"}}, 100)
	require.Error(t, err)
	assert.Equal(t, 3, client.Calls())
}

func TestGatewayOfflineClientFailsFast(t *testing.T) {
	g := newTestGateway(OfflineClient{}, nil)

	_, err := g.Classify(context.Background(), "oi", "start", categories)
	require.ErrorIs(t, err, ErrNoProvider)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestGatewayPerAttemptTimeout(t *testing.T) {
	client := &scriptedClient{text: "other", delay: time.Second}
	g := newTestGateway(client, nil)

	start := time.Now()
	_, err := g.Translate(context.Background(), "olá", "en")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 3, client.Calls())
}

func TestGatewayBudgetExceededSkipsProvider(t *testing.T) {
	governor := budget.NewGovernor(nil, budget.Limits{DailyRequests: 1}, logging.Discard())
	governor.Record(5)
	client := &scriptedClient{text: "greeting"}
	g := newTestGateway(client, governor)

	_, err := g.Classify(context.Background(), "oi", "start", categories)
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.ErrorIs(t, err, budget.ErrDailyBudgetExceeded)
	assert.Equal(t, 0, client.Calls())
}

type fakeTranscriber struct{ mime string }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, mimeType string) (Response, error) {
	f.mime = mimeType
	return Response{Text: "quero marcar uma consulta", Usage: TokenUsage{TotalTokens: 30}}, nil
}

func TestTranscribe(t *testing.T) {
	g := newTestGateway(&scriptedClient{}, nil)
	_, err := g.Transcribe(context.Background(), []byte{1}, "audio/ogg")
	assert.ErrorIs(t, err, ErrNoTranscriber)

	tr := &fakeTranscriber{}
	g.WithTranscriber(tr)
	text, err := g.Transcribe(context.Background(), []byte{1, 2}, "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "quero marcar uma consulta", text)
	assert.Equal(t, "audio/ogg", tr.mime)
}

func TestSummarizeIncludesTurns(t *testing.T) {
	client := &scriptedClient{text: "Paciente com dor lombar há 3 meses."}
	g := newTestGateway(client, nil)
	summary, err := g.Summarize(context.Background(), []session.Turn{
		{Role: session.RoleUser, Content: "dor nas costas"},
		{Role: session.RoleAssistant, Content: "há quanto tempo?"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, summary)
	require.Len(t, client.lastReq.Messages, 1)
	assert.Contains(t, client.lastReq.Messages[0].Content, "user: dor nas costas")
}

func TestFallbackClient(t *testing.T) {
	primary := &scriptedClient{failures: 1}
	fallback := &scriptedClient{text: "from fallback"}
	c := NewFallbackClient(primary, fallback, logging.Discard())

	resp, err := c.Complete(context.Background(), Request{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Text)

	only := NewFallbackClient(&scriptedClient{failures: 1}, nil, logging.Discard())
	_, err = only.Complete(context.Background(), Request{})
	assert.Error(t, err)
}
