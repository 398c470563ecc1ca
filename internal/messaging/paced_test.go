package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

type recordingSender struct {
	mu     sync.Mutex
	bodies []string
	failOn string
}

func (r *recordingSender) SendText(_ context.Context, _, _, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if body == r.failOn {
		return "", errors.New("boom")
	}
	r.bodies = append(r.bodies, body)
	return "id", nil
}

func TestSplitParagraphs(t *testing.T) {
	got := SplitParagraphs("Primeiro.\n\nSegundo\ncom quebra.\r\n\r\n  \n\nTerceiro.  ")
	assert.Equal(t, []string{"Primeiro.", "Segundo\ncom quebra.", "Terceiro."}, got)
	assert.Empty(t, SplitParagraphs("   "))
}

func TestPacedSenderDelaysBetweenParagraphs(t *testing.T) {
	sender := &recordingSender{}
	var delays []time.Duration
	p := NewPacedSender(sender,
		WithPacingLogger(logging.Discard()),
		WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	sent := p.Send(context.Background(), "1029", "5511", "um\n\ndois\n\ntrês")
	require.Equal(t, 3, sent)
	assert.Equal(t, []string{"um", "dois", "três"}, sender.bodies)
	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, DefaultMinDelay)
		assert.LessOrEqual(t, d, DefaultMaxDelay)
	}
}

func TestPacedSenderContinuesAfterFailure(t *testing.T) {
	sender := &recordingSender{failOn: "dois"}
	p := NewPacedSender(sender,
		WithPacingLogger(logging.Discard()),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	sent := p.Send(context.Background(), "1029", "5511", "um\n\ndois\n\ntrês")
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"um", "três"}, sender.bodies)
}

func TestPacedSenderStopsOnCancel(t *testing.T) {
	sender := &recordingSender{}
	p := NewPacedSender(sender, WithPacingLogger(logging.Discard()), WithDelays(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent := p.Send(ctx, "1029", "5511", "um\n\ndois")
	assert.Equal(t, 1, sent)
}
