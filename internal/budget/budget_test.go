package budget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

func TestGovernorHourlyBeforeDaily(t *testing.T) {
	g := NewGovernor(NewCounters(), Limits{HourlyTokens: 100, DailyTokens: 100}, logging.Discard())
	require.NoError(t, g.Check())

	g.Record(100)
	err := g.Check()
	assert.True(t, errors.Is(err, ErrHourlyBudgetExceeded))
	assert.True(t, errors.Is(err, ErrBudgetExceeded))

	g.counters.ResetHourly()
	err = g.Check()
	assert.True(t, errors.Is(err, ErrDailyBudgetExceeded))
	assert.False(t, errors.Is(err, ErrHourlyBudgetExceeded))
}

func TestGovernorRequestCaps(t *testing.T) {
	g := NewGovernor(nil, Limits{HourlyRequests: 2}, logging.Discard())
	g.Record(0)
	require.NoError(t, g.Check())
	g.Record(0)
	assert.ErrorIs(t, g.Check(), ErrHourlyBudgetExceeded)
}

func TestCountersConcurrentAdd(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(10)
		}()
	}
	wg.Wait()
	s := c.Snapshot()
	assert.Equal(t, Snapshot{HourlyTokens: 500, HourlyRequests: 50, DailyTokens: 500, DailyRequests: 50}, s)

	c.ResetDaily()
	c.ResetDaily()
	s = c.Snapshot()
	assert.Equal(t, 0, s.DailyTokens)
	assert.Equal(t, 500, s.HourlyTokens)
}

func TestGovernorTickersReset(t *testing.T) {
	g := NewGovernor(nil, Limits{HourlyTokens: 10}, logging.Discard())
	g.Record(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.run(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()
	assert.Eventually(t, func() bool { return g.Check() == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, g.Snapshot().DailyTokens)
	cancel()
	<-done
}

func TestGovernorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGovernor(nil, Limits{}, logging.Discard())
	g.RegisterMetrics(reg)
	g.Record(42)

	expected := `
# HELP concierge_budget_daily_tokens Tokens consumed in the current day
# TYPE concierge_budget_daily_tokens gauge
concierge_budget_daily_tokens 42
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "concierge_budget_daily_tokens"))
}
