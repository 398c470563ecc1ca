// Package budget caps LLM spend per hour and per day.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

var (
	// ErrBudgetExceeded is wrapped by both window-specific errors.
	ErrBudgetExceeded       = errors.New("budget: exceeded")
	ErrHourlyBudgetExceeded = fmt.Errorf("%w: hourly cap reached", ErrBudgetExceeded)
	ErrDailyBudgetExceeded  = fmt.Errorf("%w: daily cap reached", ErrBudgetExceeded)
)

// Snapshot is a consistent read of all four counters.
type Snapshot struct {
	HourlyTokens   int `json:"hourly_tokens"`
	HourlyRequests int `json:"hourly_requests"`
	DailyTokens    int `json:"daily_tokens"`
	DailyRequests  int `json:"daily_requests"`
}

// Counters holds the process-wide usage counters behind one mutex.
type Counters struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewCounters() *Counters {
	return &Counters{}
}

// Add records one request consuming tokens in both windows.
func (c *Counters) Add(tokens int) {
	if tokens < 0 {
		tokens = 0
	}
	c.mu.Lock()
	c.snap.HourlyTokens += tokens
	c.snap.HourlyRequests++
	c.snap.DailyTokens += tokens
	c.snap.DailyRequests++
	c.mu.Unlock()
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Counters) ResetHourly() {
	c.mu.Lock()
	c.snap.HourlyTokens = 0
	c.snap.HourlyRequests = 0
	c.mu.Unlock()
}

func (c *Counters) ResetDaily() {
	c.mu.Lock()
	c.snap.DailyTokens = 0
	c.snap.DailyRequests = 0
	c.mu.Unlock()
}

// Limits are the caps; a zero field disables that cap.
type Limits struct {
	HourlyTokens   int
	HourlyRequests int
	DailyTokens    int
	DailyRequests  int
}

// Governor gates costed calls against Limits.
type Governor struct {
	counters *Counters
	limits   Limits
	logger   *logging.Logger
}

func NewGovernor(counters *Counters, limits Limits, logger *logging.Logger) *Governor {
	if counters == nil {
		counters = NewCounters()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Governor{counters: counters, limits: limits, logger: logger}
}

// Check returns nil while every counter is below its cap. The hourly window
// is reported before the daily one.
func (g *Governor) Check() error {
	s := g.counters.Snapshot()
	if reached(s.HourlyTokens, g.limits.HourlyTokens) || reached(s.HourlyRequests, g.limits.HourlyRequests) {
		return ErrHourlyBudgetExceeded
	}
	if reached(s.DailyTokens, g.limits.DailyTokens) || reached(s.DailyRequests, g.limits.DailyRequests) {
		return ErrDailyBudgetExceeded
	}
	return nil
}

func reached(value, limit int) bool {
	return limit > 0 && value >= limit
}

// Record adds one request with tokens to both windows.
func (g *Governor) Record(tokens int) {
	g.counters.Add(tokens)
}

func (g *Governor) Snapshot() Snapshot {
	return g.counters.Snapshot()
}

func (g *Governor) Limits() Limits {
	return g.limits
}

// Start resets the hourly counters every hour and the daily counters every
// 24h until ctx ends.
func (g *Governor) Start(ctx context.Context) {
	g.run(ctx, time.Hour, 24*time.Hour)
}

func (g *Governor) run(ctx context.Context, hourly, daily time.Duration) {
	hourTicker := time.NewTicker(hourly)
	dayTicker := time.NewTicker(daily)
	defer hourTicker.Stop()
	defer dayTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hourTicker.C:
			g.counters.ResetHourly()
			g.logger.Debug("hourly llm budget reset")
		case <-dayTicker.C:
			g.counters.ResetDaily()
			g.logger.Info("daily llm budget reset")
		}
	}
}

// RegisterMetrics exposes the counters as gauges.
func (g *Governor) RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string, read func(Snapshot) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "budget",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(g.counters.Snapshot())) })
	}
	reg.MustRegister(
		gauge("hourly_tokens", "Tokens consumed in the current hour", func(s Snapshot) int { return s.HourlyTokens }),
		gauge("hourly_requests", "LLM requests in the current hour", func(s Snapshot) int { return s.HourlyRequests }),
		gauge("daily_tokens", "Tokens consumed in the current day", func(s Snapshot) int { return s.DailyTokens }),
		gauge("daily_requests", "LLM requests in the current day", func(s Snapshot) int { return s.DailyRequests }),
	)
}
