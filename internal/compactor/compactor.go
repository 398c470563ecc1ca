// Package compactor bounds conversation history by eliding its middle.
package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	DefaultCeiling   = 100
	DefaultKeepFirst = 4
	DefaultKeepLast  = 60
)

// Summarizer condenses the elided turns into a short note.
type Summarizer interface {
	Summarize(ctx context.Context, turns []session.Turn) (string, error)
}

// Compactor keeps the first KeepFirst and last KeepLast turns once the
// history grows past Ceiling and replaces the rest with one system marker.
type Compactor struct {
	Ceiling    int
	KeepFirst  int
	KeepLast   int
	Summarizer Summarizer
	Logger     *logging.Logger
}

// New returns a compactor with the given bounds; non-positive values use the
// defaults. KeepFirst+KeepLast+1 must fit within the ceiling.
func New(ceiling, keepFirst, keepLast int, summarizer Summarizer, logger *logging.Logger) *Compactor {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if keepFirst < 0 {
		keepFirst = DefaultKeepFirst
	}
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	if keepFirst+keepLast+1 > ceiling {
		keepFirst = 0
		keepLast = ceiling - 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Compactor{
		Ceiling:    ceiling,
		KeepFirst:  keepFirst,
		KeepLast:   keepLast,
		Summarizer: summarizer,
		Logger:     logger,
	}
}

// Compact returns history unchanged while it fits, otherwise
// first K + marker + last M.
func (c *Compactor) Compact(ctx context.Context, history []session.Turn) []session.Turn {
	if len(history) <= c.Ceiling {
		return history
	}
	k, m := c.KeepFirst, c.KeepLast
	omitted := history[k : len(history)-m]

	marker := Marker(len(omitted))
	if c.Summarizer != nil {
		summary, err := c.Summarizer.Summarize(ctx, omitted)
		switch {
		case err != nil:
			c.logger().Warn("history summary failed, using bare marker", "error", err, "omitted", len(omitted))
		case strings.TrimSpace(summary) != "":
			marker = marker + " " + strings.TrimSpace(summary)
		}
	}

	out := make([]session.Turn, 0, k+1+m)
	out = append(out, history[:k]...)
	out = append(out, session.Turn{Role: session.RoleSystem, Content: marker, At: markerTime(omitted)})
	out = append(out, history[len(history)-m:]...)
	return out
}

// Marker is the placeholder text for n elided turns.
func Marker(n int) string {
	return fmt.Sprintf("[%d earlier messages omitted]", n)
}

func markerTime(omitted []session.Turn) time.Time {
	if len(omitted) == 0 {
		return time.Time{}
	}
	return omitted[len(omitted)-1].At
}

func (c *Compactor) logger() *logging.Logger {
	if c.Logger == nil {
		return logging.Default()
	}
	return c.Logger
}
