// Package status implements the StatusSink capability spec.md §4.9
// describes: an event consumer the core pipelines report progress and
// log lines to, kept separate from any interactive renderer (the
// out-of-scope TUI panel spec.md §1 excludes). Grounded on kcptun's own
// always-on logging conventions (client/main.go's long run of
// log.Println calls at startup) plus github.com/fatih/color's use
// there for non-fatal warnings (color.Red(...) around QPP/scavenge
// parameter checks).
package status

import (
	"log"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/netherlabs/splitpipe/internal/sizes"
)

// Sink is the capability the producer and consumer pipelines depend
// on. Implementations must be safe to call from a single-threaded
// cooperative loop (no concurrent calls are made by this module, but
// an implementation backing a TUI may still want its own locking).
type Sink interface {
	Log(format string, args ...any)
	SetBufferPercent(pct int)
	SetTotals(inBytes, outBytes, bufferedBytes uint64, volumePercent int)
	SetLogEmphasis(bold bool)
	Refresh()
}

// NoopSink discards every event, for callers (the tests in this module)
// that want no console output beyond what they log directly; both
// commands use ConsoleSink.
type NoopSink struct{}

func (NoopSink) Log(string, ...any)                   {}
func (NoopSink) SetBufferPercent(int)                 {}
func (NoopSink) SetTotals(uint64, uint64, uint64, int) {}
func (NoopSink) SetLogEmphasis(bool)                  {}
func (NoopSink) Refresh()                             {}

// ConsoleSink is a thin renderer over the standard log package: it logs
// every Log() call, and rate-limits SetBufferPercent to integer-percent
// changes and SetTotals to once per wall-clock second, per spec.md
// §4.9.
type ConsoleSink struct {
	mu sync.Mutex

	lastPct      int
	havePct      bool
	lastTotalsAt time.Time
	emphasis     bool
}

// NewConsole returns a ConsoleSink logging through the standard logger.
func NewConsole() *ConsoleSink {
	return &ConsoleSink{}
}

func (c *ConsoleSink) Log(format string, args ...any) {
	c.mu.Lock()
	bold := c.emphasis
	c.mu.Unlock()

	if bold {
		color.New(color.Bold).Printf(format+"\n", args...)
		return
	}
	log.Printf(format, args...)
}

func (c *ConsoleSink) SetBufferPercent(pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.havePct && pct == c.lastPct {
		return
	}
	c.lastPct = pct
	c.havePct = true
	log.Printf("buffer: %d%% full", pct)
}

func (c *ConsoleSink) SetTotals(inBytes, outBytes, bufferedBytes uint64, volumePercent int) {
	c.mu.Lock()
	now := time.Now()
	if !c.lastTotalsAt.IsZero() && now.Sub(c.lastTotalsAt) < time.Second {
		c.mu.Unlock()
		return
	}
	c.lastTotalsAt = now
	c.mu.Unlock()

	log.Printf("input: %s  output: %s  buffered: %s  volume done: %d%%",
		sizes.HumanReadable(inBytes), sizes.HumanReadable(outBytes),
		sizes.HumanReadable(bufferedBytes), volumePercent)
}

func (c *ConsoleSink) SetLogEmphasis(bold bool) {
	c.mu.Lock()
	c.emphasis = bold
	c.mu.Unlock()
}

// Refresh is a no-op for ConsoleSink: the standard logger has no
// screen state to redraw. A TUI implementation of Sink would use this
// hook to repaint after an external event (e.g. terminal resize).
func (c *ConsoleSink) Refresh() {}

// Warn logs a non-fatal configuration warning in the same style
// kcptun's client/main.go and server/main.go use color.Red(...) for
// QPP/scavenge parameter checks.
func Warn(format string, args ...any) {
	color.Red(format, args...)
}
