package status

import "testing"

func TestNoopSinkNeverPanics(t *testing.T) {
	var s Sink = NoopSink{}
	s.Log("hello %d", 1)
	s.SetBufferPercent(50)
	s.SetTotals(1, 2, 3, 4)
	s.SetLogEmphasis(true)
	s.Refresh()
}

func TestConsoleSinkImplementsSink(t *testing.T) {
	var _ Sink = NewConsole()
}

func TestConsoleSinkRateLimitsTotals(t *testing.T) {
	c := NewConsole()
	// The first call is logged; a second call within the same second is
	// dropped, which shows as lastTotalsAt keeping the first call's time.
	// Log output itself is not asserted on, since ConsoleSink writes to
	// the package-level standard logger.
	c.SetTotals(10, 20, 30, 40)
	first := c.lastTotalsAt
	c.SetTotals(11, 21, 31, 41)
	if !c.lastTotalsAt.Equal(first) {
		t.Fatal("second SetTotals within one second was not rate-limited")
	}
}
