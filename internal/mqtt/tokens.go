package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/azaman/internal/usage"
)

// DailyTokens counts model tokens since local midnight. It is safe for
// concurrent use and satisfies the agent's usage recorder interface so
// it can sit beside the usage ledger.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	calls    int64
	resetDay int
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTokens creates a counter that rolls over at midnight in loc.
// A nil loc means [time.Local].
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Record adds one model call. It never fails.
func (d *DailyTokens) Record(_ context.Context, rec usage.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(rec.InputTokens)
	d.output += int64(rec.OutputTokens)
	d.calls++
	return nil
}

// Snapshot returns today's input tokens, output tokens and call count.
func (d *DailyTokens) Snapshot() (input, output, calls int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.calls
}

// maybeReset zeroes the counters when the local day changes. d.mu must
// be held.
func (d *DailyTokens) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.input, d.output, d.calls = 0, 0, 0
		d.resetDay = today
	}
}
