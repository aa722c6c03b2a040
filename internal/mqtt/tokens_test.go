package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nugget/azaman/internal/usage"
)

func TestDailyTokens_Record(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	ctx := context.Background()
	_ = dt.Record(ctx, usage.Record{InputTokens: 100, OutputTokens: 200})
	_ = dt.Record(ctx, usage.Record{InputTokens: 50, OutputTokens: 75, Purpose: usage.PurposeSummary})

	input, output, calls := dt.Snapshot()
	if input != 150 || output != 275 || calls != 2 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (150, 275, 2)", input, output, calls)
	}
}

func TestDailyTokens_ZeroInitially(t *testing.T) {
	input, output, calls := NewDailyTokens(time.UTC).Snapshot()
	if input != 0 || output != 0 || calls != 0 {
		t.Errorf("got (%d, %d, %d), want zeros", input, output, calls)
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = dt.Record(context.Background(), usage.Record{InputTokens: 10, OutputTokens: 20})
		}()
	}
	wg.Wait()

	input, output, calls := dt.Snapshot()
	if input != 1000 || output != 2000 || calls != 100 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (1000, 2000, 100)", input, output, calls)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.now = func() time.Time { return now }
	dt.resetDay = now.YearDay()

	_ = dt.Record(context.Background(), usage.Record{InputTokens: 500, OutputTokens: 600})
	if in, _, _ := dt.Snapshot(); in != 500 {
		t.Fatalf("input before midnight = %d, want 500", in)
	}

	now = now.Add(2 * time.Minute)
	input, output, calls := dt.Snapshot()
	if input != 0 || output != 0 || calls != 0 {
		t.Errorf("after midnight got (%d, %d, %d), want zeros", input, output, calls)
	}
}

func TestDailyTokens_NilLocation(t *testing.T) {
	if dt := NewDailyTokens(nil); dt.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
}
