package cache

import (
	"testing"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

func candlesAt(times ...int64) []model.Candle {
	out := make([]model.Candle, len(times))
	for i, t := range times {
		out[i] = model.Candle{Time: t, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
	}
	return out
}

func windowTimes(s *Store, symbol string) []int64 {
	var out []int64
	for _, c := range s.Window(symbol, 0) {
		out = append(out, c.Time)
	}
	return out
}

func TestMergeCandles_AppendsAndStaysSorted(t *testing.T) {
	s := New(0)
	applied, stale := s.MergeCandles("EURUSD", candlesAt(100, 160, 220))
	if applied != 3 || stale != 0 {
		t.Fatalf("applied=%d stale=%d, want 3/0", applied, stale)
	}

	// Overlapping push: 160 and 220 are stale, 280 appends, 220 would
	// only update if it were the tail.
	applied, stale = s.MergeCandles("EURUSD", candlesAt(160, 220, 280))
	if applied != 2 || stale != 1 {
		t.Fatalf("overlap: applied=%d stale=%d, want 2/1", applied, stale)
	}

	times := windowTimes(s, "EURUSD")
	want := []int64{100, 160, 220, 280}
	if len(times) != len(want) {
		t.Fatalf("window=%v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("window=%v, want %v", times, want)
		}
	}
}

func TestMergeCandles_FormingBarReplaced(t *testing.T) {
	s := New(0)
	s.MergeCandles("EURUSD", candlesAt(100, 160))

	update := []model.Candle{{Time: 160, Open: 1, High: 2, Low: 1, Close: 1.9, Volume: 10}}
	applied, stale := s.MergeCandles("EURUSD", update)
	if applied != 1 || stale != 0 {
		t.Fatalf("applied=%d stale=%d, want 1/0", applied, stale)
	}
	w := s.Window("EURUSD", 0)
	if len(w) != 2 || w[1].Close != 1.9 {
		t.Errorf("window=%+v, want forming bar replaced", w)
	}
}

func TestMergeCandles_WindowBounded(t *testing.T) {
	s := New(5)
	times := make([]int64, 20)
	for i := range times {
		times[i] = int64(100 + i*60)
	}
	s.MergeCandles("EURUSD", candlesAt(times...))

	w := s.Window("EURUSD", 0)
	if len(w) != 5 {
		t.Fatalf("window size=%d, want 5", len(w))
	}
	if w[0].Time != times[15] || w[4].Time != times[19] {
		t.Errorf("window kept wrong tail: first=%d last=%d", w[0].Time, w[4].Time)
	}
}

func TestWindowLimit(t *testing.T) {
	s := New(0)
	s.MergeCandles("EURUSD", candlesAt(100, 160, 220, 280))
	w := s.Window("EURUSD", 2)
	if len(w) != 2 || w[0].Time != 220 {
		t.Errorf("limited window=%+v", w)
	}
	if got := s.Window("UNKNOWN", 10); got != nil {
		t.Errorf("unknown symbol window=%v, want nil", got)
	}
}

func TestTickAndScoreRoundTrip(t *testing.T) {
	s := New(0)
	if _, ok := s.Tick("EURUSD"); ok {
		t.Error("tick present before set")
	}
	s.SetTick("EURUSD", model.Tick{Symbol: "EURUSD", Bid: 1.1, Ask: 1.2})
	s.SetScore("EURUSD", model.CompositeScore{Buy: 40, Sell: 20, Neutral: 40, Score: 60})

	tick, ok := s.Tick("EURUSD")
	if !ok || tick.Bid != 1.1 {
		t.Errorf("tick=%+v ok=%v", tick, ok)
	}
	score, ok := s.Score("EURUSD")
	if !ok || score.Score != 60 {
		t.Errorf("score=%+v ok=%v", score, ok)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New(0)
	s.MergeCandles("EURUSD", candlesAt(100, 160, 220))
	s.MergeCandles("GBPUSD", candlesAt(100, 160))

	snap := s.SnapshotWindows()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d symbols, want 2", len(snap))
	}

	restored := New(0)
	restored.RestoreWindows(snap)
	if got := windowTimes(restored, "EURUSD"); len(got) != 3 || got[2] != 220 {
		t.Errorf("restored EURUSD window=%v", got)
	}

	// Mutating the snapshot must not reach the store.
	snap["EURUSD"][0].Close = 999
	if w := restored.Window("EURUSD", 0); w[0].Close == 999 {
		t.Error("restore aliased the caller's slice")
	}

	syms := restored.Symbols()
	if len(syms) != 2 || syms[0] != "EURUSD" || syms[1] != "GBPUSD" {
		t.Errorf("symbols=%v", syms)
	}
}
