package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWindowsRoundTrip(t *testing.T) {
	s := tempStore(t)

	windows := map[string][]model.Candle{
		"EURUSD": {
			{Time: 100, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, Volume: 10},
			{Time: 160, Open: 1.15, High: 1.25, Low: 1.1, Close: 1.2, Volume: 12},
		},
		"GBPUSD": {
			{Time: 100, Open: 1.3, High: 1.31, Low: 1.29, Close: 1.3, Volume: 8},
		},
	}
	if err := s.SaveWindows(windows); err != nil {
		t.Fatalf("SaveWindows: %v", err)
	}

	loaded, err := s.LoadWindows()
	if err != nil {
		t.Fatalf("LoadWindows: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d symbols, want 2", len(loaded))
	}
	eur := loaded["EURUSD"]
	if len(eur) != 2 || eur[0].Time != 100 || eur[1].Close != 1.2 {
		t.Errorf("EURUSD window=%+v", eur)
	}

	// A second save replaces, not appends.
	if err := s.SaveWindows(map[string][]model.Candle{
		"EURUSD": {{Time: 220, Open: 1.2, High: 1.2, Low: 1.2, Close: 1.2, Volume: 1}},
	}); err != nil {
		t.Fatalf("second SaveWindows: %v", err)
	}
	loaded, _ = s.LoadWindows()
	if len(loaded) != 1 || len(loaded["EURUSD"]) != 1 {
		t.Errorf("after replace: %+v", loaded)
	}
}

func TestLoadWindows_Empty(t *testing.T) {
	s := tempStore(t)
	loaded, err := s.LoadWindows()
	if err != nil {
		t.Fatalf("LoadWindows: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("fresh db returned windows: %+v", loaded)
	}
}

func TestTradeJournal(t *testing.T) {
	s := tempStore(t)

	base := time.Unix(1700000000, 0)
	entries := []JournalEntry{
		{User: "alice", Magic: 7, Symbol: "EURUSD", Direction: "BUY", Step: 1, Lot: 0.01, Profit: -10, Action: "advance", ClosedAt: base},
		{User: "alice", Magic: 7, Symbol: "EURUSD", Direction: "BUY", Step: 2, Lot: 0.02, Profit: 55, Action: "reset", ClosedAt: base.Add(time.Minute)},
		{User: "bob", Magic: 9, Symbol: "GBPUSD", Direction: "SELL", Step: 1, Lot: 0.1, Profit: 5, Action: "reset", ClosedAt: base},
	}
	for _, e := range entries {
		if err := s.AppendTrade(e); err != nil {
			t.Fatalf("AppendTrade: %v", err)
		}
	}

	trades, err := s.RecentTrades("alice", 7, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Action != "reset" || trades[0].Step != 2 {
		t.Errorf("newest trade=%+v, want the step-2 reset first", trades[0])
	}
	if trades[1].Profit != -10 {
		t.Errorf("older trade=%+v", trades[1])
	}

	if other, _ := s.RecentTrades("bob", 9, 10); len(other) != 1 {
		t.Errorf("bob's trades=%+v", other)
	}
}
