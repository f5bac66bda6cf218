package score

import (
	"math"
	"testing"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// makeCandles builds a candle series from closes, with each candle opening
// at the prior close. High/low hug the body (no wicks).
func makeCandles(closes []float64) []model.Candle {
	cs := make([]model.Candle, len(closes))
	prev := closes[0]
	for i, c := range closes {
		open := prev
		hi, lo := open, open
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
		cs[i] = model.Candle{Time: int64(1700000000 + i*60), Open: open, High: hi, Low: lo, Close: c, Volume: 100}
		prev = c
	}
	return cs
}

func TestEvaluate_InsufficientDataReturnsNeutral(t *testing.T) {
	for _, n := range []int{0, 1, 10, 49} {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 100 + float64(i)
		}
		var cs []model.Candle
		if n > 0 {
			cs = makeCandles(closes)
		}
		got := Evaluate(cs)
		want := model.CompositeScore{Buy: 33, Sell: 33, Neutral: 34, Score: 50}
		if got != want {
			t.Errorf("n=%d: got %+v, want %+v", n, got, want)
		}
	}
}

func TestEvaluate_TripleSumsTo100AndScoreBounded(t *testing.T) {
	seeds := [][]float64{}

	// Uptrend, downtrend, flat, zigzag, spike.
	up := make([]float64, 80)
	down := make([]float64, 80)
	flat := make([]float64, 80)
	zig := make([]float64, 80)
	spike := make([]float64, 80)
	for i := range up {
		up[i] = 100 * math.Pow(1.01, float64(i))
		down[i] = 100 * math.Pow(0.99, float64(i))
		flat[i] = 100
		zig[i] = 100 + float64(i%2)
		spike[i] = 100
	}
	spike[79] = 180
	seeds = append(seeds, up, down, flat, zig, spike)

	for i, closes := range seeds {
		got := Evaluate(makeCandles(closes))
		if got.Buy+got.Sell+got.Neutral != 100 {
			t.Errorf("series %d: triple sums to %d, want 100 (%+v)", i, got.Buy+got.Sell+got.Neutral, got)
		}
		if got.Score < 5 || got.Score > 95 {
			t.Errorf("series %d: score %.2f out of [5,95]", i, got.Score)
		}
	}
}

func TestEvaluate_UptrendFavorsBuy(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	got := Evaluate(makeCandles(closes))
	if got.Buy <= got.Sell {
		t.Errorf("uptrend: buy=%d not greater than sell=%d (%+v)", got.Buy, got.Sell, got)
	}
	if got.Score <= 50 {
		t.Errorf("uptrend: score=%.2f, want > 50", got.Score)
	}
}

func TestEvaluate_DowntrendFavorsSell(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 * math.Pow(0.99, float64(i))
	}
	got := Evaluate(makeCandles(closes))
	if got.Sell <= got.Buy {
		t.Errorf("downtrend: sell=%d not greater than buy=%d (%+v)", got.Sell, got.Buy, got)
	}
	if got.Score >= 50 {
		t.Errorf("downtrend: score=%.2f, want < 50", got.Score)
	}
}

func TestEvaluate_FlatSeriesDoesNotPanic(t *testing.T) {
	// Every divide-by-zero edge at once: zero range, zero sigma, zero ATR.
	cs := make([]model.Candle, 60)
	for i := range cs {
		cs[i] = model.Candle{Time: int64(1700000000 + i*60), Open: 100, High: 100, Low: 100, Close: 100}
	}
	got := Evaluate(cs)
	if got.Buy+got.Sell+got.Neutral != 100 {
		t.Errorf("flat: triple sums to %d", got.Buy+got.Sell+got.Neutral)
	}
	if math.Abs(got.Score-50) > 20 {
		t.Errorf("flat: score=%.2f, expected near neutral", got.Score)
	}
}

func TestMapDisplay(t *testing.T) {
	tests := []struct {
		base      float64
		buy, sell int
	}{
		{50, 25, 25},
		{95, 25 + 50, 25 - 18}, // ratio 0.9
		{5, 25 - 18, 25 + 50},
		{75, 25 + 28, 25 - 10}, // ratio 0.5
	}
	for _, tt := range tests {
		got := mapDisplay(tt.base)
		if got.Buy != tt.buy || got.Sell != tt.sell {
			t.Errorf("mapDisplay(%.0f) = buy=%d sell=%d, want buy=%d sell=%d",
				tt.base, got.Buy, got.Sell, tt.buy, tt.sell)
		}
		if got.Buy+got.Sell+got.Neutral != 100 {
			t.Errorf("mapDisplay(%.0f): triple sums to %d", tt.base, got.Buy+got.Sell+got.Neutral)
		}
		if got.Buy < 5 || got.Buy > 80 || got.Sell < 5 || got.Sell > 80 {
			t.Errorf("mapDisplay(%.0f): buy/sell out of [5,80]: %+v", tt.base, got)
		}
	}
}

func TestCurrentCandleScore(t *testing.T) {
	// Strong bullish body, no wicks.
	bull := model.Candle{Open: 100, High: 101, Low: 100, Close: 101}
	if s := currentCandleScore(bull); s <= 80 {
		t.Errorf("bullish body: score=%.1f, want > 80", s)
	}
	// Strong bearish body.
	bear := model.Candle{Open: 100, High: 100, Low: 99, Close: 99}
	if s := currentCandleScore(bear); s >= 20 {
		t.Errorf("bearish body: score=%.1f, want < 20", s)
	}
	// Doji with a long lower wick leans buy.
	hammer := model.Candle{Open: 100, High: 100.1, Low: 99, Close: 100}
	if s := currentCandleScore(hammer); s <= 50 {
		t.Errorf("hammer: score=%.1f, want > 50", s)
	}
	// Zero open degrades to neutral.
	if s := currentCandleScore(model.Candle{}); s != 50 {
		t.Errorf("zero candle: score=%.1f, want 50", s)
	}
}

func TestPastCandleScore_Continuity(t *testing.T) {
	// Five consecutive bull candles before the latest one.
	closes := []float64{100, 101, 102, 103, 104, 105, 105.5}
	s := pastCandleScore(makeCandles(closes))
	if s < 90 {
		t.Errorf("five bull candles: score=%.1f, want >= 90", s)
	}

	// Five consecutive bear candles.
	closes = []float64{105, 104, 103, 102, 101, 100, 99.5}
	s = pastCandleScore(makeCandles(closes))
	if s > 10 {
		t.Errorf("five bear candles: score=%.1f, want <= 10", s)
	}

	// Too few candles degrades to neutral.
	if s := pastCandleScore(makeCandles([]float64{100, 101})); s != 50 {
		t.Errorf("short window: score=%.1f, want 50", s)
	}
}
