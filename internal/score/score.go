// Package score computes the composite buy/sell bias for one symbol from its
// candle window. Evaluate is pure and stateless, safe to call concurrently
// from multiple symbols without synchronization.
//
// The composite blends three parts:
//   - ten independent indicator votes (RSI, MACD, Stochastic, CCI,
//     Williams %R, ADX, SMA cross, Bollinger bands, EMA cross, momentum),
//   - a shape score for the most recent candle,
//   - a shape score for the prior five closed candles,
//
// weighted 0.3 / 0.5 / 0.2 and mapped onto a display triple whose
// buy+sell+neutral always sum to 100.
package score

import (
	"math"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// MinCandles is the minimum window length Evaluate needs to score.
// Shorter windows degrade to Neutral(), a defined fallback, not an error.
const MinCandles = 50

// Neutral returns the defined fallback score for insufficient data.
func Neutral() model.CompositeScore {
	return model.CompositeScore{Buy: 33, Sell: 33, Neutral: 34, Score: 50}
}

// Evaluate scores a candle window ordered most-recent-last.
// Missing or degenerate market data never raises: every divide-by-zero case
// (flat high==low window, zero mean deviation, zero ATR, zero sigma) resolves
// to a neutral vote inside the individual indicator.
func Evaluate(candles []model.Candle) model.CompositeScore {
	if len(candles) < MinCandles {
		return Neutral()
	}

	closes := closeSeries(candles)
	votes := [...]vote{
		rsiVote(closes, 7),
		macdVote(closes),
		stochVote(candles, 7, 3),
		cciVote(candles, 9),
		williamsVote(candles, 7),
		adxVote(candles, 7),
		smaCrossVote(closes),
		bollingerVote(closes, 10, 2.0),
		emaCrossVote(closes),
		momentumVote(closes),
	}

	var buyN, sellN, neutralN int
	for _, v := range votes {
		switch v {
		case voteBuy:
			buyN++
		case voteSell:
			sellN++
		default:
			neutralN++
		}
	}
	indicatorScore := 100 * float64(buyN) / float64(buyN+sellN+neutralN)

	cur := currentCandleScore(candles[len(candles)-1])
	past := pastCandleScore(candles)

	base := clampf(0.5*cur+0.2*past+0.3*indicatorScore, 5, 95)
	return mapDisplay(base)
}

// currentCandleScore scores the most recent candle's shape in [5,95].
// The body size in basis points of the open drives the score toward 95
// (bullish) or 5 (bearish); wick asymmetry adjusts by up to ±10, where a
// long lower wick favors buy.
func currentCandleScore(c model.Candle) float64 {
	if c.Open == 0 {
		return 50
	}
	bodyBps := (c.Close - c.Open) / c.Open * 10000
	s := 50 + clampf(bodyBps, -40, 40)

	rng := c.High - c.Low
	if rng > 0 {
		upperWick := c.High - math.Max(c.Open, c.Close)
		lowerWick := math.Min(c.Open, c.Close) - c.Low
		s += (lowerWick - upperWick) / rng * 10
	}
	return clampf(s, 5, 95)
}

// pastCandleScore scores the five closed candles before the current one:
// ±10 per net bull/bear candle, a strength-of-move term clamped to ±15, and
// a ±10 continuity bonus when at least 4 of the 5 share direction.
func pastCandleScore(cs []model.Candle) float64 {
	if len(cs) < 6 {
		return 50
	}
	window := cs[len(cs)-6 : len(cs)-1]

	bulls, bears := 0, 0
	for _, c := range window {
		if c.Bullish() {
			bulls++
		} else if c.Bearish() {
			bears++
		}
	}
	s := 50 + float64(bulls-bears)*10

	if window[0].Close != 0 {
		moveBps := (window[4].Close - window[0].Close) / window[0].Close * 10000
		s += clampf(moveBps/10, -15, 15)
	}

	if bulls >= 4 {
		s += 10
	} else if bears >= 4 {
		s -= 10
	}
	return clampf(s, 5, 95)
}

// mapDisplay maps a base score onto the buy/sell/neutral display triple.
// The 25±55/±20 constants and [5,80] clamps match the reference behavior
// and are preserved rather than re-derived.
func mapDisplay(base float64) model.CompositeScore {
	var buy, sell int
	if base >= 50 {
		ratio := (base - 50) / 50
		buy = 25 + int(math.Round(ratio*55))
		sell = 25 - int(math.Round(ratio*20))
	} else {
		ratio := (50 - base) / 50
		sell = 25 + int(math.Round(ratio*55))
		buy = 25 - int(math.Round(ratio*20))
	}
	buy = clampi(buy, 5, 80)
	sell = clampi(sell, 5, 80)
	return model.CompositeScore{
		Buy:     buy,
		Sell:    sell,
		Neutral: 100 - buy - sell,
		Score:   base,
	}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
