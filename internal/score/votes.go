package score

import (
	"math"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// vote is a single indicator's directional opinion.
type vote int

const (
	voteNeutral vote = iota
	voteBuy
	voteSell
)

// closeSeries extracts the close prices from a candle sequence.
func closeSeries(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// emaSeries computes an EMA over values with an incremental accumulator.
// The first period entries carry the running partial mean used as the seed;
// from index period onward the standard EMA recurrence applies. O(n).
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i, v := range values {
		if i < period {
			sum += v
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = v*k + out[i-1]*(1-k)
	}
	return out
}

// rsiVote applies Wilder's RSI: sell above 70, buy below 30.
func rsiVote(closes []float64, period int) vote {
	if len(closes) < period+1 {
		return voteNeutral
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	if avgLoss == 0 {
		// All gains, RSI pegged at 100.
		return voteSell
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	switch {
	case rsi > 70:
		return voteSell
	case rsi < 30:
		return voteBuy
	}
	return voteNeutral
}

// macdVote compares the MACD(6,13) line against its 5-period signal line.
func macdVote(closes []float64) vote {
	const fastP, slowP, signalP = 6, 13, 5
	if len(closes) < slowP+signalP {
		return voteNeutral
	}
	fast := emaSeries(closes, fastP)
	slow := emaSeries(closes, slowP)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal := emaSeries(macd, signalP)
	last := len(closes) - 1
	switch {
	case macd[last] > signal[last]:
		return voteBuy
	case macd[last] < signal[last]:
		return voteSell
	}
	return voteNeutral
}

// stochVote computes slow %K (raw %K smoothed over `smooth` periods):
// sell above 80, buy below 20. A flat high/low window votes neutral.
func stochVote(cs []model.Candle, period, smooth int) vote {
	if len(cs) < period+smooth-1 {
		return voteNeutral
	}
	sum := 0.0
	for s := 0; s < smooth; s++ {
		end := len(cs) - s
		window := cs[end-period : end]
		hi, lo := window[0].High, window[0].Low
		for _, c := range window[1:] {
			if c.High > hi {
				hi = c.High
			}
			if c.Low < lo {
				lo = c.Low
			}
		}
		if hi == lo {
			return voteNeutral
		}
		sum += 100 * (window[period-1].Close - lo) / (hi - lo)
	}
	k := sum / float64(smooth)
	switch {
	case k > 80:
		return voteSell
	case k < 20:
		return voteBuy
	}
	return voteNeutral
}

// cciVote: Commodity Channel Index over typical prices.
// Sell above +100, buy below −100; zero mean deviation votes neutral.
func cciVote(cs []model.Candle, period int) vote {
	if len(cs) < period {
		return voteNeutral
	}
	window := cs[len(cs)-period:]
	tp := make([]float64, period)
	mean := 0.0
	for i, c := range window {
		tp[i] = (c.High + c.Low + c.Close) / 3
		mean += tp[i]
	}
	mean /= float64(period)
	meanDev := 0.0
	for _, v := range tp {
		meanDev += math.Abs(v - mean)
	}
	meanDev /= float64(period)
	if meanDev == 0 {
		return voteNeutral
	}
	cci := (tp[period-1] - mean) / (0.015 * meanDev)
	switch {
	case cci > 100:
		return voteSell
	case cci < -100:
		return voteBuy
	}
	return voteNeutral
}

// williamsVote: Williams %R. Sell above −20, buy below −80.
func williamsVote(cs []model.Candle, period int) vote {
	if len(cs) < period {
		return voteNeutral
	}
	window := cs[len(cs)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	if hi == lo {
		return voteNeutral
	}
	wr := -100 * (hi - window[period-1].Close) / (hi - lo)
	switch {
	case wr > -20:
		return voteSell
	case wr < -80:
		return voteBuy
	}
	return voteNeutral
}

// adxVote: Wilder's ADX with +DI/−DI. Only votes when ADX exceeds 20;
// direction follows whichever DI dominates. Zero ATR votes neutral.
func adxVote(cs []model.Candle, period int) vote {
	n := len(cs)
	if n < 2*period+1 {
		return voteNeutral
	}
	tr := make([]float64, n)
	pdm := make([]float64, n)
	mdm := make([]float64, n)
	for i := 1; i < n; i++ {
		hiDiff := cs[i].High - cs[i-1].High
		loDiff := cs[i-1].Low - cs[i].Low
		if hiDiff > loDiff && hiDiff > 0 {
			pdm[i] = hiDiff
		}
		if loDiff > hiDiff && loDiff > 0 {
			mdm[i] = loDiff
		}
		tr[i] = math.Max(cs[i].High-cs[i].Low,
			math.Max(math.Abs(cs[i].High-cs[i-1].Close), math.Abs(cs[i].Low-cs[i-1].Close)))
	}

	p := float64(period)
	var atr, pSum, mSum float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
		pSum += pdm[i]
		mSum += mdm[i]
	}

	var adx, plusDI, minusDI float64
	dxCount := 0
	for i := period + 1; i < n; i++ {
		atr = atr - atr/p + tr[i]
		pSum = pSum - pSum/p + pdm[i]
		mSum = mSum - mSum/p + mdm[i]
		if atr == 0 {
			return voteNeutral
		}
		plusDI = 100 * pSum / atr
		minusDI = 100 * mSum / atr
		diSum := plusDI + minusDI
		if diSum == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / diSum
		dxCount++
		if dxCount <= period {
			adx = (adx*float64(dxCount-1) + dx) / float64(dxCount)
		} else {
			adx = (adx*(p-1) + dx) / p
		}
	}

	if adx > 20 {
		switch {
		case plusDI > minusDI:
			return voteBuy
		case minusDI > plusDI:
			return voteSell
		}
	}
	return voteNeutral
}

// smaCrossVote: SMA(5) vs SMA(10) cross.
func smaCrossVote(closes []float64) vote {
	const fastP, slowP = 5, 10
	if len(closes) < slowP {
		return voteNeutral
	}
	fast := mean(closes[len(closes)-fastP:])
	slow := mean(closes[len(closes)-slowP:])
	switch {
	case fast > slow:
		return voteBuy
	case fast < slow:
		return voteSell
	}
	return voteNeutral
}

// bollingerVote: position vs Bollinger(10, ±2σ) bands.
// Zero standard deviation (flat window) votes neutral.
func bollingerVote(closes []float64, period int, width float64) vote {
	if len(closes) < period {
		return voteNeutral
	}
	window := closes[len(closes)-period:]
	m := mean(window)
	variance := 0.0
	for _, v := range window {
		d := v - m
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))
	if sigma == 0 {
		return voteNeutral
	}
	price := window[period-1]
	switch {
	case price > m+width*sigma:
		return voteSell
	case price < m-width*sigma:
		return voteBuy
	}
	return voteNeutral
}

// emaCrossVote: EMA(3) vs EMA(8) cross, same polarity as the SMA cross.
func emaCrossVote(closes []float64) vote {
	const fastP, slowP = 3, 8
	if len(closes) < slowP {
		return voteNeutral
	}
	fast := emaSeries(closes, fastP)
	slow := emaSeries(closes, slowP)
	last := len(closes) - 1
	switch {
	case fast[last] > slow[last]:
		return voteBuy
	case fast[last] < slow[last]:
		return voteSell
	}
	return voteNeutral
}

// momentumVote compares the latest 5-bar move with the previous one:
// buy when the upward move is accelerating, sell when the downward move is.
func momentumVote(closes []float64) vote {
	n := len(closes)
	if n < 7 {
		return voteNeutral
	}
	d1 := closes[n-1] - closes[n-6]
	d0 := closes[n-2] - closes[n-7]
	switch {
	case d1 > d0 && d1 > 0:
		return voteBuy
	case d1 < d0 && d1 < 0:
		return voteSell
	}
	return voteNeutral
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
