package model

import "encoding/json"

// CompositeScore summarizes the directional bias of one symbol.
// Buy+Sell+Neutral always sum to 100 and Score lies in [5,95].
type CompositeScore struct {
	Buy     int     `json:"buy"`
	Sell    int     `json:"sell"`
	Neutral int     `json:"neutral"`
	Score   float64 `json:"score"`
}

// JSON returns the JSON-encoded score (ignoring errors for hot-path usage).
func (s *CompositeScore) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// BridgePayload is the wire format the ingestion bridge POSTs to the
// decision server at /bridge/{symbol} once per cycle per symbol.
type BridgePayload struct {
	Symbol    string   `json:"symbol"`
	Candles   []Candle `json:"candles"`
	Tick      Tick     `json:"tick"`
	Timestamp int64    `json:"timestamp"` // epoch seconds at send time
}
