package model

import "encoding/json"

// Tick represents the latest quote for a symbol. Only the most recent tick
// per symbol matters for scoring display; ticks are not retained historically.
type Tick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Time   int64   `json:"time"` // epoch seconds
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
