package model

// InstrumentInfo carries the per-symbol metadata needed to turn an
// account-currency profit target into a price distance.
type InstrumentInfo struct {
	Symbol    string  `json:"symbol"`
	Point     float64 `json:"point"`      // price value of one point, e.g. 0.0001
	TickValue float64 `json:"tick_value"` // account-currency value of one point per 1.0 lot
	LotStep   float64 `json:"lot_step"`   // lot granularity, e.g. 0.01
}
