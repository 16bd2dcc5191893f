package domain

import "time"

// Signal is an entry request emitted by an external signal generator. It
// arrives over the signal bus as JSON and is the unit of work for the risk
// and execution engines.
type Signal struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	AssetClass    AssetClass `json:"asset_class"`
	Side          OrderSide  `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	SuggestedStop float64    `json:"suggested_stop"`
	TakeProfit    float64    `json:"take_profit"`
	Strategy      string     `json:"strategy"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// StopDistance returns the absolute distance between entry and stop.
func (s Signal) StopDistance() float64 {
	d := s.EntryPrice - s.SuggestedStop
	if d < 0 {
		return -d
	}
	return d
}

// Expired reports whether the signal is past its expiry at the given time.
// Signals with a zero ExpiresAt never expire.
func (s Signal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
