package domain

import "time"

// PriceTick is an ephemeral market data point for one instrument. Ticks are
// consumed once by the monitoring engine and never persisted. Same-instrument
// ticks are processed in arrival order; ObservedAt is informational only.
type PriceTick struct {
	Instrument Instrument
	Price      float64
	ObservedAt time.Time
}
