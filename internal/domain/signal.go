package domain

import "time"

// SignalSnapshot is one immutable observation of market microstructure.
// A provider produces it atomically once per iteration; the scoring and
// exit checks of that iteration share it read-only. Never mutate one after
// creation.
type SignalSnapshot struct {
	FT     float64 // follow-through ratio, >= 0
	IPBps  float64 // impact persistence, bps
	SE     float64 // slippage elasticity, bps per $100 notional
	OFI    float64 // order-flow imbalance, signed, roughly [-1, 1]
	LD     float64 // liquidity delta; negative drains toward us, positive is adverse (LP add)
	DevBps float64 // spot vs TWAP deviation, bps
	PBP    float64 // pending buy pressure, >= 0
	PSP    float64 // pending sell pressure, >= 0

	Timestamp time.Time
}
