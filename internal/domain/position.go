package domain

import "time"

// Position is one open exposure. The bot owns at most one at a time; it is
// created on ENTER and destroyed on EXIT.
type Position struct {
	ID         string    `json:"id"`
	Size       float64   `json:"size"` // fraction of max allocation, [0, 1]
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

// MarkoutBps returns the signed price move since entry in basis points.
// Used by the take-profit / stop-loss exit checks.
func (p *Position) MarkoutBps(currentPrice float64) float64 {
	if p == nil || p.EntryPrice <= 0 {
		return 0
	}
	return (currentPrice - p.EntryPrice) / p.EntryPrice * 10000
}

// ElapsedSince returns the holding time at now.
func (p *Position) ElapsedSince(now time.Time) time.Duration {
	if p == nil {
		return 0
	}
	return now.Sub(p.EntryTime)
}
