// Package risk implements the global kill conditions that gate probing,
// entries and trading as a whole. A tripped breaker is not an error state:
// it is a first-class, observable mode that only an explicit Resume clears.
package risk

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// ErrTradingHalted is returned by the Allow* fast paths once a breaker has
// tripped (or the kill switch is engaged).
var ErrTradingHalted = fmt.Errorf("trading halted by risk breaker")

// ErrGasBudgetExhausted is returned when the daily gas budget is spent.
// Probing and new entries stop; managing an open position may continue.
var ErrGasBudgetExhausted = fmt.Errorf("daily gas budget exhausted")

// Reason labels why trading is off.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonLPDrain   Reason = "LP_DRAIN"
	ReasonDailyLoss Reason = "DAILY_LOSS"
	ReasonManual    Reason = "MANUAL"
)

// Config holds the trip levels. Thresholds <= 0 disable the corresponding
// breaker.
type Config struct {
	LDDrainExitPct    float64 // drained LP percent over the last 2 observed blocks
	DailyGasBudgetUSD float64
	DailyLossCapUSD   float64
}

// Breakers is the per-bot breaker set. The hot path (Allow*) runs on atomics;
// daily counters roll over by YYYYMMDD key the way the trading day does.
type Breakers struct {
	cfg Config

	halted atomic.Bool
	reason atomic.Value // Reason

	dailyGasCents atomic.Int64 // USD cents spent on gas today
	dailyPnlCents atomic.Int64 // realized USD cents today
	dayKey        atomic.Int64 // YYYYMMDD

	now func() time.Time // test hook
}

func New(cfg Config) *Breakers {
	b := &Breakers{cfg: cfg, now: time.Now}
	b.reason.Store(ReasonNone)
	return b
}

// Status is an observable snapshot for the control surfaces.
type Status struct {
	Halted       bool    `json:"halted"`
	Reason       Reason  `json:"reason,omitempty"`
	DailyGasUSD  float64 `json:"daily_gas_usd"`
	DailyPnLUSD  float64 `json:"daily_pnl_usd"`
	GasExhausted bool    `json:"gas_exhausted"`
}

func (b *Breakers) Status() Status {
	b.rollDayIfNeeded()
	return Status{
		Halted:       b.halted.Load(),
		Reason:       b.currentReason(),
		DailyGasUSD:  float64(b.dailyGasCents.Load()) / 100,
		DailyPnLUSD:  float64(b.dailyPnlCents.Load()) / 100,
		GasExhausted: b.gasExhausted(),
	}
}

// AllowProbe gates the IDLE→PING transition. Evaluated every iteration
// before any signal work happens.
func (b *Breakers) AllowProbe() error {
	if b.halted.Load() {
		return fmt.Errorf("%w: %s", ErrTradingHalted, b.currentReason())
	}
	if b.gasExhausted() {
		return ErrGasBudgetExhausted
	}
	return nil
}

// AllowEntry gates opening a new position. Same conditions as AllowProbe;
// kept separate so call sites name the action they gate.
func (b *Breakers) AllowEntry() error {
	return b.AllowProbe()
}

// AllowManage gates managing an existing position. Gas exhaustion does NOT
// block management; an open position must still be exitable.
func (b *Breakers) AllowManage() error {
	if b.halted.Load() {
		return fmt.Errorf("%w: %s", ErrTradingHalted, b.currentReason())
	}
	return nil
}

// ObserveDrain feeds the LP-drain breaker with the drained percentage over
// the last two observation blocks. Returns true when this observation trips
// the breaker, which must also force an exit of any open position.
func (b *Breakers) ObserveDrain(drainPct float64) bool {
	if b.cfg.LDDrainExitPct <= 0 {
		return false
	}
	if drainPct >= b.cfg.LDDrainExitPct {
		return b.trip(ReasonLPDrain)
	}
	return false
}

// AddGasSpendUSD accrues today's gas spend.
func (b *Breakers) AddGasSpendUSD(usd float64) {
	b.rollDayIfNeeded()
	// Round rather than truncate; per-trade gas spends are routinely a
	// fraction of a cent and must still accrue toward the budget.
	b.dailyGasCents.Add(int64(math.Round(usd * 100)))
}

// AddRealizedPnLUSD accrues today's realized PnL. Negative is a loss.
// Trips the daily loss breaker at the cap; the trip sticks until Resume.
func (b *Breakers) AddRealizedPnLUSD(usd float64) {
	b.rollDayIfNeeded()
	total := b.dailyPnlCents.Add(int64(math.Round(usd * 100)))
	if b.cfg.DailyLossCapUSD > 0 && float64(total)/100 <= -b.cfg.DailyLossCapUSD {
		b.trip(ReasonDailyLoss)
	}
}

// Halt engages the kill switch.
func (b *Breakers) Halt() {
	b.trip(ReasonManual)
}

// RestoreHalt re-engages a halt persisted from a previous run, keeping its
// original reason.
func (b *Breakers) RestoreHalt(reason Reason) {
	if reason == ReasonNone {
		return
	}
	b.trip(reason)
}

// Resume clears any tripped breaker. This is the only way out of a halt;
// repeated iterations while tripped keep short-circuiting to IDLE.
func (b *Breakers) Resume() {
	b.halted.Store(false)
	b.reason.Store(ReasonNone)
}

func (b *Breakers) trip(reason Reason) bool {
	if b.halted.CompareAndSwap(false, true) {
		b.reason.Store(reason)
		return true
	}
	return false
}

func (b *Breakers) currentReason() Reason {
	if r, ok := b.reason.Load().(Reason); ok {
		return r
	}
	return ReasonNone
}

func (b *Breakers) gasExhausted() bool {
	if b.cfg.DailyGasBudgetUSD <= 0 {
		return false
	}
	b.rollDayIfNeeded()
	return float64(b.dailyGasCents.Load())/100 >= b.cfg.DailyGasBudgetUSD
}

func (b *Breakers) rollDayIfNeeded() {
	now := b.now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := b.dayKey.Load()
	if prev == key {
		return
	}
	// Whoever wins the swap resets the daily counters.
	if b.dayKey.CompareAndSwap(prev, key) {
		b.dailyGasCents.Store(0)
		b.dailyPnlCents.Store(0)
	}
}
