// Package bot drives the trading lifecycle: one decision loop per bot
// instance, stepping IDLE→PING→SCORE→ENTER→MANAGE→EXIT once per iteration
// and emitting an ordered outcome record for every transition taken.
package bot

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/internal/execution"
	"github.com/Poom5741/tok-tradingbot/internal/metrics"
	"github.com/Poom5741/tok-tradingbot/internal/risk"
	"github.com/Poom5741/tok-tradingbot/internal/rules"
	"github.com/Poom5741/tok-tradingbot/internal/signal"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
	"github.com/Poom5741/tok-tradingbot/pkg/persistence"
)

// Gate is a pluggable health check. A failing gate routes the iteration to
// IDLE; it never aborts the run.
type Gate func(ctx context.Context) bool

// Gates are the pre-probe liveness checks evaluated each iteration.
type Gates struct {
	Ready       Gate
	GasOK       Gate
	QuietMarket Gate
}

func passGate(context.Context) bool { return true }

// DefaultGates passes everything except the quiet-market check, which
// consults the provider's recent activity when it can report any.
func DefaultGates(provider signal.Provider, minSwapsPer10m int) Gates {
	quiet := passGate
	if reporter, ok := provider.(signal.ActivityReporter); ok && minSwapsPer10m > 0 {
		quiet = func(context.Context) bool {
			return reporter.SwapsLast10m() >= minSwapsPer10m
		}
	}
	return Gates{Ready: passGate, GasOK: passGate, QuietMarket: quiet}
}

// PnLSink receives realized PnL events. *pnl.Ledger satisfies it.
type PnLSink interface {
	Append(ctx context.Context, realizedUSD decimal.Decimal) error
}

const (
	swapGasEstimate    = 200_000
	defaultNotionalUSD = 1000
	recentOutcomeCap   = 200
)

type positionRecord struct {
	Position   *domain.Position `json:"position"`
	Halted     bool             `json:"halted,omitempty"`
	HaltReason risk.Reason      `json:"halt_reason,omitempty"`
}

// Deps wires a bot instance. Engine, Ledger and Store may be nil: a nil
// engine means paper execution, a nil ledger drops PnL events, a nil store
// skips position persistence.
type Deps struct {
	Provider signal.Provider
	Breakers *risk.Breakers
	Engine   *execution.Engine
	Ledger   PnLSink
	Store    persistence.Store
	Gates    Gates

	Risk config.RiskConfig
	Exec config.ExecutionConfig

	// NotionalUSD scales a full-size position into dollars for paper PnL.
	NotionalUSD float64
	// NativeUSDPrice prices gas spend for the daily budget breaker. Zero
	// disables gas accounting.
	NativeUSDPrice float64
	// DryRun keeps a wired engine silent: guards run, nothing submits.
	DryRun bool
}

// Bot is one trading instance. All mutable state (current position, the
// outcome sequence of the running call, breaker counters) sits behind one
// mutex, so overlapping triggers (chat command plus scheduler) serialize
// instead of interleaving iterations.
type Bot struct {
	mu sync.Mutex

	provider signal.Provider
	breakers *risk.Breakers
	engine   *execution.Engine
	ledger   PnLSink
	store    persistence.Store
	gates    Gates

	risk config.RiskConfig
	exec config.ExecutionConfig

	notionalUSD    float64
	nativeUSDPrice float64
	dryRun         bool
	tradeBase      *big.Int

	position *domain.Position
	recent   []domain.BotOutcome

	// PriceFn prices the pair for entries and markouts. The default paper
	// model reads the snapshot's TWAP deviation around 1.0.
	PriceFn func(domain.SignalSnapshot) float64

	now func() time.Time
	log *logrus.Entry
}

// New builds a bot and restores any persisted open position.
func New(d Deps) (*Bot, error) {
	if d.Provider == nil {
		return nil, errors.New("bot needs a signal provider")
	}
	if d.Breakers == nil {
		d.Breakers = risk.New(risk.Config{
			LDDrainExitPct:    d.Risk.LDDrainExitPct,
			DailyGasBudgetUSD: d.Risk.DailyGasBudgetUSD,
			DailyLossCapUSD:   d.Risk.DailyLossCapUSD,
		})
	}
	if d.Gates.Ready == nil {
		d.Gates.Ready = passGate
	}
	if d.Gates.GasOK == nil {
		d.Gates.GasOK = passGate
	}
	if d.Gates.QuietMarket == nil {
		d.Gates.QuietMarket = passGate
	}
	if d.NotionalUSD <= 0 {
		d.NotionalUSD = defaultNotionalUSD
	}

	tradeBase := big.NewInt(0)
	if d.Exec.TradeAmountInWei != "" {
		if _, ok := tradeBase.SetString(d.Exec.TradeAmountInWei, 10); !ok {
			return nil, errors.Errorf("invalid trade amount %q", d.Exec.TradeAmountInWei)
		}
	}

	b := &Bot{
		provider:       d.Provider,
		breakers:       d.Breakers,
		engine:         d.Engine,
		ledger:         d.Ledger,
		store:          d.Store,
		gates:          d.Gates,
		risk:           d.Risk,
		exec:           d.Exec,
		notionalUSD:    d.NotionalUSD,
		nativeUSDPrice: d.NativeUSDPrice,
		dryRun:         d.DryRun,
		tradeBase:      tradeBase,
		now:            time.Now,
		log:            logrus.WithField("module", "bot"),
	}
	b.PriceFn = func(s domain.SignalSnapshot) float64 { return 1 + s.DevBps/10000 }

	if b.store != nil {
		var rec positionRecord
		if err := b.store.Load(&rec); err == nil {
			if rec.Position != nil {
				b.position = rec.Position
				b.log.WithField("position", rec.Position.ID).Info("restored open position")
			}
			if rec.Halted {
				reason := rec.HaltReason
				if reason == risk.ReasonNone {
					reason = risk.ReasonManual
				}
				b.breakers.RestoreHalt(reason)
				b.log.WithField("reason", string(reason)).Warn("restored halted state")
			}
		}
	}
	return b, nil
}

// Run executes loops decision iterations and returns every outcome in
// transition order. The whole call holds the instance mutex: concurrent
// callers queue, they never interleave iterations.
func (b *Bot) Run(ctx context.Context, loops int) ([]domain.BotOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var all []domain.BotOutcome
	for i := 0; i < loops; i++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		outs, err := b.iterate(ctx)
		all = append(all, outs...)
		b.recent = append(b.recent, outs...)
		if n := len(b.recent) - recentOutcomeCap; n > 0 {
			b.recent = b.recent[n:]
		}
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

// RecentOutcomes returns a copy of the newest outcomes, oldest first.
func (b *Bot) RecentOutcomes() []domain.BotOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BotOutcome, len(b.recent))
	copy(out, b.recent)
	return out
}

// iterate runs one full lifecycle pass. A collaborator failure aborts the
// run; guard refusals and breaker trips only shorten the iteration.
func (b *Bot) iterate(ctx context.Context) ([]domain.BotOutcome, error) {
	metrics.Iterations.Add(1)
	now := b.now()
	var outs []domain.BotOutcome
	emit := func(state domain.BotState, snap *domain.SignalSnapshot, exited bool) {
		outs = append(outs, domain.BotOutcome{
			State:    state,
			Signal:   snap,
			Position: b.position,
			Exited:   exited,
			At:       now,
		})
	}

	if err := b.breakers.AllowProbe(); err != nil {
		// Budget exhaustion stops probing for entries, not managing what
		// is already open.
		manageable := errors.Is(err, risk.ErrGasBudgetExhausted) &&
			b.position != nil && b.breakers.AllowManage() == nil
		if !manageable {
			if b.position != nil && b.breakers.Status().Reason == risk.ReasonLPDrain {
				b.forceExitLocked(ctx, now)
			}
			emit(domain.StateIdle, nil, false)
			return outs, nil
		}
	}

	if !(b.gates.Ready(ctx) && b.gates.GasOK(ctx) && b.gates.QuietMarket(ctx)) {
		emit(domain.StateIdle, nil, false)
		return outs, nil
	}

	snap, err := b.provider.Probe(ctx)
	if err != nil {
		metrics.ProbeErrors.Add(1)
		return outs, errors.Wrap(err, "signal probe")
	}
	emit(domain.StatePing, &snap, false)

	if snap.LD < 0 && b.breakers.ObserveDrain(-snap.LD*100) {
		metrics.BreakerTrips.Add(1)
		b.persistPosition()
		b.log.WithField("ld", snap.LD).Warn("liquidity drain tripped the breaker")
		if b.position != nil && b.closePosition(ctx, snap, now, rules.AdverseLiquidity) {
			emit(domain.StateExit, &snap, true)
		} else {
			emit(domain.StateIdle, &snap, false)
		}
		return outs, nil
	}

	emit(domain.StateScore, &snap, false)

	if b.position == nil {
		if b.breakers.AllowEntry() != nil || !rules.StrongReaction(snap, b.risk) {
			emit(domain.StateIdle, &snap, false)
			return outs, nil
		}
		if !b.openPosition(ctx, snap, now) {
			emit(domain.StateIdle, &snap, false)
			return outs, nil
		}
		emit(domain.StateEnter, &snap, false)
	}
	emit(domain.StateManage, &snap, false)

	// The exit check reuses this iteration's snapshot; there is exactly
	// one probe per iteration, shared by entry and exit evaluation.
	dec := rules.EvaluateExit(snap, b.position, b.PriceFn(snap), now, b.risk)
	if dec.Exit && b.closePosition(ctx, snap, now, dec.Reason) {
		emit(domain.StateExit, &snap, true)
	}
	return outs, nil
}

// openPosition submits the entry (live) and records the new position. A
// guard refusal cancels the entry and leaves all state untouched.
func (b *Bot) openPosition(ctx context.Context, snap domain.SignalSnapshot, now time.Time) bool {
	size := rules.SizeFrom(snap)
	if size <= 0 {
		return false
	}
	price := b.PriceFn(snap)

	if b.engine != nil && !b.dryRun {
		res := b.engine.Swap(ctx, execution.Buy, b.amountFor(size))
		if !res.OK {
			b.log.WithField("reason", string(res.Reason)).Warn("entry refused")
			return false
		}
		b.accountGas()
	}

	b.position = &domain.Position{
		ID:         uuid.NewString(),
		Size:       size,
		EntryPrice: price,
		EntryTime:  now,
	}
	b.persistPosition()
	metrics.Entries.Add(1)
	b.log.WithFields(logrus.Fields{"size": size, "price": price}).Info("position opened")
	return true
}

// closePosition submits the exit (live), books realized PnL and clears the
// ledger slot. A failed live submission keeps the position exactly as it
// was; the next iteration retries the exit.
func (b *Bot) closePosition(ctx context.Context, snap domain.SignalSnapshot, now time.Time, reason rules.ExitReason) bool {
	if b.position == nil {
		return false
	}
	price := b.PriceFn(snap)

	if b.engine != nil && !b.dryRun {
		res := b.engine.Swap(ctx, execution.Sell, b.amountFor(b.position.Size))
		if !res.OK {
			b.log.WithFields(logrus.Fields{
				"reason": string(res.Reason),
				"exit":   reason.String(),
			}).Warn("exit submission refused, position stays open")
			return false
		}
		b.accountGas()
	}

	realized := b.position.MarkoutBps(price) / 10000 * b.position.Size * b.notionalUSD
	b.breakers.AddRealizedPnLUSD(realized)
	if b.ledger != nil {
		if err := b.ledger.Append(ctx, decimal.NewFromFloat(realized)); err != nil {
			b.log.WithError(err).Error("pnl append failed")
		}
	}

	b.log.WithFields(logrus.Fields{
		"reason":       reason.String(),
		"realized_usd": realized,
		"held":         now.Sub(b.position.EntryTime).String(),
	}).Info("position closed")

	b.position = nil
	b.persistPosition()
	metrics.Exits.Add(1)
	return true
}

// forceExitLocked closes any open position because a breaker demands it,
// bypassing the exit rule evaluation.
func (b *Bot) forceExitLocked(ctx context.Context, now time.Time) {
	if b.position == nil {
		return
	}
	snap := domain.SignalSnapshot{Timestamp: now}
	if !b.closePosition(ctx, snap, now, rules.AdverseLiquidity) {
		b.log.Error("forced exit could not close the position")
	}
}

// ForceExit closes any open position immediately, for the kill switch.
func (b *Bot) ForceExit(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forceExitLocked(ctx, b.now())
}

// Kill halts trading and force-exits the open position.
func (b *Bot) Kill(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakers.Halt()
	b.forceExitLocked(ctx, b.now())
	b.persistPosition()
}

// Resume clears a tripped breaker or kill switch.
func (b *Bot) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakers.Resume()
	b.persistPosition()
}

// Status is the observable instance state for chat and HTTP surfaces.
type Status struct {
	Position    *domain.Position `json:"position,omitempty"`
	Breakers    risk.Status      `json:"breakers"`
	LastTradeAt time.Time        `json:"last_trade_at,omitempty"`
}

func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Position: b.position,
		Breakers: b.breakers.Status(),
	}
	if b.engine != nil {
		st.LastTradeAt = b.engine.LastTradeAt()
	}
	return st
}

func (b *Bot) amountFor(size float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetFloat64(size), new(big.Float).SetInt(b.tradeBase))
	amount, _ := scaled.Int(nil)
	return amount
}

// accountGas feeds the daily gas budget with a flat per-trade estimate.
func (b *Bot) accountGas() {
	if b.nativeUSDPrice <= 0 {
		return
	}
	gasUSD := b.exec.GasPriceGwei * 1e-9 * swapGasEstimate * b.nativeUSDPrice
	b.breakers.AddGasSpendUSD(gasUSD)
}

func (b *Bot) persistPosition() {
	if b.store == nil {
		return
	}
	st := b.breakers.Status()
	rec := positionRecord{
		Position:   b.position,
		Halted:     st.Halted,
		HaltReason: st.Reason,
	}
	if err := b.store.Save(rec); err != nil {
		b.log.WithError(err).Error("position persist failed")
	}
}
