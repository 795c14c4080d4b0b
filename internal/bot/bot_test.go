package bot

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/internal/risk"
	"github.com/Poom5741/tok-tradingbot/internal/signal"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
	"github.com/Poom5741/tok-tradingbot/pkg/persistence"
)

var testRisk = config.RiskConfig{
	FTMin:    1.8,
	IPMinBps: 5.0,
	SEMin:    0.1,
	SEMax:    2.0,
}

func strongSnap() domain.SignalSnapshot {
	return domain.SignalSnapshot{FT: 2.0, IPBps: 10, SE: 1.0, LD: -0.01, PBP: 1.5, PSP: 0.5, OFI: 0.5}
}

func weakSnap() domain.SignalSnapshot {
	return domain.SignalSnapshot{FT: 1.0, IPBps: 1, SE: 1.0, LD: 0.1, PBP: 0.2, PSP: 0.5, OFI: 0.1}
}

func reversalSnap() domain.SignalSnapshot {
	s := strongSnap()
	s.OFI = -0.1
	return s
}

type memSink struct {
	events []decimal.Decimal
}

func (m *memSink) Append(_ context.Context, d decimal.Decimal) error {
	m.events = append(m.events, d)
	return nil
}

func newTestBot(t *testing.T, provider signal.Provider, opts ...func(*Deps)) *Bot {
	t.Helper()
	d := Deps{Provider: provider, Risk: testRisk}
	for _, opt := range opts {
		opt(&d)
	}
	b, err := New(d)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func states(outs []domain.BotOutcome) []domain.BotState {
	var s []domain.BotState
	for _, o := range outs {
		s = append(s, o.State)
	}
	return s
}

func equalStates(got, want []domain.BotState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEntryIterationEmitsFullTransitionSequence(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(strongSnap()))

	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.BotState{domain.StatePing, domain.StateScore, domain.StateEnter, domain.StateManage}
	if !equalStates(states(outs), want) {
		t.Fatalf("states = %v, want %v", states(outs), want)
	}

	st := b.Status()
	if st.Position == nil {
		t.Fatal("position must be open after ENTER")
	}
	if st.Position.Size != 0.5 {
		t.Fatalf("size = %v, want 0.5 for FT=2.0", st.Position.Size)
	}
}

func TestRecentOutcomesBuffer(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(weakSnap(), weakSnap()))

	if _, err := b.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	recent := b.RecentOutcomes()
	if len(recent) != 6 {
		t.Fatalf("recent = %d outcomes, want 6 over two idle iterations", len(recent))
	}
	if recent[0].State != domain.StatePing || recent[len(recent)-1].State != domain.StateIdle {
		t.Fatalf("recent = %v", states(recent))
	}
}

func TestWeakSnapshotRoutesToIdle(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(weakSnap()))

	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.BotState{domain.StatePing, domain.StateScore, domain.StateIdle}
	if !equalStates(states(outs), want) {
		t.Fatalf("states = %v, want %v", states(outs), want)
	}
	if b.Status().Position != nil {
		t.Fatal("no position may open on a weak snapshot")
	}
}

func TestAtMostOnePosition(t *testing.T) {
	// Three strong snapshots in a row: one entry, then manage-only.
	b := newTestBot(t, signal.NewScripted(strongSnap(), strongSnap(), strongSnap()))

	outs, err := b.Run(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	enters := 0
	for _, o := range outs {
		if o.State == domain.StateEnter {
			enters++
		}
	}
	if enters != 1 {
		t.Fatalf("ENTER reached %d times, want exactly 1", enters)
	}
	if b.Status().Position == nil {
		t.Fatal("position must still be open")
	}
}

func TestFlowReversalExitsAndClearsLedger(t *testing.T) {
	sink := &memSink{}
	b := newTestBot(t, signal.NewScripted(strongSnap(), reversalSnap()), func(d *Deps) {
		d.Ledger = sink
	})

	outs, err := b.Run(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	last := outs[len(outs)-1]
	if last.State != domain.StateExit || !last.Exited {
		t.Fatalf("last outcome = %+v, want EXIT with exit flag", last)
	}
	if b.Status().Position != nil {
		t.Fatal("ledger must be empty after EXIT")
	}
	if len(sink.events) != 1 {
		t.Fatalf("pnl events = %d, want 1", len(sink.events))
	}
}

func TestSameIterationEntryAndExit(t *testing.T) {
	// Strong entry whose snapshot already shows flow reversal: the exit
	// check reuses the same snapshot, so the position opens and closes in
	// one iteration.
	s := strongSnap()
	s.OFI = -0.05
	b := newTestBot(t, signal.NewScripted(s))

	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.BotState{domain.StatePing, domain.StateScore, domain.StateEnter, domain.StateManage, domain.StateExit}
	if !equalStates(states(outs), want) {
		t.Fatalf("states = %v, want %v", states(outs), want)
	}
	if b.Status().Position != nil {
		t.Fatal("position must be closed again")
	}
}

func TestBreakerTripShortCircuitsUntilResume(t *testing.T) {
	breakers := risk.New(risk.Config{})
	b := newTestBot(t, signal.NewScripted(strongSnap(), strongSnap()), func(d *Deps) {
		d.Breakers = breakers
	})
	breakers.Halt()

	outs, err := b.Run(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.BotState{domain.StateIdle, domain.StateIdle, domain.StateIdle}
	if !equalStates(states(outs), want) {
		t.Fatalf("states = %v, want idle short-circuits", states(outs))
	}

	b.Resume()
	outs, err = b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if outs[len(outs)-1].State != domain.StateManage {
		t.Fatalf("after resume, states = %v, want a full entry", states(outs))
	}
}

func TestGasBudgetExhaustionManagesButBlocksEntries(t *testing.T) {
	breakers := risk.New(risk.Config{DailyGasBudgetUSD: 1})
	b := newTestBot(t, signal.NewScripted(strongSnap(), reversalSnap()), func(d *Deps) {
		d.Breakers = breakers
	})

	if _, err := b.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if b.Status().Position == nil {
		t.Fatal("expected an open position before the budget runs out")
	}
	breakers.AddGasSpendUSD(2)

	// Managing the open position survives the exhausted budget; the
	// reversal snapshot closes it.
	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	last := outs[len(outs)-1]
	if last.State != domain.StateExit || !last.Exited {
		t.Fatalf("last outcome = %+v, want EXIT despite the spent budget", last)
	}

	// With nothing left open, the spent budget short-circuits to IDLE
	// without probing.
	outs, err = b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStates(states(outs), []domain.BotState{domain.StateIdle}) {
		t.Fatalf("states = %v, want IDLE while the budget is spent", states(outs))
	}
}

func TestLPDrainForcesExit(t *testing.T) {
	riskCfg := testRisk
	riskCfg.LDDrainExitPct = 30
	drained := strongSnap()
	drained.LD = -0.5 // 50% drain over the last two observations

	b := newTestBot(t, signal.NewScripted(strongSnap(), drained), func(d *Deps) {
		d.Risk = riskCfg
	})

	outs, err := b.Run(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	last := outs[len(outs)-1]
	if last.State != domain.StateExit || !last.Exited {
		t.Fatalf("last outcome = %+v, want forced EXIT", last)
	}
	if b.Status().Position != nil {
		t.Fatal("drain trip must close the position")
	}
	if got := b.Status().Breakers.Reason; got != risk.ReasonLPDrain {
		t.Fatalf("breaker reason = %q, want LP_DRAIN", got)
	}
}

func TestFailingGateRoutesToIdle(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(strongSnap()), func(d *Deps) {
		d.Gates = Gates{QuietMarket: func(context.Context) bool { return false }}
	})

	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStates(states(outs), []domain.BotState{domain.StateIdle}) {
		t.Fatalf("states = %v, want a single IDLE", states(outs))
	}
}

func TestProbeFailureAbortsRun(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(strongSnap()))

	outs, err := b.Run(context.Background(), 5)
	if err == nil {
		t.Fatal("exhausted provider must abort the run")
	}
	// The first iteration's outcomes are still returned in order.
	if len(outs) == 0 || outs[0].State != domain.StatePing {
		t.Fatalf("outcomes before the failure lost: %v", states(outs))
	}
	if b.Status().Position == nil {
		t.Fatal("abort must not corrupt the open position")
	}
}

func TestKillHaltsAndForceExits(t *testing.T) {
	b := newTestBot(t, signal.NewScripted(strongSnap(), strongSnap()))

	if _, err := b.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	b.Kill(context.Background())

	st := b.Status()
	if st.Position != nil {
		t.Fatal("kill must close the open position")
	}
	if !st.Breakers.Halted || st.Breakers.Reason != risk.ReasonManual {
		t.Fatalf("breakers = %+v, want manual halt", st.Breakers)
	}
}

func TestPositionPersistsAcrossInstances(t *testing.T) {
	store := persistence.NewJSONFileService(t.TempDir()).NewStore("tokbot", "test", "position")

	b := newTestBot(t, signal.NewScripted(strongSnap()), func(d *Deps) {
		d.Store = store
	})
	if _, err := b.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	open := b.Status().Position
	if open == nil {
		t.Fatal("expected an open position")
	}

	// A fresh instance restores the position from disk.
	b2 := newTestBot(t, signal.NewScripted(), func(d *Deps) {
		d.Store = store
	})
	restored := b2.Status().Position
	if restored == nil || restored.ID != open.ID {
		t.Fatalf("restored = %+v, want position %s", restored, open.ID)
	}
}

func TestHaltPersistsAcrossInstances(t *testing.T) {
	store := persistence.NewJSONFileService(t.TempDir()).NewStore("tokbot", "test", "position")

	b := newTestBot(t, signal.NewScripted(), func(d *Deps) {
		d.Store = store
	})
	b.Kill(context.Background())

	// A fresh instance comes up halted with the same reason.
	b2 := newTestBot(t, signal.NewScripted(), func(d *Deps) {
		d.Store = store
	})
	st := b2.Status().Breakers
	if !st.Halted || st.Reason != risk.ReasonManual {
		t.Fatalf("breakers = %+v, want restored manual halt", st)
	}

	// Resume clears it durably too.
	b2.Resume()
	b3 := newTestBot(t, signal.NewScripted(), func(d *Deps) {
		d.Store = store
	})
	if b3.Status().Breakers.Halted {
		t.Fatal("resume must clear the persisted halt")
	}
}

func TestDefaultGatesQuietMarket(t *testing.T) {
	quiet := signal.NewScripted(strongSnap())
	quiet.Activity = 2
	b := newTestBot(t, quiet, func(d *Deps) {
		d.Gates = DefaultGates(quiet, 5)
	})

	outs, err := b.Run(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !equalStates(states(outs), []domain.BotState{domain.StateIdle}) {
		t.Fatalf("states = %v, want IDLE for a too-quiet market", states(outs))
	}
}
