package rules

import (
	"math"
	"testing"
	"testing/quick"
	"time"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
)

var testRisk = config.RiskConfig{
	FTMin:    1.8,
	IPMinBps: 5.0,
	SEMin:    0.1,
	SEMax:    2.0,
}

func passingSnapshot() domain.SignalSnapshot {
	return domain.SignalSnapshot{
		FT:    2.0,
		IPBps: 10,
		SE:    1.0,
		LD:    -1.0,
		PBP:   1.5,
		PSP:   0.5,
	}
}

func TestStrongReactionScenario(t *testing.T) {
	s := passingSnapshot()
	if !StrongReaction(s, testRisk) {
		t.Fatal("reference snapshot must clear the entry gate")
	}
	if got, want := SizeFrom(s), 0.5; got != want {
		t.Fatalf("SizeFrom = %v, want %v", got, want)
	}
}

func TestStrongReactionAnySingleFailureVetoes(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.SignalSnapshot)
	}{
		{"ft below min", func(s *domain.SignalSnapshot) { s.FT = 1.7 }},
		{"ip below min", func(s *domain.SignalSnapshot) { s.IPBps = 4.9 }},
		{"ld positive", func(s *domain.SignalSnapshot) { s.LD = 0.5 }},
		{"pbp equals psp", func(s *domain.SignalSnapshot) { s.PBP = 0.5 }},
		{"pbp below psp", func(s *domain.SignalSnapshot) { s.PBP = 0.4 }},
		{"se below min", func(s *domain.SignalSnapshot) { s.SE = 0.05 }},
		{"se above max", func(s *domain.SignalSnapshot) { s.SE = 2.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := passingSnapshot()
			tc.mutate(&s)
			if StrongReaction(s, testRisk) {
				t.Fatal("single failing predicate must veto entry")
			}
		})
	}
}

func TestStrongReactionBoundaries(t *testing.T) {
	s := passingSnapshot()
	s.FT = testRisk.FTMin
	s.IPBps = testRisk.IPMinBps
	s.LD = 0
	s.SE = testRisk.SEMax
	if !StrongReaction(s, testRisk) {
		t.Fatal("non-strict comparisons must accept exact thresholds")
	}
}

func TestStrongReactionIsConjunction(t *testing.T) {
	// The gate must agree with the explicit AND of its five predicates for
	// arbitrary snapshots.
	f := func(ft, ip, se, ld, pbp, psp float64) bool {
		s := domain.SignalSnapshot{FT: ft, IPBps: ip, SE: se, LD: ld, PBP: math.Abs(pbp), PSP: math.Abs(psp)}
		want := s.FT >= testRisk.FTMin &&
			s.IPBps >= testRisk.IPMinBps &&
			s.LD <= 0 &&
			s.PBP > s.PSP &&
			s.SE >= testRisk.SEMin && s.SE <= testRisk.SEMax
		return StrongReaction(s, testRisk) == want
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestSizeFromClamps(t *testing.T) {
	cases := []struct {
		ft   float64
		want float64
	}{
		{0.5, 0},
		{1.0, 0},
		{2.0, 0.5},
		{3.0, 1.0},
		{10.0, 1.0},
	}
	for _, tc := range cases {
		s := domain.SignalSnapshot{FT: tc.ft}
		if got := SizeFrom(s); got != tc.want {
			t.Fatalf("SizeFrom(FT=%v) = %v, want %v", tc.ft, got, tc.want)
		}
	}
}

func TestSizeFromAlwaysInUnitInterval(t *testing.T) {
	f := func(ft float64) bool {
		size := SizeFrom(domain.SignalSnapshot{FT: ft})
		return size >= 0 && size <= 1
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestExitConditionsDisjunction(t *testing.T) {
	cases := []struct {
		name string
		ofi  float64
		ld   float64
		want bool
	}{
		{"flow reversal alone", -0.1, 0, true},
		{"adverse liquidity alone", 0.2, 0.3, true},
		{"both", -0.5, 0.5, true},
		{"neither", 0.1, -0.1, false},
		{"exact zeros hold", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := domain.SignalSnapshot{OFI: tc.ofi, LD: tc.ld}
			if got := ExitConditions(s); got != tc.want {
				t.Fatalf("ExitConditions(OFI=%v, LD=%v) = %v, want %v", tc.ofi, tc.ld, got, tc.want)
			}
		})
	}
}

func TestExitConditionsProperty(t *testing.T) {
	f := func(ofi, ld float64) bool {
		s := domain.SignalSnapshot{OFI: ofi, LD: ld}
		return ExitConditions(s) == (ofi < 0 || ld > 0)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateExitPrecedence(t *testing.T) {
	risk := config.RiskConfig{
		OFINormThreshold: 0.3,
		TPBps:            25,
		SLBps:            15,
		TimeStopS:        180,
	}
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := &domain.Position{Size: 0.5, EntryPrice: 100, EntryTime: entry}

	cases := []struct {
		name    string
		price   float64
		now     time.Time
		snap    domain.SignalSnapshot
		want    ExitReason
		wantHit bool
	}{
		{"stop loss beats everything", 99.8, entry.Add(time.Hour), domain.SignalSnapshot{OFI: -0.9, LD: 1}, StopLoss, true},
		{"take profit", 100.3, entry.Add(time.Second), domain.SignalSnapshot{OFI: 0.5}, TakeProfit, true},
		{"time stop", 100, entry.Add(200 * time.Second), domain.SignalSnapshot{OFI: 0.5}, TimeStop, true},
		{"ofi breakdown before plain reversal", 100, entry.Add(time.Second), domain.SignalSnapshot{OFI: -0.4}, OFIBreakdown, true},
		{"plain flow reversal", 100, entry.Add(time.Second), domain.SignalSnapshot{OFI: -0.1}, FlowReversal, true},
		{"adverse liquidity", 100, entry.Add(time.Second), domain.SignalSnapshot{OFI: 0.1, LD: 0.5}, AdverseLiquidity, true},
		{"healthy position holds", 100, entry.Add(time.Second), domain.SignalSnapshot{OFI: 0.1, LD: -0.1}, NoExit, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateExit(tc.snap, pos, tc.price, tc.now, risk)
			if got.Exit != tc.wantHit || got.Reason != tc.want {
				t.Fatalf("EvaluateExit = %+v, want exit=%v reason=%s", got, tc.wantHit, tc.want)
			}
		})
	}
}

func TestEvaluateExitZeroThresholdsDisableExtendedRules(t *testing.T) {
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := &domain.Position{Size: 0.5, EntryPrice: 100, EntryTime: entry}

	// A huge loss held for hours still does not exit when TP/SL/time-stop
	// are unset and the flow stays clean.
	got := EvaluateExit(domain.SignalSnapshot{OFI: 0.2, LD: -0.1}, pos, 50, entry.Add(6*time.Hour), config.RiskConfig{})
	if got.Exit {
		t.Fatalf("disabled rules must not fire: %+v", got)
	}
}

func TestEvaluateExitNilPosition(t *testing.T) {
	got := EvaluateExit(domain.SignalSnapshot{OFI: -1}, nil, 100, time.Now(), config.RiskConfig{})
	if got.Exit {
		t.Fatal("no position, no exit")
	}
}

func TestExitReasonStrings(t *testing.T) {
	if StopLoss.String() != "stop_loss" || NoExit.String() != "no_exit" {
		t.Fatal("reason strings drifted")
	}
	if ExitReason(99).String() != "unknown" {
		t.Fatal("unknown reason must stringify as unknown")
	}
}
