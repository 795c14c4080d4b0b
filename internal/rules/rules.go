// Package rules holds the pure decision functions of the bot: the entry
// gate, position sizing, and exit evaluation. Everything here is a total
// function over a well-formed snapshot; nothing blocks or fails.
package rules

import (
	"time"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
	"github.com/Poom5741/tok-tradingbot/pkg/config"
)

// StrongReaction reports whether a snapshot clears the entry gate.
//
// The gate is a strict conjunction: any single failing predicate vetoes the
// entry. Comparisons are non-strict except PBP > PSP. Do not loosen this
// into a score: the asymmetry against the disjunctive exit is intentional.
func StrongReaction(s domain.SignalSnapshot, r config.RiskConfig) bool {
	return s.FT >= r.FTMin &&
		s.IPBps >= r.IPMinBps &&
		s.LD <= 0 &&
		s.PBP > s.PSP &&
		s.SE >= r.SEMin && s.SE <= r.SEMax
}

// SizeFrom maps follow-through strength to a position size in [0, 1]:
// min(1.0, (FT-1.0)*0.5), clamped at zero for FT below 1 even though the
// entry gate normally keeps such snapshots out.
func SizeFrom(s domain.SignalSnapshot) float64 {
	size := (s.FT - 1.0) * 0.5
	if size < 0 {
		return 0
	}
	if size > 1 {
		return 1
	}
	return size
}

// ExitConditions is the primary flow-based exit check: order flow reversing
// against the position (OFI < 0) or liquidity being added adversely
// (LD > 0). Either alone forces the exit.
func ExitConditions(s domain.SignalSnapshot) bool {
	return s.OFI < 0 || s.LD > 0
}

// ExitReason identifies which rule forced an exit, in precedence order.
type ExitReason int

const (
	NoExit ExitReason = iota
	StopLoss
	TakeProfit
	TimeStop
	OFIBreakdown // OFI <= -ofi_norm_threshold
	FlowReversal // OFI < 0
	AdverseLiquidity
)

func (r ExitReason) String() string {
	switch r {
	case NoExit:
		return "no_exit"
	case StopLoss:
		return "stop_loss"
	case TakeProfit:
		return "take_profit"
	case TimeStop:
		return "time_stop"
	case OFIBreakdown:
		return "ofi_breakdown"
	case FlowReversal:
		return "flow_reversal"
	case AdverseLiquidity:
		return "adverse_liquidity"
	default:
		return "unknown"
	}
}

// ExitDecision is the outcome of the full exit evaluation.
type ExitDecision struct {
	Exit   bool
	Reason ExitReason
}

// EvaluateExit runs the complete exit policy for an open position: the
// primary flow checks plus the markout take-profit/stop-loss, the time stop
// and the normalized-OFI breakdown. currentPrice prices the markout;
// thresholds of zero disable the corresponding rule.
//
// The primary ExitConditions pair stays its own function so the flow rules
// remain testable in isolation; this evaluator layers the extended policy on
// top rather than replacing it.
func EvaluateExit(s domain.SignalSnapshot, pos *domain.Position, currentPrice float64, now time.Time, r config.RiskConfig) ExitDecision {
	if pos == nil {
		return ExitDecision{}
	}

	markout := pos.MarkoutBps(currentPrice)
	if r.SLBps > 0 && markout <= -r.SLBps {
		return ExitDecision{Exit: true, Reason: StopLoss}
	}
	if r.TPBps > 0 && markout >= r.TPBps {
		return ExitDecision{Exit: true, Reason: TakeProfit}
	}
	if r.TimeStopS > 0 && pos.ElapsedSince(now) >= time.Duration(r.TimeStopS)*time.Second {
		return ExitDecision{Exit: true, Reason: TimeStop}
	}
	if r.OFINormThreshold > 0 && s.OFI <= -r.OFINormThreshold {
		return ExitDecision{Exit: true, Reason: OFIBreakdown}
	}
	if s.OFI < 0 {
		return ExitDecision{Exit: true, Reason: FlowReversal}
	}
	if s.LD > 0 {
		return ExitDecision{Exit: true, Reason: AdverseLiquidity}
	}
	return ExitDecision{}
}
