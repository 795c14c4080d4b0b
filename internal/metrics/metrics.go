// Package metrics exposes the bot's operational counters over expvar.
package metrics

import "expvar"

var (
	Iterations    = expvar.NewInt("bot_iterations")
	Entries       = expvar.NewInt("bot_entries")
	Exits         = expvar.NewInt("bot_exits")
	GuardRefusals = expvar.NewInt("execution_guard_refusals")
	BreakerTrips  = expvar.NewInt("risk_breaker_trips")
	ProbeErrors   = expvar.NewInt("signal_probe_errors")
)
