// Package signal produces the per-iteration microstructure snapshot the
// decision loop scores. Providers are pluggable: a seeded paper provider
// for dry runs, a websocket-backed live feed, and a scripted provider for
// deterministic tests.
package signal

import (
	"context"
	"fmt"

	"github.com/Poom5741/tok-tradingbot/internal/domain"
)

// Provider yields one snapshot per probe. Implementations must return a
// fully populated snapshot or an error; the loop never retries a probe
// within the same iteration.
type Provider interface {
	Probe(ctx context.Context) (domain.SignalSnapshot, error)
}

// ActivityReporter is implemented by providers that can report recent
// market activity. The quiet-market health gate consults it when present.
type ActivityReporter interface {
	SwapsLast10m() int
}

// ErrExhausted is returned by the scripted provider once its script runs out.
var ErrExhausted = fmt.Errorf("signal script exhausted")

// Scripted replays a fixed sequence of snapshots, one per probe. Used by
// tests that need exact control over what the loop observes.
type Scripted struct {
	Snapshots []domain.SignalSnapshot
	Activity  int

	next int
}

func NewScripted(snapshots ...domain.SignalSnapshot) *Scripted {
	return &Scripted{Snapshots: snapshots}
}

func (s *Scripted) Probe(_ context.Context) (domain.SignalSnapshot, error) {
	if s.next >= len(s.Snapshots) {
		return domain.SignalSnapshot{}, ErrExhausted
	}
	snap := s.Snapshots[s.next]
	s.next++
	return snap, nil
}

func (s *Scripted) SwapsLast10m() int { return s.Activity }
