package domain

import "time"

// BotState is one step of the per-iteration decision lifecycle.
type BotState string

const (
	StateIdle   BotState = "IDLE"
	StatePing   BotState = "PING"
	StateScore  BotState = "SCORE"
	StateEnter  BotState = "ENTER"
	StateManage BotState = "MANAGE"
	StateExit   BotState = "EXIT"
)

// BotOutcome records one state-machine transition. Outcomes for a run-loop
// call are appended in transition order, never reordered or coalesced.
type BotOutcome struct {
	State    BotState        `json:"state"`
	Signal   *SignalSnapshot `json:"signal,omitempty"`
	Position *Position       `json:"position,omitempty"` // snapshot at transition time
	Exited   bool            `json:"exited"`
	At       time.Time       `json:"at"`
}
