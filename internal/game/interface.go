// Package game defines the round engine interface and the registry that
// maps game identifiers to engine constructors. The rock-paper-scissors
// engine implements the {commit-reveal, best-of-N} capability set; other
// games plug in by implementing the same interface with their own
// resolution rule.
package game

import (
	"astra-arena/internal/channel"
	"astra-arena/internal/model"
)

// Settings carries game-specific knobs, merged over a game's defaults.
type Settings map[string]any

// Descriptor describes a registered game and its capabilities.
type Descriptor struct {
	ID              string
	Name            string
	Capabilities    map[string]any
	DefaultSettings Settings
}

// Result is the final tally produced by an engine, in absolute host/guest
// terms so both participants record the identical outcome.
type Result struct {
	Outcome    model.MatchOutcome
	HostScore  int
	GuestScore int
}

// RoundSnapshot is the engine state exposed to the presentation layer,
// relative to the local player.
type RoundSnapshot struct {
	Round             int    `json:"round"`
	State             string `json:"state"` // idle | committing | committed | complete
	SelfScore         int    `json:"self_score"`
	OpponentScore     int    `json:"opponent_score"`
	OpponentCommitted bool   `json:"opponent_committed"`
}

// Sender is the outbound half of a match channel, as seen by an engine.
type Sender interface {
	Send(ev channel.Event) error
}

// Engine drives one player's side of a match over a match channel. An
// engine is single-threaded: the orchestrator serializes calls into it.
// Every inbound event handler is safe to invoke more than once with the
// same event and ignores events for the wrong round.
type Engine interface {
	// Choose seals the local player's move for the current round:
	// commitment is computed and broadcast, the clear move and nonce
	// stay local. Only legal while the round is idle.
	Choose(move string) error

	// RequestNextRound broadcasts lockstep advancement after a round
	// completed. Only legal while the round is complete and the match
	// not yet finished.
	RequestNextRound() error

	// HandleEvent feeds one inbound channel event into the engine.
	HandleEvent(ev channel.Event) error

	// RepeatAdvance re-broadcasts the last advancement when the engine
	// is idle at the top of a round with no sign of the opponent, so a
	// dropped advance does not wedge the peer.
	RepeatAdvance()

	// Snapshot returns the current round state for rendering.
	Snapshot() RoundSnapshot

	// Finished reports whether the match has concluded.
	Finished() bool

	// Result returns the final tally once Finished, nil before.
	Result() *Result
}

// Config is what a Factory needs to build an engine for one match.
type Config struct {
	MatchID          string
	SelfID           string
	OpponentID       string
	Role             string // model.RoleHost or model.RoleGuest
	Settings         Settings
	WinningThreshold int
	MaxRounds        int
	Sender           Sender
}

// Factory constructs an engine instance for one match.
type Factory func(cfg Config) (Engine, error)
