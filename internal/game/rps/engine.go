package rps

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"astra-arena/internal/channel"
	"astra-arena/internal/game"
	"astra-arena/internal/model"
)

// Round states. One round instance at a time; reset at the start of each
// new round.
const (
	StateIdle       = "idle"
	StateCommitting = "committing"
	StateCommitted  = "committed"
	StateComplete   = "complete"
)

// Errors for the round engine.
var (
	ErrRoundNotIdle     = errors.New("round already in progress")
	ErrRoundNotComplete = errors.New("round not complete")
	ErrMatchFinished    = errors.New("match already finished")
)

// Descriptor describes the rock-paper-scissors capability set.
func Descriptor() game.Descriptor {
	return game.Descriptor{
		ID:   GameID,
		Name: "Rock-Paper-Scissors",
		Capabilities: map[string]any{
			"commit_reveal": true,
			"best_of":       true,
			"draw_refund":   true,
			"max_players":   2,
		},
		DefaultSettings: game.Settings{
			"best_of":     3,
			"draw_refund": true,
		},
	}
}

// NewEngine is the game.Factory for rock-paper-scissors.
func NewEngine(cfg game.Config) (game.Engine, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("rps engine requires a channel sender")
	}
	if cfg.Role != model.RoleHost && cfg.Role != model.RoleGuest {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	threshold := cfg.WinningThreshold
	if threshold < 1 {
		threshold = 2
	}
	maxRounds := cfg.MaxRounds
	if maxRounds < threshold {
		maxRounds = 2*threshold - 1
	}
	return &Engine{
		cfg:       cfg,
		threshold: threshold,
		maxRounds: maxRounds,
		round:     1,
		state:     StateIdle,
	}, nil
}

// Engine is one player's side of a commit-reveal match. The two sides
// act independently and are coordinated only through broadcast events,
// so every handler tolerates duplicates and events arriving in either
// relative order across senders.
type Engine struct {
	cfg       game.Config
	threshold int
	maxRounds int

	mu    sync.Mutex
	round int
	state string

	// Local player's sealed round. Move and nonce stay here until the
	// opponent's commitment is held.
	myMove   Move
	myNonce  string
	myCommit string
	revealed bool

	// Opponent's round as observed on the channel. At most one
	// outstanding commitment per round.
	opCommit string
	opMove   Move

	selfScore int
	opScore   int
	resolved  bool
	finished  bool
	result    *game.Result
}

// Choose seals the local move: draw a nonce, compute the commitment,
// broadcast it, keep the clear move and nonce local.
func (e *Engine) Choose(moveStr string) error {
	move, err := ParseMove(moveStr)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return ErrMatchFinished
	}
	if e.state != StateIdle {
		return ErrRoundNotIdle
	}

	e.state = StateCommitting
	e.myMove = move
	e.myNonce = NewNonce()
	e.myCommit = Commitment(move, e.myNonce)

	if err := e.cfg.Sender.Send(channel.Event{
		Kind:       channel.KindCommit,
		Round:      e.round,
		Commitment: e.myCommit,
	}); err != nil {
		// Roll back so the player can retry; nothing left the engine.
		e.state = StateIdle
		e.myMove, e.myNonce, e.myCommit = "", "", ""
		return fmt.Errorf("failed to broadcast commitment: %w", err)
	}
	e.state = StateCommitted

	// If the opponent committed first, both sides are now locked in and
	// our reveal becomes legal.
	e.maybeRevealLocked()
	return nil
}

// RequestNextRound broadcasts lockstep advancement and advances locally.
func (e *Engine) RequestNextRound() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return ErrMatchFinished
	}
	if e.state != StateComplete {
		return ErrRoundNotComplete
	}

	if err := e.cfg.Sender.Send(channel.Event{
		Kind:  channel.KindAdvance,
		Round: e.round,
	}); err != nil {
		return fmt.Errorf("failed to broadcast advance: %w", err)
	}
	e.advanceLocked()
	return nil
}

// RepeatAdvance re-broadcasts the advance signal for the previous round.
// It covers the dropped-advance gap: if our advance broadcast was lost
// the opponent is stuck on the prior round; handlers are idempotent so a
// duplicate costs nothing. Only meaningful while waiting at the start of
// a round we reached by advancing.
func (e *Engine) RepeatAdvance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished || e.round < 2 || e.state != StateIdle || e.opCommit != "" {
		return
	}
	_ = e.cfg.Sender.Send(channel.Event{
		Kind:  channel.KindAdvance,
		Round: e.round - 1,
	})
}

// HandleEvent feeds one inbound channel event into the engine. Events
// from ourselves, duplicates, and events carrying the wrong round number
// are ignored rather than trusted.
func (e *Engine) HandleEvent(ev channel.Event) error {
	if ev.From == e.cfg.SelfID {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case channel.KindCommit:
		e.handleCommitLocked(ev)
	case channel.KindReveal:
		e.handleRevealLocked(ev)
	case channel.KindAdvance:
		e.handleAdvanceLocked(ev)
	case channel.KindPresence:
		// Presence is the orchestrator's concern.
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("Unknown match channel event")
	}
	return nil
}

func (e *Engine) handleCommitLocked(ev channel.Event) {
	if e.finished {
		return
	}

	// A commit for the round after a completed one doubles as the
	// advance signal: the opponent already moved on, so a dropped
	// advance broadcast cannot desynchronize the round counters.
	if ev.Round == e.round+1 && e.state == StateComplete {
		e.advanceLocked()
		if e.finished {
			return
		}
	}

	if ev.Round != e.round {
		return
	}

	switch {
	case e.opCommit == "":
		e.opCommit = ev.Commitment
	case e.opCommit == ev.Commitment:
		return // duplicate broadcast
	default:
		log.Warn().
			Str("match_id", e.cfg.MatchID).
			Str("from", ev.From).
			Int("round", ev.Round).
			Msg("Conflicting second commitment ignored")
		return
	}

	e.maybeRevealLocked()
}

func (e *Engine) handleRevealLocked(ev channel.Event) {
	if e.finished || ev.Round != e.round || e.resolved {
		return
	}

	// Per-sender FIFO means a correct peer's commit precedes its
	// reveal; a reveal with no commitment on record is a protocol
	// violation, not something to resolve a round from.
	if e.opCommit == "" {
		log.Warn().
			Str("match_id", e.cfg.MatchID).
			Str("from", ev.From).
			Int("round", ev.Round).
			Msg("Reveal received before commitment, ignoring")
		return
	}

	move, err := ParseMove(ev.Move)
	if err != nil {
		log.Warn().
			Str("match_id", e.cfg.MatchID).
			Str("from", ev.From).
			Str("move", ev.Move).
			Msg("Reveal carried invalid move, ignoring")
		return
	}

	if !VerifyCommitment(e.opCommit, move, ev.Nonce) {
		// Deliberate fail-open policy: flag the tamper/bug signal but
		// still resolve the round from the revealed move.
		log.Warn().
			Str("match_id", e.cfg.MatchID).
			Str("from", ev.From).
			Int("round", ev.Round).
			Str("commitment", e.opCommit).
			Str("recomputed", Commitment(move, ev.Nonce)).
			Msg("Commit mismatch on opponent reveal")
	}
	e.opMove = move

	e.tryResolveLocked()
}

func (e *Engine) handleAdvanceLocked(ev channel.Event) {
	if e.finished || ev.Round != e.round || e.state != StateComplete {
		return
	}
	e.advanceLocked()
}

// maybeRevealLocked discloses our move and nonce once, and only once we
// hold the opponent's commitment. Revealing before both commitments
// exist defeats the protocol and is unreachable from here.
func (e *Engine) maybeRevealLocked() {
	if e.revealed || e.state != StateCommitted || e.opCommit == "" {
		return
	}
	e.revealed = true
	_ = e.cfg.Sender.Send(channel.Event{
		Kind:  channel.KindReveal,
		Round: e.round,
		Move:  string(e.myMove),
		Nonce: e.myNonce,
	})
	e.tryResolveLocked()
}

// tryResolveLocked computes the round outcome once both moves are in the
// clear. Runs at most once per round.
func (e *Engine) tryResolveLocked() {
	if e.resolved || !e.revealed || e.myMove == "" || e.opMove == "" {
		return
	}

	// Recompute our own commitment as well; a mismatch here means a
	// local bug rather than tampering, but it is flagged the same way.
	if !VerifyCommitment(e.myCommit, e.myMove, e.myNonce) {
		log.Warn().
			Str("match_id", e.cfg.MatchID).
			Int("round", e.round).
			Msg("Commit mismatch on own reveal")
	}

	switch Winner(e.myMove, e.opMove) {
	case FirstWins:
		e.selfScore++
	case SecondWins:
		e.opScore++
	case Tie:
		// Ties increment neither counter.
	}
	e.resolved = true
	e.state = StateComplete

	if e.selfScore >= e.threshold || e.opScore >= e.threshold {
		e.finishLocked()
	} else if e.round >= e.maxRounds {
		// Maximum round count exceeded without a winner: draw policy.
		e.finishLocked()
	}
}

// advanceLocked resets the round state machine for the next round.
func (e *Engine) advanceLocked() {
	e.round++
	e.state = StateIdle
	e.myMove, e.myNonce, e.myCommit = "", "", ""
	e.opCommit, e.opMove = "", ""
	e.revealed = false
	e.resolved = false

	if e.round > e.maxRounds {
		e.finishLocked()
	}
}

func (e *Engine) finishLocked() {
	if e.finished {
		return
	}
	e.finished = true

	hostScore, guestScore := e.selfScore, e.opScore
	if e.cfg.Role == model.RoleGuest {
		hostScore, guestScore = e.opScore, e.selfScore
	}

	outcome := model.OutcomeDraw
	if hostScore > guestScore {
		outcome = model.OutcomeHostWin
	} else if guestScore > hostScore {
		outcome = model.OutcomeGuestWin
	}

	e.result = &game.Result{
		Outcome:    outcome,
		HostScore:  hostScore,
		GuestScore: guestScore,
	}
}

// Snapshot returns the current round state for rendering.
func (e *Engine) Snapshot() game.RoundSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return game.RoundSnapshot{
		Round:             e.round,
		State:             e.state,
		SelfScore:         e.selfScore,
		OpponentScore:     e.opScore,
		OpponentCommitted: e.opCommit != "",
	}
}

// Finished reports whether the match has concluded.
func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Result returns the final tally once finished, nil before.
func (e *Engine) Result() *game.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}
