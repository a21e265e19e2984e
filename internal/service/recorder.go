// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"astra-arena/internal/game"
	"astra-arena/internal/model"
)

// Recording errors.
var (
	// ErrRecording means both the primary and the fallback persistence
	// paths failed; the result was not saved anywhere.
	ErrRecording = errors.New("match result not saved")
)

// Payout holds the computed amounts for one finished match.
type Payout struct {
	Pot          float64
	Fee          float64
	WinnerPayout float64
	HostPayout   float64
	GuestPayout  float64
}

// ComputePayout applies the platform fee to the pot. The winner takes
// the pot net of fee and the loser takes nothing; a draw refunds each
// player their own buy-in with no fee taken.
func ComputePayout(buyIn, feeFraction float64, outcome model.MatchOutcome) Payout {
	pot := 2 * buyIn

	if outcome == model.OutcomeDraw {
		return Payout{
			Pot:         pot,
			HostPayout:  buyIn,
			GuestPayout: buyIn,
		}
	}

	fee := pot * feeFraction
	winner := pot - fee

	p := Payout{
		Pot:          pot,
		Fee:          fee,
		WinnerPayout: winner,
	}
	if outcome == model.OutcomeHostWin {
		p.HostPayout = winner
	} else {
		p.GuestPayout = winner
	}
	return p
}

// ResultStore is the primary persistence path.
type ResultStore interface {
	Insert(ctx context.Context, res *model.MatchResult) (bool, error)
}

// MatchWriter finishes matches and provides the fallback write path.
type MatchWriter interface {
	Finish(ctx context.Context, matchID string) error
	UpsertMinimal(ctx context.Context, m *model.Match) error
}

// StatsWriter folds outcomes into wallet bookkeeping.
type StatsWriter interface {
	GetProfile(ctx context.Context, clientID string) (*model.Profile, error)
	ApplyResult(ctx context.Context, walletID string, outcome model.MatchOutcome, won bool, wagered, profit float64) error
}

// Recorder persists match outcomes exactly once and computes payouts.
type Recorder struct {
	results     ResultStore
	matches     MatchWriter
	stats       StatsWriter
	feeFraction float64
}

// NewRecorder creates a Recorder. stats may be nil when wallet
// bookkeeping is disabled.
func NewRecorder(results ResultStore, matches MatchWriter, stats StatsWriter, feeFraction float64) *Recorder {
	return &Recorder{
		results:     results,
		matches:     matches,
		stats:       stats,
		feeFraction: feeFraction,
	}
}

// Record persists the outcome of a finished match, idempotent on match
// id: a duplicate call never double-counts the result or double-pays.
// The boolean reports whether the result is durably confirmed on the
// primary path; false with a nil error means only the fallback write
// succeeded and the payout display should be marked unconfirmed.
func (r *Recorder) Record(ctx context.Context, m *model.Match, tally *game.Result) (*model.MatchResult, bool, error) {
	payout := ComputePayout(m.BuyIn, r.feeFraction, tally.Outcome)

	res := &model.MatchResult{
		MatchID:      m.ID,
		Outcome:      tally.Outcome,
		Pot:          payout.Pot,
		Fee:          payout.Fee,
		WinnerPayout: payout.WinnerPayout,
	}
	switch tally.Outcome {
	case model.OutcomeHostWin:
		res.WinnerID, res.LoserID = &m.HostID, &m.GuestID
		res.ScoreWinner, res.ScoreLoser = tally.HostScore, tally.GuestScore
	case model.OutcomeGuestWin:
		res.WinnerID, res.LoserID = &m.GuestID, &m.HostID
		res.ScoreWinner, res.ScoreLoser = tally.GuestScore, tally.HostScore
	default:
		res.ScoreWinner, res.ScoreLoser = tally.HostScore, tally.GuestScore
	}

	inserted, err := r.results.Insert(ctx, res)
	if err != nil {
		// Secondary write path: upsert minimal match + participant rows
		// so at least one durable record of the match exists.
		finished := *m
		finished.Status = model.MatchStatusFinished
		if fbErr := r.matches.UpsertMinimal(ctx, &finished); fbErr != nil {
			return res, false, fmt.Errorf("%w: primary: %s, fallback: %s", ErrRecording, err, fbErr)
		}
		log.Warn().Err(err).Str("match_id", m.ID).Msg("Primary result write failed, fallback row written")
		return res, false, nil
	}

	if err := r.matches.Finish(ctx, m.ID); err != nil {
		log.Warn().Err(err).Str("match_id", m.ID).Msg("Failed to flip match to finished")
	}

	// Wallet bookkeeping runs only for the call that actually created
	// the row, so a recording race cannot double-count stats.
	if inserted && r.stats != nil {
		r.applyStats(ctx, m, tally.Outcome, payout)
	}

	return res, true, nil
}

func (r *Recorder) applyStats(ctx context.Context, m *model.Match, outcome model.MatchOutcome, payout Payout) {
	for clientID, owed := range map[string]float64{
		m.HostID:  payout.HostPayout,
		m.GuestID: payout.GuestPayout,
	} {
		profile, err := r.stats.GetProfile(ctx, clientID)
		if err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("Failed to load profile for stats")
			continue
		}
		if profile == nil || profile.WalletID == nil {
			continue // unauthenticated player, nothing to book
		}

		won := owed > m.BuyIn
		if err := r.stats.ApplyResult(ctx, *profile.WalletID, outcome, won, m.BuyIn, owed-m.BuyIn); err != nil {
			log.Warn().Err(err).Str("wallet_id", *profile.WalletID).Msg("Failed to apply wallet stats")
		}
	}
}
