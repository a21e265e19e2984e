// Package model defines the data models for the matchmaking and match
// recording subsystem.
package model

import "time"

// QueueEntry represents one waiting candidate in a pairing bucket.
// At most one queued entry exists per client per (game, buy-in) bucket;
// a new enqueue invalidates any stale queued entry for that client first.
type QueueEntry struct {
	ID        string    `db:"id"`
	ClientID  string    `db:"client_id"`
	GameID    string    `db:"game_id"`
	BuyIn     float64   `db:"buy_in"`
	Status    string    `db:"status"`
	MatchID   *string   `db:"match_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Queue entry statuses. An entry never returns to "queued" once it has
// left it.
const (
	QueueStatusQueued    = "queued"
	QueueStatusMatched   = "matched"
	QueueStatusCancelled = "cancelled"
)

// Bucket identifies a pairing pool: all candidates for the same game at
// the same buy-in.
type Bucket struct {
	GameID string
	BuyIn  float64
}

// Match represents one agreed pairing. HostID is always the
// lexicographically-first participant identity; the host mints the match
// id. A finished match is immutable.
type Match struct {
	ID        string    `db:"id"`
	GameID    string    `db:"game_id"`
	BuyIn     float64   `db:"buy_in"`
	HostID    string    `db:"host_id"`
	GuestID   string    `db:"guest_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// Match statuses.
const (
	MatchStatusActive   = "active"
	MatchStatusFinished = "finished"
)

// Participant roles within a match.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// MatchOutcome classifies the overall result of a match.
type MatchOutcome string

const (
	OutcomeHostWin  MatchOutcome = "host_win"
	OutcomeGuestWin MatchOutcome = "guest_win"
	OutcomeDraw     MatchOutcome = "draw"
)

// MatchResult is the final tally for a finished match, persisted exactly
// once keyed by match id.
type MatchResult struct {
	MatchID      string       `db:"match_id"`
	Outcome      MatchOutcome `db:"outcome"`
	WinnerID     *string      `db:"winner_client_id"`
	LoserID      *string      `db:"loser_client_id"`
	ScoreWinner  int          `db:"score_winner"`
	ScoreLoser   int          `db:"score_loser"`
	Pot          float64      `db:"pot"`
	Fee          float64      `db:"fee"`
	WinnerPayout float64      `db:"winner_payout"`
	RecordedAt   time.Time    `db:"recorded_at"`
}

// Profile binds a client identity to an optional wallet identity. The
// wallet is used for payout bookkeeping only, never for pairing.
type Profile struct {
	ClientID    string    `db:"client_id"`
	WalletID    *string   `db:"wallet_id"`
	DisplayName *string   `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// WalletStats is the per-wallet aggregate updated when a result is
// recorded.
type WalletStats struct {
	WalletID     string     `db:"wallet_id"`
	Games        int64      `db:"games"`
	Wins         int64      `db:"wins"`
	Losses       int64      `db:"losses"`
	Draws        int64      `db:"draws"`
	TotalWagered float64    `db:"total_wagered"`
	Profit       float64    `db:"profit"`
	LastPlayed   *time.Time `db:"last_played"`
}
