package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"astra-arena/internal/model"
)

// ErrResultNotFound is returned when no result exists for a match id.
var ErrResultNotFound = errors.New("match result not found")

// ResultRepository handles match result persistence. Insertion is
// idempotent keyed by match id: the match id is the mutual-exclusion
// mechanism preventing double-recording when both participants race to
// record the same outcome.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository instance.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Insert persists a result exactly once. Returns true when this call
// created the row, false when the match was already recorded.
func (r *ResultRepository) Insert(ctx context.Context, res *model.MatchResult) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO results (
			match_id, outcome, winner_client_id, loser_client_id,
			score_winner, score_loser, pot, fee, winner_payout, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (match_id) DO NOTHING
	`,
		res.MatchID, res.Outcome, res.WinnerID, res.LoserID,
		res.ScoreWinner, res.ScoreLoser, res.Pot, res.Fee, res.WinnerPayout,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByMatchID retrieves the recorded result for a match.
func (r *ResultRepository) GetByMatchID(ctx context.Context, matchID string) (*model.MatchResult, error) {
	const query = `
		SELECT match_id, outcome, winner_client_id, loser_client_id,
		       score_winner, score_loser, pot, fee, winner_payout, recorded_at
		FROM results
		WHERE match_id = $1
	`

	var res model.MatchResult
	err := r.pool.QueryRow(ctx, query, matchID).Scan(
		&res.MatchID,
		&res.Outcome,
		&res.WinnerID,
		&res.LoserID,
		&res.ScoreWinner,
		&res.ScoreLoser,
		&res.Pot,
		&res.Fee,
		&res.WinnerPayout,
		&res.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return &res, nil
}
