package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"astra-arena/internal/model"
)

// StatsRepository handles client profiles, wallet bindings, and
// per-wallet aggregate stats. The wallet identity feeds payout
// bookkeeping only; pairing never touches it.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// EnsureProfile makes sure a profile row exists for a client identity.
func (r *StatsRepository) EnsureProfile(ctx context.Context, clientID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (client_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (client_id) DO NOTHING
	`, clientID)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// AttachWallet binds a wallet identity and display name to a client
// identity, creating the profile if needed.
func (r *StatsRepository) AttachWallet(ctx context.Context, clientID, walletID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (client_id, wallet_id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (client_id) DO UPDATE
		SET wallet_id = EXCLUDED.wallet_id,
		    display_name = EXCLUDED.display_name,
		    updated_at = NOW()
	`, clientID, walletID, displayName)
	if err != nil {
		return fmt.Errorf("failed to attach wallet: %w", err)
	}
	return nil
}

// GetProfile retrieves a client's profile, or nil when none exists.
func (r *StatsRepository) GetProfile(ctx context.Context, clientID string) (*model.Profile, error) {
	const query = `
		SELECT client_id, wallet_id, display_name, created_at, updated_at
		FROM profiles
		WHERE client_id = $1
	`

	var p model.Profile
	err := r.pool.QueryRow(ctx, query, clientID).Scan(
		&p.ClientID,
		&p.WalletID,
		&p.DisplayName,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

// ApplyResult folds one finished match into a wallet's aggregate stats.
// wagered is the player's buy-in; profit is payout minus buy-in (zero
// for a refunded draw, negative for a loss).
func (r *StatsRepository) ApplyResult(ctx context.Context, walletID string, outcome model.MatchOutcome, won bool, wagered, profit float64) error {
	winInc, lossInc, drawInc := 0, 0, 0
	switch {
	case outcome == model.OutcomeDraw:
		drawInc = 1
	case won:
		winInc = 1
	default:
		lossInc = 1
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallet_stats (wallet_id, games, wins, losses, draws, total_wagered, profit, last_played)
		VALUES ($1, 1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (wallet_id) DO UPDATE
		SET games = wallet_stats.games + 1,
		    wins = wallet_stats.wins + $2,
		    losses = wallet_stats.losses + $3,
		    draws = wallet_stats.draws + $4,
		    total_wagered = wallet_stats.total_wagered + $5,
		    profit = wallet_stats.profit + $6,
		    last_played = NOW()
	`, walletID, winInc, lossInc, drawInc, wagered, profit)
	if err != nil {
		return fmt.Errorf("failed to apply result to wallet stats: %w", err)
	}
	return nil
}

// GetWalletStats retrieves aggregate stats for a wallet, zero-valued
// when the wallet has never played.
func (r *StatsRepository) GetWalletStats(ctx context.Context, walletID string) (*model.WalletStats, error) {
	const query = `
		SELECT wallet_id, games, wins, losses, draws, total_wagered, profit, last_played
		FROM wallet_stats
		WHERE wallet_id = $1
	`

	var s model.WalletStats
	err := r.pool.QueryRow(ctx, query, walletID).Scan(
		&s.WalletID,
		&s.Games,
		&s.Wins,
		&s.Losses,
		&s.Draws,
		&s.TotalWagered,
		&s.Profit,
		&s.LastPlayed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.WalletStats{WalletID: walletID}, nil
		}
		return nil, fmt.Errorf("failed to get wallet stats: %w", err)
	}

	return &s, nil
}
