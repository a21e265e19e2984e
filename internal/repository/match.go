package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"astra-arena/internal/model"
)

// ParticipantEventPayload is the pg_notify payload announcing that a
// client has been attached to a match. The guest learns its match id
// from this announcement, keyed to its own identity.
type ParticipantEventPayload struct {
	MatchID  string  `json:"match_id"`
	ClientID string  `json:"client_id"`
	Role     string  `json:"role"`
	HostID   string  `json:"host_id"`
	GuestID  string  `json:"guest_id"`
	GameID   string  `json:"game_id"`
	BuyIn    float64 `json:"buy_in"`
}

// MatchRepository handles match persistence.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository creates a new MatchRepository instance.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// Create persists a match and both participant rows, then announces the
// pairing. Idempotent on match id, so a host retrying its announcement
// never ends up with two matches for the same pairing.
func (r *MatchRepository) Create(ctx context.Context, m *model.Match) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin match create: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO matches (id, game_id, buy_in, host_id, guest_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.GameID, m.BuyIn, m.HostID, m.GuestID, model.MatchStatusActive)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO match_participants (match_id, client_id, role)
		VALUES ($1, $2, $3), ($1, $4, $5)
		ON CONFLICT (match_id, client_id) DO NOTHING
	`, m.ID, m.HostID, model.RoleHost, m.GuestID, model.RoleGuest)
	if err != nil {
		return fmt.Errorf("failed to insert participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit match create: %w", err)
	}

	return r.Announce(ctx, m)
}

// Announce re-broadcasts the participant events for a match. Safe to
// call repeatedly: the host retries announcements until the guest shows
// up on the match channel, and every subscriber handler is replay-safe.
func (r *MatchRepository) Announce(ctx context.Context, m *model.Match) error {
	for clientID, role := range map[string]string{
		m.HostID:  model.RoleHost,
		m.GuestID: model.RoleGuest,
	} {
		payload, err := json.Marshal(ParticipantEventPayload{
			MatchID:  m.ID,
			ClientID: clientID,
			Role:     role,
			HostID:   m.HostID,
			GuestID:  m.GuestID,
			GameID:   m.GameID,
			BuyIn:    m.BuyIn,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal participant event: %w", err)
		}
		_, err = r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyParticipantEvents, string(payload))
		if err != nil {
			return fmt.Errorf("failed to announce participant: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a match by id. Returns ErrMatchNotFound if absent.
func (r *MatchRepository) GetByID(ctx context.Context, matchID string) (*model.Match, error) {
	const query = `
		SELECT id, game_id, buy_in, host_id, guest_id, status, created_at
		FROM matches
		WHERE id = $1
	`

	var m model.Match
	err := r.pool.QueryRow(ctx, query, matchID).Scan(
		&m.ID,
		&m.GameID,
		&m.BuyIn,
		&m.HostID,
		&m.GuestID,
		&m.Status,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return &m, nil
}

// Finish flips a match to finished. A finished match is immutable; the
// guard on the current status makes repeated calls harmless.
func (r *MatchRepository) Finish(ctx context.Context, matchID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE matches
		SET status = $2
		WHERE id = $1 AND status = $3
	`, matchID, model.MatchStatusFinished, model.MatchStatusActive)
	if err != nil {
		return fmt.Errorf("failed to finish match: %w", err)
	}
	return nil
}

// UpsertMinimal writes the minimal match and participant rows outside a
// transaction. This is the recorder's secondary write path: when the
// primary results insert fails it guarantees at least one durable record
// of the match exists.
func (r *MatchRepository) UpsertMinimal(ctx context.Context, m *model.Match) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO matches (id, game_id, buy_in, host_id, guest_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
	`, m.ID, m.GameID, m.BuyIn, m.HostID, m.GuestID, m.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert match row: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO match_participants (match_id, client_id, role)
		VALUES ($1, $2, $3), ($1, $4, $5)
		ON CONFLICT (match_id, client_id) DO NOTHING
	`, m.ID, m.HostID, model.RoleHost, m.GuestID, model.RoleGuest)
	if err != nil {
		return fmt.Errorf("failed to upsert participant rows: %w", err)
	}
	return nil
}
