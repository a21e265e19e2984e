// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"astra-arena/internal/model"
)

// Common errors for repository operations.
var (
	ErrEntryNotFound = errors.New("queue entry not found")
	ErrMatchNotFound = errors.New("match not found")
)

// Notification channel names. Repositories fire pg_notify on these after
// the writes subscribers care about; the Listener fans them out.
const (
	NotifyQueueEvents       = "queue_events"
	NotifyParticipantEvents = "participant_events"
)

// QueueEventPayload is the pg_notify payload for queue membership changes
// in a bucket.
type QueueEventPayload struct {
	GameID string  `json:"game_id"`
	BuyIn  float64 `json:"buy_in"`
}

// QueueRepository handles pairing queue persistence.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository creates a new QueueRepository instance.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

// Enqueue registers a waiting candidate. Any stale queued entry for the
// same client in the same bucket is invalidated first, in the same
// transaction, so at most one queued entry per client per bucket exists.
func (r *QueueRepository) Enqueue(ctx context.Context, clientID, gameID string, buyIn float64) (*model.QueueEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE queue
		SET status = $4
		WHERE client_id = $1 AND game_id = $2 AND buy_in = $3 AND status = $5
	`, clientID, gameID, buyIn, model.QueueStatusCancelled, model.QueueStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate stale queue entries: %w", err)
	}

	const query = `
		INSERT INTO queue (id, client_id, game_id, buy_in, status, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, NOW())
		RETURNING id, client_id, game_id, buy_in, status, match_id, created_at
	`

	var entry model.QueueEntry
	err = tx.QueryRow(ctx, query, clientID, gameID, buyIn, model.QueueStatusQueued).Scan(
		&entry.ID,
		&entry.ClientID,
		&entry.GameID,
		&entry.BuyIn,
		&entry.Status,
		&entry.MatchID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert queue entry: %w", err)
	}

	if err := notifyBucket(ctx, tx, gameID, buyIn); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	return &entry, nil
}

// Cancel transitions the client's queued entries to cancelled. Idempotent
// when nothing is queued or the entry already left the queued state.
func (r *QueueRepository) Cancel(ctx context.Context, clientID string) error {
	rows, err := r.pool.Query(ctx, `
		UPDATE queue
		SET status = $2
		WHERE client_id = $1 AND status = $3
		RETURNING game_id, buy_in
	`, clientID, model.QueueStatusCancelled, model.QueueStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to cancel queue entries: %w", err)
	}

	type bucket struct {
		gameID string
		buyIn  float64
	}
	var buckets []bucket
	for rows.Next() {
		var b bucket
		if err := rows.Scan(&b.gameID, &b.buyIn); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan cancelled entry: %w", err)
		}
		buckets = append(buckets, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cancelled entries: %w", err)
	}

	for _, b := range buckets {
		if err := notifyBucket(ctx, r.pool, b.gameID, b.buyIn); err != nil {
			return err
		}
	}
	return nil
}

// MarkMatched flips both participants' queued entries to matched,
// attaching the match id. Entries that already left the queued state are
// untouched, which is what makes the pairing race safe to lose.
func (r *QueueRepository) MarkMatched(ctx context.Context, matchID, gameID string, buyIn float64, clientIDs ...string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE queue
		SET status = $1, match_id = $2
		WHERE client_id = ANY($3) AND game_id = $4 AND buy_in = $5 AND status = $6
	`, model.QueueStatusMatched, matchID, clientIDs, gameID, buyIn, model.QueueStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark entries matched: %w", err)
	}
	return notifyBucket(ctx, r.pool, gameID, buyIn)
}

// BucketMembers returns the currently queued entries for a bucket,
// ordered by enqueue time (id as tiebreaker so every observer sees the
// same total order).
func (r *QueueRepository) BucketMembers(ctx context.Context, gameID string, buyIn float64) ([]model.QueueEntry, error) {
	const query = `
		SELECT id, client_id, game_id, buy_in, status, match_id, created_at
		FROM queue
		WHERE game_id = $1 AND buy_in = $2 AND status = $3
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, gameID, buyIn, model.QueueStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket members: %w", err)
	}
	defer rows.Close()

	var entries []model.QueueEntry
	for rows.Next() {
		var entry model.QueueEntry
		err := rows.Scan(
			&entry.ID,
			&entry.ClientID,
			&entry.GameID,
			&entry.BuyIn,
			&entry.Status,
			&entry.MatchID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bucket members: %w", err)
	}

	return entries, nil
}

// GetEntry retrieves a queue entry by id.
func (r *QueueRepository) GetEntry(ctx context.Context, entryID string) (*model.QueueEntry, error) {
	const query = `
		SELECT id, client_id, game_id, buy_in, status, match_id, created_at
		FROM queue
		WHERE id = $1
	`

	var entry model.QueueEntry
	err := r.pool.QueryRow(ctx, query, entryID).Scan(
		&entry.ID,
		&entry.ClientID,
		&entry.GameID,
		&entry.BuyIn,
		&entry.Status,
		&entry.MatchID,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}

	return &entry, nil
}

// Position returns the 1-based approximate queue position of an entry:
// the count of still-queued entries with an earlier timestamp in the
// same bucket, plus one. Advisory only, never used for correctness.
func (r *QueueRepository) Position(ctx context.Context, entryID string) (int, error) {
	const query = `
		SELECT (
			SELECT COUNT(*)
			FROM queue q
			WHERE q.game_id = me.game_id AND q.buy_in = me.buy_in
			  AND q.status = $2
			  AND (q.created_at, q.id) < (me.created_at, me.id)
		)
		FROM queue me
		WHERE me.id = $1
	`

	var ahead int
	err := r.pool.QueryRow(ctx, query, entryID, model.QueueStatusQueued).Scan(&ahead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEntryNotFound
		}
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return ahead + 1, nil
}

// execer covers both pgxpool.Pool and pgx.Tx for the notify helpers.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// notifyBucket publishes a queue membership change for a bucket.
func notifyBucket(ctx context.Context, db execer, gameID string, buyIn float64) error {
	payload, err := json.Marshal(QueueEventPayload{GameID: gameID, BuyIn: buyIn})
	if err != nil {
		return fmt.Errorf("failed to marshal queue event: %w", err)
	}
	if _, err := db.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyQueueEvents, string(payload)); err != nil {
		return fmt.Errorf("failed to notify queue event: %w", err)
	}
	return nil
}
