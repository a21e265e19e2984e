// Package queue implements the pairing queue: per-bucket candidate
// tracking, deterministic host/guest role assignment, and match minting.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"astra-arena/internal/model"
	"astra-arena/internal/repository"
)

// Errors surfaced by the pairing queue.
var (
	// ErrEnqueue means the backing store was unreachable. Recovered by
	// surfacing a retry affordance to the player, never retried silently.
	ErrEnqueue = errors.New("failed to register in pairing queue")

	// ErrFeedClosed means the change-notification feed shut down while a
	// pairing wait was in flight, typically during server shutdown.
	ErrFeedClosed = errors.New("pairing feed closed")
)

// Store is the queue persistence the service needs.
type Store interface {
	Enqueue(ctx context.Context, clientID, gameID string, buyIn float64) (*model.QueueEntry, error)
	Cancel(ctx context.Context, clientID string) error
	MarkMatched(ctx context.Context, matchID, gameID string, buyIn float64, clientIDs ...string) error
	BucketMembers(ctx context.Context, gameID string, buyIn float64) ([]model.QueueEntry, error)
	Position(ctx context.Context, entryID string) (int, error)
}

// MatchStore persists minted matches and announces pairings.
type MatchStore interface {
	Create(ctx context.Context, m *model.Match) error
	Announce(ctx context.Context, m *model.Match) error
}

// Feed is the change-notification subscription the service observes.
type Feed interface {
	Subscribe(channel string, filter func(payload []byte) bool) (<-chan []byte, func())
}

// Found describes a resolved pairing as seen by one participant.
type Found struct {
	Match      *model.Match
	Role       string
	OpponentID string
}

// Service coordinates enqueueing, bucket observation, and pairing.
type Service struct {
	store   Store
	matches MatchStore
	feed    Feed
}

// NewService creates a pairing queue service.
func NewService(store Store, matches MatchStore, feed Feed) *Service {
	return &Service{
		store:   store,
		matches: matches,
		feed:    feed,
	}
}

// AssignRoles derives the host/guest assignment from the two identities
// alone: the lexicographically-first identity hosts. Both sides compute
// the identical assignment without a third-party arbiter, which is what
// makes the pairing race safe to run unguarded.
func AssignRoles(a, b string) (host, guest string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Enqueue registers a candidate in the (gameID, buyIn) bucket.
func (s *Service) Enqueue(ctx context.Context, clientID, gameID string, buyIn float64) (*model.QueueEntry, error) {
	entry, err := s.store.Enqueue(ctx, clientID, gameID, buyIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnqueue, err)
	}
	return entry, nil
}

// Cancel withdraws the caller from the queue. Idempotent if already
// cancelled or matched.
func (s *Service) Cancel(ctx context.Context, clientID string) error {
	return s.store.Cancel(ctx, clientID)
}

// Position reports the advisory 1-based queue position of an entry.
func (s *Service) Position(ctx context.Context, entryID string) (int, error) {
	return s.store.Position(ctx, entryID)
}

// Observe produces a lazy, unbounded sequence of bucket membership
// snapshots: one immediately, then one per membership change. Restartable
// by calling Observe again. The cancel func releases the subscription.
func (s *Service) Observe(ctx context.Context, gameID string, buyIn float64) (<-chan []model.QueueEntry, func()) {
	events, unsubscribe := s.feed.Subscribe(repository.NotifyQueueEvents, func(payload []byte) bool {
		var ev repository.QueueEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			return false
		}
		return ev.GameID == gameID && ev.BuyIn == buyIn
	})

	out := make(chan []model.QueueEntry, 1)
	obsCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer unsubscribe()

		emit := func() bool {
			members, err := s.store.BucketMembers(obsCtx, gameID, buyIn)
			if err != nil {
				if obsCtx.Err() == nil {
					log.Warn().Err(err).Str("game_id", gameID).Msg("Failed to read bucket membership")
				}
				return true // transient; keep observing
			}
			select {
			case out <- members:
			case <-obsCtx.Done():
				return false
			}
			return true
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-obsCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out, cancel
}

// WaitForMatch runs one client's side of the pairing protocol until a
// match is agreed or the context ends. Both candidates independently
// compute the same pairing decision from the same membership order; the
// deterministic role rule means only the host mints the match id, and
// the guest waits for the announcement keyed to its own identity.
func (s *Service) WaitForMatch(ctx context.Context, entry *model.QueueEntry) (*Found, error) {
	announcements, unsubscribe := s.feed.Subscribe(repository.NotifyParticipantEvents, func(payload []byte) bool {
		var ev repository.ParticipantEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			return false
		}
		return ev.ClientID == entry.ClientID
	})
	defer unsubscribe()

	snapshots, stopObserving := s.Observe(ctx, entry.GameID, entry.BuyIn)
	defer stopObserving()

	// The host mints exactly one id per pairing; a lost announcement is
	// retried with the same id, never re-minted.
	var minted *model.Match

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case payload, ok := <-announcements:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, ErrFeedClosed
			}
			var ev repository.ParticipantEventPayload
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			// Replay-safe: a duplicate announcement for a match we
			// already minted ourselves resolves identically.
			found := &Found{
				Match: &model.Match{
					ID:      ev.MatchID,
					GameID:  ev.GameID,
					BuyIn:   ev.BuyIn,
					HostID:  ev.HostID,
					GuestID: ev.GuestID,
					Status:  model.MatchStatusActive,
				},
				Role:       ev.Role,
				OpponentID: ev.HostID,
			}
			if ev.Role == model.RoleHost {
				found.OpponentID = ev.GuestID
			}
			return found, nil

		case members, ok := <-snapshots:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, ErrFeedClosed
			}
			if len(members) < 2 {
				continue
			}

			// The two lowest-timestamp candidates pair; everyone else
			// keeps waiting for a later snapshot.
			first, second := members[0], members[1]
			if first.ClientID != entry.ClientID && second.ClientID != entry.ClientID {
				continue
			}

			host, guest := AssignRoles(first.ClientID, second.ClientID)
			if entry.ClientID != host {
				// Guest: wait for the host's announcement.
				continue
			}

			if minted == nil {
				minted = &model.Match{
					ID:      uuid.NewString(),
					GameID:  entry.GameID,
					BuyIn:   entry.BuyIn,
					HostID:  host,
					GuestID: guest,
					Status:  model.MatchStatusActive,
				}
			}

			if err := s.matches.Create(ctx, minted); err != nil {
				log.Warn().Err(err).Str("match_id", minted.ID).Msg("Failed to persist minted match, will retry")
				continue
			}
			if err := s.store.MarkMatched(ctx, minted.ID, entry.GameID, entry.BuyIn, host, guest); err != nil {
				log.Warn().Err(err).Str("match_id", minted.ID).Msg("Failed to mark entries matched")
			}

			return &Found{
				Match:      minted,
				Role:       model.RoleHost,
				OpponentID: guest,
			}, nil
		}
	}
}

// Announce re-broadcasts a pairing announcement. The host calls this on
// a bounded retry schedule until the guest shows up on the match channel.
func (s *Service) Announce(ctx context.Context, m *model.Match) error {
	return s.matches.Announce(ctx, m)
}
