package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Listener fans Postgres NOTIFY payloads out to in-process subscribers.
// It holds one dedicated connection with LISTEN on the repository
// channels; subscribers filter payloads with a predicate, which gives
// higher layers a change feed filterable by table and row without extra
// round-trips.
type Listener struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	channel string
	filter  func(payload []byte) bool
	out     chan []byte
}

// subBuffer bounds each subscriber's delivery buffer. A full subscriber
// loses notifications, which is fine: consumers re-query state on every
// event rather than trusting payload contents.
const subBuffer = 16

// NewListener creates a Listener over the given pool. Run must be
// started for notifications to flow.
func NewListener(pool *pgxpool.Pool) *Listener {
	return &Listener{
		pool: pool,
		subs: make(map[int]*subscription),
	}
}

// Subscribe registers interest in one notification channel. Events whose
// payload fails the filter are skipped; a nil filter accepts everything.
// The returned cancel func must be called to release the subscription.
func (l *Listener) Subscribe(channel string, filter func(payload []byte) bool) (<-chan []byte, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	sub := &subscription{
		channel: channel,
		filter:  filter,
		out:     make(chan []byte, subBuffer),
	}
	l.subs[id] = sub

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if s, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(s.out)
		}
	}
	return sub.out, cancel
}

// Run listens for notifications until the context is cancelled. On
// connection loss it backs off and re-establishes the LISTEN, because a
// dropped feed only delays snapshots, it never corrupts them.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Notification listener disconnected, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, channel := range []string{NotifyQueueEvents, NotifyParticipantEvents} {
		if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
			return fmt.Errorf("failed to LISTEN %s: %w", channel, err)
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for notification: %w", err)
		}
		l.dispatch(n.Channel, []byte(n.Payload))
	}
}

func (l *Listener) dispatch(channel string, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.subs {
		if sub.channel != channel {
			continue
		}
		if sub.filter != nil && !sub.filter(payload) {
			continue
		}
		select {
		case sub.out <- payload:
		default:
			log.Warn().Str("channel", channel).Msg("Notification subscriber buffer full, dropping")
		}
	}
}
