package channel

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Errors for match channels.
var (
	ErrChannelFull   = errors.New("match channel already has two participants")
	ErrChannelClosed = errors.New("match channel is closed")
	ErrNotMember     = errors.New("identity is not a member of this channel")
)

// outboxSize bounds the per-member delivery buffer. Delivery is
// best-effort: when a member's buffer is full the event is dropped and
// higher round logic re-sends on timeout.
const outboxSize = 32

// member is one participant's end of a channel.
type member struct {
	id     string
	events chan Event
	closed bool
}

// matchChannel is the shared state for one match id.
type matchChannel struct {
	matchID string
	members map[string]*member
	mu      sync.Mutex
}

// Hub manages the set of live match channels.
type Hub struct {
	channels map[string]*matchChannel
	mu       sync.Mutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*matchChannel),
	}
}

// Join establishes presence on the channel for matchID. The channel is
// created on first join and admits at most two distinct identities; a
// rejoin by an existing identity replaces its previous handle. The
// returned Handle must be released with Leave on every exit path.
func (h *Hub) Join(matchID, selfID string) (*Handle, error) {
	h.mu.Lock()
	ch, ok := h.channels[matchID]
	if !ok {
		ch = &matchChannel{
			matchID: matchID,
			members: make(map[string]*member),
		}
		h.channels[matchID] = ch
	}
	h.mu.Unlock()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if old, ok := ch.members[selfID]; ok {
		// Stale handle from a previous join; supersede it.
		old.closed = true
		close(old.events)
		delete(ch.members, selfID)
	} else if len(ch.members) >= 2 {
		return nil, ErrChannelFull
	}

	m := &member{id: selfID, events: make(chan Event, outboxSize)}
	ch.members[selfID] = m

	// Tell the other side we arrived, and tell the joiner who is
	// already here. This mirrors a presence sync: both sides converge
	// on the same membership view.
	for id, other := range ch.members {
		if id == selfID {
			continue
		}
		deliver(other, Event{Kind: KindPresence, From: selfID, Joined: true})
		deliver(m, Event{Kind: KindPresence, From: id, Joined: true})
	}

	return &Handle{hub: h, ch: ch, self: m}, nil
}

// deliver pushes an event into a member's buffer, dropping it when the
// buffer is full. Callers hold ch.mu, which is what keeps one sender's
// events in send order.
func deliver(m *member, ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		log.Warn().
			Str("to", m.id).
			Str("kind", string(ev.Kind)).
			Int("round", ev.Round).
			Msg("Match channel buffer full, dropping event")
	}
}

// remove detaches a member and tears the channel down once empty. The
// member pointer is compared so a superseded handle cannot evict its
// replacement.
func (h *Hub) remove(ch *matchChannel, m *member) {
	ch.mu.Lock()
	current, ok := ch.members[m.id]
	if !ok || current != m {
		ch.mu.Unlock()
		return
	}
	m.closed = true
	close(m.events)
	delete(ch.members, m.id)
	for _, other := range ch.members {
		deliver(other, Event{Kind: KindPresence, From: m.id, Joined: false})
	}
	empty := len(ch.members) == 0
	ch.mu.Unlock()

	if empty {
		h.mu.Lock()
		// Re-check under the hub lock: a concurrent Join may have
		// repopulated the channel.
		ch.mu.Lock()
		if len(ch.members) == 0 {
			delete(h.channels, ch.matchID)
		}
		ch.mu.Unlock()
		h.mu.Unlock()
	}
}

// Handle is one participant's scoped acquisition of a match channel.
type Handle struct {
	hub  *Hub
	ch   *matchChannel
	self *member

	leaveOnce sync.Once
}

// Events returns the ordered stream of events from the other participant
// (and membership changes). The channel is closed after Leave or after
// this handle is superseded by a rejoin.
func (h *Handle) Events() <-chan Event {
	return h.self.events
}

// Send broadcasts an event to the other participant, best-effort. The
// From field is stamped with the sender's identity.
func (h *Handle) Send(ev Event) error {
	ev.From = h.self.id

	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()

	if h.self.closed {
		return ErrChannelClosed
	}
	if current, ok := h.ch.members[h.self.id]; !ok || current != h.self {
		return ErrNotMember
	}
	for id, other := range h.ch.members {
		if id == h.self.id {
			continue
		}
		deliver(other, ev)
	}
	return nil
}

// PeerPresent reports whether the other participant is currently joined.
func (h *Handle) PeerPresent() bool {
	h.ch.mu.Lock()
	defer h.ch.mu.Unlock()
	for id := range h.ch.members {
		if id != h.self.id {
			return true
		}
	}
	return false
}

// Leave releases the handle. Idempotent; must be called on every exit
// path so idle channels do not leak.
func (h *Handle) Leave() {
	h.leaveOnce.Do(func() {
		h.hub.remove(h.ch, h.self)
	})
}
