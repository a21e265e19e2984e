package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// TestJoinAndPresence checks the presence sync on join: the first member
// hears about the second, and the second hears who was already there.
func TestJoinAndPresence(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	defer a.Leave()
	assert.False(t, a.PeerPresent())

	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	evA := recvEvent(t, a.Events())
	assert.Equal(t, KindPresence, evA.Kind)
	assert.Equal(t, "bbb", evA.From)
	assert.True(t, evA.Joined)

	evB := recvEvent(t, b.Events())
	assert.Equal(t, KindPresence, evB.Kind)
	assert.Equal(t, "aaa", evB.From)
	assert.True(t, evB.Joined)

	assert.True(t, a.PeerPresent())
	assert.True(t, b.PeerPresent())
}

// TestThirdJoinRejected enforces the two-participant cap.
func TestThirdJoinRejected(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	defer a.Leave()
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	_, err = hub.Join("m1", "ccc")
	assert.ErrorIs(t, err, ErrChannelFull)
}

// TestSendStampsSenderAndOrders verifies From stamping and per-sender
// FIFO delivery.
func TestSendStampsSenderAndOrders(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	defer a.Leave()
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	recvEvent(t, b.Events()) // drain presence

	require.NoError(t, a.Send(Event{Kind: KindCommit, Round: 1, Commitment: "c1"}))
	require.NoError(t, a.Send(Event{Kind: KindReveal, Round: 1, Move: "rock", Nonce: "n1"}))

	first := recvEvent(t, b.Events())
	second := recvEvent(t, b.Events())

	assert.Equal(t, KindCommit, first.Kind)
	assert.Equal(t, "aaa", first.From)
	assert.Equal(t, KindReveal, second.Kind)
	assert.Equal(t, "aaa", second.From, "sender identity is stamped, not trusted")
}

// TestLeaveEmitsDeparture delivers a left-presence event to the peer and
// closes the leaver's stream. Leave is idempotent.
func TestLeaveEmitsDeparture(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	recvEvent(t, a.Events()) // drain presence
	recvEvent(t, b.Events())

	a.Leave()
	a.Leave()

	ev := recvEvent(t, b.Events())
	assert.Equal(t, KindPresence, ev.Kind)
	assert.Equal(t, "aaa", ev.From)
	assert.False(t, ev.Joined)
	assert.False(t, b.PeerPresent())

	_, open := <-a.Events()
	assert.False(t, open, "leaver's stream must be closed")

	assert.ErrorIs(t, a.Send(Event{Kind: KindCommit}), ErrChannelClosed)
}

// TestRejoinSupersedes replaces a member's previous handle on rejoin,
// and the stale handle can neither send nor evict its replacement.
func TestRejoinSupersedes(t *testing.T) {
	hub := NewHub()

	stale, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	fresh, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	defer fresh.Leave()

	_, open := <-stale.Events()
	// Drain to closure: the stale stream may hold the earlier presence
	// event before the close.
	for open {
		_, open = <-stale.Events()
	}

	assert.Error(t, stale.Send(Event{Kind: KindCommit}))

	// Leaving the stale handle must not detach the fresh one.
	stale.Leave()
	assert.True(t, b.PeerPresent())
	require.NoError(t, fresh.Send(Event{Kind: KindCommit, Round: 1, Commitment: "c"}))
}

// TestChannelTornDownWhenEmpty recreates the channel after both sides
// left, rather than rejecting the next pairing for the same match id.
func TestChannelTornDownWhenEmpty(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)

	a.Leave()
	b.Leave()

	c, err := hub.Join("m1", "ccc")
	require.NoError(t, err)
	defer c.Leave()
	d, err := hub.Join("m1", "ddd")
	require.NoError(t, err)
	defer d.Leave()
}

// TestDeliveryDropsWhenBufferFull keeps Send non-blocking: once the
// receiver's buffer is full, further events are dropped, not queued
// forever.
func TestDeliveryDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()

	a, err := hub.Join("m1", "aaa")
	require.NoError(t, err)
	defer a.Leave()
	b, err := hub.Join("m1", "bbb")
	require.NoError(t, err)
	defer b.Leave()

	// One presence event is already buffered for each side.
	for i := 0; i < outboxSize*2; i++ {
		require.NoError(t, a.Send(Event{Kind: KindCommit, Round: i}))
	}

	count := 0
	for {
		select {
		case <-b.Events():
			count++
		default:
			assert.Equal(t, outboxSize, count)
			return
		}
	}
}
