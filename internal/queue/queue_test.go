package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"astra-arena/internal/model"
	"astra-arena/internal/repository"
)

// TestAssignRoles pins the deterministic rule: lexicographically-first
// identity hosts.
func TestAssignRoles(t *testing.T) {
	host, guest := AssignRoles("aaa", "bbb")
	assert.Equal(t, "aaa", host)
	assert.Equal(t, "bbb", guest)

	host, guest = AssignRoles("bbb", "aaa")
	assert.Equal(t, "aaa", host)
	assert.Equal(t, "bbb", guest)
}

// TestAssignRolesSymmetryProperty checks both candidates compute the
// identical assignment regardless of argument order.
func TestAssignRolesSymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.StringMatching(`[a-z0-9-]{1,36}`).Draw(t, "a")
		b := rapid.StringMatching(`[a-z0-9-]{1,36}`).Draw(t, "b")

		h1, g1 := AssignRoles(a, b)
		h2, g2 := AssignRoles(b, a)

		assert.Equal(t, h1, h2)
		assert.Equal(t, g1, g2)
		assert.LessOrEqual(t, h1, g1)
	})
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	members []model.QueueEntry
	matched []string // client ids marked matched
	markErr error
}

func (f *fakeStore) Enqueue(ctx context.Context, clientID, gameID string, buyIn float64) (*model.QueueEntry, error) {
	return nil, errors.New("not used")
}

func (f *fakeStore) Cancel(ctx context.Context, clientID string) error { return nil }

func (f *fakeStore) MarkMatched(ctx context.Context, matchID, gameID string, buyIn float64, clientIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.matched = append(f.matched, clientIDs...)
	return nil
}

func (f *fakeStore) BucketMembers(ctx context.Context, gameID string, buyIn float64) ([]model.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.QueueEntry, len(f.members))
	copy(out, f.members)
	return out, nil
}

func (f *fakeStore) Position(ctx context.Context, entryID string) (int, error) { return 1, nil }

// fakeMatchStore records created matches and feeds announcements back
// through the fake feed, like pg_notify would.
type fakeMatchStore struct {
	mu        sync.Mutex
	created   []*model.Match
	createErr error
	feed      *fakeFeed
}

func (f *fakeMatchStore) Create(ctx context.Context, m *model.Match) error {
	f.mu.Lock()
	if f.createErr != nil {
		defer f.mu.Unlock()
		return f.createErr
	}
	f.created = append(f.created, m)
	f.mu.Unlock()
	return f.Announce(ctx, m)
}

func (f *fakeMatchStore) Announce(ctx context.Context, m *model.Match) error {
	for _, p := range []struct {
		clientID, role string
	}{
		{m.HostID, model.RoleHost},
		{m.GuestID, model.RoleGuest},
	} {
		payload, _ := json.Marshal(repository.ParticipantEventPayload{
			MatchID:  m.ID,
			ClientID: p.clientID,
			Role:     p.role,
			HostID:   m.HostID,
			GuestID:  m.GuestID,
			GameID:   m.GameID,
			BuyIn:    m.BuyIn,
		})
		f.feed.publish(repository.NotifyParticipantEvents, payload)
	}
	return nil
}

// fakeFeed fans published payloads out to matching subscribers.
type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	channel string
	filter  func([]byte) bool
	out     chan []byte
}

func (f *fakeFeed) Subscribe(channel string, filter func(payload []byte) bool) (<-chan []byte, func()) {
	sub := &fakeSub{channel: channel, filter: filter, out: make(chan []byte, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	return sub.out, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s == sub {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				close(sub.out)
				return
			}
		}
	}
}

func (f *fakeFeed) publish(channel string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.channel == channel && s.filter(payload) {
			select {
			case s.out <- payload:
			default:
			}
		}
	}
}

func entry(clientID string, at time.Time) model.QueueEntry {
	return model.QueueEntry{
		ID:        "e-" + clientID,
		ClientID:  clientID,
		GameID:    "rps",
		BuyIn:     5,
		Status:    model.QueueStatusQueued,
		CreatedAt: at,
	}
}

// TestWaitForMatchPairsTwoLowest runs both candidates' sides of the
// pairing protocol over a shared fake store and feed. The host mints
// exactly one match; the guest resolves from the announcement; both
// agree on every field.
func TestWaitForMatchPairsTwoLowest(t *testing.T) {
	feed := &fakeFeed{}
	matches := &fakeMatchStore{feed: feed}
	base := time.Now()
	store := &fakeStore{members: []model.QueueEntry{
		entry("bbb", base),
		entry("aaa", base.Add(time.Second)),
		entry("ccc", base.Add(2*time.Second)), // third wheel keeps waiting
	}}
	svc := NewService(store, matches, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aaaEntry := entry("aaa", base.Add(time.Second))
	bbbEntry := entry("bbb", base)

	type outcome struct {
		found *Found
		err   error
	}
	results := make(chan outcome, 2)
	for _, e := range []model.QueueEntry{aaaEntry, bbbEntry} {
		e := e
		go func() {
			f, err := svc.WaitForMatch(ctx, &e)
			results <- outcome{f, err}
		}()
	}

	var found []*Found
	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		found = append(found, res.found)
	}

	// aaa sorts first, so aaa hosts regardless of queue position.
	byRole := map[string]*Found{}
	for _, f := range found {
		byRole[f.Role] = f
	}
	require.Contains(t, byRole, model.RoleHost)
	require.Contains(t, byRole, model.RoleGuest)

	hostFound, guestFound := byRole[model.RoleHost], byRole[model.RoleGuest]
	assert.Equal(t, "aaa", hostFound.Match.HostID)
	assert.Equal(t, "bbb", hostFound.Match.GuestID)
	assert.Equal(t, "bbb", hostFound.OpponentID)
	assert.Equal(t, "aaa", guestFound.OpponentID)
	assert.Equal(t, hostFound.Match.ID, guestFound.Match.ID)

	matches.mu.Lock()
	assert.Len(t, matches.created, 1, "host mints exactly one match")
	matches.mu.Unlock()

	store.mu.Lock()
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, store.matched)
	store.mu.Unlock()
}

// TestWaitForMatchGuestIgnoresForeignAnnouncements: the subscription
// filter keys on the waiter's own identity, so a pairing between two
// other clients never resolves this wait.
func TestWaitForMatchGuestIgnoresForeignAnnouncements(t *testing.T) {
	feed := &fakeFeed{}
	matches := &fakeMatchStore{feed: feed}
	store := &fakeStore{} // empty bucket, nothing to pair
	svc := NewService(store, matches, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	e := entry("zzz", time.Now())
	go func() {
		_, err := svc.WaitForMatch(ctx, &e)
		done <- err
	}()

	// An announcement for someone else entirely.
	require.NoError(t, matches.Announce(ctx, &model.Match{
		ID: "m-other", GameID: "rps", BuyIn: 5, HostID: "aaa", GuestID: "bbb",
	}))

	err := <-done
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestWaitForMatchSpectatorKeepsWaiting: a candidate who is not among
// the two lowest timestamps does not pair.
func TestWaitForMatchSpectatorKeepsWaiting(t *testing.T) {
	feed := &fakeFeed{}
	matches := &fakeMatchStore{feed: feed}
	base := time.Now()
	store := &fakeStore{members: []model.QueueEntry{
		entry("aaa", base),
		entry("bbb", base.Add(time.Second)),
		entry("ccc", base.Add(2*time.Second)),
	}}
	svc := NewService(store, matches, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	e := entry("ccc", base.Add(2*time.Second))
	_, err := svc.WaitForMatch(ctx, &e)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	matches.mu.Lock()
	assert.Empty(t, matches.created, "spectator must not mint")
	matches.mu.Unlock()
}

// TestWaitForMatchRetriesCreateWithSameID: a transient store failure on
// minting retries with the identical match id on the next snapshot.
func TestWaitForMatchRetriesCreateWithSameID(t *testing.T) {
	feed := &fakeFeed{}
	matches := &fakeMatchStore{feed: feed, createErr: errors.New("db down")}
	base := time.Now()
	store := &fakeStore{members: []model.QueueEntry{
		entry("aaa", base),
		entry("bbb", base.Add(time.Second)),
	}}
	svc := NewService(store, matches, feed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := entry("aaa", base)
	done := make(chan *Found, 1)
	go func() {
		f, err := svc.WaitForMatch(ctx, &e)
		require.NoError(t, err)
		done <- f
	}()

	// Let the first create attempt fail, then heal the store and nudge
	// the bucket so the observer requeries.
	time.Sleep(50 * time.Millisecond)
	matches.mu.Lock()
	matches.createErr = nil
	matches.mu.Unlock()

	payload, _ := json.Marshal(repository.QueueEventPayload{GameID: "rps", BuyIn: 5})
	feed.publish(repository.NotifyQueueEvents, payload)

	f := <-done
	matches.mu.Lock()
	require.Len(t, matches.created, 1)
	assert.Equal(t, f.Match.ID, matches.created[0].ID)
	matches.mu.Unlock()
}

// TestEnqueueWrapsStoreFailure surfaces store trouble behind the
// ErrEnqueue sentinel so callers can branch on it.
func TestEnqueueWrapsStoreFailure(t *testing.T) {
	svc := NewService(&failingStore{}, nil, nil)
	_, err := svc.Enqueue(context.Background(), "aaa", "rps", 5)
	assert.ErrorIs(t, err, ErrEnqueue)
}

type failingStore struct{ fakeStore }

func (f *failingStore) Enqueue(ctx context.Context, clientID, gameID string, buyIn float64) (*model.QueueEntry, error) {
	return nil, errors.New("connection refused")
}
