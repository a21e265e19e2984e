package rps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astra-arena/internal/channel"
	"astra-arena/internal/game"
	"astra-arena/internal/model"
)

// memSender queues outbound events instead of delivering them, so tests
// control interleaving and can inspect exactly what left each engine.
type memSender struct {
	from string
	out  []channel.Event
}

func (s *memSender) Send(ev channel.Event) error {
	ev.From = s.from
	s.out = append(s.out, ev)
	return nil
}

func (s *memSender) pop() (channel.Event, bool) {
	if len(s.out) == 0 {
		return channel.Event{}, false
	}
	ev := s.out[0]
	s.out = s.out[1:]
	return ev, true
}

const (
	hostID  = "aaa"
	guestID = "bbb"
)

// newPair builds a host and guest engine joined by in-memory senders.
func newPair(t *testing.T, threshold, maxRounds int) (host, guest game.Engine, hostOut, guestOut *memSender) {
	t.Helper()

	hostOut = &memSender{from: hostID}
	guestOut = &memSender{from: guestID}

	var err error
	host, err = NewEngine(game.Config{
		MatchID:          "m1",
		SelfID:           hostID,
		OpponentID:       guestID,
		Role:             model.RoleHost,
		WinningThreshold: threshold,
		MaxRounds:        maxRounds,
		Sender:           hostOut,
	})
	require.NoError(t, err)

	guest, err = NewEngine(game.Config{
		MatchID:          "m1",
		SelfID:           guestID,
		OpponentID:       hostID,
		Role:             model.RoleGuest,
		WinningThreshold: threshold,
		MaxRounds:        maxRounds,
		Sender:           guestOut,
	})
	require.NoError(t, err)

	return host, guest, hostOut, guestOut
}

// pump delivers queued events across the pair until both queues drain,
// preserving per-sender order.
func pump(t *testing.T, host, guest game.Engine, hostOut, guestOut *memSender) {
	t.Helper()
	for len(hostOut.out) > 0 || len(guestOut.out) > 0 {
		if ev, ok := hostOut.pop(); ok {
			require.NoError(t, guest.HandleEvent(ev))
		}
		if ev, ok := guestOut.pop(); ok {
			require.NoError(t, host.HandleEvent(ev))
		}
	}
}

// playRound drives one full round: both sides choose, events flow.
func playRound(t *testing.T, host, guest game.Engine, hostOut, guestOut *memSender, hostMove, guestMove string) {
	t.Helper()
	require.NoError(t, host.Choose(hostMove))
	require.NoError(t, guest.Choose(guestMove))
	pump(t, host, guest, hostOut, guestOut)
}

// TestBestOfThreeHostSweep plays a full match where the host wins the
// first two rounds. Both engines must finish with the identical absolute
// result.
func TestBestOfThreeHostSweep(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 2, 5)

	playRound(t, host, guest, hostOut, guestOut, "rock", "scissors")
	assert.False(t, host.Finished())
	assert.Equal(t, 1, host.Snapshot().SelfScore)
	assert.Equal(t, 1, guest.Snapshot().OpponentScore)

	require.NoError(t, host.RequestNextRound())
	pump(t, host, guest, hostOut, guestOut)
	assert.Equal(t, 2, host.Snapshot().Round)
	assert.Equal(t, 2, guest.Snapshot().Round)

	playRound(t, host, guest, hostOut, guestOut, "paper", "rock")

	require.True(t, host.Finished())
	require.True(t, guest.Finished())

	hostRes := host.Result()
	guestRes := guest.Result()
	require.NotNil(t, hostRes)
	require.NotNil(t, guestRes)

	assert.Equal(t, model.OutcomeHostWin, hostRes.Outcome)
	assert.Equal(t, 2, hostRes.HostScore)
	assert.Equal(t, 0, hostRes.GuestScore)
	assert.Equal(t, *hostRes, *guestRes)
}

// TestGuestWinWithTiedRound mixes a tie in: ties increment neither
// score and the round still completes and advances.
func TestGuestWinWithTiedRound(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 2, 5)

	playRound(t, host, guest, hostOut, guestOut, "rock", "rock")
	snap := host.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, 0, snap.SelfScore)
	assert.Equal(t, 0, snap.OpponentScore)

	require.NoError(t, guest.RequestNextRound())
	pump(t, host, guest, hostOut, guestOut)

	playRound(t, host, guest, hostOut, guestOut, "rock", "paper")
	require.NoError(t, host.RequestNextRound())
	pump(t, host, guest, hostOut, guestOut)

	playRound(t, host, guest, hostOut, guestOut, "scissors", "rock")

	require.True(t, host.Finished())
	res := host.Result()
	require.NotNil(t, res)
	assert.Equal(t, model.OutcomeGuestWin, res.Outcome)
	assert.Equal(t, 0, res.HostScore)
	assert.Equal(t, 2, res.GuestScore)
}

// TestDrawAtMaxRounds exhausts the round budget with ties; the match
// ends in a draw rather than running forever.
func TestDrawAtMaxRounds(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 2, 3)

	for round := 1; round <= 3; round++ {
		playRound(t, host, guest, hostOut, guestOut, "paper", "paper")
		if round < 3 {
			require.NoError(t, host.RequestNextRound())
			pump(t, host, guest, hostOut, guestOut)
		}
	}

	require.True(t, host.Finished())
	require.True(t, guest.Finished())
	res := host.Result()
	require.NotNil(t, res)
	assert.Equal(t, model.OutcomeDraw, res.Outcome)
	assert.Equal(t, 0, res.HostScore)
	assert.Equal(t, 0, res.GuestScore)
}

// TestChooseWhileSealed rejects a second move in the same round.
func TestChooseWhileSealed(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	require.NoError(t, host.Choose("rock"))
	assert.ErrorIs(t, host.Choose("paper"), ErrRoundNotIdle)
}

// TestChooseInvalidMove rejects junk before anything is broadcast.
func TestChooseInvalidMove(t *testing.T) {
	host, _, hostOut, _ := newPair(t, 2, 5)

	assert.ErrorIs(t, host.Choose("lizard"), ErrInvalidMove)
	assert.Empty(t, hostOut.out)
}

// TestRevealWithheldUntilOpponentCommits verifies the protocol gate: a
// sealed move produces only a commit frame until the opponent's
// commitment arrives, then exactly one reveal.
func TestRevealWithheldUntilOpponentCommits(t *testing.T) {
	host, _, hostOut, _ := newPair(t, 2, 5)

	require.NoError(t, host.Choose("rock"))
	require.Len(t, hostOut.out, 1)
	assert.Equal(t, channel.KindCommit, hostOut.out[0].Kind)
	assert.NotEmpty(t, hostOut.out[0].Commitment)
	assert.Empty(t, hostOut.out[0].Move, "clear move must not ride the commit frame")
	assert.Empty(t, hostOut.out[0].Nonce)

	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:       channel.KindCommit,
		From:       guestID,
		Round:      1,
		Commitment: Commitment(MoveScissors, "n1"),
	}))

	require.Len(t, hostOut.out, 2)
	assert.Equal(t, channel.KindReveal, hostOut.out[1].Kind)
	assert.Equal(t, "rock", hostOut.out[1].Move)
	assert.NotEmpty(t, hostOut.out[1].Nonce)
}

// TestRevealBeforeCommitIgnored drops a reveal that has no commitment on
// record instead of resolving a round from it.
func TestRevealBeforeCommitIgnored(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	require.NoError(t, host.Choose("rock"))
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:  channel.KindReveal,
		From:  guestID,
		Round: 1,
		Move:  "scissors",
		Nonce: "n1",
	}))

	snap := host.Snapshot()
	assert.Equal(t, StateCommitted, snap.State)
	assert.Equal(t, 0, snap.SelfScore)
}

// TestCommitMismatchResolvesAnyway pins the fail-open policy: a reveal
// that does not hash back to the stored commitment is flagged but the
// round still resolves from the revealed move.
func TestCommitMismatchResolvesAnyway(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	require.NoError(t, host.Choose("rock"))
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:       channel.KindCommit,
		From:       guestID,
		Round:      1,
		Commitment: "deadbeef",
	}))
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:  channel.KindReveal,
		From:  guestID,
		Round: 1,
		Move:  "scissors",
		Nonce: "whatever",
	}))

	snap := host.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, 1, snap.SelfScore, "rock beats scissors regardless of the mismatch")
}

// TestDuplicateEventsIdempotent feeds each opponent frame twice; scores
// must not double-count.
func TestDuplicateEventsIdempotent(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	commit := channel.Event{
		Kind:       channel.KindCommit,
		From:       guestID,
		Round:      1,
		Commitment: Commitment(MoveScissors, "n1"),
	}
	reveal := channel.Event{
		Kind:  channel.KindReveal,
		From:  guestID,
		Round: 1,
		Move:  "scissors",
		Nonce: "n1",
	}

	require.NoError(t, host.Choose("rock"))
	for _, ev := range []channel.Event{commit, commit, reveal, reveal, commit} {
		require.NoError(t, host.HandleEvent(ev))
	}

	snap := host.Snapshot()
	assert.Equal(t, 1, snap.SelfScore)
	assert.Equal(t, StateComplete, snap.State)
}

// TestConflictingSecondCommitmentIgnored keeps the first commitment of a
// round; a different one from the same round is dropped.
func TestConflictingSecondCommitmentIgnored(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	first := Commitment(MoveScissors, "n1")
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind: channel.KindCommit, From: guestID, Round: 1, Commitment: first,
	}))
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind: channel.KindCommit, From: guestID, Round: 1, Commitment: Commitment(MovePaper, "n2"),
	}))

	// Only the first commitment verifies: the round resolves from a
	// reveal matching it.
	require.NoError(t, host.Choose("rock"))
	require.NoError(t, host.HandleEvent(channel.Event{
		Kind: channel.KindReveal, From: guestID, Round: 1, Move: "scissors", Nonce: "n1",
	}))
	assert.Equal(t, 1, host.Snapshot().SelfScore)
}

// TestImplicitAdvanceOnNextRoundCommit treats an opponent commit for the
// following round as the advance signal, so a lost advance broadcast
// cannot wedge the match.
func TestImplicitAdvanceOnNextRoundCommit(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 2, 5)

	playRound(t, host, guest, hostOut, guestOut, "rock", "rock")
	require.Equal(t, StateComplete, host.Snapshot().State)

	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:       channel.KindCommit,
		From:       guestID,
		Round:      2,
		Commitment: Commitment(MovePaper, "n2"),
	}))

	snap := host.Snapshot()
	assert.Equal(t, 2, snap.Round)
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.OpponentCommitted)
}

// TestRequestNextRoundGuards rejects advancement outside a completed
// round and after the match finished.
func TestRequestNextRoundGuards(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 1, 1)

	assert.ErrorIs(t, host.RequestNextRound(), ErrRoundNotComplete)

	playRound(t, host, guest, hostOut, guestOut, "rock", "scissors")
	require.True(t, host.Finished())
	assert.ErrorIs(t, host.RequestNextRound(), ErrMatchFinished)
	assert.ErrorIs(t, host.Choose("rock"), ErrMatchFinished)
}

// TestRepeatAdvanceRebroadcasts re-sends the prior round's advance while
// waiting alone at the top of a round, and only then.
func TestRepeatAdvanceRebroadcasts(t *testing.T) {
	host, guest, hostOut, guestOut := newPair(t, 2, 5)

	host.RepeatAdvance()
	assert.Empty(t, hostOut.out, "nothing to repeat on round 1")

	playRound(t, host, guest, hostOut, guestOut, "rock", "rock")
	require.NoError(t, host.RequestNextRound())
	// Drop the advance on the floor instead of pumping it; the guest is
	// now stuck on round 1.
	hostOut.out = nil

	host.RepeatAdvance()
	require.Len(t, hostOut.out, 1)
	assert.Equal(t, channel.KindAdvance, hostOut.out[0].Kind)
	assert.Equal(t, 1, hostOut.out[0].Round)

	require.NoError(t, guest.HandleEvent(hostOut.out[0]))
	assert.Equal(t, 2, guest.Snapshot().Round)
}

// TestOwnEventsIgnored drops loopback frames.
func TestOwnEventsIgnored(t *testing.T) {
	host, _, _, _ := newPair(t, 2, 5)

	require.NoError(t, host.HandleEvent(channel.Event{
		Kind:       channel.KindCommit,
		From:       hostID,
		Round:      1,
		Commitment: "self",
	}))
	assert.False(t, host.Snapshot().OpponentCommitted)
}

// errSender fails every broadcast.
type errSender struct{}

func (errSender) Send(channel.Event) error { return errors.New("channel down") }

// TestChooseRollsBackOnSendFailure leaves the round idle when the
// commit broadcast fails, so the player can retry.
func TestChooseRollsBackOnSendFailure(t *testing.T) {
	eng, err := NewEngine(game.Config{
		MatchID:          "m1",
		SelfID:           hostID,
		OpponentID:       guestID,
		Role:             model.RoleHost,
		WinningThreshold: 2,
		MaxRounds:        5,
		Sender:           errSender{},
	})
	require.NoError(t, err)

	require.Error(t, eng.Choose("rock"))
	assert.Equal(t, StateIdle, eng.Snapshot().State)
}

// TestNewEngineValidation rejects configs an engine cannot run with.
func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(game.Config{Role: model.RoleHost})
	assert.Error(t, err, "missing sender")

	_, err = NewEngine(game.Config{Role: "spectator", Sender: &memSender{}})
	assert.Error(t, err, "invalid role")

	// Degenerate budgets fall back to best-of-3.
	eng, err := NewEngine(game.Config{
		Role: model.RoleHost, Sender: &memSender{from: hostID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, eng.Snapshot().Round)
}
