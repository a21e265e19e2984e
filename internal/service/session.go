package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"astra-arena/internal/channel"
	"astra-arena/internal/config"
	"astra-arena/internal/game"
	"astra-arena/internal/model"
	"astra-arena/internal/pkg/lock"
	"astra-arena/internal/queue"
)

// Phase enumerates the states of one client lifecycle.
type Phase string

// Session phases. PhaseTimeout is the "no opponent found" outcome,
// surfaced as a phase rather than an error so the player can retry.
const (
	PhaseIdle      Phase = "idle"
	PhaseSearching Phase = "searching"
	PhaseFound     Phase = "found"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
	PhaseCancelled Phase = "cancelled"
	PhaseTimeout   Phase = "timeout"
	PhaseError     Phase = "error"
)

// Session errors.
var (
	ErrNotSearching = errors.New("no search in progress")
	ErrNotPlaying   = errors.New("no match in progress")
	ErrBuyInBounds  = errors.New("buy-in outside configured bounds")
)

// Snapshot is the observable session state for the presentation layer.
type Snapshot struct {
	Phase      Phase              `json:"phase"`
	QueuePos   int                `json:"queue_pos,omitempty"`
	MatchID    string             `json:"match_id,omitempty"`
	Role       string             `json:"role,omitempty"`
	OpponentID string             `json:"opponent_id,omitempty"`
	Round      game.RoundSnapshot `json:"round"`
	Outcome    *model.MatchResult `json:"outcome,omitempty"`
	// Confirmed distinguishes a durably recorded result from a
	// best-effort local payout display.
	Confirmed bool    `json:"confirmed"`
	Payout    float64 `json:"payout"`
	Error     string  `json:"error,omitempty"`
}

// Session drives one player's client lifecycle: pairing, match channel,
// round engine, result recording. All acquired resources (queue entry,
// channel handle) are released on every exit path.
type Session struct {
	clientID string
	cfg      *config.Config
	queue    *queue.Service
	hub      *channel.Hub
	registry *game.Registry
	recorder *Recorder
	locks    *lock.ClientLock

	mu         sync.Mutex
	snap       Snapshot
	engine     game.Engine
	match      *model.Match
	stopSearch context.CancelFunc
	running    bool

	updates chan Snapshot
}

// NewSession creates an idle session for a client identity.
func NewSession(clientID string, cfg *config.Config, q *queue.Service, hub *channel.Hub, registry *game.Registry, recorder *Recorder, locks *lock.ClientLock) *Session {
	return &Session{
		clientID: clientID,
		cfg:      cfg,
		queue:    q,
		hub:      hub,
		registry: registry,
		recorder: recorder,
		locks:    locks,
		snap:     Snapshot{Phase: PhaseIdle},
		updates:  make(chan Snapshot, 16),
	}
}

// Updates returns the stream of state snapshots. Delivery is lossy under
// pressure; consumers always receive the terminal snapshot because the
// session pushes it after settling.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// StartSearch requests pairing in the (gameID, buyIn) bucket and drives
// the whole lifecycle in the background. One active search or match per
// client identity.
func (s *Session) StartSearch(ctx context.Context, gameID string, buyIn float64) error {
	if !s.cfg.ValidBuyIn(buyIn) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrBuyInBounds,
			buyIn, s.cfg.Matchmaking.MinBuyIn, s.cfg.Matchmaking.MaxBuyIn)
	}
	if _, ok := s.registry.Describe(gameID); !ok {
		return fmt.Errorf("unknown game key: %s", gameID)
	}

	if !s.locks.TryLock(s.clientID) {
		return lock.ErrSessionActive
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.locks.Unlock(s.clientID)
		return lock.ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stopSearch = cancel
	s.snap = Snapshot{Phase: PhaseSearching}
	s.mu.Unlock()
	s.push()

	go s.run(runCtx, gameID, buyIn)
	return nil
}

// CancelSearch withdraws a pairing request. Only valid before a match is
// found; once both sides joined the channel, leaving is abandonment.
func (s *Session) CancelSearch() error {
	s.mu.Lock()
	if s.snap.Phase != PhaseSearching {
		s.mu.Unlock()
		return ErrNotSearching
	}
	cancel := s.stopSearch
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// ChooseMove seals the local player's move for the current round.
func (s *Session) ChooseMove(move string) error {
	s.mu.Lock()
	eng := s.engine
	phase := s.snap.Phase
	s.mu.Unlock()

	if eng == nil || phase != PhasePlaying {
		return ErrNotPlaying
	}
	if err := eng.Choose(move); err != nil {
		return err
	}
	s.refreshRound()
	return nil
}

// RequestNextRound advances both sides in lockstep after a completed
// round.
func (s *Session) RequestNextRound() error {
	s.mu.Lock()
	eng := s.engine
	phase := s.snap.Phase
	s.mu.Unlock()

	if eng == nil || phase != PhasePlaying {
		return ErrNotPlaying
	}
	if err := eng.RequestNextRound(); err != nil {
		return err
	}
	s.refreshRound()
	return nil
}

// Close tears the session down from any state.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.stopSearch
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run owns the full lifecycle. Its defers are the teardown guarantees:
// queue entry cancelled, channel left, client lock released, no matter
// which path exits.
func (s *Session) run(ctx context.Context, gameID string, buyIn float64) {
	defer s.locks.Unlock(s.clientID)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.engine = nil
		s.mu.Unlock()
	}()

	entry, err := s.queue.Enqueue(ctx, s.clientID, gameID, buyIn)
	if err != nil {
		log.Warn().Err(err).Str("client_id", s.clientID).Msg("Enqueue failed")
		s.setTerminal(PhaseError, err)
		return
	}
	// Cancellation must always reach the store, even on panic-free
	// early returns; a background context because ctx may already be
	// done when we get here.
	defer func() {
		cleanup, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := s.queue.Cancel(cleanup, s.clientID); err != nil {
			log.Warn().Err(err).Str("client_id", s.clientID).Msg("Queue cleanup failed")
		}
	}()

	stopPolling := s.startPositionPolling(ctx, entry.ID)
	pairCtx, cancelPairing := context.WithTimeout(ctx, s.cfg.Matchmaking.PairingTimeout)
	found, err := s.queue.WaitForMatch(pairCtx, entry)
	cancelPairing()
	stopPolling()

	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.setTerminal(PhaseCancelled, nil)
		case errors.Is(err, context.DeadlineExceeded):
			s.setTerminal(PhaseTimeout, nil)
		default:
			s.setTerminal(PhaseError, err)
		}
		return
	}

	s.mu.Lock()
	s.match = found.Match
	s.snap.Phase = PhaseFound
	s.snap.MatchID = found.Match.ID
	s.snap.Role = found.Role
	s.snap.OpponentID = found.OpponentID
	s.snap.QueuePos = 0
	s.mu.Unlock()
	s.push()

	s.play(ctx, found)
}

// play opens the match channel and drives the round engine to
// completion or abandonment.
func (s *Session) play(ctx context.Context, found *queue.Found) {
	handle, err := s.hub.Join(found.Match.ID, s.clientID)
	if err != nil {
		s.setTerminal(PhaseError, fmt.Errorf("failed to join match channel: %w", err))
		return
	}
	defer handle.Leave()

	eng, err := s.registry.New(found.Match.GameID, game.Config{
		MatchID:          found.Match.ID,
		SelfID:           s.clientID,
		OpponentID:       found.OpponentID,
		Role:             found.Role,
		WinningThreshold: s.cfg.Game.WinningThreshold,
		MaxRounds:        s.cfg.Game.MaxRounds,
		Sender:           handle,
	})
	if err != nil {
		s.setTerminal(PhaseError, err)
		return
	}

	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	if !s.awaitOpponent(ctx, handle, found) {
		return
	}

	s.mu.Lock()
	s.snap.Phase = PhasePlaying
	s.snap.Round = eng.Snapshot()
	s.mu.Unlock()
	s.push()

	// The advance-retry ticker covers the dropped-advance gap: while we
	// sit idle at the top of a round with no opponent commitment, the
	// previous advance broadcast is repeated.
	retry := time.NewTicker(s.cfg.Game.RoundAdvanceTimeout)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setTerminal(PhaseCancelled, nil)
			return

		case <-retry.C:
			eng.RepeatAdvance()

		case ev, ok := <-handle.Events():
			if !ok {
				s.setTerminal(PhaseError, errors.New("match channel lost"))
				return
			}
			if ev.Kind == channel.KindPresence && !ev.Joined {
				// Loss of the peer mid-match is not recoverable here:
				// report abandonment, no partial payout.
				if !eng.Finished() {
					log.Info().Str("match_id", found.Match.ID).Str("peer", ev.From).Msg("Opponent disconnected, match abandoned")
					s.setTerminal(PhaseError, errors.New("opponent disconnected"))
					return
				}
				continue
			}

			if err := eng.HandleEvent(ev); err != nil {
				log.Warn().Err(err).Str("match_id", found.Match.ID).Msg("Engine rejected event")
			}
			s.refreshRound()

			if eng.Finished() {
				s.finish(ctx, found.Match, eng.Result())
				return
			}
		}

		if eng.Finished() {
			s.finish(ctx, found.Match, eng.Result())
			return
		}
	}
}

// awaitOpponent waits for the peer's presence on the channel. The host
// re-announces the pairing on a bounded schedule in case the original
// announcement was lost; it never mints a second match id.
func (s *Session) awaitOpponent(ctx context.Context, handle *channel.Handle, found *queue.Found) bool {
	if handle.PeerPresent() {
		return true
	}

	announce := time.NewTicker(s.cfg.Matchmaking.AnnounceRetry)
	defer announce.Stop()

	deadline := time.NewTimer(s.cfg.Matchmaking.PairingTimeout)
	defer deadline.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			s.setTerminal(PhaseCancelled, nil)
			return false

		case <-deadline.C:
			s.setTerminal(PhaseError, errors.New("opponent never joined the match"))
			return false

		case <-announce.C:
			if found.Role != model.RoleHost {
				continue
			}
			if attempts >= s.cfg.Matchmaking.AnnounceAttempts {
				s.setTerminal(PhaseError, errors.New("opponent never joined the match"))
				return false
			}
			attempts++
			if err := s.queue.Announce(ctx, found.Match); err != nil {
				log.Warn().Err(err).Str("match_id", found.Match.ID).Msg("Pairing re-announcement failed")
			}

		case ev, ok := <-handle.Events():
			if !ok {
				s.setTerminal(PhaseError, errors.New("match channel lost"))
				return false
			}
			if ev.Kind == channel.KindPresence && ev.Joined {
				return true
			}
			// Anything else this early is a peer that joined before us
			// and already committed; feed it to the engine.
			s.mu.Lock()
			eng := s.engine
			s.mu.Unlock()
			if eng != nil {
				_ = eng.HandleEvent(ev)
			}
		}
	}
}

// finish records the outcome and surfaces payout to the presentation
// layer.
func (s *Session) finish(ctx context.Context, m *model.Match, tally *game.Result) {
	res, confirmed, err := s.recorder.Record(ctx, m, tally)
	if err != nil {
		log.Error().Err(err).Str("match_id", m.ID).Msg("Result recording failed on both paths")
	}

	payout := s.payoutFor(m, res)

	s.mu.Lock()
	s.snap.Phase = PhaseFinished
	s.snap.Outcome = res
	s.snap.Confirmed = confirmed
	s.snap.Payout = payout
	if err != nil {
		s.snap.Error = "result not saved"
	}
	if eng := s.engine; eng != nil {
		s.snap.Round = eng.Snapshot()
	}
	s.mu.Unlock()
	s.push()
}

// payoutFor maps the recorded result to the local player's amount.
func (s *Session) payoutFor(m *model.Match, res *model.MatchResult) float64 {
	if res == nil {
		return 0
	}
	if res.Outcome == model.OutcomeDraw {
		return m.BuyIn
	}
	if res.WinnerID != nil && *res.WinnerID == s.clientID {
		return res.WinnerPayout
	}
	return 0
}

// startPositionPolling refreshes the advisory queue position until the
// returned stop func is called.
func (s *Session) startPositionPolling(ctx context.Context, entryID string) func() {
	pollCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(s.cfg.Matchmaking.PositionPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				pos, err := s.queue.Position(pollCtx, entryID)
				if err != nil {
					continue
				}
				s.mu.Lock()
				changed := s.snap.QueuePos != pos && s.snap.Phase == PhaseSearching
				if changed {
					s.snap.QueuePos = pos
				}
				s.mu.Unlock()
				if changed {
					s.push()
				}
			}
		}
	}()

	return cancel
}

// refreshRound republishes the engine's round snapshot.
func (s *Session) refreshRound() {
	s.mu.Lock()
	if eng := s.engine; eng != nil {
		s.snap.Round = eng.Snapshot()
	}
	s.mu.Unlock()
	s.push()
}

// setTerminal moves the session into a terminal phase.
func (s *Session) setTerminal(phase Phase, err error) {
	s.mu.Lock()
	s.snap.Phase = phase
	if err != nil {
		s.snap.Error = err.Error()
	}
	s.mu.Unlock()
	s.push()
}

// push publishes the current snapshot, dropping when the consumer lags.
func (s *Session) push() {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()

	select {
	case s.updates <- snap:
	default:
	}
}
