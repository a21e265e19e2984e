package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"astra-arena/internal/channel"
	"astra-arena/internal/config"
	"astra-arena/internal/game"
	"astra-arena/internal/identity"
	"astra-arena/internal/pkg/lock"
	"astra-arena/internal/queue"
	"astra-arena/internal/repository"
	"astra-arena/internal/service"
)

const writeTimeout = 3 * time.Second

// HealthChecker reports backing store liveness for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Gateway exposes the matchmaking and match lifecycle over a WebSocket
// per client, plus a small HTTP surface for health and read-only lookups.
type Gateway struct {
	cfg      *config.Config
	issuer   *identity.Issuer
	queue    *queue.Service
	hub      *channel.Hub
	registry *game.Registry
	recorder *service.Recorder
	locks    *lock.ClientLock
	stats    *repository.StatsRepository
	health   HealthChecker
}

// New wires a Gateway from its collaborators.
func New(cfg *config.Config, issuer *identity.Issuer, q *queue.Service, hub *channel.Hub, registry *game.Registry, recorder *service.Recorder, locks *lock.ClientLock, stats *repository.StatsRepository, health HealthChecker) *Gateway {
	return &Gateway{
		cfg:      cfg,
		issuer:   issuer,
		queue:    q,
		hub:      hub,
		registry: registry,
		recorder: recorder,
		locks:    locks,
		stats:    stats,
		health:   health,
	}
}

// HandleWS upgrades the connection and runs one client session over it.
// The session's lifetime is the connection's lifetime: when the socket
// drops, the search is cancelled or the match abandoned.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	clientID, minted := g.issuer.Resolve(r.URL.Query().Get("client_id"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browsers talk to us cross-origin during local development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	logger := log.With().Str("client_id", clientID).Logger()
	logger.Info().Bool("minted", minted).Msg("Client connected")

	ctx := r.Context()
	if err := g.stats.EnsureProfile(ctx, clientID); err != nil {
		logger.Warn().Err(err).Msg("Profile ensure failed")
	}

	sess := service.NewSession(clientID, g.cfg, g.queue, g.hub, g.registry, g.recorder, g.locks)
	defer sess.Close()

	hello := ServerMessage{Type: MsgHello, Hello: &HelloPayload{
		ClientID: clientID,
		Minted:   minted,
		Scope:    g.issuer.Scope(),
		Games:    g.registry.IDs(),
	}}
	if err := writeMessage(ctx, conn, hello); err != nil {
		return
	}

	// Writer goroutine: every session snapshot becomes a state frame.
	writeCtx, writeCancel := context.WithCancel(ctx)
	defer writeCancel()
	go func() {
		for {
			select {
			case <-writeCtx.Done():
				return
			case snap := <-sess.Updates():
				msg := ServerMessage{Type: MsgState, State: &snap}
				if err := writeMessage(writeCtx, conn, msg); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Info().Msg("Client disconnected")
			default:
				logger.Debug().Err(err).Msg("Read failed, closing session")
			}
			return
		}

		var cm ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			g.writeError(ctx, conn, "bad json")
			continue
		}

		if err := g.dispatch(ctx, sess, clientID, cm); err != nil {
			g.writeError(ctx, conn, err.Error())
		}
	}
}

// dispatch routes one client frame to the session.
func (g *Gateway) dispatch(ctx context.Context, sess *service.Session, clientID string, cm ClientMessage) error {
	switch cm.Type {
	case MsgStartSearch:
		return sess.StartSearch(ctx, cm.GameID, cm.BuyIn)
	case MsgCancelSearch:
		return sess.CancelSearch()
	case MsgChooseMove:
		return sess.ChooseMove(cm.Move)
	case MsgNextRound:
		return sess.RequestNextRound()
	case MsgAttachWallet:
		return g.stats.AttachWallet(ctx, clientID, cm.WalletID, cm.DisplayName)
	default:
		return errUnknownType(cm.Type)
	}
}

func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	_ = writeMessage(ctx, conn, ServerMessage{Type: MsgError, Error: msg})
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

type errUnknownType string

func (e errUnknownType) Error() string {
	return "unknown message type: " + string(e)
}
