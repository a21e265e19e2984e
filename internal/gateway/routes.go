package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the HTTP surface: the WebSocket endpoint plus read-only
// lookups the lobby page uses before a socket exists.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", g.handleHealthz)
	r.Get("/games", g.handleGames)
	r.Get("/stats/{walletID}", g.handleWalletStats)
	r.Get("/ws", g.HandleWS)

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.health.HealthCheck(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (g *Gateway) handleGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, g.registry.Descriptors())
}

func (g *Gateway) handleWalletStats(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "walletID")

	stats, err := g.stats.GetWalletStats(r.Context(), walletID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
