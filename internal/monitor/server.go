// Package monitor exposes the admin surface: JSON snapshots of system
// state and a websocket stream of live events. Every route except the
// health check requires the shared admin token.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mitsukisegondconpte/Supetelebot/internal/cache"
	"github.com/mitsukisegondconpte/Supetelebot/internal/events"
	"github.com/mitsukisegondconpte/Supetelebot/internal/store"
)

const tokenHeader = "X-Admin-Token"

type Server struct {
	hub    *events.Hub
	store  store.Store
	cache  *cache.Cache
	token  string
	logger *zap.Logger

	httpSrv *http.Server
}

// NewServer wires the admin endpoints. cache may be nil; snapshots then
// always hit the store.
func NewServer(addr, token string, hub *events.Hub, st store.Store, c *cache.Cache, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{hub: hub, store: st, cache: c, token: token, logger: logger}
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the websocket stream is long-lived
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/stats", s.withAuth(s.handleStats))
	mux.HandleFunc("/api/games/active", s.withAuth(s.handleActiveGames))
	mux.HandleFunc("/api/activities", s.withAuth(s.handleActivities))
	mux.HandleFunc("/api/users/block", s.withAuth(s.handleBlockUser))
	mux.HandleFunc("/ws", s.withAuth(s.handleStream))
	return mux
}

// Run serves until ctx is done, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(tokenHeader)
		if token == "" {
			// Browser websocket clients cannot set headers.
			token = r.URL.Query().Get("token")
		}
		if s.token == "" || token != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cache != nil {
		if st, err := s.cache.Stats(ctx); err == nil {
			s.writeJSON(w, st)
			return
		}
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.fail(w, "collect stats", err)
		return
	}
	if s.cache != nil {
		if err := s.cache.SetStats(ctx, st); err != nil {
			s.logger.Warn("stats cache write failed", zap.Error(err))
		}
	}
	s.writeJSON(w, st)
}

func (s *Server) handleActiveGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.store.ListActiveGames(r.Context(), 100)
	if err != nil {
		s.fail(w, "list active games", err)
		return
	}
	s.writeJSON(w, map[string]any{"games": games, "count": len(games)})
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentActivities(r.Context(), 50)
	if err != nil {
		s.fail(w, "list activities", err)
		return
	}
	s.writeJSON(w, map[string]any{"activities": recs, "count": len(recs)})
}

// handleBlockUser toggles a user's access to the bot.
func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		TelegramID int64 `json:"telegram_id"`
		Blocked    bool  `json:"blocked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TelegramID == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.store.SetUserBlocked(r.Context(), req.TelegramID, req.Blocked); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		s.fail(w, "block user", err)
		return
	}
	s.logger.Info("user access changed",
		zap.Int64("telegram_id", req.TelegramID),
		zap.Bool("blocked", req.Blocked))
	s.writeJSON(w, map[string]any{"telegram_id": req.TelegramID, "blocked": req.Blocked})
}

// handleStream pushes hub events over a websocket until the client goes
// away. A slow client loses events at the hub, never here.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // admin origin is guarded by the token
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
