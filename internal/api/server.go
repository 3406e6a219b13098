package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"coinsim-server/internal/archive"
	"coinsim-server/internal/auth"
	"coinsim-server/internal/config"
	"coinsim-server/internal/feed"
	"coinsim-server/internal/metrics"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"go.uber.org/zap"
)

// PriceFeed is the pull side of the acquirer used by the price endpoints.
type PriceFeed interface {
	Snapshot() feed.Update
	AssetQuote(asset string) (model.Quote, []model.HistoryPoint, bool)
}

// Server carries the HTTP surface: auth, owner-scoped actions, public price
// queries and the websocket upgrade.
type Server struct {
	cfg     config.HTTPConfig
	repo    store.Repository
	auth    *auth.Manager
	prices  PriceFeed
	ws      http.Handler
	archive *archive.Writer
	metrics *metrics.Metrics
	promEx  http.Handler
	log     *zap.Logger
}

func NewServer(cfg config.HTTPConfig, repo store.Repository, authMgr *auth.Manager, prices PriceFeed, ws http.Handler, arch *archive.Writer, m *metrics.Metrics, promHandler http.Handler, log *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		repo:    repo,
		auth:    authMgr,
		prices:  prices,
		ws:      ws,
		archive: arch,
		metrics: m,
		promEx:  promHandler,
		log:     log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/verify-token", s.requireAuth(s.handleVerifyToken))
	mux.HandleFunc("GET /api/profile", s.requireAuth(s.handleProfile))
	mux.HandleFunc("POST /api/trade", s.requireAuth(s.handleTrade))
	mux.HandleFunc("POST /api/bots", s.requireAuth(s.handleCreateBot))
	mux.HandleFunc("GET /api/bots", s.requireAuth(s.handleListBots))
	mux.HandleFunc("POST /api/bots/{id}/stop", s.requireAuth(s.handleStopBot))
	mux.HandleFunc("POST /api/arbitrage", s.requireAuth(s.handleCreateArbitrage))
	mux.HandleFunc("GET /api/arbitrage", s.requireAuth(s.handleListArbitrages))
	mux.HandleFunc("POST /api/arbitrage/{id}/stop", s.requireAuth(s.handleStopArbitrage))
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/prices/{symbol}", s.handlePriceBySymbol)
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	if s.promEx != nil {
		mux.Handle("GET /metrics", s.promEx)
	}
	return s.cors(mux)
}

type contextKey struct{}

var accountIDKey contextKey

// requireAuth verifies the bearer token and stashes the account id in the
// request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := bearerToken(header)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "access token required")
			return
		}
		accountID, err := s.auth.Verify(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				s.writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			s.writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

func accountID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey).(string)
	return id
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
