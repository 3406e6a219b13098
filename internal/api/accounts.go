package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coinsim-server/internal/auth"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const profileTradeLimit = 10

type credentialsResponse struct {
	Token string        `json:"token"`
	User  model.Account `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	taken, err := s.repo.AccountTaken(r.Context(), req.Username, req.Email)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if taken {
		s.writeError(w, http.StatusBadRequest, "user already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	account := model.Account{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Balance:      model.StartingBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateAccount(r.Context(), account); err != nil {
		s.serverError(w, err)
		return
	}

	token, err := s.auth.Issue(account.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("account registered", zap.String("account_id", account.ID))
	s.writeJSON(w, http.StatusCreated, credentialsResponse{Token: token, User: account})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	account, err := s.repo.AccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest, "invalid credentials")
			return
		}
		s.serverError(w, err)
		return
	}
	if !auth.CheckPassword(account.PasswordHash, req.Password) {
		s.writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	token, err := s.auth.Issue(account.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, credentialsResponse{Token: token, User: account})
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	account, err := s.repo.AccountByID(r.Context(), accountID(r))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusForbidden, "invalid token")
			return
		}
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user": account})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := accountID(r)
	account, err := s.repo.AccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.serverError(w, err)
		return
	}
	trades, err := s.repo.TradesByAccount(ctx, id, profileTradeLimit)
	if err != nil {
		s.serverError(w, err)
		return
	}
	holdings, err := s.repo.HoldingsByAccount(ctx, id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	bots, err := s.repo.BotsByAccount(ctx, id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	arbitrages, err := s.repo.ArbitragesByAccount(ctx, id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":       account,
		"trades":     trades,
		"portfolio":  holdings,
		"bots":       bots,
		"arbitrages": arbitrages,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.repo.TopAccountsByProfit(r.Context(), 10)
	if err != nil {
		s.serverError(w, err)
		return
	}
	type row struct {
		Username    string  `json:"username"`
		TotalProfit float64 `json:"totalProfit"`
		TotalTrades int     `json:"totalTrades"`
	}
	rows := make([]row, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, row{Username: a.Username, TotalProfit: a.TotalProfit, TotalTrades: a.TotalTrades})
	}
	s.writeJSON(w, http.StatusOK, rows)
}
