package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"coinsim-server/internal/archive"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Server) handleCreateArbitrage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string  `json:"strategy"`
		Amount   float64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Strategy = strings.TrimSpace(req.Strategy)
	if req.Strategy == "" {
		s.writeError(w, http.StatusBadRequest, "strategy is required")
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	ctx := r.Context()
	account, err := s.repo.AccountByID(ctx, accountID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	if _, active, err := s.repo.ActiveArbitrageForAccount(ctx, account.ID); err != nil {
		s.serverError(w, err)
		return
	} else if active {
		s.writeError(w, http.StatusBadRequest, "you can only have one active arbitrage at a time")
		return
	}
	if account.Balance < req.Amount {
		s.writeError(w, http.StatusBadRequest, "insufficient balance")
		return
	}

	account.Balance -= req.Amount
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		s.serverError(w, err)
		return
	}
	arb := model.Arbitrage{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Strategy:  req.Strategy,
		Amount:    req.Amount,
		Status:    model.ArbitrageActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertArbitrage(ctx, arb); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("arbitrage started",
		zap.String("account_id", account.ID),
		zap.String("arbitrage_id", arb.ID),
		zap.String("strategy", arb.Strategy))
	s.writeJSON(w, http.StatusCreated, map[string]any{"arbitrage": arb, "balance": account.Balance})
}

func (s *Server) handleListArbitrages(w http.ResponseWriter, r *http.Request) {
	arbs, err := s.repo.ArbitragesByAccount(r.Context(), accountID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, arbs)
}

// handleStopArbitrage settles an active position early: principal plus
// whatever profit accrued so far goes back to the balance. Completed
// positions are rejected, they were already settled.
func (s *Server) handleStopArbitrage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	arb, err := s.repo.ArbitrageByID(ctx, accountID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "arbitrage not found")
			return
		}
		s.serverError(w, err)
		return
	}
	if arb.Status != model.ArbitrageActive {
		s.writeError(w, http.StatusBadRequest, "arbitrage is not active")
		return
	}

	now := time.Now().UTC()
	arb.Status = model.ArbitrageCompleted
	arb.CompletedAt = &now
	if err := s.repo.UpdateArbitrage(ctx, arb); err != nil {
		s.serverError(w, err)
		return
	}

	account, err := s.repo.AccountByID(ctx, arb.AccountID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	account.Balance += arb.Amount + arb.Profit
	account.TotalProfit += arb.Profit
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		s.serverError(w, err)
		return
	}
	s.metrics.Settlements.Inc()
	s.archive.EnqueueSettlement(archive.Settlement{
		Time:      now,
		AccountID: account.ID,
		Kind:      "arbitrage",
		Strategy:  arb.Strategy,
		Principal: arb.Amount,
		Profit:    arb.Profit,
	})
	s.log.Info("arbitrage stopped",
		zap.String("account_id", account.ID),
		zap.String("arbitrage_id", arb.ID),
		zap.Float64("profit", arb.Profit))
	s.writeJSON(w, http.StatusOK, map[string]any{"arbitrage": arb, "balance": account.Balance})
}
