package api

import (
	"errors"
	"net/http"
	"time"

	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string          `json:"symbol"`
		Side   model.TradeSide `json:"type"`
		Amount float64         `json:"amount"`
		Price  float64         `json:"price"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Side.Valid() {
		s.writeError(w, http.StatusBadRequest, "trade type must be buy or sell")
		return
	}
	if !model.IsSupportedAsset(req.Symbol) {
		s.writeError(w, http.StatusBadRequest, "unsupported symbol")
		return
	}
	if req.Amount <= 0 || req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount and price must be positive")
		return
	}

	ctx := r.Context()
	account, err := s.repo.AccountByID(ctx, accountID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	total := req.Amount * req.Price
	var profit float64

	switch req.Side {
	case model.SideBuy:
		if account.Balance < total {
			s.writeError(w, http.StatusBadRequest, "insufficient balance")
			return
		}
		account.Balance -= total
		holding, err := s.repo.HoldingByAsset(ctx, account.ID, req.Symbol)
		switch {
		case err == nil:
			combined := holding.Amount + req.Amount
			holding.AvgPrice = (holding.AvgPrice*holding.Amount + total) / combined
			holding.Amount = combined
			holding.UpdatedAt = time.Now().UTC()
		case errors.Is(err, store.ErrNotFound):
			holding = model.Holding{
				ID:        uuid.NewString(),
				AccountID: account.ID,
				Asset:     req.Symbol,
				Amount:    req.Amount,
				AvgPrice:  req.Price,
				UpdatedAt: time.Now().UTC(),
			}
		default:
			s.serverError(w, err)
			return
		}
		if err := s.repo.UpsertHolding(ctx, holding); err != nil {
			s.serverError(w, err)
			return
		}

	case model.SideSell:
		holding, err := s.repo.HoldingByAsset(ctx, account.ID, req.Symbol)
		if errors.Is(err, store.ErrNotFound) || (err == nil && holding.Amount < req.Amount) {
			s.writeError(w, http.StatusBadRequest, "insufficient crypto holdings")
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
		profit = (req.Price - holding.AvgPrice) * req.Amount
		account.Balance += total
		account.TotalProfit += profit
		holding.Amount -= req.Amount
		if holding.Amount <= 0 {
			if err := s.repo.DeleteHolding(ctx, holding.ID); err != nil {
				s.serverError(w, err)
				return
			}
		} else {
			holding.UpdatedAt = time.Now().UTC()
			if err := s.repo.UpsertHolding(ctx, holding); err != nil {
				s.serverError(w, err)
				return
			}
		}
	}

	account.TotalTrades++
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		s.serverError(w, err)
		return
	}
	trade := model.Trade{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Asset:     req.Symbol,
		Side:      req.Side,
		Amount:    req.Amount,
		Price:     req.Price,
		Total:     total,
		Profit:    profit,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertTrade(ctx, trade); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("trade executed",
		zap.String("account_id", account.ID),
		zap.String("symbol", req.Symbol),
		zap.String("type", string(req.Side)),
		zap.Float64("total", total))
	s.writeJSON(w, http.StatusOK, map[string]any{"trade": trade, "balance": account.Balance})
}
