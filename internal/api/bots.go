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

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string  `json:"name"`
		Strategy   string  `json:"strategy"`
		Investment float64 `json:"investment"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Strategy = strings.TrimSpace(req.Strategy)
	if req.Name == "" || req.Strategy == "" {
		s.writeError(w, http.StatusBadRequest, "name and strategy are required")
		return
	}
	if req.Investment <= 0 {
		s.writeError(w, http.StatusBadRequest, "investment must be positive")
		return
	}

	ctx := r.Context()
	account, err := s.repo.AccountByID(ctx, accountID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	if _, active, err := s.repo.ActiveBotForAccount(ctx, account.ID); err != nil {
		s.serverError(w, err)
		return
	} else if active {
		s.writeError(w, http.StatusBadRequest, "you can only have one active bot at a time")
		return
	}
	if account.Balance < req.Investment {
		s.writeError(w, http.StatusBadRequest, "insufficient balance")
		return
	}

	account.Balance -= req.Investment
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		s.serverError(w, err)
		return
	}
	bot := model.Bot{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		Name:         req.Name,
		Strategy:     req.Strategy,
		Investment:   req.Investment,
		CurrentValue: req.Investment,
		Active:       true,
		Trades:       []model.BotTrade{},
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.InsertBot(ctx, bot); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("bot started",
		zap.String("account_id", account.ID),
		zap.String("bot_id", bot.ID),
		zap.String("strategy", bot.Strategy))
	s.writeJSON(w, http.StatusCreated, map[string]any{"bot": bot, "balance": account.Balance})
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.repo.BotsByAccount(r.Context(), accountID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bots)
}

// handleStopBot deactivates the bot and credits its current value back. A bot
// that is already stopped is rejected so the credit can never be applied
// twice.
func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bot, err := s.repo.BotByID(ctx, accountID(r), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bot not found")
			return
		}
		s.serverError(w, err)
		return
	}
	if !bot.Active {
		s.writeError(w, http.StatusBadRequest, "bot is not active")
		return
	}

	now := time.Now().UTC()
	bot.Active = false
	bot.StoppedAt = &now
	if err := s.repo.UpdateBot(ctx, bot); err != nil {
		s.serverError(w, err)
		return
	}

	account, err := s.repo.AccountByID(ctx, bot.AccountID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	account.Balance += bot.CurrentValue
	account.TotalProfit += bot.Profit
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		s.serverError(w, err)
		return
	}
	s.metrics.Settlements.Inc()
	s.archive.EnqueueSettlement(archive.Settlement{
		Time:      now,
		AccountID: account.ID,
		Kind:      "bot",
		Strategy:  bot.Strategy,
		Principal: bot.Investment,
		Profit:    bot.Profit,
	})
	s.log.Info("bot stopped",
		zap.String("account_id", account.ID),
		zap.String("bot_id", bot.ID),
		zap.Float64("profit", bot.Profit))
	s.writeJSON(w, http.StatusOK, map[string]any{"bot": bot, "balance": account.Balance})
}
