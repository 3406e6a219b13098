package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"coinsim-server/internal/model"
	"coinsim-server/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, id string) model.Account {
	t.Helper()
	account := model.Account{
		ID:           id,
		Username:     "user-" + id,
		Email:        id + "@example.com",
		PasswordHash: "hash",
		Balance:      model.StartingBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	got, err := s.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("account by id: %v", err)
	}
	if got.Username != account.Username || got.Balance != model.StartingBalance {
		t.Fatalf("unexpected account: %+v", got)
	}

	got, err = s.AccountByEmail(ctx, account.Email)
	if err != nil || got.ID != account.ID {
		t.Fatalf("account by email: %v %+v", err, got)
	}

	if _, err := s.AccountByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountTaken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	taken, err := s.AccountTaken(ctx, account.Username, "other@example.com")
	if err != nil || !taken {
		t.Fatalf("expected username to be taken: %v %v", taken, err)
	}
	taken, err = s.AccountTaken(ctx, "other", account.Email)
	if err != nil || !taken {
		t.Fatalf("expected email to be taken: %v %v", taken, err)
	}
	taken, err = s.AccountTaken(ctx, "other", "other@example.com")
	if err != nil || taken {
		t.Fatalf("expected free credentials: %v %v", taken, err)
	}
}

func TestUpdateAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	account.Balance = 1234.5
	account.TotalProfit = 42
	account.TotalTrades = 3
	if err := s.UpdateAccount(ctx, account); err != nil {
		t.Fatalf("update account: %v", err)
	}
	got, err := s.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("account by id: %v", err)
	}
	if got.Balance != 1234.5 || got.TotalProfit != 42 || got.TotalTrades != 3 {
		t.Fatalf("update lost fields: %+v", got)
	}

	missing := account
	missing.ID = "missing"
	if err := s.UpdateAccount(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing account, got %v", err)
	}
}

func TestTopAccountsByProfit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, profit := range []float64{5, 50, 20} {
		account := seedAccount(t, s, fmt.Sprintf("a%d", i))
		account.TotalProfit = profit
		if err := s.UpdateAccount(ctx, account); err != nil {
			t.Fatalf("update account: %v", err)
		}
	}
	top, err := s.TopAccountsByProfit(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard query: %v", err)
	}
	if len(top) != 2 || top[0].TotalProfit != 50 || top[1].TotalProfit != 20 {
		t.Fatalf("unexpected leaderboard: %+v", top)
	}
}

func TestTradesNewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		trade := model.Trade{
			ID:        fmt.Sprintf("t%d", i),
			AccountID: account.ID,
			Asset:     "bitcoin",
			Side:      model.SideBuy,
			Amount:    1,
			Price:     float64(100 + i),
			Total:     float64(100 + i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertTrade(ctx, trade); err != nil {
			t.Fatalf("insert trade: %v", err)
		}
	}
	trades, err := s.TradesByAccount(ctx, account.ID, 3)
	if err != nil {
		t.Fatalf("trades by account: %v", err)
	}
	if len(trades) != 3 || trades[0].ID != "t4" || trades[2].ID != "t2" {
		t.Fatalf("expected newest first, got %+v", trades)
	}
}

func TestHoldingUpsertAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	holding := model.Holding{
		ID:        "h1",
		AccountID: account.ID,
		Asset:     "bitcoin",
		Amount:    0.5,
		AvgPrice:  40000,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.UpsertHolding(ctx, holding); err != nil {
		t.Fatalf("upsert holding: %v", err)
	}

	// second upsert on the same (account, asset) replaces, not duplicates
	holding.Amount = 0.75
	holding.AvgPrice = 42000
	if err := s.UpsertHolding(ctx, holding); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	holdings, err := s.HoldingsByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("holdings by account: %v", err)
	}
	if len(holdings) != 1 || holdings[0].Amount != 0.75 || holdings[0].AvgPrice != 42000 {
		t.Fatalf("unexpected holdings: %+v", holdings)
	}

	got, err := s.HoldingByAsset(ctx, account.ID, "bitcoin")
	if err != nil || got.Amount != 0.75 {
		t.Fatalf("holding by asset: %v %+v", err, got)
	}

	if err := s.DeleteHolding(ctx, got.ID); err != nil {
		t.Fatalf("delete holding: %v", err)
	}
	if _, err := s.HoldingByAsset(ctx, account.ID, "bitcoin"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBotLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	bot := model.Bot{
		ID:           "b1",
		AccountID:    account.ID,
		Name:         "grid",
		Strategy:     "Grid Trading",
		Investment:   100,
		CurrentValue: 100,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.InsertBot(ctx, bot); err != nil {
		t.Fatalf("insert bot: %v", err)
	}

	active, ok, err := s.ActiveBotForAccount(ctx, account.ID)
	if err != nil || !ok || active.ID != "b1" {
		t.Fatalf("active bot lookup: %v ok=%v %+v", err, ok, active)
	}

	bot.CurrentValue = 105
	bot.Profit = 5
	bot.AppendTrade(model.BotTrade{Side: model.SideBuy, Amount: 0.05, Price: 2000, Time: time.Now().UTC()})
	if err := s.UpdateBot(ctx, bot); err != nil {
		t.Fatalf("update bot: %v", err)
	}
	got, err := s.BotByID(ctx, account.ID, "b1")
	if err != nil {
		t.Fatalf("bot by id: %v", err)
	}
	if got.CurrentValue != 105 || len(got.Trades) != 1 || got.Trades[0].Side != model.SideBuy {
		t.Fatalf("bot state lost: %+v", got)
	}

	now := time.Now().UTC()
	bot.Active = false
	bot.StoppedAt = &now
	if err := s.UpdateBot(ctx, bot); err != nil {
		t.Fatalf("stop bot: %v", err)
	}
	if _, ok, err := s.ActiveBotForAccount(ctx, account.ID); err != nil || ok {
		t.Fatalf("stopped bot must not be active: %v ok=%v", err, ok)
	}
	bots, err := s.ActiveBots(ctx)
	if err != nil || len(bots) != 0 {
		t.Fatalf("expected no active bots: %v %+v", err, bots)
	}

	// scoping: another account cannot see the bot
	seedAccount(t, s, "a2")
	if _, err := s.BotByID(ctx, "a2", "b1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign bot, got %v", err)
	}
}

func TestArbitrageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "a1")

	arb := model.Arbitrage{
		ID:        "arb1",
		AccountID: account.ID,
		Strategy:  "Spatial Arbitrage",
		Amount:    200,
		Status:    model.ArbitrageActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertArbitrage(ctx, arb); err != nil {
		t.Fatalf("insert arbitrage: %v", err)
	}

	active, err := s.ActiveArbitrages(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("active arbitrages: %v %+v", err, active)
	}
	_, ok, err := s.ActiveArbitrageForAccount(ctx, account.ID)
	if err != nil || !ok {
		t.Fatalf("active arbitrage for account: %v ok=%v", err, ok)
	}

	now := time.Now().UTC()
	arb.Profit = 30
	arb.Status = model.ArbitrageCompleted
	arb.CompletedAt = &now
	if err := s.UpdateArbitrage(ctx, arb); err != nil {
		t.Fatalf("update arbitrage: %v", err)
	}
	got, err := s.ArbitrageByID(ctx, account.ID, "arb1")
	if err != nil {
		t.Fatalf("arbitrage by id: %v", err)
	}
	if got.Status != model.ArbitrageCompleted || got.CompletedAt == nil || got.Profit != 30 {
		t.Fatalf("arbitrage state lost: %+v", got)
	}
	if _, ok, err := s.ActiveArbitrageForAccount(ctx, account.ID); err != nil || ok {
		t.Fatalf("completed arbitrage must not be active: %v ok=%v", err, ok)
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "key", []byte("value")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := s.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || !bytes.Equal(val, []byte("value")) {
		t.Fatalf("unexpected value: %q (ok=%v)", val, ok)
	}

	if err := s.Set(ctx, "key", []byte("updated")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, _, _ = s.Get(ctx, "key")
	if !bytes.Equal(val, []byte("updated")) {
		t.Fatalf("expected updated value, got %q", val)
	}

	if err := s.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = s.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatal("expected key to be deleted")
	}
}
