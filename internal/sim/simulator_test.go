package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"coinsim-server/internal/metrics"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store/sqlite"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

func newTestSim(t *testing.T, randValues ...float64) (*Simulator, *sqlite.Store) {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	s := New(repo, nil, nil, metrics.NewNoop(), zap.NewNop(), mock, time.Minute)
	i := 0
	s.randFloat = func() float64 {
		v := randValues[i%len(randValues)]
		i++
		return v
	}
	return s, repo
}

func seedSimAccount(t *testing.T, repo *sqlite.Store) model.Account {
	t.Helper()
	account := model.Account{
		ID:           "acct",
		Username:     "trader",
		Email:        "trader@example.com",
		PasswordHash: "hash",
		Balance:      model.StartingBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTickAdvancesBotValue(t *testing.T) {
	// rand=1.0 gives the max bot rate (+8%); rand=0.9 skips the synthetic trade
	s, repo := newTestSim(t, 1.0, 0.9)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

	bot := model.Bot{
		ID:           "b1",
		AccountID:    account.ID,
		Name:         "grid",
		Strategy:     "Grid Trading",
		Investment:   1000,
		CurrentValue: 1000,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.InsertBot(ctx, bot); err != nil {
		t.Fatalf("insert bot: %v", err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	got, err := repo.BotByID(ctx, account.ID, "b1")
	if err != nil {
		t.Fatalf("bot by id: %v", err)
	}
	wantDelta := 1000 * (1.0*botRateSpan + botRateMin) * dampingFactor
	if !almostEqual(got.CurrentValue, 1000+wantDelta) {
		t.Fatalf("expected value %v, got %v", 1000+wantDelta, got.CurrentValue)
	}
	if !almostEqual(got.Profit, wantDelta) {
		t.Fatalf("expected profit %v, got %v", wantDelta, got.Profit)
	}
	if len(got.Trades) != 0 {
		t.Fatalf("expected no synthetic trade, got %d", len(got.Trades))
	}
}

func TestTickRecordsSyntheticTrade(t *testing.T) {
	// rate, chance (hit), side (sell), amount, price jitter
	s, repo := newTestSim(t, 0.5, 0.1, 0.4, 0.5, 0.5)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

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
	if err := repo.InsertBot(ctx, bot); err != nil {
		t.Fatalf("insert bot: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	got, err := repo.BotByID(ctx, account.ID, "b1")
	if err != nil {
		t.Fatalf("bot by id: %v", err)
	}
	if len(got.Trades) != 1 {
		t.Fatalf("expected 1 synthetic trade, got %d", len(got.Trades))
	}
	trade := got.Trades[0]
	if trade.Side != model.SideSell {
		t.Fatalf("expected sell, got %s", trade.Side)
	}
	if !almostEqual(trade.Amount, 0.5*0.1+0.01) {
		t.Fatalf("unexpected amount %v", trade.Amount)
	}
	// no quote source, so the reference fallback prices the trade
	if !almostEqual(trade.Price, fallbackReferencePrice) {
		t.Fatalf("unexpected price %v", trade.Price)
	}
}

func TestBotTradeLogTrimmed(t *testing.T) {
	// every tick produces a trade
	s, repo := newTestSim(t, 0.5, 0.0, 0.9, 0.5, 0.5)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

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
	if err := repo.InsertBot(ctx, bot); err != nil {
		t.Fatalf("insert bot: %v", err)
	}
	for i := 0; i < model.BotTradeLogLimit+5; i++ {
		if err := s.Tick(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
	got, err := repo.BotByID(ctx, account.ID, "b1")
	if err != nil {
		t.Fatalf("bot by id: %v", err)
	}
	if len(got.Trades) != model.BotTradeLogLimit {
		t.Fatalf("expected trade log capped at %d, got %d", model.BotTradeLogLimit, len(got.Trades))
	}
}

func TestArbitrageAutoCompletesOnce(t *testing.T) {
	// rand=1.0 gives the max arbitrage rate (+5%)
	s, repo := newTestSim(t, 1.0)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

	arb := model.Arbitrage{
		ID:        "arb1",
		AccountID: account.ID,
		Strategy:  "Spatial Arbitrage",
		Amount:    100,
		Profit:    14.99, // one max tick pushes past the 15% target
		Status:    model.ArbitrageActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.InsertArbitrage(ctx, arb); err != nil {
		t.Fatalf("insert arbitrage: %v", err)
	}

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got, err := repo.ArbitrageByID(ctx, account.ID, "arb1")
	if err != nil {
		t.Fatalf("arbitrage by id: %v", err)
	}
	if got.Status != model.ArbitrageCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed position, got %+v", got)
	}

	settled, err := repo.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("account by id: %v", err)
	}
	wantProfit := 14.99 + 100*(1.0*arbRateSpan+arbRateMin)*dampingFactor
	if !almostEqual(settled.Balance, model.StartingBalance+100+wantProfit) {
		t.Fatalf("expected balance %v, got %v", model.StartingBalance+100+wantProfit, settled.Balance)
	}
	if !almostEqual(settled.TotalProfit, wantProfit) {
		t.Fatalf("expected total profit %v, got %v", wantProfit, settled.TotalProfit)
	}

	// a later tick must not settle the same position again
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	after, err := repo.AccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("account by id: %v", err)
	}
	if !almostEqual(after.Balance, settled.Balance) {
		t.Fatalf("double settlement: %v -> %v", settled.Balance, after.Balance)
	}
}

func TestArbitrageBelowTargetStaysActive(t *testing.T) {
	// rand=0.0 gives the min arbitrage rate (-2%)
	s, repo := newTestSim(t, 0.0)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

	arb := model.Arbitrage{
		ID:        "arb1",
		AccountID: account.ID,
		Strategy:  "Statistical Arbitrage",
		Amount:    100,
		Status:    model.ArbitrageActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.InsertArbitrage(ctx, arb); err != nil {
		t.Fatalf("insert arbitrage: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got, err := repo.ArbitrageByID(ctx, account.ID, "arb1")
	if err != nil {
		t.Fatalf("arbitrage by id: %v", err)
	}
	if got.Status != model.ArbitrageActive {
		t.Fatalf("expected active position, got %s", got.Status)
	}
	wantProfit := 100 * (0.0*arbRateSpan + arbRateMin) * dampingFactor
	if !almostEqual(got.Profit, wantProfit) {
		t.Fatalf("expected profit %v, got %v", wantProfit, got.Profit)
	}
}

func TestUnknownStrategyNeverAutoCompletes(t *testing.T) {
	s, repo := newTestSim(t, 1.0)
	account := seedSimAccount(t, repo)
	ctx := context.Background()

	arb := model.Arbitrage{
		ID:        "arb1",
		AccountID: account.ID,
		Strategy:  "Custom Strategy",
		Amount:    100,
		Profit:    500,
		Status:    model.ArbitrageActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.InsertArbitrage(ctx, arb); err != nil {
		t.Fatalf("insert arbitrage: %v", err)
	}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got, err := repo.ArbitrageByID(ctx, account.ID, "arb1")
	if err != nil {
		t.Fatalf("arbitrage by id: %v", err)
	}
	if got.Status != model.ArbitrageActive {
		t.Fatalf("unknown strategy must stay active, got %s", got.Status)
	}
}
