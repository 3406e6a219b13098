package store

import (
	"context"
	"errors"

	"coinsim-server/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the document store behind accounts, trades, holdings and
// simulated positions. Implementations must be safe for concurrent use;
// callers do read-modify-write without transactional isolation, last write
// wins.
type Repository interface {
	CreateAccount(ctx context.Context, account model.Account) error
	AccountByID(ctx context.Context, id string) (model.Account, error)
	AccountByEmail(ctx context.Context, email string) (model.Account, error)
	AccountTaken(ctx context.Context, username, email string) (bool, error)
	UpdateAccount(ctx context.Context, account model.Account) error
	TopAccountsByProfit(ctx context.Context, limit int) ([]model.Account, error)

	InsertTrade(ctx context.Context, trade model.Trade) error
	TradesByAccount(ctx context.Context, accountID string, limit int) ([]model.Trade, error)

	UpsertHolding(ctx context.Context, holding model.Holding) error
	DeleteHolding(ctx context.Context, id string) error
	HoldingByAsset(ctx context.Context, accountID, asset string) (model.Holding, error)
	HoldingsByAccount(ctx context.Context, accountID string) ([]model.Holding, error)

	InsertBot(ctx context.Context, bot model.Bot) error
	UpdateBot(ctx context.Context, bot model.Bot) error
	BotByID(ctx context.Context, accountID, id string) (model.Bot, error)
	BotsByAccount(ctx context.Context, accountID string) ([]model.Bot, error)
	ActiveBotForAccount(ctx context.Context, accountID string) (model.Bot, bool, error)
	ActiveBots(ctx context.Context) ([]model.Bot, error)

	InsertArbitrage(ctx context.Context, arb model.Arbitrage) error
	UpdateArbitrage(ctx context.Context, arb model.Arbitrage) error
	ArbitrageByID(ctx context.Context, accountID, id string) (model.Arbitrage, error)
	ArbitragesByAccount(ctx context.Context, accountID string) ([]model.Arbitrage, error)
	ActiveArbitrageForAccount(ctx context.Context, accountID string) (model.Arbitrage, bool, error)
	ActiveArbitrages(ctx context.Context) ([]model.Arbitrage, error)

	Close() error
}

// KV is a small key/value side table for process snapshots that should
// survive restarts but carry no relational meaning.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
