package model

import "time"

// StartingBalance is credited to every new account in the reference currency.
const StartingBalance = 1000

// ReferenceAsset is the coin the bot simulator prices its synthetic trades in.
const ReferenceAsset = "ethereum"

// SupportedAssets is the fixed set of coin ids the platform tracks.
var SupportedAssets = []string{
	"bitcoin",
	"ethereum",
	"cardano",
	"polkadot",
	"chainlink",
	"litecoin",
	"bitcoin-cash",
	"stellar",
	"dogecoin",
	"polygon",
}

func IsSupportedAsset(id string) bool {
	for _, a := range SupportedAssets {
		if a == id {
			return true
		}
	}
	return false
}

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Balance      float64   `json:"balance"`
	TotalProfit  float64   `json:"totalProfit"`
	TotalTrades  int       `json:"totalTrades"`
	CreatedAt    time.Time `json:"createdAt"`
}

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

func (s TradeSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

type Trade struct {
	ID        string    `json:"id"`
	AccountID string    `json:"-"`
	Asset     string    `json:"symbol"`
	Side      TradeSide `json:"type"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Total     float64   `json:"total"`
	Profit    float64   `json:"profit"`
	CreatedAt time.Time `json:"createdAt"`
}

// Holding is one asset line of an account's portfolio. AvgPrice is the
// volume-weighted average entry price across all buys still held.
type Holding struct {
	ID        string    `json:"id"`
	AccountID string    `json:"-"`
	Asset     string    `json:"symbol"`
	Amount    float64   `json:"amount"`
	AvgPrice  float64   `json:"avgPrice"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BotTradeLogLimit bounds the sliding trade log kept on each bot.
const BotTradeLogLimit = 20

type BotTrade struct {
	Side   TradeSide `json:"type"`
	Amount float64   `json:"amount"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"timestamp"`
}

type Bot struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"-"`
	Name         string     `json:"name"`
	Strategy     string     `json:"strategy"`
	Investment   float64    `json:"investment"`
	CurrentValue float64    `json:"currentValue"`
	Profit       float64    `json:"profit"`
	Active       bool       `json:"isActive"`
	Trades       []BotTrade `json:"trades"`
	CreatedAt    time.Time  `json:"createdAt"`
	StoppedAt    *time.Time `json:"stoppedAt,omitempty"`
}

// AppendTrade pushes one synthetic trade and trims the log to the limit.
func (b *Bot) AppendTrade(trade BotTrade) {
	b.Trades = append(b.Trades, trade)
	if len(b.Trades) > BotTradeLogLimit {
		b.Trades = b.Trades[len(b.Trades)-BotTradeLogLimit:]
	}
}

type ArbitrageStatus string

const (
	ArbitrageActive    ArbitrageStatus = "active"
	ArbitrageCompleted ArbitrageStatus = "completed"
)

type Arbitrage struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"-"`
	Strategy    string          `json:"strategy"`
	Amount      float64         `json:"amount"`
	Profit      float64         `json:"profit"`
	Status      ArbitrageStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ReturnPct is the realized return of the position as a percentage of the
// invested amount.
func (a Arbitrage) ReturnPct() float64 {
	if a.Amount == 0 {
		return 0
	}
	return a.Profit / a.Amount * 100
}

// Quote is one asset's snapshot in the reference currency. Field names match
// the upstream simple-price payload so the same struct decodes the source
// response and serves clients.
type Quote struct {
	PriceUSD     float64 `json:"usd" msgpack:"usd"`
	Change24h    float64 `json:"usd_24h_change" msgpack:"usd_24h_change"`
	Volume24h    float64 `json:"usd_24h_vol" msgpack:"usd_24h_vol"`
	MarketCapUSD float64 `json:"usd_market_cap" msgpack:"usd_market_cap"`
}

type HistoryPoint struct {
	TimestampMS int64   `json:"timestamp" msgpack:"timestamp"`
	Price       float64 `json:"price" msgpack:"price"`
	Volume      float64 `json:"volume" msgpack:"volume"`
}
