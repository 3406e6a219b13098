package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under the two loops plus the HTTP handlers.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			balance REAL NOT NULL,
			total_profit REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			amount REAL NOT NULL,
			price REAL NOT NULL,
			total REAL NOT NULL,
			profit REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			asset TEXT NOT NULL,
			amount REAL NOT NULL,
			avg_price REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(account_id, asset)
		)`,
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			name TEXT NOT NULL,
			strategy TEXT NOT NULL,
			investment REAL NOT NULL,
			current_value REAL NOT NULL,
			profit REAL NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			trades TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			stopped_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_active ON bots(active, account_id)`,
		`CREATE TABLE IF NOT EXISTS arbitrages (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			strategy TEXT NOT NULL,
			amount REAL NOT NULL,
			profit REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_arbitrages_status ON arbitrages(status, account_id)`,
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func optMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ms(*t)
}

func optTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

// --- accounts ---

func (s *Store) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, total_profit, total_trades, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.Balance, account.TotalProfit, account.TotalTrades, ms(account.CreatedAt))
	return err
}

func (s *Store) AccountByID(ctx context.Context, id string) (model.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, balance, total_profit, total_trades, created_at
		 FROM accounts WHERE id = ?`, id))
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (model.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, balance, total_profit, total_trades, created_at
		 FROM accounts WHERE email = ?`, email))
}

func (s *Store) scanAccount(row *sql.Row) (model.Account, error) {
	var a model.Account
	var createdAt int64
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Balance, &a.TotalProfit, &a.TotalTrades, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, store.ErrNotFound
		}
		return model.Account{}, err
	}
	a.CreatedAt = fromMS(createdAt)
	return a, nil
}

func (s *Store) AccountTaken(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM accounts WHERE username = ? OR email = ?`, username, email).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account model.Account) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, total_profit = ?, total_trades = ? WHERE id = ?`,
		account.Balance, account.TotalProfit, account.TotalTrades, account.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) TopAccountsByProfit(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, password_hash, balance, total_profit, total_trades, created_at
		 FROM accounts ORDER BY total_profit DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Balance, &a.TotalProfit, &a.TotalTrades, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = fromMS(createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- trades ---

func (s *Store) InsertTrade(ctx context.Context, trade model.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, account_id, asset, side, amount, price, total, profit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.AccountID, trade.Asset, string(trade.Side),
		trade.Amount, trade.Price, trade.Total, trade.Profit, ms(trade.CreatedAt))
	return err
}

func (s *Store) TradesByAccount(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, asset, side, amount, price, total, profit, created_at
		 FROM trades WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Asset, &side, &t.Amount, &t.Price, &t.Total, &t.Profit, &createdAt); err != nil {
			return nil, err
		}
		t.Side = model.TradeSide(side)
		t.CreatedAt = fromMS(createdAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- holdings ---

func (s *Store) UpsertHolding(ctx context.Context, holding model.Holding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO holdings (id, account_id, asset, amount, avg_price, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, asset) DO UPDATE SET
			amount = excluded.amount,
			avg_price = excluded.avg_price,
			updated_at = excluded.updated_at`,
		holding.ID, holding.AccountID, holding.Asset, holding.Amount, holding.AvgPrice, ms(holding.UpdatedAt))
	return err
}

func (s *Store) DeleteHolding(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM holdings WHERE id = ?`, id)
	return err
}

func (s *Store) HoldingByAsset(ctx context.Context, accountID, asset string) (model.Holding, error) {
	var h model.Holding
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, asset, amount, avg_price, updated_at
		 FROM holdings WHERE account_id = ? AND asset = ?`, accountID, asset).
		Scan(&h.ID, &h.AccountID, &h.Asset, &h.Amount, &h.AvgPrice, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Holding{}, store.ErrNotFound
		}
		return model.Holding{}, err
	}
	h.UpdatedAt = fromMS(updatedAt)
	return h, nil
}

func (s *Store) HoldingsByAccount(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, asset, amount, avg_price, updated_at
		 FROM holdings WHERE account_id = ? ORDER BY asset`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var updatedAt int64
		if err := rows.Scan(&h.ID, &h.AccountID, &h.Asset, &h.Amount, &h.AvgPrice, &updatedAt); err != nil {
			return nil, err
		}
		h.UpdatedAt = fromMS(updatedAt)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// --- bots ---

func (s *Store) InsertBot(ctx context.Context, bot model.Bot) error {
	trades, err := marshalBotTrades(bot.Trades)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (id, account_id, name, strategy, investment, current_value, profit, active, trades, created_at, stopped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bot.ID, bot.AccountID, bot.Name, bot.Strategy, bot.Investment, bot.CurrentValue,
		bot.Profit, boolToInt(bot.Active), trades, ms(bot.CreatedAt), optMS(bot.StoppedAt))
	return err
}

func (s *Store) UpdateBot(ctx context.Context, bot model.Bot) error {
	trades, err := marshalBotTrades(bot.Trades)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE bots SET current_value = ?, profit = ?, active = ?, trades = ?, stopped_at = ? WHERE id = ?`,
		bot.CurrentValue, bot.Profit, boolToInt(bot.Active), trades, optMS(bot.StoppedAt), bot.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const botColumns = `id, account_id, name, strategy, investment, current_value, profit, active, trades, created_at, stopped_at`

func (s *Store) BotByID(ctx context.Context, accountID, id string) (model.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return model.Bot{}, err
	}
	defer rows.Close()
	bots, err := collectBots(rows)
	if err != nil {
		return model.Bot{}, err
	}
	if len(bots) == 0 {
		return model.Bot{}, store.ErrNotFound
	}
	return bots[0], nil
}

func (s *Store) BotsByAccount(ctx context.Context, accountID string) ([]model.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func (s *Store) ActiveBotForAccount(ctx context.Context, accountID string) (model.Bot, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE account_id = ? AND active = 1 LIMIT 1`, accountID)
	if err != nil {
		return model.Bot{}, false, err
	}
	defer rows.Close()
	bots, err := collectBots(rows)
	if err != nil {
		return model.Bot{}, false, err
	}
	if len(bots) == 0 {
		return model.Bot{}, false, nil
	}
	return bots[0], true, nil
}

func (s *Store) ActiveBots(ctx context.Context) ([]model.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func collectBots(rows *sql.Rows) ([]model.Bot, error) {
	var bots []model.Bot
	for rows.Next() {
		var b model.Bot
		var active int
		var trades string
		var createdAt int64
		var stoppedAt sql.NullInt64
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Name, &b.Strategy, &b.Investment, &b.CurrentValue,
			&b.Profit, &active, &trades, &createdAt, &stoppedAt); err != nil {
			return nil, err
		}
		b.Active = active != 0
		b.CreatedAt = fromMS(createdAt)
		b.StoppedAt = optTime(stoppedAt)
		if err := json.Unmarshal([]byte(trades), &b.Trades); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func marshalBotTrades(trades []model.BotTrade) (string, error) {
	if trades == nil {
		trades = []model.BotTrade{}
	}
	data, err := json.Marshal(trades)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// --- arbitrages ---

func (s *Store) InsertArbitrage(ctx context.Context, arb model.Arbitrage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO arbitrages (id, account_id, strategy, amount, profit, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arb.ID, arb.AccountID, arb.Strategy, arb.Amount, arb.Profit,
		string(arb.Status), ms(arb.CreatedAt), optMS(arb.CompletedAt))
	return err
}

func (s *Store) UpdateArbitrage(ctx context.Context, arb model.Arbitrage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE arbitrages SET profit = ?, status = ?, completed_at = ? WHERE id = ?`,
		arb.Profit, string(arb.Status), optMS(arb.CompletedAt), arb.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const arbColumns = `id, account_id, strategy, amount, profit, status, created_at, completed_at`

func (s *Store) ArbitrageByID(ctx context.Context, accountID, id string) (model.Arbitrage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arbColumns+` FROM arbitrages WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return model.Arbitrage{}, err
	}
	defer rows.Close()
	arbs, err := collectArbitrages(rows)
	if err != nil {
		return model.Arbitrage{}, err
	}
	if len(arbs) == 0 {
		return model.Arbitrage{}, store.ErrNotFound
	}
	return arbs[0], nil
}

func (s *Store) ArbitragesByAccount(ctx context.Context, accountID string) ([]model.Arbitrage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arbColumns+` FROM arbitrages WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArbitrages(rows)
}

func (s *Store) ActiveArbitrageForAccount(ctx context.Context, accountID string) (model.Arbitrage, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arbColumns+` FROM arbitrages WHERE account_id = ? AND status = 'active' LIMIT 1`, accountID)
	if err != nil {
		return model.Arbitrage{}, false, err
	}
	defer rows.Close()
	arbs, err := collectArbitrages(rows)
	if err != nil {
		return model.Arbitrage{}, false, err
	}
	if len(arbs) == 0 {
		return model.Arbitrage{}, false, nil
	}
	return arbs[0], true, nil
}

func (s *Store) ActiveArbitrages(ctx context.Context) ([]model.Arbitrage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+arbColumns+` FROM arbitrages WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArbitrages(rows)
}

func collectArbitrages(rows *sql.Rows) ([]model.Arbitrage, error) {
	var arbs []model.Arbitrage
	for rows.Next() {
		var a model.Arbitrage
		var status string
		var createdAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Strategy, &a.Amount, &a.Profit, &status, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		a.Status = model.ArbitrageStatus(status)
		a.CreatedAt = fromMS(createdAt)
		a.CompletedAt = optTime(completedAt)
		arbs = append(arbs, a)
	}
	return arbs, rows.Err()
}

// --- kv ---

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
