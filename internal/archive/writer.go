package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"coinsim-server/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PriceTick is one archived quote sample for long-term charting.
type PriceTick struct {
	Time      time.Time
	Asset     string
	Price     float64
	Change24h float64
	Volume24h float64
	MarketCap float64
}

// Settlement records a position closing and the funds credited back.
type Settlement struct {
	Time      time.Time
	AccountID string
	Kind      string // "bot" or "arbitrage"
	Strategy  string
	Principal float64
	Profit    float64
	Auto      bool
}

// Writer streams ticks and settlements to Postgres off the hot path. A nil
// Writer is valid and drops everything, so callers never need to branch on
// whether archiving is enabled.
type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	ticks    chan PriceTick
	settles  chan Settlement
	started  atomic.Bool
	dropTick atomic.Uint64
	dropSet  atomic.Uint64
}

func New(cfg config.ArchiveConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("archive dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		ticks:   make(chan PriceTick, queueSize),
		settles: make(chan Settlement, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(tick PriceTick) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- tick:
		return
	default:
		if w.dropTick.Add(1) == 1 && w.log != nil {
			w.log.Warn("archive tick queue full")
		}
	}
}

func (w *Writer) EnqueueSettlement(settlement Settlement) {
	if w == nil {
		return
	}
	select {
	case w.settles <- settlement:
		return
	default:
		if w.dropSet.Add(1) == 1 && w.log != nil {
			w.log.Warn("archive settlement queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-w.ticks:
			w.writeTick(ctx, tick)
		case settlement := <-w.settles:
			w.writeSettlement(ctx, settlement)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("archive db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		market_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, asset)
	)`, w.table("price_ticks"))); err != nil {
		return err
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		strategy TEXT NOT NULL,
		principal DOUBLE PRECISION NOT NULL,
		profit DOUBLE PRECISION NOT NULL,
		auto BOOLEAN NOT NULL
	)`, w.table("settlements")))
}

func (w *Writer) writeTick(ctx context.Context, tick PriceTick) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, asset, price, change_24h, volume_24h, market_cap)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (ts, asset) DO NOTHING`, w.table("price_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		tick.Time, tick.Asset, tick.Price, tick.Change24h, tick.Volume24h, tick.MarketCap,
	); err != nil && w.log != nil {
		w.log.Warn("archive tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSettlement(ctx context.Context, settlement Settlement) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, account_id, kind, strategy, principal, profit, auto)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("settlements"))
	if _, err := w.db.ExecContext(ctx, query,
		settlement.Time, settlement.AccountID, settlement.Kind, settlement.Strategy,
		settlement.Principal, settlement.Profit, settlement.Auto,
	); err != nil && w.log != nil {
		w.log.Warn("archive settlement insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
