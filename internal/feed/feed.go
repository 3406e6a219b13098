package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"coinsim-server/internal/archive"
	"coinsim-server/internal/config"
	"coinsim-server/internal/feed/coingecko"
	"coinsim-server/internal/metrics"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Source fetches current quotes for a set of coin ids.
type Source interface {
	SimplePrice(ctx context.Context, ids []string) (map[string]model.Quote, error)
}

// Publisher receives every refresh, including cache-only ones.
type Publisher interface {
	Publish(update Update)
}

// Update is one publication of the feed: the full quote table and history
// map, tagged with whether it was served from cache.
type Update struct {
	Prices      map[string]model.Quote          `json:"prices"`
	History     map[string][]model.HistoryPoint `json:"history"`
	Cached      bool                            `json:"cached"`
	LastUpdated int64                           `json:"lastUpdated,omitempty"`
}

const snapshotKey = "feed:last_snapshot"

// snapshot is the msgpack-encoded restart state kept in the kv table.
type snapshot struct {
	Quotes      map[string]model.Quote          `msgpack:"quotes"`
	History     map[string][]model.HistoryPoint `msgpack:"history"`
	LastFetchMS int64                           `msgpack:"last_fetch_ms"`
}

// Acquirer periodically pulls quotes for the supported assets, maintains the
// rolling history, and publishes every refresh. The loop is self-rescheduling:
// each cycle arms a one-shot timer for the next, so cycles never overlap.
type Acquirer struct {
	cfg     config.FeedConfig
	source  Source
	pub     Publisher
	kv      store.KV
	archive *archive.Writer
	metrics *metrics.Metrics
	log     *zap.Logger
	clock   clock.Clock
	assets  []string
	retry   *backoff.ExponentialBackOff

	mu        sync.RWMutex
	quotes    map[string]model.Quote
	history   *History
	lastFetch time.Time
	failures  int
	interval  time.Duration
}

func New(cfg config.FeedConfig, source Source, pub Publisher, kv store.KV, arch *archive.Writer, m *metrics.Metrics, log *zap.Logger, clk clock.Clock) *Acquirer {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.FetchInterval
	retry.MaxInterval = cfg.MaxInterval
	retry.Multiplier = 2
	retry.RandomizationFactor = 0 // interval must never decrease under consecutive failures
	retry.MaxElapsedTime = 0
	a := &Acquirer{
		cfg:     cfg,
		source:  source,
		pub:     pub,
		kv:      kv,
		archive: arch,
		metrics: m,
		log:     log,
		clock:   clk,
		assets:  model.SupportedAssets,
		retry:   retry,
		quotes:  make(map[string]model.Quote),
		history: NewHistory(cfg.HistoryLimit, model.SupportedAssets),
	}
	a.resetRetry()
	return a
}

// resetRetry rearms the escalation ladder. The base step is consumed up front
// so the first failure already lengthens the interval past the base value.
func (a *Acquirer) resetRetry() {
	a.retry.Reset()
	_ = a.retry.NextBackOff()
	a.interval = a.cfg.FetchInterval
}

// Run drives the fetch loop until the context is canceled. Every cycle ends
// by arming the timer for the next one, so a failed cycle can never stop the
// loop.
func (a *Acquirer) Run(ctx context.Context) error {
	a.restoreSnapshot(ctx)
	timer := a.clock.Timer(a.cfg.StartupDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(a.cycle(ctx))
	}
}

// cycle performs one refresh and returns the delay until the next.
func (a *Acquirer) cycle(ctx context.Context) time.Duration {
	now := a.clock.Now()

	a.mu.RLock()
	cacheValid := !a.lastFetch.IsZero() && now.Sub(a.lastFetch) < a.cfg.CacheTTL
	interval := a.interval
	a.mu.RUnlock()

	if cacheValid {
		a.metrics.CacheServes.Inc()
		a.log.Debug("serving cached prices", zap.Duration("age", now.Sub(a.lastFetchTime())))
		a.publish(true)
		return interval
	}

	quotes, err := a.source.SimplePrice(ctx, a.assets)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down, not an upstream failure
			return interval
		}
		return a.onFetchFailure(err)
	}
	a.onFetchSuccess(ctx, now, quotes)
	return a.currentInterval()
}

func (a *Acquirer) onFetchSuccess(ctx context.Context, now time.Time, quotes map[string]model.Quote) {
	ts := now.UnixMilli()
	a.mu.Lock()
	a.quotes = quotes
	for asset, quote := range quotes {
		a.history.Append(asset, model.HistoryPoint{
			TimestampMS: ts,
			Price:       quote.PriceUSD,
			Volume:      quote.Volume24h,
		})
	}
	a.lastFetch = now
	a.failures = 0
	a.resetRetry()
	a.mu.Unlock()

	a.metrics.FetchSuccess.Inc()
	a.log.Info("prices refreshed", zap.Int("assets", len(quotes)))
	for asset, quote := range quotes {
		a.archive.EnqueueTick(archive.PriceTick{
			Time:      now,
			Asset:     asset,
			Price:     quote.PriceUSD,
			Change24h: quote.Change24h,
			Volume24h: quote.Volume24h,
			MarketCap: quote.MarketCapUSD,
		})
	}
	a.saveSnapshot(ctx)
	a.publish(false)
}

// onFetchFailure serves cached data if any exists; with no cache there is
// nothing to publish and the cycle is silent. Only rate-limit rejections
// escalate the interval, other failures retry on the current one.
func (a *Acquirer) onFetchFailure(err error) time.Duration {
	rateLimited := errors.Is(err, coingecko.ErrRateLimited)

	a.mu.Lock()
	a.failures++
	if rateLimited {
		next := a.retry.NextBackOff()
		if next == backoff.Stop || next < a.cfg.FetchInterval {
			next = a.cfg.MaxInterval
		}
		a.interval = next
	}
	next := a.interval
	failures := a.failures
	hasCache := len(a.quotes) > 0
	a.mu.Unlock()

	if rateLimited {
		a.metrics.FetchRateLimited.Inc()
		a.log.Warn("price source rate limited",
			zap.Int("consecutive_failures", failures),
			zap.Duration("next_fetch_in", next))
	} else {
		a.metrics.FetchFailed.Inc()
		a.log.Error("price fetch failed", zap.Error(err), zap.Duration("next_fetch_in", next))
	}
	if hasCache {
		a.publish(true)
	}
	return next
}

func (a *Acquirer) publish(cached bool) {
	if a.pub == nil {
		return
	}
	update := a.Snapshot()
	update.Cached = cached
	a.pub.Publish(update)
}

// Snapshot answers pull queries and seeds late-joining subscribers.
func (a *Acquirer) Snapshot() Update {
	a.mu.RLock()
	defer a.mu.RUnlock()
	quotes := make(map[string]model.Quote, len(a.quotes))
	for asset, quote := range a.quotes {
		quotes[asset] = quote
	}
	var lastUpdated int64
	if !a.lastFetch.IsZero() {
		lastUpdated = a.lastFetch.UnixMilli()
	}
	return Update{
		Prices:      quotes,
		History:     a.history.Snapshot(),
		LastUpdated: lastUpdated,
	}
}

// AssetQuote returns the latest quote and history for one asset.
func (a *Acquirer) AssetQuote(asset string) (model.Quote, []model.HistoryPoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	quote, ok := a.quotes[asset]
	if !ok {
		return model.Quote{}, nil, false
	}
	return quote, a.history.Asset(asset), true
}

// LatestQuote is the simulator's view of the reference asset price.
func (a *Acquirer) LatestQuote(asset string) (model.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	quote, ok := a.quotes[asset]
	return quote, ok
}

func (a *Acquirer) lastFetchTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastFetch
}

func (a *Acquirer) currentInterval() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.interval
}

func (a *Acquirer) saveSnapshot(ctx context.Context) {
	if a.kv == nil {
		return
	}
	a.mu.RLock()
	snap := snapshot{
		Quotes:      a.quotes,
		History:     a.history.Snapshot(),
		LastFetchMS: a.lastFetch.UnixMilli(),
	}
	a.mu.RUnlock()
	data, err := msgpack.Marshal(snap)
	if err != nil {
		a.log.Warn("feed snapshot encode failed", zap.Error(err))
		return
	}
	if err := a.kv.Set(ctx, snapshotKey, data); err != nil {
		a.log.Warn("feed snapshot save failed", zap.Error(err))
	}
}

// restoreSnapshot best-effort reloads the last known quotes and history so
// charts survive a restart. The cache age is restored too: a fresh snapshot
// defers the first upstream call the same way a live cache would.
func (a *Acquirer) restoreSnapshot(ctx context.Context) {
	if a.kv == nil {
		return
	}
	data, ok, err := a.kv.Get(ctx, snapshotKey)
	if err != nil || !ok {
		if err != nil {
			a.log.Warn("feed snapshot load failed", zap.Error(err))
		}
		return
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		a.log.Warn("feed snapshot decode failed", zap.Error(err))
		return
	}
	a.mu.Lock()
	if len(snap.Quotes) > 0 {
		a.quotes = snap.Quotes
	}
	a.history.Restore(snap.History)
	if snap.LastFetchMS > 0 {
		a.lastFetch = time.UnixMilli(snap.LastFetchMS).UTC()
	}
	a.mu.Unlock()
	a.log.Info("feed snapshot restored", zap.Int("assets", len(snap.Quotes)))
}
