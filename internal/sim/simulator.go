package sim

import (
	"context"
	"math/rand"
	"time"

	"coinsim-server/internal/archive"
	"coinsim-server/internal/metrics"
	"coinsim-server/internal/model"
	"coinsim-server/internal/store"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Per-tick perturbation parameters. The nominal ranges are aggregate-over-time
// rates; the damping factor scales them down so one tick moves a position by
// at most a fraction of a percent.
const (
	dampingFactor = 0.01

	botRateMin  = -0.03
	botRateSpan = 0.11 // -3% .. +8%

	arbRateMin  = -0.02
	arbRateSpan = 0.07 // -2% .. +5%

	tradeChance = 0.3

	fallbackReferencePrice = 2000
)

// StrategyTargets maps an arbitrage strategy label to the realized-return
// percentage at which the position auto-completes. Unknown labels never
// auto-complete and can only be stopped by their owner.
var StrategyTargets = map[string]float64{
	"Spatial Arbitrage":       15,
	"Statistical Arbitrage":   10,
	"Pattern-Based Arbitrage": 20,
}

// QuoteSource provides the latest cached quote for an asset.
type QuoteSource interface {
	LatestQuote(asset string) (model.Quote, bool)
}

// Simulator advances every active position once per tick with a bounded
// random perturbation and settles arbitrage positions that hit their target.
type Simulator struct {
	repo     store.Repository
	quotes   QuoteSource
	archive  *archive.Writer
	metrics  *metrics.Metrics
	log      *zap.Logger
	clock    clock.Clock
	interval time.Duration

	randFloat func() float64
}

func New(repo store.Repository, quotes QuoteSource, arch *archive.Writer, m *metrics.Metrics, log *zap.Logger, clk clock.Clock, interval time.Duration) *Simulator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Simulator{
		repo:      repo,
		quotes:    quotes,
		archive:   arch,
		metrics:   m,
		log:       log,
		clock:     clk,
		interval:  interval,
		randFloat: rng.Float64,
	}
}

// Run fires ticks on a fixed schedule until the context is canceled. Tick
// errors are logged and never stop the timer.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error("simulator tick failed", zap.Error(err))
			}
		}
	}
}

// Tick processes every active position independently; a malformed position is
// logged and skipped without aborting the rest.
func (s *Simulator) Tick(ctx context.Context) error {
	s.metrics.SimTicks.Inc()
	bots, err := s.repo.ActiveBots(ctx)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if err := s.advanceBot(ctx, bot); err != nil {
			s.metrics.SimErrors.Inc()
			s.log.Warn("bot update failed", zap.String("bot_id", bot.ID), zap.Error(err))
		}
	}
	arbs, err := s.repo.ActiveArbitrages(ctx)
	if err != nil {
		return err
	}
	for _, arb := range arbs {
		if err := s.advanceArbitrage(ctx, arb); err != nil {
			s.metrics.SimErrors.Inc()
			s.log.Warn("arbitrage update failed", zap.String("arbitrage_id", arb.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Simulator) advanceBot(ctx context.Context, bot model.Bot) error {
	rate := s.randFloat()*botRateSpan + botRateMin
	delta := bot.CurrentValue * rate * dampingFactor
	bot.CurrentValue += delta
	bot.Profit += delta

	if s.randFloat() < tradeChance {
		side := model.SideBuy
		if s.randFloat() < 0.5 {
			side = model.SideSell
		}
		bot.AppendTrade(model.BotTrade{
			Side:   side,
			Amount: s.randFloat()*0.1 + 0.01,
			Price:  s.referencePrice() + (s.randFloat()*20 - 10),
			Time:   s.clock.Now().UTC(),
		})
	}
	return s.repo.UpdateBot(ctx, bot)
}

func (s *Simulator) advanceArbitrage(ctx context.Context, arb model.Arbitrage) error {
	rate := s.randFloat()*arbRateSpan + arbRateMin
	arb.Profit += arb.Amount * rate * dampingFactor

	target, hasTarget := StrategyTargets[arb.Strategy]
	if hasTarget && arb.ReturnPct() >= target {
		now := s.clock.Now().UTC()
		arb.Status = model.ArbitrageCompleted
		arb.CompletedAt = &now
		if err := s.repo.UpdateArbitrage(ctx, arb); err != nil {
			return err
		}
		return s.settle(ctx, arb)
	}
	return s.repo.UpdateArbitrage(ctx, arb)
}

// settle credits principal + profit back to the owner. The position was
// already marked completed, so it can never be picked up by a later tick.
func (s *Simulator) settle(ctx context.Context, arb model.Arbitrage) error {
	account, err := s.repo.AccountByID(ctx, arb.AccountID)
	if err != nil {
		return err
	}
	account.Balance += arb.Amount + arb.Profit
	account.TotalProfit += arb.Profit
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		return err
	}
	s.metrics.Settlements.Inc()
	s.archive.EnqueueSettlement(archive.Settlement{
		Time:      s.clock.Now().UTC(),
		AccountID: arb.AccountID,
		Kind:      "arbitrage",
		Strategy:  arb.Strategy,
		Principal: arb.Amount,
		Profit:    arb.Profit,
		Auto:      true,
	})
	s.log.Info("arbitrage auto-completed",
		zap.String("arbitrage_id", arb.ID),
		zap.String("strategy", arb.Strategy),
		zap.Float64("profit", arb.Profit))
	return nil
}

func (s *Simulator) referencePrice() float64 {
	if s.quotes != nil {
		if quote, ok := s.quotes.LatestQuote(model.ReferenceAsset); ok && quote.PriceUSD > 0 {
			return quote.PriceUSD
		}
	}
	return fallbackReferencePrice
}
