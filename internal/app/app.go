package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"coinsim-server/internal/api"
	"coinsim-server/internal/archive"
	"coinsim-server/internal/auth"
	"coinsim-server/internal/config"
	"coinsim-server/internal/feed"
	"coinsim-server/internal/feed/coingecko"
	"coinsim-server/internal/hub"
	"coinsim-server/internal/metrics"
	"coinsim-server/internal/sim"
	"coinsim-server/internal/store/sqlite"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-running component: the price acquirer, the position
// simulator, the websocket hub, the archive writer and the HTTP server.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	archive   *archive.Writer
	metrics   *metrics.Metrics
	acquirer  *feed.Acquirer
	hub       *hub.Hub
	simulator *sim.Simulator
	server    *http.Server
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	m := prom.Metrics

	arch, err := archive.New(cfg.Archive, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	wsHub := hub.New(cfg.HTTP.AllowedOrigins, m, log)
	source := coingecko.New(cfg.Feed.BaseURL, cfg.Feed.Timeout, log)
	clk := clock.New()
	acquirer := feed.New(cfg.Feed, source, wsHub, store, arch, m, log, clk)
	simulator := sim.New(store, acquirer, arch, m, log, clk, cfg.Simulator.TickInterval)

	authMgr, err := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	apiServer := api.NewServer(cfg.HTTP, store, authMgr, acquirer,
		http.HandlerFunc(wsHub.ServeWS), arch, m, prom.Handler(), log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		archive:   arch,
		metrics:   m,
		acquirer:  acquirer,
		hub:       wsHub,
		simulator: simulator,
		server:    server,
	}, nil
}

// Run starts every component and blocks until the context is canceled or the
// HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.archive.Close()

	a.archive.Start(ctx)
	go func() {
		if err := a.acquirer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("acquirer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := a.simulator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("simulator stopped", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", a.cfg.HTTP.Addr))
		serverErr <- a.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown failed", zap.Error(err))
		}
		return ctx.Err()
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
