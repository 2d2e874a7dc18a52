// Package bootstrap assembles the application: configuration, logging,
// telemetry, the trading pipeline and the runners that drive it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arb_bot/pkg/concurrency"
	"arb_bot/pkg/logging"
	"arb_bot/pkg/telemetry"

	"arb_bot/internal/alert"
	"arb_bot/internal/capital"
	"arb_bot/internal/config"
	"arb_bot/internal/core"
	"arb_bot/internal/exchange/binance"
	"arb_bot/internal/executor"
	"arb_bot/internal/history"
	"arb_bot/internal/orchestrator"
	"arb_bot/internal/pricing"
	"arb_bot/internal/recovery"
	"arb_bot/internal/safety"
	"arb_bot/internal/strategy"
)

// routeFailurePenaltyUSD is subtracted from a route's expected profit per
// recent failure when ranking candidate routes.
var routeFailurePenaltyUSD = decimal.NewFromFloat(0.05)

// Runner is a long-lived component driven by the app's lifecycle.
type Runner interface {
	Run(ctx context.Context) error
}

// App owns the wired component graph and its shutdown order.
type App struct {
	Cfg    *config.Config
	Logger *logging.ZapLogger

	tel     *telemetry.Telemetry
	store   *history.SQLiteStore
	orch    *orchestrator.Orchestrator
	watcher *safety.KillSwitchWatcher
}

// NewApp builds the full pipeline from a config file. An empty path runs
// on the built-in default configuration.
func NewApp(configPath string) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg = config.DefaultConfig()
	} else {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tel, err := telemetry.Setup(cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	events := core.NewLogSink(logger)

	alerts := alert.NewManager(logger)
	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID))
	}
	if cfg.Alerts.SlackWebhookURL != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}

	gate := safety.NewGate(events, logger)
	recoveryMgr := recovery.NewManager(
		cfg.PairBreakerConfig(),
		cfg.GlobalBreakerConfig(),
		cfg.ReplayConfigFor(),
		gate,
		events,
		alerts,
		logger,
	)

	capitalMgr := capital.NewManager(cfg.Capital, cfg.Pairs, logger)

	cex := binance.NewAdapter(cfg.BinanceAdapterConfig(), logger)

	// No transaction submitter is wired yet; swaps fail outside simulate
	// mode until a wallet backend implements pricing.TxSubmitter.
	var submitter pricing.TxSubmitter
	if !cfg.App.Simulate {
		logger.Warn("Running live without a transaction submitter; on-chain legs will fail")
	}
	aggregator := pricing.NewOdosClient(cfg.OdosConfig(), submitter, logger)

	var pool core.IDexAdapter
	if cfg.Dex.Pool.RPCURL != "" {
		pool = pricing.NewPoolQuoter(cfg.PoolConfig(), submitter, logger)
	}

	health := strategy.NewRouteHealth(cfg.Generator.RouteWindowSize, routeFailurePenaltyUSD)
	generator := strategy.NewSignalGenerator(
		cfg.GeneratorConfigFor(),
		cfg.FeeModel(),
		cex,
		aggregator,
		pool,
		capitalMgr,
		health,
		events,
		logger,
	)

	scorerCfg := cfg.ScorerConfigFor()
	historyTracker := strategy.NewHistoryTracker(scorerCfg.EMAAlpha)
	scorer := strategy.NewSignalScorer(scorerCfg, capitalMgr, historyTracker, events, logger)
	queue := strategy.NewSignalQueue(cfg.QueueConfigFor(), events)

	store, err := history.NewSQLiteStore(cfg.History.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade store: %w", err)
	}

	routes := map[core.RouteKind]core.IDexAdapter{
		core.RouteAggregator: aggregator,
	}
	if pool != nil {
		routes[core.RouteDirectPool] = pool
	}

	engine := executor.NewEngine(
		cfg.ExecutorConfigFor(),
		cex,
		routes,
		recoveryMgr,
		capitalMgr.Snapshot,
		events,
		logger,
	)
	engine.SetAuditSink(func(signalID string, trail []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SaveAudit(ctx, signalID, trail); err != nil {
			logger.Error("Failed to persist audit trail", "signal_id", signalID, "error", err)
		}
	})

	workerPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "executor",
		MaxWorkers:  cfg.Orchestrator.PoolWorkers,
		MaxCapacity: cfg.Orchestrator.PoolCapacity,
		NonBlocking: true,
	}, logger)

	orch := orchestrator.New(
		orchestrator.Config{
			TickInterval:        time.Duration(cfg.Orchestrator.TickIntervalMs) * time.Millisecond,
			SizeQuoteUSD:        decimal.NewFromFloat(cfg.Generator.SizeQuoteUSD),
			StatusIntervalTicks: cfg.App.StatusIntervalTicks,
		},
		cfg.Pairs,
		generator,
		scorer,
		queue,
		engine,
		capitalMgr,
		historyTracker,
		recoveryMgr,
		store,
		workerPool,
		events,
		logger,
	)

	watcher := safety.NewKillSwitchWatcher(time.Second, events, logger, orch.SetKillSwitch)

	return &App{
		Cfg:     cfg,
		Logger:  logger,
		tel:     tel,
		store:   store,
		orch:    orch,
		watcher: watcher,
	}, nil
}

// Run drives every runner until a signal arrives or one of them fails,
// then shuts the app down in reverse wiring order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	runners := []Runner{a.orch, a.watcher}
	for _, r := range runners {
		runner := r
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	metricsSrv := a.metricsServer()
	if metricsSrv != nil {
		g.Go(func() error {
			a.Logger.Info("Metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	a.Logger.Info("Application started",
		"name", a.Cfg.App.Name,
		"pairs", len(a.Cfg.Pairs),
		"simulate", a.Cfg.App.Simulate)

	err := g.Wait()
	a.shutdown()

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (a *App) metricsServer() *http.Server {
	if a.Cfg.App.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.App.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) shutdown() {
	a.Logger.Info("Shutting down")

	if err := a.store.Close(); err != nil {
		a.Logger.Error("Failed to close trade store", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.Logger.Error("Telemetry shutdown failed", "error", err)
	}

	_ = a.Logger.Sync()
}
