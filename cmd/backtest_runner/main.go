package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tradeLifecycle/config"
	"tradeLifecycle/internal/adapters/logger"
	"tradeLifecycle/internal/adapters/sqlite"
	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/levels"
	"tradeLifecycle/internal/lifecycle"
	"tradeLifecycle/internal/metrics"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/risk"
	"tradeLifecycle/internal/strategy"
	"tradeLifecycle/internal/strategy/analytics"
	"tradeLifecycle/internal/strategy/backtesting"
	"tradeLifecycle/internal/utils"
)

type options struct {
	coarse   string
	fine     string
	signals  string
	regimes  string
	out      string
	persist  bool
	initial  float64
	classify bool
}

// runner holds the inputs shared by every backtest of one invocation.
type runner struct {
	cfg              *config.Config
	opts             options
	logger           *logger.Logger
	scheduledSignals map[time.Time]domain.Signal
	scheduledRegimes map[time.Time]domain.RawRegime
	metrics          *metrics.Metrics
}

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	var opts options
	flag.StringVar(&opts.coarse, "coarse", "", "coarse (decision) bar CSV, required")
	flag.StringVar(&opts.fine, "fine", "", "fine (exit resolution) bar CSV; empty degrades exits to coarse bars")
	flag.StringVar(&opts.signals, "signals", "", "precomputed signal CSV; empty uses the built-in crossover strategy")
	flag.StringVar(&opts.regimes, "regimes", "", "precomputed regime CSV")
	flag.BoolVar(&opts.classify, "classify", false, "label regimes with the built-in trend classifier when no regime CSV is given")
	flag.StringVar(&opts.out, "out", "data/backtest_trades.csv", "trades CSV output")
	flag.BoolVar(&opts.persist, "persist", false, "store trades in the SQLite database at DB_PATH")
	flag.Float64Var(&opts.initial, "initial", 0, "starting balance for analytics")
	flag.Parse()
	if opts.coarse == "" {
		flag.Usage()
		os.Exit(2)
	}

	// 2. Initialize Logger
	appLogger := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With(map[string]interface{}{"symbol": cfg.Symbol})
	ctx := context.Background()

	r := &runner{cfg: cfg, opts: opts, logger: appLogger, metrics: metrics.New(prometheus.NewRegistry())}
	if err := r.run(ctx); err != nil {
		appLogger.Error(ctx, err, "Backtest failed")
		log.Fatalf("FATAL: %v", err)
	}
}

func (r *runner) run(ctx context.Context) error {
	coarse, err := utils.ReadBarsFromCSV(r.opts.coarse)
	if err != nil {
		return fmt.Errorf("loading coarse bars: %w", err)
	}
	var fine []domain.Bar
	if r.opts.fine != "" {
		if fine, err = utils.ReadBarsFromCSV(r.opts.fine); err != nil {
			return fmt.Errorf("loading fine bars: %w", err)
		}
	}
	if r.opts.signals != "" {
		if r.scheduledSignals, err = utils.ReadSignalsFromCSV(r.opts.signals); err != nil {
			return fmt.Errorf("loading signals: %w", err)
		}
	}
	if r.opts.regimes != "" {
		if r.scheduledRegimes, err = utils.ReadRegimesFromCSV(r.opts.regimes); err != nil {
			return fmt.Errorf("loading regimes: %w", err)
		}
	}
	r.logger.Info(ctx, "Loaded bars", map[string]interface{}{
		"coarse":  len(coarse),
		"fine":    len(fine),
		"signals": len(r.scheduledSignals),
		"regimes": len(r.scheduledRegimes),
	})

	btCfg, deps, err := r.build()
	if err != nil {
		return err
	}
	deps.Metrics = r.metrics

	if r.opts.persist {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: r.cfg.DBPath, Logger: r.logger})
		if err != nil {
			return err
		}
		defer repo.Close()
		deps.Trades = repo
	}

	result, err := backtesting.Backtest(ctx, btCfg, deps, coarse, fine)
	if err != nil {
		return err
	}
	m := analytics.AnalyzePerformance(result.Trades, r.opts.initial)
	r.logger.Info(ctx, "Backtest result", map[string]interface{}{
		"trades":          m.TotalTrades,
		"winRate":         m.WinRate * 100,
		"pnl":             m.TotalProfit,
		"points":          m.TotalPoints,
		"maxDrawdown":     m.MaxDrawdown,
		"profitFactor":    m.ProfitFactor,
		"expectancy":      m.Expectancy,
		"recoveryFactor":  m.RecoveryFactor,
		"exitReasons":     m.ExitReasons,
		"signals":         result.Signals,
		"blockedByRegime": result.BlockedByRegime,
		"blockedByRisk":   result.BlockedByRisk,
		"degraded":        result.Degraded,
	})

	if err := os.MkdirAll(filepath.Dir(r.opts.out), 0755); err != nil {
		return err
	}
	if err := utils.WriteTradesToCSV(result.Trades, r.opts.out); err != nil {
		return fmt.Errorf("writing trades: %w", err)
	}
	r.logger.Info(ctx, "Trades saved to", map[string]interface{}{"filename": r.opts.out})
	return nil
}

// build assembles one backtest with fresh stateful collaborators.
func (r *runner) build() (backtesting.BacktestConfig, backtesting.Dependencies, error) {
	cfg := r.cfg
	swings := levels.NewSwingLevels(levels.DefaultConfig())

	policies, err := config.LoadPolicies(cfg.PolicyFile, swings, exits.NewConditionBoard())
	if err != nil {
		return backtesting.BacktestConfig{}, backtesting.Dependencies{}, err
	}

	btCfg := backtesting.BacktestConfig{
		Lifecycle: lifecycle.Config{
			Symbol:     cfg.Symbol,
			PointValue: cfg.PointValue,
			Slippage:   cfg.SlippagePoints,
			Commission: cfg.Commission,
			Policies:   policies,
		},
		Period:         cfg.Period,
		SessionGap:     cfg.SessionGap,
		AllowedRegimes: cfg.AllowedRegimes,
		HistoryLimit:   cfg.HistoryLimit,
	}
	deps := backtesting.Dependencies{
		Levels: swings,
		Risk:   risk.NewRiskManager(cfg.Risk),
		Logger: r.logger,
	}

	if r.scheduledSignals != nil {
		deps.Signals = backtesting.NewScheduledSignals(r.scheduledSignals)
	} else {
		strat, err := strategy.New(cfg.Strategy, r.logger)
		if err != nil {
			return backtesting.BacktestConfig{}, backtesting.Dependencies{}, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
		}
		deps.Signals = strat
	}

	regimeCfg := cfg.Regime
	switch {
	case r.scheduledRegimes != nil:
		deps.Classifier = backtesting.NewScheduledRegimes(r.scheduledRegimes)
	case r.opts.classify:
		classifier, err := strategy.NewTrendClassifier(strategy.DefaultClassifierConfig())
		if err != nil {
			return backtesting.BacktestConfig{}, backtesting.Dependencies{}, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
		}
		regimeCfg.SessionRegimes = classifier.SessionRegimes()
		deps.Classifier = classifier
	}
	if deps.Classifier != nil {
		btCfg.Regime = &regimeCfg
	}
	return btCfg, deps, nil
}
