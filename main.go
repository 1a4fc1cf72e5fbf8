package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeLifecycle/config"
	"tradeLifecycle/internal/adapters/binanceclient"
	"tradeLifecycle/internal/adapters/logger"
	"tradeLifecycle/internal/adapters/redisbus"
	"tradeLifecycle/internal/adapters/sqlite"
	"tradeLifecycle/internal/app"
	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/levels"
	"tradeLifecycle/internal/lifecycle"
	"tradeLifecycle/internal/metrics"
	"tradeLifecycle/internal/risk"
	"tradeLifecycle/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(map[string]interface{}{"symbol": cfg.Symbol})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Market Data Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized")

	// 5. Metrics
	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
		appLogger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 6. Exit policies and their collaborators
	board := exits.NewConditionBoard()
	swings := levels.NewSwingLevels(levels.DefaultConfig())
	policies, err := config.LoadPolicies(cfg.PolicyFile, swings, board)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load exit policies")
		log.Fatalf("FATAL: Failed to load exit policies: %v", err)
	}

	deps := app.Dependencies{
		MarketData:  binanceClient,
		Levels:      swings,
		Risk:        risk.NewRiskManager(cfg.Risk),
		Trades:      repo,
		Adjustments: repo,
		Metrics:     m,
		Logger:      appLogger,
	}

	// 7. Message bus
	if cfg.RedisURL != "" {
		client, err := redisbus.Connect(ctx, cfg.RedisURL)
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to connect to Redis")
			log.Fatalf("FATAL: Failed to connect to Redis: %v", err)
		}
		defer client.Close()

		publisher, err := redisbus.NewPublisher(client, cfg.StopChannel, appLogger)
		if err != nil {
			log.Fatalf("FATAL: Failed to create stop publisher: %v", err)
		}
		deps.Publisher = publisher

		subscriber, err := redisbus.NewConditionSubscriber(client, cfg.ConditionChannel, board, appLogger)
		if err != nil {
			log.Fatalf("FATAL: Failed to create condition subscriber: %v", err)
		}
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				appLogger.Error(ctx, err, "Condition feed stopped")
			}
		}()
		appLogger.Info(ctx, "Message bus connected", map[string]interface{}{
			"stopChannel":      cfg.StopChannel,
			"conditionChannel": cfg.ConditionChannel,
		})
	} else {
		appLogger.Warn(ctx, "REDIS_URL not set; stop adjustments are logged and stored only")
	}

	// 8. Signals and regimes
	strat, err := strategy.New(cfg.Strategy, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	classifier, err := strategy.NewTrendClassifier(strategy.DefaultClassifierConfig())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize regime classifier: %v", err)
	}
	deps.Signals = strat
	deps.Classifier = classifier
	regimeCfg := cfg.Regime
	regimeCfg.SessionRegimes = classifier.SessionRegimes()

	// 9. Initialize Application Service
	service, err := app.NewLiveService(app.Config{
		Lifecycle: lifecycle.Config{
			Symbol:     cfg.Symbol,
			PointValue: cfg.PointValue,
			Slippage:   cfg.SlippagePoints,
			Commission: cfg.Commission,
			Policies:   policies,
		},
		CoarseInterval: cfg.CoarseInterval,
		FineInterval:   cfg.FineInterval,
		Period:         cfg.Period,
		SessionGap:     cfg.SessionGap,
		Regime:         &regimeCfg,
		AllowedRegimes: cfg.AllowedRegimes,
		PublishTimeout: cfg.PublishTimeout,
		HistoryLimit:   cfg.HistoryLimit,
		AutoEnter:      cfg.AutoEnter,
	}, deps)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize live service")
		log.Fatalf("FATAL: Failed to initialize live service: %v", err)
	}

	// 10. Start the Service (blocks until shutdown)
	if err := service.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Live service exited with error")
		cancel()
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application shut down gracefully")
}
