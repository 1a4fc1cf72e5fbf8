package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"tradeLifecycle/internal/adapters/logger"
	"tradeLifecycle/internal/ports"
	"tradeLifecycle/internal/regime"
	"tradeLifecycle/internal/risk"
	"tradeLifecycle/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	// Market data (Binance). Keys are optional; bars are public.
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instrument
	Symbol         string
	PointValue     float64 // Dollars per point per contract
	SlippagePoints float64 // Applied against the position on stop fills
	Commission     float64 // Dollars per contract per side

	// Bars
	CoarseInterval string // Decision period, e.g. "15m"
	FineInterval   string // Exit resolution, e.g. "1m"
	Period         time.Duration
	SessionGap     time.Duration
	HistoryLimit   int

	// Entry
	AutoEnter bool
	Strategy  strategy.Config

	// Regime gating
	Regime         regime.Config
	AllowedRegimes []string

	// Risk limits
	Risk risk.RiskConfig

	// Exit policies
	PolicyFile string

	// Database
	DBPath string

	// Logging
	LogLevel  zerolog.Level
	LogFormat logger.Format

	// Message bus
	RedisURL         string
	StopChannel      string
	ConditionChannel string
	PublishTimeout   time.Duration

	// Metrics
	MetricsAddr string

	// Connection Settings
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	cfg.Symbol = getEnv("SYMBOL", "BTCUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL must be set"))
	}
	cfg.PointValue, err = getEnvAsFloatRequired("POINT_VALUE", 1)
	check(err)
	if cfg.PointValue <= 0 {
		errs = append(errs, errors.New("POINT_VALUE must be positive"))
	}
	cfg.SlippagePoints, err = getEnvAsFloatRequired("SLIPPAGE_POINTS", 0)
	check(err)
	if cfg.SlippagePoints < 0 {
		errs = append(errs, errors.New("SLIPPAGE_POINTS cannot be negative"))
	}
	cfg.Commission, err = getEnvAsFloatRequired("COMMISSION", 0)
	check(err)
	if cfg.Commission < 0 {
		errs = append(errs, errors.New("COMMISSION cannot be negative"))
	}

	// Bars
	cfg.CoarseInterval = getEnv("COARSE_INTERVAL", "15m")
	cfg.FineInterval = getEnv("FINE_INTERVAL", "1m")
	cfg.Period, err = IntervalDuration(cfg.CoarseInterval)
	check(err)
	fine, err := IntervalDuration(cfg.FineInterval)
	check(err)
	if err == nil && cfg.Period > 0 && fine >= cfg.Period {
		errs = append(errs, errors.New("FINE_INTERVAL must be shorter than COARSE_INTERVAL"))
	}
	cfg.SessionGap, err = getEnvAsDuration("SESSION_GAP", 0)
	check(err)
	cfg.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", 200)

	// Entry
	cfg.AutoEnter = getEnvAsBool("AUTO_ENTER", false)
	cfg.Strategy = strategy.DefaultConfig()
	cfg.Strategy.Period = cfg.Period
	cfg.Strategy.ShortTermMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", cfg.Strategy.ShortTermMAPeriod)
	cfg.Strategy.LongTermMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", cfg.Strategy.LongTermMAPeriod)
	cfg.Strategy.ATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", cfg.Strategy.ATRPeriod)
	cfg.Strategy.RSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", cfg.Strategy.RSIPeriod)
	cfg.Strategy.RSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", cfg.Strategy.RSIOverbought)
	cfg.Strategy.RSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", cfg.Strategy.RSIOversold)
	cfg.Strategy.StopATR = getEnvAsFloat("STRATEGY_STOP_ATR", cfg.Strategy.StopATR)
	cfg.Strategy.TargetATR = getEnvAsFloat("STRATEGY_TARGET_ATR", cfg.Strategy.TargetATR)
	cfg.Strategy.TrailTriggerATR = getEnvAsFloat("STRATEGY_TRAIL_TRIGGER_ATR", cfg.Strategy.TrailTriggerATR)
	cfg.Strategy.TrailOffsetATR = getEnvAsFloat("STRATEGY_TRAIL_OFFSET_ATR", cfg.Strategy.TrailOffsetATR)
	cfg.Strategy.MaxHoldBars = getEnvAsInt("STRATEGY_MAX_HOLD_BARS", cfg.Strategy.MaxHoldBars)
	if cfg.Strategy.ShortTermMAPeriod >= cfg.Strategy.LongTermMAPeriod {
		errs = append(errs, errors.New("STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD"))
	}
	if cfg.Strategy.RSIOverbought <= cfg.Strategy.RSIOversold || cfg.Strategy.RSIOverbought > 100 || cfg.Strategy.RSIOversold < 0 {
		errs = append(errs, errors.New("invalid RSI thresholds (Overbought must be > Oversold, between 0-100)"))
	}

	// Regime
	cfg.Regime = regime.DefaultConfig()
	cfg.Regime.ChangeConfidenceThreshold = getEnvAsFloat("REGIME_CHANGE_CONFIDENCE", cfg.Regime.ChangeConfidenceThreshold)
	cfg.Regime.MaintainConfidenceThreshold = getEnvAsFloat("REGIME_MAINTAIN_CONFIDENCE", cfg.Regime.MaintainConfidenceThreshold)
	cfg.Regime.MinRegimeDuration = getEnvAsInt("REGIME_MIN_DURATION", cfg.Regime.MinRegimeDuration)
	cfg.Regime.ConsensusWindowSize = getEnvAsInt("REGIME_CONSENSUS_WINDOW", cfg.Regime.ConsensusWindowSize)
	cfg.Regime.ConsensusThreshold = getEnvAsFloat("REGIME_CONSENSUS_THRESHOLD", cfg.Regime.ConsensusThreshold)
	cfg.Regime.ConsensusSource = regime.ConsensusSource(strings.ToLower(getEnv("REGIME_CONSENSUS_SOURCE", string(regime.ConsensusStabilized))))
	if err := cfg.Regime.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("regime: %w", err))
	}
	cfg.AllowedRegimes = getEnvAsList("ALLOWED_REGIMES")

	// Risk
	cfg.Risk.MaxDailyLoss = getEnvAsFloat("MAX_DAILY_LOSS", 0)
	cfg.Risk.MaxTradesPerSession = getEnvAsInt("MAX_TRADES_PER_SESSION", 0)
	cfg.Risk.MaxStopDistance = getEnvAsFloat("MAX_STOP_DISTANCE", 0)
	cfg.Risk.MaxQuantity = getEnvAsFloat("MAX_QUANTITY", 0)
	if cfg.Risk.MaxDailyLoss < 0 || cfg.Risk.MaxTradesPerSession < 0 || cfg.Risk.MaxStopDistance < 0 || cfg.Risk.MaxQuantity < 0 {
		errs = append(errs, errors.New("risk limits cannot be negative"))
	}

	cfg.PolicyFile = getEnv("POLICY_FILE", "")

	cfg.DBPath = getEnv("DB_PATH", "./data/trades.db")

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	switch format := logger.Format(strings.ToLower(getEnv("LOG_FORMAT", "json"))); format {
	case logger.FormatJSON, logger.FormatConsole:
		cfg.LogFormat = format
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", format))
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.StopChannel = getEnv("STOP_CHANNEL", "order.request")
	cfg.ConditionChannel = getEnv("CONDITION_CHANNEL", "condition.update")
	cfg.PublishTimeout, err = getEnvAsDuration("PUBLISH_TIMEOUT", 2*time.Second)
	check(err)
	if cfg.PublishTimeout <= 0 {
		errs = append(errs, errors.New("PUBLISH_TIMEOUT must be positive"))
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, errors.New("RECONNECT_DELAY_SECONDS must be positive"))
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("MAX_RECONNECT_ATTEMPTS cannot be negative"))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, errors.Join(errs...))
	}
	return cfg, nil
}

// IntervalDuration converts a bar interval such as "1m", "15m", "4h" or "1d" to a duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
