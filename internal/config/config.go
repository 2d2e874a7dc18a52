// Package config loads and validates the YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"arb_bot/internal/capital"
	"arb_bot/internal/core"
	"arb_bot/internal/exchange/binance"
	"arb_bot/internal/executor"
	"arb_bot/internal/pricing"
	"arb_bot/internal/recovery"
	"arb_bot/internal/strategy"
)

// Config is the root configuration document.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Pairs        []core.Pair        `yaml:"pairs"`
	Binance      BinanceConfig      `yaml:"binance"`
	Dex          DexConfig          `yaml:"dex"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Fees         FeesConfig         `yaml:"fees"`
	Scorer       ScorerConfig       `yaml:"scorer"`
	Queue        QueueConfig        `yaml:"queue"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Capital      capital.Config     `yaml:"capital"`
	History      HistoryConfig      `yaml:"history"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	Name                string `yaml:"name"`
	LogLevel            string `yaml:"log_level"`
	MetricsPort         int    `yaml:"metrics_port"`
	Simulate            bool   `yaml:"simulate"`
	StatusIntervalTicks int    `yaml:"status_interval_ticks"`
}

// BinanceConfig contains CEX credentials and limits.
type BinanceConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	SecretKey         string  `yaml:"secret_key"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DexConfig contains the on-chain quote sources and the executing wallet.
type DexConfig struct {
	Odos struct {
		BaseURL        string `yaml:"base_url"`
		ChainID        int64  `yaml:"chain_id"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"odos"`
	Pool struct {
		RPCURL         string `yaml:"rpc_url"`
		RouterAddress  string `yaml:"router_address"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		StaticGasUnits int64  `yaml:"static_gas_units"`
	} `yaml:"pool"`
	Sender string `yaml:"sender"`
}

// GeneratorConfig contains signal generation thresholds.
type GeneratorConfig struct {
	MinProfitUSD    float64 `yaml:"min_profit_usd"`
	MaxPositionUSD  float64 `yaml:"max_position_usd"`
	SignalTTLMs     int     `yaml:"signal_ttl_ms"`
	CooldownMs      int     `yaml:"cooldown_ms"`
	BookDepth       int     `yaml:"book_depth"`
	SizeQuoteUSD    float64 `yaml:"size_quote_usd"`
	BalanceBuffer   float64 `yaml:"balance_buffer"`
	RouteWindowSize int     `yaml:"route_window_size"`
}

// FeesConfig contains the static cost model inputs.
type FeesConfig struct {
	CexMakerFeeBps    float64 `yaml:"cex_maker_fee_bps"`
	SlippageBufferBps float64 `yaml:"slippage_buffer_bps"`
	GasPriceGwei      float64 `yaml:"gas_price_gwei"`
	NativeUSD         float64 `yaml:"native_usd"`
}

// ScorerConfig contains scoring thresholds.
type ScorerConfig struct {
	MinScore   float64 `yaml:"min_score"`
	EMAAlpha   float64 `yaml:"ema_alpha"`
	MinSamples int     `yaml:"min_samples"`
}

// QueueConfig bounds the signal queue.
type QueueConfig struct {
	MaxDepth   int `yaml:"max_depth"`
	MaxPerPair int `yaml:"max_per_pair"`
}

// ExecutorConfig contains leg execution tuning.
type ExecutorConfig struct {
	LegOrder            string `yaml:"leg_order"`
	Leg1TimeoutSeconds  int    `yaml:"leg1_timeout_seconds"`
	Leg2TimeoutSeconds  int    `yaml:"leg2_timeout_seconds"`
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	SwapDeadlineSeconds int    `yaml:"swap_deadline_seconds"`
	SlippageBps         int64  `yaml:"slippage_bps"`
	UnwindSlippageBps   int64  `yaml:"unwind_slippage_bps"`
	UnwindAttempts      int    `yaml:"unwind_attempts"`
	QuoteMaxAgeSeconds  int    `yaml:"quote_max_age_seconds"`
}

// BreakerSection configures one breaker scope.
type BreakerSection struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	WindowSeconds    int     `yaml:"window_seconds"`
	CooldownSeconds  int     `yaml:"cooldown_seconds"`
	MaxDrawdownUSD   float64 `yaml:"max_drawdown_usd"`
}

// RecoveryConfig contains the admission plane settings.
type RecoveryConfig struct {
	PairBreaker   BreakerSection `yaml:"pair_breaker"`
	GlobalBreaker BreakerSection `yaml:"global_breaker"`
	Replay        struct {
		TTLSeconds    int  `yaml:"ttl_seconds"`
		MaxAgeSeconds int  `yaml:"max_age_seconds"`
		Capacity      int  `yaml:"capacity"`
		NonceCheck    bool `yaml:"nonce_check"`
	} `yaml:"replay"`
}

// HistoryConfig locates the trade database.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// AlertsConfig contains webhook channel credentials.
type AlertsConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
}

// OrchestratorConfig contains the main loop settings.
type OrchestratorConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
	PoolWorkers    int `yaml:"pool_workers"`
	PoolCapacity   int `yaml:"pool_capacity"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, check := range []func() error{
		c.validateApp,
		c.validatePairs,
		c.validateGenerator,
		c.validateExecutor,
		c.validateRecovery,
		c.validateCapital,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() error {
	validLevels := []string{"", "debug", "info", "warn", "error"}
	if !contains(validLevels, c.App.LogLevel) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: "must be one of: debug, info, warn, error",
		}
	}
	if c.App.MetricsPort < 0 || c.App.MetricsPort > 65535 {
		return ValidationError{
			Field:   "app.metrics_port",
			Value:   c.App.MetricsPort,
			Message: "must be a valid port",
		}
	}
	return nil
}

func (c *Config) validatePairs() error {
	if len(c.Pairs) == 0 {
		return ValidationError{
			Field:   "pairs",
			Message: "at least one pair must be configured",
		}
	}
	for i, p := range c.Pairs {
		if p.Base == "" || p.Quote == "" {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d]", i),
				Message: "base and quote are required",
			}
		}
		if p.VenueSymbol == "" {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].venue_symbol", i),
				Message: "venue symbol is required",
			}
		}
		if p.TokenAddress == "" || p.QuoteTokenAddr == "" {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d]", i),
				Message: "token addresses are required",
			}
		}
	}
	return nil
}

func (c *Config) validateGenerator() error {
	if c.Generator.MinProfitUSD < 0 {
		return ValidationError{
			Field:   "generator.min_profit_usd",
			Value:   c.Generator.MinProfitUSD,
			Message: "must not be negative",
		}
	}
	if c.Generator.SizeQuoteUSD <= 0 {
		return ValidationError{
			Field:   "generator.size_quote_usd",
			Value:   c.Generator.SizeQuoteUSD,
			Message: "must be positive",
		}
	}
	if c.Generator.SignalTTLMs <= 0 {
		return ValidationError{
			Field:   "generator.signal_ttl_ms",
			Value:   c.Generator.SignalTTLMs,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateExecutor() error {
	switch c.Executor.LegOrder {
	case "", string(executor.DexFirst), string(executor.CexFirst):
	default:
		return ValidationError{
			Field:   "executor.leg_order",
			Value:   c.Executor.LegOrder,
			Message: "must be dex_first or cex_first",
		}
	}
	if c.Executor.SlippageBps < 0 || c.Executor.SlippageBps > 1000 {
		return ValidationError{
			Field:   "executor.slippage_bps",
			Value:   c.Executor.SlippageBps,
			Message: "must be between 0 and 1000",
		}
	}
	return nil
}

func (c *Config) validateRecovery() error {
	for name, section := range map[string]BreakerSection{
		"recovery.pair_breaker":   c.Recovery.PairBreaker,
		"recovery.global_breaker": c.Recovery.GlobalBreaker,
	} {
		if section.FailureThreshold <= 0 {
			return ValidationError{
				Field:   name + ".failure_threshold",
				Value:   section.FailureThreshold,
				Message: "must be positive",
			}
		}
		if section.CooldownSeconds <= 0 {
			return ValidationError{
				Field:   name + ".cooldown_seconds",
				Value:   section.CooldownSeconds,
				Message: "must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateCapital() error {
	if c.Capital.QuoteAsset == "" {
		return ValidationError{
			Field:   "capital.quote_asset",
			Message: "quote asset is required",
		}
	}
	if c.Capital.AmortizationTargetTrades < 0 {
		return ValidationError{
			Field:   "capital.amortization_target_trades",
			Value:   c.Capital.AmortizationTargetTrades,
			Message: "must not be negative",
		}
	}
	return nil
}

// BinanceAdapterConfig converts the section into the adapter's config.
func (c *Config) BinanceAdapterConfig() binance.Config {
	return binance.Config{
		BaseURL:           c.Binance.BaseURL,
		APIKey:            c.Binance.APIKey,
		SecretKey:         c.Binance.SecretKey,
		Timeout:           seconds(c.Binance.TimeoutSeconds),
		RequestsPerSecond: c.Binance.RequestsPerSecond,
	}
}

// OdosConfig converts the aggregator section.
func (c *Config) OdosConfig() pricing.OdosConfig {
	return pricing.OdosConfig{
		BaseURL:  c.Dex.Odos.BaseURL,
		ChainID:  c.Dex.Odos.ChainID,
		Timeout:  seconds(c.Dex.Odos.TimeoutSeconds),
		UserAddr: c.Dex.Sender,
	}
}

// PoolConfig converts the direct pool section.
func (c *Config) PoolConfig() pricing.PoolConfig {
	return pricing.PoolConfig{
		RPCURL:         c.Dex.Pool.RPCURL,
		RouterAddress:  c.Dex.Pool.RouterAddress,
		Timeout:        seconds(c.Dex.Pool.TimeoutSeconds),
		StaticGasUnits: c.Dex.Pool.StaticGasUnits,
	}
}

// GeneratorConfigFor converts the generator section.
func (c *Config) GeneratorConfigFor() strategy.GeneratorConfig {
	cfg := strategy.GeneratorConfig{
		MinProfitUSD:   decimal.NewFromFloat(c.Generator.MinProfitUSD),
		MaxPositionUSD: decimal.NewFromFloat(c.Generator.MaxPositionUSD),
		SignalTTL:      time.Duration(c.Generator.SignalTTLMs) * time.Millisecond,
		Cooldown:       time.Duration(c.Generator.CooldownMs) * time.Millisecond,
		BookDepth:      c.Generator.BookDepth,
	}
	if c.Generator.BalanceBuffer > 0 {
		cfg.BalanceBuffer = decimal.NewFromFloat(c.Generator.BalanceBuffer)
	}
	return cfg
}

// FeeModel converts the fees section.
func (c *Config) FeeModel() strategy.FeeModel {
	return strategy.FeeModel{
		CexMakerFeeBps:    decimal.NewFromFloat(c.Fees.CexMakerFeeBps),
		SlippageBufferBps: decimal.NewFromFloat(c.Fees.SlippageBufferBps),
		GasPriceGwei:      decimal.NewFromFloat(c.Fees.GasPriceGwei),
		NativeUSD:         decimal.NewFromFloat(c.Fees.NativeUSD),
	}
}

// ScorerConfigFor converts the scorer section, falling back to defaults
// for unset fields.
func (c *Config) ScorerConfigFor() strategy.ScorerConfig {
	cfg := strategy.DefaultScorerConfig()
	if c.Scorer.MinScore > 0 {
		cfg.MinScore = decimal.NewFromFloat(c.Scorer.MinScore)
	}
	if c.Scorer.EMAAlpha > 0 {
		cfg.EMAAlpha = decimal.NewFromFloat(c.Scorer.EMAAlpha)
	}
	if c.Scorer.MinSamples > 0 {
		cfg.MinSamples = c.Scorer.MinSamples
	}
	return cfg
}

// QueueConfigFor converts the queue section.
func (c *Config) QueueConfigFor() strategy.QueueConfig {
	cfg := strategy.QueueConfig{
		MaxDepth:   c.Queue.MaxDepth,
		MaxPerPair: c.Queue.MaxPerPair,
	}
	if c.Scorer.MinScore > 0 {
		cfg.MinScore = decimal.NewFromFloat(c.Scorer.MinScore)
	}
	return cfg
}

// ExecutorConfigFor converts the executor section.
func (c *Config) ExecutorConfigFor() executor.Config {
	cfg := executor.DefaultConfig()
	if c.Executor.LegOrder != "" {
		cfg.LegOrder = executor.LegOrder(c.Executor.LegOrder)
	}
	if c.Executor.Leg1TimeoutSeconds > 0 {
		cfg.Leg1Timeout = seconds(c.Executor.Leg1TimeoutSeconds)
	}
	if c.Executor.Leg2TimeoutSeconds > 0 {
		cfg.Leg2Timeout = seconds(c.Executor.Leg2TimeoutSeconds)
	}
	if c.Executor.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(c.Executor.PollIntervalMs) * time.Millisecond
	}
	if c.Executor.SwapDeadlineSeconds > 0 {
		cfg.SwapDeadline = seconds(c.Executor.SwapDeadlineSeconds)
	}
	if c.Executor.SlippageBps > 0 {
		cfg.SlippageBps = c.Executor.SlippageBps
	}
	if c.Executor.UnwindSlippageBps > 0 {
		cfg.UnwindSlippageBps = c.Executor.UnwindSlippageBps
	}
	if c.Executor.UnwindAttempts > 0 {
		cfg.UnwindAttempts = c.Executor.UnwindAttempts
	}
	if c.Executor.QuoteMaxAgeSeconds > 0 {
		cfg.QuoteMaxAge = seconds(c.Executor.QuoteMaxAgeSeconds)
	}
	cfg.Sender = c.Dex.Sender
	cfg.Simulate = c.App.Simulate
	return cfg
}

// PairBreakerConfig converts the per-pair breaker section.
func (c *Config) PairBreakerConfig() recovery.BreakerConfig {
	return breakerConfig(c.Recovery.PairBreaker)
}

// GlobalBreakerConfig converts the global breaker section.
func (c *Config) GlobalBreakerConfig() recovery.BreakerConfig {
	return breakerConfig(c.Recovery.GlobalBreaker)
}

// ReplayConfigFor converts the replay section; zero fields fall back to
// the ledger's own defaults.
func (c *Config) ReplayConfigFor() recovery.ReplayConfig {
	return recovery.ReplayConfig{
		TTL:        seconds(c.Recovery.Replay.TTLSeconds),
		MaxAge:     seconds(c.Recovery.Replay.MaxAgeSeconds),
		Capacity:   c.Recovery.Replay.Capacity,
		NonceCheck: c.Recovery.Replay.NonceCheck,
	}
}

func breakerConfig(s BreakerSection) recovery.BreakerConfig {
	return recovery.BreakerConfig{
		FailureThreshold: s.FailureThreshold,
		Window:           seconds(s.WindowSeconds),
		Cooldown:         seconds(s.CooldownSeconds),
		MaxDrawdownUSD:   decimal.NewFromFloat(s.MaxDrawdownUSD),
	}
}

// DefaultConfig returns a runnable configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App = AppConfig{
		Name:                "arb_bot",
		LogLevel:            "info",
		MetricsPort:         9090,
		Simulate:            true,
		StatusIntervalTicks: 30,
	}
	cfg.Pairs = []core.Pair{{
		Base:             "ARB",
		Quote:            "USDT",
		VenueSymbol:      "ARBUSDT",
		TokenAddress:     "0x912ce59144191c1204e64559fe8253a0e49e6548",
		QuoteTokenAddr:   "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9",
		TokenDecimals:    18,
		QuoteDecimals:    6,
		MinSizeQuote:     decimal.NewFromInt(5),
		TierMinSpreadBps: decimal.NewFromInt(35),
	}}
	cfg.Generator = GeneratorConfig{
		MinProfitUSD:   0.05,
		MaxPositionUSD: 25,
		SignalTTLMs:    3000,
		CooldownMs:     2000,
		BookDepth:      10,
		SizeQuoteUSD:   20,
	}
	cfg.Fees = FeesConfig{
		SlippageBufferBps: 10,
		GasPriceGwei:      0.1,
		NativeUSD:         2500,
	}
	cfg.Scorer = ScorerConfig{MinScore: 55}
	cfg.Queue = QueueConfig{MaxDepth: 200, MaxPerPair: 3}
	cfg.Executor = ExecutorConfig{
		LegOrder:           string(executor.DexFirst),
		Leg1TimeoutSeconds: 20,
		Leg2TimeoutSeconds: 30,
		PollIntervalMs:     500,
		SlippageBps:        30,
	}
	cfg.Recovery.PairBreaker = BreakerSection{
		FailureThreshold: 3,
		WindowSeconds:    120,
		CooldownSeconds:  300,
		MaxDrawdownUSD:   5,
	}
	cfg.Recovery.GlobalBreaker = BreakerSection{
		FailureThreshold: 6,
		WindowSeconds:    120,
		CooldownSeconds:  600,
		MaxDrawdownUSD:   10,
	}
	cfg.Recovery.Replay.TTLSeconds = 60
	cfg.Recovery.Replay.MaxAgeSeconds = 30
	cfg.Recovery.Replay.Capacity = 10000
	cfg.Capital = capital.Config{
		QuoteAsset:               "USDT",
		StartingCexQuote:         decimal.NewFromInt(100),
		StartingChainQuote:       decimal.NewFromInt(100),
		BridgeThresholdUSD:       decimal.NewFromInt(10),
		BridgeFixedCostUSD:       decimal.NewFromInt(2),
		AmortizationTargetTrades: 20,
	}
	cfg.History = HistoryConfig{DBPath: "arb_bot.db"}
	cfg.Orchestrator = OrchestratorConfig{
		TickIntervalMs: 1000,
		PoolWorkers:    4,
		PoolCapacity:   64,
	}
	return cfg
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}
