package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"mev-sentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Logging  logging.Config         `mapstructure:"logging"`
	Database DatabaseConfig         `mapstructure:"database"`
	Chain    ChainConfig            `mapstructure:"chain"`
	Strategy StrategyConfig         `mapstructure:"strategy"`
	Risk     RiskConfig             `mapstructure:"risk"`
	Monitor  MonitorConfig          `mapstructure:"monitor"`
	Executor ExecutorConfig         `mapstructure:"executor"`
	Model    ModelConfig            `mapstructure:"model"`
	Venues   []VenueConfig          `mapstructure:"venues"`
	Tokens   map[string]TokenConfig `mapstructure:"tokens"`
	Alerting AlertingConfig         `mapstructure:"alerting"`
	Export   ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN
// disables the trade audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ChainConfig covers node connectivity and the signing identity.
type ChainConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	WSURL            string        `mapstructure:"ws_url"`
	ChainID          int64         `mapstructure:"chain_id"`
	KeyFile          string        `mapstructure:"key_file"`
	ExecutorContract string        `mapstructure:"executor_contract"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// StrategyConfig holds the admission and classification thresholds.
// Monetary values are denominated in the pair's quote asset.
type StrategyConfig struct {
	MinProfit       float64 `mapstructure:"min_profit"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`
	MinLiquidity    float64 `mapstructure:"min_liquidity"`
	GasBuffer       float64 `mapstructure:"gas_buffer"`
	SlippagePct     float64 `mapstructure:"slippage_pct"`
	PriceImpactPct  float64 `mapstructure:"price_impact_pct"`
}

// RiskConfig bounds concurrent exposure and daily losses.
type RiskConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	MaxDailyLoss      float64       `mapstructure:"max_daily_loss"`
	RiskCheckInterval time.Duration `mapstructure:"risk_check_interval"`
	StatsResetPeriod  time.Duration `mapstructure:"stats_reset_period"`
}

// MonitorConfig governs the pending-transaction feed.
type MonitorConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	RescanWindow      int           `mapstructure:"rescan_window"`
	KnownTxLimit      int           `mapstructure:"known_tx_limit"`
	ResolveRetries    int           `mapstructure:"resolve_retries"`
	ResolveRetryDelay time.Duration `mapstructure:"resolve_retry_delay"`
}

// ExecutorConfig tunes submission, fees, and confirmation.
type ExecutorConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	GasLimit       uint64        `mapstructure:"gas_limit"`
	BaseTipGwei    float64       `mapstructure:"base_tip_gwei"`
	ProfitShare    float64       `mapstructure:"profit_share"`
	FeeCapGwei     float64       `mapstructure:"fee_cap_gwei"`
}

// ModelConfig parameterises the scoring model and its retrain trigger.
type ModelConfig struct {
	LearningRate    float64 `mapstructure:"learning_rate"`
	BatchSize       int     `mapstructure:"batch_size"`
	Epochs          int     `mapstructure:"epochs"`
	ValidationSplit float64 `mapstructure:"validation_split"`
	MinScore        float64 `mapstructure:"min_score"`
	Seed            int64   `mapstructure:"seed"`
}

// VenueConfig describes one known external protocol contract.
type VenueConfig struct {
	Name    string            `mapstructure:"name"`
	Family  string            `mapstructure:"family"`
	Address string            `mapstructure:"address"`
	Pairs   []string          `mapstructure:"pairs"`
	Pools   map[string]string `mapstructure:"pools"`
	// Accounts is the borrower watchlist for lending-family venues.
	Accounts []string `mapstructure:"accounts"`
}

// TokenConfig identifies an ERC-20 token by address and precision.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// Venue families recognised by the classifier.
const (
	FamilyDEX     = "dex"
	FamilyLending = "lending"
)

// AlertingConfig defines operator notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEVSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mevsentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6d657673))

	v.SetDefault("chain.chain_id", int64(1))
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("strategy.min_profit", 0.05)
	v.SetDefault("strategy.max_position_size", 1000.0)
	v.SetDefault("strategy.min_liquidity", 1000.0)
	v.SetDefault("strategy.gas_buffer", 0.002)
	v.SetDefault("strategy.slippage_pct", 0.5)
	v.SetDefault("strategy.price_impact_pct", 1.0)

	v.SetDefault("risk.max_concurrent", 3)
	v.SetDefault("risk.max_daily_loss", 10.0)
	v.SetDefault("risk.risk_check_interval", "1s")
	v.SetDefault("risk.stats_reset_period", "24h")

	v.SetDefault("monitor.scan_interval", "1s")
	v.SetDefault("monitor.rescan_window", 100)
	v.SetDefault("monitor.known_tx_limit", 1000)
	v.SetDefault("monitor.resolve_retries", 3)
	v.SetDefault("monitor.resolve_retry_delay", "200ms")

	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.retry_delay", "500ms")
	v.SetDefault("executor.submit_timeout", "15s")
	v.SetDefault("executor.confirm_timeout", "60s")
	v.SetDefault("executor.gas_limit", uint64(600_000))
	v.SetDefault("executor.base_tip_gwei", 1.0)
	v.SetDefault("executor.profit_share", 0.1)
	v.SetDefault("executor.fee_cap_gwei", 300.0)

	v.SetDefault("model.learning_rate", 0.001)
	v.SetDefault("model.batch_size", 32)
	v.SetDefault("model.epochs", 100)
	v.SetDefault("model.validation_split", 0.2)
	v.SetDefault("model.min_score", 0.05)
	v.SetDefault("model.seed", int64(1))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("venues", defaultVenues())

	v.SetDefault("tokens", map[string]map[string]interface{}{
		"WETH": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "decimals": 18},
		"USDC": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "decimals": 6},
		"USDT": {"address": "0xdAC17F958D2ee523a2206206994597C13D831ec7", "decimals": 6},
	})
}

func defaultVenues() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name":    "uniswap_v2",
			"family":  FamilyDEX,
			"address": "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			"pairs":   []string{"WETH/USDC", "WETH/USDT"},
			"pools": map[string]string{
				"WETH/USDC": "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
				"WETH/USDT": "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852",
			},
		},
		{
			"name":    "sushiswap",
			"family":  FamilyDEX,
			"address": "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F",
			"pairs":   []string{"WETH/USDC", "WETH/USDT"},
			"pools": map[string]string{
				"WETH/USDC": "0x397FF1542f962076d0BFE58eA045FfA2d347ACa0",
				"WETH/USDT": "0x06da0fd433C1A5d7a4faa01111c044910A184553",
			},
		},
		{
			"name":    "aave_v3",
			"family":  FamilyLending,
			"address": "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
		},
	}
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Strategy.MinProfit < 0 {
		return fmt.Errorf("strategy.min_profit cannot be negative")
	}
	if c.Strategy.MaxPositionSize <= 0 {
		return fmt.Errorf("strategy.max_position_size must be greater than zero")
	}
	if c.Risk.MaxConcurrent <= 0 {
		return fmt.Errorf("risk.max_concurrent must be greater than zero")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be greater than zero")
	}
	if c.Risk.RiskCheckInterval <= 0 {
		return fmt.Errorf("risk.risk_check_interval must be greater than zero")
	}
	if c.Risk.StatsResetPeriod <= 0 {
		return fmt.Errorf("risk.stats_reset_period must be greater than zero")
	}
	if c.Monitor.ScanInterval <= 0 {
		return fmt.Errorf("monitor.scan_interval must be greater than zero")
	}
	if c.Monitor.RescanWindow <= 0 {
		return fmt.Errorf("monitor.rescan_window must be greater than zero")
	}
	if c.Executor.GasLimit == 0 {
		return fmt.Errorf("executor.gas_limit must be greater than zero")
	}
	if c.Executor.FeeCapGwei < c.Executor.BaseTipGwei {
		return fmt.Errorf("executor.fee_cap_gwei cannot be below executor.base_tip_gwei")
	}
	if c.Model.BatchSize <= 0 {
		return fmt.Errorf("model.batch_size must be greater than zero")
	}
	if c.Model.ValidationSplit <= 0 || c.Model.ValidationSplit >= 1 {
		return fmt.Errorf("model.validation_split must be within (0, 1)")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, venue := range c.Venues {
		if venue.Family != FamilyDEX && venue.Family != FamilyLending {
			return fmt.Errorf("venue %q has unknown family %q", venue.Name, venue.Family)
		}
		if venue.Address == "" {
			return fmt.Errorf("venue %q is missing an address", venue.Name)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
