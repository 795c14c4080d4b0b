package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the entry-rule thresholds. Everything is overridable via
// config file or environment.
const (
	DefaultEnvironment = "development"
	DefaultFTMin       = 1.8
	DefaultIPMinBps    = 5.0
	DefaultSEMin       = 0.1
	DefaultSEMax       = 2.0
)

// RiskConfig holds the signal thresholds and global risk caps. Immutable for
// the lifetime of a bot instance; reloaded only at process start.
type RiskConfig struct {
	FTMin    float64 // minimum follow-through ratio for entry
	IPMinBps float64 // minimum impact persistence (bps) for entry
	SEMin    float64 // slippage elasticity band, lower bound
	SEMax    float64 // slippage elasticity band, upper bound

	OFINormThreshold  float64 // exit when OFI <= -threshold
	LDDrainExitPct    float64 // LP-drain breaker trip level, percent over 2 blocks
	GasCapGwei        float64 // probe gate: skip probing above this gas price
	DailyGasBudgetUSD float64 // daily-gas breaker budget
	DailyLossCapUSD   float64 // daily-loss breaker cap

	TPBps     float64 // take-profit markout, bps
	SLBps     float64 // stop-loss markout, bps
	TimeStopS int     // time stop, seconds
}

// ExecutionConfig holds the guard parameters for the on-chain engine.
type ExecutionConfig struct {
	PoolFeeBps          int     // AMM pool fee, bps (25 = 0.25%)
	SlippageBps         int     // max slippage tolerated on minimum-out
	MinTradeIntervalS   int     // rate limit between submissions
	GasPriceGwei        float64
	MinNativeBalanceWei string // decimal wei string; big values exceed int64
	GasTopupWei         string // 0 disables top-up
	TopupSourcePK       string
	TopupSourceAddress  string
	ConfirmTimeoutS     int    // receipt polling timeout
	QuietSwapsPer10m    int    // quiet-market gate: fewer recent swaps than this skips probing
	TradeAmountInWei    string // base-unit amount a size of 1.0 maps to
}

// ChainConfig identifies the venue and executing account.
type ChainConfig struct {
	RPCURL        string
	ChainID       int64
	BotPK         string // hex private key; may come from the secret store instead
	Token0        string
	Token1        string
	PairAddress   string
	RouterAddress string
	Recipient     string
}

// Config is the process-wide settings container.
type Config struct {
	Environment string

	Risk      RiskConfig
	Execution ExecutionConfig
	Chain     ChainConfig

	TelegramBotToken string
	TelegramAdminID  int64
	GitHubRepo       string // owner/repo for issue notes, optional

	LogLevel   string
	LogFile    string
	LogMaxSize int // MB

	DataDir        string // persistence + pnl ledger location
	SecretStoreDir string // badger secret store, optional
	StatusAddr     string // control-plane listen address, empty disables

	DryRun bool
}

// configFile mirrors the on-disk YAML/JSON layout.
type configFile struct {
	Environment string `yaml:"environment" json:"environment"`
	Signals     struct {
		FTMin            float64 `yaml:"ft_min" json:"ft_min"`
		IPMinBps         float64 `yaml:"ip_min_bps" json:"ip_min_bps"`
		SEMin            float64 `yaml:"se_min" json:"se_min"`
		SEMax            float64 `yaml:"se_max" json:"se_max"`
		OFINormThreshold float64 `yaml:"ofi_norm_threshold" json:"ofi_norm_threshold"`
		TPBps            float64 `yaml:"tp_bps" json:"tp_bps"`
		SLBps            float64 `yaml:"sl_bps" json:"sl_bps"`
		TimeStopS        int     `yaml:"time_stop_s" json:"time_stop_s"`
	} `yaml:"signals" json:"signals"`
	Liquidity struct {
		LDDrainExitPct float64 `yaml:"ld_drain_exit_pct" json:"ld_drain_exit_pct"`
	} `yaml:"liquidity" json:"liquidity"`
	OpsGuards struct {
		GasCapGwei        float64 `yaml:"gas_cap_gwei" json:"gas_cap_gwei"`
		DailyGasBudgetUSD float64 `yaml:"daily_gas_budget_usd" json:"daily_gas_budget_usd"`
		DailyLossCapUSD   float64 `yaml:"daily_loss_cap_usd" json:"daily_loss_cap_usd"`
	} `yaml:"ops_guards" json:"ops_guards"`
	Execution struct {
		PoolFeeBps          int     `yaml:"pool_fee_bps" json:"pool_fee_bps"`
		SlippageBps         int     `yaml:"slippage_bps" json:"slippage_bps"`
		MinTradeIntervalS   int     `yaml:"min_trade_interval_s" json:"min_trade_interval_s"`
		GasPriceGwei        float64 `yaml:"gas_price_gwei" json:"gas_price_gwei"`
		MinNativeBalanceWei string  `yaml:"min_native_balance_wei" json:"min_native_balance_wei"`
		GasTopupWei         string  `yaml:"gas_topup_wei" json:"gas_topup_wei"`
		ConfirmTimeoutS     int     `yaml:"confirm_timeout_s" json:"confirm_timeout_s"`
		QuietSwapsPer10m    int     `yaml:"quiet_swaps_per_10m" json:"quiet_swaps_per_10m"`
		TradeAmountInWei    string  `yaml:"trade_amount_in_wei" json:"trade_amount_in_wei"`
	} `yaml:"execution" json:"execution"`
	Chain struct {
		RPCURL        string `yaml:"rpc_url" json:"rpc_url"`
		ChainID       int64  `yaml:"chain_id" json:"chain_id"`
		Token0        string `yaml:"token0" json:"token0"`
		Token1        string `yaml:"token1" json:"token1"`
		PairAddress   string `yaml:"pair_address" json:"pair_address"`
		RouterAddress string `yaml:"router_address" json:"router_address"`
		Recipient     string `yaml:"recipient" json:"recipient"`
	} `yaml:"chain" json:"chain"`
	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogFile        string `yaml:"log_file" json:"log_file"`
	LogMaxSize     int    `yaml:"log_max_size" json:"log_max_size"`
	DataDir        string `yaml:"data_dir" json:"data_dir"`
	SecretStoreDir string `yaml:"secret_store_dir" json:"secret_store_dir"`
	StatusAddr     string `yaml:"status_addr" json:"status_addr"`
	DryRun         bool   `yaml:"dry_run" json:"dry_run"`
}

// Load builds the configuration from an optional YAML/JSON file plus the
// environment. Environment variables win over file values so deployments can
// override single knobs without editing the file.
func Load(filePath string) (*Config, error) {
	var cf *configFile
	if strings.TrimSpace(filePath) != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
		cf = loaded
	}

	cfg := &Config{
		Environment: pickString(getEnv("TOKBOT_ENV", ""), fileString(cf, func(c *configFile) string { return c.Environment }), DefaultEnvironment),
		Risk: RiskConfig{
			FTMin:             pickFloat(parseFloatEnv("TOKBOT_FT_MIN"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.FTMin }), DefaultFTMin),
			IPMinBps:          pickFloat(parseFloatEnv("TOKBOT_IP_MIN_BPS"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.IPMinBps }), DefaultIPMinBps),
			SEMin:             pickFloat(parseFloatEnv("TOKBOT_SE_MIN"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.SEMin }), DefaultSEMin),
			SEMax:             pickFloat(parseFloatEnv("TOKBOT_SE_MAX"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.SEMax }), DefaultSEMax),
			OFINormThreshold:  pickFloat(parseFloatEnv("TOKBOT_OFI_NORM_THRESHOLD"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.OFINormThreshold }), 0.3),
			LDDrainExitPct:    pickFloat(parseFloatEnv("TOKBOT_LD_DRAIN_EXIT_PCT"), fileFloat(cf, func(c *configFile) float64 { return c.Liquidity.LDDrainExitPct }), 30),
			GasCapGwei:        pickFloat(parseFloatEnv("TOKBOT_GAS_CAP_GWEI"), fileFloat(cf, func(c *configFile) float64 { return c.OpsGuards.GasCapGwei }), 50),
			DailyGasBudgetUSD: pickFloat(parseFloatEnv("TOKBOT_DAILY_GAS_BUDGET_USD"), fileFloat(cf, func(c *configFile) float64 { return c.OpsGuards.DailyGasBudgetUSD }), 25),
			DailyLossCapUSD:   pickFloat(parseFloatEnv("TOKBOT_DAILY_LOSS_CAP_USD"), fileFloat(cf, func(c *configFile) float64 { return c.OpsGuards.DailyLossCapUSD }), 100),
			TPBps:             pickFloat(parseFloatEnv("TOKBOT_TP_BPS"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.TPBps }), 25),
			SLBps:             pickFloat(parseFloatEnv("TOKBOT_SL_BPS"), fileFloat(cf, func(c *configFile) float64 { return c.Signals.SLBps }), 15),
			TimeStopS:         pickInt(parseIntEnv("TOKBOT_TIME_STOP_S"), fileInt(cf, func(c *configFile) int { return c.Signals.TimeStopS }), 180),
		},
		Execution: ExecutionConfig{
			PoolFeeBps:          pickInt(parseIntEnv("POOL_FEE_BPS"), fileInt(cf, func(c *configFile) int { return c.Execution.PoolFeeBps }), 25),
			SlippageBps:         pickInt(parseIntEnv("SLIPPAGE_BPS"), fileInt(cf, func(c *configFile) int { return c.Execution.SlippageBps }), 50),
			MinTradeIntervalS:   pickInt(parseIntEnv("MIN_TRADE_INTERVAL_S"), fileInt(cf, func(c *configFile) int { return c.Execution.MinTradeIntervalS }), 30),
			GasPriceGwei:        pickFloat(parseFloatEnv("GAS_PRICE_GWEI"), fileFloat(cf, func(c *configFile) float64 { return c.Execution.GasPriceGwei }), 1),
			MinNativeBalanceWei: pickString(getEnv("MIN_NATIVE_BALANCE_WEI", ""), fileString(cf, func(c *configFile) string { return c.Execution.MinNativeBalanceWei }), "10000000000000000"),
			GasTopupWei:         pickString(getEnv("GAS_TOPUP_WEI", ""), fileString(cf, func(c *configFile) string { return c.Execution.GasTopupWei }), "0"),
			TopupSourcePK:       getEnv("TOPUP_SOURCE_PK", ""),
			TopupSourceAddress:  getEnv("TOPUP_SOURCE_ADDRESS", ""),
			ConfirmTimeoutS:     pickInt(parseIntEnv("CONFIRM_TIMEOUT_S"), fileInt(cf, func(c *configFile) int { return c.Execution.ConfirmTimeoutS }), 120),
			QuietSwapsPer10m:    pickInt(parseIntEnv("QUIET_SWAPS_PER_10M"), fileInt(cf, func(c *configFile) int { return c.Execution.QuietSwapsPer10m }), 5),
			TradeAmountInWei:    pickString(getEnv("TRADE_AMOUNT_IN_WEI", ""), fileString(cf, func(c *configFile) string { return c.Execution.TradeAmountInWei }), "1000000000000000000"),
		},
		Chain: ChainConfig{
			RPCURL:        pickString(getEnv("RPC_URL", ""), fileString(cf, func(c *configFile) string { return c.Chain.RPCURL }), ""),
			ChainID:       pickInt64(parseInt64Env("CHAIN_ID"), fileInt64(cf, func(c *configFile) int64 { return c.Chain.ChainID }), 1),
			BotPK:         getEnv("BOT_PK", ""),
			Token0:        pickString(getEnv("TOKEN0", ""), fileString(cf, func(c *configFile) string { return c.Chain.Token0 }), ""),
			Token1:        pickString(getEnv("TOKEN1", ""), fileString(cf, func(c *configFile) string { return c.Chain.Token1 }), ""),
			PairAddress:   pickString(getEnv("PAIR_ADDRESS", ""), fileString(cf, func(c *configFile) string { return c.Chain.PairAddress }), ""),
			RouterAddress: pickString(getEnv("ROUTER_ADDRESS", ""), fileString(cf, func(c *configFile) string { return c.Chain.RouterAddress }), ""),
			Recipient:     pickString(getEnv("RECIPIENT", ""), fileString(cf, func(c *configFile) string { return c.Chain.Recipient }), ""),
		},
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminID:  pickInt64(parseInt64Env("TELEGRAM_ADMIN_ID"), 0, 0),
		GitHubRepo:       getEnv("TOKBOT_GITHUB_REPO", ""),
		LogLevel:         pickString(getEnv("LOG_LEVEL", ""), fileString(cf, func(c *configFile) string { return c.LogLevel }), "info"),
		LogFile:          pickString(getEnv("LOG_FILE", ""), fileString(cf, func(c *configFile) string { return c.LogFile }), ""),
		LogMaxSize:       pickInt(parseIntEnv("LOG_MAX_SIZE"), fileInt(cf, func(c *configFile) int { return c.LogMaxSize }), 50),
		DataDir:          pickString(getEnv("TOKBOT_DATA_DIR", ""), fileString(cf, func(c *configFile) string { return c.DataDir }), "data"),
		SecretStoreDir:   pickString(getEnv("TOKBOT_SECRET_STORE_DIR", ""), fileString(cf, func(c *configFile) string { return c.SecretStoreDir }), ""),
		StatusAddr:       pickString(getEnv("TOKBOT_STATUS_ADDR", ""), fileString(cf, func(c *configFile) string { return c.StatusAddr }), ""),
		DryRun:           parseBoolEnv("DRY_RUN", fileBool(cf, func(c *configFile) bool { return c.DryRun })),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*configFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cf configFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (want .yaml, .yml or .json)", ext)
	}
	return &cf, nil
}

// Validate enforces the startup invariants. Any violation is fatal: the bot
// must not start with a risk configuration it cannot honor.
func (c *Config) Validate() error {
	r := c.Risk
	if r.FTMin <= 0 {
		return fmt.Errorf("TOKBOT_FT_MIN must be > 0, got %v", r.FTMin)
	}
	if r.IPMinBps < 0 {
		return fmt.Errorf("TOKBOT_IP_MIN_BPS must be >= 0, got %v", r.IPMinBps)
	}
	if r.SEMin > r.SEMax {
		return fmt.Errorf("SE band invalid: se_min %v > se_max %v", r.SEMin, r.SEMax)
	}
	if r.LDDrainExitPct <= 0 || r.LDDrainExitPct > 100 {
		return fmt.Errorf("ld_drain_exit_pct must be in (0, 100], got %v", r.LDDrainExitPct)
	}
	if r.DailyGasBudgetUSD < 0 {
		return fmt.Errorf("daily_gas_budget_usd must be >= 0, got %v", r.DailyGasBudgetUSD)
	}
	if r.DailyLossCapUSD < 0 {
		return fmt.Errorf("daily_loss_cap_usd must be >= 0, got %v", r.DailyLossCapUSD)
	}
	if r.TPBps < 0 || r.SLBps < 0 {
		return fmt.Errorf("tp_bps/sl_bps must be >= 0, got %v/%v", r.TPBps, r.SLBps)
	}
	if r.TimeStopS < 0 {
		return fmt.Errorf("time_stop_s must be >= 0, got %v", r.TimeStopS)
	}

	e := c.Execution
	if e.PoolFeeBps < 0 || e.PoolFeeBps >= 10000 {
		return fmt.Errorf("pool_fee_bps must be in [0, 10000), got %d", e.PoolFeeBps)
	}
	if e.SlippageBps < 0 || e.SlippageBps >= 10000 {
		return fmt.Errorf("slippage_bps must be in [0, 10000), got %d", e.SlippageBps)
	}
	if e.MinTradeIntervalS < 0 {
		return fmt.Errorf("min_trade_interval_s must be >= 0, got %d", e.MinTradeIntervalS)
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(e.MinNativeBalanceWei), 10, 64); err != nil {
		if !isBigDecimal(e.MinNativeBalanceWei) {
			return fmt.Errorf("min_native_balance_wei is not a decimal wei amount: %q", e.MinNativeBalanceWei)
		}
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(e.GasTopupWei), 10, 64); err != nil {
		if !isBigDecimal(e.GasTopupWei) {
			return fmt.Errorf("gas_topup_wei is not a decimal wei amount: %q", e.GasTopupWei)
		}
	}
	if !isBigDecimal(e.TradeAmountInWei) {
		return fmt.Errorf("trade_amount_in_wei is not a decimal wei amount: %q", e.TradeAmountInWei)
	}
	return nil
}

// ValidateLive adds the account checks needed before touching a chain.
// Separate from Validate so paper mode runs without chain credentials.
func (c *Config) ValidateLive() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required for live mode")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be > 0, got %d", c.Chain.ChainID)
	}
	if c.Chain.BotPK == "" {
		return fmt.Errorf("BOT_PK is required for live mode (env or secret store)")
	}
	if c.Chain.PairAddress == "" || c.Chain.RouterAddress == "" {
		return fmt.Errorf("PAIR_ADDRESS and ROUTER_ADDRESS are required for live mode")
	}
	if c.Chain.Token0 == "" || c.Chain.Token1 == "" {
		return fmt.Errorf("TOKEN0 and TOKEN1 are required for live mode")
	}
	return nil
}

func isBigDecimal(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parse*Env return a pointer so "unset" and "zero" stay distinguishable.
func parseFloatEnv(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseIntEnv(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseInt64Env(key string) *int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func pickString(env, file, def string) string {
	if env != "" {
		return env
	}
	if file != "" {
		return file
	}
	return def
}

func pickFloat(env *float64, file, def float64) float64 {
	if env != nil {
		return *env
	}
	if file != 0 {
		return file
	}
	return def
}

func pickInt(env *int, file, def int) int {
	if env != nil {
		return *env
	}
	if file != 0 {
		return file
	}
	return def
}

func pickInt64(env *int64, file, def int64) int64 {
	if env != nil {
		return *env
	}
	if file != 0 {
		return file
	}
	return def
}

func fileString(cf *configFile, get func(*configFile) string) string {
	if cf == nil {
		return ""
	}
	return get(cf)
}

func fileFloat(cf *configFile, get func(*configFile) float64) float64 {
	if cf == nil {
		return 0
	}
	return get(cf)
}

func fileInt(cf *configFile, get func(*configFile) int) int {
	if cf == nil {
		return 0
	}
	return get(cf)
}

func fileInt64(cf *configFile, get func(*configFile) int64) int64 {
	if cf == nil {
		return 0
	}
	return get(cf)
}

func fileBool(cf *configFile, get func(*configFile) bool) bool {
	if cf == nil {
		return false
	}
	return get(cf)
}
