package config

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig
	Bot      BotConfig
	Strategy StrategyConfig
	Risk     RiskConfig
	Runtime  RuntimeConfig
	Alerts   AlertsConfig
}

type ExchangeConfig struct {
	BaseUrl      string
	WSPublicURL  string
	WSPrivateURL string
	ApiKey       string
	Secret       string
	AccountType  string
	Category     string
}

type BotConfig struct {
	Symbol           string
	Interval         string
	HigherTimeframes []string
	CandleLimit      int
	LoopDelaySec     int
	StaleBufferSec   int
}

type StrategyConfig struct {
	FastPeriod int
	SlowPeriod int
	ATRPeriod  int
}

type RiskConfig struct {
	RiskPerTradePercent     float64
	StopLossATRMultiple     float64
	TakeProfitATRMultiple   float64
	BreakevenATRTrigger     float64
	ProfitLockATRMultiple   float64
	TrailingATRMultiple     float64
	TrailingEnabled         bool
	MaxOpenPositions        int
	CloseOnOppositeSignal   bool
	ReverseOnOppositeSignal bool
	HedgeMode               bool
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type RuntimeConfig struct {
	DryRun     bool
	LedgerFile string
	Log        LogConfig
}

type AlertsConfig struct {
	Enabled       bool
	TelegramToken string
	ChatID        int64
}

func Load() (*Config, error) {
	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	viper.SetDefault("exchange.account_type", "UNIFIED")
	viper.SetDefault("exchange.category", "linear")
	viper.SetDefault("bot.candle_limit", 200)
	viper.SetDefault("bot.loop_delay_sec", 15)
	viper.SetDefault("bot.stale_buffer_sec", 30)
	viper.SetDefault("strategy.fast_period", 9)
	viper.SetDefault("strategy.slow_period", 21)
	viper.SetDefault("strategy.atr_period", 14)
	viper.SetDefault("risk.max_open_positions", 1)
	viper.SetDefault("risk.close_on_opposite_signal", true)

	cfg.Exchange = ExchangeConfig{
		BaseUrl:      viper.GetString("exchange.base_url"),
		WSPublicURL:  viper.GetString("exchange.ws_public_url"),
		WSPrivateURL: viper.GetString("exchange.ws_private_url"),
		ApiKey:       envSub("exchange.api_key"),
		Secret:       envSub("exchange.secret"),
		AccountType:  viper.GetString("exchange.account_type"),
		Category:     viper.GetString("exchange.category"),
	}

	cfg.Bot = BotConfig{
		Symbol:           viper.GetString("bot.symbol"),
		Interval:         viper.GetString("bot.interval"),
		HigherTimeframes: viper.GetStringSlice("bot.higher_timeframes"),
		CandleLimit:      viper.GetInt("bot.candle_limit"),
		LoopDelaySec:     viper.GetInt("bot.loop_delay_sec"),
		StaleBufferSec:   viper.GetInt("bot.stale_buffer_sec"),
	}

	cfg.Strategy = StrategyConfig{
		FastPeriod: viper.GetInt("strategy.fast_period"),
		SlowPeriod: viper.GetInt("strategy.slow_period"),
		ATRPeriod:  viper.GetInt("strategy.atr_period"),
	}

	cfg.Risk = RiskConfig{
		RiskPerTradePercent:     viper.GetFloat64("risk.risk_per_trade_percent"),
		StopLossATRMultiple:     viper.GetFloat64("risk.stop_loss_atr_multiple"),
		TakeProfitATRMultiple:   viper.GetFloat64("risk.take_profit_atr_multiple"),
		BreakevenATRTrigger:     viper.GetFloat64("risk.breakeven_atr_trigger"),
		ProfitLockATRMultiple:   viper.GetFloat64("risk.profit_lock_atr_multiple"),
		TrailingATRMultiple:     viper.GetFloat64("risk.trailing_atr_multiple"),
		TrailingEnabled:         viper.GetBool("risk.trailing_enabled"),
		MaxOpenPositions:        viper.GetInt("risk.max_open_positions"),
		CloseOnOppositeSignal:   viper.GetBool("risk.close_on_opposite_signal"),
		ReverseOnOppositeSignal: viper.GetBool("risk.reverse_on_opposite_signal"),
		HedgeMode:               viper.GetBool("risk.hedge_mode"),
	}

	cfg.Runtime = RuntimeConfig{
		DryRun:     viper.GetBool("runtime.dry_run"),
		LedgerFile: viper.GetString("runtime.ledger_file"),
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       viper.GetString("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	cfg.Alerts = AlertsConfig{
		Enabled:       viper.GetBool("alerts.enabled"),
		TelegramToken: envSub("alerts.telegram_token"),
		ChatID:        viper.GetInt64("alerts.chat_id"),
	}

	return cfg, nil
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
