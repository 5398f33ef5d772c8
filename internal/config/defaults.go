package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":3050"
	defaultAppLogPath      = "data/logs/botmarley.log"
	defaultAppLLMLogPath   = "data/logs/botmarley-llm.log"
	defaultAppDataDir      = "data"
	defaultAIBaseURL       = "http://localhost:1234"
	defaultAIModel         = "openai/gpt-oss-20b"
	defaultAITemperature   = 0.5
	defaultAIMaxTurns      = 30
	defaultAITurnTimeout   = 180
	defaultBinanceREST     = "https://api.binance.com"
	defaultBinanceTimeout  = 15
	defaultTradingInterval = "5m"
	defaultTradingMaxValue = 20
	defaultTradingMaxOpen  = 2
	defaultDecisionOffset  = 10
	defaultCacheTTL        = 60
	defaultCollectorLimit  = 1000
	defaultSymbolDelayMS   = 200
)

var defaultTradingPairs = []string{"BTC_USDC"}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Collector.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLogPath, defaultAppLLMLogPath),
		stringFieldDefault("app.data_dir", &a.DataDir, defaultAppDataDir),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ai.base_url", &a.BaseURL, defaultAIBaseURL),
		stringFieldDefault("ai.model", &a.Model, defaultAIModel),
		fieldDefault{
			key:   "ai.temperature",
			need:  func() bool { return a.Temperature <= 0 },
			apply: func() { a.Temperature = defaultAITemperature },
		},
		fieldDefault{
			key:   "ai.max_turns",
			need:  func() bool { return a.MaxTurns <= 0 },
			apply: func() { a.MaxTurns = defaultAIMaxTurns },
		},
		fieldDefault{
			key:   "ai.turn_timeout_seconds",
			need:  func() bool { return a.TurnTimeoutSeconds <= 0 },
			apply: func() { a.TurnTimeoutSeconds = defaultAITurnTimeout },
		},
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "binance.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBinanceTimeout },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.pairs",
			need:  func() bool { return len(t.Pairs) == 0 },
			apply: func() { t.Pairs = append([]string(nil), defaultTradingPairs...) },
		},
		stringFieldDefault("trading.interval", &t.Interval, defaultTradingInterval),
		fieldDefault{
			key:   "trading.max_trade_value_usd",
			need:  func() bool { return t.MaxTradeValueUSD <= 0 },
			apply: func() { t.MaxTradeValueUSD = defaultTradingMaxValue },
		},
		fieldDefault{
			key:   "trading.max_active_orders",
			need:  func() bool { return t.MaxActiveOrders <= 0 },
			apply: func() { t.MaxActiveOrders = defaultTradingMaxOpen },
		},
		fieldDefault{
			key:   "trading.decision_offset_seconds",
			need:  func() bool { return t.DecisionOffsetSeconds <= 0 },
			apply: func() { t.DecisionOffsetSeconds = defaultDecisionOffset },
		},
		fieldDefault{
			key:   "trading.cache_ttl_seconds",
			need:  func() bool { return t.CacheTTLSeconds <= 0 },
			apply: func() { t.CacheTTLSeconds = defaultCacheTTL },
		},
		fieldDefault{
			// 未显式配置时默认纸面交易，避免误连实盘
			key:   "trading.dry_run",
			need:  func() bool { return true },
			apply: func() { t.DryRun = true },
		},
	)
}

func (c *CollectorConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "collector.page_limit",
			need:  func() bool { return c.PageLimit <= 0 },
			apply: func() { c.PageLimit = defaultCollectorLimit },
		},
		fieldDefault{
			key:   "collector.symbol_delay_ms",
			need:  func() bool { return c.SymbolDelayMillis <= 0 },
			apply: func() { c.SymbolDelayMillis = defaultSymbolDelayMS },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
