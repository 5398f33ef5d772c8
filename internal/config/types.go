package config

import (
	"strings"
	"time"
)

// Config 顶层配置。字段使用 toml tag，viper 解码时指定 TagName。
type Config struct {
	App       AppConfig       `toml:"app"`
	AI        AIConfig        `toml:"ai"`
	Binance   BinanceConfig   `toml:"binance"`
	Trading   TradingConfig   `toml:"trading"`
	Collector CollectorConfig `toml:"collector"`
}

// AppConfig 进程级配置（日志、数据目录、HTTP 端口）。
type AppConfig struct {
	Env            string `toml:"env"`
	LogLevel       string `toml:"log_level"`
	LogPath        string `toml:"log_path"`
	LLMLogPath     string `toml:"llm_log_path"`
	LLMDumpPayload bool   `toml:"llm_dump_payload"`
	HTTPAddr       string `toml:"http_addr"`
	DataDir        string `toml:"data_dir"`
}

// AIConfig 推理后端配置。
type AIConfig struct {
	BaseURL            string  `toml:"base_url"`
	APIKey             string  `toml:"api_key"`
	Model              string  `toml:"model"`
	Temperature        float64 `toml:"temperature"`
	MaxTurns           int     `toml:"max_turns"`
	TurnTimeoutSeconds int     `toml:"turn_timeout_seconds"`
	PromptPath         string  `toml:"prompt_path"`
	ProfilesPath       string  `toml:"profiles_path"`
	Profile            string  `toml:"profile"`
}

func (a *AIConfig) TurnTimeout() time.Duration {
	return time.Duration(a.TurnTimeoutSeconds) * time.Second
}

// BinanceConfig 交易所网关配置。密钥缺省时从环境变量补齐。
type BinanceConfig struct {
	APIKey         string `toml:"api_key"`
	SecretKey      string `toml:"secret_key"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (b *BinanceConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// TradingConfig 决策循环与风控配置。
type TradingConfig struct {
	Pairs                 []string `toml:"pairs"`
	Interval              string   `toml:"interval"`
	MaxTradeValueUSD      float64  `toml:"max_trade_value_usd"`
	MaxActiveOrders       int      `toml:"max_active_orders"`
	DryRun                bool     `toml:"dry_run"`
	DecisionOffsetSeconds int      `toml:"decision_offset_seconds"`
	RunImmediately        bool     `toml:"run_immediately"`
	CacheTTLSeconds       int      `toml:"cache_ttl_seconds"`
}

func (t *TradingConfig) DecisionOffset() time.Duration {
	return time.Duration(t.DecisionOffsetSeconds) * time.Second
}

func (t *TradingConfig) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

// CollectorConfig 历史数据采集配置。
type CollectorConfig struct {
	BackfillStartDate string `toml:"backfill_start_date"`
	PageLimit         int    `toml:"page_limit"`
	SymbolDelayMillis int    `toml:"symbol_delay_ms"`
}

func (c *CollectorConfig) SymbolDelay() time.Duration {
	return time.Duration(c.SymbolDelayMillis) * time.Millisecond
}

// BackfillStart parses backfill_start_date (YYYY-MM-DD, UTC). Empty means no
// backfill.
func (c *CollectorConfig) BackfillStart() (time.Time, error) {
	raw := strings.TrimSpace(c.BackfillStartDate)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
