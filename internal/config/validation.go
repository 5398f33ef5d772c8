package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Collector.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (a *AIConfig) validate() error {
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("ai.model cannot be empty")
	}
	if strings.TrimSpace(a.BaseURL) == "" {
		return fmt.Errorf("ai.base_url cannot be empty")
	}
	if a.MaxTurns < 1 {
		return fmt.Errorf("ai.max_turns must be >= 1")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be in [0, 2]")
	}
	if a.Profile != "" && strings.TrimSpace(a.ProfilesPath) == "" {
		return fmt.Errorf("ai.profile requires ai.profiles_path")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Pairs) == 0 {
		return fmt.Errorf("trading.pairs requires at least one pair")
	}
	for _, p := range t.Pairs {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("trading.pairs contains an empty pair")
		}
	}
	if !IsValidInterval(t.Interval) {
		return fmt.Errorf("trading.interval %q is not a valid interval (e.g. 5m, 1h)", t.Interval)
	}
	if t.MaxTradeValueUSD <= 0 {
		return fmt.Errorf("trading.max_trade_value_usd must be > 0")
	}
	if t.MaxActiveOrders < 1 {
		return fmt.Errorf("trading.max_active_orders must be >= 1")
	}
	if t.DecisionOffsetSeconds < 0 {
		return fmt.Errorf("trading.decision_offset_seconds must be >= 0")
	}
	return nil
}

func (c *CollectorConfig) validate() error {
	if _, err := c.BackfillStart(); err != nil {
		return fmt.Errorf("collector.backfill_start_date must be YYYY-MM-DD: %w", err)
	}
	if c.PageLimit < 1 || c.PageLimit > 1000 {
		return fmt.Errorf("collector.page_limit must be in [1,1000]")
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
