package app

import (
	"fmt"
	"strings"
)

// StartupSummary 启动时打印的配置摘要，方便一眼确认跑的是什么。
type StartupSummary struct {
	Pairs            []string
	Interval         string
	Model            string
	BaseURL          string
	MaxTurns         int
	DryRun           bool
	MaxTradeValueUSD float64
	MaxActiveOrders  int
	DataDir          string
	HTTPAddr         string
	SystemPrompt     string
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[交易配置 (TRADING)]")
	fmt.Printf("  交易对: %s\n", formatList(s.Pairs))
	fmt.Printf("  决策周期: %s\n", s.Interval)
	fmt.Printf("  单笔上限: $%.2f\n", s.MaxTradeValueUSD)
	fmt.Printf("  挂单上限: %d\n", s.MaxActiveOrders)
	mode := "LIVE"
	if s.DryRun {
		mode = "PAPER (dry run)"
	}
	fmt.Printf("  交易模式: %s\n", mode)
	fmt.Println()

	fmt.Println("[推理后端 (AI BACKEND)]")
	fmt.Printf("  模型: %s\n", s.Model)
	fmt.Printf("  地址: %s\n", s.BaseURL)
	fmt.Printf("  轮次上限: %d\n", s.MaxTurns)
	fmt.Println()

	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  数据目录: %s\n", s.DataDir)
	fmt.Printf("  HTTP 服务: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[系统提示词 (SYSTEM PROMPT)]")
	preview := s.SystemPrompt
	lines := strings.Split(preview, "\n")
	if len(lines) > 5 {
		preview = strings.Join(lines[:5], "\n") + "\n  ... (truncated)"
	}
	preview = strings.ReplaceAll(preview, "\n", "\n  ")
	fmt.Printf("  %s\n", preview)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
