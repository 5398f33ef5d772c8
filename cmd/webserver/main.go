package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	botcfg "botmarley/internal/config"
	"botmarley/internal/ledger"
	"botmarley/internal/logger"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"
	"botmarley/internal/transport/httpserver"

	"github.com/joho/godotenv"
)

// 独立的只读 Web 服务：查看决策日志、运行日志与组合估值曲线。
// 与交易进程共享 data_dir，适合交易进程不便暴露端口的部署。
func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("BOTMARLEY_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := botcfg.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetLevel(cfg.App.LogLevel)

	dataDir := cfg.App.DataDir
	runs, err := decisionlog.New(filepath.Join(dataDir, "runs.db"))
	if err != nil {
		log.Fatalf("打开决策日志失败: %v", err)
	}
	defer runs.Close()

	led, err := ledger.Open(filepath.Join(dataDir, "transactions.jsonl"))
	if err != nil {
		log.Fatalf("打开交易账本失败: %v", err)
	}
	st, err := state.Load(filepath.Join(dataDir, "trading_state.json"))
	if err != nil {
		log.Fatalf("加载交易状态失败: %v", err)
	}

	srv, err := httpserver.NewServer(httpserver.Config{
		Addr:          cfg.App.HTTPAddr,
		Runs:          runs,
		Ledger:        led,
		State:         st,
		PortfolioPath: filepath.Join(dataDir, "portfolio.jsonl"),
		LogPaths: map[string]string{
			"bot": cfg.App.LogPath,
			"llm": cfg.App.LLMLogPath,
		},
	})
	if err != nil {
		log.Fatalf("初始化 HTTP 服务失败: %v", err)
	}
	logger.Infof("webserver: listening on %s", srv.Addr())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("HTTP 服务退出: %v", err)
	}
}
