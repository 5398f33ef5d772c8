package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	botcfg "botmarley/internal/config"
	"botmarley/internal/collector"
	"botmarley/internal/gateway/binance"
	"botmarley/internal/logger"
	"botmarley/internal/store/klinefile"

	"github.com/joho/godotenv"
)

// 单次运行的历史数据采集器：把每个交易对的 K 线数据集补到最新后退出。
// 适合 cron 或容器 Job 调度。
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

	exchange := binance.New(binance.Config{
		APIKey:      cfg.Binance.APIKey,
		SecretKey:   cfg.Binance.SecretKey,
		RESTBaseURL: cfg.Binance.RESTBaseURL,
		HTTPTimeout: cfg.Binance.Timeout(),
	})
	store := klinefile.New(filepath.Join(cfg.App.DataDir, "klines"), cfg.Trading.Interval)
	backfillStart, err := cfg.Collector.BackfillStart()
	if err != nil {
		log.Fatalf("解析回补起点失败: %v", err)
	}
	coll := collector.New(exchange, store, collector.Config{
		Interval:      cfg.Trading.Interval,
		BackfillStart: backfillStart,
		PageLimit:     cfg.Collector.PageLimit,
		SymbolDelay:   cfg.Collector.SymbolDelay(),
	})

	pairs := make([]string, 0, len(cfg.Trading.Pairs))
	for _, p := range cfg.Trading.Pairs {
		pairs = append(pairs, binance.NormalizePair(p))
	}
	logger.Infof("collector: updating %d datasets interval=%s dir=%s", len(pairs), cfg.Trading.Interval, filepath.Join(cfg.App.DataDir, "klines"))
	coll.CollectAll(ctx, pairs)
	logger.Infof("collector: done")
}
