package app

import (
	"fmt"
	"path/filepath"
	"time"

	"botmarley/internal/bot"
	botcfg "botmarley/internal/config"
	"botmarley/internal/collector"
	"botmarley/internal/gateway/binance"
	"botmarley/internal/gateway/provider"
	"botmarley/internal/ledger"
	"botmarley/internal/market"
	"botmarley/internal/portfolio"
	"botmarley/internal/scheduler"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"
	"botmarley/internal/store/klinefile"
	"botmarley/internal/trade"
	"botmarley/internal/transport/httpserver"
)

// build 按配置组装全部依赖。所有持久化文件集中在 data_dir 下。
func build(cfg *botcfg.Config) (*App, error) {
	interval := cfg.Trading.Interval
	intervalDur, ok := scheduler.ParseIntervalDuration(interval)
	if !ok {
		return nil, fmt.Errorf("invalid trading interval %q", interval)
	}

	pairs := make([]string, 0, len(cfg.Trading.Pairs))
	for _, p := range cfg.Trading.Pairs {
		pairs = append(pairs, binance.NormalizePair(p))
	}

	exchange := binance.New(binance.Config{
		APIKey:      cfg.Binance.APIKey,
		SecretKey:   cfg.Binance.SecretKey,
		RESTBaseURL: cfg.Binance.RESTBaseURL,
		HTTPTimeout: cfg.Binance.Timeout(),
	})
	cache := market.NewCache(exchange, cfg.Trading.CacheTTL())

	dataDir := cfg.App.DataDir
	klines := klinefile.New(filepath.Join(dataDir, "klines"), interval)
	backfillStart, err := cfg.Collector.BackfillStart()
	if err != nil {
		return nil, err
	}
	coll := collector.New(exchange, klines, collector.Config{
		Interval:      interval,
		BackfillStart: backfillStart,
		PageLimit:     cfg.Collector.PageLimit,
		SymbolDelay:   cfg.Collector.SymbolDelay(),
	})

	led, err := ledger.Open(filepath.Join(dataDir, "transactions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	st, err := state.Load(filepath.Join(dataDir, "trading_state.json"))
	if err != nil {
		return nil, fmt.Errorf("load trading state: %w", err)
	}

	executor := &trade.Executor{
		Prices:   cache,
		Exchange: exchange,
		Ledger:   led,
		Validator: &trade.Validator{
			MaxTradeValueUSD: cfg.Trading.MaxTradeValueUSD,
			MaxActiveOrders:  cfg.Trading.MaxActiveOrders,
		},
		Interval: interval,
		DryRun:   cfg.Trading.DryRun,
	}
	tools, err := bot.NewToolHandler(executor, st, pairs)
	if err != nil {
		return nil, fmt.Errorf("init tool handler: %w", err)
	}

	prompts, err := bot.NewPromptManager(cfg.AI.PromptPath, cfg.AI.ProfilesPath, cfg.AI.Profile)
	if err != nil {
		return nil, fmt.Errorf("init prompt manager: %w", err)
	}

	aiClient, err := provider.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model)
	if err != nil {
		return nil, fmt.Errorf("init ai client: %w", err)
	}
	aiClient.Temperature = cfg.AI.Temperature

	engine := &bot.Engine{
		Provider:    aiClient,
		Tools:       tools,
		State:       st,
		Model:       cfg.AI.Model,
		MaxTurns:    cfg.AI.MaxTurns,
		TurnTimeout: cfg.AI.TurnTimeout(),
	}

	contextBuilder := &bot.ContextBuilder{
		Cache:     cache,
		State:     st,
		Ledger:    led,
		Account:   exchange,
		FearGreed: market.NewFearGreedService(),
		Interval:  interval,
		Pairs:     pairs,
	}

	runs, err := decisionlog.New(filepath.Join(dataDir, "runs.db"))
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	quote := "USDC"
	if len(pairs) > 0 {
		if q := binance.QuoteAsset(pairs[0]); q != "" {
			quote = q
		}
	}
	portfolioPath := filepath.Join(dataDir, "portfolio.jsonl")
	tracker := portfolio.NewTracker(portfolioPath, led, cache, quote, interval)

	srv, err := httpserver.NewServer(httpserver.Config{
		Addr:          cfg.App.HTTPAddr,
		Runs:          runs,
		Ledger:        led,
		State:         st,
		PortfolioPath: portfolioPath,
		LogPaths: map[string]string{
			"bot": cfg.App.LogPath,
			"llm": cfg.App.LLMLogPath,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		cfg:            cfg,
		pairs:          pairs,
		intervalDur:    intervalDur,
		cache:          cache,
		collector:      coll,
		ledger:         led,
		state:          st,
		engine:         engine,
		contextBuilder: contextBuilder,
		prompts:        prompts,
		runs:           runs,
		tracker:        tracker,
		httpServer:     srv,
		nowFn:          time.Now,
		Summary: &StartupSummary{
			Pairs:            pairs,
			Interval:         interval,
			Model:            cfg.AI.Model,
			BaseURL:          cfg.AI.BaseURL,
			MaxTurns:         cfg.AI.MaxTurns,
			DryRun:           cfg.Trading.DryRun,
			MaxTradeValueUSD: cfg.Trading.MaxTradeValueUSD,
			MaxActiveOrders:  cfg.Trading.MaxActiveOrders,
			DataDir:          dataDir,
			HTTPAddr:         cfg.App.HTTPAddr,
			SystemPrompt:     prompts.SystemPrompt(),
		},
	}, nil
}
