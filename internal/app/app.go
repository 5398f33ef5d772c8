package app

import (
	"context"
	"fmt"
	"time"

	"botmarley/internal/bot"
	botcfg "botmarley/internal/config"
	"botmarley/internal/collector"
	"botmarley/internal/ledger"
	"botmarley/internal/logger"
	"botmarley/internal/market"
	"botmarley/internal/portfolio"
	"botmarley/internal/scheduler"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"
	"botmarley/internal/transport/httpserver"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动决策循环与 HTTP 服务。
type App struct {
	cfg         *botcfg.Config
	pairs       []string
	intervalDur time.Duration

	cache          *market.Cache
	collector      *collector.Collector
	ledger         *ledger.Ledger
	state          *state.Store
	engine         *bot.Engine
	contextBuilder *bot.ContextBuilder
	prompts        *bot.PromptManager
	runs           *decisionlog.Store
	tracker        *portfolio.Tracker
	httpServer     *httpserver.Server
	nowFn          func() time.Time

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *botcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run 启动 HTTP 服务与对齐 K 线收盘的决策循环，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.httpServer != nil {
		group.Go(func() error {
			if err := a.httpServer.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	// 提示词文件热加载
	group.Go(func() error {
		if err := a.prompts.Watch(ctx); err != nil {
			logger.Warnf("prompt watcher stopped: %v", err)
		}
		return nil
	})

	group.Go(func() error {
		defer a.Close()
		sched := scheduler.NewAlignedScheduler(ctx, a.intervalDur, a.cfg.Trading.DecisionOffset())
		sched.RunImmediately = a.cfg.Trading.RunImmediately
		sched.Start(func() { a.runCycle(ctx) })
		return nil
	})

	return group.Wait()
}

// Close 释放持久化资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("close decision log: %v", err)
		}
	}
}
