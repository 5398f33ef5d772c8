package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"botmarley/internal/ledger"
	"botmarley/internal/logger"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"

	"github.com/gin-gonic/gin"
)

// Server 提供决策日志查询、日志文件查看与组合估值图表的 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

// Config 描述 HTTP 服务依赖。除 Addr 外均可为 nil，对应接口返回 503。
type Config struct {
	Addr          string
	Runs          *decisionlog.Store
	Ledger        *ledger.Ledger
	State         *state.Store
	PortfolioPath string
	LogPaths      map[string]string
}

// NewServer 构建 HTTP server 并注册全部路由。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = ":3050"
	}
	if cfg.LogPaths == nil {
		cfg.LogPaths = map[string]string{}
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := NewRouter(cfg)
	api.Register(router.Group("/api"))

	router.GET("/", api.handleIndex)
	router.GET("/chart/portfolio", api.handlePortfolioChart)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录接口访问，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
