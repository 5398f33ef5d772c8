package httpserver

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"

	"botmarley/internal/logger"
	"botmarley/internal/portfolio"
	"botmarley/internal/store/decisionlog"

	"github.com/gin-gonic/gin"
)

// Router 暴露决策与组合查询接口。
type Router struct {
	cfg      Config
	logNames []string
}

func NewRouter(cfg Config) *Router {
	names := make([]string, 0, len(cfg.LogPaths))
	for name, path := range cfg.LogPaths {
		if strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			continue
		}
		names = append(names, name)
	}
	return &Router{cfg: cfg, logNames: names}
}

// Register 将 API 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/:trace_id", r.handleDecisionByTrace)
	group.GET("/symbols", r.handleSymbols)
	group.GET("/logs", r.handleLogs)
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/positions", r.handlePositions)
	group.GET("/transactions", r.handleTransactions)
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.cfg.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	page, _ := strconv.Atoi(strings.TrimSpace(c.Query("page")))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	if page > 0 {
		offset = (page - 1) * pageSize
	} else {
		page = offset/pageSize + 1
	}
	query := decisionlog.Query{
		Symbol: c.Query("symbol"),
		Action: c.Query("action"),
		Limit:  pageSize,
		Offset: offset,
	}
	ctx := c.Request.Context()
	runs, err := r.cfg.Runs.List(ctx, query)
	if err != nil {
		logger.Errorf("[api] list decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := r.cfg.Runs.Count(ctx, query)
	if err != nil {
		logger.Errorf("[api] count decisions failed: %v", err)
		total = -1
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":      runs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (r *Router) handleDecisionByTrace(c *gin.Context) {
	if r.cfg.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	traceID := strings.TrimSpace(c.Param("trace_id"))
	rec, err := r.cfg.Runs.Get(c.Request.Context(), traceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleSymbols(c *gin.Context) {
	if r.cfg.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	symbols, err := r.cfg.Runs.Symbols(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.cfg.LogPaths) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	name := strings.TrimSpace(c.DefaultQuery("name", ""))
	path := ""
	if name != "" {
		path = strings.TrimSpace(r.cfg.LogPaths[name])
	}
	if path == "" {
		for k, v := range r.cfg.LogPaths {
			name = k
			path = v
			break
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "path": path})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"path":      path,
		"lines":     lines,
		"available": r.logNames,
	})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	if strings.TrimSpace(r.cfg.PortfolioPath) == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio log not configured"})
		return
	}
	snaps, err := portfolio.LoadSnapshots(r.cfg.PortfolioPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (r *Router) handlePositions(c *gin.Context) {
	if r.cfg.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not enabled"})
		return
	}
	payload := gin.H{"positions": r.cfg.Ledger.Positions()}
	if r.cfg.State != nil {
		payload["total_runs"] = r.cfg.State.TotalRuns()
	}
	c.JSON(http.StatusOK, payload)
}

func (r *Router) handleTransactions(c *gin.Context) {
	if r.cfg.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	txs, err := r.cfg.Ledger.RecentTransactions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

const maxLogLineSize = 4 * 1024 * 1024 // payload-heavy LLM logs can have very long lines

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
