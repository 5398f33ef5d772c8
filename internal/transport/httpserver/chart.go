package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"botmarley/internal/portfolio"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	chartBackground    = "#060c1b"
	chartTextPrimary   = "#eceff4"
	chartTextSecondary = "#9ca3af"
	chartLineUSD       = "#34d399"
	chartLineBTC       = "#fbbf24"
)

func (r *Router) handleIndex(c *gin.Context) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>botmarley</title></head><body style=\"background:#060c1b;color:#eceff4;font-family:monospace\">")
	b.WriteString("<h2>botmarley</h2><ul>")
	b.WriteString(`<li><a style="color:#34d399" href="/chart/portfolio">portfolio chart</a></li>`)
	b.WriteString(`<li><a style="color:#34d399" href="/api/decisions">decisions</a></li>`)
	b.WriteString(`<li><a style="color:#34d399" href="/api/positions">positions</a></li>`)
	b.WriteString(`<li><a style="color:#34d399" href="/api/transactions">transactions</a></li>`)
	b.WriteString(`<li><a style="color:#34d399" href="/api/logs">logs</a></li>`)
	b.WriteString("</ul></body></html>")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(b.String()))
}

// handlePortfolioChart 将快照序列渲染为组合估值折线图。
func (r *Router) handlePortfolioChart(c *gin.Context) {
	if strings.TrimSpace(r.cfg.PortfolioPath) == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio log not configured"})
		return
	}
	snaps, err := portfolio.LoadSnapshots(r.cfg.PortfolioPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	line := buildPortfolioChart(snaps)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func buildPortfolioChart(snaps []portfolio.Snapshot) *charts.Line {
	xAxis := make([]string, 0, len(snaps))
	usd := make([]opts.LineData, 0, len(snaps))
	btc := make([]opts.LineData, 0, len(snaps))
	hasBTC := false
	for _, s := range snaps {
		xAxis = append(xAxis, s.Timestamp.Format(time.DateTime))
		usd = append(usd, opts.LineData{Value: s.TotalValueUSD})
		if s.TotalValueBTC > 0 {
			hasBTC = true
		}
		btc = append(btc, opts.LineData{Value: s.TotalValueBTC})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			BackgroundColor: chartBackground,
			PageTitle:       "Portfolio Value",
			Width:           "1200px",
			Height:          "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Portfolio Value",
			Subtitle:      fmt.Sprintf("%d snapshots", len(snaps)),
			TitleStyle:    &opts.TextStyle{Color: chartTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: chartTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: chartTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: chartTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: chartTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: chartTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Total USD", usd,
		charts.WithLineStyleOpts(opts.LineStyle{Color: chartLineUSD, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}),
	)
	if hasBTC {
		line.AddSeries("Total BTC", btc,
			charts.WithLineStyleOpts(opts.LineStyle{Color: chartLineBTC, Width: 2}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}),
		)
	}
	return line
}
