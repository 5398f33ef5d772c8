package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"botmarley/internal/ledger"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *decisionlog.Store, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()

	runs, err := decisionlog.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	led, err := ledger.Open(filepath.Join(dir, "transactions.jsonl"))
	require.NoError(t, err)

	st, err := state.Load(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	logPath := filepath.Join(dir, "bot.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\nline three\n"), 0o644))

	portfolioPath := filepath.Join(dir, "portfolio.jsonl")
	require.NoError(t, os.WriteFile(portfolioPath, []byte(
		`{"timestamp":"2024-03-01T12:00:00Z","run_number":1,"total_value_usd":100,"assets":[]}`+"\n"+
			`{"timestamp":"2024-03-01T12:05:00Z","run_number":2,"total_value_usd":110,"assets":[]}`+"\n"), 0o644))

	srv, err := NewServer(Config{
		Addr:          ":0",
		Runs:          runs,
		Ledger:        led,
		State:         st,
		PortfolioPath: portfolioPath,
		LogPaths:      map[string]string{"bot": logPath},
	})
	require.NoError(t, err)
	return srv, runs, led
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doGet(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDecisionsEndpoint(t *testing.T) {
	srv, runs, _ := newTestServer(t)
	ctx := context.Background()

	traceID, err := runs.Insert(ctx, decisionlog.RunRecord{Symbol: "BTCUSDC", Action: "buy", Timestamp: 1000})
	require.NoError(t, err)
	_, err = runs.Insert(ctx, decisionlog.RunRecord{Symbol: "ETHUSDC", Action: "hold", Timestamp: 2000})
	require.NoError(t, err)

	w := doGet(t, srv, "/api/decisions?symbol=BTCUSDC")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Runs  []decisionlog.RunRecord `json:"runs"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "buy", body.Runs[0].Action)

	detail := doGet(t, srv, "/api/decisions/"+traceID)
	require.Equal(t, http.StatusOK, detail.Code)
	var rec decisionlog.RunRecord
	require.NoError(t, json.Unmarshal(detail.Body.Bytes(), &rec))
	assert.Equal(t, "BTCUSDC", rec.Symbol)

	missing := doGet(t, srv, "/api/decisions/no-such-trace")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestLogsEndpointTailsFile(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doGet(t, srv, "/api/logs?name=bot&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Name  string   `json:"name"`
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bot", body.Name)
	assert.Equal(t, []string{"line two", "line three"}, body.Lines)
}

func TestPositionsAndTransactions(t *testing.T) {
	srv, _, led := newTestServer(t)

	_, err := led.RecordBuy("BTC", "BTCUSDC", 0.1, 50000)
	require.NoError(t, err)

	pos := doGet(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, pos.Code)
	assert.Contains(t, pos.Body.String(), "BTC")

	txs := doGet(t, srv, "/api/transactions")
	require.Equal(t, http.StatusOK, txs.Code)
	var body struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(txs.Body.Bytes(), &body))
	require.Len(t, body.Transactions, 1)
	assert.Equal(t, ledger.TypeBuy, body.Transactions[0].Type)
}

func TestPortfolioEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	api := doGet(t, srv, "/api/portfolio")
	require.Equal(t, http.StatusOK, api.Code)
	assert.Contains(t, api.Body.String(), `"total_value_usd":110`)

	chart := doGet(t, srv, "/chart/portfolio")
	require.Equal(t, http.StatusOK, chart.Code)
	assert.Contains(t, chart.Body.String(), "echarts")
	assert.Contains(t, chart.Body.String(), "Portfolio Value")
	assert.Contains(t, chart.Body.String(), "westeros", "chart must request a bundled echarts theme")
}

func TestIndexLinksChart(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doGet(t, srv, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/chart/portfolio")
}

func TestUnconfiguredDependenciesReturn503(t *testing.T) {
	srv, err := NewServer(Config{Addr: ":0"})
	require.NoError(t, err)

	for _, path := range []string{"/api/decisions", "/api/positions", "/api/logs", "/api/portfolio"} {
		w := doGet(t, srv, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
