// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/forecasting-studio/internal/api"
	"github.com/atlas-desktop/forecasting-studio/internal/backtester"
	"github.com/atlas-desktop/forecasting-studio/internal/data"
	"github.com/atlas-desktop/forecasting-studio/internal/strategy"
	"github.com/atlas-desktop/forecasting-studio/internal/telemetry"
	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const pricesCSV = `timestamp,close
2024-01-01,100
2024-01-02,102
2024-01-03,101
2024-01-04,105
2024-01-05,103
2024-01-06,108
2024-01-07,107
2024-01-08,110
`

type testEnv struct {
	ts    *httptest.Server
	store *data.Store
	hub   *api.Hub
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.DataDir(), "prices.csv"), []byte(pricesCSV), 0644); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	engine := backtester.NewEngine(logger, strategy.NewStrategyRegistry(logger), metrics)
	analyzer := backtester.NewWalkForwardAnalyzer(logger, engine, nil, metrics)

	hub := api.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := api.NewServer(logger, &types.ServerConfig{
		WebSocketPath: "/ws",
		EnableMetrics: true,
		MaxUploadSize: 1 << 20,
	}, api.ServerDeps{
		Store:       store,
		Engine:      engine,
		Analyzer:    analyzer,
		Hub:         hub,
		Gatherer:    reg,
		WalkForward: types.WalkForwardConfig{InSampleDays: 252, OutSampleDays: 63},
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, store: store, hub: hub}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	decode(t, resp, &result)
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", result["status"])
	}
}

func TestIndexPage(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("Index request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Forecasting Studio") {
		t.Error("page does not contain the title")
	}
	if strings.Contains(string(body), "{{WS_PATH}}") {
		t.Error("websocket path placeholder not substituted")
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatalf("Strategies request failed: %v", err)
	}

	var result struct {
		Strategies []strategy.Descriptor `json:"strategies"`
	}
	decode(t, resp, &result)
	if len(result.Strategies) != 1 || result.Strategies[0].Name != "sma_cross" {
		t.Errorf("strategies = %+v", result.Strategies)
	}
}

func TestBacktestEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := postJSON(t, env.ts.URL+"/backtest", map[string]interface{}{
		"csv_path":      "prices.csv",
		"strategy_name": "sma_cross",
		"params":        map[string]interface{}{"fast": 2, "slow": 3},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result types.BacktestResult
	decode(t, resp, &result)
	if result.ID == "" {
		t.Error("result has no id")
	}
	if len(result.Equity) != 8 || len(result.Timestamps) != 8 {
		t.Errorf("equity/timestamps = %d/%d, want 8", len(result.Equity), len(result.Timestamps))
	}
	if result.Equity[0] != 1 {
		t.Errorf("equity[0] = %v, want 1", result.Equity[0])
	}
	if result.Timestamps[0] != "2024-01-01T00:00:00Z" {
		t.Errorf("timestamps[0] = %s", result.Timestamps[0])
	}
}

func TestBacktestEndpoint_Errors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing file", map[string]interface{}{"csv_path": "nope.csv", "strategy_name": "sma_cross"}},
		{"unknown strategy", map[string]interface{}{"csv_path": "prices.csv", "strategy_name": "rsi"}},
		{"invalid params", map[string]interface{}{"csv_path": "prices.csv", "strategy_name": "sma_cross", "params": map[string]interface{}{"fast": 0}}},
		{"malformed body", "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/backtest", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
			var result map[string]string
			decode(t, resp, &result)
			if result["error"] == "" {
				t.Error("response carries no error message")
			}
		})
	}
}

func TestWalkForwardEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := postJSON(t, env.ts.URL+"/walkforward", map[string]interface{}{
		"csv_path":       "prices.csv",
		"strategy_name":  "sma_cross",
		"param_space":    map[string]interface{}{"fast": []int{1, 2}, "slow": []int{2, 3}},
		"insample_days":  3,
		"outsample_days": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result types.WalkForwardResult
	decode(t, resp, &result)
	if result.ID == "" {
		t.Error("result has no id")
	}
	if len(result.Segments) != 5 {
		t.Errorf("segments = %d, want 5", len(result.Segments))
	}
	if result.OOS == nil || len(result.OOS.Timestamps) != 5 || result.OverfitRisk == nil {
		t.Errorf("oos = %+v overfit = %v", result.OOS, result.OverfitRisk)
	}
}

func TestWalkForwardEndpoint_DefaultWindows(t *testing.T) {
	env := setupTestServer(t)

	resp := postJSON(t, env.ts.URL+"/walkforward", map[string]interface{}{
		"csv_path":      "prices.csv",
		"strategy_name": "sma_cross",
		"param_space":   map[string]interface{}{"fast": []int{1}, "slow": []int{2}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]json.RawMessage
	decode(t, resp, &result)
	if string(result["segments"]) != "[]" {
		t.Errorf("segments = %s, want []", result["segments"])
	}
	if string(result["oos"]) != "null" || string(result["overfit_risk"]) != "null" {
		t.Errorf("oos = %s overfit_risk = %s, want null", result["oos"], result["overfit_risk"])
	}
}

func TestWalkForwardEndpoint_Errors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"zero insample", map[string]interface{}{
			"csv_path": "prices.csv", "strategy_name": "sma_cross",
			"param_space": map[string]interface{}{"fast": []int{1}}, "insample_days": 0,
		}},
		{"empty grid", map[string]interface{}{
			"csv_path": "prices.csv", "strategy_name": "sma_cross",
			"param_space": map[string]interface{}{"fast": []int{}}, "insample_days": 3, "outsample_days": 1,
		}},
		{"unknown strategy", map[string]interface{}{
			"csv_path": "prices.csv", "strategy_name": "rsi",
			"param_space": map[string]interface{}{"fast": []int{1}}, "insample_days": 3, "outsample_days": 1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/walkforward", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func upload(t *testing.T, url, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, content)
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	return resp
}

func TestUploadEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := upload(t, env.ts.URL+"/upload", "prices.CSV", pricesCSV)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result api.UploadResponse
	decode(t, resp, &result)
	if result.Rows != 5 || len(result.Head) != 5 {
		t.Errorf("rows = %d head = %d, want 5", result.Rows, len(result.Head))
	}
	if strings.Join(result.Columns, ",") != "timestamp,close" {
		t.Errorf("columns = %v", result.Columns)
	}
	if result.SavedTo != filepath.Join(env.store.DataDir(), data.UploadFilename) {
		t.Errorf("saved_to = %s", result.SavedTo)
	}
	if result.Quality == nil || !result.Quality.IsUsable {
		t.Errorf("quality = %+v", result.Quality)
	}

	// the uploaded file is usable by later requests
	bt := postJSON(t, env.ts.URL+"/backtest", map[string]interface{}{
		"csv_path": result.SavedTo, "strategy_name": "sma_cross",
	})
	bt.Body.Close()
	if bt.StatusCode != http.StatusOK {
		t.Errorf("backtest on upload: status %d", bt.StatusCode)
	}
}

func TestUploadEndpoint_Rejects(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name     string
		filename string
		content  string
		want     string
	}{
		{"not csv", "prices.txt", pricesCSV, "Please upload a CSV file"},
		{"missing columns", "bad.csv", "a,b\n1,2\n", data.ErrMissingColumn.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, env.ts.URL+"/upload", tt.filename, tt.content)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
			var result map[string]string
			decode(t, resp, &result)
			if !strings.Contains(result["error"], tt.want) {
				t.Errorf("error = %q, want it to contain %q", result["error"], tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)

	bt := postJSON(t, env.ts.URL+"/backtest", map[string]interface{}{
		"csv_path": "prices.csv", "strategy_name": "sma_cross",
	})
	bt.Body.Close()

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `forecast_backtests_total{status="ok",strategy="sma_cross"} 1`) {
		t.Errorf("metrics output missing backtest counter:\n%s", body)
	}
}

func TestWebSocketProgress(t *testing.T) {
	env := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(api.WSMessage{Type: api.MsgTypeSubscribe, Channel: api.WalkForwardChannel}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.SubscriberCount(api.WalkForwardChannel) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := postJSON(t, env.ts.URL+"/walkforward", map[string]interface{}{
		"csv_path":       "prices.csv",
		"strategy_name":  "sma_cross",
		"param_space":    map[string]interface{}{"fast": []int{1, 2}, "slow": []int{2, 3}},
		"insample_days":  3,
		"outsample_days": 1,
	})
	var result types.WalkForwardResult
	decode(t, resp, &result)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for want := 1; want <= 5; want++ {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read window %d: %v", want, err)
		}
		if msg.Type != api.MsgTypeWalkForwardWindow {
			t.Fatalf("message type = %s, want %s", msg.Type, api.MsgTypeWalkForwardWindow)
		}
		var progress types.WalkForwardProgress
		if err := json.Unmarshal(msg.Data, &progress); err != nil {
			t.Fatal(err)
		}
		if progress.Window != want || progress.Total != 5 || progress.RunID != result.ID {
			t.Errorf("progress = %+v, want window %d of 5 for run %s", progress, want, result.ID)
		}
	}

	var done api.WSMessage
	if err := conn.ReadJSON(&done); err != nil {
		t.Fatalf("read completion: %v", err)
	}
	if done.Type != api.MsgTypeWalkForwardComplete {
		t.Errorf("message type = %s, want %s", done.Type, api.MsgTypeWalkForwardComplete)
	}
	var summary api.WalkForwardSummary
	if err := json.Unmarshal(done.Data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.RunID != result.ID || summary.Segments != 5 || summary.OOS == nil {
		t.Errorf("summary = %+v", summary)
	}
}
