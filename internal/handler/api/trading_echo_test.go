package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/repository"
	"SignalFuse/internal/services/fusion"
	"SignalFuse/internal/services/risk"
	"SignalFuse/internal/services/rl"
	"SignalFuse/internal/usecase"
	xhttp "SignalFuse/pkg/http"
)

type stubExchange struct{}

func (stubExchange) CurrentPrice(context.Context, string) (float64, error) { return 100, nil }

func (stubExchange) PriceHistory(context.Context, string, domrepo.Interval, int) ([]models.Candle, error) {
	return []models.Candle{{Close: 100, Volume: 1}, {Close: 102, Volume: 2}, {Close: 101, Volume: 1}}, nil
}

func (stubExchange) SubmitOrder(context.Context, string, models.Action, float64) (*models.OrderAck, error) {
	return nil, errors.New("read-only")
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type fixture struct {
	srv      *xhttp.Server
	store    *repository.MemoryStore
	registry *usecase.Registry
	history  *risk.TradeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	state := repository.NewFileStateStore(t.TempDir(), "weights.json", "qtable.json")
	history := risk.NewTradeHistory(0)
	mon := usecase.NewMonitor(usecase.MonitorConfig{PollInterval: time.Hour}, stubExchange{}, nil, store, nil, nil, history, nil, nil, nil)
	registry := usecase.NewRegistry(mon, nil, nil)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	agent := rl.NewAgent(context.Background(), rl.DefaultConfig(), state, nil)
	agent.Update(models.StateKey{Technical: models.ActionBuy, Bucket: 3}, models.ActionSell, 5, models.DefaultState)

	h := NewTradingEchoHandler(TradingDeps{
		Weights:   state,
		Engine:    fusion.NewEngine(nil),
		Agent:     agent,
		Registry:  registry,
		Evaluator: usecase.NewEvaluator(store, store, store, 10*time.Minute, 0, nil),
		Candles:   usecase.NewCandlesUseCase(stubExchange{}),
		History:   history,
	})
	srv := xhttp.NewServer(nil, []xhttp.Handler{h}, xhttp.WithMetricsPath(""))
	return &fixture{srv: srv, store: store, registry: registry, history: history}
}

func (f *fixture) do(t *testing.T, method, target, body string) (int, json.RawMessage) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
	}
	return rec.Code, env.Data
}

func TestWeightsDefault(t *testing.T) {
	f := newFixture(t)
	code, data := f.do(t, http.MethodGet, "/api/weights", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatal(err)
	}
	if flat["lstm_weight"] != 1.0 || flat["use_gpt"] != true {
		t.Fatalf("weights = %v", flat)
	}
}

func TestFuse(t *testing.T) {
	f := newFixture(t)
	body := `{"symbol":"btcusdt","signals":{"lstm":"BUY","xgb":"BUY","technical":"BUY","rl":"BUY","sentiment":0.4,"liquidity":1.3}}`
	code, data := f.do(t, http.MethodPost, "/api/fuse", body)
	if code != http.StatusOK {
		t.Fatalf("status = %d %s", code, data)
	}
	var res fuseResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Symbol != "BTCUSDT" || res.Result.Action != models.ActionBuy || res.Result.Confidence != 1 {
		t.Fatalf("fuse = %+v", res)
	}
	if res.State != "BUY_4" {
		t.Fatalf("state = %q", res.State)
	}
}

func TestFuseFillsRLVoteFromTable(t *testing.T) {
	f := newFixture(t)
	body := `{"symbol":"BTCUSDT","signals":{"technical":"BUY","sentiment":0.35}}`
	code, data := f.do(t, http.MethodPost, "/api/fuse", body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var res fuseResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	// BUY technical, BUY sentiment; SELL rl, SELL liquidity default; lstm and xgb hold
	if res.Result.Scores[models.ActionSell] != 2 || res.Result.Scores[models.ActionHold] != 1 {
		t.Fatalf("scores = %v", res.Result.Scores)
	}
}

func TestFuseRejectsMissingSymbol(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/api/fuse", `{"signals":{"lstm":"BUY"}}`)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d", code)
	}
}

func TestQState(t *testing.T) {
	f := newFixture(t)
	code, data := f.do(t, http.MethodGet, "/api/qtable/state?technical=BUY&sentiment=0.3", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var res qStateResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if !res.Known || res.State != "BUY_3" || res.Best != models.ActionSell {
		t.Fatalf("qstate = %+v", res)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/qtable/state?technical=MAYBE", ""); code != http.StatusBadRequest {
		t.Fatalf("invalid technical status = %d", code)
	}
}

func TestPerformanceAndSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := models.ClosedTrade{ID: "x", Symbol: "BTCUSDT", PnL: 3, ClosedAt: time.Now().Add(-time.Hour)}
	if err := f.store.SaveClosedTrade(ctx, &tr); err != nil {
		t.Fatal(err)
	}
	d := models.DecisionRecord{Timestamp: time.Now().Add(-time.Hour), Symbol: "BTCUSDT", Action: models.ActionBuy, Executed: true, Result: models.ResultWin}
	if err := f.store.SaveDecision(ctx, &d); err != nil {
		t.Fatal(err)
	}

	code, data := f.do(t, http.MethodGet, "/api/performance?since=24h", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var rep models.PerformanceReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.TotalTrades != 1 || rep.WinRate != 100 {
		t.Fatalf("report = %+v", rep)
	}

	code, data = f.do(t, http.MethodGet, "/api/decisions/summary", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var sum models.DecisionSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Total != 1 || sum.ExecutedWinRate != 100 {
		t.Fatalf("summary = %+v", sum)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/performance?since=yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", code)
	}
}

func TestOpenTradesAndResolve(t *testing.T) {
	f := newFixture(t)
	trade := models.OpenTrade{ID: "t-1", Symbol: "BTCUSDT", Direction: models.ActionBuy, EntryPrice: 100, Quantity: 1, StopLoss: 90, TakeProfit: 110, OpenedAt: time.Now()}
	if _, err := f.registry.Track(context.Background(), trade); err != nil {
		t.Fatal(err)
	}

	code, data := f.do(t, http.MethodGet, "/api/trades/open?symbol=btcusdt", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var list struct {
		Rows  []usecase.TrackedTrade `json:"rows"`
		Total int64                  `json:"total"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Rows[0].ID != "t-1" || list.Rows[0].Orphaned {
		t.Fatalf("open = %+v", list)
	}

	_, data = f.do(t, http.MethodGet, "/api/trades/open?symbol=ETHUSDT", "")
	if err := json.Unmarshal(data, &list); err != nil || list.Total != 0 {
		t.Fatalf("filtered = %+v, %v", list, err)
	}

	// only orphaned trades can be resolved by hand
	if code, _ := f.do(t, http.MethodPost, "/api/trades/t-1/resolve", ""); code != http.StatusNotFound {
		t.Fatalf("resolve live trade status = %d", code)
	}
}

func TestCandlesAndRiskHistory(t *testing.T) {
	f := newFixture(t)
	code, data := f.do(t, http.MethodGet, "/api/candles?symbol=btcusdt&interval=5m&limit=3", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var res usecase.GetCandlesResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Symbol != "BTCUSDT" || res.Interval != "5m" || res.Count != 3 {
		t.Fatalf("candles = %+v", res)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/candles", ""); code != http.StatusBadRequest {
		t.Fatalf("missing symbol status = %d", code)
	}

	f.history.Record(2)
	f.history.Record(-1)
	_, data = f.do(t, http.MethodGet, "/api/risk/history", "")
	var w risk.Window
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatal(err)
	}
	if w.WinRate != 0.5 || w.MaxDrawdown != -1 || len(w.Profits) != 2 {
		t.Fatalf("window = %+v", w)
	}
}
