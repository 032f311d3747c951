package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/pkg/cache"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreDecisions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	late := models.DecisionRecord{Symbol: "BTCUSDT", Timestamp: t0.Add(time.Hour), Action: models.ActionSell}
	early := models.DecisionRecord{Symbol: "BTCUSDT", Timestamp: t0, Action: models.ActionBuy}
	_ = s.SaveDecision(ctx, &late)
	_ = s.SaveDecision(ctx, &early)
	if late.ID != 1 || early.ID != 2 {
		t.Fatalf("ids = %d %d", late.ID, early.ID)
	}

	got, _ := s.ListDecisions(ctx, t0)
	if len(got) != 2 || got[0].Action != models.ActionBuy {
		t.Fatalf("decisions not ordered by time: %+v", got)
	}
	if got, _ := s.ListDecisions(ctx, t0.Add(time.Minute)); len(got) != 1 {
		t.Fatalf("since filter ignored: %d", len(got))
	}

	if err := s.UpdateDecisionResult(ctx, 2, models.ResultWin); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.ListDecisions(ctx, t0)
	if got[0].Result != models.ResultWin {
		t.Fatalf("result not stored: %+v", got[0])
	}
	if err := s.UpdateDecisionResult(ctx, 99, models.ResultNA); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreClosedTradesIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := models.ClosedTrade{ID: "t-1", Symbol: "BTCUSDT", ClosedAt: t0}
	_ = s.SaveClosedTrade(ctx, &tr)
	_ = s.SaveClosedTrade(ctx, &tr)
	got, _ := s.ListClosedTrades(ctx, t0.Add(-time.Hour))
	if len(got) != 1 {
		t.Fatalf("trades = %d, want 1", len(got))
	}
}

func TestFileStateStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	s := NewFileStateStore(dir, "weights_config.json", "q_table.json")

	w, err := s.LoadWeights(ctx)
	if err != nil || w.Weight(models.SignalLSTM) != 1 || !w.UseAdvisor {
		t.Fatalf("missing file should yield defaults: %v %v", w, err)
	}
	q, err := s.LoadQTable(ctx)
	if err != nil || len(q) != 0 {
		t.Fatalf("missing table should be empty: %v %v", q, err)
	}

	if err := s.SaveWeights(ctx, models.DefaultWeightSet().With(models.SignalXGB, 0.25)); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}
	if err := s.SaveQTable(ctx, map[string]map[string]float64{"BUY_3": {"BUY": 0.5, "SELL": 0, "HOLD": 0}}); err != nil {
		t.Fatalf("SaveQTable: %v", err)
	}

	w, _ = s.LoadWeights(ctx)
	if w.Weight(models.SignalXGB) != 0.25 {
		t.Fatalf("xgb weight = %v", w.Weight(models.SignalXGB))
	}
	q, _ = s.LoadQTable(ctx)
	if q["BUY_3"]["BUY"] != 0.5 {
		t.Fatalf("q-table = %v", q)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileStateStoreCorruptTable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "q.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	q, err := NewFileStateStore(dir, "w.json", "q.json").LoadQTable(context.Background())
	if err == nil || q == nil || len(q) != 0 {
		t.Fatalf("corrupt table should error with an empty map, got %v %v", q, err)
	}
}

func TestCacheStateStore(t *testing.T) {
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	defer mc.Close()
	s := NewCacheStateStore(mc, "weights", "qtable")

	if w, err := s.LoadWeights(ctx); err != nil || w.Weight(models.SignalRL) != 1 {
		t.Fatalf("empty cache should yield defaults: %v %v", w, err)
	}
	w := models.DefaultWeightSet().With(models.SignalRL, 0.4)
	w.UseAdvisor = false
	_ = s.SaveWeights(ctx, w)
	got, err := s.LoadWeights(ctx)
	if err != nil || got.Weight(models.SignalRL) != 0.4 || got.UseAdvisor {
		t.Fatalf("round trip lost data: %v %v", got, err)
	}

	_ = s.SaveQTable(ctx, map[string]map[string]float64{"default_state": {"HOLD": 1}})
	q, _ := s.LoadQTable(ctx)
	if q["default_state"]["HOLD"] != 1 {
		t.Fatalf("q-table = %v", q)
	}
}

type fakeCandleStore struct {
	candles []models.Candle
	err     error
}

func (f *fakeCandleStore) StoreCandles(context.Context, []models.Candle) error { return nil }
func (f *fakeCandleStore) LatestCandles(context.Context, string, domrepo.Interval, int) ([]models.Candle, error) {
	return f.candles, f.err
}

type fakeExchange struct{ calls int }

func (f *fakeExchange) CurrentPrice(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeExchange) PriceHistory(_ context.Context, symbol string, _ domrepo.Interval, limit int) ([]models.Candle, error) {
	f.calls++
	return make([]models.Candle, limit), nil
}
func (f *fakeExchange) SubmitOrder(context.Context, string, models.Action, float64) (*models.OrderAck, error) {
	return nil, nil
}

func TestCandleHistoryFallsBack(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExchange{}

	full := &fakeCandleStore{candles: make([]models.Candle, 21)}
	if _, err := NewCandleHistory(full, ex, nil).PriceHistory(ctx, "BTCUSDT", domrepo.Interval1h, 21); err != nil || ex.calls != 0 {
		t.Fatalf("store had enough bars, exchange calls = %d", ex.calls)
	}

	short := &fakeCandleStore{candles: make([]models.Candle, 5)}
	got, _ := NewCandleHistory(short, ex, nil).PriceHistory(ctx, "BTCUSDT", domrepo.Interval1h, 21)
	if ex.calls != 1 || len(got) != 21 {
		t.Fatalf("short store should fall back, calls = %d", ex.calls)
	}

	broken := &fakeCandleStore{err: errors.New("clickhouse down")}
	_, _ = NewCandleHistory(broken, ex, nil).PriceHistory(ctx, "BTCUSDT", domrepo.Interval1h, 21)
	if ex.calls != 2 {
		t.Fatalf("store error should fall back, calls = %d", ex.calls)
	}

	_, _ = NewCandleHistory(nil, ex, nil).PriceHistory(ctx, "BTCUSDT", domrepo.Interval1h, 21)
	if ex.calls != 3 {
		t.Fatalf("nil store should use exchange")
	}
}
