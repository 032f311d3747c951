package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/repository"
	"SignalFuse/internal/services/features"
	"SignalFuse/internal/services/rl"
	"SignalFuse/internal/services/weights"
)

func TestSchedulerRunsAndSurvivesPanics(t *testing.T) {
	var runs, panics atomic.Int32
	s := NewScheduler(nil, nil)
	s.Add("count", 2*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Add("boom", 2*time.Millisecond, func(context.Context) error {
		panics.Add(1)
		panic("boom")
	})
	s.Add("disabled", 0, func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	deadline := time.After(time.Second)
	for runs.Load() < 3 || panics.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("runs=%d panics=%d", runs.Load(), panics.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestSchedulerDropsOverlappingTicks(t *testing.T) {
	var active, maxActive atomic.Int32
	s := NewScheduler(nil, nil)
	s.Add("slow", time.Millisecond, func(context.Context) error {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Start(ctx)
	s.Wait()
	if maxActive.Load() > 1 {
		t.Fatalf("job overlapped itself: %d concurrent runs", maxActive.Load())
	}
}

type capturePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *capturePublisher) PublishMessage(_ context.Context, msgType string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, msgType)
	return nil
}

func TestEnqueueAndBatchJobs(t *testing.T) {
	pub := &capturePublisher{}
	if err := Enqueue(pub, MessageRetrain)(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(pub.types) != 1 || pub.types[0] != MessageRetrain {
		t.Fatalf("published %v", pub.types)
	}

	var evaluated, retrained bool
	jobs := BatchJobs(
		func(context.Context) error { evaluated = true; return nil },
		func(context.Context) error { retrained = true; return nil },
	)
	for _, j := range jobs {
		if err := j.Handle(context.Background(), []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	if !evaluated || !retrained || jobs[0].Type() != MessageEvaluate || jobs[1].Type() != MessageRetrain {
		t.Fatalf("jobs not wired: %v %v", evaluated, retrained)
	}
}

type captureTrainer struct {
	rows []rl.TrainingRow
	err  error
}

func (c *captureTrainer) Train(_ context.Context, rows []rl.TrainingRow) error {
	c.rows = rows
	return c.err
}

func TestRLTrainerReplaysInCloseOrder(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	late := models.ClosedTrade{ID: "b", ClosedAt: t0.Add(time.Hour), PnL: -1, EntryState: models.StateKey{Technical: models.ActionSell}}
	early := models.ClosedTrade{ID: "a", ClosedAt: t0, PnL: 2, EntryState: models.StateKey{Technical: models.ActionBuy, Bucket: 1}}
	for _, tr := range []*models.ClosedTrade{&late, &early} {
		if err := store.SaveClosedTrade(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	trainer := &captureTrainer{}
	n, err := NewRLTrainer(trainer, store, nil).Run(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if trainer.rows[0].Reward != 2 || trainer.rows[1].Reward != -1 {
		t.Fatalf("rows out of order: %+v", trainer.rows)
	}
}

func TestRLTrainerSkipsShortHistory(t *testing.T) {
	trainer := &captureTrainer{}
	n, err := NewRLTrainer(trainer, repository.NewMemoryStore(), nil).Run(context.Background())
	if err != nil || n != 0 || trainer.rows != nil {
		t.Fatalf("Run = %d, %v", n, err)
	}
}

func TestRLTrainerFailsWhenSaveContended(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for i, pnl := range []float64{1, -1} {
		tr := models.ClosedTrade{ID: string(rune('a' + i)), ClosedAt: t0.Add(time.Duration(i) * time.Minute), PnL: pnl}
		if err := store.SaveClosedTrade(ctx, &tr); err != nil {
			t.Fatal(err)
		}
	}
	n, err := NewRLTrainer(&captureTrainer{err: rl.ErrSaveContended}, store, nil).Run(ctx)
	if !errors.Is(err, rl.ErrSaveContended) || n != 0 {
		t.Fatalf("Run = %d, %v; want ErrSaveContended", n, err)
	}
}

func TestWeightTrainerFitsAndSaves(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for i := 0; i < 4; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		sent := float64(i) / 10
		d := models.DecisionRecord{Timestamp: ts, Symbol: "BTCUSDT", LSTM: "BUY", XGB: "BUY", Technical: "BUY", RL: "HOLD", Sentiment: sent, Liquidity: 1, Executed: true}
		if err := store.SaveDecision(ctx, &d); err != nil {
			t.Fatal(err)
		}
		tr := models.ClosedTrade{ID: string(rune('a' + i)), Symbol: "BTCUSDT", ClosedAt: ts.Add(time.Minute), PnL: sent * 10}
		if err := store.SaveClosedTrade(ctx, &tr); err != nil {
			t.Fatal(err)
		}
	}
	ws := repository.NewFileStateStore(t.TempDir(), "weights.json", "qtable.json")
	notifier := &recordingNotifier{}

	got, err := NewWeightTrainer(weights.NewEstimator(3), store, store, ws, notifier, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(got.Weight(models.SignalSentiment)-10) > 1e-9 {
		t.Fatalf("sentiment weight = %v, want 10", got.Weight(models.SignalSentiment))
	}
	if got.Weight(models.SignalLSTM) != 0 || got.Weight(models.WeightAdvisor) != 1 || !got.UseAdvisor {
		t.Fatalf("weights = %s", got)
	}
	saved, err := ws.LoadWeights(ctx)
	if err != nil || saved.Weight(models.SignalSentiment) != got.Weight(models.SignalSentiment) {
		t.Fatalf("saved = %s, %v", saved, err)
	}
	if notifier.Len() != 1 {
		t.Fatalf("weights update should be announced")
	}
}

func TestRetrainToleratesInsufficientData(t *testing.T) {
	store := repository.NewMemoryStore()
	ws := repository.NewFileStateStore(t.TempDir(), "weights.json", "qtable.json")
	wt := NewWeightTrainer(weights.NewEstimator(10), store, store, ws, nil, nil)
	rt := NewRLTrainer(&captureTrainer{}, store, nil)

	if _, err := wt.Run(context.Background()); !errors.Is(err, weights.ErrInsufficientData) {
		t.Fatalf("err = %v", err)
	}
	if err := Retrain(wt, rt)(context.Background()); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
}

func TestKafkaSignalsHandler(t *testing.T) {
	f := newCycleFixture(t, 0.99)
	h := NewKafkaSignalsHandler("signals", f.cycle, nil)
	if h.Topic() != "signals" {
		t.Fatalf("topic = %q", h.Topic())
	}

	if err := h.Handle(context.Background(), []byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := h.Handle(context.Background(), []byte(`{"signals":{"lstm":"BUY"}}`)); err == nil {
		t.Fatalf("expected missing symbol error")
	}

	msg := `{"symbol":" ethusdt ","ts":1700000000000,"signals":{"lstm":"BUY","xgb":"SELL","sentiment":0.3}}`
	if err := h.Handle(context.Background(), []byte(msg)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	recs, _ := f.store.ListDecisions(context.Background(), time.Time{})
	if len(recs) != 1 {
		t.Fatalf("decisions = %d", len(recs))
	}
	r := recs[0]
	if r.Symbol != "ETHUSDT" || r.LSTM != "BUY" || r.XGB != "SELL" || r.Sentiment != 0.3 {
		t.Fatalf("record = %+v", r)
	}
}

type memCandles struct {
	mu     sync.Mutex
	fail   bool
	stored []models.Candle
}

func (m *memCandles) StoreCandles(_ context.Context, c []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errFeed
	}
	m.stored = append(m.stored, c...)
	return nil
}

func (m *memCandles) LatestCandles(context.Context, string, domrepo.Interval, int) ([]models.Candle, error) {
	return nil, nil
}

type priceLog struct{ last map[string]float64 }

func (p *priceLog) ObservePrice(symbol string, price float64) { p.last[symbol] = price }

func TestCandleCollectorBatches(t *testing.T) {
	store := &memCandles{}
	prices := &priceLog{last: map[string]float64{}}
	c := NewCandleCollector(nil, store, prices, nil, nil, 2, time.Hour)
	ctx := context.Background()

	c.Handle(ctx, models.Candle{Symbol: "BTCUSDT", Close: 10})
	c.Handle(ctx, models.Candle{Symbol: "BTCUSDT", Close: 11, Closed: true})
	if prices.last["BTCUSDT"] != 11 {
		t.Fatalf("last price = %v", prices.last["BTCUSDT"])
	}
	if len(store.stored) != 0 {
		t.Fatalf("flushed before the batch filled")
	}
	c.Handle(ctx, models.Candle{Symbol: "BTCUSDT", Close: 12, Closed: true})
	if len(store.stored) != 2 {
		t.Fatalf("stored = %d, want 2 closed candles", len(store.stored))
	}
}

func TestCandleCollectorRetainsFailedBatch(t *testing.T) {
	store := &memCandles{fail: true}
	c := NewCandleCollector(nil, store, nil, nil, nil, 1, time.Hour)
	ctx := context.Background()

	c.Handle(ctx, models.Candle{Symbol: "A", Close: 1, Closed: true})
	c.Handle(ctx, models.Candle{Symbol: "A", Close: 2, Closed: true})
	store.fail = false
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.stored) != 2 || store.stored[0].Close != 1 {
		t.Fatalf("stored = %+v", store.stored)
	}
}

func TestGathererFallsBackToCandleLiquidity(t *testing.T) {
	src := bullishSource()
	src.fail[models.SignalLiquidity] = true
	src.fail[models.SignalXGB] = true

	candles := make([]models.Candle, 30)
	for i := range candles {
		candles[i] = models.Candle{Close: 100 + float64(i%5), Volume: 10 + float64(i%7)}
	}
	history := &fakeExchange{history: candles}

	g := NewSignalGatherer(src, history, domrepo.Interval1h, time.Second, nil, nil)
	res := g.Gather(context.Background(), "BTCUSDT")

	liq, ok := res.Signals[models.SignalLiquidity]
	if !ok || liq.Value != features.LiquidityScore(candles) {
		t.Fatalf("liquidity = %+v", liq)
	}
	if _, ok := res.Signals[models.SignalXGB]; ok {
		t.Fatalf("failed signal should be absent")
	}
	if len(res.Errors) != 1 || res.Errors[models.SignalXGB] == "" {
		t.Fatalf("errors = %v", res.Errors)
	}

	src.fail = map[string]bool{}
	if res := g.Gather(context.Background(), "BTCUSDT"); res.Errors != nil || len(res.Signals) != 5 {
		t.Fatalf("clean gather = %+v", res)
	}
}

func TestCandlesUseCase(t *testing.T) {
	candles := []models.Candle{{Close: 100, Volume: 1}, {Close: 101, Volume: 1}, {Close: 99, Volume: 1}}
	uc := NewCandlesUseCase(&fakeExchange{history: candles})

	res, err := uc.GetCandles(context.Background(), GetCandlesParams{Symbol: "BTCUSDT", Interval: "7m", Limit: 5000})
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if res.Interval != "1h" || res.Count != 3 || res.Volatility == nil {
		t.Fatalf("result = %+v", res)
	}
	if _, err := uc.GetCandles(context.Background(), GetCandlesParams{}); err == nil {
		t.Fatalf("symbol is required")
	}
}
