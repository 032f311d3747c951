package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/repository"
	"SignalFuse/internal/services/risk"
)

type monitorFixture struct {
	exchange *fakeExchange
	source   *fakeSource
	store    *repository.MemoryStore
	notifier *recordingNotifier
	history  *risk.TradeHistory
	learner  *recordingLearner
	monitor  *Monitor
}

func newMonitorFixture(policy string, prices ...float64) *monitorFixture {
	f := &monitorFixture{
		exchange: &fakeExchange{prices: prices},
		source: &fakeSource{
			signals: map[string]models.Action{models.SignalLSTM: models.ActionHold, models.SignalXGB: models.ActionHold},
			scores:  map[string]float64{},
			fail:    map[string]bool{},
		},
		store:    repository.NewMemoryStore(),
		notifier: &recordingNotifier{},
		history:  risk.NewTradeHistory(0),
		learner:  &recordingLearner{},
	}
	f.monitor = NewMonitor(MonitorConfig{
		PollInterval:    time.Millisecond,
		MaxFetchRetries: 2,
		BackoffMin:      time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		OnFailure:       policy,
	}, f.exchange, f.source, f.store, nil, f.notifier, f.history, f.learner, nil, nil)
	return f
}

func longTrade() models.OpenTrade {
	return models.OpenTrade{
		ID: "t-1", Symbol: "BTCUSDT", Direction: models.ActionBuy,
		EntryPrice: 100, Quantity: 2, StopLoss: 90, TakeProfit: 110,
		OpenedAt:   time.Now().Add(-time.Minute),
		EntryState: models.StateKey{Technical: models.ActionBuy, Bucket: 3},
	}
}

func shortTrade() models.OpenTrade {
	t := longTrade()
	t.Direction, t.StopLoss, t.TakeProfit = models.ActionSell, 110, 90
	return t
}

func TestExitReasonPriority(t *testing.T) {
	cases := []struct {
		trade models.OpenTrade
		price float64
		want  string
	}{
		{longTrade(), 110, models.ExitTakeProfit},
		{longTrade(), 90, models.ExitStopLoss},
		{longTrade(), 100, ""},
		{shortTrade(), 90, models.ExitTakeProfit},
		{shortTrade(), 110, models.ExitStopLoss},
		{shortTrade(), 100, ""},
	}
	for _, c := range cases {
		if got := ExitReason(c.trade, c.price); got != c.want {
			t.Errorf("%s at %v = %q, want %q", c.trade.Direction, c.price, got, c.want)
		}
	}

	// a degenerate bracket where both conditions hold resolves to take-profit
	tr := longTrade()
	tr.StopLoss, tr.TakeProfit = 100, 100
	if got := ExitReason(tr, 100); got != models.ExitTakeProfit {
		t.Fatalf("got %q, want take-profit first", got)
	}
}

func TestMonitorTakeProfit(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 101, 105, 111)
	closed, err := f.monitor.Run(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if closed.ExitReason != models.ExitTakeProfit || closed.ExitPrice != 111 {
		t.Fatalf("closed %+v", closed)
	}
	if closed.PnL != 22 {
		t.Fatalf("pnl = %v, want 22", closed.PnL)
	}
	if closed.Duration < time.Minute {
		t.Fatalf("duration = %v", closed.Duration)
	}

	orders := f.exchange.Orders()
	if len(orders) != 1 || orders[0].side != models.ActionSell || orders[0].qty != 2 {
		t.Fatalf("closing orders = %+v", orders)
	}
	stored, _ := f.store.ListClosedTrades(context.Background(), time.Time{})
	if len(stored) != 1 || stored[0].ID != "t-1" {
		t.Fatalf("stored = %+v", stored)
	}
	if w := f.history.Snapshot(); w.WinRate != 1 {
		t.Fatalf("win rate = %v", w.WinRate)
	}
	if len(f.learner.trades) != 1 || f.learner.trades[0].EntryState.Bucket != 3 {
		t.Fatalf("learner saw %+v", f.learner.trades)
	}
	if f.notifier.Len() != 1 {
		t.Fatalf("notifications = %d", f.notifier.Len())
	}
}

func TestMonitorStopLossShort(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 104, 112)
	closed, err := f.monitor.Run(context.Background(), shortTrade())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if closed.ExitReason != models.ExitStopLoss {
		t.Fatalf("reason = %q", closed.ExitReason)
	}
	if math.Abs(closed.PnL-(-24)) > 1e-9 {
		t.Fatalf("pnl = %v, want -24", closed.PnL)
	}
	if orders := f.exchange.Orders(); len(orders) != 1 || orders[0].side != models.ActionBuy {
		t.Fatalf("short should close with a BUY: %+v", orders)
	}
}

func TestMonitorSignalReversal(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100)
	f.source.set(models.SignalXGB, models.ActionSell)
	closed, err := f.monitor.Run(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if closed.ExitReason != models.ExitReversal || closed.PnL != 0 {
		t.Fatalf("closed %+v", closed)
	}
}

func TestMonitorSignalFailureIsNotReversal(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100, 100, 100, 115)
	f.source.fail[models.SignalLSTM] = true
	f.source.fail[models.SignalXGB] = true
	closed, err := f.monitor.Run(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if closed.ExitReason != models.ExitTakeProfit {
		t.Fatalf("reason = %q, want take-profit", closed.ExitReason)
	}
	if !closed.ExitState.Default {
		t.Fatalf("exit state should fall back to default when signals fail")
	}
}

func TestMonitorAlertPolicyAborts(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100)
	f.exchange.priceErr = errFeed
	closed, err := f.monitor.Run(context.Background(), longTrade())
	if !errors.Is(err, ErrMonitorAborted) {
		t.Fatalf("err = %v, want ErrMonitorAborted", err)
	}
	if closed != nil {
		t.Fatalf("no trade should close under the alert policy")
	}
	if len(f.exchange.Orders()) != 0 {
		t.Fatalf("alert policy must not trade")
	}
	if f.notifier.Len() != 1 {
		t.Fatalf("operator should be alerted")
	}
}

func TestMonitorFlattenPolicy(t *testing.T) {
	f := newMonitorFixture(PolicyFlatten, 100)
	f.exchange.priceErr = errFeed
	closed, err := f.monitor.Run(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if closed.ExitReason != models.ExitFlattened || closed.ExitPrice != 100 {
		t.Fatalf("closed %+v", closed)
	}
	if orders := f.exchange.Orders(); len(orders) != 1 || orders[0].side != models.ActionSell {
		t.Fatalf("flatten should submit exactly one opposite order: %+v", orders)
	}
}

func TestMonitorHonoursCancel(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.monitor.Run(ctx, longTrade())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("monitor did not stop")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100, 100, 120)
	reg := NewRegistry(f.monitor, nil, nil)

	done, err := reg.Track(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if _, err := reg.Track(context.Background(), longTrade()); err == nil {
		t.Fatalf("a trade must have exactly one monitor")
	}
	closed := <-done
	if closed == nil || closed.ExitReason != models.ExitTakeProfit {
		t.Fatalf("closed = %+v", closed)
	}
	if reg.HasOpen("BTCUSDT") {
		t.Fatalf("closed trade still tracked")
	}
}

func TestRegistryKeepsOrphans(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100)
	f.exchange.priceErr = errFeed
	reg := NewRegistry(f.monitor, nil, nil)

	done, err := reg.Track(context.Background(), longTrade())
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if closed := <-done; closed != nil {
		t.Fatalf("closed = %+v", closed)
	}
	open := reg.Open()
	if len(open) != 1 || !open[0].Orphaned || open[0].Error == "" {
		t.Fatalf("open = %+v", open)
	}
	if !reg.HasOpen("BTCUSDT") {
		t.Fatalf("orphaned trade should block the symbol")
	}
	if !reg.Resolve("t-1") || reg.HasOpen("BTCUSDT") {
		t.Fatalf("resolve should release the orphan")
	}
}

func TestRegistryShutdownStopsMonitors(t *testing.T) {
	f := newMonitorFixture(PolicyAlert, 100)
	reg := NewRegistry(f.monitor, nil, nil)
	if _, err := reg.Track(context.Background(), longTrade()); err != nil {
		t.Fatalf("Track: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := reg.Track(context.Background(), shortTrade()); err == nil {
		t.Fatalf("Track after shutdown should fail")
	}
}
