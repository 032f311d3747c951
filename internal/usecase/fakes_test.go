package usecase

import (
	"context"
	"errors"
	"sync"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
)

var errFeed = errors.New("feed down")

// fakeExchange serves prices from a script; the last entry repeats.
type fakeExchange struct {
	mu       sync.Mutex
	prices   []float64
	priceErr error
	orderErr error
	orders   []order
	history  []models.Candle
	// gate, when set, holds CurrentPrice until closed
	gate chan struct{}
}

type order struct {
	symbol string
	side   models.Action
	qty    float64
}

func (f *fakeExchange) CurrentPrice(ctx context.Context, _ string) (float64, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	p := f.prices[0]
	if len(f.prices) > 1 {
		f.prices = f.prices[1:]
	}
	return p, nil
}

func (f *fakeExchange) PriceHistory(context.Context, string, domrepo.Interval, int) ([]models.Candle, error) {
	if f.history == nil {
		return nil, errFeed
	}
	return f.history, nil
}

func (f *fakeExchange) SubmitOrder(_ context.Context, symbol string, side models.Action, qty float64) (*models.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, order{symbol, side, qty})
	return &models.OrderAck{OrderID: "o-1", Symbol: symbol, Side: side, Quantity: qty, Status: "FILLED"}, nil
}

func (f *fakeExchange) Orders() []order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order(nil), f.orders...)
}

type fakeSource struct {
	mu      sync.Mutex
	signals map[string]models.Action
	scores  map[string]float64
	fail    map[string]bool
}

func (f *fakeSource) Signal(_ context.Context, name, _ string) (models.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return "", errFeed
	}
	a, ok := f.signals[name]
	if !ok {
		return "", errFeed
	}
	return a, nil
}

func (f *fakeSource) Score(_ context.Context, name, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[name] {
		return 0, errFeed
	}
	v, ok := f.scores[name]
	if !ok {
		return 0, errFeed
	}
	return v, nil
}

func (f *fakeSource) set(name string, a models.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[name] = a
}

func bullishSource() *fakeSource {
	return &fakeSource{
		signals: map[string]models.Action{
			models.SignalLSTM:      models.ActionBuy,
			models.SignalXGB:       models.ActionBuy,
			models.SignalTechnical: models.ActionBuy,
		},
		scores: map[string]float64{
			models.SignalSentiment: 0.5,
			models.SignalLiquidity: 1.2,
		},
		fail: map[string]bool{},
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type recordingLearner struct {
	mu     sync.Mutex
	trades []models.ClosedTrade
}

func (l *recordingLearner) Learn(_ context.Context, t models.ClosedTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, t)
	return nil
}

type fixedPredictor models.Action

func (p fixedPredictor) Predict(models.StateKey) models.Action { return models.Action(p) }
