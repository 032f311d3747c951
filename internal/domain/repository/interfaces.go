package repository

import (
	"context"
	"time"

	"SignalFuse/internal/domain/models"
)

// Exchange is the market access the trading core needs.
type Exchange interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	PriceHistory(ctx context.Context, symbol string, interval Interval, limit int) ([]models.Candle, error)
	SubmitOrder(ctx context.Context, symbol string, side models.Action, quantity float64) (*models.OrderAck, error)
}

// CandleStore keeps closed candles for offline measurement.
type CandleStore interface {
	StoreCandles(ctx context.Context, candles []models.Candle) error
	LatestCandles(ctx context.Context, symbol string, interval Interval, n int) ([]models.Candle, error)
}

// DecisionStore persists decision records and their evaluated outcome.
type DecisionStore interface {
	SaveDecision(ctx context.Context, rec *models.DecisionRecord) error
	ListDecisions(ctx context.Context, since time.Time) ([]models.DecisionRecord, error)
	UpdateDecisionResult(ctx context.Context, id int64, result string) error
}

// TradeStore persists closed trades.
type TradeStore interface {
	SaveClosedTrade(ctx context.Context, t *models.ClosedTrade) error
	ListClosedTrades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error)
}

type PerformanceStore interface {
	SavePerformance(ctx context.Context, r *models.PerformanceReport) error
}

// EventPublisher fans decisions and closed trades out to downstream consumers.
type EventPublisher interface {
	PublishDecision(ctx context.Context, rec *models.DecisionRecord) error
	PublishClosedTrade(ctx context.Context, t *models.ClosedTrade) error
	Close() error
}

// WeightStore loads and replaces the persisted weight set. A missing entry
// yields the default set.
type WeightStore interface {
	LoadWeights(ctx context.Context) (models.WeightSet, error)
	SaveWeights(ctx context.Context, w models.WeightSet) error
}

// QTableStore loads and saves the serialised Q-table. Load returns an empty
// map when nothing is stored yet.
type QTableStore interface {
	LoadQTable(ctx context.Context) (map[string]map[string]float64, error)
	SaveQTable(ctx context.Context, table map[string]map[string]float64) error
}

// Notifier delivers human-readable alerts. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

type Metrics interface {
	RecordDecision(symbol string, action models.Action, confidence float64)
	RecordOrder(symbol string, side models.Action, ok bool)
	RecordClosedTrade(symbol, reason string, pnl float64)
	RecordManipulation(symbol string)
	SetOpenTrades(n int)
	RecordMonitorFailure(symbol, policy string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
