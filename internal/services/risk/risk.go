package risk

import (
	"context"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/domain/repository"
	"SignalFuse/internal/services/features"
	"SignalFuse/pkg/logger"
	"SignalFuse/pkg/util"
)

const (
	// DefaultVolatility is used whenever volatility cannot be measured.
	DefaultVolatility = 0.01
	// ManipulationThreshold flags a symbol whose volatility exceeds it.
	ManipulationThreshold = 0.05
)

// PriceHistory supplies ordered OHLCV bars for a symbol.
type PriceHistory interface {
	PriceHistory(ctx context.Context, symbol string, interval repository.Interval, limit int) ([]models.Candle, error)
}

// Params are the sizing coefficients and the volatility lookback.
type Params struct {
	BaseQuantity   float64
	ConfidenceCoef float64
	SentimentCoef  float64
	LiquidityCoef  float64
	Interval       repository.Interval
	Window         int
}

func DefaultParams() Params {
	return Params{
		BaseQuantity:   0.01,
		ConfidenceCoef: 0.5,
		SentimentCoef:  0.2,
		LiquidityCoef:  0.3,
		Interval:       repository.Interval1h,
		Window:         20,
	}
}

// Manager sizes orders and places stop-loss/take-profit brackets.
type Manager struct {
	params  Params
	history PriceHistory
	log     *logger.Logger
	metrics repository.Metrics
}

func NewManager(params Params, history PriceHistory, log *logger.Logger, metrics repository.Metrics) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if params.Window < 1 {
		params.Window = DefaultParams().Window
	}
	if !repository.IsValidInterval(params.Interval) {
		params.Interval = repository.DefaultInterval()
	}
	return &Manager{params: params, history: history, log: log, metrics: metrics}
}

// Quantity is base × (1 + c·confidence + s·sentiment + l·(liquidity − 1)), rounded to 4 dp.
func (m *Manager) Quantity(confidence, sentiment, liquidity float64) float64 {
	p := m.params
	multiplier := 1 + p.ConfidenceCoef*confidence + p.SentimentCoef*sentiment + p.LiquidityCoef*(liquidity-1)
	return util.Round(p.BaseQuantity*multiplier, 4)
}

// SizeAndBracket returns nil for HOLD (or any non-trading action).
func (m *Manager) SizeAndBracket(symbol string, decision models.Action, confidence, sentiment, liquidity, price, volatility float64) *models.OrderPlan {
	if decision != models.ActionBuy && decision != models.ActionSell {
		return nil
	}

	stopDistance := util.Round(2*volatility, 4)
	takeDistance := util.Round(stopDistance*(1.5+confidence), 4)
	buffer := 0.5*sentiment + 1.5*volatility

	plan := &models.OrderPlan{
		Symbol:       symbol,
		Side:         decision,
		Quantity:     m.Quantity(confidence, sentiment, liquidity),
		EntryPrice:   price,
		StopDistance: stopDistance,
		TakeDistance: takeDistance,
		Volatility:   volatility,
		Manipulated:  DetectManipulation(volatility),
	}
	if decision == models.ActionBuy {
		plan.StopLoss = util.Round(price-stopDistance-buffer, 2)
		plan.TakeProfit = util.Round(price+takeDistance, 2)
	} else {
		plan.StopLoss = util.Round(price+stopDistance+buffer, 2)
		plan.TakeProfit = util.Round(price-takeDistance, 2)
	}

	if plan.Manipulated {
		m.log.Warn("possible manipulation", logger.String("symbol", symbol), logger.Float64("volatility", volatility))
		if m.metrics != nil {
			m.metrics.RecordManipulation(symbol)
		}
	}
	return plan
}

// MeasureVolatility returns the sample std of simple returns over the
// configured window. It never fails: any problem yields DefaultVolatility.
func (m *Manager) MeasureVolatility(ctx context.Context, symbol string) float64 {
	if m.history == nil {
		return DefaultVolatility
	}
	candles, err := m.history.PriceHistory(ctx, symbol, m.params.Interval, m.params.Window+1)
	if err != nil {
		m.log.Warn("volatility: price history unavailable, using default",
			logger.String("symbol", symbol), logger.Error(err))
		if m.metrics != nil {
			m.metrics.RecordError("volatility")
		}
		return DefaultVolatility
	}
	vol, err := features.ReturnVolatility(candles)
	if err != nil {
		m.log.Warn("volatility: cannot measure, using default",
			logger.String("symbol", symbol), logger.Int("candles", len(candles)), logger.Error(err))
		return DefaultVolatility
	}
	return vol
}

// DetectManipulation reports whether volatility is abnormally high.
func DetectManipulation(volatility float64) bool {
	return volatility > ManipulationThreshold
}
