package repository

import (
	"context"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	applogger "SignalFuse/pkg/logger"
)

// CandleHistory serves price history from the candle store when it holds
// enough bars and falls back to the exchange otherwise.
type CandleHistory struct {
	store    domrepo.CandleStore
	exchange domrepo.Exchange
	l        *applogger.Logger
}

func NewCandleHistory(store domrepo.CandleStore, exchange domrepo.Exchange, l *applogger.Logger) *CandleHistory {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CandleHistory{store: store, exchange: exchange, l: l}
}

func (h *CandleHistory) PriceHistory(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Candle, error) {
	if h.store != nil {
		candles, err := h.store.LatestCandles(ctx, symbol, interval, limit)
		if err == nil && len(candles) >= limit {
			return candles, nil
		}
		if err != nil {
			h.l.Warn("candle store read failed, using exchange",
				applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	return h.exchange.PriceHistory(ctx, symbol, interval, limit)
}
