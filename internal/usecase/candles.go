package usecase

import (
	"context"
	"fmt"

	"SignalFuse/internal/domain/models"
	domrepo "SignalFuse/internal/domain/repository"
	"SignalFuse/internal/services/features"
	"SignalFuse/internal/services/risk"
)

// CandlesUseCase serves stored candles together with the measures the
// risk manager derives from them.
type CandlesUseCase struct {
	history risk.PriceHistory
}

func NewCandlesUseCase(history risk.PriceHistory) *CandlesUseCase {
	return &CandlesUseCase{history: history}
}

type GetCandlesParams struct {
	Symbol   string
	Interval domrepo.Interval
	Limit    int
}

type GetCandlesResult struct {
	Symbol     string          `json:"symbol"`
	Interval   string          `json:"interval"`
	Count      int             `json:"count"`
	Volatility *float64        `json:"volatility,omitempty"`
	Liquidity  float64         `json:"liquidity"`
	Candles    []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if !domrepo.IsValidInterval(p.Interval) {
		p.Interval = domrepo.DefaultInterval()
	}

	candles, err := uc.history.PriceHistory(ctx, p.Symbol, p.Interval, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}

	res := &GetCandlesResult{
		Symbol:    p.Symbol,
		Interval:  string(p.Interval),
		Count:     len(candles),
		Liquidity: features.LiquidityScore(candles),
		Candles:   candles,
	}
	if vol, err := features.ReturnVolatility(candles); err == nil {
		res.Volatility = &vol
	}
	return res, nil
}
