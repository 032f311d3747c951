package service

import (
	"context"

	"SignalFuse/internal/domain/models"
)

// SignalSource produces external opinions for a symbol.
type SignalSource interface {
	// Signal returns a discrete signal such as lstm, xgb or technical.
	Signal(ctx context.Context, name, symbol string) (models.Action, error)
	// Score returns a continuous signal such as sentiment or liquidity.
	Score(ctx context.Context, name, symbol string) (float64, error)
}

// Advisor gives an optional external opinion over a full signal set.
type Advisor interface {
	Advise(ctx context.Context, signals models.SignalSet) (models.Advice, error)
}
