package features

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/util"
)

// ErrInsufficientHistory is returned when a series is too short to measure.
var ErrInsufficientHistory = errors.New("insufficient history")

const (
	liquidityMinCandles = 10
	liquidityNeutral    = 1.0
	liquidityFloor      = 0.5
	liquidityCeil       = 1.5
)

// PctChange computes simple returns x_t / x_{t-1} - 1. The result has
// len(xs)-1 entries, or is nil if xs has fewer than two values. A zero
// previous value produces a non-finite entry.
func PctChange(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		out = append(out, xs[i]/xs[i-1]-1)
	}
	return out
}

// SampleStd is the standard deviation with one degree of freedom removed.
func SampleStd(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, ErrInsufficientHistory
	}
	sd := stat.StdDev(xs, nil)
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0, errors.New("non-finite standard deviation")
	}
	return sd, nil
}

// ReturnVolatility is the sample std of close-to-close returns, rounded to 4 dp.
func ReturnVolatility(candles []models.Candle) (float64, error) {
	sd, err := SampleStd(PctChange(models.Closes(candles)))
	if err != nil {
		return 0, err
	}
	return util.Round(sd, 4), nil
}

// LiquidityScore estimates order-book pressure from candle history:
// 1 + (std of volume changes - std of price changes), bounded to [0.5, 1.5]
// and rounded to 3 dp. Short or degenerate series score neutral (1.0).
func LiquidityScore(candles []models.Candle) float64 {
	if len(candles) < liquidityMinCandles {
		return liquidityNeutral
	}
	priceChg := PctChange(models.Closes(candles))
	volChg := PctChange(models.Volumes(candles))

	// rows where either change is undefined are dropped together
	prices := make([]float64, 0, len(priceChg))
	volumes := make([]float64, 0, len(volChg))
	for i := range priceChg {
		if math.IsNaN(priceChg[i]) || math.IsNaN(volChg[i]) {
			continue
		}
		prices = append(prices, priceChg[i])
		volumes = append(volumes, volChg[i])
	}

	priceSD, err := SampleStd(prices)
	if err != nil {
		return liquidityNeutral
	}
	volumeSD, err := SampleStd(volumes)
	if err != nil {
		return liquidityNeutral
	}
	score := util.Clamp(1+(volumeSD-priceSD), liquidityFloor, liquidityCeil)
	return util.Round(score, 3)
}
