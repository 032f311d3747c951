package weights

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"SignalFuse/internal/domain/models"
	"SignalFuse/pkg/util"
)

// ErrInsufficientData aborts an estimation without touching current weights.
var ErrInsufficientData = errors.New("insufficient joined decision/trade rows")

// DefaultMinSamples is the smallest joined set worth regressing on.
const DefaultMinSamples = 10

// FeatureNames is the regression column order.
var FeatureNames = []string{
	models.SignalLSTM, models.SignalXGB, models.SignalTechnical,
	models.SignalSentiment, models.SignalLiquidity, models.SignalRL,
}

// Sample is one decision joined with the P&L of the trade it led to.
type Sample struct {
	Symbol   string
	Features []float64
	PnL      float64
}

// Fit describes a successful regression.
type Fit struct {
	Samples      int                `json:"samples"`
	Coefficients map[string]float64 `json:"coefficients"`
	Intercept    float64            `json:"intercept"`
}

// Encode turns a decision record into a feature row. Unrecognised tokens
// encode as 0, like HOLD.
func Encode(rec models.DecisionRecord) []float64 {
	enc := func(tok string) float64 {
		a, _ := models.ParseAction(tok)
		return a.Encode()
	}
	return []float64{
		enc(rec.LSTM), enc(rec.XGB), enc(rec.Technical),
		rec.Sentiment, rec.Liquidity, enc(rec.RL),
	}
}

// Join pairs every trade with the latest decision on the same symbol taken
// at or before the trade's close. Trades without such a decision are dropped.
func Join(decisions []models.DecisionRecord, trades []models.ClosedTrade) []Sample {
	bySymbol := make(map[string][]models.DecisionRecord)
	for _, d := range decisions {
		bySymbol[d.Symbol] = append(bySymbol[d.Symbol], d)
	}
	for _, ds := range bySymbol {
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].Timestamp.Before(ds[j].Timestamp) })
	}

	out := make([]Sample, 0, len(trades))
	for _, t := range trades {
		ds := bySymbol[t.Symbol]
		// first decision strictly after the close
		i := sort.Search(len(ds), func(i int) bool { return ds[i].Timestamp.After(t.ClosedAt) })
		if i == 0 {
			continue
		}
		out = append(out, Sample{Symbol: t.Symbol, Features: Encode(ds[i-1]), PnL: t.PnL})
	}
	return out
}

// OLS fits y = X·coef + intercept by least squares on centred data, taking
// the minimum-norm solution when X is rank deficient.
func OLS(x [][]float64, y []float64) (coef []float64, intercept float64, err error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, 0, fmt.Errorf("ols: %d rows for %d targets", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return nil, 0, errors.New("ols: no feature columns")
	}

	xMean := make([]float64, p)
	var yMean float64
	for i, row := range x {
		if len(row) != p {
			return nil, 0, fmt.Errorf("ols: row %d has %d columns, want %d", i, len(row), p)
		}
		for j, v := range row {
			xMean[j] += v
		}
		yMean += y[i]
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	a := mat.NewDense(n, p, nil)
	yc := make([]float64, n)
	for i, row := range x {
		for j, v := range row {
			a.Set(i, j, v-xMean[j])
		}
		yc[i] = y[i] - yMean
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, 0, errors.New("ols: svd did not converge")
	}
	// minimum-norm least squares; singular values under max(n,p)*eps of the
	// largest count as zero
	coef = make([]float64, p)
	if rank := svd.Rank(float64(max(n, p)) * 2.220446049250313e-16); rank > 0 {
		var sol mat.VecDense
		svd.SolveVecTo(&sol, mat.NewVecDense(n, yc), rank)
		for j := range coef {
			coef[j] = sol.AtVec(j)
		}
	}

	intercept = yMean
	for j, c := range coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, 0, fmt.Errorf("ols: non-finite coefficient for column %d", j)
		}
		intercept -= c * xMean[j]
	}
	return coef, intercept, nil
}

// Estimator refits fusion weights from realised outcomes.
type Estimator struct {
	MinSamples int
}

func NewEstimator(minSamples int) *Estimator {
	if minSamples < 1 {
		minSamples = DefaultMinSamples
	}
	return &Estimator{MinSamples: minSamples}
}

// Estimate regresses trade P&L on the joined decision signals. Coefficients
// become weights rounded to 2 dp with negatives clamped to 0. The advisor
// flag and advisor weight are carried over from current.
func (e *Estimator) Estimate(decisions []models.DecisionRecord, trades []models.ClosedTrade, current models.WeightSet) (models.WeightSet, Fit, error) {
	samples := Join(decisions, trades)
	if len(samples) < e.MinSamples {
		return current, Fit{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(samples), e.MinSamples)
	}

	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Features
		y[i] = s.PnL
	}
	coef, intercept, err := OLS(x, y)
	if err != nil {
		return current, Fit{}, fmt.Errorf("estimate weights: %w", err)
	}

	next := models.WeightSet{Weights: make(map[string]float64, len(models.WeightNames)), UseAdvisor: current.UseAdvisor}
	fit := Fit{Samples: len(samples), Coefficients: make(map[string]float64, len(coef)), Intercept: intercept}
	for j, name := range FeatureNames {
		fit.Coefficients[name] = coef[j]
		w := util.Round(coef[j], 2)
		if w <= 0 {
			w = 0
		}
		next.Weights[name] = w
	}
	next.Weights[models.WeightAdvisor] = current.Weight(models.WeightAdvisor)
	return next, fit, nil
}
