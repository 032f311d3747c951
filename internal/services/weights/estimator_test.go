package weights

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"SignalFuse/internal/domain/models"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func token(r *rand.Rand) string {
	return string(models.Actions[r.Intn(3)])
}

// syntheticHistory builds n decisions each followed by a trade whose P&L is
// an exact linear function of the decision's signals.
func syntheticHistory(n int) ([]models.DecisionRecord, []models.ClosedTrade) {
	r := rand.New(rand.NewSource(42))
	var decisions []models.DecisionRecord
	var trades []models.ClosedTrade
	for i := 0; i < n; i++ {
		d := models.DecisionRecord{
			Timestamp: t0.Add(time.Duration(i) * 10 * time.Minute),
			Symbol:    "BTCUSDT",
			LSTM:      token(r),
			XGB:       token(r),
			Technical: token(r),
			RL:        token(r),
			Sentiment: r.Float64()*2 - 1,
			Liquidity: 0.5 + r.Float64(),
		}
		f := Encode(d)
		pnl := 0.5 + 2*f[0] + 0.5*f[1] + 1*f[2] + 3*f[3] + 0*f[4] - 1*f[5]
		decisions = append(decisions, d)
		trades = append(trades, models.ClosedTrade{
			Symbol:   "BTCUSDT",
			PnL:      pnl,
			ClosedAt: d.Timestamp.Add(5 * time.Minute),
		})
	}
	return decisions, trades
}

func TestOLSRecoversCoefficients(t *testing.T) {
	decisions, trades := syntheticHistory(40)
	samples := Join(decisions, trades)
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i], y[i] = s.Features, s.PnL
	}
	coef, intercept, err := OLS(x, y)
	if err != nil {
		t.Fatalf("OLS: %v", err)
	}
	want := []float64{2, 0.5, 1, 3, 0, -1}
	for j := range want {
		if math.Abs(coef[j]-want[j]) > 1e-8 {
			t.Fatalf("coef[%d] = %v, want %v", j, coef[j], want[j])
		}
	}
	if math.Abs(intercept-0.5) > 1e-8 {
		t.Fatalf("intercept = %v, want 0.5", intercept)
	}
}

func TestOLSRankDeficientMinimumNorm(t *testing.T) {
	// two identical columns share the effect equally
	x := [][]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	y := []float64{2, 4, 6, 8}
	coef, intercept, err := OLS(x, y)
	if err != nil {
		t.Fatalf("OLS: %v", err)
	}
	if math.Abs(coef[0]-1) > 1e-9 || math.Abs(coef[1]-1) > 1e-9 || math.Abs(intercept) > 1e-9 {
		t.Fatalf("coef = %v intercept = %v, want [1 1] 0", coef, intercept)
	}
}

func TestOLSConstantFeaturesFallBackToMean(t *testing.T) {
	x := [][]float64{{1, 0}, {1, 0}, {1, 0}}
	y := []float64{1, 2, 6}
	coef, intercept, err := OLS(x, y)
	if err != nil {
		t.Fatalf("OLS: %v", err)
	}
	if coef[0] != 0 || coef[1] != 0 || math.Abs(intercept-3) > 1e-12 {
		t.Fatalf("coef = %v intercept = %v, want zeros and the mean", coef, intercept)
	}
	if _, _, err := OLS([][]float64{{}, {}}, []float64{1, 2}); err == nil {
		t.Fatalf("expected error for rows without columns")
	}
}

func TestEstimateWeights(t *testing.T) {
	decisions, trades := syntheticHistory(40)
	current := models.DefaultWeightSet().With(models.WeightAdvisor, 0.7)
	current.UseAdvisor = false

	next, fit, err := NewEstimator(10).Estimate(decisions, trades, current)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if fit.Samples != 40 {
		t.Fatalf("samples = %d", fit.Samples)
	}
	want := map[string]float64{
		models.SignalLSTM: 2, models.SignalXGB: 0.5, models.SignalTechnical: 1,
		models.SignalSentiment: 3, models.SignalLiquidity: 0, models.SignalRL: 0,
	}
	for name, w := range want {
		if got := next.Weights[name]; got != w {
			t.Errorf("weight %s = %v, want %v", name, got, w)
		}
	}
	if next.UseAdvisor || next.Weight(models.WeightAdvisor) != 0.7 {
		t.Fatalf("advisor settings not preserved: %v", next)
	}
}

func TestEstimateInsufficientData(t *testing.T) {
	decisions, trades := syntheticHistory(5)
	current := models.DefaultWeightSet()
	got, _, err := NewEstimator(10).Estimate(decisions, trades, current)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
	if got.Weight(models.SignalLSTM) != 1 {
		t.Fatalf("weights must be unchanged on failure")
	}
}

func TestJoinUsesLatestDecisionAtOrBeforeClose(t *testing.T) {
	decisions := []models.DecisionRecord{
		{Symbol: "BTCUSDT", Timestamp: t0.Add(2 * time.Minute), LSTM: "SELL"},
		{Symbol: "BTCUSDT", Timestamp: t0, LSTM: "BUY"},
		{Symbol: "ETHUSDT", Timestamp: t0.Add(4 * time.Minute), LSTM: "HOLD"},
		{Symbol: "BTCUSDT", Timestamp: t0.Add(10 * time.Minute), LSTM: "HOLD"},
	}
	trades := []models.ClosedTrade{
		{Symbol: "BTCUSDT", ClosedAt: t0.Add(5 * time.Minute), PnL: 1},
		{Symbol: "BTCUSDT", ClosedAt: t0.Add(2 * time.Minute), PnL: 2},
		{Symbol: "ETHUSDT", ClosedAt: t0, PnL: 3},
		{Symbol: "SOLUSDT", ClosedAt: t0.Add(time.Hour), PnL: 4},
	}
	samples := Join(decisions, trades)
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	if samples[0].Features[0] != -1 || samples[1].Features[0] != -1 {
		t.Fatalf("both BTC trades should join the 00:02 SELL decision: %+v", samples)
	}
}

func TestEncodeUnknownTokensAsZero(t *testing.T) {
	f := Encode(models.DecisionRecord{LSTM: "buy", XGB: "?", Technical: "SELL", RL: "", Sentiment: 0.2, Liquidity: 1.1})
	want := []float64{1, 0, -1, 0.2, 1.1, 0}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("Encode = %v, want %v", f, want)
		}
	}
}
