package fusion

import (
	"context"
	"errors"
	"math"
	"testing"

	"SignalFuse/internal/domain/models"
)

type stubAdvisor struct {
	advice models.Advice
	err    error
	panics bool
	calls  int
}

func (s *stubAdvisor) Advise(_ context.Context, _ models.SignalSet) (models.Advice, error) {
	s.calls++
	if s.panics {
		panic("advisor exploded")
	}
	return s.advice, s.err
}

func noAdvisorWeights() models.WeightSet {
	w := models.DefaultWeightSet()
	w.UseAdvisor = false
	return w
}

func bullishSignals() models.SignalSet {
	return models.SignalSet{
		models.SignalLSTM:      models.Discrete(models.ActionBuy),
		models.SignalXGB:       models.Discrete(models.ActionBuy),
		models.SignalTechnical: models.Discrete(models.ActionBuy),
		models.SignalSentiment: models.Continuous(0.5),
		models.SignalLiquidity: models.Continuous(1.2),
		models.SignalRL:        models.Discrete(models.ActionBuy),
	}
}

func TestFuseUnanimousBuy(t *testing.T) {
	res := NewEngine(nil).Fuse(context.Background(), bullishSignals(), noAdvisorWeights(), nil)
	if res.Action != models.ActionBuy || res.Confidence != 1.0 {
		t.Fatalf("got %s %.3f, want BUY 1.0", res.Action, res.Confidence)
	}
	if res.Scores[models.ActionBuy] != 6 {
		t.Fatalf("buy mass = %v, want 6", res.Scores[models.ActionBuy])
	}
}

func TestFuseNeutralSignalsHold(t *testing.T) {
	signals := models.SignalSet{
		models.SignalLSTM:      models.Discrete(models.ActionHold),
		models.SignalXGB:       models.Discrete(models.ActionHold),
		models.SignalTechnical: models.Discrete(models.ActionHold),
		models.SignalSentiment: models.Continuous(0),
		models.SignalLiquidity: models.Continuous(1),
		models.SignalRL:        models.Discrete(models.ActionHold),
	}
	res := NewEngine(nil).Fuse(context.Background(), signals, noAdvisorWeights(), nil)
	if res.Action != models.ActionHold {
		t.Fatalf("action = %s, want HOLD", res.Action)
	}
	if res.Confidence < 0.5 {
		t.Fatalf("confidence = %v, want >= 0.5", res.Confidence)
	}
	if res.Confidence != 0.667 {
		t.Fatalf("confidence = %v, want 0.667", res.Confidence)
	}
}

func TestFuseAllZeroWeights(t *testing.T) {
	w := models.WeightSet{Weights: map[string]float64{}}
	for _, name := range models.WeightNames {
		w.Weights[name] = 0
	}
	res := NewEngine(nil).Fuse(context.Background(), bullishSignals(), w, nil)
	if res.Action != models.ActionHold || res.Confidence != 0 {
		t.Fatalf("got %s %v, want HOLD 0", res.Action, res.Confidence)
	}
}

func TestFuseTieBreakPrefersBuy(t *testing.T) {
	w := noAdvisorWeights()
	for _, name := range []string{models.SignalTechnical, models.SignalRL, models.SignalSentiment, models.SignalLiquidity} {
		w = w.With(name, 0)
	}
	signals := models.SignalSet{
		models.SignalLSTM: models.Discrete(models.ActionSell),
		models.SignalXGB:  models.Discrete(models.ActionBuy),
	}
	res := NewEngine(nil).Fuse(context.Background(), signals, w, nil)
	if res.Action != models.ActionBuy || res.Confidence != 0.5 {
		t.Fatalf("got %s %v, want BUY 0.5", res.Action, res.Confidence)
	}
}

func TestFuseAbsentAndUnknownSignals(t *testing.T) {
	signals := models.SignalSet{models.SignalLSTM: models.DiscreteToken("STRONG_BUY")}
	res := NewEngine(nil).Fuse(context.Background(), signals, noAdvisorWeights(), nil)
	// four discrete signals at half weight on HOLD, sentiment and liquidity default to SELL
	if res.Scores[models.ActionHold] != 2 || res.Scores[models.ActionSell] != 2 || res.Scores[models.ActionBuy] != 0 {
		t.Fatalf("unexpected scores %v", res.Scores)
	}
	if res.Action != models.ActionSell || res.Confidence != 0.5 {
		t.Fatalf("got %s %v, want SELL 0.5 (SELL wins the tie with HOLD)", res.Action, res.Confidence)
	}
}

func TestFuseScoresSumToAppliedWeight(t *testing.T) {
	w := models.DefaultWeightSet().With(models.SignalLSTM, 0.3).With(models.SignalLiquidity, 2.5).With(models.WeightAdvisor, 2)
	adv := &stubAdvisor{advice: models.Advice{Action: models.ActionSell, Confidence: 0.4}}
	signals := models.SignalSet{
		models.SignalLSTM:      models.Discrete(models.ActionSell),
		models.SignalXGB:       models.DiscreteToken("?"),
		models.SignalSentiment: models.Continuous(-0.2),
	}
	res := NewEngine(nil).Fuse(context.Background(), signals, w, adv)

	// lstm 0.3 + xgb 0.5 + technical 0.5 + rl 0.5 + sentiment 1 + liquidity 2.5 + advisor 2*0.4
	want := 0.3 + 0.5 + 0.5 + 0.5 + 1 + 2.5 + 0.8
	if got := res.Scores.Total(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("total = %v, want %v", got, want)
	}
	if res.Advice == nil || res.Advice.Action != models.ActionSell || res.Advice.Confidence != 0.4 {
		t.Fatalf("advice not surfaced: %+v", res.Advice)
	}
}

func TestFuseAdvisorFailureDegrades(t *testing.T) {
	cases := map[string]*stubAdvisor{
		"error":   {err: errors.New("rate limited")},
		"panic":   {panics: true},
		"unknown": {advice: models.Advice{Action: "MOON", Confidence: 1}},
	}
	for name, adv := range cases {
		t.Run(name, func(t *testing.T) {
			res := NewEngine(nil).Fuse(context.Background(), bullishSignals(), models.DefaultWeightSet(), adv)
			if adv.calls != 1 {
				t.Fatalf("advisor calls = %d, want 1", adv.calls)
			}
			if res.Advice != nil {
				t.Fatalf("failed advice should not be surfaced")
			}
			if res.Action != models.ActionBuy || res.Confidence != 1 {
				t.Fatalf("got %s %v, want BUY 1", res.Action, res.Confidence)
			}
		})
	}
}

func TestFuseSkipsAdvisorWhenDisabled(t *testing.T) {
	adv := &stubAdvisor{advice: models.Advice{Action: models.ActionSell, Confidence: 1}}
	NewEngine(nil).Fuse(context.Background(), bullishSignals(), noAdvisorWeights(), adv)
	if adv.calls != 0 {
		t.Fatalf("advisor called although disabled")
	}
}

func TestFuseAdvisorConfidenceClamped(t *testing.T) {
	adv := &stubAdvisor{advice: models.Advice{Action: models.ActionHold, Confidence: 7}}
	res := NewEngine(nil).Fuse(context.Background(), models.SignalSet{}, models.DefaultWeightSet(), adv)
	if res.Advice.Confidence != 1 {
		t.Fatalf("advisor confidence = %v, want clamped to 1", res.Advice.Confidence)
	}
	// HOLD 2 from absent discretes + 1 from advisor, SELL 2 from absent continuous
	if res.Action != models.ActionHold || res.Confidence != 0.6 {
		t.Fatalf("got %s %v, want HOLD 0.6", res.Action, res.Confidence)
	}
}

func TestNormalizeContinuousThresholds(t *testing.T) {
	cases := []struct {
		name string
		v    float64
		want models.Action
	}{
		{models.SignalSentiment, 0.01, models.ActionBuy},
		{models.SignalSentiment, 0, models.ActionSell},
		{models.SignalSentiment, -0.5, models.ActionSell},
		{models.SignalLiquidity, 1.01, models.ActionBuy},
		{models.SignalLiquidity, 1, models.ActionSell},
		{models.SignalLiquidity, 0.7, models.ActionSell},
	}
	for _, c := range cases {
		v := NormalizeContinuous(models.SignalSet{c.name: models.Continuous(c.v)}, c.name)
		if v.Action != c.want || v.Factor != 1 {
			t.Errorf("%s=%v voted %v, want %s", c.name, c.v, v, c.want)
		}
	}
}
